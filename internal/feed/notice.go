package feed

import (
	"strings"
	"time"

	"github.com/coachpo/feedgate/internal/domain/schema"
)

// NoticeKind classifies lifecycle and diagnostic notices.
type NoticeKind string

const (
	NoticeSessionConnecting          NoticeKind = "SessionConnecting"
	NoticeSessionOpened              NoticeKind = "SessionOpened"
	NoticeSessionDisconnected        NoticeKind = "SessionDisconnected"
	NoticeReconnecting               NoticeKind = "Reconnecting"
	NoticeSessionClosed              NoticeKind = "SessionClosed"
	NoticeSubscriptionAcknowledged   NoticeKind = "SubscriptionAcknowledged"
	NoticeSubscriptionFailed         NoticeKind = "SubscriptionFailed"
	NoticeUnsubscriptionAcknowledged NoticeKind = "UnsubscriptionAcknowledged"
	NoticeUnroutableMessage          NoticeKind = "UnroutableMessage"
	NoticeExchangeError              NoticeKind = "ExchangeError"
)

// Notice reports one session transition or diagnostic.
type Notice struct {
	AccountID string
	Kind      NoticeKind
	Key       schema.SubscriptionKey
	Detail    string
	Err       error
	At        time.Time
}

func (n Notice) String() string {
	var b strings.Builder
	b.WriteString(string(n.Kind))
	b.WriteString(" account=")
	b.WriteString(n.AccountID)
	if n.Key != "" {
		b.WriteString(" key=")
		b.WriteString(string(n.Key))
	}
	if n.Detail != "" {
		b.WriteString(" detail=")
		b.WriteString(n.Detail)
	}
	if n.Err != nil {
		b.WriteString(" err=")
		b.WriteString(n.Err.Error())
	}
	return b.String()
}

// Observer receives notices. It may be invoked concurrently across sessions.
type Observer interface {
	Notify(n Notice)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(n Notice)

// Notify implements Observer.
func (f ObserverFunc) Notify(n Notice) { f(n) }

// Observers fans one notice out to every non-nil observer in order.
func Observers(observers ...Observer) Observer {
	filtered := make([]Observer, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	return ObserverFunc(func(n Notice) {
		for _, o := range filtered {
			o.Notify(n)
		}
	})
}

// NopObserver ignores every notice.
var NopObserver Observer = ObserverFunc(func(Notice) {})
