// Package schema defines the feed's accounts, subscriptions and canonical events.
package schema

import (
	"sort"
	"strings"

	"github.com/coachpo/feedgate/internal/domain/errs"
)

// Topic names a category of streamed data.
type Topic string

const (
	// TopicAccount carries balance and equity updates.
	TopicAccount Topic = "account"
	// TopicPosition carries open position updates.
	TopicPosition Topic = "position"
	// TopicOrder carries order lifecycle updates.
	TopicOrder Topic = "order"
	// TopicFill carries trade executions.
	TopicFill Topic = "fill"
	// TopicTicker carries 24h market summaries.
	TopicTicker Topic = "ticker"
)

// Topics lists every supported topic.
func Topics() []Topic {
	return []Topic{TopicAccount, TopicPosition, TopicOrder, TopicFill, TopicTicker}
}

// ParseTopic normalises and validates a topic name.
func ParseTopic(name string) (Topic, error) {
	topic := Topic(strings.ToLower(strings.TrimSpace(name)))
	if err := topic.Validate(); err != nil {
		return "", err
	}
	return topic, nil
}

// Validate reports whether t is one of the supported topics.
func (t Topic) Validate() error {
	switch t {
	case TopicAccount, TopicPosition, TopicOrder, TopicFill, TopicTicker:
		return nil
	default:
		return errs.Contract("schema/topic", errs.ErrInvalidTopic, errs.WithField("topic", string(t)))
	}
}

// Scope narrows a topic subscription, e.g. instrument type or symbol.
type Scope map[string]string

// Scope keys the wire format reserves for the stream name.
var reservedScopeKeys = map[string]struct{}{"topic": {}, "channel": {}}

// Validate rejects blank keys and keys that would collide with the stream
// name on the wire.
func (s Scope) Validate() error {
	for k := range s {
		if strings.TrimSpace(k) == "" {
			return errs.Contract("schema/scope", errs.ErrInvalidScope, errs.WithField("key", k))
		}
		if _, reserved := reservedScopeKeys[strings.ToLower(k)]; reserved {
			return errs.Contract("schema/scope", errs.ErrInvalidScope, errs.WithField("key", k))
		}
	}
	return nil
}

// Clone returns an independent copy of the scope.
func (s Scope) Clone() Scope {
	if len(s) == 0 {
		return nil
	}
	out := make(Scope, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// SubscriptionKey is the stable serialization of (topic, scope).
type SubscriptionKey string

// keyEscaper percent-encodes the key separators so distinct scopes never
// serialize to the same key.
var keyEscaper = strings.NewReplacer("%", "%25", "|", "%7C", ",", "%2C", "=", "%3D")

// KeyOf derives the subscription key. Scope keys are sorted so that map iteration
// order never changes the key.
func KeyOf(topic Topic, scope Scope) SubscriptionKey {
	if len(scope) == 0 {
		return SubscriptionKey(topic)
	}
	keys := make([]string, 0, len(scope))
	for k := range scope {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(string(topic))
	b.WriteByte('|')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		keyEscaper.WriteString(&b, k)
		b.WriteByte('=')
		keyEscaper.WriteString(&b, scope[k])
	}
	return SubscriptionKey(b.String())
}

// Subscription is an immutable (topic, scope) pair with its derived key.
type Subscription struct {
	Topic Topic
	Scope Scope
	Key   SubscriptionKey
}

// NewSubscription copies scope and derives the key.
func NewSubscription(topic Topic, scope Scope) Subscription {
	copied := scope.Clone()
	return Subscription{Topic: topic, Scope: copied, Key: KeyOf(topic, copied)}
}
