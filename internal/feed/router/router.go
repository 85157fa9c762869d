// Package router classifies raw inbound frames into acknowledgments, canonical
// events and diagnostics. Routing is pure and synchronous; it never blocks and
// never fails on unexpected input.
package router

import (
	"fmt"
	"strings"
	"time"

	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/feed"
	"github.com/coachpo/feedgate/internal/feed/normalize"
	"github.com/coachpo/feedgate/internal/feed/wire"
)

const (
	eventSubscribe   = "subscribe"
	eventUnsubscribe = "unsubscribe"
	eventError       = "error"
	eventLogin       = "login"
)

// Ack is a subscription acknowledgment or rejection decoded from the feed.
// Op is the request being answered. A rejection names its op only when the
// error frame echoes one; otherwise it is taken to reject a subscribe.
type Ack struct {
	Key    schema.SubscriptionKey
	Op     string
	Failed bool
	Reason string
}

// Result is everything one raw frame produced.
type Result struct {
	Events  []schema.Event
	Acks    []Ack
	Notices []feed.Notice
}

// Empty reports whether the frame produced nothing.
func (r Result) Empty() bool {
	return len(r.Events) == 0 && len(r.Acks) == 0 && len(r.Notices) == 0
}

// Router is stateless after construction and safe to share between sessions.
type Router struct {
	normalizers map[schema.Topic]normalize.Normalizer
	now         func() time.Time
}

// Option customises a Router.
type Option func(*Router)

// WithClock overrides the timestamp source for ReceivedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// WithNormalizers registers normalizers by topic, replacing earlier entries.
func WithNormalizers(normalizers ...normalize.Normalizer) Option {
	return func(r *Router) {
		for _, n := range normalizers {
			if n != nil {
				r.normalizers[n.Topic()] = n
			}
		}
	}
}

// New builds a router with the default normalizer set.
func New(opts ...Option) *Router {
	r := &Router{
		normalizers: make(map[schema.Topic]normalize.Normalizer),
		now:         time.Now,
	}
	WithNormalizers(normalize.Defaults()...)(r)
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Without returns an option removing the normalizer for topic. Frames on that
// topic become unroutable.
func Without(topic schema.Topic) Option {
	return func(r *Router) { delete(r.normalizers, topic) }
}

// Route classifies one raw frame received on accountID's session.
func (r *Router) Route(accountID string, raw []byte) Result {
	if wire.IsControlText(raw) {
		return Result{}
	}
	now := r.now()
	env, err := wire.Decode(raw)
	if err != nil {
		return unroutable(accountID, "", now, "malformed frame", err)
	}

	switch strings.ToLower(env.Event) {
	case eventSubscribe, eventUnsubscribe:
		key, ok := wire.KeyFromArg(env.Arg)
		if !ok {
			return unroutable(accountID, "", now, fmt.Sprintf("%s ack for unknown stream %v", env.Event, env.Arg), nil)
		}
		return Result{Acks: []Ack{{Key: key, Op: strings.ToLower(env.Event)}}}
	case eventError:
		reason := errorReason(env)
		if key, ok := wire.KeyFromArg(env.Arg); ok {
			op := wire.OpSubscribe
			if env.Op == wire.OpUnsubscribe {
				op = wire.OpUnsubscribe
			}
			return Result{Acks: []Ack{{Key: key, Op: op, Failed: true, Reason: reason}}}
		}
		return Result{Notices: []feed.Notice{{
			AccountID: accountID,
			Kind:      feed.NoticeExchangeError,
			Detail:    reason,
			At:        now,
		}}}
	case eventLogin:
		return Result{}
	case "":
	default:
		return unroutable(accountID, "", now, "unsupported event "+env.Event, nil)
	}

	if env.Arg == nil {
		return unroutable(accountID, "", now, "frame carries no stream tag", nil)
	}
	topic, name, ok := wire.Topic(env.Arg)
	if !ok {
		return unroutable(accountID, "", now, "unknown topic "+quote(name), nil)
	}
	key, _ := wire.KeyFromArg(env.Arg)
	n, ok := r.normalizers[topic]
	if !ok {
		return unroutable(accountID, key, now, "no normalizer for topic "+string(topic), nil)
	}
	typ, _ := schema.EventTypeForTopic(topic)

	var result Result
	for _, entry := range env.Data {
		payload, keep := n.Normalize(entry)
		if !keep {
			continue
		}
		result.Events = append(result.Events, schema.Event{
			AccountID:  accountID,
			Type:       typ,
			Action:     env.Action,
			ReceivedAt: now,
			Payload:    payload,
		})
	}
	return result
}

func errorReason(env wire.Envelope) string {
	switch {
	case env.Code != "" && env.Msg != "":
		return env.Code + ": " + env.Msg
	case env.Code != "":
		return env.Code
	case env.Msg != "":
		return env.Msg
	default:
		return "rejected"
	}
}

func unroutable(accountID string, key schema.SubscriptionKey, at time.Time, detail string, err error) Result {
	return Result{Notices: []feed.Notice{{
		AccountID: accountID,
		Kind:      feed.NoticeUnroutableMessage,
		Key:       key,
		Detail:    detail,
		Err:       err,
		At:        at,
	}}}
}

func quote(name string) string {
	if name == "" {
		return `""`
	}
	return name
}
