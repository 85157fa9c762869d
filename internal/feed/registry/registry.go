// Package registry tracks the subscriptions a session should hold and the wire
// state the remote side has reported for each of them.
package registry

import (
	"github.com/coachpo/feedgate/internal/domain/errs"
	"github.com/coachpo/feedgate/internal/domain/schema"
)

// State is the wire state of one desired subscription.
type State int

const (
	// StateIdle means desired but not yet requested on the current connection.
	StateIdle State = iota
	// StatePending means a subscribe request was sent and awaits acknowledgment.
	StatePending
	// StateAcknowledged means the remote side confirmed the subscription.
	StateAcknowledged
	// StateFailed means the remote side rejected the subscription.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateAcknowledged:
		return "acknowledged"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Entry is a read-only view of one registry record.
type Entry struct {
	Subscription schema.Subscription
	State        State
	Reason       string
}

type record struct {
	sub    schema.Subscription
	state  State
	reason string
}

// Registry is owned by exactly one session and is not safe for concurrent use.
type Registry struct {
	order   []schema.SubscriptionKey
	records map[schema.SubscriptionKey]*record
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{records: make(map[schema.SubscriptionKey]*record)}
}

// AddDesired records the (topic, scope) pair. Re-adding an existing key is a
// no-op; added reports whether a new entry was created.
func (r *Registry) AddDesired(topic schema.Topic, scope schema.Scope) (schema.Subscription, bool) {
	key := schema.KeyOf(topic, scope)
	if rec, ok := r.records[key]; ok {
		return rec.sub, false
	}
	sub := schema.NewSubscription(topic, scope)
	r.records[key] = &record{sub: sub, state: StateIdle}
	r.order = append(r.order, key)
	return sub, true
}

// RemoveDesired drops key from the desired set and returns its final wire
// state. The registry only tracks intent: when the returned state is Pending
// or Acknowledged the caller still owes the remote an unsubscribe.
func (r *Registry) RemoveDesired(key schema.SubscriptionKey) (schema.Subscription, State, error) {
	rec, ok := r.records[key]
	if !ok {
		return schema.Subscription{}, StateIdle, errs.Contract("registry", errs.ErrUnknownSubscription, errs.WithField("key", string(key)))
	}
	delete(r.records, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return rec.sub, rec.state, nil
}

// SnapshotDesired returns the desired subscriptions in insertion order.
func (r *Registry) SnapshotDesired() []schema.Subscription {
	out := make([]schema.Subscription, 0, len(r.order))
	for _, key := range r.order {
		out = append(out, r.records[key].sub)
	}
	return out
}

// Lookup returns the subscription stored under key.
func (r *Registry) Lookup(key schema.SubscriptionKey) (schema.Subscription, bool) {
	rec, ok := r.records[key]
	if !ok {
		return schema.Subscription{}, false
	}
	return rec.sub, true
}

// MarkPending records that a subscribe request for key was sent.
func (r *Registry) MarkPending(key schema.SubscriptionKey) bool {
	rec, ok := r.records[key]
	if !ok {
		return false
	}
	rec.state = StatePending
	rec.reason = ""
	return true
}

// MarkAcknowledged transitions key to Acknowledged. Keys no longer desired are
// ignored so that Acknowledged stays a subset of Desired.
func (r *Registry) MarkAcknowledged(key schema.SubscriptionKey) bool {
	rec, ok := r.records[key]
	if !ok {
		return false
	}
	rec.state = StateAcknowledged
	rec.reason = ""
	return true
}

// MarkFailed transitions key to Failed. The key stays desired and is retried on
// the next connection.
func (r *Registry) MarkFailed(key schema.SubscriptionKey, reason string) bool {
	rec, ok := r.records[key]
	if !ok {
		return false
	}
	rec.state = StateFailed
	rec.reason = reason
	return true
}

// Reset clears all wire state, leaving every desired key Idle.
func (r *Registry) Reset() {
	for _, rec := range r.records {
		rec.state = StateIdle
		rec.reason = ""
	}
}

// State reports the wire state of key.
func (r *Registry) State(key schema.SubscriptionKey) (State, bool) {
	rec, ok := r.records[key]
	if !ok {
		return StateIdle, false
	}
	return rec.state, true
}

// Len returns the size of the desired set.
func (r *Registry) Len() int { return len(r.order) }

// Entries returns every record in insertion order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, 0, len(r.order))
	for _, key := range r.order {
		rec := r.records[key]
		out = append(out, Entry{Subscription: rec.sub, State: rec.state, Reason: rec.reason})
	}
	return out
}

// Count returns how many desired keys are currently in state s.
func (r *Registry) Count(s State) int {
	n := 0
	for _, rec := range r.records {
		if rec.state == s {
			n++
		}
	}
	return n
}
