package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/feedgate/internal/domain/errs"
	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/feed"
	"github.com/coachpo/feedgate/internal/feed/registry"
	"github.com/coachpo/feedgate/internal/feed/router"
	"github.com/coachpo/feedgate/internal/feed/wire"
	"github.com/coachpo/feedgate/internal/infra/logger"
)

// State is the connection state of one session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the session will never connect again.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateClosing || s == StateDisconnected
}

// Snapshot is a point-in-time view of one session.
type Snapshot struct {
	AccountID     string
	State         State
	Attempts      int
	ConnectionID  string
	Subscriptions []registry.Entry
}

// session owns one account's transport and registry. Every field below mu is
// guarded by it; transport Connect and Close, the sink and the observer are
// always invoked with mu released.
type session struct {
	account schema.Account
	factory feed.TransportFactory
	opts    *options
	log     *logger.Entry
	ctx     context.Context

	mu         sync.Mutex
	state      State
	registry   *registry.Registry
	transport  feed.Transport
	generation uint64
	attempts   int
	connID     string
	backoff    backoff.BackOff
	reconnect  Timer
	pending    map[schema.SubscriptionKey]Timer
}

func newSession(ctx context.Context, account schema.Account, factory feed.TransportFactory, opts *options) *session {
	return &session{
		account:  account,
		factory:  factory,
		opts:     opts,
		log:      opts.log.WithField("account", account.ID),
		ctx:      ctx,
		state:    StateConnecting,
		registry: registry.New(),
		backoff:  opts.newBackOff(),
		pending:  make(map[schema.SubscriptionKey]Timer),
	}
}

// outbox collects side effects produced under the lock.
type outbox struct {
	notices []feed.Notice
	events  []schema.Event
	close   feed.Transport
}

func (s *session) notice(out *outbox, kind feed.NoticeKind, key schema.SubscriptionKey, detail string, err error) {
	out.notices = append(out.notices, feed.Notice{
		AccountID: s.account.ID,
		Kind:      kind,
		Key:       key,
		Detail:    detail,
		Err:       err,
		At:        s.opts.clock.Now(),
	})
}

func (s *session) flush(out outbox) {
	if out.close != nil {
		if err := out.close.Close(); err != nil {
			s.log.WithError(err).Debug("release transport")
		}
	}
	for _, n := range out.notices {
		s.logNotice(n)
		s.opts.observer.Notify(n)
	}
	for _, evt := range out.events {
		if err := s.opts.sink.Publish(s.ctx, evt); err != nil {
			s.log.WithError(err).WithField("type", evt.Type).Warn("sink rejected event")
		}
	}
}

func (s *session) logNotice(n feed.Notice) {
	msg := n.Detail
	if msg == "" {
		msg = string(n.Kind)
	}
	entry := s.log.WithField("notice", string(n.Kind))
	if n.Key != "" {
		entry = entry.WithField("key", string(n.Key))
	}
	if n.Err != nil {
		entry = entry.WithError(n.Err)
	}
	switch n.Kind {
	case feed.NoticeSubscriptionAcknowledged, feed.NoticeUnsubscriptionAcknowledged:
		entry.Debug(msg)
	case feed.NoticeSubscriptionFailed, feed.NoticeUnroutableMessage, feed.NoticeExchangeError, feed.NoticeSessionDisconnected:
		entry.Warn(msg)
	default:
		entry.Info(msg)
	}
}

// connect starts a new connection attempt. Called with mu held; the returned
// transport must be connected after mu is released.
func (s *session) connectLocked(out *outbox) (feed.Transport, uint64) {
	s.state = StateConnecting
	s.generation++
	gen := s.generation
	s.connID = ""
	s.notice(out, feed.NoticeSessionConnecting, "", fmt.Sprintf("attempt %d", s.attempts+1), nil)

	t, err := s.factory.NewTransport(s.account, &listener{s: s, gen: gen})
	if err != nil {
		s.scheduleReconnectLocked(out, fmt.Errorf("build transport: %w", err))
		return nil, 0
	}
	s.transport = t
	return t, gen
}

func (s *session) start() {
	var out outbox
	s.mu.Lock()
	t, gen := s.connectLocked(&out)
	s.mu.Unlock()
	s.flush(out)
	s.dial(t, gen)
}

func (s *session) dial(t feed.Transport, gen uint64) {
	if t == nil {
		return
	}
	if err := t.Connect(); err != nil {
		s.onDisconnected(gen, fmt.Errorf("connect: %w", err))
	}
}

func (s *session) scheduleReconnectLocked(out *outbox, cause error) {
	s.registry.Reset()
	s.stopPendingLocked()
	if s.transport != nil {
		out.close = s.transport
		s.transport = nil
	}
	s.connID = ""

	delay := s.backoff.NextBackOff()
	if delay == backoff.Stop {
		s.state = StateDisconnected
		s.notice(out, feed.NoticeSessionDisconnected, "", "reconnect policy exhausted", cause)
		return
	}
	s.state = StateReconnecting
	s.attempts++
	gen := s.generation
	s.notice(out, feed.NoticeSessionDisconnected, "", "connection lost", cause)
	s.notice(out, feed.NoticeReconnecting, "", fmt.Sprintf("attempt %d in %s", s.attempts, delay), nil)
	s.reconnect = s.opts.clock.AfterFunc(delay, func() { s.onReconnectDue(gen) })
}

func (s *session) onReconnectDue(gen uint64) {
	var out outbox
	s.mu.Lock()
	if s.state != StateReconnecting || s.generation != gen {
		s.mu.Unlock()
		return
	}
	s.reconnect = nil
	t, next := s.connectLocked(&out)
	s.mu.Unlock()
	s.flush(out)
	s.dial(t, next)
}

func (s *session) onOpened(gen uint64, meta map[string]string) {
	var out outbox
	s.mu.Lock()
	if s.generation != gen || s.state != StateConnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateOpen
	s.backoff.Reset()
	s.attempts = 0
	s.connID = meta[feed.MetaConnectionID]
	s.notice(&out, feed.NoticeSessionOpened, "", describeMeta(meta), nil)
	// Replay happens inside the callback, so it precedes every inbound
	// message of this connection.
	s.sendLocked(&out, wire.OpSubscribe, s.registry.SnapshotDesired())
	s.mu.Unlock()
	s.flush(out)
}

func (s *session) onMessage(gen uint64, raw []byte) {
	var out outbox
	s.mu.Lock()
	if s.generation != gen || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	res := s.opts.router.Route(s.account.ID, raw)
	for _, ack := range res.Acks {
		s.applyAckLocked(&out, ack)
	}
	out.notices = append(out.notices, res.Notices...)
	out.events = res.Events
	s.mu.Unlock()
	s.flush(out)
}

func (s *session) applyAckLocked(out *outbox, ack router.Ack) {
	switch {
	case ack.Failed && ack.Op == wire.OpUnsubscribe:
		s.notice(out, feed.NoticeExchangeError, ack.Key, "unsubscribe rejected: "+ack.Reason, nil)
	case ack.Failed:
		s.stopPendingKeyLocked(ack.Key)
		if !s.registry.MarkFailed(ack.Key, ack.Reason) {
			s.notice(out, feed.NoticeExchangeError, ack.Key, ack.Reason, nil)
			return
		}
		s.notice(out, feed.NoticeSubscriptionFailed, ack.Key, ack.Reason, nil)
	case ack.Op == wire.OpUnsubscribe:
		s.notice(out, feed.NoticeUnsubscriptionAcknowledged, ack.Key, "", nil)
	default:
		s.stopPendingKeyLocked(ack.Key)
		if !s.registry.MarkAcknowledged(ack.Key) {
			s.log.WithField("key", string(ack.Key)).Debug("ignoring acknowledgment for key no longer desired")
			return
		}
		s.notice(out, feed.NoticeSubscriptionAcknowledged, ack.Key, "", nil)
	}
}

func (s *session) onDisconnected(gen uint64, cause error) {
	var out outbox
	s.mu.Lock()
	if s.generation != gen || (s.state != StateOpen && s.state != StateConnecting) {
		s.mu.Unlock()
		return
	}
	s.scheduleReconnectLocked(&out, cause)
	s.mu.Unlock()
	s.flush(out)
}

// sendLocked encodes subs as batched op requests and hands them to the
// transport. Subscribed keys become Pending once their frame is accepted. A
// rejected send drops the connection; the keys it carried stay desired and are
// replayed on the next open.
func (s *session) sendLocked(out *outbox, op string, subs []schema.Subscription) {
	if len(subs) == 0 || s.transport == nil {
		return
	}
	frames, err := wire.EncodeRequests(s.opts.protocol, op, subs, s.opts.maxBatchSize)
	if err != nil {
		s.log.WithError(err).Error("encode requests")
		return
	}
	for _, frame := range frames {
		if err := s.transport.Send(frame.Payload); err != nil {
			s.scheduleReconnectLocked(out, fmt.Errorf("send %s request: %w", op, err))
			return
		}
		if op != wire.OpSubscribe {
			continue
		}
		for _, key := range frame.Keys {
			if s.registry.MarkPending(key) {
				s.armPendingLocked(key)
			}
		}
	}
}

func (s *session) armPendingLocked(key schema.SubscriptionKey) {
	if s.opts.pendingTimeout <= 0 {
		return
	}
	s.stopPendingKeyLocked(key)
	gen := s.generation
	s.pending[key] = s.opts.clock.AfterFunc(s.opts.pendingTimeout, func() { s.onPendingExpired(gen, key) })
}

func (s *session) onPendingExpired(gen uint64, key schema.SubscriptionKey) {
	var out outbox
	s.mu.Lock()
	if s.generation != gen || s.state != StateOpen {
		s.mu.Unlock()
		return
	}
	delete(s.pending, key)
	if state, ok := s.registry.State(key); ok && state == registry.StatePending {
		s.registry.MarkFailed(key, pendingTimeoutReason)
		s.notice(&out, feed.NoticeSubscriptionFailed, key, pendingTimeoutReason, nil)
	}
	s.mu.Unlock()
	s.flush(out)
}

func (s *session) stopPendingKeyLocked(key schema.SubscriptionKey) {
	if t, ok := s.pending[key]; ok {
		t.Stop()
		delete(s.pending, key)
	}
}

func (s *session) stopPendingLocked() {
	for key, t := range s.pending {
		t.Stop()
		delete(s.pending, key)
	}
}

func (s *session) subscribe(topic schema.Topic, scope schema.Scope) (schema.Subscription, error) {
	var out outbox
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return schema.Subscription{}, s.closedErr()
	}
	sub, added := s.registry.AddDesired(topic, scope)
	if added && s.state == StateOpen {
		s.sendLocked(&out, wire.OpSubscribe, []schema.Subscription{sub})
	}
	s.mu.Unlock()
	s.flush(out)
	return sub, nil
}

func (s *session) unsubscribe(key schema.SubscriptionKey) error {
	var out outbox
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return s.closedErr()
	}
	sub, prior, err := s.registry.RemoveDesired(key)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.stopPendingKeyLocked(key)
	if s.state == StateOpen && (prior == registry.StatePending || prior == registry.StateAcknowledged) {
		s.sendLocked(&out, wire.OpUnsubscribe, []schema.Subscription{sub})
	}
	s.mu.Unlock()
	s.flush(out)
	return nil
}

func (s *session) closedErr() error {
	return errs.Contract("session", errs.ErrSessionClosed, errs.WithField("account", s.account.ID), errs.WithField("state", s.state.String()))
}

// close is terminal and idempotent.
func (s *session) close() {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.generation++
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.stopPendingLocked()
	t := s.transport
	s.transport = nil
	s.mu.Unlock()

	if t != nil {
		if err := t.Close(); err != nil {
			s.log.WithError(err).Debug("close transport")
		}
	}

	var out outbox
	s.mu.Lock()
	s.state = StateClosed
	s.connID = ""
	s.registry.Reset()
	s.notice(&out, feed.NoticeSessionClosed, "", "closed by caller", nil)
	s.mu.Unlock()
	s.flush(out)
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		AccountID:     s.account.ID,
		State:         s.state,
		Attempts:      s.attempts,
		ConnectionID:  s.connID,
		Subscriptions: s.registry.Entries(),
	}
}

func (s *session) currentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// listener binds transport callbacks to the connection attempt that created
// them; callbacks from superseded attempts are dropped.
type listener struct {
	s   *session
	gen uint64
}

func (l *listener) Opened(meta map[string]string) { l.s.onOpened(l.gen, meta) }

func (l *listener) Message(raw []byte) { l.s.onMessage(l.gen, raw) }

func (l *listener) Disconnected(err error) {
	if err == nil {
		err = errors.New("transport disconnected")
	}
	l.s.onDisconnected(l.gen, err)
}

// Closed without a preceding Close call is an unsolicited close and is handled
// like a disconnect.
func (l *listener) Closed() {
	l.s.onDisconnected(l.gen, errors.New("transport closed by remote"))
}

func describeMeta(meta map[string]string) string {
	if id := meta[feed.MetaConnectionID]; id != "" {
		return "connection " + id
	}
	return "connected"
}
