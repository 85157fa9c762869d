package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/feed"
	"github.com/coachpo/feedgate/internal/feed/wire"
)

type fakeTransport struct {
	listener   feed.Listener
	connectErr error
	sendErr    error

	mu        sync.Mutex
	sent      [][]byte
	connected bool
	closed    bool
}

func (t *fakeTransport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return t.connectErr
	}
	t.connected = true
	return nil
}

func (t *fakeTransport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("transport closed")
	}
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, append([]byte(nil), payload...))
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) failSends(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) requests(tb testing.TB) []wire.Request {
	tb.Helper()
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]wire.Request, 0, len(t.sent))
	for _, raw := range t.sent {
		var req wire.Request
		require.NoError(tb, json.Unmarshal(raw, &req))
		out = append(out, req)
	}
	return out
}

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	connectErr error
	buildErr   error
}

func (f *fakeFactory) NewTransport(_ schema.Account, l feed.Listener) (feed.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return nil, f.buildErr
	}
	t := &fakeTransport{listener: l, connectErr: f.connectErr}
	f.transports = append(f.transports, t)
	return t, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func (f *fakeFactory) last(tb testing.TB) *fakeTransport {
	tb.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(tb, f.transports)
	return f.transports[len(f.transports)-1]
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	live := !t.stopped && !t.fired
	t.stopped = true
	return live
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

// pending returns the number of timers that are neither stopped nor fired.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// fireNext advances to the earliest live timer and runs it.
func (c *fakeClock) fireNext() bool {
	c.mu.Lock()
	var next *fakeTimer
	for _, t := range c.timers {
		if t.stopped || t.fired {
			continue
		}
		if next == nil || t.at.Before(next.at) {
			next = t
		}
	}
	if next == nil {
		c.mu.Unlock()
		return false
	}
	next.fired = true
	if next.at.After(c.now) {
		c.now = next.at
	}
	c.mu.Unlock()
	next.fn()
	return true
}

type recorder struct {
	mu      sync.Mutex
	notices []feed.Notice
	events  []schema.Event
}

func (r *recorder) Notify(n feed.Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recorder) Publish(_ context.Context, evt schema.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) kinds() []feed.NoticeKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]feed.NoticeKind, 0, len(r.notices))
	for _, n := range r.notices {
		out = append(out, n.Kind)
	}
	return out
}

func (r *recorder) count(kind feed.NoticeKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *recorder) eventsSeen() []schema.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]schema.Event(nil), r.events...)
}

type stopPolicy struct{}

func (stopPolicy) NextBackOff() time.Duration { return backoff.Stop }
func (stopPolicy) Reset()                     {}

type harness struct {
	manager *Manager
	factory *fakeFactory
	clock   *fakeClock
	rec     *recorder
}

func newHarness(opts ...Option) *harness {
	h := &harness{factory: &fakeFactory{}, clock: newFakeClock(), rec: &recorder{}}
	base := []Option{
		WithClock(h.clock),
		WithObserver(h.rec),
		WithSink(h.rec),
		WithBackOff(func() backoff.BackOff { return backoff.NewConstantBackOff(time.Second) }),
	}
	h.manager = NewManager(h.factory, append(base, opts...)...)
	return h
}

func account(id string) schema.Account {
	return schema.Account{ID: id, Name: id, Enabled: true}
}

func ackFrame(op string, sub schema.Subscription) []byte {
	payload, _ := json.Marshal(map[string]any{"event": op, "arg": wire.ProtocolV3.Arg(sub)})
	return payload
}

func argTopics(reqs []wire.Request) []string {
	var out []string
	for _, req := range reqs {
		for _, arg := range req.Args {
			out = append(out, arg["topic"]+"/"+arg["symbol"])
		}
	}
	return out
}
