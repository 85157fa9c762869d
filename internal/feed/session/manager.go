// Package session keeps one streaming connection per account alive across
// reconnects and replays its desired subscriptions on every successful open.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/coachpo/feedgate/internal/domain/errs"
	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/feed"
	"github.com/coachpo/feedgate/internal/feed/router"
)

// Manager owns the sessions of every opened account.
type Manager struct {
	factory feed.TransportFactory
	opts    options
	ctx     context.Context
	cancel  context.CancelFunc

	mu       sync.RWMutex
	sessions map[string]*session
	order    []string
}

// NewManager builds a manager that dials through factory.
func NewManager(factory feed.TransportFactory, opts ...Option) *Manager {
	cfg := defaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.router == nil {
		cfg.router = router.New(router.WithClock(cfg.clock.Now))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		factory:  factory,
		opts:     cfg,
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// Open starts a session for account. It fails with errs.ErrAlreadyOpen while a
// previous session for the same account id is still live.
func (m *Manager) Open(account schema.Account) error {
	if account.ID == "" {
		return errs.New("session", errs.CodeInvalid, errs.WithMessage("account id required"))
	}
	if m.factory == nil {
		return errs.New("session", errs.CodeInvalid, errs.WithMessage("transport factory required"))
	}
	m.mu.Lock()
	if existing, ok := m.sessions[account.ID]; ok {
		if !existing.currentState().Terminal() {
			m.mu.Unlock()
			return errs.Contract("session", errs.ErrAlreadyOpen, errs.WithField("account", account.ID))
		}
	} else {
		m.order = append(m.order, account.ID)
	}
	s := newSession(m.ctx, account, m.factory, &m.opts)
	m.sessions[account.ID] = s
	m.mu.Unlock()

	s.start()
	return nil
}

// OpenAll opens every enabled account in order. Disabled accounts are skipped.
func (m *Manager) OpenAll(accounts []schema.Account) error {
	var failures []error
	for _, account := range accounts {
		if !account.Enabled {
			m.opts.log.WithField("account", account.ID).Info("account disabled, not opening")
			continue
		}
		if err := m.Open(account); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// Subscribe records (topic, scope) as desired for accountID and sends the
// request immediately when the session is open.
func (m *Manager) Subscribe(accountID string, topic schema.Topic, scope schema.Scope) (schema.SubscriptionKey, error) {
	if err := topic.Validate(); err != nil {
		return "", err
	}
	if err := scope.Validate(); err != nil {
		return "", err
	}
	s, err := m.lookup(accountID)
	if err != nil {
		return "", err
	}
	sub, err := s.subscribe(topic, scope)
	if err != nil {
		return "", err
	}
	return sub.Key, nil
}

// Unsubscribe drops key from accountID's desired set. An unsubscribe request
// is sent only when the remote may currently hold the subscription.
func (m *Manager) Unsubscribe(accountID string, key schema.SubscriptionKey) error {
	s, err := m.lookup(accountID)
	if err != nil {
		return err
	}
	return s.unsubscribe(key)
}

// Close terminates accountID's session. Closing an already closed session is a
// no-op.
func (m *Manager) Close(accountID string) error {
	s, err := m.lookup(accountID)
	if err != nil {
		return err
	}
	s.close()
	return nil
}

// CloseAll closes every session concurrently and waits until they finish or
// ctx is done.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, id := range m.order {
		sessions = append(sessions, m.sessions[id])
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		var wg conc.WaitGroup
		for _, s := range sessions {
			wg.Go(s.close)
		}
		wg.Wait()
	}()

	select {
	case <-done:
		m.cancel()
		return nil
	case <-ctx.Done():
		m.cancel()
		return ctx.Err()
	}
}

// Snapshot returns the current view of accountID's session.
func (m *Manager) Snapshot(accountID string) (Snapshot, error) {
	s, err := m.lookup(accountID)
	if err != nil {
		return Snapshot{}, err
	}
	return s.snapshot(), nil
}

// Snapshots returns every session in the order accounts were first opened.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.RLock()
	sessions := make([]*session, 0, len(m.order))
	for _, id := range m.order {
		sessions = append(sessions, m.sessions[id])
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.snapshot())
	}
	return out
}

func (m *Manager) lookup(accountID string) (*session, error) {
	m.mu.RLock()
	s, ok := m.sessions[accountID]
	m.mu.RUnlock()
	if !ok {
		return nil, errs.Contract("session", errs.ErrUnknownAccount, errs.WithField("account", accountID))
	}
	return s, nil
}
