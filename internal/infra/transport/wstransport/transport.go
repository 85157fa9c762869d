// Package wstransport implements feed.Transport over a websocket connection.
package wstransport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/coachpo/feedgate/internal/domain/errs"
	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/feed"
	"github.com/coachpo/feedgate/internal/infra/logger"
)

const (
	defaultPingInterval = 25 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultDialTimeout  = 10 * time.Second
	defaultLoginTimeout = 10 * time.Second
	defaultQueueSize    = 256
	defaultSendRate     = 10
	defaultSendBurst    = 10
	defaultReadLimit    = 2 * 1024 * 1024
)

var (
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("transport closed")
	// ErrQueueFull is returned by Send when the outbound queue is saturated.
	ErrQueueFull = errors.New("send queue full")

	pingFrame = []byte("ping")
)

// Config tunes one websocket connection.
type Config struct {
	Endpoint     string
	PingInterval time.Duration
	WriteTimeout time.Duration
	DialTimeout  time.Duration
	LoginTimeout time.Duration
	QueueSize    int
	// SendRate caps outbound control frames per second; zero disables limiting.
	SendRate  float64
	SendBurst int
	ReadLimit int64
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = defaultPingInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.LoginTimeout <= 0 {
		c.LoginTimeout = defaultLoginTimeout
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaultQueueSize
	}
	if c.SendBurst <= 0 {
		c.SendBurst = defaultSendBurst
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	return c
}

// DefaultConfig returns the tuning used when no overrides are configured.
func DefaultConfig() Config {
	cfg := Config{SendRate: defaultSendRate}
	return cfg.withDefaults()
}

// Authenticator performs the login exchange on a fresh connection before it
// is reported open.
type Authenticator interface {
	// LoginFrame builds the login request for account.
	LoginFrame(account schema.Account) ([]byte, error)
	// LoginResult inspects one inbound frame. done reports that the exchange
	// finished; a non-nil error rejects the connection.
	LoginResult(raw []byte) (done bool, err error)
}

type phase int

const (
	phaseIdle phase = iota
	phaseConnecting
	phaseOpen
	phaseClosed
)

// Transport is a single-use websocket connection. All Listener callbacks are
// delivered sequentially from the transport's read goroutine.
type Transport struct {
	account  schema.Account
	endpoint string
	cfg      Config
	auth     Authenticator
	listener feed.Listener
	limiter  *rate.Limiter
	log      *logger.Entry

	queue  chan []byte
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	phase phase
	conn  *websocket.Conn
}

// New builds a transport for account; Connect starts it.
func New(account schema.Account, endpoint string, cfg Config, auth Authenticator, listener feed.Listener, log *logger.Entry) (*Transport, error) {
	if endpoint == "" {
		return nil, errs.New("transport/websocket", errs.CodeInvalid, errs.WithMessage("endpoint required"), errs.WithField("account", account.ID))
	}
	if listener == nil {
		return nil, errs.New("transport/websocket", errs.CodeInvalid, errs.WithMessage("listener required"))
	}
	if log == nil {
		log = logger.Discard().WithComponent("transport")
	}
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.SendRate > 0 {
		limit = rate.Limit(cfg.SendRate)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		account:  account,
		endpoint: endpoint,
		cfg:      cfg,
		auth:     auth,
		listener: listener,
		limiter:  rate.NewLimiter(limit, cfg.SendBurst),
		log:      log.WithField("account", account.ID),
		queue:    make(chan []byte, cfg.QueueSize),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		phase:    phaseIdle,
	}, nil
}

// Connect dials in the background and returns immediately.
func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.phase {
	case phaseIdle:
	case phaseClosed:
		return ErrClosed
	default:
		return errs.Contract("transport/websocket", errs.ErrAlreadyOpen, errs.WithField("account", t.account.ID))
	}
	t.phase = phaseConnecting
	go t.run()
	return nil
}

// Send queues payload for writing. It never blocks.
func (t *Transport) Send(payload []byte) error {
	t.mu.Lock()
	closed := t.phase == phaseClosed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	select {
	case t.queue <- payload:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close shuts the connection down. It does not wait for the read goroutine,
// so it is safe to call from inside a Listener callback. Closed is delivered
// once the connection is torn down, unless Connect was never called.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.phase == phaseClosed {
		t.mu.Unlock()
		return nil
	}
	t.phase = phaseClosed
	conn := t.conn
	t.mu.Unlock()

	t.cancel()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client close")
	}
	return nil
}

// Done is closed after the read goroutine delivered its final callback.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

func (t *Transport) closedByCaller() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase == phaseClosed
}

func (t *Transport) run() {
	defer close(t.done)

	conn, err := t.dial()
	if err != nil {
		t.finish(err)
		return
	}

	t.mu.Lock()
	if t.phase == phaseClosed {
		t.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "client close")
		t.listener.Closed()
		return
	}
	t.phase = phaseOpen
	t.conn = conn
	t.mu.Unlock()

	connID := uuid.NewString()
	t.log.WithField("connection_id", connID).Info("websocket connected")
	t.listener.Opened(map[string]string{
		feed.MetaConnectionID: connID,
		feed.MetaEndpoint:     t.endpoint,
	})

	connCtx, connCancel := context.WithCancel(t.ctx)
	var wg conc.WaitGroup
	var writeErr error
	var writeOnce sync.Once
	fail := func(err error) {
		writeOnce.Do(func() { writeErr = err })
		connCancel()
	}
	wg.Go(func() {
		if err := t.writeLoop(connCtx, conn); err != nil {
			fail(err)
		}
	})
	wg.Go(func() {
		if err := t.pingLoop(connCtx, conn); err != nil {
			fail(err)
		}
	})

	readErr := t.readLoop(connCtx, conn)
	connCancel()
	_ = conn.Close(websocket.StatusNormalClosure, "")
	wg.Wait()

	if writeErr != nil {
		readErr = writeErr
	}
	t.finish(readErr)
}

func (t *Transport) dial() (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(t.ctx, t.cfg.DialTimeout)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, t.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.endpoint, err)
	}
	conn.SetReadLimit(t.cfg.ReadLimit)
	if t.auth == nil {
		return conn, nil
	}
	if err := t.login(conn); err != nil {
		_ = conn.Close(websocket.StatusPolicyViolation, "login failed")
		return nil, err
	}
	return conn, nil
}

func (t *Transport) login(conn *websocket.Conn) error {
	frame, err := t.auth.LoginFrame(t.account)
	if err != nil {
		return fmt.Errorf("build login frame: %w", err)
	}
	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.LoginTimeout)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("write login: %w", err)
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("await login: %w", err)
		}
		done, err := t.auth.LoginResult(data)
		if err != nil {
			return fmt.Errorf("login rejected: %w", err)
		}
		if done {
			return nil
		}
	}
}

func (t *Transport) finish(err error) {
	if t.closedByCaller() {
		t.listener.Closed()
		return
	}
	t.mu.Lock()
	t.phase = phaseClosed
	t.mu.Unlock()
	t.cancel()
	t.log.WithError(err).Warn("websocket disconnected")
	t.listener.Disconnected(err)
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read websocket: %w", err)
		}
		trimmed := bytes.TrimSpace(data)
		if len(trimmed) == 0 {
			continue
		}
		if bytes.Equal(trimmed, pingFrame) {
			_ = t.write(ctx, conn, []byte("pong"))
			continue
		}
		t.listener.Message(data)
	}
}

func (t *Transport) writeLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case payload := <-t.queue:
			if err := t.limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := t.write(ctx, conn, payload); err != nil {
				return err
			}
		}
	}
}

func (t *Transport) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := t.write(ctx, conn, pingFrame); err != nil {
				return fmt.Errorf("write ping: %w", err)
			}
		}
	}
}

func (t *Transport) write(ctx context.Context, conn *websocket.Conn, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, t.cfg.WriteTimeout)
	defer cancel()
	if err := conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("write websocket: %w", err)
	}
	return nil
}
