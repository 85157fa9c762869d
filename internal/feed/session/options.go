package session

import (
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/coachpo/feedgate/internal/feed"
	"github.com/coachpo/feedgate/internal/feed/router"
	"github.com/coachpo/feedgate/internal/feed/wire"
	"github.com/coachpo/feedgate/internal/infra/logger"
)

const (
	defaultMaxReconnectInterval = 30 * time.Second
	pendingTimeoutReason        = "acknowledgment timeout"
)

type options struct {
	protocol       wire.Protocol
	maxBatchSize   int
	pendingTimeout time.Duration
	newBackOff     func() backoff.BackOff
	clock          Clock
	router         *router.Router
	sink           feed.Sink
	observer       feed.Observer
	log            *logger.Entry
}

// Option configures a Manager.
type Option func(*options)

// WithProtocol selects the request encoding. Defaults to v3.
func WithProtocol(p wire.Protocol) Option {
	return func(o *options) { o.protocol = p }
}

// WithMaxBatchSize bounds the number of args per subscribe request.
func WithMaxBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxBatchSize = n
		}
	}
}

// WithPendingTimeout fails subscriptions that stay unacknowledged for d.
// Zero disables the timeout.
func WithPendingTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.pendingTimeout = d
		}
	}
}

// WithBackOff overrides the reconnect policy. The factory is called once per
// session; a policy returning backoff.Stop ends reconnection for that session.
func WithBackOff(factory func() backoff.BackOff) Option {
	return func(o *options) {
		if factory != nil {
			o.newBackOff = factory
		}
	}
}

// WithClock injects the timer source.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithRouter replaces the default router.
func WithRouter(r *router.Router) Option {
	return func(o *options) {
		if r != nil {
			o.router = r
		}
	}
}

// WithSink sets the destination for canonical events.
func WithSink(s feed.Sink) Option {
	return func(o *options) {
		if s != nil {
			o.sink = s
		}
	}
}

// WithObserver sets the notice observer.
func WithObserver(obs feed.Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithLogger sets the base log entry.
func WithLogger(l *logger.Entry) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// ExponentialBackOff returns a reconnect policy factory with the given shape.
// Zero durations and multipliers below 1 keep the library defaults. A
// randomization in [0,1) is applied as given, so 0 disables jitter; a negative
// one keeps the library default. Retries are unbounded.
func ExponentialBackOff(initial, maxInterval time.Duration, multiplier, randomization float64) func() backoff.BackOff {
	return func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		if initial > 0 {
			b.InitialInterval = initial
		}
		b.MaxInterval = defaultMaxReconnectInterval
		if maxInterval > 0 {
			b.MaxInterval = maxInterval
		}
		if multiplier >= 1 {
			b.Multiplier = multiplier
		}
		if randomization >= 0 && randomization < 1 {
			b.RandomizationFactor = randomization
		}
		b.Reset()
		return b
	}
}

func defaultOptions() options {
	return options{
		protocol:     wire.ProtocolV3,
		maxBatchSize: wire.DefaultMaxBatchSize,
		newBackOff:   ExponentialBackOff(0, defaultMaxReconnectInterval, 0, backoff.DefaultRandomizationFactor),
		clock:        SystemClock{},
		sink:         feed.DiscardSink,
		observer:     feed.NopObserver,
		log:          logger.Discard().WithComponent("session"),
	}
}
