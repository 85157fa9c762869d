package wstransport

import (
	"strings"

	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/feed"
	"github.com/coachpo/feedgate/internal/infra/logger"
)

// Factory builds one Transport per connection attempt.
type Factory struct {
	cfg  Config
	auth Authenticator
	log  *logger.Entry
}

// FactoryOption customises a Factory.
type FactoryOption func(*Factory)

// WithAuthenticator performs a login exchange on every new connection.
func WithAuthenticator(auth Authenticator) FactoryOption {
	return func(f *Factory) { f.auth = auth }
}

// WithLogger sets the base log entry for transports.
func WithLogger(l *logger.Entry) FactoryOption {
	return func(f *Factory) {
		if l != nil {
			f.log = l
		}
	}
}

// NewFactory returns a factory dialing cfg.Endpoint unless an account carries
// its own endpoint.
func NewFactory(cfg Config, opts ...FactoryOption) *Factory {
	f := &Factory{cfg: cfg, log: logger.Discard().WithComponent("transport")}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// NewTransport implements feed.TransportFactory.
func (f *Factory) NewTransport(account schema.Account, listener feed.Listener) (feed.Transport, error) {
	endpoint := strings.TrimSpace(account.Endpoint)
	if endpoint == "" {
		endpoint = strings.TrimSpace(f.cfg.Endpoint)
	}
	t, err := New(account, endpoint, f.cfg, f.auth, listener, f.log)
	if err != nil {
		return nil, err
	}
	return t, nil
}
