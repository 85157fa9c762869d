// Package feed defines the contracts shared by the streaming core: the transport
// it drives, the sink it feeds and the observer it reports to.
package feed

import (
	"context"

	"github.com/coachpo/feedgate/internal/domain/schema"
)

// Transport is one physical streaming connection.
//
// Connect and Close must not invoke the Listener synchronously; events are
// delivered later from the transport's own goroutines, sequentially per
// transport. Send never blocks on I/O: it enqueues or fails.
type Transport interface {
	Connect() error
	Send(payload []byte) error
	Close() error
}

// Metadata keys a transport may report through Listener.Opened.
const (
	MetaConnectionID = "connection_id"
	MetaEndpoint     = "endpoint"
)

// Listener receives transport lifecycle events and raw inbound frames.
type Listener interface {
	Opened(meta map[string]string)
	Message(raw []byte)
	Disconnected(err error)
	Closed()
}

// TransportFactory builds a fresh transport for each connection attempt.
type TransportFactory interface {
	NewTransport(account schema.Account, listener Listener) (Transport, error)
}

// TransportFactoryFunc adapts a function to TransportFactory.
type TransportFactoryFunc func(account schema.Account, listener Listener) (Transport, error)

// NewTransport implements TransportFactory.
func (f TransportFactoryFunc) NewTransport(account schema.Account, listener Listener) (Transport, error) {
	return f(account, listener)
}

// Sink consumes canonical events. Implementations may be invoked concurrently
// from different accounts' sessions.
type Sink interface {
	Publish(ctx context.Context, evt schema.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt schema.Event) error

// Publish implements Sink.
func (f SinkFunc) Publish(ctx context.Context, evt schema.Event) error {
	return f(ctx, evt)
}

// DiscardSink drops every event.
var DiscardSink Sink = SinkFunc(func(context.Context, schema.Event) error { return nil })
