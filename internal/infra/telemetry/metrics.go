package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/feed"
)

// FeedMetrics counts notices and events flowing out of the session manager.
// It is both a feed.Observer and a feed.Sink decorator.
type FeedMetrics struct {
	next       feed.Sink
	notices    metric.Int64Counter
	events     metric.Int64Counter
	reconnects metric.Int64Counter
}

// NewFeedMetrics registers the feed counters on meter. Published events are
// forwarded to next, which may be nil.
func NewFeedMetrics(meter metric.Meter, next feed.Sink) (*FeedMetrics, error) {
	if next == nil {
		next = feed.DiscardSink
	}
	m := &FeedMetrics{next: next}
	var err error
	if m.notices, err = meter.Int64Counter("feed.notices",
		metric.WithDescription("Session lifecycle and diagnostic notices"),
		metric.WithUnit("{notice}")); err != nil {
		return nil, fmt.Errorf("register feed.notices: %w", err)
	}
	if m.events, err = meter.Int64Counter("feed.events",
		metric.WithDescription("Canonical events handed to the sink"),
		metric.WithUnit("{event}")); err != nil {
		return nil, fmt.Errorf("register feed.events: %w", err)
	}
	if m.reconnects, err = meter.Int64Counter("feed.reconnects",
		metric.WithDescription("Scheduled reconnect attempts"),
		metric.WithUnit("{attempt}")); err != nil {
		return nil, fmt.Errorf("register feed.reconnects: %w", err)
	}
	return m, nil
}

// Notify implements feed.Observer.
func (m *FeedMetrics) Notify(n feed.Notice) {
	ctx := context.Background()
	m.notices.Add(ctx, 1, metric.WithAttributes(NoticeAttributes(Environment(), n.AccountID, string(n.Kind))...))
	if n.Kind == feed.NoticeReconnecting {
		m.reconnects.Add(ctx, 1, metric.WithAttributes(AttrEnvironment.String(Environment()), AttrAccount.String(n.AccountID)))
	}
}

// Publish implements feed.Sink.
func (m *FeedMetrics) Publish(ctx context.Context, evt schema.Event) error {
	m.events.Add(ctx, 1, metric.WithAttributes(EventAttributes(Environment(), evt.AccountID, string(evt.Type))...))
	return m.next.Publish(ctx, evt)
}
