package eventbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	concpool "github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/coachpo/feedgate/internal/domain/errs"
	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/infra/logger"
	"github.com/coachpo/feedgate/internal/infra/telemetry"
)

// MemoryBus is an in-memory implementation of Bus.
type MemoryBus struct {
	cfg MemoryConfig
	log *logger.Entry

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.RWMutex
	subscribers  map[schema.EventType]map[SubscriptionID]*subscriber
	shutdownOnce sync.Once
	nextID       uint64

	published       metric.Int64Counter
	subscriberGauge metric.Int64UpDownCounter
	dropped         metric.Int64Counter
	publishDuration metric.Float64Histogram
}

type subscriber struct {
	ctx    context.Context
	cancel context.CancelFunc
	ch     chan schema.Event

	mu     sync.RWMutex
	closed bool
}

// Option customises a MemoryBus.
type Option func(*MemoryBus)

// WithLogger sets the entry used for backpressure warnings.
func WithLogger(entry *logger.Entry) Option {
	return func(b *MemoryBus) {
		if entry != nil {
			b.log = entry
		}
	}
}

// WithMeter overrides the meter used for bus instruments.
func WithMeter(meter metric.Meter) Option {
	return func(b *MemoryBus) {
		if meter != nil {
			b.registerInstruments(meter)
		}
	}
}

// NewMemoryBus constructs a memory-backed bus.
func NewMemoryBus(cfg MemoryConfig, opts ...Option) *MemoryBus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &MemoryBus{
		cfg:         cfg.normalize(),
		log:         logger.Global().WithComponent("eventbus"),
		ctx:         ctx,
		cancel:      cancel,
		subscribers: make(map[schema.EventType]map[SubscriptionID]*subscriber),
	}
	b.registerInstruments(otel.Meter("eventbus"))
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *MemoryBus) registerInstruments(meter metric.Meter) {
	b.published, _ = meter.Int64Counter("eventbus.events.published",
		metric.WithDescription("Number of events published to the bus"),
		metric.WithUnit("{event}"))
	b.subscriberGauge, _ = meter.Int64UpDownCounter("eventbus.subscribers",
		metric.WithDescription("Number of active subscribers"),
		metric.WithUnit("{subscriber}"))
	b.dropped, _ = meter.Int64Counter("eventbus.delivery.dropped",
		metric.WithDescription("Number of events dropped due to subscriber backpressure"),
		metric.WithUnit("{event}"))
	b.publishDuration, _ = meter.Float64Histogram("eventbus.publish.duration",
		metric.WithDescription("Latency of eventbus publish operations"),
		metric.WithUnit("ms"))
}

// Publish fans the event out to all subscribers of its type. It never blocks on
// a slow subscriber: a full buffer loses its oldest event.
func (b *MemoryBus) Publish(ctx context.Context, evt schema.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if evt.Type == "" {
		return errs.New("eventbus/publish", errs.CodeInvalid, errs.WithMessage("event type required"))
	}
	if b.ctx.Err() != nil {
		return errs.New("eventbus/publish", errs.CodeUnavailable, errs.WithMessage("bus closed"))
	}

	start := time.Now()
	result := "success"
	defer func() {
		b.publishDuration.Record(ctx, float64(time.Since(start).Milliseconds()),
			metric.WithAttributes(telemetry.DeliveryAttributes(telemetry.Environment(), string(evt.Type), result)...))
	}()

	b.mu.RLock()
	subMap := b.subscribers[evt.Type]
	subs := make([]*subscriber, 0, len(subMap))
	for _, sub := range subMap {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	if len(subs) == 0 {
		result = "no_subscribers"
		return nil
	}

	p := concpool.New().WithMaxGoroutines(b.cfg.FanoutWorkers)
	for _, sub := range subs {
		p.Go(func() {
			if b.deliver(sub, evt) {
				return
			}
			b.dropped.Add(ctx, 1, metric.WithAttributes(
				telemetry.DeliveryAttributes(telemetry.Environment(), string(evt.Type), "dropped")...))
			b.log.WithFields(logger.Fields{
				"event_type": evt.Type,
				"account":    evt.AccountID,
			}).Warn("subscriber buffer full; dropped oldest event")
		})
	}
	p.Wait()

	b.published.Add(ctx, 1, metric.WithAttributes(
		telemetry.EventAttributes(telemetry.Environment(), evt.AccountID, string(evt.Type))...))
	return nil
}

// deliver reports false when an older event had to be dropped to make room.
func (b *MemoryBus) deliver(sub *subscriber, evt schema.Event) bool {
	sub.mu.RLock()
	defer sub.mu.RUnlock()
	if sub.closed {
		return true
	}
	select {
	case sub.ch <- evt:
		return true
	default:
	}
	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- evt:
	default:
	}
	return false
}

// Subscribe registers for events of the given type. The channel closes when ctx
// ends, on Unsubscribe, or on Close.
func (b *MemoryBus) Subscribe(ctx context.Context, typ schema.EventType) (SubscriptionID, <-chan schema.Event, error) {
	if typ == "" {
		return "", nil, errs.New("eventbus/subscribe", errs.CodeInvalid, errs.WithMessage("event type required"))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if b.ctx.Err() != nil {
		return "", nil, errs.New("eventbus/subscribe", errs.CodeUnavailable, errs.WithMessage("bus closed"))
	}
	ctx, cancel := context.WithCancel(ctx)
	sub := &subscriber{ctx: ctx, cancel: cancel, ch: make(chan schema.Event, b.cfg.BufferSize)}
	id := SubscriptionID(fmt.Sprintf("sub-%d", atomic.AddUint64(&b.nextID, 1)))

	b.mu.Lock()
	if _, ok := b.subscribers[typ]; !ok {
		b.subscribers[typ] = make(map[SubscriptionID]*subscriber)
	}
	b.subscribers[typ][id] = sub
	b.mu.Unlock()

	b.subscriberGauge.Add(ctx, 1, metric.WithAttributes(
		telemetry.AttrEnvironment.String(telemetry.Environment()),
		telemetry.AttrEventType.String(string(typ))))

	go b.observe(typ, id, sub)
	return id, sub.ch, nil
}

// Unsubscribe removes the subscription and closes its channel.
func (b *MemoryBus) Unsubscribe(id SubscriptionID) {
	if id == "" {
		return
	}
	b.mu.Lock()
	for typ, subs := range b.subscribers {
		sub, ok := subs[id]
		if !ok {
			continue
		}
		delete(subs, id)
		if len(subs) == 0 {
			delete(b.subscribers, typ)
		}
		b.mu.Unlock()
		b.subscriberGauge.Add(context.Background(), -1, metric.WithAttributes(
			telemetry.AttrEnvironment.String(telemetry.Environment()),
			telemetry.AttrEventType.String(string(typ))))
		sub.close()
		return
	}
	b.mu.Unlock()
}

// Close shuts down the bus and all subscriptions.
func (b *MemoryBus) Close() {
	b.shutdownOnce.Do(func() {
		b.cancel()
		b.mu.Lock()
		var all []*subscriber
		for _, subs := range b.subscribers {
			for _, sub := range subs {
				all = append(all, sub)
			}
		}
		b.mu.Unlock()
		for _, sub := range all {
			sub.close()
		}
	})
}

func (b *MemoryBus) observe(typ schema.EventType, id SubscriptionID, sub *subscriber) {
	select {
	case <-sub.ctx.Done():
	case <-b.ctx.Done():
	}
	removed := false
	b.mu.Lock()
	if subs := b.subscribers[typ]; subs != nil {
		if stored, ok := subs[id]; ok && stored == sub {
			delete(subs, id)
			removed = true
			if len(subs) == 0 {
				delete(b.subscribers, typ)
			}
		}
	}
	b.mu.Unlock()
	if removed {
		b.subscriberGauge.Add(context.Background(), -1, metric.WithAttributes(
			telemetry.AttrEnvironment.String(telemetry.Environment()),
			telemetry.AttrEventType.String(string(typ))))
	}
	sub.close()
}

// SubscriberCount reports the live subscriptions for typ.
func (b *MemoryBus) SubscriberCount(typ schema.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[typ])
}

func (s *subscriber) close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
