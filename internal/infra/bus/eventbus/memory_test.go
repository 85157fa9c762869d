package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/feedgate/internal/domain/errs"
	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/feed"
	"github.com/coachpo/feedgate/internal/infra/logger"
)

var _ feed.Sink = (*MemoryBus)(nil)

func newTestBus(t *testing.T, buffer int) *MemoryBus {
	t.Helper()
	bus := NewMemoryBus(MemoryConfig{BufferSize: buffer, FanoutWorkers: 2},
		WithLogger(logger.Discard().WithComponent("eventbus")))
	t.Cleanup(bus.Close)
	return bus
}

func ticker(account, symbol string) schema.Event {
	return schema.Event{
		AccountID:  account,
		Type:       schema.EventTypeTickerUpdate,
		Action:     "snapshot",
		ReceivedAt: time.Now(),
		Payload:    &schema.TickerUpdate{Symbol: &symbol},
	}
}

func recv(t *testing.T, ch <-chan schema.Event) schema.Event {
	t.Helper()
	select {
	case evt, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return schema.Event{}
	}
}

func TestNewMemoryBusDefaults(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{})
	defer bus.Close()
	require.Equal(t, 64, bus.cfg.BufferSize)
	require.Equal(t, 4, bus.cfg.FanoutWorkers)
}

func TestPublishWithoutSubscribers(t *testing.T) {
	bus := newTestBus(t, 4)
	require.NoError(t, bus.Publish(context.Background(), ticker("a1", "BTCUSDT")))
}

func TestPublishRequiresType(t *testing.T) {
	bus := newTestBus(t, 4)
	err := bus.Publish(context.Background(), schema.Event{AccountID: "a1"})
	require.Error(t, err)
	require.Equal(t, errs.CodeInvalid, errs.CodeOf(err))

	_, _, err = bus.Subscribe(context.Background(), "")
	require.Error(t, err)
}

func TestFanOutByType(t *testing.T) {
	bus := newTestBus(t, 4)
	ctx := context.Background()

	_, tick1, err := bus.Subscribe(ctx, schema.EventTypeTickerUpdate)
	require.NoError(t, err)
	_, tick2, err := bus.Subscribe(ctx, schema.EventTypeTickerUpdate)
	require.NoError(t, err)
	_, orders, err := bus.Subscribe(ctx, schema.EventTypeOrderUpdate)
	require.NoError(t, err)
	require.Equal(t, 2, bus.SubscriberCount(schema.EventTypeTickerUpdate))

	require.NoError(t, bus.Publish(ctx, ticker("a1", "BTCUSDT")))

	for _, ch := range []<-chan schema.Event{tick1, tick2} {
		evt := recv(t, ch)
		require.Equal(t, "a1", evt.AccountID)
		require.Equal(t, "BTCUSDT", schema.Value(evt.Payload.(*schema.TickerUpdate).Symbol))
	}
	require.Empty(t, orders)
}

func TestBackpressureDropsOldest(t *testing.T) {
	bus := newTestBus(t, 2)
	ctx := context.Background()
	_, ch, err := bus.Subscribe(ctx, schema.EventTypeTickerUpdate)
	require.NoError(t, err)

	for _, sym := range []string{"A", "B", "C"} {
		require.NoError(t, bus.Publish(ctx, ticker("a1", sym)))
	}

	first := recv(t, ch)
	second := recv(t, ch)
	require.Equal(t, "B", schema.Value(first.Payload.(*schema.TickerUpdate).Symbol))
	require.Equal(t, "C", schema.Value(second.Payload.(*schema.TickerUpdate).Symbol))
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := newTestBus(t, 2)
	id, ch, err := bus.Subscribe(context.Background(), schema.EventTypeFillUpdate)
	require.NoError(t, err)
	require.Equal(t, SubscriptionID("sub-1"), id)

	bus.Unsubscribe(id)
	_, ok := <-ch
	require.False(t, ok)
	require.Zero(t, bus.SubscriberCount(schema.EventTypeFillUpdate))

	bus.Unsubscribe(id)
	bus.Unsubscribe("")
}

func TestContextCancelEndsSubscription(t *testing.T) {
	bus := newTestBus(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	_, ch, err := bus.Subscribe(ctx, schema.EventTypeAccountUpdate)
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after cancel")
	}
	require.Eventually(t, func() bool {
		return bus.SubscriberCount(schema.EventTypeAccountUpdate) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestCloseRejectsFurtherUse(t *testing.T) {
	bus := NewMemoryBus(MemoryConfig{BufferSize: 1}, WithLogger(logger.Discard().WithComponent("eventbus")))
	_, ch, err := bus.Subscribe(context.Background(), schema.EventTypeTickerUpdate)
	require.NoError(t, err)

	bus.Close()
	bus.Close()

	_, ok := <-ch
	require.False(t, ok)

	err = bus.Publish(context.Background(), ticker("a1", "X"))
	var e *errs.E
	require.True(t, errors.As(err, &e))
	require.Equal(t, errs.CodeUnavailable, e.Code)

	_, _, err = bus.Subscribe(context.Background(), schema.EventTypeTickerUpdate)
	require.Error(t, err)
}
