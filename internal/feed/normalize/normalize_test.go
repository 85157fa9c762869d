package normalize

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/feed/wire"
)

func TestEmptyEntryNeverFails(t *testing.T) {
	for _, n := range Defaults() {
		payload, ok := n.Normalize(map[string]any{})
		require.True(t, ok, "topic %s", n.Topic())
		require.NotNil(t, payload)
		want, ok := schema.EventTypeForTopic(n.Topic())
		require.True(t, ok)
		require.Equal(t, want, payload.EventType())

		encoded, err := json.Marshal(payload)
		require.NoError(t, err)
		require.JSONEq(t, `{}`, string(encoded), "topic %s should leave every field absent", n.Topic())
	}
}

func TestDefaultsCoverEveryTopic(t *testing.T) {
	seen := map[schema.Topic]bool{}
	for _, n := range Defaults() {
		seen[n.Topic()] = true
	}
	for _, topic := range schema.Topics() {
		require.True(t, seen[topic], "missing normalizer for %s", topic)
	}
}

func TestPositionExample(t *testing.T) {
	payload, ok := Position().Normalize(map[string]any{
		"instId":           "BTCUSDT",
		"total":            "1.5",
		"holdSide":         "long",
		"averageOpenPrice": "50000",
	})
	require.True(t, ok)
	pos, ok := payload.(*schema.PositionUpdate)
	require.True(t, ok)
	require.Equal(t, "BTCUSDT", schema.Value(pos.Symbol))
	require.Equal(t, "1.5", schema.Value(pos.Size))
	require.Equal(t, "long", schema.Value(pos.Side))
	require.Equal(t, "50000", schema.Value(pos.EntryPrice))
	require.Nil(t, pos.MarkPrice)
	require.Nil(t, pos.Leverage)
}

func TestPositionZeroSizeFilter(t *testing.T) {
	cases := []struct {
		name  string
		entry map[string]any
		keep  bool
	}{
		{"zero total", map[string]any{"symbol": "BTCUSDT", "total": "0"}, false},
		{"zero with decimals", map[string]any{"symbol": "BTCUSDT", "total": "0.000"}, false},
		{"zero pos alias", map[string]any{"instId": "ETHUSDT", "pos": "0"}, false},
		{"tiny size", map[string]any{"symbol": "BTCUSDT", "total": "0.00000001"}, true},
		{"unparseable", map[string]any{"symbol": "BTCUSDT", "total": "abc"}, true},
		{"absent size", map[string]any{"symbol": "BTCUSDT"}, true},
		{"negative size", map[string]any{"symbol": "BTCUSDT", "size": "-2"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok := Position().Normalize(tc.entry)
			require.Equal(t, tc.keep, ok)
		})
	}
}

func TestAliasPriority(t *testing.T) {
	payload, ok := Position().Normalize(map[string]any{
		"instId": "LOWER",
		"symbol": "HIGHER",
		"total":  "",
		"pos":    "3",
	})
	require.True(t, ok)
	pos := payload.(*schema.PositionUpdate)
	require.Equal(t, "HIGHER", schema.Value(pos.Symbol))
	require.Equal(t, "3", schema.Value(pos.Size), "empty higher-priority alias falls through")
}

func TestNumbersKeepLiteralText(t *testing.T) {
	env, err := wire.Decode([]byte(`{"arg":{"topic":"ticker"},"data":[{"symbol":"BTCUSDT","lastPrice":64000.10,"ts":1700000000123}]}`))
	require.NoError(t, err)

	payload, ok := Ticker().Normalize(env.Data[0])
	require.True(t, ok)
	tick := payload.(*schema.TickerUpdate)
	require.Equal(t, "64000.10", schema.Value(tick.LastPrice))
	require.Equal(t, "1700000000123", schema.Value(tick.Timestamp))
}

func TestNonScalarValuesAreIgnored(t *testing.T) {
	payload, ok := Order().Normalize(map[string]any{
		"orderId": map[string]any{"nested": "x"},
		"ordId":   "42",
		"side":    []any{"buy"},
		"status":  true,
	})
	require.True(t, ok)
	order := payload.(*schema.OrderUpdate)
	require.Equal(t, "42", schema.Value(order.OrderID))
	require.Nil(t, order.Side)
	require.Equal(t, "true", schema.Value(order.Status))
}

func TestFillAndAccountAliases(t *testing.T) {
	payload, ok := Fill().Normalize(map[string]any{
		"instId":  "SOLUSDT",
		"ordId":   "1",
		"execId":  "t-9",
		"fillSz":  "2",
		"fillPx":  "150.5",
		"fillFee": "-0.01",
		"feeCcy":  "USDT",
		"ts":      "1700000000000",
	})
	require.True(t, ok)
	fill := payload.(*schema.FillUpdate)
	require.Equal(t, "t-9", schema.Value(fill.TradeID))
	require.Equal(t, "2", schema.Value(fill.Size))
	require.Equal(t, "150.5", schema.Value(fill.Price))
	require.Equal(t, "-0.01", schema.Value(fill.Fee))
	require.Equal(t, "USDT", schema.Value(fill.FeeCurrency))
	require.Equal(t, "1700000000000", schema.Value(fill.Timestamp))

	payload, ok = Account().Normalize(map[string]any{"ccy": "USDT", "totalEq": "1000", "availBal": "900"})
	require.True(t, ok)
	acct := payload.(*schema.AccountUpdate)
	require.Equal(t, "USDT", schema.Value(acct.Currency))
	require.Equal(t, "1000", schema.Value(acct.Equity))
	require.Equal(t, "900", schema.Value(acct.Available))
	require.Nil(t, acct.Frozen)
}

func TestIsZeroSize(t *testing.T) {
	zero := "0E-8"
	require.True(t, IsZeroSize(&zero))
	require.False(t, IsZeroSize(nil))
}
