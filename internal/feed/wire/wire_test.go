package wire

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/feedgate/internal/domain/schema"
)

func TestEncodeRequestsBatchesInOrder(t *testing.T) {
	subs := []schema.Subscription{
		schema.NewSubscription(schema.TopicTicker, schema.Scope{"instType": "usdt-futures", "symbol": "BTCUSDT"}),
		schema.NewSubscription(schema.TopicTicker, schema.Scope{"instType": "usdt-futures", "symbol": "ETHUSDT"}),
		schema.NewSubscription(schema.TopicTicker, schema.Scope{"instType": "usdt-futures", "symbol": "BNBUSDT"}),
	}

	frames, err := EncodeRequests(ProtocolV3, OpSubscribe, subs, 2)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	require.Equal(t, []schema.SubscriptionKey{subs[0].Key, subs[1].Key}, frames[0].Keys)
	require.Equal(t, []schema.SubscriptionKey{subs[2].Key}, frames[1].Keys)

	var req Request
	require.NoError(t, json.Unmarshal(frames[0].Payload, &req))
	require.Equal(t, OpSubscribe, req.Op)
	require.Len(t, req.Args, 2)
	require.Equal(t, "ticker", req.Args[0]["topic"])
	require.Equal(t, "BTCUSDT", req.Args[0]["symbol"])
	require.Equal(t, "ETHUSDT", req.Args[1]["symbol"])
}

func TestEncodeRequestsEmpty(t *testing.T) {
	frames, err := EncodeRequests(ProtocolV3, OpSubscribe, nil, 0)
	require.NoError(t, err)
	require.Empty(t, frames)
}

func TestV2ArgUsesChannelNames(t *testing.T) {
	sub := schema.NewSubscription(schema.TopicPosition, schema.Scope{"instType": "USDT-FUTURES", "instId": "default"})
	arg := ProtocolV2.Arg(sub)
	require.Equal(t, "positions", arg["channel"])
	_, hasTopic := arg["topic"]
	require.False(t, hasTopic)

	key, ok := KeyFromArg(arg)
	require.True(t, ok)
	require.Equal(t, sub.Key, key)
}

func TestV2ArgCarriesOnlyCallerScope(t *testing.T) {
	sub := schema.NewSubscription(schema.TopicOrder, schema.Scope{"instType": "USDT-FUTURES"})
	arg := ProtocolV2.Arg(sub)
	require.Equal(t, map[string]string{"channel": "orders", "instType": "USDT-FUTURES"}, arg)

	key, ok := KeyFromArg(arg)
	require.True(t, ok)
	require.Equal(t, sub.Key, key)
}

func TestKeyFromArgRoundTripsV3(t *testing.T) {
	sub := schema.NewSubscription(schema.TopicPosition, schema.Scope{"instType": "UTA"})
	key, ok := KeyFromArg(ProtocolV3.Arg(sub))
	require.True(t, ok)
	require.Equal(t, sub.Key, key)

	_, ok = KeyFromArg(map[string]string{"topic": "candle1m"})
	require.False(t, ok)
}

func TestDecodeKeepsNumericText(t *testing.T) {
	raw := []byte(`{"action":"snapshot","arg":{"instType":"UTA","topic":"position"},"data":[{"symbol":"BTCUSDT","total":"1.5","leverage":20,"uTime":1700000000123}],"ts":1700000000456}`)
	env, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, "snapshot", env.Action)
	require.Equal(t, "1700000000456", env.Ts)
	require.Equal(t, "position", env.Arg["topic"])
	require.Len(t, env.Data, 1)

	lev, ok := Text(env.Data[0]["leverage"])
	require.True(t, ok)
	require.Equal(t, "20", lev)
	ts, ok := Text(env.Data[0]["uTime"])
	require.True(t, ok)
	require.Equal(t, "1700000000123", ts)
}

func TestDecodeErrorEnvelopeWithNumericCode(t *testing.T) {
	env, err := Decode([]byte(`{"event":"error","arg":{"instType":"UTA","topic":"fill"},"code":30001,"msg":"instType doesn't exist"}`))
	require.NoError(t, err)
	require.Equal(t, "error", env.Event)
	require.Equal(t, "30001", env.Code)
	require.Equal(t, "instType doesn't exist", env.Msg)
}

func TestDecodeSingleObjectData(t *testing.T) {
	env, err := Decode([]byte(`{"arg":{"topic":"account"},"data":{"equity":"10"}}`))
	require.NoError(t, err)
	require.Len(t, env.Data, 1)
	require.Equal(t, "10", env.Data[0]["equity"])
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)
}

func TestTopicPrefersTopicOverChannel(t *testing.T) {
	topic, name, ok := Topic(map[string]string{"topic": "order", "channel": "positions"})
	require.True(t, ok)
	require.Equal(t, schema.TopicOrder, topic)
	require.Equal(t, "order", name)

	topic, _, ok = Topic(map[string]string{"channel": "orders"})
	require.True(t, ok)
	require.Equal(t, schema.TopicOrder, topic)
}

func TestParseProtocol(t *testing.T) {
	p, err := ParseProtocol("")
	require.NoError(t, err)
	require.Equal(t, ProtocolV3, p)
	p, err = ParseProtocol("V2")
	require.NoError(t, err)
	require.Equal(t, ProtocolV2, p)
	_, err = ParseProtocol("v9")
	require.Error(t, err)
}

func TestIsControlText(t *testing.T) {
	require.True(t, IsControlText([]byte("pong")))
	require.True(t, IsControlText([]byte(" pong\n")))
	require.False(t, IsControlText([]byte(`{"event":"pong"}`)))
}
