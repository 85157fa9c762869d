// Package wire encodes subscription requests and decodes inbound frames for the
// exchange's `{op,args}` / `{arg,data}` websocket protocol.
package wire

import (
	"bytes"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/feedgate/internal/domain/errs"
	"github.com/coachpo/feedgate/internal/domain/schema"
)

// Protocol selects the API generation used on the wire.
type Protocol string

const (
	// ProtocolV2 addresses streams with `channel` and plural names (positions, orders).
	ProtocolV2 Protocol = "v2"
	// ProtocolV3 addresses streams with `topic` and singular names.
	ProtocolV3 Protocol = "v3"
)

const (
	// DefaultMaxBatchSize bounds the number of args per subscribe request.
	DefaultMaxBatchSize = 20

	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"

	argTopic   = "topic"
	argChannel = "channel"
)

// ParseProtocol normalises a protocol name; empty selects v3.
func ParseProtocol(name string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "v3":
		return ProtocolV3, nil
	case "v2":
		return ProtocolV2, nil
	default:
		return "", errs.New("wire/protocol", errs.CodeInvalid, errs.WithMessage("protocol must be v2 or v3"), errs.WithField("protocol", name))
	}
}

var (
	v2Names = map[schema.Topic]string{
		schema.TopicAccount:  "account",
		schema.TopicPosition: "positions",
		schema.TopicOrder:    "orders",
		schema.TopicFill:     "fill",
		schema.TopicTicker:   "ticker",
	}
	// every stream name seen across generations, mapped to its canonical topic
	topicAliases = map[string]schema.Topic{
		"account":   schema.TopicAccount,
		"balance":   schema.TopicAccount,
		"position":  schema.TopicPosition,
		"positions": schema.TopicPosition,
		"order":     schema.TopicOrder,
		"orders":    schema.TopicOrder,
		"fill":      schema.TopicFill,
		"fills":     schema.TopicFill,
		"ticker":    schema.TopicTicker,
		"tickers":   schema.TopicTicker,
	}
)

// Arg renders a subscription as one request argument. Scope entries are
// flattened next to the stream name.
func (p Protocol) Arg(sub schema.Subscription) map[string]string {
	arg := make(map[string]string, len(sub.Scope)+1)
	for k, v := range sub.Scope {
		arg[k] = v
	}
	delete(arg, argTopic)
	delete(arg, argChannel)
	if p == ProtocolV2 {
		name, ok := v2Names[sub.Topic]
		if !ok {
			name = string(sub.Topic)
		}
		arg[argChannel] = name
		return arg
	}
	arg[argTopic] = string(sub.Topic)
	return arg
}

// Request is one control message.
type Request struct {
	Op   string              `json:"op"`
	Args []map[string]string `json:"args"`
}

// Frame is one encoded request together with the keys it carries.
type Frame struct {
	Payload []byte
	Keys    []schema.SubscriptionKey
}

// EncodeRequests splits subs into batches of at most maxBatch args, preserving
// order, and encodes one frame per batch.
func EncodeRequests(p Protocol, op string, subs []schema.Subscription, maxBatch int) ([]Frame, error) {
	if len(subs) == 0 {
		return nil, nil
	}
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}
	frames := make([]Frame, 0, (len(subs)+maxBatch-1)/maxBatch)
	for start := 0; start < len(subs); start += maxBatch {
		end := start + maxBatch
		if end > len(subs) {
			end = len(subs)
		}
		chunk := subs[start:end]
		req := Request{Op: op, Args: make([]map[string]string, 0, len(chunk))}
		keys := make([]schema.SubscriptionKey, 0, len(chunk))
		for _, sub := range chunk {
			req.Args = append(req.Args, p.Arg(sub))
			keys = append(keys, sub.Key)
		}
		data, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", op, err)
		}
		frames = append(frames, Frame{Payload: data, Keys: keys})
	}
	return frames, nil
}

// Envelope is a decoded inbound frame. Arg and Data entries keep every value
// as text; JSON numbers retain their literal digits.
type Envelope struct {
	Event  string
	Op     string
	Action string
	Code   string
	Msg    string
	Ts     string
	Arg    map[string]string
	Data   []map[string]any
}

type rawEnvelope struct {
	Event  string          `json:"event"`
	Op     string          `json:"op"`
	Action string          `json:"action"`
	Code   json.RawMessage `json:"code"`
	Msg    string          `json:"msg"`
	Ts     json.RawMessage `json:"ts"`
	Arg    json.RawMessage `json:"arg"`
	Data   json.RawMessage `json:"data"`
}

// IsControlText reports plain-text keepalive frames such as "pong".
func IsControlText(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return bytes.Equal(trimmed, []byte("pong")) || bytes.Equal(trimmed, []byte("ping"))
}

// Decode parses one inbound JSON frame.
func Decode(raw []byte) (Envelope, error) {
	var env rawEnvelope
	if err := unmarshalNumbers(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	out := Envelope{
		Event:  strings.TrimSpace(env.Event),
		Op:     strings.ToLower(strings.TrimSpace(env.Op)),
		Action: strings.TrimSpace(env.Action),
		Code:   scalarText(env.Code),
		Msg:    env.Msg,
		Ts:     scalarText(env.Ts),
	}
	if len(env.Arg) > 0 && !isNull(env.Arg) {
		var arg map[string]any
		if err := unmarshalNumbers(env.Arg, &arg); err != nil {
			return Envelope{}, fmt.Errorf("decode arg: %w", err)
		}
		out.Arg = make(map[string]string, len(arg))
		for k, v := range arg {
			if s, ok := Text(v); ok {
				out.Arg[k] = s
			}
		}
	}
	data, err := decodeData(env.Data)
	if err != nil {
		return Envelope{}, err
	}
	out.Data = data
	return out, nil
}

func decodeData(raw json.RawMessage) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || isNull(trimmed) {
		return nil, nil
	}
	switch trimmed[0] {
	case '[':
		var entries []any
		if err := unmarshalNumbers(trimmed, &entries); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
		out := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			if m, ok := entry.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out, nil
	case '{':
		var entry map[string]any
		if err := unmarshalNumbers(trimmed, &entry); err != nil {
			return nil, fmt.Errorf("decode data: %w", err)
		}
		return []map[string]any{entry}, nil
	default:
		return nil, nil
	}
}

// Topic resolves the canonical topic of an arg, reading `topic` (v3) before
// `channel` (v2). The wire name is returned for diagnostics.
func Topic(arg map[string]string) (schema.Topic, string, bool) {
	name, ok := arg[argTopic]
	if !ok || name == "" {
		name, ok = arg[argChannel]
	}
	if !ok || name == "" {
		return "", "", false
	}
	topic, known := topicAliases[strings.ToLower(name)]
	return topic, name, known
}

// KeyFromArg rebuilds the subscription key a request arg was encoded from.
func KeyFromArg(arg map[string]string) (schema.SubscriptionKey, bool) {
	topic, _, ok := Topic(arg)
	if !ok {
		return "", false
	}
	scope := make(schema.Scope, len(arg))
	for k, v := range arg {
		if k == argTopic || k == argChannel {
			continue
		}
		scope[k] = v
	}
	return schema.KeyOf(topic, scope), true
}

// Text renders a decoded JSON scalar as text. Objects, arrays and null are not
// scalars and report false.
func Text(v any) (string, bool) {
	switch typed := v.(type) {
	case string:
		return typed, true
	case json.Number:
		return typed.String(), true
	case bool:
		if typed {
			return "true", true
		}
		return "false", true
	case float64:
		return fmt.Sprintf("%v", typed), true
	default:
		return "", false
	}
}

func unmarshalNumbers(raw []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	return dec.Decode(dst)
}

func scalarText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || isNull(trimmed) {
		return ""
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return s
		}
	}
	return string(trimmed)
}

func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
