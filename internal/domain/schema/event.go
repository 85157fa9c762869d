package schema

import "time"

// EventType classifies canonical events.
type EventType string

const (
	// EventTypeAccountUpdate designates balance/equity updates.
	EventTypeAccountUpdate EventType = "AccountUpdate"
	// EventTypePositionUpdate designates position updates.
	EventTypePositionUpdate EventType = "PositionUpdate"
	// EventTypeOrderUpdate designates order lifecycle updates.
	EventTypeOrderUpdate EventType = "OrderUpdate"
	// EventTypeFillUpdate designates trade executions.
	EventTypeFillUpdate EventType = "FillUpdate"
	// EventTypeTickerUpdate designates ticker summaries.
	EventTypeTickerUpdate EventType = "TickerUpdate"
)

// EventTypeForTopic maps a topic onto the event type its normalizer emits.
func EventTypeForTopic(topic Topic) (EventType, bool) {
	switch topic {
	case TopicAccount:
		return EventTypeAccountUpdate, true
	case TopicPosition:
		return EventTypePositionUpdate, true
	case TopicOrder:
		return EventTypeOrderUpdate, true
	case TopicFill:
		return EventTypeFillUpdate, true
	case TopicTicker:
		return EventTypeTickerUpdate, true
	default:
		return "", false
	}
}

// Event is the canonical, version-independent envelope handed to sinks.
// Events are ephemeral: the core never retains them after delivery.
type Event struct {
	AccountID  string
	Type       EventType
	Action     string
	ReceivedAt time.Time
	Payload    Payload
}

// Payload is implemented by the five canonical update types only.
type Payload interface {
	EventType() EventType
}

// Numeric and textual fields are nil when no source alias was present.
// Numbers keep the exchange's decimal text verbatim.

// AccountUpdate carries balance and margin figures.
type AccountUpdate struct {
	Currency      *string `json:"currency,omitempty"`
	Equity        *string `json:"equity,omitempty"`
	Available     *string `json:"available,omitempty"`
	Frozen        *string `json:"frozen,omitempty"`
	Margin        *string `json:"margin,omitempty"`
	UnrealizedPnL *string `json:"unrealizedPnl,omitempty"`
	UpdatedAt     *string `json:"updatedAt,omitempty"`
}

// PositionUpdate carries one open position.
type PositionUpdate struct {
	Symbol           *string `json:"symbol,omitempty"`
	Side             *string `json:"side,omitempty"`
	Size             *string `json:"size,omitempty"`
	EntryPrice       *string `json:"entryPrice,omitempty"`
	MarkPrice        *string `json:"markPrice,omitempty"`
	UnrealizedPnL    *string `json:"unrealizedPnl,omitempty"`
	Margin           *string `json:"margin,omitempty"`
	Leverage         *string `json:"leverage,omitempty"`
	MarginMode       *string `json:"marginMode,omitempty"`
	LiquidationPrice *string `json:"liquidationPrice,omitempty"`
	UpdatedAt        *string `json:"updatedAt,omitempty"`
}

// OrderUpdate carries one order state change.
type OrderUpdate struct {
	Symbol        *string `json:"symbol,omitempty"`
	OrderID       *string `json:"orderId,omitempty"`
	ClientOrderID *string `json:"clientOrderId,omitempty"`
	Side          *string `json:"side,omitempty"`
	OrderType     *string `json:"orderType,omitempty"`
	Size          *string `json:"size,omitempty"`
	Price         *string `json:"price,omitempty"`
	FilledSize    *string `json:"filledSize,omitempty"`
	AveragePrice  *string `json:"averagePrice,omitempty"`
	Status        *string `json:"status,omitempty"`
	UpdatedAt     *string `json:"updatedAt,omitempty"`
}

// FillUpdate carries one execution.
type FillUpdate struct {
	Symbol      *string `json:"symbol,omitempty"`
	OrderID     *string `json:"orderId,omitempty"`
	TradeID     *string `json:"tradeId,omitempty"`
	Side        *string `json:"side,omitempty"`
	Size        *string `json:"size,omitempty"`
	Price       *string `json:"price,omitempty"`
	Fee         *string `json:"fee,omitempty"`
	FeeCurrency *string `json:"feeCurrency,omitempty"`
	Timestamp   *string `json:"timestamp,omitempty"`
}

// TickerUpdate carries a 24h market summary.
type TickerUpdate struct {
	Symbol           *string `json:"symbol,omitempty"`
	LastPrice        *string `json:"lastPrice,omitempty"`
	BidPrice         *string `json:"bidPrice,omitempty"`
	AskPrice         *string `json:"askPrice,omitempty"`
	High24h          *string `json:"high24h,omitempty"`
	Low24h           *string `json:"low24h,omitempty"`
	Change24h        *string `json:"change24h,omitempty"`
	ChangePercent24h *string `json:"changePercent24h,omitempty"`
	Volume24h        *string `json:"volume24h,omitempty"`
	Timestamp        *string `json:"timestamp,omitempty"`
}

// EventType implements Payload.
func (*AccountUpdate) EventType() EventType { return EventTypeAccountUpdate }

// EventType implements Payload.
func (*PositionUpdate) EventType() EventType { return EventTypePositionUpdate }

// EventType implements Payload.
func (*OrderUpdate) EventType() EventType { return EventTypeOrderUpdate }

// EventType implements Payload.
func (*FillUpdate) EventType() EventType { return EventTypeFillUpdate }

// EventType implements Payload.
func (*TickerUpdate) EventType() EventType { return EventTypeTickerUpdate }

// Value dereferences an optional field, returning "" when unset.
func Value(field *string) string {
	if field == nil {
		return ""
	}
	return *field
}
