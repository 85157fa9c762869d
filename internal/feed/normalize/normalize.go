// Package normalize maps version-specific payload entries onto canonical update
// types through static, priority-ordered alias tables.
package normalize

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/coachpo/feedgate/internal/domain/schema"
	"github.com/coachpo/feedgate/internal/feed/wire"
)

// Normalizer converts one decoded data entry into a canonical payload. It is
// total: a missing alias leaves the canonical field nil, and ok=false means the
// entry was deliberately skipped, never that it was malformed.
type Normalizer interface {
	Topic() schema.Topic
	Normalize(entry map[string]any) (payload schema.Payload, ok bool)
}

// binding ties one canonical field to its source aliases, highest priority first.
type binding[T any] struct {
	aliases []string
	field   func(*T) **string
}

func apply[T any](dst *T, entry map[string]any, table []binding[T]) {
	for _, b := range table {
		*b.field(dst) = firstPresent(entry, b.aliases)
	}
}

// firstPresent returns the first alias holding a non-empty scalar.
func firstPresent(entry map[string]any, aliases []string) *string {
	for _, alias := range aliases {
		raw, ok := entry[alias]
		if !ok || raw == nil {
			continue
		}
		text, ok := wire.Text(raw)
		if !ok {
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		return &text
	}
	return nil
}

type tableNormalizer[T any] struct {
	topic  schema.Topic
	table  []binding[T]
	build  func(*T) schema.Payload
	filter func(*T) bool
}

func (n tableNormalizer[T]) Topic() schema.Topic { return n.topic }

func (n tableNormalizer[T]) Normalize(entry map[string]any) (schema.Payload, bool) {
	out := new(T)
	apply(out, entry, n.table)
	if n.filter != nil && !n.filter(out) {
		return nil, false
	}
	return n.build(out), true
}

// Account returns the account-balance normalizer.
func Account() Normalizer {
	return tableNormalizer[schema.AccountUpdate]{
		topic: schema.TopicAccount,
		table: accountFields,
		build: func(u *schema.AccountUpdate) schema.Payload { return u },
	}
}

// Position returns the position normalizer. Entries whose size resolves to
// exactly zero are skipped: a flat position carries no actionable update.
func Position() Normalizer {
	return tableNormalizer[schema.PositionUpdate]{
		topic:  schema.TopicPosition,
		table:  positionFields,
		build:  func(u *schema.PositionUpdate) schema.Payload { return u },
		filter: func(u *schema.PositionUpdate) bool { return !IsZeroSize(u.Size) },
	}
}

// Order returns the order normalizer.
func Order() Normalizer {
	return tableNormalizer[schema.OrderUpdate]{
		topic: schema.TopicOrder,
		table: orderFields,
		build: func(u *schema.OrderUpdate) schema.Payload { return u },
	}
}

// Fill returns the fill normalizer.
func Fill() Normalizer {
	return tableNormalizer[schema.FillUpdate]{
		topic: schema.TopicFill,
		table: fillFields,
		build: func(u *schema.FillUpdate) schema.Payload { return u },
	}
}

// Ticker returns the ticker normalizer.
func Ticker() Normalizer {
	return tableNormalizer[schema.TickerUpdate]{
		topic: schema.TopicTicker,
		table: tickerFields,
		build: func(u *schema.TickerUpdate) schema.Payload { return u },
	}
}

// Defaults returns one normalizer per supported topic.
func Defaults() []Normalizer {
	return []Normalizer{Account(), Position(), Order(), Fill(), Ticker()}
}

// IsZeroSize reports whether size parses as a decimal equal to zero. Absent or
// unparseable sizes are not zero, so they are surfaced rather than dropped.
func IsZeroSize(size *string) bool {
	if size == nil {
		return false
	}
	d, err := decimal.NewFromString(*size)
	if err != nil {
		return false
	}
	return d.IsZero()
}
