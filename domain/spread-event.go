package domain

import "github.com/shopspring/decimal"

// SpreadEvent reports a cross-venue price discrepancy for one symbol that
// exceeded the configured threshold. Emitted by analytics, never mutated.
type SpreadEvent struct {
	Type      EventKind       `json:"type"`
	Symbol    string          `json:"s"`
	Venues    []string        `json:"venues"`
	MinVenue  string          `json:"minVenue"`
	MinPrice  decimal.Decimal `json:"minPrice"`
	MaxVenue  string          `json:"maxVenue"`
	MaxPrice  decimal.Decimal `json:"maxPrice"`
	Spread    decimal.Decimal `json:"spread"`
	Timestamp int64           `json:"ts"`
}

func (e *SpreadEvent) EventType() EventKind { return KindSpread }
