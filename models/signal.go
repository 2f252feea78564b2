package models

import (
	"github.com/shopspring/decimal"
)

// Action is the requested effect of an inbound signal.
type Action string

const (
	ActionOpen  Action = "open"
	ActionClose Action = "close"
)

// Direction is the side of the market a signal wants exposure to.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// OrderType selects how the resulting order is priced.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// RawSignal mirrors the JSON body posted to the webhook endpoint. All
// fields except action and symbol are optional; defaults are applied
// during validation.
type RawSignal struct {
	Ts          int64   `json:"ts,omitempty"`
	Action      string  `json:"action"`
	Direction   string  `json:"direction,omitempty"`
	Symbol      string  `json:"symbol"`
	AmountQuote float64 `json:"amount_usdt,omitempty"`
	OrderType   string  `json:"order_type,omitempty"`
	LimitPrice  float64 `json:"limit_price,omitempty"`
	Leverage    int     `json:"leverage,omitempty"`
	ID          string  `json:"id,omitempty"`
	Note        string  `json:"note,omitempty"`
	// Key is the shared-secret fallback used when no signature header is
	// present. Never logged.
	Key string `json:"key,omitempty"`
}

// Signal is a validated, normalized inbound signal. Constructed once per
// request and immutable afterwards.
type Signal struct {
	Ts          int64
	Action      Action
	Direction   Direction
	Symbol      string
	AmountQuote decimal.Decimal
	OrderType   OrderType
	LimitPrice  decimal.Decimal
	Leverage    int
	ID          string
	Note        string
}

// ReplayKey identifies a signal for duplicate suppression: the explicit id
// when the sender supplied one, otherwise the millisecond timestamp.
func (s *Signal) ReplayKey() string {
	if s.ID != "" {
		return s.ID
	}
	return formatTs(s.Ts)
}

// Side maps the signal's direction to the exchange order side for an open.
func (s *Signal) Side() Side {
	if s.Direction == DirectionShort {
		return SideSell
	}
	return SideBuy
}
