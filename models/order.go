package models

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// Side is the exchange-facing order side.
type Side string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

// Opposite returns the closing side for a position held on this side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Status is the terminal outcome of one signal's pipeline run.
type Status string

const (
	StatusFilled    Status = "FILLED"
	StatusSimulated Status = "SIMULATED"
	StatusRejected  Status = "REJECTED"
	StatusFailed    Status = "FAILED"
)

// ExecutionResult is produced once per signal and reported both to the
// HTTP caller and to the notifier.
type ExecutionResult struct {
	Status          Status `json:"status"`
	ExchangeOrderID string `json:"order_id,omitempty"`
	Detail          string `json:"detail,omitempty"`
}

// Position is the open position reported by the exchange for one symbol.
// Size is zero when the symbol is flat.
type Position struct {
	Symbol string
	Side   Side
	Size   decimal.Decimal
}

func formatTs(ts int64) string {
	return strconv.FormatInt(ts, 10)
}
