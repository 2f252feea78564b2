package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentRules holds the per-symbol trading filters the exchange
// enforces on order parameters. Owned by the metadata cache; a rule set
// older than the configured TTL must be refreshed before use.
type InstrumentRules struct {
	Symbol      string
	TickSize    decimal.Decimal
	LotSize     decimal.Decimal
	MinQty      decimal.Decimal
	MinNotional decimal.Decimal
	FetchedAt   time.Time
}

// Age reports how long ago the rules were fetched.
func (r *InstrumentRules) Age(now time.Time) time.Duration {
	return now.Sub(r.FetchedAt)
}

// BestPrice is a best bid/ask pair for one symbol.
type BestPrice struct {
	Symbol string
	Bid    decimal.Decimal
	Ask    decimal.Decimal
}

// ForSide returns the price relevant for an order on the given side: the
// ask for buys, the bid for sells. Falls back to the other side when one
// half of the book is empty.
func (p BestPrice) ForSide(side Side) decimal.Decimal {
	if side == SideBuy {
		if p.Ask.IsPositive() {
			return p.Ask
		}
		return p.Bid
	}
	if p.Bid.IsPositive() {
		return p.Bid
	}
	return p.Ask
}
