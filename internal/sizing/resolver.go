// Package sizing turns a quote-currency budget into an exchange-acceptable
// order quantity, and aligns limit prices to the instrument's tick grid.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"signalflow/models"
)

// Error reason codes.
const (
	ReasonInvalidPrice     = "invalid_price"
	ReasonBelowMinNotional = "below_min_notional"
	ReasonInvalidRules     = "invalid_rules"
)

// Error reports why a quantity could not be resolved for an order.
type Error struct {
	Symbol string
	Reason string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("sizing %s: %s (%s)", e.Symbol, e.Reason, e.Detail)
}

// Quantity converts amountQuote at price into a base quantity floored to
// the instrument's lot grid. The floored quantity never spends more than
// amountQuote. Quantities below the exchange minimums are rejected rather
// than rounded up.
func Quantity(rules models.InstrumentRules, price, amountQuote decimal.Decimal) (decimal.Decimal, error) {
	if !rules.LotSize.IsPositive() {
		return decimal.Zero, &Error{Symbol: rules.Symbol, Reason: ReasonInvalidRules,
			Detail: fmt.Sprintf("lot size %s", rules.LotSize)}
	}
	if !price.IsPositive() {
		return decimal.Zero, &Error{Symbol: rules.Symbol, Reason: ReasonInvalidPrice,
			Detail: fmt.Sprintf("price %s", price)}
	}

	raw := amountQuote.Div(price)
	qty := floorToStep(raw, rules.LotSize)

	if qty.IsZero() || qty.LessThan(rules.MinQty) {
		return decimal.Zero, &Error{Symbol: rules.Symbol, Reason: ReasonBelowMinNotional,
			Detail: fmt.Sprintf("quantity %s below minimum %s", qty, rules.MinQty)}
	}
	if rules.MinNotional.IsPositive() {
		if notional := qty.Mul(price); notional.LessThan(rules.MinNotional) {
			return decimal.Zero, &Error{Symbol: rules.Symbol, Reason: ReasonBelowMinNotional,
				Detail: fmt.Sprintf("notional %s below minimum %s", notional, rules.MinNotional)}
		}
	}
	return qty, nil
}

// AlignPrice snaps a limit price onto the tick grid, rounding toward the
// passive side of the book: down for buys, up for sells. An aggressive
// rounding would cross the caller's stated limit.
func AlignPrice(rules models.InstrumentRules, price decimal.Decimal, side models.Side) (decimal.Decimal, error) {
	if !rules.TickSize.IsPositive() {
		return decimal.Zero, &Error{Symbol: rules.Symbol, Reason: ReasonInvalidRules,
			Detail: fmt.Sprintf("tick size %s", rules.TickSize)}
	}
	if !price.IsPositive() {
		return decimal.Zero, &Error{Symbol: rules.Symbol, Reason: ReasonInvalidPrice,
			Detail: fmt.Sprintf("price %s", price)}
	}

	ticks := price.Div(rules.TickSize)
	if side == models.SideBuy {
		ticks = ticks.Floor()
	} else {
		ticks = ticks.Ceil()
	}
	aligned := ticks.Mul(rules.TickSize)
	if !aligned.IsPositive() {
		return decimal.Zero, &Error{Symbol: rules.Symbol, Reason: ReasonInvalidPrice,
			Detail: fmt.Sprintf("price %s collapses to zero on tick %s", price, rules.TickSize)}
	}
	return aligned, nil
}

func floorToStep(v, step decimal.Decimal) decimal.Decimal {
	return v.Div(step).Floor().Mul(step)
}
