// Package validate turns an authenticated raw payload into a normalized
// signal, applying defaults and rejecting anything the exchange pipeline
// must not see. It also owns the replay check: a signal is recorded in the
// replay window before the validator returns it, so no downstream stage
// ever runs twice for the same signal.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"signalflow/config"
	"signalflow/internal/replay"
	"signalflow/models"
)

// Reason constants surfaced in validation errors.
const (
	ReasonMissing     = "missing"
	ReasonInvalid     = "invalid"
	ReasonOutOfBounds = "out_of_bounds"
	ReasonReplayed    = "replayed"
)

// Error reports which payload field failed validation and why.
type Error struct {
	Field  string
	Reason string
	Detail string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("invalid field %s (%s): %s", e.Field, e.Reason, e.Detail)
	}
	return fmt.Sprintf("invalid field %s: %s", e.Field, e.Reason)
}

// Validator parses and validates inbound payloads against the configured
// trading defaults and the shared replay window.
type Validator struct {
	trading config.TradingConfig
	window  *replay.Window
}

func New(trading config.TradingConfig, window *replay.Window) *Validator {
	return &Validator{trading: trading, window: window}
}

// Parse decodes the raw JSON body into a Signal, applies defaults, and
// records the signal in the replay window. On any failure it returns an
// *Error naming the offending field; the signal must then be rejected
// without reaching the execution engine.
func (v *Validator) Parse(rawBody []byte) (*models.Signal, error) {
	var raw models.RawSignal
	if err := json.Unmarshal(rawBody, &raw); err != nil {
		return nil, &Error{Field: "body", Reason: ReasonInvalid, Detail: "malformed JSON"}
	}

	if raw.Action == "" {
		return nil, &Error{Field: "action", Reason: ReasonMissing}
	}
	if raw.Symbol == "" {
		return nil, &Error{Field: "symbol", Reason: ReasonMissing}
	}

	sig := &models.Signal{
		Ts:     raw.Ts,
		Symbol: strings.ToUpper(strings.TrimSpace(raw.Symbol)),
		ID:     raw.ID,
		Note:   raw.Note,
	}

	switch models.Action(strings.ToLower(raw.Action)) {
	case models.ActionOpen:
		sig.Action = models.ActionOpen
	case models.ActionClose:
		sig.Action = models.ActionClose
	default:
		return nil, &Error{Field: "action", Reason: ReasonInvalid, Detail: raw.Action}
	}

	switch models.Direction(strings.ToLower(raw.Direction)) {
	case models.DirectionLong, "":
		sig.Direction = models.DirectionLong
	case models.DirectionShort:
		sig.Direction = models.DirectionShort
	default:
		return nil, &Error{Field: "direction", Reason: ReasonInvalid, Detail: raw.Direction}
	}

	orderType := strings.ToLower(raw.OrderType)
	if orderType == "" {
		orderType = v.trading.DefaultOrderType
	}
	switch models.OrderType(orderType) {
	case models.OrderTypeMarket:
		sig.OrderType = models.OrderTypeMarket
	case models.OrderTypeLimit:
		sig.OrderType = models.OrderTypeLimit
	default:
		return nil, &Error{Field: "order_type", Reason: ReasonInvalid, Detail: raw.OrderType}
	}

	if raw.Ts < 0 {
		return nil, &Error{Field: "ts", Reason: ReasonInvalid}
	}

	if sig.OrderType == models.OrderTypeLimit {
		if raw.LimitPrice <= 0 {
			return nil, &Error{Field: "limit_price", Reason: ReasonMissing, Detail: "required for limit orders"}
		}
		sig.LimitPrice = decimal.NewFromFloat(raw.LimitPrice)
	} else if raw.LimitPrice != 0 {
		return nil, &Error{Field: "limit_price", Reason: ReasonInvalid, Detail: "only valid for limit orders"}
	}

	if raw.Leverage < 0 {
		return nil, &Error{Field: "leverage", Reason: ReasonInvalid}
	}
	sig.Leverage = raw.Leverage
	if sig.Leverage == 0 {
		sig.Leverage = v.trading.DefaultLeverage
	}

	if sig.Action == models.ActionOpen {
		amount := raw.AmountQuote
		if amount == 0 {
			amount = v.trading.DefaultAmountQuote
		}
		if amount <= 0 {
			return nil, &Error{Field: "amount_usdt", Reason: ReasonInvalid}
		}
		if v.trading.MinOrderQuote > 0 && amount < v.trading.MinOrderQuote {
			return nil, &Error{
				Field:  "amount_usdt",
				Reason: ReasonOutOfBounds,
				Detail: fmt.Sprintf("below minimum %v", v.trading.MinOrderQuote),
			}
		}
		if v.trading.MaxOrderQuote > 0 && amount > v.trading.MaxOrderQuote {
			return nil, &Error{
				Field:  "amount_usdt",
				Reason: ReasonOutOfBounds,
				Detail: fmt.Sprintf("above maximum %v", v.trading.MaxOrderQuote),
			}
		}
		sig.AmountQuote = decimal.NewFromFloat(amount)
	}

	// Replay suppression. Signals without an id or timestamp carry no
	// identity to dedupe on and are passed through.
	if sig.ID != "" || sig.Ts > 0 {
		if !v.window.CheckAndRecord(sig.Symbol, sig.ReplayKey(), sig.Ts) {
			return nil, &Error{Field: "ts", Reason: ReasonReplayed}
		}
	}

	return sig, nil
}
