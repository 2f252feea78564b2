// Package engine executes validated signals against the exchange: it sizes
// the order, applies leverage, places it under the retry policy, and
// produces one terminal result per signal.
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"signalflow/internal/exchange"
	"signalflow/internal/metadata"
	"signalflow/internal/sizing"
	"signalflow/logger"
	"signalflow/models"
)

// Reader is the subset of exchange calls the engine performs directly.
// Order placement and leverage changes go through the OrderBackend instead.
type Reader interface {
	BestBidAsk(ctx context.Context, symbol string) (models.BestPrice, error)
	OpenPosition(ctx context.Context, symbol string) (models.Position, error)
}

// Engine drives one signal from validated input to a terminal status.
type Engine struct {
	reader  Reader
	backend OrderBackend
	meta    *metadata.Cache
	retry   Policy
	log     *logger.Log
}

func New(reader Reader, backend OrderBackend, meta *metadata.Cache, retry Policy) *Engine {
	return &Engine{
		reader:  reader,
		backend: backend,
		meta:    meta,
		retry:   retry,
		log:     logger.GetLogger(),
	}
}

// Execute runs the signal to completion and always returns a result. The
// status distinguishes rejected signals (the input or market state made
// the order impossible) from failed ones (the exchange could not be made
// to accept a legal order).
func (e *Engine) Execute(ctx context.Context, sig *models.Signal) models.ExecutionResult {
	var res models.ExecutionResult
	switch sig.Action {
	case models.ActionClose:
		res = e.executeClose(ctx, sig)
	default:
		res = e.executeOpen(ctx, sig)
	}

	switch res.Status {
	case models.StatusFilled:
		logger.IncrementOrderPlaced()
	case models.StatusSimulated:
		logger.IncrementOrderSimulated()
	case models.StatusFailed:
		logger.IncrementOrderFailed()
	}
	return res
}

func (e *Engine) executeOpen(ctx context.Context, sig *models.Signal) models.ExecutionResult {
	rules, err := e.meta.Get(ctx, sig.Symbol)
	if err != nil {
		return failed(err)
	}

	side := sig.Side()
	price, limitPrice, res := e.resolvePrice(ctx, sig, rules, side)
	if res != nil {
		return *res
	}

	qty, err := sizing.Quantity(rules, price, sig.AmountQuote)
	if err != nil {
		return rejected(err)
	}

	if sig.Leverage > 0 {
		e.applyLeverage(ctx, sig.Symbol, sig.Leverage)
	}

	order := exchange.PlaceOrderRequest{
		Symbol:    sig.Symbol,
		Side:      side,
		OrderType: sig.OrderType,
		Quantity:  qty,
		Price:     limitPrice,
	}
	return e.place(ctx, order, sig)
}

func (e *Engine) executeClose(ctx context.Context, sig *models.Signal) models.ExecutionResult {
	pos, err := e.reader.OpenPosition(ctx, sig.Symbol)
	if err != nil {
		return failed(err)
	}
	if pos.Size.IsZero() {
		return models.ExecutionResult{
			Status: models.StatusRejected,
			Detail: fmt.Sprintf("no open position for %s", sig.Symbol),
		}
	}

	order := exchange.PlaceOrderRequest{
		Symbol:     sig.Symbol,
		Side:       pos.Side.Opposite(),
		OrderType:  models.OrderTypeMarket,
		Quantity:   pos.Size,
		ReduceOnly: true,
	}
	return e.place(ctx, order, sig)
}

// resolvePrice picks the price quantity resolution is based on: the
// side-appropriate top of book for market orders, the tick-aligned limit
// for limit orders. A non-nil result short-circuits the open flow.
func (e *Engine) resolvePrice(ctx context.Context, sig *models.Signal, rules models.InstrumentRules, side models.Side) (price, limitPrice decimal.Decimal, res *models.ExecutionResult) {
	if sig.OrderType == models.OrderTypeLimit {
		aligned, err := sizing.AlignPrice(rules, sig.LimitPrice, side)
		if err != nil {
			r := rejected(err)
			return decimal.Zero, decimal.Zero, &r
		}
		return aligned, aligned, nil
	}

	best, err := e.reader.BestBidAsk(ctx, sig.Symbol)
	if err != nil {
		r := failed(err)
		return decimal.Zero, decimal.Zero, &r
	}
	p := best.ForSide(side)
	if !p.IsPositive() {
		r := models.ExecutionResult{
			Status: models.StatusFailed,
			Detail: fmt.Sprintf("no market price available for %s", sig.Symbol),
		}
		return decimal.Zero, decimal.Zero, &r
	}
	return p, decimal.Zero, nil
}

// applyLeverage is best effort. A wrong leverage changes position sizing
// economics but does not make the order illegal, so a failure here is
// logged and the order proceeds.
func (e *Engine) applyLeverage(ctx context.Context, symbol string, leverage int) {
	err := e.retry.Do(ctx, "set_leverage", func() error {
		return e.backend.SetLeverage(ctx, symbol, leverage)
	})
	if err != nil {
		e.log.WithComponent("engine").WithError(err).WithFields(logger.Fields{
			"symbol":   symbol,
			"leverage": leverage,
		}).Warn("leverage change failed, placing order anyway")
	}
}

func (e *Engine) place(ctx context.Context, order exchange.PlaceOrderRequest, sig *models.Signal) models.ExecutionResult {
	var orderID string
	err := e.retry.Do(ctx, "place_order", func() error {
		var perr error
		orderID, perr = e.backend.PlaceOrder(ctx, order)
		return perr
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.ExecutionResult{
				Status: models.StatusFailed,
				Detail: fmt.Sprintf("order for %s abandoned: %v", order.Symbol, err),
			}
		}
		// A permanent refusal (bad parameter, insufficient balance) means the
		// request was understood and turned down. Only exhausted transient
		// failures count as the system failing.
		if apiErr := (*exchange.APIError)(nil); errors.As(err, &apiErr) && !apiErr.Transient {
			return rejected(err)
		}
		return failed(err)
	}

	status := models.StatusFilled
	if e.backend.Simulated() {
		status = models.StatusSimulated
	}
	e.log.WithComponent("engine").WithFields(logger.Fields{
		"symbol":   order.Symbol,
		"side":     string(order.Side),
		"type":     string(order.OrderType),
		"quantity": order.Quantity.String(),
		"order_id": orderID,
		"status":   string(status),
		"note":     sig.Note,
	}).Info("order complete")

	return models.ExecutionResult{Status: status, ExchangeOrderID: orderID}
}

func failed(err error) models.ExecutionResult {
	return models.ExecutionResult{Status: models.StatusFailed, Detail: err.Error()}
}

func rejected(err error) models.ExecutionResult {
	return models.ExecutionResult{Status: models.StatusRejected, Detail: err.Error()}
}
