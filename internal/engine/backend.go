package engine

import (
	"context"
	"fmt"

	"signalflow/internal/exchange"
	"signalflow/logger"
)

// OrderBackend is the seam between deciding an order and placing it. The
// live backend forwards to the exchange; the simulated backend accepts
// everything locally so the full pipeline can run without touching the
// account.
type OrderBackend interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (orderID string, err error)
	Simulated() bool
}

// NewBackend selects the backend for the configured mode.
func NewBackend(ex exchange.Exchange, testMode bool) OrderBackend {
	if testMode {
		return &simulatedBackend{log: logger.GetLogger()}
	}
	return &liveBackend{ex: ex}
}

type liveBackend struct {
	ex exchange.Exchange
}

func (b *liveBackend) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return b.ex.SetLeverage(ctx, symbol, leverage)
}

func (b *liveBackend) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (string, error) {
	return b.ex.PlaceOrder(ctx, req)
}

func (b *liveBackend) Simulated() bool { return false }

type simulatedBackend struct {
	log *logger.Log
}

func (b *simulatedBackend) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	b.log.WithComponent("engine").WithFields(logger.Fields{
		"symbol":   symbol,
		"leverage": leverage,
	}).Info("simulated leverage change")
	return nil
}

func (b *simulatedBackend) PlaceOrder(ctx context.Context, req exchange.PlaceOrderRequest) (string, error) {
	id := simulatedOrderID(req)
	b.log.WithComponent("engine").WithFields(logger.Fields{
		"symbol":   req.Symbol,
		"side":     string(req.Side),
		"type":     string(req.OrderType),
		"quantity": req.Quantity.String(),
		"order_id": id,
	}).Info("simulated order accepted")
	return id, nil
}

func (b *simulatedBackend) Simulated() bool { return true }

// simulatedOrderID fabricates a stable identifier from the order itself so
// that repeated simulated placements of the same order carry the same id.
func simulatedOrderID(req exchange.PlaceOrderRequest) string {
	id := fmt.Sprintf("SIM-%s-%s-%s", req.Symbol, req.Side, req.Quantity.String())
	if !req.Price.IsZero() {
		id += "-" + req.Price.String()
	}
	return id
}
