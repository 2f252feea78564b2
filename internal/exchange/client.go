// Package exchange talks to the Bybit v5 unified trading API. It exposes a
// narrow interface the rest of the pipeline depends on, so tests and the
// simulated order backend can substitute the venue entirely.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"signalflow/models"
)

// PlaceOrderRequest carries every parameter of one order submission.
type PlaceOrderRequest struct {
	Symbol      string
	Side        models.Side
	OrderType   models.OrderType
	Quantity    decimal.Decimal
	Price       decimal.Decimal
	ReduceOnly  bool
	TimeInForce string
}

// Exchange is the remote venue as the pipeline sees it. Read-only calls
// (BestBidAsk, InstrumentRules, OpenPosition) are safe in every mode;
// SetLeverage and PlaceOrder mutate account state and are routed through
// the order backend seam so simulation can intercept them.
type Exchange interface {
	BestBidAsk(ctx context.Context, symbol string) (models.BestPrice, error)
	InstrumentRules(ctx context.Context, symbol string) (models.InstrumentRules, error)
	OpenPosition(ctx context.Context, symbol string) (models.Position, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (orderID string, err error)
}
