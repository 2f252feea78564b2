package sizing

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signalflow/models"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func btcRules() models.InstrumentRules {
	return models.InstrumentRules{
		Symbol:      "BTCUSDT",
		TickSize:    dec("0.1"),
		LotSize:     dec("0.001"),
		MinQty:      dec("0.001"),
		MinNotional: dec("5"),
		FetchedAt:   time.Now(),
	}
}

func TestQuantityFloorsToLot(t *testing.T) {
	tests := []struct {
		name   string
		price  string
		amount string
		want   string
	}{
		{"exact multiple", "50000", "100", "0.002"},
		{"floors remainder", "50000", "123", "0.002"},
		{"large budget", "50000", "1000", "0.02"},
		{"coarse lot", "30000", "95", "0.003"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qty, err := Quantity(btcRules(), dec(tt.price), dec(tt.amount))
			if err != nil {
				t.Fatalf("Quantity: %v", err)
			}
			if !qty.Equal(dec(tt.want)) {
				t.Fatalf("quantity = %s, want %s", qty, tt.want)
			}
		})
	}
}

func TestQuantityNeverOverspends(t *testing.T) {
	price := dec("41357.3")
	amount := dec("250")
	qty, err := Quantity(btcRules(), price, amount)
	if err != nil {
		t.Fatalf("Quantity: %v", err)
	}
	if qty.Mul(price).GreaterThan(amount) {
		t.Fatalf("spend %s exceeds budget %s", qty.Mul(price), amount)
	}
}

func TestQuantityRejections(t *testing.T) {
	tests := []struct {
		name   string
		rules  models.InstrumentRules
		price  string
		amount string
		reason string
	}{
		{"zero price", btcRules(), "0", "100", ReasonInvalidPrice},
		{"negative price", btcRules(), "-10", "100", ReasonInvalidPrice},
		{"budget below one lot", btcRules(), "50000", "10", ReasonBelowMinNotional},
		{"below min notional", btcRules(), "1000", "4.5", ReasonBelowMinNotional},
		{"zero lot size", models.InstrumentRules{Symbol: "X"}, "100", "100", ReasonInvalidRules},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Quantity(tt.rules, dec(tt.price), dec(tt.amount))
			var se *Error
			if !errors.As(err, &se) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if se.Reason != tt.reason {
				t.Fatalf("reason = %q, want %q", se.Reason, tt.reason)
			}
		})
	}
}

func TestAlignPriceRoundsAwayFromCrossing(t *testing.T) {
	rules := btcRules()

	buy, err := AlignPrice(rules, dec("50000.17"), models.SideBuy)
	if err != nil {
		t.Fatalf("AlignPrice buy: %v", err)
	}
	if !buy.Equal(dec("50000.1")) {
		t.Fatalf("buy aligned = %s, want 50000.1", buy)
	}

	sell, err := AlignPrice(rules, dec("50000.17"), models.SideSell)
	if err != nil {
		t.Fatalf("AlignPrice sell: %v", err)
	}
	if !sell.Equal(dec("50000.2")) {
		t.Fatalf("sell aligned = %s, want 50000.2", sell)
	}
}

func TestAlignPriceOnGridUnchanged(t *testing.T) {
	for _, side := range []models.Side{models.SideBuy, models.SideSell} {
		got, err := AlignPrice(btcRules(), dec("50000.5"), side)
		if err != nil {
			t.Fatalf("AlignPrice: %v", err)
		}
		if !got.Equal(dec("50000.5")) {
			t.Fatalf("aligned = %s, want 50000.5", got)
		}
	}
}
