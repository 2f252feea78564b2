package exchange

import (
	"errors"
	"fmt"
	"testing"
)

func TestRetCodeClassification(t *testing.T) {
	cases := []struct {
		code      int
		transient bool
	}{
		{10006, true},   // rate limited
		{10016, true},   // server error
		{10018, true},   // ip rate limit
		{10001, false},  // parameter error
		{110007, false}, // insufficient balance
		{110043, false}, // leverage not modified
	}
	for _, c := range cases {
		err := newRetCodeError("order-create", c.code, "msg")
		if err.Transient != c.transient {
			t.Errorf("retCode %d: transient=%v, want %v", c.code, err.Transient, c.transient)
		}
		if IsTransient(err) != c.transient {
			t.Errorf("retCode %d: IsTransient disagrees", c.code)
		}
	}
}

func TestTransportErrorIsTransient(t *testing.T) {
	err := newTransportError("orderbook", errors.New("connection reset"))
	if !IsTransient(err) {
		t.Fatal("transport errors must be retryable")
	}
}

func TestIsTransientWrappedAndForeign(t *testing.T) {
	inner := newRetCodeError("tickers", 10006, "too many visits")
	wrapped := fmt.Errorf("price lookup: %w", inner)
	if !IsTransient(wrapped) {
		t.Fatal("wrapped transient error not recognized")
	}
	if IsTransient(errors.New("some other failure")) {
		t.Fatal("foreign errors must not be treated as transient")
	}
}

func TestAPIErrorMessage(t *testing.T) {
	withCode := newRetCodeError("order-create", 110007, "ab not enough for new order")
	if got := withCode.Error(); got != "bybit order-create: retCode=110007 ab not enough for new order" {
		t.Errorf("unexpected message: %s", got)
	}
	withoutCode := newTransportError("orderbook", errors.New("timeout"))
	if got := withoutCode.Error(); got != "bybit orderbook: timeout" {
		t.Errorf("unexpected message: %s", got)
	}
}
