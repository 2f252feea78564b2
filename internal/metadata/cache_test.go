package metadata

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"signalflow/models"
)

type fakeSource struct {
	mu    sync.Mutex
	calls int32
	err   error
	delay time.Duration
}

func (f *fakeSource) InstrumentRules(ctx context.Context, symbol string) (models.InstrumentRules, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return models.InstrumentRules{}, err
	}
	return models.InstrumentRules{
		Symbol:    symbol,
		TickSize:  decimal.RequireFromString("0.1"),
		LotSize:   decimal.RequireFromString("0.001"),
		MinQty:    decimal.RequireFromString("0.001"),
		FetchedAt: time.Now(),
	}, nil
}

func (f *fakeSource) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSource) callCount() int32 { return atomic.LoadInt32(&f.calls) }

func TestCacheServesFreshWithoutRefetch(t *testing.T) {
	src := &fakeSource{}
	c := NewCache(src, time.Minute, time.Hour)

	for i := 0; i < 3; i++ {
		rules, err := c.Get(context.Background(), "BTCUSDT")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rules.Symbol != "BTCUSDT" {
			t.Fatalf("unexpected symbol %q", rules.Symbol)
		}
	}
	if got := src.callCount(); got != 1 {
		t.Fatalf("expected 1 source call, got %d", got)
	}
}

func TestCacheRefreshesExpiredEntry(t *testing.T) {
	src := &fakeSource{}
	c := NewCache(src, time.Minute, time.Hour)

	if _, err := c.Get(context.Background(), "ETHUSDT"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := c.Get(context.Background(), "ETHUSDT"); err != nil {
		t.Fatalf("Get after expiry: %v", err)
	}
	if got := src.callCount(); got != 2 {
		t.Fatalf("expected 2 source calls, got %d", got)
	}
}

func TestCacheServesStaleOnRefreshFailure(t *testing.T) {
	src := &fakeSource{}
	c := NewCache(src, time.Minute, time.Hour)

	if _, err := c.Get(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	src.setErr(errors.New("exchange down"))
	c.now = func() time.Time { return time.Now().Add(5 * time.Minute) }

	rules, err := c.Get(context.Background(), "BTCUSDT")
	if err != nil {
		t.Fatalf("expected stale rules, got error: %v", err)
	}
	if rules.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected symbol %q", rules.Symbol)
	}
}

func TestCacheFailsBeyondHardCeiling(t *testing.T) {
	src := &fakeSource{}
	c := NewCache(src, time.Minute, 10*time.Minute)

	if _, err := c.Get(context.Background(), "BTCUSDT"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	cause := errors.New("exchange down")
	src.setErr(cause)
	c.now = func() time.Time { return time.Now().Add(time.Hour) }

	_, err := c.Get(context.Background(), "BTCUSDT")
	if err == nil {
		t.Fatal("expected error past hard ceiling")
	}
	var me *Error
	if !errors.As(err, &me) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if me.Symbol != "BTCUSDT" || !errors.Is(err, cause) {
		t.Fatalf("unexpected error contents: %+v", me)
	}
}

func TestCacheSingleFlightPerSymbol(t *testing.T) {
	src := &fakeSource{delay: 50 * time.Millisecond}
	c := NewCache(src, time.Minute, time.Hour)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), "BTCUSDT"); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := src.callCount(); got != 1 {
		t.Fatalf("expected a single refresh, got %d", got)
	}
}
