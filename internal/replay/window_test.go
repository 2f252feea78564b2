package replay

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestCheckAndRecordDuplicate(t *testing.T) {
	w := NewWindow(16, 5*time.Minute)

	if !w.CheckAndRecord("BTCUSDT", "1696500000000", 1696500000000) {
		t.Fatal("first signal rejected")
	}
	if w.CheckAndRecord("BTCUSDT", "1696500000000", 1696500000000) {
		t.Fatal("duplicate signal accepted")
	}
	// Same key on a different symbol is independent.
	if !w.CheckAndRecord("ETHUSDT", "1696500000000", 1696500000000) {
		t.Fatal("same key on other symbol rejected")
	}
}

func TestCheckAndRecordOutOfOrder(t *testing.T) {
	w := NewWindow(16, time.Minute)
	base := int64(1696500000000)

	if !w.CheckAndRecord("BTCUSDT", fmt.Sprint(base), base) {
		t.Fatal("first signal rejected")
	}
	// Within the skew allowance older signals still pass.
	if !w.CheckAndRecord("BTCUSDT", fmt.Sprint(base-30_000), base-30_000) {
		t.Fatal("signal within skew rejected")
	}
	// Beyond the allowance they are replays.
	if w.CheckAndRecord("BTCUSDT", fmt.Sprint(base-61_000), base-61_000) {
		t.Fatal("stale signal accepted")
	}
}

func TestEvictionOldestFirst(t *testing.T) {
	w := NewWindow(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !w.CheckAndRecord("BTCUSDT", fmt.Sprint(i), 0) {
			t.Fatalf("entry %d rejected", i)
		}
	}
	if !w.CheckAndRecord("BTCUSDT", "3", 0) {
		t.Fatal("entry over capacity rejected")
	}
	if w.Len() != 3 {
		t.Fatalf("window grew past capacity: %d", w.Len())
	}
	// Key "0" was evicted, so it is no longer seen as a duplicate.
	if !w.CheckAndRecord("BTCUSDT", "0", 0) {
		t.Fatal("evicted key still treated as duplicate")
	}
	// Key "2" is still present.
	if w.CheckAndRecord("BTCUSDT", "2", 0) {
		t.Fatal("retained key accepted twice")
	}
}

func TestConcurrentDuplicatesSingleWinner(t *testing.T) {
	w := NewWindow(64, time.Minute)

	const workers = 32
	var wg sync.WaitGroup
	accepted := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.CheckAndRecord("BTCUSDT", "same", 1696500000000) {
				accepted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(accepted)

	n := 0
	for range accepted {
		n++
	}
	if n != 1 {
		t.Fatalf("expected exactly one acceptance, got %d", n)
	}
}
