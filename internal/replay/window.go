// Package replay suppresses duplicate and out-of-order signals. The window
// is process-lifetime, in-memory state shared by all signal handlers; it is
// injectable so tests and a future persistent store can swap it out.
package replay

import (
	"sync"
	"time"
)

type entryKey struct {
	symbol string
	key    string
}

// Window records recently accepted signals keyed by (symbol, id-or-ts).
// Size is bounded; when full, the oldest recorded entry is evicted first.
// All methods are safe for concurrent use.
type Window struct {
	mu         sync.Mutex
	maxEntries int
	skew       time.Duration
	entries    map[entryKey]struct{}
	order      []entryKey
	// newest tracks the highest accepted signal timestamp per symbol so
	// late arrivals beyond the skew allowance can be refused even after
	// their exact key was evicted.
	newest map[string]int64
}

// NewWindow creates a window holding at most maxEntries accepted keys.
// skew is the same clock allowance the authenticator uses; a signal older
// than the newest accepted timestamp for its symbol minus skew is treated
// as replayed.
func NewWindow(maxEntries int, skew time.Duration) *Window {
	return &Window{
		maxEntries: maxEntries,
		skew:       skew,
		entries:    make(map[entryKey]struct{}, maxEntries),
		newest:     make(map[string]int64),
	}
}

// CheckAndRecord atomically tests whether a signal is fresh and, if so,
// records it before returning. The single critical section prevents two
// concurrent duplicates from both passing the check. Returns false when the
// signal must be rejected as replayed.
func (w *Window) CheckAndRecord(symbol, key string, ts int64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	k := entryKey{symbol: symbol, key: key}
	if _, dup := w.entries[k]; dup {
		return false
	}

	if newest, ok := w.newest[symbol]; ok && ts > 0 {
		if ts < newest-w.skew.Milliseconds() {
			return false
		}
	}

	if len(w.order) >= w.maxEntries {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.entries, oldest)
	}

	w.entries[k] = struct{}{}
	w.order = append(w.order, k)
	if ts > w.newest[symbol] {
		w.newest[symbol] = ts
	}
	return true
}

// Len reports the number of recorded entries.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
