// Package metadata caches per-symbol instrument rules fetched from the
// exchange. Rules change rarely; the cache refreshes them lazily under a
// TTL and keeps serving the last-known values for a bounded grace period
// when the exchange is unreachable.
package metadata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"signalflow/logger"
	"signalflow/models"
)

// RulesSource is the single exchange call the cache depends on.
type RulesSource interface {
	InstrumentRules(ctx context.Context, symbol string) (models.InstrumentRules, error)
}

// Error reports that usable rules could not be produced for a symbol.
type Error struct {
	Symbol string
	Cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("instrument rules for %s unavailable: %v", e.Symbol, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

type entry struct {
	// mu serializes refreshes for one symbol. Concurrent callers for the
	// same symbol queue here and reuse the winner's result; callers for
	// other symbols are unaffected.
	mu    sync.Mutex
	rules models.InstrumentRules
	valid bool
}

// Cache is safe for concurrent use by all signal handlers.
type Cache struct {
	source  RulesSource
	ttl     time.Duration
	hardTTL time.Duration

	mu      sync.Mutex
	entries map[string]*entry

	log *logger.Log
	now func() time.Time
}

// NewCache builds a cache over source. ttl is the staleness bound after
// which a refresh is attempted; hardTTL is the ceiling past which stale
// rules are no longer acceptable even when the refresh fails.
func NewCache(source RulesSource, ttl, hardTTL time.Duration) *Cache {
	return &Cache{
		source:  source,
		ttl:     ttl,
		hardTTL: hardTTL,
		entries: make(map[string]*entry),
		log:     logger.GetLogger(),
		now:     time.Now,
	}
}

// Get returns current rules for symbol, refreshing them when absent or
// older than the TTL. On refresh failure the last-known rules are served
// while they remain inside the hard ceiling.
func (c *Cache) Get(ctx context.Context, symbol string) (models.InstrumentRules, error) {
	e := c.entryFor(symbol)

	e.mu.Lock()
	defer e.mu.Unlock()

	now := c.now()
	if e.valid && e.rules.Age(now) <= c.ttl {
		return e.rules, nil
	}

	rules, err := c.source.InstrumentRules(ctx, symbol)
	if err == nil {
		e.rules = rules
		e.valid = true
		c.log.WithComponent("metadata").WithFields(logger.Fields{
			"symbol":   symbol,
			"lot_size": rules.LotSize.String(),
			"tick":     rules.TickSize.String(),
		}).Debug("instrument rules refreshed")
		return e.rules, nil
	}

	if e.valid && e.rules.Age(now) <= c.hardTTL {
		c.log.WithComponent("metadata").WithError(err).WithFields(logger.Fields{
			"symbol": symbol,
			"age":    e.rules.Age(now).String(),
		}).Warn("refresh failed, serving stale instrument rules")
		return e.rules, nil
	}

	return models.InstrumentRules{}, &Error{Symbol: symbol, Cause: err}
}

func (c *Cache) entryFor(symbol string) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[symbol]
	if !ok {
		e = &entry{}
		c.entries[symbol] = e
	}
	return e
}
