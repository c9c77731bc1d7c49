package ingestion

import (
	"math/big"
	"sync"
	"time"

	fp "LendLedger/internal/math"
)

// PriceCache holds the latest oracle price per asset. It is the
// pool's price source: the NATS subscriber writes into it and the
// pool reads from it during collateral evaluation.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]priceEntry
	maxAge  time.Duration
	nowFn   func() time.Time
}

type priceEntry struct {
	price     *big.Int
	sequence  int64
	updatedAt time.Time
}

// NewPriceCache creates a cache. maxAge bounds how stale a price may
// be before PriceOf stops vending it; zero disables the check.
func NewPriceCache(maxAge time.Duration) *PriceCache {
	return &PriceCache{
		entries: make(map[string]priceEntry),
		maxAge:  maxAge,
		nowFn:   time.Now,
	}
}

// SetPrice records a price update. Updates with a sequence at or
// below the stored one are discarded so a redelivered message cannot
// roll a price backwards.
func (c *PriceCache) SetPrice(asset string, price *big.Int, sequence int64, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cur, ok := c.entries[asset]; ok && sequence <= cur.sequence {
		return false
	}
	c.entries[asset] = priceEntry{price: fp.Clone(price), sequence: sequence, updatedAt: at}
	return true
}

// PriceOf returns the current price, or false when the asset has no
// fresh quote.
func (c *PriceCache) PriceOf(asset string) (*big.Int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[asset]
	if !ok {
		return nil, false
	}
	if c.maxAge > 0 && c.nowFn().Sub(entry.updatedAt) > c.maxAge {
		return nil, false
	}
	return fp.Clone(entry.price), true
}

// Age returns how long ago the asset was last quoted.
func (c *PriceCache) Age(asset string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[asset]
	if !ok {
		return 0, false
	}
	return c.nowFn().Sub(entry.updatedAt), true
}
