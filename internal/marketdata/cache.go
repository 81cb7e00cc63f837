package marketdata

import (
	"strings"
	"sync"
	"time"

	"dex-copy-engine/internal/domain"
)

// PriceCache holds the last streamed price per (token, chain).
// Entries older than ttl are treated as missing.
type PriceCache struct {
	mu      sync.RWMutex
	entries map[string]cachedPrice
	ttl     time.Duration
	now     func() time.Time
}

type cachedPrice struct {
	price float64
	at    time.Time
}

// NewPriceCache creates a cache. ttl <= 0 keeps entries forever.
func NewPriceCache(ttl time.Duration) *PriceCache {
	return &PriceCache{
		entries: make(map[string]cachedPrice),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Set stores a price. Non-positive prices are ignored.
func (c *PriceCache) Set(token, chain string, price float64) {
	if price <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(token, chain)] = cachedPrice{price: price, at: c.now()}
}

// Get returns a fresh price.
func (c *PriceCache) Get(token, chain string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[cacheKey(token, chain)]
	if !ok {
		return 0, false
	}
	if c.ttl > 0 && c.now().Sub(e.at) > c.ttl {
		return 0, false
	}
	return e.price, true
}

// Len returns the number of cached entries, stale ones included.
func (c *PriceCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Contract addresses are keyed as-is, symbols after normalization.
func cacheKey(token, chain string) string {
	if strings.HasPrefix(token, "0x") || strings.HasPrefix(token, "0X") {
		return strings.ToLower(chain) + ":" + strings.ToLower(token)
	}
	return domain.TokenKey(token, chain)
}
