package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"

	"main/internal/schema"
)

var ErrNoQuote = errors.New("marketdata: no quote for symbol")

// Cache holds the latest snapshot per symbol. Feeds update it, validators
// and the strategy scheduler read it.
type Cache struct {
	mu     sync.RWMutex
	quotes map[string]schema.MarketSnapshot

	// maxAge rejects snapshots too old to price against. Zero disables
	// the staleness check.
	maxAge time.Duration
	now    func() time.Time
}

// NewCache creates an empty cache.
func NewCache(maxAge time.Duration) *Cache {
	return &Cache{
		quotes: make(map[string]schema.MarketSnapshot),
		maxAge: maxAge,
		now:    time.Now,
	}
}

// Update stores the latest snapshot for its symbol.
func (c *Cache) Update(snapshot schema.MarketSnapshot) {
	if snapshot.Ts.IsZero() {
		snapshot.Ts = c.now()
	}
	c.mu.Lock()
	c.quotes[snapshot.Symbol] = snapshot
	c.mu.Unlock()
}

// Snapshot returns the latest quote for the symbol. Quotes past the age
// limit are treated as missing.
func (c *Cache) Snapshot(_ context.Context, symbol string) (schema.MarketSnapshot, error) {
	c.mu.RLock()
	snapshot, ok := c.quotes[symbol]
	c.mu.RUnlock()
	if !ok {
		return schema.MarketSnapshot{}, errors.Wrap(ErrNoQuote, symbol)
	}
	if c.maxAge > 0 && c.now().Sub(snapshot.Ts) > c.maxAge {
		return schema.MarketSnapshot{}, errors.Wrapf(ErrNoQuote, "%s quote stale", symbol)
	}
	return snapshot, nil
}
