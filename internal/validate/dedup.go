package validate

import (
	"context"
	"strings"
	"sync"
	"time"

	"main/internal/schema"
	"main/pkg/conn"
)

// DedupStore remembers recently accepted intents so retry storms cannot
// create duplicate broker submissions.
type DedupStore interface {
	// Register records the key and reports whether it was already present
	// inside the window.
	Register(ctx context.Context, key string, window time.Duration) (seen bool, err error)
}

// DedupKey canonicalizes the fields that make two intents "the same order":
// portfolio, symbol, side, quantity and price.
func DedupKey(intent schema.OrderIntent) string {
	var b strings.Builder
	b.WriteString("dedup:")
	b.WriteString(intent.PortfolioID)
	b.WriteByte('|')
	b.WriteString(intent.Symbol)
	b.WriteByte('|')
	b.WriteString(string(intent.Side))
	b.WriteByte('|')
	b.WriteString(intent.Quantity.String())
	b.WriteByte('|')
	b.WriteString(intent.LimitPrice.String())
	return b.String()
}

// RedisDedup backs the duplicate window with Redis SETNX + TTL so the window
// survives service restarts and is shared across replicas.
type RedisDedup struct {
	client *conn.RedisClient
}

// NewRedisDedup creates a Redis-backed dedup store.
func NewRedisDedup(client *conn.RedisClient) *RedisDedup {
	return &RedisDedup{client: client}
}

// Register implements DedupStore.
func (d *RedisDedup) Register(ctx context.Context, key string, window time.Duration) (bool, error) {
	set, err := d.client.SetNX(ctx, key, 1, window)
	if err != nil {
		return false, err
	}
	return !set, nil
}

// MemoryDedup is the in-process fallback used in tests and when Redis is
// not configured.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

// NewMemoryDedup creates an in-memory dedup store.
func NewMemoryDedup() *MemoryDedup {
	return &MemoryDedup{
		seen: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Register implements DedupStore.
func (d *MemoryDedup) Register(_ context.Context, key string, window time.Duration) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if at, ok := d.seen[key]; ok && now.Sub(at) < window {
		return true, nil
	}
	for k, at := range d.seen {
		if now.Sub(at) >= window {
			delete(d.seen, k)
		}
	}
	d.seen[key] = now
	return false, nil
}
