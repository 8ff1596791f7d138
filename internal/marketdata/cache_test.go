package marketdata

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/schema"
)

func TestCacheReturnsLatestQuote(t *testing.T) {
	c := NewCache(0)
	c.Update(schema.MarketSnapshot{Symbol: "AAPL", BidPrice: decimal.NewFromInt(99)})
	c.Update(schema.MarketSnapshot{Symbol: "AAPL", BidPrice: decimal.NewFromInt(100)})

	snapshot, err := c.Snapshot(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snapshot.BidPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("bid mismatch! should be 100 but got %s", snapshot.BidPrice)
	}
	if snapshot.Ts.IsZero() {
		t.Fatal("cache should stamp unstamped quotes")
	}
}

func TestCacheMissingSymbol(t *testing.T) {
	c := NewCache(0)
	if _, err := c.Snapshot(context.Background(), "NOPE"); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("missing symbol should report ErrNoQuote, got %v", err)
	}
}

func TestCacheRejectsStaleQuotes(t *testing.T) {
	c := NewCache(time.Second)
	now := time.Now()
	c.now = func() time.Time { return now }
	c.Update(schema.MarketSnapshot{Symbol: "AAPL", BidPrice: decimal.NewFromInt(100)})

	if _, err := c.Snapshot(context.Background(), "AAPL"); err != nil {
		t.Fatalf("fresh quote should serve: %v", err)
	}

	now = now.Add(2 * time.Second)
	if _, err := c.Snapshot(context.Background(), "AAPL"); !errors.Is(err, ErrNoQuote) {
		t.Fatalf("stale quote should report ErrNoQuote, got %v", err)
	}

	// A new print revives the symbol.
	c.Update(schema.MarketSnapshot{Symbol: "AAPL", BidPrice: decimal.NewFromInt(101)})
	if _, err := c.Snapshot(context.Background(), "AAPL"); err != nil {
		t.Fatalf("refreshed quote should serve: %v", err)
	}
}
