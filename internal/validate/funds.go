package validate

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"main/internal/schema"
)

// FundsConfig seeds per-portfolio buying power. Values are decimal strings.
type FundsConfig struct {
	Default    string            `mapstructure:"default"`
	Portfolios map[string]string `mapstructure:"portfolios"`
}

// StaticFunds serves buying power from configuration and debits it as
// orders fill. A portfolio service replaces it in deployments that have
// one; the interface is the contract, not this implementation.
type StaticFunds struct {
	mu       sync.Mutex
	balances map[string]decimal.Decimal
	fallback decimal.Decimal
}

// NewStaticFunds builds the source from config. Unparsable values count as
// zero buying power.
func NewStaticFunds(cfg FundsConfig) *StaticFunds {
	f := &StaticFunds{
		balances: make(map[string]decimal.Decimal, len(cfg.Portfolios)),
	}
	if d, err := decimal.NewFromString(cfg.Default); err == nil {
		f.fallback = d
	}
	for portfolio, raw := range cfg.Portfolios {
		if d, err := decimal.NewFromString(raw); err == nil {
			f.balances[portfolio] = d
		}
	}
	return f
}

// BuyingPower implements BuyingPowerSource.
func (f *StaticFunds) BuyingPower(_ context.Context, portfolioID string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if balance, ok := f.balances[portfolioID]; ok {
		return balance, nil
	}
	return f.fallback, nil
}

// ApplyFill adjusts buying power after an execution: buys consume it, sells
// release it.
func (f *StaticFunds) ApplyFill(portfolioID string, side schema.OrderSide, notional decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[portfolioID]
	if !ok {
		balance = f.fallback
	}
	if side == schema.OrderSideBuy {
		balance = balance.Sub(notional)
	} else {
		balance = balance.Add(notional)
	}
	f.balances[portfolioID] = balance
}
