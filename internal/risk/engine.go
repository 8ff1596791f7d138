package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"main/internal/schema"
)

// Config defines static risk limits applied before submission.
type Config struct {
	KillSwitch           bool            `mapstructure:"killSwitch"`
	MaxOrderQty          decimal.Decimal `mapstructure:"maxOrderQty"`
	MaxOrderNotional     decimal.Decimal `mapstructure:"maxOrderNotional"`
	MaxPosition          decimal.Decimal `mapstructure:"maxPosition"`
	MaxPriceDeviationBps int64           `mapstructure:"maxPriceDeviationBps"`
}

// Decision is the outcome of a risk evaluation.
type Decision struct {
	Allowed bool
	Reason  schema.RejectReason
	Detail  string
}

// Engine evaluates risk limits against portfolio positions. Positions are
// tracked per portfolio and symbol from applied fills.
type Engine struct {
	cfg Config

	mu        sync.Mutex
	positions map[string]decimal.Decimal
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:       cfg,
		positions: make(map[string]decimal.Decimal),
	}
}

func positionKey(portfolioID, symbol string) string {
	return portfolioID + "|" + symbol
}

// Position returns the tracked signed position for a portfolio and symbol.
func (e *Engine) Position(portfolioID, symbol string) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.positions[positionKey(portfolioID, symbol)]
}

// ApplyFill updates the tracked position from a confirmed fill.
func (e *Engine) ApplyFill(portfolioID, symbol string, side schema.OrderSide, qty decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := positionKey(portfolioID, symbol)
	current := e.positions[key]
	switch side {
	case schema.OrderSideBuy:
		e.positions[key] = current.Add(qty)
	case schema.OrderSideSell:
		e.positions[key] = current.Sub(qty)
	}
}

// Evaluate applies the configured limits to an order intent. The reference
// price bounds limit prices inside the allowed deviation band.
func (e *Engine) Evaluate(intent schema.OrderIntent, referencePrice decimal.Decimal) Decision {
	if e.cfg.KillSwitch {
		return deny("kill switch engaged")
	}

	if e.cfg.MaxOrderQty.IsPositive() && intent.Quantity.GreaterThan(e.cfg.MaxOrderQty) {
		return deny("order quantity above limit")
	}

	price := intent.LimitPrice
	if !price.IsPositive() {
		price = referencePrice
	}

	if e.cfg.MaxPriceDeviationBps > 0 && intent.Type == schema.OrderTypeLimit &&
		intent.LimitPrice.IsPositive() && referencePrice.IsPositive() {
		diff := intent.LimitPrice.Sub(referencePrice).Abs()
		band := referencePrice.Mul(decimal.NewFromInt(e.cfg.MaxPriceDeviationBps)).
			Div(decimal.NewFromInt(10000))
		if diff.GreaterThan(band) {
			return deny("limit price outside deviation band")
		}
	}

	if e.cfg.MaxOrderNotional.IsPositive() && price.IsPositive() {
		notional := price.Mul(intent.Quantity)
		if notional.GreaterThan(e.cfg.MaxOrderNotional) {
			return deny("order notional above limit")
		}
	}

	if e.cfg.MaxPosition.IsPositive() {
		current := e.Position(intent.PortfolioID, intent.Symbol)
		next := current
		switch intent.Side {
		case schema.OrderSideBuy:
			next = current.Add(intent.Quantity)
		case schema.OrderSideSell:
			next = current.Sub(intent.Quantity)
		}
		if next.Abs().GreaterThan(e.cfg.MaxPosition) {
			return deny("position limit exceeded")
		}
	}

	return Decision{Allowed: true}
}

func deny(detail string) Decision {
	return Decision{
		Allowed: false,
		Reason:  schema.ReasonRiskLimitExceeded,
		Detail:  detail,
	}
}
