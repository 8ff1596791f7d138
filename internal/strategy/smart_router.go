package strategy

import (
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/schema"
	"main/pkg/exception"
)

// RouterParams tunes smart routing thresholds.
type RouterParams struct {
	// LiquidityRatio routes to iceberg when order quantity exceeds this
	// multiple of the displayed size at the touch.
	LiquidityRatio float64 `json:"liquidityRatio" mapstructure:"liquidityRatio"`
	// VolatilityThreshold routes to twap above this annualized volatility.
	VolatilityThreshold float64 `json:"volatilityThreshold" mapstructure:"volatilityThreshold"`
	// TightSpreadBps routes to market at or below this spread.
	TightSpreadBps float64 `json:"tightSpreadBps" mapstructure:"tightSpreadBps"`
}

func defaultRouterParams() RouterParams {
	return RouterParams{
		LiquidityRatio:      2,
		VolatilityThreshold: 0.4,
		TightSpreadBps:      5,
	}
}

// SmartRouter picks an execution style from current market conditions and
// delegates planning to the chosen strategy. Checks run in a fixed priority
// so the same order and snapshot always route the same way: hidden-size
// first, then volatility, then spread, then the limit fallback.
type SmartRouter struct {
	Defaults RouterParams
	engine   *Engine
}

// Kind implements Strategy.
func (SmartRouter) Kind() schema.StrategyKind { return schema.StrategySmartRouter }

// Plan implements Strategy.
func (s SmartRouter) Plan(order schema.Order, market schema.MarketSnapshot) (Plan, error) {
	params := defaultRouterParams()
	if s.Defaults != (RouterParams{}) {
		params = s.Defaults
	}
	if err := decodeParams(order.StrategyParams, &params); err != nil {
		return Plan{}, err
	}

	kind := s.route(order, market, params)
	delegate, ok := s.engine.strategies[kind]
	if !ok {
		return Plan{}, errors.Wrap(exception.ErrConfigInvalidStrategy, string(kind))
	}
	plan, err := delegate.Plan(s.prepare(order, kind, market), market)
	if err != nil {
		return Plan{}, err
	}
	plan.Strategy = schema.StrategySmartRouter
	plan.Routed = kind
	return plan, nil
}

func (s SmartRouter) route(order schema.Order, market schema.MarketSnapshot, params RouterParams) schema.StrategyKind {
	displayed := market.AskSize
	if order.Side == schema.OrderSideSell {
		displayed = market.BidSize
	}
	if displayed.IsPositive() && params.LiquidityRatio > 0 {
		threshold := displayed.Mul(decimal.NewFromFloat(params.LiquidityRatio))
		if order.Quantity.GreaterThan(threshold) {
			return schema.StrategyIceberg
		}
	}
	if params.VolatilityThreshold > 0 &&
		market.Volatility.GreaterThan(decimal.NewFromFloat(params.VolatilityThreshold)) {
		return schema.StrategyTWAP
	}
	if params.TightSpreadBps > 0 &&
		market.SpreadBps().LessThanOrEqual(decimal.NewFromFloat(params.TightSpreadBps)) {
		return schema.StrategyMarketOrder
	}
	return schema.StrategyLimitOrder
}

// prepare fills in the fields the delegate needs when the caller left them
// unset, pricing limit fallbacks at the near touch.
func (s SmartRouter) prepare(order schema.Order, kind schema.StrategyKind, market schema.MarketSnapshot) schema.Order {
	if kind == schema.StrategyLimitOrder && !order.LimitPrice.IsPositive() {
		if order.Side == schema.OrderSideBuy {
			order.LimitPrice = market.BidPrice
		} else {
			order.LimitPrice = market.AskPrice
		}
	}
	return order
}
