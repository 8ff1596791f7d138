package strategy

import (
	"github.com/shopspring/decimal"

	"main/internal/schema"
)

// MarketOrder submits the whole quantity immediately at market.
type MarketOrder struct{}

// Kind implements Strategy.
func (MarketOrder) Kind() schema.StrategyKind { return schema.StrategyMarketOrder }

// Plan implements Strategy.
func (MarketOrder) Plan(order schema.Order, _ schema.MarketSnapshot) (Plan, error) {
	child := childBase(order, 0)
	child.Type = schema.OrderTypeMarket
	child.Quantity = order.Quantity
	child.LimitPrice = decimal.Zero

	return Plan{
		OrderID:  order.ID,
		Strategy: schema.StrategyMarketOrder,
		Children: []ChildInstruction{{
			Child:     child,
			PriceMode: PriceStatic,
		}},
	}, nil
}
