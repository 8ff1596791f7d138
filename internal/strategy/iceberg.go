package strategy

import (
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/schema"
	"main/pkg/exception"
)

// IcebergParams tunes hidden-quantity execution. DisplaySize is the visible
// tranche, PriceImprovementBps nudges the resting price inside the touch.
type IcebergParams struct {
	DisplaySize         decimal.Decimal `json:"displaySize" mapstructure:"displaySize"`
	PriceImprovementBps int64           `json:"priceImprovementBps" mapstructure:"priceImprovementBps"`
}

// Iceberg reveals only DisplaySize at a time. Each reveal is a separate
// child that the scheduler releases once the previous one fills.
type Iceberg struct {
	Defaults IcebergParams
}

// Kind implements Strategy.
func (Iceberg) Kind() schema.StrategyKind { return schema.StrategyIceberg }

// Plan implements Strategy.
func (s Iceberg) Plan(order schema.Order, _ schema.MarketSnapshot) (Plan, error) {
	params := s.Defaults
	if err := decodeParams(order.StrategyParams, &params); err != nil {
		return Plan{}, err
	}
	if !params.DisplaySize.IsPositive() {
		return Plan{}, errors.Wrap(exception.ErrConfigInvalidStrategy, "iceberg displaySize must be > 0")
	}

	plan := Plan{OrderID: order.ID, Strategy: schema.StrategyIceberg}
	remaining := order.Quantity
	slice := 0
	for remaining.IsPositive() {
		qty := params.DisplaySize
		if qty.GreaterThan(remaining) {
			qty = remaining
		}
		child := childBase(order, slice)
		child.Type = schema.OrderTypeLimit
		child.Quantity = qty
		plan.Children = append(plan.Children, ChildInstruction{
			Child:         child,
			AwaitPrevious: slice > 0,
			PriceMode:     PriceImproveBBO,
			PriceBps:      params.PriceImprovementBps,
		})
		remaining = remaining.Sub(qty)
		slice++
	}
	return plan, nil
}
