package strategy

import (
	"time"

	"github.com/yanun0323/errors"

	"main/internal/schema"
	"main/pkg/exception"
)

// LimitParams tunes the single-child limit strategy.
type LimitParams struct {
	// MaxWaitTimeSec bounds how long the resting order waits before the
	// aggressive follow-up, when enabled.
	MaxWaitTimeSec int `json:"maxWaitTimeSec" mapstructure:"maxWaitTimeSec"`
	// AggressiveAfterWait crosses the spread with the remainder once the
	// wait elapses.
	AggressiveAfterWait bool `json:"aggressiveAfterWait" mapstructure:"aggressiveAfterWait"`
}

// LimitOrder rests the whole quantity at the order's limit price.
type LimitOrder struct {
	Defaults LimitParams
}

// Kind implements Strategy.
func (LimitOrder) Kind() schema.StrategyKind { return schema.StrategyLimitOrder }

// Plan implements Strategy.
func (s LimitOrder) Plan(order schema.Order, _ schema.MarketSnapshot) (Plan, error) {
	params := s.Defaults
	if err := decodeParams(order.StrategyParams, &params); err != nil {
		return Plan{}, err
	}
	if !order.LimitPrice.IsPositive() {
		return Plan{}, errors.Wrap(exception.ErrConfigInvalidStrategy, "limit strategy requires a limit price")
	}

	resting := childBase(order, 0)
	resting.Type = schema.OrderTypeLimit
	resting.Quantity = order.Quantity

	plan := Plan{
		OrderID:  order.ID,
		Strategy: schema.StrategyLimitOrder,
		Children: []ChildInstruction{{
			Child:     resting,
			PriceMode: PriceStatic,
		}},
	}

	if params.AggressiveAfterWait && params.MaxWaitTimeSec > 0 {
		wait := time.Duration(params.MaxWaitTimeSec) * time.Second
		plan.Children[0].CancelAfter = wait

		aggressive := childBase(order, 1)
		aggressive.Type = schema.OrderTypeLimit
		plan.Children = append(plan.Children, ChildInstruction{
			Child:        aggressive,
			Offset:       wait,
			UseRemaining: true,
			PriceMode:    PriceCrossSpread,
		})
	}

	return plan, nil
}
