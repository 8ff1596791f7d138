package strategy

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/schema"
	"main/pkg/exception"
)

// VWAPParams tunes volume-weighted slicing. Profile holds the relative
// volume weight of each bucket between StartOffsetSec and EndOffsetSec;
// weights need not sum to one, they are normalized.
type VWAPParams struct {
	Profile             []float64 `json:"profile" mapstructure:"profile"`
	StartOffsetSec      int       `json:"startOffsetSec" mapstructure:"startOffsetSec"`
	EndOffsetSec        int       `json:"endOffsetSec" mapstructure:"endOffsetSec"`
	PriceLimitBufferBps int64     `json:"priceLimitBufferBps" mapstructure:"priceLimitBufferBps"`
}

// VWAP distributes the quantity over a window proportionally to the
// expected volume profile, so heavier buckets carry larger slices.
type VWAP struct {
	Defaults VWAPParams
}

// Kind implements Strategy.
func (VWAP) Kind() schema.StrategyKind { return schema.StrategyVWAP }

// Plan implements Strategy.
func (s VWAP) Plan(order schema.Order, _ schema.MarketSnapshot) (Plan, error) {
	params := s.Defaults
	if err := decodeParams(order.StrategyParams, &params); err != nil {
		return Plan{}, err
	}
	if len(params.Profile) == 0 {
		return Plan{}, errors.Wrap(exception.ErrConfigInvalidStrategy, "vwap profile must not be empty")
	}
	if params.EndOffsetSec <= params.StartOffsetSec {
		return Plan{}, errors.Wrap(exception.ErrConfigInvalidStrategy, "vwap window must have positive span")
	}

	var total float64
	for _, w := range params.Profile {
		if w < 0 {
			return Plan{}, errors.Wrap(exception.ErrConfigInvalidStrategy, "vwap profile weight must be >= 0")
		}
		total += w
	}
	if total <= 0 {
		return Plan{}, errors.Wrap(exception.ErrConfigInvalidStrategy, "vwap profile weights must sum to > 0")
	}

	n := len(params.Profile)
	span := time.Duration(params.EndOffsetSec-params.StartOffsetSec) * time.Second
	start := time.Duration(params.StartOffsetSec) * time.Second
	step := span / time.Duration(n)

	plan := Plan{OrderID: order.ID, Strategy: schema.StrategyVWAP}
	var allocated decimal.Decimal
	for i, w := range params.Profile {
		child := childBase(order, i)
		child.Type = schema.OrderTypeLimit
		if i == n-1 {
			child.Quantity = order.Quantity.Sub(allocated)
		} else {
			child.Quantity = order.Quantity.
				Mul(decimal.NewFromFloat(w / total)).
				Truncate(10)
			allocated = allocated.Add(child.Quantity)
		}
		if child.Quantity.IsZero() {
			continue
		}
		plan.Children = append(plan.Children, ChildInstruction{
			Child:     child,
			Offset:    start + time.Duration(i)*step,
			PriceMode: PriceBufferFromRef,
			PriceBps:  params.PriceLimitBufferBps,
		})
	}
	return plan, nil
}
