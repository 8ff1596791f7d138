package strategy

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/schema"
	"main/pkg/exception"
)

// TWAPParams tunes time-weighted slicing.
type TWAPParams struct {
	NumSlices           int   `json:"numSlices" mapstructure:"numSlices"`
	IntervalSec         int   `json:"intervalSec" mapstructure:"intervalSec"`
	PriceLimitBufferBps int64 `json:"priceLimitBufferBps" mapstructure:"priceLimitBufferBps"`
}

// TWAP splits the quantity into equal slices spaced a fixed interval apart.
// Each slice is priced at slice time, bounded by the buffer around the
// reference price.
type TWAP struct {
	Defaults TWAPParams
}

// Kind implements Strategy.
func (TWAP) Kind() schema.StrategyKind { return schema.StrategyTWAP }

// Plan implements Strategy. Slice quantities are truncated to equal parts
// with the rounding remainder carried by the last slice, so the slices
// always sum to the parent quantity exactly.
func (s TWAP) Plan(order schema.Order, _ schema.MarketSnapshot) (Plan, error) {
	params := s.Defaults
	if err := decodeParams(order.StrategyParams, &params); err != nil {
		return Plan{}, err
	}
	if params.NumSlices <= 0 {
		return Plan{}, errors.Wrap(exception.ErrConfigInvalidStrategy, "twap numSlices must be > 0")
	}
	if params.IntervalSec <= 0 {
		return Plan{}, errors.Wrap(exception.ErrConfigInvalidStrategy, "twap intervalSec must be > 0")
	}

	interval := time.Duration(params.IntervalSec) * time.Second
	quantities := splitEqual(order.Quantity, params.NumSlices)

	plan := Plan{OrderID: order.ID, Strategy: schema.StrategyTWAP}
	for i, qty := range quantities {
		child := childBase(order, i)
		child.Type = schema.OrderTypeLimit
		child.Quantity = qty
		plan.Children = append(plan.Children, ChildInstruction{
			Child:     child,
			Offset:    time.Duration(i) * interval,
			PriceMode: PriceBufferFromRef,
			PriceBps:  params.PriceLimitBufferBps,
		})
	}
	return plan, nil
}

// splitEqual divides qty into n parts that sum exactly to qty, remainder in
// the last part.
func splitEqual(qty decimal.Decimal, n int) []decimal.Decimal {
	part := qty.Div(decimal.NewFromInt(int64(n))).Truncate(10)
	parts := make([]decimal.Decimal, n)
	var allocated decimal.Decimal
	for i := 0; i < n-1; i++ {
		parts[i] = part
		allocated = allocated.Add(part)
	}
	parts[n-1] = qty.Sub(allocated)
	return parts
}
