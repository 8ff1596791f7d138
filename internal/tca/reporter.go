package tca

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/schema"
	"main/pkg/exception"
)

var tenThousand = decimal.NewFromInt(10000)

// Benchmarks carries the market reference prices a report is scored
// against. Zero fields skip the matching benchmark.
type Benchmarks struct {
	IntervalVWAP decimal.Decimal `json:"intervalVwap"`
	IntervalTWAP decimal.Decimal `json:"intervalTwap"`
	ClosePrice   decimal.Decimal `json:"closePrice"`
	ArrivalMid   decimal.Decimal `json:"arrivalMid"`
}

// Report is the transaction cost analysis of one executed order. Cost
// figures are in basis points, signed so that positive always means the
// execution cost money against the benchmark, for both sides.
type Report struct {
	OrderID        string              `json:"orderId"`
	Symbol         string              `json:"symbol"`
	Side           schema.OrderSide    `json:"side"`
	Strategy       schema.StrategyKind `json:"strategy"`
	Quantity       decimal.Decimal     `json:"quantity"`
	FilledQuantity decimal.Decimal     `json:"filledQuantity"`
	AvgFillPrice   decimal.Decimal     `json:"avgFillPrice"`
	ArrivalPrice   decimal.Decimal     `json:"arrivalPrice"`
	Commission     decimal.Decimal     `json:"commission"`
	FillCount      int                 `json:"fillCount"`
	FirstFillAt    time.Time           `json:"firstFillAt"`
	LastFillAt     time.Time           `json:"lastFillAt"`

	SlippageBps        decimal.Decimal `json:"slippageBps"`
	VWAPDeltaBps       decimal.Decimal `json:"vwapDeltaBps"`
	TWAPDeltaBps       decimal.Decimal `json:"twapDeltaBps"`
	CloseDeltaBps      decimal.Decimal `json:"closeDeltaBps"`
	EffectiveSpreadBps decimal.Decimal `json:"effectiveSpreadBps"`
	TimingCostBps      decimal.Decimal `json:"timingCostBps"`
	MarketImpactBps    decimal.Decimal `json:"marketImpactBps"`
	ShortfallNotional  decimal.Decimal `json:"shortfallNotional"`
	CommissionBps      decimal.Decimal `json:"commissionBps"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// TradeSource loads the recorded fills of an order. The ledger store
// implements it.
type TradeSource interface {
	Order(ctx context.Context, id string) (schema.Order, error)
	Trades(ctx context.Context, orderID string) ([]schema.Trade, error)
}

// Reporter computes execution quality reports and journals them.
type Reporter struct {
	source  TradeSource
	journal *Journal
}

// NewReporter builds a reporter. The journal may be nil when reports are
// consumed inline only.
func NewReporter(source TradeSource, journal *Journal) *Reporter {
	return &Reporter{source: source, journal: journal}
}

// Report scores one order against the given benchmarks and appends the
// result to the journal.
func (r *Reporter) Report(ctx context.Context, orderID string, bench Benchmarks) (Report, error) {
	order, err := r.source.Order(ctx, orderID)
	if err != nil {
		return Report{}, err
	}
	if !order.Status.IsTerminal() {
		return Report{}, errors.Wrap(exception.ErrOrderNotTerminal, string(order.Status))
	}
	trades, err := r.source.Trades(ctx, orderID)
	if err != nil {
		return Report{}, err
	}
	if len(trades) == 0 {
		return Report{}, errors.Wrap(exception.ErrOrderInvalidFill, "no fills to analyze")
	}

	report := Compute(order, trades, bench)
	if r.journal != nil {
		if err := r.journal.TryAppend(report); err != nil &&
			!errors.Is(err, ErrJournalNotStarted) {
			return report, errors.Wrap(err, "journal report")
		}
	}
	return report, nil
}

// Compute derives the cost figures from an order and its fills. It is pure
// so callers can score hypothetical executions.
func Compute(order schema.Order, trades []schema.Trade, bench Benchmarks) Report {
	report := Report{
		OrderID:        order.ID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Strategy:       order.Strategy,
		Quantity:       order.Quantity,
		FilledQuantity: order.FilledQuantity,
		AvgFillPrice:   order.AvgFillPrice,
		ArrivalPrice:   order.ArrivalPrice,
		Commission:     order.Commission,
		FillCount:      len(trades),
		GeneratedAt:    time.Now().UTC(),
	}
	if len(trades) > 0 {
		report.FirstFillAt = trades[0].ExecutedAt
		report.LastFillAt = trades[len(trades)-1].ExecutedAt
	}

	avg := order.AvgFillPrice
	report.SlippageBps = costBps(order.Side, avg, order.ArrivalPrice)
	report.VWAPDeltaBps = costBps(order.Side, avg, bench.IntervalVWAP)
	report.TWAPDeltaBps = costBps(order.Side, avg, bench.IntervalTWAP)
	report.CloseDeltaBps = costBps(order.Side, avg, bench.ClosePrice)

	if bench.ArrivalMid.IsPositive() && len(trades) > 0 {
		// Effective spread uses the first fill against the arrival mid,
		// doubled by convention.
		report.EffectiveSpreadBps = costBps(order.Side, trades[0].Price, bench.ArrivalMid).
			Mul(decimal.NewFromInt(2))
	}
	if len(trades) > 0 && order.ArrivalPrice.IsPositive() {
		first := trades[0].Price
		report.TimingCostBps = costBps(order.Side, first, order.ArrivalPrice)
		report.MarketImpactBps = report.SlippageBps.Sub(report.TimingCostBps)
	}
	if order.ArrivalPrice.IsPositive() {
		// Implementation shortfall in notional terms: execution drift on
		// the filled part plus opportunity cost of the unfilled part
		// against the close.
		drift := signed(order.Side, avg.Sub(order.ArrivalPrice)).Mul(order.FilledQuantity)
		report.ShortfallNotional = drift.Add(order.Commission)
		unfilled := order.Quantity.Sub(order.FilledQuantity)
		if unfilled.IsPositive() && bench.ClosePrice.IsPositive() {
			missed := signed(order.Side, bench.ClosePrice.Sub(order.ArrivalPrice)).Mul(unfilled)
			report.ShortfallNotional = report.ShortfallNotional.Add(missed)
		}
	}
	if order.FilledQuantity.IsPositive() && avg.IsPositive() {
		notional := avg.Mul(order.FilledQuantity)
		report.CommissionBps = order.Commission.Div(notional).Mul(tenThousand)
	}
	return report
}

// costBps is the side-signed execution cost of price versus a benchmark in
// basis points. Buying above or selling below the benchmark is positive.
func costBps(side schema.OrderSide, price, benchmark decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() || !benchmark.IsPositive() {
		return decimal.Zero
	}
	return signed(side, price.Sub(benchmark)).Div(benchmark).Mul(tenThousand)
}

func signed(side schema.OrderSide, d decimal.Decimal) decimal.Decimal {
	if side == schema.OrderSideSell {
		return d.Neg()
	}
	return d
}
