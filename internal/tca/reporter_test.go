package tca

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/schema"
	"main/pkg/exception"
)

func tcaOrder(side schema.OrderSide) schema.Order {
	return schema.Order{
		ID:             "order-1",
		Symbol:         "AAPL",
		Side:           side,
		Status:         schema.OrderStatusFilled,
		Strategy:       schema.StrategyTWAP,
		Quantity:       decimal.NewFromInt(100),
		FilledQuantity: decimal.NewFromInt(100),
		AvgFillPrice:   decimal.NewFromInt(101),
		ArrivalPrice:   decimal.NewFromInt(100),
		Commission:     decimal.NewFromInt(10),
	}
}

func tcaTrades() []schema.Trade {
	base := time.Date(2026, 8, 25, 14, 30, 0, 0, time.UTC)
	return []schema.Trade{
		{OrderID: "order-1", Quantity: decimal.NewFromInt(50), Price: decimal.NewFromFloat(100.5), Seq: 1, ExecutedAt: base},
		{OrderID: "order-1", Quantity: decimal.NewFromInt(50), Price: decimal.NewFromFloat(101.5), Seq: 2, ExecutedAt: base.Add(time.Minute)},
	}
}

func TestComputeSlippageIsSideSigned(t *testing.T) {
	trades := tcaTrades()

	// Buy filled at 101 versus arrival 100: paid 100 bps more.
	buy := Compute(tcaOrder(schema.OrderSideBuy), trades, Benchmarks{})
	if !buy.SlippageBps.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("buy slippage mismatch! should be 100 but got %s", buy.SlippageBps)
	}

	// The same prices on a sell mean the order sold above arrival: a gain.
	sell := Compute(tcaOrder(schema.OrderSideSell), trades, Benchmarks{})
	if !sell.SlippageBps.Equal(decimal.NewFromInt(-100)) {
		t.Fatalf("sell slippage mismatch! should be -100 but got %s", sell.SlippageBps)
	}
}

func TestComputeBenchmarkDeltas(t *testing.T) {
	bench := Benchmarks{
		IntervalVWAP: decimal.NewFromFloat(100.5),
		IntervalTWAP: decimal.NewFromInt(101),
		ClosePrice:   decimal.NewFromInt(102),
		ArrivalMid:   decimal.NewFromInt(100),
	}
	report := Compute(tcaOrder(schema.OrderSideBuy), tcaTrades(), bench)

	// avg 101 vs vwap 100.5 is ~49.75 bps adverse.
	wantVWAP := decimal.NewFromFloat(0.5).Div(decimal.NewFromFloat(100.5)).Mul(decimal.NewFromInt(10000))
	if !report.VWAPDeltaBps.Equal(wantVWAP) {
		t.Fatalf("vwap delta mismatch! should be %s but got %s", wantVWAP, report.VWAPDeltaBps)
	}
	if !report.TWAPDeltaBps.IsZero() {
		t.Fatalf("avg at twap should cost nothing, got %s", report.TWAPDeltaBps)
	}
	// Buying at 101 when the close printed 102 beat the close.
	if !report.CloseDeltaBps.IsNegative() {
		t.Fatalf("close delta should be a gain, got %s", report.CloseDeltaBps)
	}
	// First fill 100.5 vs arrival mid 100, doubled: 100 bps.
	if !report.EffectiveSpreadBps.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("effective spread mismatch! should be 100 but got %s", report.EffectiveSpreadBps)
	}
}

func TestComputeSplitsTimingAndImpact(t *testing.T) {
	report := Compute(tcaOrder(schema.OrderSideBuy), tcaTrades(), Benchmarks{})

	// First fill at 100.5 vs arrival 100: 50 bps of timing cost. The rest
	// of the 100 bps slippage is impact.
	if !report.TimingCostBps.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("timing mismatch! should be 50 but got %s", report.TimingCostBps)
	}
	if !report.MarketImpactBps.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("impact mismatch! should be 50 but got %s", report.MarketImpactBps)
	}
	if !report.SlippageBps.Equal(report.TimingCostBps.Add(report.MarketImpactBps)) {
		t.Fatal("timing and impact should sum to slippage")
	}
}

func TestComputeShortfallIncludesOpportunityCost(t *testing.T) {
	order := tcaOrder(schema.OrderSideBuy)
	order.FilledQuantity = decimal.NewFromInt(60)
	trades := tcaTrades()[:1]

	report := Compute(order, trades, Benchmarks{ClosePrice: decimal.NewFromInt(103)})

	// Drift: (101-100)*60 = 60, commission 10, missed: (103-100)*40 = 120.
	want := decimal.NewFromInt(60 + 10 + 120)
	if !report.ShortfallNotional.Equal(want) {
		t.Fatalf("shortfall mismatch! should be %s but got %s", want, report.ShortfallNotional)
	}
}

func TestComputeCommissionBps(t *testing.T) {
	report := Compute(tcaOrder(schema.OrderSideBuy), tcaTrades(), Benchmarks{})

	// 10 commission on 101*100 notional.
	want := decimal.NewFromInt(10).Div(decimal.NewFromInt(10100)).Mul(decimal.NewFromInt(10000))
	if !report.CommissionBps.Equal(want) {
		t.Fatalf("commission bps mismatch! should be %s but got %s", want, report.CommissionBps)
	}
}

type stubSource struct {
	order  schema.Order
	trades []schema.Trade
}

func (s stubSource) Order(context.Context, string) (schema.Order, error) { return s.order, nil }

func (s stubSource) Trades(context.Context, string) ([]schema.Trade, error) {
	return s.trades, nil
}

func TestReportRequiresFills(t *testing.T) {
	r := NewReporter(stubSource{order: tcaOrder(schema.OrderSideBuy)}, nil)

	_, err := r.Report(context.Background(), "order-1", Benchmarks{})
	if !errors.Is(err, exception.ErrOrderInvalidFill) {
		t.Fatalf("an unfilled order cannot be analyzed, got %v", err)
	}
}

func TestReportRejectsWorkingOrder(t *testing.T) {
	order := tcaOrder(schema.OrderSideBuy)
	order.Status = schema.OrderStatusPartiallyFilled
	r := NewReporter(stubSource{order: order, trades: tcaTrades()}, nil)

	_, err := r.Report(context.Background(), "order-1", Benchmarks{})
	if !errors.Is(err, exception.ErrOrderNotTerminal) {
		t.Fatalf("a working order cannot be analyzed, got %v", err)
	}
}

func TestReportScoresStoredOrder(t *testing.T) {
	r := NewReporter(stubSource{order: tcaOrder(schema.OrderSideBuy), trades: tcaTrades()}, nil)

	report, err := r.Report(context.Background(), "order-1", Benchmarks{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if report.FillCount != 2 {
		t.Fatalf("fill count mismatch! should be 2 but got %d", report.FillCount)
	}
	if !report.FirstFillAt.Before(report.LastFillAt) {
		t.Fatal("fill timestamps should be ordered")
	}
}
