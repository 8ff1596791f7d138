package strategy

import (
	"testing"

	"github.com/shopspring/decimal"

	"main/internal/schema"
)

func routerEngine() *Engine {
	return NewEngine(Config{
		TWAP:    TWAPParams{NumSlices: 4, IntervalSec: 60},
		Iceberg: IcebergParams{DisplaySize: decimal.NewFromInt(100)},
	})
}

func TestSmartRouterPriority(t *testing.T) {
	testCases := []struct {
		desc     string
		quantity int64
		snapshot schema.MarketSnapshot
		expected schema.StrategyKind
	}{
		{
			"large order hides size",
			5000,
			schema.MarketSnapshot{
				BidPrice:   decimal.NewFromInt(100),
				AskPrice:   decimal.NewFromInt(101),
				AskSize:    decimal.NewFromInt(500),
				BidSize:    decimal.NewFromInt(500),
				Volatility: decimal.NewFromFloat(0.9),
			},
			schema.StrategyIceberg,
		},
		{
			"volatile market spreads over time",
			100,
			schema.MarketSnapshot{
				BidPrice:   decimal.NewFromInt(100),
				AskPrice:   decimal.NewFromInt(101),
				AskSize:    decimal.NewFromInt(500),
				BidSize:    decimal.NewFromInt(500),
				Volatility: decimal.NewFromFloat(0.9),
			},
			schema.StrategyTWAP,
		},
		{
			"tight spread takes liquidity",
			100,
			schema.MarketSnapshot{
				BidPrice:   decimal.NewFromFloat(100.00),
				AskPrice:   decimal.NewFromFloat(100.01),
				AskSize:    decimal.NewFromInt(500),
				BidSize:    decimal.NewFromInt(500),
				Volatility: decimal.NewFromFloat(0.1),
			},
			schema.StrategyMarketOrder,
		},
		{
			"wide calm market rests a limit",
			100,
			schema.MarketSnapshot{
				BidPrice:   decimal.NewFromInt(100),
				AskPrice:   decimal.NewFromInt(101),
				AskSize:    decimal.NewFromInt(500),
				BidSize:    decimal.NewFromInt(500),
				Volatility: decimal.NewFromFloat(0.1),
			},
			schema.StrategyLimitOrder,
		},
	}

	engine := routerEngine()
	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			order := testOrder(tc.quantity, schema.StrategySmartRouter)

			plan, err := engine.Plan(order, tc.snapshot)
			if err != nil {
				t.Fatalf("plan: %v", err)
			}
			if plan.Strategy != schema.StrategySmartRouter {
				t.Fatalf("plan strategy mismatch! should be %s but got %s", schema.StrategySmartRouter, plan.Strategy)
			}
			if plan.Routed != tc.expected {
				t.Fatalf("route mismatch! should be %s but got %s", tc.expected, plan.Routed)
			}
		})
	}
}

func TestSmartRouterIsDeterministic(t *testing.T) {
	engine := routerEngine()
	order := testOrder(5000, schema.StrategySmartRouter)
	snapshot := schema.MarketSnapshot{
		BidPrice:   decimal.NewFromInt(100),
		AskPrice:   decimal.NewFromFloat(100.01),
		AskSize:    decimal.NewFromInt(500),
		BidSize:    decimal.NewFromInt(500),
		Volatility: decimal.NewFromFloat(0.9),
	}

	first, err := engine.Plan(order, snapshot)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := engine.Plan(order, snapshot)
		if err != nil {
			t.Fatalf("plan %d: %v", i, err)
		}
		if again.Routed != first.Routed || len(again.Children) != len(first.Children) {
			t.Fatalf("routing must be deterministic, got %s then %s", first.Routed, again.Routed)
		}
	}
}

func TestSmartRouterFallbackPricesAtTouch(t *testing.T) {
	engine := routerEngine()
	order := testOrder(100, schema.StrategySmartRouter)
	order.LimitPrice = decimal.Zero
	snapshot := schema.MarketSnapshot{
		BidPrice:   decimal.NewFromInt(100),
		AskPrice:   decimal.NewFromInt(101),
		AskSize:    decimal.NewFromInt(500),
		BidSize:    decimal.NewFromInt(500),
		Volatility: decimal.NewFromFloat(0.1),
	}

	plan, err := engine.Plan(order, snapshot)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if plan.Routed != schema.StrategyLimitOrder {
		t.Fatalf("route mismatch! should be %s but got %s", schema.StrategyLimitOrder, plan.Routed)
	}
	if !plan.Children[0].Child.LimitPrice.Equal(snapshot.BidPrice) {
		t.Fatalf("buy fallback should rest at the bid, got %s", plan.Children[0].Child.LimitPrice)
	}
}
