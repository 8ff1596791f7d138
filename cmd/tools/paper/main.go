package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"main/internal/broker/sim"
	"main/internal/schema"
	"main/internal/strategy"
	"main/internal/tca"
)

// paper previews an execution plan against a synthetic quote and simulates
// the fills through the paper broker, then scores the run.
func main() {
	symbol := flag.String("symbol", "AAPL", "symbol to trade")
	side := flag.String("side", "buy", "buy or sell")
	qty := flag.String("qty", "100", "order quantity")
	limit := flag.String("limit", "", "limit price (empty for market-driven strategies)")
	kind := flag.String("strategy", "twap", "execution strategy")
	params := flag.String("params", "", "strategy parameters as JSON")
	bid := flag.String("bid", "100.00", "synthetic best bid")
	ask := flag.String("ask", "100.05", "synthetic best ask")
	fillParts := flag.Int("fill-parts", 2, "simulated partial fills per child")
	flag.Parse()

	order := schema.Order{
		ID:          "paper-1",
		PortfolioID: "paper",
		Symbol:      *symbol,
		Side:        schema.OrderSide(*side),
		Type:        schema.OrderTypeLimit,
		Quantity:    mustDecimal(*qty),
		TimeInForce: schema.TimeInForceDay,
		Strategy:    schema.StrategyKind(*kind),
	}
	if *limit != "" {
		order.LimitPrice = mustDecimal(*limit)
	}
	if *params != "" {
		order.StrategyParams = datatypes.JSON(*params)
	}

	snapshot := schema.MarketSnapshot{
		Symbol:    *symbol,
		BidPrice:  mustDecimal(*bid),
		BidSize:   decimal.NewFromInt(500),
		AskPrice:  mustDecimal(*ask),
		AskSize:   decimal.NewFromInt(500),
		LastPrice: mustDecimal(*bid),
		Ts:        time.Now(),
	}
	order.ArrivalPrice = snapshot.Mid()

	engine := strategy.NewEngine(strategy.Config{})
	plan, err := engine.Plan(order, snapshot)
	if err != nil {
		log.Fatalf("plan failed: %v", err)
	}

	fmt.Printf("strategy: %s", plan.Strategy)
	if plan.Routed != "" {
		fmt.Printf(" -> %s", plan.Routed)
	}
	fmt.Printf(", %d child orders\n", len(plan.Children))
	for _, inst := range plan.Children {
		fmt.Printf("  slice %d  qty=%s  offset=%s  mode=%s",
			inst.Child.Slice, inst.Child.Quantity, inst.Offset, inst.PriceMode)
		if inst.UseRemaining {
			fmt.Print("  (remaining)")
		}
		fmt.Println()
	}

	trades := simulate(plan, snapshot, *fillParts)
	if len(trades) == 0 {
		fmt.Println("no fills simulated")
		os.Exit(0)
	}

	var filled, notional decimal.Decimal
	for _, trade := range trades {
		filled = filled.Add(trade.Quantity)
		notional = notional.Add(trade.Quantity.Mul(trade.Price))
	}
	order.FilledQuantity = filled
	order.AvgFillPrice = notional.Div(filled)

	report := tca.Compute(order, trades, tca.Benchmarks{ArrivalMid: snapshot.Mid()})
	fmt.Printf("filled %s @ avg %s, slippage %s bps, shortfall %s\n",
		report.FilledQuantity, report.AvgFillPrice.StringFixed(4),
		report.SlippageBps.StringFixed(2), report.ShortfallNotional.StringFixed(2))
}

// simulate pushes every child through the paper broker at once and collects
// the fills it reports.
func simulate(plan strategy.Plan, snapshot schema.MarketSnapshot, fillParts int) []schema.Trade {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	paper := sim.New(sim.Config{FillDelay: 10 * time.Millisecond, FillParts: fillParts})
	stream, err := paper.StreamFills(ctx)
	if err != nil {
		log.Fatalf("open fill stream: %v", err)
	}

	expected := 0
	for _, inst := range plan.Children {
		child := inst.Child
		if !child.Quantity.IsPositive() {
			continue
		}
		if !child.LimitPrice.IsPositive() {
			child.LimitPrice = snapshot.Mid()
		}
		if _, err := paper.Submit(ctx, child); err != nil {
			log.Fatalf("submit slice %d: %v", child.Slice, err)
		}
		expected += fillParts
	}

	var trades []schema.Trade
	seq := uint64(0)
	for len(trades) < expected {
		var fill schema.Fill
		select {
		case fill = <-stream:
		case <-ctx.Done():
			return trades
		}
		seq++
		trades = append(trades, schema.Trade{
			OrderID:    plan.OrderID,
			Symbol:     fill.Symbol,
			Quantity:   fill.Quantity,
			Price:      fill.Price,
			Commission: fill.Commission,
			Seq:        seq,
			ExecutedAt: fill.ExecutedAt,
		})
	}
	sort.Slice(trades, func(i, j int) bool { return trades[i].ExecutedAt.Before(trades[j].ExecutedAt) })
	return trades
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("invalid decimal %q: %v", s, err)
	}
	return d
}
