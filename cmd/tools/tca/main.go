package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"main/internal/ledger"
	"main/internal/ops"
	"main/internal/tca"
	"main/pkg/conn"
)

// tca prints the transaction cost analysis of a recorded order.
func main() {
	configPath := flag.String("config", "", "config directory (default: working directory)")
	orderID := flag.String("order", "", "order id to analyze")
	vwap := flag.String("vwap", "", "interval VWAP benchmark price")
	twap := flag.String("twap", "", "interval TWAP benchmark price")
	closePrice := flag.String("close", "", "close benchmark price")
	arrivalMid := flag.String("arrival-mid", "", "arrival midpoint for effective spread")
	flag.Parse()

	if *orderID == "" {
		log.Fatal("missing order id; use -order")
	}

	cfg, err := ops.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	pg, err := conn.New(conn.Option{
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		Database: cfg.Postgres.Database,
		SSLMode:  cfg.Postgres.SSLMode,
	})
	if err != nil {
		log.Fatalf("connect ledger: %v", err)
	}
	defer func() { _ = pg.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reporter := tca.NewReporter(ledger.New(pg.DB()), nil)
	report, err := reporter.Report(ctx, *orderID, tca.Benchmarks{
		IntervalVWAP: parseBench(*vwap),
		IntervalTWAP: parseBench(*twap),
		ClosePrice:   parseBench(*closePrice),
		ArrivalMid:   parseBench(*arrivalMid),
	})
	if err != nil {
		log.Fatalf("report failed: %v", err)
	}

	out, err := sonic.ConfigDefault.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("marshal report: %v", err)
	}
	fmt.Println(string(out))
}

func parseBench(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		log.Fatalf("invalid benchmark price %q: %v", s, err)
	}
	return d
}
