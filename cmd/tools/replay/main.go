// Command replay reads TCA journal segments and aggregates execution
// quality per strategy: fill counts, average slippage and commission.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"

	"main/internal/tca"
)

type bucket struct {
	orders     int
	fills      int
	slippage   decimal.Decimal
	commission decimal.Decimal
}

func main() {
	dir := flag.String("dir", "", "journal directory")
	prefix := flag.String("prefix", "tca", "segment file prefix")
	symbol := flag.String("symbol", "", "filter by symbol")
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -dir <journal dir> [-prefix tca] [-symbol AAPL]")
		os.Exit(2)
	}

	entries, err := os.ReadDir(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read journal dir: %v\n", err)
		os.Exit(1)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, *prefix+"-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	buckets := make(map[string]*bucket)
	var total int
	for _, name := range names {
		if err := scanSegment(filepath.Join(*dir, name), *symbol, buckets, &total); err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", name, err)
			os.Exit(1)
		}
	}

	if total == 0 {
		fmt.Println("no reports found")
		return
	}

	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Printf("%d reports across %d segments\n\n", total, len(names))
	fmt.Printf("%-14s %8s %8s %14s %14s\n", "strategy", "orders", "fills", "avg slip bps", "avg comm bps")
	for _, k := range keys {
		b := buckets[k]
		n := decimal.NewFromInt(int64(b.orders))
		fmt.Printf("%-14s %8d %8d %14s %14s\n",
			k, b.orders, b.fills,
			b.slippage.Div(n).StringFixed(2),
			b.commission.Div(n).StringFixed(2))
	}
}

func scanSegment(path, symbol string, buckets map[string]*bucket, total *int) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var report tca.Report
		if err := sonic.ConfigFastest.Unmarshal(scanner.Bytes(), &report); err != nil {
			return err
		}
		if symbol != "" && report.Symbol != symbol {
			continue
		}
		key := string(report.Strategy)
		if key == "" {
			key = "unknown"
		}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
		}
		b.orders++
		b.fills += report.FillCount
		b.slippage = b.slippage.Add(report.SlippageBps)
		b.commission = b.commission.Add(report.CommissionBps)
		*total++
	}
	return scanner.Err()
}
