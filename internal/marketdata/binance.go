package marketdata

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/schema"
	"main/pkg/backoff"
)

const binanceStreamURL = "wss://stream.binance.com:9443/ws"

// BinanceFeed streams best bid/ask quotes into a cache.
type BinanceFeed struct {
	url     string
	symbols []string
	cache   *Cache
}

// NewBinanceFeed creates a feed for the given symbols.
func NewBinanceFeed(cache *Cache, symbols []string) *BinanceFeed {
	return &BinanceFeed{url: binanceStreamURL, symbols: symbols, cache: cache}
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type bookTicker struct {
	Symbol   string `json:"s"`
	BidPrice string `json:"b"`
	BidSize  string `json:"B"`
	AskPrice string `json:"a"`
	AskSize  string `json:"A"`
}

// Run keeps the stream alive until the context ends, reconnecting with
// backoff after drops.
func (f *BinanceFeed) Run(ctx context.Context) {
	bo := backoff.Default()
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}
		if err := f.streamOnce(ctx); err != nil {
			attempt++
			wait := bo.Next(attempt)
			logs.Warnf("quote stream dropped, attempt %d, reconnecting in %s, err: %+v",
				attempt, wait, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		attempt = 0
	}
}

func (f *BinanceFeed) streamOnce(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return errors.Wrap(err, "dial quote stream")
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	params := make([]string, 0, len(f.symbols))
	for _, symbol := range f.symbols {
		params = append(params, strings.ToLower(symbol)+"@bookTicker")
	}
	payload, err := sonic.ConfigFastest.Marshal(subscribeRequest{
		Method: "SUBSCRIBE",
		Params: params,
		ID:     1,
	})
	if err != nil {
		return errors.Wrap(err, "marshal subscribe payload")
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(err, "write subscribe payload")
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read quote stream")
		}
		var tick bookTicker
		if err := sonic.ConfigFastest.Unmarshal(raw, &tick); err != nil || tick.Symbol == "" {
			continue
		}
		f.cache.Update(schema.MarketSnapshot{
			Symbol:   tick.Symbol,
			BidPrice: parseDecimal(tick.BidPrice),
			BidSize:  parseDecimal(tick.BidSize),
			AskPrice: parseDecimal(tick.AskPrice),
			AskSize:  parseDecimal(tick.AskSize),
			Ts:       time.Now(),
		})
	}
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
