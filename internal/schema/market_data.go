package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is the point-in-time market view handed to execution
// strategies. Plans are computed purely from an order and one snapshot.
type MarketSnapshot struct {
	Symbol         string
	BidPrice       decimal.Decimal
	BidSize        decimal.Decimal
	AskPrice       decimal.Decimal
	AskSize        decimal.Decimal
	LastPrice      decimal.Decimal
	AvgDailyVolume decimal.Decimal
	Volatility     decimal.Decimal
	Ts             time.Time
}

// Mid returns the quote midpoint, falling back to the last trade price when
// one side of the book is empty.
func (s MarketSnapshot) Mid() decimal.Decimal {
	if s.BidPrice.IsPositive() && s.AskPrice.IsPositive() {
		return s.BidPrice.Add(s.AskPrice).Div(decimal.NewFromInt(2))
	}
	return s.LastPrice
}

// Spread returns the ask/bid spread, zero when the book is one-sided.
func (s MarketSnapshot) Spread() decimal.Decimal {
	if s.BidPrice.IsPositive() && s.AskPrice.IsPositive() {
		return s.AskPrice.Sub(s.BidPrice)
	}
	return decimal.Zero
}

// SpreadBps returns the spread in basis points of the midpoint.
func (s MarketSnapshot) SpreadBps() decimal.Decimal {
	mid := s.Mid()
	if !mid.IsPositive() {
		return decimal.Zero
	}
	return s.Spread().Div(mid).Mul(decimal.NewFromInt(10000))
}
