package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChildOrder is one slice of a parent order, as submitted to a broker.
type ChildOrder struct {
	ParentID      string
	Slice         int
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      decimal.Decimal
	LimitPrice    decimal.Decimal
	TimeInForce   TimeInForce
	ExtendedHours bool
	ClientOrderID string
}

// Fill is a confirmed execution reported by a broker. Seq is the broker's
// per-order fill sequence; fills for one order are applied in Seq order
// regardless of arrival order.
type Fill struct {
	Broker        string
	BrokerOrderID string
	Symbol        string
	Side          OrderSide
	Quantity      decimal.Decimal
	Price         decimal.Decimal
	Commission    decimal.Decimal
	Seq           uint64
	ExecutedAt    time.Time
}
