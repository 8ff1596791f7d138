package schema

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// OrderIntent is the inbound request to trade, before validation.
type OrderIntent struct {
	PortfolioID    string          `json:"portfolioId"`
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Type           OrderType       `json:"type"`
	Quantity       decimal.Decimal `json:"quantity"`
	LimitPrice     decimal.Decimal `json:"limitPrice"`
	StopPrice      decimal.Decimal `json:"stopPrice"`
	TimeInForce    TimeInForce     `json:"timeInForce"`
	Strategy       StrategyKind    `json:"strategy"`
	StrategyParams datatypes.JSON  `json:"strategyParams"`
	ExtendedHours  bool            `json:"extendedHours"`
	ClientOrderID  string          `json:"clientOrderId"`
}

// Order is the ledger view of a parent order.
type Order struct {
	ID             string          `gorm:"type:uuid;primaryKey" json:"id"`
	PortfolioID    string          `gorm:"type:uuid;not null;index" json:"portfolioId"`
	Symbol         string          `gorm:"size:32;not null;index" json:"symbol"`
	Side           OrderSide       `gorm:"size:8;not null" json:"side"`
	Type           OrderType       `gorm:"size:16;not null" json:"type"`
	Quantity       decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"quantity"`
	LimitPrice     decimal.Decimal `gorm:"type:numeric(30,10)" json:"limitPrice"`
	StopPrice      decimal.Decimal `gorm:"type:numeric(30,10)" json:"stopPrice"`
	TimeInForce    TimeInForce     `gorm:"size:8;not null" json:"timeInForce"`
	Status         OrderStatus     `gorm:"size:24;not null;index" json:"status"`
	StatusReason   RejectReason    `gorm:"size:32" json:"statusReason"`
	Broker         string          `gorm:"size:32" json:"broker"`
	BrokerOrderID  string          `gorm:"size:64;index" json:"brokerOrderId"`
	Strategy       StrategyKind    `gorm:"size:16;not null" json:"strategy"`
	StrategyParams datatypes.JSON  `gorm:"type:jsonb" json:"strategyParams"`
	FilledQuantity decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"filledQuantity"`
	AvgFillPrice   decimal.Decimal `gorm:"type:numeric(30,10)" json:"avgFillPrice"`
	Commission     decimal.Decimal `gorm:"type:numeric(30,10)" json:"commission"`
	ArrivalPrice   decimal.Decimal `gorm:"type:numeric(30,10)" json:"arrivalPrice"`
	LastFillSeq    uint64          `gorm:"not null;default:0" json:"lastFillSeq"`
	ExtendedHours  bool            `json:"extendedHours"`
	ClientOrderID  string          `gorm:"size:64" json:"clientOrderId"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// TableName maps Order onto the execution schema.
func (Order) TableName() string { return "execution.orders" }

// LeavesQuantity returns the unfilled remainder.
func (o *Order) LeavesQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Trade is one confirmed broker fill. Trades are immutable once recorded.
type Trade struct {
	ID         string          `gorm:"type:uuid;primaryKey" json:"id"`
	OrderID    string          `gorm:"type:uuid;not null;index" json:"orderId"`
	Symbol     string          `gorm:"size:32;not null" json:"symbol"`
	Side       OrderSide       `gorm:"size:8;not null" json:"side"`
	Quantity   decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"quantity"`
	Price      decimal.Decimal `gorm:"type:numeric(30,10);not null" json:"price"`
	Commission decimal.Decimal `gorm:"type:numeric(30,10)" json:"commission"`
	Seq        uint64          `gorm:"not null" json:"seq"`
	ExecutedAt time.Time       `gorm:"not null" json:"executedAt"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// TableName maps Trade onto the execution schema.
func (Trade) TableName() string { return "execution.trades" }

// BrokerAccount holds per-broker account capabilities. Credential material is
// referenced by secret name only and resolved through the secrets provider.
type BrokerAccount struct {
	ID               string    `gorm:"type:uuid;primaryKey" json:"id"`
	Broker           string    `gorm:"size:32;not null;index" json:"broker"`
	AccountNumber    string    `gorm:"size:64;not null" json:"accountNumber"`
	CredentialsRef   string    `gorm:"size:128;not null" json:"-"`
	FractionalShares bool      `json:"fractionalShares"`
	ExtendedHours    bool      `json:"extendedHours"`
	ShortSelling     bool      `json:"shortSelling"`
	Active           bool      `gorm:"not null;default:true;index" json:"active"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// TableName maps BrokerAccount onto the execution schema.
func (BrokerAccount) TableName() string { return "execution.broker_accounts" }

// OrderEvent records a single state transition together with its trigger so
// order state can be rebuilt from the ledger alone.
type OrderEvent struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   string         `gorm:"type:uuid;not null;index" json:"orderId"`
	Type      EventType      `gorm:"size:24;not null" json:"type"`
	From      OrderStatus    `gorm:"size:24" json:"from"`
	To        OrderStatus    `gorm:"size:24" json:"to"`
	Payload   datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}

// TableName maps OrderEvent onto the execution schema.
func (OrderEvent) TableName() string { return "execution.order_events" }
