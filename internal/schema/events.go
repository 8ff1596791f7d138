package schema

import "time"

// EventType is the category of a published order event.
type EventType string

const (
	EventOrderCreated   EventType = "order_created"
	EventOrderSubmitted EventType = "order_submitted"
	EventOrderFilled    EventType = "order_filled"
	// EventOrderCancelRequested marks the cancelling transition; the order
	// settles cancelled only once the broker has answered.
	EventOrderCancelRequested EventType = "order_cancel_requested"
	EventOrderCancelled       EventType = "order_cancelled"
	EventOrderRejected        EventType = "order_rejected"
	EventOrderExpired         EventType = "order_expired"
	EventTradeExecuted        EventType = "trade_executed"
	// EventOrderFrozen marks an order parked in needs_reconciliation after
	// a ledger/broker conflict.
	EventOrderFrozen EventType = "order_frozen"
)

// Event is published on the in-process bus for risk monitoring and
// portfolio valuation consumers.
type Event struct {
	Type    EventType
	OrderID string
	Symbol  string
	Status  OrderStatus
	Reason  RejectReason
	Seq     uint64
	Ts      time.Time
}
