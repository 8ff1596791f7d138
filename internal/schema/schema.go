package schema

// OrderSide describes order direction.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// IsValid reports whether the side is a known value.
func (s OrderSide) IsValid() bool {
	return s == OrderSideBuy || s == OrderSideSell
}

// OrderType describes order type.
type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// IsValid reports whether the order type is a known value.
func (t OrderType) IsValid() bool {
	switch t {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStop, OrderTypeStopLimit:
		return true
	default:
		return false
	}
}

// TimeInForce describes how long an order remains active.
type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "gtc"
	TimeInForceIOC TimeInForce = "ioc"
	TimeInForceFOK TimeInForce = "fok"
	TimeInForceDay TimeInForce = "day"
)

// IsValid reports whether the time-in-force is a known value.
func (t TimeInForce) IsValid() bool {
	switch t {
	case TimeInForceGTC, TimeInForceIOC, TimeInForceFOK, TimeInForceDay:
		return true
	default:
		return false
	}
}

// OrderStatus tracks the lifecycle of an order.
type OrderStatus string

const (
	OrderStatusPendingValidation OrderStatus = "pending_validation"
	OrderStatusPendingSubmission OrderStatus = "pending_submission"
	OrderStatusSubmitted         OrderStatus = "submitted"
	OrderStatusPartiallyFilled   OrderStatus = "partially_filled"
	OrderStatusFilled            OrderStatus = "filled"
	OrderStatusCancelling        OrderStatus = "cancelling"
	OrderStatusCancelled         OrderStatus = "cancelled"
	OrderStatusRejected          OrderStatus = "rejected"
	OrderStatusExpired           OrderStatus = "expired"

	// OrderStatusNeedsReconciliation freezes an order whose ledger and broker
	// views disagree until a reconciliation pass resolves it.
	OrderStatusNeedsReconciliation OrderStatus = "needs_reconciliation"
)

// IsTerminal reports whether the status admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// StrategyKind selects an execution algorithm for a parent order.
type StrategyKind string

const (
	StrategyMarketOrder StrategyKind = "market_order"
	StrategyLimitOrder  StrategyKind = "limit_order"
	StrategyTWAP        StrategyKind = "twap"
	StrategyVWAP        StrategyKind = "vwap"
	StrategyIceberg     StrategyKind = "iceberg"
	StrategySmartRouter StrategyKind = "smart_router"
)

// IsValid reports whether the strategy kind is a known value.
func (k StrategyKind) IsValid() bool {
	switch k {
	case StrategyMarketOrder, StrategyLimitOrder, StrategyTWAP,
		StrategyVWAP, StrategyIceberg, StrategySmartRouter:
		return true
	default:
		return false
	}
}

// RejectReason is the machine-readable reason attached to a failed order.
type RejectReason string

const (
	ReasonNone              RejectReason = ""
	ReasonInvalidSymbol     RejectReason = "invalid_symbol"
	ReasonMarketClosed      RejectReason = "market_closed"
	ReasonInsufficientFunds RejectReason = "insufficient_funds"
	ReasonRiskLimitExceeded RejectReason = "risk_limit_exceeded"
	ReasonDuplicateOrder    RejectReason = "duplicate_order"
	ReasonBrokerReject      RejectReason = "broker_reject"
	ReasonBrokerUnavailable RejectReason = "broker_unavailable"
	ReasonTimeInForce       RejectReason = "time_in_force_expired"
	ReasonAckTimeout        RejectReason = "ack_timeout"
)
