package oms

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/broker"
	"main/internal/schema"
	"main/pkg/exception"
)

// transitions lists the legal forward edges of the order lifecycle. The
// lifecycle is monotonic; terminal states have no outgoing edges.
var transitions = map[schema.OrderStatus][]schema.OrderStatus{
	schema.OrderStatusPendingValidation: {
		schema.OrderStatusPendingSubmission,
		schema.OrderStatusRejected,
	},
	schema.OrderStatusPendingSubmission: {
		schema.OrderStatusSubmitted,
		schema.OrderStatusRejected,
		schema.OrderStatusCancelled,
	},
	schema.OrderStatusSubmitted: {
		schema.OrderStatusPartiallyFilled,
		schema.OrderStatusFilled,
		schema.OrderStatusCancelling,
		schema.OrderStatusCancelled,
		schema.OrderStatusRejected,
		schema.OrderStatusExpired,
		schema.OrderStatusNeedsReconciliation,
	},
	schema.OrderStatusPartiallyFilled: {
		schema.OrderStatusPartiallyFilled,
		schema.OrderStatusFilled,
		schema.OrderStatusCancelling,
		schema.OrderStatusCancelled,
		schema.OrderStatusExpired,
		schema.OrderStatusNeedsReconciliation,
	},
	schema.OrderStatusCancelling: {
		schema.OrderStatusPartiallyFilled,
		schema.OrderStatusFilled,
		schema.OrderStatusCancelled,
		schema.OrderStatusExpired,
		schema.OrderStatusNeedsReconciliation,
	},
	schema.OrderStatusNeedsReconciliation: {
		schema.OrderStatusCancelled,
		schema.OrderStatusFilled,
	},
}

func canTransition(from, to schema.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// childState tracks the broker-side fill sequence for one child order so
// out-of-order fills can be held back and applied in sequence.
type childState struct {
	orderID string
	lastSeq uint64
	pending map[uint64]schema.Fill
}

// Applied is the outcome of one accepted fill: the trade it produced and the
// transition it caused.
type Applied struct {
	Trade schema.Trade
	From  schema.OrderStatus
	To    schema.OrderStatus
}

// StateMachine holds the in-memory view of working orders. It is not safe
// for concurrent use; the manager's single writer loop owns it.
type StateMachine struct {
	orders   map[string]*schema.Order
	children map[string]*childState

	now func() time.Time
}

// NewStateMachine creates an empty state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		orders:   make(map[string]*schema.Order),
		children: make(map[string]*childState),
		now:      time.Now,
	}
}

// Track registers an order. The order is copied; callers keep no aliasing
// handle into the machine.
func (m *StateMachine) Track(order schema.Order) error {
	if _, ok := m.orders[order.ID]; ok {
		return errors.Wrap(exception.ErrOrderDuplicate, order.ID)
	}
	o := order
	m.orders[order.ID] = &o
	return nil
}

// Order returns a copy of the tracked order.
func (m *StateMachine) Order(id string) (schema.Order, error) {
	o, ok := m.orders[id]
	if !ok {
		return schema.Order{}, errors.Wrap(exception.ErrOrderNotFound, id)
	}
	return *o, nil
}

// Orders returns copies of every tracked order.
func (m *StateMachine) Orders() []schema.Order {
	out := make([]schema.Order, 0, len(m.orders))
	for _, o := range m.orders {
		out = append(out, *o)
	}
	return out
}

// Bind associates a broker order reference with a parent so inbound fills
// can be routed by broker order id.
func (m *StateMachine) Bind(orderID string, ref broker.OrderRef) error {
	o, ok := m.orders[orderID]
	if !ok {
		return errors.Wrap(exception.ErrOrderNotFound, orderID)
	}
	o.Broker = ref.Broker
	o.BrokerOrderID = ref.BrokerOrderID
	m.children[childKey(ref.Broker, ref.BrokerOrderID)] = &childState{
		orderID: orderID,
		pending: make(map[uint64]schema.Fill),
	}
	return nil
}

// Resolve maps a broker order id back to the parent order id.
func (m *StateMachine) Resolve(brokerName, brokerOrderID string) (string, bool) {
	cs, ok := m.children[childKey(brokerName, brokerOrderID)]
	if !ok {
		return "", false
	}
	return cs.orderID, true
}

// Transition moves an order to a new status. Terminal orders never move
// again; illegal edges fail without mutating the order.
func (m *StateMachine) Transition(orderID string, to schema.OrderStatus, reason schema.RejectReason) (schema.Order, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return schema.Order{}, errors.Wrap(exception.ErrOrderNotFound, orderID)
	}
	if o.Status.IsTerminal() {
		return *o, errors.Wrap(exception.ErrOrderAlreadyTerminal, string(o.Status))
	}
	if !canTransition(o.Status, to) {
		return *o, errors.Wrapf(exception.ErrOrderInvalidTransition, "%s -> %s", o.Status, to)
	}
	o.Status = to
	if reason != schema.ReasonNone {
		o.StatusReason = reason
	}
	o.UpdatedAt = m.now()
	return *o, nil
}

// ApplyFill routes a broker fill to its parent order. Fills apply strictly
// in per-child sequence order: a gap buffers the fill, a repeat is rejected
// as stale. One inbound fill can release several buffered ones; every
// released fill is returned in application order.
func (m *StateMachine) ApplyFill(fill schema.Fill) ([]Applied, error) {
	cs, ok := m.children[childKey(fill.Broker, fill.BrokerOrderID)]
	if !ok {
		return nil, errors.Wrapf(exception.ErrOrderNotFound, "broker order %s", fill.BrokerOrderID)
	}
	if fill.Seq <= cs.lastSeq {
		return nil, errors.Wrapf(exception.ErrOrderStaleFill, "seq %d <= %d", fill.Seq, cs.lastSeq)
	}
	if fill.Seq != cs.lastSeq+1 {
		cs.pending[fill.Seq] = fill
		return nil, nil
	}

	var applied []Applied
	next := fill
	for {
		a, err := m.applyOne(cs.orderID, next)
		if err != nil {
			return applied, err
		}
		cs.lastSeq = next.Seq
		applied = append(applied, a)

		buffered, ok := cs.pending[cs.lastSeq+1]
		if !ok {
			return applied, nil
		}
		delete(cs.pending, cs.lastSeq+1)
		next = buffered
	}
}

func (m *StateMachine) applyOne(orderID string, fill schema.Fill) (Applied, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return Applied{}, errors.Wrap(exception.ErrOrderNotFound, orderID)
	}
	if !fill.Quantity.IsPositive() {
		return Applied{}, errors.Wrap(exception.ErrOrderInvalidFill, orderID)
	}
	if o.Status.IsTerminal() {
		// A fill after a terminal state means the broker and ledger
		// disagree; freeze the order for manual review.
		from := o.Status
		o.Status = schema.OrderStatusNeedsReconciliation
		o.UpdatedAt = m.now()
		return Applied{From: from, To: o.Status},
			errors.Wrapf(exception.ErrOrderReconciliation, "fill after %s", from)
	}
	if fill.Quantity.GreaterThan(o.LeavesQuantity()) {
		return Applied{}, errors.Wrapf(exception.ErrOrderOverfill, "fill %s leaves %s",
			fill.Quantity, o.LeavesQuantity())
	}

	from := o.Status
	notional := o.AvgFillPrice.Mul(o.FilledQuantity).Add(fill.Price.Mul(fill.Quantity))
	o.FilledQuantity = o.FilledQuantity.Add(fill.Quantity)
	o.AvgFillPrice = notional.Div(o.FilledQuantity)
	o.Commission = o.Commission.Add(fill.Commission)
	o.LastFillSeq++

	if o.LeavesQuantity().IsZero() {
		o.Status = schema.OrderStatusFilled
	} else if o.Status != schema.OrderStatusCancelling {
		o.Status = schema.OrderStatusPartiallyFilled
	}
	o.UpdatedAt = m.now()

	trade := schema.Trade{
		ID:         uuid.NewString(),
		OrderID:    o.ID,
		Symbol:     fill.Symbol,
		Side:       o.Side,
		Quantity:   fill.Quantity,
		Price:      fill.Price,
		Commission: fill.Commission,
		Seq:        o.LastFillSeq,
		ExecutedAt: fill.ExecutedAt,
	}
	if trade.Symbol == "" {
		trade.Symbol = o.Symbol
	}
	return Applied{Trade: trade, From: from, To: o.Status}, nil
}

// Forget drops a terminal order and its child bindings from the working set.
func (m *StateMachine) Forget(orderID string) {
	o, ok := m.orders[orderID]
	if !ok || !o.Status.IsTerminal() {
		return
	}
	delete(m.orders, orderID)
	for key, cs := range m.children {
		if cs.orderID == orderID {
			delete(m.children, key)
		}
	}
}

// Leaves returns the unfilled remainder of an order.
func (m *StateMachine) Leaves(orderID string) (decimal.Decimal, error) {
	o, ok := m.orders[orderID]
	if !ok {
		return decimal.Zero, errors.Wrap(exception.ErrOrderNotFound, orderID)
	}
	return o.LeavesQuantity(), nil
}

// Working reports whether an order can still accept child submissions.
func (m *StateMachine) Working(orderID string) bool {
	o, ok := m.orders[orderID]
	if !ok {
		return false
	}
	switch o.Status {
	case schema.OrderStatusPendingSubmission,
		schema.OrderStatusSubmitted,
		schema.OrderStatusPartiallyFilled:
		return true
	default:
		return false
	}
}

func childKey(brokerName, brokerOrderID string) string {
	return brokerName + "|" + brokerOrderID
}
