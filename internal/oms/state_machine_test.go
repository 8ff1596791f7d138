package oms

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/broker"
	"main/internal/schema"
	"main/pkg/exception"
)

func trackedOrder(t *testing.T, m *StateMachine, qty int64) schema.Order {
	t.Helper()
	order := schema.Order{
		ID:          "order-1",
		PortfolioID: "pf-1",
		Symbol:      "AAPL",
		Side:        schema.OrderSideBuy,
		Type:        schema.OrderTypeLimit,
		Quantity:    decimal.NewFromInt(qty),
		Status:      schema.OrderStatusPendingValidation,
	}
	if err := m.Track(order); err != nil {
		t.Fatalf("track order: %v", err)
	}
	return order
}

func advance(t *testing.T, m *StateMachine, id string, statuses ...schema.OrderStatus) {
	t.Helper()
	for _, status := range statuses {
		if _, err := m.Transition(id, status, schema.ReasonNone); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}
}

func fill(seq uint64, qty, price int64) schema.Fill {
	return schema.Fill{
		Broker:        "sim",
		BrokerOrderID: "b-1",
		Symbol:        "AAPL",
		Quantity:      decimal.NewFromInt(qty),
		Price:         decimal.NewFromInt(price),
		Seq:           seq,
		ExecutedAt:    time.Now(),
	}
}

func TestTransitionLifecycle(t *testing.T) {
	m := NewStateMachine()
	order := trackedOrder(t, m, 100)

	advance(t, m, order.ID,
		schema.OrderStatusPendingSubmission,
		schema.OrderStatusSubmitted,
		schema.OrderStatusPartiallyFilled,
		schema.OrderStatusFilled,
	)

	got, err := m.Order(order.ID)
	if err != nil {
		t.Fatalf("load order: %v", err)
	}
	if got.Status != schema.OrderStatusFilled {
		t.Fatalf("status mismatch! should be %s but got %s", schema.OrderStatusFilled, got.Status)
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	m := NewStateMachine()
	order := trackedOrder(t, m, 100)

	if _, err := m.Transition(order.ID, schema.OrderStatusFilled, schema.ReasonNone); !errors.Is(err, exception.ErrOrderInvalidTransition) {
		t.Fatalf("should reject pending_validation -> filled, got %v", err)
	}

	got, _ := m.Order(order.ID)
	if got.Status != schema.OrderStatusPendingValidation {
		t.Fatalf("failed transition must not mutate status, got %s", got.Status)
	}
}

func TestTerminalOrderIsImmutable(t *testing.T) {
	m := NewStateMachine()
	order := trackedOrder(t, m, 100)
	advance(t, m, order.ID, schema.OrderStatusRejected)

	if _, err := m.Transition(order.ID, schema.OrderStatusCancelled, schema.ReasonNone); !errors.Is(err, exception.ErrOrderAlreadyTerminal) {
		t.Fatalf("should refuse to move terminal order, got %v", err)
	}
}

func TestApplyFillAccumulates(t *testing.T) {
	m := NewStateMachine()
	order := trackedOrder(t, m, 100)
	advance(t, m, order.ID, schema.OrderStatusPendingSubmission, schema.OrderStatusSubmitted)
	if err := m.Bind(order.ID, broker.OrderRef{Broker: "sim", BrokerOrderID: "b-1"}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if _, err := m.ApplyFill(fill(1, 40, 10)); err != nil {
		t.Fatalf("apply first fill: %v", err)
	}
	applied, err := m.ApplyFill(fill(2, 60, 20))
	if err != nil {
		t.Fatalf("apply second fill: %v", err)
	}
	if len(applied) != 1 || applied[0].To != schema.OrderStatusFilled {
		t.Fatalf("final fill should complete the order, got %+v", applied)
	}

	got, _ := m.Order(order.ID)
	if !got.FilledQuantity.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("filled quantity mismatch! should be 100 but got %s", got.FilledQuantity)
	}
	// 40*10 + 60*20 = 1600 over 100 shares.
	if !got.AvgFillPrice.Equal(decimal.NewFromInt(16)) {
		t.Fatalf("avg fill price mismatch! should be 16 but got %s", got.AvgFillPrice)
	}
	if got.LastFillSeq != 2 {
		t.Fatalf("fill seq mismatch! should be 2 but got %d", got.LastFillSeq)
	}
}

func TestApplyFillBuffersOutOfOrder(t *testing.T) {
	m := NewStateMachine()
	order := trackedOrder(t, m, 100)
	advance(t, m, order.ID, schema.OrderStatusPendingSubmission, schema.OrderStatusSubmitted)
	if err := m.Bind(order.ID, broker.OrderRef{Broker: "sim", BrokerOrderID: "b-1"}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	// Seq 2 and 3 arrive before seq 1; they must be held back.
	applied, err := m.ApplyFill(fill(2, 30, 10))
	if err != nil || len(applied) != 0 {
		t.Fatalf("gapped fill should buffer, got applied=%d err=%v", len(applied), err)
	}
	applied, err = m.ApplyFill(fill(3, 50, 10))
	if err != nil || len(applied) != 0 {
		t.Fatalf("gapped fill should buffer, got applied=%d err=%v", len(applied), err)
	}

	applied, err = m.ApplyFill(fill(1, 20, 10))
	if err != nil {
		t.Fatalf("seq 1 should release the buffer: %v", err)
	}
	if len(applied) != 3 {
		t.Fatalf("release count mismatch! should be 3 but got %d", len(applied))
	}
	for i, a := range applied {
		if a.Trade.Seq != uint64(i+1) {
			t.Fatalf("trade %d out of order, seq %d", i, a.Trade.Seq)
		}
	}

	got, _ := m.Order(order.ID)
	if got.Status != schema.OrderStatusFilled {
		t.Fatalf("status mismatch! should be %s but got %s", schema.OrderStatusFilled, got.Status)
	}
}

func TestApplyFillRejectsStaleAndOverfill(t *testing.T) {
	m := NewStateMachine()
	order := trackedOrder(t, m, 100)
	advance(t, m, order.ID, schema.OrderStatusPendingSubmission, schema.OrderStatusSubmitted)
	if err := m.Bind(order.ID, broker.OrderRef{Broker: "sim", BrokerOrderID: "b-1"}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if _, err := m.ApplyFill(fill(1, 40, 10)); err != nil {
		t.Fatalf("apply fill: %v", err)
	}
	if _, err := m.ApplyFill(fill(1, 40, 10)); !errors.Is(err, exception.ErrOrderStaleFill) {
		t.Fatalf("repeated seq should be stale, got %v", err)
	}
	if _, err := m.ApplyFill(fill(2, 70, 10)); !errors.Is(err, exception.ErrOrderOverfill) {
		t.Fatalf("fill beyond leaves should overfill, got %v", err)
	}

	got, _ := m.Order(order.ID)
	if !got.FilledQuantity.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("rejected fills must not change quantity, got %s", got.FilledQuantity)
	}
}

func TestFillDuringCancellingStillApplies(t *testing.T) {
	m := NewStateMachine()
	order := trackedOrder(t, m, 100)
	advance(t, m, order.ID,
		schema.OrderStatusPendingSubmission,
		schema.OrderStatusSubmitted,
		schema.OrderStatusCancelling,
	)
	if err := m.Bind(order.ID, broker.OrderRef{Broker: "sim", BrokerOrderID: "b-1"}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	if _, err := m.ApplyFill(fill(1, 100, 10)); err != nil {
		t.Fatalf("racing fill should apply: %v", err)
	}
	got, _ := m.Order(order.ID)
	if got.Status != schema.OrderStatusFilled {
		t.Fatalf("fully filled during cancel should settle filled, got %s", got.Status)
	}
}

func TestFillAfterTerminalFreezesOrder(t *testing.T) {
	m := NewStateMachine()
	order := trackedOrder(t, m, 100)
	advance(t, m, order.ID,
		schema.OrderStatusPendingSubmission,
		schema.OrderStatusSubmitted,
	)
	if err := m.Bind(order.ID, broker.OrderRef{Broker: "sim", BrokerOrderID: "b-1"}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	advance(t, m, order.ID, schema.OrderStatusCancelled)

	if _, err := m.ApplyFill(fill(1, 10, 10)); !errors.Is(err, exception.ErrOrderReconciliation) {
		t.Fatalf("late fill should trigger reconciliation, got %v", err)
	}
	got, _ := m.Order(order.ID)
	if got.Status != schema.OrderStatusNeedsReconciliation {
		t.Fatalf("status mismatch! should be %s but got %s", schema.OrderStatusNeedsReconciliation, got.Status)
	}
}

func TestWorkingAndLeaves(t *testing.T) {
	m := NewStateMachine()
	order := trackedOrder(t, m, 100)

	if m.Working(order.ID) {
		t.Fatal("pending_validation order should not accept children")
	}
	advance(t, m, order.ID, schema.OrderStatusPendingSubmission)
	if !m.Working(order.ID) {
		t.Fatal("pending_submission order should accept children")
	}

	leaves, err := m.Leaves(order.ID)
	if err != nil {
		t.Fatalf("leaves: %v", err)
	}
	if !leaves.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("leaves mismatch! should be 100 but got %s", leaves)
	}
}
