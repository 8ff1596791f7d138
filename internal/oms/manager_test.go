package oms

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/broker"
	"main/internal/bus"
	"main/internal/obs"
	"main/internal/risk"
	"main/internal/schema"
	"main/internal/validate"
	"main/pkg/exception"
)

type fakeLedger struct {
	mu          sync.Mutex
	saved       []schema.Order
	transitions []schema.OrderEvent
	trades      []schema.Trade
}

func (l *fakeLedger) SaveOrder(_ context.Context, order schema.Order, _ schema.OrderEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.saved = append(l.saved, order)
	return nil
}

func (l *fakeLedger) ApplyTransition(_ context.Context, _ schema.Order, event schema.OrderEvent, trade *schema.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, event)
	if trade != nil {
		l.trades = append(l.trades, *trade)
	}
	return nil
}

func (l *fakeLedger) OpenOrders(context.Context) ([]schema.Order, error) { return nil, nil }

func (l *fakeLedger) events() []schema.OrderEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]schema.OrderEvent, len(l.transitions))
	copy(out, l.transitions)
	return out
}

func (l *fakeLedger) tradeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.trades)
}

type fakeExecutor struct {
	mu        sync.Mutex
	executed  []schema.Order
	cancelled []string
	err       error
}

func (e *fakeExecutor) Execute(_ context.Context, order schema.Order, _ broker.Broker) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	e.executed = append(e.executed, order)
	return nil
}

func (e *fakeExecutor) Cancel(orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = append(e.cancelled, orderID)
	return true
}

type chanBroker struct {
	fills chan schema.Fill

	mu      sync.Mutex
	cancels []broker.OrderRef
}

func newChanBroker() *chanBroker {
	return &chanBroker{fills: make(chan schema.Fill, 16)}
}

func (b *chanBroker) Name() string { return "test" }

func (b *chanBroker) Submit(context.Context, schema.ChildOrder) (broker.OrderRef, error) {
	return broker.OrderRef{Broker: "test", BrokerOrderID: "t-1"}, nil
}

func (b *chanBroker) Cancel(_ context.Context, ref broker.OrderRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancels = append(b.cancels, ref)
	return nil
}

func (b *chanBroker) StreamFills(context.Context) (<-chan schema.Fill, error) {
	return b.fills, nil
}

func (b *chanBroker) OpenOrders(context.Context) ([]string, error) { return nil, nil }

// gateBroker holds broker cancels until the gate opens, so tests can pin an
// order in cancelling.
type gateBroker struct {
	*chanBroker
	gate chan struct{}
}

func (b *gateBroker) Cancel(ctx context.Context, ref broker.OrderRef) error {
	<-b.gate
	return b.chanBroker.Cancel(ctx, ref)
}

type managerFixture struct {
	manager *Manager
	ledger  *fakeLedger
	exec    *fakeExecutor
	broker  *chanBroker
	funds   *validate.StaticFunds
	cancel  context.CancelFunc
}

func newManagerFixture(t *testing.T) *managerFixture {
	return newManagerFixtureWith(t, nil)
}

// newManagerFixtureWith lets a test interpose on the broker the manager
// talks to.
func newManagerFixtureWith(t *testing.T, wrap func(*chanBroker) broker.Broker) *managerFixture {
	t.Helper()
	ledger := &fakeLedger{}
	exec := &fakeExecutor{}
	b := newChanBroker()
	var installed broker.Broker = b
	if wrap != nil {
		installed = wrap(b)
	}

	registry := schema.NewRegistry()
	hours := schema.MarketHours{
		Open: 0, Close: 1440,
		Timezone: "UTC",
		Weekdays: [7]bool{true, true, true, true, true, true, true},
	}
	if err := registry.AddExchange(schema.Exchange{Name: "XNYS", Hours: hours}); err != nil {
		t.Fatalf("add exchange: %v", err)
	}
	if err := registry.AddSymbol(schema.Symbol{Name: "AAPL", Exchange: "XNYS", Tradable: true}); err != nil {
		t.Fatalf("add symbol: %v", err)
	}

	m := NewManager(Config{DefaultBroker: "test", SweepInterval: time.Hour},
		ledger, map[string]broker.Broker{"test": installed}, registry,
		&bus.Fanout{}, risk.NewEngine(risk.Config{}), obs.NewMetrics())
	m.SetExecutor(exec)
	funds := validate.NewStaticFunds(validate.FundsConfig{Default: "1000000"})
	m.SetFunds(funds)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = m.Run(ctx) }()
	t.Cleanup(cancel)

	return &managerFixture{manager: m, ledger: ledger, exec: exec, broker: b, funds: funds, cancel: cancel}
}

func validatedOrder(id string) schema.Order {
	now := time.Now().UTC()
	return schema.Order{
		ID:             id,
		PortfolioID:    "pf-1",
		Symbol:         "AAPL",
		Side:           schema.OrderSideBuy,
		Type:           schema.OrderTypeLimit,
		Quantity:       decimal.NewFromInt(100),
		LimitPrice:     decimal.NewFromInt(100),
		TimeInForce:    schema.TimeInForceGTC,
		Status:         schema.OrderStatusPendingValidation,
		Strategy:       schema.StrategyLimitOrder,
		FilledQuantity: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func waitStatus(t *testing.T, m *Manager, orderID string, want schema.OrderStatus) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		order, err := m.Order(context.Background(), orderID)
		if err == nil && order.Status == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("order %s never reached %s, last: %+v err: %v", orderID, want, order.Status, err)
		}
		time.Sleep(time.Millisecond)
	}
}

func fillOf(qty int64, seq uint64) schema.Fill {
	return fillAt("t-1", qty, seq)
}

func fillAt(ref string, qty int64, seq uint64) schema.Fill {
	return schema.Fill{
		Broker:        "test",
		BrokerOrderID: ref,
		Symbol:        "AAPL",
		Side:          schema.OrderSideBuy,
		Quantity:      decimal.NewFromInt(qty),
		Price:         decimal.NewFromInt(100),
		Seq:           seq,
		ExecutedAt:    time.Now().UTC(),
	}
}

func TestSubmitPersistsAndHandsToExecutor(t *testing.T) {
	f := newManagerFixture(t)

	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	order, err := f.manager.Order(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if order.Status != schema.OrderStatusPendingSubmission {
		t.Fatalf("status mismatch! should be %s but got %s", schema.OrderStatusPendingSubmission, order.Status)
	}

	f.exec.mu.Lock()
	executed := len(f.exec.executed)
	f.exec.mu.Unlock()
	if executed != 1 {
		t.Fatalf("executor should receive the order, got %d", executed)
	}

	f.ledger.mu.Lock()
	saved := len(f.ledger.saved)
	f.ledger.mu.Unlock()
	if saved != 1 {
		t.Fatalf("order should be journaled once, got %d", saved)
	}
}

func TestSubmitDuplicateIDRejected(t *testing.T) {
	f := newManagerFixture(t)

	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); !errors.Is(err, exception.ErrOrderDuplicate) {
		t.Fatalf("second submit should fail with duplicate, got %v", err)
	}
}

func TestSubmitRejectsWhenExecutorFails(t *testing.T) {
	f := newManagerFixture(t)
	f.exec.err = errors.New("scheduler saturated")

	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); err == nil {
		t.Fatal("submit should surface the executor failure")
	}

	// The reject path forgets the order.
	if _, err := f.manager.Order(context.Background(), "order-1"); !errors.Is(err, exception.ErrOrderNotFound) {
		t.Fatalf("rejected order should leave the working set, got %v", err)
	}

	var sawReject bool
	for _, event := range f.ledger.events() {
		if event.Type == schema.EventOrderRejected {
			sawReject = true
		}
	}
	if !sawReject {
		t.Fatal("rejection should be persisted")
	}
}

func TestFillsDriveOrderToFilled(t *testing.T) {
	f := newManagerFixture(t)

	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.manager.ChildSubmitted("order-1", broker.OrderRef{Broker: "test", BrokerOrderID: "t-1"})
	waitStatus(t, f.manager, "order-1", schema.OrderStatusSubmitted)

	f.broker.fills <- fillOf(40, 1)
	waitStatus(t, f.manager, "order-1", schema.OrderStatusPartiallyFilled)

	leaves, err := f.manager.Leaves("order-1")
	if err != nil {
		t.Fatalf("leaves: %v", err)
	}
	if !leaves.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("leaves mismatch! should be 60 but got %s", leaves)
	}

	f.broker.fills <- fillOf(60, 2)
	deadline := time.Now().Add(2 * time.Second)
	for f.ledger.tradeCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("trades never persisted, got %d", f.ledger.tradeCount())
		}
		time.Sleep(time.Millisecond)
	}

	// Filled orders stay queryable through the late-fill grace window.
	order, err := f.manager.Order(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("filled order should stay tracked, got %v", err)
	}
	if order.Status != schema.OrderStatusFilled || !order.FilledQuantity.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("order mismatch! should be filled 100 but got %s %s", order.Status, order.FilledQuantity)
	}

	var sawFilled bool
	for _, event := range f.ledger.events() {
		if event.Type == schema.EventOrderFilled {
			sawFilled = true
		}
	}
	if !sawFilled {
		t.Fatal("terminal fill should be persisted as order_filled")
	}
}

func TestCancelBeforeSubmissionSettlesImmediately(t *testing.T) {
	f := newManagerFixture(t)

	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := f.manager.Cancel(context.Background(), "order-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	f.exec.mu.Lock()
	cancelled := len(f.exec.cancelled)
	f.exec.mu.Unlock()
	if cancelled != 1 {
		t.Fatalf("plan should be cancelled, got %d", cancelled)
	}

	// Nothing reached the broker yet, so no broker cancel is issued.
	f.broker.mu.Lock()
	brokerCancels := len(f.broker.cancels)
	f.broker.mu.Unlock()
	if brokerCancels != 0 {
		t.Fatalf("no broker cancel expected, got %d", brokerCancels)
	}
}

func TestCancelWorkingOrderReachesBroker(t *testing.T) {
	f := newManagerFixture(t)

	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.manager.ChildSubmitted("order-1", broker.OrderRef{Broker: "test", BrokerOrderID: "t-1"})
	waitStatus(t, f.manager, "order-1", schema.OrderStatusSubmitted)

	if err := f.manager.Cancel(context.Background(), "order-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitStatus(t, f.manager, "order-1", schema.OrderStatusCancelled)

	f.broker.mu.Lock()
	defer f.broker.mu.Unlock()
	if len(f.broker.cancels) != 1 || f.broker.cancels[0].BrokerOrderID != "t-1" {
		t.Fatalf("broker should see the cancel for t-1, got %+v", f.broker.cancels)
	}
}

func TestCancelTerminalOrderFails(t *testing.T) {
	f := newManagerFixture(t)

	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.manager.ChildSubmitted("order-1", broker.OrderRef{Broker: "test", BrokerOrderID: "t-1"})
	if err := f.manager.Cancel(context.Background(), "order-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitStatus(t, f.manager, "order-1", schema.OrderStatusCancelled)

	if err := f.manager.Cancel(context.Background(), "order-1"); !errors.Is(err, exception.ErrOrderAlreadyTerminal) {
		t.Fatalf("second cancel should fail, got %v", err)
	}
}

func TestCancelFilledOrderReportsTerminal(t *testing.T) {
	f := newManagerFixture(t)

	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.manager.ChildSubmitted("order-1", broker.OrderRef{Broker: "test", BrokerOrderID: "t-1"})
	f.broker.fills <- fillOf(100, 1)
	waitStatus(t, f.manager, "order-1", schema.OrderStatusFilled)

	if err := f.manager.Cancel(context.Background(), "order-1"); !errors.Is(err, exception.ErrOrderAlreadyTerminal) {
		t.Fatalf("cancel of a filled order should report terminal, got %v", err)
	}
}

func TestFillAfterConfirmedCancelFreezesOrder(t *testing.T) {
	f := newManagerFixture(t)

	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.manager.ChildSubmitted("order-1", broker.OrderRef{Broker: "test", BrokerOrderID: "t-1"})
	if err := f.manager.Cancel(context.Background(), "order-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitStatus(t, f.manager, "order-1", schema.OrderStatusCancelled)

	// A fill arriving after the broker confirmed the cancel means broker
	// and ledger disagree. It must not apply silently; the order is frozen
	// for reconciliation instead.
	f.broker.fills <- fillOf(40, 1)
	waitStatus(t, f.manager, "order-1", schema.OrderStatusNeedsReconciliation)

	var sawFrozen bool
	for _, event := range f.ledger.events() {
		if event.Type == schema.EventOrderFrozen {
			sawFrozen = true
		}
	}
	if !sawFrozen {
		t.Fatal("reconciliation freeze should be persisted")
	}
	if f.ledger.tradeCount() != 0 {
		t.Fatalf("frozen fill must not persist a trade, got %d", f.ledger.tradeCount())
	}
}

func TestFillRacingCancelIsApplied(t *testing.T) {
	gate := make(chan struct{})
	f := newManagerFixtureWith(t, func(cb *chanBroker) broker.Broker {
		return &gateBroker{chanBroker: cb, gate: gate}
	})

	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.manager.ChildSubmitted("order-1", broker.OrderRef{Broker: "test", BrokerOrderID: "t-1"})
	waitStatus(t, f.manager, "order-1", schema.OrderStatusSubmitted)

	if err := f.manager.Cancel(context.Background(), "order-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitStatus(t, f.manager, "order-1", schema.OrderStatusCancelling)

	// The broker has not confirmed the cancel yet; a fill that raced it
	// must apply and record its trade.
	f.broker.fills <- fillOf(40, 1)
	deadline := time.Now().Add(2 * time.Second)
	for f.ledger.tradeCount() < 1 {
		if time.Now().After(deadline) {
			t.Fatal("racing fill never persisted a trade")
		}
		time.Sleep(time.Millisecond)
	}
	order, err := f.manager.Order(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if order.Status != schema.OrderStatusCancelling || !order.FilledQuantity.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("order mismatch! should be cancelling with 40 filled but got %s %s",
			order.Status, order.FilledQuantity)
	}

	close(gate)
	waitStatus(t, f.manager, "order-1", schema.OrderStatusCancelled)

	order, err = f.manager.Order(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if !order.FilledQuantity.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("settled order should keep the fill, got %s", order.FilledQuantity)
	}
	if f.ledger.tradeCount() != 1 {
		t.Fatalf("trade count mismatch! should be 1 but got %d", f.ledger.tradeCount())
	}
}

func TestFillCompletingDuringCancelWins(t *testing.T) {
	gate := make(chan struct{})
	f := newManagerFixtureWith(t, func(cb *chanBroker) broker.Broker {
		return &gateBroker{chanBroker: cb, gate: gate}
	})

	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.manager.ChildSubmitted("order-1", broker.OrderRef{Broker: "test", BrokerOrderID: "t-1"})
	if err := f.manager.Cancel(context.Background(), "order-1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	waitStatus(t, f.manager, "order-1", schema.OrderStatusCancelling)

	f.broker.fills <- fillOf(100, 1)
	waitStatus(t, f.manager, "order-1", schema.OrderStatusFilled)

	close(gate)
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.broker.mu.Lock()
		confirmed := len(f.broker.cancels) == 1
		f.broker.mu.Unlock()
		if confirmed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("broker cancel never confirmed")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)

	// The completed fill wins; the late cancel confirmation settles nothing.
	order, err := f.manager.Order(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if order.Status != schema.OrderStatusFilled {
		t.Fatalf("status mismatch! should be %s but got %s", schema.OrderStatusFilled, order.Status)
	}
	for _, event := range f.ledger.events() {
		if event.Type == schema.EventOrderCancelled {
			t.Fatal("a filled order must not settle cancelled")
		}
	}
}

func TestCancelDoesNotBlockFills(t *testing.T) {
	gate := make(chan struct{})
	f := newManagerFixtureWith(t, func(cb *chanBroker) broker.Broker {
		return &gateBroker{chanBroker: cb, gate: gate}
	})

	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); err != nil {
		t.Fatalf("submit order-1: %v", err)
	}
	f.manager.ChildSubmitted("order-1", broker.OrderRef{Broker: "test", BrokerOrderID: "t-1"})
	waitStatus(t, f.manager, "order-1", schema.OrderStatusSubmitted)
	if err := f.manager.Cancel(context.Background(), "order-1"); err != nil {
		t.Fatalf("cancel order-1: %v", err)
	}
	waitStatus(t, f.manager, "order-1", schema.OrderStatusCancelling)

	// order-1's cancel is stuck at the broker; order-2 keeps flowing.
	if err := f.manager.Submit(context.Background(), validatedOrder("order-2")); err != nil {
		t.Fatalf("submit order-2: %v", err)
	}
	f.manager.ChildSubmitted("order-2", broker.OrderRef{Broker: "test", BrokerOrderID: "t-2"})
	f.broker.fills <- fillAt("t-2", 40, 1)
	waitStatus(t, f.manager, "order-2", schema.OrderStatusPartiallyFilled)

	close(gate)
	waitStatus(t, f.manager, "order-1", schema.OrderStatusCancelled)
}

func TestSweepExpiresImmediateOrders(t *testing.T) {
	f := newManagerFixture(t)

	order := validatedOrder("order-1")
	order.TimeInForce = schema.TimeInForceIOC
	if err := f.manager.Submit(context.Background(), order); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.manager.ChildSubmitted("order-1", broker.OrderRef{Broker: "test", BrokerOrderID: "t-1"})
	waitStatus(t, f.manager, "order-1", schema.OrderStatusSubmitted)

	_ = f.manager.dispatch(context.Background(), func(ctx context.Context) error {
		f.manager.sm.orders["order-1"].UpdatedAt = time.Now().Add(-time.Hour)
		f.manager.sweepExpiry(ctx)
		return nil
	})

	got, err := f.manager.Order(context.Background(), "order-1")
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if got.Status != schema.OrderStatusExpired || got.StatusReason != schema.ReasonTimeInForce {
		t.Fatalf("order mismatch! should be expired/%s but got %s/%s",
			schema.ReasonTimeInForce, got.Status, got.StatusReason)
	}
	var sawExpired bool
	for _, event := range f.ledger.events() {
		if event.Type == schema.EventOrderExpired {
			sawExpired = true
		}
	}
	if !sawExpired {
		t.Fatal("expiry should be persisted")
	}
}

func TestSweepRejectsStalledPendingOrders(t *testing.T) {
	f := newManagerFixture(t)

	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	// The order never received a broker acknowledgment.
	_ = f.manager.dispatch(context.Background(), func(ctx context.Context) error {
		f.manager.sm.orders["order-1"].UpdatedAt = time.Now().Add(-time.Hour)
		f.manager.sweepExpiry(ctx)
		return nil
	})

	if _, err := f.manager.Order(context.Background(), "order-1"); !errors.Is(err, exception.ErrOrderNotFound) {
		t.Fatalf("rejected order should leave the working set, got %v", err)
	}
	var sawReject bool
	for _, event := range f.ledger.events() {
		if event.Type == schema.EventOrderRejected {
			sawReject = true
		}
	}
	if !sawReject {
		t.Fatal("acknowledgment timeout should persist a rejection")
	}
	f.exec.mu.Lock()
	cancelled := len(f.exec.cancelled)
	f.exec.mu.Unlock()
	if cancelled != 1 {
		t.Fatalf("plan should be cancelled, got %d", cancelled)
	}
}

func TestPumpAppliesBackpressure(t *testing.T) {
	m := NewManager(Config{FillBuffer: 1}, &fakeLedger{}, nil, schema.NewRegistry(),
		&bus.Fanout{}, risk.NewEngine(risk.Config{}), obs.NewMetrics())

	stream := make(chan schema.Fill, 3)
	for seq := uint64(1); seq <= 3; seq++ {
		stream <- fillOf(10, seq)
	}
	close(stream)

	done := make(chan struct{})
	go func() {
		m.pump(context.Background(), "test", stream)
		close(done)
	}()

	// Nothing drains the loop here, so the pump must hold each fill until
	// we take it. Dropping any would break the sequence.
	for want := uint64(1); want <= 3; want++ {
		select {
		case fill := <-m.fills:
			if fill.Seq != want {
				t.Fatalf("seq mismatch! should be %d but got %d", want, fill.Seq)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("fill %d never delivered", want)
		}
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pump should return once the stream closes")
	}
}

func TestFillsDebitBuyingPower(t *testing.T) {
	f := newManagerFixture(t)

	if err := f.manager.Submit(context.Background(), validatedOrder("order-1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	f.manager.ChildSubmitted("order-1", broker.OrderRef{Broker: "test", BrokerOrderID: "t-1"})
	f.broker.fills <- fillOf(40, 1)
	waitStatus(t, f.manager, "order-1", schema.OrderStatusPartiallyFilled)

	// 40 shares at 100 leave 4000 less buying power for the portfolio.
	want := decimal.NewFromInt(996000)
	deadline := time.Now().Add(2 * time.Second)
	for {
		bp, err := f.funds.BuyingPower(context.Background(), "pf-1")
		if err != nil {
			t.Fatalf("buying power: %v", err)
		}
		if bp.Equal(want) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("buying power mismatch! should be %s but got %s", want, bp)
		}
		time.Sleep(time.Millisecond)
	}
}
