package oms

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/bus"
	"main/internal/obs"
	"main/internal/risk"
	"main/internal/schema"
	"main/pkg/exception"
)

// Ledger persists order state. Transitions write the order, its event and
// any resulting trade in one transaction so a crash never splits them.
type Ledger interface {
	SaveOrder(ctx context.Context, order schema.Order, event schema.OrderEvent) error
	ApplyTransition(ctx context.Context, order schema.Order, event schema.OrderEvent, trade *schema.Trade) error
	OpenOrders(ctx context.Context) ([]schema.Order, error)
}

// Executor launches and cancels execution plans. The strategy scheduler
// implements it.
type Executor interface {
	Execute(ctx context.Context, order schema.Order, b broker.Broker) error
	Cancel(orderID string) bool
}

// FundsSink receives executed notional so buying power tracks fills. The
// validator's funds source implements it.
type FundsSink interface {
	ApplyFill(portfolioID string, side schema.OrderSide, notional decimal.Decimal)
}

// Config bounds the manager's queues and sweeps.
type Config struct {
	FillBuffer     int           `mapstructure:"fillBuffer"`
	CommandBuffer  int           `mapstructure:"commandBuffer"`
	SweepInterval  time.Duration `mapstructure:"sweepInterval"`
	DefaultBroker  string        `mapstructure:"defaultBroker"`
	PersistTimeout time.Duration `mapstructure:"persistTimeout"`
	// AckTimeout bounds how long an order may sit in pending_submission
	// before it is rejected with ack_timeout.
	AckTimeout time.Duration `mapstructure:"ackTimeout"`
	// ImmediateTimeout bounds how long an IOC/FOK order may rest at the
	// broker before the sweep expires it.
	ImmediateTimeout time.Duration `mapstructure:"immediateTimeout"`
}

func (c Config) withDefaults() Config {
	if c.FillBuffer <= 0 {
		c.FillBuffer = 1024
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = 256
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Second
	}
	if c.PersistTimeout <= 0 {
		c.PersistTimeout = 5 * time.Second
	}
	if c.AckTimeout <= 0 {
		c.AckTimeout = 30 * time.Second
	}
	if c.ImmediateTimeout <= 0 {
		c.ImmediateTimeout = 5 * time.Second
	}
	return c
}

// lateFillGrace keeps terminal orders in the working set so a fill racing a
// broker-confirmed cancel still hits the reconciliation freeze instead of an
// unknown-order drop, and so cancelling a just-settled order reports
// already-terminal instead of not-found.
const lateFillGrace = time.Minute

// cancelConfirmTimeout bounds the broker round trip that confirms a cancel.
const cancelConfirmTimeout = 30 * time.Second

// Manager owns the order state machine. A single goroutine started by Run
// applies every mutation, fed by the fill and command channels, so order
// state never needs a lock.
type Manager struct {
	cfg      Config
	sm       *StateMachine
	ledger   Ledger
	brokers  map[string]broker.Broker
	executor Executor
	funds    FundsSink
	registry *schema.Registry
	events   *bus.Fanout
	risk     *risk.Engine
	metrics  *obs.Metrics

	fills    chan schema.Fill
	commands chan func(context.Context)
	stopped  chan struct{}
}

// NewManager wires the manager. Executor is set after construction because
// the scheduler needs the manager as its order view and reporter.
func NewManager(cfg Config, ledger Ledger, brokers map[string]broker.Broker, registry *schema.Registry, events *bus.Fanout, riskEngine *risk.Engine, metrics *obs.Metrics) *Manager {
	cfg = cfg.withDefaults()
	return &Manager{
		cfg:      cfg,
		sm:       NewStateMachine(),
		ledger:   ledger,
		brokers:  brokers,
		registry: registry,
		events:   events,
		risk:     riskEngine,
		metrics:  metrics,
		fills:    make(chan schema.Fill, cfg.FillBuffer),
		commands: make(chan func(context.Context), cfg.CommandBuffer),
		stopped:  make(chan struct{}),
	}
}

// SetExecutor installs the plan executor before Run.
func (m *Manager) SetExecutor(e Executor) { m.executor = e }

// SetFunds installs the buying power sink before Run.
func (m *Manager) SetFunds(f FundsSink) { m.funds = f }

// Run drives the single writer loop until the context is done. Broker fill
// streams are pumped into the loop from their own goroutines.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.stopped)

	for name, b := range m.brokers {
		stream, err := b.StreamFills(ctx)
		if err != nil {
			return errors.Wrapf(err, "open %s fill stream", name)
		}
		go m.pump(ctx, name, stream)
	}

	sweep := time.NewTicker(m.cfg.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fill := <-m.fills:
			m.handleFill(ctx, fill)
		case cmd := <-m.commands:
			cmd(ctx)
		case <-sweep.C:
			m.sweepExpiry(ctx)
		}
	}
}

func (m *Manager) pump(ctx context.Context, name string, stream <-chan schema.Fill) {
	for {
		select {
		case <-ctx.Done():
			return
		case fill, ok := <-stream:
			if !ok {
				return
			}
			if fill.Broker == "" {
				fill.Broker = name
			}
			// A full buffer blocks the pump. Dropping a confirmed fill
			// would desync the order from the broker permanently.
			select {
			case m.fills <- fill:
			case <-ctx.Done():
				return
			}
		}
	}
}

// dispatch runs fn on the writer loop and waits for it.
func (m *Manager) dispatch(ctx context.Context, fn func(context.Context) error) error {
	done := make(chan error, 1)
	wrapped := func(loopCtx context.Context) { done <- fn(loopCtx) }
	select {
	case m.commands <- wrapped:
	case <-m.stopped:
		return exception.ErrOrderManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-m.stopped:
		return exception.ErrOrderManagerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit accepts a validated order: it is journaled, moved to
// pending_submission and handed to the strategy scheduler.
func (m *Manager) Submit(ctx context.Context, order schema.Order) error {
	return m.dispatch(ctx, func(loopCtx context.Context) error {
		if err := m.sm.Track(order); err != nil {
			return err
		}
		pctx, cancel := context.WithTimeout(loopCtx, m.cfg.PersistTimeout)
		defer cancel()
		if err := m.ledger.SaveOrder(pctx, order, schema.OrderEvent{
			OrderID: order.ID,
			Type:    schema.EventOrderCreated,
			To:      order.Status,
		}); err != nil {
			m.sm.Forget(order.ID)
			return errors.Wrap(err, "journal order")
		}
		m.publish(schema.EventOrderCreated, order)

		updated, err := m.sm.Transition(order.ID, schema.OrderStatusPendingSubmission, schema.ReasonNone)
		if err != nil {
			return err
		}
		if err := m.persistTransition(loopCtx, updated, schema.EventOrderSubmitted, order.Status, nil); err != nil {
			return err
		}

		b, ok := m.brokers[m.pickBroker(updated)]
		if !ok {
			m.reject(loopCtx, updated.ID, schema.ReasonBrokerUnavailable,
				errors.New("no broker configured"))
			return errors.Wrap(exception.ErrBrokerUnavailable, "no broker configured")
		}
		if err := m.executor.Execute(loopCtx, updated, b); err != nil {
			m.reject(loopCtx, updated.ID, schema.ReasonBrokerReject, err)
			return err
		}
		return nil
	})
}

// Cancel requests cancellation of a working order. Cancellation is advisory:
// the order holds in cancelling until the broker answers, fills racing the
// cancel still apply, and the order settles in whichever state the broker
// confirms.
func (m *Manager) Cancel(ctx context.Context, orderID string) error {
	return m.dispatch(ctx, func(loopCtx context.Context) error {
		order, err := m.sm.Order(orderID)
		if err != nil {
			return err
		}
		if order.Status.IsTerminal() {
			return errors.Wrap(exception.ErrOrderAlreadyTerminal, string(order.Status))
		}
		if order.Status == schema.OrderStatusCancelling {
			// A cancel is already in flight.
			return nil
		}

		m.executor.Cancel(orderID)

		if order.Status == schema.OrderStatusPendingSubmission {
			updated, err := m.sm.Transition(orderID, schema.OrderStatusCancelled, schema.ReasonNone)
			if err != nil {
				return err
			}
			m.sm.Forget(orderID)
			return m.persistTransition(loopCtx, updated, schema.EventOrderCancelled, order.Status, nil)
		}

		updated, err := m.sm.Transition(orderID, schema.OrderStatusCancelling, schema.ReasonNone)
		if err != nil {
			return err
		}
		if err := m.persistTransition(loopCtx, updated, schema.EventOrderCancelRequested, order.Status, nil); err != nil {
			return err
		}
		go m.confirmCancel(updated)
		return nil
	})
}

// confirmCancel runs the broker round trip off the writer loop so a slow
// cancel never stalls other orders' fills, then settles the order. Fills
// that arrived while the cancel was in flight have already moved the order
// out of cancelling and win.
func (m *Manager) confirmCancel(order schema.Order) {
	if order.BrokerOrderID != "" {
		if b, ok := m.brokers[order.Broker]; ok {
			ctx, cancel := context.WithTimeout(context.Background(), cancelConfirmTimeout)
			ref := broker.OrderRef{Broker: order.Broker, BrokerOrderID: order.BrokerOrderID}
			if err := b.Cancel(ctx, ref); err != nil &&
				!errors.Is(err, exception.ErrBrokerUnknownOrder) {
				logs.Warnf("cancel order %s at %s failed, err: %+v", order.ID, order.Broker, err)
			}
			cancel()
		}
	}
	_ = m.dispatch(context.Background(), func(loopCtx context.Context) error {
		current, err := m.sm.Order(order.ID)
		if err != nil || current.Status != schema.OrderStatusCancelling {
			return nil
		}
		settled, terr := m.sm.Transition(order.ID, schema.OrderStatusCancelled, schema.ReasonNone)
		if terr != nil {
			return terr
		}
		return m.persistTransition(loopCtx, settled, schema.EventOrderCancelled, current.Status, nil)
	})
}

// Order returns the current view of an order from the working set.
func (m *Manager) Order(ctx context.Context, orderID string) (schema.Order, error) {
	var out schema.Order
	err := m.dispatch(ctx, func(context.Context) error {
		o, err := m.sm.Order(orderID)
		out = o
		return err
	})
	return out, err
}

// Leaves implements the scheduler's order view.
func (m *Manager) Leaves(orderID string) (decimal.Decimal, error) {
	var out decimal.Decimal
	err := m.dispatch(context.Background(), func(context.Context) error {
		leaves, err := m.sm.Leaves(orderID)
		out = leaves
		return err
	})
	return out, err
}

// Working implements the scheduler's order view.
func (m *Manager) Working(orderID string) bool {
	var out bool
	_ = m.dispatch(context.Background(), func(context.Context) error {
		out = m.sm.Working(orderID)
		return nil
	})
	return out
}

// ChildSubmitted implements the scheduler's reporter: it binds the broker
// order id and confirms submission.
func (m *Manager) ChildSubmitted(orderID string, ref broker.OrderRef) {
	_ = m.dispatch(context.Background(), func(loopCtx context.Context) error {
		if err := m.sm.Bind(orderID, ref); err != nil {
			return err
		}
		order, err := m.sm.Order(orderID)
		if err != nil {
			return err
		}
		if order.Status != schema.OrderStatusPendingSubmission {
			return nil
		}
		updated, err := m.sm.Transition(orderID, schema.OrderStatusSubmitted, schema.ReasonNone)
		if err != nil {
			return err
		}
		return m.persistTransition(loopCtx, updated, schema.EventOrderSubmitted, order.Status, nil)
	})
}

// PlanFailed implements the scheduler's reporter.
func (m *Manager) PlanFailed(orderID string, reason schema.RejectReason, err error) {
	_ = m.dispatch(context.Background(), func(loopCtx context.Context) error {
		m.reject(loopCtx, orderID, reason, err)
		return nil
	})
}

// PlanDone implements the scheduler's reporter. The plan finishing does not
// finish the order; resting children may still fill.
func (m *Manager) PlanDone(orderID string) {}

func (m *Manager) handleFill(ctx context.Context, fill schema.Fill) {
	start := time.Now()
	applied, err := m.sm.ApplyFill(fill)
	if err != nil {
		switch {
		case errors.Is(err, exception.ErrOrderStaleFill):
			logs.Debugf("dropped stale fill seq %d for broker order %s", fill.Seq, fill.BrokerOrderID)
		case errors.Is(err, exception.ErrOrderReconciliation):
			logs.Errorf("fill conflicts with ledger for broker order %s, order frozen, err: %+v",
				fill.BrokerOrderID, err)
			if orderID, ok := m.sm.Resolve(fill.Broker, fill.BrokerOrderID); ok {
				if frozen, ferr := m.sm.Order(orderID); ferr == nil {
					if perr := m.persistTransition(ctx, frozen, schema.EventOrderFrozen, frozen.Status, nil); perr != nil {
						logs.Errorf("persist reconciliation freeze of order %s, err: %+v", orderID, perr)
					}
				}
			}
		default:
			logs.Errorf("apply fill for broker order %s, err: %+v", fill.BrokerOrderID, err)
		}
	}

	for _, a := range applied {
		order, oerr := m.sm.Order(a.Trade.OrderID)
		if oerr != nil {
			continue
		}
		m.risk.ApplyFill(order.PortfolioID, order.Symbol, order.Side, a.Trade.Quantity)
		if m.funds != nil {
			m.funds.ApplyFill(order.PortfolioID, order.Side, a.Trade.Price.Mul(a.Trade.Quantity))
		}

		trade := a.Trade
		event := schema.EventTradeExecuted
		if a.To == schema.OrderStatusFilled {
			event = schema.EventOrderFilled
		}
		if perr := m.persistTransition(ctx, order, event, a.From, &trade); perr != nil {
			logs.Errorf("persist fill for order %s, err: %+v", order.ID, perr)
		}
		// Filled orders stay tracked through the late-fill grace window;
		// the sweep drops them.
	}
	m.metrics.ObserveFill(time.Since(start))
}

// reject moves an order to rejected with a reason. Errors are logged, not
// returned; rejection is a best-effort terminal write.
func (m *Manager) reject(ctx context.Context, orderID string, reason schema.RejectReason, cause error) {
	order, err := m.sm.Order(orderID)
	if err != nil {
		return
	}
	if order.Status.IsTerminal() {
		return
	}
	updated, err := m.sm.Transition(orderID, schema.OrderStatusRejected, reason)
	if err != nil {
		logs.Errorf("reject order %s, err: %+v", orderID, err)
		return
	}
	m.metrics.IncReject(reason)
	if cause != nil {
		logs.Warnf("order %s rejected with reason %s, err: %+v", orderID, reason, cause)
	}
	m.sm.Forget(orderID)
	if err := m.persistTransition(ctx, updated, schema.EventOrderRejected, order.Status, nil); err != nil {
		logs.Errorf("persist rejection of order %s, err: %+v", orderID, err)
	}
}

// sweepExpiry enforces time-in-force and acknowledgment deadlines: day
// orders expire at market close, IOC/FOK orders expire after the immediate
// timeout, orders the broker never acknowledged are rejected, and terminal
// orders lingering past the late-fill grace window are dropped.
func (m *Manager) sweepExpiry(ctx context.Context) {
	now := time.Now()
	for _, order := range m.sm.Orders() {
		if order.Status.IsTerminal() {
			if now.Sub(order.UpdatedAt) > lateFillGrace {
				m.sm.Forget(order.ID)
			}
			continue
		}
		age := now.Sub(order.UpdatedAt)
		switch {
		case order.Status == schema.OrderStatusPendingSubmission:
			if age > m.cfg.AckTimeout {
				m.executor.Cancel(order.ID)
				m.reject(ctx, order.ID, schema.ReasonAckTimeout,
					errors.Wrap(exception.ErrOrderAckTimeout, order.ID))
			}
		case (order.TimeInForce == schema.TimeInForceIOC || order.TimeInForce == schema.TimeInForceFOK) &&
			(order.Status == schema.OrderStatusSubmitted || order.Status == schema.OrderStatusPartiallyFilled):
			if age > m.cfg.ImmediateTimeout {
				m.expire(ctx, order)
			}
		case order.TimeInForce == schema.TimeInForceDay:
			open, err := m.registry.MarketOpen(order.Symbol, now, order.ExtendedHours)
			if err != nil || open {
				continue
			}
			m.expire(ctx, order)
		}
	}
}

func (m *Manager) expire(ctx context.Context, order schema.Order) {
	m.executor.Cancel(order.ID)
	updated, err := m.sm.Transition(order.ID, schema.OrderStatusExpired, schema.ReasonTimeInForce)
	if err != nil {
		return
	}
	if perr := m.persistTransition(ctx, updated, schema.EventOrderExpired, order.Status, nil); perr != nil {
		logs.Errorf("persist expiry of order %s, err: %+v", order.ID, perr)
	}
}

// persistTransition writes the transition to the ledger and publishes the
// event on success.
func (m *Manager) persistTransition(ctx context.Context, order schema.Order, eventType schema.EventType, from schema.OrderStatus, trade *schema.Trade) error {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.PersistTimeout)
	defer cancel()
	event := schema.OrderEvent{
		OrderID: order.ID,
		Type:    eventType,
		From:    from,
		To:      order.Status,
	}
	if err := m.ledger.ApplyTransition(pctx, order, event, trade); err != nil {
		return errors.Wrapf(err, "persist %s for order %s", eventType, order.ID)
	}
	m.publish(eventType, order)
	return nil
}

func (m *Manager) publish(eventType schema.EventType, order schema.Order) {
	m.metrics.IncEvent(eventType)
	m.events.Publish(schema.Event{
		Type:    eventType,
		OrderID: order.ID,
		Symbol:  order.Symbol,
		Status:  order.Status,
		Reason:  order.StatusReason,
		Seq:     order.LastFillSeq,
		Ts:      time.Now(),
	})
}

func (m *Manager) pickBroker(order schema.Order) string {
	if order.Broker != "" {
		return order.Broker
	}
	return m.cfg.DefaultBroker
}
