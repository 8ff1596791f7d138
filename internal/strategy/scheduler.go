package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/schema"
	"main/pkg/exception"
)

// Quotes serves live market snapshots for slice-time pricing.
type Quotes interface {
	Snapshot(ctx context.Context, symbol string) (schema.MarketSnapshot, error)
}

// OrderView exposes parent order progress to the scheduler without giving it
// write access to order state.
type OrderView interface {
	// Leaves returns the unfilled remainder of the parent order.
	Leaves(orderID string) (decimal.Decimal, error)
	// Working reports whether the parent order is still eligible for new
	// child submissions.
	Working(orderID string) bool
}

// Reporter receives plan outcomes. The order manager implements it to keep
// order state in step with broker submissions.
type Reporter interface {
	ChildSubmitted(orderID string, ref broker.OrderRef)
	PlanFailed(orderID string, reason schema.RejectReason, err error)
	PlanDone(orderID string)
}

// Scheduler turns execution plans into timed broker submissions. Each plan
// runs on its own goroutine; cancellation between slices tears the plan down
// without recalling children already at the broker.
type Scheduler struct {
	engine   *Engine
	quotes   Quotes
	view     OrderView
	reporter Reporter

	mu      sync.Mutex
	running map[string]context.CancelFunc
	wg      sync.WaitGroup

	// pollInterval paces fill-progress polls for AwaitPrevious slices.
	pollInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewScheduler builds a scheduler over the given planning engine.
func NewScheduler(engine *Engine, quotes Quotes, view OrderView, reporter Reporter) *Scheduler {
	return &Scheduler{
		engine:       engine,
		quotes:       quotes,
		view:         view,
		reporter:     reporter,
		running:      make(map[string]context.CancelFunc),
		pollInterval: 200 * time.Millisecond,
		sleep:        sleepCtx,
	}
}

// Execute plans the order against a fresh snapshot and starts executing the
// plan asynchronously on the given broker. Planning errors are returned
// synchronously; execution failures flow through the Reporter.
func (s *Scheduler) Execute(ctx context.Context, order schema.Order, b broker.Broker) error {
	snapshot, err := s.quotes.Snapshot(ctx, order.Symbol)
	if err != nil {
		return errors.Wrap(err, "snapshot for plan")
	}
	plan, err := s.engine.Plan(order, snapshot)
	if err != nil {
		return err
	}

	planCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if _, ok := s.running[order.ID]; ok {
		s.mu.Unlock()
		cancel()
		return errors.Wrap(exception.ErrOrderDuplicate, "plan already running")
	}
	s.running[order.ID] = cancel
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			cancel()
			s.mu.Lock()
			delete(s.running, order.ID)
			s.mu.Unlock()
		}()
		s.run(planCtx, order, plan, b)
	}()
	return nil
}

// Cancel stops the running plan for an order between slices. It reports
// whether a plan was running. Children already submitted are untouched; the
// order manager cancels those through the broker.
func (s *Scheduler) Cancel(orderID string) bool {
	s.mu.Lock()
	cancel, ok := s.running[orderID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Shutdown waits for in-flight plan goroutines to wind down.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	for _, cancel := range s.running {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, order schema.Order, plan Plan, b broker.Broker) {
	start := time.Now()
	for i, inst := range plan.Children {
		if inst.AwaitPrevious && i > 0 {
			if err := s.awaitProgress(ctx, order.ID, plannedThrough(plan, i)); err != nil {
				return
			}
		}
		if wait := time.Until(start.Add(inst.Offset)); wait > 0 {
			if err := s.sleep(ctx, wait); err != nil {
				return
			}
		}
		if !s.view.Working(order.ID) {
			return
		}

		child := inst.Child
		if inst.UseRemaining {
			leaves, err := s.view.Leaves(order.ID)
			if err != nil || !leaves.IsPositive() {
				continue
			}
			child.Quantity = leaves
		}
		if !child.Quantity.IsPositive() {
			continue
		}
		if err := s.priceChild(ctx, &child, inst); err != nil {
			logs.Warnf("skip slice %d of order %s, pricing failed, err: %+v",
				child.Slice, order.ID, err)
			continue
		}

		ref, err := b.Submit(ctx, child)
		if err != nil {
			s.reporter.PlanFailed(order.ID, submitReason(err), err)
			return
		}
		s.reporter.ChildSubmitted(order.ID, ref)

		if inst.CancelAfter > 0 {
			s.cancelLater(ctx, b, ref, inst.CancelAfter)
		}
	}
	s.reporter.PlanDone(order.ID)
}

// awaitProgress blocks until the parent's filled quantity reaches the
// planned cumulative quantity of all earlier slices.
func (s *Scheduler) awaitProgress(ctx context.Context, orderID string, planned decimal.Decimal) error {
	for {
		if !s.view.Working(orderID) {
			return context.Canceled
		}
		leaves, err := s.view.Leaves(orderID)
		if err != nil {
			return err
		}
		if leaves.LessThanOrEqual(planned) {
			return nil
		}
		if err := s.sleep(ctx, s.pollInterval); err != nil {
			return err
		}
	}
}

// priceChild resolves the instruction's price mode against a live snapshot.
func (s *Scheduler) priceChild(ctx context.Context, child *schema.ChildOrder, inst ChildInstruction) error {
	if inst.PriceMode == "" || inst.PriceMode == PriceStatic || child.Type == schema.OrderTypeMarket {
		return nil
	}
	snapshot, err := s.quotes.Snapshot(ctx, child.Symbol)
	if err != nil {
		return err
	}
	child.LimitPrice = resolvePrice(inst.PriceMode, inst.PriceBps, child.Side, snapshot)
	if !child.LimitPrice.IsPositive() {
		return errors.New("no price available for slice")
	}
	return nil
}

func resolvePrice(mode PriceMode, bps int64, side schema.OrderSide, snapshot schema.MarketSnapshot) decimal.Decimal {
	buffer := decimal.NewFromInt(bps).Div(decimal.NewFromInt(10000))
	switch mode {
	case PriceBufferFromRef:
		ref := snapshot.Mid()
		if side == schema.OrderSideBuy {
			return ref.Mul(decimal.NewFromInt(1).Add(buffer))
		}
		return ref.Mul(decimal.NewFromInt(1).Sub(buffer))
	case PriceImproveBBO:
		if side == schema.OrderSideBuy {
			return snapshot.BidPrice.Mul(decimal.NewFromInt(1).Add(buffer))
		}
		return snapshot.AskPrice.Mul(decimal.NewFromInt(1).Sub(buffer))
	case PriceCrossSpread:
		if side == schema.OrderSideBuy {
			return snapshot.AskPrice
		}
		return snapshot.BidPrice
	default:
		return decimal.Zero
	}
}

// cancelLater cancels the child after the rest period unless the plan ended
// first. A broker that already completed the child reports unknown order,
// which is expected here.
func (s *Scheduler) cancelLater(ctx context.Context, b broker.Broker, ref broker.OrderRef, after time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sleep(ctx, after); err != nil {
			return
		}
		if err := b.Cancel(ctx, ref); err != nil && !errors.Is(err, exception.ErrBrokerUnknownOrder) {
			logs.Warnf("timed cancel of %s order %s failed, err: %+v",
				ref.Broker, ref.BrokerOrderID, err)
		}
	}()
}

// plannedThrough sums the planned quantity of slices before index i, giving
// the leaves threshold that marks those slices complete.
func plannedThrough(plan Plan, i int) decimal.Decimal {
	var total decimal.Decimal
	for _, inst := range plan.Children[i:] {
		total = total.Add(inst.Child.Quantity)
	}
	return total
}

func submitReason(err error) schema.RejectReason {
	switch {
	case errors.Is(err, exception.ErrBrokerUnavailable):
		return schema.ReasonBrokerUnavailable
	case errors.Is(err, exception.ErrBrokerTimeout):
		return schema.ReasonAckTimeout
	default:
		return schema.ReasonBrokerReject
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
