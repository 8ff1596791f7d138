package sim

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"main/internal/broker"
	"main/internal/schema"
	"main/pkg/exception"
)

// Config tunes the simulated broker.
type Config struct {
	// FillDelay is the latency between submission and the first fill.
	FillDelay time.Duration
	// FillParts splits each order into this many partial fills.
	FillParts int
	// CommissionBps is charged on each fill's notional.
	CommissionBps int64
	// TransientFailures makes the first N submissions fail with a
	// rate-limit error, for exercising retry paths.
	TransientFailures int
}

type simOrder struct {
	child     schema.ChildOrder
	filled    decimal.Decimal
	seq       uint64
	cancelled bool
	done      bool
}

// Broker is an in-process paper broker with deterministic fills.
type Broker struct {
	cfg Config

	mu        sync.Mutex
	nextID    uint64
	orders    map[string]*simOrder
	failures  int
	fills     chan schema.Fill
	fillsOnce sync.Once
}

// New creates a simulated broker.
func New(cfg Config) *Broker {
	if cfg.FillParts <= 0 {
		cfg.FillParts = 1
	}
	return &Broker{
		cfg:    cfg,
		orders: make(map[string]*simOrder),
		fills:  make(chan schema.Fill, 256),
	}
}

// Name implements broker.Broker.
func (b *Broker) Name() string { return "sim" }

// Submit implements broker.Broker. Fills are emitted asynchronously on the
// fill stream, split into cfg.FillParts partial fills.
func (b *Broker) Submit(ctx context.Context, child schema.ChildOrder) (broker.OrderRef, error) {
	b.mu.Lock()
	if b.failures < b.cfg.TransientFailures {
		b.failures++
		b.mu.Unlock()
		return broker.OrderRef{}, exception.ErrBrokerRateLimited
	}
	b.nextID++
	id := "sim-" + strconv.FormatUint(b.nextID, 10)
	order := &simOrder{child: child}
	b.orders[id] = order
	b.mu.Unlock()

	go b.fill(ctx, id, order)
	return broker.OrderRef{Broker: b.Name(), BrokerOrderID: id}, nil
}

func (b *Broker) fill(ctx context.Context, id string, order *simOrder) {
	if b.cfg.FillDelay > 0 {
		timer := time.NewTimer(b.cfg.FillDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
	}

	price := order.child.LimitPrice
	if !price.IsPositive() {
		price = decimal.NewFromInt(100)
	}
	parts := int64(b.cfg.FillParts)
	sliceQty := order.child.Quantity.Div(decimal.NewFromInt(parts)).Truncate(10)

	for i := int64(0); i < parts; i++ {
		b.mu.Lock()
		if order.cancelled || order.done {
			b.mu.Unlock()
			return
		}
		qty := sliceQty
		if i == parts-1 {
			qty = order.child.Quantity.Sub(order.filled)
			order.done = true
		}
		order.filled = order.filled.Add(qty)
		order.seq++
		fill := schema.Fill{
			Broker:        b.Name(),
			BrokerOrderID: id,
			Symbol:        order.child.Symbol,
			Side:          order.child.Side,
			Quantity:      qty,
			Price:         price,
			Commission:    price.Mul(qty).Mul(decimal.New(b.cfg.CommissionBps, -4)),
			Seq:           order.seq,
			ExecutedAt:    time.Now().UTC(),
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case b.fills <- fill:
		}
	}
}

// Cancel implements broker.Broker. Orders already fully filled report an
// unknown-order error, matching real broker behavior for done orders.
func (b *Broker) Cancel(_ context.Context, ref broker.OrderRef) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	order, ok := b.orders[ref.BrokerOrderID]
	if !ok {
		return exception.ErrBrokerUnknownOrder
	}
	if order.done {
		return exception.ErrBrokerUnknownOrder
	}
	order.cancelled = true
	return nil
}

// StreamFills implements broker.Broker.
func (b *Broker) StreamFills(ctx context.Context) (<-chan schema.Fill, error) {
	b.fillsOnce.Do(func() {
		go func() {
			<-ctx.Done()
			close(b.fills)
		}()
	})
	return b.fills, nil
}

// OpenOrders implements broker.Broker.
func (b *Broker) OpenOrders(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	open := make([]string, 0, len(b.orders))
	for id, order := range b.orders {
		if !order.done && !order.cancelled {
			open = append(open, id)
		}
	}
	return open, nil
}
