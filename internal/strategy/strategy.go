package strategy

import (
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"

	"main/internal/schema"
	"main/pkg/exception"
)

// PriceMode tells the scheduler how to price a child order at slice time.
type PriceMode string

const (
	// PriceStatic uses the limit price baked into the child order.
	PriceStatic PriceMode = "static"
	// PriceBufferFromRef prices at the slice-time reference price adjusted
	// by PriceBps in the order's favor bound.
	PriceBufferFromRef PriceMode = "buffer_from_ref"
	// PriceImproveBBO prices relative to the best bid/ask improved by
	// PriceBps toward the opposite side.
	PriceImproveBBO PriceMode = "improve_bbo"
	// PriceCrossSpread crosses the book at the opposite touch.
	PriceCrossSpread PriceMode = "cross_spread"
)

// ChildInstruction is one planned slice of a parent order.
type ChildInstruction struct {
	Child schema.ChildOrder
	// Offset is the delay from plan start to submission.
	Offset time.Duration
	// CancelAfter cancels the child this long after submission; zero means
	// the child rests until filled or the parent ends.
	CancelAfter time.Duration
	// UseRemaining sizes the child to the parent's unfilled quantity at
	// slice time instead of the planned quantity.
	UseRemaining bool
	// AwaitPrevious blocks submission until the previous child is done
	// instead of (or in addition to) waiting Offset.
	AwaitPrevious bool
	PriceMode     PriceMode
	PriceBps      int64
}

// Plan is the transient execution plan for one parent order. It is owned by
// the strategy engine and never persisted verbatim.
type Plan struct {
	OrderID  string
	Strategy schema.StrategyKind
	// Routed is the delegate the smart router selected, empty otherwise.
	Routed   schema.StrategyKind
	Children []ChildInstruction
}

// Strategy plans how a parent order is sliced and timed. Plan is pure given
// the order and one market snapshot so it stays testable; placing the child
// orders over time belongs to the scheduler.
type Strategy interface {
	Kind() schema.StrategyKind
	Plan(order schema.Order, market schema.MarketSnapshot) (Plan, error)
}

// Config carries per-strategy defaults from the configuration surface.
type Config struct {
	Limit   LimitParams   `mapstructure:"limit"`
	TWAP    TWAPParams    `mapstructure:"twap"`
	VWAP    VWAPParams    `mapstructure:"vwap"`
	Iceberg IcebergParams `mapstructure:"iceberg"`
	Router  RouterParams  `mapstructure:"smartRouter"`
}

// Engine dispatches to the strategy selected on the order.
type Engine struct {
	strategies map[schema.StrategyKind]Strategy
}

// NewEngine builds an engine with every built-in strategy registered.
func NewEngine(cfg Config) *Engine {
	e := &Engine{strategies: make(map[schema.StrategyKind]Strategy)}
	e.register(MarketOrder{})
	e.register(LimitOrder{Defaults: cfg.Limit})
	e.register(TWAP{Defaults: cfg.TWAP})
	e.register(VWAP{Defaults: cfg.VWAP})
	e.register(Iceberg{Defaults: cfg.Iceberg})
	e.register(SmartRouter{Defaults: cfg.Router, engine: e})
	return e
}

func (e *Engine) register(s Strategy) {
	e.strategies[s.Kind()] = s
}

// Plan produces the execution plan for an order using its selected
// strategy, defaulting to limit_order.
func (e *Engine) Plan(order schema.Order, market schema.MarketSnapshot) (Plan, error) {
	kind := order.Strategy
	if kind == "" {
		kind = schema.StrategyLimitOrder
	}
	s, ok := e.strategies[kind]
	if !ok {
		return Plan{}, errors.Wrap(exception.ErrConfigInvalidStrategy, string(kind))
	}
	return s.Plan(order, market)
}

// decodeParams overlays order-level strategy parameters onto defaults.
func decodeParams(raw []byte, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := sonic.ConfigFastest.Unmarshal(raw, out); err != nil {
		return errors.Wrap(exception.ErrConfigInvalidStrategy, err.Error())
	}
	return nil
}

func childBase(order schema.Order, slice int) schema.ChildOrder {
	return schema.ChildOrder{
		ParentID:      order.ID,
		Slice:         slice,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Type:          order.Type,
		LimitPrice:    order.LimitPrice,
		TimeInForce:   order.TimeInForce,
		ExtendedHours: order.ExtendedHours,
	}
}
