package validate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/risk"
	"main/internal/schema"
	"main/pkg/exception"
)

// Error carries the machine-readable reason for a failed validation.
type Error struct {
	Reason schema.RejectReason
	err    error
}

func (e *Error) Error() string { return e.err.Error() }

// Unwrap exposes the sentinel for errors.Is checks.
func (e *Error) Unwrap() error { return e.err }

func fail(reason schema.RejectReason, err error) error {
	return &Error{Reason: reason, err: err}
}

// BuyingPowerSource is the external ledger collaborator queried for
// available capital.
type BuyingPowerSource interface {
	BuyingPower(ctx context.Context, portfolioID string) (decimal.Decimal, error)
}

// QuoteSource supplies the reference price for notional and price band
// checks, and the arrival price recorded on the order.
type QuoteSource interface {
	Snapshot(ctx context.Context, symbol string) (schema.MarketSnapshot, error)
}

// Config tunes validator behavior.
type Config struct {
	DedupWindow time.Duration `mapstructure:"dedupWindow"`
}

// Validator runs the pre-trade check chain. Checks short-circuit on first
// failure and have no side effects until every check has passed.
type Validator struct {
	cfg      Config
	registry *schema.Registry
	funds    BuyingPowerSource
	quotes   QuoteSource
	risk     *risk.Engine
	dedup    DedupStore

	// buying-power checks are serialized per portfolio so concurrent orders
	// cannot overspend shared capital.
	portfolioMu sync.Map
}

// New creates a validator with its collaborators.
func New(cfg Config, registry *schema.Registry, funds BuyingPowerSource, quotes QuoteSource, riskEngine *risk.Engine, dedup DedupStore) *Validator {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 10 * time.Second
	}
	if dedup == nil {
		dedup = NewMemoryDedup()
	}
	return &Validator{
		cfg:      cfg,
		registry: registry,
		funds:    funds,
		quotes:   quotes,
		risk:     riskEngine,
		dedup:    dedup,
	}
}

// Validate runs all checks and, on success, returns the order ready for the
// order manager in pending_validation state.
func (v *Validator) Validate(ctx context.Context, intent schema.OrderIntent) (schema.Order, error) {
	if err := checkIntentShape(intent); err != nil {
		return schema.Order{}, err
	}

	sym, ok := v.registry.Symbol(intent.Symbol)
	if !ok || !sym.Tradable {
		return schema.Order{}, fail(schema.ReasonInvalidSymbol,
			errors.Wrap(exception.ErrValidateInvalidSymbol, intent.Symbol))
	}

	open, err := v.registry.MarketOpen(intent.Symbol, time.Now(), intent.ExtendedHours)
	if err != nil {
		return schema.Order{}, fail(schema.ReasonInvalidSymbol, err)
	}
	if !open {
		return schema.Order{}, fail(schema.ReasonMarketClosed, exception.ErrValidateMarketClosed)
	}

	snapshot, err := v.quotes.Snapshot(ctx, intent.Symbol)
	if err != nil {
		return schema.Order{}, errors.Wrap(err, "fetch market snapshot")
	}
	refPrice := referencePrice(intent, snapshot)

	unlock := v.lockPortfolio(intent.PortfolioID)
	defer unlock()

	power, err := v.funds.BuyingPower(ctx, intent.PortfolioID)
	if err != nil {
		return schema.Order{}, errors.Wrap(err, "query buying power")
	}
	if intent.Side == schema.OrderSideBuy {
		required := refPrice.Mul(intent.Quantity)
		if required.GreaterThan(power) {
			return schema.Order{}, fail(schema.ReasonInsufficientFunds, exception.ErrValidateInsufficientFunds)
		}
	}

	if decision := v.risk.Evaluate(intent, refPrice); !decision.Allowed {
		return schema.Order{}, fail(decision.Reason,
			errors.Wrap(exception.ErrValidateRiskLimit, decision.Detail))
	}

	seen, err := v.dedup.Register(ctx, DedupKey(intent), v.cfg.DedupWindow)
	if err != nil {
		return schema.Order{}, errors.Wrap(err, "dedup register")
	}
	if seen {
		return schema.Order{}, fail(schema.ReasonDuplicateOrder, exception.ErrValidateDuplicateOrder)
	}

	now := time.Now().UTC()
	strategy := intent.Strategy
	if strategy == "" {
		strategy = schema.StrategyLimitOrder
	}
	return schema.Order{
		ID:             uuid.NewString(),
		PortfolioID:    intent.PortfolioID,
		Symbol:         intent.Symbol,
		Side:           intent.Side,
		Type:           intent.Type,
		Quantity:       intent.Quantity,
		LimitPrice:     intent.LimitPrice,
		StopPrice:      intent.StopPrice,
		TimeInForce:    intent.TimeInForce,
		Status:         schema.OrderStatusPendingValidation,
		Strategy:       strategy,
		StrategyParams: intent.StrategyParams,
		FilledQuantity: decimal.Zero,
		ArrivalPrice:   snapshot.Mid(),
		ExtendedHours:  intent.ExtendedHours,
		ClientOrderID:  intent.ClientOrderID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (v *Validator) lockPortfolio(portfolioID string) func() {
	muAny, _ := v.portfolioMu.LoadOrStore(portfolioID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func checkIntentShape(intent schema.OrderIntent) error {
	switch {
	case intent.PortfolioID == "",
		intent.Symbol == "",
		!intent.Side.IsValid(),
		!intent.Type.IsValid(),
		!intent.TimeInForce.IsValid(),
		!intent.Quantity.IsPositive():
		return fail(schema.ReasonInvalidSymbol, exception.ErrValidateInvalidIntent)
	}
	if intent.Type == schema.OrderTypeLimit && !intent.LimitPrice.IsPositive() {
		return fail(schema.ReasonInvalidSymbol, exception.ErrValidateInvalidIntent)
	}
	if intent.Strategy != "" && !intent.Strategy.IsValid() {
		return fail(schema.ReasonInvalidSymbol, exception.ErrValidateInvalidIntent)
	}
	return nil
}

func referencePrice(intent schema.OrderIntent, snapshot schema.MarketSnapshot) decimal.Decimal {
	if mid := snapshot.Mid(); mid.IsPositive() {
		return mid
	}
	return intent.LimitPrice
}
