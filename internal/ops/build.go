package ops

import (
	"net/http"

	"github.com/yanun0323/errors"

	"main/internal/broker"
	"main/internal/broker/alpaca"
	"main/internal/broker/binance"
	"main/internal/broker/sim"
	"main/internal/obs"
	"main/internal/schema"
	"main/pkg/exception"
	"main/pkg/ratelimit"
)

// BuildRegistry turns the calendar configuration into a symbol registry.
func BuildRegistry(cfg CalendarConfig) (*schema.Registry, error) {
	registry := schema.NewRegistry()
	for _, ex := range cfg.Exchanges {
		hours, err := buildHours(ex)
		if err != nil {
			return nil, err
		}
		if err := registry.AddExchange(schema.Exchange{Name: ex.Name, Hours: hours}); err != nil {
			return nil, errors.Wrap(err, "add exchange")
		}
	}
	for _, sym := range cfg.Symbols {
		err := registry.AddSymbol(schema.Symbol{
			Name:       sym.Name,
			Exchange:   sym.Exchange,
			Tradable:   sym.Tradable,
			Fractional: sym.Fractional,
		})
		if err != nil {
			return nil, errors.Wrap(err, "add symbol")
		}
	}
	return registry, nil
}

func buildHours(ex ExchangeConfig) (schema.MarketHours, error) {
	open, err := parseClock(ex.Open)
	if err != nil {
		return schema.MarketHours{}, errors.Wrapf(exception.ErrConfigInvalidCalendar, "exchange %s", ex.Name)
	}
	closeAt, err := parseClock(ex.Close)
	if err != nil {
		return schema.MarketHours{}, errors.Wrapf(exception.ErrConfigInvalidCalendar, "exchange %s", ex.Name)
	}
	hours := schema.MarketHours{
		Open:          open,
		Close:         closeAt,
		ExtendedOpen:  open,
		ExtendedClose: closeAt,
		Timezone:      ex.Timezone,
	}
	if ex.ExtendedOpen != "" {
		if hours.ExtendedOpen, err = parseClock(ex.ExtendedOpen); err != nil {
			return schema.MarketHours{}, errors.Wrapf(exception.ErrConfigInvalidCalendar, "exchange %s", ex.Name)
		}
	}
	if ex.ExtendedClose != "" {
		if hours.ExtendedClose, err = parseClock(ex.ExtendedClose); err != nil {
			return schema.MarketHours{}, errors.Wrapf(exception.ErrConfigInvalidCalendar, "exchange %s", ex.Name)
		}
	}
	if len(ex.Weekdays) == 0 {
		// Monday through Friday.
		for d := 1; d <= 5; d++ {
			hours.Weekdays[d] = true
		}
	}
	for _, d := range ex.Weekdays {
		if d < 0 || d > 6 {
			return schema.MarketHours{}, errors.Wrapf(exception.ErrConfigInvalidCalendar, "exchange %s weekday %d", ex.Name, d)
		}
		hours.Weekdays[d] = true
	}
	return hours, nil
}

// BuildBrokers constructs and wraps every configured broker with its rate
// limiter and retry policy.
func BuildBrokers(cfg Config, secrets broker.SecretsProvider, metrics *obs.Metrics) (map[string]broker.Broker, error) {
	client := &http.Client{}
	brokers := make(map[string]broker.Broker, len(cfg.Brokers))
	for name, bc := range cfg.Brokers {
		var inner broker.Broker
		switch bc.Kind {
		case "alpaca":
			inner = alpaca.New(client, secrets, bc.CredentialsRef, bc.Paper)
		case "binance":
			inner = binance.New(client, secrets, bc.CredentialsRef, bc.Paper)
		case "sim":
			inner = sim.New(sim.Config{})
		default:
			return nil, errors.Wrapf(exception.ErrConfigMissingBroker, "broker %s kind %q", name, bc.Kind)
		}

		rate := bc.RatePerMinute
		if rate <= 0 {
			rate = 120
		}
		limiter := ratelimit.PerMinute(rate)
		if bc.Burst > 0 {
			limiter = ratelimit.New(bc.Burst, float64(rate)/60)
		}
		brokers[name] = broker.NewLimited(inner, limiter, bc.Retry, metrics)
	}
	return brokers, nil
}
