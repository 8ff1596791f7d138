package ops

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/yanun0323/errors"

	"main/internal/broker"
	"main/internal/oms"
	"main/internal/risk"
	"main/internal/strategy"
	"main/internal/tca"
	"main/internal/validate"
	"main/pkg/exception"
)

// Config is the full runtime configuration of the execution service.
type Config struct {
	API       APIConfig               `mapstructure:"api"`
	Postgres  PostgresConfig          `mapstructure:"postgres"`
	Redis     RedisConfig             `mapstructure:"redis"`
	Brokers   map[string]BrokerConfig `mapstructure:"brokers"`
	Manager   oms.Config              `mapstructure:"manager"`
	Risk      risk.Config             `mapstructure:"risk"`
	Strategy  strategy.Config         `mapstructure:"strategy"`
	Validate  ValidateConfig          `mapstructure:"validate"`
	Market    MarketDataConfig        `mapstructure:"marketData"`
	Calendar  CalendarConfig          `mapstructure:"calendar"`
	TCA       tca.JournalConfig       `mapstructure:"tca"`
	Profiling ProfilingConfig         `mapstructure:"profiling"`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Addr string `mapstructure:"addr"`
}

// PostgresConfig configures the ledger database.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslMode"`
}

// RedisConfig configures the dedup store. Empty Addr falls back to the
// in-memory dedup store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BrokerConfig configures one broker adapter. CredentialsRef names the
// secret to resolve at call time; credential material never appears in the
// config file.
type BrokerConfig struct {
	Kind           string             `mapstructure:"kind"`
	Paper          bool               `mapstructure:"paper"`
	CredentialsRef string             `mapstructure:"credentialsRef"`
	RatePerMinute  int                `mapstructure:"ratePerMinute"`
	Burst          int                `mapstructure:"burst"`
	Retry          broker.RetryConfig `mapstructure:"retry"`
}

// ValidateConfig tunes order validation.
type ValidateConfig struct {
	DedupWindow time.Duration        `mapstructure:"dedupWindow"`
	Funds       validate.FundsConfig `mapstructure:"funds"`
}

// MarketDataConfig selects the quote feed. Feed "binance" streams live
// quotes; anything else leaves the cache to be filled by the caller.
type MarketDataConfig struct {
	Feed        string        `mapstructure:"feed"`
	Symbols     []string      `mapstructure:"symbols"`
	MaxQuoteAge time.Duration `mapstructure:"maxQuoteAge"`
}

// CalendarConfig declares exchanges and tradable symbols.
type CalendarConfig struct {
	Exchanges []ExchangeConfig `mapstructure:"exchanges"`
	Symbols   []SymbolConfig   `mapstructure:"symbols"`
}

// ExchangeConfig declares one exchange and its regular session.
type ExchangeConfig struct {
	Name          string `mapstructure:"name"`
	Timezone      string `mapstructure:"timezone"`
	Open          string `mapstructure:"open"`
	Close         string `mapstructure:"close"`
	ExtendedOpen  string `mapstructure:"extendedOpen"`
	ExtendedClose string `mapstructure:"extendedClose"`
	Weekdays      []int  `mapstructure:"weekdays"`
}

// SymbolConfig declares one tradable symbol.
type SymbolConfig struct {
	Name       string `mapstructure:"name"`
	Exchange   string `mapstructure:"exchange"`
	Tradable   bool   `mapstructure:"tradable"`
	Fractional bool   `mapstructure:"fractional"`
}

// ProfilingConfig enables continuous profiling.
type ProfilingConfig struct {
	Enable        bool   `mapstructure:"enable"`
	ServerAddress string `mapstructure:"serverAddress"`
	AppName       string `mapstructure:"appName"`
}

// Load reads the configuration file and environment overrides. Validation
// failures are fatal; a service with a broken config must not trade.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.SetEnvPrefix("EXEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.Verify(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Verify rejects configurations the service cannot run with.
func (c Config) Verify() error {
	if len(c.Brokers) == 0 {
		return errors.Wrap(exception.ErrConfigMissingBroker, "no brokers configured")
	}
	for name, b := range c.Brokers {
		switch b.Kind {
		case "alpaca", "binance", "sim":
		default:
			return errors.Wrapf(exception.ErrConfigMissingBroker, "broker %s has unknown kind %q", name, b.Kind)
		}
		if b.Kind != "sim" && b.CredentialsRef == "" {
			return errors.Wrapf(exception.ErrConfigMissingCredential, "broker %s", name)
		}
		if b.RatePerMinute < 0 || b.Burst < 0 {
			return errors.Wrapf(exception.ErrConfigInvalidRateLimit, "broker %s", name)
		}
	}
	if c.Manager.DefaultBroker != "" {
		if _, ok := c.Brokers[c.Manager.DefaultBroker]; !ok {
			return errors.Wrapf(exception.ErrConfigMissingBroker, "default broker %s not configured", c.Manager.DefaultBroker)
		}
	}
	for _, ex := range c.Calendar.Exchanges {
		if ex.Name == "" || ex.Timezone == "" || ex.Open == "" || ex.Close == "" {
			return errors.Wrapf(exception.ErrConfigInvalidCalendar, "exchange %q", ex.Name)
		}
		if _, err := parseClock(ex.Open); err != nil {
			return errors.Wrapf(exception.ErrConfigInvalidCalendar, "exchange %s open %q", ex.Name, ex.Open)
		}
		if _, err := parseClock(ex.Close); err != nil {
			return errors.Wrapf(exception.ErrConfigInvalidCalendar, "exchange %s close %q", ex.Name, ex.Close)
		}
	}
	for _, sym := range c.Calendar.Symbols {
		if sym.Name == "" || sym.Exchange == "" {
			return errors.Wrapf(exception.ErrConfigInvalidCalendar, "symbol %q", sym.Name)
		}
	}
	return nil
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
