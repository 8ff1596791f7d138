package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yanun0323/errors"

	"main/pkg/exception"
)

const sampleConfig = `
api:
  addr: ":8080"
postgres:
  host: localhost
  port: 5432
  user: exec
  database: execution
brokers:
  paper:
    kind: sim
  live:
    kind: alpaca
    paper: true
    credentialsRef: alpaca-paper
    ratePerMinute: 200
manager:
  defaultBroker: paper
validate:
  dedupWindow: 10s
calendar:
  exchanges:
    - name: XNYS
      timezone: America/New_York
      open: "09:30"
      close: "16:00"
      extendedOpen: "04:00"
      extendedClose: "20:00"
  symbols:
    - name: AAPL
      exchange: XNYS
      tradable: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadParsesConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.API.Addr != ":8080" {
		t.Fatalf("addr mismatch! should be :8080 but got %s", cfg.API.Addr)
	}
	if cfg.Manager.DefaultBroker != "paper" {
		t.Fatalf("default broker mismatch! should be paper but got %s", cfg.Manager.DefaultBroker)
	}
	if cfg.Validate.DedupWindow != 10*time.Second {
		t.Fatalf("dedup window mismatch! should be 10s but got %s", cfg.Validate.DedupWindow)
	}
	live, ok := cfg.Brokers["live"]
	if !ok {
		t.Fatal("live broker should be configured")
	}
	if live.Kind != "alpaca" || live.CredentialsRef != "alpaca-paper" || live.RatePerMinute != 200 {
		t.Fatalf("live broker mismatch! got %+v", live)
	}
}

func TestVerifyConfigFailures(t *testing.T) {
	base := func() Config {
		cfg, err := Load(writeConfig(t, sampleConfig))
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		return cfg
	}

	testCases := []struct {
		desc   string
		mutate func(*Config)
		want   error
	}{
		{
			desc:   "no brokers",
			mutate: func(c *Config) { c.Brokers = nil },
			want:   exception.ErrConfigMissingBroker,
		},
		{
			desc: "unknown broker kind",
			mutate: func(c *Config) {
				b := c.Brokers["paper"]
				b.Kind = "ftx"
				c.Brokers["paper"] = b
			},
			want: exception.ErrConfigMissingBroker,
		},
		{
			desc: "live broker without credentials ref",
			mutate: func(c *Config) {
				b := c.Brokers["live"]
				b.CredentialsRef = ""
				c.Brokers["live"] = b
			},
			want: exception.ErrConfigMissingCredential,
		},
		{
			desc: "negative rate limit",
			mutate: func(c *Config) {
				b := c.Brokers["paper"]
				b.RatePerMinute = -1
				c.Brokers["paper"] = b
			},
			want: exception.ErrConfigInvalidRateLimit,
		},
		{
			desc:   "default broker not configured",
			mutate: func(c *Config) { c.Manager.DefaultBroker = "ghost" },
			want:   exception.ErrConfigMissingBroker,
		},
		{
			desc:   "bad exchange clock",
			mutate: func(c *Config) { c.Calendar.Exchanges[0].Open = "9.30am" },
			want:   exception.ErrConfigInvalidCalendar,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			if err := cfg.Verify(); !errors.Is(err, tc.want) {
				t.Fatalf("error mismatch! should be %v but got %v", tc.want, err)
			}
		})
	}
}

func TestBuildRegistryFromCalendar(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	registry, err := BuildRegistry(cfg.Calendar)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if registry.SymbolCount() != 1 {
		t.Fatalf("symbol count mismatch! should be 1 but got %d", registry.SymbolCount())
	}

	loc, _ := time.LoadLocation("America/New_York")
	open, err := registry.MarketOpen("AAPL", time.Date(2026, 8, 25, 10, 0, 0, 0, loc), false)
	if err != nil {
		t.Fatalf("market open: %v", err)
	}
	if !open {
		t.Fatal("Tuesday mid-morning should be open")
	}

	// Default weekday mask excludes weekends.
	open, _ = registry.MarketOpen("AAPL", time.Date(2026, 8, 29, 10, 0, 0, 0, loc), false)
	if open {
		t.Fatal("Saturday should be closed")
	}

	// Pre-market only trades with extended hours.
	at := time.Date(2026, 8, 25, 8, 0, 0, 0, loc)
	if open, _ = registry.MarketOpen("AAPL", at, false); open {
		t.Fatal("pre-market should be closed in the regular session")
	}
	if open, _ = registry.MarketOpen("AAPL", at, true); !open {
		t.Fatal("pre-market should be open with extended hours")
	}
}
