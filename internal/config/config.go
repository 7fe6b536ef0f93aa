// Package config defines the configuration values the arbitrage core
// consumes. Loading mechanics (file discovery, secret injection, hot
// reload) are a collaborator's responsibility per scope; this package
// defines the shape and provides a reference viper-based loader so
// cmd/arbitrage-core has something concrete to call.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration tree. Field names mirror the
// nested venue.<name>.* keys spec.md §6.4 requires.
type Config struct {
	Venues       map[string]VenueConfig `mapstructure:"venue"`
	Risk         RiskConfig             `mapstructure:"risk"`
	Allocator    AllocatorConfig        `mapstructure:"allocator"`
	Detector     DetectorConfig         `mapstructure:"detector"`
	Scanner      ScannerConfig          `mapstructure:"scanner"`
	Execution    ExecutionConfig        `mapstructure:"execution"`
	Observability ObservabilityConfig   `mapstructure:"observability"`
	Persistence  PersistenceConfig      `mapstructure:"persistence"`
}

// PersistenceConfig points at the Postgres instance backing
// internal/persistence. DSN follows libpq's key=value or URL form;
// credential injection into the DSN is a collaborator's responsibility
// per scope, same as venue API secrets.
type PersistenceConfig struct {
	DSN     string      `mapstructure:"dsn"`
	Enabled bool        `mapstructure:"enabled"`
	Cache   CacheConfig `mapstructure:"cache"`
}

// CacheConfig points at the Redis instance that fronts Store's
// recent-opportunities/recent-executions snapshot reads. Disabled by
// default: Store works with Cache left unset, it just always hits Postgres.
type CacheConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// VenueConfig is the per-venue block under venue.<name>.
type VenueConfig struct {
	Enabled          bool            `mapstructure:"enabled"`
	APIKeyRef        string          `mapstructure:"api_key_ref"`
	APISecretRef     string          `mapstructure:"api_secret_ref"`
	RESTBaseURL      string          `mapstructure:"rest_base_url"`
	WSBaseURL        string          `mapstructure:"ws_base_url"`
	MakerFeeBps      float64         `mapstructure:"maker_fee_bps"`
	TakerFeeBps      float64         `mapstructure:"taker_fee_bps"`
	SupportsIOC      bool            `mapstructure:"supports_ioc"`
	SupportsPost     bool            `mapstructure:"supports_post_only"`
	ExpectedFillRate float64         `mapstructure:"expected_fill_rate"`
	Instruments      []string        `mapstructure:"instruments"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig tunes the token-bucket rate limiter for one venue.
type RateLimitConfig struct {
	OrdersPerSecond   float64 `mapstructure:"orders_per_second"`
	OrdersBurst       float64 `mapstructure:"orders_burst"`
	MarketDataWeight  int     `mapstructure:"market_data_weight"`
	WindowSeconds     int     `mapstructure:"window_seconds"`
	WeightBudget      int     `mapstructure:"weight_budget"`
}

// RiskConfig sets the orchestrator's continuous guards.
type RiskConfig struct {
	MaxDailyLossUSD       float64       `mapstructure:"max_daily_loss_usd"`
	ConsecutiveLossLimit  int           `mapstructure:"consecutive_loss_limit"`
	MaxExposurePerSymbol  float64       `mapstructure:"max_exposure_per_symbol"`
	PerPositionStopLossPct float64      `mapstructure:"per_position_stop_loss_pct"`
	CooldownAfterHalt     time.Duration `mapstructure:"cooldown_after_halt"`
}

// AllocatorConfig tunes Kelly sizing.
type AllocatorConfig struct {
	KellyFraction    float64 `mapstructure:"kelly_fraction"` // fractional multiplier, e.g. 0.25
	MaxPositionSize  float64 `mapstructure:"max_position_size"`
	MinTradeSize     float64 `mapstructure:"min_trade_size"`
	AccountEquityUSD float64 `mapstructure:"account_equity_usd"`
	// MaxExposurePct bounds current_instrument_exposure + size*price as a
	// percentage of available capital, e.g. 20 for 20%.
	MaxExposurePct float64 `mapstructure:"max_exposure_pct"`
}

// DetectorConfig tunes opportunity detection thresholds.
type DetectorConfig struct {
	MinProfitPct   float64       `mapstructure:"min_profit_pct"`
	MinConfidence  float64       `mapstructure:"min_confidence"`
	OpportunityTTL time.Duration `mapstructure:"opportunity_ttl"`
}

// ScannerConfig tunes the volatility scanner's rolling windows.
type ScannerConfig struct {
	ShortWindow  time.Duration `mapstructure:"short_window"`
	MediumWindow time.Duration `mapstructure:"medium_window"`
	LongWindow   time.Duration `mapstructure:"long_window"`
}

// ExecutionConfig tunes the execution engine.
type ExecutionConfig struct {
	FillDeadline   time.Duration `mapstructure:"fill_deadline"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
}

// ObservabilityConfig matches the shape the teacher's Logger/metrics
// providers expect.
type ObservabilityConfig struct {
	ServiceName    string `mapstructure:"service_name"`
	LogLevel       string `mapstructure:"log_level"`
	LogFormat      string `mapstructure:"log_format"`
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	JaegerEndpoint string `mapstructure:"jaeger_endpoint"`
}

// Load reads config from a YAML file with ARB_* environment variable
// overrides, following the nested-mapstructure pattern used across the
// example pack's viper-based loaders.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Venues) == 0 {
		return fmt.Errorf("at least one venue must be configured")
	}
	if c.Allocator.KellyFraction <= 0 || c.Allocator.KellyFraction > 1 {
		return fmt.Errorf("allocator.kelly_fraction must be in (0,1], got %v", c.Allocator.KellyFraction)
	}
	if c.Risk.ConsecutiveLossLimit <= 0 {
		return fmt.Errorf("risk.consecutive_loss_limit must be positive")
	}
	if c.Allocator.AccountEquityUSD <= 0 {
		return fmt.Errorf("allocator.account_equity_usd must be positive")
	}
	if c.Allocator.MaxExposurePct <= 0 || c.Allocator.MaxExposurePct > 100 {
		return fmt.Errorf("allocator.max_exposure_pct must be in (0,100], got %v", c.Allocator.MaxExposurePct)
	}
	return nil
}
