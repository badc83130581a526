// Package config defines all configuration for the execution engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via EXEC_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"polymarket-mm/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Bus        BusConfig        `mapstructure:"bus"`
	Risk       RiskConfig       `mapstructure:"risk"`
	PosSync    PosSyncConfig    `mapstructure:"position_sync"`
	PnL        PnLConfig        `mapstructure:"pnl"`
	Store      StoreConfig      `mapstructure:"store"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// EngineConfig tunes the execution engine's lifecycle and background workers.
type EngineConfig struct {
	PositionSyncInterval time.Duration `mapstructure:"position_sync_interval"`
	HeartbeatInterval    time.Duration `mapstructure:"heartbeat_interval"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
}

// BrokerConfig selects and configures the execution backend: "paper"
// simulates fills locally and "venue" is the live venue adapter, both
// constructed through the broker.Factory registered in cmd/engine; the
// factory rejects any other name.
type BrokerConfig struct {
	Name string `mapstructure:"name"`

	Paper PaperBrokerConfig `mapstructure:"paper"`
	Venue VenueBrokerConfig `mapstructure:"venue"`
}

// PaperBrokerConfig mirrors broker.PaperConfig.
type PaperBrokerConfig struct {
	InitialCapital   float64 `mapstructure:"initial_capital"`
	CommissionRate   float64 `mapstructure:"commission_rate"`
	SlippageRate     float64 `mapstructure:"slippage_rate"`
	MarketImpactRate float64 `mapstructure:"market_impact_rate"`
}

// VenueBrokerConfig mirrors broker.VenueConfig, minus the credentials which
// are only ever taken from the environment (see Load).
type VenueBrokerConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	MinRequestInterval time.Duration `mapstructure:"min_request_interval"`
}

// MarketDataConfig mirrors marketdata.StreamConfig.
type MarketDataConfig struct {
	URL                  string        `mapstructure:"url"`
	Symbols              []string      `mapstructure:"symbols"`
	ReconnectDelay       time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"`
	PingInterval         time.Duration `mapstructure:"ping_interval"`
	ReadTimeout          time.Duration `mapstructure:"read_timeout"`
}

// BusConfig mirrors bus.Config.
type BusConfig struct {
	MaxQueueSize int `mapstructure:"max_queue_size"`
}

// RiskConfig maps directly onto types.RiskLimits, the full set of caps the
// risk supervisor checks every order against.
type RiskConfig struct {
	MaxPositionSize    float64 `mapstructure:"max_position_size"`
	MaxPositionPct     float64 `mapstructure:"max_position_pct"`
	MaxLeverage        float64 `mapstructure:"max_leverage"`
	MaxPortfolioRisk   float64 `mapstructure:"max_portfolio_risk"`
	MaxDrawdown        float64 `mapstructure:"max_drawdown"`
	MaxDailyLoss       float64 `mapstructure:"max_daily_loss"`
	MaxDailyLossPct    float64 `mapstructure:"max_daily_loss_pct"`
	MaxTotalExposure   float64 `mapstructure:"max_total_exposure"`
	MaxLongExposure    float64 `mapstructure:"max_long_exposure"`
	MaxShortExposure   float64 `mapstructure:"max_short_exposure"`
	MaxOrdersPerSecond int     `mapstructure:"max_orders_per_second"`
	MaxOrdersPerMinute int     `mapstructure:"max_orders_per_minute"`
	UseStopLoss        bool    `mapstructure:"use_stop_loss"`
	DefaultStopLossPct float64 `mapstructure:"default_stop_loss_pct"`
}

// ToLimits converts RiskConfig to the types.RiskLimits the risk supervisor
// takes directly.
func (r RiskConfig) ToLimits() types.RiskLimits {
	return types.RiskLimits{
		MaxPositionSize:    r.MaxPositionSize,
		MaxPositionPct:     r.MaxPositionPct,
		MaxLeverage:        r.MaxLeverage,
		MaxPortfolioRisk:   r.MaxPortfolioRisk,
		MaxDrawdown:        r.MaxDrawdown,
		MaxDailyLoss:       r.MaxDailyLoss,
		MaxDailyLossPct:    r.MaxDailyLossPct,
		MaxTotalExposure:   r.MaxTotalExposure,
		MaxLongExposure:    r.MaxLongExposure,
		MaxShortExposure:   r.MaxShortExposure,
		MaxOrdersPerSecond: r.MaxOrdersPerSecond,
		MaxOrdersPerMinute: r.MaxOrdersPerMinute,
		UseStopLoss:        r.UseStopLoss,
		DefaultStopLossPct: r.DefaultStopLossPct,
	}
}

// PosSyncConfig tunes the position synchronizer.
type PosSyncConfig struct {
	AutoReconcile  bool    `mapstructure:"auto_reconcile"`
	PriceTolerance float64 `mapstructure:"price_tolerance"`
}

// PnLConfig seeds the P&L tracker.
type PnLConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
}

// StoreConfig sets where engine state snapshots are persisted.
type StoreConfig struct {
	DBPath           string `mapstructure:"db_path"`
	CleanupAfterDays int    `mapstructure:"cleanup_after_days"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides. Credentials
// never come from the file: EXEC_BROKER_API_KEY / EXEC_BROKER_API_SECRET.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("EXEC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if os.Getenv("EXEC_DRY_RUN") == "true" || os.Getenv("EXEC_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// BrokerCredentials are read straight from the environment, never the
// config file, so a committed YAML config can never leak them.
func BrokerCredentials() (apiKey, apiSecret string) {
	return os.Getenv("EXEC_BROKER_API_KEY"), os.Getenv("EXEC_BROKER_API_SECRET")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Broker.Name == "" {
		return fmt.Errorf("broker.name is required")
	}
	if c.Broker.Name != "paper" {
		if c.Broker.Venue.BaseURL == "" {
			return fmt.Errorf("broker.venue.base_url is required for a live broker")
		}
		apiKey, apiSecret := BrokerCredentials()
		if apiKey == "" || apiSecret == "" {
			return fmt.Errorf("EXEC_BROKER_API_KEY and EXEC_BROKER_API_SECRET are required for a live broker")
		}
	}
	if c.Engine.PositionSyncInterval <= 0 {
		return fmt.Errorf("engine.position_sync_interval must be > 0")
	}
	if c.Engine.HeartbeatInterval <= 0 {
		return fmt.Errorf("engine.heartbeat_interval must be > 0")
	}
	if c.Risk.MaxPositionSize <= 0 && c.Risk.MaxPositionPct <= 0 {
		return fmt.Errorf("risk must set at least one of max_position_size or max_position_pct")
	}
	if c.PnL.InitialCapital <= 0 {
		return fmt.Errorf("pnl.initial_capital must be > 0")
	}
	if c.Store.DBPath == "" {
		return fmt.Errorf("store.db_path is required")
	}
	if len(c.MarketData.Symbols) == 0 {
		return fmt.Errorf("market_data.symbols must list at least one symbol")
	}
	return nil
}
