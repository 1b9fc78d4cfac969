// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
	"trading_engine/internal/core"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	System     SystemConfig     `yaml:"system"`
	Feed       FeedConfig       `yaml:"feed"`
	Engine     EngineConfig     `yaml:"engine"`
	Risk       RiskConfig       `yaml:"risk"`
	Strategies []StrategyConfig `yaml:"strategies"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel     string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	CancelOnExit bool   `yaml:"cancel_on_exit"`
}

// FeedConfig contains market data feed settings
type FeedConfig struct {
	URL              string   `yaml:"url"`
	Source           string   `yaml:"source"`
	Instruments      []string `yaml:"instruments" validate:"required,min=1"`
	AuthToken        Secret   `yaml:"auth_token"`
	HistoryURL       string   `yaml:"history_url"`
	BackfillBars     int      `yaml:"backfill_bars" validate:"min=0,max=10000"`
	ReconnectDelayMs int      `yaml:"reconnect_delay_ms" validate:"min=1,max=300000"`
	PingIntervalMs   int      `yaml:"ping_interval_ms" validate:"min=1,max=300000"`
	PongWaitMs       int      `yaml:"pong_wait_ms" validate:"min=1,max=300000"`
	WriteWaitMs      int      `yaml:"write_wait_ms" validate:"min=1,max=300000"`
}

// EngineConfig contains pipeline concurrency settings
type EngineConfig struct {
	Partitions    int `yaml:"partitions" validate:"min=1,max=64"`
	QueueSize     int `yaml:"queue_size" validate:"min=1,max=65536"`
	SubmitWorkers int `yaml:"submit_workers" validate:"min=1,max=100"`
	BarCapacity   int `yaml:"bar_capacity" validate:"min=1,max=10000"`
}

// RiskConfig contains risk gate limits
type RiskConfig struct {
	MaxPositionSize      map[string]float64 `yaml:"max_position_size"`
	DefaultMaxPosition   float64            `yaml:"default_max_position" validate:"min=0"`
	MaxPortfolioNotional float64            `yaml:"max_portfolio_notional" validate:"min=0"`
	DailyLossLimit       float64            `yaml:"daily_loss_limit" validate:"min=0"`
}

// StrategyConfig configures one decision unit
type StrategyConfig struct {
	Type       string  `yaml:"type" validate:"required,oneof=sma_cross quote_imbalance"`
	Instrument string  `yaml:"instrument" validate:"required"`
	Quantity   float64 `yaml:"quantity" validate:"required,min=0.00001"`

	// sma_cross
	ShortPeriod int `yaml:"short_period"`
	LongPeriod  int `yaml:"long_period"`

	// quote_imbalance
	ImbalanceRatio float64 `yaml:"imbalance_ratio"`
}

// GatewayConfig contains execution gateway settings
type GatewayConfig struct {
	Type          string  `yaml:"type" validate:"required,oneof=sim"`
	RatePerSecond float64 `yaml:"rate_per_second" validate:"min=0"`
	RateBurst     int     `yaml:"rate_burst" validate:"min=0"`

	// sim gateway behavior
	FillLatencyMs int     `yaml:"fill_latency_ms" validate:"min=0,max=60000"`
	PartialFills  int     `yaml:"partial_fills" validate:"min=0,max=100"`
	RejectRate    float64 `yaml:"reject_rate" validate:"min=0,max=1"`
	Slippage      float64 `yaml:"slippage" validate:"min=0"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Feed.Source == "" {
		c.Feed.Source = "feed"
	}
	if c.Feed.ReconnectDelayMs == 0 {
		c.Feed.ReconnectDelayMs = 5000
	}
	if c.Feed.PingIntervalMs == 0 {
		c.Feed.PingIntervalMs = 30000
	}
	if c.Feed.PongWaitMs == 0 {
		c.Feed.PongWaitMs = 60000
	}
	if c.Feed.WriteWaitMs == 0 {
		c.Feed.WriteWaitMs = 10000
	}
	if c.Engine.Partitions == 0 {
		c.Engine.Partitions = 4
	}
	if c.Engine.QueueSize == 0 {
		c.Engine.QueueSize = 1024
	}
	if c.Engine.SubmitWorkers == 0 {
		c.Engine.SubmitWorkers = 4
	}
	if c.Engine.BarCapacity == 0 {
		c.Engine.BarCapacity = 64
	}
	if c.Gateway.Type == "" {
		c.Gateway.Type = "sim"
	}
	if c.Gateway.RatePerSecond == 0 {
		c.Gateway.RatePerSecond = 25
	}
	if c.Gateway.RateBurst == 0 {
		c.Gateway.RateBurst = 30
	}
	if c.Gateway.FillLatencyMs == 0 {
		c.Gateway.FillLatencyMs = 5
	}
	if c.Gateway.PartialFills == 0 {
		c.Gateway.PartialFills = 1
	}
	if c.Telemetry.MetricsPort == 0 {
		c.Telemetry.MetricsPort = 9090
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateSystemConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateFeedConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateRiskConfig(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateStrategies(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateGatewayConfig(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}

	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

func (c *Config) validateFeedConfig() error {
	if len(c.Feed.Instruments) == 0 {
		return ValidationError{
			Field:   "feed.instruments",
			Message: "at least one instrument is required",
		}
	}
	for _, inst := range c.Feed.Instruments {
		if strings.TrimSpace(inst) == "" {
			return ValidationError{
				Field:   "feed.instruments",
				Message: "instrument names must be non-empty",
			}
		}
	}
	return nil
}

func (c *Config) validateRiskConfig() error {
	for inst, limit := range c.Risk.MaxPositionSize {
		if limit < 0 {
			return ValidationError{
				Field:   fmt.Sprintf("risk.max_position_size.%s", inst),
				Value:   limit,
				Message: "position limit must not be negative",
			}
		}
	}
	if c.Risk.DefaultMaxPosition < 0 {
		return ValidationError{
			Field:   "risk.default_max_position",
			Value:   c.Risk.DefaultMaxPosition,
			Message: "must not be negative",
		}
	}
	if c.Risk.DailyLossLimit < 0 {
		return ValidationError{
			Field:   "risk.daily_loss_limit",
			Value:   c.Risk.DailyLossLimit,
			Message: "must not be negative",
		}
	}
	return nil
}

func (c *Config) validateStrategies() error {
	for i, s := range c.Strategies {
		if s.Instrument == "" {
			return ValidationError{
				Field:   fmt.Sprintf("strategies[%d].instrument", i),
				Message: "instrument is required",
			}
		}
		if s.Quantity <= 0 {
			return ValidationError{
				Field:   fmt.Sprintf("strategies[%d].quantity", i),
				Value:   s.Quantity,
				Message: "quantity must be positive",
			}
		}
		switch s.Type {
		case "sma_cross":
			if s.ShortPeriod <= 0 || s.LongPeriod <= 0 || s.ShortPeriod >= s.LongPeriod {
				return ValidationError{
					Field:   fmt.Sprintf("strategies[%d]", i),
					Message: "sma_cross requires 0 < short_period < long_period",
				}
			}
		case "quote_imbalance":
			if s.ImbalanceRatio <= 1 {
				return ValidationError{
					Field:   fmt.Sprintf("strategies[%d].imbalance_ratio", i),
					Value:   s.ImbalanceRatio,
					Message: "quote_imbalance requires imbalance_ratio > 1",
				}
			}
		default:
			return ValidationError{
				Field:   fmt.Sprintf("strategies[%d].type", i),
				Value:   s.Type,
				Message: "must be one of: sma_cross, quote_imbalance",
			}
		}
	}
	return nil
}

func (c *Config) validateGatewayConfig() error {
	if c.Gateway.Type != "sim" {
		return ValidationError{
			Field:   "gateway.type",
			Value:   c.Gateway.Type,
			Message: "must be: sim",
		}
	}
	if c.Gateway.RejectRate < 0 || c.Gateway.RejectRate >= 1 {
		return ValidationError{
			Field:   "gateway.reject_rate",
			Value:   c.Gateway.RejectRate,
			Message: "must be in [0, 1)",
		}
	}
	return nil
}

// RiskLimits converts the risk section to the core limit type
func (c *Config) RiskLimits() core.RiskLimits {
	maxPos := make(map[string]decimal.Decimal, len(c.Risk.MaxPositionSize))
	for inst, v := range c.Risk.MaxPositionSize {
		maxPos[inst] = decimal.NewFromFloat(v)
	}
	return core.RiskLimits{
		MaxPositionSize:      maxPos,
		DefaultMaxPosition:   decimal.NewFromFloat(c.Risk.DefaultMaxPosition),
		MaxPortfolioNotional: decimal.NewFromFloat(c.Risk.MaxPortfolioNotional),
		DailyLossLimit:       decimal.NewFromFloat(c.Risk.DailyLossLimit),
	}
}

// FillLatency returns the sim gateway fill latency as a duration
func (c *Config) FillLatency() time.Duration {
	return time.Duration(c.Gateway.FillLatencyMs) * time.Millisecond
}

// String returns a string representation of the configuration. Secret
// fields redact themselves on marshal.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{
		System: SystemConfig{
			LogLevel:     "INFO",
			CancelOnExit: true,
		},
		Feed: FeedConfig{
			URL:         "ws://localhost:8080/stream",
			Source:      "sim_feed",
			Instruments: []string{"BTC-USD", "ETH-USD"},
		},
		Risk: RiskConfig{
			MaxPositionSize: map[string]float64{
				"BTC-USD": 5,
				"ETH-USD": 50,
			},
			DefaultMaxPosition:   10,
			MaxPortfolioNotional: 1000000,
			DailyLossLimit:       50000,
		},
		Strategies: []StrategyConfig{
			{Type: "sma_cross", Instrument: "BTC-USD", Quantity: 0.5, ShortPeriod: 5, LongPeriod: 20},
			{Type: "quote_imbalance", Instrument: "ETH-USD", Quantity: 2, ImbalanceRatio: 3},
		},
		Gateway: GatewayConfig{
			Type: "sim",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
	cfg.applyDefaults()
	return cfg
}
