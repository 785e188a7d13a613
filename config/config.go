package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"turtleAdvisor/internal/adapters/logger"
	"turtleAdvisor/internal/domain"
	"turtleAdvisor/internal/ports"
	"turtleAdvisor/internal/risk"
	"turtleAdvisor/internal/strategy"
	"turtleAdvisor/internal/strategy/turtle"
)

// Advisor run modes.
const (
	ModeStream = "stream" // react to final klines from the websocket stream
	ModePoll   = "poll"   // fetch klines on a cron schedule
)

// Config holds all application configuration.
type Config struct {
	// Binance API
	APIKey    string `yaml:"api_key"`
	SecretKey string `yaml:"api_secret"`
	IsTestnet bool   `yaml:"testnet"`

	// Market
	Symbol      string          `yaml:"symbol"`
	Interval    domain.Interval `yaml:"interval"`
	Mode        string          `yaml:"mode"`
	PollCron    string          `yaml:"poll_cron"`    // six fields, seconds first
	KlineWindow int             `yaml:"kline_window"` // klines kept in memory

	// Strategy Parameters
	EntryPeriod           int     `yaml:"entry_period"`
	ExitPeriod            int     `yaml:"exit_period"`
	ConfirmationPeriod    int     `yaml:"confirmation_period"`
	ATRPeriod             int     `yaml:"atr_period"`
	TrueBreakoutThreshold float64 `yaml:"true_breakout_threshold"`
	UseVolumeFilter       bool    `yaml:"use_volume_filter"`
	VolumeLookback        int     `yaml:"volume_lookback"`

	// Risk
	AccountEquity       float64 `yaml:"account_equity"` // 0 means use the exchange USDT balance
	RiskPercent         float64 `yaml:"risk_percent"`
	SizePrecisionDigits int     `yaml:"size_precision_digits"`
	TakeProfitMultiple  float64 `yaml:"take_profit_multiple"`
	MaxPositionSize     float64 `yaml:"max_position_size"`

	// Database
	DBPath string `yaml:"db_path"`

	// Logging
	LogLevelName string          `yaml:"log_level"`
	LogLevel     logger.LogLevel `yaml:"-"`

	// Connection Settings
	ReconnectDelaySeconds int           `yaml:"reconnect_delay_seconds"`
	ReconnectDelay        time.Duration `yaml:"-"`
	MaxReconnectAttempts  int           `yaml:"max_reconnect_attempts"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	params := turtle.DefaultParams()
	strat := strategy.DefaultConfig()
	return &Config{
		IsTestnet:             true,
		Symbol:                "BTCUSDT",
		Interval:              domain.Interval1h,
		Mode:                  ModeStream,
		PollCron:              "5 * * * * *",
		KlineWindow:           500,
		EntryPeriod:           params.EntryPeriod,
		ExitPeriod:            params.ExitPeriod,
		ConfirmationPeriod:    params.ConfirmationPeriod,
		ATRPeriod:             strat.ATRPeriod,
		TrueBreakoutThreshold: params.TrueBreakoutThreshold,
		UseVolumeFilter:       params.UseVolumeFilter,
		VolumeLookback:        params.VolumeLookback,
		RiskPercent:           strat.Risk.RiskPercent,
		SizePrecisionDigits:   strat.Risk.SizePrecisionDigits,
		TakeProfitMultiple:    strat.Risk.TakeProfitMultiple,
		DBPath:                "./data/advisor.db",
		LogLevelName:          "INFO",
		ReconnectDelaySeconds: 5,
		MaxReconnectAttempts:  10,
	}
}

// LoadConfig loads configuration from an optional YAML file named by CONFIG_FILE,
// then applies environment variables (a .env file is honoured when present).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()
	return Load(os.Getenv("CONFIG_FILE"))
}

// Load reads config from a YAML file (skipped when path is empty or missing),
// then applies environment variable overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w: %w", ports.ErrConfigurationError, err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w: %w", ports.ErrConfigurationError, err)
			}
		}
	}

	var errs []string // Collect parse and validation errors
	env := envReader{errs: &errs}

	// Binance API
	env.str("BINANCE_API_KEY", &cfg.APIKey)
	env.str("BINANCE_API_SECRET", &cfg.SecretKey)
	env.boolean("IS_TESTNET", &cfg.IsTestnet)

	// Market
	env.str("SYMBOL", &cfg.Symbol)
	var interval string
	if env.str("INTERVAL", &interval) {
		cfg.Interval = domain.Interval(interval)
	}
	env.str("MODE", &cfg.Mode)
	env.str("POLL_CRON", &cfg.PollCron)
	env.integer("KLINE_WINDOW", &cfg.KlineWindow)

	// Strategy Parameters
	env.integer("ENTRY_PERIOD", &cfg.EntryPeriod)
	env.integer("EXIT_PERIOD", &cfg.ExitPeriod)
	env.integer("CONFIRMATION_PERIOD", &cfg.ConfirmationPeriod)
	env.integer("ATR_PERIOD", &cfg.ATRPeriod)
	env.float("TRUE_BREAKOUT_THRESHOLD", &cfg.TrueBreakoutThreshold)
	env.boolean("USE_VOLUME_FILTER", &cfg.UseVolumeFilter)
	env.integer("VOLUME_LOOKBACK", &cfg.VolumeLookback)

	// Risk
	env.float("ACCOUNT_EQUITY", &cfg.AccountEquity)
	env.float("RISK_PERCENT", &cfg.RiskPercent)
	env.integer("SIZE_PRECISION_DIGITS", &cfg.SizePrecisionDigits)
	env.float("TAKE_PROFIT_MULTIPLE", &cfg.TakeProfitMultiple)
	env.float("MAX_POSITION_SIZE", &cfg.MaxPositionSize)

	// Database
	env.str("DB_PATH", &cfg.DBPath)

	// Logging
	env.str("LOG_LEVEL", &cfg.LogLevelName)
	cfg.LogLevel = logger.ParseLevel(cfg.LogLevelName)

	// Connection Settings
	env.integer("RECONNECT_DELAY_SECONDS", &cfg.ReconnectDelaySeconds)
	env.integer("MAX_RECONNECT_ATTEMPTS", &cfg.MaxReconnectAttempts)
	cfg.ReconnectDelay = time.Duration(cfg.ReconnectDelaySeconds) * time.Second

	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %w: %s", ports.ErrConfigurationError, strings.Join(errs, "; "))
	}
	return cfg, nil
}

func (c *Config) validate() []string {
	var errs []string

	if c.Symbol == "" {
		errs = append(errs, "SYMBOL must be set")
	}
	if _, ok := domain.ParseInterval(string(c.Interval)); !ok {
		errs = append(errs, fmt.Sprintf("INTERVAL %q is not one of 1m, 5m, 15m, 1h, 4h, 1d", c.Interval))
	}
	switch c.Mode {
	case ModeStream:
	case ModePoll:
		if _, err := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(c.PollCron); err != nil {
			errs = append(errs, fmt.Sprintf("invalid POLL_CRON %q: %v", c.PollCron, err))
		}
	default:
		errs = append(errs, fmt.Sprintf("MODE must be %q or %q, got %q", ModeStream, ModePoll, c.Mode))
	}

	if c.AccountEquity < 0 {
		errs = append(errs, "ACCOUNT_EQUITY cannot be negative")
	}
	if c.AccountEquity == 0 && (c.APIKey == "" || c.SecretKey == "") {
		errs = append(errs, "BINANCE_API_KEY and BINANCE_API_SECRET must be set when ACCOUNT_EQUITY is not")
	}

	if c.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}
	if c.ReconnectDelaySeconds <= 0 {
		errs = append(errs, "RECONNECT_DELAY_SECONDS must be positive")
	}
	if c.MaxReconnectAttempts < 0 {
		errs = append(errs, "MAX_RECONNECT_ATTEMPTS cannot be negative")
	}

	sc := c.StrategyConfig()
	if err := sc.Params.Validate(); err != nil {
		errs = append(errs, flatten(err)...)
	}
	if sc.ATRPeriod < 1 {
		errs = append(errs, "ATR_PERIOD must be positive")
	}
	if err := sc.Risk.Validate(); err != nil {
		errs = append(errs, flatten(err)...)
	}

	if c.KlineWindow < sc.Params.RequiredBars() || c.KlineWindow < sc.ATRPeriod {
		errs = append(errs, fmt.Sprintf("KLINE_WINDOW (%d) must cover the longest channel plus one bar and the ATR period", c.KlineWindow))
	}
	return errs
}

// StrategyConfig builds the strategy configuration from the loaded values.
func (c *Config) StrategyConfig() strategy.Config {
	return strategy.Config{
		Params: turtle.Params{
			EntryPeriod:           c.EntryPeriod,
			ExitPeriod:            c.ExitPeriod,
			ConfirmationPeriod:    c.ConfirmationPeriod,
			TrueBreakoutThreshold: c.TrueBreakoutThreshold,
			UseVolumeFilter:       c.UseVolumeFilter,
			VolumeLookback:        c.VolumeLookback,
		},
		ATRPeriod: c.ATRPeriod,
		Risk: risk.Config{
			RiskPercent:         c.RiskPercent,
			SizePrecisionDigits: c.SizePrecisionDigits,
			TakeProfitMultiple:  c.TakeProfitMultiple,
			MaxPositionSize:     c.MaxPositionSize,
		},
	}
}

// flatten splits a joined error into one message per line.
func flatten(err error) []string {
	var out []string
	for _, line := range strings.Split(err.Error(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// --- Env Var Helpers ---

// envReader overrides a field when its variable is set and records
// malformed values instead of silently falling back.
type envReader struct {
	errs *[]string
}

func (e envReader) str(key string, dst *string) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return false
	}
	*dst = v
	return true
}

func (e envReader) integer(key string, dst *int) {
	var s string
	if !e.str(key, &s) {
		return
	}
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		e.fail(key, s, err)
		return
	}
	*dst = v
}

func (e envReader) float(key string, dst *float64) {
	var s string
	if !e.str(key, &s) {
		return
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		e.fail(key, s, err)
		return
	}
	*dst = v
}

func (e envReader) boolean(key string, dst *bool) {
	var s string
	if !e.str(key, &s) {
		return
	}
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		e.fail(key, s, err)
		return
	}
	*dst = v
}

func (e envReader) fail(key, value string, err error) {
	*e.errs = append(*e.errs, fmt.Sprintf("invalid value '%s' for key %s: %v", value, key, errors.Unwrap(err)))
}
