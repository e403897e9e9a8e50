package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rustyeddy/fxrisk/correlation"
	"github.com/rustyeddy/fxrisk/emergency"
	"github.com/rustyeddy/fxrisk/risk"
	"github.com/rustyeddy/fxrisk/valueatrisk"
	"gopkg.in/yaml.v3"
)

// Environment overrides, applied after the file is read.
const (
	EnvLogLevel    = "FXRISK_LOG_LEVEL"
	EnvDBPath      = "FXRISK_DB_PATH"
	EnvMetricsAddr = "FXRISK_METRICS_ADDR"
	EnvOANDAToken  = "OANDA_TOKEN"
	EnvOANDAAcct   = "OANDA_ACCOUNT_ID"
)

// Config represents the complete risk service configuration
type Config struct {
	Account     AccountConfig      `json:"account" yaml:"account"`
	VaR         valueatrisk.Config `json:"var" yaml:"var"`
	Correlation correlation.Config `json:"correlation" yaml:"correlation"`
	Emergency   emergency.Config   `json:"emergency" yaml:"emergency"`
	Service     ServiceConfig      `json:"service" yaml:"service"`
	Journal     JournalConfig      `json:"journal" yaml:"journal"`
	Logging     LoggingConfig      `json:"logging" yaml:"logging"`
	Metrics     MetricsConfig      `json:"metrics" yaml:"metrics"`
	OANDA       OANDAConfig        `json:"oanda" yaml:"oanda"`
}

// AccountConfig contains account initialization parameters
type AccountConfig struct {
	ID       string  `json:"id" yaml:"id"`
	Currency string  `json:"currency" yaml:"currency"`
	Balance  float64 `json:"balance" yaml:"balance"`
}

// ServiceConfig drives the periodic risk cycle and its data sources
type ServiceConfig struct {
	Interval      time.Duration `json:"interval" yaml:"interval"`
	FetchTimeout  time.Duration `json:"fetch_timeout" yaml:"fetch_timeout"`
	FetchRetries  int           `json:"fetch_retries" yaml:"fetch_retries"`
	RetryDelay    time.Duration `json:"retry_delay" yaml:"retry_delay"`
	CandleCount   int           `json:"candle_count" yaml:"candle_count"`
	Concurrency   int           `json:"concurrency" yaml:"concurrency"`
	CandleDir     string        `json:"candle_dir" yaml:"candle_dir"`
	PortfolioFile string        `json:"portfolio_file" yaml:"portfolio_file"`
	WatchPairs    []string      `json:"watch_pairs,omitempty" yaml:"watch_pairs,omitempty"` // watched for stress even when not held
	MinAlertLevel risk.Severity `json:"min_alert_severity" yaml:"min_alert_severity"`
}

// JournalConfig contains journaling parameters
type JournalConfig struct {
	Enabled    bool          `json:"enabled" yaml:"enabled"`
	DBPath     string        `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	QueueSize  int           `json:"queue_size" yaml:"queue_size"`
	Retries    int           `json:"retries" yaml:"retries"`
	RetryDelay time.Duration `json:"retry_delay" yaml:"retry_delay"`
}

type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // json or console
}

// OANDAConfig switches the candle and snapshot sources from local files to
// the OANDA REST API. The token only comes from the environment.
type OANDAConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	AccountID   string `json:"account_id,omitempty" yaml:"account_id,omitempty"`
	Practice    bool   `json:"practice" yaml:"practice"`
	Granularity string `json:"granularity" yaml:"granularity"`
	Token       string `json:"-" yaml:"-"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// Load reads an optional .env file, then path, then applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a file. Fields the file leaves out
// keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}
	cfg.propagate()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides file values with any set environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := strings.TrimSpace(getenv(EnvLogLevel)); v != "" {
		c.Logging.Level = v
	}
	if v := strings.TrimSpace(getenv(EnvDBPath)); v != "" {
		c.Journal.DBPath = v
		c.Journal.Enabled = true
	}
	if v := strings.TrimSpace(getenv(EnvMetricsAddr)); v != "" {
		c.Metrics.Addr = v
		c.Metrics.Enabled = true
	}
	if v := strings.TrimSpace(getenv(EnvOANDAToken)); v != "" {
		c.OANDA.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvOANDAAcct)); v != "" {
		c.OANDA.AccountID = v
	}
}

// propagate copies account-wide settings into the component configs.
func (c *Config) propagate() {
	c.Account.Currency = strings.ToUpper(c.Account.Currency)
	c.VaR.AccountCurrency = c.Account.Currency
	c.Correlation.AccountCurrency = c.Account.Currency
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.Currency == "" {
		return fmt.Errorf("account.currency is required")
	}
	if c.Account.Balance <= 0 {
		return fmt.Errorf("account.balance must be positive")
	}
	if err := c.VaR.Validate(); err != nil {
		return fmt.Errorf("var: %w", err)
	}
	if err := c.Correlation.Validate(); err != nil {
		return fmt.Errorf("correlation: %w", err)
	}
	if err := c.Emergency.Validate(); err != nil {
		return fmt.Errorf("emergency: %w", err)
	}

	s := c.Service
	if s.Interval <= 0 {
		return fmt.Errorf("service.interval must be positive")
	}
	if s.FetchTimeout <= 0 {
		return fmt.Errorf("service.fetch_timeout must be positive")
	}
	if s.FetchRetries < 0 || s.RetryDelay < 0 {
		return fmt.Errorf("service.fetch_retries and retry_delay must not be negative")
	}
	if s.Concurrency <= 0 {
		return fmt.Errorf("service.concurrency must be positive")
	}
	need := max(c.VaR.Lookback+1, c.Correlation.Lookback+1, c.Emergency.StressWindow+2)
	if s.CandleCount < need {
		return fmt.Errorf("service.candle_count must be at least %d", need)
	}
	if s.MinAlertLevel != "" && s.MinAlertLevel.Rank() == 0 {
		return fmt.Errorf("unknown service.min_alert_severity %q", s.MinAlertLevel)
	}

	if c.Journal.Enabled && c.Journal.DBPath == "" {
		return fmt.Errorf("journal db_path required when the journal is enabled")
	}
	if c.Journal.QueueSize < 0 || c.Journal.Retries < 0 {
		return fmt.Errorf("journal queue_size and retries must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr required when metrics are enabled")
	}
	if c.OANDA.Enabled && c.OANDA.AccountID == "" {
		return fmt.Errorf("oanda.account_id required when oanda is enabled")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Account: AccountConfig{
			ID:       "LIVE-001",
			Currency: "USD",
			Balance:  100000,
		},
		VaR:         valueatrisk.DefaultConfig(),
		Correlation: correlation.DefaultConfig(),
		Emergency:   emergency.DefaultConfig(),
		Service: ServiceConfig{
			Interval:      time.Minute,
			FetchTimeout:  5 * time.Second,
			FetchRetries:  3,
			RetryDelay:    200 * time.Millisecond,
			CandleCount:   300,
			Concurrency:   4,
			CandleDir:     "./data",
			PortfolioFile: "./portfolio.yaml",
			MinAlertLevel: risk.SeverityLow,
		},
		Journal: JournalConfig{
			Enabled:    true,
			DBPath:     "./fxrisk.db",
			QueueSize:  256,
			Retries:    3,
			RetryDelay: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		OANDA: OANDAConfig{
			Practice:    true,
			Granularity: "D",
		},
	}
}
