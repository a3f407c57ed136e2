// Package config handles configuration management with validation
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"chainwatch/internal/chain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Public      PublicConfig      `yaml:"public"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	History     HistoryConfig     `yaml:"history"`
	Server      ServerConfig      `yaml:"server"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Source   string `yaml:"source" validate:"required,oneof=public mock"`
	LogLevel  string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	LogFormat string `yaml:"log_format" validate:"oneof=console json"`
}

// PublicConfig holds the brokerage API credentials and client tuning
type PublicConfig struct {
	Secret               Secret  `yaml:"secret"`
	AccountID            string  `yaml:"account_id"` // Discovered from the first account when empty
	BaseURL              string  `yaml:"base_url"`
	TokenValidityMinutes int     `yaml:"token_validity_minutes" validate:"min=1,max=1440"`
	RequestTimeoutSecs   int     `yaml:"request_timeout_seconds" validate:"min=1,max=120"`
	RequestsPerSecond    float64 `yaml:"requests_per_second"` // 0 disables the client side limit
	WithGreeks           bool    `yaml:"with_greeks"`
}

// WatchTarget is one symbol and expiration horizon the dashboard polls
type WatchTarget struct {
	Symbol         string `yaml:"symbol" validate:"required"`
	Horizon        string `yaml:"horizon" validate:"oneof=dte0 dte1 friday"`
	InstrumentType string `yaml:"instrument_type" validate:"oneof=INDEX EQUITY"`
}

// Key identifies the target in URLs and logs, e.g. "SPX:dte0".
func (w WatchTarget) Key() string {
	return w.Symbol + ":" + w.Horizon
}

// DashboardConfig contains polling and aggregation settings
type DashboardConfig struct {
	Watch                  []WatchTarget `yaml:"watch" validate:"required,min=1"`
	PollIntervalSeconds    int           `yaml:"poll_interval_seconds" validate:"min=1,max=300"`
	StaleAfterSeconds      int           `yaml:"stale_after_seconds" validate:"min=1"`
	StrikeWindow           int           `yaml:"strike_window" validate:"min=0,max=200"`
	DefaultLookbackMinutes int           `yaml:"default_lookback_minutes"`
	Lookbacks              []int         `yaml:"lookbacks"`
	HighTier               int           `yaml:"high_tier" validate:"min=0,max=50"`
	MidTier                int           `yaml:"mid_tier" validate:"min=0,max=50"`
	SpreadMinCredit        float64       `yaml:"spread_min_credit" validate:"min=0"`
	SpreadMaxCredit        float64       `yaml:"spread_max_credit" validate:"gtefield=SpreadMinCredit"`
	SpreadWidth            float64       `yaml:"spread_width" validate:"min=0"` // 0 = adjacent strikes
	SpreadOTMOnly          bool          `yaml:"spread_otm_only"`
}

// HistoryConfig contains hot-strike history settings
type HistoryConfig struct {
	RetentionMinutes int    `yaml:"retention_minutes" validate:"min=1"`
	MaxSamples       int    `yaml:"max_samples" validate:"min=2"`
	Store            string `yaml:"store" validate:"oneof=memory sqlite redis"`
	SQLitePath       string `yaml:"sqlite_path"`
	RedisURL         Secret `yaml:"redis_url"`
	KeyPrefix        string `yaml:"key_prefix"`
}

// ServerConfig contains the live dashboard server settings
type ServerConfig struct {
	Port           int      `yaml:"port" validate:"min=1,max=65535"`
	StaticDir      string   `yaml:"static_dir"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Production     bool     `yaml:"production"`
	MaxConnections int      `yaml:"max_connections" validate:"min=1"`
	RateLimit      float64  `yaml:"rate_limit"` // WebSocket upgrades per second per IP
	RateBurst      int      `yaml:"rate_burst"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	PollPoolSize   int `yaml:"poll_pool_size" validate:"min=1,max=100"`
	PollPoolBuffer int `yaml:"poll_pool_buffer" validate:"min=1,max=10000"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	ServiceName   string `yaml:"service_name"`
	EnableMetrics bool   `yaml:"enable_metrics"`
	TraceFile     string `yaml:"trace_file"` // poll spans as JSON lines; empty drops them
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

// LoadDotEnv loads KEY=VALUE pairs from the given files (default ".env") into
// the process environment. Missing files are ignored and existing variables
// are never overridden.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// FromEnv builds a configuration from defaults plus the PUBLIC_COM_* variables.
// The command line tools use it when no config file is given.
func FromEnv() *Config {
	cfg := DefaultConfig()
	cfg.Public.Secret = Secret(os.Getenv("PUBLIC_COM_SECRET"))
	cfg.Public.AccountID = os.Getenv("PUBLIC_COM_ACCOUNT_ID")
	if v := os.Getenv("PUBLIC_COM_BASE_URL"); v != "" {
		cfg.Public.BaseURL = v
	}
	return cfg
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateAppConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validatePublicConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateDashboardConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateHistoryConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateServerConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	validSources := []string{"public", "mock"}
	if !contains(validSources, c.App.Source) {
		return ValidationError{
			Field:   "app.source",
			Value:   c.App.Source,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validSources, ", ")),
		}
	}

	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		return ValidationError{
			Field:   "app.log_level",
			Value:   c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}

	if c.App.LogFormat != "" && c.App.LogFormat != "console" && c.App.LogFormat != "json" {
		return ValidationError{
			Field:   "app.log_format",
			Value:   c.App.LogFormat,
			Message: "must be one of: console, json",
		}
	}
	return nil
}

func (c *Config) validatePublicConfig() error {
	if c.App.Source != "public" {
		return nil
	}
	if c.Public.Secret == "" {
		return ValidationError{
			Field:   "public.secret",
			Message: "secret is required (set PUBLIC_COM_SECRET)",
		}
	}
	if c.Public.BaseURL == "" {
		return ValidationError{
			Field:   "public.base_url",
			Message: "base URL is required",
		}
	}
	return nil
}

func (c *Config) validateDashboardConfig() error {
	d := &c.Dashboard
	if len(d.Watch) == 0 {
		return ValidationError{
			Field:   "dashboard.watch",
			Message: "at least one watch target is required",
		}
	}

	seen := make(map[string]bool, len(d.Watch))
	for i := range d.Watch {
		w := &d.Watch[i]
		w.Symbol = strings.ToUpper(strings.TrimSpace(w.Symbol))
		if w.Symbol == "" {
			return ValidationError{
				Field:   fmt.Sprintf("dashboard.watch[%d].symbol", i),
				Message: "symbol is required",
			}
		}
		if w.Horizon == "" {
			w.Horizon = chain.HorizonDTE0
		}
		if !chain.IsHorizon(w.Horizon) {
			return ValidationError{
				Field:   fmt.Sprintf("dashboard.watch[%d].horizon", i),
				Value:   w.Horizon,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(chain.Horizons, ", ")),
			}
		}
		if w.InstrumentType == "" {
			w.InstrumentType = DefaultInstrumentType(w.Symbol)
		}
		if seen[w.Key()] {
			return ValidationError{
				Field:   fmt.Sprintf("dashboard.watch[%d]", i),
				Value:   w.Key(),
				Message: "duplicate watch target",
			}
		}
		seen[w.Key()] = true
	}

	if d.PollIntervalSeconds <= 0 {
		return ValidationError{
			Field:   "dashboard.poll_interval_seconds",
			Value:   d.PollIntervalSeconds,
			Message: "poll interval must be positive",
		}
	}

	if len(d.Lookbacks) == 0 {
		d.Lookbacks = append([]int(nil), chain.DefaultLookbacks...)
	}
	maxLookback := 0
	for _, l := range d.Lookbacks {
		if l < 0 {
			return ValidationError{
				Field:   "dashboard.lookbacks",
				Value:   l,
				Message: "lookbacks must not be negative",
			}
		}
		if l > maxLookback {
			maxLookback = l
		}
	}
	if !containsInt(d.Lookbacks, d.DefaultLookbackMinutes) {
		return ValidationError{
			Field:   "dashboard.default_lookback_minutes",
			Value:   d.DefaultLookbackMinutes,
			Message: fmt.Sprintf("must be one of the configured lookbacks %v", d.Lookbacks),
		}
	}
	if c.History.RetentionMinutes <= maxLookback {
		return ValidationError{
			Field:   "history.retention_minutes",
			Value:   c.History.RetentionMinutes,
			Message: fmt.Sprintf("must exceed the largest lookback (%d minutes)", maxLookback),
		}
	}

	if d.HighTier < 0 || d.MidTier < 0 {
		return ValidationError{
			Field:   "dashboard.high_tier",
			Value:   fmt.Sprintf("%d/%d", d.HighTier, d.MidTier),
			Message: "tier sizes must not be negative",
		}
	}

	if d.SpreadMinCredit < 0 || d.SpreadMaxCredit < d.SpreadMinCredit {
		return ValidationError{
			Field:   "dashboard.spread_max_credit",
			Value:   fmt.Sprintf("[%v, %v]", d.SpreadMinCredit, d.SpreadMaxCredit),
			Message: "credit band must satisfy 0 <= min <= max",
		}
	}
	if d.SpreadWidth < 0 {
		return ValidationError{
			Field:   "dashboard.spread_width",
			Value:   d.SpreadWidth,
			Message: "spread width must not be negative",
		}
	}
	return nil
}

func (c *Config) validateHistoryConfig() error {
	validStores := []string{"memory", "sqlite", "redis"}
	if !contains(validStores, c.History.Store) {
		return ValidationError{
			Field:   "history.store",
			Value:   c.History.Store,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validStores, ", ")),
		}
	}
	if c.History.Store == "sqlite" && c.History.SQLitePath == "" {
		return ValidationError{
			Field:   "history.sqlite_path",
			Message: "sqlite path is required for the sqlite store",
		}
	}
	if c.History.Store == "redis" && c.History.RedisURL == "" {
		return ValidationError{
			Field:   "history.redis_url",
			Message: "redis URL is required for the redis store",
		}
	}
	if c.History.MaxSamples < 2 {
		return ValidationError{
			Field:   "history.max_samples",
			Value:   c.History.MaxSamples,
			Message: "at least two samples are needed to compute deltas",
		}
	}
	// The oldest buffered sample must still be one poll older than the
	// largest lookback, or that lookback never finds a baseline.
	if interval := c.Dashboard.PollIntervalSeconds; interval > 0 {
		span := (c.History.MaxSamples - 1) * interval
		need := c.maxLookback()*60 + interval
		if span < need {
			return ValidationError{
				Field:   "history.max_samples",
				Value:   c.History.MaxSamples,
				Message: fmt.Sprintf("%d samples at %ds polls cover %ds, the largest lookback needs %ds", c.History.MaxSamples, interval, span, need),
			}
		}
	}
	return nil
}

func (c *Config) maxLookback() int {
	lookbacks := c.Dashboard.Lookbacks
	if len(lookbacks) == 0 {
		lookbacks = chain.DefaultLookbacks
	}
	largest := 0
	for _, l := range lookbacks {
		if l > largest {
			largest = l
		}
	}
	return largest
}

func (c *Config) validateServerConfig() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return ValidationError{
			Field:   "server.port",
			Value:   c.Server.Port,
			Message: "port must be between 1 and 65535",
		}
	}
	if c.Server.Production && len(c.Server.AllowedOrigins) == 0 {
		return ValidationError{
			Field:   "server.allowed_origins",
			Message: "allowed origins are required in production",
		}
	}
	return nil
}

// AggregateOptions converts the dashboard settings into aggregation options.
func (d DashboardConfig) AggregateOptions() chain.Options {
	return chain.Options{
		Rank:            chain.RankOptions{High: d.HighTier, Mid: d.MidTier},
		LookbackMinutes: d.DefaultLookbackMinutes,
		Spreads: chain.SpreadOptions{
			MinCredit: decimal.NewFromFloat(d.SpreadMinCredit),
			MaxCredit: decimal.NewFromFloat(d.SpreadMaxCredit),
			Width:     decimal.NewFromFloat(d.SpreadWidth),
			OTMOnly:   d.SpreadOTMOnly,
		},
	}
}

func (d DashboardConfig) PollInterval() time.Duration {
	return time.Duration(d.PollIntervalSeconds) * time.Second
}

func (d DashboardConfig) StaleAfter() time.Duration {
	return time.Duration(d.StaleAfterSeconds) * time.Second
}

// HistoryOptions converts the history settings into buffer bounds.
func (h HistoryConfig) HistoryOptions() chain.HistoryOptions {
	return chain.HistoryOptions{
		Retention:  time.Duration(h.RetentionMinutes) * time.Minute,
		MaxSamples: h.MaxSamples,
	}
}

// Target returns the watch target for a symbol and horizon.
func (c *Config) Target(symbol, horizon string) (WatchTarget, bool) {
	symbol = strings.ToUpper(symbol)
	for _, w := range c.Dashboard.Watch {
		if w.Symbol == symbol && w.Horizon == horizon {
			return w, true
		}
	}
	return WatchTarget{}, false
}

// String returns a string representation of the configuration (secrets redact themselves)
func (c *Config) String() string {
	data, _ := yaml.Marshal(*c)
	return string(data)
}

// DefaultInstrumentType guesses the instrument type for well-known index roots.
func DefaultInstrumentType(symbol string) string {
	switch strings.ToUpper(symbol) {
	case "SPX", "SPXW", "NDX", "NDXP", "RUT", "RUTW", "VIX", "XSP", "DJX":
		return "INDEX"
	default:
		return "EQUITY"
	}
}

// Helper functions

// expandEnvVars replaces ${VAR} references; unset variables expand to "".
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func containsInt(slice []int, item int) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the configuration used when a field is not set
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Source:    "public",
			LogLevel:  "INFO",
			LogFormat: "console",
		},
		Public: PublicConfig{
			BaseURL:              "https://api.public.com",
			TokenValidityMinutes: 60,
			RequestTimeoutSecs:   10,
			RequestsPerSecond:    10,
			WithGreeks:           true,
		},
		Dashboard: DashboardConfig{
			Watch: []WatchTarget{
				{Symbol: "SPX", Horizon: chain.HorizonDTE0, InstrumentType: "INDEX"},
			},
			PollIntervalSeconds:    5,
			StaleAfterSeconds:      30,
			StrikeWindow:           chain.DefaultStrikeWindow,
			DefaultLookbackMinutes: 5,
			Lookbacks:              append([]int(nil), chain.DefaultLookbacks...),
			HighTier:               5,
			MidTier:                5,
			SpreadMinCredit:        0.25,
			SpreadMaxCredit:        0.50,
			SpreadOTMOnly:          true,
		},
		History: HistoryConfig{
			RetentionMinutes: 20,
			MaxSamples:       512,
			Store:            "memory",
			SQLitePath:       "data/history.db",
			KeyPrefix:        "chainwatch",
		},
		Server: ServerConfig{
			Port:           8080,
			StaticDir:      "web",
			MaxConnections: 1000,
			RateLimit:      10,
			RateBurst:      20,
		},
		Concurrency: ConcurrencyConfig{
			PollPoolSize:   4,
			PollPoolBuffer: 64,
		},
		Telemetry: TelemetryConfig{
			ServiceName:   "chainwatch",
			EnableMetrics: true,
		},
	}
}
