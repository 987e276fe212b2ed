// Package config provides configuration loading for the order book watcher.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PMBOOK_MARKET_FAMILY.
const EnvPrefix = "PMBOOK"

// Config represents the watcher configuration.
type Config struct {
	// Which recurring market to follow
	Market MarketConfig `yaml:"market" envconfig:"MARKET"`

	// Gamma metadata API settings
	Gamma GammaConfig `yaml:"gamma" envconfig:"GAMMA"`

	// WebSocket settings
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`

	// Session timing settings
	Session SessionConfig `yaml:"session" envconfig:"SESSION"`

	// Logging settings
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`

	// Metrics settings
	Metrics MetricsConfig `yaml:"metrics" envconfig:"METRICS"`
}

// MarketConfig selects the market family and its window length.
type MarketConfig struct {
	// Slug family (e.g., "btc-updown")
	Family string `yaml:"family" envconfig:"FAMILY"`

	// Window label used in slugs (e.g., "15m"); derived from Window when empty
	Label string `yaml:"label" envconfig:"LABEL"`

	// Window length
	Window time.Duration `yaml:"window" envconfig:"WINDOW"`
}

// GammaConfig contains Gamma API settings.
type GammaConfig struct {
	// Custom API base URL (optional)
	BaseURL string `yaml:"base_url" envconfig:"BASE_URL"`

	// HTTP client timeout
	Timeout time.Duration `yaml:"timeout" envconfig:"TIMEOUT"`

	// Requests per second; 0 disables limiting
	RateLimit float64 `yaml:"rate_limit" envconfig:"RATE_LIMIT"`

	// Token bucket burst
	Burst int `yaml:"burst" envconfig:"BURST"`
}

// WebSocketConfig contains WebSocket settings.
type WebSocketConfig struct {
	// Custom WebSocket URL (optional)
	URL string `yaml:"url" envconfig:"URL"`

	// Initial reconnection backoff
	InitialBackoff time.Duration `yaml:"initial_backoff" envconfig:"INITIAL_BACKOFF"`

	// Maximum reconnection backoff
	MaxBackoff time.Duration `yaml:"max_backoff" envconfig:"MAX_BACKOFF"`

	// Backoff multiplier
	BackoffFactor float64 `yaml:"backoff_factor" envconfig:"BACKOFF_FACTOR"`

	// Keepalive PING interval; 0 disables
	PingInterval time.Duration `yaml:"ping_interval" envconfig:"PING_INTERVAL"`
}

// SessionConfig contains session timing settings.
type SessionConfig struct {
	// Delay after a window boundary before resolving the next market
	SettleDelay time.Duration `yaml:"settle_delay" envconfig:"SETTLE_DELAY"`

	// Upper bound on one metadata fetch
	FetchTimeout time.Duration `yaml:"fetch_timeout" envconfig:"FETCH_TIMEOUT"`

	// Upper bound on the initial stream dial
	ConnectTimeout time.Duration `yaml:"connect_timeout" envconfig:"CONNECT_TIMEOUT"`

	// Within-window retry after a failure; 0 waits for the next window
	RetryInterval time.Duration `yaml:"retry_interval" envconfig:"RETRY_INTERVAL"`

	// Buffered stream events before callbacks block
	InboxSize int `yaml:"inbox_size" envconfig:"INBOX_SIZE"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	// Log level: debug, info, warn, error
	Level string `yaml:"level" envconfig:"LEVEL"`

	// Log format: pretty, text or json
	Format string `yaml:"format" envconfig:"FORMAT"`
}

// MetricsConfig contains Prometheus settings.
type MetricsConfig struct {
	// Listen address for /metrics (e.g., ":9090"); empty disables
	Addr string `yaml:"addr" envconfig:"ADDR"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Market: MarketConfig{
			Family: "btc-updown",
			Label:  "15m",
			Window: 15 * time.Minute,
		},
		Gamma: GammaConfig{
			Timeout:   10 * time.Second,
			RateLimit: 5,
			Burst:     2,
		},
		WebSocket: WebSocketConfig{
			InitialBackoff: 1 * time.Second,
			MaxBackoff:     30 * time.Second,
			BackoffFactor:  2.0,
			PingInterval:   10 * time.Second,
		},
		Session: SessionConfig{
			SettleDelay:    2 * time.Second,
			FetchTimeout:   10 * time.Second,
			ConnectTimeout: 15 * time.Second,
			InboxSize:      256,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "pretty",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return config, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
// The bool reports whether the file was found.
func LoadOrDefault(path string) (*Config, bool, error) {
	if path == "" {
		return DefaultConfig(), false, nil
	}
	config, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return config, true, nil
}

// ApplyEnv loads the given .env files (".env" when none are named; missing
// files are ignored) and then overrides fields from PMBOOK_* variables.
func (c *Config) ApplyEnv(envFiles ...string) error {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("applying environment overrides: %w", err)
	}
	return nil
}

// WindowLabel returns the label for the configured market, deriving it from
// the window length ("15m", "1h") when none is set.
func (c *Config) WindowLabel() string {
	if c.Market.Label != "" {
		return c.Market.Label
	}
	return FormatWindowLabel(c.Market.Window)
}

// FormatWindowLabel renders a window length the way market slugs spell it.
func FormatWindowLabel(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		return fmt.Sprintf("%dh", d/time.Hour)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%dm", d/time.Minute)
	default:
		return fmt.Sprintf("%ds", d/time.Second)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Market.Family == "" {
		return fmt.Errorf("market.family required")
	}
	if c.Market.Window < time.Minute || c.Market.Window%time.Second != 0 {
		return fmt.Errorf("invalid market.window: %s (whole seconds, at least 1m)", c.Market.Window)
	}
	if c.Gamma.Timeout <= 0 {
		return fmt.Errorf("gamma.timeout must be positive")
	}
	if c.Gamma.RateLimit < 0 {
		return fmt.Errorf("gamma.rate_limit must not be negative")
	}
	if c.Gamma.RateLimit > 0 && c.Gamma.Burst < 1 {
		return fmt.Errorf("gamma.burst must be at least 1 when rate limiting")
	}
	if c.WebSocket.InitialBackoff <= 0 || c.WebSocket.MaxBackoff < c.WebSocket.InitialBackoff {
		return fmt.Errorf("invalid websocket backoff: initial %s, max %s", c.WebSocket.InitialBackoff, c.WebSocket.MaxBackoff)
	}
	if c.WebSocket.BackoffFactor < 1 {
		return fmt.Errorf("websocket.backoff_factor must be at least 1")
	}
	if c.WebSocket.PingInterval < 0 {
		return fmt.Errorf("websocket.ping_interval must not be negative")
	}
	if c.Session.SettleDelay < 0 || c.Session.SettleDelay >= c.Market.Window {
		return fmt.Errorf("invalid session.settle_delay: %s", c.Session.SettleDelay)
	}
	if c.Session.FetchTimeout <= 0 || c.Session.ConnectTimeout <= 0 {
		return fmt.Errorf("session timeouts must be positive")
	}
	if c.Session.RetryInterval < 0 {
		return fmt.Errorf("session.retry_interval must not be negative")
	}
	if c.Session.InboxSize < 1 {
		return fmt.Errorf("session.inbox_size must be at least 1")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "pretty", "text", "json":
	default:
		return fmt.Errorf("invalid logging.format: %s", c.Logging.Format)
	}
	return nil
}
