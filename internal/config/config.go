// Package config loads and validates tracker configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Search    SearchConfig    `mapstructure:"search"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Checker   CheckerConfig   `mapstructure:"checker"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig controls access to the relational database.
type DatabaseConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// BrowserConfig configures the headless rendering subsystem.
type BrowserConfig struct {
	UserAgent         string  `mapstructure:"user_agent"`
	NavTimeoutSec     int     `mapstructure:"nav_timeout_seconds"`
	ElementTimeoutSec int     `mapstructure:"element_timeout_seconds"`
	SettleDelayMs     int     `mapstructure:"settle_delay_ms"`
	RevealStepPx      int     `mapstructure:"reveal_step_px"`
	HostQPS           float64 `mapstructure:"host_qps"`
}

// SearchConfig points at the marketplace and bounds result collection.
type SearchConfig struct {
	SiteBaseURL   string `mapstructure:"site_base_url"`
	SearchBaseURL string `mapstructure:"search_base_url"`
	MaxRounds     int    `mapstructure:"max_rounds"`
	StableRounds  int    `mapstructure:"stable_rounds"`
	RevealActions int    `mapstructure:"reveal_actions"`
}

// WebhookConfig configures the price alert webhook. An empty URL disables
// notifications.
type WebhookConfig struct {
	URL        string `mapstructure:"url"`
	TimeoutSec int    `mapstructure:"timeout_seconds"`
}

// CheckerConfig governs the periodic re-check loop.
type CheckerConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	IntervalMin int  `mapstructure:"interval_minutes"`
}

// ArtifactsConfig sets where diagnostic screenshots land.
type ArtifactsConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FLEAWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("browser.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	v.SetDefault("browser.nav_timeout_seconds", 60)
	v.SetDefault("browser.element_timeout_seconds", 5)
	v.SetDefault("browser.settle_delay_ms", 800)
	v.SetDefault("browser.reveal_step_px", 800)
	v.SetDefault("browser.host_qps", 0.5)
	v.SetDefault("search.site_base_url", "https://jp.mercari.com")
	v.SetDefault("search.search_base_url", "https://jp.mercari.com/search")
	v.SetDefault("search.max_rounds", 30)
	v.SetDefault("search.stable_rounds", 3)
	v.SetDefault("search.reveal_actions", 3)
	v.SetDefault("webhook.timeout_seconds", 10)
	v.SetDefault("checker.enabled", true)
	v.SetDefault("checker.interval_minutes", 60)
	v.SetDefault("artifacts.base_dir", "data/artifacts")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Browser.ElementTimeoutSec <= 0 {
		return fmt.Errorf("browser.element_timeout_seconds must be > 0")
	}
	if c.Search.SiteBaseURL == "" || c.Search.SearchBaseURL == "" {
		return fmt.Errorf("search.site_base_url and search.search_base_url are required")
	}
	if c.Search.StableRounds <= 0 || c.Search.MaxRounds < c.Search.StableRounds {
		return fmt.Errorf("search.max_rounds must be >= search.stable_rounds > 0")
	}
	if c.Checker.Enabled && c.Checker.IntervalMin <= 0 {
		return fmt.Errorf("checker.interval_minutes must be > 0 when the checker is enabled")
	}
	return nil
}

// NavTimeout returns the page session budget as a duration.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// ElementTimeout returns the element wait budget as a duration.
func (c BrowserConfig) ElementTimeout() time.Duration {
	return time.Duration(c.ElementTimeoutSec) * time.Second
}

// SettleDelay returns the post-scroll settle pause as a duration.
func (c BrowserConfig) SettleDelay() time.Duration {
	return time.Duration(c.SettleDelayMs) * time.Millisecond
}

// Timeout returns the webhook delivery budget as a duration.
func (c WebhookConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// Interval returns the re-check cadence as a duration.
func (c CheckerConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMin) * time.Minute
}
