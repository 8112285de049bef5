// Package config loads the rankbeam TOML configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/umarmf343/rankbeam/internal/browser"
	"github.com/umarmf343/rankbeam/internal/history"
	"github.com/umarmf343/rankbeam/internal/monitor"
	"github.com/umarmf343/rankbeam/internal/scraper"
)

const (
	DriverChrome = "chrome"
	DriverHTTP   = "http"
)

// Duration reads Go duration strings such as "1500ms" from TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Search struct {
		MaxPages               int      `toml:"max_pages"`
		MaxConcurrentCountries int      `toml:"max_concurrent_countries"`
		PageInterval           Duration `toml:"page_interval"`
		KeywordInterval        Duration `toml:"keyword_interval"`
	} `toml:"search"`

	Locale struct {
		MaxRounds   int `toml:"max_rounds"`
		OuterRounds int `toml:"outer_rounds"`
	} `toml:"locale"`

	Retry struct {
		MaxRetries int      `toml:"max_retries"`
		Base       Duration `toml:"base"`
		Max        Duration `toml:"max"`
	} `toml:"retry"`

	Driver struct {
		Kind              string   `toml:"kind"` // chrome or http
		Headless          bool     `toml:"headless"`
		ExecPath          string   `toml:"exec_path"`
		Proxy             string   `toml:"proxy"`
		UserAgent         string   `toml:"user_agent"`
		RequestsPerMinute int      `toml:"requests_per_minute"`
		Timeout           Duration `toml:"timeout"`
		Settle            Duration `toml:"settle"`
	} `toml:"driver"`

	History struct {
		Path   string               `toml:"path"` // empty disables history
		Notify history.NotifyPolicy `toml:"notify"`
	} `toml:"history"`

	AMQP struct {
		URL    string `toml:"url"` // empty disables publishing
		Prefix string `toml:"prefix"`
	} `toml:"amqp"`

	Server struct {
		Addr        string `toml:"addr"`
		MetricsAddr string `toml:"metrics_addr"`
	} `toml:"server"`

	Log struct {
		Level string `toml:"level"`
		File  string `toml:"file"`
	} `toml:"log"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	opts := monitor.DefaultOptions()
	cfg := &Config{}
	cfg.Search.MaxPages = opts.MaxPages
	cfg.Search.MaxConcurrentCountries = opts.MaxConcurrentCountries
	cfg.Search.PageInterval = Duration{opts.PageInterval}
	cfg.Search.KeywordInterval = Duration{opts.KeywordInterval}
	cfg.Locale.MaxRounds = opts.NegotiationRounds
	cfg.Locale.OuterRounds = opts.OuterRounds
	cfg.Retry.MaxRetries = opts.Retry.MaxRetries
	cfg.Retry.Base = Duration{opts.Retry.Base}
	cfg.Retry.Max = Duration{opts.Retry.Max}

	bopts := browser.DefaultOptions()
	cfg.Driver.Kind = DriverChrome
	cfg.Driver.Headless = bopts.Headless
	cfg.Driver.UserAgent = bopts.UserAgent
	cfg.Driver.RequestsPerMinute = 20
	cfg.Driver.Timeout = Duration{bopts.Navigation}
	cfg.Driver.Settle = Duration{bopts.Settle}

	cfg.History.Notify = history.DefaultNotifyPolicy()
	cfg.AMQP.Prefix = "rankbeam"
	cfg.Server.Addr = ":8080"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads path over the defaults and then applies RANKBEAM_* environment
// overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("RANKBEAM_DRIVER"); v != "" {
		c.Driver.Kind = v
	}
	if v := os.Getenv("RANKBEAM_PROXY"); v != "" {
		c.Driver.Proxy = v
	}
	if v := os.Getenv("RANKBEAM_CHROME_PATH"); v != "" {
		c.Driver.ExecPath = v
	}
	if v := os.Getenv("RANKBEAM_HISTORY_DB"); v != "" {
		c.History.Path = v
	}
	if v := os.Getenv("RANKBEAM_AMQP_URL"); v != "" {
		c.AMQP.URL = v
	}
	if v := os.Getenv("RANKBEAM_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("RANKBEAM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("RANKBEAM_MAX_PAGES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("RANKBEAM_MAX_PAGES: %w", err)
		}
		c.Search.MaxPages = n
	}
	return nil
}

// Validate rejects settings the scheduler cannot run with.
func (c *Config) Validate() error {
	switch c.Driver.Kind {
	case DriverChrome, DriverHTTP:
	default:
		return fmt.Errorf("config: unknown driver %q", c.Driver.Kind)
	}
	if c.Search.MaxPages < 1 {
		return fmt.Errorf("config: max_pages must be at least 1, got %d", c.Search.MaxPages)
	}
	if c.Search.MaxConcurrentCountries < 1 {
		return fmt.Errorf("config: max_concurrent_countries must be at least 1, got %d", c.Search.MaxConcurrentCountries)
	}
	if c.Locale.MaxRounds < 1 {
		return fmt.Errorf("config: locale max_rounds must be at least 1, got %d", c.Locale.MaxRounds)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// MonitorOptions converts the search, locale and retry sections.
func (c *Config) MonitorOptions() monitor.Options {
	return monitor.Options{
		MaxPages:               c.Search.MaxPages,
		MaxConcurrentCountries: c.Search.MaxConcurrentCountries,
		NegotiationRounds:      c.Locale.MaxRounds,
		OuterRounds:            c.Locale.OuterRounds,
		PageInterval:           c.Search.PageInterval.Duration,
		KeywordInterval:        c.Search.KeywordInterval.Duration,
		Retry: monitor.RetryPolicy{
			MaxRetries: c.Retry.MaxRetries,
			Base:       c.Retry.Base.Duration,
			Max:        c.Retry.Max.Duration,
		},
	}
}

// SessionFactory builds the configured storefront driver.
func (c *Config) SessionFactory(logger *slog.Logger) monitor.SessionFactory {
	if c.Driver.Kind == DriverHTTP {
		return scraper.HTTPSessionFactory(scraper.HTTPOptions{
			Timeout:           c.Driver.Timeout.Duration,
			RequestsPerMinute: c.Driver.RequestsPerMinute,
			Proxy:             c.Driver.Proxy,
			UserAgents:        userAgents(c.Driver.UserAgent),
			Logger:            logger,
		})
	}
	return browser.Factory(browser.Options{
		Headless:   c.Driver.Headless,
		ExecPath:   c.Driver.ExecPath,
		Proxy:      c.Driver.Proxy,
		UserAgent:  c.Driver.UserAgent,
		Navigation: c.Driver.Timeout.Duration,
		Settle:     c.Driver.Settle.Duration,
		Logger:     logger,
	})
}

func userAgents(ua string) []string {
	if ua == "" {
		return nil
	}
	return []string{ua}
}

// ParseLevel maps a level name onto slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return 0, fmt.Errorf("config: log level: %w", err)
	}
	return level, nil
}
