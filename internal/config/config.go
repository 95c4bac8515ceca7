package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/p-blackswan/tod/internal/cache"
	"github.com/p-blackswan/tod/internal/due"
	"github.com/p-blackswan/tod/internal/metrics"
	"github.com/p-blackswan/tod/internal/ordering"
	"github.com/p-blackswan/tod/internal/retry"
	"github.com/p-blackswan/tod/internal/todoist"
	"github.com/p-blackswan/tod/internal/triage"
)

// Prefix is the environment variable prefix.
const Prefix = "TOD"

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"warn"`

	// Remote
	APIToken          string        `envconfig:"API_TOKEN"`
	BaseURL           string        `envconfig:"BASE_URL" default:"https://api.todoist.com/api/v1"`
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	MaxAttempts       int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	BaseDelay         time.Duration `envconfig:"BASE_DELAY" default:"500ms"`
	MaxDelay          time.Duration `envconfig:"MAX_DELAY" default:"10s"`
	RateLimitDelay    time.Duration `envconfig:"RATE_LIMIT_DELAY" default:"5s"`
	MaxPages          int           `envconfig:"MAX_PAGES" default:"50"`
	PageSize          int           `envconfig:"PAGE_SIZE" default:"200"`
	RequestsPerSecond float64       `envconfig:"REQUESTS_PER_SECOND" default:"1"`
	Burst             int           `envconfig:"BURST" default:"10"`

	// Due dates
	Locale   string `envconfig:"LOCALE" default:"en"`
	Timezone string `envconfig:"TIMEZONE" default:"UTC"`

	// Metadata cache
	CacheTTL      time.Duration `envconfig:"CACHE_TTL" default:"5m"`
	CacheCapacity int           `envconfig:"CACHE_CAPACITY" default:"64"`

	// Triage
	SkipSchedule   string `envconfig:"SKIP_SCHEDULE" default:"defer"`
	SkipPrioritize string `envconfig:"SKIP_PRIORITIZE" default:"defer"`
	SkipProcess    string `envconfig:"SKIP_PROCESS" default:"dismiss"`
	// SessionDir defaults to $XDG_STATE_HOME/tod/sessions.
	SessionDir string `envconfig:"SESSION_DIR"`
}

// Load reads configuration from TOD_* environment variables.
func Load() (*Config, error) {
	return LoadWithPrefix(Prefix)
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}

// IsDevelopment reports whether human-friendly console logs are wanted.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	var errs []error
	if _, ok := due.LookupLocale(c.Locale); !ok {
		errs = append(errs, fmt.Errorf("TOD_LOCALE: unsupported locale %q (supported: %s)", c.Locale, strings.Join(due.Locales(), ", ")))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("TOD_TIMEZONE: %w", err))
	}
	for name, v := range map[string]string{
		"TOD_SKIP_SCHEDULE":   c.SkipSchedule,
		"TOD_SKIP_PRIORITIZE": c.SkipPrioritize,
		"TOD_SKIP_PROCESS":    c.SkipProcess,
	} {
		if _, err := triage.ParseSkipPolicy(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for name, v := range map[string]int{
		"TOD_MAX_ATTEMPTS":   c.MaxAttempts,
		"TOD_MAX_PAGES":      c.MaxPages,
		"TOD_PAGE_SIZE":      c.PageSize,
		"TOD_BURST":          c.Burst,
		"TOD_CACHE_CAPACITY": c.CacheCapacity,
	} {
		if v < 1 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %d", name, v))
		}
	}
	for name, v := range map[string]time.Duration{
		"TOD_REQUEST_TIMEOUT":  c.RequestTimeout,
		"TOD_BASE_DELAY":       c.BaseDelay,
		"TOD_MAX_DELAY":        c.MaxDelay,
		"TOD_RATE_LIMIT_DELAY": c.RateLimitDelay,
		"TOD_CACHE_TTL":        c.CacheTTL,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s: must be positive, got %s", name, v))
		}
	}
	if c.RequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("TOD_REQUESTS_PER_SECOND: must not be negative, got %g", c.RequestsPerSecond))
	}
	if c.MaxDelay < c.BaseDelay {
		errs = append(errs, fmt.Errorf("TOD_MAX_DELAY (%s) is below TOD_BASE_DELAY (%s)", c.MaxDelay, c.BaseDelay))
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errors.Join(errs...)
}

// Location loads the configured time zone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Lang is the language sent with recurring due strings.
func (c *Config) Lang() string {
	if len(c.Locale) < 2 {
		return "en"
	}
	return strings.ToLower(c.Locale[:2])
}

// SkipPolicies returns the skip policy of every mode. Invalid values fall back to defer.
func (c *Config) SkipPolicies() map[ordering.Mode]triage.SkipPolicy {
	out := make(map[ordering.Mode]triage.SkipPolicy, 3)
	for mode, v := range map[ordering.Mode]string{
		ordering.Schedule:   c.SkipSchedule,
		ordering.Prioritize: c.SkipPrioritize,
		ordering.Process:    c.SkipProcess,
	} {
		p, err := triage.ParseSkipPolicy(v)
		if err != nil {
			p = triage.SkipDefer
		}
		out[mode] = p
	}
	return out
}

// RetryConfig builds the remote retry policy.
func (c *Config) RetryConfig() retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxAttempts = c.MaxAttempts
	cfg.BaseDelay = c.BaseDelay
	cfg.MaxDelay = c.MaxDelay
	cfg.RateLimitDelay = c.RateLimitDelay
	return cfg
}

// ClientOptions builds the remote client options.
func (c *Config) ClientOptions(m *metrics.Metrics) todoist.Options {
	return todoist.Options{
		Retry:             c.RetryConfig(),
		Timeout:           c.RequestTimeout,
		MaxPages:          c.MaxPages,
		PageSize:          c.PageSize,
		RequestsPerSecond: c.RequestsPerSecond,
		Burst:             c.Burst,
		Metrics:           m,
	}
}

// CacheOptions builds the metadata cache options.
func (c *Config) CacheOptions(m *metrics.Metrics) cache.Options {
	return cache.Options{TTL: c.CacheTTL, Capacity: c.CacheCapacity, Metrics: m}
}

// TriageConfig builds the triage engine settings.
func (c *Config) TriageConfig() triage.Config {
	return triage.Config{Skip: c.SkipPolicies(), Lang: c.Lang(), Location: c.Location()}
}

// SessionPath returns the snapshot directory.
func (c *Config) SessionPath() (string, error) {
	if c.SessionDir != "" {
		return c.SessionDir, nil
	}
	if state := os.Getenv("XDG_STATE_HOME"); state != "" {
		return filepath.Join(state, "tod", "sessions"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating session directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "tod", "sessions"), nil
}
