// Package config loads and validates process configuration. It keeps the
// teacher's godotenv.Load() call for local .env files, layers viper for env
// binding and typed defaults, and validates the bound struct so a bad
// deployment refuses to start instead of degrading silently.
package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string `mapstructure:"PORT" validate:"required"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	HTTPClientBaseURL string `mapstructure:"HTTP_CLIENT_BASE_URL" validate:"required,url"`
	HTTPClientAPIKey  string `mapstructure:"HTTP_CLIENT_API_KEY"`
	HTTPClientTimeout int    `mapstructure:"HTTP_CLIENT_TIMEOUT" validate:"gte=100"`
	HTTPClientRetries int    `mapstructure:"HTTP_CLIENT_RETRIES" validate:"gte=0,lte=5"`

	ProxyBodyLimit int64 `mapstructure:"PROXY_BODY_LIMIT" validate:"gte=1024"`

	CacheRedisURL              string `mapstructure:"CACHE_REDIS_URL" validate:"required"`
	CacheTTLDefault            int    `mapstructure:"CACHE_TTL_DEFAULT" validate:"gte=0"`
	CacheStaleTTL              int    `mapstructure:"CACHE_STALE_TTL" validate:"gte=0"`
	CacheIgnoreUpstreamControl bool   `mapstructure:"CACHE_IGNORE_UPSTREAM_CONTROL"`
	CacheBypassPathsRaw        string `mapstructure:"CACHE_BYPASS_PATHS"`
	CacheDebug                 bool   `mapstructure:"CACHE_DEBUG"`

	APIKeysRedisPrefix            string `mapstructure:"API_KEYS_REDIS_PREFIX" validate:"required"`
	APIKeysRateLimitWindowSeconds int    `mapstructure:"API_KEYS_RATE_LIMIT_WINDOW_SECONDS" validate:"gte=0"`
	APIKeysRateLimitMaxRequests   int    `mapstructure:"API_KEYS_RATE_LIMIT_MAX_REQUESTS" validate:"gte=0"`

	AdminAPIToken    string `mapstructure:"ADMIN_API_TOKEN" validate:"required"`
	AuditDatabaseURL string `mapstructure:"AUDIT_DATABASE_URL"`
}

// CacheBypassPaths splits the comma-separated CACHE_BYPASS_PATHS value.
func (c *Config) CacheBypassPaths() []string {
	raw := strings.TrimSpace(c.CacheBypassPathsRaw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

var defaults = map[string]any{
	"PORT":                                "8080",
	"LOG_LEVEL":                           "info",
	"HTTP_CLIENT_TIMEOUT":                 5000,
	"HTTP_CLIENT_RETRIES":                 1,
	"PROXY_BODY_LIMIT":                    1048576,
	"CACHE_TTL_DEFAULT":                   60,
	"CACHE_STALE_TTL":                     30,
	"CACHE_IGNORE_UPSTREAM_CONTROL":       false,
	"CACHE_BYPASS_PATHS":                  "",
	"CACHE_DEBUG":                         false,
	"API_KEYS_REDIS_PREFIX":               "apikeys",
	"API_KEYS_RATE_LIMIT_WINDOW_SECONDS":  60,
	"API_KEYS_RATE_LIMIT_MAX_REQUESTS":    120,
	"AUDIT_DATABASE_URL":                  "",
}

// Load reads configuration from the environment (and a local .env file, if
// present) and validates it. Validation failure is a Configuration error:
// callers must refuse to start rather than run with a partial config.
func Load() (*Config, error) {
	// Ignore error: a missing .env file is normal in production.
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for key, def := range defaults {
		v.SetDefault(key, def)
	}
	// AutomaticEnv only binds keys viper already knows about via
	// SetDefault/BindEnv; bind the no-default, validate-required keys
	// explicitly so they're picked up too.
	for _, key := range []string{
		"HTTP_CLIENT_BASE_URL", "HTTP_CLIENT_API_KEY", "CACHE_REDIS_URL", "ADMIN_API_TOKEN",
	} {
		_ = v.BindEnv(key)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("couldn't bind configuration: %w", err)
	}

	if err := validateBaseURL(cfg.HTTPClientBaseURL); err != nil {
		return nil, fmt.Errorf("invalid HTTP_CLIENT_BASE_URL: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// validateBaseURL enforces that the configured backend is origin-only:
// scheme + authority, optional trailing slash, no meaningful
// path/query/fragment.
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("must be an absolute URL with scheme and host")
	}
	if p := strings.Trim(u.Path, "/"); p != "" {
		return fmt.Errorf("must be origin-only, got path %q", u.Path)
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return fmt.Errorf("must be origin-only, no query or fragment")
	}
	return nil
}
