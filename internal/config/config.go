// Package config loads the example servers' configuration from an optional
// YAML file and CSRF_* environment variables, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/JeanGrijp/go-xsrf/csrf"
)

// EnvPrefix is the prefix of environment overrides, e.g. CSRF_COOKIE_NAME.
const EnvPrefix = "CSRF_"

// Config holds the server settings plus every csrf knob.
type Config struct {
	Addr string `koanf:"addr"`
	Env  string `koanf:"env"` // "development", "production"

	// Backend selects the token storage: "memory", "redis" or "sqlite".
	Backend       string `koanf:"backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	SQLitePath    string `koanf:"sqlite_path"`

	SessionCookie string        `koanf:"session_cookie"`
	SessionTTL    time.Duration `koanf:"session_ttl"`

	CookieName      string        `koanf:"cookie_name"`
	CookieLifetime  time.Duration `koanf:"cookie_lifetime"`
	CookieInsecure  bool          `koanf:"cookie_insecure"`
	HeaderName      string        `koanf:"header_name"`
	StatusCode      int           `koanf:"status_code"`
	ExcludedMethods []string      `koanf:"excluded_methods"`

	TokenLifetime time.Duration `koanf:"token_lifetime"`
	MaxTokens     int           `koanf:"max_tokens"`
	StorageKey    string        `koanf:"storage_key"`
	Namespace     string        `koanf:"namespace"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Addr:    ":8080",
		Env:     "development",
		Backend: "memory",

		RedisAddr:  "localhost:6379",
		SQLitePath: "csrf.db",

		CookieName:      csrf.DefaultCookieName,
		CookieLifetime:  csrf.DefaultCookieLifetime,
		HeaderName:      csrf.DefaultHeaderName,
		StatusCode:      csrf.DefaultStatusCode,
		ExcludedMethods: append([]string(nil), csrf.DefaultExcludedMethods...),

		TokenLifetime: csrf.DefaultTokenLifetime,
		MaxTokens:     csrf.DefaultMaxTokens,
		StorageKey:    csrf.DefaultStorageKey,
		Namespace:     csrf.DefaultNamespace,
	}
}

// Load reads path (skipped when empty) and then the environment on top of
// Default.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load file %s: %w", path, err)
		}
	}

	// CSRF_COOKIE_NAME -> cookie_name; lists are comma separated
	provider := env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		if key == "excluded_methods" {
			return key, splitList(value)
		}
		return key, value
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Backend {
	case "memory", "redis", "sqlite":
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.StatusCode < 400 || c.StatusCode > 599 {
		return fmt.Errorf("status_code %d is not an error status", c.StatusCode)
	}
	for i, m := range c.ExcludedMethods {
		c.ExcludedMethods[i] = strings.ToUpper(m)
	}
	if c.Env == "production" && c.CookieInsecure {
		return fmt.Errorf("cookie_insecure must not be set in production")
	}
	return nil
}

// IsDev returns true if the application is running in development mode.
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// CSRF maps the settings onto a csrf.Config. Storage is left to the caller.
func (c *Config) CSRF() csrf.Config {
	excluded := c.ExcludedMethods
	if excluded == nil {
		excluded = []string{}
	}
	return csrf.Config{
		CookieName:      c.CookieName,
		CookieLifetime:  c.CookieLifetime,
		CookieInsecure:  c.CookieInsecure,
		HeaderName:      c.HeaderName,
		StatusCode:      c.StatusCode,
		ExcludedMethods: excluded,
		Service: csrf.ServiceConfig{
			TokenLifetime: c.TokenLifetime,
			MaxTokens:     c.MaxTokens,
			StorageKey:    c.StorageKey,
			Namespace:     c.Namespace,
		},
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
