package csrf

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	DefaultCookieName = "XSRF-TOKEN"
	DefaultHeaderName = "X-XSRF-TOKEN"

	// DefaultCookieLifetime is the Max-Age of the token cookie.
	DefaultCookieLifetime = 365 * 24 * time.Hour
	// LegacyCookieLifetime matches the ten year cookie older deployments issued.
	LegacyCookieLifetime = 3650 * 24 * time.Hour

	DefaultStatusCode = http.StatusForbidden

	DefaultTokenLifetime = 1800 * time.Second
	DefaultMaxTokens     = 200
	DefaultStorageKey    = "csrftokens"
	DefaultNamespace     = "session"
)

// DefaultExcludedMethods are never validated.
var DefaultExcludedMethods = []string{http.MethodGet, http.MethodHead, http.MethodOptions}

// ServiceConfig configures a Service. Zero fields take the Default* values.
type ServiceConfig struct {
	// TokenLifetime applies to tokens created without WithLifetime. Negative
	// means such tokens never expire.
	TokenLifetime time.Duration
	// MaxTokens caps the token list of a namespace. Negative disables the cap.
	MaxTokens  int
	StorageKey string
	Namespace  string

	Logger *slog.Logger
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.TokenLifetime == 0 {
		c.TokenLifetime = DefaultTokenLifetime
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.StorageKey == "" {
		c.StorageKey = DefaultStorageKey
	}
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Config configures a Protector.
type Config struct {
	// Cookie
	CookieName     string
	CookieLifetime time.Duration
	// CookieInsecure drops the Secure attribute, e.g. for plain HTTP in development.
	CookieInsecure bool

	// Token transport
	HeaderName string // e.g.: "X-XSRF-TOKEN"

	// Rejection
	StatusCode int
	// FailureHandler writes the whole rejection response, status included.
	// Without it the response is http.Error with StatusCode.
	FailureHandler http.Handler

	// ExcludedMethods skip header validation. nil means DefaultExcludedMethods;
	// an empty non-nil slice validates every method.
	ExcludedMethods []string

	// Storage resolves the token storage for a request. nil means a single
	// process-wide MemoryStorage, which is only suitable for tests.
	Storage StorageResolver

	Service ServiceConfig
	Logger  *slog.Logger
}

type Protector struct {
	cfg      Config
	excluded map[string]bool
}

func New(cfg Config) *Protector {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.CookieLifetime <= 0 {
		cfg.CookieLifetime = DefaultCookieLifetime
	}
	if cfg.StatusCode == 0 {
		cfg.StatusCode = DefaultStatusCode
	}
	if cfg.ExcludedMethods == nil {
		cfg.ExcludedMethods = DefaultExcludedMethods
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Storage == nil {
		cfg.Logger.Warn("csrf: no storage resolver configured, all clients share one in-memory token table")
		cfg.Storage = StaticStorage(NewMemoryStorage())
	}
	if cfg.Service.Logger == nil {
		cfg.Service.Logger = cfg.Logger
	}

	excluded := make(map[string]bool, len(cfg.ExcludedMethods))
	for _, m := range cfg.ExcludedMethods {
		excluded[m] = true
	}
	return &Protector{cfg: cfg, excluded: excluded}
}
