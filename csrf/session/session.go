// Package session scopes a csrf.Storage backend per browser session. Sessions
// are identified by an opaque UUID carried in an HttpOnly cookie; the tokens
// of a session live in the backend under a "session:<id>:" key prefix.
package session

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/JeanGrijp/go-xsrf/csrf"
)

const (
	// DefaultCookieName is the name of the session cookie sent to the browser.
	DefaultCookieName = "csrf_session"

	// DefaultTTL is the Max-Age of the session cookie.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces session keys in the backend to avoid collisions.
	keyPrefix = "session:"
)

// Config controls the session cookie.
type Config struct {
	CookieName string
	TTL        time.Duration
	// Secure marks the cookie HTTPS-only. Set it behind TLS in production.
	Secure bool
}

// Resolver returns a csrf.StorageResolver that reads the session id from the
// request cookie, starting a new session when it is missing or malformed.
func Resolver(backend csrf.Storage, cfg Config) csrf.StorageResolver {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}

	return func(w http.ResponseWriter, r *http.Request) (csrf.Storage, error) {
		id, ok := ID(r, cfg.CookieName)
		if !ok {
			id = uuid.NewString()
			http.SetCookie(w, &http.Cookie{
				Name:     cfg.CookieName,
				Value:    id,
				Path:     "/",
				HttpOnly: true,
				Secure:   cfg.Secure,
				SameSite: http.SameSiteLaxMode,
				MaxAge:   int(cfg.TTL.Seconds()),
			})
		}
		return csrf.Prefix(backend, keyPrefix+id+":"), nil
	}
}

// ID returns the session id carried by r, if it is a well-formed UUID.
func ID(r *http.Request, cookieName string) (string, bool) {
	cookie, err := r.Cookie(cookieName)
	if err != nil {
		return "", false
	}
	id, err := uuid.Parse(cookie.Value)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
