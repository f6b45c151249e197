// Package backend builds the session-scoped token storage the example
// servers run with.
package backend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/JeanGrijp/go-xsrf/csrf"
	"github.com/JeanGrijp/go-xsrf/csrf/redisstore"
	"github.com/JeanGrijp/go-xsrf/csrf/session"
	"github.com/JeanGrijp/go-xsrf/csrf/sqlitestore"
	"github.com/JeanGrijp/go-xsrf/internal/config"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open connects the configured backend and returns a resolver scoping it per
// session. The closer releases the backend connection.
func Open(ctx context.Context, cfg *config.Config) (csrf.StorageResolver, io.Closer, error) {
	var (
		store  csrf.Storage
		closer io.Closer = nopCloser{}
	)

	switch cfg.Backend {
	case "redis":
		client, err := redisstore.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		store, closer = redisstore.New(client, cfg.SessionTTL), client
	case "sqlite":
		s, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		ttl := cfg.SessionTTL
		if ttl <= 0 {
			ttl = session.DefaultTTL
		}
		// rows outlive their session cookie otherwise
		s.StartPurger(time.Hour, ttl)
		store, closer = s, s
	case "memory":
		store = csrf.NewMemoryStorage()
	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	slog.Info("csrf storage ready", "backend", cfg.Backend)
	resolver := session.Resolver(store, session.Config{
		CookieName: cfg.SessionCookie,
		TTL:        cfg.SessionTTL,
		Secure:     !cfg.IsDev(),
	})
	return resolver, closer, nil
}
