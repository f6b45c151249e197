// Package redisstore keeps CSRF token tables in Valkey/Redis. Every write
// refreshes the key TTL, so idle sessions expire on their own.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JeanGrijp/go-xsrf/csrf"
)

const (
	// DefaultPrefix namespaces keys in a shared Valkey database.
	DefaultPrefix = "csrf:"

	// DefaultTTL is how long an untouched token table survives.
	DefaultTTL = 24 * time.Hour
)

// Store implements csrf.Storage on top of a Redis client.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New creates a store backed by the given client. A zero ttl means DefaultTTL.
func New(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{client: client, prefix: DefaultPrefix, ttl: ttl}
}

// Connect creates a client and verifies the connection with a ping.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey ping: %w", err)
	}

	slog.Info("valkey connected", "addr", addr)
	return client, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, csrf.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("valkey get: %w", err)
	}
	return val, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.prefix+key, value, s.ttl).Err(); err != nil {
		return fmt.Errorf("valkey set: %w", err)
	}
	return nil
}

func (s *Store) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("valkey exists: %w", err)
	}
	return n > 0, nil
}
