package csrf

import (
	"context"
	"errors"
	"net/http"
	"sync"
)

// ErrNotFound is returned by Storage.Get when the key is absent.
var ErrNotFound = errors.New("csrf: key not found")

// Storage is the key-value store the token table lives in. Implementations
// are expected to be scoped to one client, typically a session.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Has(ctx context.Context, key string) (bool, error)
}

// StorageResolver returns the Storage for the client making r. It may set
// cookies on w, e.g. to start a session.
type StorageResolver func(w http.ResponseWriter, r *http.Request) (Storage, error)

// StaticStorage resolves every request to s.
func StaticStorage(s Storage) StorageResolver {
	return func(http.ResponseWriter, *http.Request) (Storage, error) {
		return s, nil
	}
}

// MemoryStorage is a process-local Storage.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (m *MemoryStorage) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStorage) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.data[key] = append([]byte(nil), value...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStorage) Has(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	_, ok := m.data[key]
	m.mu.RUnlock()
	return ok, nil
}

// Prefix returns a Storage that prepends prefix to every key of s.
func Prefix(s Storage, prefix string) Storage {
	return prefixed{s: s, prefix: prefix}
}

type prefixed struct {
	s      Storage
	prefix string
}

func (p prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.s.Get(ctx, p.prefix+key)
}

func (p prefixed) Set(ctx context.Context, key string, value []byte) error {
	return p.s.Set(ctx, p.prefix+key, value)
}

func (p prefixed) Has(ctx context.Context, key string) (bool, error) {
	return p.s.Has(ctx, p.prefix+key)
}
