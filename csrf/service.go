package csrf

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Entry is the content of one namespace: a single token or a list, oldest first.
type Entry struct {
	Tokens []Token
	Single bool
}

// MarshalJSON encodes a single entry as an object and a list as an array.
func (e Entry) MarshalJSON() ([]byte, error) {
	if e.Single && len(e.Tokens) == 1 {
		return json.Marshal(e.Tokens[0])
	}
	if e.Tokens == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e.Tokens)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		e.Single = false
		return json.Unmarshal(data, &e.Tokens)
	}
	var t Token
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	e.Tokens = []Token{t}
	e.Single = true
	return nil
}

var errCorruptTable = errors.New("csrf: decode tokens")

// Table maps namespaces to their tokens. It is stored JSON-encoded under
// ServiceConfig.StorageKey.
type Table map[string]Entry

type tokenOptions struct {
	lifetime time.Duration
	single   bool
}

// TokenOption customizes NewToken.
type TokenOption func(*tokenOptions)

// WithLifetime overrides the configured token lifetime. Zero or negative never
// expires; anything else is rounded up to whole seconds.
func WithLifetime(d time.Duration) TokenOption {
	return func(o *tokenOptions) {
		o.lifetime = d
	}
}

// Single replaces every token of the namespace with the new one.
func Single() TokenOption {
	return func(o *tokenOptions) {
		o.single = true
	}
}

// Service creates and validates tokens kept in a Storage.
type Service struct {
	storage Storage
	cfg     ServiceConfig

	now    func() time.Time
	random func(n int) (string, error)
}

func NewService(storage Storage, cfg ServiceConfig) *Service {
	return &Service{
		storage: storage,
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		random:  randomValue,
	}
}

// NewToken creates a token, stores it and returns its value.
func (s *Service) NewToken(ctx context.Context, opts ...TokenOption) (string, error) {
	o := tokenOptions{lifetime: s.cfg.TokenLifetime}
	for _, opt := range opts {
		opt(&o)
	}

	value, err := s.random(tokenBytes)
	if err != nil {
		return "", fmt.Errorf("csrf: generate token: %w", err)
	}
	tok := Token{
		Value:     value,
		CreatedAt: s.now().UTC().Truncate(time.Second),
		Lifetime:  lifetimeSeconds(o.lifetime),
	}

	table, err := s.load(ctx)
	if errors.Is(err, errCorruptTable) {
		// overwrite it, otherwise the client could never get a token again
		s.cfg.Logger.Warn("csrf token table discarded", "key", s.cfg.StorageKey, "error", err)
		table, err = Table{}, nil
	}
	if err != nil {
		return "", err
	}

	ns := s.cfg.Namespace
	if o.single {
		table[ns] = Entry{Tokens: []Token{tok}, Single: true}
	} else {
		e := table[ns]
		e.Single = false
		e.Tokens = append(e.Tokens, tok)
		if limit := s.cfg.MaxTokens; limit > 0 && len(e.Tokens) > limit {
			e.Tokens = e.Tokens[len(e.Tokens)-limit:]
		}
		table[ns] = e
	}

	if err := s.save(ctx, table); err != nil {
		return "", err
	}
	return value, nil
}

// HasToken reports whether the namespace holds any token, valid or not.
func (s *Service) HasToken(ctx context.Context) bool {
	exists, err := s.storage.Has(ctx, s.cfg.StorageKey)
	if err != nil {
		s.cfg.Logger.Warn("csrf token lookup failed", "key", s.cfg.StorageKey, "error", err)
		return false
	}
	if !exists {
		return false
	}

	table, err := s.load(ctx)
	if err != nil {
		s.cfg.Logger.Warn("csrf token lookup failed", "key", s.cfg.StorageKey, "error", err)
		return false
	}
	_, ok := table[s.cfg.Namespace]
	return ok
}

// ValidateToken reports whether token is stored in the namespace and not expired.
func (s *Service) ValidateToken(ctx context.Context, token string) bool {
	if token == "" {
		return false
	}

	table, err := s.load(ctx)
	if err != nil {
		s.cfg.Logger.Warn("csrf token lookup failed", "key", s.cfg.StorageKey, "error", err)
		return false
	}
	e, ok := table[s.cfg.Namespace]
	if !ok {
		return false
	}

	for _, t := range e.Tokens {
		if t.matches(token) {
			return !t.expired(s.now())
		}
	}
	return false
}

// Tokens returns the tokens of the namespace, oldest first.
func (s *Service) Tokens(ctx context.Context) ([]Token, error) {
	table, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	return table[s.cfg.Namespace].Tokens, nil
}

// lifetimeSeconds rounds d up so that a short positive lifetime never turns
// into 0, which would mean unlimited.
func lifetimeSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

func (s *Service) load(ctx context.Context) (Table, error) {
	raw, err := s.storage.Get(ctx, s.cfg.StorageKey)
	if errors.Is(err, ErrNotFound) {
		return Table{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("csrf: load tokens: %w", err)
	}

	table := Table{}
	if err := json.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptTable, err)
	}
	return table, nil
}

func (s *Service) save(ctx context.Context, table Table) error {
	raw, err := json.Marshal(table)
	if err != nil {
		return fmt.Errorf("csrf: encode tokens: %w", err)
	}
	if err := s.storage.Set(ctx, s.cfg.StorageKey, raw); err != nil {
		return fmt.Errorf("csrf: store tokens: %w", err)
	}
	return nil
}
