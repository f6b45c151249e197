package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"time"
)

// tokenBytes is the entropy of a token before encoding.
const tokenBytes = 32

// Token is a stored CSRF token.
type Token struct {
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	Lifetime  int       `json:"lifetime"` // seconds, 0 = never expires
}

// expired reports whether more whole seconds than Lifetime have passed since creation.
func (t Token) expired(now time.Time) bool {
	if t.Lifetime <= 0 {
		return false
	}
	elapsed := int64(now.Sub(t.CreatedAt) / time.Second)
	return elapsed > int64(t.Lifetime)
}

// matches compares in constant time.
func (t Token) matches(value string) bool {
	return subtle.ConstantTimeCompare([]byte(t.Value), []byte(value)) == 1
}

// randomValue returns n random bytes, base64 URL-encoded without padding.
func randomValue(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
