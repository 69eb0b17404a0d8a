package auth

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTokenTTL is how long viewer tokens stay valid.
const DefaultTokenTTL = 12 * time.Hour

// Tokens issues and checks bearer tokens.
type Tokens struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.RWMutex
	tokens map[string]time.Time // token -> expiry time
}

// NewTokens creates a token store. A zero ttl uses DefaultTokenTTL.
func NewTokens(ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Tokens{ttl: ttl, now: time.Now, tokens: make(map[string]time.Time)}
}

// Issue creates a new token.
func (t *Tokens) Issue() string {
	token := uuid.NewString()
	t.mu.Lock()
	t.tokens[token] = t.now().Add(t.ttl)
	t.mu.Unlock()
	return token
}

// Valid checks if a token is known and not expired.
func (t *Tokens) Valid(token string) bool {
	if token == "" {
		return false
	}
	t.mu.RLock()
	expiry, ok := t.tokens[token]
	t.mu.RUnlock()
	return ok && t.now().Before(expiry)
}

// Revoke removes a token.
func (t *Tokens) Revoke(token string) {
	t.mu.Lock()
	delete(t.tokens, token)
	t.mu.Unlock()
}

// Prune drops expired tokens and returns how many were removed.
func (t *Tokens) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	removed := 0
	for token, expiry := range t.tokens {
		if !now.Before(expiry) {
			delete(t.tokens, token)
			removed++
		}
	}
	return removed
}
