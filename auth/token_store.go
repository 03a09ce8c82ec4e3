package auth

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// TokenStore is the thread-safe holder for the current token pair. Every
// mutation is persisted as a full-file JSON overwrite when a path is
// configured; construction eagerly loads any existing file.
type TokenStore struct {
	mu     sync.RWMutex
	tokens *AuthTokens
	path   string
}

// NewTokenStore creates a store persisting to path. An empty path keeps
// tokens in memory only. A missing file simply means no stored session.
func NewTokenStore(path string) *TokenStore {
	s := &TokenStore{path: path}

	if path != "" {
		if tokens, err := loadTokensFile(path); err == nil {
			s.tokens = tokens
		}
	}
	return s
}

// NewTokenStoreFromTokens creates an in-memory store pre-populated with a
// token pair, for sessions bootstrapped from the environment.
func NewTokenStoreFromTokens(accessToken, refreshToken string) *TokenStore {
	return &TokenStore{
		tokens: &AuthTokens{AccessToken: accessToken, RefreshToken: refreshToken},
	}
}

func loadTokensFile(path string) (*AuthTokens, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tokens AuthTokens
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, err
	}
	return &tokens, nil
}

// Set stores a new token pair and persists it. An expiry that would move
// backwards relative to the stored pair is discarded in favour of the later
// one: expiry only ever advances on refresh.
func (s *TokenStore) Set(tokens AuthTokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokens != nil && s.tokens.ExpiresAt != nil && tokens.ExpiresAt != nil &&
		tokens.ExpiresAt.Before(*s.tokens.ExpiresAt) {
		tokens.ExpiresAt = s.tokens.ExpiresAt
	}

	cp := tokens
	s.tokens = &cp

	// Persisting under the lock keeps the file ordering identical to the
	// in-memory ordering when callers race.
	return s.save(tokens)
}

// Get returns the stored tokens, reporting false when none exist.
func (s *TokenStore) Get() (AuthTokens, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return AuthTokens{}, false
	}
	return *s.tokens, true
}

// AccessToken returns the stored access token.
func (s *TokenStore) AccessToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return "", ErrTokenNotFound
	}
	return s.tokens.AccessToken, nil
}

// RefreshToken returns the stored refresh token.
func (s *TokenStore) RefreshToken() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return "", ErrTokenNotFound
	}
	return s.tokens.RefreshToken, nil
}

// IsExpired reports whether the stored tokens are past the hard expiry gate.
// An empty store counts as expired.
func (s *TokenStore) IsExpired() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return true
	}
	return s.tokens.IsExpired()
}

// NeedsRefresh reports whether the stored tokens are inside the proactive
// refresh window. An empty store needs a (re-)login, so it reports true.
func (s *TokenStore) NeedsRefresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.tokens == nil {
		return true
	}
	return s.tokens.NeedsRefresh()
}

// Clear drops the stored tokens and removes the persistence file.
func (s *TokenStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = nil

	if s.path == "" {
		return nil
	}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "auth.TokenStore clear")
	}
	return nil
}

func (s *TokenStore) save(tokens AuthTokens) error {
	if s.path == "" {
		return nil
	}

	raw, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return errors.Wrap(err, "auth.TokenStore marshal")
	}
	if err := os.WriteFile(s.path, raw, 0o600); err != nil {
		return errors.Wrap(err, "auth.TokenStore write")
	}
	return nil
}
