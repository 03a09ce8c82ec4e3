package auth

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// turnkeySessionLifetime bounds a Turnkey session bootstrapped without
// querying the provider for real key expirations.
const turnkeySessionLifetime = 30 * 24 * time.Hour

// Stamper signs payloads for the key-custody provider. Injected as an
// interface so the session manager never depends on a concrete signing
// client and tests can substitute their own.
type Stamper interface {
	Stamp(payload []byte) (string, error)
}

// SessionManager owns the complete authentication state: tokens, cookies,
// the optional Turnkey session, user info, and metadata. The session is
// swapped as one unit under the lock, so concurrent readers always see a
// fully-constructed session. When two logins race, the last writer wins.
type SessionManager struct {
	mu        sync.RWMutex
	session   *AuthSession
	path      string
	autoSave  bool
	userAgent string
	stamper   Stamper
	logger    zerolog.Logger
}

// SessionManagerOption configures a SessionManager.
type SessionManagerOption func(*SessionManager)

// WithStamper injects the signing capability for the key-custody provider.
func WithStamper(stamper Stamper) SessionManagerOption {
	return func(m *SessionManager) { m.stamper = stamper }
}

// WithSessionUserAgent pins the user agent for sessions this manager creates.
func WithSessionUserAgent(userAgent string) SessionManagerOption {
	return func(m *SessionManager) { m.userAgent = userAgent }
}

// WithSessionLogger attaches a logger; the default discards everything.
func WithSessionLogger(logger zerolog.Logger) SessionManagerOption {
	return func(m *SessionManager) { m.logger = logger }
}

// NewSessionManager creates a manager persisting to path (empty path keeps
// the session in memory only). When autoSave is set, every mutation writes
// the full session file. An existing file is loaded eagerly.
func NewSessionManager(path string, autoSave bool, opts ...SessionManagerOption) *SessionManager {
	m := &SessionManager{
		path:      path,
		autoSave:  autoSave,
		userAgent: RandomUserAgent(),
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	if path != "" {
		if session, err := loadSessionFile(path); err == nil {
			m.session = session
		}
	}
	return m
}

func loadSessionFile(path string) (*AuthSession, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var session AuthSession
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// CreateSession installs a new session built from tokens, optional user
// info, and optional cookies.
func (m *SessionManager) CreateSession(tokens AuthTokens, userInfo *UserInfo, cookies *AuthCookies) error {
	session := NewAuthSession(tokens, userInfo, m.userAgent)
	if cookies != nil {
		session.Cookies = *cookies
	}
	return m.swap(session)
}

// CreateSessionFromLogin installs a session from a complete login result.
// Turnkey bootstrap credentials, when present, are captured into a Turnkey
// session immediately.
func (m *SessionManager) CreateSessionFromLogin(result *LoginResult) error {
	session := NewAuthSession(result.Tokens, result.UserInfo, m.userAgent)
	session.Cookies = result.Cookies

	if creds := result.TurnkeyCredentials; creds != nil {
		session.TurnkeySession = newTurnkeySession(creds)
		m.logger.Info().Str("org_id", creds.OrganizationID).Msg("turnkey session created")
	}

	return m.swap(session)
}

func newTurnkeySession(creds *TurnkeyCredentials) *TurnkeySession {
	username := creds.UserID
	if len(username) > 8 {
		username = username[:8]
	}

	now := time.Now().UTC()
	expires := now.Add(turnkeySessionLifetime)
	return &TurnkeySession{
		OrganizationID: creds.OrganizationID,
		UserID:         creds.UserID,
		Username:       "user_" + username,
		ClientSecret:   creds.ClientSecret,
		CreatedAt:      now,
		ExpiresAt:      &expires,
	}
}

// swap atomically replaces the session and persists when autoSave is set.
func (m *SessionManager) swap(session *AuthSession) error {
	m.mu.Lock()
	m.session = session
	m.mu.Unlock()

	if m.autoSave {
		return m.Save()
	}
	return nil
}

// Session returns a snapshot of the current session.
func (m *SessionManager) Session() (*AuthSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return nil, false
	}
	return m.session.clone(), true
}

// IsValid reports whether a session exists and can authenticate requests.
func (m *SessionManager) IsValid() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session != nil && m.session.IsValid()
}

// NeedsRefresh reports whether a session exists and should be refreshed.
func (m *SessionManager) NeedsRefresh() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session != nil && m.session.NeedsRefresh()
}

// UpdateTokens swaps new tokens into the session.
func (m *SessionManager) UpdateTokens(tokens AuthTokens) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	m.session.UpdateTokens(tokens)
	m.mu.Unlock()

	if m.autoSave {
		return m.Save()
	}
	return nil
}

// UpdateCookies merges new cookies into the session.
func (m *SessionManager) UpdateCookies(cookies AuthCookies) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	m.session.Cookies.Merge(cookies)
	m.mu.Unlock()

	if m.autoSave {
		return m.Save()
	}
	return nil
}

// SetTurnkeySession attaches a Turnkey session to the current session.
func (m *SessionManager) SetTurnkeySession(session TurnkeySession) error {
	m.mu.Lock()
	if m.session == nil {
		m.mu.Unlock()
		return ErrNotAuthenticated
	}
	m.session.TurnkeySession = &session
	m.mu.Unlock()

	if m.autoSave {
		return m.Save()
	}
	return nil
}

// MarkAPICall stamps the session metadata with the call time and endpoint.
func (m *SessionManager) MarkAPICall(endpoint string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		m.session.MarkAPICall(endpoint)
	}
}

// CookieHeader returns the Cookie header for the current session.
func (m *SessionManager) CookieHeader() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return "", false
	}
	return m.session.CookieHeader(), true
}

// AccessToken returns the session's access token.
func (m *SessionManager) AccessToken() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return "", ErrNotAuthenticated
	}
	return m.session.Tokens.AccessToken, nil
}

// RefreshToken returns the session's refresh token.
func (m *SessionManager) RefreshToken() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return "", ErrNotAuthenticated
	}
	return m.session.Tokens.RefreshToken, nil
}

// TurnkeySession returns the current Turnkey session, if one exists.
func (m *SessionManager) TurnkeySession() (TurnkeySession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil || m.session.TurnkeySession == nil {
		return TurnkeySession{}, false
	}
	return *m.session.TurnkeySession, true
}

// StampRequest signs a payload for the key-custody provider using the
// injected stamper.
func (m *SessionManager) StampRequest(payload []byte) (string, error) {
	if m.stamper == nil {
		return "", errors.New("auth.SessionManager: no stamper configured")
	}
	return m.stamper.Stamp(payload)
}

// Save writes the full session file.
func (m *SessionManager) Save() error {
	if m.path == "" {
		return nil
	}

	m.mu.RLock()
	var session *AuthSession
	if m.session != nil {
		session = m.session.clone()
	}
	m.mu.RUnlock()
	if session == nil {
		return nil
	}

	raw, err := json.MarshalIndent(session, "", "  ")
	if err != nil {
		return errors.Wrap(err, "auth.SessionManager marshal")
	}

	if dir := filepath.Dir(m.path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return errors.Wrap(err, "auth.SessionManager mkdir")
		}
	}
	if err := os.WriteFile(m.path, raw, 0o600); err != nil {
		return errors.Wrap(err, "auth.SessionManager write")
	}
	return nil
}

// Load re-reads the session file, replacing the in-memory session.
func (m *SessionManager) Load() error {
	if m.path == "" {
		return nil
	}

	session, err := loadSessionFile(m.path)
	if err != nil {
		return errors.Wrap(err, "auth.SessionManager load")
	}

	m.mu.Lock()
	m.session = session
	m.mu.Unlock()
	return nil
}

// Clear drops the session and removes the session file.
func (m *SessionManager) Clear() error {
	m.mu.Lock()
	m.session = nil
	m.mu.Unlock()

	if m.path == "" {
		return nil
	}
	if err := os.Remove(m.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "auth.SessionManager clear")
	}
	return nil
}

// Summary renders a one-line state description for debugging.
func (m *SessionManager) Summary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return "No active session"
	}
	return m.session.Summary()
}
