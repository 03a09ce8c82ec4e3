package auth

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Expiry buffers. NeedsRefresh is a proactive hint that fires earlier;
// IsExpired is the hard gate that actually blocks requests. When both read
// true near the boundary, expiry wins and a refresh is forced.
const (
	expiryBuffer  = 5 * time.Minute
	refreshBuffer = 15 * time.Minute
)

// Cookie names used by the Axiom API.
const (
	cookieAccessToken  = "auth-access-token"
	cookieRefreshToken = "auth-refresh-token"
	cookieOtpChallenge = "auth-otp-login-token"
	cookieGState       = "g_state"
)

// Credentials is a transient email/password pair. It exists only for the
// duration of a login call and is never persisted.
type Credentials struct {
	Email    string
	Password string
}

// AuthTokens holds the access/refresh token pair. A nil ExpiresAt means the
// token never expires.
type AuthTokens struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// IsExpired reports whether the access token is within the hard expiry
// buffer (5 minutes) of its expiry, or past it.
func (t AuthTokens) IsExpired() bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !time.Now().Before(t.ExpiresAt.Add(-expiryBuffer))
}

// NeedsRefresh reports whether the token is within the proactive refresh
// buffer (15 minutes) of its expiry.
func (t AuthTokens) NeedsRefresh() bool {
	if t.ExpiresAt == nil {
		return false
	}
	return !time.Now().Before(t.ExpiresAt.Add(-refreshBuffer))
}

// TimeUntilExpiry returns how long the token remains valid, or zero when it
// has no expiry or is already past it.
func (t AuthTokens) TimeUntilExpiry() time.Duration {
	if t.ExpiresAt == nil {
		return 0
	}
	if d := time.Until(*t.ExpiresAt); d > 0 {
		return d
	}
	return 0
}

// AuthCookies carries the HTTP cookies the API sets during login.
type AuthCookies struct {
	AccessToken  string            `json:"auth_access_token,omitempty"`
	RefreshToken string            `json:"auth_refresh_token,omitempty"`
	GState       string            `json:"g_state,omitempty"`
	Additional   map[string]string `json:"additional_cookies,omitempty"`
}

// DefaultCookies returns the cookie set a fresh browser session would carry.
func DefaultCookies() AuthCookies {
	return AuthCookies{
		GState:     `{"i_l":0}`,
		Additional: make(map[string]string),
	}
}

// CookiesFromResponse collects auth-relevant cookies from a response's
// Set-Cookie headers.
func CookiesFromResponse(resp *http.Response) AuthCookies {
	cookies := DefaultCookies()
	for _, c := range resp.Cookies() {
		switch c.Name {
		case cookieAccessToken:
			cookies.AccessToken = c.Value
		case cookieRefreshToken:
			cookies.RefreshToken = c.Value
		case cookieGState:
			cookies.GState = c.Value
		default:
			cookies.Additional[c.Name] = c.Value
		}
	}
	return cookies
}

// Merge overlays non-empty values from other onto the receiver.
func (c *AuthCookies) Merge(other AuthCookies) {
	if other.AccessToken != "" {
		c.AccessToken = other.AccessToken
	}
	if other.RefreshToken != "" {
		c.RefreshToken = other.RefreshToken
	}
	if other.GState != "" {
		c.GState = other.GState
	}
	if c.Additional == nil {
		c.Additional = make(map[string]string)
	}
	for name, value := range other.Additional {
		c.Additional[name] = value
	}
}

// Header renders the cookies as a Cookie header value.
func (c AuthCookies) Header() string {
	var parts []string
	if c.GState != "" {
		parts = append(parts, cookieGState+"="+c.GState)
	}
	if c.RefreshToken != "" {
		parts = append(parts, cookieRefreshToken+"="+c.RefreshToken)
	}
	if c.AccessToken != "" {
		parts = append(parts, cookieAccessToken+"="+c.AccessToken)
	}

	names := make([]string, 0, len(c.Additional))
	for name := range c.Additional {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		parts = append(parts, name+"="+c.Additional[name])
	}

	return strings.Join(parts, "; ")
}

// HasAuthCookies reports whether both auth cookies are present.
func (c AuthCookies) HasAuthCookies() bool {
	return c.AccessToken != "" && c.RefreshToken != ""
}

// TurnkeyCredentials is the key-custody bootstrap captured once from a
// successful login response and never re-derived.
type TurnkeyCredentials struct {
	OrganizationID string `json:"organization_id"`
	UserID         string `json:"user_id"`
	ClientSecret   string `json:"client_secret"`
}

// TurnkeyApiKey describes one derived API key registered with Turnkey.
type TurnkeyApiKey struct {
	ApiKeyID   string     `json:"api_key_id"`
	ApiKeyName string     `json:"api_key_name"`
	PublicKey  string     `json:"public_key"`
	KeyType    string     `json:"key_type"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// TurnkeySession is the key-custody provider session derived from
// TurnkeyCredentials. ExpiresAt is the earliest expiry of its API keys.
type TurnkeySession struct {
	OrganizationID string          `json:"organization_id"`
	UserID         string          `json:"user_id"`
	Username       string          `json:"username"`
	ClientSecret   string          `json:"client_secret"`
	ApiKeys        []TurnkeyApiKey `json:"api_keys"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      *time.Time      `json:"expires_at,omitempty"`
}

// NeedsRefresh reports whether the Turnkey session is within an hour of
// expiring.
func (s TurnkeySession) NeedsRefresh() bool {
	if s.ExpiresAt == nil {
		return false
	}
	return !time.Now().Before(s.ExpiresAt.Add(-time.Hour))
}

// EarliestKeyExpiry returns the soonest expiry among the session's API keys.
func (s TurnkeySession) EarliestKeyExpiry() *time.Time {
	var earliest *time.Time
	for i := range s.ApiKeys {
		exp := s.ApiKeys[i].ExpiresAt
		if exp == nil {
			continue
		}
		if earliest == nil || exp.Before(*earliest) {
			earliest = exp
		}
	}
	return earliest
}

// UserInfo is the user profile fragment returned by login.
type UserInfo struct {
	ID       string `json:"id,omitempty"`
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
}

// SessionMetadata tracks session provenance for debugging and rotation.
type SessionMetadata struct {
	CreatedAt         time.Time  `json:"created_at"`
	LastRefreshedAt   *time.Time `json:"last_refreshed_at,omitempty"`
	LastAPICallAt     *time.Time `json:"last_api_call_at,omitempty"`
	CurrentEndpoint   string     `json:"current_api_server,omitempty"`
	UserAgent         string     `json:"user_agent"`
	ClientFingerprint string     `json:"client_fingerprint,omitempty"`
}

// NewSessionMetadata creates metadata with the given user agent and a fresh
// fingerprint.
func NewSessionMetadata(userAgent string) SessionMetadata {
	return SessionMetadata{
		CreatedAt:         time.Now().UTC(),
		UserAgent:         userAgent,
		ClientFingerprint: uuid.NewString(),
	}
}

// Age returns how long ago the session was created.
func (m SessionMetadata) Age() time.Duration {
	return time.Since(m.CreatedAt)
}

// SinceLastAPICall returns the time since the last API call, or false when
// no call has been made.
func (m SessionMetadata) SinceLastAPICall() (time.Duration, bool) {
	if m.LastAPICallAt == nil {
		return 0, false
	}
	return time.Since(*m.LastAPICallAt), true
}

// AuthSession is the aggregate root owning tokens, cookies, the optional
// Turnkey session, user info, and metadata. It is always swapped as a whole
// under the session manager's lock so readers never observe a partial update.
type AuthSession struct {
	Tokens         AuthTokens      `json:"tokens"`
	Cookies        AuthCookies     `json:"cookies"`
	TurnkeySession *TurnkeySession `json:"turnkey_session,omitempty"`
	UserInfo       *UserInfo       `json:"user_info,omitempty"`
	Metadata       SessionMetadata `json:"session_metadata"`
}

// NewAuthSession creates a session with default cookies and fresh metadata.
func NewAuthSession(tokens AuthTokens, userInfo *UserInfo, userAgent string) *AuthSession {
	return &AuthSession{
		Tokens:   tokens,
		Cookies:  DefaultCookies(),
		UserInfo: userInfo,
		Metadata: NewSessionMetadata(userAgent),
	}
}

// IsValid reports whether the session can authenticate requests as-is.
func (s *AuthSession) IsValid() bool {
	return !s.Tokens.IsExpired() && s.Cookies.HasAuthCookies()
}

// NeedsRefresh reports whether any constituent of the session should be
// refreshed soon.
func (s *AuthSession) NeedsRefresh() bool {
	if s.Tokens.NeedsRefresh() {
		return true
	}
	return s.TurnkeySession != nil && s.TurnkeySession.NeedsRefresh()
}

// UpdateTokens swaps in new tokens and stamps the refresh time.
func (s *AuthSession) UpdateTokens(tokens AuthTokens) {
	now := time.Now().UTC()
	s.Tokens = tokens
	s.Metadata.LastRefreshedAt = &now
}

// MarkAPICall stamps the last-call time and, when non-empty, the endpoint.
func (s *AuthSession) MarkAPICall(endpoint string) {
	now := time.Now().UTC()
	s.Metadata.LastAPICallAt = &now
	if endpoint != "" {
		s.Metadata.CurrentEndpoint = endpoint
	}
}

// CookieHeader renders the session cookies for the Cookie header.
func (s *AuthSession) CookieHeader() string {
	return s.Cookies.Header()
}

// Summary renders a one-line human-readable session state.
func (s *AuthSession) Summary() string {
	tokenStatus := "VALID"
	if s.Tokens.IsExpired() {
		tokenStatus = "EXPIRED"
	} else if s.Tokens.NeedsRefresh() {
		tokenStatus = "NEEDS_REFRESH"
	}

	cookieStatus := "MISSING"
	if s.Cookies.HasAuthCookies() {
		cookieStatus = "PRESENT"
	}

	turnkeyStatus := "NOT_SET"
	if s.TurnkeySession != nil {
		turnkeyStatus = "ACTIVE"
	}

	valid := "INVALID"
	if s.IsValid() {
		valid = "VALID"
	}

	lastCall := "NEVER"
	if since, ok := s.Metadata.SinceLastAPICall(); ok {
		lastCall = fmt.Sprintf("%dm ago", int(since.Minutes()))
	}

	return fmt.Sprintf("Session: %s | Tokens: %s | Cookies: %s | Turnkey: %s | Age: %dm | Last API: %s",
		valid, tokenStatus, cookieStatus, turnkeyStatus, int(s.Metadata.Age().Minutes()), lastCall)
}

// clone returns a deep-enough copy for handing out snapshots: value fields
// are copied, pointer members are duplicated.
func (s *AuthSession) clone() *AuthSession {
	cp := *s

	cp.Cookies.Additional = make(map[string]string, len(s.Cookies.Additional))
	for name, value := range s.Cookies.Additional {
		cp.Cookies.Additional[name] = value
	}

	if s.TurnkeySession != nil {
		tk := *s.TurnkeySession
		tk.ApiKeys = append([]TurnkeyApiKey(nil), s.TurnkeySession.ApiKeys...)
		cp.TurnkeySession = &tk
	}
	if s.UserInfo != nil {
		ui := *s.UserInfo
		cp.UserInfo = &ui
	}

	return &cp
}

// LoginResult is the complete outcome of a successful two-step login,
// including the cookies the server set so a session can be built from it.
type LoginResult struct {
	Tokens             AuthTokens
	TurnkeyCredentials *TurnkeyCredentials
	UserInfo           *UserInfo
	Cookies            AuthCookies
}
