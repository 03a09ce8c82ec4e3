package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/axiomgo/axiom/crypto"
	"github.com/axiomgo/axiom/email"
	"github.com/axiomgo/axiom/internal/config"
)

const (
	loginStep1Path = "/login-password-v2"
	loginStep2Path = "/login-otp"
	refreshPath    = "/refresh-access-token"

	requestTimeout = 30 * time.Second

	// Fallback lifetime when the access token carries no exp claim.
	defaultTokenLifetime = time.Hour

	defaultOtpTimeout  = 120 * time.Second
	defaultOtpInterval = 5 * time.Second
)

// OtpSource supplies login codes out of band. WaitForOTP blocks until a code
// arrives or the timeout elapses; a timeout yields ("", nil).
type OtpSource interface {
	WaitForOTP(timeout, interval time.Duration) (string, error)
}

// Wire types for the login protocol.
type loginRequest struct {
	Email       string `json:"email"`
	B64Password string `json:"b64Password"`
}

type loginStep1Response struct {
	OtpJwtToken string `json:"otpJwtToken"`
}

type otpRequest struct {
	Code        string `json:"code"`
	Email       string `json:"email"`
	B64Password string `json:"b64Password"`
}

type loginResponse struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	User         *UserInfo `json:"user"`
	OrgID        string    `json:"orgId"`
	UserID       string    `json:"userId"`
	ClientSecret string    `json:"clientSecret"`
}

// Client drives the two-step challenge/response login protocol and executes
// authenticated requests against the rotated endpoint pool.
type Client struct {
	http        *http.Client
	tokens      *TokenStore
	otp         OtpSource
	rotation    *endpointRotation
	userAgent   string
	otpTimeout  time.Duration
	otpInterval time.Duration
	logger      zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) { c.http = httpClient }
}

// WithTokenStore replaces the default token store.
func WithTokenStore(store *TokenStore) ClientOption {
	return func(c *Client) { c.tokens = store }
}

// WithOtpSource injects an out-of-band OTP source.
func WithOtpSource(source OtpSource) ClientOption {
	return func(c *Client) { c.otp = source }
}

// WithUserAgent pins the user agent instead of picking a random one.
func WithUserAgent(userAgent string) ClientOption {
	return func(c *Client) { c.userAgent = userAgent }
}

// WithOtpWait overrides how long and how often the OTP mailbox is polled.
func WithOtpWait(timeout, interval time.Duration) ClientOption {
	return func(c *Client) {
		c.otpTimeout = timeout
		c.otpInterval = interval
	}
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(logger zerolog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithEndpoints overrides the endpoint pool, primarily for tests.
func WithEndpoints(endpoints []string) ClientOption {
	return func(c *Client) { c.rotation = newEndpointRotation(endpoints) }
}

// NewClient creates a login client with a random user agent and a token
// store at the default path.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		http:        &http.Client{Timeout: requestTimeout},
		tokens:      NewTokenStore(".axiom_tokens.json"),
		rotation:    newEndpointRotation(apiEndpoints),
		userAgent:   RandomUserAgent(),
		otpTimeout:  defaultOtpTimeout,
		otpInterval: defaultOtpInterval,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewClientFromEnv creates a client configured from the environment: token
// file path, env-supplied tokens, and the OTP mailbox when its credentials
// are set.
func NewClientFromEnv(opts ...ClientOption) (*Client, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	base := []ClientOption{WithTokenStore(NewTokenStore(cfg.Storage.TokenFile))}
	if cfg.Tokens.AccessToken != "" && cfg.Tokens.RefreshToken != "" {
		base = []ClientOption{WithTokenStore(
			NewTokenStoreFromTokens(cfg.Tokens.AccessToken, cfg.Tokens.RefreshToken),
		)}
	}
	if cfg.Mailbox.Configured() {
		base = append(base, WithOtpSource(
			email.NewFetcher(cfg.Mailbox.Addr, cfg.Mailbox.Email, cfg.Mailbox.Password),
		))
	}

	return NewClient(append(base, opts...)...), nil
}

// Login authenticates with an email and plaintext password and returns the
// resulting tokens. An empty otpCode triggers automatic OTP retrieval.
func (c *Client) Login(ctx context.Context, emailAddr, password, otpCode string) (AuthTokens, error) {
	result, err := c.LoginFull(ctx, emailAddr, password, otpCode)
	if err != nil {
		return AuthTokens{}, err
	}
	return result.Tokens, nil
}

// LoginWithCredentials authenticates using a transient credentials pair.
func (c *Client) LoginWithCredentials(ctx context.Context, creds Credentials, otpCode string) (AuthTokens, error) {
	return c.Login(ctx, creds.Email, creds.Password, otpCode)
}

// LoginFull authenticates and returns the complete login result, including
// any Turnkey bootstrap credentials and the cookies the server set.
func (c *Client) LoginFull(ctx context.Context, emailAddr, password, otpCode string) (*LoginResult, error) {
	return c.LoginWithHashFull(ctx, emailAddr, crypto.HashPassword(password), otpCode)
}

// LoginWithHash authenticates with a pre-hashed password.
func (c *Client) LoginWithHash(ctx context.Context, emailAddr, b64Password, otpCode string) (AuthTokens, error) {
	result, err := c.LoginWithHashFull(ctx, emailAddr, b64Password, otpCode)
	if err != nil {
		return AuthTokens{}, err
	}
	return result.Tokens, nil
}

// LoginWithHashFull runs the full two-step protocol with a pre-hashed
// password: step 1 obtains the OTP challenge, the code is resolved (caller
// supplied or fetched from the mailbox), and step 2 redeems it for tokens.
func (c *Client) LoginWithHashFull(ctx context.Context, emailAddr, b64Password, otpCode string) (*LoginResult, error) {
	challenge, err := c.loginStep1(ctx, emailAddr, b64Password)
	if err != nil {
		return nil, err
	}

	code := otpCode
	if code == "" {
		if code, err = c.fetchOTP(); err != nil {
			return nil, err
		}
	}

	return c.loginStep2(ctx, challenge, code, emailAddr, b64Password)
}

func (c *Client) loginStep1(ctx context.Context, emailAddr, b64Password string) (string, error) {
	endpoint := c.rotation.next()
	body, err := json.Marshal(loginRequest{Email: emailAddr, B64Password: b64Password})
	if err != nil {
		return "", errors.Wrap(err, "auth.Client step1 marshal")
	}

	req, err := c.newRequest(ctx, http.MethodPost, endpoint+loginStep1Path, body)
	if err != nil {
		return "", err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "auth.Client step1")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(resp.Body)
		c.logger.Warn().Int("status", resp.StatusCode).Bytes("body", text).Msg("login step 1 rejected")
		return "", ErrInvalidCredentials
	}

	var step1 loginStep1Response
	if err := json.NewDecoder(resp.Body).Decode(&step1); err != nil {
		return "", errors.Wrap(err, "auth.Client step1 decode")
	}

	c.logger.Debug().Str("endpoint", endpoint).Msg("login step 1 accepted")
	return step1.OtpJwtToken, nil
}

func (c *Client) loginStep2(ctx context.Context, challenge, code, emailAddr, b64Password string) (*LoginResult, error) {
	endpoint := c.rotation.next()
	body, err := json.Marshal(otpRequest{Code: code, Email: emailAddr, B64Password: b64Password})
	if err != nil {
		return nil, errors.Wrap(err, "auth.Client step2 marshal")
	}

	req, err := c.newRequest(ctx, http.MethodPost, endpoint+loginStep2Path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", cookieOtpChallenge+"="+challenge)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "auth.Client step2")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("login step 2 rejected")
		return nil, ErrInvalidOtp
	}

	cookies := CookiesFromResponse(resp)

	var respData loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "auth.Client step2 decode")
	}

	// Cookie values win over JSON body values: server cookie state is
	// treated as authoritative when both are present.
	access := cookies.AccessToken
	if access == "" {
		access = respData.AccessToken
	}
	refresh := cookies.RefreshToken
	if refresh == "" {
		refresh = respData.RefreshToken
	}
	if access == "" || refresh == "" {
		return nil, ErrTokenNotFound
	}

	tokens := AuthTokens{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    tokenExpiry(access),
	}
	if err := c.tokens.Set(tokens); err != nil {
		return nil, err
	}

	result := &LoginResult{
		Tokens:   tokens,
		UserInfo: respData.User,
		Cookies:  cookies,
	}
	if respData.OrgID != "" && respData.UserID != "" && respData.ClientSecret != "" {
		result.TurnkeyCredentials = &TurnkeyCredentials{
			OrganizationID: respData.OrgID,
			UserID:         respData.UserID,
			ClientSecret:   respData.ClientSecret,
		}
		c.logger.Info().Str("org_id", respData.OrgID).Msg("captured turnkey credentials")
	} else {
		c.logger.Debug().Msg("no turnkey credentials in login response")
	}

	c.logger.Info().Str("endpoint", endpoint).Msg("login complete")
	return result, nil
}

func (c *Client) fetchOTP() (string, error) {
	if c.otp == nil {
		return "", ErrOtpRequired
	}

	c.logger.Info().Dur("timeout", c.otpTimeout).Msg("waiting for otp email")
	code, err := c.otp.WaitForOTP(c.otpTimeout, c.otpInterval)
	if err != nil {
		return "", errors.Wrapf(ErrEmail, "%v", err)
	}
	if code == "" {
		return "", errors.Wrap(ErrEmail, "otp not received within timeout")
	}
	return code, nil
}

// RefreshAccessToken redeems a refresh token for a new access token.
func (c *Client) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	endpoint := c.rotation.next()

	req, err := c.newRequest(ctx, http.MethodPost, endpoint+refreshPath, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Cookie", cookieRefreshToken+"="+refreshToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "auth.Client refresh")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn().Int("status", resp.StatusCode).Msg("token refresh rejected")
		return "", ErrTokenExpired
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == cookieAccessToken {
			return cookie.Value, nil
		}
	}

	return "", ErrTokenNotFound
}

// RefreshTokens refreshes the stored token pair in place and persists it.
func (c *Client) RefreshTokens(ctx context.Context) (AuthTokens, error) {
	tokens, ok := c.tokens.Get()
	if !ok {
		return AuthTokens{}, ErrTokenNotFound
	}

	access, err := c.RefreshAccessToken(ctx, tokens.RefreshToken)
	if err != nil {
		return AuthTokens{}, err
	}

	refreshed := AuthTokens{
		AccessToken:  access,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokenExpiry(access),
	}
	if err := c.tokens.Set(refreshed); err != nil {
		return AuthTokens{}, err
	}

	c.logger.Debug().Msg("tokens refreshed")
	return refreshed, nil
}

// EnsureValidAuthentication returns valid tokens, refreshing once when the
// stored pair is expired. No stored tokens yields ErrNotAuthenticated; a
// failed refresh yields ErrTokenExpired and the caller must re-run login.
func (c *Client) EnsureValidAuthentication(ctx context.Context) (AuthTokens, error) {
	tokens, ok := c.tokens.Get()
	if !ok {
		return AuthTokens{}, ErrNotAuthenticated
	}

	if !tokens.IsExpired() {
		return tokens, nil
	}

	refreshed, err := c.RefreshTokens(ctx)
	if err != nil {
		return AuthTokens{}, ErrTokenExpired
	}
	return refreshed, nil
}

// Do executes an authenticated request: the access token rides as a cookie,
// and a 401 triggers exactly one refresh-and-retry cycle before the error
// surfaces. body may be nil or any JSON-marshalable value.
func (c *Client) Do(ctx context.Context, method, url string, body any) (*http.Response, error) {
	tokens, ok := c.tokens.Get()
	if !ok {
		return nil, ErrTokenNotFound
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, errors.Wrap(err, "auth.Client marshal body")
		}
	}

	resp, err := c.send(ctx, method, url, payload, tokens.AccessToken)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// Single refresh-and-retry; never recursive.
	resp.Body.Close()
	c.logger.Debug().Str("url", url).Msg("401 received, refreshing once")

	access, err := c.RefreshAccessToken(ctx, tokens.RefreshToken)
	if err != nil {
		return nil, err
	}
	refreshed := AuthTokens{
		AccessToken:  access,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokenExpiry(access),
	}
	if err := c.tokens.Set(refreshed); err != nil {
		return nil, err
	}

	return c.send(ctx, method, url, payload, access)
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte, accessToken string) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, url, payload)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cookie", cookieAccessToken+"="+accessToken)

	resp, err := c.http.Do(req)
	return resp, errors.Wrap(err, "auth.Client request")
}

func (c *Client) newRequest(ctx context.Context, method, url string, payload []byte) (*http.Request, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, errors.Wrap(err, "auth.Client new request")
	}

	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/plain, */*")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")
	req.Header.Set("Origin", "https://axiom.trade")
	req.Header.Set("Referer", "https://axiom.trade/")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Tokens returns the currently stored token pair.
func (c *Client) Tokens() (AuthTokens, bool) {
	return c.tokens.Get()
}

// TokenStore exposes the underlying store.
func (c *Client) TokenStore() *TokenStore {
	return c.tokens
}

// CurrentEndpoint returns the endpoint used by the most recent call.
func (c *Client) CurrentEndpoint() string {
	return c.rotation.current()
}

// UserAgent returns the user agent pinned to this client instance.
func (c *Client) UserAgent() string {
	return c.userAgent
}

// Logout clears the stored tokens.
func (c *Client) Logout() error {
	return c.tokens.Clear()
}

// tokenExpiry reads the exp claim from a server-issued JWT without
// verifying it; the signature belongs to the server, the client only needs
// the timestamp. Tokens without a readable exp get the fixed fallback
// lifetime.
func tokenExpiry(accessToken string) *time.Time {
	token, _, err := jwt.NewParser().ParseUnverified(accessToken, jwt.MapClaims{})
	if err == nil {
		if exp, err := token.Claims.GetExpirationTime(); err == nil && exp != nil {
			t := exp.Time
			return &t
		}
	}

	t := time.Now().Add(defaultTokenLifetime)
	return &t
}
