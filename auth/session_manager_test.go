package auth

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStamper struct {
	header string
	err    error
}

func (f *fakeStamper) Stamp(payload []byte) (string, error) {
	return f.header, f.err
}

func validTokens() AuthTokens {
	expires := time.Now().Add(time.Hour)
	return AuthTokens{AccessToken: "acc", RefreshToken: "ref", ExpiresAt: &expires}
}

func TestSessionManagerCreateAndQuery(t *testing.T) {
	m := NewSessionManager("", false, WithSessionUserAgent("agent"))

	_, ok := m.Session()
	require.False(t, ok)
	require.False(t, m.IsValid())

	cookies := DefaultCookies()
	cookies.AccessToken = "acc"
	cookies.RefreshToken = "ref"
	require.NoError(t, m.CreateSession(validTokens(), &UserInfo{Email: "trader@example.com"}, &cookies))

	session, ok := m.Session()
	require.True(t, ok)
	require.Equal(t, "acc", session.Tokens.AccessToken)
	require.Equal(t, "agent", session.Metadata.UserAgent)
	require.True(t, m.IsValid())
	require.False(t, m.NeedsRefresh())

	access, err := m.AccessToken()
	require.NoError(t, err)
	require.Equal(t, "acc", access)

	header, ok := m.CookieHeader()
	require.True(t, ok)
	require.Contains(t, header, "auth-access-token=acc")
}

func TestSessionManagerSnapshotIsolation(t *testing.T) {
	m := NewSessionManager("", false)
	cookies := DefaultCookies()
	cookies.AccessToken = "acc"
	cookies.RefreshToken = "ref"
	require.NoError(t, m.CreateSession(validTokens(), nil, &cookies))

	snapshot, ok := m.Session()
	require.True(t, ok)
	snapshot.Tokens.AccessToken = "mutated"
	snapshot.Cookies.Additional["extra"] = "x"

	current, _ := m.Session()
	require.Equal(t, "acc", current.Tokens.AccessToken)
	require.NotContains(t, current.Cookies.Additional, "extra")
}

func TestSessionManagerCreateFromLogin(t *testing.T) {
	m := NewSessionManager("", false)

	cookies := DefaultCookies()
	cookies.AccessToken = "acc"
	cookies.RefreshToken = "ref"
	result := &LoginResult{
		Tokens:   validTokens(),
		UserInfo: &UserInfo{ID: "u-1"},
		Cookies:  cookies,
		TurnkeyCredentials: &TurnkeyCredentials{
			OrganizationID: "org-1",
			UserID:         "user-abcdef1234",
			ClientSecret:   "secret",
		},
	}
	require.NoError(t, m.CreateSessionFromLogin(result))

	tk, ok := m.TurnkeySession()
	require.True(t, ok)
	require.Equal(t, "org-1", tk.OrganizationID)
	require.Equal(t, "user_user-abc", tk.Username)
	require.NotNil(t, tk.ExpiresAt)
	require.True(t, m.IsValid())
}

func TestSessionManagerUpdatesRequireSession(t *testing.T) {
	m := NewSessionManager("", false)

	require.ErrorIs(t, m.UpdateTokens(validTokens()), ErrNotAuthenticated)
	require.ErrorIs(t, m.UpdateCookies(DefaultCookies()), ErrNotAuthenticated)
	require.ErrorIs(t, m.SetTurnkeySession(TurnkeySession{}), ErrNotAuthenticated)

	_, err := m.AccessToken()
	require.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestSessionManagerUpdateCookiesMerges(t *testing.T) {
	m := NewSessionManager("", false)
	cookies := DefaultCookies()
	cookies.AccessToken = "acc"
	cookies.RefreshToken = "ref"
	require.NoError(t, m.CreateSession(validTokens(), nil, &cookies))

	require.NoError(t, m.UpdateCookies(AuthCookies{AccessToken: "acc-2"}))

	session, _ := m.Session()
	require.Equal(t, "acc-2", session.Cookies.AccessToken)
	require.Equal(t, "ref", session.Cookies.RefreshToken)
}

func TestSessionManagerPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	m := NewSessionManager(path, true)

	cookies := DefaultCookies()
	cookies.AccessToken = "acc"
	cookies.RefreshToken = "ref"
	require.NoError(t, m.CreateSession(validTokens(), &UserInfo{Email: "trader@example.com"}, &cookies))

	reloaded := NewSessionManager(path, true)
	session, ok := reloaded.Session()
	require.True(t, ok)
	require.Equal(t, "acc", session.Tokens.AccessToken)
	require.Equal(t, "trader@example.com", session.UserInfo.Email)
	require.True(t, reloaded.IsValid())
}

func TestSessionManagerConcurrentAutoSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	m := NewSessionManager(path, true)
	require.NoError(t, m.CreateSession(validTokens(), nil, nil))

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- m.UpdateTokens(validTokens())
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	reloaded := NewSessionManager(path, true)
	session, ok := reloaded.Session()
	require.True(t, ok)
	require.Equal(t, "acc", session.Tokens.AccessToken)
}

func TestSessionManagerClear(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	m := NewSessionManager(path, true)
	require.NoError(t, m.CreateSession(validTokens(), nil, nil))

	require.NoError(t, m.Clear())
	require.False(t, m.IsValid())
	require.Equal(t, "No active session", m.Summary())
	require.Error(t, m.Load())

	fresh := NewSessionManager(path, true)
	_, ok := fresh.Session()
	require.False(t, ok)
}

func TestSessionManagerStampRequest(t *testing.T) {
	m := NewSessionManager("", false)
	_, err := m.StampRequest([]byte("payload"))
	require.Error(t, err)

	m = NewSessionManager("", false, WithStamper(&fakeStamper{header: "stamp-header"}))
	header, err := m.StampRequest([]byte("payload"))
	require.NoError(t, err)
	require.Equal(t, "stamp-header", header)
}

func TestSessionManagerMarkAPICall(t *testing.T) {
	m := NewSessionManager("", false)
	m.MarkAPICall("/api/meme-trending")

	require.NoError(t, m.CreateSession(validTokens(), nil, nil))
	m.MarkAPICall("/api/meme-trending")

	session, _ := m.Session()
	require.Equal(t, "/api/meme-trending", session.Metadata.CurrentEndpoint)
	_, ok := session.Metadata.SinceLastAPICall()
	require.True(t, ok)
}
