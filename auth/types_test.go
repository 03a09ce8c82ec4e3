package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func timePtr(t time.Time) *time.Time { return &t }

func TestAuthTokensExpiryBuffers(t *testing.T) {
	past := AuthTokens{ExpiresAt: timePtr(time.Now().Add(-time.Second))}
	require.True(t, past.IsExpired())
	require.True(t, past.NeedsRefresh())

	fresh := AuthTokens{ExpiresAt: timePtr(time.Now().Add(time.Hour))}
	require.False(t, fresh.IsExpired())
	require.False(t, fresh.NeedsRefresh())

	// Inside the refresh window but outside the expiry window.
	closing := AuthTokens{ExpiresAt: timePtr(time.Now().Add(10 * time.Minute))}
	require.False(t, closing.IsExpired())
	require.True(t, closing.NeedsRefresh())

	// Inside the expiry window: both fire and expiry wins.
	expiring := AuthTokens{ExpiresAt: timePtr(time.Now().Add(4 * time.Minute))}
	require.True(t, expiring.IsExpired())
	require.True(t, expiring.NeedsRefresh())
}

func TestAuthTokensNilExpiryNeverExpires(t *testing.T) {
	tokens := AuthTokens{AccessToken: "a", RefreshToken: "r"}
	require.False(t, tokens.IsExpired())
	require.False(t, tokens.NeedsRefresh())
	require.Zero(t, tokens.TimeUntilExpiry())
}

func TestAuthTokensTimeUntilExpiry(t *testing.T) {
	tokens := AuthTokens{ExpiresAt: timePtr(time.Now().Add(time.Hour))}
	remaining := tokens.TimeUntilExpiry()
	require.Greater(t, remaining, 59*time.Minute)
	require.LessOrEqual(t, remaining, time.Hour)

	expired := AuthTokens{ExpiresAt: timePtr(time.Now().Add(-time.Minute))}
	require.Zero(t, expired.TimeUntilExpiry())
}

func TestCookiesFromResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	http.SetCookie(rec, &http.Cookie{Name: "auth-access-token", Value: "acc"})
	http.SetCookie(rec, &http.Cookie{Name: "auth-refresh-token", Value: "ref"})
	http.SetCookie(rec, &http.Cookie{Name: "session-hint", Value: "abc"})

	cookies := CookiesFromResponse(rec.Result())
	require.Equal(t, "acc", cookies.AccessToken)
	require.Equal(t, "ref", cookies.RefreshToken)
	require.Equal(t, `{"i_l":0}`, cookies.GState)
	require.Equal(t, "abc", cookies.Additional["session-hint"])
	require.True(t, cookies.HasAuthCookies())
}

func TestCookiesMergeKeepsExistingWhenOtherEmpty(t *testing.T) {
	base := DefaultCookies()
	base.AccessToken = "old-access"
	base.RefreshToken = "old-refresh"

	base.Merge(AuthCookies{AccessToken: "new-access"})
	require.Equal(t, "new-access", base.AccessToken)
	require.Equal(t, "old-refresh", base.RefreshToken)
}

func TestCookiesHeaderOrdering(t *testing.T) {
	cookies := AuthCookies{
		AccessToken:  "acc",
		RefreshToken: "ref",
		GState:       `{"i_l":0}`,
		Additional:   map[string]string{"zeta": "2", "alpha": "1"},
	}

	header := cookies.Header()
	require.Contains(t, header, "auth-access-token=acc")
	require.Contains(t, header, "auth-refresh-token=ref")
	require.Contains(t, header, `g_state={"i_l":0}`)
	// Additional cookies render in sorted order for a stable header.
	require.Less(t, strings.Index(header, "alpha=1"), strings.Index(header, "zeta=2"))
}

func TestTurnkeySessionNeedsRefresh(t *testing.T) {
	open := TurnkeySession{}
	require.False(t, open.NeedsRefresh())

	soon := TurnkeySession{ExpiresAt: timePtr(time.Now().Add(30 * time.Minute))}
	require.True(t, soon.NeedsRefresh())

	later := TurnkeySession{ExpiresAt: timePtr(time.Now().Add(2 * time.Hour))}
	require.False(t, later.NeedsRefresh())
}

func TestAuthSessionValidity(t *testing.T) {
	session := NewAuthSession(AuthTokens{
		AccessToken:  "acc",
		RefreshToken: "ref",
		ExpiresAt:    timePtr(time.Now().Add(time.Hour)),
	}, nil, "agent")
	session.Cookies.AccessToken = "acc"
	session.Cookies.RefreshToken = "ref"

	require.True(t, session.IsValid())
	require.False(t, session.NeedsRefresh())

	session.Tokens.ExpiresAt = timePtr(time.Now().Add(-time.Minute))
	require.False(t, session.IsValid())
	require.True(t, session.NeedsRefresh())
}

func TestAuthSessionUpdateTokensStampsRefreshTime(t *testing.T) {
	session := NewAuthSession(AuthTokens{AccessToken: "acc", RefreshToken: "ref"}, nil, "agent")
	require.Nil(t, session.Metadata.LastRefreshedAt)

	session.UpdateTokens(AuthTokens{AccessToken: "acc2", RefreshToken: "ref2"})
	require.Equal(t, "acc2", session.Tokens.AccessToken)
	require.NotNil(t, session.Metadata.LastRefreshedAt)
}

func TestSessionMetadataTracksAPICalls(t *testing.T) {
	meta := NewSessionMetadata("agent")
	require.NotEmpty(t, meta.ClientFingerprint)

	_, ok := meta.SinceLastAPICall()
	require.False(t, ok)

	session := NewAuthSession(AuthTokens{AccessToken: "a", RefreshToken: "r"}, nil, "agent")
	session.MarkAPICall("/api/portfolio")

	since, ok := session.Metadata.SinceLastAPICall()
	require.True(t, ok)
	require.GreaterOrEqual(t, since, time.Duration(0))
	require.Equal(t, "/api/portfolio", session.Metadata.CurrentEndpoint)
}
