package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/repairguide-backend/internal/config"
	"github.com/yungbote/repairguide-backend/internal/platform/ctxutil"
)

func newSessionTestRouter(sm *SessionMiddleware) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(sm.Attach())
	r.GET("/whoami", func(c *gin.Context) {
		c.String(http.StatusOK, ctxutil.SessionID(c.Request.Context()))
	})
	return r
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		CookieName: "rg_session",
		Secret:     "test-secret",
		TTL:        config.Duration{Duration: time.Hour},
	}
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, ck := range rec.Result().Cookies() {
		if ck.Name == "rg_session" {
			return ck
		}
	}
	t.Fatalf("no session cookie in response")
	return nil
}

func TestSessionCookieIsIssuedAndReused(t *testing.T) {
	sm := NewSessionMiddleware(nil, testSessionConfig())
	r := newSessionTestRouter(sm)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/whoami", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	first := rec.Body.String()
	_, err := uuid.Parse(first)
	require.NoError(t, err)

	ck := sessionCookie(t, rec)
	assert.True(t, ck.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)
	assert.Equal(t, 3600, ck.MaxAge)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(ck)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, first, rec.Body.String())
}

func TestSessionBearerTokenIsAccepted(t *testing.T) {
	sm := NewSessionMiddleware(nil, testSessionConfig())
	sid := uuid.NewString()
	token, err := sm.Issue(sid)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	newSessionTestRouter(sm).ServeHTTP(rec, req)
	assert.Equal(t, sid, rec.Body.String())
}

func TestSessionRejectsForeignAndExpiredTokens(t *testing.T) {
	sm := NewSessionMiddleware(nil, testSessionConfig())
	sid := uuid.NewString()

	otherCfg := testSessionConfig()
	otherCfg.Secret = "other-secret"
	forged, err := NewSessionMiddleware(nil, otherCfg).Issue(sid)
	require.NoError(t, err)
	_, err = sm.Parse(forged)
	require.Error(t, err)

	past := time.Now().Add(-2 * time.Hour)
	old := NewSessionMiddleware(nil, testSessionConfig())
	old.now = func() time.Time { return past }
	expired, err := old.Issue(sid)
	require.NoError(t, err)
	_, err = sm.Parse(expired)
	require.Error(t, err)

	bogus, err := sm.Issue("not-a-uuid")
	require.NoError(t, err)
	_, err = sm.Parse(bogus)
	require.ErrorIs(t, err, errInvalidSession)

	req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
	req.AddCookie(&http.Cookie{Name: "rg_session", Value: forged})
	rec := httptest.NewRecorder()
	newSessionTestRouter(sm).ServeHTTP(rec, req)
	assert.NotEqual(t, sid, rec.Body.String(), "a forged cookie starts a fresh session")
}
