package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgeline/gamekernel/internal/plugin"
)

const secret = "test-secret"

func echoCaller(t *testing.T) (http.Handler, *plugin.Caller) {
	t.Helper()
	var got plugin.Caller
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = CallerFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return h, &got
}

func TestAuthenticateValidToken(t *testing.T) {
	token, err := IssueToken(secret, plugin.Caller{UserID: "alice", IsAdmin: true, DisplayName: "Alice"}, time.Hour)
	require.NoError(t, err)

	inner, got := echoCaller(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	Authenticate(secret)(inner).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", got.UserID)
	assert.True(t, got.IsAdmin)
	assert.Equal(t, "Alice", got.DisplayName)
}

func TestAuthenticateMissingHeaderIsAnonymous(t *testing.T) {
	inner, got := echoCaller(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	Authenticate(secret)(inner).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, got.Anonymous())
}

func TestAuthenticateRejectsBadTokens(t *testing.T) {
	expired, err := IssueToken(secret, plugin.Caller{UserID: "alice"}, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := IssueToken("other-secret", plugin.Caller{UserID: "alice"}, time.Hour)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"expired":    "Bearer " + expired,
		"wrong key":  "Bearer " + wrongKey,
		"not bearer": "Basic abc",
		"garbage":    "Bearer not.a.token",
	} {
		t.Run(name, func(t *testing.T) {
			inner, _ := echoCaller(t)
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", header)
			rec := httptest.NewRecorder()
			Authenticate(secret)(inner).ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	RequireAdmin(ok).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithCaller(req.Context(), plugin.Caller{UserID: "alice"}))
	rec = httptest.NewRecorder()
	RequireAdmin(ok).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithCaller(req.Context(), plugin.Caller{UserID: "root", IsAdmin: true}))
	rec = httptest.NewRecorder()
	RequireAdmin(ok).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := rl.Handler(ok)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// A different key has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
