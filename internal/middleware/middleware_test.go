package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }

func TestAuthRoundTrip(t *testing.T) {
	a := NewAuth("secret-a")
	tok, err := a.SignToken("alice", RoleSurveyor, time.Hour)
	require.NoError(t, err)

	var seen *Claims
	h := a.WithAuth(RequireAuth(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = ClaimsFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}, RoleSurveyor, RoleAdmin))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "alice", seen.UID)
	assert.Equal(t, RoleSurveyor, seen.Role)
}

func TestAuthRejectsBadTokens(t *testing.T) {
	a := NewAuth("secret-a")
	other, err := NewAuth("secret-b").SignToken("mallory", RoleAdmin, time.Hour)
	require.NoError(t, err)
	expired, err := a.SignToken("alice", RoleAdmin, -time.Minute)
	require.NoError(t, err)
	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UID: "eve", Role: RoleAdmin}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	h := a.WithAuth(RequireAuth(okHandler))
	for name, tok := range map[string]string{"wrong secret": other, "expired": expired, "alg none": none, "garbage": "abc"} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Authorization", "Bearer "+tok)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequireAuthRole(t *testing.T) {
	a := NewAuth("")
	tok, err := a.SignToken("bob", RoleRespondent, time.Hour)
	require.NoError(t, err)
	h := a.WithAuth(RequireAuth(okHandler, RoleAdmin))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRateLimiterKeysBySubject(t *testing.T) {
	a := NewAuth("rl")
	l := NewRateLimiter(0.001, 1)
	h := a.WithAuth(l.Limit(okHandler))

	send := func(uid string) int {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		if uid != "" {
			tok, err := a.SignToken(uid, RoleRespondent, time.Hour)
			require.NoError(t, err)
			req.Header.Set("Authorization", "Bearer "+tok)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			assert.NotEmpty(t, rec.Header().Get("Retry-After"))
		}
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("alice"))
	assert.Equal(t, http.StatusTooManyRequests, send("alice"))
	assert.Equal(t, http.StatusOK, send("bob"), "buckets are per caller")
	assert.Equal(t, http.StatusOK, send(""))
}

func TestRateLimiterKeysAnonymousCallersByHost(t *testing.T) {
	l := NewRateLimiter(0.001, 1)
	h := l.Limit(okHandler)
	send := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.7:40001"))
	for port := 40002; port < 40022; port++ {
		assert.Equal(t, http.StatusTooManyRequests, send(fmt.Sprintf("203.0.113.7:%d", port)))
	}
	assert.Equal(t, http.StatusOK, send("[2001:db8:1:2::10]:5000"))
	assert.Equal(t, http.StatusTooManyRequests, send("[2001:db8:1:2::99]:5001"), "same /64")
	assert.Equal(t, http.StatusOK, send("198.51.100.1:40001"))
	assert.Len(t, l.buckets, 3)
}

func TestRateLimiterEvictsIdleBuckets(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewRateLimiter(10, 1)
	l.now = func() time.Time { return clock }
	h := l.Limit(okHandler)
	send := func(remote string) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = remote
		h(httptest.NewRecorder(), req)
	}

	send("192.0.2.1:1000")
	send("192.0.2.2:1000")
	require.Len(t, l.buckets, 2)

	clock = clock.Add(5 * time.Minute)
	send("192.0.2.2:1001")
	assert.Len(t, l.buckets, 2, "nothing is idle long enough yet")

	// 192.0.2.1 has now been idle for 11 minutes, 192.0.2.2 for 6
	clock = clock.Add(6 * time.Minute)
	send("192.0.2.3:1000")
	assert.Len(t, l.buckets, 2)
	assert.NotContains(t, l.buckets, "ip:192.0.2.1")
	assert.Contains(t, l.buckets, "ip:192.0.2.3")
}

func TestRateLimiterDisabled(t *testing.T) {
	var nilLimiter *RateLimiter
	h := nilLimiter.Limit(okHandler)
	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	h = NewRateLimiter(0, 1).Limit(okHandler)
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodOptions, "/api/leaderboard", nil)
	req.Header.Set("Origin", "https://app.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/leaderboard", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	NoStore(SecureHeaders(http.HandlerFunc(okHandler))).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestLocale(t *testing.T) {
	var got string
	h := Locale(nil, "en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = LocaleFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/?lang=zh", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "zh", got)
	assert.Equal(t, "zh", rec.Header().Get("Content-Language"))
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/pot", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http", line["component"])
	assert.Equal(t, "/pot", line["path"])
	assert.EqualValues(t, http.StatusTeapot, line["status"])
	assert.EqualValues(t, 15, line["bytes"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/pot", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
