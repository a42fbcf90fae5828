package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/marketplace/pkg/logger"
)

var testSecret = []byte("test-secret")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func okHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error.Code
}

// --- Auth ---

func TestAuth_ValidTokenSetsClaims(t *testing.T) {
	token, err := SignToken(testSecret, Claims{UserID: "alice", Role: RoleAdmin, Age: 30}, time.Hour)
	require.NoError(t, err)

	var gotUser, gotRole string
	var gotAge int
	h := Auth(NewJWTValidator(testSecret))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
		gotAge = AgeFromContext(r.Context())
		assert.Equal(t, "alice", logger.UserIDFromContext(r.Context()))
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", gotUser)
	assert.Equal(t, RoleAdmin, gotRole)
	assert.Equal(t, 30, gotAge)
}

func TestAuth_Rejections(t *testing.T) {
	expired, err := SignToken(testSecret, Claims{UserID: "alice"}, -time.Minute)
	require.NoError(t, err)
	wrongKey, err := SignToken([]byte("other"), Claims{UserID: "alice"}, time.Hour)
	require.NoError(t, err)
	noUser, err := SignToken(testSecret, Claims{Role: "buyer"}, time.Hour)
	require.NoError(t, err)
	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{UserID: "alice"}).SignedString(testSecret)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + wrongKey},
		{"no user_id", "Bearer " + noUser},
		{"unexpected algorithm", "Bearer " + hs512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			Auth(NewJWTValidator(testSecret))(http.HandlerFunc(okHandler)).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
		})
	}
}

// --- Rate limiting ---

func TestRateLimiter_PerClientBudget(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("user:alice"))
	assert.True(t, l.Allow("user:alice"))
	assert.False(t, l.Allow("user:alice"))
	assert.True(t, l.Allow("user:bob"))

	now = now.Add(time.Second)
	assert.True(t, l.Allow("user:alice"))
}

func TestRateLimiter_Disabled(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{})
	for i := 0; i < 100; i++ {
		require.True(t, l.Allow("ip:10.0.0.1"))
	}
}

func TestRateLimiter_Sweep(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 5, Burst: 5, IdleTTL: time.Minute})
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.Allow("ip:a")
	now = now.Add(30 * time.Second)
	l.Allow("ip:b")
	now = now.Add(45 * time.Second)

	assert.Equal(t, 1, l.Sweep())
	assert.Len(t, l.clients, 1)
}

func TestRateLimiter_MiddlewareReturns429(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 0.5, Burst: 1})
	h := l.Middleware(http.HandlerFunc(okHandler))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.7:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send().Code)
	rec := send()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE_LIMITED", errorCode(t, rec))
}

// --- Logging ---

func TestRequestLogging_GeneratesCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	var seen string
	h := RequestLogging(logger.NewWithWriter("marketplace", "info", &buf))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationIDFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/cart", nil))

	require.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(CorrelationHeader))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http request", line["msg"])
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
	assert.Equal(t, seen, line["correlation_id"])
}

func TestRequestLogging_KeepsCallerCorrelationID(t *testing.T) {
	h := RequestLogging(quietLogger())(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "corr-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "corr-42", rec.Header().Get(CorrelationHeader))
}

func TestRequestLogger_EnrichesContextLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logger.NewWithWriter("marketplace", "info", &buf)

	h := RequestLogging(quietLogger())(RequestLogger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).InfoContext(r.Context(), "inside handler")
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CorrelationHeader, "corr-7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Contains(t, buf.String(), `"correlation_id":"corr-7"`)
	assert.Contains(t, buf.String(), "inside handler")
}

// --- Recovery ---

func TestRecovery_ReturnsEnvelope(t *testing.T) {
	h := Recovery(quietLogger())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/checkout", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "INTERNAL_ERROR", errorCode(t, rec))
}

// --- Metrics ---

func TestPrometheusMetrics_LabelsByRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(PrometheusMetrics)
	r.Get("/metrics-test/{storeID}", okHandler)

	counter := httpRequestsTotal.WithLabelValues(http.MethodGet, "/metrics-test/{storeID}", "200")
	before := testutil.ToFloat64(counter)

	for _, id := range []string{"a", "b", "c"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/metrics-test/"+id, nil))
	}

	assert.Equal(t, before+3, testutil.ToFloat64(counter))
	assert.Zero(t, testutil.ToFloat64(httpRequestsInFlight))
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:1234"
	assert.Equal(t, "ip:198.51.100.4", clientKey(req))

	token, err := SignToken(testSecret, Claims{UserID: "carol"}, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	var key string
	Auth(NewJWTValidator(testSecret))(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		key = clientKey(r)
	})).ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, strings.HasPrefix(key, "user:"))
	assert.Equal(t, "user:carol", key)
}
