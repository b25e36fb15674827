package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/davidmoltin/ai-action-queue/pkg/auth"
	"github.com/davidmoltin/ai-action-queue/pkg/logger"
	"github.com/davidmoltin/ai-action-queue/pkg/metrics"
)

type mockTokens struct {
	validateFunc func(token string) (*auth.JWTClaims, error)
}

func (m *mockTokens) ValidateAccessToken(token string) (*auth.JWTClaims, error) {
	return m.validateFunc(token)
}

type mockKeys struct {
	authenticateFunc func(key string) (string, error)
}

func (m *mockKeys) Authenticate(key string) (string, error) {
	return m.authenticateFunc(key)
}

func echoClaims(t *testing.T, got **auth.JWTClaims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = GetClaims(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}

func newTestAuthenticator() *Authenticator {
	tokens := &mockTokens{validateFunc: func(token string) (*auth.JWTClaims, error) {
		if token == "good" {
			return &auth.JWTClaims{TenantID: "tenant-456", UserID: "user-1", Permissions: []string{auth.PermissionActionsRead}}, nil
		}
		return nil, errors.New("invalid token")
	}}
	keys := &mockKeys{authenticateFunc: func(key string) (string, error) {
		if key == "tenant-789.secret" {
			return "tenant-789", nil
		}
		return "", auth.ErrInvalidAPIKey
	}}
	return NewAuthenticator(tokens, keys, metrics.NewWithRegistry(prometheus.NewRegistry()), logger.NewNop())
}

func TestAuth(t *testing.T) {
	a := newTestAuthenticator()

	tests := []struct {
		name       string
		headers    map[string]string
		wantStatus int
		wantTenant string
		wantUser   string
	}{
		{"bearer token", map[string]string{"Authorization": "Bearer good"}, http.StatusNoContent, "tenant-456", "user-1"},
		{"bad token", map[string]string{"Authorization": "Bearer bad"}, http.StatusUnauthorized, "", ""},
		{"malformed header", map[string]string{"Authorization": "Basic abc"}, http.StatusUnauthorized, "", ""},
		{"api key", map[string]string{"X-API-Key": "tenant-789.secret"}, http.StatusNoContent, "tenant-789", "apikey:tenant-789"},
		{"bad api key", map[string]string{"X-API-Key": "tenant-789.wrong"}, http.StatusUnauthorized, "", ""},
		{"bearer wins over api key", map[string]string{"Authorization": "Bearer good", "X-API-Key": "tenant-789.secret"}, http.StatusNoContent, "tenant-456", "user-1"},
		{"nothing", map[string]string{}, http.StatusUnauthorized, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var claims *auth.JWTClaims
			h := Auth(a)(echoClaims(t, &claims))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantTenant == "" {
				assert.Nil(t, claims)
				return
			}
			require.NotNil(t, claims)
			assert.Equal(t, tt.wantTenant, claims.TenantID)
			assert.Equal(t, tt.wantUser, claims.UserID)
		})
	}
}

func TestAuth_APIKeyGetsDefaultPermissions(t *testing.T) {
	var claims *auth.JWTClaims
	h := Auth(newTestAuthenticator())(echoClaims(t, &claims))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "tenant-789.secret")
	h.ServeHTTP(httptest.NewRecorder(), req)

	require.NotNil(t, claims)
	assert.True(t, claims.HasPermission(auth.PermissionActionsExecute))
	assert.False(t, claims.HasPermission(auth.PermissionQueueAdmin))
}

func TestRequirePermission(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RequirePermission(logger.NewNop(), auth.PermissionQueueAdmin)(ok)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithClaims(req.Context(), &auth.JWTClaims{TenantID: "t", Permissions: []string{auth.PermissionActionsRead}}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithClaims(req.Context(), &auth.JWTClaims{TenantID: "t", Permissions: []string{"*"}}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimit_PerTenant(t *testing.T) {
	rl := NewRateLimiter(0.001, 2, logger.NewNop())
	h := RateLimit(rl)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	call := func(tenant string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithClaims(req.Context(), &auth.JWTClaims{TenantID: tenant}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call("a"))
	assert.Equal(t, http.StatusNoContent, call("a"))
	assert.Equal(t, http.StatusTooManyRequests, call("a"))
	assert.Equal(t, http.StatusNoContent, call("b"), "tenants have separate buckets")
}

func TestRateLimiter_Evict(t *testing.T) {
	rl := NewRateLimiter(10, 10, logger.NewNop())
	now := time.Now()
	rl.getLimiter("tenant:old", now.Add(-time.Hour))
	rl.getLimiter("tenant:new", now)

	assert.Equal(t, 1, rl.Evict(now.Add(-time.Minute)))
	assert.Equal(t, 0, rl.Evict(now.Add(-time.Minute)))
}

func TestObserve_LogsCallerAndRecordsMetrics(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	var claims *auth.JWTClaims
	h := Observe(&logger.Logger{Logger: zap.New(core)}, m)(Auth(newTestAuthenticator())(echoClaims(t, &claims)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/schedules", nil)
	req.Header.Set("Authorization", "Bearer good")
	h.ServeHTTP(httptest.NewRecorder(), req)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/schedules", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("HTTP request").All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "tenant-456", entries[0].ContextMap()["tenant_id"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.NotContains(t, entries[1].ContextMap(), "tenant_id")

	assert.Equal(t, 1.0, promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/schedules", "2xx")))
	assert.Equal(t, 1.0, promtest.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/v1/schedules", "4xx")))
}

func TestNormalizeStatusCode(t *testing.T) {
	assert.Equal(t, "2xx", normalizeStatusCode(201))
	assert.Equal(t, "3xx", normalizeStatusCode(304))
	assert.Equal(t, "4xx", normalizeStatusCode(404))
	assert.Equal(t, "5xx", normalizeStatusCode(503))
	assert.Equal(t, "100", normalizeStatusCode(100))
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-Proto", "https")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEmpty(t, rec.Header().Get("Strict-Transport-Security"))
}
