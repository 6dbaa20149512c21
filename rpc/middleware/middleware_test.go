package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Subject", Subject(r.Context()))
		w.WriteHeader(http.StatusOK)
	})
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"commands": {RatePerSecond: 1, Burst: 1}})
	throttled := 0
	limiter.OnThrottle(func(string) { throttled++ })
	handler := limiter.Middleware("commands")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/v1/commands/bond", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusTooManyRequests, res.Code)
	require.Equal(t, 1, throttled)
}

func TestRateLimiterSeparatesClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"commands": {RatePerSecond: 1, Burst: 1}})
	handler := limiter.Middleware("commands")(okHandler())

	for _, key := range []string{"tenant-A", "tenant-B"} {
		req := httptest.NewRequest(http.MethodPost, "/v1/commands/bond", nil)
		req.Header.Set("X-API-Key", key)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		require.Equal(t, http.StatusOK, res.Code, key)
	}
}

func TestRateLimiterPrunesIdleVisitors(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{"queries": {RatePerSecond: 1, Burst: 1}})
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	limiter.obtainLimiter("queries|a", RateLimit{RatePerSecond: 1, Burst: 1})
	now = now.Add(visitorIdleTTL + time.Second)
	limiter.obtainLimiter("queries|b", RateLimit{RatePerSecond: 1, Burst: 1})
	require.Len(t, limiter.visitors, 1)
	require.Contains(t, limiter.visitors, "queries|b")
}

func TestRateLimiterUnlimitedRoute(t *testing.T) {
	limiter := NewRateLimiter(nil)
	handler := limiter.Middleware("queries")(okHandler())
	for i := 0; i < 5; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/tick", nil))
		require.Equal(t, http.StatusOK, res.Code)
	}
}

func TestAuthenticatorAcceptsSubjectAndScopes(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "secret", Issuer: "gridmarket"}, nil)
	handler := auth.Middleware("market:admin")(okHandler())
	token := signToken(t, "secret", jwt.MapClaims{
		"sub":   "0x1001",
		"iss":   "gridmarket",
		"scope": "market:admin market:read",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/pause_module", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "0x1001", res.Header().Get("X-Subject"))
}

func TestAuthenticatorRejects(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{Enabled: true, HMACSecret: "secret", Issuer: "gridmarket"}, nil)
	cases := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing", header: "", status: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signToken(t, "other", jwt.MapClaims{"sub": "0x1", "iss": "gridmarket"}), status: http.StatusUnauthorized},
		{name: "wrong issuer", header: "Bearer " + signToken(t, "secret", jwt.MapClaims{"sub": "0x1", "iss": "elsewhere"}), status: http.StatusUnauthorized},
		{name: "no subject", header: "Bearer " + signToken(t, "secret", jwt.MapClaims{"iss": "gridmarket", "scope": "market:admin"}), status: http.StatusUnauthorized},
		{name: "missing scope", header: "Bearer " + signToken(t, "secret", jwt.MapClaims{"sub": "0x1", "iss": "gridmarket"}), status: http.StatusForbidden},
		{name: "expired", header: "Bearer " + signToken(t, "secret", jwt.MapClaims{"sub": "0x1", "iss": "gridmarket", "scope": "market:admin", "exp": time.Now().Add(-time.Hour).Unix()}), status: http.StatusUnauthorized},
	}
	handler := auth.Middleware("market:admin")(okHandler())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/v1/admin/pause_module", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, req)
			require.Equal(t, tc.status, res.Code)
		})
	}
}

func TestAuthenticatorDisabledUsesCallerHeader(t *testing.T) {
	auth := NewAuthenticator(AuthConfig{}, nil)
	require.False(t, auth.Enabled())
	handler := auth.Middleware("market:admin")(okHandler())
	req := httptest.NewRequest(http.MethodPost, "/v1/commands/bond", nil)
	req.Header.Set(HeaderCaller, " 0x2002 ")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)
	require.Equal(t, "0x2002", res.Header().Get("X-Subject"))
}

func TestRequestIDAssignedAndPropagated(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
	}))

	res := httptest.NewRecorder()
	handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/v1/tick", nil))
	require.NotEmpty(t, seen)
	require.Equal(t, seen, res.Header().Get(HeaderRequestID))

	req := httptest.NewRequest(http.MethodGet, "/v1/tick", nil)
	req.Header.Set(HeaderRequestID, "abc-123")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, "abc-123", seen)
}

func TestCORSPreflight(t *testing.T) {
	handler := CORS(CORSConfig{AllowedOrigins: []string{"https://ui.example"}})(okHandler())
	req := httptest.NewRequest(http.MethodOptions, "/v1/commands/bond", nil)
	req.Header.Set("Origin", "https://ui.example")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	require.Equal(t, http.StatusNoContent, res.Code)
	require.Equal(t, "https://ui.example", res.Header().Get("Access-Control-Allow-Origin"))
	require.True(t, strings.Contains(res.Header().Get("Access-Control-Allow-Headers"), HeaderCaller))
}

func TestObservabilityCountsRequests(t *testing.T) {
	obs := NewObservability(ObservabilityConfig{MetricsPrefix: "test_api"}, nil)
	handler := obs.Middleware("tick")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/tick", nil))
	obs.RecordThrottle("tick")

	res := httptest.NewRecorder()
	obs.MetricsHandler().ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := res.Body.String()
	require.Contains(t, body, `test_api_requests_total{method="GET",route="tick",status="418"} 1`)
	require.Contains(t, body, `test_api_throttles_total{route="tick"} 1`)
}
