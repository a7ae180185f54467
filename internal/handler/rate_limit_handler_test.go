package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/VahantSharma/Bloggly-Backend/internal/ratelimit"
	"github.com/VahantSharma/Bloggly-Backend/internal/repository/memory"
	"github.com/VahantSharma/Bloggly-Backend/internal/service"
)

type testEnv struct {
	limiter *ratelimit.Limiter
	router  http.Handler
}

func newTestEnv(t *testing.T, policies ratelimit.Policies, opts RouterOptions, health service.HealthFunc) *testEnv {
	t.Helper()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter, err := ratelimit.NewLimiter(memory.NewAttemptStore(), policies, zap.NewNop(),
		ratelimit.WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	svc := service.NewRateLimitService(limiter, nil, nil, health, zap.NewNop())
	return &testEnv{
		limiter: limiter,
		router:  NewRouter(NewRateLimitHandler(svc, zap.NewNop()), opts, zap.NewNop()),
	}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "10.1.1.1:4321"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

type decisionResponse struct {
	Success bool               `json:"success"`
	Data    ratelimit.Decision `json:"data"`
	Error   string             `json:"error"`
	Message string             `json:"message"`
}

func decodeDecision(t *testing.T, rec *httptest.ResponseRecorder) decisionResponse {
	t.Helper()
	var resp decisionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestEvaluateEndpoint(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultPolicies(), RouterOptions{}, nil)

	rec := env.do(http.MethodPost, "/api/v1/rate-limit/evaluate", `{"identifier":"alice","success":false,"type":"auth"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeDecision(t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, ratelimit.Decision{Allowed: true, Remaining: 4, ResetTime: 900}, resp.Data)
}

func TestEvaluateEndpointRejectsBadInput(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultPolicies(), RouterOptions{}, nil)

	cases := map[string]string{
		"malformed json": `{"identifier":`,
		"unknown field":  `{"identifier":"a","type":"auth","extra":1}`,
		"missing type":   `{"identifier":"a"}`,
		"unknown type":   `{"identifier":"a","type":"nope"}`,
		"empty id":       `{"identifier":"","type":"auth"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/api/v1/rate-limit/evaluate", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeDecision(t, rec)
			assert.False(t, resp.Success)
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestAuthAndAPIEndpoints(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultPolicies(), RouterOptions{}, nil)

	rec := env.do(http.MethodPost, "/api/v1/rate-limit/auth", `{"identifier":"bob","success":true}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ratelimit.Decision{Allowed: true, Remaining: 5, ResetTime: 900}, decodeDecision(t, rec).Data)

	rec = env.do(http.MethodPost, "/api/v1/rate-limit/api", `{"identifier":"10.0.0.9"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ratelimit.Decision{Allowed: true, Remaining: 99, ResetTime: 60}, decodeDecision(t, rec).Data)
}

func TestBlockedDecisionIsStillOK(t *testing.T) {
	policies := ratelimit.DefaultPolicies().With(ratelimit.TypeAuth, ratelimit.Policy{
		Window: time.Minute, MaxAttempts: 1, BlockDuration: time.Minute,
	})
	env := newTestEnv(t, policies, RouterOptions{}, nil)

	rec := env.do(http.MethodPost, "/api/v1/rate-limit/auth", `{"identifier":"eve","success":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ratelimit.Decision{Allowed: false, Remaining: 0, ResetTime: 60}, decodeDecision(t, rec).Data)
}

func TestPoliciesEndpoint(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultPolicies(), RouterOptions{}, nil)

	rec := env.do(http.MethodGet, "/api/v1/rate-limit/policies", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []service.PolicyView `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 4)
	assert.Equal(t, "auth", resp.Data[1].Type)
	assert.EqualValues(t, 3600, resp.Data[1].BlockDurationSeconds)
}

func TestOptionalEndpointsWithoutBackends(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultPolicies(), RouterOptions{}, nil)

	assert.Equal(t, http.StatusNotImplemented, env.do(http.MethodGet, "/api/v1/rate-limit/blocks?identifier=x", "").Code)
	assert.Equal(t, http.StatusNotImplemented, env.do(http.MethodGet, "/api/v1/rate-limit/stats", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/rate-limit/stats?hours=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/v1/rate-limit/blocks?size=x", "").Code)
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultPolicies(), RouterOptions{}, nil)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "").Code)

	env = newTestEnv(t, ratelimit.DefaultPolicies(), RouterOptions{}, func(context.Context) map[string]error {
		return map[string]error{"postgres": errors.New("down")}
	})
	rec := env.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "postgres")
}

func TestRouterFallbacks(t *testing.T) {
	env := newTestEnv(t, ratelimit.DefaultPolicies(), RouterOptions{}, nil)

	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, env.do(http.MethodGet, "/api/v1/rate-limit/evaluate", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/metrics", "").Code)
}

func TestRouterServesMetricsAndRequiresTLS(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ratelimit_decisions_total 1\n"))
	})

	env := newTestEnv(t, ratelimit.DefaultPolicies(), RouterOptions{Metrics: metrics}, nil)
	rec := env.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ratelimit_decisions_total")

	env = newTestEnv(t, ratelimit.DefaultPolicies(), RouterOptions{RequireTLS: true}, nil)
	assert.Equal(t, http.StatusUpgradeRequired, env.do(http.MethodGet, "/health", "").Code)
}

func TestAPIThrottle(t *testing.T) {
	policies := ratelimit.DefaultPolicies().With(ratelimit.TypeAPIGeneral, ratelimit.Policy{
		Window: time.Minute, MaxAttempts: 3, BlockDuration: 5 * time.Minute,
	})
	env := newTestEnv(t, policies, RouterOptions{}, nil)
	throttled := NewRouter(
		NewRateLimitHandler(service.NewRateLimitService(env.limiter, nil, nil, nil, zap.NewNop()), zap.NewNop()),
		RouterOptions{Throttle: APIThrottle(env.limiter, zap.NewNop())},
		zap.NewNop(),
	)
	env.router = throttled

	for i := 0; i < 2; i++ {
		rec := env.do(http.MethodGet, "/api/v1/rate-limit/policies", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "3", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, []string{"2", "1"}[i], rec.Header().Get("X-RateLimit-Remaining"))
		assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Reset"))
	}

	rec := env.do(http.MethodGet, "/api/v1/rate-limit/policies", "")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "300", rec.Header().Get("Retry-After"))

	resp := decodeDecision(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, errTooManyRequests.Error(), resp.Error)
	assert.Equal(t, ratelimit.Decision{Allowed: false, Remaining: 0, ResetTime: 300}, resp.Data)

	// Health stays outside the throttled group.
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "").Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "192.0.2.1:1234"
	assert.Equal(t, "192.0.2.1", clientIP(r))

	r.RemoteAddr = "192.0.2.7"
	assert.Equal(t, "192.0.2.7", clientIP(r))
}
