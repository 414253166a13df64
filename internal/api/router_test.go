package api_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greendrake/referral/internal/api"
	"greendrake/referral/internal/auth"
	"greendrake/referral/internal/config"
	"greendrake/referral/internal/metrics"
	"greendrake/referral/internal/models"
	"greendrake/referral/internal/utils"
)

const routerSecret = "router-test-secret"

func testConfig() *config.Config {
	return &config.Config{
		JwtSecret:           routerSecret,
		JwtTTL:              time.Hour,
		DefaultPage:         20,
		MaxPage:             100,
		RateLimitBucketSize: 1000,
		RateLimitRefillRate: 1000,
	}
}

func bearer(t *testing.T, role models.Role) string {
	token, err := auth.GenerateJWT(utils.NewSixID(), role, routerSecret, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func request(r http.Handler, method, path, authz string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// Requests in these cases are all rejected before reaching a service.
func TestSetupRouter_AccessControl(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := api.SetupRouter(ctx, testConfig(), api.Services{})

	w := request(r, "GET", "/v1/ping", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())

	someID := utils.NewSixID().String()
	cases := []struct {
		name   string
		method string
		path   string
		role   models.Role
		status int
	}{
		{"no token on renter route", "POST", "/v1/pre-market", "", http.StatusUnauthorized},
		{"no token on agent route", "GET", "/v1/agent/pre-market", "", http.StatusUnauthorized},
		{"no token on notices", "GET", "/v1/notices", "", http.StatusUnauthorized},
		{"renter on agent route", "POST", "/v1/agent/pre-market/" + someID + "/grant-access", models.RoleRenter, http.StatusForbidden},
		{"agent on renter route", "POST", "/v1/pre-market", models.RoleAgent, http.StatusForbidden},
		{"agent on admin route", "POST", "/v1/admin/grant-access/" + someID + "/decision", models.RoleAgent, http.StatusForbidden},
		{"renter on admin sweep", "POST", "/v1/admin/sweep", models.RoleRenter, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			authz := ""
			if tc.role != "" {
				authz = bearer(t, tc.role)
			}
			w := request(r, tc.method, tc.path, authz)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
		})
	}

	t.Run("token signed with another secret", func(t *testing.T) {
		token, err := auth.GenerateJWT(utils.NewSixID(), models.RoleAdmin, "someone-elses-secret", time.Hour)
		require.NoError(t, err)
		w := request(r, "GET", "/v1/admin/config", "Bearer "+token)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestSetupServiceRouter(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	m.SweepRun("ok")

	shutdown := make(chan struct{}, 1)
	r := api.SetupServiceRouter(nil, nil, reg, shutdown)

	w := request(r, "GET", "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "expiration_sweep_runs_total")

	post := func(body string) *httptest.ResponseRecorder {
		req, _ := http.NewRequest("POST", "/api", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusServiceUnavailable, post(`{"method":"runSweep"}`).Code)
	assert.Equal(t, http.StatusServiceUnavailable, post(`{"method":"getTestEmail","arguments":["grant_access_priced","a@b.test"]}`).Code)
	assert.Equal(t, http.StatusNotFound, post(`{"method":"nope"}`).Code)
	assert.Equal(t, http.StatusBadRequest, post(`not json`).Code)

	assert.Equal(t, http.StatusOK, post(`{"method":"shutdown"}`).Code)
	select {
	case <-shutdown:
	default:
		t.Fatal("shutdown was not signalled")
	}
}
