package api

import (
	"net/http"
	"testing"

	"erpsync/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authConfig() *config.APIConfig {
	return &config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			APIKeys: []config.APIClientKey{
				{Key: "portal-key", Name: "portal"},
			},
		},
	}
}

func TestAuth_MissingKey(t *testing.T) {
	env := setupTestAPI(t, authConfig())

	resp, err := http.Get(env.ts.URL + "/api/v1/entities/customer")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_InvalidKey(t *testing.T) {
	env := setupTestAPI(t, authConfig())

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/entities/customer", nil)
	require.NoError(t, err)
	req.Header.Set("x-api-key", "wrong-key")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_ValidKey(t *testing.T) {
	env := setupTestAPI(t, authConfig())

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/entities/customer", nil)
	require.NoError(t, err)
	req.Header.Set("x-api-key", "portal-key")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_HealthzStaysOpen(t *testing.T) {
	env := setupTestAPI(t, authConfig())

	resp, err := http.Get(env.ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_RateLimit(t *testing.T) {
	cfg := authConfig()
	cfg.RateLimit = config.APIRateLimitConfig{RPS: 1, Burst: 2}
	env := setupTestAPI(t, cfg)

	limited := false
	for i := 0; i < 5; i++ {
		req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/v1/entities/customer", nil)
		require.NoError(t, err)
		req.Header.Set("x-api-key", "portal-key")

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited, "burst of requests must hit the rate limit")
}
