package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"erpsync/internal/config"

	"golang.org/x/time/rate"
)

// HTTPAuth enforces API-key auth and per-client rate limiting on the
// /api/v1 surface. Health and metrics stay open.
type HTTPAuth struct {
	cfg      *config.APIConfig
	keys     map[string]config.APIClientKey
	limiters sync.Map
}

func NewHTTPAuth(cfg *config.APIConfig) *HTTPAuth {
	keys := make(map[string]config.APIClientKey, len(cfg.Auth.APIKeys))
	for _, k := range cfg.Auth.APIKeys {
		keys[k.Key] = k
	}
	return &HTTPAuth{cfg: cfg, keys: keys}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			next.ServeHTTP(w, r)
			return
		}

		client := "anonymous"
		if a.cfg.Auth.Enabled {
			header := a.cfg.Auth.HeaderAPIKey
			if header == "" {
				header = "x-api-key"
			}
			apiKey := strings.TrimSpace(r.Header.Get(header))
			if apiKey == "" {
				writeError(w, http.StatusUnauthorized, "missing api key")
				return
			}

			known, ok := a.keys[apiKey]
			if !ok || subtle.ConstantTimeCompare([]byte(known.Key), []byte(apiKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "invalid api key")
				return
			}
			client = known.Name
		}

		if a.cfg.RateLimit.RPS > 0 && !a.limiter(client).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (a *HTTPAuth) limiter(key string) *rate.Limiter {
	if v, ok := a.limiters.Load(key); ok {
		if lim, ok := v.(*rate.Limiter); ok {
			return lim
		}
	}

	burst := a.cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(a.cfg.RateLimit.RPS), burst)
	actual, loaded := a.limiters.LoadOrStore(key, lim)
	if loaded {
		if actualLim, ok := actual.(*rate.Limiter); ok {
			return actualLim
		}
	}
	return lim
}
