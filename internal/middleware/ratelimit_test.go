package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/walnut-ops/walnut/internal/config"
	"github.com/walnut-ops/walnut/internal/metrics"
)

func rateLimitRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(cfg))
	handler := func(c *gin.Context) { c.Status(http.StatusOK) }
	r.GET("/api/v1/policies", handler)
	r.GET("/api/v1/hosts", handler)
	return r
}

func hit(r *gin.Engine, path, ip string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if ip != "" {
		req.RemoteAddr = ip + ":1234"
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRateLimit_GlobalBucketDrains(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Security.RateLimiting = config.RateLimitingConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             2,
	}
	r := rateLimitRouter(cfg)

	_, before := metrics.RateLimitSnapshot()

	assert.Equal(t, http.StatusOK, hit(r, "/api/v1/hosts", "10.1.1.1"))
	assert.Equal(t, http.StatusOK, hit(r, "/api/v1/hosts", "10.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "/api/v1/hosts", "10.1.1.1"))

	_, after := metrics.RateLimitSnapshot()
	assert.Equal(t, before["global"]+1, after["global"])
}

func TestRateLimit_PerClientBuckets(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Security.RateLimiting = config.RateLimitingConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             1,
	}
	r := rateLimitRouter(cfg)

	assert.Equal(t, http.StatusOK, hit(r, "/api/v1/hosts", "10.1.1.1"))
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "/api/v1/hosts", "10.1.1.1"))
	assert.Equal(t, http.StatusOK, hit(r, "/api/v1/hosts", "10.1.1.2"), "another client gets its own bucket")
}

func TestRateLimit_PathOverrideWins(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Security.RateLimiting = config.RateLimitingConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             1,
		Paths: []config.PathRateLimitConfig{
			{Enabled: true, Prefix: "/api/v1/policies", RequestsPerMinute: 600, Burst: 5},
		},
	}
	r := rateLimitRouter(cfg)

	// The policies prefix has its own, larger bucket.
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, hit(r, "/api/v1/policies", "10.1.1.1"))
	}
	assert.Equal(t, http.StatusTooManyRequests, hit(r, "/api/v1/policies", "10.1.1.1"))

	// The global bucket was untouched by policies traffic.
	assert.Equal(t, http.StatusOK, hit(r, "/api/v1/hosts", "10.1.1.1"))
}

func TestRateLimit_WhitelistBypasses(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Security.RateLimiting = config.RateLimitingConfig{
		Enabled:           true,
		RequestsPerMinute: 60,
		Burst:             1,
		WhitelistIPs:      []string{"10.9.9.9"},
	}
	r := rateLimitRouter(cfg)

	for i := 0; i < 10; i++ {
		assert.Equal(t, http.StatusOK, hit(r, "/api/v1/hosts", "10.9.9.9"))
	}
}

func TestRateLimit_DisabledIsNoop(t *testing.T) {
	cfg := config.GetDefaultConfig()
	cfg.Security.RateLimiting.Enabled = false
	r := rateLimitRouter(cfg)

	for i := 0; i < 50; i++ {
		assert.Equal(t, http.StatusOK, hit(r, "/api/v1/hosts", "10.1.1.1"))
	}
}
