package middleware

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/walnut-ops/walnut/internal/config"
	"github.com/walnut-ops/walnut/internal/metrics"
)

// tokenBucket is a simple token bucket for per-key rate limiting.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	ratePerSec float64
	burst      float64
}

func newBucket(rpm, burst int) *tokenBucket {
	if rpm <= 0 {
		rpm = 60
	}
	if burst <= 0 {
		burst = rpm
	}
	return &tokenBucket{
		tokens:     float64(burst),
		lastRefill: time.Now(),
		ratePerSec: float64(rpm) / 60.0,
		burst:      float64(burst),
	}
}

func (b *tokenBucket) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.ratePerSec
		if b.tokens > b.burst {
			b.tokens = b.burst
		}
		b.lastRefill = now
	}
	if b.tokens >= 1 {
		b.tokens -= 1
		return true
	}
	return false
}

type limiter struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	cfg     config.PathRateLimitConfig
}

func (l *limiter) get(key string) *tokenBucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[key]; ok {
		return b
	}
	b := newBucket(l.cfg.RequestsPerMinute, l.cfg.Burst)
	l.buckets[key] = b
	return b
}

// RateLimitMiddleware limits requests per client key. Path prefixes listed
// in the config get their own limits; the editor's validation endpoint is
// bursty while an operator types, so it typically runs with more headroom
// than the rest of the API. Drops are counted in metrics per prefix.
func RateLimitMiddleware(cfg *config.Config) gin.HandlerFunc {
	rl := cfg.Security.RateLimiting
	if !rl.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	extractKey := func(c *gin.Context) string {
		if rl.KeyHeader != "" {
			if hVal := c.GetHeader(rl.KeyHeader); hVal != "" {
				if strings.EqualFold(rl.KeyHeader, "X-Forwarded-For") {
					return strings.TrimSpace(strings.Split(hVal, ",")[0])
				}
				return hVal
			}
		}
		if ip := c.ClientIP(); ip != "" {
			return ip
		}
		return "unknown"
	}
	whitelisted := func(ip string) bool {
		for _, w := range rl.WhitelistIPs {
			if ip == w {
				return true
			}
		}
		return false
	}

	var pathLimiters []*limiter
	for _, p := range rl.Paths {
		if !p.Enabled || p.RequestsPerMinute <= 0 {
			continue
		}
		pathLimiters = append(pathLimiters, &limiter{buckets: make(map[string]*tokenBucket), cfg: p})
	}
	var global *limiter
	if rl.RequestsPerMinute > 0 {
		global = &limiter{
			buckets: make(map[string]*tokenBucket),
			cfg: config.PathRateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: rl.RequestsPerMinute,
				Burst:             rl.Burst,
			},
		}
	}

	reject := func(c *gin.Context, prefix string) {
		metrics.IncRateLimitDrop(prefix)
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"success": false,
			"error":   "Too Many Requests",
			"message": "rate limit exceeded",
		})
	}

	return func(c *gin.Context) {
		key := extractKey(c)
		if whitelisted(c.ClientIP()) {
			c.Next()
			return
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		for _, pl := range pathLimiters {
			if strings.HasPrefix(path, pl.cfg.Prefix) {
				if !pl.get(key).allow() {
					reject(c, pl.cfg.Prefix)
					return
				}
				c.Next()
				return
			}
		}

		if global != nil && !global.get(key).allow() {
			reject(c, "global")
			return
		}
		c.Next()
	}
}
