package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimiter counts requests per key in fixed windows stored in Redis
type RateLimiter struct {
	redis  *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// RateLimitConfig defines one limit. Name keeps counters of different limits
// on the same client apart.
type RateLimitConfig struct {
	Name     string
	Requests int
	Window   time.Duration
	KeyFunc  func(*http.Request) string
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(client *redis.Client, logger *zap.Logger) *RateLimiter {
	return &RateLimiter{
		redis:  client,
		logger: logger,
		now:    time.Now,
	}
}

// Limit returns a middleware that enforces config. Redis errors let the
// request through.
func (rl *RateLimiter) Limit(config RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := config.KeyFunc(r)
			if client == "" {
				next.ServeHTTP(w, r)
				return
			}

			now := rl.now()
			win := windowFor(now, config.Window)
			count, err := rl.incr(r.Context(), win.key(config.Name, client), config.Window)
			if err != nil {
				rl.logger.Error("Rate limit check failed", zap.String("limit", config.Name), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			remaining := max(config.Requests-int(count), 0)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Requests))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(win.reset.Unix(), 10))

			if int(count) > config.Requests {
				retry := max(int64(win.reset.Sub(now).Seconds()), 1)
				w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				rl.logger.Warn("Rate limit exceeded",
					zap.String("limit", config.Name),
					zap.String("client", client),
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusTooManyRequests, CodeRateLimited,
					fmt.Sprintf("%s limit of %d per %s reached", config.Name, config.Requests, config.Window))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

type window struct {
	index int64
	reset time.Time
}

// windowFor returns the fixed window containing now
func windowFor(now time.Time, size time.Duration) window {
	secs := max(int64(size/time.Second), 1)
	index := now.Unix() / secs
	return window{index: index, reset: time.Unix((index+1)*secs, 0)}
}

func (w window) key(name, client string) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", name, client, w.index)
}

// KeyByIP keys on the client address. chi's RealIP middleware has already
// rewritten RemoteAddr from proxy headers.
func KeyByIP(r *http.Request) string {
	if ip := clientIP(r); ip != "" {
		return "ip:" + ip
	}
	return ""
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// GlobalRateLimit applies to all requests from an IP
var GlobalRateLimit = RateLimitConfig{
	Name:     "global",
	Requests: 100,
	Window:   time.Minute,
	KeyFunc:  KeyByIP,
}

// JobCreationRateLimit applies to job creation
var JobCreationRateLimit = RateLimitConfig{
	Name:     "jobs",
	Requests: 20,
	Window:   time.Minute,
	KeyFunc:  KeyByIP,
}

// UploadRateLimit applies to file uploads
var UploadRateLimit = RateLimitConfig{
	Name:     "upload",
	Requests: 30,
	Window:   time.Hour,
	KeyFunc:  KeyByIP,
}
