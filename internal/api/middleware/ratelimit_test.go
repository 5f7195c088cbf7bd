package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWindowFor(t *testing.T) {
	now := time.Unix(1_700_000_030, 0)

	w := windowFor(now, time.Minute)
	assert.Equal(t, int64(1_700_000_030/60), w.index)
	assert.Equal(t, time.Unix((w.index+1)*60, 0), w.reset)
	assert.True(t, w.reset.After(now))
	assert.LessOrEqual(t, w.reset.Sub(now), time.Minute)

	// sub-second windows round up to one second
	assert.Equal(t, now.Unix(), windowFor(now, time.Millisecond).index)
}

func TestWindowKeysSeparateLimits(t *testing.T) {
	w := windowFor(time.Unix(120, 0), time.Minute)
	assert.Equal(t, "ratelimit:global:ip:10.0.0.1:2", w.key("global", "ip:10.0.0.1"))
	assert.NotEqual(t, w.key("global", "ip:10.0.0.1"), w.key("jobs", "ip:10.0.0.1"))
}

func TestKeyByIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:51234"
	assert.Equal(t, "ip:192.0.2.7", KeyByIP(req))

	req.RemoteAddr = "192.0.2.8"
	assert.Equal(t, "ip:192.0.2.8", KeyByIP(req))

	req.RemoteAddr = ""
	assert.Empty(t, KeyByIP(req))
}

func TestLimitFailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { client.Close() })

	limiter := NewRateLimiter(client, zap.NewNop())
	rec := httptest.NewRecorder()
	limiter.Limit(JobCreationRateLimit)(okHandler).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
}
