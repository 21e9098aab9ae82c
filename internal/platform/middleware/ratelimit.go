package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"hemobank/pkg/requestcontext"
)

// Counter increments a rate-limit bucket and reports the new count. The
// bucket expires after the window so counts reset on their own.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

// RedisCounter shares buckets across processes.
type RedisCounter struct {
	client redis.Cmdable
}

func NewRedisCounter(client redis.Cmdable) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit incr: %w", err)
	}
	return incr.Val(), nil
}

// MemoryCounter is the single-process fallback when Redis is not
// configured.
type MemoryCounter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count   int64
	resetAt time.Time
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{buckets: make(map[string]*bucket)}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	b, ok := c.buckets[key]
	if !ok || now.After(b.resetAt) {
		b = &bucket{resetAt: now.Add(window)}
		c.buckets[key] = b
	}
	b.count++
	return b.count, nil
}

// RateLimit bounds each caller to limit requests per window. Callers are
// keyed by authenticated actor when present, remote address otherwise.
// Counter failures fail open: throttling is protection, not correctness.
func RateLimit(limit int, window time.Duration, counter Counter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := requestcontext.ActorID(r.Context())
			if key == "" {
				key = r.RemoteAddr
			}

			count, err := counter.Incr(r.Context(), "ratelimit:"+key, window)
			if err != nil {
				logger.WarnContext(r.Context(), "rate limit counter unavailable",
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}
			if count > int64(limit) {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited","message":"too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
