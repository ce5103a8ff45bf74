package middleware

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/mcpkit/mcpkit/pkg/jsonrpc"
)

// maxBuckets caps the limiter store before the oldest-idle bucket is
// evicted, so abandoned connections cannot grow the map forever.
const maxBuckets = 4096

// RateLimitConfig tunes the token-bucket rate limiter.
type RateLimitConfig struct {
	// RatePerSecond is the refill rate of each bucket.
	RatePerSecond float64
	// Burst is the bucket size.
	Burst int
	// Key, when non-empty, shares one bucket across all connections under
	// that key instead of one bucket per connection.
	Key string
}

// RateLimit applies a token bucket per connection (or per configured key).
// Exhausted buckets short-circuit with the server-busy error.
func RateLimit(cfg RateLimitConfig) Middleware {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 50
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 100
	}

	var (
		mu      sync.Mutex
		buckets = make(map[string]*rate.Limiter)
	)

	limiterFor := func(key string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if lim, ok := buckets[key]; ok {
			return lim
		}
		if len(buckets) >= maxBuckets {
			for k := range buckets {
				delete(buckets, k)
				break
			}
		}
		lim := rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
		buckets[key] = lim
		return lim
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, req *Request) jsonrpc.Response {
			key := cfg.Key
			if key == "" {
				key = req.Conn.ID
			}
			if !limiterFor(key).Allow() {
				return jsonrpc.NewErrorResponseData(req.Req.ID, jsonrpc.ServerBusy, "",
					map[string]any{"kind": "rate_limited"})
			}
			return next(ctx, req)
		}
	}
}
