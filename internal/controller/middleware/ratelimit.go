package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"zigcheck/pkg/api"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP. Buckets expire after TTL
// so idle clients do not accumulate.
type RateLimiter struct {
	rps   float64
	burst int
	ttl   time.Duration
	// trustForwarded uses the first X-Forwarded-For entry as the client IP.
	trustForwarded bool

	limiters sync.Map // client IP -> *cachedLimiter
	now      func() time.Time
}

type Option func(*RateLimiter)

func WithTTL(ttl time.Duration) Option {
	return func(rl *RateLimiter) { rl.ttl = ttl }
}

// WithLimit sets requests per second and burst. rps <= 0 disables limiting.
func WithLimit(rps float64, burst int) Option {
	return func(rl *RateLimiter) {
		rl.rps = rps
		rl.burst = burst
	}
}

func WithForwardedFor(trust bool) Option {
	return func(rl *RateLimiter) { rl.trustForwarded = trust }
}

func NewRateLimiter(opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		rps:   1,
		burst: 5,
		ttl:   5 * time.Minute,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(rl)
	}
	return rl
}

// Middleware rejects requests over the client's limit with 429.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// rps=0 means unlimited
			if rl.rps <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			if !rl.limiter(rl.clientIP(r)).Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(api.ErrorResponse{
					Error: "Too Many Requests",
					Code:  "429",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	now := rl.now()
	if v, ok := rl.limiters.Load(key); ok {
		cached := v.(*cachedLimiter)
		if now.Before(cached.expiresAt) {
			return cached.limiter
		}
		// expired, need to create new
	}

	limiter := rate.NewLimiter(rate.Limit(rl.rps), rl.burst)
	rl.limiters.Store(key, &cachedLimiter{
		limiter:   limiter,
		expiresAt: now.Add(rl.ttl),
	})
	return limiter
}

func (rl *RateLimiter) clientIP(r *http.Request) string {
	if rl.trustForwarded {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
