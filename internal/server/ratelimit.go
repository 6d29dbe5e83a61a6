package server

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientIdleTTL is how long a client's bucket survives without requests.
const clientIdleTTL = 10 * time.Minute

type clientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out one token bucket per client key. Buckets idle for
// clientIdleTTL are dropped on a later request.
type RateLimiter struct {
	mu        sync.Mutex
	limits    map[string]*clientLimit
	rps       rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second per
// client with the given burst.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limits: make(map[string]*clientLimit),
		rps:    rate.Limit(rps),
		burst:  burst,
		now:    time.Now,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= clientIdleTTL {
		for k, cl := range rl.limits {
			if now.Sub(cl.lastSeen) >= clientIdleTTL {
				delete(rl.limits, k)
			}
		}
		rl.lastSweep = now
	}

	cl, ok := rl.limits[key]
	if !ok {
		cl = &clientLimit{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limits[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

func (rl *RateLimiter) clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limits)
}

// Allow reports whether a request from key may proceed now.
func (rl *RateLimiter) Allow(key string) bool {
	return rl.getLimiter(key).Allow()
}

// Middleware rejects requests over the client's budget with 429. Clients are
// keyed by remote IP, which RealIP has already resolved.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(clientKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
