package server

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const clientIdleThreshold = time.Hour

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client address. Each bucket holds
// up to capacity tokens and refills capacity tokens per window.
type RateLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	capacity  int
	window    time.Duration
	clients   map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter allows bursts of capacity requests per client, refilled at
// capacity requests per window.
func NewRateLimiter(capacity int, window time.Duration) *RateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	return &RateLimiter{
		limit:    rate.Every(window / time.Duration(capacity)),
		capacity: capacity,
		window:   window,
		clients:  make(map[string]*clientLimiter),
		now:      time.Now,
	}
}

// Allow consumes a token for client and reports whether one was available.
func (r *RateLimiter) Allow(client string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.sweep(now)

	entry, exists := r.clients[client]
	if !exists {
		entry = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.capacity)}
		r.clients[client] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// retryAfter is the time for one token to refill, in whole seconds.
func (r *RateLimiter) retryAfter() string {
	seconds := math.Ceil((r.window / time.Duration(r.capacity)).Seconds())
	return strconv.Itoa(max(1, int(seconds)))
}

// sweep drops idle clients at most once per idle threshold. Callers hold mu.
func (r *RateLimiter) sweep(now time.Time) {
	if now.Sub(r.lastSweep) < clientIdleThreshold {
		return
	}
	r.lastSweep = now
	for client, entry := range r.clients {
		if now.Sub(entry.lastSeen) > clientIdleThreshold {
			delete(r.clients, client)
		}
	}
}

// Middleware rejects requests over the limit with 429.
func (r *RateLimiter) Middleware(logger *zap.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		client := clientAddress(req)
		if !r.Allow(client) {
			logger.Warn("rate limit exceeded",
				zap.String("op", "server.RateLimiter"),
				zap.String("client", client),
				zap.String("path", req.URL.Path),
			)
			w.Header().Set("Retry-After", r.retryAfter())
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}

func clientAddress(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
