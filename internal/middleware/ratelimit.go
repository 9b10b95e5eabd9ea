package middleware

import (
	"net/http"
	"sync"
	"time"

	"gift-journal-backend/internal/config"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client IP for one endpoint tier.
// Idle entries are dropped opportunistically so the map cannot grow without
// bound.
type RateLimiter struct {
	mu       sync.Mutex
	clients  map[string]*clientLimiter
	limit    rate.Limit
	burst    int
	lastSeen time.Duration
}

type clientLimiter struct {
	limiter *rate.Limiter
	seen    time.Time
}

// NewRateLimiter builds a tier allowing max requests per the configured
// window.
func NewRateLimiter(max int, cfg config.RateLimitConfig) *RateLimiter {
	window := time.Duration(cfg.WindowSeconds) * time.Second
	return &RateLimiter{
		clients:  make(map[string]*clientLimiter),
		limit:    rate.Limit(float64(max) / window.Seconds()),
		burst:    max,
		lastSeen: 3 * window,
	}
}

func (l *RateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for key, client := range l.clients {
		if now.Sub(client.seen) > l.lastSeen {
			delete(l.clients, key)
		}
	}

	client, ok := l.clients[ip]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[ip] = client
	}
	client.seen = now
	return client.limiter.Allow()
}

// Middleware enforces the tier per client IP. Relies on chi's RealIP having
// normalized RemoteAddr.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(r.RemoteAddr) {
			respondError(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
