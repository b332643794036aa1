package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"friends-go/internal/config"
)

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen atomic.Int64
}

// RateLimiter provides per-client token-bucket limiting keyed by remote IP.
type RateLimiter struct {
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	limiters sync.Map
}

func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RateLimiter{limit: rate.Limit(cfg.RequestsPerSecond), burst: burst, idleTTL: ttl}
}

func (l *RateLimiter) get(key string, now time.Time) *rate.Limiter {
	v, ok := l.limiters.Load(key)
	if !ok {
		v, _ = l.limiters.LoadOrStore(key, &ipLimiter{limiter: rate.NewLimiter(l.limit, l.burst)})
	}
	il := v.(*ipLimiter)
	il.lastSeen.Store(now.UnixNano())
	return il.limiter
}

// Allow reports whether key may issue one more request now.
func (l *RateLimiter) Allow(key string) bool {
	return l.get(key, time.Now()).Allow()
}

// Sweep removes limiters not used since cutoff and returns how many were dropped.
func (l *RateLimiter) Sweep(cutoff time.Time) int {
	removed := 0
	l.limiters.Range(func(k, v interface{}) bool {
		if v.(*ipLimiter).lastSeen.Load() < cutoff.UnixNano() {
			l.limiters.Delete(k)
			removed++
		}
		return true
	})
	return removed
}

// RunCleanup sweeps idle entries until ctx is done.
func (l *RateLimiter) RunCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.idleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Sweep(now.Add(-l.idleTTL))
		}
	}
}

// Middleware answers 429 once a client exceeds its budget.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lim := l.get(clientIP(r), time.Now())
		if !lim.Allow() {
			retry := time.Second
			if l.limit > 0 {
				retry = time.Duration(float64(time.Second) / float64(l.limit))
			}
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(retry.Seconds()))))
			WriteError(w, r, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
