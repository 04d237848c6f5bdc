package auth

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"carrental.app/rentalctl/internal/platform/web"
)

const limiterIdleTTL = 5 * time.Minute

// LoginLimiter is a token bucket per client IP guarding the login endpoint.
type LoginLimiter struct {
	mu        sync.Mutex
	perSecond float64
	burst     int
	buckets   map[string]*bucket
	now       func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func NewLoginLimiter(perSecond float64, burst int) *LoginLimiter {
	if burst < 1 {
		burst = 1
	}
	return &LoginLimiter{
		perSecond: perSecond,
		burst:     burst,
		buckets:   make(map[string]*bucket),
		now:       time.Now,
	}
}

func (l *LoginLimiter) Allow(ip string) bool {
	if l.perSecond <= 0 {
		return true
	}
	if ip == "" {
		ip = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, b := range l.buckets {
		if now.Sub(b.seen) > limiterIdleTTL {
			delete(l.buckets, key)
		}
	}
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rate.Limit(l.perSecond), l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Middleware limits POSTs to path and passes everything else through.
func (l *LoginLimiter) Middleware(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.URL.Path == path && !l.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			web.WriteJSON(w, http.StatusTooManyRequests, map[string]string{
				"detail": "Request was throttled.",
				"code":   "throttled",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
