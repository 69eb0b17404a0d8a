package viewer

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/thruflo/botloop/internal/logging"
)

// LoginLimits bounds password attempts per client address.
type LoginLimits struct {
	Burst      int           // attempts allowed back to back
	Every      time.Duration // refill interval for one attempt
	BlockAfter int           // consecutive failures before a block
	BlockTime  time.Duration // first block length, doubled for each further block
}

// DefaultLoginLimits returns the limits used by the viewer.
func DefaultLoginLimits() LoginLimits {
	return LoginLimits{
		Burst:      5,
		Every:      12 * time.Second,
		BlockAfter: 10,
		BlockTime:  5 * time.Minute,
	}
}

// maxBlock caps the exponential backoff.
const maxBlock = 24 * time.Hour

// loginLimiter throttles /auth per client IP with a token bucket and
// blocks clients that keep failing.
type loginLimiter struct {
	mu     sync.Mutex
	limits LoginLimits
	now    func() time.Time
	logger *logging.Logger

	buckets  map[string]*rate.Limiter
	failures map[string]int
	blocked  map[string]time.Time // ip -> block expiry
}

func newLoginLimiter(limits LoginLimits, logger *logging.Logger) *loginLimiter {
	def := DefaultLoginLimits()
	if limits.Burst <= 0 {
		limits.Burst = def.Burst
	}
	if limits.Every <= 0 {
		limits.Every = def.Every
	}
	if limits.BlockAfter <= 0 {
		limits.BlockAfter = def.BlockAfter
	}
	if limits.BlockTime <= 0 {
		limits.BlockTime = def.BlockTime
	}
	return &loginLimiter{
		limits:   limits,
		now:      time.Now,
		logger:   logger,
		buckets:  make(map[string]*rate.Limiter),
		failures: make(map[string]int),
		blocked:  make(map[string]time.Time),
	}
}

// allow reports whether ip may try a password now. When it may not, the
// returned duration says when to retry.
func (l *loginLimiter) allow(ip string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if until, ok := l.blocked[ip]; ok {
		if now.Before(until) {
			return false, until.Sub(now)
		}
		delete(l.blocked, ip)
	}

	bucket, ok := l.buckets[ip]
	if !ok {
		bucket = rate.NewLimiter(rate.Every(l.limits.Every), l.limits.Burst)
		l.buckets[ip] = bucket
	}
	r := bucket.ReserveN(now, 1)
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// success forgets the failures of ip.
func (l *loginLimiter) success(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, ip)
	delete(l.blocked, ip)
}

// failure counts a wrong password and blocks ip once it has failed
// BlockAfter times in a row. Each further BlockAfter failures double the
// block.
func (l *loginLimiter) failure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.failures[ip]++
	n := l.failures[ip]
	if n < l.limits.BlockAfter {
		return
	}
	blocks := (n - l.limits.BlockAfter) / l.limits.BlockAfter
	block := maxBlock
	if blocks < 16 {
		block = min(l.limits.BlockTime*time.Duration(1<<blocks), maxBlock)
	}
	l.blocked[ip] = l.now().Add(block)
	l.logger.Warn("Viewer login blocked", "ip", ip, "failures", n, "block", block.String())
}

// prune drops state for clients that are neither blocked nor throttled.
func (l *loginLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for ip, until := range l.blocked {
		if !now.Before(until) {
			delete(l.blocked, ip)
		}
	}
	for ip, bucket := range l.buckets {
		if bucket.TokensAt(now) >= float64(l.limits.Burst) {
			delete(l.buckets, ip)
			if _, blocked := l.blocked[ip]; !blocked {
				delete(l.failures, ip)
			}
		}
	}
}

// clientIP extracts the client IP from the request, preferring proxy
// headers.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
