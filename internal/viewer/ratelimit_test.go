package viewer

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/thruflo/botloop/internal/logging"
)

type fakeNow struct{ t time.Time }

func (f *fakeNow) now() time.Time { return f.t }

func newTestLimiter(limits LoginLimits) (*loginLimiter, *fakeNow) {
	clock := &fakeNow{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := newLoginLimiter(limits, logging.Nop())
	l.now = clock.now
	return l, clock
}

func TestLoginLimiterBurstAndRefill(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(LoginLimits{Burst: 3, Every: time.Second})
	ip := "192.168.1.1"

	for i := range 3 {
		ok, _ := l.allow(ip)
		assert.True(t, ok, "attempt %d should be allowed", i+1)
	}
	ok, retry := l.allow(ip)
	assert.False(t, ok)
	assert.Equal(t, time.Second, retry)

	clock.t = clock.t.Add(time.Second)
	ok, _ = l.allow(ip)
	assert.True(t, ok, "one attempt refilled")
}

func TestLoginLimiterSeparatesClients(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(LoginLimits{Burst: 1, Every: time.Hour})
	ok, _ := l.allow("10.0.0.1")
	assert.True(t, ok)
	ok, _ = l.allow("10.0.0.1")
	assert.False(t, ok)
	ok, _ = l.allow("10.0.0.2")
	assert.True(t, ok)
}

func TestLoginLimiterBlocksWithBackoff(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(LoginLimits{Burst: 100, Every: time.Millisecond, BlockAfter: 3, BlockTime: time.Minute})
	ip := "192.168.1.2"

	for range 3 {
		l.failure(ip)
	}
	ok, retry := l.allow(ip)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, retry)

	for range 3 {
		l.failure(ip)
	}
	_, retry = l.allow(ip)
	assert.Equal(t, 2*time.Minute, retry, "second block doubles")

	clock.t = clock.t.Add(2 * time.Minute)
	ok, _ = l.allow(ip)
	assert.True(t, ok, "block expired")
}

func TestLoginLimiterSuccessResets(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(LoginLimits{Burst: 100, Every: time.Millisecond, BlockAfter: 2, BlockTime: time.Minute})
	ip := "192.168.1.3"

	l.failure(ip)
	l.success(ip)
	l.failure(ip)
	ok, _ := l.allow(ip)
	assert.True(t, ok, "failures reset by success")
}

func TestLoginLimiterPrune(t *testing.T) {
	t.Parallel()

	l, clock := newTestLimiter(LoginLimits{Burst: 1, Every: time.Second, BlockAfter: 1, BlockTime: time.Second})
	l.allow("a")
	l.failure("a")

	clock.t = clock.t.Add(time.Minute)
	l.prune()
	assert.Empty(t, l.buckets)
	assert.Empty(t, l.blocked)
	assert.Empty(t, l.failures)
}

func TestDefaultLoginLimits(t *testing.T) {
	t.Parallel()

	l := newLoginLimiter(LoginLimits{}, logging.Nop())
	assert.Equal(t, DefaultLoginLimits(), l.limits)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		remote   string
		expected string
	}{
		{"X-Forwarded-For single IP", map[string]string{"X-Forwarded-For": "203.0.113.50"}, "10.0.0.1:12345", "203.0.113.50"},
		{"X-Forwarded-For multiple IPs", map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}, "10.0.0.1:12345", "203.0.113.50"},
		{"X-Real-IP", map[string]string{"X-Real-IP": "203.0.113.51"}, "10.0.0.1:12345", "203.0.113.51"},
		{"X-Forwarded-For takes precedence", map[string]string{"X-Forwarded-For": "203.0.113.50", "X-Real-IP": "203.0.113.51"}, "10.0.0.1:12345", "203.0.113.50"},
		{"remote address", nil, "10.0.0.1:12345", "10.0.0.1"},
		{"remote address without port", nil, "10.0.0.1", "10.0.0.1"},
		{"whitespace", map[string]string{"X-Forwarded-For": "  203.0.113.50  "}, "10.0.0.1:12345", "203.0.113.50"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/auth", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, clientIP(req))
		})
	}
}
