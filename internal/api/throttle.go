package api

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Throttle paces outgoing requests per endpoint group so bursts of engagement
// calls do not trip the server's rate limiter. Idle buckets expire after ttl.
type Throttle struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

// NewThrottle allows up to requests calls per window for each key, plus burst.
func NewThrottle(requests int, window time.Duration, burst int) *Throttle {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Second
	}
	if burst <= 0 {
		burst = 1
	}

	return &Throttle{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(window / time.Duration(requests)),
		burst:   burst,
		ttl:     5 * time.Minute,
		now:     time.Now,
	}
}

// Wait blocks until a request for key may proceed or ctx is done.
func (t *Throttle) Wait(ctx context.Context, key string) error {
	if t == nil {
		return nil
	}
	return t.limiterFor(key).Wait(ctx)
}

// Allow reports whether a request for key may proceed right now.
func (t *Throttle) Allow(key string) bool {
	if t == nil {
		return true
	}
	return t.limiterFor(key).Allow()
}

func (t *Throttle) limiterFor(key string) *rate.Limiter {
	if key == "" {
		key = "default"
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	b, ok := t.buckets[key]
	if ok {
		b.lastSeen = now
	} else {
		b = &bucket{limiter: rate.NewLimiter(t.limit, t.burst), lastSeen: now}
		t.buckets[key] = b
	}
	t.gcLocked(now)
	return b.limiter
}

func (t *Throttle) gcLocked(now time.Time) {
	for key, b := range t.buckets {
		if now.Sub(b.lastSeen) > t.ttl {
			delete(t.buckets, key)
		}
	}
}

// WithNowFunc allows tests to override the time source used for expiry.
func (t *Throttle) WithNowFunc(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// throttleKey groups a request path by its first segment: auth, users, videos.
func throttleKey(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexAny(path, "/?"); i >= 0 {
		path = path[:i]
	}
	return path
}
