package httpmiddleware

import (
	"context"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LimiterConfig configures a Limiter.
type LimiterConfig struct {
	// Max is the number of requests a key may make within any Window. Zero
	// disables limiting.
	Max    int
	Window time.Duration
	// Key groups requests. Defaults to ClientIP.
	Key func(*http.Request) string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Limiter admits at most Max requests per key within any Window-long span.
// It remembers the admission times of each key, so the window slides
// exactly instead of being approximated from fixed buckets.
type Limiter struct {
	max    int
	window time.Duration
	key    func(*http.Request) string
	now    func() time.Time

	mu   sync.Mutex
	seen map[string][]time.Time
}

func NewLimiter(cfg LimiterConfig) *Limiter {
	if cfg.Key == nil {
		cfg.Key = ClientIP
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Limiter{
		max:    cfg.Max,
		window: cfg.Window,
		key:    cfg.Key,
		now:    cfg.Now,
		seen:   make(map[string][]time.Time),
	}
}

// Verdict is the outcome of one admission.
type Verdict struct {
	Allowed   bool
	Remaining int
	// Reset is when the oldest counted request leaves the window.
	Reset time.Time
}

// Admit counts a request of key if it fits in the window.
func (l *Limiter) Admit(key string) Verdict {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	times := expire(l.seen[key], now.Add(-l.window))
	if len(times) >= l.max {
		l.seen[key] = times
		return Verdict{Reset: times[0].Add(l.window)}
	}
	times = append(times, now)
	l.seen[key] = times
	return Verdict{
		Allowed:   true,
		Remaining: l.max - len(times),
		Reset:     times[0].Add(l.window),
	}
}

// expire drops the times at or before cutoff. times is ascending.
func expire(times []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(times), func(i int) bool { return times[i].After(cutoff) })
	if i == 0 {
		return times
	}
	return append(times[:0], times[i:]...)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Sweep forgets keys with no request in the window ending at now and
// returns how many were forgotten.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	var n int
	for key, times := range l.seen {
		if len(times) == 0 || !times[len(times)-1].After(cutoff) {
			delete(l.seen, key)
			n++
		}
	}
	return n
}

// Run sweeps idle keys once per window until ctx is done.
func (l *Limiter) Run(ctx context.Context) error {
	if l.max <= 0 || l.window <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(l.window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			l.Sweep(now)
		}
	}
}

// Middleware rejects requests over the limit with 429. Every limited
// response carries X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset; rejections also carry Retry-After.
func (l *Limiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		if l.max <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			v := l.Admit(l.key(r))

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(v.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(v.Reset.Unix(), 10))
			if !v.Allowed {
				h.Set("Retry-After", strconv.Itoa(retryAfter(v.Reset.Sub(l.now()))))
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// retryAfter rounds d up to whole seconds, at least one.
func retryAfter(d time.Duration) int {
	secs := int((d + time.Second - 1) / time.Second)
	return max(secs, 1)
}

// ClientIP returns the first X-Forwarded-For address, then X-Real-IP, then
// the host of RemoteAddr.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
