package ratelimit

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config sets the per-key limits. A non-positive RequestsPerSecond disables
// limiting.
type Config struct {
	RequestsPerSecond float64
	Burst             float64
	// CleanupInterval drops idle limiters; zero uses five minutes.
	CleanupInterval time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Limit      float64
	Remaining  float64
	RetryAfter time.Duration
}

// Limiter keeps one token bucket per key, e.g. per conversation thread.
type Limiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLimiter returns nil when cfg disables limiting. A nil *Limiter allows
// everything.
func NewLimiter(cfg Config) *Limiter {
	return newLimiter(cfg, time.Now)
}

func newLimiter(cfg Config, now func() time.Time) *Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return nil
	}
	burst := int(math.Ceil(cfg.Burst))
	if burst < 1 {
		burst = int(math.Max(1, math.Ceil(cfg.RequestsPerSecond)))
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	l := &Limiter{
		limit:    rate.Limit(cfg.RequestsPerSecond),
		burst:    burst,
		now:      now,
		limiters: make(map[string]*rate.Limiter),
		stop:     make(chan struct{}),
	}
	go l.cleanupLoop(cfg.CleanupInterval)
	return l
}

// Allow consumes a token for key. An empty key is never limited.
func (l *Limiter) Allow(key string) Decision {
	if l == nil || key == "" {
		return Decision{Allowed: true}
	}
	lim := l.limiter(key)
	now := l.now()
	d := Decision{Allowed: lim.AllowN(now, 1), Limit: float64(l.burst)}
	if !d.Allowed {
		// Reserve only to learn the delay, then hand the token back.
		r := lim.ReserveN(now, 1)
		if r.OK() {
			d.RetryAfter = r.DelayFrom(now)
			r.CancelAt(now)
		}
	}
	d.Remaining = math.Max(0, lim.TokensAt(now))
	return d
}

func (l *Limiter) limiter(key string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[key]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.limiters[key]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.limit, l.burst)
	l.limiters[key] = lim
	return lim
}

// Len reports how many keys hold a limiter.
func (l *Limiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.limiters)
}

// Close stops the cleanup loop.
func (l *Limiter) Close() error {
	if l == nil {
		return nil
	}
	l.stopOnce.Do(func() { close(l.stop) })
	return nil
}

func (l *Limiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stop:
			return
		}
	}
}

// cleanup drops limiters that have refilled, i.e. keys idle long enough to be
// indistinguishable from new ones.
func (l *Limiter) cleanup() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, lim := range l.limiters {
		if lim.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, key)
		}
	}
}

// SetHeaders writes the X-RateLimit-* headers and, for a rejection,
// Retry-After.
func SetHeaders(w http.ResponseWriter, d Decision) {
	if d.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%.0f", d.Limit))
	w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%.0f", math.Floor(d.Remaining)))
	if !d.Allowed {
		secs := int64(math.Ceil(d.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
}
