package ratelimit

import (
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestDisabledLimiterAllowsEverything(t *testing.T) {
	l := NewLimiter(Config{})
	if l != nil {
		t.Fatalf("expected nil limiter when disabled")
	}
	if d := l.Allow("t1"); !d.Allowed {
		t.Fatalf("nil limiter must allow")
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close nil limiter: %v", err)
	}
}

func TestLimiterBurstThenRefill(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := newLimiter(Config{RequestsPerSecond: 1, Burst: 2}, clock.Now)
	defer l.Close()

	for i := 0; i < 2; i++ {
		if d := l.Allow("t1"); !d.Allowed {
			t.Fatalf("request %d should pass the burst", i+1)
		}
	}
	d := l.Allow("t1")
	if d.Allowed {
		t.Fatalf("third request should be limited")
	}
	if d.RetryAfter != time.Second {
		t.Fatalf("unexpected retry after %v", d.RetryAfter)
	}
	if other := l.Allow("t2"); !other.Allowed {
		t.Fatalf("keys are limited independently")
	}

	clock.Advance(time.Second)
	if d := l.Allow("t1"); !d.Allowed {
		t.Fatalf("refilled token should be usable")
	}
}

func TestDecisionReportsRemainingTokens(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	l := newLimiter(Config{RequestsPerSecond: 2, Burst: 3}, clock.Now)
	defer l.Close()

	for want := 2.0; want >= 0; want-- {
		d := l.Allow("t1")
		if !d.Allowed || d.Limit != 3 || d.Remaining != want {
			t.Fatalf("unexpected decision %#v, want remaining %v", d, want)
		}
	}
	d := l.Allow("t1")
	if d.Allowed || d.Remaining != 0 || d.RetryAfter != 500*time.Millisecond {
		t.Fatalf("unexpected rejection %#v", d)
	}
	// Computing Retry-After must not consume a token.
	clock.Advance(500 * time.Millisecond)
	if !l.Allow("t1").Allowed {
		t.Fatalf("token should be available after the advertised wait")
	}
}

func TestEmptyKeyIsNotLimited(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := newLimiter(Config{RequestsPerSecond: 1, Burst: 1}, clock.Now)
	defer l.Close()
	for i := 0; i < 5; i++ {
		if !l.Allow("").Allowed {
			t.Fatalf("empty key must not be limited")
		}
	}
	if l.Len() != 0 {
		t.Fatalf("empty key must not allocate a bucket")
	}
}

func TestCleanupDropsRefilledBuckets(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	l := newLimiter(Config{RequestsPerSecond: 10, Burst: 1}, clock.Now)
	defer l.Close()

	l.Allow("idle")
	l.Allow("busy")
	clock.Advance(time.Second)
	l.Allow("busy")
	l.cleanup()
	if l.Len() != 1 {
		t.Fatalf("expected only the busy bucket to survive, have %d", l.Len())
	}
}

func TestSetHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec, Decision{Allowed: false, Limit: 5, Remaining: 0.4, RetryAfter: 1500 * time.Millisecond})
	if got := rec.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Fatalf("limit header %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Fatalf("remaining header %q", got)
	}
	if got := rec.Header().Get("Retry-After"); got != "2" {
		t.Fatalf("retry-after header %q", got)
	}

	rec = httptest.NewRecorder()
	SetHeaders(rec, Decision{Allowed: true})
	if len(rec.Header()) != 0 {
		t.Fatalf("unlimited decisions set no headers")
	}
}
