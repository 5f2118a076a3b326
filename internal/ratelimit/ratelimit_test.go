package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/ratekeeper/internal/auth"
)

// fakeClock is a controllable time source for deterministic tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestLimiter creates a Limiter wired to the given fake clock.
func newTestLimiter(rate int, window time.Duration, clock *fakeClock) *Limiter {
	l := New(rate, window)
	l.now = clock.Now
	return l
}

func TestAllowBasic(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(3, time.Minute, clock)

	for i := 0; i < 3; i++ {
		if !l.Allow("caller:acme").Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	if l.Allow("caller:acme").Allowed {
		t.Fatal("4th request should be denied")
	}
	if !l.Allow("caller:other").Allowed {
		t.Fatal("another caller has its own bucket")
	}
}

func TestTokenRefill(t *testing.T) {
	clock := newFakeClock(time.Now())
	// 60 tokens per minute = 1 token per second.
	l := newTestLimiter(60, time.Minute, clock)

	for i := 0; i < 60; i++ {
		l.Allow("k")
	}
	if l.Allow("k").Allowed {
		t.Fatal("should be denied after exhausting tokens")
	}

	clock.Advance(time.Second)
	if !l.Allow("k").Allowed {
		t.Fatal("should be allowed after 1 second refill")
	}
	if l.Allow("k").Allowed {
		t.Fatal("should be denied again after consuming refilled token")
	}

	clock.Advance(10 * time.Minute)
	if d := l.Allow("k"); d.Remaining != 59 {
		t.Fatalf("tokens should cap at the rate, got %d remaining", d.Remaining)
	}
}

func TestDecision(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(10, time.Minute, clock)

	var d Decision
	for i := 0; i < 3; i++ {
		d = l.Allow("s")
	}
	if d.Limit != 10 || d.Remaining != 7 {
		t.Fatalf("expected limit 10 and 7 remaining, got %+v", d)
	}

	// 3 tokens at 10/min = 18 seconds.
	if want := clock.Now().Add(18 * time.Second); !d.ResetAt.Equal(want) {
		t.Fatalf("ResetAt = %v, want %v", d.ResetAt, want)
	}
}

func TestConcurrentAccess(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(100, time.Minute, clock)

	var wg sync.WaitGroup
	allowed := make(chan bool, 200)

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			allowed <- l.Allow("concurrent").Allowed
		}()
	}

	wg.Wait()
	close(allowed)

	count := 0
	for ok := range allowed {
		if ok {
			count++
		}
	}

	if count != 100 {
		t.Fatalf("expected exactly 100 allowed, got %d", count)
	}
}

func TestSweep(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(10, time.Minute, clock)

	l.Allow("idle")
	l.Allow("busy")
	clock.Advance(30 * time.Second)
	for i := 0; i < 9; i++ {
		l.Allow("busy")
	}

	if removed := l.Sweep(); removed != 1 {
		t.Fatalf("expected one idle bucket removed, got %d", removed)
	}
	if l.Len() != 1 {
		t.Fatalf("expected the busy bucket to remain, got %d buckets", l.Len())
	}
}

func TestKey(t *testing.T) {
	anon := httptest.NewRequest(http.MethodGet, "/", nil)
	anon.RemoteAddr = "10.0.0.7:51234"
	if got := Key(anon); got != "addr:10.0.0.7" {
		t.Errorf("anonymous key = %q", got)
	}

	shared := anon.WithContext(auth.ContextWithCaller(anon.Context(), auth.Anonymous()))
	if got := Key(shared); got != "addr:10.0.0.7" {
		t.Errorf("the anonymous caller must be keyed by address, got %q", got)
	}

	known := anon.WithContext(auth.ContextWithCaller(anon.Context(), &auth.Caller{ID: "acme"}))
	if got := Key(known); got != "caller:acme" {
		t.Errorf("caller key = %q", got)
	}
}

func TestMiddleware(t *testing.T) {
	clock := newFakeClock(time.Now())
	l := newTestLimiter(2, time.Minute, clock)

	rejected := 0
	h := Middleware(l, func() { rejected++ })(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/nodes", nil))
		codes = append(codes, rec.Code)
		last = rec
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status codes %v", codes)
	}
	if rejected != 1 {
		t.Errorf("expected one rejection callback, got %d", rejected)
	}
	if last.Header().Get("X-RateLimit-Limit") != "2" || last.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("unexpected rate-limit headers %v", last.Header())
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("a rejected request must carry Retry-After")
	}
	if !strings.Contains(last.Body.String(), `"rate_limited"`) {
		t.Errorf("unexpected body %s", last.Body.String())
	}
}

func TestMiddleware_NilLimiter(t *testing.T) {
	h := Middleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusNoContent || rec.Header().Get("X-RateLimit-Limit") != "" {
		t.Fatalf("a nil limiter must pass requests through untouched")
	}
}
