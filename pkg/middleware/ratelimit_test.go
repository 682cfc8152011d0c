package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
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

func newTestLimiter(config *RateLimitConfig) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	limiter := NewRateLimiter(config)
	limiter.now = clock.Now
	return limiter, clock
}

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter, clock := newTestLimiter(config)
	ctx := context.Background()

	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		if ok, _ := limiter.Allow(ctx, "user:alice"); ok {
			allowedCount++
		}
	}

	expected := config.RequestsPerWindow + config.BurstSize
	if allowedCount != expected {
		t.Errorf("Allowed %d requests, want %d", allowedCount, expected)
	}

	clock.Advance(time.Second)
	if ok, _ := limiter.Allow(ctx, "user:alice"); !ok {
		t.Error("Should allow request after refill")
	}
	if remaining, _ := limiter.Remaining(ctx, "user:alice"); remaining != config.RequestsPerWindow-1 {
		t.Errorf("Remaining = %d, want %d", remaining, config.RequestsPerWindow-1)
	}
}

func TestRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	ctx := context.Background()

	if ok, _ := limiter.Allow(ctx, "user:alice"); !ok {
		t.Fatal("first request should pass")
	}
	if ok, _ := limiter.Allow(ctx, "user:alice"); ok {
		t.Error("second request for alice should be limited")
	}
	if ok, _ := limiter.Allow(ctx, "user:bob"); !ok {
		t.Error("bob has his own bucket")
	}
	if remaining, _ := limiter.Remaining(ctx, "user:carol"); remaining != 1 {
		t.Errorf("unknown key should report full capacity, got %d", remaining)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	limiter, clock := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Second})
	ctx := context.Background()

	limiter.Allow(ctx, "user:alice")
	clock.Advance(3 * time.Second)
	limiter.Cleanup()

	limiter.mu.RLock()
	n := len(limiter.buckets)
	limiter.mu.RUnlock()
	if n != 0 {
		t.Errorf("expected idle bucket to be removed, have %d", n)
	}
}

func TestRateLimiter_StartCleanupStops(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 5, WindowDuration: 10 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	limiter.StartCleanup(ctx)
	limiter.Allow(ctx, "user:alice")
	time.Sleep(50 * time.Millisecond)
	cancel()
}

func TestRateLimiter_Concurrency(t *testing.T) {
	config := &RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Hour}
	limiter, _ := newTestLimiter(config)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow(ctx, "user:alice"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != config.RequestsPerWindow {
		t.Errorf("allowed %d, want %d", allowed, config.RequestsPerWindow)
	}
}

func TestNewRateLimiter_NilConfig(t *testing.T) {
	limiter := NewRateLimiter(nil)
	if limiter.Config().RequestsPerWindow != DefaultRateLimitConfig().RequestsPerWindow {
		t.Errorf("expected default config, got %+v", limiter.Config())
	}
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "10.0.0.2:443", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.2:443", "198.51.100.4"},
		{"remote addr", nil, "192.0.2.10:5555", "192.0.2.10"},
		{"remote without port", nil, "192.0.2.10", "192.0.2.10"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := getClientIP(req); got != tt.want {
				t.Errorf("getClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRateLimit_Middleware(t *testing.T) {
	limiter, _ := newTestLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	handler := Principal(RateLimit(limiter)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/stats/levels", nil)
		req.Header.Set(PrincipalHeader, user)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	for i := 0; i < 2; i++ {
		if w := send("alice"); w.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i, w.Code)
		}
	}
	w := send("alice")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q", w.Header().Get("Retry-After"))
	}
	if !strings.Contains(w.Body.String(), "rate limit exceeded") {
		t.Errorf("unexpected body %s", w.Body.String())
	}

	if w := send("bob"); w.Code != http.StatusNoContent {
		t.Errorf("bob should not share alice's budget, got %d", w.Code)
	}
	if got := send("carol").Header().Get("X-RateLimit-Remaining"); got != "1" {
		t.Errorf("X-RateLimit-Remaining = %q, want 1", got)
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (bool, error) {
	return false, context.DeadlineExceeded
}
func (brokenLimiter) Remaining(context.Context, string) (int, error) { return 0, nil }
func (brokenLimiter) Config() *RateLimitConfig                       { return DefaultRateLimitConfig() }

func TestRateLimit_FailsOpen(t *testing.T) {
	handler := RateLimit(brokenLimiter{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK {
		t.Errorf("limiter failures must not block requests, got %d", w.Code)
	}
}

func TestDistributedRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "user:alice")
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := limiter.Allow(ctx, "user:alice"); ok {
		t.Error("fourth request should be limited")
	}
	if remaining, _ := limiter.Remaining(ctx, "user:alice"); remaining != 0 {
		t.Errorf("Remaining = %d, want 0", remaining)
	}
	if !mr.Exists("scribe:ratelimit:user:alice") {
		t.Error("expected counter under the default prefix")
	}

	ttl, err := limiter.TTL(ctx, "user:alice")
	if err != nil || ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v, err = %v", ttl, err)
	}

	mr.FastForward(2 * time.Minute)
	if ok, _ := limiter.Allow(ctx, "user:alice"); !ok {
		t.Error("a new window should start after expiry")
	}

	if err := limiter.Reset(ctx, "user:alice"); err != nil {
		t.Fatal(err)
	}
	if remaining, _ := limiter.Remaining(ctx, "user:alice"); remaining != 3 {
		t.Errorf("Remaining after reset = %d, want 3", remaining)
	}
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	mr.Close()

	limiter := NewDistributedRateLimiter(client, nil, "test")
	ok, err := limiter.Allow(context.Background(), "user:alice")
	if err == nil {
		t.Fatal("expected an error with redis down")
	}
	if !ok {
		t.Error("errors should fail open")
	}
}
