package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

func perMinute(n int) RateLimitConfig {
	return RateLimitConfig{RequestsPerWindow: n, WindowDuration: time.Minute}
}

func TestInMemoryStoreEnforcesLimit(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	ctx := context.Background()
	cfg := perMinute(3)

	for i := 0; i < 3; i++ {
		if allowed, _, _ := store.Allow(ctx, "reporter-1", cfg); !allowed {
			t.Fatalf("request %d blocked under the limit", i+1)
		}
	}
	if allowed, _, _ := store.Allow(ctx, "reporter-1", cfg); allowed {
		t.Error("request over the limit was allowed")
	}
}

func TestInMemoryStoreRetryAfter(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	ctx := context.Background()
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 10 * time.Second}

	allowed, remaining, retryAfter := store.Allow(ctx, "reporter-1", cfg)
	if !allowed || remaining != 0 || retryAfter != 0 {
		t.Fatalf("first request: allowed=%v remaining=%d retryAfter=%d", allowed, remaining, retryAfter)
	}

	allowed, _, retryAfter = store.Allow(ctx, "reporter-1", cfg)
	if allowed {
		t.Error("second request must be blocked")
	}
	if retryAfter <= 0 || retryAfter > 10 {
		t.Errorf("retryAfter = %d, want within (0, 10]", retryAfter)
	}
}

func TestInMemoryStoreKeysAreIndependent(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	ctx := context.Background()
	cfg := perMinute(1)

	for _, key := range []string{"reporter-1", "reporter-2"} {
		if allowed, _, _ := store.Allow(ctx, key, cfg); !allowed {
			t.Errorf("%s: first request blocked", key)
		}
		if allowed, _, _ := store.Allow(ctx, key, cfg); allowed {
			t.Errorf("%s: second request allowed", key)
		}
	}
}

func TestInMemoryStoreWindowExpiry(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	ctx := context.Background()
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 50 * time.Millisecond}

	store.Allow(ctx, "reporter-1", cfg)
	if allowed, _, _ := store.Allow(ctx, "reporter-1", cfg); allowed {
		t.Fatal("limit not enforced inside the window")
	}

	time.Sleep(60 * time.Millisecond)

	if allowed, _, _ := store.Allow(ctx, "reporter-1", cfg); !allowed {
		t.Error("request after window expiry blocked")
	}
}

func TestInMemoryStoreConcurrentCounts(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	ctx := context.Background()
	cfg := perMinute(100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, _, _ := store.Allow(ctx, "shared", cfg); allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount != 100 {
		t.Errorf("allowed %d of 200 concurrent requests, want exactly 100", allowedCount)
	}
}

func TestInMemoryStoreCleanupDropsExpiredBuckets(t *testing.T) {
	store := NewInMemoryRateLimitStore()
	ctx := context.Background()
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 50 * time.Millisecond}

	store.Allow(ctx, "reporter-1", cfg)
	store.Allow(ctx, "reporter-2", cfg)

	time.Sleep(60 * time.Millisecond)
	store.Cleanup()

	for _, key := range []string{"reporter-1", "reporter-2"} {
		if allowed, _, _ := store.Allow(ctx, key, cfg); !allowed {
			t.Errorf("%s: blocked after its bucket should have been purged", key)
		}
	}
}

func TestIPKeyFunc(t *testing.T) {
	keyFunc := IPKeyFunc()

	cases := []struct {
		name          string
		remoteAddr    string
		xForwardedFor string
		xRealIP       string
		want          string
	}{
		{"remote addr with port", "192.168.1.1:12345", "", "", "192.168.1.1"},
		{"remote addr bare", "192.168.1.1", "", "", "192.168.1.1"},
		{"forwarded-for wins", "10.0.0.1:12345", "203.0.113.50", "198.51.100.1", "203.0.113.50"},
		{"first hop of forwarded chain", "10.0.0.1:12345", "203.0.113.50, 198.51.100.1", "", "203.0.113.50"},
		{"real-ip fallback", "10.0.0.1:12345", "", "203.0.113.50", "203.0.113.50"},
		{"whitespace trimmed", "10.0.0.1:12345", "  203.0.113.50 , 10.0.0.1", "", "203.0.113.50"},
		{"ipv6 loopback", "[::1]:12345", "", "", "::1"},
		{"ipv6 global", "[2001:db8::1]:8080", "", "", "2001:db8::1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/recent", nil)
			req.RemoteAddr = tc.remoteAddr
			if tc.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tc.xForwardedFor)
			}
			if tc.xRealIP != "" {
				req.Header.Set("X-Real-IP", tc.xRealIP)
			}
			if got := keyFunc(req); got != tc.want {
				t.Errorf("key = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestUserKeyFuncPrefersAuthenticatedUser(t *testing.T) {
	keyFunc := UserKeyFunc()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	if got := keyFunc(req); got != "ip:192.168.1.1" {
		t.Errorf("anonymous key = %q, want ip:192.168.1.1", got)
	}

	req = req.WithContext(SetUserID(req.Context(), "user-123"))
	if got := keyFunc(req); got != "user:user-123" {
		t.Errorf("authenticated key = %q, want user:user-123", got)
	}
}

func limitedHandler(store RateLimitStore, cfg RateLimitConfig) http.Handler {
	return RateLimiter(store, cfg, IPKeyFunc(), nil)(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
}

func limitedRequest(handler http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/recent", nil)
	req.RemoteAddr = addr
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func TestRateLimiterAllowsThenBlocks(t *testing.T) {
	handler := limitedHandler(NewInMemoryRateLimitStore(), perMinute(10))

	for i := 0; i < 15; i++ {
		rr := limitedRequest(handler, "192.168.1.1:12345")
		want := http.StatusOK
		if i >= 10 {
			want = http.StatusTooManyRequests
		}
		if rr.Code != want {
			t.Errorf("request %d: status %d, want %d", i+1, rr.Code, want)
		}
	}
}

func TestRateLimiterResponseHeaders(t *testing.T) {
	handler := limitedHandler(NewInMemoryRateLimitStore(),
		RateLimitConfig{RequestsPerWindow: 1, WindowDuration: 30 * time.Second})

	limitedRequest(handler, "192.168.1.1:12345")
	rr := limitedRequest(handler, "192.168.1.1:12345")

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d, want 429", rr.Code)
	}

	retryAfter, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || retryAfter <= 0 || retryAfter > 30 {
		t.Errorf("Retry-After = %q, want integer in (0, 30]", rr.Header().Get("Retry-After"))
	}

	reset, err := strconv.ParseInt(rr.Header().Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		t.Fatalf("X-RateLimit-Reset = %q: %v", rr.Header().Get("X-RateLimit-Reset"), err)
	}
	now := time.Now().Unix()
	if reset <= now || reset > now+30 {
		t.Errorf("X-RateLimit-Reset = %d, want a future timestamp within 30s of %d", reset, now)
	}
}

func TestRateLimiterClientsIsolated(t *testing.T) {
	handler := limitedHandler(NewInMemoryRateLimitStore(), perMinute(5))

	for i := 0; i < 5; i++ {
		limitedRequest(handler, "192.168.1.1:12345")
	}
	if rr := limitedRequest(handler, "192.168.1.1:12345"); rr.Code != http.StatusTooManyRequests {
		t.Error("exhausted client not blocked")
	}
	if rr := limitedRequest(handler, "192.168.1.2:12345"); rr.Code != http.StatusOK {
		t.Error("fresh client blocked by another client's usage")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	handler := limitedHandler(NewInMemoryRateLimitStore(),
		RateLimitConfig{RequestsPerWindow: 2, WindowDuration: 50 * time.Millisecond})

	limitedRequest(handler, "192.168.1.1:12345")
	limitedRequest(handler, "192.168.1.1:12345")
	if rr := limitedRequest(handler, "192.168.1.1:12345"); rr.Code != http.StatusTooManyRequests {
		t.Fatal("third request in window not blocked")
	}

	time.Sleep(60 * time.Millisecond)

	if rr := limitedRequest(handler, "192.168.1.1:12345"); rr.Code != http.StatusOK {
		t.Error("request after window reset blocked")
	}
}

func TestDefaultLimits(t *testing.T) {
	cases := []struct {
		name string
		cfg  RateLimitConfig
		want int
	}{
		{"global", DefaultGlobalLimit(), 100},
		{"submit", DefaultSubmitLimit(), 10},
		{"query", DefaultQueryLimit(), 30},
	}
	for _, tc := range cases {
		if tc.cfg.RequestsPerWindow != tc.want {
			t.Errorf("%s limit = %d, want %d", tc.name, tc.cfg.RequestsPerWindow, tc.want)
		}
		if tc.cfg.WindowDuration != time.Minute {
			t.Errorf("%s window = %v, want 1m", tc.name, tc.cfg.WindowDuration)
		}
	}
}

func TestRateLimitConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     RateLimitConfig
		wantErr bool
	}{
		{"valid", perMinute(100), false},
		{"zero requests", perMinute(0), true},
		{"negative requests", perMinute(-1), true},
		{"zero window", RateLimitConfig{RequestsPerWindow: 100}, true},
		{"negative window", RateLimitConfig{RequestsPerWindow: 100, WindowDuration: -time.Second}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
