package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/vigil-app/vigil/internal/api"
)

func TestMethodHandlerDispatchesByMethod(t *testing.T) {
	h := methodHandler(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("get"))
		}),
		http.MethodPost: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("post"))
		}),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/contacts", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "get" {
		t.Errorf("GET dispatched wrong: status %d body %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/contacts", nil))
	if rec.Code != http.StatusCreated || rec.Body.String() != "post" {
		t.Errorf("POST dispatched wrong: status %d body %q", rec.Code, rec.Body.String())
	}
}

func TestMethodHandlerRejectsUnconfiguredMethod(t *testing.T) {
	h := methodHandler(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/reports/recent", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); allow != http.MethodGet {
		t.Errorf("expected Allow: GET, got %q", allow)
	}

	var resp api.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("error body is not JSON: %v", err)
	}
	if resp.Error.Code != api.ErrCodeBadRequest {
		t.Errorf("expected error code %q, got %q", api.ErrCodeBadRequest, resp.Error.Code)
	}
}

func TestMethodHandlerAllowListsAllConfiguredMethods(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := methodHandler(map[string]http.Handler{
		http.MethodPut:    ok,
		http.MethodDelete: ok,
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/contacts/abc", nil))

	allow := rec.Header().Get("Allow")
	for _, method := range []string{http.MethodPut, http.MethodDelete} {
		if !strings.Contains(allow, method) {
			t.Errorf("Allow header %q missing %s", allow, method)
		}
	}
}

func TestCORSConfigParsesOriginList(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://app.vigil.example , https://staging.vigil.example ,,")

	cfg := corsConfig()

	want := []string{"https://app.vigil.example", "https://staging.vigil.example"}
	if len(cfg.AllowedOrigins) != len(want) {
		t.Fatalf("expected %d origins, got %v", len(want), cfg.AllowedOrigins)
	}
	for i, o := range want {
		if cfg.AllowedOrigins[i] != o {
			t.Errorf("origin %d: expected %q, got %q", i, o, cfg.AllowedOrigins[i])
		}
	}
	if !cfg.AllowCredentials {
		t.Error("expected credentials to be allowed")
	}

	// Retried submissions carry an Idempotency-Key header, so the
	// preflight allowlist has to include it.
	found := false
	for _, h := range cfg.AllowedHeaders {
		if h == "Idempotency-Key" {
			found = true
		}
	}
	if !found {
		t.Errorf("Idempotency-Key missing from allowed headers: %v", cfg.AllowedHeaders)
	}
}

func TestCORSConfigEmptyEnvDisablesCORS(t *testing.T) {
	t.Setenv("CORS_ALLOWED_ORIGINS", "")

	cfg := corsConfig()
	if len(cfg.AllowedOrigins) != 0 {
		t.Errorf("expected no origins without configuration, got %v", cfg.AllowedOrigins)
	}
}

func TestRedisCheckerOptional(t *testing.T) {
	if c := redisChecker(nil); c != nil {
		t.Error("expected nil checker when Redis is not configured")
	}

	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()
	if c := redisChecker(client); c == nil {
		t.Error("expected a checker for a configured client")
	}
}
