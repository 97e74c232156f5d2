package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func corsTestConfig() CORSConfig {
	return CORSConfig{
		AllowedOrigins:   []string{"https://app.vigil.example", "http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PATCH"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}
}

func corsRequest(method, origin string) *http.Request {
	req := httptest.NewRequest(method, "/api/v1/reports", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	return req
}

func serveCORS(t *testing.T, cfg CORSConfig, req *http.Request) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	handler := CORS(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, reached
}

func TestCORSAllowedOrigin(t *testing.T) {
	for _, origin := range []string{"https://app.vigil.example", "http://localhost:3000"} {
		rr, reached := serveCORS(t, corsTestConfig(), corsRequest(http.MethodGet, origin))

		if !reached {
			t.Fatalf("%s: handler not reached", origin)
		}
		if got := rr.Header().Get("Access-Control-Allow-Origin"); got != origin {
			t.Errorf("%s: Allow-Origin = %q", origin, got)
		}
		if rr.Header().Get("Access-Control-Allow-Credentials") != "true" {
			t.Errorf("%s: credentials header missing", origin)
		}
	}
}

func TestCORSUnknownOriginRejected(t *testing.T) {
	rr, reached := serveCORS(t, corsTestConfig(), corsRequest(http.MethodGet, "https://evil.example"))

	if reached {
		t.Error("handler reached for disallowed origin")
	}
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Allow-Origin leaked on rejection")
	}
}

func TestCORSEmptyConfigPassesThrough(t *testing.T) {
	rr, reached := serveCORS(t, CORSConfig{}, corsRequest(http.MethodGet, "https://anywhere.example"))

	if !reached || rr.Code != http.StatusOK {
		t.Fatalf("expected pass-through with CORS disabled, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("CORS headers set while disabled")
	}
}

func TestCORSNoOriginHeaderIsSameOrigin(t *testing.T) {
	rr, reached := serveCORS(t, corsTestConfig(), corsRequest(http.MethodGet, ""))

	if !reached || rr.Code != http.StatusOK {
		t.Fatalf("expected same-origin pass-through, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("CORS headers set without an Origin header")
	}
}

func TestCORSPreflight(t *testing.T) {
	req := corsRequest(http.MethodOptions, "https://app.vigil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Idempotency-Key")

	rr, reached := serveCORS(t, corsTestConfig(), req)

	if reached {
		t.Error("preflight must not reach the handler")
	}
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, PATCH" {
		t.Errorf("Allow-Methods = %q", got)
	}
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, Authorization, Idempotency-Key" {
		t.Errorf("Allow-Headers = %q", got)
	}
	if got := rr.Header().Get("Access-Control-Max-Age"); got != "300" {
		t.Errorf("Max-Age = %q", got)
	}
}

func TestCORSPreflightUnknownOrigin(t *testing.T) {
	req := corsRequest(http.MethodOptions, "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", "POST")

	rr, reached := serveCORS(t, corsTestConfig(), req)

	if reached {
		t.Error("rejected preflight must not reach the handler")
	}
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestCORSCredentialsDisabled(t *testing.T) {
	cfg := corsTestConfig()
	cfg.AllowCredentials = false

	rr, _ := serveCORS(t, cfg, corsRequest(http.MethodGet, "https://app.vigil.example"))

	if rr.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("credentials header set while disabled")
	}
}

func TestCORSConfigOriginsNormalized(t *testing.T) {
	cfg := corsTestConfig()
	cfg.AllowedOrigins = []string{"  https://app.vigil.example  ", "", "http://localhost:3000"}

	rr, reached := serveCORS(t, cfg, corsRequest(http.MethodGet, "https://app.vigil.example"))

	if !reached || rr.Code != http.StatusOK {
		t.Fatalf("whitespace-padded origin not matched, got %d", rr.Code)
	}
}

func TestCORSVaryOnOrigin(t *testing.T) {
	rr, _ := serveCORS(t, corsTestConfig(), corsRequest(http.MethodGet, "https://app.vigil.example"))

	if got := rr.Header().Get("Vary"); got != "Origin" {
		t.Errorf("Vary = %q, want Origin", got)
	}
}
