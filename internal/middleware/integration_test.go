package middleware_test

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vigil-app/vigil/internal/middleware"
)

// The server wires RequestID outermost so every log line carries the same
// ID the client sees on the response. These tests run the chain the way
// cmd/api assembles it.

func TestChainRequestIDReachesLogs(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if middleware.GetRequestID(r.Context()) == "" {
			t.Error("request ID missing inside the handler")
		}
		w.WriteHeader(http.StatusOK)
	})

	chain := middleware.RequestID(middleware.Logging(logger)(handler))

	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/reports/recent", nil))

	responseID := rr.Header().Get("X-Request-ID")
	if responseID == "" {
		t.Fatal("no X-Request-ID on the response")
	}
	if !strings.Contains(logBuf.String(), responseID) {
		t.Errorf("log line does not carry the response's request ID %q:\n%s", responseID, logBuf.String())
	}
}

func TestChainClientRequestIDRoundTrips(t *testing.T) {
	const clientID = "mobile-retry-42"
	var seenInHandler string

	chain := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenInHandler = middleware.GetRequestID(r.Context())
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", nil)
	req.Header.Set("X-Request-ID", clientID)
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, req)

	if seenInHandler != clientID {
		t.Errorf("handler saw %q, want %q", seenInHandler, clientID)
	}
	if got := rr.Header().Get("X-Request-ID"); got != clientID {
		t.Errorf("response carries %q, want %q", got, clientID)
	}
}

func TestChainLogsRequestFields(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	chain := middleware.RequestID(middleware.Logging(logger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/reports/user", nil))

	logOutput := logBuf.String()
	for _, field := range []string{
		"method=GET",
		"path=/api/v1/reports/user",
		"status=200",
		"request_id=",
	} {
		if !strings.Contains(logOutput, field) {
			t.Errorf("log missing %q:\n%s", field, logOutput)
		}
	}
}

func TestChainWithCORS(t *testing.T) {
	cors := middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: []string{"https://app.vigil.example"},
		AllowedMethods: []string{"GET"},
		AllowedHeaders: []string{"Content-Type"},
	})
	chain := middleware.RequestID(cors(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/recent", nil)
	req.Header.Set("Origin", "https://untrusted.example")
	rr := httptest.NewRecorder()
	chain.ServeHTTP(rr, req)

	// CORS rejection still gets a request ID for correlation.
	if rr.Code != http.StatusForbidden {
		t.Errorf("status %d, want 403", rr.Code)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("rejected request missing X-Request-ID")
	}
}

func BenchmarkRequestIDGeneration(b *testing.B) {
	chain := middleware.RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/recent", nil)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		chain.ServeHTTP(httptest.NewRecorder(), req)
	}
}
