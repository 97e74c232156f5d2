package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func benchHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
}

func benchWrapped(b *testing.B) http.Handler {
	b.Helper()
	m := NewMetrics()
	if err := m.Register(prometheus.NewRegistry()); err != nil {
		b.Fatalf("Register: %v", err)
	}
	return HTTPMetrics(m)(benchHandler())
}

func BenchmarkHTTPMetricsOverhead(b *testing.B) {
	b.Run("baseline", func(b *testing.B) {
		handler := benchHandler()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/recent", nil)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			handler.ServeHTTP(httptest.NewRecorder(), req)
		}
	})
	b.Run("instrumented", func(b *testing.B) {
		wrapped := benchWrapped(b)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/recent", nil)
		b.ResetTimer()
		for i := 0; i < b.N; i++ {
			wrapped.ServeHTTP(httptest.NewRecorder(), req)
		}
	})
}

func BenchmarkHTTPMetricsHealthExclusion(b *testing.B) {
	wrapped := benchWrapped(b)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		wrapped.ServeHTTP(httptest.NewRecorder(), req)
	}
}

func BenchmarkHTTPMetricsPathMix(b *testing.B) {
	wrapped := benchWrapped(b)
	paths := []string{
		"/api/v1/reports",
		"/api/v1/reports/recent",
		"/api/v1/reports/550e8400-e29b-41d4-a716-446655440000",
		"/api/v1/contacts",
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, paths[i%len(paths)], nil)
		wrapped.ServeHTTP(httptest.NewRecorder(), req)
	}
}
