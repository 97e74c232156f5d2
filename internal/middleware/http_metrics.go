package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Static routes pass through normalizePath unchanged.
var staticRoutes = map[string]bool{
	"/":                      true,
	"/api/v1/reports":        true,
	"/api/v1/reports/recent": true,
	"/api/v1/reports/user":   true,
	"/api/v1/contacts":       true,
	"/api/v1/monitor":        true,
	"/health":                true,
	"/ready":                 true,
	"/metrics":               true,
}

// normalizePath collapses dynamic path segments into route patterns so the
// path label stays bounded. /api/v1/reports/radius/19.07/72.87/5 becomes
// /api/v1/reports/radius/{lat}/{lng}/{distance}; every report ID becomes
// {id}. Unknown paths pass through unchanged.
func normalizePath(path string) string {
	if staticRoutes[path] {
		return path
	}

	segments := strings.Split(path, "/")

	if strings.HasPrefix(path, "/api/v1/reports/") {
		switch {
		case len(segments) == 7 && segments[4] == "radius":
			return "/api/v1/reports/radius/{lat}/{lng}/{distance}"
		case len(segments) == 6 && segments[5] == "status":
			return "/api/v1/reports/{id}/status"
		case len(segments) == 5 && segments[4] != "":
			return "/api/v1/reports/{id}"
		}
	}

	if strings.HasPrefix(path, "/api/v1/contacts/") {
		switch {
		case len(segments) == 6 && segments[5] == "primary":
			return "/api/v1/contacts/{id}/primary"
		case len(segments) == 5 && segments[4] != "":
			return "/api/v1/contacts/{id}"
		}
	}

	return path
}

// metricsResponseWriter captures the status code and body size as the
// handler writes the response.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

// HTTPMetrics records duration, size, and count for every request under
// the normalized path label. /health and /ready are skipped: orchestrator
// checks hit them constantly and would drown out real traffic.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			var requestSize int64
			if cl := r.Header.Get("Content-Length"); cl != "" {
				if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
					requestSize = n
				}
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)
			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
