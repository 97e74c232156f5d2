// Package middleware provides HTTP middleware components for the API server.
package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/vigil-app/vigil/internal/idempotency"
)

// IdempotencyKeyHeader carries the client-chosen retry key.
const IdempotencyKeyHeader = "Idempotency-Key"

type idempotencyKeyContextKey struct{}

// idempotencyResponseWriter tees the response body so a successful reply can
// be cached against the key.
type idempotencyResponseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
	written    bool
}

func newIdempotencyResponseWriter(w http.ResponseWriter) *idempotencyResponseWriter {
	return &idempotencyResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

func (w *idempotencyResponseWriter) WriteHeader(statusCode int) {
	if !w.written {
		w.statusCode = statusCode
		w.written = true
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

// UpdateContext forwards a replacement context to the wrapped writer.
func (w *idempotencyResponseWriter) UpdateContext(ctx context.Context) {
	UpdateResponseContext(w.ResponseWriter, ctx)
}

func (w *idempotencyResponseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.body.Write(b)
	return n, err
}

// SetIdempotencyKey stores the idempotency key in the context.
func SetIdempotencyKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, idempotencyKeyContextKey{}, key)
}

// GetIdempotencyKey returns the key set by the middleware, or "" when the
// request carried none.
func GetIdempotencyKey(ctx context.Context) string {
	key, _ := ctx.Value(idempotencyKeyContextKey{}).(string)
	return key
}

func writeIdempotencyError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	io.WriteString(w, `{"error":"`+code+`","message":"`+message+`"}`)
}

// IdempotencyMiddleware enforces Idempotency-Key on POSTs to the configured
// routes. A repeated key replays the cached response; a first-seen key runs
// the handler and caches any 2xx reply. Repository failures degrade to
// running the handler without the guarantee rather than rejecting the
// submission.
func IdempotencyMiddleware(repo idempotency.Repository, routes map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !routes[r.URL.Path] || r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Header.Get(IdempotencyKeyHeader)
			if key == "" {
				writeIdempotencyError(w, http.StatusBadRequest, "missing_idempotency_key", "Idempotency-Key header is required for this request")
				return
			}
			if err := idempotency.ValidateKey(key); err != nil {
				if err == idempotency.ErrKeyTooLong {
					writeIdempotencyError(w, http.StatusBadRequest, "idempotency_key_too_long", "Idempotency-Key exceeds maximum length of 64 characters")
				} else {
					writeIdempotencyError(w, http.StatusBadRequest, "invalid_idempotency_key", "Invalid Idempotency-Key format")
				}
				return
			}

			ctx := SetIdempotencyKey(r.Context(), key)
			r = r.WithContext(ctx)

			existing, err := repo.Get(key)
			if err == nil {
				slog.InfoContext(ctx, "replaying cached response for idempotency key",
					"key", key,
					"status", existing.ResponseStatusCode,
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(existing.ResponseStatusCode)
				io.WriteString(w, existing.ResponseBody)
				return
			}
			if err != idempotency.ErrKeyNotFound {
				slog.ErrorContext(ctx, "idempotency key lookup failed", "key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			capture := newIdempotencyResponseWriter(w)
			next.ServeHTTP(capture, r)

			// Errors are not cached: a retry after a 5xx should run again.
			if capture.statusCode < 200 || capture.statusCode >= 300 {
				return
			}

			body := capture.body.String()
			record := &idempotency.IdempotencyKey{
				Key:                key,
				Method:             r.Method,
				Route:              r.URL.Path,
				ResponseHash:       idempotency.ComputeResponseHash(body),
				Status:             idempotency.StatusCompleted,
				ResponseBody:       body,
				ResponseStatusCode: capture.statusCode,
			}
			if err := repo.Store(record); err != nil {
				// Response is already on the wire; the key just loses its guarantee.
				slog.ErrorContext(ctx, "failed to store idempotency key", "key", key, "error", err)
				return
			}
			slog.InfoContext(ctx, "stored idempotency key", "key", key, "status", capture.statusCode)
		})
	}
}
