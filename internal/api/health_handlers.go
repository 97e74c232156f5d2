package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/vigil-app/vigil/internal/middleware"
)

// HealthChecker is implemented by dependencies that can report whether
// they are reachable (database pool, redis client).
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

const readyCheckTimeout = 5 * time.Second

// HealthHandlers serves the liveness and readiness endpoints.
type HealthHandlers struct {
	dbChecker      HealthChecker
	redisChecker   HealthChecker
	metricsEnabled bool
}

// HealthHandlersConfig configures the health endpoints. Nil checkers are
// treated as "not configured" and report ok, since the server runs with
// in-memory fallbacks in that case.
type HealthHandlersConfig struct {
	DBChecker      HealthChecker
	RedisChecker   HealthChecker
	MetricsEnabled bool
}

func NewHealthHandlers(config HealthHandlersConfig) *HealthHandlers {
	return &HealthHandlers{
		dbChecker:      config.DBChecker,
		redisChecker:   config.RedisChecker,
		metricsEnabled: config.MetricsEnabled,
	}
}

// HealthResponse is the health endpoint response body.
type HealthResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Health handles GET /health. Liveness only: if the process can answer,
// it is alive.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	writeHealthJSON(w, http.StatusOK, "healthy", map[string]string{"runtime": "ok"})
}

// Ready handles GET /ready. Checks each configured dependency and
// returns 503 when any of them is unreachable, so the load balancer
// stops routing traffic here until it recovers.
func (h *HealthHandlers) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusMethodNotAllowed, ErrCodeBadRequest, "Method not allowed")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyCheckTimeout)
	defer cancel()

	checks := map[string]string{"metrics": "ok"}
	ready := true
	ready = checkDependency(ctx, "database", h.dbChecker, checks) && ready
	ready = checkDependency(ctx, "redis", h.redisChecker, checks) && ready

	status, code := "healthy", http.StatusOK
	if !ready {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	writeHealthJSON(w, code, status, checks)
}

// checkDependency records the checker's result under name. A nil checker
// counts as ok.
func checkDependency(ctx context.Context, name string, checker HealthChecker, checks map[string]string) bool {
	if checker == nil {
		checks[name] = "ok"
		return true
	}
	if err := checker.HealthCheck(ctx); err != nil {
		checks[name] = "error"
		slog.WarnContext(ctx, "readiness check failed", "dependency", name, "error", err)
		return false
	}
	checks[name] = "ok"
	return true
}

func writeHealthJSON(w http.ResponseWriter, statusCode int, status string, checks map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	resp := HealthResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("failed to encode health response", "error", err)
	}
}
