// Package api provides HTTP handlers for the Vigil API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/vigil-app/vigil/internal/broadcast"
	"github.com/vigil-app/vigil/internal/geo"
	"github.com/vigil-app/vigil/internal/middleware"
	"github.com/vigil-app/vigil/internal/report"
)

// Recent feed pagination bounds.
const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

// ReportHandlers holds dependencies for incident report HTTP handlers.
type ReportHandlers struct {
	store       report.Store
	broadcaster *broadcast.Broadcaster
	now         func() time.Time
}

// NewReportHandlers creates a new ReportHandlers instance.
// broadcaster is optional and can be nil if live monitoring is not wired.
func NewReportHandlers(store report.Store, broadcaster *broadcast.Broadcaster) *ReportHandlers {
	return &ReportHandlers{
		store:       store,
		broadcaster: broadcaster,
		now:         time.Now,
	}
}

// UpdateStatusRequest represents the request body for a status transition.
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// ReportsResponse wraps a list of reports.
type ReportsResponse struct {
	Reports []*report.Report `json:"reports"`
	Count   int              `json:"count"`
}

// CreateReport handles POST /api/v1/reports - validates and persists a new
// incident report, then pushes it to live monitoring connections.
func (h *ReportHandlers) CreateReport(w http.ResponseWriter, r *http.Request) {
	var sub report.Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	// Attach the authenticated reporter when present. Anonymous submissions
	// still record the reporter internally; redaction strips it on reads.
	sub.ReporterID = middleware.GetUserID(r.Context())

	rec, err := report.Validate(sub, h.now())
	if err != nil {
		var verr *report.ValidationError
		if errors.As(err, &verr) {
			code := validationErrorCode(verr.Code)
			ctx := middleware.SetErrorCode(r.Context(), code)
			WriteError(w, ctx, http.StatusBadRequest, code, verr.Message)
			return
		}
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}

	id, err := h.store.Create(r.Context(), rec)
	if err != nil {
		slog.ErrorContext(r.Context(), "failed to persist report", "error", err)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to create report")
		return
	}
	rec.ID = id

	// The record is durable at this point; broadcast failures only affect
	// individual monitoring connections, never this response.
	if h.broadcaster != nil {
		h.broadcaster.Broadcast(rec)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(rec.Redacted()); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode report response", "error", err, "report_id", id)
	}
}

// QueryRadius handles GET /api/v1/reports/radius/{lat}/{lng}/{distance} -
// returns all reports within the given great-circle distance (km) of the
// center. The public path is latitude-first; conversion to the
// longitude-first internal point happens here and nowhere else.
func (h *ReportHandlers) QueryRadius(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/reports/radius/"), "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Path must be /api/v1/reports/radius/{lat}/{lng}/{distance}")
		return
	}

	lat, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidCoordinates)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidCoordinates, "latitude must be a valid number")
		return
	}
	lng, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidCoordinates)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidCoordinates, "longitude must be a valid number")
		return
	}
	radiusKm, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidRadius)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidRadius, "distance must be a valid number")
		return
	}

	center := geo.Point{Longitude: lng, Latitude: lat}
	if err := center.Validate(); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidCoordinates)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidCoordinates, err.Error())
		return
	}

	reports, err := h.store.QueryRadius(r.Context(), center, radiusKm)
	if err != nil {
		if errors.Is(err, report.ErrInvalidRadius) {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidRadius)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidRadius, err.Error())
			return
		}
		slog.ErrorContext(r.Context(), "radius query failed", "error", err,
			"lat", lat, "lng", lng, "radius_km", radiusKm)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to query reports")
		return
	}

	writeReports(w, r, redactAll(reports))
}

// QueryRecent handles GET /api/v1/reports/recent?limit=N - returns the most
// recently created reports, newest first.
func (h *ReportHandlers) QueryRecent(w http.ResponseWriter, r *http.Request) {
	limit := DefaultRecentLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := parseIntInRange(limitStr, "limit", 1, MaxRecentLimit)
		if err != nil {
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeValidation)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeValidation, err.Error())
			return
		}
		limit = parsed
	}

	reports, err := h.store.QueryRecent(r.Context(), limit)
	if err != nil {
		slog.ErrorContext(r.Context(), "recent query failed", "error", err, "limit", limit)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to query reports")
		return
	}

	writeReports(w, r, redactAll(reports))
}

// QueryByReporter handles GET /api/v1/reports/user - returns the
// authenticated user's own reports, newest first. Own reports are not
// redacted: the reporter is looking at their own submissions.
func (h *ReportHandlers) QueryByReporter(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == "" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeAuthFailed)
		WriteError(w, ctx, http.StatusUnauthorized, ErrCodeAuthFailed, "Authentication required")
		return
	}

	reports, err := h.store.QueryByReporter(r.Context(), userID)
	if err != nil {
		slog.ErrorContext(r.Context(), "reporter query failed", "error", err, "user_id", userID)
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
		WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to query reports")
		return
	}

	writeReports(w, r, reports)
}

// UpdateStatus handles PATCH /api/v1/reports/{id}/status - transitions a
// report's moderation status.
func (h *ReportHandlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/v1/reports/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "status" {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Path must be /api/v1/reports/{id}/status")
		return
	}
	reportID := parts[0]

	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeBadRequest)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeBadRequest, "Invalid JSON in request body")
		return
	}

	status := report.Status(strings.TrimSpace(req.Status))
	if !status.Valid() {
		ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidStatus)
		WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidStatus, "status must be one of: pending, under_investigation, resolved")
		return
	}

	if err := h.store.UpdateStatus(r.Context(), reportID, status); err != nil {
		switch {
		case errors.Is(err, report.ErrNotFound):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeReportNotFound)
			WriteError(w, ctx, http.StatusNotFound, ErrCodeReportNotFound, "Report not found")
		case errors.Is(err, report.ErrInvalidStatus):
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInvalidStatus)
			WriteError(w, ctx, http.StatusBadRequest, ErrCodeInvalidStatus, err.Error())
		default:
			slog.ErrorContext(r.Context(), "status update failed", "error", err, "report_id", reportID)
			ctx := middleware.SetErrorCode(r.Context(), ErrCodeInternal)
			WriteError(w, ctx, http.StatusInternalServerError, ErrCodeInternal, "Failed to update report status")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{"id": reportID, "status": string(status)}); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode status response", "error", err, "report_id", reportID)
	}
}

// parseIntInRange parses an integer from a string with range validation.
func parseIntInRange(s, fieldName string, min, max int) (int, error) {
	s = strings.TrimSpace(s)
	val, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer", fieldName)
	}
	if val < min || val > max {
		return 0, fmt.Errorf("%s must be between %d and %d", fieldName, min, max)
	}
	return val, nil
}

// validationErrorCode maps submission rejection codes to API error codes.
func validationErrorCode(code string) string {
	switch code {
	case report.CodeInvalidCoordinates:
		return ErrCodeInvalidCoordinates
	case report.CodeInvalidIncidentType:
		return ErrCodeInvalidReportType
	default:
		return ErrCodeValidation
	}
}

// redactAll redacts every report in the slice for external exposure.
func redactAll(reports []*report.Report) []*report.Report {
	out := make([]*report.Report, len(reports))
	for i, rec := range reports {
		out[i] = rec.Redacted()
	}
	return out
}

// writeReports writes the standard report list response.
func writeReports(w http.ResponseWriter, r *http.Request, reports []*report.Report) {
	if reports == nil {
		reports = []*report.Report{}
	}
	resp := ReportsResponse{Reports: reports, Count: len(reports)}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.ErrorContext(r.Context(), "failed to encode reports response", "error", err)
	}
}
