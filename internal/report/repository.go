package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/vigil-app/vigil/internal/geo"
)

// Common errors for report store operations.
var (
	// ErrNotFound is returned when a report does not exist.
	ErrNotFound = errors.New("report not found")

	// ErrInvalidRadius is returned when a radius query carries a malformed
	// radius: negative, zero, or beyond half the earth's circumference.
	// Rejected before touching storage, never silently clamped.
	ErrInvalidRadius = errors.New("radius must be positive and at most half the earth's circumference")

	// ErrInvalidLimit is returned when a recent query carries a non-positive limit.
	ErrInvalidLimit = errors.New("limit must be positive")

	// ErrInvalidStatus is returned when a status update carries an unknown status.
	ErrInvalidStatus = errors.New("unknown report status")
)

// PersistenceError wraps a storage failure. Creation is never partially
// applied: either the record is fully persisted and indexed, or the caller
// receives this error.
type PersistenceError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("report store: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying storage error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store defines the report store contract. Implementations must guarantee
// that a concurrent reader never observes a half-indexed record, and that
// independent creates do not block each other.
type Store interface {
	// Create persists a validated record, assigning its ID and CreatedAt.
	// The assigned ID is returned; storage failures surface as *PersistenceError.
	Create(ctx context.Context, r *Report) (string, error)

	// QueryRadius returns all non-address-only reports within radiusKm
	// great-circle distance of center. Result order is unspecified.
	QueryRadius(ctx context.Context, center geo.Point, radiusKm float64) ([]*Report, error)

	// QueryRecent returns the limit most recently created reports, newest
	// first, ties broken by insertion order.
	QueryRecent(ctx context.Context, limit int) ([]*Report, error)

	// QueryByReporter returns all reports submitted by the given user,
	// newest first.
	QueryByReporter(ctx context.Context, reporterID string) ([]*Report, error)

	// UpdateStatus transitions a report's moderation status. Status is not
	// part of the geospatial key, so no re-indexing happens.
	UpdateStatus(ctx context.Context, id string, status Status) error
}

// validateRadius rejects malformed radii before any storage access.
func validateRadius(radiusKm float64) error {
	if radiusKm <= 0 || radiusKm > geo.MaxRadiusKm {
		return ErrInvalidRadius
	}
	return nil
}

// PostgresStore implements Store on PostgreSQL with PostGIS. The location
// column is a geography point (longitude first) with a GiST index, and radius
// queries run on the sphere so results match great-circle distance rather
// than a flat Euclidean radius.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

const reportColumns = `
	id, incident_type, title, description,
	ST_X(location::geometry), ST_Y(location::geometry), address, address_only,
	date_time, media, suspect_description, witness_details,
	anonymous, reporter_id, status, created_at`

// Create persists a validated record in a single INSERT, so insert and index
// visibility are atomic and concurrent creates never block each other.
func (s *PostgresStore) Create(ctx context.Context, r *Report) (string, error) {
	id := uuid.New().String()

	// ST_MakePoint takes longitude first; address-only reports store NULL
	// and never match the spatial predicate.
	query := `
		INSERT INTO reports (
			id, incident_type, title, description,
			location, address, address_only,
			date_time, media, suspect_description, witness_details,
			anonymous, reporter_id, status, created_at
		) VALUES (
			$1, $2, $3, $4,
			CASE WHEN $7 THEN NULL
			     ELSE ST_SetSRID(ST_MakePoint($5, $6), 4326)::geography END,
			$8, $7, $9, $10, $11, $12, $13, $14, $15, NOW()
		)
		RETURNING created_at`

	var createdAt time.Time
	err := s.db.QueryRowContext(ctx, query,
		id, r.IncidentType, r.Title, r.Description,
		r.Location.Point.Longitude, r.Location.Point.Latitude,
		r.Location.AddressOnly, r.Location.Address,
		r.DateTime, pq.Array(r.Media), r.SuspectDescription, r.WitnessDetails,
		r.Anonymous, nullString(r.ReporterID), r.Status,
	).Scan(&createdAt)
	if err != nil {
		s.logger.Error("failed to insert report",
			slog.String("error", err.Error()),
			slog.String("incident_type", string(r.IncidentType)))
		return "", &PersistenceError{Op: "create", Err: err}
	}

	r.ID = id
	r.CreatedAt = createdAt
	return id, nil
}

// postgisSphereRadiusM is the mean earth radius, in meters, that PostGIS
// uses for geography math with use_spheroid=false. It differs from
// geo.EarthRadiusKm, so the query radius is carried as an angular radius
// and rescaled onto the PostGIS sphere; scaling radiusKm by 1000 directly
// would shift the boundary by about 0.11%.
const postgisSphereRadiusM = 6371008.8

func radiusToSphereMeters(radiusKm float64) float64 {
	return geo.AngularRadius(radiusKm) * postgisSphereRadiusM
}

// QueryRadius returns all reports whose location lies within radiusKm
// great-circle distance of center. The radius is converted through the
// spherical-cap angular radius and evaluated on the sphere
// (use_spheroid=false), matching the reference haversine distance.
func (s *PostgresStore) QueryRadius(ctx context.Context, center geo.Point, radiusKm float64) ([]*Report, error) {
	if err := validateRadius(radiusKm); err != nil {
		return nil, err
	}
	if err := center.Validate(); err != nil {
		return nil, err
	}

	radiusMeters := radiusToSphereMeters(radiusKm)

	query := `
		SELECT ` + reportColumns + `
		FROM reports
		WHERE NOT address_only
		  AND ST_DWithin(location, ST_SetSRID(ST_MakePoint($1, $2), 4326)::geography, $3, false)`

	rows, err := s.db.QueryContext(ctx, query, center.Longitude, center.Latitude, radiusMeters)
	if err != nil {
		return nil, &PersistenceError{Op: "query radius", Err: err}
	}
	defer rows.Close()

	return scanReports(rows)
}

// QueryRecent returns the limit newest reports, created_at descending with
// the sequence column as tie-breaker so same-timestamp inserts keep their
// insertion order.
func (s *PostgresStore) QueryRecent(ctx context.Context, limit int) ([]*Report, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	query := `
		SELECT ` + reportColumns + `
		FROM reports
		ORDER BY created_at DESC, seq ASC
		LIMIT $1`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, &PersistenceError{Op: "query recent", Err: err}
	}
	defer rows.Close()

	return scanReports(rows)
}

// QueryByReporter returns all reports submitted by the given user, newest first.
func (s *PostgresStore) QueryByReporter(ctx context.Context, reporterID string) ([]*Report, error) {
	query := `
		SELECT ` + reportColumns + `
		FROM reports
		WHERE reporter_id = $1
		ORDER BY created_at DESC, seq ASC`

	rows, err := s.db.QueryContext(ctx, query, reporterID)
	if err != nil {
		return nil, &PersistenceError{Op: "query by reporter", Err: err}
	}
	defer rows.Close()

	return scanReports(rows)
}

// UpdateStatus transitions a report's moderation status.
func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE reports SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return &PersistenceError{Op: "update status", Err: err}
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return &PersistenceError{Op: "update status", Err: err}
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// scanReports reads report rows into records.
func scanReports(rows *sql.Rows) ([]*Report, error) {
	var reports []*Report
	for rows.Next() {
		var (
			r          Report
			lng, lat   sql.NullFloat64
			reporterID sql.NullString
			media      pq.StringArray
		)
		err := rows.Scan(
			&r.ID, &r.IncidentType, &r.Title, &r.Description,
			&lng, &lat, &r.Location.Address, &r.Location.AddressOnly,
			&r.DateTime, &media, &r.SuspectDescription, &r.WitnessDetails,
			&r.Anonymous, &reporterID, &r.Status, &r.CreatedAt,
		)
		if err != nil {
			return nil, &PersistenceError{Op: "scan report", Err: err}
		}
		if lng.Valid && lat.Valid {
			r.Location.Point = geo.Point{Longitude: lng.Float64, Latitude: lat.Float64}
		}
		r.ReporterID = reporterID.String
		r.Media = []string(media)
		reports = append(reports, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "iterate reports", Err: err}
	}
	return reports, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// InMemoryStore is an in-memory implementation of Store. Radius matching uses
// the reference haversine distance. Thread-safe via RWMutex; used for testing
// and development.
type InMemoryStore struct {
	mu      sync.RWMutex
	reports []*Report
	byID    map[string]*Report
	now     func() time.Time
}

// NewInMemoryStore creates an empty in-memory report store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		byID: make(map[string]*Report),
		now:  time.Now,
	}
}

// SetNowFunc overrides the clock used for CreatedAt. Test hook.
func (s *InMemoryStore) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Create stores a copy of the record. The record only becomes visible to
// readers once fully populated, because insertion happens under the write lock.
func (s *InMemoryStore) Create(ctx context.Context, r *Report) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *r
	stored.ID = uuid.New().String()
	stored.CreatedAt = s.now()
	stored.Media = append([]string(nil), r.Media...)

	s.reports = append(s.reports, &stored)
	s.byID[stored.ID] = &stored

	r.ID = stored.ID
	r.CreatedAt = stored.CreatedAt
	return stored.ID, nil
}

// QueryRadius returns all reports within radiusKm great-circle distance of center.
func (s *InMemoryStore) QueryRadius(ctx context.Context, center geo.Point, radiusKm float64) ([]*Report, error) {
	if err := validateRadius(radiusKm); err != nil {
		return nil, err
	}
	if err := center.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Report
	for _, r := range s.reports {
		if r.Location.AddressOnly {
			continue
		}
		if geo.Haversine(center, r.Location.Point) <= radiusKm {
			out = append(out, copyReport(r))
		}
	}
	return out, nil
}

// QueryRecent returns the limit newest reports. The backing slice is in
// insertion order, so a stable sort on CreatedAt keeps insertion order
// among equal timestamps.
func (s *InMemoryStore) QueryRecent(ctx context.Context, limit int) ([]*Report, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := make([]*Report, len(s.reports))
	copy(sorted, s.reports)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	if limit > len(sorted) {
		limit = len(sorted)
	}
	out := make([]*Report, 0, limit)
	for _, r := range sorted[:limit] {
		out = append(out, copyReport(r))
	}
	return out, nil
}

// QueryByReporter returns all reports submitted by the given user, newest
// first. Ordering matches QueryRecent: CreatedAt descending with insertion
// order breaking ties, the same contract the SQL store's (created_at, seq)
// sort provides. Insertion order alone is not enough, since the clock can
// be overridden to non-monotonic values.
func (s *InMemoryStore) QueryByReporter(ctx context.Context, reporterID string) ([]*Report, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Report
	for _, r := range s.reports {
		if r.ReporterID == reporterID {
			out = append(out, copyReport(r))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateStatus transitions a report's moderation status.
func (s *InMemoryStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	if !status.Valid() {
		return ErrInvalidStatus
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	return nil
}

// Len returns the number of stored reports.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

func copyReport(r *Report) *Report {
	out := *r
	out.Media = append([]string(nil), r.Media...)
	return &out
}
