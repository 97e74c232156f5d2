// Package health provides dependency checks backing the readiness endpoint.
package health

import (
	"context"
	"database/sql"
)

// DBChecker reports whether the report database is reachable.
type DBChecker struct {
	db *sql.DB
}

// NewDBChecker wraps an open database handle in a checker.
func NewDBChecker(db *sql.DB) *DBChecker {
	return &DBChecker{db: db}
}

// HealthCheck pings the database, re-establishing the connection if needed.
func (d *DBChecker) HealthCheck(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
