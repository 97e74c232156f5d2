// Package db opens the PostgreSQL connection pool and verifies the
// PostGIS extension the report store depends on.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// VersionQuery asks PostGIS for its version string. It fails on a
// database where the extension is missing, which makes it a cheap
// capability check.
const VersionQuery = "SELECT PostGIS_Version()"

// Pool sizing for the API server. 25 connections stays under the
// default Postgres limit with headroom for migrations and psql.
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = 5 * time.Minute
)

// Open opens the connection pool with the server's pool settings.
// It does not dial; the first query does.
func Open(databaseURL string) (*sql.DB, error) {
	pool, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	pool.SetMaxOpenConns(maxOpenConns)
	pool.SetMaxIdleConns(maxIdleConns)
	pool.SetConnMaxLifetime(connMaxLifetime)
	return pool, nil
}

// VerifyPostGIS checks that the database is reachable and has PostGIS
// installed, returning the extension version. Radius queries need
// PostGIS; failing fast here beats a cryptic SQL error on the first
// report query.
func VerifyPostGIS(ctx context.Context, pool *sql.DB) (string, error) {
	var version string
	if err := pool.QueryRowContext(ctx, VersionQuery).Scan(&version); err != nil {
		return "", fmt.Errorf("postgis check (is the extension installed?): %w", err)
	}
	return version, nil
}
