// Package idempotency stores request keys and their cached responses so
// retried submissions replay the original outcome instead of running twice.
package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// Key lifecycle statuses. StatusCompleted is the only value written by this
// package today; StatusProcessing exists in the database CHECK constraint for
// a future in-flight marker, so keep the two lists in sync with the
// migrations.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
)

var (
	ErrKeyNotFound = errors.New("idempotency key not found")
	ErrKeyExists   = errors.New("idempotency key already exists")
	ErrInvalidKey  = errors.New("invalid idempotency key")
	ErrKeyTooLong  = errors.New("idempotency key exceeds maximum length of 64 characters")
)

// MaxKeyLength bounds client-supplied Idempotency-Key header values.
const MaxKeyLength = 64

// IdempotencyKey is a stored key together with the response it replays.
type IdempotencyKey struct {
	Key                string    `json:"key"`
	Method             string    `json:"method"`
	Route              string    `json:"route"`
	CreatedAt          time.Time `json:"created_at"`
	ReportID           *string   `json:"report_id,omitempty"`
	ResponseHash       string    `json:"response_hash"`
	Status             string    `json:"status"`
	ResponseBody       string    `json:"response_body"`
	ResponseStatusCode int       `json:"response_status_code"`
}

// ValidateKey rejects empty keys and keys longer than MaxKeyLength.
func ValidateKey(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// ComputeResponseHash returns the hex SHA-256 of a response body. Stored
// alongside the body so a cached response can be integrity-checked before
// it is replayed.
func ComputeResponseHash(responseBody string) string {
	hash := sha256.Sum256([]byte(responseBody))
	return hex.EncodeToString(hash[:])
}

// Repository persists idempotency keys.
type Repository interface {
	// Get returns ErrKeyNotFound when the key has never been stored.
	Get(key string) (*IdempotencyKey, error)

	// Store returns ErrKeyExists on a duplicate key.
	Store(record *IdempotencyKey) error

	// DeleteOlderThan drops keys past their retention window and reports
	// how many were removed.
	DeleteOlderThan(duration time.Duration) (int64, error)
}
