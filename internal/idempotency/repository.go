package idempotency

import (
	"sync"
	"time"
)

// InMemoryRepository is a map-backed Repository used in tests and in
// deployments that run without Postgres.
type InMemoryRepository struct {
	mu   sync.RWMutex
	keys map[string]*IdempotencyKey
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		keys: make(map[string]*IdempotencyKey),
	}
}

func (r *InMemoryRepository) Get(key string) (*IdempotencyKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.keys[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return copyKey(record), nil
}

func (r *InMemoryRepository) Store(record *IdempotencyKey) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keys[record.Key]; exists {
		return ErrKeyExists
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	r.keys[record.Key] = copyKey(record)
	return nil
}

func (r *InMemoryRepository) DeleteOlderThan(duration time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-duration)
	var deleted int64
	for key, record := range r.keys {
		if record.CreatedAt.Before(cutoff) {
			delete(r.keys, key)
			deleted++
		}
	}
	return deleted, nil
}

// copyKey isolates stored records from caller mutation, both on Store and
// on Get.
func copyKey(record *IdempotencyKey) *IdempotencyKey {
	if record == nil {
		return nil
	}
	copied := *record
	if record.ReportID != nil {
		reportID := *record.ReportID
		copied.ReportID = &reportID
	}
	return &copied
}
