package idempotency

import (
	"log/slog"
	"time"

	"github.com/vigil-app/vigil/internal/jobs"
)

// DefaultExpiry is how long a stored key keeps replaying its response.
// After 24 hours a retry is treated as a new submission.
const DefaultExpiry = 24 * time.Hour

// CleanupOldKeys deletes keys older than expiry and returns how many went.
func CleanupOldKeys(repo Repository, expiry time.Duration) (int64, error) {
	deleted, err := repo.DeleteOlderThan(expiry)
	if err != nil {
		slog.Error("failed to cleanup old idempotency keys", "error", err)
		return 0, err
	}
	if deleted > 0 {
		slog.Info("cleaned up old idempotency keys", "deleted", deleted, "older_than", expiry)
	}
	return deleted, nil
}

// RunPeriodicCleanup runs CleanupOldKeys once immediately and then on every
// tick of interval until stopChan closes. It blocks; run it in a goroutine.
// A nil metrics skips job instrumentation.
func RunPeriodicCleanup(repo Repository, interval, expiry time.Duration, stopChan <-chan struct{}, metrics *jobs.Metrics) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	run := func() {
		start := time.Now()
		_, err := CleanupOldKeys(repo, expiry)
		if metrics != nil {
			metrics.ObserveJobDuration(jobs.JobTypeIdempotencyCleanup, time.Since(start).Seconds())
			status := jobs.StatusSuccess
			if err != nil {
				status = jobs.StatusFailure
				metrics.IncJobErrors(jobs.JobTypeIdempotencyCleanup, "repository_error")
			}
			metrics.IncJobsTotal(jobs.JobTypeIdempotencyCleanup, status)
		}
		if err != nil {
			slog.Error("periodic cleanup failed", "error", err)
		}
	}

	run()
	for {
		select {
		case <-ticker.C:
			run()
		case <-stopChan:
			slog.Info("stopping periodic cleanup")
			return
		}
	}
}
