package ports

import (
	"context"
	"time"

	"argus/internal/domain"
)

// QueuedJob is a claimed job together with its attempt bookkeeping.
type QueuedJob struct {
	Job         domain.Job
	Attempt     int
	MaxAttempts int
}

// JobQueue supports idempotent enqueue, lease-based claiming and
// retry/dead-letter transitions for scan jobs.
type JobQueue interface {
	// Enqueue is a no-op when an active job for the same scan id exists.
	Enqueue(ctx context.Context, job domain.Job) error
	// ClaimNext claims the next runnable job and holds its lease.
	ClaimNext(ctx context.Context, lease time.Duration) (QueuedJob, bool, error)
	// Renew extends the lease of a running job.
	Renew(ctx context.Context, scanID string, lease time.Duration) error
	Complete(ctx context.Context, scanID string) error
	// Fail requeues the job for another attempt at retryAt.
	Fail(ctx context.Context, scanID string, reason string, retryAt time.Time) error
	// Bury marks the job terminally failed.
	Bury(ctx context.Context, scanID string, reason string) error
	// ReclaimStalled requeues jobs whose lease expired once, and buries jobs
	// that stalled a second time, returning those for dead-lettering.
	ReclaimStalled(ctx context.Context) (requeued int, buried []domain.Job, err error)
}
