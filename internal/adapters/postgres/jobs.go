package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"argus/internal/domain"
	"argus/internal/ports"
)

const jobColumns = `scan_id, url, normalized_input, request_id, attempts, max_attempts`

// Enqueue inserts a job for the scan. A second enqueue for the same scan is a
// no-op so duplicate submissions cannot fan out into duplicate work.
func (db *DB) Enqueue(ctx context.Context, job domain.Job) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO scan_jobs (scan_id, url, normalized_input, request_id, status, next_run_at)
		VALUES ($1, $2, $3, $4, 'queued', now())
		ON CONFLICT (scan_id) DO NOTHING
	`, job.ScanID, job.URL, job.NormalizedInput, job.RequestID)
	return err
}

// ClaimNext selects the next runnable job using SKIP LOCKED, marks it running
// with a lease, and bumps its attempt counter. The owning scan is flipped to
// running in the same transaction.
func (db *DB) ClaimNext(ctx context.Context, lease time.Duration) (job ports.QueuedJob, found bool, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	err = tx.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM scan_jobs
		WHERE status = 'queued' AND next_run_at <= now()
		ORDER BY next_run_at
		FOR UPDATE SKIP LOCKED
		LIMIT 1
	`).Scan(&job.Job.ScanID, &job.Job.URL, &job.Job.NormalizedInput, &job.Job.RequestID, &job.Attempt, &job.MaxAttempts)
	if errors.Is(err, pgx.ErrNoRows) {
		err = nil
		return job, false, nil
	}
	if err != nil {
		return job, false, err
	}

	if _, err = tx.Exec(ctx, `
		UPDATE scan_jobs
		SET status = 'running', attempts = attempts + 1, locked_until = now() + make_interval(secs => $2)
		WHERE scan_id = $1
	`, job.Job.ScanID, lease.Seconds()); err != nil {
		return job, false, err
	}
	if _, err = tx.Exec(ctx, `
		UPDATE scans SET status = 'running', started_at = COALESCE(started_at, now()) WHERE id = $1
	`, job.Job.ScanID); err != nil {
		return job, false, err
	}
	job.Attempt++
	return job, true, nil
}

// Renew extends the lease on a running job.
func (db *DB) Renew(ctx context.Context, scanID string, lease time.Duration) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE scan_jobs SET locked_until = now() + make_interval(secs => $2)
		WHERE scan_id = $1 AND status = 'running'
	`, scanID, lease.Seconds())
	return err
}

// Complete removes the finished job from the queue.
func (db *DB) Complete(ctx context.Context, scanID string) error {
	_, err := db.Pool.Exec(ctx, `DELETE FROM scan_jobs WHERE scan_id = $1`, scanID)
	return err
}

// Fail requeues the job for a later attempt and records the failure reason.
func (db *DB) Fail(ctx context.Context, scanID string, reason string, retryAt time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE scan_jobs
		SET status = 'queued', next_run_at = $2, locked_until = NULL, last_error = $3
		WHERE scan_id = $1
	`, scanID, retryAt, reason)
	return err
}

// Bury parks a job that has exhausted its attempts. Buried jobs never run
// again but keep their row for inspection.
func (db *DB) Bury(ctx context.Context, scanID string, reason string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE scan_jobs
		SET status = 'dead', locked_until = NULL, last_error = $2
		WHERE scan_id = $1
	`, scanID, reason)
	return err
}

// ReclaimStalled sweeps running jobs whose lease expired. A job is requeued on
// its first stall and buried on the second; buried jobs are returned so the
// caller can record them as dead letters.
func (db *DB) ReclaimStalled(ctx context.Context) (requeued int, buried []domain.Job, err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	tag, err := tx.Exec(ctx, `
		UPDATE scan_jobs
		SET status = 'queued', stalls = stalls + 1, locked_until = NULL, next_run_at = now(),
		    last_error = 'worker lease expired'
		WHERE status = 'running' AND locked_until < now() AND stalls = 0
	`)
	if err != nil {
		return 0, nil, err
	}
	requeued = int(tag.RowsAffected())

	rows, err := tx.Query(ctx, `
		UPDATE scan_jobs
		SET status = 'dead', locked_until = NULL, last_error = 'worker lease expired twice'
		WHERE status = 'running' AND locked_until < now() AND stalls >= 1
		RETURNING scan_id, url, normalized_input, request_id
	`)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var j domain.Job
		if err = rows.Scan(&j.ScanID, &j.URL, &j.NormalizedInput, &j.RequestID); err != nil {
			return 0, nil, err
		}
		buried = append(buried, j)
	}
	if err = rows.Err(); err != nil {
		return 0, nil, err
	}
	return requeued, buried, nil
}
