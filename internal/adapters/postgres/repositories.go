package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"argus/internal/domain"
	"argus/internal/ports"
)

// ScanRepository

func (db *DB) Create(ctx context.Context, s domain.Scan) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO scans (id, raw_input, normalized_input, target_type, status, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6)
	`, s.ID, s.RawInput, s.NormalizedInput, s.TargetType, s.Status, s.CreatedAt)
	return err
}

const scanColumns = `id, raw_input, normalized_input, target_type, status, progress,
	score, label, summary, COALESCE(meta, '{}'::jsonb), created_at, started_at, finished_at`

func scanRow(row pgx.Row) (domain.Scan, error) {
	var s domain.Scan
	err := row.Scan(&s.ID, &s.RawInput, &s.NormalizedInput, &s.TargetType, &s.Status, &s.Progress,
		&s.Score, &s.Label, &s.Summary, &s.Meta, &s.CreatedAt, &s.StartedAt, &s.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, ports.ErrNotFound
	}
	return s, err
}

func (db *DB) Get(ctx context.Context, scanID string) (domain.Scan, error) {
	return scanRow(db.Pool.QueryRow(ctx, `SELECT `+scanColumns+` FROM scans WHERE id = $1`, scanID))
}

func (db *DB) MarkRunning(ctx context.Context, scanID string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE scans SET status = 'running', started_at = COALESCE(started_at, now()) WHERE id = $1
	`, scanID)
	return err
}

func (db *DB) SetProgress(ctx context.Context, scanID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := db.Pool.Exec(ctx, `UPDATE scans SET progress = $2 WHERE id = $1`, scanID, progress)
	return err
}

func (db *DB) MarkError(ctx context.Context, scanID string, summary string) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE scans SET status = 'error', summary = $2, finished_at = now() WHERE id = $1
	`, scanID, summary)
	return err
}

func (db *DB) FindFreshDone(ctx context.Context, normalizedInput string, since time.Time) (domain.Scan, bool, error) {
	s, err := scanRow(db.Pool.QueryRow(ctx, `
		SELECT `+scanColumns+` FROM scans
		WHERE normalized_input = $1 AND status = 'done' AND finished_at >= $2
		ORDER BY finished_at DESC
		LIMIT 1
	`, normalizedInput, since))
	if errors.Is(err, ports.ErrNotFound) {
		return domain.Scan{}, false, nil
	}
	if err != nil {
		return domain.Scan{}, false, err
	}
	return s, true, nil
}

// EvidenceRepository

func (db *DB) Append(ctx context.Context, ev domain.Evidence) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO evidence (scan_id, kind, severity, title, details)
		VALUES ($1, $2, $3, $4, $5)
	`, ev.ScanID, ev.Kind, ev.Severity, ev.Title, ev.Details)
	return err
}

func (db *DB) ListByScan(ctx context.Context, scanID string) ([]domain.Evidence, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, scan_id, kind, severity, title, details, created_at
		FROM evidence WHERE scan_id = $1 ORDER BY created_at
	`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Evidence
	for rows.Next() {
		var ev domain.Evidence
		if err := rows.Scan(&ev.ID, &ev.ScanID, &ev.Kind, &ev.Severity, &ev.Title, &ev.Details, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// IssueRepository

func (db *DB) ListIssuesByScan(ctx context.Context, scanID string) ([]domain.Issue, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, scan_id, key, severity, category, title, summary, remediation, refs, sort_weight
		FROM issues WHERE scan_id = $1 ORDER BY sort_weight
	`, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Issue
	for rows.Next() {
		var is domain.Issue
		if err := rows.Scan(&is.ID, &is.ScanID, &is.Key, &is.Severity, &is.Category, &is.Title,
			&is.Summary, &is.Remediation, &is.References, &is.SortWeight); err != nil {
			return nil, err
		}
		out = append(out, is)
	}
	return out, rows.Err()
}

// ReportRepository

// FinalizeReport replaces the scan's issues and finalizes the scan row in one
// transaction so repeated scoring passes stay idempotent.
func (db *DB) FinalizeReport(ctx context.Context, scanID string, issues []domain.Issue, score int, label, summary string, meta map[string]any) (err error) {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			err = tx.Commit(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `DELETE FROM issues WHERE scan_id = $1`, scanID); err != nil {
		return err
	}
	for _, is := range issues {
		if _, err = tx.Exec(ctx, `
			INSERT INTO issues (scan_id, key, severity, category, title, summary, remediation, refs, sort_weight)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, scanID, is.Key, is.Severity, is.Category, is.Title, is.Summary, is.Remediation, is.References, is.SortWeight); err != nil {
			return err
		}
	}
	if _, err = tx.Exec(ctx, `
		UPDATE scans
		SET status = 'done', progress = 100, score = $2, label = $3, summary = $4, meta = $5, finished_at = now()
		WHERE id = $1
	`, scanID, score, label, summary, meta); err != nil {
		return err
	}
	return nil
}

// TrackerListRepository

func (db *DB) Latest(ctx context.Context, source string) (domain.TrackerList, bool, error) {
	var rec domain.TrackerList
	err := db.Pool.QueryRow(ctx, `
		SELECT id, source, version, payload, fetched_at FROM tracker_lists
		WHERE source = $1 ORDER BY fetched_at DESC LIMIT 1
	`, source).Scan(&rec.ID, &rec.Source, &rec.Version, &rec.Payload, &rec.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, false, nil
	}
	if err != nil {
		return rec, false, err
	}
	return rec, true, nil
}

// DeadLetterRepository

func (db *DB) Add(ctx context.Context, dl domain.DeadLetter) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO dead_letters (scan_id, url, request_id, error, is_timeout, failed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, dl.ScanID, dl.URL, dl.RequestID, dl.Error, dl.IsTimeout, dl.FailedAt)
	return err
}
