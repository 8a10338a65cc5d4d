package ports

import (
	"context"
	"errors"
	"time"

	"argus/internal/domain"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("not found")

// ScanRepository manages scan records.
type ScanRepository interface {
	Create(ctx context.Context, scan domain.Scan) error
	Get(ctx context.Context, scanID string) (domain.Scan, error)
	MarkRunning(ctx context.Context, scanID string) error
	SetProgress(ctx context.Context, scanID string, progress int) error
	MarkError(ctx context.Context, scanID string, summary string) error
	// FindFreshDone returns the most recently finished "done" scan for the
	// normalized input whose finished-at is not older than since.
	FindFreshDone(ctx context.Context, normalizedInput string, since time.Time) (domain.Scan, bool, error)
}

// EvidenceRepository appends and reads evidence rows for a scan.
type EvidenceRepository interface {
	Append(ctx context.Context, ev domain.Evidence) error
	ListByScan(ctx context.Context, scanID string) ([]domain.Evidence, error)
}

// IssueRepository reads derived issues for a scan.
type IssueRepository interface {
	ListIssuesByScan(ctx context.Context, scanID string) ([]domain.Issue, error)
}

// ReportRepository finalizes a scan: replaces its issues and writes the
// score/label/summary/meta fields as one atomic unit.
type ReportRepository interface {
	FinalizeReport(ctx context.Context, scanID string, issues []domain.Issue, score int, label, summary string, meta map[string]any) error
}

// TrackerListRepository reads cached tracker list records.
type TrackerListRepository interface {
	Latest(ctx context.Context, source string) (domain.TrackerList, bool, error)
}

// DeadLetterRepository records terminally failed jobs.
type DeadLetterRepository interface {
	Add(ctx context.Context, dl domain.DeadLetter) error
}
