// Package scanner is the submission seam between external producers and the
// scan engine: input normalization, dedup lookup and idempotent enqueue.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"argus/internal/domain"
	"argus/internal/ports"
)

var ErrInvalidTarget = errString("invalid scan target")

// ErrNotFound mirrors the repository sentinel so API callers only depend on
// this package.
var ErrNotFound = ports.ErrNotFound

type errString string

func (e errString) Error() string { return string(e) }

type Service struct {
	scans    ports.ScanRepository
	issues   ports.IssueRepository
	queue    ports.JobQueue
	dedupTTL time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func New(scans ports.ScanRepository, issues ports.IssueRepository, queue ports.JobQueue, dedupTTL time.Duration, log *slog.Logger) *Service {
	return &Service{scans: scans, issues: issues, queue: queue, dedupTTL: dedupTTL, log: log, now: time.Now}
}

// Submit normalizes the input, returns a fresh completed scan when one exists
// inside the dedup window, and otherwise creates and enqueues a new scan.
// Two concurrent submissions for the same input may both miss the dedup
// check; the queue's scan-id identity keeps the duplicate cost bounded.
func (s *Service) Submit(ctx context.Context, rawURL string) (domain.Scan, bool, error) {
	normalized, targetType, err := NormalizeTarget(rawURL)
	if err != nil {
		return domain.Scan{}, false, fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}

	if s.dedupTTL > 0 {
		cached, ok, err := s.scans.FindFreshDone(ctx, normalized, s.now().Add(-s.dedupTTL))
		if err != nil {
			s.log.Warn("dedup lookup failed", "error", err)
		} else if ok {
			s.log.Info("scan served from dedup window", "scan_id", cached.ID, "input", normalized)
			return cached, true, nil
		}
	}

	scan := domain.Scan{
		ID:              uuid.NewString(),
		RawInput:        rawURL,
		NormalizedInput: normalized,
		TargetType:      targetType,
		Status:          domain.ScanQueued,
		CreatedAt:       s.now().UTC(),
	}
	if err := s.scans.Create(ctx, scan); err != nil {
		return domain.Scan{}, false, fmt.Errorf("create scan: %w", err)
	}
	job := domain.Job{
		ScanID:          scan.ID,
		URL:             rawURL,
		NormalizedInput: normalized,
		RequestID:       uuid.NewString(),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return domain.Scan{}, false, fmt.Errorf("enqueue scan: %w", err)
	}
	s.log.Info("scan enqueued", "scan_id", scan.ID, "input", normalized, "request_id", job.RequestID)
	return scan, false, nil
}

func (s *Service) Status(ctx context.Context, scanID string) (domain.Scan, error) {
	return s.scans.Get(ctx, scanID)
}

func (s *Service) Report(ctx context.Context, scanID string) (domain.Scan, []domain.Issue, error) {
	scan, err := s.scans.Get(ctx, scanID)
	if err != nil {
		return domain.Scan{}, nil, err
	}
	issues, err := s.issues.ListIssuesByScan(ctx, scanID)
	if err != nil {
		return domain.Scan{}, nil, fmt.Errorf("list issues: %w", err)
	}
	return scan, issues, nil
}

// NormalizeTarget turns user input into the canonical URL string used for
// crawling and dedup. Bare hosts get an https scheme; only http(s) targets
// are accepted.
func NormalizeTarget(raw string) (string, domain.TargetType, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", "", fmt.Errorf("empty input")
	}
	hadScheme := strings.Contains(raw, "://")
	if !hadScheme {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", "", fmt.Errorf("missing host")
	}

	u.Host = strings.ToLower(u.Host)
	if (u.Scheme == "https" && u.Port() == "443") || (u.Scheme == "http" && u.Port() == "80") {
		u.Host = u.Hostname()
	}
	u.Fragment = ""
	if u.Path == "" {
		u.Path = "/"
	}

	targetType := domain.TargetURL
	if !hadScheme {
		targetType = domain.TargetDomain
	}
	if _, err := netip.ParseAddr(strings.Trim(u.Hostname(), "[]")); err == nil {
		targetType = domain.TargetIP
	}
	return u.String(), targetType, nil
}
