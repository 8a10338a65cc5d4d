// Package engine runs one scan job end to end: target safety check, bounded
// crawl with incremental classification, then the scoring pass that finalizes
// the scan record.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"argus/internal/classify"
	"argus/internal/crawler"
	"argus/internal/domain"
	"argus/internal/netsafe"
	"argus/internal/ports"
	"argus/internal/scoring"
	"argus/internal/trackers"
)

type Engine struct {
	scans    ports.ScanRepository
	evidence ports.EvidenceRepository
	compiler *scoring.Compiler
	index    *trackers.Index
	fetch    crawler.Fetcher
	crawlCfg crawler.Config
	log      *slog.Logger
}

func New(scans ports.ScanRepository, evidence ports.EvidenceRepository, compiler *scoring.Compiler, index *trackers.Index, fetch crawler.Fetcher, crawlCfg crawler.Config, log *slog.Logger) *Engine {
	return &Engine{
		scans:    scans,
		evidence: evidence,
		compiler: compiler,
		index:    index,
		fetch:    fetch,
		crawlCfg: crawlCfg,
		log:      log,
	}
}

// Process implements the worker pipeline for one job. A disallowed initial
// target marks the scan "error" and returns nil: retrying cannot change the
// outcome. Errors returned to the caller are retryable.
func (e *Engine) Process(ctx context.Context, job domain.Job) error {
	target, err := url.Parse(job.NormalizedInput)
	if err != nil || target.Hostname() == "" {
		e.fail(ctx, job.ScanID, "invalid target URL")
		return nil
	}
	if netsafe.Disallowed(target.Hostname()) {
		e.fail(ctx, job.ScanID, "target refused: host resolves to a private or local address")
		return nil
	}

	if err := e.scans.MarkRunning(ctx, job.ScanID); err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	e.progress(ctx, job.ScanID, 5)

	cls := classify.New(e.evidence, e.index, target.Hostname(), target.Scheme, e.log)
	cr := crawler.New(e.fetch, e.crawlCfg, e.log)
	cr.Progress = func(visited, limit int) {
		// Crawl spans 10..90 of the progress range.
		e.progress(ctx, job.ScanID, 10+visited*80/limit)
	}

	visited, fetched, err := cr.Run(ctx, target.String(), func(ctx context.Context, p *crawler.Page, first bool) error {
		cls.Page(ctx, job.ScanID, p, first)
		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("crawl: %w", err)
	}
	if fetched == 0 {
		return fmt.Errorf("crawl: no page could be fetched from %s", target.Host)
	}
	e.log.Info("crawl finished", "scan_id", job.ScanID, "visited", visited, "fetched", fetched)
	e.progress(ctx, job.ScanID, 90)

	if _, err := e.compiler.Finalize(ctx, job.ScanID); err != nil {
		return err
	}
	return nil
}

func (e *Engine) progress(ctx context.Context, scanID string, p int) {
	if p > 100 {
		p = 100
	}
	if err := e.scans.SetProgress(ctx, scanID, p); err != nil {
		e.log.Warn("progress update failed", "scan_id", scanID, "error", err)
	}
}

func (e *Engine) fail(ctx context.Context, scanID, summary string) {
	if err := e.scans.MarkError(ctx, scanID, summary); err != nil {
		e.log.Error("mark error failed", "scan_id", scanID, "error", err)
	}
}
