// Package scanrunner drives queued scan jobs through the engine: bounded
// concurrency, per-job timeouts, lease renewal, retry with backoff and
// dead-lettering of terminally failed jobs.
package scanrunner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"argus/internal/domain"
	"argus/internal/ports"
)

// ScanProcessor performs the scan work for one job.
type ScanProcessor interface {
	Process(ctx context.Context, job domain.Job) error
}

type Options struct {
	Concurrency  int
	PollInterval time.Duration
	JobTimeout   time.Duration
	Lease        time.Duration
	BackoffBase  time.Duration
	StallSweep   time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency < 1 {
		o.Concurrency = 1
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 60 * time.Second
	}
	if o.Lease <= 0 {
		o.Lease = 30 * time.Second
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 5 * time.Second
	}
	if o.StallSweep <= 0 {
		o.StallSweep = 30 * time.Second
	}
	return o
}

type Runner struct {
	queue ports.JobQueue
	scans ports.ScanRepository
	dead  ports.DeadLetterRepository
	proc  ScanProcessor
	opts  Options
	log   *slog.Logger
}

func New(queue ports.JobQueue, scans ports.ScanRepository, dead ports.DeadLetterRepository, proc ScanProcessor, opts Options, log *slog.Logger) *Runner {
	return &Runner{queue: queue, scans: scans, dead: dead, proc: proc, opts: opts.withDefaults(), log: log}
}

// Run starts the dispatcher, the stall sweeper and the worker pool, and
// blocks until ctx is cancelled and all in-flight jobs have finished.
func (r *Runner) Run(ctx context.Context) {
	jobsCh := make(chan ports.QueuedJob)

	go r.dispatch(ctx, jobsCh)
	go r.sweepStalled(ctx)

	var wg sync.WaitGroup
	for i := 0; i < r.opts.Concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for job := range jobsCh {
				r.runOne(ctx, job)
			}
		}(i)
	}
	wg.Wait()
}

func (r *Runner) dispatch(ctx context.Context, jobsCh chan<- ports.QueuedJob) {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			close(jobsCh)
			return
		case <-ticker.C:
			for {
				job, found, err := r.queue.ClaimNext(ctx, r.opts.Lease)
				if err != nil {
					if ctx.Err() == nil {
						r.log.Error("job claim failed", "error", err)
					}
					break
				}
				if !found {
					break
				}
				select {
				case jobsCh <- job:
				case <-ctx.Done():
					// Give the unstarted claim back via lease expiry.
					close(jobsCh)
					return
				}
			}
		}
	}
}

func (r *Runner) sweepStalled(ctx context.Context) {
	ticker := time.NewTicker(r.opts.StallSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requeued, buried, err := r.queue.ReclaimStalled(ctx)
			if err != nil {
				if ctx.Err() == nil {
					r.log.Error("stall sweep failed", "error", err)
				}
				continue
			}
			if requeued > 0 {
				r.log.Warn("stalled jobs requeued", "count", requeued)
			}
			for _, job := range buried {
				r.terminate(ctx, ports.QueuedJob{Job: job}, errors.New("job stalled twice: lease expired"), false)
			}
		}
	}
}

func (r *Runner) runOne(ctx context.Context, qj ports.QueuedJob) {
	log := r.log.With("scan_id", qj.Job.ScanID, "attempt", qj.Attempt, "request_id", qj.Job.RequestID)
	log.Info("job started")

	jctx, cancel := context.WithTimeout(ctx, r.opts.JobTimeout)
	stopRenew := r.renewLease(jctx, qj.Job.ScanID)

	err := r.proc.Process(jctx, qj.Job)
	stopRenew()
	cancel()

	// Bookkeeping must survive job timeout and shutdown.
	bctx, bcancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer bcancel()

	if err == nil {
		if cerr := r.queue.Complete(bctx, qj.Job.ScanID); cerr != nil {
			log.Error("job completion failed", "error", cerr)
		}
		log.Info("job finished")
		return
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded)
	if qj.Attempt >= qj.MaxAttempts {
		r.terminate(bctx, qj, err, isTimeout)
		return
	}

	delay := r.opts.BackoffBase << (qj.Attempt - 1)
	log.Warn("job failed, will retry", "error", err, "timeout", isTimeout, "retry_in", delay)
	if ferr := r.queue.Fail(bctx, qj.Job.ScanID, err.Error(), time.Now().Add(delay)); ferr != nil {
		log.Error("job requeue failed", "error", ferr)
	}
}

// terminate handles the final attempt: the scan is marked "error" with a
// summary distinguishing timeouts, and the dead-letter entry is written.
func (r *Runner) terminate(ctx context.Context, qj ports.QueuedJob, err error, isTimeout bool) {
	log := r.log.With("scan_id", qj.Job.ScanID)
	summary := fmt.Sprintf("scan failed: %v", err)
	if isTimeout {
		summary = fmt.Sprintf("scan timed out after %s", r.opts.JobTimeout)
	}
	if merr := r.scans.MarkError(ctx, qj.Job.ScanID, summary); merr != nil {
		log.Error("mark error failed", "error", merr)
	}
	dl := domain.DeadLetter{
		ScanID:    qj.Job.ScanID,
		URL:       qj.Job.URL,
		RequestID: qj.Job.RequestID,
		Error:     err.Error(),
		IsTimeout: isTimeout,
		FailedAt:  time.Now().UTC(),
	}
	if derr := r.dead.Add(ctx, dl); derr != nil {
		log.Error("dead-letter write failed", "error", derr)
	}
	if berr := r.queue.Bury(ctx, qj.Job.ScanID, err.Error()); berr != nil {
		log.Error("job bury failed", "error", berr)
	}
	log.Warn("job dead-lettered", "error", err, "timeout", isTimeout)
}

// renewLease extends the job lease at a third of its duration until the
// returned stop func is called or ctx ends.
func (r *Runner) renewLease(ctx context.Context, scanID string) (stop func()) {
	done := make(chan struct{})
	var once sync.Once
	go func() {
		ticker := time.NewTicker(r.opts.Lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.queue.Renew(ctx, scanID, r.opts.Lease); err != nil && ctx.Err() == nil {
					r.log.Warn("lease renewal failed", "scan_id", scanID, "error", err)
				}
			}
		}
	}()
	return func() { once.Do(func() { close(done) }) }
}
