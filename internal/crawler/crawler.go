// Package crawler performs the bounded, same-origin, breadth-first traversal
// that drives a scan. Crawling within one job is sequential on purpose: it
// keeps the page/time budget deterministic and avoids hammering the target.
package crawler

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultPageLimit      = 10
	DefaultTimeBudget     = 10 * time.Second
	DefaultRequestTimeout = 5 * time.Second
)

type Config struct {
	PageLimit      int
	TimeBudget     time.Duration
	RequestTimeout time.Duration
	// RequestsPerSecond throttles fetches within one job. Zero disables.
	RequestsPerSecond float64
}

func (c Config) withDefaults() Config {
	if c.PageLimit <= 0 {
		c.PageLimit = DefaultPageLimit
	}
	if c.TimeBudget <= 0 {
		c.TimeBudget = DefaultTimeBudget
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	return c
}

// PageFunc handles one successfully fetched page. first is true for the very
// first success of the crawl, which carries the page-invariant checks.
type PageFunc func(ctx context.Context, page *Page, first bool) error

type Crawler struct {
	fetch   Fetcher
	cfg     Config
	limiter *rate.Limiter
	log     *slog.Logger
	// Progress, when set, receives (visited, pageLimit) after each pop.
	Progress func(visited, limit int)
}

func New(fetch Fetcher, cfg Config, log *slog.Logger) *Crawler {
	cfg = cfg.withDefaults()
	c := &Crawler{fetch: fetch, cfg: cfg, log: log}
	if cfg.RequestsPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return c
}

// Run walks same-origin pages starting at start until the frontier empties,
// the page limit is reached or the time budget is spent. Fetch failures are
// page-local: they are skipped and the crawl continues. The returned counts
// are attempted (visited) and successfully fetched pages.
func (c *Crawler) Run(ctx context.Context, start string, handle PageFunc) (visited, fetched int, err error) {
	deadline := time.Now().Add(c.cfg.TimeBudget)
	frontier := []string{start}
	seen := map[string]bool{start: true}

	for len(frontier) > 0 {
		if visited >= c.cfg.PageLimit || !time.Now().Before(deadline) {
			break
		}
		if err := ctx.Err(); err != nil {
			return visited, fetched, err
		}

		next := frontier[0]
		frontier = frontier[1:]
		visited++
		if c.Progress != nil {
			c.Progress(visited, c.cfg.PageLimit)
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return visited, fetched, err
			}
		}

		reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
		page, ferr := c.fetch.Fetch(reqCtx, next)
		cancel()
		if ferr != nil {
			// Network error, timeout or disallowed (post-redirect) host:
			// skip the page, keep crawling.
			c.log.Debug("page skipped", "url", next, "error", ferr)
			continue
		}

		first := fetched == 0
		fetched++
		if herr := handle(ctx, page, first); herr != nil {
			return visited, fetched, herr
		}

		same, _ := page.Links()
		for _, link := range same {
			if !seen[link] {
				seen[link] = true
				frontier = append(frontier, link)
			}
		}
	}
	return visited, fetched, nil
}
