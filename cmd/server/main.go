package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "argus/internal/adapters/http"
	pg "argus/internal/adapters/postgres"
	"argus/internal/config"
	"argus/internal/crawler"
	"argus/internal/engine"
	"argus/internal/scoring"
	scansvc "argus/internal/services/scanner"
	"argus/internal/trackers"
	"argus/internal/workers/scanrunner"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := pg.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("db connect", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	index := trackers.Load(ctx, db, log)
	compiler := scoring.New(db, db, log)
	fetcher := crawler.NewHTTPFetcher(cfg.RequestTimeout)
	crawlCfg := crawler.Config{
		PageLimit:         cfg.PageLimit,
		TimeBudget:        cfg.TimeBudget,
		RequestTimeout:    cfg.RequestTimeout,
		RequestsPerSecond: cfg.CrawlRPS,
	}
	eng := engine.New(db, db, compiler, index, fetcher, crawlCfg, log)

	scanner := scansvc.New(db, db, db, cfg.DedupTTL, log)
	srv := httpadapter.New(scanner, log)

	if cfg.ScanWorkers > 0 {
		runner := scanrunner.New(db, db, db, eng, scanrunner.Options{
			Concurrency:  cfg.ScanWorkers,
			PollInterval: cfg.PollInterval,
			JobTimeout:   cfg.JobTimeout,
			Lease:        cfg.JobLease,
			BackoffBase:  cfg.BackoffBase,
			StallSweep:   cfg.StallSweep,
		}, log)
		go runner.Run(ctx)
		log.Info("scan workers started", "count", cfg.ScanWorkers)
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()
	log.Info("listening", "addr", cfg.ListenAddr, "env", cfg.Env)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown", "error", err)
		}
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server", "error", err)
			os.Exit(1)
		}
	}
}
