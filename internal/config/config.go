package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	Env         string
	ListenAddr  string
	DatabaseURL string

	// Worker pool. Zero workers runs the API alone.
	ScanWorkers  int
	PollInterval time.Duration
	JobTimeout   time.Duration
	JobLease     time.Duration
	BackoffBase  time.Duration
	StallSweep   time.Duration

	// Crawl limits per scan.
	PageLimit      int
	TimeBudget     time.Duration
	RequestTimeout time.Duration
	CrawlRPS       float64

	// Completed scans younger than this are served from the store instead of
	// being re-crawled.
	DedupTTL time.Duration
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var out int
		_, err := fmt.Sscanf(v, "%d", &out)
		if err == nil {
			return out
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		var out float64
		_, err := fmt.Sscanf(v, "%g", &out)
		if err == nil {
			return out
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if out, err := time.ParseDuration(v); err == nil {
			return out
		}
	}
	return def
}

func Load() (Config, error) {
	cfg := Config{
		Env:         getenv("APP_ENV", "development"),
		ListenAddr:  getenv("LISTEN_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		ScanWorkers:  getenvInt("SCAN_WORKERS", 4),
		PollInterval: getenvDuration("JOB_POLL_INTERVAL", time.Second),
		JobTimeout:   getenvDuration("JOB_TIMEOUT", 2*time.Minute),
		JobLease:     getenvDuration("JOB_LEASE", 30*time.Second),
		BackoffBase:  getenvDuration("JOB_BACKOFF_BASE", 30*time.Second),
		StallSweep:   getenvDuration("JOB_STALL_SWEEP", time.Minute),

		PageLimit:      getenvInt("CRAWL_PAGE_LIMIT", 10),
		TimeBudget:     getenvDuration("CRAWL_TIME_BUDGET", 10*time.Second),
		RequestTimeout: getenvDuration("CRAWL_REQUEST_TIMEOUT", 5*time.Second),
		CrawlRPS:       getenvFloat("CRAWL_RPS", 4),

		DedupTTL: getenvDuration("SCAN_DEDUP_TTL", time.Hour),
	}
	if cfg.DatabaseURL == "" {
		// Not fatal for early local runs; warn via error value so callers can decide.
		return cfg, fmt.Errorf("DATABASE_URL not set")
	}
	return cfg, nil
}
