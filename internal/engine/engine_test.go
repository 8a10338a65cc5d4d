package engine

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"argus/internal/crawler"
	"argus/internal/domain"
	"argus/internal/scoring"
	"argus/internal/trackers"
)

type memStore struct {
	mu       sync.Mutex
	scans    map[string]*domain.Scan
	evidence []domain.Evidence
	issues   map[string][]domain.Issue
}

func newMemStore() *memStore {
	return &memStore{scans: map[string]*domain.Scan{}, issues: map[string][]domain.Issue{}}
}

func (m *memStore) Create(_ context.Context, s domain.Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans[s.ID] = &s
	return nil
}

func (m *memStore) Get(_ context.Context, id string) (domain.Scan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.scans[id]
	if !ok {
		return domain.Scan{}, errors.New("not found")
	}
	return *s, nil
}

func (m *memStore) MarkRunning(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans[id].Status = domain.ScanRunning
	return nil
}

func (m *memStore) SetProgress(_ context.Context, id string, p int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans[id].Progress = p
	return nil
}

func (m *memStore) MarkError(_ context.Context, id, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scans[id].Status = domain.ScanError
	m.scans[id].Summary = summary
	return nil
}

func (m *memStore) FindFreshDone(_ context.Context, _ string, _ time.Time) (domain.Scan, bool, error) {
	return domain.Scan{}, false, nil
}

func (m *memStore) Append(_ context.Context, ev domain.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evidence = append(m.evidence, ev)
	return nil
}

func (m *memStore) ListByScan(_ context.Context, scanID string) ([]domain.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Evidence
	for _, ev := range m.evidence {
		if ev.ScanID == scanID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memStore) FinalizeReport(_ context.Context, scanID string, issues []domain.Issue, score int, label, summary string, meta map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issues[scanID] = issues
	s := m.scans[scanID]
	s.Score = &score
	s.Label = &label
	s.Summary = summary
	s.Meta = meta
	s.Status = domain.ScanDone
	s.Progress = 100
	now := time.Now()
	s.FinishedAt = &now
	return nil
}

func (m *memStore) countKind(kind domain.EvidenceKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.evidence {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type fixtureFetcher struct {
	mu    sync.Mutex
	pages map[string]string // url -> html
	heads map[string]http.Header
	calls int
}

func (f *fixtureFetcher) Fetch(_ context.Context, rawURL string) (*crawler.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	html, ok := f.pages[rawURL]
	if !ok {
		return nil, errors.New("connection refused")
	}
	u, _ := url.Parse(rawURL)
	h := f.heads[rawURL]
	if h == nil {
		h = http.Header{}
	}
	return &crawler.Page{URL: u, Status: 200, Header: h, Body: []byte(html)}, nil
}

func newEngine(store *memStore, fetch crawler.Fetcher) *Engine {
	log := slog.Default()
	ix := trackers.Load(context.Background(), nil, log)
	compiler := scoring.New(store, store, log)
	return New(store, store, compiler, ix, fetch, crawler.Config{PageLimit: 5, TimeBudget: 2 * time.Second, RequestTimeout: time.Second}, log)
}

func job(id, target string) domain.Job {
	return domain.Job{ScanID: id, URL: target, NormalizedInput: target, RequestID: "r-" + id}
}

func seedScan(store *memStore, id, target string) {
	store.Create(context.Background(), domain.Scan{
		ID: id, RawInput: target, NormalizedInput: target,
		TargetType: domain.TargetURL, Status: domain.ScanQueued, CreatedAt: time.Now(),
	})
}

func allHeaders() http.Header {
	h := http.Header{}
	h.Set("Content-Security-Policy", "default-src 'self'")
	h.Set("Referrer-Policy", "no-referrer")
	h.Set("Strict-Transport-Security", "max-age=63072000")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Set("Permissions-Policy", "camera=()")
	return h
}

func TestProcessCleanSite(t *testing.T) {
	const target = "https://example.com/"
	store := newMemStore()
	seedScan(store, "s1", target)
	fetch := &fixtureFetcher{
		pages: map[string]string{
			target: `<html><body><a href="/legal/privacy">Privacy Policy</a></body></html>`,
		},
		heads: map[string]http.Header{target: allHeaders()},
	}

	if err := newEngine(store, fetch).Process(context.Background(), job("s1", target)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	scan, _ := store.Get(context.Background(), "s1")
	if scan.Status != domain.ScanDone || scan.Progress != 100 {
		t.Fatalf("scan = %s/%d, want done/100", scan.Status, scan.Progress)
	}
	if store.countKind(domain.EvidenceTracker) != 0 || store.countKind(domain.EvidenceHeader) != 0 {
		t.Fatal("clean site produced tracker or header evidence")
	}
	if scan.Score == nil || *scan.Score < 90 {
		t.Fatalf("score = %v, want top band", scan.Score)
	}
	if *scan.Label != domain.LabelExcellent {
		t.Fatalf("label = %s, want excellent", *scan.Label)
	}
	if scan.Meta["data_sharing_level"] != string(domain.RiskNone) {
		t.Fatalf("data sharing = %v, want None", scan.Meta["data_sharing_level"])
	}
}

func TestProcessTrackerSite(t *testing.T) {
	const target = "https://shady.example/"
	store := newMemStore()
	seedScan(store, "s2", target)
	fetch := &fixtureFetcher{
		pages: map[string]string{
			target: `<html><body><script src="https://stats.g.doubleclick.net/ga.js"></script></body></html>`,
		},
	}

	if err := newEngine(store, fetch).Process(context.Background(), job("s2", target)); err != nil {
		t.Fatalf("Process: %v", err)
	}

	if got := store.countKind(domain.EvidenceTracker); got != 1 {
		t.Fatalf("tracker evidence = %d, want exactly 1", got)
	}
	if got := store.countKind(domain.EvidenceHeader); got != 5 {
		t.Fatalf("header evidence = %d, want 5", got)
	}
	scan, _ := store.Get(context.Background(), "s2")
	if scan.Meta["data_sharing_level"] == string(domain.RiskNone) {
		t.Fatal("data sharing level should be at least Low")
	}
}

func TestProcessDisallowedTarget(t *testing.T) {
	const target = "http://127.0.0.1/"
	store := newMemStore()
	seedScan(store, "s3", target)
	fetch := &fixtureFetcher{pages: map[string]string{}}

	if err := newEngine(store, fetch).Process(context.Background(), job("s3", target)); err != nil {
		t.Fatalf("Process should swallow a security refusal, got %v", err)
	}

	if fetch.calls != 0 {
		t.Fatalf("fetch called %d times for a disallowed target", fetch.calls)
	}
	scan, _ := store.Get(context.Background(), "s3")
	if scan.Status != domain.ScanError {
		t.Fatalf("status = %s, want error", scan.Status)
	}
	if len(store.evidence) != 0 {
		t.Fatalf("evidence rows = %d, want 0", len(store.evidence))
	}
}

func TestProcessUnreachableTargetIsRetryable(t *testing.T) {
	const target = "https://down.example/"
	store := newMemStore()
	seedScan(store, "s4", target)
	fetch := &fixtureFetcher{pages: map[string]string{}}

	err := newEngine(store, fetch).Process(context.Background(), job("s4", target))
	if err == nil {
		t.Fatal("unreachable target should surface a retryable error")
	}
}
