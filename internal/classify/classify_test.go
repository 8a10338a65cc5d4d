package classify

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"testing"

	"argus/internal/crawler"
	"argus/internal/domain"
	"argus/internal/trackers"
)

type memEvidence struct {
	mu   sync.Mutex
	rows []domain.Evidence
}

func (m *memEvidence) Append(_ context.Context, ev domain.Evidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = append(m.rows, ev)
	return nil
}

func (m *memEvidence) ListByScan(_ context.Context, scanID string) ([]domain.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Evidence
	for _, ev := range m.rows {
		if ev.ScanID == scanID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memEvidence) byKind(kind domain.EvidenceKind) []domain.Evidence {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Evidence
	for _, ev := range m.rows {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func fixtureIndex(t *testing.T) *trackers.Index {
	t.Helper()
	return trackers.Load(context.Background(), nil, slog.Default())
}

func makePage(t *testing.T, rawURL, html string, header http.Header, cookies ...string) *crawler.Page {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatal(err)
	}
	if header == nil {
		header = http.Header{}
	}
	return &crawler.Page{URL: u, Status: 200, Header: header, SetCookies: cookies, Body: []byte(html)}
}

func TestHeaderCheckPerPage(t *testing.T) {
	repo := &memEvidence{}
	c := New(repo, fixtureIndex(t), "example.com", "https", slog.Default())

	// All five absent on two pages -> ten rows.
	c.Page(context.Background(), "s1", makePage(t, "https://example.com/", "<html></html>", nil), true)
	c.Page(context.Background(), "s1", makePage(t, "https://example.com/a", "<html></html>", nil), false)
	if got := len(repo.byKind(domain.EvidenceHeader)); got != 10 {
		t.Fatalf("header evidence = %d, want 10", got)
	}

	// All five present -> none.
	repo2 := &memEvidence{}
	c2 := New(repo2, fixtureIndex(t), "example.com", "https", slog.Default())
	h := http.Header{}
	for _, name := range SecurityHeaders {
		h.Set(name, "x")
	}
	c2.Page(context.Background(), "s2", makePage(t, "https://example.com/", "<html></html>", h), true)
	if got := len(repo2.byKind(domain.EvidenceHeader)); got != 0 {
		t.Fatalf("header evidence = %d, want 0", got)
	}
}

func TestCookieCheck(t *testing.T) {
	repo := &memEvidence{}
	c := New(repo, fixtureIndex(t), "example.com", "https", slog.Default())
	c.Page(context.Background(), "s1", makePage(t, "https://example.com/", "",
		nil,
		"sid=abc; Path=/",                          // insecure
		"pref=1; Secure",                           // fine
		"trk=2; SameSite=Lax",                      // fine
		"both=3; Secure; SameSite=Strict; Path=/"), // fine
		true)
	rows := repo.byKind(domain.EvidenceCookie)
	if len(rows) != 1 {
		t.Fatalf("cookie evidence = %d, want 1", len(rows))
	}
	if rows[0].Details["cookie"] != "sid" {
		t.Errorf("flagged cookie = %v, want sid", rows[0].Details["cookie"])
	}
}

func TestResourceClassification(t *testing.T) {
	const html = `<html><body>
		<script src="https://stats.g.doubleclick.net/ga.js"></script>
		<script src="/self.js"></script>
		<img src="https://cdn.example.com/logo.png">
		<img src="https://images.partner.example/pic.png">
		<link href="https://fonts.partner.example/f.css" rel="stylesheet">
		<script src="http://127.0.0.1/evil.js"></script>
		<img src="##bad url##">
	</body></html>`
	repo := &memEvidence{}
	c := New(repo, fixtureIndex(t), "example.com", "https", slog.Default())
	c.Page(context.Background(), "s1", makePage(t, "https://example.com/", html, nil), true)

	third := repo.byKind(domain.EvidenceThirdParty)
	// doubleclick.net + partner.example (two resources, distinct URLs) = 3 rows;
	// self.js and cdn.example.com share the target registrable domain.
	if len(third) != 3 {
		t.Fatalf("thirdparty evidence = %d, want 3: %+v", len(third), third)
	}
	for _, ev := range third {
		if ev.Details["domain"] == "example.com" {
			t.Errorf("own registrable domain emitted as third-party: %+v", ev)
		}
		if ev.Details["host"] == "127.0.0.1" {
			t.Errorf("disallowed host classified: %+v", ev)
		}
	}

	trackerRows := repo.byKind(domain.EvidenceTracker)
	if len(trackerRows) != 1 {
		t.Fatalf("tracker evidence = %d, want 1", len(trackerRows))
	}
	if trackerRows[0].Details["domain"] != "doubleclick.net" {
		t.Errorf("tracker domain = %v", trackerRows[0].Details["domain"])
	}
	if trackerRows[0].Severity != 3 {
		t.Errorf("tracker severity = %d, want 3", trackerRows[0].Severity)
	}
}

func TestFingerprintHeuristicOncePerPage(t *testing.T) {
	const html = `<script>
		const c = canvas.toDataURL("image/png");
		const ctx2 = new AudioContext();
		const n = navigator.plugins.length;
	</script>`
	repo := &memEvidence{}
	c := New(repo, fixtureIndex(t), "example.com", "https", slog.Default())
	c.Page(context.Background(), "s1", makePage(t, "https://example.com/", html, nil), true)
	if got := len(repo.byKind(domain.EvidenceFingerprint)); got != 1 {
		t.Fatalf("fingerprint evidence = %d, want 1", got)
	}
}

func TestMixedContentOnlyForHTTPSTarget(t *testing.T) {
	const html = `<img src="http://insecure.example/x.png">`
	repo := &memEvidence{}
	New(repo, fixtureIndex(t), "example.com", "https", slog.Default()).
		Page(context.Background(), "s1", makePage(t, "https://example.com/", html, nil), true)
	if got := len(repo.byKind(domain.EvidenceInsecure)); got != 1 {
		t.Fatalf("insecure evidence = %d, want 1", got)
	}

	repo2 := &memEvidence{}
	New(repo2, fixtureIndex(t), "example.com", "http", slog.Default()).
		Page(context.Background(), "s2", makePage(t, "http://example.com/", html, nil), true)
	if got := len(repo2.byKind(domain.EvidenceInsecure)); got != 0 {
		t.Fatalf("insecure evidence for http target = %d, want 0", got)
	}
}

func TestPolicyLinkAndTLSFirstPageOnly(t *testing.T) {
	const html = `<a href="/about">About</a><a href="/legal/privacy">Privacy Policy</a>`
	repo := &memEvidence{}
	c := New(repo, fixtureIndex(t), "example.com", "https", slog.Default())
	c.Page(context.Background(), "s1", makePage(t, "https://example.com/", html, nil), true)
	c.Page(context.Background(), "s1", makePage(t, "https://example.com/a", html, nil), false)

	policy := repo.byKind(domain.EvidencePolicy)
	if len(policy) != 1 {
		t.Fatalf("policy evidence = %d, want 1", len(policy))
	}
	if policy[0].Details["href"] != "/legal/privacy" {
		t.Errorf("policy href = %v", policy[0].Details["href"])
	}

	tlsRows := repo.byKind(domain.EvidenceTLS)
	if len(tlsRows) != 1 {
		t.Fatalf("tls evidence = %d, want 1", len(tlsRows))
	}
	if tlsRows[0].Details["grade"] != "A" {
		t.Errorf("tls grade = %v, want A", tlsRows[0].Details["grade"])
	}

	repo2 := &memEvidence{}
	New(repo2, fixtureIndex(t), "example.com", "http", slog.Default()).
		Page(context.Background(), "s2", makePage(t, "http://example.com/", "", nil), true)
	tlsRows2 := repo2.byKind(domain.EvidenceTLS)
	if len(tlsRows2) != 1 || tlsRows2[0].Details["grade"] != "C" {
		t.Fatalf("http target tls = %+v, want grade C", tlsRows2)
	}
}

func TestRegistrableDomain(t *testing.T) {
	cases := map[string]string{
		"cdn.example.com":    "example.com",
		"example.com":        "example.com",
		"a.b.example.co.uk":  "example.co.uk",
		"93.184.216.34":      "93.184.216.34",
	}
	for host, want := range cases {
		if got := RegistrableDomain(host); got != want {
			t.Errorf("RegistrableDomain(%q) = %q, want %q", host, got, want)
		}
	}
}
