package trackers

import (
	"context"
	"log/slog"
	"testing"

	"argus/internal/domain"
)

type fakeListRepo struct {
	records map[string]domain.TrackerList
	err     error
}

func (f *fakeListRepo) Latest(_ context.Context, source string) (domain.TrackerList, bool, error) {
	if f.err != nil {
		return domain.TrackerList{}, false, f.err
	}
	rec, ok := f.records[source]
	return rec, ok, nil
}

func testLogger() *slog.Logger { return slog.Default() }

func TestLoadFromStore(t *testing.T) {
	repo := &fakeListRepo{records: map[string]domain.TrackerList{
		SourceBlocklist: {Payload: []byte(`{"domains":["tracky.example"," ","not a domain","ads.example."]}`)},
		SourceServices:  {Payload: []byte(`{"trackers":[{"domain":"tracky.example","category":"advertising"},{"domain":""}],"fingerprinting":["printy.example"]}`)},
	}}
	ix := Load(context.Background(), repo, testLogger())

	if !ix.IsTracker("tracky.example") {
		t.Error("tracky.example should be a tracker")
	}
	if !ix.IsTracker("cdn.tracky.example") {
		t.Error("suffix match on cdn.tracky.example should hit")
	}
	if !ix.IsTracker("ads.example") {
		t.Error("trailing-dot entry should be cleaned, not dropped")
	}
	if ix.IsTracker("example.com") {
		t.Error("example.com should not be a tracker")
	}
	if got := ix.Category("tracky.example"); got != "advertising" {
		t.Errorf("Category = %q, want advertising", got)
	}
	if !ix.IsFingerprinter("printy.example") || ix.IsFingerprinter("tracky.example") {
		t.Error("fingerprinter set wrong")
	}
}

func TestLoadFixtureFallback(t *testing.T) {
	// Empty store: fixtures must make the index usable.
	ix := Load(context.Background(), &fakeListRepo{}, testLogger())
	if !ix.IsTracker("doubleclick.net") {
		t.Error("fixture tracker doubleclick.net missing")
	}
	if !ix.IsTracker("stats.g.doubleclick.net") {
		t.Error("fixture suffix match missing")
	}
	if got := ix.Category("hotjar.com"); got != "session-replay" {
		t.Errorf("fixture category = %q", got)
	}
	if !ix.IsFingerprinter("fpjs.io") {
		t.Error("fixture fingerprinter missing")
	}
	if ix.IsTracker("example.com") {
		t.Error("example.com must stay clean")
	}
}

func TestLoadStoreErrorFallsBack(t *testing.T) {
	ix := Load(context.Background(), &fakeListRepo{err: context.DeadlineExceeded}, testLogger())
	if !ix.IsTracker("google-analytics.com") {
		t.Error("store error should fall back to fixtures")
	}
}
