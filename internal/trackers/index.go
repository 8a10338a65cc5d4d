// Package trackers loads tracker and fingerprinting domain lists from the
// cached list store and exposes set-membership lookups. When the store has no
// usable list the embedded demo fixtures are used instead, so a fresh install
// can classify without an admin refresh having run.
package trackers

import (
	"context"
	"embed"
	"encoding/json"
	"log/slog"
	"strings"

	"argus/internal/ports"
)

//go:embed fixtures/blocklist.json fixtures/services.json
var fixtures embed.FS

const (
	SourceBlocklist = "blocklist"
	SourceServices  = "services"
)

// blocklistPayload is the plain blocklist source: { domains: [] }.
type blocklistPayload struct {
	Domains []string `json:"domains"`
}

// servicesPayload is the annotated source.
type servicesPayload struct {
	Fingerprinting []string `json:"fingerprinting"`
	Trackers       []struct {
		Domain   string `json:"domain"`
		Category string `json:"category"`
	} `json:"trackers"`
}

// Index holds the loaded domain sets. Lookups match the exact registrable
// domain or any parent suffix of the queried host.
type Index struct {
	trackers       map[string]string // domain -> category ("" when unannotated)
	fingerprinters map[string]struct{}
}

// Load reads both list sources from repo, falling back to the embedded demo
// fixtures per source. Malformed entries are filtered, not rejected.
func Load(ctx context.Context, repo ports.TrackerListRepository, log *slog.Logger) *Index {
	ix := &Index{
		trackers:       make(map[string]string),
		fingerprinters: make(map[string]struct{}),
	}

	var bl blocklistPayload
	if err := json.Unmarshal(payloadFor(ctx, repo, SourceBlocklist, log), &bl); err != nil {
		log.Warn("tracker blocklist unparseable", "error", err)
	}
	for _, d := range bl.Domains {
		if d = cleanDomain(d); d != "" {
			if _, ok := ix.trackers[d]; !ok {
				ix.trackers[d] = ""
			}
		}
	}

	var sv servicesPayload
	if err := json.Unmarshal(payloadFor(ctx, repo, SourceServices, log), &sv); err != nil {
		log.Warn("tracker services list unparseable", "error", err)
	}
	for _, t := range sv.Trackers {
		if d := cleanDomain(t.Domain); d != "" {
			ix.trackers[d] = t.Category
		}
	}
	for _, d := range sv.Fingerprinting {
		if d = cleanDomain(d); d != "" {
			ix.fingerprinters[d] = struct{}{}
		}
	}

	log.Info("tracker index loaded", "trackers", len(ix.trackers), "fingerprinters", len(ix.fingerprinters))
	return ix
}

func payloadFor(ctx context.Context, repo ports.TrackerListRepository, source string, log *slog.Logger) []byte {
	if repo != nil {
		rec, ok, err := repo.Latest(ctx, source)
		if err != nil {
			log.Warn("tracker list read failed, using fixture", "source", source, "error", err)
		} else if ok && len(rec.Payload) > 0 {
			return rec.Payload
		}
	}
	data, err := fixtures.ReadFile("fixtures/" + source + ".json")
	if err != nil {
		log.Error("tracker fixture missing", "source", source, "error", err)
		return []byte(`{}`)
	}
	return data
}

func cleanDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimSuffix(d, ".")
	if d == "" || strings.ContainsAny(d, " /:") || !strings.Contains(d, ".") {
		return ""
	}
	return d
}

// IsTracker reports whether domain (or a parent of it) is a listed tracker.
func (ix *Index) IsTracker(domain string) bool {
	_, ok := lookup(ix.trackers, domain)
	return ok
}

// Category returns the listed category for a tracker domain, if any.
func (ix *Index) Category(domain string) string {
	cat, _ := lookup(ix.trackers, domain)
	return cat
}

// IsFingerprinter reports whether domain is a known fingerprinting provider.
func (ix *Index) IsFingerprinter(domain string) bool {
	d := cleanDomain(domain)
	for d != "" {
		if _, ok := ix.fingerprinters[d]; ok {
			return true
		}
		d = parent(d)
	}
	return false
}

func lookup(set map[string]string, domain string) (string, bool) {
	d := cleanDomain(domain)
	for d != "" {
		if v, ok := set[d]; ok {
			return v, true
		}
		d = parent(d)
	}
	return "", false
}

func parent(d string) string {
	i := strings.Index(d, ".")
	if i < 0 {
		return ""
	}
	rest := d[i+1:]
	if !strings.Contains(rest, ".") {
		return ""
	}
	return rest
}
