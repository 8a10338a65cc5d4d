// Package classify inspects fetched pages and emits typed evidence records.
// Evidence writes are supplementary, not structural: a failed write is logged
// and never aborts the page or the scan.
package classify

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"argus/internal/crawler"
	"argus/internal/domain"
	"argus/internal/netsafe"
	"argus/internal/ports"
	"argus/internal/trackers"
)

// SecurityHeaders is the fixed set checked on every visited page.
var SecurityHeaders = []string{
	"content-security-policy",
	"referrer-policy",
	"strict-transport-security",
	"x-content-type-options",
	"permissions-policy",
}

// Approximate signal: canvas reads, audio-context construction and plugin
// enumeration are the usual fingerprinting tells.
var fingerprintRe = regexp.MustCompile(`(?i)(toDataURL\s*\(|getImageData\s*\(|new\s+(Offline)?AudioContext|webkitAudioContext|navigator\.plugins)`)

var policyRe = regexp.MustCompile(`(?i)(privacy|policy|datenschutz|data.?protection|gdpr)`)

type Classifier struct {
	evidence ports.EvidenceRepository
	index    *trackers.Index
	log      *slog.Logger

	targetDomain string
	targetHTTPS  bool
}

func New(evidence ports.EvidenceRepository, index *trackers.Index, targetHost, targetScheme string, log *slog.Logger) *Classifier {
	return &Classifier{
		evidence:     evidence,
		index:        index,
		log:          log,
		targetDomain: RegistrableDomain(targetHost),
		targetHTTPS:  targetScheme == "https",
	}
}

// RegistrableDomain reduces a host to its eTLD+1. IP literals and hosts the
// public suffix list cannot place fall back to the host itself.
func RegistrableDomain(host string) string {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	reg, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return reg
}

// Page runs every per-page check, plus the page-invariant checks when first
// is set.
func (c *Classifier) Page(ctx context.Context, scanID string, p *crawler.Page, first bool) {
	c.checkHeaders(ctx, scanID, p)
	c.checkCookies(ctx, scanID, p)
	c.checkResources(ctx, scanID, p)
	c.checkFingerprintMarkup(ctx, scanID, p)
	c.checkMixedContent(ctx, scanID, p)
	if first {
		c.checkPolicyLink(ctx, scanID, p)
		c.checkTLS(ctx, scanID)
	}
}

func (c *Classifier) append(ctx context.Context, ev domain.Evidence) {
	if err := c.evidence.Append(ctx, ev); err != nil {
		c.log.Warn("evidence write failed", "scan_id", ev.ScanID, "kind", ev.Kind, "error", err)
	}
}

func (c *Classifier) checkHeaders(ctx context.Context, scanID string, p *crawler.Page) {
	for _, name := range SecurityHeaders {
		if p.Header.Get(name) != "" {
			continue
		}
		c.append(ctx, domain.Evidence{
			ScanID:   scanID,
			Kind:     domain.EvidenceHeader,
			Severity: 2,
			Title:    "Missing security header: " + name,
			Details:  map[string]any{"header": name, "page": p.URL.String()},
		})
	}
}

func (c *Classifier) checkCookies(ctx context.Context, scanID string, p *crawler.Page) {
	for _, raw := range p.SetCookies {
		lower := strings.ToLower(raw)
		if strings.Contains(lower, "secure") || strings.Contains(lower, "samesite") {
			continue
		}
		name := raw
		if i := strings.IndexByte(name, '='); i > 0 {
			name = name[:i]
		}
		c.append(ctx, domain.Evidence{
			ScanID:   scanID,
			Kind:     domain.EvidenceCookie,
			Severity: 2,
			Title:    "Insecure cookie: " + strings.TrimSpace(name),
			Details:  map[string]any{"cookie": strings.TrimSpace(name), "page": p.URL.String()},
		})
	}
}

// checkResources classifies script/img/link resources into third-party and
// tracker evidence. Writes go out concurrently and best-effort.
func (c *Classifier) checkResources(ctx context.Context, scanID string, p *crawler.Page) {
	doc, err := p.Doc()
	if err != nil {
		return
	}

	type resource struct {
		host   string
		domain string
	}
	seen := make(map[string]bool)
	var resources []resource

	doc.Find("script[src], img[src], link[href]").Each(func(_ int, sel *goquery.Selection) {
		raw, ok := sel.Attr("src")
		if !ok {
			raw, ok = sel.Attr("href")
		}
		if !ok {
			return
		}
		u, err := p.Resolve(raw)
		if err != nil {
			return
		}
		host := u.Hostname()
		if host == "" || netsafe.Disallowed(host) {
			return
		}
		if seen[u.String()] {
			return
		}
		seen[u.String()] = true
		resources = append(resources, resource{host: host, domain: RegistrableDomain(host)})
	})

	var wg sync.WaitGroup
	for _, r := range resources {
		if r.domain == c.targetDomain {
			continue
		}
		wg.Add(1)
		go func(r resource) {
			defer wg.Done()
			c.append(ctx, domain.Evidence{
				ScanID:   scanID,
				Kind:     domain.EvidenceThirdParty,
				Severity: 2,
				Title:    "Third-party resource from " + r.domain,
				Details: map[string]any{
					"host":        r.host,
					"domain":      r.domain,
					"fingerprint": c.index.IsFingerprinter(r.domain),
					"page":        p.URL.String(),
				},
			})
			if c.index.IsTracker(r.domain) {
				c.append(ctx, domain.Evidence{
					ScanID:   scanID,
					Kind:     domain.EvidenceTracker,
					Severity: 3,
					Title:    "Tracker matched: " + r.domain,
					Details: map[string]any{
						"host":     r.host,
						"domain":   r.domain,
						"category": c.index.Category(r.domain),
						"page":     p.URL.String(),
					},
				})
			}
		}(r)
	}
	wg.Wait()
}

func (c *Classifier) checkFingerprintMarkup(ctx context.Context, scanID string, p *crawler.Page) {
	m := fingerprintRe.Find(p.Body)
	if m == nil {
		return
	}
	c.append(ctx, domain.Evidence{
		ScanID:   scanID,
		Kind:     domain.EvidenceFingerprint,
		Severity: 2,
		Title:    "Fingerprinting API usage in markup",
		Details:  map[string]any{"match": string(m), "page": p.URL.String()},
	})
}

func (c *Classifier) checkMixedContent(ctx context.Context, scanID string, p *crawler.Page) {
	if !c.targetHTTPS || !strings.Contains(string(p.Body), "http://") {
		return
	}
	c.append(ctx, domain.Evidence{
		ScanID:   scanID,
		Kind:     domain.EvidenceInsecure,
		Severity: 2,
		Title:    "Mixed content reference",
		Details:  map[string]any{"page": p.URL.String()},
	})
}

func (c *Classifier) checkPolicyLink(ctx context.Context, scanID string, p *crawler.Page) {
	doc, err := p.Doc()
	if err != nil {
		return
	}
	var href string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		h, _ := sel.Attr("href")
		if policyRe.MatchString(sel.Text()) || policyRe.MatchString(h) {
			href = h
			return false
		}
		return true
	})
	if href == "" {
		return
	}
	c.append(ctx, domain.Evidence{
		ScanID:   scanID,
		Kind:     domain.EvidencePolicy,
		Severity: 1,
		Title:    "Privacy policy link present",
		Details:  map[string]any{"href": href},
	})
}

func (c *Classifier) checkTLS(ctx context.Context, scanID string) {
	// Placeholder heuristic; real certificate inspection is out of scope.
	grade, severity := "A", 1
	if !c.targetHTTPS {
		grade, severity = "C", 3
	}
	c.append(ctx, domain.Evidence{
		ScanID:   scanID,
		Kind:     domain.EvidenceTLS,
		Severity: severity,
		Title:    "TLS grade " + grade,
		Details:  map[string]any{"grade": grade, "https": c.targetHTTPS},
	})
}
