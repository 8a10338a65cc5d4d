// Package scoring aggregates a scan's accumulated evidence into a numeric
// score, a qualitative label, a ranked issue list and a data-sharing risk
// level, then persists the report atomically.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"argus/internal/domain"
	"argus/internal/ports"
)

// Deduction weights. Tunable policy, not a structural contract.
const (
	deductPerTracker     = 12
	deductTrackerCap     = 40
	deductPerThirdParty  = 2
	deductThirdPartyCap  = 16
	deductPerHeader      = 4
	deductPerCookie      = 3
	deductCookieCap      = 12
	deductFingerprinting = 8
	deductMixedContent   = 8
	deductNoHTTPS        = 15
	deductNoPolicyLink   = 5
)

// Result is one compiled report.
type Result struct {
	Score    int
	Label    string
	Level    domain.RiskLevel
	Index    int
	Issues   []domain.Issue
	TopFixes []domain.Issue
	Summary  string
	Meta     map[string]any
}

type Compiler struct {
	evidence ports.EvidenceRepository
	reports  ports.ReportRepository
	log      *slog.Logger
}

func New(evidence ports.EvidenceRepository, reports ports.ReportRepository, log *slog.Logger) *Compiler {
	return &Compiler{evidence: evidence, reports: reports, log: log}
}

// Finalize reads all evidence for the scan, compiles the report and replaces
// the scan's issues plus its score/label/summary/meta in one atomic write.
// Repeated passes over unchanged evidence produce identical output.
func (c *Compiler) Finalize(ctx context.Context, scanID string) (Result, error) {
	evs, err := c.evidence.ListByScan(ctx, scanID)
	if err != nil {
		return Result{}, fmt.Errorf("list evidence: %w", err)
	}
	res := Compile(evs)
	for i := range res.Issues {
		res.Issues[i].ScanID = scanID
	}
	if err := c.reports.FinalizeReport(ctx, scanID, res.Issues, res.Score, res.Label, res.Summary, res.Meta); err != nil {
		return Result{}, fmt.Errorf("finalize report: %w", err)
	}
	c.log.Info("scan scored", "scan_id", scanID, "score", res.Score, "label", res.Label, "data_sharing", res.Level)
	return res, nil
}

// Compile derives the report from an evidence set. Pure; evidence order is
// irrelevant.
func Compile(evs []domain.Evidence) Result {
	var (
		trackerDomains    = map[string]bool{}
		thirdPartyDomains = map[string]bool{}
		missingHeaders    = map[string]bool{}
		cookieCount       int
		fingerprinting    bool
		mixedContent      bool
		policyPresent     bool
		tlsGrade          string
	)

	for _, ev := range evs {
		switch ev.Kind {
		case domain.EvidenceTracker:
			if d, ok := ev.Details["domain"].(string); ok {
				trackerDomains[d] = true
			}
		case domain.EvidenceThirdParty:
			if d, ok := ev.Details["domain"].(string); ok {
				thirdPartyDomains[d] = true
			}
		case domain.EvidenceHeader:
			if h, ok := ev.Details["header"].(string); ok {
				missingHeaders[h] = true
			}
		case domain.EvidenceCookie:
			cookieCount++
		case domain.EvidenceFingerprint:
			fingerprinting = true
		case domain.EvidenceInsecure:
			mixedContent = true
		case domain.EvidencePolicy:
			policyPresent = true
		case domain.EvidenceTLS:
			if g, ok := ev.Details["grade"].(string); ok {
				tlsGrade = g
			}
		}
	}

	score := 100
	score -= capped(len(trackerDomains)*deductPerTracker, deductTrackerCap)
	score -= capped(len(thirdPartyDomains)*deductPerThirdParty, deductThirdPartyCap)
	score -= len(missingHeaders) * deductPerHeader
	score -= capped(cookieCount*deductPerCookie, deductCookieCap)
	if fingerprinting {
		score -= deductFingerprinting
	}
	if mixedContent {
		score -= deductMixedContent
	}
	if tlsGrade != "" && tlsGrade != "A" {
		score -= deductNoHTTPS
	}
	if !policyPresent {
		score -= deductNoPolicyLink
	}
	if score < 0 {
		score = 0
	}

	index := len(trackerDomains)*2 + len(thirdPartyDomains) + cookieCount
	level := domain.RiskLevelForIndex(index)
	issues := deriveIssues(trackerDomains, thirdPartyDomains, missingHeaders, cookieCount, fingerprinting, mixedContent, policyPresent, tlsGrade)

	res := Result{
		Score:    score,
		Label:    labelFor(score),
		Level:    level,
		Index:    index,
		Issues:   issues,
		TopFixes: topFixes(issues),
		Summary: fmt.Sprintf("Privacy score %d (%s): %d tracker domain(s), %d third-party domain(s), data sharing %s.",
			score, labelFor(score), len(trackerDomains), len(thirdPartyDomains), level),
	}
	res.Meta = map[string]any{
		"data_sharing_level": string(level),
		"data_sharing_index": index,
		"tracker_domains":    sortedKeys(trackerDomains),
		"thirdparty_domains": sortedKeys(thirdPartyDomains),
		"top_fixes":          issueKeys(res.TopFixes),
	}
	return res
}

func labelFor(score int) string {
	switch {
	case score >= 90:
		return domain.LabelExcellent
	case score >= 75:
		return domain.LabelGood
	case score >= 55:
		return domain.LabelFair
	case score >= 35:
		return domain.LabelPoor
	default:
		return domain.LabelCritical
	}
}

func deriveIssues(trackers, thirdParty, headers map[string]bool, cookies int, fingerprinting, mixed, policy bool, tlsGrade string) []domain.Issue {
	var issues []domain.Issue

	if n := len(trackers); n > 0 {
		sev := domain.SeverityHigh
		if n >= 3 {
			sev = domain.SeverityCritical
		}
		issues = append(issues, domain.Issue{
			Key:         "trackers",
			Severity:    sev,
			Category:    "tracking",
			Title:       fmt.Sprintf("%d known tracker domain(s) embedded", n),
			Summary:     "Resources are loaded from domains on the tracker blocklist: " + strings.Join(sortedKeys(trackers), ", ") + ".",
			Remediation: "Remove tracking scripts or gate them behind consent.",
			References:  []string{"https://whotracks.me/"},
			SortWeight:  10,
		})
	}
	if tlsGrade != "" && tlsGrade != "A" {
		issues = append(issues, domain.Issue{
			Key:         "no-https",
			Severity:    domain.SeverityHigh,
			Category:    "transport",
			Title:       "Site is not served over HTTPS",
			Summary:     "The target was scanned over plain HTTP, exposing visitors to eavesdropping.",
			Remediation: "Serve all traffic over HTTPS and redirect HTTP to HTTPS.",
			References:  []string{"https://developer.mozilla.org/docs/Web/Security/Transport_Layer_Security"},
			SortWeight:  15,
		})
	}
	if fingerprinting {
		issues = append(issues, domain.Issue{
			Key:         "fingerprinting",
			Severity:    domain.SeverityHigh,
			Category:    "tracking",
			Title:       "Browser fingerprinting signals detected",
			Summary:     "Page markup uses APIs commonly employed for device fingerprinting (canvas, audio context, plugin enumeration).",
			Remediation: "Audit scripts that read canvas or audio data and drop fingerprinting vendors.",
			SortWeight:  20,
		})
	}
	if mixed {
		issues = append(issues, domain.Issue{
			Key:         "mixed-content",
			Severity:    domain.SeverityHigh,
			Category:    "transport",
			Title:       "Mixed content on HTTPS pages",
			Summary:     "Pages served over HTTPS reference plain http:// resources.",
			Remediation: "Load every sub-resource over HTTPS.",
			SortWeight:  25,
		})
	}
	if n := len(headers); n > 0 {
		sev := domain.SeverityMedium
		if n >= 4 {
			sev = domain.SeverityHigh
		}
		issues = append(issues, domain.Issue{
			Key:         "security-headers",
			Severity:    sev,
			Category:    "headers",
			Title:       fmt.Sprintf("%d security header(s) missing", n),
			Summary:     "Missing: " + strings.Join(sortedKeys(headers), ", ") + ".",
			Remediation: "Configure the web server to send the standard security headers.",
			References:  []string{"https://owasp.org/www-project-secure-headers/"},
			SortWeight:  30,
		})
	}
	if cookies > 0 {
		issues = append(issues, domain.Issue{
			Key:         "insecure-cookies",
			Severity:    domain.SeverityMedium,
			Category:    "cookies",
			Title:       fmt.Sprintf("%d cookie(s) set without Secure or SameSite", cookies),
			Summary:     "Cookies without Secure and SameSite attributes can leak across sites and over plain HTTP.",
			Remediation: "Set Secure and an appropriate SameSite attribute on every cookie.",
			SortWeight:  40,
		})
	}
	if n := len(thirdParty); n > 0 {
		issues = append(issues, domain.Issue{
			Key:         "third-party-resources",
			Severity:    domain.SeverityLow,
			Category:    "tracking",
			Title:       fmt.Sprintf("Resources loaded from %d third-party domain(s)", n),
			Summary:     "Each third-party domain learns about your visitors: " + strings.Join(sortedKeys(thirdParty), ", ") + ".",
			Remediation: "Self-host assets where practical and prune unused embeds.",
			SortWeight:  50,
		})
	}
	if !policy {
		issues = append(issues, domain.Issue{
			Key:         "no-privacy-policy",
			Severity:    domain.SeverityLow,
			Category:    "governance",
			Title:       "No privacy policy link found",
			Summary:     "The landing page has no discoverable privacy policy link.",
			Remediation: "Link a privacy policy from every page footer.",
			SortWeight:  60,
		})
	}

	sort.SliceStable(issues, func(i, j int) bool { return issues[i].SortWeight < issues[j].SortWeight })
	return issues
}

// topFixes selects issues of severity medium and above, ordered by severity
// rank descending then sort weight ascending, truncated to three.
func topFixes(issues []domain.Issue) []domain.Issue {
	var fixes []domain.Issue
	for _, is := range issues {
		if is.Severity.Rank() >= domain.SeverityMedium.Rank() {
			fixes = append(fixes, is)
		}
	}
	sort.SliceStable(fixes, func(i, j int) bool {
		if fixes[i].Severity.Rank() != fixes[j].Severity.Rank() {
			return fixes[i].Severity.Rank() > fixes[j].Severity.Rank()
		}
		return fixes[i].SortWeight < fixes[j].SortWeight
	})
	if len(fixes) > 3 {
		fixes = fixes[:3]
	}
	return fixes
}

func capped(v, limit int) int {
	if v > limit {
		return limit
	}
	return v
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func issueKeys(issues []domain.Issue) []string {
	keys := make([]string, 0, len(issues))
	for _, is := range issues {
		keys = append(keys, is.Key)
	}
	return keys
}
