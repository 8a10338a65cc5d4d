package domain

import "time"

// Core domain models used internally. The HTTP adapter exposes a thin JSON
// view of these; keep them decoupled where helpful.

type ScanStatus string

const (
	ScanQueued  ScanStatus = "queued"
	ScanRunning ScanStatus = "running"
	ScanDone    ScanStatus = "done"
	ScanError   ScanStatus = "error"
)

type TargetType string

const (
	TargetURL    TargetType = "url"
	TargetDomain TargetType = "domain"
	TargetIP     TargetType = "ip"
)

// EvidenceKind is the typed category of a single observed finding.
type EvidenceKind string

const (
	EvidenceHeader      EvidenceKind = "header"
	EvidenceCookie      EvidenceKind = "cookie"
	EvidenceThirdParty  EvidenceKind = "thirdparty"
	EvidenceTracker     EvidenceKind = "tracker"
	EvidenceFingerprint EvidenceKind = "fingerprint"
	EvidenceInsecure    EvidenceKind = "insecure"
	EvidencePolicy      EvidenceKind = "policy"
	EvidenceTLS         EvidenceKind = "tls"
)

type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityHigh     IssueSeverity = "high"
	SeverityMedium   IssueSeverity = "medium"
	SeverityLow      IssueSeverity = "low"
	SeverityInfo     IssueSeverity = "info"
)

// Rank maps an issue severity to its numeric rank (critical=5 .. info=1).
func (s IssueSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 5
	case SeverityHigh:
		return 4
	case SeverityMedium:
		return 3
	case SeverityLow:
		return 2
	case SeverityInfo:
		return 1
	}
	return 0
}

// RiskLevel is the coarse data-sharing exposure bucket.
type RiskLevel string

const (
	RiskNone   RiskLevel = "None"
	RiskLow    RiskLevel = "Low"
	RiskMedium RiskLevel = "Medium"
	RiskHigh   RiskLevel = "High"
)

// RiskLevelForIndex maps a data-sharing index to its level. Boundaries are
// exact: 0 -> None, (0,3] -> Low, (3,8] -> Medium, >8 -> High.
func RiskLevelForIndex(index int) RiskLevel {
	switch {
	case index <= 0:
		return RiskNone
	case index <= 3:
		return RiskLow
	case index <= 8:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Score labels, top band first.
const (
	LabelExcellent = "excellent"
	LabelGood      = "good"
	LabelFair      = "fair"
	LabelPoor      = "poor"
	LabelCritical  = "critical"
)

type Scan struct {
	ID              string
	RawInput        string
	NormalizedInput string
	TargetType      TargetType
	Status          ScanStatus
	Progress        int
	Score           *int
	Label           *string
	Summary         string
	Meta            map[string]any
	CreatedAt       time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
}

type Evidence struct {
	ID        string
	ScanID    string
	Kind      EvidenceKind
	Severity  int
	Title     string
	Details   map[string]any
	CreatedAt time.Time
}

type Issue struct {
	ID          string
	ScanID      string
	Key         string
	Severity    IssueSeverity
	Category    string
	Title       string
	Summary     string
	Remediation string
	References  []string
	SortWeight  int
}

// TrackerList is a cached list record, refreshed by an external admin
// operation. Read-only to the scan engine.
type TrackerList struct {
	ID        string
	Source    string
	Version   string
	Payload   []byte
	FetchedAt time.Time
}

// Job is the queue-level wrapper for one scan. Its identity is the scan id,
// so re-enqueueing the same scan is a no-op at the queue level.
type Job struct {
	ScanID          string
	URL             string
	NormalizedInput string
	RequestID       string
}

type DeadLetter struct {
	ScanID    string
	URL       string
	RequestID string
	Error     string
	IsTimeout bool
	FailedAt  time.Time
}
