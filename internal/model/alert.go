package model

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/netip"
	"time"
)

// ThreatKind names a detection engine's signal.
type ThreatKind string

const (
	ThreatBruteForce ThreatKind = "brute_force"
	ThreatPortScan   ThreatKind = "port_scan"
)

// ThreatCandidate is an unfiltered detection signal. Candidates pass through
// the false-positive filter before they can become alerts.
type ThreatCandidate struct {
	TenantID  string
	SourceIP  netip.Addr
	Kind      ThreatKind
	FirstSeen time.Time
	LastSeen  time.Time
	Evidence  []string // event ids
	RawRisk   float64
	Confidence float64
	Username  string // principal of the most recent contributing event, if any

	// Degraded marks candidates scored while the hot state store was
	// unavailable; their confidence has already been halved.
	Degraded bool

	// Tags carry filter annotations such as "impossible_travel".
	Tags []string
}

// AlertStatus is the alert lifecycle state.
type AlertStatus string

const (
	StatusOpen          AlertStatus = "open"
	StatusInvestigating AlertStatus = "investigating"
	StatusResolved      AlertStatus = "resolved"
	StatusSuppressed    AlertStatus = "suppressed"
)

// Terminal reports whether no further transitions are allowed from s,
// other than post-hoc suppression.
func (s AlertStatus) Terminal() bool {
	return s == StatusResolved || s == StatusSuppressed
}

// Severity buckets alert risk for routing and display.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityForRisk maps a risk score in [0,1] to a severity bucket.
func SeverityForRisk(risk float64) Severity {
	switch {
	case risk < 0.4:
		return SeverityLow
	case risk < 0.6:
		return SeverityMedium
	case risk < 0.85:
		return SeverityHigh
	default:
		return SeverityCritical
	}
}

// severityRank orders severities for monotone dedup: later updates to the
// same fingerprint never downgrade.
var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// AtLeast reports whether s is the same or a higher severity than other.
func (s Severity) AtLeast(other Severity) bool {
	return severityRank[s] >= severityRank[other]
}

// Fingerprint derives the deterministic alert identity for deduplication:
// SHA1(tenant | source_ip | kind | floor(event_time / bucket)).
func Fingerprint(tenantID string, sourceIP netip.Addr, kind ThreatKind, eventTime time.Time, bucket time.Duration) string {
	slot := eventTime.Unix() / int64(bucket.Seconds())
	h := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%s|%d", tenantID, sourceIP, kind, slot)))
	return hex.EncodeToString(h[:])
}

// Alert is the durable domain object produced by the alert manager.
// A notification is the transient delivery of an alert to a channel; the two
// are distinct on purpose.
type Alert struct {
	AlertID          string
	TenantID         string
	SourceIP         netip.Addr
	Kind             ThreatKind
	Status           AlertStatus
	Severity         Severity
	Risk             float64
	Evidence         []string
	FirstSeen        time.Time
	LastSeen         time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	CorrelationGroup string // empty unless correlated
	Degraded         bool
	Tags             []string
}
