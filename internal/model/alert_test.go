package model

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSeverityForRisk(t *testing.T) {
	assert.Equal(t, SeverityLow, SeverityForRisk(0.0))
	assert.Equal(t, SeverityLow, SeverityForRisk(0.39))
	assert.Equal(t, SeverityMedium, SeverityForRisk(0.4))
	assert.Equal(t, SeverityMedium, SeverityForRisk(0.59))
	assert.Equal(t, SeverityHigh, SeverityForRisk(0.6))
	assert.Equal(t, SeverityHigh, SeverityForRisk(0.84))
	assert.Equal(t, SeverityCritical, SeverityForRisk(0.85))
	assert.Equal(t, SeverityCritical, SeverityForRisk(1.0))
}

func TestSeverityAtLeast(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityLow))
	assert.True(t, SeverityMedium.AtLeast(SeverityMedium))
	assert.False(t, SeverityLow.AtLeast(SeverityHigh))
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusOpen.Terminal())
	assert.False(t, StatusInvestigating.Terminal())
	assert.True(t, StatusResolved.Terminal())
	assert.True(t, StatusSuppressed.Terminal())
}

func TestFingerprint(t *testing.T) {
	ip := netip.MustParseAddr("203.0.113.7")
	at := time.Date(2026, 8, 25, 12, 2, 17, 0, time.UTC)
	bucket := 5 * time.Minute

	fp := Fingerprint("acme", ip, ThreatBruteForce, at, bucket)
	assert.Len(t, fp, 40, "hex sha1")

	// Stable within a bucket.
	assert.Equal(t, fp, Fingerprint("acme", ip, ThreatBruteForce, at.Add(time.Minute), bucket))
	// Distinct across buckets, kinds, tenants, and sources.
	assert.NotEqual(t, fp, Fingerprint("acme", ip, ThreatBruteForce, at.Add(10*time.Minute), bucket))
	assert.NotEqual(t, fp, Fingerprint("acme", ip, ThreatPortScan, at, bucket))
	assert.NotEqual(t, fp, Fingerprint("globex", ip, ThreatBruteForce, at, bucket))
	assert.NotEqual(t, fp, Fingerprint("acme", netip.MustParseAddr("203.0.113.8"), ThreatBruteForce, at, bucket))
}

func TestClampEventTime(t *testing.T) {
	ingest := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	// Within the allowance: preserved.
	got, clamped := ClampEventTime(ingest.Add(4*time.Minute), ingest)
	assert.False(t, clamped)
	assert.True(t, got.Equal(ingest.Add(4*time.Minute)))

	// Exactly at the allowance: preserved.
	got, clamped = ClampEventTime(ingest.Add(ClockSkewAllowance), ingest)
	assert.False(t, clamped)
	assert.True(t, got.Equal(ingest.Add(ClockSkewAllowance)))

	// Past the allowance: replaced with ingest time.
	got, clamped = ClampEventTime(ingest.Add(6*time.Minute), ingest)
	assert.True(t, clamped)
	assert.True(t, got.Equal(ingest))

	// Timestamps in the past are never clamped.
	got, clamped = ClampEventTime(ingest.Add(-24*time.Hour), ingest)
	assert.False(t, clamped)
	assert.True(t, got.Equal(ingest.Add(-24*time.Hour)))
}

func TestWhitelistEntryMatches(t *testing.T) {
	ip := netip.MustParseAddr("10.0.0.5")
	other := netip.MustParseAddr("10.0.0.6")

	e := WhitelistEntry{Target: TargetIP, IP: ip}
	assert.True(t, e.Matches(ip, ""))
	assert.False(t, e.Matches(other, ""))

	e = WhitelistEntry{Target: TargetCIDR, CIDR: netip.MustParsePrefix("10.0.0.0/24")}
	assert.True(t, e.Matches(ip, ""))
	assert.False(t, e.Matches(netip.MustParseAddr("10.0.1.5"), ""))

	e = WhitelistEntry{Target: TargetUser, Username: "deploy"}
	assert.True(t, e.Matches(ip, "deploy"))
	assert.False(t, e.Matches(ip, "root"))
	assert.False(t, e.Matches(ip, ""))

	e = WhitelistEntry{Target: TargetUserIP, Username: "deploy", IP: ip}
	assert.True(t, e.Matches(ip, "deploy"))
	assert.False(t, e.Matches(other, "deploy"))
	assert.False(t, e.Matches(ip, "root"))
}

func TestWhitelistEntryExpired(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	// Zero expiry never lapses.
	assert.False(t, WhitelistEntry{}.Expired(now))
	assert.False(t, WhitelistEntry{ExpiresAt: now.Add(time.Hour)}.Expired(now))
	assert.True(t, WhitelistEntry{ExpiresAt: now.Add(-time.Hour)}.Expired(now))
}
