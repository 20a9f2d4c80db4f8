package normalize

import (
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashisays/BITS-SIEM-sub001/internal/ingest"
	"github.com/ashisays/BITS-SIEM-sub001/internal/metrics"
	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
	"github.com/ashisays/BITS-SIEM-sub001/internal/syslog"
)

var testPeer = netip.MustParseAddrPort("10.0.0.50:40000")

func envelope(appName, text string, at time.Time) *ingest.Envelope {
	return &ingest.Envelope{
		Raw: model.RawEvent{
			ReceivedAt: at,
			Peer:       testPeer,
			Transport:  model.TransportTCP,
			TenantID:   "acme",
		},
		Msg: &syslog.Message{
			Facility: 4, Severity: 2, Version: 1,
			Time: at, AppName: appName, Text: text,
		},
	}
}

func newTestNormalizer() *Normalizer {
	return New(metrics.New(prometheus.NewRegistry()), slog.Default())
}

func TestClassification(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	n := newTestNormalizer()

	cases := []struct {
		name     string
		app      string
		text     string
		kind     model.EventKind
		username string
		sourceIP string
		destPort uint16
	}{
		{
			name:     "ssh failed password",
			app:      "sshd",
			text:     "Failed password for admin from 203.0.113.7 port 52311 ssh2",
			kind:     model.KindAuthFailure,
			username: "admin",
			sourceIP: "203.0.113.7",
		},
		{
			name:     "ssh invalid user",
			app:      "sshd",
			text:     "Invalid user oracle from 203.0.113.7 port 52312",
			kind:     model.KindAuthFailure,
			username: "oracle",
			sourceIP: "203.0.113.7",
		},
		{
			name:     "pam authentication failure",
			app:      "su",
			text:     "pam_unix(su:auth): authentication failure; logname= uid=1000 rhost=192.0.2.9 user=root",
			kind:     model.KindAuthFailure,
			username: "root",
			sourceIP: "192.0.2.9",
		},
		{
			name:     "accepted password",
			app:      "sshd",
			text:     "Accepted password for deploy from 10.0.0.5 port 22 ssh2",
			kind:     model.KindAuthSuccess,
			username: "deploy",
			sourceIP: "10.0.0.5",
		},
		{
			name:     "accepted publickey",
			app:      "sshd",
			text:     "Accepted publickey for git from 10.0.0.6 port 22 ssh2: RSA SHA256:abc",
			kind:     model.KindAuthSuccess,
			username: "git",
			sourceIP: "10.0.0.6",
		},
		{
			// The failure vocabulary wins when both appear.
			name:     "failed for invalid user carries both vocabularies",
			app:      "sshd",
			text:     "Failed password for invalid user test from 203.0.113.7 port 22",
			kind:     model.KindAuthFailure,
			username: "test",
			sourceIP: "203.0.113.7",
		},
		{
			name:     "firewall drop",
			app:      "kernel",
			text:     "DROP IN=eth0 SRC=198.51.100.23 DST=10.0.0.1 PROTO=TCP DPT=3389",
			kind:     model.KindPortAccess,
			sourceIP: "198.51.100.23",
			destPort: 3389,
		},
		{
			name:     "connection attempt with port phrase",
			app:      "fw",
			text:     "connection attempt from 198.51.100.23 to port 8443",
			kind:     model.KindPortAccess,
			sourceIP: "198.51.100.23",
			destPort: 8443,
		},
		{
			// Port 0 is invalid; the event degrades to other.
			name:     "port access with invalid port",
			app:      "fw",
			text:     "DENY SRC=198.51.100.23 DPT=0",
			kind:     model.KindOther,
			sourceIP: "198.51.100.23",
		},
		{
			// 70000 is out of range for a port.
			name:     "port access with out of range port",
			app:      "fw",
			text:     "DENY SRC=198.51.100.23 DPT=70000",
			kind:     model.KindOther,
			sourceIP: "198.51.100.23",
		},
		{
			name: "unclassified",
			app:  "cron",
			text: "job completed",
			kind: model.KindOther,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, ok := n.Normalize(envelope(tc.app, tc.text, now))
			require.True(t, ok)
			assert.Equal(t, tc.kind, ev.Kind)
			assert.Equal(t, tc.username, ev.Username)
			assert.Equal(t, tc.destPort, ev.DestPort)
			assert.Equal(t, "acme", ev.TenantID)
			assert.NotEmpty(t, ev.EventID)
			if tc.sourceIP != "" {
				assert.Equal(t, tc.sourceIP, ev.SourceIP.String())
			} else {
				// No address in the message: the peer address stands in.
				assert.Equal(t, testPeer.Addr(), ev.SourceIP)
			}
		})
	}
}

func TestNormalizeSSHExitCode(t *testing.T) {
	now := time.Now()
	n := newTestNormalizer()

	ev, ok := n.Normalize(envelope("sshd", "Disconnected from 203.0.113.7: exit code 255", now))
	require.True(t, ok)
	assert.Equal(t, model.KindAuthFailure, ev.Kind)

	// Exit code 0 is a clean close, not a failure.
	ev, ok = n.Normalize(envelope("sshd", "Disconnected from 203.0.113.7: exit code 0", now))
	require.True(t, ok)
	assert.Equal(t, model.KindOther, ev.Kind)
}

func TestNormalizeClockSkewClamp(t *testing.T) {
	ingestAt := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	n := newTestNormalizer()

	// 10 minutes ahead of ingest exceeds the 5 minute allowance.
	env := envelope("sshd", "Failed password for root from 203.0.113.7 port 22", ingestAt)
	env.Msg.Time = ingestAt.Add(10 * time.Minute)
	ev, ok := n.Normalize(env)
	require.True(t, ok)
	assert.True(t, ev.Clamped)
	assert.True(t, ev.EventTime.Equal(ingestAt))

	// 4 minutes ahead is within the allowance and preserved.
	env = envelope("sshd", "Failed password for root from 203.0.113.7 port 22", ingestAt)
	env.Msg.Time = ingestAt.Add(4 * time.Minute)
	ev, ok = n.Normalize(env)
	require.True(t, ok)
	assert.False(t, ev.Clamped)
	assert.True(t, ev.EventTime.Equal(ingestAt.Add(4*time.Minute)))
}

func TestNormalizeDropsWithoutTenant(t *testing.T) {
	n := newTestNormalizer()
	env := envelope("sshd", "Failed password for root from 203.0.113.7 port 22", time.Now())
	env.Raw.TenantID = ""
	_, ok := n.Normalize(env)
	assert.False(t, ok)
}

func TestNormalizeDropsWithoutAnySourceIP(t *testing.T) {
	n := newTestNormalizer()
	env := envelope("cron", "job completed", time.Now())
	env.Raw.Peer = netip.AddrPort{}
	_, ok := n.Normalize(env)
	assert.False(t, ok)
}

func TestPartitionKeyMatchesAttribution(t *testing.T) {
	n := newTestNormalizer()

	// The key uses the address extracted from the message when present.
	env := envelope("sshd", "Failed password for root from 203.0.113.7 port 22", time.Now())
	ev, ok := n.Normalize(env)
	require.True(t, ok)
	assert.Equal(t, "acme|"+ev.SourceIP.String(), PartitionKey(env))
	assert.Equal(t, "acme|203.0.113.7", PartitionKey(env))

	// Without an address in the message, both fall back to the peer.
	env = envelope("cron", "job completed", time.Now())
	ev, ok = n.Normalize(env)
	require.True(t, ok)
	assert.Equal(t, "acme|"+ev.SourceIP.String(), PartitionKey(env))
	assert.Equal(t, "acme|"+testPeer.Addr().String(), PartitionKey(env))
}

func TestNormalizeIPv6Source(t *testing.T) {
	n := newTestNormalizer()
	ev, ok := n.Normalize(envelope("sshd", "Failed password for root from 2001:db8::7 port 22", time.Now()))
	require.True(t, ok)
	assert.Equal(t, "2001:db8::7", ev.SourceIP.String())
}
