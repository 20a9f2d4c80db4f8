// Package model defines the immutable domain records that flow through the
// ingestion pipeline: raw frames, normalized security events, threat
// candidates, alerts, and the whitelist/profile records consulted along the way.
package model

import (
	"net/netip"
	"time"
)

// Transport identifies the listener a raw frame arrived on.
type Transport string

const (
	TransportUDP Transport = "udp"
	TransportTCP Transport = "tcp"
	TransportTLS Transport = "tls"
)

// ClockSkewAllowance bounds how far ahead of ingest time a device-reported
// timestamp may be before it is clamped.
const ClockSkewAllowance = 300 * time.Second

// RawEvent is a syslog frame as received off the wire, before parsing.
// TenantID is resolved at the listener from structured data, SNI, or the
// peer address; frames that cannot be attributed never become RawEvents.
type RawEvent struct {
	ReceivedAt time.Time
	Bytes      []byte
	Peer       netip.AddrPort
	Transport  Transport
	TenantID   string
}

// EventKind classifies a normalized event for the detection engines.
type EventKind string

const (
	KindAuthSuccess EventKind = "auth_success"
	KindAuthFailure EventKind = "auth_failure"
	KindPortAccess  EventKind = "port_access"
	KindOther       EventKind = "other"
)

// SecurityEvent is the canonical, normalized form of a syslog message.
// Instances are immutable once emitted by the normalizer.
type SecurityEvent struct {
	EventID    string
	TenantID   string
	EventTime  time.Time
	IngestTime time.Time
	SourceIP   netip.Addr
	DestIP     netip.Addr // zero value when absent
	DestPort   uint16     // 0 when absent
	Username   string     // empty when absent
	Kind       EventKind
	Protocol   Transport
	Facility   int
	Severity   int
	RawMessage string

	// Clamped is set when the device-reported time exceeded the clock skew
	// allowance and EventTime was replaced with IngestTime.
	Clamped bool
}

// ClampEventTime enforces event_time <= ingest_time + skew allowance.
// It returns the effective event time and whether clamping occurred.
func ClampEventTime(eventTime, ingestTime time.Time) (time.Time, bool) {
	if eventTime.After(ingestTime.Add(ClockSkewAllowance)) {
		return ingestTime, true
	}
	return eventTime, false
}
