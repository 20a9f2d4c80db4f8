// Package normalize converts parsed syslog frames into canonical
// SecurityEvents: event-kind classification, username and destination-port
// extraction, source attribution, and clock-skew clamping.
package normalize

import (
	"log/slog"
	"net/netip"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/ashisays/BITS-SIEM-sub001/internal/ingest"
	"github.com/ashisays/BITS-SIEM-sub001/internal/metrics"
	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
)

var (
	// Username appears after "for" (optionally "invalid user") or "user=".
	reUserFor   = regexp.MustCompile(`\bfor (?:invalid user )?([A-Za-z0-9._@-]+)`)
	reUserKV    = regexp.MustCompile(`\buser=([A-Za-z0-9._@-]+)`)
	reInvalid   = regexp.MustCompile(`\bInvalid user ([A-Za-z0-9._@-]+)`)

	// Source host appears as rhost=, SRC=, or "from <ip>".
	reRhost = regexp.MustCompile(`\brhost=([0-9a-fA-F.:]+)`)
	reSrcKV = regexp.MustCompile(`\bSRC=([0-9a-fA-F.:]+)`)
	reFrom  = regexp.MustCompile(`\bfrom ([0-9]+\.[0-9]+\.[0-9]+\.[0-9]+|[0-9a-fA-F:]*:[0-9a-fA-F:]+)`)

	// Destination port appears as dpt=, DPT=, "to port N", or "port N".
	rePort = regexp.MustCompile(`\b(?:[dD][pP][tT]=|to port |port )([0-9]+)`)

	reExitCode = regexp.MustCompile(`\bexit (?:code|status) ([0-9]+)`)
)

var failureSignals = []string{
	"Failed password",
	"authentication failure",
	"Invalid user",
}

var successSignals = []string{
	"Accepted password",
	"Accepted publickey",
	"session opened",
}

var portAccessSignals = []string{
	"connection attempt",
	"DENY",
	"DROP",
	"REJECT",
	"BLOCK",
}

// Normalizer is a pure function over envelopes; it keeps no state besides
// counters and is safe to run from multiple workers.
type Normalizer struct {
	met *metrics.Metrics
	log *slog.Logger
}

func New(met *metrics.Metrics, logger *slog.Logger) *Normalizer {
	return &Normalizer{met: met, log: logger.With("component", "normalize")}
}

// Normalize converts one envelope into a SecurityEvent. It returns ok=false
// for events that fail validation (no tenant, no source IP); those are
// dropped and counted.
func (n *Normalizer) Normalize(env *ingest.Envelope) (*model.SecurityEvent, bool) {
	raw, msg := env.Raw, env.Msg
	if raw.TenantID == "" {
		n.met.EventsInvalid.Inc()
		return nil, false
	}

	sourceIP := extractSourceIP(msg.Text)
	if !sourceIP.IsValid() {
		sourceIP = raw.Peer.Addr()
	}
	if !sourceIP.IsValid() {
		n.met.EventsInvalid.Inc()
		return nil, false
	}

	kind, destPort := classify(msg.AppName, msg.Text)
	eventTime, clamped := model.ClampEventTime(msg.Time, raw.ReceivedAt)

	ev := &model.SecurityEvent{
		EventID:    uuid.NewString(),
		TenantID:   raw.TenantID,
		EventTime:  eventTime,
		IngestTime: raw.ReceivedAt,
		SourceIP:   sourceIP,
		DestPort:   destPort,
		Username:   extractUsername(msg.Text),
		Kind:       kind,
		Protocol:   raw.Transport,
		Facility:   msg.Facility,
		Severity:   msg.Severity,
		RawMessage: msg.Text,
		Clamped:    clamped,
	}
	n.met.EventsNormalized.WithLabelValues(ev.TenantID, string(kind)).Inc()
	return ev, true
}

// PartitionKey returns the attribution key the envelope's event will carry:
// tenant plus the source address Normalize extracts. The pipeline partitions
// envelopes across normalize workers by this key so one source's events stay
// in arrival order through the parallel stage.
func PartitionKey(env *ingest.Envelope) string {
	ip := extractSourceIP(env.Msg.Text)
	if !ip.IsValid() {
		ip = env.Raw.Peer.Addr()
	}
	return env.Raw.TenantID + "|" + ip.String()
}

// classify maps message content onto an event kind. Failure signals win
// over success signals because messages like "Failed password for invalid
// user x" carry both vocabularies.
func classify(appName, text string) (model.EventKind, uint16) {
	for _, sig := range failureSignals {
		if strings.Contains(text, sig) {
			return model.KindAuthFailure, 0
		}
	}
	if appName == "sshd" {
		if m := reExitCode.FindStringSubmatch(text); m != nil && m[1] != "0" {
			return model.KindAuthFailure, 0
		}
	}
	for _, sig := range successSignals {
		if strings.Contains(text, sig) {
			return model.KindAuthSuccess, 0
		}
	}
	for _, sig := range portAccessSignals {
		if strings.Contains(text, sig) {
			if port, ok := extractDestPort(text); ok {
				return model.KindPortAccess, port
			}
			// Ports outside 1-65535 are rejected; the event degrades to
			// "other" rather than feeding the scan engine garbage.
			break
		}
	}
	return model.KindOther, 0
}

// extractDestPort returns the first integer in 1..65535 following a port
// marker.
func extractDestPort(text string) (uint16, bool) {
	for _, m := range rePort.FindAllStringSubmatch(text, -1) {
		v, err := strconv.Atoi(m[1])
		if err == nil && v >= 1 && v <= 65535 {
			return uint16(v), true
		}
	}
	return 0, false
}

func extractUsername(text string) string {
	if m := reInvalid.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := reUserFor.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	if m := reUserKV.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func extractSourceIP(text string) netip.Addr {
	for _, re := range []*regexp.Regexp{reRhost, reSrcKV, reFrom} {
		if m := re.FindStringSubmatch(text); m != nil {
			if addr, err := netip.ParseAddr(m[1]); err == nil {
				return addr
			}
		}
	}
	return netip.Addr{}
}
