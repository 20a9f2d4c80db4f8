package detect

import (
	"math"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
)

// onPortAccess feeds the port-scan window: distinct destination ports from
// one source inside the window, with one candidate per source per window.
// A scan that keeps widening re-arms the limiter, mirroring the brute-force
// escalation rule, so the open alert picks up the grown evidence and risk.
func (e *Engine) onPortAccess(st *sourceState, ev *model.SecurityEvent) {
	if ev.DestPort == 0 {
		return
	}
	window := e.psWindow()

	if !st.latestSeen.IsZero() && !ev.EventTime.After(st.latestSeen.Add(-window)) {
		e.met.LateEvents.WithLabelValues(ev.TenantID).Inc()
		st.touch(st.latestSeen, ev.IngestTime)
		return
	}

	seen, ok := st.ports[ev.DestPort]
	if !ok {
		seen = portSeen{first: ev.EventTime, eventID: ev.EventID}
	}
	if ev.EventTime.After(seen.last) {
		seen.last = ev.EventTime
	}
	st.ports[ev.DestPort] = seen
	st.evictPorts(ev.EventTime, window)
	st.touch(ev.EventTime, ev.IngestTime)

	distinct := len(st.ports)
	if distinct < e.cfg.PSThreshold {
		return
	}
	if !e.psEmitAllowed(st, ev.EventTime, distinct) {
		return
	}

	risk := math.Min(1, float64(distinct)/50)
	confidence := 0.5 + math.Min(0.4, float64(distinct)/100)

	evidence := make([]string, 0, distinct)
	var first time.Time
	for _, s := range st.ports {
		evidence = append(evidence, s.eventID)
		if first.IsZero() || s.first.Before(first) {
			first = s.first
		}
	}

	st.lastPSEmit = ev.EventTime
	st.lastPSEmitCount = distinct

	e.emit(&model.ThreatCandidate{
		TenantID:   ev.TenantID,
		SourceIP:   ev.SourceIP,
		Kind:       model.ThreatPortScan,
		FirstSeen:  first,
		LastSeen:   ev.EventTime,
		Evidence:   evidence,
		RawRisk:    risk,
		Confidence: confidence,
		Username:   ev.Username,
	})
}

// psEmitAllowed rate-limits candidate emission to one per window, re-armed
// when the scan has widened by at least half the threshold since the last
// emission.
func (e *Engine) psEmitAllowed(st *sourceState, at time.Time, distinct int) bool {
	if st.lastPSEmit.IsZero() {
		return true
	}
	if at.Sub(st.lastPSEmit) >= e.psWindow() {
		return true
	}
	return distinct >= st.lastPSEmitCount+(e.cfg.PSThreshold+1)/2
}
