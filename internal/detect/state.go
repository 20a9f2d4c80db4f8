// Package detect implements the per-tenant stateful detection engines:
// brute-force and port-scan sliding windows sharded by (tenant, source_ip)
// so that state never crosses shards and no locks are needed on the hot path.
package detect

import (
	"time"
)

// logEntry is one authentication event inside a sliding window.
type logEntry struct {
	at       time.Time
	username string
	eventID  string
}

// portSeen records the first and last access to one destination port.
type portSeen struct {
	first   time.Time
	last    time.Time
	eventID string
}

// sourceState is the detection state for one (tenant, source_ip) pair.
// It is owned exclusively by the shard its key hashes to.
type sourceState struct {
	failures  []logEntry
	successes []logEntry
	ports     map[uint16]portSeen

	// latestSeen is the high-water event time; events at or behind
	// latestSeen minus the window are late and excluded from scoring.
	latestSeen time.Time

	// lastTouched tracks ingest time for idle eviction.
	lastTouched time.Time

	lastBFEmit      time.Time
	lastBFEmitCount int
	lastPSEmit      time.Time
	lastPSEmitCount int
}

func newSourceState() *sourceState {
	return &sourceState{ports: make(map[uint16]portSeen)}
}

// evictFailures drops failure entries at or past the window edge.
// An entry exactly at event_time - window falls outside the window.
func (s *sourceState) evictFailures(eventTime time.Time, window time.Duration) {
	edge := eventTime.Add(-window)
	i := 0
	for ; i < len(s.failures); i++ {
		if s.failures[i].at.After(edge) {
			break
		}
	}
	if i > 0 {
		s.failures = append(s.failures[:0], s.failures[i:]...)
	}
}

// evictSuccesses prunes the success log to the given window.
func (s *sourceState) evictSuccesses(eventTime time.Time, window time.Duration) {
	edge := eventTime.Add(-window)
	i := 0
	for ; i < len(s.successes); i++ {
		if s.successes[i].at.After(edge) {
			break
		}
	}
	if i > 0 {
		s.successes = append(s.successes[:0], s.successes[i:]...)
	}
}

// evictPorts drops ports whose last access is at or past the window edge.
func (s *sourceState) evictPorts(eventTime time.Time, window time.Duration) {
	edge := eventTime.Add(-window)
	for p, seen := range s.ports {
		if !seen.last.After(edge) {
			delete(s.ports, p)
		}
	}
}

// distinctFailureUsers counts distinct usernames in the failure window.
func (s *sourceState) distinctFailureUsers() int {
	seen := make(map[string]struct{}, len(s.failures))
	for _, e := range s.failures {
		if e.username != "" {
			seen[e.username] = struct{}{}
		}
	}
	return len(seen)
}

// touch advances the high-water marks.
func (s *sourceState) touch(eventTime, ingestTime time.Time) {
	if eventTime.After(s.latestSeen) {
		s.latestSeen = eventTime
	}
	if ingestTime.After(s.lastTouched) {
		s.lastTouched = ingestTime
	}
}
