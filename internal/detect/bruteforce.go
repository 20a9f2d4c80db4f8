package detect

import (
	"context"
	"math"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
	"github.com/ashisays/BITS-SIEM-sub001/internal/store"
)

// onAuthFailure feeds the brute-force window.
//
// Risk and confidence follow the fixed scoring curve: risk grows with the
// failure count relative to the threshold plus a bonus per distinct user
// attempted; confidence grows with user diversity.
func (e *Engine) onAuthFailure(st *sourceState, ev *model.SecurityEvent) {
	window := e.bfWindow()

	// Late events are excluded from scoring but still advance nothing.
	if !st.latestSeen.IsZero() && !ev.EventTime.After(st.latestSeen.Add(-window)) {
		e.met.LateEvents.WithLabelValues(ev.TenantID).Inc()
		st.touch(st.latestSeen, ev.IngestTime)
		return
	}

	st.failures = append(st.failures, logEntry{at: ev.EventTime, username: ev.Username, eventID: ev.EventID})
	sortTailByTime(st.failures)
	st.evictFailures(ev.EventTime, window)
	st.touch(ev.EventTime, ev.IngestTime)

	count := len(st.failures)
	if count < e.cfg.BFThreshold {
		return
	}

	if !e.bfEmitAllowed(st, ev.EventTime, count) {
		return
	}

	distinct := st.distinctFailureUsers()
	risk := math.Min(1, float64(count)/float64(e.cfg.BFThreshold)*0.7+float64(distinct)*0.1)
	confidence := 0.6 + math.Min(0.3, float64(distinct)*0.05)

	evidence := make([]string, 0, count)
	var first time.Time
	for i, f := range st.failures {
		evidence = append(evidence, f.eventID)
		if i == 0 || f.at.Before(first) {
			first = f.at
		}
	}

	st.lastBFEmit = ev.EventTime
	st.lastBFEmitCount = count

	e.emit(&model.ThreatCandidate{
		TenantID:   ev.TenantID,
		SourceIP:   ev.SourceIP,
		Kind:       model.ThreatBruteForce,
		FirstSeen:  first,
		LastSeen:   ev.EventTime,
		Evidence:   evidence,
		RawRisk:    risk,
		Confidence: confidence,
		Username:   ev.Username,
	})
}

// bfEmitAllowed rate-limits candidate emission to one per window/5. The
// limiter re-arms on escalation: when the failure count grows by half the
// threshold since the last emission, or crosses twice the threshold. The
// open alert then absorbs the grown evidence and risk through dedup.
func (e *Engine) bfEmitAllowed(st *sourceState, at time.Time, count int) bool {
	if st.lastBFEmit.IsZero() {
		return true
	}
	if at.Sub(st.lastBFEmit) >= e.bfWindow()/5 {
		return true
	}
	if count >= st.lastBFEmitCount+(e.cfg.BFThreshold+1)/2 {
		return true
	}
	return count >= 2*e.cfg.BFThreshold && st.lastBFEmitCount < 2*e.cfg.BFThreshold
}

// onAuthSuccess feeds the success log and, at five successes inside 24h,
// requests a dynamic whitelist grant for the source. The streak counter is
// mirrored to the hot store so restarts do not reset earned trust.
func (e *Engine) onAuthSuccess(ctx context.Context, st *sourceState, ev *model.SecurityEvent) {
	st.successes = append(st.successes, logEntry{at: ev.EventTime, username: ev.Username, eventID: ev.EventID})
	sortTailByTime(st.successes)
	st.touch(ev.EventTime, ev.IngestTime)
	// Evict against the high-water mark, not this event's time: a success
	// arriving with a stale device clock must not shrink the window edge
	// and keep even older entries counting toward the streak.
	st.evictSuccesses(st.latestSeen, successStreakWindow)

	streak := len(st.successes)
	if e.hot != nil {
		// The counter update is bounded by its own timeout and survives
		// pipeline cancellation, so events scored during the shutdown
		// drain do not trip degraded mode.
		hotCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		key := store.Key("succ", ev.TenantID, ev.SourceIP.String())
		if n, err := e.hot.Incr(hotCtx, key, successStreakWindow); err != nil {
			e.noteHotStoreErr(err)
		} else {
			e.noteHotStoreOK()
			if int(n) > streak {
				streak = int(n)
			}
		}
	}

	if streak == successStreakThreshold {
		select {
		case e.wlRequests <- DynamicWhitelistRequest{
			TenantID: ev.TenantID,
			SourceIP: ev.SourceIP.String(),
			TTL:      dynamicWhitelistTTL,
		}:
		default:
			e.log.Warn("whitelist request queue full", "tenant", ev.TenantID)
		}
	}
}

func (e *Engine) noteHotStoreErr(err error) {
	if e.degraded.CompareAndSwap(false, true) {
		e.log.Warn("hot store unavailable, scoring degraded", "error", err)
	}
}

func (e *Engine) noteHotStoreOK() {
	if e.degraded.CompareAndSwap(true, false) {
		e.log.Info("hot store recovered")
	}
}

// sortTailByTime restores time order when an in-window event arrives behind
// the newest entry. Only the tail is ever out of place, so a single
// insertion pass is enough.
func sortTailByTime(entries []logEntry) {
	for i := len(entries) - 1; i > 0; i-- {
		if !entries[i].at.Before(entries[i-1].at) {
			break
		}
		entries[i], entries[i-1] = entries[i-1], entries[i]
	}
}
