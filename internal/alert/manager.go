// Package alert owns the alert lifecycle: fingerprint deduplication,
// cross-kind correlation, the status state machine, persistence, and
// notification callbacks. Writes are serialized per tenant so dedup
// ordering is deterministic.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/metrics"
	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
)

// Store is the durable persistence the manager writes through to. GetAlert
// backs lifecycle requests for alerts no longer held in memory;
// UpdateAlertStatus persists status-only changes without rewriting the row.
type Store interface {
	UpsertAlert(ctx context.Context, a *model.Alert) error
	GetAlert(ctx context.Context, alertID string) (*model.Alert, error)
	UpdateAlertStatus(ctx context.Context, alertID string, status model.AlertStatus, at time.Time) error
}

// Notify is invoked for every new alert and for severity escalations on an
// existing fingerprint. Updates that do not escalate are persisted silently.
type Notify func(a *model.Alert, escalated bool)

// Manager deduplicates candidates into alerts.
type Manager struct {
	store       Store // nil runs in-memory only (tests)
	met         *metrics.Metrics
	log         *slog.Logger
	dedupBucket time.Duration
	corrWindow  time.Duration
	notify      Notify

	mu      sync.Mutex
	tenants map[string]*tenantAlerts

	now func() time.Time
}

// tenantAlerts is the single-writer state for one tenant.
type tenantAlerts struct {
	mu       sync.Mutex
	byID     map[string]*model.Alert
	recent   []*model.Alert // kept for the correlation window
}

func NewManager(store Store, dedupBucket, corrWindow time.Duration, notify Notify, met *metrics.Metrics, logger *slog.Logger) *Manager {
	if notify == nil {
		notify = func(*model.Alert, bool) {}
	}
	return &Manager{
		store:       store,
		met:         met,
		log:         logger.With("component", "alert"),
		dedupBucket: dedupBucket,
		corrWindow:  corrWindow,
		notify:      notify,
		tenants:     make(map[string]*tenantAlerts),
		now:         time.Now,
	}
}

func (m *Manager) forTenant(tenantID string) *tenantAlerts {
	m.mu.Lock()
	defer m.mu.Unlock()
	ta, ok := m.tenants[tenantID]
	if !ok {
		ta = &tenantAlerts{byID: make(map[string]*model.Alert)}
		m.tenants[tenantID] = ta
	}
	return ta
}

// effectiveRisk blends raw risk with detection confidence. The blend is
// what severity is computed from; weights keep a saturated brute force at
// high rather than critical while lifting a confident mid-size port scan
// out of low.
func effectiveRisk(c *model.ThreatCandidate) float64 {
	return math.Min(1, 0.5*c.RawRisk+0.4*c.Confidence)
}

// Ingest folds one filtered candidate into the alert set. Candidates
// sharing a fingerprint inside one dedup bucket update the existing alert;
// the update never downgrades severity and only re-notifies on escalation.
func (m *Manager) Ingest(ctx context.Context, c *model.ThreatCandidate) *model.Alert {
	fp := model.Fingerprint(c.TenantID, c.SourceIP, c.Kind, c.LastSeen, m.dedupBucket)
	risk := effectiveRisk(c)
	severity := model.SeverityForRisk(risk)
	now := m.now()

	ta := m.forTenant(c.TenantID)
	ta.mu.Lock()
	defer ta.mu.Unlock()

	if a, ok := ta.byID[fp]; ok {
		m.mergeLocked(ctx, a, c, risk, now)
		return a
	}

	a := &model.Alert{
		AlertID:   fp,
		TenantID:  c.TenantID,
		SourceIP:  c.SourceIP,
		Kind:      c.Kind,
		Status:    model.StatusOpen,
		Severity:  severity,
		Risk:      risk,
		Evidence:  append([]string(nil), c.Evidence...),
		FirstSeen: c.FirstSeen,
		LastSeen:  c.LastSeen,
		CreatedAt: now,
		UpdatedAt: now,
		Degraded:  c.Degraded,
		Tags:      append([]string(nil), c.Tags...),
	}
	m.correlateLocked(ctx, ta, a)
	ta.byID[fp] = a
	ta.recent = append(ta.recent, a)
	m.pruneRecentLocked(ta, c.LastSeen)

	m.met.AlertsCreated.WithLabelValues(a.TenantID, string(a.Severity)).Inc()
	m.met.AlertsOpen.WithLabelValues(a.TenantID).Inc()
	m.persist(ctx, a)
	m.notify(snapshot(a), false)
	m.log.Info("alert created",
		"tenant", a.TenantID, "alert_id", a.AlertID, "kind", string(a.Kind),
		"severity", string(a.Severity), "source_ip", a.SourceIP.String())
	return a
}

func (m *Manager) mergeLocked(ctx context.Context, a *model.Alert, c *model.ThreatCandidate, risk float64, now time.Time) {
	if c.LastSeen.After(a.LastSeen) {
		a.LastSeen = c.LastSeen
	}
	if !c.FirstSeen.IsZero() && c.FirstSeen.Before(a.FirstSeen) {
		a.FirstSeen = c.FirstSeen
	}
	a.Evidence = mergeEvidence(a.Evidence, c.Evidence)
	if risk > a.Risk {
		a.Risk = risk
	}
	a.Degraded = a.Degraded || c.Degraded
	a.Tags = mergeEvidence(a.Tags, c.Tags)
	a.UpdatedAt = now

	escalated := false
	if next := model.SeverityForRisk(a.Risk); !a.Severity.AtLeast(next) {
		a.Severity = next
		escalated = true
	}

	m.met.AlertsUpdated.WithLabelValues(a.TenantID).Inc()
	m.persist(ctx, a)
	if escalated {
		m.notify(snapshot(a), true)
		m.log.Info("alert escalated", "tenant", a.TenantID, "alert_id", a.AlertID, "severity", string(a.Severity))
	}
}

// correlateLocked groups alerts for the same tenant and source across
// different kinds inside the correlation window. The group id is the alert
// id of the earliest member, which keeps replays deterministic.
func (m *Manager) correlateLocked(ctx context.Context, ta *tenantAlerts, a *model.Alert) {
	for _, other := range ta.recent {
		if other.SourceIP != a.SourceIP || other.Kind == a.Kind {
			continue
		}
		if absDuration(a.LastSeen.Sub(other.LastSeen)) > m.corrWindow {
			continue
		}
		if other.CorrelationGroup == "" {
			other.CorrelationGroup = other.AlertID
			// The peer is persisted immediately so the durable row carries
			// the group even if the peer never updates again.
			m.persist(ctx, other)
		}
		a.CorrelationGroup = other.CorrelationGroup
		m.met.Correlations.WithLabelValues(a.TenantID).Inc()
		return
	}
}

func (m *Manager) pruneRecentLocked(ta *tenantAlerts, ref time.Time) {
	keep := ta.recent[:0]
	for _, a := range ta.recent {
		if ref.Sub(a.LastSeen) <= m.corrWindow {
			keep = append(keep, a)
		}
	}
	ta.recent = keep
}

func (m *Manager) persist(ctx context.Context, a *model.Alert) {
	if m.store == nil {
		return
	}
	if err := m.store.UpsertAlert(ctx, snapshot(a)); err != nil {
		m.log.Warn("alert persist failed", "alert_id", a.AlertID, "error", err)
	}
}

// ── Lifecycle ────────────────────────────────────────────────────────────

var validTransitions = map[model.AlertStatus][]model.AlertStatus{
	model.StatusOpen:          {model.StatusInvestigating, model.StatusSuppressed},
	model.StatusInvestigating: {model.StatusResolved, model.StatusSuppressed},
	model.StatusResolved:      {model.StatusSuppressed},
	model.StatusSuppressed:    {},
}

// Transition applies a lifecycle change. Transitions are idempotent: moving
// to the current status is a no-op. Alerts no longer held in memory are
// reloaded from the durable store first. Suppression requires a matching
// post-hoc whitelist, asserted by the caller.
func (m *Manager) Transition(ctx context.Context, tenantID, alertID string, to model.AlertStatus) error {
	ta := m.forTenant(tenantID)
	ta.mu.Lock()
	defer ta.mu.Unlock()

	a, ok := ta.byID[alertID]
	if !ok {
		loaded, err := m.reload(ctx, tenantID, alertID)
		if err != nil {
			return err
		}
		a = loaded
		ta.byID[alertID] = a
	}
	if a.Status == to {
		return nil
	}
	allowed := false
	for _, next := range validTransitions[a.Status] {
		if next == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: %s -> %s", model.ErrPolicyViolation, a.Status, to)
	}

	wasOpen := !a.Status.Terminal()
	a.Status = to
	a.UpdatedAt = m.now()
	if wasOpen && a.Status.Terminal() {
		m.met.AlertsOpen.WithLabelValues(tenantID).Dec()
	}
	if m.store != nil {
		if err := m.store.UpdateAlertStatus(ctx, a.AlertID, a.Status, a.UpdatedAt); err != nil {
			m.log.Warn("alert status persist failed", "alert_id", a.AlertID, "error", err)
		}
	}
	return nil
}

// reload fetches an alert from the durable store, refusing cross-tenant ids.
func (m *Manager) reload(ctx context.Context, tenantID, alertID string) (*model.Alert, error) {
	if m.store == nil {
		return nil, fmt.Errorf("alert %s not found", alertID)
	}
	a, err := m.store.GetAlert(ctx, alertID)
	if err != nil || a.TenantID != tenantID {
		return nil, fmt.Errorf("alert %s not found", alertID)
	}
	return a, nil
}

// SuppressForWhitelist moves every open alert matching a newly added
// whitelist entry to suppressed.
func (m *Manager) SuppressForWhitelist(ctx context.Context, tenantID string, entry model.WhitelistEntry) int {
	ta := m.forTenant(tenantID)
	ta.mu.Lock()
	var ids []string
	for id, a := range ta.byID {
		if !a.Status.Terminal() && entry.Matches(a.SourceIP, "") {
			ids = append(ids, id)
		}
	}
	ta.mu.Unlock()

	for _, id := range ids {
		if err := m.Transition(ctx, tenantID, id, model.StatusSuppressed); err != nil {
			m.log.Warn("post-hoc suppression failed", "alert_id", id, "error", err)
		}
	}
	return len(ids)
}

// HasConfirmedAlert reports whether tenant+source has a non-suppressed
// alert on record; used to veto dynamic whitelist grants.
func (m *Manager) HasConfirmedAlert(tenantID, sourceIP string) bool {
	ta := m.forTenant(tenantID)
	ta.mu.Lock()
	defer ta.mu.Unlock()
	for _, a := range ta.byID {
		if a.SourceIP.String() == sourceIP && a.Status != model.StatusSuppressed {
			return true
		}
	}
	return false
}

// Get returns a snapshot of one alert.
func (m *Manager) Get(tenantID, alertID string) (*model.Alert, bool) {
	ta := m.forTenant(tenantID)
	ta.mu.Lock()
	defer ta.mu.Unlock()
	a, ok := ta.byID[alertID]
	if !ok {
		return nil, false
	}
	return snapshot(a), true
}

// List returns snapshots of all alerts for a tenant, ordered by creation.
func (m *Manager) List(tenantID string) []*model.Alert {
	ta := m.forTenant(tenantID)
	ta.mu.Lock()
	defer ta.mu.Unlock()
	out := make([]*model.Alert, 0, len(ta.byID))
	for _, a := range ta.byID {
		out = append(out, snapshot(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Flush persists every live alert; called on shutdown before exit.
func (m *Manager) Flush(ctx context.Context) {
	m.mu.Lock()
	tenants := make([]*tenantAlerts, 0, len(m.tenants))
	for _, ta := range m.tenants {
		tenants = append(tenants, ta)
	}
	m.mu.Unlock()

	for _, ta := range tenants {
		ta.mu.Lock()
		for _, a := range ta.byID {
			m.persist(ctx, a)
		}
		ta.mu.Unlock()
	}
}

// snapshot copies an alert so readers never observe later mutation.
func snapshot(a *model.Alert) *model.Alert {
	cp := *a
	cp.Evidence = append([]string(nil), a.Evidence...)
	cp.Tags = append([]string(nil), a.Tags...)
	return &cp
}

// mergeEvidence unions two id lists preserving first-seen order.
func mergeEvidence(have, add []string) []string {
	seen := make(map[string]struct{}, len(have))
	for _, id := range have {
		seen[id] = struct{}{}
	}
	for _, id := range add {
		if _, ok := seen[id]; !ok {
			have = append(have, id)
			seen[id] = struct{}{}
		}
	}
	return have
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
