package filter

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/config"
	"github.com/ashisays/BITS-SIEM-sub001/internal/metrics"
	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
	"github.com/ashisays/BITS-SIEM-sub001/internal/tenant"
)

// Action is the filter's verdict on a candidate.
type Action int

const (
	ActionEmit Action = iota
	ActionSuppress
	ActionEmitAdjusted
)

// Suppression reasons, recorded per tenant in counters and the audit log.
const (
	ReasonStaticWhitelist  = "static_whitelist"
	ReasonMaintenance      = "maintenance_window"
	ReasonDynamicWhitelist = "dynamic_whitelist"
	ReasonLearnedWhitelist = "learned_whitelist"
	ReasonServiceAccount   = "service_account_tolerance"
	ReasonBusinessHours    = "business_hours_low_risk"

	TagImpossibleTravel = "impossible_travel"
)

// Decision is the recorded outcome for one candidate. Candidate carries
// any risk adjustment; on suppression it is the unmodified input.
type Decision struct {
	Action    Action
	Reason    string
	Candidate *model.ThreatCandidate
	At        time.Time
}

// AuditSink receives the append-only suppression log. Suppression is never
// silent: every suppress decision lands here and in a counter.
type AuditSink interface {
	InsertSuppression(ctx context.Context, tenantID, reason, fingerprint string, at time.Time) error
}

// Filter evaluates candidates against the whitelist tiers and contextual
// rules in fixed order; the earliest matching rule wins.
type Filter struct {
	cfg         config.FilterConfig
	bfThreshold int
	dedupBucket time.Duration

	reg      *tenant.Registry
	wl       *Whitelists
	profiles *Profiles
	geo      *geoTracker
	met      *metrics.Metrics
	audit    AuditSink
	log      *slog.Logger

	now func() time.Time
}

// New builds the filter. audit and resolver may be nil.
func New(cfg config.FilterConfig, det config.DetectionConfig, alerting config.AlertingConfig,
	reg *tenant.Registry, wl *Whitelists, profiles *Profiles, resolver GeoResolver,
	audit AuditSink, met *metrics.Metrics, logger *slog.Logger) *Filter {
	return &Filter{
		cfg:         cfg,
		bfThreshold: det.BFThreshold,
		dedupBucket: time.Duration(alerting.DedupBucketSeconds) * time.Second,
		reg:         reg,
		wl:          wl,
		profiles:    profiles,
		geo:         newGeoTracker(resolver),
		met:         met,
		audit:       audit,
		log:         logger.With("component", "filter"),
		now:         time.Now,
	}
}

// OnAuthSuccess feeds a successful login into the behavioral profile and
// geography trackers. Called by the pipeline for every auth_success event.
func (f *Filter) OnAuthSuccess(ev *model.SecurityEvent) {
	offHours := true
	if t, ok := f.reg.Get(ev.TenantID); ok {
		offHours = !t.Hours.Contains(ev.EventTime)
	}
	f.profiles.RecordSuccess(ev.TenantID, ev.Username, ev.EventTime, offHours)
	if ev.SourceIP.IsValid() {
		f.profiles.RecordSuccess(ev.TenantID, ev.SourceIP.String(), ev.EventTime, offHours)
		f.geo.RecordLogin(ev.TenantID, ev.Username, ev.SourceIP, ev.EventTime)
	}
}

// Decide evaluates the rules in order and returns the first match.
func (f *Filter) Decide(ctx context.Context, c *model.ThreatCandidate) Decision {
	now := f.now()
	if !f.cfg.FPEnabled {
		return Decision{Action: ActionEmit, Candidate: c, At: now}
	}

	t, _ := f.reg.Get(c.TenantID)

	// 1. Static whitelist.
	if _, ok := f.wl.MatchStatic(c.TenantID, c.SourceIP, c.Username, now); ok {
		return f.suppress(ctx, c, ReasonStaticWhitelist, now)
	}

	// 2. Maintenance window.
	if t != nil && t.ActiveMaintenance(now, c.SourceIP) != nil {
		return f.suppress(ctx, c, ReasonMaintenance, now)
	}

	// 3. Dynamic and learned whitelists. Skipped entirely when the hot
	// store is degraded; the static tier above has already been applied.
	if !c.Degraded {
		hit, degraded := f.wl.MatchDynamic(ctx, c.TenantID, c.SourceIP, now)
		if hit {
			return f.suppress(ctx, c, ReasonDynamicWhitelist, now)
		}
		if !degraded && f.wl.MatchLearned(c.TenantID, c.Username, now) {
			return f.suppress(ctx, c, ReasonLearnedWhitelist, now)
		}
	}

	class, _ := f.profiles.Classify(c.TenantID, c.Username)

	// 4. Service-account tolerance: regular machine logins trip the human
	// threshold constantly; only sustained pressure past 3x is a signal.
	if class == model.ClassServiceAccount && c.Kind == model.ThreatBruteForce &&
		len(c.Evidence) < 3*f.bfThreshold {
		return f.suppress(ctx, c, ReasonServiceAccount, now)
	}

	// 5. Business-hours context for low-risk human candidates.
	if c.RawRisk < 0.5 && class == model.ClassHuman && t != nil && !t.Hours.Contains(c.LastSeen) {
		adjusted := *c
		adjusted.RawRisk = c.RawRisk * 0.5
		adjusted.Confidence = c.Confidence * 0.7
		if adjusted.RawRisk < f.cfg.EmitFloor {
			return f.suppress(ctx, c, ReasonBusinessHours, now)
		}
		f.met.RiskAdjusted.WithLabelValues(c.TenantID).Inc()
		return Decision{Action: ActionEmitAdjusted, Candidate: &adjusted, At: now}
	}

	// 6. Impossible travel forces emission at elevated risk.
	if f.geo.ImpossibleTravel(c.TenantID, c.Username, c.SourceIP, c.LastSeen) {
		forced := *c
		forced.RawRisk = math.Max(c.RawRisk, 0.8)
		forced.Tags = append(append([]string(nil), c.Tags...), TagImpossibleTravel)
		return Decision{Action: ActionEmit, Reason: TagImpossibleTravel, Candidate: &forced, At: now}
	}

	// 7. Default.
	return Decision{Action: ActionEmit, Candidate: c, At: now}
}

func (f *Filter) suppress(ctx context.Context, c *model.ThreatCandidate, reason string, now time.Time) Decision {
	f.met.SuppressedCandidates.WithLabelValues(c.TenantID, reason).Inc()
	f.log.Info("candidate suppressed",
		"tenant", c.TenantID, "source_ip", c.SourceIP.String(),
		"kind", string(c.Kind), "reason", reason)
	if f.audit != nil {
		fp := model.Fingerprint(c.TenantID, c.SourceIP, c.Kind, c.LastSeen, f.dedupBucket)
		if err := f.audit.InsertSuppression(ctx, c.TenantID, reason, fp, now); err != nil {
			f.log.Warn("suppression audit write failed", "error", err)
		}
	}
	return Decision{Action: ActionSuppress, Reason: reason, Candidate: c, At: now}
}

// Whitelists exposes the whitelist store for grant plumbing.
func (f *Filter) Whitelists() *Whitelists { return f.wl }

// Profiles exposes the profile store.
func (f *Filter) Profiles() *Profiles { return f.profiles }
