// Package metrics registers the Prometheus instruments for the pipeline.
// Every drop, suppression, and overflow path increments a counter here so
// that no event disappears silently.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus instruments for siemd.
type Metrics struct {
	// Ingestion
	IngestReceived   *prometheus.CounterVec // transport
	IngestMalformed  *prometheus.CounterVec // transport
	IngestUntenanted *prometheus.CounterVec // transport
	IngestDropped    *prometheus.CounterVec // transport (queue full, UDP only)
	QueueDepth       *prometheus.GaugeVec   // stage

	// Normalization
	EventsNormalized *prometheus.CounterVec // tenant, kind
	EventsInvalid    prometheus.Counter

	// Detection
	CandidatesProduced *prometheus.CounterVec // tenant, kind
	LateEvents         *prometheus.CounterVec // tenant
	StateEvictions     prometheus.Counter
	DegradedCandidates *prometheus.CounterVec // tenant

	// False-positive filter
	SuppressedCandidates *prometheus.CounterVec // tenant, reason
	RiskAdjusted         *prometheus.CounterVec // tenant

	// Alerting
	AlertsCreated  *prometheus.CounterVec // tenant, severity
	AlertsUpdated  *prometheus.CounterVec // tenant
	AlertsOpen     *prometheus.GaugeVec   // tenant
	Correlations   *prometheus.CounterVec // tenant

	// Notification
	SessionsActive    *prometheus.GaugeVec   // tenant
	SessionOverflow   *prometheus.CounterVec // tenant
	NotifyRetries     *prometheus.CounterVec // sink
	NotifyDeadLetters *prometheus.CounterVec // sink
}

// New creates and registers all instruments with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		IngestReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_ingest_received_total",
			Help: "Syslog frames received per transport",
		}, []string{"transport"}),
		IngestMalformed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_ingest_malformed_total",
			Help: "Frames dropped because they failed RFC3164/RFC5424 parsing",
		}, []string{"transport"}),
		IngestUntenanted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_ingest_untenanted_total",
			Help: "Frames dropped because no tenant could be attributed",
		}, []string{"transport"}),
		IngestDropped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_ingest_dropped_total",
			Help: "Frames dropped because the listener queue was full",
		}, []string{"transport"}),
		QueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "siem_queue_depth",
			Help: "Current depth of each pipeline stage queue",
		}, []string{"stage"}),
		EventsNormalized: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_events_normalized_total",
			Help: "Security events emitted by the normalizer",
		}, []string{"tenant", "kind"}),
		EventsInvalid: f.NewCounter(prometheus.CounterOpts{
			Name: "siem_events_invalid_total",
			Help: "Raw events dropped by the normalizer (no tenant or source IP)",
		}),
		CandidatesProduced: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_candidates_total",
			Help: "Threat candidates produced by the detection engines",
		}, []string{"tenant", "kind"}),
		LateEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_late_events_total",
			Help: "Events excluded from scoring because they arrived behind the window",
		}, []string{"tenant"}),
		StateEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "siem_state_evictions_total",
			Help: "Idle detection states evicted",
		}),
		DegradedCandidates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_degraded_candidates_total",
			Help: "Candidates scored while the hot state store was unavailable",
		}, []string{"tenant"}),
		SuppressedCandidates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_suppressed_candidates_total",
			Help: "Candidates suppressed by the false-positive filter",
		}, []string{"tenant", "reason"}),
		RiskAdjusted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_risk_adjusted_total",
			Help: "Candidates emitted with contextual risk adjustment",
		}, []string{"tenant"}),
		AlertsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_alerts_created_total",
			Help: "New alerts created",
		}, []string{"tenant", "severity"}),
		AlertsUpdated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_alerts_updated_total",
			Help: "Existing alerts updated by deduplication",
		}, []string{"tenant"}),
		AlertsOpen: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "siem_alerts_open",
			Help: "Alerts currently in a non-terminal state",
		}, []string{"tenant"}),
		Correlations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_correlations_total",
			Help: "Alerts joined into a correlation group",
		}, []string{"tenant"}),
		SessionsActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "siem_push_sessions_active",
			Help: "Connected WebSocket push sessions",
		}, []string{"tenant"}),
		SessionOverflow: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_notify_session_overflow_total",
			Help: "Messages dropped because a session outbound queue was full",
		}, []string{"tenant"}),
		NotifyRetries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_notify_retries_total",
			Help: "Notifier delivery retries",
		}, []string{"sink"}),
		NotifyDeadLetters: f.NewCounterVec(prometheus.CounterOpts{
			Name: "siem_notify_dead_letter_total",
			Help: "Notifications dead-lettered after exhausting retries",
		}, []string{"sink"}),
	}
}
