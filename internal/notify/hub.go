// Package notify implements real-time alert fan-out: the WebSocket push
// hub with per-session bounded queues, and the asynchronous notifier sinks
// (email, webhook) with bounded retries and a dead-letter log.
package notify

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/metrics"
	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
)

// sessionSendBuffer is the per-session outbound queue capacity. When full,
// the oldest message is dropped and counted.
const sessionSendBuffer = 256

// AlertMessage is the compact JSON pushed to subscribed clients.
type AlertMessage struct {
	Type             string  `json:"type"`
	ID               string  `json:"id"`
	Kind             string  `json:"kind"`
	Severity         string  `json:"severity"`
	Risk             float64 `json:"risk"`
	SourceIP         string  `json:"source_ip"`
	FirstSeen        string  `json:"first_seen"`
	LastSeen         string  `json:"last_seen"`
	CorrelationGroup string  `json:"correlation_group,omitempty"`
}

// EncodeAlert serializes an alert to its push wire form. Timestamps are
// RFC3339Nano in UTC so persistence round-trips reproduce the same bytes.
func EncodeAlert(a *model.Alert) ([]byte, error) {
	msg := AlertMessage{
		Type:             "security_alert",
		ID:               a.AlertID,
		Kind:             string(a.Kind),
		Severity:         string(a.Severity),
		Risk:             a.Risk,
		SourceIP:         a.SourceIP.String(),
		FirstSeen:        a.FirstSeen.UTC().Format(time.RFC3339Nano),
		LastSeen:         a.LastSeen.UTC().Format(time.RFC3339Nano),
		CorrelationGroup: a.CorrelationGroup,
	}
	return json.Marshal(msg)
}

// Hub tracks push sessions keyed by (tenant, session id) and fans alert
// messages out to every session of the alert's tenant.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session // tenant -> session id -> session

	met *metrics.Metrics
	log *slog.Logger
}

func NewHub(met *metrics.Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]map[string]*Session),
		met:      met,
		log:      logger.With("component", "notify"),
	}
}

func (h *Hub) register(s *Session) {
	h.mu.Lock()
	byID, ok := h.sessions[s.TenantID]
	if !ok {
		byID = make(map[string]*Session)
		h.sessions[s.TenantID] = byID
	}
	byID[s.ID] = s
	h.mu.Unlock()
	h.met.SessionsActive.WithLabelValues(s.TenantID).Inc()
	h.log.Info("push session opened", "tenant", s.TenantID, "session", s.ID)
}

func (h *Hub) unregister(s *Session) {
	h.mu.Lock()
	if byID, ok := h.sessions[s.TenantID]; ok {
		if _, ok := byID[s.ID]; ok {
			delete(byID, s.ID)
			h.met.SessionsActive.WithLabelValues(s.TenantID).Dec()
		}
		if len(byID) == 0 {
			delete(h.sessions, s.TenantID)
		}
	}
	h.mu.Unlock()
	h.log.Info("push session closed", "tenant", s.TenantID, "session", s.ID)
}

// Broadcast enqueues an alert message on every session of the tenant.
// Full session queues drop their oldest message rather than blocking the
// alert manager.
func (h *Hub) Broadcast(a *model.Alert) {
	payload, err := EncodeAlert(a)
	if err != nil {
		h.log.Warn("alert encode failed", "alert_id", a.AlertID, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions[a.TenantID] {
		s.enqueue(payload)
	}
}

// SessionCount returns the number of live sessions for a tenant.
func (h *Hub) SessionCount(tenantID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[tenantID])
}
