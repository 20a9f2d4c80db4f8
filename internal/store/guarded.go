package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/circuitbreaker"
	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
)

// GuardedStore wraps the durable store's write paths with a circuit breaker
// so a failing database sheds writes quickly instead of stalling the alert
// manager and the filter on connection timeouts. Reads stay unguarded: they
// run at startup and on admin requests, where a slow error is acceptable.
type GuardedStore struct {
	*DurableStore
	cb *circuitbreaker.Breaker
}

// NewGuardedStore wraps s; the breaker opens after five consecutive write
// failures and probes again after 30 seconds.
func NewGuardedStore(s *DurableStore, logger *slog.Logger) *GuardedStore {
	return &GuardedStore{
		DurableStore: s,
		cb:           circuitbreaker.New("postgres", 5, 30*time.Second, logger),
	}
}

func (g *GuardedStore) UpsertAlert(ctx context.Context, a *model.Alert) error {
	return g.cb.Do(func() error { return g.DurableStore.UpsertAlert(ctx, a) })
}

func (g *GuardedStore) UpdateAlertStatus(ctx context.Context, alertID string, status model.AlertStatus, at time.Time) error {
	return g.cb.Do(func() error { return g.DurableStore.UpdateAlertStatus(ctx, alertID, status, at) })
}

func (g *GuardedStore) InsertSuppression(ctx context.Context, tenantID, reason, fingerprint string, at time.Time) error {
	return g.cb.Do(func() error { return g.DurableStore.InsertSuppression(ctx, tenantID, reason, fingerprint, at) })
}

func (g *GuardedStore) InsertDeadLetter(ctx context.Context, sink string, payload []byte, lastErr string, at time.Time) error {
	return g.cb.Do(func() error { return g.DurableStore.InsertDeadLetter(ctx, sink, payload, lastErr, at) })
}
