package notify

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ashisays/BITS-SIEM-sub001/internal/metrics"
	"github.com/ashisays/BITS-SIEM-sub001/internal/model"
)

// notifyTimeout bounds one delivery attempt.
const notifyTimeout = 10 * time.Second

// backoffSchedule is the wait before attempts 2, 3, and 4; each delay gets
// +/-20% jitter. After the schedule is exhausted the notification is
// dead-lettered.
var backoffSchedule = []time.Duration{time.Second, 5 * time.Second, 25 * time.Second}

// Notification is the transient delivery of one alert to one sink.
type Notification struct {
	TenantID string
	AlertID  string
	Payload  []byte
}

// Notifier is a delivery sink: push, email, or webhook. Implementations
// must be safe for concurrent Send calls.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// DeadLetterSink records notifications that exhausted their retries.
type DeadLetterSink interface {
	InsertDeadLetter(ctx context.Context, sink string, payload []byte, lastErr string, at time.Time) error
}

// Dispatcher delivers notifications to async sinks with at-least-once
// semantics and bounded retries. Push delivery bypasses the dispatcher:
// session queues are already bounded and lossy.
type Dispatcher struct {
	sinks      []Notifier
	deadLetter DeadLetterSink // nil logs only
	met        *metrics.Metrics
	log        *slog.Logger

	jobs chan job
	wg   sync.WaitGroup
}

type job struct {
	sink Notifier
	n    *Notification
}

func NewDispatcher(sinks []Notifier, deadLetter DeadLetterSink, workers int, met *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if workers < 1 {
		workers = 2
	}
	d := &Dispatcher{
		sinks:      sinks,
		deadLetter: deadLetter,
		met:        met,
		log:        logger.With("component", "dispatch"),
		jobs:       make(chan job, 1024),
	}
	return d
}

// Start launches the worker pool.
func (d *Dispatcher) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx)
	}
}

// Wait blocks until all workers have drained.
func (d *Dispatcher) Wait() { d.wg.Wait() }

// Dispatch fans one alert out to every configured sink. Non-blocking: a
// saturated dispatcher drops with a warning rather than stalling alerting.
func (d *Dispatcher) Dispatch(a *model.Alert) {
	if len(d.sinks) == 0 {
		return
	}
	payload, err := EncodeAlert(a)
	if err != nil {
		d.log.Warn("alert encode failed", "alert_id", a.AlertID, "error", err)
		return
	}
	n := &Notification{TenantID: a.TenantID, AlertID: a.AlertID, Payload: payload}
	for _, sink := range d.sinks {
		select {
		case d.jobs <- job{sink: sink, n: n}:
		default:
			d.log.Warn("dispatch queue full", "sink", sink.Name(), "alert_id", a.AlertID)
		}
	}
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-d.jobs:
			d.deliver(ctx, j)
		}
	}
}

// deliver attempts a send, retrying on the backoff schedule, then
// dead-letters.
func (d *Dispatcher) deliver(ctx context.Context, j job) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
		lastErr = j.sink.Send(attemptCtx, j.n)
		cancel()
		if lastErr == nil {
			return
		}
		if attempt >= len(backoffSchedule) {
			break
		}
		d.met.NotifyRetries.WithLabelValues(j.sink.Name()).Inc()
		select {
		case <-ctx.Done():
			return
		case <-time.After(jitter(backoffSchedule[attempt])):
		}
	}

	d.met.NotifyDeadLetters.WithLabelValues(j.sink.Name()).Inc()
	d.log.Warn("notification dead-lettered",
		"sink", j.sink.Name(), "alert_id", j.n.AlertID, "error", lastErr)
	if d.deadLetter != nil {
		err := fmt.Errorf("%w: %v", model.ErrNotifyFailed, lastErr)
		if dlErr := d.deadLetter.InsertDeadLetter(ctx, j.sink.Name(), j.n.Payload, err.Error(), time.Now()); dlErr != nil {
			d.log.Warn("dead-letter write failed", "error", dlErr)
		}
	}
}

// jitter spreads a delay by +/-20%.
func jitter(d time.Duration) time.Duration {
	f := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * f)
}

// ── Sink implementations ─────────────────────────────────────────────────

// SendFunc is the injected transport for email and webhook sinks; the
// concrete SMTP/HTTP clients live outside the core.
type SendFunc func(ctx context.Context, payload []byte) error

// EmailSink delivers alert notifications to a fixed address list through
// an injected transport.
type EmailSink struct {
	Addrs []string
	Fn    SendFunc
}

func (s *EmailSink) Name() string { return "email" }

func (s *EmailSink) Send(ctx context.Context, n *Notification) error {
	if s.Fn == nil {
		return fmt.Errorf("%w: no email transport configured", model.ErrNotifyFailed)
	}
	return s.Fn(ctx, n.Payload)
}

// WebhookSink posts alert notifications to a URL through an injected
// transport.
type WebhookSink struct {
	URL string
	Fn  SendFunc
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Send(ctx context.Context, n *Notification) error {
	if s.Fn == nil {
		return fmt.Errorf("%w: no webhook transport configured", model.ErrNotifyFailed)
	}
	return s.Fn(ctx, n.Payload)
}
