// Package circuitbreaker guards calls to a failing downstream so a dead
// dependency degrades gracefully instead of stalling every caller on
// timeouts.
package circuitbreaker

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned without invoking the call while the breaker is open.
var ErrOpen = errors.New("circuit breaker open")

// Counts tracks outcomes within the current state generation.
type Counts struct {
	Requests            uint32
	Successes           uint32
	Failures            uint32
	ConsecutiveFailures uint32
}

// Breaker trips open after consecutive failures, rejects calls for a
// cool-down period, then probes with a single request before closing again.
type Breaker struct {
	name     string
	maxFails uint32
	cooldown time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probing  bool
}

// New builds a breaker that opens after maxFails consecutive failures and
// stays open for cooldown before probing.
func New(name string, maxFails uint32, cooldown time.Duration, logger *slog.Logger) *Breaker {
	if maxFails == 0 {
		maxFails = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		name:     name,
		maxFails: maxFails,
		cooldown: cooldown,
		log:      logger.With("component", "circuitbreaker", "name", name),
	}
}

// Do runs fn unless the breaker is open. The fn error is returned as-is so
// callers can still inspect it; ErrOpen means fn was never invoked.
func (b *Breaker) Do(fn func() error) error {
	if err := b.before(); err != nil {
		return err
	}
	err := fn()
	b.after(err == nil)
	return err
}

// State returns the current position, advancing open to half-open when the
// cool-down has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && time.Since(b.openedAt) >= b.cooldown {
		b.transition(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) before() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return ErrOpen
		}
		b.transition(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
	}
	b.counts.Requests++
	return nil
}

func (b *Breaker) after(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if ok {
		b.counts.Successes++
		b.counts.ConsecutiveFailures = 0
		if b.state == StateHalfOpen {
			b.probing = false
			b.transition(StateClosed)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	switch b.state {
	case StateHalfOpen:
		b.probing = false
		b.openedAt = time.Now()
		b.transition(StateOpen)
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.maxFails {
			b.openedAt = time.Now()
			b.transition(StateOpen)
		}
	}
}

// transition resets per-generation counts; callers hold the lock.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.log.Warn("circuit state change", "from", b.state.String(), "to", to.String())
	b.state = to
	b.counts = Counts{}
}
