package circuitbreaker

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDown = errors.New("downstream down")

func failing() error    { return errDown }
func succeeding() error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	b := New("test", 3, time.Minute, slog.Default())

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Do(failing), errDown)
	}
	assert.Equal(t, StateOpen, b.State())

	// While open the call is rejected without being invoked.
	calls := 0
	err := b.Do(func() error { calls++; return nil })
	assert.ErrorIs(t, err, ErrOpen)
	assert.Zero(t, calls)
}

func TestBreakerSuccessResetsFailureStreak(t *testing.T) {
	b := New("test", 3, time.Minute, slog.Default())

	require.Error(t, b.Do(failing))
	require.Error(t, b.Do(failing))
	require.NoError(t, b.Do(succeeding))
	require.Error(t, b.Do(failing))
	require.Error(t, b.Do(failing))
	assert.Equal(t, StateClosed, b.State(), "streak was broken by the success")
}

func TestBreakerProbesAfterCooldown(t *testing.T) {
	b := New("test", 1, 20*time.Millisecond, slog.Default())

	require.Error(t, b.Do(failing))
	require.Equal(t, StateOpen, b.State())

	time.Sleep(25 * time.Millisecond)

	// First probe fails: back to open.
	require.Error(t, b.Do(failing))
	assert.Equal(t, StateOpen, b.State())

	time.Sleep(25 * time.Millisecond)

	// Successful probe closes the circuit.
	require.NoError(t, b.Do(succeeding))
	assert.Equal(t, StateClosed, b.State())
	require.NoError(t, b.Do(succeeding))
}

func TestBreakerSingleProbeInHalfOpen(t *testing.T) {
	b := New("test", 1, 10*time.Millisecond, slog.Default())
	require.Error(t, b.Do(failing))
	time.Sleep(15 * time.Millisecond)

	// Hold the probe slot open, then verify a concurrent call is rejected.
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Do(func() error {
			close(started)
			<-release
			return nil
		})
	}()

	<-started
	assert.ErrorIs(t, b.Do(succeeding), ErrOpen)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, b.State())
}
