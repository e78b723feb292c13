package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced clock shared by limiter tests.
type fakeClock struct {
	cur time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Date(2026, 8, 28, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time          { return c.cur }
func (c *fakeClock) Advance(d time.Duration) { c.cur = c.cur.Add(d) }

// testLimiter returns a limiter on a fake clock whose sleeps are recorded
// instead of performed.
func testLimiter(cps float64, threshold int, cooldown time.Duration) (*APIRateLimiter, *fakeClock, *[]time.Duration) {
	clock := newFakeClock()
	var sleeps []time.Duration
	rl := NewAPIRateLimiter(cps, threshold, cooldown)
	rl.now = clock.Now
	rl.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		clock.Advance(d)
		return nil
	}
	return rl, clock, &sleeps
}

func TestAcquireFirstCallDoesNotWait(t *testing.T) {
	rl, _, sleeps := testLimiter(1, 5, time.Minute)

	require.NoError(t, rl.Acquire(context.Background()))

	require.Len(t, *sleeps, 1)
	assert.Equal(t, time.Duration(0), (*sleeps)[0])
}

func TestAcquireEnforcesMinInterval(t *testing.T) {
	rl, _, sleeps := testLimiter(0.5, 5, time.Minute)

	require.NoError(t, rl.Acquire(context.Background()))
	require.NoError(t, rl.Acquire(context.Background()))

	require.Len(t, *sleeps, 2)
	assert.Equal(t, time.Duration(0), (*sleeps)[0])
	assert.Equal(t, 2*time.Second, (*sleeps)[1])
}

func TestBackoffGrowsWithFailures(t *testing.T) {
	rl, _, sleeps := testLimiter(1, 10, time.Minute)

	require.NoError(t, rl.Acquire(context.Background()))

	rl.ReportFailure()
	rl.ReportFailure()
	rl.ReportFailure()

	// 3 failures double the 1s interval three times.
	require.NoError(t, rl.Acquire(context.Background()))
	require.Len(t, *sleeps, 2)
	assert.Equal(t, 8*time.Second, (*sleeps)[1])
}

func TestBackoffMultiplierIsCapped(t *testing.T) {
	rl, _, sleeps := testLimiter(1, 100, time.Minute)

	require.NoError(t, rl.Acquire(context.Background()))
	for i := 0; i < 7; i++ {
		rl.ReportFailure()
	}

	// 2^7 would be 128x; the cap holds it at 10x the base interval.
	require.NoError(t, rl.Acquire(context.Background()))
	require.Len(t, *sleeps, 2)
	assert.Equal(t, 10*time.Second, (*sleeps)[1])
}

func TestBackoffSurvivesHugeFailureCount(t *testing.T) {
	rl, _, sleeps := testLimiter(1, 100, time.Minute)

	require.NoError(t, rl.Acquire(context.Background()))
	for i := 0; i < 70; i++ {
		rl.ReportFailure()
	}

	// A failure count past the shift width must still back off at the cap,
	// not wrap the multiplier to zero.
	require.NoError(t, rl.Acquire(context.Background()))
	require.Len(t, *sleeps, 2)
	assert.Equal(t, 10*time.Second, (*sleeps)[1])
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	rl, _, _ := testLimiter(1, 5, time.Minute)

	for i := 0; i < 4; i++ {
		rl.ReportFailure()
	}
	assert.False(t, rl.Status().CircuitOpen)

	rl.ReportFailure()
	require.True(t, rl.Status().CircuitOpen)

	err := rl.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, IsCircuitOpen(err))

	var ce *CircuitOpenError
	require.ErrorAs(t, err, &ce)
	assert.Greater(t, ce.Remaining, time.Duration(0))
	assert.LessOrEqual(t, ce.Remaining, time.Minute)
}

func TestBreakerCooldownResetsFailures(t *testing.T) {
	rl, clock, _ := testLimiter(1, 5, time.Minute)

	for i := 0; i < 5; i++ {
		rl.ReportFailure()
	}
	require.True(t, IsCircuitOpen(rl.Acquire(context.Background())))

	// Partway through the cooldown the circuit stays open.
	clock.Advance(30 * time.Second)
	require.True(t, IsCircuitOpen(rl.Acquire(context.Background())))

	clock.Advance(31 * time.Second)
	require.NoError(t, rl.Acquire(context.Background()))
	assert.Equal(t, 0, rl.Status().ConsecutiveFailures)
	assert.False(t, rl.Status().CircuitOpen)
}

func TestReportSuccessEasesBackoff(t *testing.T) {
	rl, _, _ := testLimiter(1, 10, time.Minute)

	rl.ReportFailure()
	rl.ReportFailure()
	rl.ReportSuccess()
	assert.Equal(t, 1, rl.Status().ConsecutiveFailures)

	// The count never goes below zero.
	rl.ReportSuccess()
	rl.ReportSuccess()
	assert.Equal(t, 0, rl.Status().ConsecutiveFailures)
}

func TestAcquireCancelledContext(t *testing.T) {
	rl := NewAPIRateLimiter(0.001, 5, time.Minute)
	require.NoError(t, rl.Acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, rl.Acquire(ctx))
}
