package services

import (
	"context"
	"log"
	"sync"
	"time"
)

// Default rate limiter tuning. One call every two seconds keeps the primary
// quote provider well below its throttling threshold even during full
// universe refreshes.
const (
	DefaultCallsPerSecond    = 0.5
	DefaultBreakerThreshold  = 5
	DefaultBreakerCooldown   = 60 * time.Second
	MaxBackoffMultiplier     = 10
)

// RateLimiterStatus is the snapshot returned by Status.
type RateLimiterStatus struct {
	ConsecutiveFailures int        `json:"consecutive_failures"`
	CircuitOpen         bool       `json:"circuit_open"`
	CircuitOpenedAt     *time.Time `json:"circuit_opened_at,omitempty"`
	CallsPerSecond      float64    `json:"calls_per_second"`
	MinIntervalSeconds  float64    `json:"min_interval_seconds"`
}

// APIRateLimiter throttles outbound calls to a single external data source.
// Repeated provider-reported throttling grows the interval between calls
// with a capped exponential backoff, and sustained failure opens a circuit
// breaker that blocks all calls for a cooldown period.
//
// One instance guards one provider; all goroutines calling that provider
// must share the instance so the effective call rate stays globally bounded.
type APIRateLimiter struct {
	mu sync.Mutex

	callsPerSecond      float64
	minInterval         time.Duration
	lastCallTime        time.Time
	consecutiveFailures int
	breakerThreshold    int
	breakerCooldown     time.Duration
	breakerOpenedAt     time.Time // zero while the circuit is closed

	// Overridable in tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewAPIRateLimiter creates a limiter allowing callsPerSecond calls, opening
// the breaker after threshold consecutive failures for the given cooldown.
func NewAPIRateLimiter(callsPerSecond float64, threshold int, cooldown time.Duration) *APIRateLimiter {
	if callsPerSecond <= 0 {
		callsPerSecond = DefaultCallsPerSecond
	}
	if threshold <= 0 {
		threshold = DefaultBreakerThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultBreakerCooldown
	}
	return &APIRateLimiter{
		callsPerSecond:   callsPerSecond,
		minInterval:      time.Duration(float64(time.Second) / callsPerSecond),
		breakerThreshold: threshold,
		breakerCooldown:  cooldown,
		now:              time.Now,
		sleep:            sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Acquire blocks until it is safe to issue exactly one external call, or
// returns a CircuitOpenError if the breaker is engaged. The next call slot is
// reserved under the lock before sleeping, so concurrent callers queue behind
// each other instead of all waking at once.
func (rl *APIRateLimiter) Acquire(ctx context.Context) error {
	rl.mu.Lock()
	now := rl.now()

	if !rl.breakerOpenedAt.IsZero() {
		elapsed := now.Sub(rl.breakerOpenedAt)
		if elapsed < rl.breakerCooldown {
			remaining := rl.breakerCooldown - elapsed
			rl.mu.Unlock()
			log.Printf("Rate limiter: circuit OPEN, all calls blocked for %.1fs", remaining.Seconds())
			return &CircuitOpenError{Remaining: remaining}
		}
		// Cooldown elapsed: half-open closes immediately and forgives the
		// failure streak.
		rl.breakerOpenedAt = time.Time{}
		rl.consecutiveFailures = 0
		log.Println("Rate limiter: circuit breaker cooldown expired, resetting")
	}

	interval := rl.minInterval
	if rl.consecutiveFailures > 0 {
		// The cap kicks in at 2^4 already; clamping the exponent keeps a
		// large configured threshold from overflowing the shift.
		shift := rl.consecutiveFailures
		if shift > 4 {
			shift = 4
		}
		multiplier := 1 << shift
		if multiplier > MaxBackoffMultiplier {
			multiplier = MaxBackoffMultiplier
		}
		interval = time.Duration(int64(rl.minInterval) * int64(multiplier))
		log.Printf("Rate limiter: backoff active, interval %.2fs (failure count: %d)",
			interval.Seconds(), rl.consecutiveFailures)
	}

	var wait time.Duration
	if !rl.lastCallTime.IsZero() {
		if since := now.Sub(rl.lastCallTime); since < interval {
			wait = interval - since
		}
	}
	rl.lastCallTime = now.Add(wait)
	rl.mu.Unlock()

	return rl.sleep(ctx, wait)
}

// ReportFailure records a provider-reported throttling error. Crossing the
// threshold opens the circuit breaker.
func (rl *APIRateLimiter) ReportFailure() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.consecutiveFailures++
	log.Printf("Rate limiter: throttling error reported, consecutive count: %d", rl.consecutiveFailures)

	if rl.consecutiveFailures >= rl.breakerThreshold && rl.breakerOpenedAt.IsZero() {
		rl.breakerOpenedAt = rl.now()
		log.Printf("Rate limiter: circuit breaker OPENED after %d consecutive failures", rl.consecutiveFailures)
	}
}

// ReportSuccess records a successful call, easing the backoff.
func (rl *APIRateLimiter) ReportSuccess() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.consecutiveFailures > 0 {
		rl.consecutiveFailures--
	}
}

// Status returns the current limiter state.
func (rl *APIRateLimiter) Status() RateLimiterStatus {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	status := RateLimiterStatus{
		ConsecutiveFailures: rl.consecutiveFailures,
		CallsPerSecond:      rl.callsPerSecond,
		MinIntervalSeconds:  rl.minInterval.Seconds(),
	}
	if !rl.breakerOpenedAt.IsZero() {
		openedAt := rl.breakerOpenedAt
		status.CircuitOpenedAt = &openedAt
		status.CircuitOpen = rl.now().Sub(openedAt) < rl.breakerCooldown
	}
	return status
}

// MinInterval returns the unadjusted interval between calls.
func (rl *APIRateLimiter) MinInterval() time.Duration {
	return rl.minInterval
}
