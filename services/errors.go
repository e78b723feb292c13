package services

import (
	"errors"
	"fmt"
	"time"
)

// Provider error taxonomy. Sources wrap these so the orchestrator can
// distinguish throttling (retry with backoff) from missing data (fallback)
// and misconfiguration (disable provider for the process lifetime).
var (
	// ErrRateLimited indicates the provider rejected the call for rate reasons
	// (HTTP 429 or equivalent).
	ErrRateLimited = errors.New("provider rate limited")

	// ErrNotFound indicates the provider answered but has no data for the
	// requested ticker or date.
	ErrNotFound = errors.New("data not found")

	// ErrAuth indicates missing or rejected provider credentials.
	ErrAuth = errors.New("provider authentication failed")

	// ErrInvalidPeriod indicates a period outside the supported set.
	ErrInvalidPeriod = errors.New("invalid period")
)

// CircuitOpenError is returned by APIRateLimiter.Acquire while the circuit
// breaker is engaged. It is a local, protective signal: callers skip the
// primary provider until the cooldown elapses instead of retrying.
type CircuitOpenError struct {
	Remaining time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker is open, %.1fs remaining", e.Remaining.Seconds())
}

// IsCircuitOpen reports whether err is a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var ce *CircuitOpenError
	return errors.As(err, &ce)
}
