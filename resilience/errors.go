package resilience

import "errors"

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrMaxRetriesExceeded names exhausted retry attempts. Retry.Execute
	// does not return it: once attempts run out it returns the last
	// attempt's error.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrRateLimitExceeded is returned when the rate limit is exceeded.
	ErrRateLimitExceeded = errors.New("resilience: rate limit exceeded")

	// ErrBulkheadFull is returned when the bulkhead is at capacity.
	ErrBulkheadFull = errors.New("resilience: bulkhead at capacity")

	// ErrTimeout is returned when an operation times out.
	ErrTimeout = errors.New("resilience: operation timed out")

	// ErrDeadlineExceeded is returned when a retry's total deadline elapses
	// before any attempt has run. Once an attempt has run, Retry.Execute
	// returns the last attempt's error instead.
	ErrDeadlineExceeded = errors.New("resilience: retry deadline exceeded")
)
