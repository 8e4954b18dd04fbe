package workflow

import (
	"math/rand"
	"time"
)

// RetryPolicy configures exponential backoff with optional jitter for
// task retries. Delays are expressed in seconds so the policy serializes
// cleanly inside canonical workflow definitions.
//
// The delay for attempt n (0-indexed) is
//
//	min(InitialDelay * Multiplier^n, MaxDelay)
//
// multiplied, when Jitter is enabled, by a uniform factor in
// [0.75, 1.25] and clamped to be non-negative.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Zero means the task runs exactly once.
	MaxRetries int `json:"max_retries"`

	// InitialDelay is the first backoff delay in seconds. Must be > 0.
	InitialDelay float64 `json:"initial_delay"`

	// MaxDelay caps the backoff delay in seconds. Must be > 0.
	MaxDelay float64 `json:"max_delay"`

	// Multiplier grows the delay between attempts. Must be > 1.
	Multiplier float64 `json:"backoff_multiplier"`

	// Jitter randomizes delays by ±25% to avoid synchronized retry
	// storms across concurrent tasks.
	Jitter bool `json:"jitter"`
}

// DefaultRetryPolicy is applied to tasks that declare no policy of
// their own: no retries, 1s initial delay, 60s cap.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   0,
		InitialDelay: 1.0,
		MaxDelay:     60.0,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// AggressiveRetryPolicy retries quickly and often. Suited to flaky but
// cheap operations.
func AggressiveRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 0.5,
		MaxDelay:     30.0,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// ConservativeRetryPolicy backs off slowly with a high cap. Suited to
// expensive operations against rate-limited services.
func ConservativeRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 2.0,
		MaxDelay:     120.0,
		Multiplier:   3.0,
		Jitter:       true,
	}
}

// Validate checks the policy configuration.
func (p RetryPolicy) Validate() error {
	if p.MaxRetries < 0 {
		return NewError("INVALID_RETRY_POLICY", "max_retries must be >= 0", ErrInvalidRetryPolicy)
	}
	if p.InitialDelay <= 0 {
		return NewError("INVALID_RETRY_POLICY", "initial_delay must be > 0", ErrInvalidRetryPolicy)
	}
	if p.MaxDelay <= 0 {
		return NewError("INVALID_RETRY_POLICY", "max_delay must be > 0", ErrInvalidRetryPolicy)
	}
	if p.Multiplier <= 1 {
		return NewError("INVALID_RETRY_POLICY", "backoff_multiplier must be > 1", ErrInvalidRetryPolicy)
	}
	return nil
}

// ShouldRetry reports whether another attempt remains after attempt n
// (0-indexed) failed.
func (p RetryPolicy) ShouldRetry(attempt int) bool {
	return attempt < p.MaxRetries
}

// Delay computes the backoff before retrying after attempt n. Returns
// zero when the retry budget is already exhausted. With jitter disabled
// the delay is monotonically non-decreasing in n up to MaxDelay.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt >= p.MaxRetries {
		return 0
	}

	delay := p.InitialDelay
	for i := 0; i < attempt; i++ {
		delay *= p.Multiplier
		if delay >= p.MaxDelay {
			break
		}
	}
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.Jitter {
		// Uniform factor in [0.75, 1.25].
		delay *= 0.75 + rand.Float64()*0.5 // #nosec G404 -- retry timing, not security
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay * float64(time.Second))
}
