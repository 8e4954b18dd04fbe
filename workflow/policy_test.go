package workflow_test

import (
	"errors"
	"testing"
	"time"

	"github.com/orbitq/orbit/workflow"
)

func TestRetryPolicyDelay(t *testing.T) {
	p := workflow.RetryPolicy{
		MaxRetries:   5,
		InitialDelay: 1.0,
		MaxDelay:     10.0,
		Multiplier:   2.0,
		Jitter:       false,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second}, // capped at MaxDelay
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

// Without jitter, delay is monotonically non-decreasing until MaxDelay.
func TestRetryPolicyDelayMonotonic(t *testing.T) {
	p := workflow.RetryPolicy{
		MaxRetries:   20,
		InitialDelay: 0.1,
		MaxDelay:     30.0,
		Multiplier:   1.7,
		Jitter:       false,
	}

	prev := time.Duration(0)
	for n := 0; n < p.MaxRetries; n++ {
		d := p.Delay(n)
		if d < prev {
			t.Fatalf("Delay(%d) = %v < Delay(%d) = %v", n, d, n-1, prev)
		}
		prev = d
	}
}

func TestRetryPolicyDelayExhausted(t *testing.T) {
	p := workflow.RetryPolicy{MaxRetries: 2, InitialDelay: 1, MaxDelay: 10, Multiplier: 2}
	if got := p.Delay(2); got != 0 {
		t.Errorf("Delay at budget = %v, want 0", got)
	}
	if got := p.Delay(7); got != 0 {
		t.Errorf("Delay past budget = %v, want 0", got)
	}
}

func TestRetryPolicyDelayJitterBounds(t *testing.T) {
	p := workflow.RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 4.0,
		MaxDelay:     60.0,
		Multiplier:   2.0,
		Jitter:       true,
	}

	// Jitter scales by a uniform factor in [0.75, 1.25].
	lo := time.Duration(0.75 * 4.0 * float64(time.Second))
	hi := time.Duration(1.25 * 4.0 * float64(time.Second))
	for i := 0; i < 200; i++ {
		d := p.Delay(0)
		if d < lo || d > hi {
			t.Fatalf("jittered Delay(0) = %v outside [%v, %v]", d, lo, hi)
		}
	}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	p := workflow.RetryPolicy{MaxRetries: 3, InitialDelay: 1, MaxDelay: 10, Multiplier: 2}

	for n := 0; n < 3; n++ {
		if !p.ShouldRetry(n) {
			t.Errorf("ShouldRetry(%d) = false, want true", n)
		}
	}
	if p.ShouldRetry(3) {
		t.Error("ShouldRetry(3) = true, want false")
	}

	none := workflow.DefaultRetryPolicy()
	if none.ShouldRetry(0) {
		t.Error("default policy should not retry")
	}
}

func TestRetryPolicyValidate(t *testing.T) {
	tests := []struct {
		name   string
		policy workflow.RetryPolicy
		ok     bool
	}{
		{"default", workflow.DefaultRetryPolicy(), true},
		{"aggressive", workflow.AggressiveRetryPolicy(), true},
		{"conservative", workflow.ConservativeRetryPolicy(), true},
		{"negative retries", workflow.RetryPolicy{MaxRetries: -1, InitialDelay: 1, MaxDelay: 10, Multiplier: 2}, false},
		{"zero initial delay", workflow.RetryPolicy{MaxRetries: 1, InitialDelay: 0, MaxDelay: 10, Multiplier: 2}, false},
		{"zero max delay", workflow.RetryPolicy{MaxRetries: 1, InitialDelay: 1, MaxDelay: 0, Multiplier: 2}, false},
		{"multiplier not above one", workflow.RetryPolicy{MaxRetries: 1, InitialDelay: 1, MaxDelay: 10, Multiplier: 1.0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, workflow.ErrInvalidRetryPolicy) {
				t.Errorf("Validate() = %v, want ErrInvalidRetryPolicy", err)
			}
		})
	}
}
