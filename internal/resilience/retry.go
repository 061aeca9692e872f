// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package resilience

import (
	"fmt"
	"time"
)

// ExhaustedAction says what happens to a stopped vehicle once every reroute
// attempt has failed.
type ExhaustedAction string

const (
	// ExhaustedResume puts the vehicle back on its original path.
	ExhaustedResume ExhaustedAction = "resume"
	// ExhaustedStay leaves the vehicle stopped until the blocking event expires.
	ExhaustedStay ExhaustedAction = "stay"
)

// RetryPolicy is an exponential backoff schedule with a bounded attempt budget.
type RetryPolicy struct {
	MaxAttempts    int             `yaml:"max_attempts"`
	InitialBackoff time.Duration   `yaml:"initial_backoff"`
	MaxBackoff     time.Duration   `yaml:"max_backoff"`
	Multiplier     float64         `yaml:"multiplier"`
	OnExhausted    ExhaustedAction `yaml:"on_exhausted"`
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2,
		OnExhausted:    ExhaustedResume,
	}
}

// Backoff returns the wait before attempt number `attempt` (1-based retry
// count, so Backoff(1) is the delay after the first failure).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialBackoff)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxBackoff > 0 && d >= float64(p.MaxBackoff) {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && time.Duration(d) > p.MaxBackoff {
		return p.MaxBackoff
	}
	return time.Duration(d)
}

// Next decides whether another attempt is allowed after `failed` attempts
// have failed, and how long to wait before it.
func (p RetryPolicy) Next(failed int) (time.Duration, bool) {
	if failed >= p.MaxAttempts {
		return 0, false
	}
	return p.Backoff(failed), true
}

// Validate reports structural problems with the policy.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", p.MaxAttempts)
	}
	if p.InitialBackoff < 0 || p.MaxBackoff < 0 {
		return fmt.Errorf("backoff durations must not be negative")
	}
	if p.MaxBackoff > 0 && p.InitialBackoff > p.MaxBackoff {
		return fmt.Errorf("initial_backoff %s exceeds max_backoff %s", p.InitialBackoff, p.MaxBackoff)
	}
	switch p.OnExhausted {
	case ExhaustedResume, ExhaustedStay:
	default:
		return fmt.Errorf("on_exhausted must be %q or %q, got %q", ExhaustedResume, ExhaustedStay, p.OnExhausted)
	}
	return nil
}
