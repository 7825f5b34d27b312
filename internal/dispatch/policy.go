package dispatch

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy describes the expanding-radius search: the radii to try, in
// order, and the wait schedule between attempts. Keeping it a value makes the
// search loop testable without real sleeps.
type RetryPolicy struct {
	// RadiiMeters are tried in order; they must be strictly increasing.
	RadiiMeters []float64
	// NewBackOff builds the per-dispatch wait schedule applied between
	// attempts. The wait lets provider availability settle rather than
	// hammering the index.
	NewBackOff func() backoff.BackOff
}

// DefaultPolicy searches at 2000, 4000 and 6000 meters with a fixed pause
// between attempts.
func DefaultPolicy(wait time.Duration) RetryPolicy {
	if wait <= 0 {
		wait = 2 * time.Second
	}
	return RetryPolicy{
		RadiiMeters: []float64{2000, 4000, 6000},
		NewBackOff: func() backoff.BackOff {
			return backoff.NewConstantBackOff(wait)
		},
	}
}

// PolicyFor derives a policy from a base radius and attempt count, growing the
// radius by the base on each attempt.
func PolicyFor(baseRadius float64, attempts int, wait time.Duration) RetryPolicy {
	if baseRadius <= 0 {
		baseRadius = 2000
	}
	if attempts <= 0 {
		attempts = 3
	}
	radii := make([]float64, 0, attempts)
	for i := 1; i <= attempts; i++ {
		radii = append(radii, baseRadius*float64(i))
	}
	p := DefaultPolicy(wait)
	p.RadiiMeters = radii
	return p
}
