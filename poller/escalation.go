package poller

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// FetchError wraps any failure to obtain a reading
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch failed: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// RenderError wraps a failure to allocate or release a drawing resource
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string { return fmt.Sprintf("render failed: %v", e.Err) }
func (e *RenderError) Unwrap() error { return e.Err }

// Decision tells the cycle what to do after a failed iteration
type Decision struct {
	Terminate bool
	Delay     time.Duration
}

// Policy decides whether a failure ends the loop. consecutive counts failed iterations
// since the last success, starting at 1.
type Policy interface {
	Decide(err error, consecutive int) Decision
	Reset()
}

// FatalPolicy ends the loop on the first error
type FatalPolicy struct{}

func (FatalPolicy) Decide(error, int) Decision { return Decision{Terminate: true} }
func (FatalPolicy) Reset()                     {}

// RetryPolicy tolerates up to MaxRetries consecutive failures, waiting an exponentially
// growing delay between attempts
type RetryPolicy struct {
	MaxRetries int
	backoff    *backoff.ExponentialBackOff
}

// NewRetryPolicy creates a bounded retry policy
func NewRetryPolicy(maxRetries int, initial, max time.Duration) *RetryPolicy {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = max
	b.Reset()

	return &RetryPolicy{MaxRetries: maxRetries, backoff: b}
}

func (p *RetryPolicy) Decide(_ error, consecutive int) Decision {
	if consecutive > p.MaxRetries {
		return Decision{Terminate: true}
	}
	delay := p.backoff.NextBackOff()
	if delay == backoff.Stop {
		return Decision{Terminate: true}
	}
	return Decision{Delay: delay}
}

func (p *RetryPolicy) Reset() {
	p.backoff.Reset()
}
