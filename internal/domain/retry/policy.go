// Package retry defines the reusable retry policy shared by components
// that talk to rate-limited providers.
package retry

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines a retry strategy.
type Policy struct {
	MaxRetries      int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	BackoffStrategy BackoffType
	JitterFactor    float64 // 0.0-1.0
}

// BackoffType identifies the backoff strategy.
type BackoffType string

const (
	BackoffFixed       BackoffType = "fixed"       // Same delay each time
	BackoffExponential BackoffType = "exponential" // Delay doubles each time
)

// DefaultPolicy returns a sensible default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      3,
		InitialDelay:    1 * time.Second,
		MaxDelay:        30 * time.Second,
		BackoffStrategy: BackoffExponential,
		JitterFactor:    0.25,
	}
}

// NoRetryPolicy returns a policy that never retries.
func NoRetryPolicy() Policy {
	return Policy{MaxRetries: 0}
}

// CalculateDelay calculates the delay before the given attempt (1-based).
func (p *Policy) CalculateDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	var delay time.Duration
	switch p.BackoffStrategy {
	case BackoffFixed:
		delay = p.InitialDelay
	case BackoffExponential:
		delay = p.InitialDelay * time.Duration(math.Pow(2, float64(attempt-1)))
	default:
		delay = p.InitialDelay
	}

	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}

	if p.JitterFactor > 0 {
		jitter := float64(delay) * p.JitterFactor * (rand.Float64()*2 - 1) // -jitter to +jitter
		delay = time.Duration(float64(delay) + jitter)
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}

// Executor runs functions under a policy. Retryable decides whether an error
// is worth another attempt; nil means every error is. Sleep is injectable so
// the backoff sequence can be asserted without wall-clock waits.
type Executor struct {
	Policy    Policy
	Retryable func(error) bool
	Sleep     func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates a retry executor with the given policy.
func NewExecutor(policy Policy) *Executor {
	return &Executor{Policy: policy}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	if d <= 0 {
		return ctx.Err()
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

func (e *Executor) retryable(err error) bool {
	if e.Retryable == nil {
		return true
	}
	return e.Retryable(err)
}

// Execute runs the function with retries according to the policy.
func (e *Executor) Execute(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	var lastErr error

	for attempt := 0; attempt <= e.Policy.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= e.Policy.MaxRetries || !e.retryable(err) {
			break
		}

		if err := e.sleep(ctx, e.Policy.CalculateDelay(attempt+1)); err != nil {
			return err
		}
	}

	return lastErr
}

// ExecuteWithResult runs the function with retries and returns its result.
func ExecuteWithResult[T any](ctx context.Context, e *Executor, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= e.Policy.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		r, err := fn(ctx, attempt)
		if err == nil {
			return r, nil
		}
		lastErr = err

		if attempt >= e.Policy.MaxRetries || !e.retryable(err) {
			break
		}

		if err := e.sleep(ctx, e.Policy.CalculateDelay(attempt+1)); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}
