package pipeline

import (
	"context"
	"math"
	"time"
)

// RetryPolicy is the single retry policy applied to every external call.
//
// The delay before attempt n+1 is BaseDelay * Multiplier^(n-1), capped at MaxDelay.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// Sleep waits for d or until ctx is done. Tests replace it.
	Sleep func(ctx context.Context, d time.Duration) error
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 2 * time.Second, Multiplier: 2, MaxDelay: 30 * time.Second}
}

// Delay returns the wait after the given failed attempt (1-based).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 || p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Do invokes fn until it succeeds, returns a permanent error, or MaxAttempts
// is exhausted. Each attempt runs under its own timeout (0 disables it).
// It returns the last error and the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = p.attempt(ctx, timeout, fn)
		if err == nil {
			return attempt, nil
		}
		if IsPermanent(err) || ctx.Err() != nil {
			return attempt, err
		}
		if attempt == attempts {
			return attempt, err
		}
		if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
			return attempt, serr
		}
	}
	return attempts, err
}

func (p RetryPolicy) attempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(actx)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
