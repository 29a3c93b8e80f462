// Package retry wraps remote operations with bounded exponential-backoff
// retry. Error classification decides whether an attempt is worth repeating;
// callers convert retryable exhaustion into durable queue entries instead of
// blocking the pass.
package retry

import (
	"context"
	"time"

	apperrors "github.com/opsledger/fieldsync/internal/errors"
	"github.com/opsledger/fieldsync/internal/logging"
)

// Policy bounds a retry loop.
type Policy struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // backoff ceiling
}

// DefaultPolicy matches the engine defaults: 3 retries, 1s base, 30s ceiling.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

// Backoff returns the delay before retry n (0-based):
// min(BaseDelay * 2^n, MaxDelay).
func (p Policy) Backoff(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	// Guard the shift; beyond 62 bits everything hits the ceiling anyway.
	if n > 30 {
		return p.MaxDelay
	}
	d := p.BaseDelay * (1 << uint(n))
	if d > p.MaxDelay || d <= 0 {
		return p.MaxDelay
	}
	return d
}

// Attempt records one try of the wrapped operation.
type Attempt struct {
	Number    int           // 1-based
	Delay     time.Duration // backoff slept before this attempt (0 for the first)
	Error     string        // empty on success
	Succeeded bool
}

// Stats summarizes a completed Execute call.
type Stats struct {
	Attempts  []Attempt
	Retries   int
	Succeeded bool
}

// Operation is the remote call being retried.
type Operation func(ctx context.Context) error

// OnRetry is invoked before each backoff sleep.
type OnRetry func(attempt int, delay time.Duration, err error)

// ShouldRetry classifies an error as transient (retry) or permanent (stop).
type ShouldRetry func(err error) bool

// Executor runs operations under a retry policy. The sleep function is
// injectable so tests never wait on real time.
type Executor struct {
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an Executor with a context-aware sleeper.
func NewExecutor() *Executor {
	return &Executor{sleep: sleepCtx}
}

// NewExecutorWithSleep creates an Executor with a custom sleeper, for tests.
func NewExecutorWithSleep(sleep func(ctx context.Context, d time.Duration) error) *Executor {
	return &Executor{sleep: sleep}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs op under the policy. shouldRetry defaults to the engine's
// error classification when nil. The returned error is the last attempt's
// error; Stats always describes the full history, success or not.
func (e *Executor) Execute(ctx context.Context, op Operation, policy Policy, shouldRetry ShouldRetry, onRetry OnRetry) (*Stats, error) {
	if shouldRetry == nil {
		shouldRetry = apperrors.IsRetryable
	}

	stats := &Stats{}
	var lastErr error

	for attempt := 0; ; attempt++ {
		var delay time.Duration
		if attempt > 0 {
			delay = policy.Backoff(attempt - 1)
			if onRetry != nil {
				onRetry(attempt, delay, lastErr)
			}
			logging.Debug("Retrying operation", logging.Fields{
				"attempt": attempt,
				"delay":   delay.String(),
			})
			if err := e.sleep(ctx, delay); err != nil {
				return stats, err
			}
			stats.Retries++
		}

		lastErr = op(ctx)

		record := Attempt{Number: attempt + 1, Delay: delay, Succeeded: lastErr == nil}
		if lastErr != nil {
			record.Error = lastErr.Error()
		}
		stats.Attempts = append(stats.Attempts, record)

		if lastErr == nil {
			stats.Succeeded = true
			return stats, nil
		}

		if !shouldRetry(lastErr) || attempt >= policy.MaxRetries {
			return stats, lastErr
		}
	}
}
