// Package retry runs an action a bounded number of times with linear,
// jittered backoff between attempts.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/grail/internal/metrics"
)

// Defaults used when a Policy leaves a field unset.
const (
	DefaultMaxAttempts = 2
	DefaultBase        = 300 * time.Millisecond
	DefaultJitter      = 300 * time.Millisecond
)

// Policy configures an Executor.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Jitter      time.Duration
	// ShouldRetry reports whether a failed attempt is worth repeating.
	// A nil func retries every error except context cancellation.
	ShouldRetry func(error) bool
}

// Executor runs actions under a Policy.
type Executor struct {
	policy Policy
	logger *zap.Logger

	sleep  func(context.Context, time.Duration) error
	jitter func(time.Duration) time.Duration
}

// New builds an Executor, filling in defaults for unset policy fields.
func New(policy Policy, logger *zap.Logger) *Executor {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}
	if policy.Base <= 0 {
		policy.Base = DefaultBase
	}
	if policy.Jitter < 0 {
		policy.Jitter = 0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		policy: policy,
		logger: logger,
		sleep:  sleepContext,
		jitter: randomJitter,
	}
}

// Attempts returns the configured attempt budget.
func (e *Executor) Attempts() int {
	return e.policy.MaxAttempts
}

// Backoff returns the pause taken after the given 1-based attempt fails:
// base plus a random share of jitter scaled by the attempt number.
func (e *Executor) Backoff(attempt int) time.Duration {
	return e.policy.Base + e.jitter(e.policy.Jitter)*time.Duration(attempt)
}

// Do runs fn until it succeeds, the attempt budget is spent, or the error is
// not retryable. If a failed attempt returns a value implementing io.Closer,
// it is closed before the next attempt begins; such values must tolerate
// Close on a nil receiver. The last error is returned
// unchanged.
func Do[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			metrics.ObserveAttempt(op, "success")
			return result, nil
		}
		lastErr = err
		metrics.ObserveAttempt(op, "failure")
		e.closeFailed(op, attempt, result)

		if attempt == e.policy.MaxAttempts || !e.shouldRetry(err) {
			break
		}
		pause := e.Backoff(attempt)
		e.logger.Debug("retrying action",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", pause),
			zap.Error(err),
		)
		if sleepErr := e.sleep(ctx, pause); sleepErr != nil {
			break
		}
	}
	return zero, lastErr
}

func (e *Executor) shouldRetry(err error) bool {
	if e.policy.ShouldRetry != nil {
		return e.policy.ShouldRetry(err)
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (e *Executor) closeFailed(op string, attempt int, result any) {
	closer, ok := result.(io.Closer)
	if !ok {
		return
	}
	if err := closer.Close(); err != nil {
		e.logger.Warn("close failed attempt",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("retry backoff: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
