package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrTimeout is matched by every TimeoutError via errors.Is.
var ErrTimeout = errors.New("request timed out")

type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s", e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

type result[T any] struct {
	value T
	err   error
}

// WithTimeout races fn against a timer. When the timer wins, the context handed to fn is cancelled,
// the call is abandoned and a *TimeoutError is returned. A non-positive timeout disables the timer.
func WithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// buffered so an abandoned call can still deliver and exit
	resultChan := make(chan result[T], 1)
	go func() {
		v, err := fn(callCtx)
		resultChan <- result[T]{value: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case r := <-resultChan:
		return r.value, r.err
	case <-timer.C:
		return zero, &TimeoutError{Timeout: timeout}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Retrier re-issues a call that timed out. Only timeouts are retried, immediately and without backoff;
// every other error is returned as-is on the first occurrence.
type Retrier struct {
	Name       string
	Timeout    time.Duration
	MaxRetries int
	Logger     *zap.Logger
}

func NewRetrier(name string, timeout time.Duration, maxRetries int, l *zap.Logger) *Retrier {
	return &Retrier{
		Name:       name,
		Timeout:    timeout,
		MaxRetries: maxRetries,
		Logger:     l,
	}
}

// Call runs fn under the retrier's timeout, making up to MaxRetries additional attempts on timeout.
func Call[T any](ctx context.Context, r *Retrier, fn func(ctx context.Context) (T, error)) (T, error) {
	var lastErr error
	var zero T

	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		v, err := WithTimeout(ctx, r.Timeout, fn)
		if err == nil {
			return v, nil
		}
		if !IsTimeout(err) {
			return zero, err
		}
		lastErr = err

		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if r.Logger != nil && attempt < r.MaxRetries {
			r.Logger.Sugar().Debugw("Request timed out, retrying",
				zap.String("retrier", r.Name),
				zap.Int("attempt", attempt+1),
				zap.Int("maxRetries", r.MaxRetries),
				zap.Duration("timeout", r.Timeout),
			)
		}
	}
	if r.Logger != nil {
		r.Logger.Sugar().Warnw("Request timed out, exhausted all retries",
			zap.String("retrier", r.Name),
			zap.Int("maxRetries", r.MaxRetries),
			zap.Duration("timeout", r.Timeout),
		)
	}
	return zero, lastErr
}
