package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	flowerrors "github.com/dshills/flowgraph/pkg/errors"
)

// Middleware wraps an executor. The wrapper must report the same Spec.
type Middleware func(Executor) Executor

// Chain applies middlewares so that the first one is outermost.
func Chain(ex Executor, mws ...Middleware) Executor {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			ex = mws[i](ex)
		}
	}
	return ex
}

// WithTimeout bounds each call. When the deadline passes the call fails with a
// NodeExecutionError marked Timeout, even if the executor ignores its context.
// A zero or negative d disables the bound.
func WithTimeout(d time.Duration) Middleware {
	return func(next Executor) Executor {
		if d <= 0 {
			return next
		}
		return NewExecutor(next.Spec(), func(ctx context.Context, params map[string]any) (map[string]any, error) {
			tctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()

			type result struct {
				out map[string]any
				err error
			}
			done := make(chan result, 1)
			go func() {
				out, err := next.Execute(tctx, params)
				done <- result{out: out, err: err}
			}()

			select {
			case r := <-done:
				if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
					return nil, timeoutError(next.Spec().Type, d)
				}
				return r.out, r.err
			case <-tctx.Done():
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				return nil, timeoutError(next.Spec().Type, d)
			}
		})
	}
}

func timeoutError(nodeType string, d time.Duration) error {
	return &flowerrors.NodeExecutionError{
		NodeType: nodeType,
		Message:  fmt.Sprintf("timed out after %s", d),
		Timeout:  true,
		Cause:    context.DeadlineExceeded,
	}
}

// RetryPolicy configures WithRetry.
type RetryPolicy struct {
	// MaxAttempts counts the first call; 1 or less disables retries.
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy makes three attempts starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = 2.0
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	return p
}

// delay computes exponential backoff with ±25% jitter, capped at MaxDelay.
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) {
		d = float64(p.MaxDelay)
	}

	jitter := d * 0.25 * (rand.Float64()*2 - 1)
	d += jitter

	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// WithRetry repeats failed calls with exponential backoff. Validation errors
// are not retried, and waiting stops as soon as ctx is done.
func WithRetry(policy RetryPolicy) Middleware {
	p := policy.withDefaults()
	return func(next Executor) Executor {
		if p.MaxAttempts <= 1 {
			return next
		}
		return NewExecutor(next.Spec(), func(ctx context.Context, params map[string]any) (map[string]any, error) {
			var lastErr error
			for attempt := 0; attempt < p.MaxAttempts; attempt++ {
				if attempt > 0 {
					recordAttempt(ctx)
				}
				out, err := next.Execute(ctx, params)
				if err == nil {
					return out, nil
				}
				lastErr = err

				if !retryable(err) || attempt == p.MaxAttempts-1 {
					break
				}

				timer := time.NewTimer(p.delay(attempt))
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return nil, lastErr
				}
			}
			return nil, lastErr
		})
	}
}

func retryable(err error) bool {
	if errors.Is(err, flowerrors.ErrValidation) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

type attemptKey struct{}

// withAttemptCounter lets middlewares report extra attempts to the engine.
func withAttemptCounter(ctx context.Context, n *atomic.Int32) context.Context {
	return context.WithValue(ctx, attemptKey{}, n)
}

func recordAttempt(ctx context.Context) {
	if n, ok := ctx.Value(attemptKey{}).(*atomic.Int32); ok {
		n.Add(1)
	}
}
