package execution

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/dshills/flowgraph/pkg/domain/execution"
	flowerrors "github.com/dshills/flowgraph/pkg/errors"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// flaky fails its first n calls.
func flaky(n int32, calls *atomic.Int32, failWith error) Executor {
	return NewExecutor(NodeSpec{Type: "flaky"}, func(context.Context, map[string]any) (map[string]any, error) {
		if calls.Add(1) <= n {
			return nil, failWith
		}
		return map[string]any{"ok": true}, nil
	})
}

func fastRetry(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestWithTimeout(t *testing.T) {
	stuck := NewExecutor(NodeSpec{Type: "stuck"}, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		time.Sleep(200 * time.Millisecond)
		return map[string]any{}, nil
	})

	ex := Chain(stuck, WithTimeout(20*time.Millisecond))
	assert.Equal(t, "stuck", ex.Spec().Type)

	start := time.Now()
	_, err := ex.Execute(context.Background(), nil)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 150*time.Millisecond, "the caller is released even if the executor ignores its context")

	var execErr *flowerrors.NodeExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.True(t, execErr.Timeout)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestWithTimeout_Disabled(t *testing.T) {
	var calls atomic.Int32
	base := flaky(0, &calls, nil)
	assert.Same(t, base, WithTimeout(0)(base))
}

func TestWithRetry(t *testing.T) {
	tests := []struct {
		name      string
		failures  int32
		failWith  error
		attempts  int
		wantErr   bool
		wantCalls int32
	}{
		{name: "succeeds first time", failures: 0, attempts: 3, wantCalls: 1},
		{name: "recovers", failures: 2, failWith: errors.New("flaky"), attempts: 3, wantCalls: 3},
		{name: "exhausted", failures: 5, failWith: errors.New("down"), attempts: 3, wantErr: true, wantCalls: 3},
		{name: "validation not retried", failures: 5, failWith: &flowerrors.ValidationError{Message: "bad"}, attempts: 3, wantErr: true, wantCalls: 1},
		{name: "cancellation not retried", failures: 5, failWith: context.Canceled, attempts: 3, wantErr: true, wantCalls: 1},
		{name: "single attempt", failures: 5, failWith: errors.New("down"), attempts: 1, wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			ex := Chain(flaky(tt.failures, &calls, tt.failWith), WithRetry(fastRetry(tt.attempts)))

			out, err := ex.Execute(context.Background(), nil)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.failWith)
			} else {
				require.NoError(t, err)
				assert.Equal(t, true, out["ok"])
			}
			assert.Equal(t, tt.wantCalls, calls.Load())
		})
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second}.withDefaults()

	for attempt := 0; attempt < 3; attempt++ {
		base := float64(100*time.Millisecond) * float64(int(1)<<attempt)
		d := p.delay(attempt)
		assert.GreaterOrEqual(t, float64(d), base*0.75, "attempt %d", attempt)
		assert.LessOrEqual(t, float64(d), base*1.25, "attempt %d", attempt)
	}
	assert.LessOrEqual(t, p.delay(20), time.Second)
}

func TestEngine_MiddlewareCountsAttempts(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry()
	reg.MustRegister(flaky(1, &calls, errors.New("transient")))
	eng := NewEngine(reg, WithMiddleware(WithRetry(fastRetry(3)), WithTimeout(time.Second)))

	report, err := eng.Run(context.Background(), graphOf([]workflow.Node{
		workflow.NewNode("flaky_0", "flaky", workflow.Position{}),
	}))
	require.NoError(t, err)

	res, _ := report.Result("flaky_0")
	assert.Equal(t, domain.NodeStatusCompleted, res.Status)
	assert.Equal(t, 2, res.Attempts)
}

func TestEngine_TimeoutRecordedOnNode(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister(NewExecutor(NodeSpec{Type: "slow"}, func(ctx context.Context, _ map[string]any) (map[string]any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	eng := NewEngine(reg, WithMiddleware(WithTimeout(10*time.Millisecond)))

	report, err := eng.Run(context.Background(), graphOf([]workflow.Node{
		workflow.NewNode("slow_0", "slow", workflow.Position{}),
	}))
	require.NoError(t, err)

	res, _ := report.Result("slow_0")
	assert.Equal(t, domain.NodeStatusFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.True(t, res.Error.Timeout)
	assert.Equal(t, flowerrors.KindNodeExecution, res.Error.Kind)
	assert.Equal(t, domain.RunStatusFailed, report.OverallStatus)
}
