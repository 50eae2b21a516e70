package actor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterq/arbiterq/internal/backend"
	"github.com/arbiterq/arbiterq/internal/job"
	"github.com/arbiterq/arbiterq/internal/task"
)

type addOneJob struct{ timeout time.Duration }

func (j addOneJob) Name() string           { return "worker.addone" }
func (j addOneJob) Timeout() time.Duration { return j.timeout }
func (j addOneJob) Run(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	n := args[0].(int)
	return n + 1, nil
}

type sleepyJob struct{}

func (sleepyJob) Name() string           { return "worker.sleepy" }
func (sleepyJob) Timeout() time.Duration { return 20 * time.Millisecond }
func (sleepyJob) Run(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	select {
	case <-time.After(5 * time.Second):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newWorkerTestBackend(t *testing.T, jobs ...job.Job) (backend.Backend, *job.Registry) {
	t.Helper()
	for _, j := range jobs {
		job.Register(t.Name(), j)
	}
	registry, err := job.NewRegistry([]string{t.Name()})
	require.NoError(t, err)

	b, err := backend.NewLocalBackend(nil, nil, registry)
	require.NoError(t, err)
	t.Cleanup(func() { b.(*backend.LocalBackend).Shutdown() })
	return b, registry
}

func TestWorkerBehavior_ExecutesClaimedTaskToSuccess(t *testing.T) {
	b, registry := newWorkerTestBackend(t, addOneJob{})
	ctx := context.Background()

	id, err := b.Submit(ctx, "worker.addone", []any{41}, nil, backend.SubmitOptions{Priority: task.PriorityNormal})
	require.NoError(t, err)

	wb := &WorkerBehavior{WorkerID: "worker-1", Backend: b, Registry: registry}
	require.NoError(t, wb.OnStart(ctx))
	more := wb.OnWork(ctx)
	assert.True(t, more)

	got, err := b.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StateSuccess, got.Status)
	assert.Equal(t, 42, got.Result)
}

func TestWorkerBehavior_TimeoutFailsTaskAndSelfTerminates(t *testing.T) {
	b, registry := newWorkerTestBackend(t, sleepyJob{})
	ctx := context.Background()

	id, err := b.Submit(ctx, "worker.sleepy", nil, nil, backend.SubmitOptions{Priority: task.PriorityNormal})
	require.NoError(t, err)

	wb := &WorkerBehavior{WorkerID: "worker-1", Backend: b, Registry: registry}
	more := wb.OnWork(ctx)
	assert.False(t, more, "worker should self-terminate on job timeout")

	got, err := b.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StateFailure, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, task.ErrorKindTimeout, got.Error.Kind)
}

func TestWorkerBehavior_NoTaskAvailableContinues(t *testing.T) {
	b, registry := newWorkerTestBackend(t, addOneJob{})
	wb := &WorkerBehavior{WorkerID: "worker-1", Backend: b, Registry: registry}
	assert.True(t, wb.OnWork(context.Background()))
}

// unavailableBackend always fails Claim with ErrBackendUnavailable, used
// to exercise WorkerBehavior's claim-backoff path without a real backend.
type unavailableBackend struct{ claims int }

func (b *unavailableBackend) Submit(ctx context.Context, jobName string, args []any, kwargs map[string]any, opts backend.SubmitOptions) (string, error) {
	return "", nil
}
func (b *unavailableBackend) GetTask(ctx context.Context, id string) (*task.Task, error) {
	return nil, task.ErrTaskNotFound
}
func (b *unavailableBackend) Claim(ctx context.Context, workerID string, timeout time.Duration) (*task.Task, error) {
	b.claims++
	return nil, fmt.Errorf("%w: connection refused", task.ErrBackendUnavailable)
}
func (b *unavailableBackend) Publish(ctx context.Context, taskID string, status task.State, result any, taskErr *task.TaskError) error {
	return nil
}
func (b *unavailableBackend) Tick(ctx context.Context, now time.Time) (int, error) { return 0, nil }
func (b *unavailableBackend) NextRunAt() time.Time                                { return time.Time{} }
func (b *unavailableBackend) Close(ctx context.Context, workerID string) error     { return nil }

func TestWorkerBehavior_BackendUnavailableAppliesBackoff(t *testing.T) {
	b := &unavailableBackend{}
	wb := &WorkerBehavior{WorkerID: "worker-1", Backend: b, BackendLabel: "test"}

	start := time.Now()
	more := wb.OnWork(context.Background())
	elapsed := time.Since(start)

	assert.True(t, more, "a BackendUnavailable claim error should not self-terminate the actor")
	assert.Equal(t, 1, b.claims)
	require.NotNil(t, wb.backoff)
	assert.Equal(t, 1, wb.backoff.Failures())
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond, "OnWork should wait out the first backoff delay before returning")
}

func TestWorkerBehavior_BackendUnavailableBackoffGrowsAcrossFailures(t *testing.T) {
	b := &unavailableBackend{}
	wb := &WorkerBehavior{WorkerID: "worker-1", Backend: b}

	for i := 0; i < 3; i++ {
		wb.OnWork(context.Background())
	}
	require.NotNil(t, wb.backoff)
	assert.Equal(t, 3, wb.backoff.Failures())
}

func TestWorkerBehavior_OnStopClosesBackendClaim(t *testing.T) {
	b, registry := newWorkerTestBackend(t, addOneJob{})
	ctx := context.Background()

	id, err := b.Submit(ctx, "worker.addone", []any{1}, nil, backend.SubmitOptions{Priority: task.PriorityNormal})
	require.NoError(t, err)

	claimed, err := b.Claim(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	require.Equal(t, id, claimed.ID)

	wb := &WorkerBehavior{WorkerID: "worker-1", Backend: b, Registry: registry}
	wb.OnStop(ctx)

	got, err := b.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StateFailure, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, task.ErrorKindActorDied, got.Error.Kind)
}
