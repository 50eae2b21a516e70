package backend

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiterq/arbiterq/internal/job"
	"github.com/arbiterq/arbiterq/internal/task"
)

type addOneJob struct{}

func (addOneJob) Name() string             { return "addone" }
func (addOneJob) Timeout() time.Duration   { return 0 }
func (addOneJob) Run(ctx context.Context, args []any, kwargs map[string]any) (any, error) {
	n := args[0].(int)
	return n + 1, nil
}

func newTestRegistry(t *testing.T) *job.Registry {
	t.Helper()
	job.Register(t.Name(), addOneJob{})
	r, err := job.NewRegistry([]string{t.Name()})
	require.NoError(t, err)
	return r
}

func newTestLocalBackend(t *testing.T) *LocalBackend {
	t.Helper()
	registry := newTestRegistry(t)
	b, err := NewLocalBackend(nil, nil, registry)
	require.NoError(t, err)
	lb := b.(*LocalBackend)
	t.Cleanup(lb.Shutdown)
	return lb
}

func TestLocalBackend_SubmitGetRoundTrip(t *testing.T) {
	b := newTestLocalBackend(t)
	ctx := context.Background()

	id, err := b.Submit(ctx, "addone", []any{41}, nil, SubmitOptions{Priority: task.PriorityNormal})
	require.NoError(t, err)

	got, err := b.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "addone", got.JobName)
	assert.Contains(t, []task.State{task.StatePending, task.StateQueued}, got.Status)
}

func TestLocalBackend_Submit_UnknownJob(t *testing.T) {
	b := newTestLocalBackend(t)
	_, err := b.Submit(context.Background(), "nope", nil, nil, SubmitOptions{})
	assert.ErrorIs(t, err, task.ErrUnknownJob)
}

func TestLocalBackend_ClaimAndPublish(t *testing.T) {
	b := newTestLocalBackend(t)
	ctx := context.Background()

	id, err := b.Submit(ctx, "addone", []any{41}, nil, SubmitOptions{Priority: task.PriorityNormal})
	require.NoError(t, err)

	claimed, err := b.Claim(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, claimed.ID)
	assert.Equal(t, task.StateStarted, claimed.Status)
	assert.Equal(t, "worker-1", claimed.Worker)

	require.NoError(t, b.Publish(ctx, id, task.StateSuccess, 42, nil))

	final, err := b.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StateSuccess, final.Status)
	assert.Equal(t, 42, final.Result)
}

func TestLocalBackend_Claim_EmptyTimesOut(t *testing.T) {
	b := newTestLocalBackend(t)
	_, err := b.Claim(context.Background(), "worker-1", 20*time.Millisecond)
	assert.ErrorIs(t, err, task.ErrEmpty)
}

func TestLocalBackend_PriorityOrdering(t *testing.T) {
	b := newTestLocalBackend(t)
	ctx := context.Background()

	lowID, err := b.Submit(ctx, "addone", []any{1}, nil, SubmitOptions{Priority: task.PriorityLow})
	require.NoError(t, err)
	criticalID, err := b.Submit(ctx, "addone", []any{2}, nil, SubmitOptions{Priority: task.PriorityCritical})
	require.NoError(t, err)

	first, err := b.Claim(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, criticalID, first.ID)

	second, err := b.Claim(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, lowID, second.ID)
}

func TestLocalBackend_ETADelaysAvailability(t *testing.T) {
	b := newTestLocalBackend(t)
	ctx := context.Background()

	eta := time.Now().UTC().Add(60 * time.Millisecond)
	id, err := b.Submit(ctx, "addone", []any{1}, nil, SubmitOptions{Priority: task.PriorityNormal, ETA: &eta})
	require.NoError(t, err)

	_, err = b.Claim(ctx, "worker-1", 20*time.Millisecond)
	assert.ErrorIs(t, err, task.ErrEmpty)

	claimed, err := b.Claim(ctx, "worker-1", 200*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, id, claimed.ID)
}

func TestLocalBackend_Publish_InvalidTransition(t *testing.T) {
	b := newTestLocalBackend(t)
	ctx := context.Background()

	id, err := b.Submit(ctx, "addone", []any{1}, nil, SubmitOptions{Priority: task.PriorityNormal})
	require.NoError(t, err)

	// Task is only QUEUED, not STARTED: publishing SUCCESS is invalid.
	err = b.Publish(ctx, id, task.StateSuccess, nil, nil)
	assert.ErrorIs(t, err, task.ErrInvalidTransition)
}

func TestLocalBackend_Close_ReleasesClaimBookkeeping(t *testing.T) {
	b := newTestLocalBackend(t)
	ctx := context.Background()

	id, err := b.Submit(ctx, "addone", []any{1}, nil, SubmitOptions{Priority: task.PriorityNormal})
	require.NoError(t, err)

	claimed, err := b.Claim(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, claimed.ID)

	require.NoError(t, b.Close(ctx, "worker-1"))
	b.mu.Lock()
	_, stillClaimed := b.claimed[id]
	b.mu.Unlock()
	assert.False(t, stillClaimed)
}

func TestLocalBackend_Close_FailsOrphanedTask(t *testing.T) {
	b := newTestLocalBackend(t)
	ctx := context.Background()

	id, err := b.Submit(ctx, "addone", []any{1}, nil, SubmitOptions{Priority: task.PriorityNormal})
	require.NoError(t, err)

	claimed, err := b.Claim(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, claimed.ID)

	require.NoError(t, b.Close(ctx, "worker-1"))

	resolved, err := b.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StateFailure, resolved.Status)
	require.NotNil(t, resolved.Error)
	assert.Equal(t, task.ErrorKindActorDied, resolved.Error.Kind)
}

func TestLocalBackend_Close_IgnoresOtherWorkersClaims(t *testing.T) {
	b := newTestLocalBackend(t)
	ctx := context.Background()

	id, err := b.Submit(ctx, "addone", []any{1}, nil, SubmitOptions{Priority: task.PriorityNormal})
	require.NoError(t, err)

	claimed, err := b.Claim(ctx, "worker-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, id, claimed.ID)

	require.NoError(t, b.Close(ctx, "worker-2"))

	resolved, err := b.GetTask(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StateStarted, resolved.Status)
}
