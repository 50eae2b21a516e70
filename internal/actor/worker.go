package actor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/arbiterq/arbiterq/internal/backend"
	"github.com/arbiterq/arbiterq/internal/job"
	"github.com/arbiterq/arbiterq/internal/logger"
	"github.com/arbiterq/arbiterq/internal/metrics"
	"github.com/arbiterq/arbiterq/internal/task"
)

// claimPollTimeout bounds each Claim call so OnWork returns promptly and
// the control inbox gets serviced between claim attempts.
const claimPollTimeout = 200 * time.Millisecond

// defaultJobTimeout is used when a Job reports Timeout() == 0.
const defaultJobTimeout = 30 * time.Second

// WorkerBehavior is the Behavior implementation that drives the backend
// consumer loop: claim -> execute -> publish, with panic recovery around
// job execution.
type WorkerBehavior struct {
	WorkerID     string
	Backend      backend.Backend
	Registry     *job.Registry
	BackendLabel string // used for the claim-backoff metric label; defaults to "backend"

	actor   *Actor // set by Bind once the owning Actor exists
	backoff *task.Backoff
}

// Bind associates the owning Actor so the behavior can surface the
// currently-executing task ID via Actor.SetCurrentTask.
func (w *WorkerBehavior) Bind(a *Actor) { w.actor = a }

func (w *WorkerBehavior) OnStart(ctx context.Context) error { return nil }

// OnWork claims one task (bounded by claimPollTimeout so control messages
// interleave), executes it, and publishes the outcome. Returning false
// self-terminates the actor so its monitor respawns a replacement — used
// only when job execution exceeds its timeout.
func (w *WorkerBehavior) OnWork(ctx context.Context) bool {
	t, err := w.Backend.Claim(ctx, w.WorkerID, claimPollTimeout)
	if err != nil {
		if errors.Is(err, task.ErrEmpty) {
			return true
		}
		if errors.Is(err, task.ErrBackendUnavailable) {
			w.applyClaimBackoff(ctx, err)
			return true
		}
		logger.Error().Err(err).Str("worker_id", w.WorkerID).Msg("claim failed")
		return true
	}

	if w.backoff != nil {
		w.backoff.Reset()
	}

	if w.actor != nil {
		w.actor.SetCurrentTask(t.ID)
		defer w.actor.SetCurrentTask("")
	}

	j, err := w.Registry.Lookup(t.JobName)
	if err != nil {
		w.publishFailure(ctx, t.ID, task.ErrorKindUser, err.Error())
		return true
	}

	timeout := j.Timeout()
	if timeout <= 0 {
		timeout = defaultJobTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, execErr := w.execute(execCtx, j, t)
	duration := time.Since(start).Seconds()

	if execErr != nil {
		if errors.Is(execErr, context.DeadlineExceeded) {
			w.publishFailure(ctx, t.ID, task.ErrorKindTimeout, "job execution exceeded its timeout")
			metrics.RecordTaskCompletion(t.JobName, task.StateFailure.String(), duration)
			return false // self-terminate; monitor respawns
		}
		w.publishFailure(ctx, t.ID, task.ErrorKindUser, execErr.Error())
		metrics.RecordTaskCompletion(t.JobName, task.StateFailure.String(), duration)
		return true
	}

	if err := w.Backend.Publish(ctx, t.ID, task.StateSuccess, result, nil); err != nil {
		logger.Error().Err(err).Str("task_id", t.ID).Msg("publish success failed")
	}
	metrics.RecordTaskCompletion(t.JobName, task.StateSuccess.String(), duration)
	return true
}

// applyClaimBackoff waits out the next backoff delay for a BackendUnavailable
// claim error, bounded by ctx so shutdown stays responsive, and records the
// applied delay. failures accumulate across consecutive errors and reset on
// the next successful claim.
func (w *WorkerBehavior) applyClaimBackoff(ctx context.Context, claimErr error) {
	if w.backoff == nil {
		w.backoff = task.NewBackoff(nil)
	}
	delay := w.backoff.Next()

	label := w.BackendLabel
	if label == "" {
		label = "backend"
	}
	metrics.RecordBackendClaimBackoff(label, delay.Seconds())

	logger.Error().Err(claimErr).Str("worker_id", w.WorkerID).
		Dur("backoff", delay).Int("failures", w.backoff.Failures()).
		Msg("claim failed, backing off")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// execute wraps Job.Run with panic recovery via a deferred recover.
func (w *WorkerBehavior) execute(ctx context.Context, j job.Job, t *task.Task) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.Error().
				Str("task_id", t.ID).
				Str("job", t.JobName).
				Interface("panic", r).
				Str("stack", string(stack)).
				Msg("job handler panicked")
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return j.Run(ctx, t.Args, t.Kwargs)
}

func (w *WorkerBehavior) publishFailure(ctx context.Context, taskID string, kind task.ErrorKind, message string) {
	taskErr := &task.TaskError{Kind: kind, Message: message}
	if err := w.Backend.Publish(ctx, taskID, task.StateFailure, nil, taskErr); err != nil {
		logger.Error().Err(err).Str("task_id", taskID).Msg("publish failure failed")
	}
}

func (w *WorkerBehavior) OnStop(ctx context.Context) {
	if err := w.Backend.Close(ctx, w.WorkerID); err != nil {
		logger.Error().Err(err).Str("worker_id", w.WorkerID).Msg("backend close failed")
	}
}
