package backend

import (
	"container/heap"
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/arbiterq/arbiterq/internal/config"
	"github.com/arbiterq/arbiterq/internal/job"
	"github.com/arbiterq/arbiterq/internal/logger"
	"github.com/arbiterq/arbiterq/internal/metrics"
	"github.com/arbiterq/arbiterq/internal/periodic"
	"github.com/arbiterq/arbiterq/internal/task"
)

// queueCapacity bounds each priority channel. Submit blocks until space
// frees if a priority lane is saturated rather than drop work silently;
// that wait is not bounded by ctx.
const queueCapacity = 4096

// priorityOrder is the dispatch order the local backend sweeps in, highest
// first — mirrors a Redis stream's priority ordering.
var priorityOrder = []task.Priority{
	task.PriorityCritical,
	task.PriorityHigh,
	task.PriorityNormal,
	task.PriorityLow,
}

// timeEntry is one item in a min-heap ordered by `at`, used for both the
// ETA-delay set and the expiry set.
type timeEntry struct {
	at     time.Time
	taskID string
	index  int
}

type timeHeap []*timeEntry

func (h timeHeap) Len() int { return len(h) }
func (h timeHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].taskID < h[j].taskID
	}
	return h[i].at.Before(h[j].at)
}
func (h timeHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *timeHeap) Push(x any) {
	e := x.(*timeEntry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *timeHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// LocalBackend is the in-process backend (local://): four priority
// channels, a claimed-set for at-most-once dispatch, and min-heaps for
// ETA-delayed submission and expiry sweeping, realized with channels
// instead of Redis Streams since it must run with zero external
// dependencies.
type LocalBackend struct {
	registry *job.Registry

	mu      sync.Mutex
	tasks   map[string]*task.Task
	claimed map[string]string // taskID -> workerID
	delayed timeHeap
	expiry  timeHeap

	queues map[task.Priority]chan string

	scheduler *periodic.TickScheduler

	sweepStop chan struct{}
	sweepDone chan struct{}
}

// NewLocalBackend is a backend.Factory for the local:// scheme.
func NewLocalBackend(u *url.URL, cfg *config.Config, registry *job.Registry) (Backend, error) {
	b := &LocalBackend{
		registry:  registry,
		tasks:     make(map[string]*task.Task),
		claimed:   make(map[string]string),
		queues:    make(map[task.Priority]chan string, len(priorityOrder)),
		scheduler: periodic.NewTickScheduler(registry.Periodic(), time.Now().UTC()),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	for _, p := range priorityOrder {
		b.queues[p] = make(chan string, queueCapacity)
	}

	go b.sweepLoop()
	return b, nil
}

// sweepLoop periodically promotes due ETA-delayed tasks and revokes
// expired ones. It is the local backend's substitute for a
// Redis-sorted-set scheduler poll loop.
func (b *LocalBackend) sweepLoop() {
	defer close(b.sweepDone)
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-b.sweepStop:
			return
		case now := <-ticker.C:
			b.sweep(now.UTC())
		}
	}
}

func (b *LocalBackend) sweep(now time.Time) {
	b.mu.Lock()
	var toEnqueue []*task.Task
	for b.delayed.Len() > 0 && !b.delayed[0].at.After(now) {
		e := heap.Pop(&b.delayed).(*timeEntry)
		t, ok := b.tasks[e.taskID]
		if !ok || t.Status != task.StatePending {
			continue
		}
		toEnqueue = append(toEnqueue, t)
	}

	var toRevoke []*task.Task
	for b.expiry.Len() > 0 && !b.expiry[0].at.After(now) {
		e := heap.Pop(&b.expiry).(*timeEntry)
		t, ok := b.tasks[e.taskID]
		if !ok || t.Status.IsTerminal() {
			continue
		}
		toRevoke = append(toRevoke, t)
	}
	b.mu.Unlock()

	for _, t := range toEnqueue {
		b.enqueue(t)
	}
	for _, t := range toRevoke {
		sm := task.NewStateMachine(t)
		if err := sm.Revoke(); err != nil {
			logger.Error().Err(err).Str("task_id", t.ID).Msg("expiry revoke failed")
		}
	}
}

func (b *LocalBackend) enqueue(t *task.Task) {
	sm := task.NewStateMachine(t)
	if err := sm.Enqueue(); err != nil {
		return
	}
	metrics.RecordTaskSubmission(t.JobName, t.Priority.String())
	metrics.UpdateQueueDepth(t.Priority.String(), float64(len(b.queues[t.Priority])+1))
	b.queues[t.Priority] <- t.ID
}

// Submit implements Backend.
func (b *LocalBackend) Submit(ctx context.Context, jobName string, args []any, kwargs map[string]any, opts SubmitOptions) (string, error) {
	if _, err := b.registry.Lookup(jobName); err != nil {
		return "", err
	}

	priority := opts.Priority
	t := task.New(jobName, args, kwargs, priority)
	t.ETA = opts.ETA

	b.mu.Lock()
	b.tasks[t.ID] = t
	if opts.Expiry != nil {
		heap.Push(&b.expiry, &timeEntry{at: *opts.Expiry, taskID: t.ID})
	}
	delayed := opts.ETA != nil && opts.ETA.After(time.Now().UTC())
	if delayed {
		heap.Push(&b.delayed, &timeEntry{at: *opts.ETA, taskID: t.ID})
	}
	b.mu.Unlock()

	if !delayed {
		b.enqueue(t)
	}

	return t.ID, nil
}

// GetTask implements Backend.
func (b *LocalBackend) GetTask(ctx context.Context, id string) (*task.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.tasks[id]
	if !ok {
		return nil, task.ErrTaskNotFound
	}
	snapshot := *t
	return &snapshot, nil
}

// Claim implements Backend. It sweeps priority queues highest-first
// non-blocking, then falls back to a blocking select across all lanes
// bounded by timeout.
func (b *LocalBackend) Claim(ctx context.Context, workerID string, timeout time.Duration) (*task.Task, error) {
	if id, ok := b.drainNonBlocking(); ok {
		return b.startClaim(id, workerID)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case id := <-b.queues[task.PriorityCritical]:
		return b.startClaim(id, workerID)
	case id := <-b.queues[task.PriorityHigh]:
		return b.startClaim(id, workerID)
	case id := <-b.queues[task.PriorityNormal]:
		return b.startClaim(id, workerID)
	case id := <-b.queues[task.PriorityLow]:
		return b.startClaim(id, workerID)
	case <-timer.C:
		return nil, task.ErrEmpty
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *LocalBackend) drainNonBlocking() (string, bool) {
	for _, p := range priorityOrder {
		select {
		case id := <-b.queues[p]:
			return id, true
		default:
		}
	}
	return "", false
}

func (b *LocalBackend) startClaim(taskID, workerID string) (*task.Task, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok {
		return nil, task.ErrEmpty
	}
	sm := task.NewStateMachine(t)
	if err := sm.Start(workerID); err != nil {
		return nil, task.ErrEmpty
	}
	b.claimed[taskID] = workerID

	snapshot := *t
	return &snapshot, nil
}

// Publish implements Backend.
func (b *LocalBackend) Publish(ctx context.Context, taskID string, status task.State, result any, taskErr *task.TaskError) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.tasks[taskID]
	if !ok {
		return task.ErrTaskNotFound
	}

	sm := task.NewStateMachine(t)
	var err error
	switch status {
	case task.StateSuccess:
		err = sm.Succeed(result)
	case task.StateFailure:
		err = sm.Fail(taskErr)
	case task.StateRevoked:
		err = sm.Revoke()
	default:
		err = task.ErrInvalidTransition
	}
	if err != nil {
		return err
	}

	delete(b.claimed, taskID)
	return nil
}

// Tick implements Backend.
func (b *LocalBackend) Tick(ctx context.Context, now time.Time) (int, error) {
	due := b.scheduler.Due(now)
	count := 0
	for _, jobName := range due {
		if _, err := b.Submit(ctx, jobName, nil, nil, SubmitOptions{Priority: task.PriorityNormal}); err != nil {
			logger.Error().Err(err).Str("job", jobName).Msg("periodic submit failed")
			continue
		}
		count++
	}
	metrics.SetSchedulerNextRunGap("next", time.Until(b.scheduler.NextRunAt()).Seconds())
	return count, nil
}

// NextRunAt implements Backend.
func (b *LocalBackend) NextRunAt() time.Time {
	return b.scheduler.NextRunAt()
}

// Close implements Backend. The local backend never requeues a crashed
// worker's in-flight claim: any task still claimed by workerID is failed
// explicitly (FAILURE/ActorDied) rather than silently resumed, mirroring
// RedisBackend.ClaimOrphaned's terminal-on-crash semantics for the
// dependency-free backend.
func (b *LocalBackend) Close(ctx context.Context, workerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, w := range b.claimed {
		if w != workerID {
			continue
		}
		delete(b.claimed, id)

		t, ok := b.tasks[id]
		if !ok {
			continue
		}
		taskErr := &task.TaskError{Kind: task.ErrorKindActorDied, Message: "worker closed with task still claimed"}
		sm := task.NewStateMachine(t)
		if err := sm.Fail(taskErr); err != nil {
			logger.Error().Err(err).Str("task_id", t.ID).Str("worker_id", workerID).Msg("failed to resolve orphaned task on worker close")
		}
	}
	return nil
}

// Shutdown stops the background sweep goroutine. Not part of Backend —
// called once at process exit after all workers have Close()d.
func (b *LocalBackend) Shutdown() {
	close(b.sweepStop)
	<-b.sweepDone
}
