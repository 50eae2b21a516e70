package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbiterq/arbiterq/internal/config"
	"github.com/arbiterq/arbiterq/internal/job"
	"github.com/arbiterq/arbiterq/internal/logger"
	"github.com/arbiterq/arbiterq/internal/metrics"
	"github.com/arbiterq/arbiterq/internal/periodic"
	"github.com/arbiterq/arbiterq/internal/task"
)

const (
	scheduledSetKey  = "tasks:scheduled"
	schedulerLockKey = "scheduler:lock"
)

// RedisBackend implements the backend over Redis Streams + consumer
// groups) to the generalized Backend interface: one stream per priority,
// a `task:<id>` JSON blob per task, and a `tasks:scheduled` sorted set that
// records ETA-delayed submissions. Periodic-job ticking uses the in-memory
// periodic.TickScheduler, with a `scheduler:lock` key taken via SetNX.
type RedisBackend struct {
	client        *redis.Client
	registry      *job.Registry
	streamPrefix  string
	consumerGroup string
	blockTimeout  time.Duration
	claimMinIdle  time.Duration
	retentionDays int
	lockTTL       time.Duration

	mu        sync.Mutex
	scheduler *periodic.TickScheduler
}

// NewRedisBackendFromURL is a backend.Factory for the redis:// scheme. The
// URL's host:port overrides cfg.Redis.Addr when present.
func NewRedisBackendFromURL(u *url.URL, cfg *config.Config, registry *job.Registry) (Backend, error) {
	addr := cfg.Redis.Addr
	if u.Host != "" {
		addr = u.Host
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", task.ErrBackendUnavailable, err)
	}

	b := &RedisBackend{
		client:        client,
		registry:      registry,
		streamPrefix:  cfg.Queue.StreamPrefix,
		consumerGroup: cfg.Queue.ConsumerGroup,
		blockTimeout:  cfg.Queue.BlockTimeout,
		claimMinIdle:  cfg.Queue.ClaimMinIdle,
		retentionDays: cfg.Queue.TaskRetentionDays,
		lockTTL:       cfg.Scheduler.LockTTL,
		scheduler:     periodic.NewTickScheduler(registry.Periodic(), time.Now().UTC()),
	}

	if err := b.initStreams(ctx); err != nil {
		return nil, err
	}

	return b, nil
}

func (b *RedisBackend) initStreams(ctx context.Context) error {
	for _, p := range priorityOrder {
		streamName := p.StreamName(b.streamPrefix)
		err := b.client.XGroupCreateMkStream(ctx, streamName, b.consumerGroup, "0").Err()
		if err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
			return fmt.Errorf("%w: create group for %s: %v", task.ErrBackendUnavailable, streamName, err)
		}
	}
	return nil
}

func (b *RedisBackend) taskKey(id string) string {
	return "task:" + id
}

// Submit implements Backend.
func (b *RedisBackend) Submit(ctx context.Context, jobName string, args []any, kwargs map[string]any, opts SubmitOptions) (string, error) {
	if _, err := b.registry.Lookup(jobName); err != nil {
		return "", err
	}

	t := task.New(jobName, args, kwargs, opts.Priority)
	t.ETA = opts.ETA

	data, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("marshal task: %w", err)
	}
	if err := b.client.Set(ctx, b.taskKey(t.ID), data, 0).Err(); err != nil {
		metrics.RecordRedisError("SET")
		return "", fmt.Errorf("%w: store task: %v", task.ErrBackendUnavailable, err)
	}

	if opts.ETA != nil && opts.ETA.After(time.Now().UTC()) {
		if err := b.client.ZAdd(ctx, scheduledSetKey, redis.Z{
			Score:  float64(opts.ETA.Unix()),
			Member: t.ID,
		}).Err(); err != nil {
			metrics.RecordRedisError("ZADD")
			return "", fmt.Errorf("%w: schedule task: %v", task.ErrBackendUnavailable, err)
		}
		return t.ID, nil
	}

	if err := b.enqueue(ctx, t); err != nil {
		return "", err
	}
	return t.ID, nil
}

func (b *RedisBackend) enqueue(ctx context.Context, t *task.Task) error {
	sm := task.NewStateMachine(t)
	if err := sm.Enqueue(); err != nil {
		return err
	}
	if err := b.saveTask(ctx, t); err != nil {
		return err
	}

	streamName := t.Priority.StreamName(b.streamPrefix)
	_, err := b.client.XAdd(ctx, &redis.XAddArgs{
		Stream: streamName,
		Values: map[string]interface{}{
			"task_id":  t.ID,
			"job_name": t.JobName,
		},
	}).Result()
	if err != nil {
		metrics.RecordRedisError("XADD")
		return fmt.Errorf("%w: enqueue to stream: %v", task.ErrBackendUnavailable, err)
	}

	metrics.RecordTaskSubmission(t.JobName, t.Priority.String())
	return nil
}

func (b *RedisBackend) saveTask(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	var ttl time.Duration
	if t.Status.IsTerminal() && b.retentionDays > 0 {
		ttl = time.Duration(b.retentionDays) * 24 * time.Hour
	}
	if err := b.client.Set(ctx, b.taskKey(t.ID), data, ttl).Err(); err != nil {
		metrics.RecordRedisError("SET")
		return fmt.Errorf("%w: %v", task.ErrBackendUnavailable, err)
	}
	return nil
}

// GetTask implements Backend.
func (b *RedisBackend) GetTask(ctx context.Context, id string) (*task.Task, error) {
	data, err := b.client.Get(ctx, b.taskKey(id)).Bytes()
	if err == redis.Nil {
		return nil, task.ErrTaskNotFound
	}
	if err != nil {
		metrics.RecordRedisError("GET")
		return nil, fmt.Errorf("%w: %v", task.ErrBackendUnavailable, err)
	}
	return task.FromJSON(data)
}

// Claim implements Backend: blocking XReadGroup across all priority streams
// at once, highest-priority stream first when several are simultaneously
// ready (XReadGroup returns streams in request order).
func (b *RedisBackend) Claim(ctx context.Context, workerID string, timeout time.Duration) (*task.Task, error) {
	streams := make([]string, 0, len(priorityOrder)*2)
	for _, p := range priorityOrder {
		streams = append(streams, p.StreamName(b.streamPrefix))
	}
	for range priorityOrder {
		streams = append(streams, ">")
	}

	result, err := b.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    b.consumerGroup,
		Consumer: workerID,
		Streams:  streams,
		Count:    1,
		Block:    timeout,
	}).Result()

	if err == redis.Nil {
		return nil, task.ErrEmpty
	}
	if err != nil {
		metrics.RecordRedisError("XREADGROUP")
		return nil, fmt.Errorf("%w: %v", task.ErrBackendUnavailable, err)
	}
	if len(result) == 0 || len(result[0].Messages) == 0 {
		return nil, task.ErrEmpty
	}

	msg := result[0].Messages[0]
	streamName := result[0].Stream
	taskID, ok := msg.Values["task_id"].(string)
	if !ok {
		b.client.XAck(ctx, streamName, b.consumerGroup, msg.ID)
		return nil, task.ErrEmpty
	}

	t, err := b.GetTask(ctx, taskID)
	if err != nil {
		b.client.XAck(ctx, streamName, b.consumerGroup, msg.ID)
		return nil, task.ErrEmpty
	}

	sm := task.NewStateMachine(t)
	if err := sm.Start(workerID); err != nil {
		b.client.XAck(ctx, streamName, b.consumerGroup, msg.ID)
		return nil, task.ErrEmpty
	}
	if err := b.saveTask(ctx, t); err != nil {
		return nil, err
	}
	b.client.XAck(ctx, streamName, b.consumerGroup, msg.ID)

	return t, nil
}

// Publish implements Backend.
func (b *RedisBackend) Publish(ctx context.Context, taskID string, status task.State, result any, taskErr *task.TaskError) error {
	t, err := b.GetTask(ctx, taskID)
	if err != nil {
		return err
	}

	sm := task.NewStateMachine(t)
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

	return b.saveTask(ctx, t)
}

// Tick implements Backend, using a scheduler lock
// acquisition (SetNX on scheduler:lock) to avoid duplicate submission if
// more than one process has schedule_periodic enabled in error.
func (b *RedisBackend) Tick(ctx context.Context, now time.Time) (int, error) {
	locked, err := b.client.SetNX(ctx, schedulerLockKey, "1", b.lockTTL).Result()
	if err != nil {
		metrics.RecordRedisError("SETNX")
		return 0, fmt.Errorf("%w: %v", task.ErrBackendUnavailable, err)
	}
	if !locked {
		return 0, nil
	}
	defer b.client.Del(ctx, schedulerLockKey)

	due := b.scheduler.Due(now)
	count := 0
	for _, jobName := range due {
		if _, err := b.Submit(ctx, jobName, nil, nil, SubmitOptions{Priority: task.PriorityNormal}); err != nil {
			logger.Error().Err(err).Str("job", jobName).Msg("periodic submit failed")
			continue
		}
		count++
	}
	return count, nil
}

// NextRunAt implements Backend.
func (b *RedisBackend) NextRunAt() time.Time {
	return b.scheduler.NextRunAt()
}

// Close implements Backend. Unlike an orphan-reclaim path
// (XCLAIM on behalf of the next consumer), a clean Close does not requeue:
// in-flight work for a gracefully stopping worker is expected to have
// already reached a terminal Publish. Crash recovery for genuinely dead
// workers is handled by ClaimOrphaned, wired in as the workers monitor's
// maintenance hook, not by Close.
func (b *RedisBackend) Close(ctx context.Context, workerID string) error {
	return nil
}

// ClaimOrphaned reassigns messages idle longer than claimMinIdle to
// workerID via XCLAIM, a crash-recovery mechanism generalized
// across all priority streams. Wired in as the workers monitor's
// maintenance hook (see cmd/arbiterd) so it runs once per maintenance
// cycle and a worker that died mid-claim does not strand its task forever.
func (b *RedisBackend) ClaimOrphaned(ctx context.Context, workerID string) ([]*task.Task, error) {
	var recovered []*task.Task

	for _, p := range priorityOrder {
		streamName := p.StreamName(b.streamPrefix)

		pending, err := b.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: streamName,
			Group:  b.consumerGroup,
			Start:  "-",
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil {
			continue
		}

		for _, pe := range pending {
			if pe.Idle < b.claimMinIdle {
				continue
			}

			claimed, err := b.client.XClaim(ctx, &redis.XClaimArgs{
				Stream:   streamName,
				Group:    b.consumerGroup,
				Consumer: workerID,
				MinIdle:  b.claimMinIdle,
				Messages: []string{pe.ID},
			}).Result()
			if err != nil || len(claimed) == 0 {
				continue
			}

			msg := claimed[0]
			taskID, ok := msg.Values["task_id"].(string)
			if !ok {
				continue
			}

			t, err := b.GetTask(ctx, taskID)
			if err != nil {
				continue
			}

			taskErr := &task.TaskError{Kind: task.ErrorKindActorDied, Message: "worker heartbeat missed"}
			sm := task.NewStateMachine(t)
			if err := sm.Fail(taskErr); err != nil {
				continue
			}
			if err := b.saveTask(ctx, t); err != nil {
				continue
			}
			b.client.XAck(ctx, streamName, b.consumerGroup, msg.ID)

			recovered = append(recovered, t)
		}
	}

	return recovered, nil
}

// Shutdown closes the underlying Redis client. Not part of Backend.
func (b *RedisBackend) Shutdown() error {
	return b.client.Close()
}

// Client exposes the underlying Redis client so the DLQ and the event
// publisher, which are Redis-specific, can share the same connection.
// Not part of Backend.
func (b *RedisBackend) Client() *redis.Client {
	return b.client
}
