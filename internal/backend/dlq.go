package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arbiterq/arbiterq/internal/task"
)

const (
	dlqStreamName = "tasks:dlq"
	dlqSetName    = "tasks:dlq:set"
)

// DLQ is a dead-letter bucket for tasks handed to Add; nothing in the
// claim path adds to it, since claim backoff retries without limit. It is
// operational durability tooling rather than an execution-semantics
// feature: Add revokes a task that is not yet terminal (a terminal task
// keeps its state), and retrying an entry resubmits a fresh task
// rather than resurrecting the terminal one (task-level retry is not part
// of the state machine — see task.BackoffPolicy).
type DLQ struct {
	client *redis.Client
}

// NewDLQ creates a Dead Letter Queue bound to client.
func NewDLQ(client *redis.Client) *DLQ {
	return &DLQ{client: client}
}

// Entry is a stored DLQ record.
type Entry struct {
	Task      *task.Task `json:"task"`
	Reason    string     `json:"reason"`
	AddedAt   time.Time  `json:"added_at"`
	MessageID string     `json:"message_id"`
}

// Add revokes t (if not already terminal) and records it in the DLQ.
func (d *DLQ) Add(ctx context.Context, t *task.Task, reason string) error {
	if !t.Status.IsTerminal() {
		sm := task.NewStateMachine(t)
		if err := sm.Revoke(); err != nil {
			return err
		}
	}

	entry := Entry{Task: t, Reason: reason, AddedAt: time.Now().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dlq entry: %w", err)
	}

	_, err = d.client.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStreamName,
		Values: map[string]interface{}{
			"task_id": t.ID,
			"data":    string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("add to dlq stream: %w", err)
	}

	d.client.SAdd(ctx, dlqSetName, t.ID)
	return nil
}

// List returns up to count DLQ entries (0 = all) starting at offset.
func (d *DLQ) List(ctx context.Context, count int64, offset string) ([]Entry, error) {
	if offset == "" {
		offset = "-"
	}

	messages, err := d.client.XRange(ctx, dlqStreamName, offset, "+").Result()
	if err != nil {
		return nil, fmt.Errorf("read dlq: %w", err)
	}

	entries := make([]Entry, 0, len(messages))
	for i, msg := range messages {
		if count > 0 && int64(i) >= count {
			break
		}

		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}

		var entry Entry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			continue
		}
		entry.MessageID = msg.ID
		entries = append(entries, entry)
	}

	return entries, nil
}

// Remove drops a DLQ entry from both the stream and the lookup set.
func (d *DLQ) Remove(ctx context.Context, taskID, messageID string) error {
	if messageID != "" {
		if err := d.client.XDel(ctx, dlqStreamName, messageID).Err(); err != nil {
			return fmt.Errorf("remove from dlq stream: %w", err)
		}
	}
	d.client.SRem(ctx, dlqSetName, taskID)
	return nil
}

// Retry resubmits a fresh task with the same job_name/args/kwargs as the
// DLQ'd one, then removes the DLQ entry.
func (d *DLQ) Retry(ctx context.Context, b Backend, taskID, messageID string) error {
	entries, err := d.List(ctx, 0, "")
	if err != nil {
		return err
	}

	var target *Entry
	for i := range entries {
		if entries[i].Task.ID == taskID {
			target = &entries[i]
			break
		}
	}
	if target == nil {
		return task.ErrTaskNotFound
	}

	t := target.Task
	if _, err := b.Submit(ctx, t.JobName, t.Args, t.Kwargs, SubmitOptions{Priority: t.Priority}); err != nil {
		return fmt.Errorf("resubmit dlq task: %w", err)
	}

	return d.Remove(ctx, taskID, target.MessageID)
}

// RetryAll resubmits every DLQ entry and returns the count resubmitted.
func (d *DLQ) RetryAll(ctx context.Context, b Backend) (int, error) {
	entries, err := d.List(ctx, 0, "")
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if err := d.Retry(ctx, b, entry.Task.ID, entry.MessageID); err != nil {
			continue
		}
		count++
	}
	return count, nil
}

// Size returns the number of tasks currently in the DLQ.
func (d *DLQ) Size(ctx context.Context) (int64, error) {
	return d.client.SCard(ctx, dlqSetName).Result()
}

// Contains reports whether taskID is currently in the DLQ.
func (d *DLQ) Contains(ctx context.Context, taskID string) (bool, error) {
	return d.client.SIsMember(ctx, dlqSetName, taskID).Result()
}

// Clear removes every DLQ entry.
func (d *DLQ) Clear(ctx context.Context) error {
	if err := d.client.Del(ctx, dlqStreamName).Err(); err != nil {
		return fmt.Errorf("delete dlq stream: %w", err)
	}
	return d.client.Del(ctx, dlqSetName).Err()
}
