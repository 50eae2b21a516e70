package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Priority levels for task ordering within a backend.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

func (p Priority) StreamName(prefix string) string {
	return prefix + ":" + p.String()
}

func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "normal":
		return PriorityNormal
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// PriorityFromInt converts an integer to Priority; out-of-range values map to PriorityNormal.
func PriorityFromInt(i int) Priority {
	if i < 0 || i > 3 {
		return PriorityNormal
	}
	return Priority(i)
}

// Task represents a single unit of work dispatched to a job by name.
//
// A Task's JobName must resolve against the job registry at submission time;
// the backend never inspects Args/Kwargs, it only carries them.
type Task struct {
	ID           string         `json:"id"`
	JobName      string         `json:"job_name"`
	Args         []any          `json:"args,omitempty"`
	Kwargs       map[string]any `json:"kwargs,omitempty"`
	Priority     Priority       `json:"priority"`
	Status       State          `json:"status"`
	TimeEnqueued time.Time      `json:"time_enqueued"`
	TimeStarted  *time.Time     `json:"time_started,omitempty"`
	TimeEnded    *time.Time     `json:"time_ended,omitempty"`
	Result       any            `json:"result,omitempty"`
	Error        *TaskError     `json:"error,omitempty"`
	Worker       string         `json:"worker,omitempty"`
	ETA          *time.Time     `json:"eta,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CreateTaskRequest is the external submission payload.
type CreateTaskRequest struct {
	JobName  string            `json:"job_name"`
	Args     []any             `json:"args,omitempty"`
	Kwargs   map[string]any    `json:"kwargs,omitempty"`
	Priority int               `json:"priority,omitempty"`
	ETA      *time.Time        `json:"eta,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// TaskResponse is the external read-model for a task.
type TaskResponse struct {
	ID           string            `json:"id"`
	JobName      string            `json:"job_name"`
	Priority     string            `json:"priority"`
	Status       string            `json:"status"`
	TimeEnqueued time.Time         `json:"time_enqueued"`
	TimeStarted  *time.Time        `json:"time_started,omitempty"`
	TimeEnded    *time.Time        `json:"time_ended,omitempty"`
	Result       any               `json:"result,omitempty"`
	Error        *TaskError        `json:"error,omitempty"`
	Worker       string            `json:"worker,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// New creates a new Task in the PENDING state.
func New(jobName string, args []any, kwargs map[string]any, priority Priority) *Task {
	return &Task{
		ID:           uuid.New().String(),
		JobName:      jobName,
		Args:         args,
		Kwargs:       kwargs,
		Priority:     priority,
		Status:       StatePending,
		TimeEnqueued: time.Now().UTC(),
		Metadata:     make(map[string]string),
	}
}

// FromRequest creates a Task from a CreateTaskRequest.
func FromRequest(req *CreateTaskRequest) *Task {
	t := New(req.JobName, req.Args, req.Kwargs, PriorityFromInt(req.Priority))
	t.ETA = req.ETA
	if req.Metadata != nil {
		t.Metadata = req.Metadata
	}
	return t
}

// ToResponse converts a Task to its external read-model.
func (t *Task) ToResponse() *TaskResponse {
	return &TaskResponse{
		ID:           t.ID,
		JobName:      t.JobName,
		Priority:     t.Priority.String(),
		Status:       t.Status.String(),
		TimeEnqueued: t.TimeEnqueued,
		TimeStarted:  t.TimeStarted,
		TimeEnded:    t.TimeEnded,
		Result:       t.Result,
		Error:        t.Error,
		Worker:       t.Worker,
		Metadata:     t.Metadata,
	}
}

// ToJSON serializes the task to JSON.
func (t *Task) ToJSON() ([]byte, error) {
	return json.Marshal(t)
}

// FromJSON deserializes a task from JSON.
func FromJSON(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// ToMap converts the task to a map for Redis stream storage.
func (t *Task) ToMap() map[string]interface{} {
	data, _ := t.ToJSON()
	return map[string]interface{}{
		"data": string(data),
	}
}

// FromMap creates a task from a Redis stream entry's field map.
func FromMap(m map[string]interface{}) (*Task, error) {
	data, ok := m["data"].(string)
	if !ok {
		return nil, ErrInvalidTaskData
	}
	return FromJSON([]byte(data))
}
