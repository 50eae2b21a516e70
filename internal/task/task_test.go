package task

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriority_String(t *testing.T) {
	tests := []struct {
		priority Priority
		expected string
	}{
		{PriorityLow, "low"},
		{PriorityNormal, "normal"},
		{PriorityHigh, "high"},
		{PriorityCritical, "critical"},
		{Priority(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.priority.String())
		})
	}
}

func TestPriority_StreamName(t *testing.T) {
	tests := []struct {
		priority Priority
		prefix   string
		expected string
	}{
		{PriorityLow, "tasks", "tasks:low"},
		{PriorityNormal, "tasks", "tasks:normal"},
		{PriorityHigh, "queue", "queue:high"},
		{PriorityCritical, "jobs", "jobs:critical"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.priority.StreamName(tt.prefix))
		})
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		input    string
		expected Priority
	}{
		{"low", PriorityLow},
		{"normal", PriorityNormal},
		{"high", PriorityHigh},
		{"critical", PriorityCritical},
		{"invalid", PriorityNormal},
		{"", PriorityNormal},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParsePriority(tt.input))
		})
	}
}

func TestPriorityFromInt(t *testing.T) {
	tests := []struct {
		input    int
		expected Priority
	}{
		{0, PriorityLow},
		{1, PriorityNormal},
		{2, PriorityHigh},
		{3, PriorityCritical},
		{-1, PriorityNormal},
		{4, PriorityNormal},
		{99, PriorityNormal},
	}

	for _, tt := range tests {
		t.Run("", func(t *testing.T) {
			assert.Equal(t, tt.expected, PriorityFromInt(tt.input))
		})
	}
}

func TestNew(t *testing.T) {
	kwargs := map[string]any{"to": "user@example.com"}
	tk := New("send_email", []any{"hello"}, kwargs, PriorityHigh)

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, "send_email", tk.JobName)
	assert.Equal(t, kwargs, tk.Kwargs)
	assert.Equal(t, PriorityHigh, tk.Priority)
	assert.Equal(t, StatePending, tk.Status)
	assert.False(t, tk.TimeEnqueued.IsZero())
	assert.NotNil(t, tk.Metadata)
	assert.Nil(t, tk.TimeStarted)
	assert.Nil(t, tk.TimeEnded)
}

func TestFromRequest(t *testing.T) {
	eta := time.Now().UTC().Add(time.Minute)
	req := &CreateTaskRequest{
		JobName:  "send_email",
		Kwargs:   map[string]any{"to": "user@example.com"},
		Priority: 2, // High
		ETA:      &eta,
		Metadata: map[string]string{"source": "api"},
	}

	tk := FromRequest(req)

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, "send_email", tk.JobName)
	assert.Equal(t, PriorityHigh, tk.Priority)
	assert.Equal(t, &eta, tk.ETA)
	assert.Equal(t, "api", tk.Metadata["source"])
}

func TestFromRequest_Defaults(t *testing.T) {
	req := &CreateTaskRequest{JobName: "simple"}

	tk := FromRequest(req)

	assert.Equal(t, PriorityNormal, tk.Priority)
	assert.Nil(t, tk.ETA)
}

func TestTask_ToResponse(t *testing.T) {
	now := time.Now().UTC()
	tk := &Task{
		ID:           "task-123",
		JobName:      "test",
		Priority:     PriorityHigh,
		Status:       StateStarted,
		TimeEnqueued: now,
		TimeStarted:  &now,
		Worker:       "worker-1",
		Metadata:     map[string]string{"key": "value"},
	}

	resp := tk.ToResponse()

	assert.Equal(t, "task-123", resp.ID)
	assert.Equal(t, "test", resp.JobName)
	assert.Equal(t, "high", resp.Priority)
	assert.Equal(t, "started", resp.Status)
	assert.Equal(t, "worker-1", resp.Worker)
}

func TestTask_ToJSON_FromJSON(t *testing.T) {
	original := New("test", nil, map[string]any{"key": "value"}, PriorityNormal)

	data, err := original.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.JobName, restored.JobName)
	assert.Equal(t, original.Priority, restored.Priority)
	assert.Equal(t, original.Status, restored.Status)
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("invalid json"))
	assert.Error(t, err)
}

func TestTask_ToMap_FromMap(t *testing.T) {
	original := New("test", nil, map[string]any{"key": "value"}, PriorityHigh)

	m := original.ToMap()
	assert.Contains(t, m, "data")

	restored, err := FromMap(m)
	require.NoError(t, err)
	assert.Equal(t, original.ID, restored.ID)
}

func TestFromMap_Invalid(t *testing.T) {
	_, err := FromMap(map[string]interface{}{})
	assert.Equal(t, ErrInvalidTaskData, err)

	_, err = FromMap(map[string]interface{}{"data": 123})
	assert.Equal(t, ErrInvalidTaskData, err)
}

func TestTask_JSONMarshal_Unmarshal(t *testing.T) {
	now := time.Now().UTC()
	tk := &Task{
		ID:           "test-id",
		JobName:      "email",
		Kwargs:       map[string]any{"to": "test@example.com"},
		Priority:     PriorityHigh,
		Status:       StatePending,
		TimeEnqueued: now,
		Metadata:     map[string]string{"source": "api"},
	}

	data, err := json.Marshal(tk)
	require.NoError(t, err)

	var restored Task
	err = json.Unmarshal(data, &restored)
	require.NoError(t, err)

	assert.Equal(t, tk.ID, restored.ID)
	assert.Equal(t, tk.JobName, restored.JobName)
	assert.Equal(t, tk.Priority, restored.Priority)
}
