package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StatePending, "pending"},
		{StateQueued, "queued"},
		{StateStarted, "started"},
		{StateSuccess, "success"},
		{StateFailure, "failure"},
		{StateRevoked, "revoked"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestParseState(t *testing.T) {
	tests := []struct {
		input    string
		expected State
	}{
		{"pending", StatePending},
		{"queued", StateQueued},
		{"started", StateStarted},
		{"success", StateSuccess},
		{"failure", StateFailure},
		{"revoked", StateRevoked},
		{"invalid", StatePending},
		{"", StatePending},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseState(tt.input))
		})
	}
}

func TestState_IsTerminal(t *testing.T) {
	terminal := []State{StateSuccess, StateFailure, StateRevoked}
	nonTerminal := []State{StatePending, StateQueued, StateStarted}

	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "expected %s to be terminal", s)
	}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "expected %s to not be terminal", s)
	}
}

func TestState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    State
		to      State
		allowed bool
	}{
		{StatePending, StateQueued, true},
		{StatePending, StateRevoked, true},
		{StatePending, StateStarted, false},
		{StatePending, StateSuccess, false},

		{StateQueued, StateStarted, true},
		{StateQueued, StateRevoked, true},
		{StateQueued, StatePending, false},

		{StateStarted, StateSuccess, true},
		{StateStarted, StateFailure, true},
		{StateStarted, StateRevoked, true},
		{StateStarted, StateQueued, false},

		{StateSuccess, StatePending, false},
		{StateFailure, StateQueued, false},
		{StateRevoked, StateStarted, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestStateMachine_Enqueue(t *testing.T) {
	tk := New("test", nil, nil, PriorityNormal)
	sm := NewStateMachine(tk)

	err := sm.Enqueue()
	require.NoError(t, err)
	assert.Equal(t, StateQueued, tk.Status)
}

func TestStateMachine_Enqueue_Invalid(t *testing.T) {
	tk := New("test", nil, nil, PriorityNormal)
	tk.Status = StateSuccess
	sm := NewStateMachine(tk)

	err := sm.Enqueue()
	assert.Equal(t, ErrInvalidTransition, err)
}

func TestStateMachine_Start(t *testing.T) {
	tk := New("test", nil, nil, PriorityNormal)
	sm := NewStateMachine(tk)
	require.NoError(t, sm.Enqueue())

	err := sm.Start("worker-123")
	require.NoError(t, err)

	assert.Equal(t, StateStarted, tk.Status)
	assert.Equal(t, "worker-123", tk.Worker)
	require.NotNil(t, tk.TimeStarted)
}

func TestStateMachine_Succeed(t *testing.T) {
	tk := New("test", nil, nil, PriorityNormal)
	sm := NewStateMachine(tk)
	require.NoError(t, sm.Enqueue())
	require.NoError(t, sm.Start("worker-123"))

	result := map[string]interface{}{"output": "ok"}
	err := sm.Succeed(result)
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, tk.Status)
	assert.Equal(t, result, tk.Result)
	assert.Nil(t, tk.Error)
	assert.NotNil(t, tk.TimeEnded)
}

func TestStateMachine_Fail(t *testing.T) {
	tk := New("test", nil, nil, PriorityNormal)
	sm := NewStateMachine(tk)
	require.NoError(t, sm.Enqueue())
	require.NoError(t, sm.Start("worker-123"))

	taskErr := &TaskError{Kind: ErrorKindUser, Message: "boom"}
	err := sm.Fail(taskErr)
	require.NoError(t, err)

	assert.Equal(t, StateFailure, tk.Status)
	assert.Equal(t, taskErr, tk.Error)
	assert.NotNil(t, tk.TimeEnded)
}

func TestStateMachine_Revoke_FromPending(t *testing.T) {
	tk := New("test", nil, nil, PriorityNormal)
	sm := NewStateMachine(tk)

	err := sm.Revoke()
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, tk.Status)
}

func TestStateMachine_Revoke_FromStarted(t *testing.T) {
	tk := New("test", nil, nil, PriorityNormal)
	sm := NewStateMachine(tk)
	require.NoError(t, sm.Enqueue())
	require.NoError(t, sm.Start("worker-123"))

	err := sm.Revoke()
	require.NoError(t, err)
	assert.Equal(t, StateRevoked, tk.Status)
}

func TestStateMachine_Revoke_AfterTerminal(t *testing.T) {
	tk := New("test", nil, nil, PriorityNormal)
	sm := NewStateMachine(tk)
	require.NoError(t, sm.Enqueue())
	require.NoError(t, sm.Start("worker-123"))
	require.NoError(t, sm.Succeed(nil))

	err := sm.Revoke()
	assert.Equal(t, ErrInvalidTransition, err)
}

func TestTaskError_Error(t *testing.T) {
	e := &TaskError{Kind: ErrorKindTimeout, Message: "deadline exceeded"}
	assert.Equal(t, "Timeout: deadline exceeded", e.Error())

	var nilErr *TaskError
	assert.Equal(t, "", nilErr.Error())
}
