package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/pkg/schema"
)

func newExec(status schema.ExecutionStatus) *schema.Execution {
	return &schema.Execution{
		ID:         "exec-1",
		WorkflowID: "wf-1",
		Status:     status,
	}
}

func TestExecutionFSM_ValidTransitions(t *testing.T) {
	st := store.NewMemoryStore()
	fsm := NewExecutionFSM(st)
	ctx := context.Background()

	exec := newExec(schema.ExecutionStatusPending)

	require.NoError(t, fsm.Transition(ctx, exec, schema.ExecutionStatusRunning))
	assert.Equal(t, schema.ExecutionStatusRunning, exec.Status)

	require.NoError(t, fsm.Transition(ctx, exec, schema.ExecutionStatusCompleted))
	assert.Equal(t, schema.ExecutionStatusCompleted, exec.Status)
}

func TestExecutionFSM_RunningToFailed(t *testing.T) {
	st := store.NewMemoryStore()
	fsm := NewExecutionFSM(st)

	exec := newExec(schema.ExecutionStatusRunning)
	require.NoError(t, fsm.Transition(context.Background(), exec, schema.ExecutionStatusFailed))
	assert.Equal(t, schema.ExecutionStatusFailed, exec.Status)
}

func TestExecutionFSM_InvalidTransitions(t *testing.T) {
	st := store.NewMemoryStore()
	fsm := NewExecutionFSM(st)
	ctx := context.Background()

	cases := []struct {
		name string
		from schema.ExecutionStatus
		to   schema.ExecutionStatus
	}{
		{"pending to completed", schema.ExecutionStatusPending, schema.ExecutionStatusCompleted},
		{"pending to failed", schema.ExecutionStatusPending, schema.ExecutionStatusFailed},
		{"completed to running", schema.ExecutionStatusCompleted, schema.ExecutionStatusRunning},
		{"failed to running", schema.ExecutionStatusFailed, schema.ExecutionStatusRunning},
		{"failed to completed", schema.ExecutionStatusFailed, schema.ExecutionStatusCompleted},
		{"running to pending", schema.ExecutionStatusRunning, schema.ExecutionStatusPending},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec := newExec(tc.from)
			err := fsm.Transition(ctx, exec, tc.to)
			require.Error(t, err)

			var fe *schema.FlowError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, schema.ErrCodeInvalidTransition, fe.Code)
			assert.Equal(t, tc.from, exec.Status, "status must not change on rejected transition")
		})
	}
}

func TestExecutionFSM_EmitsEvents(t *testing.T) {
	st := store.NewMemoryStore()
	fsm := NewExecutionFSM(st)
	ctx := context.Background()

	exec := newExec(schema.ExecutionStatusPending)
	require.NoError(t, fsm.Transition(ctx, exec, schema.ExecutionStatusRunning))
	require.NoError(t, fsm.Transition(ctx, exec, schema.ExecutionStatusCompleted))

	events, err := st.ListEvents(ctx, store.EventFilter{ExecutionID: "exec-1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventExecutionStarted, events[0].Type)
	assert.Equal(t, schema.EventExecutionCompleted, events[1].Type)
}

func TestExecutionFSM_Hooks(t *testing.T) {
	st := store.NewMemoryStore()
	fsm := NewExecutionFSM(st)
	ctx := context.Background()

	var calls []string
	fsm.OnBefore(schema.ExecutionStatusPending, schema.ExecutionStatusRunning, func(from, to string) error {
		calls = append(calls, "before:"+from+"->"+to)
		return nil
	})
	fsm.OnAfter(schema.ExecutionStatusPending, schema.ExecutionStatusRunning, func(from, to string) error {
		calls = append(calls, "after:"+from+"->"+to)
		return nil
	})

	exec := newExec(schema.ExecutionStatusPending)
	require.NoError(t, fsm.Transition(ctx, exec, schema.ExecutionStatusRunning))

	assert.Equal(t, []string{"before:pending->running", "after:pending->running"}, calls)
}

func TestExecutionFSM_BeforeHookAborts(t *testing.T) {
	st := store.NewMemoryStore()
	fsm := NewExecutionFSM(st)
	ctx := context.Background()

	fsm.OnBefore(schema.ExecutionStatusPending, schema.ExecutionStatusRunning, func(from, to string) error {
		return schema.NewError(schema.ErrCodeExecution, "hook rejected")
	})

	exec := newExec(schema.ExecutionStatusPending)
	err := fsm.Transition(ctx, exec, schema.ExecutionStatusRunning)
	require.Error(t, err)
	assert.Equal(t, schema.ExecutionStatusPending, exec.Status)

	// No event emitted when the before hook aborts.
	events, err := st.ListEvents(ctx, store.EventFilter{ExecutionID: "exec-1"})
	require.NoError(t, err)
	assert.Empty(t, events)
}
