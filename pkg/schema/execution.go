package schema

import "time"

// ExecutionStatus is the lifecycle state of a single workflow run.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// ValidExecutionTransitions defines the allowed lifecycle transitions.
// Completed and failed are terminal; nothing transitions out of them.
var ValidExecutionTransitions = map[ExecutionStatus][]ExecutionStatus{
	ExecutionStatusPending:   {ExecutionStatusRunning},
	ExecutionStatusRunning:   {ExecutionStatusCompleted, ExecutionStatusFailed},
	ExecutionStatusCompleted: {},
	ExecutionStatusFailed:    {},
}

// IsTerminal reports whether the status is completed or failed.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// NodeRunStatus is the outcome of processing a single node.
type NodeRunStatus string

const (
	NodeRunCompleted NodeRunStatus = "completed"
	NodeRunFailed    NodeRunStatus = "failed"
)

// NodeResult is the recorded outcome of one node within an execution.
// Nodes skipped by branch selection never get a result.
type NodeResult struct {
	NodeID      string        `json:"node_id"`
	Status      NodeRunStatus `json:"status"`
	Output      any           `json:"output,omitempty"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	DurationMs  int64         `json:"duration_ms,omitempty"`
}

// Execution is one run of a workflow. WorkflowID is a weak back-reference:
// deleting the workflow does not delete its past executions.
type Execution struct {
	ID             string                 `json:"id"`
	WorkflowID     string                 `json:"workflow_id"`
	UserID         string                 `json:"user_id"`
	Status         ExecutionStatus        `json:"status"`
	InputData      map[string]any         `json:"input_data"`
	OutputData     map[string]any         `json:"output_data,omitempty"`
	NodeExecutions map[string]*NodeResult `json:"node_executions"`
	StartTime      time.Time              `json:"start_time"`
	EndTime        *time.Time             `json:"end_time,omitempty"`
	Error          string                 `json:"error,omitempty"`
}
