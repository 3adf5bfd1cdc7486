// Package store is the persistence layer: workflows, executions, the event
// feed, and scheduled runs.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flowgrid/flowgrid/pkg/schema"
)

// Store defines the persistence layer contract. Workflow and execution reads
// are ownership-scoped: an id that exists but belongs to another user is
// reported as not found.
// All implementations must be safe for concurrent use.
type Store interface {
	// Workflows
	SaveWorkflow(ctx context.Context, wf *schema.Workflow) error
	GetWorkflow(ctx context.Context, id, userID string) (*schema.Workflow, error)
	ListWorkflows(ctx context.Context, userID string) ([]*schema.Workflow, error)
	DeleteWorkflow(ctx context.Context, id, userID string) error
	ListTemplateWorkflows(ctx context.Context) ([]*schema.Workflow, error)

	// Executions
	SaveExecution(ctx context.Context, exec *schema.Execution) error
	GetExecution(ctx context.Context, id, userID string) (*schema.Execution, error)
	ListExecutions(ctx context.Context, userID string, filter ExecutionFilter) ([]*schema.Execution, error)

	// Event feed (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error)

	// Scheduled runs
	CreateScheduledRun(ctx context.Context, run *ScheduledRun) error
	GetScheduledRun(ctx context.Context, id string) (*ScheduledRun, error)
	UpdateScheduledRun(ctx context.Context, id string, update ScheduledRunUpdate) error
	ListScheduledRuns(ctx context.Context, filter ScheduledRunFilter) ([]*ScheduledRun, error)
	DeleteScheduledRun(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Event is one row of the append-only event feed.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id,omitempty"`
	WorkflowID  string          `json:"workflow_id,omitempty"`
	NodeID      string          `json:"node_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	ExecutionID string     `json:"execution_id,omitempty"`
	WorkflowID  string     `json:"workflow_id,omitempty"`
	EventType   string     `json:"event_type,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
	Limit       int        `json:"limit,omitempty"`
}

// ScheduledRun launches a workflow on a cron schedule.
type ScheduledRun struct {
	ID             string          `json:"id"`
	WorkflowID     string          `json:"workflow_id"`
	UserID         string          `json:"user_id"`
	CronExpression string          `json:"cron_expression"`
	InputData      json.RawMessage `json:"input_data,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ScheduledRunUpdate specifies mutable fields of a scheduled run.
type ScheduledRunUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledRunFilter specifies criteria for listing scheduled runs.
type ScheduledRunFilter struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	Enabled    *bool  `json:"enabled,omitempty"`
	Limit      int    `json:"limit,omitempty"`
}

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	WorkflowID string `json:"workflow_id,omitempty"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}
