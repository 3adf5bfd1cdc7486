// Package service is the operation surface of flowgrid: workflow CRUD,
// validation, execution launch, and the template catalog. Every operation is
// scoped to the calling user; a foreign id is indistinguishable from a
// missing one.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowgrid/flowgrid/internal/agent"
	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/internal/streaming"
	"github.com/flowgrid/flowgrid/internal/validation"
	"github.com/flowgrid/flowgrid/pkg/schema"
)

// Runner launches workflow executions.
type Runner interface {
	Execute(ctx context.Context, wf *schema.Workflow, userID string, input map[string]any, dryRun bool) (*schema.Execution, error)
}

// Service coordinates the store, validator and engine behind the caller-facing
// operations.
type Service struct {
	store     store.Store
	validator validation.Validator
	runner    Runner
	hub       streaming.EventHub
	models    agent.ModelLister
	logger    *slog.Logger
}

// New creates a Service from its collaborators. models may be nil when the
// deployment has no model backend configured.
func New(st store.Store, v validation.Validator, runner Runner, hub streaming.EventHub, models agent.ModelLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		validator: v,
		runner:    runner,
		hub:       hub,
		models:    models,
		logger:    logger,
	}
}

// --- Workflow CRUD ---

// CreateWorkflow persists a new workflow owned by the user. The graph is not
// validated here; invalid drafts are storable and validation gates execution.
func (s *Service) CreateWorkflow(ctx context.Context, wf *schema.Workflow, userID string) (*schema.Workflow, error) {
	if wf == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow is nil")
	}
	if wf.Name == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow name is required")
	}

	now := time.Now().UTC()
	wf.ID = uuid.NewString()
	wf.UserID = userID
	wf.CreatedAt = now
	wf.UpdatedAt = now

	if err := s.store.SaveWorkflow(ctx, wf); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "save workflow").WithCause(err)
	}

	s.emitWorkflowEvent(ctx, wf.ID, schema.EventWorkflowCreated)
	s.logger.InfoContext(ctx, "workflow created", "workflow_id", wf.ID, "name", wf.Name)
	return wf, nil
}

// GetWorkflow returns the user's workflow by id.
func (s *Service) GetWorkflow(ctx context.Context, id, userID string) (*schema.Workflow, error) {
	return s.store.GetWorkflow(ctx, id, userID)
}

// ListWorkflows returns all workflows owned by the user.
func (s *Service) ListWorkflows(ctx context.Context, userID string) ([]*schema.Workflow, error) {
	return s.store.ListWorkflows(ctx, userID)
}

// UpdateWorkflow applies a partial update and re-stamps updated_at.
func (s *Service) UpdateWorkflow(ctx context.Context, id, userID string, update schema.WorkflowUpdate) (*schema.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	update.Apply(wf)
	wf.UpdatedAt = time.Now().UTC()

	if err := s.store.SaveWorkflow(ctx, wf); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "save workflow").WithCause(err)
	}

	s.emitWorkflowEvent(ctx, wf.ID, schema.EventWorkflowUpdated)
	return wf, nil
}

// DeleteWorkflow removes the workflow. Past executions are retained; their
// workflow_id becomes a dangling reference by design of the execution record.
func (s *Service) DeleteWorkflow(ctx context.Context, id, userID string) error {
	if err := s.store.DeleteWorkflow(ctx, id, userID); err != nil {
		return err
	}
	s.emitWorkflowEvent(ctx, id, schema.EventWorkflowDeleted)
	s.logger.InfoContext(ctx, "workflow deleted", "workflow_id", id)
	return nil
}

// --- Validation ---

// ValidateWorkflow runs the full rule set against the user's workflow.
func (s *Service) ValidateWorkflow(ctx context.Context, id, userID string) (*schema.ValidationResult, error) {
	wf, err := s.store.GetWorkflow(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	return s.validator.Validate(wf), nil
}

// ValidateDefinition validates a workflow document that has not been saved.
func (s *Service) ValidateDefinition(wf *schema.Workflow) *schema.ValidationResult {
	return s.validator.Validate(wf)
}

// --- Execution ---

// ExecuteWorkflow validates and launches a run of the user's workflow.
// Validation errors block the launch; no execution record is created for an
// invalid workflow.
func (s *Service) ExecuteWorkflow(ctx context.Context, id, userID string, input map[string]any, dryRun bool) (*schema.Execution, error) {
	wf, err := s.store.GetWorkflow(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	if result := s.validator.Validate(wf); !result.Valid() {
		return nil, result.ToError()
	}

	if err := s.validator.ValidateInput(input, wf.InputSchema); err != nil {
		return nil, err
	}

	return s.runner.Execute(ctx, wf, userID, input, dryRun)
}

// GetExecution returns the user's execution by id.
func (s *Service) GetExecution(ctx context.Context, id, userID string) (*schema.Execution, error) {
	return s.store.GetExecution(ctx, id, userID)
}

// ListExecutions returns the user's executions, optionally scoped to one
// workflow.
func (s *Service) ListExecutions(ctx context.Context, userID, workflowID string, limit int) ([]*schema.Execution, error) {
	return s.store.ListExecutions(ctx, userID, store.ExecutionFilter{
		WorkflowID: workflowID,
		Limit:      limit,
	})
}

// --- Event feed ---

// ListEvents returns recorded lifecycle events for an execution the user owns.
func (s *Service) ListEvents(ctx context.Context, executionID, userID string) ([]*store.Event, error) {
	if _, err := s.store.GetExecution(ctx, executionID, userID); err != nil {
		return nil, err
	}
	return s.store.ListEvents(ctx, store.EventFilter{ExecutionID: executionID})
}

// --- Export / import ---

// workflowDocument is the portable export shape: the graph without ownership
// or timestamps.
type workflowDocument struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Nodes       []schema.Node   `json:"nodes"`
	Edges       []schema.Edge   `json:"edges"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// ExportWorkflow renders the user's workflow as a portable JSON document.
func (s *Service) ExportWorkflow(ctx context.Context, id, userID string) ([]byte, error) {
	wf, err := s.store.GetWorkflow(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	doc := workflowDocument{
		Name:        wf.Name,
		Description: wf.Description,
		Nodes:       wf.Nodes,
		Edges:       wf.Edges,
		InputSchema: wf.InputSchema,
	}
	return json.MarshalIndent(doc, "", "  ")
}

// ImportWorkflow creates a new workflow from an exported document. The
// document is schema-checked before anything is persisted.
func (s *Service) ImportWorkflow(ctx context.Context, raw []byte, userID string) (*schema.Workflow, error) {
	var doc workflowDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "invalid workflow document").WithCause(err)
	}

	wf := &schema.Workflow{
		Name:        doc.Name,
		Description: doc.Description,
		Nodes:       doc.Nodes,
		Edges:       doc.Edges,
		InputSchema: doc.InputSchema,
	}
	if err := s.validator.ValidateDocument(wf); err != nil {
		return nil, err
	}

	return s.CreateWorkflow(ctx, wf, userID)
}

// --- Models ---

// ListModels enumerates the models the backend can serve.
func (s *Service) ListModels(ctx context.Context) ([]agent.ModelInfo, error) {
	if s.models == nil {
		return nil, schema.NewError(schema.ErrCodeUnavailable, "no model backend configured")
	}
	return s.models.ListModels(ctx)
}

func (s *Service) emitWorkflowEvent(ctx context.Context, workflowID, eventType string) {
	if err := s.store.AppendEvent(ctx, &store.Event{
		WorkflowID: workflowID,
		Type:       eventType,
	}); err != nil {
		s.logger.WarnContext(ctx, "append workflow event failed", "workflow_id", workflowID, "error", err)
	}
	if s.hub != nil {
		_ = s.hub.Publish(ctx, streaming.StreamEvent{
			WorkflowID: workflowID,
			EventType:  eventType,
		})
	}
}
