package mcp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/internal/scheduler"
	"github.com/flowgrid/flowgrid/internal/service"
	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/internal/streaming"
	"github.com/flowgrid/flowgrid/internal/validation"
	"github.com/flowgrid/flowgrid/pkg/schema"
)

// stubRunner records launches without running anything.
type stubRunner struct {
	mu    sync.Mutex
	calls int
}

func (r *stubRunner) Execute(_ context.Context, wf *schema.Workflow, userID string, input map[string]any, dryRun bool) (*schema.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	status := schema.ExecutionStatusRunning
	if dryRun {
		status = schema.ExecutionStatusCompleted
	}
	return &schema.Execution{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		UserID:         userID,
		Status:         status,
		InputData:      input,
		NodeExecutions: map[string]*schema.NodeResult{},
		StartTime:      time.Now().UTC(),
	}, nil
}

func newTestServer(t *testing.T) (*FlowgridServer, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	v, err := validation.NewWorkflowValidator()
	require.NoError(t, err)
	svc := service.New(st, v, &stubRunner{}, streaming.NewMemoryHub(), nil, nil)
	sched := scheduler.NewScheduler(st, svc, nil)
	return NewFlowgridServer(FlowgridServerDeps{Service: svc, Scheduler: sched}), st
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func validDefinition() map[string]any {
	return map[string]any{
		"name": "triage",
		"nodes": []any{
			map[string]any{"id": "input-1", "type": "input", "position": map[string]any{"x": 0, "y": 0}, "data": map[string]any{}},
			map[string]any{"id": "output-1", "type": "output", "position": map[string]any{"x": 100, "y": 0}, "data": map[string]any{}},
		},
		"edges": []any{
			map[string]any{"id": "e1", "source": "input-1", "target": "output-1"},
		},
	}
}

func createWorkflow(t *testing.T, s *FlowgridServer, userID string) string {
	t.Helper()
	result, err := s.handleCreate(context.Background(), buildRequest("flowgrid.create", map[string]any{
		"definition": validDefinition(),
		"user_id":    userID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var wf schema.Workflow
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &wf))
	return wf.ID
}

// --- Tests ---

func TestNewFlowgridServer(t *testing.T) {
	s, _ := newTestServer(t)
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
}

func TestToolRegistration(t *testing.T) {
	s, _ := newTestServer(t)

	expectedTools := []string{
		"flowgrid.create",
		"flowgrid.get",
		"flowgrid.list",
		"flowgrid.update",
		"flowgrid.delete",
		"flowgrid.validate",
		"flowgrid.execute",
		"flowgrid.execution",
		"flowgrid.executions",
		"flowgrid.events",
		"flowgrid.templates",
		"flowgrid.instantiate",
		"flowgrid.export",
		"flowgrid.import",
		"flowgrid.models",
		"flowgrid.schedule",
		"flowgrid.schedules",
		"flowgrid.unschedule",
	}

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, len(expectedTools))
	for _, name := range expectedTools {
		assert.NotNil(t, s.mcpServer.GetTool(name), "tool %s should be registered", name)
	}
}

func TestCreateTool(t *testing.T) {
	s, _ := newTestServer(t)

	id := createWorkflow(t, s, "user-1")
	assert.NotEmpty(t, id)
}

func TestCreateTool_MissingUserID(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleCreate(context.Background(), buildRequest("flowgrid.create", map[string]any{
		"definition": validDefinition(),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestGetTool(t *testing.T) {
	s, _ := newTestServer(t)
	id := createWorkflow(t, s, "user-1")

	result, err := s.handleGet(context.Background(), buildRequest("flowgrid.get", map[string]any{
		"workflow_id": id,
		"user_id":     "user-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "triage")

	// A foreign user gets an error result.
	result, err = s.handleGet(context.Background(), buildRequest("flowgrid.get", map[string]any{
		"workflow_id": id,
		"user_id":     "user-2",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestUpdateTool(t *testing.T) {
	s, _ := newTestServer(t)
	id := createWorkflow(t, s, "user-1")

	result, err := s.handleUpdate(context.Background(), buildRequest("flowgrid.update", map[string]any{
		"workflow_id": id,
		"update":      map[string]any{"name": "renamed"},
		"user_id":     "user-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))
	assert.Contains(t, resultText(t, result), "renamed")
}

func TestDeleteTool(t *testing.T) {
	s, _ := newTestServer(t)
	id := createWorkflow(t, s, "user-1")

	result, err := s.handleDelete(context.Background(), buildRequest("flowgrid.delete", map[string]any{
		"workflow_id": id,
		"user_id":     "user-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	result, err = s.handleGet(context.Background(), buildRequest("flowgrid.get", map[string]any{
		"workflow_id": id,
		"user_id":     "user-1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestValidateTool(t *testing.T) {
	s, _ := newTestServer(t)
	id := createWorkflow(t, s, "user-1")

	result, err := s.handleValidate(context.Background(), buildRequest("flowgrid.validate", map[string]any{
		"workflow_id": id,
		"user_id":     "user-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var report struct {
		Valid bool `json:"valid"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &report))
	assert.True(t, report.Valid)
}

func TestExecuteTool_DryRun(t *testing.T) {
	s, _ := newTestServer(t)
	id := createWorkflow(t, s, "user-1")

	result, err := s.handleExecute(context.Background(), buildRequest("flowgrid.execute", map[string]any{
		"workflow_id": id,
		"input":       map[string]any{"text": "hello"},
		"dry_run":     true,
		"user_id":     "user-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var exec schema.Execution
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &exec))
	assert.Equal(t, schema.ExecutionStatusCompleted, exec.Status)
}

func TestTemplatesAndInstantiate(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleTemplates(context.Background(), buildRequest("flowgrid.templates", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "template-document-analysis")

	result, err = s.handleInstantiate(context.Background(), buildRequest("flowgrid.instantiate", map[string]any{
		"template_id": "template-document-analysis",
		"user_id":     "user-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var wf schema.Workflow
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &wf))
	assert.False(t, wf.IsTemplate)
	assert.Equal(t, "user-1", wf.UserID)
}

func TestExportImportTools(t *testing.T) {
	s, _ := newTestServer(t)
	id := createWorkflow(t, s, "user-1")

	result, err := s.handleExport(context.Background(), buildRequest("flowgrid.export", map[string]any{
		"workflow_id": id,
		"user_id":     "user-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &doc))

	result, err = s.handleImport(context.Background(), buildRequest("flowgrid.import", map[string]any{
		"document": doc,
		"user_id":  "user-2",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var wf schema.Workflow
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &wf))
	assert.Equal(t, "user-2", wf.UserID)
	assert.NotEqual(t, id, wf.ID)
}

func TestModelsTool_NoBackend(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleModels(context.Background(), buildRequest("flowgrid.models", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestScheduleTools(t *testing.T) {
	s, _ := newTestServer(t)
	id := createWorkflow(t, s, "user-1")

	result, err := s.handleSchedule(context.Background(), buildRequest("flowgrid.schedule", map[string]any{
		"workflow_id": id,
		"cron":        "0 3 * * *",
		"user_id":     "user-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var run store.ScheduledRun
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &run))
	assert.True(t, run.Enabled)

	result, err = s.handleSchedules(context.Background(), buildRequest("flowgrid.schedules", map[string]any{
		"user_id": "user-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), run.ID)

	result, err = s.handleUnschedule(context.Background(), buildRequest("flowgrid.unschedule", map[string]any{
		"schedule_id": run.ID,
		"user_id":     "user-1",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
}

func TestScheduleTool_InvalidCron(t *testing.T) {
	s, _ := newTestServer(t)
	id := createWorkflow(t, s, "user-1")

	result, err := s.handleSchedule(context.Background(), buildRequest("flowgrid.schedule", map[string]any{
		"workflow_id": id,
		"cron":        "whenever",
		"user_id":     "user-1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
