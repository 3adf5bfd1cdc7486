package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/internal/streaming"
	"github.com/flowgrid/flowgrid/internal/validation"
	"github.com/flowgrid/flowgrid/pkg/schema"
)

// stubRunner records launches without running anything.
type stubRunner struct {
	mu    sync.Mutex
	calls int
	last  *schema.Execution
}

func (r *stubRunner) Execute(ctx context.Context, wf *schema.Workflow, userID string, input map[string]any, dryRun bool) (*schema.Execution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	exec := &schema.Execution{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		UserID:         userID,
		Status:         schema.ExecutionStatusRunning,
		InputData:      input,
		NodeExecutions: map[string]*schema.NodeResult{},
		StartTime:      time.Now().UTC(),
	}
	r.last = exec
	return exec, nil
}

func (r *stubRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *stubRunner) {
	t.Helper()
	st := store.NewMemoryStore()
	v, err := validation.NewWorkflowValidator()
	require.NoError(t, err)
	runner := &stubRunner{}
	svc := New(st, v, runner, streaming.NewMemoryHub(), nil, nil)
	return svc, st, runner
}

func validWorkflow() *schema.Workflow {
	return &schema.Workflow{
		Name: "triage",
		Nodes: []schema.Node{
			{ID: "input-1", Type: schema.NodeTypeInput},
			{ID: "output-1", Type: schema.NodeTypeOutput},
		},
		Edges: []schema.Edge{
			{ID: "e1", Source: "input-1", Target: "output-1"},
		},
	}
}

// --- CRUD ---

func TestService_CreateAndGetWorkflow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateWorkflow(ctx, validWorkflow(), "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "user-1", created.UserID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := svc.GetWorkflow(ctx, created.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "triage", got.Name)
}

func TestService_CreateWorkflow_RequiresName(t *testing.T) {
	svc, _, _ := newTestService(t)

	wf := validWorkflow()
	wf.Name = ""
	_, err := svc.CreateWorkflow(context.Background(), wf, "user-1")
	require.Error(t, err)

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
}

func TestService_CreateWorkflow_AllowsInvalidDraft(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// No input node; validation fails but drafts are storable.
	wf := &schema.Workflow{
		Name:  "draft",
		Nodes: []schema.Node{{ID: "output-1", Type: schema.NodeTypeOutput}},
	}
	created, err := svc.CreateWorkflow(ctx, wf, "user-1")
	require.NoError(t, err)

	result, err := svc.ValidateWorkflow(ctx, created.ID, "user-1")
	require.NoError(t, err)
	assert.False(t, result.Valid())
}

func TestService_UpdateWorkflow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateWorkflow(ctx, validWorkflow(), "user-1")
	require.NoError(t, err)
	before := created.UpdatedAt

	time.Sleep(5 * time.Millisecond)
	name := "renamed"
	updated, err := svc.UpdateWorkflow(ctx, created.ID, "user-1", schema.WorkflowUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Name)
	assert.True(t, updated.UpdatedAt.After(before))

	// Untouched fields survive.
	assert.Len(t, updated.Nodes, 2)
}

func TestService_DeleteWorkflow(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateWorkflow(ctx, validWorkflow(), "user-1")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteWorkflow(ctx, created.ID, "user-1"))

	_, err = svc.GetWorkflow(ctx, created.ID, "user-1")
	require.Error(t, err)

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeNotFound, fe.Code)
}

func TestService_DeleteWorkflow_KeepsExecutions(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateWorkflow(ctx, validWorkflow(), "user-1")
	require.NoError(t, err)

	exec := &schema.Execution{
		ID:             uuid.NewString(),
		WorkflowID:     created.ID,
		UserID:         "user-1",
		Status:         schema.ExecutionStatusCompleted,
		NodeExecutions: map[string]*schema.NodeResult{},
		StartTime:      time.Now().UTC(),
	}
	require.NoError(t, st.SaveExecution(ctx, exec))

	require.NoError(t, svc.DeleteWorkflow(ctx, created.ID, "user-1"))

	got, err := svc.GetExecution(ctx, exec.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.WorkflowID)
}

// --- Ownership isolation ---

func TestService_CrossUserIsolation(t *testing.T) {
	svc, _, runner := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateWorkflow(ctx, validWorkflow(), "user-1")
	require.NoError(t, err)

	assertNotFound := func(t *testing.T, err error) {
		t.Helper()
		require.Error(t, err)
		var fe *schema.FlowError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, schema.ErrCodeNotFound, fe.Code)
	}

	t.Run("get", func(t *testing.T) {
		_, err := svc.GetWorkflow(ctx, created.ID, "user-2")
		assertNotFound(t, err)
	})

	t.Run("update", func(t *testing.T) {
		name := "hijacked"
		_, err := svc.UpdateWorkflow(ctx, created.ID, "user-2", schema.WorkflowUpdate{Name: &name})
		assertNotFound(t, err)
	})

	t.Run("delete", func(t *testing.T) {
		assertNotFound(t, svc.DeleteWorkflow(ctx, created.ID, "user-2"))
	})

	t.Run("validate", func(t *testing.T) {
		_, err := svc.ValidateWorkflow(ctx, created.ID, "user-2")
		assertNotFound(t, err)
	})

	t.Run("execute", func(t *testing.T) {
		_, err := svc.ExecuteWorkflow(ctx, created.ID, "user-2", nil, false)
		assertNotFound(t, err)
		assert.Equal(t, 0, runner.callCount())
	})

	t.Run("list does not leak", func(t *testing.T) {
		workflows, err := svc.ListWorkflows(ctx, "user-2")
		require.NoError(t, err)
		assert.Empty(t, workflows)
	})
}

// --- Validation ---

func TestService_ValidateWorkflow_Idempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	wf := validWorkflow()
	wf.Nodes = append(wf.Nodes, schema.Node{ID: "loose", Type: schema.NodeTypeAgent,
		Data: schema.NodeData{AgentConfig: &schema.AgentConfig{Model: "llama3"}}})
	created, err := svc.CreateWorkflow(ctx, wf, "user-1")
	require.NoError(t, err)

	first, err := svc.ValidateWorkflow(ctx, created.ID, "user-1")
	require.NoError(t, err)
	second, err := svc.ValidateWorkflow(ctx, created.ID, "user-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, first.Valid())
	assert.NotEmpty(t, first.Warnings, "orphan agent should warn")
}

// --- Execution ---

func TestService_ExecuteWorkflow_Valid(t *testing.T) {
	svc, _, runner := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateWorkflow(ctx, validWorkflow(), "user-1")
	require.NoError(t, err)

	exec, err := svc.ExecuteWorkflow(ctx, created.ID, "user-1", map[string]any{"text": "hi"}, false)
	require.NoError(t, err)
	assert.Equal(t, created.ID, exec.WorkflowID)
	assert.Equal(t, 1, runner.callCount())
}

func TestService_ExecuteWorkflow_InvalidBlocksLaunch(t *testing.T) {
	svc, _, runner := newTestService(t)
	ctx := context.Background()

	wf := &schema.Workflow{
		Name:  "no-input",
		Nodes: []schema.Node{{ID: "output-1", Type: schema.NodeTypeOutput}},
	}
	created, err := svc.CreateWorkflow(ctx, wf, "user-1")
	require.NoError(t, err)

	_, err = svc.ExecuteWorkflow(ctx, created.ID, "user-1", nil, false)
	require.Error(t, err)

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeValidation, fe.Code)
	assert.Equal(t, 0, runner.callCount(), "invalid workflow must not launch")
}

func TestService_ExecuteWorkflow_InputSchemaEnforced(t *testing.T) {
	svc, _, runner := newTestService(t)
	ctx := context.Background()

	wf := validWorkflow()
	wf.InputSchema = []byte(`{"type":"object","required":["text"],"properties":{"text":{"type":"string"}}}`)
	created, err := svc.CreateWorkflow(ctx, wf, "user-1")
	require.NoError(t, err)

	_, err = svc.ExecuteWorkflow(ctx, created.ID, "user-1", map[string]any{"wrong": 1}, false)
	require.Error(t, err)
	assert.Equal(t, 0, runner.callCount())

	_, err = svc.ExecuteWorkflow(ctx, created.ID, "user-1", map[string]any{"text": "ok"}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, runner.callCount())
}

// --- Export / import ---

func TestService_ExportImportRoundTrip(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateWorkflow(ctx, validWorkflow(), "user-1")
	require.NoError(t, err)

	raw, err := svc.ExportWorkflow(ctx, created.ID, "user-1")
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "user-1", "export must not leak ownership")

	imported, err := svc.ImportWorkflow(ctx, raw, "user-2")
	require.NoError(t, err)
	assert.NotEqual(t, created.ID, imported.ID)
	assert.Equal(t, "user-2", imported.UserID)
	assert.Len(t, imported.Nodes, 2)
}

func TestService_ImportWorkflow_RejectsMalformed(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ImportWorkflow(context.Background(), []byte(`{"name":1}`), "user-1")
	require.Error(t, err)
}

func TestService_ImportWorkflow_RejectsBadDocument(t *testing.T) {
	svc, _, _ := newTestService(t)

	// Unknown node type fails the document schema.
	doc := []byte(`{"name":"x","nodes":[{"id":"n1","type":"mystery","position":{"x":0,"y":0},"data":{}}],"edges":[]}`)
	_, err := svc.ImportWorkflow(context.Background(), doc, "user-1")
	require.Error(t, err)
}

// --- Templates ---

func TestService_ListTemplates(t *testing.T) {
	svc, _, _ := newTestService(t)

	templates, err := svc.ListTemplates(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, templates)

	names := make(map[string]bool)
	for _, tpl := range templates {
		names[tpl.Name] = true
		assert.True(t, tpl.IsTemplate)
	}
	assert.True(t, names["Document Analysis"])
	assert.True(t, names["Support Triage"])
}

func TestService_BuiltinTemplatesAreValid(t *testing.T) {
	svc, _, _ := newTestService(t)

	for _, tpl := range builtinTemplates() {
		result := svc.ValidateDefinition(tpl)
		assert.True(t, result.Valid(), "template %s: %+v", tpl.Name, result.Errors)
	}
}

func TestService_CreateFromTemplate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	wf, err := svc.CreateFromTemplate(ctx, "template-document-analysis", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Document Analysis", wf.Name)
	assert.Equal(t, "user-1", wf.UserID)
	assert.False(t, wf.IsTemplate, "instantiated copy is a plain workflow")
	assert.Len(t, wf.Nodes, 3)

	// The copy is owned and editable.
	got, err := svc.GetWorkflow(ctx, wf.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, wf.ID, got.ID)
}

func TestService_TemplatesAreSharedAcrossUsers(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// user-1 publishes a workflow as a template.
	wf := validWorkflow()
	wf.Name = "Shared Pipeline"
	wf.IsTemplate = true
	published, err := svc.CreateWorkflow(ctx, wf, "user-1")
	require.NoError(t, err)

	// Templates are a shared catalog: user-2 sees it alongside the builtins.
	templates, err := svc.ListTemplates(ctx)
	require.NoError(t, err)
	names := make([]string, len(templates))
	for i, tpl := range templates {
		names[i] = tpl.Name
	}
	assert.Contains(t, names, "Shared Pipeline")

	// Instantiating clones it into the caller's ownership; the original
	// stays out of reach.
	clone, err := svc.CreateFromTemplate(ctx, published.ID, "user-2")
	require.NoError(t, err)
	assert.Equal(t, "user-2", clone.UserID)
	assert.NotEqual(t, published.ID, clone.ID)

	_, err = svc.GetWorkflow(ctx, published.ID, "user-2")
	require.Error(t, err)
}

func TestService_CreateFromTemplate_Unknown(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateFromTemplate(context.Background(), "template-missing", "user-1")
	require.Error(t, err)

	var fe *schema.FlowError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, schema.ErrCodeNotFound, fe.Code)
}

// --- Events ---

func TestService_ListEvents_OwnershipGated(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	exec := &schema.Execution{
		ID:             uuid.NewString(),
		WorkflowID:     "wf-1",
		UserID:         "user-1",
		Status:         schema.ExecutionStatusCompleted,
		NodeExecutions: map[string]*schema.NodeResult{},
		StartTime:      time.Now().UTC(),
	}
	require.NoError(t, st.SaveExecution(ctx, exec))
	require.NoError(t, st.AppendEvent(ctx, &store.Event{ExecutionID: exec.ID, Type: schema.EventExecutionCompleted}))

	events, err := svc.ListEvents(ctx, exec.ID, "user-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)

	_, err = svc.ListEvents(ctx, exec.ID, "user-2")
	require.Error(t, err)
}
