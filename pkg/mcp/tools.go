package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/flowgrid/flowgrid/pkg/schema"
)

// handleCreate persists a new workflow from a definition object.
func (s *FlowgridServer) handleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	def := mcp.ParseStringMap(req, "definition", nil)
	if def == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}

	wf, decodeErr := decodeWorkflow(def)
	if decodeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", decodeErr)), nil
	}

	created, createErr := s.service.CreateWorkflow(ctx, wf, userID)
	if createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("create failed: %v", createErr)), nil
	}
	return marshalResult(created)
}

func (s *FlowgridServer) handleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, userID, err := requireIDs(req, "workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	wf, getErr := s.service.GetWorkflow(ctx, workflowID, userID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get failed: %v", getErr)), nil
	}
	return marshalResult(wf)
}

func (s *FlowgridServer) handleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	workflows, listErr := s.service.ListWorkflows(ctx, userID)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
	}
	return marshalResult(map[string]any{"workflows": workflows})
}

func (s *FlowgridServer) handleUpdate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, userID, err := requireIDs(req, "workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw := mcp.ParseStringMap(req, "update", nil)
	if raw == nil {
		return mcp.NewToolResultError("update is required"), nil
	}

	var update schema.WorkflowUpdate
	if decodeErr := reencode(raw, &update); decodeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid update: %v", decodeErr)), nil
	}

	wf, updateErr := s.service.UpdateWorkflow(ctx, workflowID, userID, update)
	if updateErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("update failed: %v", updateErr)), nil
	}
	return marshalResult(wf)
}

func (s *FlowgridServer) handleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, userID, err := requireIDs(req, "workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if delErr := s.service.DeleteWorkflow(ctx, workflowID, userID); delErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", delErr)), nil
	}
	return marshalResult(map[string]any{"ok": true, "workflow_id": workflowID})
}

func (s *FlowgridServer) handleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, userID, err := requireIDs(req, "workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result, valErr := s.service.ValidateWorkflow(ctx, workflowID, userID)
	if valErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("validate failed: %v", valErr)), nil
	}
	return marshalResult(map[string]any{
		"valid":    result.Valid(),
		"errors":   result.Errors,
		"warnings": result.Warnings,
	})
}

func (s *FlowgridServer) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, userID, err := requireIDs(req, "workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)
	dryRun := req.GetBool("dry_run", false)

	exec, runErr := s.service.ExecuteWorkflow(ctx, workflowID, userID, input, dryRun)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("execute failed: %v", runErr)), nil
	}
	return marshalResult(exec)
}

func (s *FlowgridServer) handleExecution(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, userID, err := requireIDs(req, "execution_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	exec, getErr := s.service.GetExecution(ctx, executionID, userID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("get failed: %v", getErr)), nil
	}
	return marshalResult(exec)
}

func (s *FlowgridServer) handleExecutions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	workflowID := req.GetString("workflow_id", "")
	limit := req.GetInt("limit", 50)

	executions, listErr := s.service.ListExecutions(ctx, userID, workflowID, limit)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
	}
	return marshalResult(map[string]any{"executions": executions})
}

func (s *FlowgridServer) handleEvents(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	executionID, userID, err := requireIDs(req, "execution_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	events, listErr := s.service.ListEvents(ctx, executionID, userID)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
	}
	return marshalResult(map[string]any{"events": events})
}

func (s *FlowgridServer) handleTemplates(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	templates, err := s.service.ListTemplates(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"templates": templates})
}

func (s *FlowgridServer) handleInstantiate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	templateID, userID, err := requireIDs(req, "template_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	wf, createErr := s.service.CreateFromTemplate(ctx, templateID, userID)
	if createErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("instantiate failed: %v", createErr)), nil
	}
	return marshalResult(wf)
}

func (s *FlowgridServer) handleExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, userID, err := requireIDs(req, "workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	doc, exportErr := s.service.ExportWorkflow(ctx, workflowID, userID)
	if exportErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("export failed: %v", exportErr)), nil
	}
	return mcp.NewToolResultText(string(doc)), nil
}

func (s *FlowgridServer) handleImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}
	doc := mcp.ParseStringMap(req, "document", nil)
	if doc == nil {
		return mcp.NewToolResultError("document is required"), nil
	}

	raw, marshalErr := json.Marshal(doc)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid document: %v", marshalErr)), nil
	}

	wf, importErr := s.service.ImportWorkflow(ctx, raw, userID)
	if importErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("import failed: %v", importErr)), nil
	}
	return marshalResult(wf)
}

func (s *FlowgridServer) handleModels(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	models, err := s.service.ListModels(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("models failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"models": models})
}

func (s *FlowgridServer) handleSchedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, userID, err := requireIDs(req, "workflow_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	cronExpr, err := req.RequireString("cron")
	if err != nil {
		return mcp.NewToolResultError("cron is required"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)

	run, schedErr := s.scheduler.Schedule(ctx, workflowID, userID, cronExpr, input)
	if schedErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("schedule failed: %v", schedErr)), nil
	}
	return marshalResult(run)
}

func (s *FlowgridServer) handleSchedules(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := req.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id is required"), nil
	}

	runs, listErr := s.scheduler.ListSchedules(ctx, userID)
	if listErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list failed: %v", listErr)), nil
	}
	return marshalResult(map[string]any{"schedules": runs})
}

func (s *FlowgridServer) handleUnschedule(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	scheduleID, userID, err := requireIDs(req, "schedule_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if delErr := s.scheduler.Unschedule(ctx, scheduleID, userID); delErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("unschedule failed: %v", delErr)), nil
	}
	return marshalResult(map[string]any{"ok": true, "schedule_id": scheduleID})
}

// --- Helpers ---

// requireIDs extracts a required id parameter and the required user_id.
func requireIDs(req mcp.CallToolRequest, idKey string) (string, string, error) {
	id, err := req.RequireString(idKey)
	if err != nil {
		return "", "", fmt.Errorf("%s is required", idKey)
	}
	userID, err := req.RequireString("user_id")
	if err != nil {
		return "", "", fmt.Errorf("user_id is required")
	}
	return id, userID, nil
}

// decodeWorkflow converts a loosely typed definition map into a Workflow.
func decodeWorkflow(def map[string]any) (*schema.Workflow, error) {
	var wf schema.Workflow
	if err := reencode(def, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// reencode marshals a map and unmarshals it into a typed value.
func reencode(m map[string]any, out any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
