// Package mcp exposes flowgrid over the Model Context Protocol: a thin JSON
// marshaling layer over the service. All tools take a user_id; every lookup
// is scoped to it.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/flowgrid/flowgrid/internal/scheduler"
	"github.com/flowgrid/flowgrid/internal/service"
)

// FlowgridServerDeps holds the dependencies for creating a FlowgridServer.
type FlowgridServerDeps struct {
	Service   *service.Service
	Scheduler *scheduler.Scheduler
	Logger    *slog.Logger
}

// FlowgridServer wraps an MCP server with flowgrid tool handlers.
type FlowgridServer struct {
	service   *service.Service
	scheduler *scheduler.Scheduler
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewFlowgridServer creates a new FlowgridServer with all tools registered.
func NewFlowgridServer(deps FlowgridServerDeps) *FlowgridServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &FlowgridServer{
		service:   deps.Service,
		scheduler: deps.Scheduler,
		logger:    logger,
	}

	mcpSrv := server.NewMCPServer(
		"flowgrid",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Flowgrid runs directed workflows of input, agent, condition and output nodes. Use flowgrid.create to define a workflow, flowgrid.validate to check it, flowgrid.execute to run it, and flowgrid.execution to poll the result. flowgrid.templates lists starter workflows that flowgrid.instantiate copies into your account."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *FlowgridServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *FlowgridServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *FlowgridServer) tools() []server.ServerTool {
	tools := []server.ServerTool{
		{Tool: createTool(), Handler: s.handleCreate},
		{Tool: getTool(), Handler: s.handleGet},
		{Tool: listTool(), Handler: s.handleList},
		{Tool: updateTool(), Handler: s.handleUpdate},
		{Tool: deleteTool(), Handler: s.handleDelete},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: executeTool(), Handler: s.handleExecute},
		{Tool: executionTool(), Handler: s.handleExecution},
		{Tool: executionsTool(), Handler: s.handleExecutions},
		{Tool: eventsTool(), Handler: s.handleEvents},
		{Tool: templatesTool(), Handler: s.handleTemplates},
		{Tool: instantiateTool(), Handler: s.handleInstantiate},
		{Tool: exportTool(), Handler: s.handleExport},
		{Tool: importTool(), Handler: s.handleImport},
		{Tool: modelsTool(), Handler: s.handleModels},
	}
	if s.scheduler != nil {
		tools = append(tools,
			server.ServerTool{Tool: scheduleTool(), Handler: s.handleSchedule},
			server.ServerTool{Tool: schedulesTool(), Handler: s.handleSchedules},
			server.ServerTool{Tool: unscheduleTool(), Handler: s.handleUnschedule},
		)
	}
	return tools
}

// --- Tool definitions ---

func createTool() mcp.Tool {
	return mcp.NewTool("flowgrid.create",
		mcp.WithDescription("Create a workflow from a definition object with name, nodes and edges"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition: {name, description?, nodes, edges, input_schema?}")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Owner of the workflow")),
	)
}

func getTool() mcp.Tool {
	return mcp.NewTool("flowgrid.get",
		mcp.WithDescription("Fetch a workflow by id"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow id")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Calling user")),
	)
}

func listTool() mcp.Tool {
	return mcp.NewTool("flowgrid.list",
		mcp.WithDescription("List the user's workflows"),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Calling user")),
	)
}

func updateTool() mcp.Tool {
	return mcp.NewTool("flowgrid.update",
		mcp.WithDescription("Partially update a workflow; omitted fields are left untouched"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow id")),
		mcp.WithObject("update", mcp.Required(), mcp.Description("Fields to replace: {name?, description?, nodes?, edges?}")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Calling user")),
	)
}

func deleteTool() mcp.Tool {
	return mcp.NewTool("flowgrid.delete",
		mcp.WithDescription("Delete a workflow. Past executions are retained"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow id")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Calling user")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("flowgrid.validate",
		mcp.WithDescription("Run the full validation rule set against a workflow and return all errors and warnings"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow id")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Calling user")),
	)
}

func executeTool() mcp.Tool {
	return mcp.NewTool("flowgrid.execute",
		mcp.WithDescription("Validate and launch a workflow run. Returns the execution record; poll flowgrid.execution for progress"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow id")),
		mcp.WithObject("input", mcp.Description("Input data for the run")),
		mcp.WithBoolean("dry_run", mcp.Description("Validate and record a run without executing any node")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Calling user")),
	)
}

func executionTool() mcp.Tool {
	return mcp.NewTool("flowgrid.execution",
		mcp.WithDescription("Fetch an execution by id, including per-node results"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("Execution id")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Calling user")),
	)
}

func executionsTool() mcp.Tool {
	return mcp.NewTool("flowgrid.executions",
		mcp.WithDescription("List the user's executions, newest first"),
		mcp.WithString("workflow_id", mcp.Description("Scope to one workflow")),
		mcp.WithNumber("limit", mcp.Description("Maximum results (default 50)")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Calling user")),
	)
}

func eventsTool() mcp.Tool {
	return mcp.NewTool("flowgrid.events",
		mcp.WithDescription("List recorded lifecycle events for an execution"),
		mcp.WithString("execution_id", mcp.Required(), mcp.Description("Execution id")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Calling user")),
	)
}

func templatesTool() mcp.Tool {
	return mcp.NewTool("flowgrid.templates",
		mcp.WithDescription("List available workflow templates"),
	)
}

func instantiateTool() mcp.Tool {
	return mcp.NewTool("flowgrid.instantiate",
		mcp.WithDescription("Create a workflow from a template, owned by the user"),
		mcp.WithString("template_id", mcp.Required(), mcp.Description("Template id from flowgrid.templates")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Owner of the new workflow")),
	)
}

func exportTool() mcp.Tool {
	return mcp.NewTool("flowgrid.export",
		mcp.WithDescription("Export a workflow as a portable JSON document without ownership or timestamps"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow id")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Calling user")),
	)
}

func importTool() mcp.Tool {
	return mcp.NewTool("flowgrid.import",
		mcp.WithDescription("Create a workflow from an exported JSON document"),
		mcp.WithObject("document", mcp.Required(), mcp.Description("Exported workflow document")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Owner of the new workflow")),
	)
}

func modelsTool() mcp.Tool {
	return mcp.NewTool("flowgrid.models",
		mcp.WithDescription("List the models the agent backend can serve"),
	)
}

func scheduleTool() mcp.Tool {
	return mcp.NewTool("flowgrid.schedule",
		mcp.WithDescription("Run a workflow on a cron schedule (five-field expressions, minute resolution)"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow id")),
		mcp.WithString("cron", mcp.Required(), mcp.Description("Cron expression, e.g. \"0 3 * * *\"")),
		mcp.WithObject("input", mcp.Description("Input data for each run")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Calling user")),
	)
}

func schedulesTool() mcp.Tool {
	return mcp.NewTool("flowgrid.schedules",
		mcp.WithDescription("List the user's scheduled runs"),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Calling user")),
	)
}

func unscheduleTool() mcp.Tool {
	return mcp.NewTool("flowgrid.unschedule",
		mcp.WithDescription("Remove a scheduled run"),
		mcp.WithString("schedule_id", mcp.Required(), mcp.Description("Scheduled run id")),
		mcp.WithString("user_id", mcp.Required(), mcp.Description("Calling user")),
	)
}
