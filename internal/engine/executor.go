// Package engine runs validated workflows: it plans a deterministic node
// order, processes nodes strictly one at a time, and records per-node
// results on the execution.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowgrid/flowgrid/internal/agent"
	"github.com/flowgrid/flowgrid/internal/expressions"
	"github.com/flowgrid/flowgrid/internal/graph"
	"github.com/flowgrid/flowgrid/internal/logging"
	"github.com/flowgrid/flowgrid/internal/store"
	"github.com/flowgrid/flowgrid/internal/streaming"
	"github.com/flowgrid/flowgrid/pkg/schema"
)

const dryRunMessage = "dry run, no nodes executed"

// Config tunes the executor.
type Config struct {
	// Workers bounds how many executions run concurrently.
	Workers int
	// AgentTimeout bounds a single model call.
	AgentTimeout time.Duration
	// NodeTimeout bounds every non-agent node.
	NodeTimeout time.Duration
}

// DefaultConfig returns the stock executor configuration.
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		AgentTimeout: 120 * time.Second,
		NodeTimeout:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.AgentTimeout <= 0 {
		c.AgentTimeout = d.AgentTimeout
	}
	if c.NodeTimeout <= 0 {
		c.NodeTimeout = d.NodeTimeout
	}
	return c
}

// Executor launches and drives workflow executions. Callers are expected to
// have validated the workflow first; the executor only re-checks what it
// must to stay safe (plan acyclicity, node config shape).
//
// Each execution has exactly one writer goroutine: it persists the running
// snapshot once at launch and the terminal snapshot once at the end.
type Executor struct {
	store    store.Store
	hub      streaming.EventHub
	fsm      *ExecutionFSM
	pool     *WorkerPool
	handlers map[schema.NodeType]NodeHandler
	logger   *slog.Logger
	cfg      Config
}

// NewExecutor wires an executor from its collaborators.
func NewExecutor(st store.Store, hub streaming.EventHub, generator agent.Generator, registry *expressions.Registry, logger *slog.Logger, cfg Config) *Executor {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	handlers := map[schema.NodeType]NodeHandler{
		schema.NodeTypeInput:     NewInputHandler(),
		schema.NodeTypeOutput:    NewOutputHandler(),
		schema.NodeTypeAgent:     NewAgentHandler(generator),
		schema.NodeTypeCondition: NewConditionHandler(registry),
	}

	return &Executor{
		store:    st,
		hub:      hub,
		fsm:      NewExecutionFSM(st),
		pool:     NewWorkerPool(cfg.Workers),
		handlers: handlers,
		logger:   logger,
		cfg:      cfg,
	}
}

// Shutdown stops accepting executions and waits for in-flight ones.
func (ex *Executor) Shutdown() {
	ex.pool.Shutdown()
}

// Execute launches a run of the workflow and returns its handle immediately;
// nodes are processed asynchronously. With dryRun the execution completes
// without processing any node.
func (ex *Executor) Execute(ctx context.Context, wf *schema.Workflow, userID string, input map[string]any, dryRun bool) (*schema.Execution, error) {
	exec := &schema.Execution{
		ID:             uuid.NewString(),
		WorkflowID:     wf.ID,
		UserID:         userID,
		Status:         schema.ExecutionStatusPending,
		InputData:      input,
		NodeExecutions: make(map[string]*schema.NodeResult),
		StartTime:      time.Now().UTC(),
	}

	ctx = logging.WithExecutionID(logging.WithWorkflowID(ctx, wf.ID), exec.ID)

	if err := ex.fsm.Transition(ctx, exec, schema.ExecutionStatusRunning); err != nil {
		return nil, err
	}

	if dryRun {
		exec.OutputData = map[string]any{"message": dryRunMessage}
		if err := ex.fsm.Transition(ctx, exec, schema.ExecutionStatusCompleted); err != nil {
			return nil, err
		}
		now := time.Now().UTC()
		exec.EndTime = &now
		if err := ex.store.SaveExecution(ctx, exec); err != nil {
			return nil, schema.NewError(schema.ErrCodeStore, "persist dry-run execution").WithCause(err)
		}
		ex.publish(ctx, exec, "", schema.EventExecutionCompleted, exec.OutputData)
		ex.logger.InfoContext(ctx, "dry run completed", "workflow_id", wf.ID)
		return exec, nil
	}

	if err := ex.store.SaveExecution(ctx, exec); err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "persist execution").WithCause(err)
	}
	ex.publish(ctx, exec, "", schema.EventExecutionStarted, nil)

	// Snapshot the handle before the runner goroutine starts mutating exec.
	handle := copyExecution(exec)

	// The run outlives the launch request.
	runCtx := context.WithoutCancel(ctx)
	if err := ex.pool.Submit(runCtx, func(ctx context.Context) error {
		return ex.run(ctx, wf, exec)
	}); err != nil {
		ex.failExecution(runCtx, exec, schema.NewError(schema.ErrCodeExecution, "submit execution").WithCause(err))
		return nil, schema.NewError(schema.ErrCodeExecution, "submit execution").WithCause(err)
	}

	ex.logger.InfoContext(ctx, "execution launched",
		"workflow_id", wf.ID,
		"execution_id", exec.ID,
		"nodes", len(wf.Nodes),
	)
	return handle, nil
}

// run walks the topological plan sequentially, aborting on the first node
// failure. It owns all writes to exec after launch.
func (ex *Executor) run(ctx context.Context, wf *schema.Workflow, exec *schema.Execution) (err error) {
	defer func() {
		if r := recover(); r != nil {
			ex.logger.ErrorContext(ctx, "execution panicked", "execution_id", exec.ID, "panic", fmt.Sprint(r))
			ex.failExecution(ctx, exec, schema.NewErrorf(schema.ErrCodeExecution, "panic: %v", r))
			err = fmt.Errorf("execution %s panicked: %v", exec.ID, r)
		}
	}()

	g := graph.Build(wf.Nodes, wf.Edges)
	plan, err := buildPlan(g)
	if err != nil {
		ex.failExecution(ctx, exec, err)
		return err
	}

	nc := &NodeContext{
		Execution: exec,
		Workflow:  wf,
		Graph:     g,
		Outputs:   make(map[string]any),
	}
	branches := make(map[string]string) // condition node id -> taken branch
	outputData := make(map[string]any)

	for _, id := range plan {
		node := g.Node(id)

		if !ex.reachable(g, nc, branches, node) {
			ex.publish(ctx, exec, id, schema.EventNodeSkipped, nil)
			ex.logger.DebugContext(ctx, "node skipped", "node_id", id)
			continue
		}

		out, nodeErr := ex.runNode(ctx, node, nc)
		if nodeErr != nil {
			ex.failExecution(ctx, exec, nodeErr)
			return nodeErr
		}

		nc.Outputs[id] = out

		switch node.Type {
		case schema.NodeTypeCondition:
			if m, ok := out.(map[string]any); ok {
				if branch, ok := m["branch"].(string); ok {
					branches[id] = branch
				}
			}
		case schema.NodeTypeOutput:
			outputData[node.Label()] = out
		}
	}

	exec.OutputData = outputData
	if err := ex.fsm.Transition(ctx, exec, schema.ExecutionStatusCompleted); err != nil {
		ex.logger.ErrorContext(ctx, "completion transition failed", "execution_id", exec.ID, "error", err)
		return err
	}
	now := time.Now().UTC()
	exec.EndTime = &now
	if err := ex.store.SaveExecution(ctx, exec); err != nil {
		ex.logger.ErrorContext(ctx, "persist completed execution failed", "execution_id", exec.ID, "error", err)
		return err
	}
	ex.publish(ctx, exec, "", schema.EventExecutionCompleted, exec.OutputData)
	ex.logger.InfoContext(ctx, "execution completed",
		"execution_id", exec.ID,
		"nodes_executed", len(exec.NodeExecutions),
	)
	return nil
}

// runNode executes one node under its type's timeout. Only a completed node
// is recorded in node_executions; a failure surfaces through the execution's
// error and the node.failed event instead.
func (ex *Executor) runNode(ctx context.Context, node *schema.Node, nc *NodeContext) (any, error) {
	handler, ok := ex.handlers[node.Type]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "no handler for node type %q", node.Type).WithNode(node.ID)
	}

	ex.publish(ctx, nc.Execution, node.ID, schema.EventNodeStarted, nil)

	timeout := ex.cfg.NodeTimeout
	if node.Type == schema.NodeTypeAgent {
		timeout = ex.cfg.AgentTimeout
	}
	nodeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := &schema.NodeResult{
		NodeID:    node.ID,
		StartedAt: time.Now().UTC(),
	}

	out, err := handler.Handle(logging.WithNodeID(nodeCtx, node.ID), node, nc)

	now := time.Now().UTC()
	result.CompletedAt = &now
	result.DurationMs = now.Sub(result.StartedAt).Milliseconds()

	if err != nil {
		ex.publish(ctx, nc.Execution, node.ID, schema.EventNodeFailed, map[string]any{"error": err.Error()})
		ex.logger.WarnContext(ctx, "node failed", "node_id", node.ID, "error", err)
		return nil, err
	}

	result.Status = schema.NodeRunCompleted
	result.Output = out
	nc.Execution.NodeExecutions[node.ID] = result
	ex.publish(ctx, nc.Execution, node.ID, schema.EventNodeCompleted, nil)
	return out, nil
}

// reachable decides whether a node runs given the branches taken so far.
// Roots always run. Any other node runs iff at least one incoming edge comes
// from an executed predecessor and, when that predecessor is a condition,
// the edge's handle matches the taken branch. Unlabeled edges follow any
// branch.
func (ex *Executor) reachable(g *graph.Graph, nc *NodeContext, branches map[string]string, node *schema.Node) bool {
	incoming := g.EdgesTo(node.ID)
	resolved := 0
	for _, e := range incoming {
		if g.Node(e.Source) == nil {
			continue
		}
		resolved++
		if _, executed := nc.Outputs[e.Source]; !executed {
			continue
		}
		src := g.Node(e.Source)
		if src.Type != schema.NodeTypeCondition {
			return true
		}
		if edgeMatchesBranch(e, branches[e.Source]) {
			return true
		}
	}
	return resolved == 0
}

// edgeMatchesBranch reports whether an edge out of a condition node follows
// the taken branch. The handle names the branch; Label is the fallback for
// documents that only set a display label.
func edgeMatchesBranch(e *schema.Edge, branch string) bool {
	handle := e.SourceHandle
	if handle == "" {
		handle = e.Label
	}
	if handle == "" {
		return true
	}
	return handle == branch
}

// failExecution records the failure and persists the terminal snapshot.
func (ex *Executor) failExecution(ctx context.Context, exec *schema.Execution, cause error) {
	exec.Error = cause.Error()
	if err := ex.fsm.Transition(ctx, exec, schema.ExecutionStatusFailed); err != nil {
		ex.logger.ErrorContext(ctx, "failure transition failed", "execution_id", exec.ID, "error", err)
	}
	now := time.Now().UTC()
	exec.EndTime = &now
	if err := ex.store.SaveExecution(ctx, exec); err != nil {
		ex.logger.ErrorContext(ctx, "persist failed execution failed", "execution_id", exec.ID, "error", err)
	}
	ex.publish(ctx, exec, "", schema.EventExecutionFailed, map[string]any{"error": exec.Error})
	ex.logger.WarnContext(ctx, "execution failed", "execution_id", exec.ID, "error", exec.Error)
}

// publish emits a hub event; delivery is best-effort.
func (ex *Executor) publish(ctx context.Context, exec *schema.Execution, nodeID, eventType string, payload any) {
	if ex.hub == nil {
		return
	}
	_ = ex.hub.Publish(ctx, streaming.StreamEvent{
		ExecutionID: exec.ID,
		WorkflowID:  exec.WorkflowID,
		NodeID:      nodeID,
		EventType:   eventType,
		Payload:     payload,
	})
}

// copyExecution snapshots the handle returned to the caller so the runner
// goroutine's writes don't race with the caller's reads.
func copyExecution(exec *schema.Execution) *schema.Execution {
	cp := *exec
	cp.NodeExecutions = make(map[string]*schema.NodeResult, len(exec.NodeExecutions))
	for id, r := range exec.NodeExecutions {
		rc := *r
		cp.NodeExecutions[id] = &rc
	}
	return &cp
}
