package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/flowgrid/flowgrid/internal/agent"
	"github.com/flowgrid/flowgrid/internal/expressions"
	"github.com/flowgrid/flowgrid/internal/graph"
	"github.com/flowgrid/flowgrid/pkg/schema"
)

// NodeContext is the read view a handler gets of the run in progress.
// Outputs holds the results of already-executed nodes keyed by node id.
type NodeContext struct {
	Execution *schema.Execution
	Workflow  *schema.Workflow
	Graph     *graph.Graph
	Outputs   map[string]any
}

// NodeHandler processes one node of a given type.
type NodeHandler interface {
	Type() schema.NodeType
	Handle(ctx context.Context, node *schema.Node, nc *NodeContext) (any, error)
}

// gatherInputs collects the outputs of a node's executed predecessors,
// keyed by predecessor id. Skipped predecessors contribute nothing.
func gatherInputs(node *schema.Node, nc *NodeContext) map[string]any {
	inputs := make(map[string]any)
	for _, e := range nc.Graph.EdgesTo(node.ID) {
		if out, ok := nc.Outputs[e.Source]; ok {
			inputs[e.Source] = out
		}
	}
	return inputs
}

// singleOrMap unwraps a one-entry input map to its value.
func singleOrMap(inputs map[string]any) any {
	if len(inputs) == 1 {
		for _, v := range inputs {
			return v
		}
	}
	return inputs
}

// --- Input nodes ---

// InputHandler resolves the execution's launch payload.
type InputHandler struct{}

func NewInputHandler() *InputHandler { return &InputHandler{} }

func (h *InputHandler) Type() schema.NodeType { return schema.NodeTypeInput }

func (h *InputHandler) Handle(ctx context.Context, node *schema.Node, nc *NodeContext) (any, error) {
	if _, err := node.Config(); err != nil {
		return nil, err
	}
	if nc.Execution.InputData == nil {
		return map[string]any{}, nil
	}
	return nc.Execution.InputData, nil
}

// --- Output nodes ---

// OutputHandler collects upstream results into the run's final output.
type OutputHandler struct{}

func NewOutputHandler() *OutputHandler { return &OutputHandler{} }

func (h *OutputHandler) Type() schema.NodeType { return schema.NodeTypeOutput }

func (h *OutputHandler) Handle(ctx context.Context, node *schema.Node, nc *NodeContext) (any, error) {
	if _, err := node.Config(); err != nil {
		return nil, err
	}
	return singleOrMap(gatherInputs(node, nc)), nil
}

// --- Agent nodes ---

// AgentHandler delegates to the model backend; its result is the generated
// text.
type AgentHandler struct {
	generator agent.Generator
}

func NewAgentHandler(generator agent.Generator) *AgentHandler {
	return &AgentHandler{generator: generator}
}

func (h *AgentHandler) Type() schema.NodeType { return schema.NodeTypeAgent }

func (h *AgentHandler) Handle(ctx context.Context, node *schema.Node, nc *NodeContext) (any, error) {
	cfg, err := node.Config()
	if err != nil {
		return nil, err
	}
	ac, ok := cfg.(schema.AgentNodeConfig)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "node %s is not an agent node", node.ID).WithNode(node.ID)
	}

	prompt := buildPrompt(node, ac, gatherInputs(node, nc))

	response, err := h.generator.Generate(ctx, agent.GenerateRequest{
		Model:        ac.Model,
		Prompt:       prompt,
		SystemPrompt: ac.SystemPrompt,
		Temperature:  ac.Temperature,
		MaxTokens:    ac.MaxTokens,
	})
	if err != nil {
		if fe, isFlow := err.(*schema.FlowError); isFlow {
			return nil, fe.WithNode(node.ID)
		}
		return nil, schema.NewError(schema.ErrCodeExecution, "agent call failed").WithCause(err).WithNode(node.ID)
	}

	return response, nil
}

// buildPrompt renders the upstream material into the model prompt. The node
// description leads; each upstream output follows in sorted id order so the
// prompt is stable across runs.
func buildPrompt(node *schema.Node, cfg schema.AgentNodeConfig, inputs map[string]any) string {
	var b strings.Builder

	if cfg.Description != "" {
		b.WriteString(cfg.Description)
		b.WriteString("\n\n")
	}

	ids := make([]string, 0, len(inputs))
	for id := range inputs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		b.WriteString(renderValue(inputs[id]))
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n")
}

// renderValue stringifies an upstream output for prompt inclusion. Strings
// pass through; everything else is rendered as JSON.
func renderValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

// --- Condition nodes ---

// ConditionHandler evaluates the node's expression and selects a branch.
// A boolean result maps to the "true"/"false" branches; a string result is
// a custom branch label used verbatim. Any other result type fails the node.
type ConditionHandler struct {
	registry *expressions.Registry
}

func NewConditionHandler(registry *expressions.Registry) *ConditionHandler {
	return &ConditionHandler{registry: registry}
}

func (h *ConditionHandler) Type() schema.NodeType { return schema.NodeTypeCondition }

func (h *ConditionHandler) Handle(ctx context.Context, node *schema.Node, nc *NodeContext) (any, error) {
	cfg, err := node.Config()
	if err != nil {
		return nil, err
	}
	cc, ok := cfg.(schema.ConditionConfig)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "node %s is not a condition node", node.ID).WithNode(node.ID)
	}

	scope := map[string]any{
		expressions.ScopeInput: nc.Execution.InputData,
		expressions.ScopeNodes: nc.Outputs,
		expressions.ScopeWorkflow: map[string]any{
			"workflow_id":  nc.Workflow.ID,
			"name":         nc.Workflow.Name,
			"execution_id": nc.Execution.ID,
		},
	}

	engine := h.registry.ForLanguage(cc.Language)
	result, err := engine.Evaluate(ctx, cc.Expression, scope)
	if err != nil {
		if fe, isFlow := err.(*schema.FlowError); isFlow {
			return nil, fe.WithNode(node.ID)
		}
		return nil, schema.NewError(schema.ErrCodeExpression, "condition evaluation failed").WithCause(err).WithNode(node.ID)
	}

	branch, err := branchLabel(result)
	if err != nil {
		if fe, isFlow := err.(*schema.FlowError); isFlow {
			return nil, fe.WithNode(node.ID)
		}
		return nil, err
	}

	return map[string]any{
		"branch": branch,
		"result": result,
	}, nil
}

// branchLabel coerces an expression result into a branch label.
func branchLabel(result any) (string, error) {
	switch v := result.(type) {
	case bool:
		if v {
			return "true", nil
		}
		return "false", nil
	case string:
		if v == "" {
			return "", schema.NewError(schema.ErrCodeExpression, "condition produced an empty branch label")
		}
		return v, nil
	default:
		return "", schema.NewErrorf(schema.ErrCodeExpression,
			"condition must produce a boolean or branch label, got %T", result)
	}
}

var (
	_ NodeHandler = (*InputHandler)(nil)
	_ NodeHandler = (*OutputHandler)(nil)
	_ NodeHandler = (*AgentHandler)(nil)
	_ NodeHandler = (*ConditionHandler)(nil)
)
