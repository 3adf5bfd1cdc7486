package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeType enumerates the kinds of nodes in a workflow graph.
type NodeType string

const (
	NodeTypeInput     NodeType = "input"
	NodeTypeOutput    NodeType = "output"
	NodeTypeAgent     NodeType = "agent"
	NodeTypeCondition NodeType = "condition"
)

// ValidNodeTypes is the set of recognized node types.
var ValidNodeTypes = map[NodeType]bool{
	NodeTypeInput:     true,
	NodeTypeOutput:    true,
	NodeTypeAgent:     true,
	NodeTypeCondition: true,
}

// Position is an opaque canvas coordinate. The engine never reads it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a typed unit of work in a workflow graph.
type Node struct {
	ID       string   `json:"id"`
	Type     NodeType `json:"type"`
	Position Position `json:"position"`
	Data     NodeData `json:"data"`
}

// NodeData is the serialized node configuration. Field names match the
// persisted document format; Config projects it into the typed variant
// for the node's type.
type NodeData struct {
	Label               string       `json:"label,omitempty"`
	Description         string       `json:"description,omitempty"`
	InputType           string       `json:"input_type,omitempty"`
	OutputType          string       `json:"output_type,omitempty"`
	AgentConfig         *AgentConfig `json:"agent_config,omitempty"`
	ConditionExpression string       `json:"condition_expression,omitempty"`
	Language            string       `json:"language,omitempty"` // expr | cel | jq (condition nodes, default: expr)
}

// AgentConfig configures the generative-text call made by an agent node.
type AgentConfig struct {
	Model        string  `json:"model"`
	Temperature  float64 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
}

// NodeConfig is the tagged-variant node configuration: one variant per node
// type, shape-checked when decoded via Node.Config.
type NodeConfig interface {
	nodeConfig()
}

// InputConfig is the configuration variant for input nodes.
type InputConfig struct {
	Label       string
	Description string
	InputType   string
}

// OutputConfig is the configuration variant for output nodes.
type OutputConfig struct {
	Label       string
	Description string
	OutputType  string
}

// AgentNodeConfig is the configuration variant for agent nodes.
type AgentNodeConfig struct {
	Label        string
	Description  string
	Model        string
	Temperature  float64
	MaxTokens    int
	SystemPrompt string
}

// ConditionConfig is the configuration variant for condition nodes.
type ConditionConfig struct {
	Label      string
	Expression string
	Language   string
}

func (InputConfig) nodeConfig()     {}
func (OutputConfig) nodeConfig()    {}
func (AgentNodeConfig) nodeConfig() {}
func (ConditionConfig) nodeConfig() {}

// conditionLanguages is the set of expression engines a condition node may select.
var conditionLanguages = map[string]bool{"": true, "expr": true, "cel": true, "jq": true}

// Config decodes the node's data into the typed variant for its type,
// performing construction-time shape checks. Cross-node checks (edge
// references, cycles) belong to the validator, not here.
func (n *Node) Config() (NodeConfig, error) {
	if n.ID == "" {
		return nil, NewError(ErrCodeValidation, "node has empty id")
	}
	if !ValidNodeTypes[n.Type] {
		return nil, NewErrorf(ErrCodeValidation, "node %s has unknown type %q", n.ID, n.Type).WithNode(n.ID)
	}

	switch n.Type {
	case NodeTypeInput:
		return InputConfig{
			Label:       n.Data.Label,
			Description: n.Data.Description,
			InputType:   n.Data.InputType,
		}, nil

	case NodeTypeOutput:
		return OutputConfig{
			Label:       n.Data.Label,
			Description: n.Data.Description,
			OutputType:  n.Data.OutputType,
		}, nil

	case NodeTypeAgent:
		if n.Data.AgentConfig == nil {
			return nil, NewErrorf(ErrCodeValidation, "agent node %s has no agent_config", n.ID).WithNode(n.ID)
		}
		if n.Data.AgentConfig.Model == "" {
			return nil, NewErrorf(ErrCodeValidation, "agent node %s has no model", n.ID).WithNode(n.ID)
		}
		return AgentNodeConfig{
			Label:        n.Data.Label,
			Description:  n.Data.Description,
			Model:        n.Data.AgentConfig.Model,
			Temperature:  n.Data.AgentConfig.Temperature,
			MaxTokens:    n.Data.AgentConfig.MaxTokens,
			SystemPrompt: n.Data.AgentConfig.SystemPrompt,
		}, nil

	case NodeTypeCondition:
		if n.Data.ConditionExpression == "" {
			return nil, NewErrorf(ErrCodeValidation, "condition node %s has no condition_expression", n.ID).WithNode(n.ID)
		}
		if !conditionLanguages[n.Data.Language] {
			return nil, NewErrorf(ErrCodeValidation, "condition node %s has unknown language %q", n.ID, n.Data.Language).WithNode(n.ID)
		}
		return ConditionConfig{
			Label:      n.Data.Label,
			Expression: n.Data.ConditionExpression,
			Language:   n.Data.Language,
		}, nil
	}

	return nil, NewErrorf(ErrCodeValidation, "node %s has unknown type %q", n.ID, n.Type).WithNode(n.ID)
}

// Label returns the node's display label, falling back to its id.
func (n *Node) Label() string {
	if n.Data.Label != "" {
		return n.Data.Label
	}
	return n.ID
}

// Edge is a directed dependency between two nodes. SourceHandle labels the
// branch taken out of a condition node (e.g. "true"/"false").
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"source_handle,omitempty"`
	TargetHandle string `json:"target_handle,omitempty"`
	Type         string `json:"type,omitempty"`
	Label        string `json:"label,omitempty"`
}

// Workflow is a named, owned graph of nodes and edges.
type Workflow struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description,omitempty"`
	Nodes            []Node    `json:"nodes"`
	Edges            []Edge    `json:"edges"`
	UserID           string    `json:"user_id"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	IsTemplate       bool      `json:"is_template,omitempty"`
	TemplateCategory string    `json:"template_category,omitempty"`
	// InputSchema optionally constrains input_data at launch (JSON Schema).
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// WorkflowUpdate specifies a partial field replace. Nil pointers leave the
// field untouched; updated_at is re-stamped by the service.
type WorkflowUpdate struct {
	Name             *string `json:"name,omitempty"`
	Description      *string `json:"description,omitempty"`
	Nodes            *[]Node `json:"nodes,omitempty"`
	Edges            *[]Edge `json:"edges,omitempty"`
	IsTemplate       *bool   `json:"is_template,omitempty"`
	TemplateCategory *string `json:"template_category,omitempty"`
}

// Apply copies the set fields onto the workflow.
func (u WorkflowUpdate) Apply(wf *Workflow) {
	if u.Name != nil {
		wf.Name = *u.Name
	}
	if u.Description != nil {
		wf.Description = *u.Description
	}
	if u.Nodes != nil {
		wf.Nodes = *u.Nodes
	}
	if u.Edges != nil {
		wf.Edges = *u.Edges
	}
	if u.IsTemplate != nil {
		wf.IsTemplate = *u.IsTemplate
	}
	if u.TemplateCategory != nil {
		wf.TemplateCategory = *u.TemplateCategory
	}
}

// String implements fmt.Stringer for log output.
func (n NodeType) String() string { return string(n) }

var _ fmt.Stringer = NodeTypeInput
