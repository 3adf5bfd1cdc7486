package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeConfig_Input(t *testing.T) {
	n := Node{ID: "input-1", Type: NodeTypeInput, Data: NodeData{Label: "Document", InputType: "text"}}

	cfg, err := n.Config()
	require.NoError(t, err)

	ic, ok := cfg.(InputConfig)
	require.True(t, ok)
	assert.Equal(t, "Document", ic.Label)
	assert.Equal(t, "text", ic.InputType)
}

func TestNodeConfig_Output(t *testing.T) {
	n := Node{ID: "output-1", Type: NodeTypeOutput, Data: NodeData{OutputType: "json"}}

	cfg, err := n.Config()
	require.NoError(t, err)

	oc, ok := cfg.(OutputConfig)
	require.True(t, ok)
	assert.Equal(t, "json", oc.OutputType)
}

func TestNodeConfig_Agent(t *testing.T) {
	n := Node{ID: "agent-1", Type: NodeTypeAgent, Data: NodeData{
		AgentConfig: &AgentConfig{Model: "llama3", Temperature: 0.7, MaxTokens: 512, SystemPrompt: "be brief"},
	}}

	cfg, err := n.Config()
	require.NoError(t, err)

	ac, ok := cfg.(AgentNodeConfig)
	require.True(t, ok)
	assert.Equal(t, "llama3", ac.Model)
	assert.Equal(t, 0.7, ac.Temperature)
	assert.Equal(t, 512, ac.MaxTokens)
	assert.Equal(t, "be brief", ac.SystemPrompt)
}

func TestNodeConfig_Condition(t *testing.T) {
	n := Node{ID: "cond-1", Type: NodeTypeCondition, Data: NodeData{
		ConditionExpression: `nodes["agent-1"] == "yes"`,
		Language:            "cel",
	}}

	cfg, err := n.Config()
	require.NoError(t, err)

	cc, ok := cfg.(ConditionConfig)
	require.True(t, ok)
	assert.Equal(t, "cel", cc.Language)
	assert.NotEmpty(t, cc.Expression)
}

func TestNodeConfig_ConditionDefaultLanguage(t *testing.T) {
	n := Node{ID: "cond-1", Type: NodeTypeCondition, Data: NodeData{ConditionExpression: "true"}}

	cfg, err := n.Config()
	require.NoError(t, err)
	assert.Equal(t, "", cfg.(ConditionConfig).Language)
}

func TestNodeConfig_ShapeErrors(t *testing.T) {
	tests := []struct {
		name    string
		node    Node
		wantMsg string
	}{
		{"empty id", Node{Type: NodeTypeInput}, "empty id"},
		{"unknown type", Node{ID: "n1", Type: "mystery"}, "unknown type"},
		{"agent without config", Node{ID: "a1", Type: NodeTypeAgent}, "no agent_config"},
		{"agent without model", Node{ID: "a1", Type: NodeTypeAgent,
			Data: NodeData{AgentConfig: &AgentConfig{}}}, "no model"},
		{"condition without expression", Node{ID: "c1", Type: NodeTypeCondition}, "no condition_expression"},
		{"condition with unknown language", Node{ID: "c1", Type: NodeTypeCondition,
			Data: NodeData{ConditionExpression: "true", Language: "lua"}}, "unknown language"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.node.Config()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)

			var fe *FlowError
			require.ErrorAs(t, err, &fe)
			assert.Equal(t, ErrCodeValidation, fe.Code)
		})
	}
}

func TestNodeLabel(t *testing.T) {
	labeled := Node{ID: "n1", Data: NodeData{Label: "Classifier"}}
	assert.Equal(t, "Classifier", labeled.Label())

	unlabeled := Node{ID: "n1"}
	assert.Equal(t, "n1", unlabeled.Label())
}

func TestWorkflowUpdate_Apply(t *testing.T) {
	wf := &Workflow{
		Name:        "before",
		Description: "old",
		Nodes:       []Node{{ID: "n1", Type: NodeTypeInput}},
	}

	name := "after"
	nodes := []Node{
		{ID: "n1", Type: NodeTypeInput},
		{ID: "n2", Type: NodeTypeOutput},
	}
	WorkflowUpdate{Name: &name, Nodes: &nodes}.Apply(wf)

	assert.Equal(t, "after", wf.Name)
	assert.Equal(t, "old", wf.Description, "unset fields stay untouched")
	assert.Len(t, wf.Nodes, 2)
}

func TestWorkflowUpdate_ApplyEmpty(t *testing.T) {
	wf := &Workflow{Name: "keep", Description: "keep too"}

	WorkflowUpdate{}.Apply(wf)

	assert.Equal(t, "keep", wf.Name)
	assert.Equal(t, "keep too", wf.Description)
}

func TestWorkflowJSONRoundTrip(t *testing.T) {
	wf := &Workflow{
		ID:   "wf-1",
		Name: "triage",
		Nodes: []Node{
			{ID: "cond-1", Type: NodeTypeCondition, Data: NodeData{
				ConditionExpression: "input.score > 50",
				Language:            "expr",
			}},
		},
		Edges: []Edge{
			{ID: "e1", Source: "cond-1", Target: "out", SourceHandle: "true", Label: "yes"},
		},
		UserID:      "user-1",
		InputSchema: json.RawMessage(`{"type":"object"}`),
	}

	raw, err := json.Marshal(wf)
	require.NoError(t, err)

	var back Workflow
	require.NoError(t, json.Unmarshal(raw, &back))

	assert.Equal(t, wf.Nodes[0].Data.ConditionExpression, back.Nodes[0].Data.ConditionExpression)
	assert.Equal(t, "true", back.Edges[0].SourceHandle)
	assert.JSONEq(t, `{"type":"object"}`, string(back.InputSchema))
}
