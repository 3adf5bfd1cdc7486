package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgrid/flowgrid/pkg/schema"
)

func TestBranchLabel(t *testing.T) {
	t.Run("true maps to true branch", func(t *testing.T) {
		label, err := branchLabel(true)
		require.NoError(t, err)
		assert.Equal(t, "true", label)
	})

	t.Run("false maps to false branch", func(t *testing.T) {
		label, err := branchLabel(false)
		require.NoError(t, err)
		assert.Equal(t, "false", label)
	})

	t.Run("string is used verbatim", func(t *testing.T) {
		label, err := branchLabel("escalate")
		require.NoError(t, err)
		assert.Equal(t, "escalate", label)
	})

	t.Run("empty string rejected", func(t *testing.T) {
		_, err := branchLabel("")
		require.Error(t, err)
	})

	t.Run("number rejected", func(t *testing.T) {
		_, err := branchLabel(42)
		require.Error(t, err)

		var fe *schema.FlowError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, schema.ErrCodeExpression, fe.Code)
	})

	t.Run("nil rejected", func(t *testing.T) {
		_, err := branchLabel(nil)
		require.Error(t, err)
	})
}

func TestRenderValue(t *testing.T) {
	t.Run("string passes through", func(t *testing.T) {
		assert.Equal(t, "plain text", renderValue("plain text"))
	})

	t.Run("map renders as JSON", func(t *testing.T) {
		out := map[string]any{"score": 7}
		assert.Equal(t, `{"score":7}`, renderValue(out))
	})
}

func TestBuildPrompt_StableOrder(t *testing.T) {
	node := &schema.Node{ID: "agent-1", Type: schema.NodeTypeAgent}
	cfg := schema.AgentNodeConfig{Description: "Combine the inputs."}
	inputs := map[string]any{
		"b-node": "second",
		"a-node": "first",
	}

	prompt := buildPrompt(node, cfg, inputs)
	assert.Equal(t, "Combine the inputs.\n\nfirst\nsecond", prompt)
}

func TestEdgeMatchesBranch(t *testing.T) {
	t.Run("handle matches", func(t *testing.T) {
		e := &schema.Edge{SourceHandle: "true"}
		assert.True(t, edgeMatchesBranch(e, "true"))
		assert.False(t, edgeMatchesBranch(e, "false"))
	})

	t.Run("label fallback", func(t *testing.T) {
		e := &schema.Edge{Label: "queue"}
		assert.True(t, edgeMatchesBranch(e, "queue"))
		assert.False(t, edgeMatchesBranch(e, "escalate"))
	})

	t.Run("unlabeled edge follows any branch", func(t *testing.T) {
		e := &schema.Edge{}
		assert.True(t, edgeMatchesBranch(e, "true"))
		assert.True(t, edgeMatchesBranch(e, "anything"))
	})
}
