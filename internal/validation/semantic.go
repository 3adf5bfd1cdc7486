package validation

import (
	"fmt"

	"github.com/flowgrid/flowgrid/internal/graph"
	"github.com/flowgrid/flowgrid/pkg/schema"
)

// validateSemantic applies the cross-node rules that do not require graph
// traversal: node presence, id uniqueness, edge endpoint resolution, required
// node types, and orphan detection. Every rule is evaluated; none
// short-circuits the others.
func validateSemantic(wf *schema.Workflow, g *graph.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	// Rule 1: at least one node.
	if len(wf.Nodes) == 0 {
		result.AddError(schema.IssueEmptyWorkflow, "", "workflow must contain at least one node")
	}

	// Per-node shape checks via the tagged-variant decode.
	seen := make(map[string]bool, len(wf.Nodes))
	for i := range wf.Nodes {
		n := &wf.Nodes[i]

		// Rule 2: unique node ids.
		if n.ID != "" && seen[n.ID] {
			result.AddError(schema.IssueDuplicateID, n.ID, fmt.Sprintf("duplicate node id %q", n.ID))
			continue
		}
		seen[n.ID] = true

		if _, err := n.Config(); err != nil {
			result.AddError(schema.IssueShape, n.ID, err.Error())
		}
	}

	// Rule 3: edge endpoints must resolve to existing nodes.
	for i := range wf.Edges {
		e := &wf.Edges[i]
		if g.Node(e.Source) == nil {
			result.AddError(schema.IssueUnknownRef, "",
				fmt.Sprintf("edge %s references missing source node %q", e.ID, e.Source))
		}
		if g.Node(e.Target) == nil {
			result.AddError(schema.IssueUnknownRef, "",
				fmt.Sprintf("edge %s references missing target node %q", e.ID, e.Target))
		}
	}

	// Rules 4 and 5: required node types. A missing input node is fatal
	// (no entry point); a missing output node only warns.
	if len(wf.Nodes) > 0 {
		if len(g.NodesOfType(schema.NodeTypeInput)) == 0 {
			result.AddError(schema.IssueNoInputNode, "", "workflow must have at least one input node")
		}
		if len(g.NodesOfType(schema.NodeTypeOutput)) == 0 {
			result.AddWarning(schema.IssueNoOutputNode, "", "workflow has no output node")
		}
	}

	// Rule 6: non-input nodes that touch no edge at all are orphans.
	// The engine can still run rooted components, so this only warns.
	for _, id := range g.NodeIDs() {
		n := g.Node(id)
		if n.Type == schema.NodeTypeInput {
			continue
		}
		if !g.Connected(id) {
			result.AddWarning(schema.IssueOrphanNode, id,
				fmt.Sprintf("node %q is not connected to any edge", id))
		}
	}

	return result
}
