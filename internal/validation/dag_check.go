package validation

import (
	"github.com/flowgrid/flowgrid/internal/graph"
	"github.com/flowgrid/flowgrid/pkg/schema"
)

// validateDAG detects directed cycles with a depth-first traversal and a
// recursion-stack set. Every connected component is visited, not just nodes
// reachable from input nodes, so a cycle in a detached component is still
// fatal. Self-loops count as cycles. Edges with unresolved endpoints are
// ignored here; validateSemantic already reported them.
func validateDAG(g *graph.Graph) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	const (
		unvisited = 0
		onStack   = 1
		done      = 2
	)
	state := make(map[string]int, g.Len())

	var visit func(id string) bool
	visit = func(id string) bool {
		state[id] = onStack
		for _, e := range g.EdgesFrom(id) {
			if g.Node(e.Target) == nil {
				continue
			}
			switch state[e.Target] {
			case onStack:
				return true // revisited while still on the active stack
			case unvisited:
				if visit(e.Target) {
					return true
				}
			}
		}
		state[id] = done
		return false
	}

	for _, id := range g.NodeIDs() {
		if state[id] != unvisited {
			continue
		}
		if visit(id) {
			result.AddError(schema.IssueCycle, id,
				"workflow contains cycles which may cause infinite loops")
			return result
		}
	}

	return result
}
