package engine

import (
	"sort"

	"github.com/flowgrid/flowgrid/internal/graph"
	"github.com/flowgrid/flowgrid/pkg/schema"
)

// buildPlan computes a deterministic topological order over the workflow
// graph with Kahn's algorithm. Ready nodes are drained in sorted id order so
// two runs of the same workflow walk the nodes identically. The validator
// has already rejected cyclic graphs; a leftover cycle here is a defect and
// is reported as such.
func buildPlan(g *graph.Graph) ([]string, error) {
	inDegree := make(map[string]int, g.Len())
	for _, id := range g.NodeIDs() {
		inDegree[id] = 0
	}
	for _, id := range g.NodeIDs() {
		for _, e := range g.EdgesFrom(id) {
			if g.Node(e.Target) == nil {
				continue
			}
			inDegree[e.Target]++
		}
	}

	var ready []string
	for _, id := range g.NodeIDs() {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, g.Len())
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var unlocked []string
		for _, e := range g.EdgesFrom(id) {
			if g.Node(e.Target) == nil {
				continue
			}
			inDegree[e.Target]--
			if inDegree[e.Target] == 0 {
				unlocked = append(unlocked, e.Target)
			}
		}
		sort.Strings(unlocked)
		ready = mergeSorted(ready, unlocked)
	}

	if len(order) != g.Len() {
		return nil, schema.NewError(schema.ErrCodeCycleDetected,
			"workflow contains cycles which may cause infinite loops")
	}

	return order, nil
}

// mergeSorted merges two sorted string slices.
func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	if len(a) == 0 {
		return b
	}
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
