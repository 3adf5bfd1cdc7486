// Package graph holds the in-memory adjacency model of a workflow.
//
// Adjacency is built once per operation from the workflow's node and edge
// lists. Nodes are always addressed by id, never by direct reference, so the
// model carries no lifetime or ownership beyond the workflow it was built
// from. Cross-node checks (dangling edge references, cycles) are the
// validator's job; Build tolerates them so the validator can report all
// issues instead of failing on the first.
package graph

import "github.com/flowgrid/flowgrid/pkg/schema"

// Graph is the adjacency view of a workflow's nodes and edges.
type Graph struct {
	nodes    map[string]*schema.Node
	order    []string // node ids in declaration order
	outgoing map[string][]*schema.Edge
	incoming map[string][]*schema.Edge
	edges    []schema.Edge
}

// Build constructs the adjacency model. Duplicate node ids keep the first
// occurrence; edges referencing unknown nodes are indexed anyway so the
// validator can see them via Edges().
func Build(nodes []schema.Node, edges []schema.Edge) *Graph {
	g := &Graph{
		nodes:    make(map[string]*schema.Node, len(nodes)),
		order:    make([]string, 0, len(nodes)),
		outgoing: make(map[string][]*schema.Edge, len(nodes)),
		incoming: make(map[string][]*schema.Edge, len(nodes)),
		edges:    edges,
	}

	for i := range nodes {
		n := &nodes[i]
		if _, exists := g.nodes[n.ID]; exists {
			continue
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}

	for i := range edges {
		e := &edges[i]
		g.outgoing[e.Source] = append(g.outgoing[e.Source], e)
		g.incoming[e.Target] = append(g.incoming[e.Target], e)
	}

	return g
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *schema.Node {
	return g.nodes[id]
}

// NodeIDs returns all node ids in declaration order.
func (g *Graph) NodeIDs() []string {
	return g.order
}

// Len returns the number of distinct nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// EdgesFrom returns the outgoing edges of a node.
func (g *Graph) EdgesFrom(id string) []*schema.Edge {
	return g.outgoing[id]
}

// EdgesTo returns the incoming edges of a node.
func (g *Graph) EdgesTo(id string) []*schema.Edge {
	return g.incoming[id]
}

// Edges returns the raw edge list, including edges with unresolved endpoints.
func (g *Graph) Edges() []schema.Edge {
	return g.edges
}

// NodesOfType returns the ids of all nodes of the given type, in declaration order.
func (g *Graph) NodesOfType(t schema.NodeType) []string {
	var ids []string
	for _, id := range g.order {
		if g.nodes[id].Type == t {
			ids = append(ids, id)
		}
	}
	return ids
}

// Connected reports whether the node appears as source or target of any edge.
func (g *Graph) Connected(id string) bool {
	return len(g.outgoing[id]) > 0 || len(g.incoming[id]) > 0
}
