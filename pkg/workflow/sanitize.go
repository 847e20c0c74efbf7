package workflow

import (
	"github.com/dshills/flowgraph/pkg/domain/types"
)

// SanitizeNodes drops nodes without an ID and every repeat of an ID already
// seen, keeping the first occurrence. Nil params become an empty map.
func SanitizeNodes(nodes []Node) []Node {
	out := make([]Node, 0, len(nodes))
	seen := make(map[types.NodeID]bool, len(nodes))
	for _, n := range nodes {
		if n.ID == "" || seen[n.ID] {
			continue
		}
		seen[n.ID] = true
		n = n.Clone()
		if n.Data.Params == nil {
			n.Data.Params = map[string]any{}
		}
		out = append(out, n)
	}
	return out
}

// SanitizeEdges removes edges whose endpoints are not in nodes, self-loops and
// repeats of an existing (source, target, sourceHandle) triple. Edges without an
// ID are given one. Order is preserved.
func SanitizeEdges(edges []Edge, nodes []Node) []Edge {
	known := make(map[types.NodeID]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}

	out := make([]Edge, 0, len(edges))
	seen := make(map[EdgeKey]bool, len(edges))
	for _, e := range edges {
		if !known[e.Source] || !known[e.Target] || e.IsSelfLoop() || seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		if e.ID == "" {
			e.ID = types.NewEdgeID()
		}
		out = append(out, e)
	}
	return out
}

// Sanitize applies SanitizeNodes and SanitizeEdges to the workflow in place and
// defaults an empty publication status to draft.
func (w *Workflow) Sanitize() {
	w.Nodes = SanitizeNodes(w.Nodes)
	w.Edges = SanitizeEdges(w.Edges, w.Nodes)
	if !w.Status.Valid() {
		w.Status = StatusDraft
	}
}
