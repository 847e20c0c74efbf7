package workflow

import (
	"github.com/dshills/flowgraph/pkg/domain/types"
	flowerrors "github.com/dshills/flowgraph/pkg/errors"
)

// Graph is the dependency view of a workflow: a target depends on its source.
// Edges with an unknown endpoint are ignored.
type Graph struct {
	order []types.NodeID
	index map[types.NodeID]int
	preds map[types.NodeID][]types.NodeID
	succs map[types.NodeID][]types.NodeID
	indeg map[types.NodeID]int
}

// BuildGraph indexes the nodes and edges of w.
func BuildGraph(w *Workflow) *Graph {
	g := &Graph{
		order: make([]types.NodeID, 0, len(w.Nodes)),
		index: make(map[types.NodeID]int, len(w.Nodes)),
		preds: make(map[types.NodeID][]types.NodeID, len(w.Nodes)),
		succs: make(map[types.NodeID][]types.NodeID, len(w.Nodes)),
		indeg: make(map[types.NodeID]int, len(w.Nodes)),
	}
	for _, n := range w.Nodes {
		if _, dup := g.index[n.ID]; dup {
			continue
		}
		g.index[n.ID] = len(g.order)
		g.order = append(g.order, n.ID)
	}
	for _, e := range w.Edges {
		_, okS := g.index[e.Source]
		_, okT := g.index[e.Target]
		if !okS || !okT {
			continue
		}
		g.succs[e.Source] = append(g.succs[e.Source], e.Target)
		g.preds[e.Target] = append(g.preds[e.Target], e.Source)
		g.indeg[e.Target]++
	}
	return g
}

// Nodes returns node IDs in insertion order.
func (g *Graph) Nodes() []types.NodeID {
	return append([]types.NodeID(nil), g.order...)
}

// Predecessors returns the sources of every edge into id, one entry per edge.
func (g *Graph) Predecessors(id types.NodeID) []types.NodeID {
	return g.preds[id]
}

// Successors returns the targets of every edge out of id, one entry per edge.
func (g *Graph) Successors(id types.NodeID) []types.NodeID {
	return g.succs[id]
}

// InDegree returns the number of edges into id.
func (g *Graph) InDegree(id types.NodeID) int {
	return g.indeg[id]
}

// Index returns the insertion position of id.
func (g *Graph) Index(id types.NodeID) (int, bool) {
	i, ok := g.index[id]
	return i, ok
}

// Ancestors returns every node from which id is reachable, in insertion order.
func (g *Graph) Ancestors(id types.NodeID) []types.NodeID {
	seen := make(map[types.NodeID]bool)
	stack := append([]types.NodeID(nil), g.preds[id]...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		stack = append(stack, g.preds[cur]...)
	}
	out := make([]types.NodeID, 0, len(seen))
	for _, n := range g.order {
		if seen[n] && n != id {
			out = append(out, n)
		}
	}
	return out
}

// TopologicalSort orders the graph with Kahn's algorithm. Nodes that become
// ready at the same time keep their insertion order. When nodes remain after
// the queue drains, a GraphCycleError lists them in insertion order.
func (g *Graph) TopologicalSort() ([]types.NodeID, error) {
	indeg := make(map[types.NodeID]int, len(g.indeg))
	for k, v := range g.indeg {
		indeg[k] = v
	}

	queue := make([]types.NodeID, 0, len(g.order))
	for _, id := range g.order {
		if indeg[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]types.NodeID, 0, len(g.order))
	done := make(map[types.NodeID]bool, len(g.order))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)
		done[current] = true

		for _, next := range g.succs[current] {
			indeg[next]--
			if indeg[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(result) != len(g.order) {
		remaining := make([]types.NodeID, 0, len(g.order)-len(result))
		for _, id := range g.order {
			if !done[id] {
				remaining = append(remaining, id)
			}
		}
		return nil, &flowerrors.GraphCycleError{NodeIDs: remaining}
	}
	return result, nil
}

// TopologicalSort is a shorthand for BuildGraph(w).TopologicalSort().
func TopologicalSort(w *Workflow) ([]types.NodeID, error) {
	return BuildGraph(w).TopologicalSort()
}
