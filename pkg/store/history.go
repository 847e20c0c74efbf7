package store

import (
	"github.com/dshills/flowgraph/pkg/workflow"
)

// DefaultHistorySize bounds the undo stack when no size is configured.
const DefaultHistorySize = 50

// graphSnapshot is a deep copy of the editable graph. Name counters are not part
// of it: undoing an add never frees a name.
type graphSnapshot struct {
	nodes []workflow.Node
	edges []workflow.Edge
}

func captureGraph(w *workflow.Workflow) graphSnapshot {
	cp := w.Clone()
	return graphSnapshot{nodes: cp.Nodes, edges: cp.Edges}
}

// history keeps bounded undo and redo stacks of graph snapshots.
type history struct {
	undo     []graphSnapshot
	redo     []graphSnapshot
	capacity int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &history{capacity: capacity}
}

// record saves the state before an edit and drops any redo branch.
func (h *history) record(before graphSnapshot) {
	h.undo = pushBounded(h.undo, before, h.capacity)
	h.redo = nil
}

func (h *history) popUndo(current graphSnapshot) (graphSnapshot, bool) {
	if len(h.undo) == 0 {
		return graphSnapshot{}, false
	}
	prev := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = pushBounded(h.redo, current, h.capacity)
	return prev, true
}

func (h *history) popRedo(current graphSnapshot) (graphSnapshot, bool) {
	if len(h.redo) == 0 {
		return graphSnapshot{}, false
	}
	next := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = pushBounded(h.undo, current, h.capacity)
	return next, true
}

func (h *history) reset() {
	h.undo = nil
	h.redo = nil
}

func pushBounded(stack []graphSnapshot, s graphSnapshot, capacity int) []graphSnapshot {
	stack = append(stack, s)
	if len(stack) > capacity {
		stack = stack[len(stack)-capacity:]
	}
	return stack
}
