// Package store holds the single editable workflow document. It keeps the graph
// consistent under canvas edits: names are unique for the session, edges never
// dangle, and every mutation is visible to subscribers as a fresh snapshot.
//
// A Store is not safe for concurrent use. Callers serialize mutations.
package store

import (
	"context"
	"log/slog"

	"github.com/dshills/flowgraph/internal/ctxlog"
	"github.com/dshills/flowgraph/pkg/domain/types"
	flowerrors "github.com/dshills/flowgraph/pkg/errors"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// State is the lifecycle position of the store.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
)

// Loader reads a persisted workflow.
type Loader interface {
	Load(ctx context.Context, id types.WorkflowID) (*workflow.Workflow, error)
}

// Saver writes a workflow.
type Saver interface {
	Save(ctx context.Context, w *workflow.Workflow) error
}

// Repository is the persistence collaborator consumed by Load and Save.
type Repository interface {
	Loader
	Saver
}

// Listener receives a deep copy of the workflow after every change.
type Listener func(snapshot *workflow.Workflow)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for store diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithHistorySize bounds the number of undoable edits.
func WithHistorySize(n int) Option {
	return func(s *Store) {
		s.history = newHistory(n)
	}
}

// Store owns the current workflow, its name counters and its edit history.
type Store struct {
	wf      *workflow.Workflow
	names   *workflow.NameRegistry
	state   State
	history *history
	logger  *slog.Logger

	listeners map[int]Listener
	nextSubID int
}

// New returns an uninitialized store holding an empty draft.
func New(opts ...Option) *Store {
	s := &Store{
		wf:        workflow.New(),
		names:     workflow.NewNameRegistry(),
		state:     StateUninitialized,
		history:   newHistory(DefaultHistorySize),
		logger:    ctxlog.Discard(),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the lifecycle state.
func (s *Store) State() State { return s.state }

// ID returns the workflow ID, zero if it was never saved.
func (s *Store) ID() types.WorkflowID { return s.wf.ID }

// Name returns the workflow name.
func (s *Store) Name() string { return s.wf.Name }

// SaveStatus returns whether the document matches what was last persisted.
func (s *Store) SaveStatus() workflow.SaveStatus { return s.wf.SaveStatus }

// PublicationStatus returns draft or published.
func (s *Store) PublicationStatus() workflow.PublicationStatus { return s.wf.Status }

// Counters returns a copy of the name counters.
func (s *Store) Counters() map[string]int { return s.names.Counters() }

// Snapshot returns a deep copy of the current workflow.
func (s *Store) Snapshot() *workflow.Workflow { return s.wf.Clone() }

// Nodes returns a copy of the nodes in insertion order.
func (s *Store) Nodes() []workflow.Node { return s.wf.Clone().Nodes }

// Edges returns a copy of the edges in insertion order.
func (s *Store) Edges() []workflow.Edge { return s.wf.Clone().Edges }

// Node returns a copy of the node with the given ID.
func (s *Store) Node(id types.NodeID) (workflow.Node, bool) {
	n, ok := s.wf.NodeByID(id)
	if !ok {
		return workflow.Node{}, false
	}
	return n.Clone(), true
}

// NodeByName returns a copy of the node referenced as {{ name.field }}.
func (s *Store) NodeByName(name string) (workflow.Node, bool) {
	return s.Node(types.NodeID(name))
}

// Subscribe registers fn to run after every change. The returned function
// removes the subscription.
func (s *Store) Subscribe(fn Listener) (cancel func()) {
	id := s.nextSubID
	s.nextSubID++
	s.listeners[id] = fn
	return func() { delete(s.listeners, id) }
}

func (s *Store) notify() {
	if len(s.listeners) == 0 {
		return
	}
	for _, fn := range s.listeners {
		fn(s.wf.Clone())
	}
}

// edit runs fn and, if it reports a change, records the prior graph for undo,
// marks the document unsaved and notifies subscribers.
func (s *Store) edit(op string, fn func() bool) bool {
	before := captureGraph(s.wf)
	if !fn() {
		return false
	}
	s.history.record(before)
	s.markDirty()
	s.logger.Debug("workflow edited", "op", op, "nodes", len(s.wf.Nodes), "edges", len(s.wf.Edges))
	s.notify()
	return true
}

func (s *Store) markDirty() {
	s.state = StateReady
	s.wf.SaveStatus = workflow.SaveStatusUnsaved
}

// AddNode allocates the next name for nodeType and appends a node with empty
// params at pos. The node's ID and label are both the allocated name.
func (s *Store) AddNode(nodeType string, pos workflow.Position) (workflow.Node, error) {
	if nodeType == "" {
		return workflow.Node{}, &flowerrors.ValidationError{Field: "type", Message: "node type is required"}
	}

	var node workflow.Node
	s.edit("add_node", func() bool {
		name := s.names.Allocate(nodeType)
		for s.wf.HasNode(types.NodeID(name)) {
			name = s.names.Allocate(nodeType)
		}
		node = workflow.NewNode(name, nodeType, pos)
		s.wf.Nodes = append(s.wf.Nodes, node)
		return true
	})
	return node.Clone(), nil
}

// RemoveNode deletes the node and every edge touching it. Unknown IDs are ignored.
func (s *Store) RemoveNode(id types.NodeID) {
	s.edit("remove_node", func() bool {
		idx := s.nodeIndex(id)
		if idx < 0 {
			return false
		}
		s.wf.Nodes = append(s.wf.Nodes[:idx:idx], s.wf.Nodes[idx+1:]...)

		kept := s.wf.Edges[:0:0]
		for _, e := range s.wf.Edges {
			if e.Source != id && e.Target != id {
				kept = append(kept, e)
			}
		}
		s.wf.Edges = kept
		return true
	})
}

// UpdateNodeData shallow-merges partial into the node's params. Unknown IDs are
// ignored.
func (s *Store) UpdateNodeData(id types.NodeID, partial map[string]any) {
	s.edit("update_node_data", func() bool {
		idx := s.nodeIndex(id)
		if idx < 0 || len(partial) == 0 {
			return false
		}
		params := s.wf.Nodes[idx].Data.Params
		if params == nil {
			params = make(map[string]any, len(partial))
		}
		for k, v := range workflow.CloneParams(partial) {
			params[k] = v
		}
		s.wf.Nodes[idx].Data.Params = params
		return true
	})
}

// DeleteNodeParam removes a single param key. Unknown IDs and keys are ignored.
func (s *Store) DeleteNodeParam(id types.NodeID, key string) {
	s.edit("delete_node_param", func() bool {
		idx := s.nodeIndex(id)
		if idx < 0 {
			return false
		}
		if _, ok := s.wf.Nodes[idx].Data.Params[key]; !ok {
			return false
		}
		delete(s.wf.Nodes[idx].Data.Params, key)
		return true
	})
}

// MoveNode sets the canvas position of a node. Unknown IDs are ignored.
func (s *Store) MoveNode(id types.NodeID, pos workflow.Position) {
	s.edit("move_node", func() bool {
		idx := s.nodeIndex(id)
		if idx < 0 || s.wf.Nodes[idx].Position == pos {
			return false
		}
		s.wf.Nodes[idx].Position = pos
		return true
	})
}

// SetNodes replaces every node. Repeated IDs keep their first occurrence, loaded
// names advance the name counters, and edges left without an endpoint are
// removed.
func (s *Store) SetNodes(nodes []workflow.Node) {
	s.edit("set_nodes", func() bool {
		s.wf.Nodes = workflow.SanitizeNodes(nodes)
		for _, n := range s.wf.Nodes {
			s.names.Observe(n.Name())
		}
		s.wf.Edges = workflow.SanitizeEdges(s.wf.Edges, s.wf.Nodes)
		return true
	})
}

// SetEdges replaces every edge, then drops dangling edges, self-loops and
// duplicates. Edges without an ID get one.
func (s *Store) SetEdges(edges []workflow.Edge) {
	s.edit("set_edges", func() bool {
		s.wf.Edges = workflow.SanitizeEdges(edges, s.wf.Nodes)
		return true
	})
}

// UpdateEdges replaces the edges with fn(current). The result is cleaned like SetEdges.
func (s *Store) UpdateEdges(fn func(current []workflow.Edge) []workflow.Edge) {
	current := s.Edges()
	s.SetEdges(fn(current))
}

// OnConnect adds the edge described by a connect gesture. Self-loops, unknown
// endpoints and repeats of an existing (source, target, sourceHandle) triple are
// rejected without error; the boolean reports whether an edge was added.
func (s *Store) OnConnect(conn workflow.Connection) (workflow.Edge, bool) {
	edge := workflow.Edge{
		ID:           types.NewEdgeID(),
		Source:       conn.Source,
		Target:       conn.Target,
		SourceHandle: conn.SourceHandle,
		Type:         workflow.DefaultEdgeType,
		Animated:     true,
	}

	added := s.edit("connect", func() bool {
		if edge.IsSelfLoop() || !s.wf.HasNode(edge.Source) || !s.wf.HasNode(edge.Target) {
			return false
		}
		for _, e := range s.wf.Edges {
			if e.Key() == edge.Key() {
				return false
			}
		}
		s.wf.Edges = append(s.wf.Edges, edge)
		return true
	})
	if !added {
		s.logger.Debug("connection rejected", "source", conn.Source, "target", conn.Target, "handle", conn.SourceHandle)
		return workflow.Edge{}, false
	}
	return edge, true
}

// RemoveEdge deletes the edge with the given ID. Unknown IDs are ignored.
func (s *Store) RemoveEdge(id types.EdgeID) {
	s.edit("remove_edge", func() bool {
		for i, e := range s.wf.Edges {
			if e.ID == id {
				s.wf.Edges = append(s.wf.Edges[:i:i], s.wf.Edges[i+1:]...)
				return true
			}
		}
		return false
	})
}

// ClearWorkflow empties the graph and resets counters, ID, publication status
// and edit history. The name is reset too unless preserveName is set. The
// cleared document has no ID, so it is unsaved. Calling it twice leaves the
// same state as calling it once.
func (s *Store) ClearWorkflow(preserveName bool) {
	name := workflow.DefaultName
	if preserveName {
		name = s.wf.Name
	}
	s.wf = workflow.New()
	s.wf.Name = name
	s.wf.SaveStatus = workflow.SaveStatusUnsaved
	s.names.Reset()
	s.history.reset()
	s.state = StateReady
	s.logger.Debug("workflow cleared", "preserve_name", preserveName)
	s.notify()
}

// SetWorkflowID sets the document ID without touching the save status.
func (s *Store) SetWorkflowID(id types.WorkflowID) {
	s.wf.ID = id
	s.notify()
}

// SetSaveStatus sets the save status without touching the graph.
func (s *Store) SetSaveStatus(status workflow.SaveStatus) {
	s.wf.SaveStatus = status
	s.notify()
}

// SetName renames the workflow and marks it unsaved.
func (s *Store) SetName(name string) {
	if name == s.wf.Name {
		return
	}
	s.wf.Name = name
	s.markDirty()
	s.notify()
}

// SetPublicationStatus switches between draft and published.
func (s *Store) SetPublicationStatus(status workflow.PublicationStatus) error {
	if !status.Valid() {
		return &flowerrors.ValidationError{Field: "status", Message: "unknown publication status " + string(status)}
	}
	if status == s.wf.Status {
		return nil
	}
	s.wf.Status = status
	s.markDirty()
	s.notify()
	return nil
}

// CanUndo reports whether an edit can be undone.
func (s *Store) CanUndo() bool { return len(s.history.undo) > 0 }

// CanRedo reports whether an undone edit can be reapplied.
func (s *Store) CanRedo() bool { return len(s.history.redo) > 0 }

// Undo restores the graph as it was before the last edit. Name counters are
// left alone.
func (s *Store) Undo() bool {
	prev, ok := s.history.popUndo(captureGraph(s.wf))
	if !ok {
		return false
	}
	s.restore(prev)
	return true
}

// Redo reapplies the last undone edit.
func (s *Store) Redo() bool {
	next, ok := s.history.popRedo(captureGraph(s.wf))
	if !ok {
		return false
	}
	s.restore(next)
	return true
}

func (s *Store) restore(g graphSnapshot) {
	s.wf.Nodes = g.nodes
	s.wf.Edges = g.edges
	s.markDirty()
	s.notify()
}

func (s *Store) nodeIndex(id types.NodeID) int {
	for i, n := range s.wf.Nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}
