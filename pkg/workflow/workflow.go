// Package workflow defines the node/edge graph model shared by the store, the
// variable engine and the execution orchestrator, along with the naming
// registry, dependency ordering, export and document validation.
package workflow

import (
	"fmt"

	"github.com/dshills/flowgraph/pkg/domain/types"
	flowerrors "github.com/dshills/flowgraph/pkg/errors"
)

// DefaultName is the name given to a fresh or hard-cleared workflow.
const DefaultName = "Untitled Workflow"

// PublicationStatus is the draft/published flag of a workflow.
type PublicationStatus string

const (
	StatusDraft     PublicationStatus = "draft"
	StatusPublished PublicationStatus = "published"
)

// Valid reports whether s is a known publication status.
func (s PublicationStatus) Valid() bool {
	return s == StatusDraft || s == StatusPublished
}

// SaveStatus tracks whether the in-memory document matches what was last persisted.
type SaveStatus string

const (
	SaveStatusSaved   SaveStatus = "saved"
	SaveStatusUnsaved SaveStatus = "unsaved"
	SaveStatusSaving  SaveStatus = "saving"
)

// Workflow is the whole document: metadata plus the graph.
type Workflow struct {
	ID         types.WorkflowID  `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	Nodes      []Node            `json:"nodes" yaml:"nodes"`
	Edges      []Edge            `json:"edges" yaml:"edges"`
	Status     PublicationStatus `json:"status" yaml:"status"`
	SaveStatus SaveStatus        `json:"saveStatus,omitempty" yaml:"saveStatus,omitempty"`
}

// New returns an empty draft workflow with the default name and no ID.
func New() *Workflow {
	return &Workflow{
		Name:       DefaultName,
		Nodes:      []Node{},
		Edges:      []Edge{},
		Status:     StatusDraft,
		SaveStatus: SaveStatusSaved,
	}
}

// MarshalJSON writes nil node and edge lists as empty arrays.
func (w Workflow) MarshalJSON() ([]byte, error) {
	type alias Workflow
	a := alias(w)
	if a.Nodes == nil {
		a.Nodes = []Node{}
	}
	if a.Edges == nil {
		a.Edges = []Edge{}
	}
	if a.Status == "" {
		a.Status = StatusDraft
	}
	return marshalJSON(a, "")
}

// NodeByID returns the node with the given ID.
func (w *Workflow) NodeByID(id types.NodeID) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NodeByName returns the node whose name is name.
func (w *Workflow) NodeByName(name string) (Node, bool) {
	return w.NodeByID(types.NodeID(name))
}

// HasNode reports whether a node with the given ID exists.
func (w *Workflow) HasNode(id types.NodeID) bool {
	_, ok := w.NodeByID(id)
	return ok
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	if w == nil {
		return nil
	}
	out := *w
	out.Nodes = make([]Node, len(w.Nodes))
	for i, n := range w.Nodes {
		out.Nodes[i] = n.Clone()
	}
	out.Edges = append(make([]Edge, 0, len(w.Edges)), w.Edges...)
	return &out
}

// Validate reports structural problems that Sanitize would otherwise correct
// silently. Loaders use it for diagnostics; it never mutates the workflow.
func (w *Workflow) Validate() error {
	var errs flowerrors.ValidationErrors

	seen := make(map[types.NodeID]bool, len(w.Nodes))
	for i, n := range w.Nodes {
		if n.ID == "" {
			errs = append(errs, &flowerrors.ValidationError{Field: "id", Message: fmt.Sprintf("node at index %d has no id", i)})
			continue
		}
		if seen[n.ID] {
			errs = append(errs, &flowerrors.ValidationError{NodeID: n.ID, Message: "duplicate node id"})
		}
		seen[n.ID] = true
		if n.Type == "" {
			errs = append(errs, &flowerrors.ValidationError{NodeID: n.ID, Field: "type", Message: "node type is empty"})
		}
	}

	edgeKeys := make(map[EdgeKey]bool, len(w.Edges))
	for _, e := range w.Edges {
		switch {
		case !seen[e.Source]:
			errs = append(errs, &flowerrors.ValidationError{Message: fmt.Sprintf("edge %s references unknown source %s", e.ID, e.Source)})
		case !seen[e.Target]:
			errs = append(errs, &flowerrors.ValidationError{Message: fmt.Sprintf("edge %s references unknown target %s", e.ID, e.Target)})
		case e.IsSelfLoop():
			errs = append(errs, &flowerrors.ValidationError{NodeID: e.Source, Message: fmt.Sprintf("edge %s is a self-loop", e.ID)})
		case edgeKeys[e.Key()]:
			errs = append(errs, &flowerrors.ValidationError{Message: fmt.Sprintf("edge %s duplicates an existing connection", e.ID)})
		}
		edgeKeys[e.Key()] = true
	}

	if w.Status != "" && !w.Status.Valid() {
		errs = append(errs, &flowerrors.ValidationError{Field: "status", Message: fmt.Sprintf("unknown publication status %q", w.Status)})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
