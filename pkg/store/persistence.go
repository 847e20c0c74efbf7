package store

import (
	"context"

	"github.com/dshills/flowgraph/internal/ctxlog"
	"github.com/dshills/flowgraph/pkg/domain/types"
	flowerrors "github.com/dshills/flowgraph/pkg/errors"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// Load replaces the document with the one repo holds under id. On success the
// store is Ready and saved, with counters advanced past every loaded name and an
// empty edit history. On failure the previous document is kept.
func (s *Store) Load(ctx context.Context, repo Loader, id types.WorkflowID) error {
	logger := ctxlog.FromContext(ctx)
	prev := s.state
	s.state = StateLoading
	s.notify()

	loaded, err := repo.Load(ctx, id)
	if err == nil && loaded == nil {
		err = workflow.ErrWorkflowNotFound
	}
	if err != nil {
		s.state = prev
		s.notify()
		logger.Error("workflow load failed", "workflow_id", id, "error", err)
		return flowerrors.NewPersistenceError("load", id, err)
	}

	wf := loaded.Clone()
	before := len(wf.Nodes) + len(wf.Edges)
	wf.Sanitize()
	if dropped := before - len(wf.Nodes) - len(wf.Edges); dropped > 0 {
		logger.Warn("dropped inconsistent graph elements on load", "workflow_id", id, "dropped", dropped)
	}
	if wf.ID.IsZero() {
		wf.ID = id
	}
	if wf.Name == "" {
		wf.Name = workflow.DefaultName
	}
	wf.SaveStatus = workflow.SaveStatusSaved

	s.wf = wf
	s.names.Reset()
	for _, n := range wf.Nodes {
		s.names.Observe(n.Name())
	}
	s.history.reset()
	s.state = StateReady
	logger.Info("workflow loaded", "workflow_id", id, "nodes", len(wf.Nodes), "edges", len(wf.Edges))
	s.notify()
	return nil
}

// Save persists the document. A workflow that has never been saved gets a fresh
// ID first; if the save fails the ID is withdrawn. A failed save leaves the
// document unsaved and is not retried.
func (s *Store) Save(ctx context.Context, repo Saver) error {
	logger := ctxlog.FromContext(ctx)

	assigned := false
	if s.wf.ID.IsZero() {
		s.wf.ID = types.NewWorkflowID()
		assigned = true
	}
	s.state = StateReady
	s.wf.SaveStatus = workflow.SaveStatusSaving
	s.notify()

	doc := s.wf.Clone()
	doc.SaveStatus = workflow.SaveStatusSaved
	if err := repo.Save(ctx, doc); err != nil {
		id := s.wf.ID
		if assigned {
			s.wf.ID = ""
		}
		s.wf.SaveStatus = workflow.SaveStatusUnsaved
		s.notify()
		logger.Error("workflow save failed", "workflow_id", id, "error", err)
		return flowerrors.NewPersistenceError("save", id, err)
	}

	s.wf.SaveStatus = workflow.SaveStatusSaved
	logger.Info("workflow saved", "workflow_id", s.wf.ID, "nodes", len(s.wf.Nodes))
	s.notify()
	return nil
}

// Import replaces the graph with the contents of an export document. The result
// is an unsaved draft with no ID.
func (s *Store) Import(doc *workflow.ExportDocument, name string) {
	s.ClearWorkflow(false)
	if name != "" {
		s.wf.Name = name
	}
	s.SetNodes(doc.Nodes)
	s.SetEdges(doc.Edges)
	s.history.reset()
}
