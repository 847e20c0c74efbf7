// Package testutil provides in-memory collaborators for package tests.
package testutil

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/dshills/flowgraph/pkg/domain/types"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// MemoryRepository is a workflow.Repository backed by a map. Documents are
// stored as JSON so a round trip exercises the persisted shape.
type MemoryRepository struct {
	mu   sync.Mutex
	docs map[types.WorkflowID][]byte
	upd  map[types.WorkflowID]time.Time

	// SaveErr and LoadErr, when set, are returned instead of touching the map.
	SaveErr error
	LoadErr error

	Saves int
	Loads int
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		docs: make(map[types.WorkflowID][]byte),
		upd:  make(map[types.WorkflowID]time.Time),
	}
}

// Save stores w under its ID.
func (r *MemoryRepository) Save(_ context.Context, w *workflow.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Saves++
	if r.SaveErr != nil {
		return r.SaveErr
	}
	data, err := json.Marshal(w)
	if err != nil {
		return err
	}
	r.docs[w.ID] = data
	r.upd[w.ID] = time.Now()
	return nil
}

// Load decodes the document stored under id.
func (r *MemoryRepository) Load(_ context.Context, id types.WorkflowID) (*workflow.Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Loads++
	if r.LoadErr != nil {
		return nil, r.LoadErr
	}
	data, ok := r.docs[id]
	if !ok {
		return nil, workflow.ErrWorkflowNotFound
	}
	var w workflow.Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &w, nil
}

// Delete removes the document stored under id.
func (r *MemoryRepository) Delete(_ context.Context, id types.WorkflowID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.docs[id]; !ok {
		return workflow.ErrWorkflowNotFound
	}
	delete(r.docs, id)
	delete(r.upd, id)
	return nil
}

// List returns summaries sorted by ID.
func (r *MemoryRepository) List(_ context.Context) ([]workflow.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]workflow.Summary, 0, len(r.docs))
	for id, data := range r.docs {
		var w workflow.Workflow
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, err
		}
		out = append(out, workflow.Summary{ID: id, Name: w.Name, Status: w.Status, NodeCount: len(w.Nodes), UpdatedAt: r.upd[id]})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Put stores raw JSON under id, bypassing validation. Tests use it to plant
// inconsistent documents.
func (r *MemoryRepository) Put(id types.WorkflowID, raw []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.docs[id] = raw
	r.upd[id] = time.Now()
}
