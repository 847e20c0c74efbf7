// Package storage provides the persistence collaborators: workflow documents
// on the filesystem or in SQLite, run history in SQLite, and API credentials
// in the system keyring.
package storage

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/flowgraph/pkg/domain/types"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// decodeWorkflow validates a persisted document against the workflow schema
// before decoding it.
func decodeWorkflow(data []byte) (*workflow.Workflow, error) {
	if err := workflow.ValidateDocument(data); err != nil {
		return nil, fmt.Errorf("invalid workflow document: %w", err)
	}
	var w workflow.Workflow
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to parse workflow document: %w", err)
	}
	if w.Nodes == nil {
		w.Nodes = []workflow.Node{}
	}
	if w.Edges == nil {
		w.Edges = []workflow.Edge{}
	}
	return &w, nil
}

func summarize(w *workflow.Workflow, updated time.Time) workflow.Summary {
	return workflow.Summary{
		ID:        w.ID,
		Name:      w.Name,
		Status:    w.Status,
		NodeCount: len(w.Nodes),
		UpdatedAt: updated,
	}
}

// checkID rejects IDs that could escape the storage directory.
func checkID(id types.WorkflowID) error {
	s := string(id)
	if s == "" {
		return fmt.Errorf("workflow ID cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || s == "." || s == ".." {
		return fmt.Errorf("invalid workflow ID %q", s)
	}
	return nil
}
