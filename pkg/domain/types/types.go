// Package types defines core domain identifiers for flowgraph.
package types

import (
	"bytes"
	"encoding/json"

	"github.com/google/uuid"
)

// WorkflowID is a unique identifier for a persisted workflow.
// The zero value means the workflow has never been saved and marshals as JSON null.
type WorkflowID string

// NodeID is a unique identifier for a node within a workflow.
type NodeID string

// EdgeID is a unique identifier for an edge within a workflow.
type EdgeID string

// RunID is a unique identifier for a single orchestrator run.
type RunID string

// NewWorkflowID generates a new unique workflow ID.
func NewWorkflowID() WorkflowID {
	return WorkflowID(uuid.NewString())
}

// NewEdgeID generates a new unique edge ID.
func NewEdgeID() EdgeID {
	return EdgeID("edge_" + uuid.NewString())
}

// NewRunID generates a new unique run ID.
func NewRunID() RunID {
	return RunID(uuid.NewString())
}

// String returns the string representation of a WorkflowID.
func (id WorkflowID) String() string {
	return string(id)
}

// IsZero reports whether the workflow has no ID yet.
func (id WorkflowID) IsZero() bool {
	return id == ""
}

// MarshalJSON encodes the zero ID as null.
func (id WorkflowID) MarshalJSON() ([]byte, error) {
	if id.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(string(id))
}

// UnmarshalJSON accepts a string or null.
func (id *WorkflowID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*id = WorkflowID(s)
	return nil
}

// String returns the string representation of a NodeID.
func (id NodeID) String() string {
	return string(id)
}

// String returns the string representation of an EdgeID.
func (id EdgeID) String() string {
	return string(id)
}

// String returns the string representation of a RunID.
func (id RunID) String() string {
	return string(id)
}
