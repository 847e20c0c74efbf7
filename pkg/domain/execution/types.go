// Package execution defines the run report produced by the orchestrator: per-node
// results, statuses and the overall outcome of one run.
package execution

import (
	"errors"
	"fmt"

	flowerrors "github.com/dshills/flowgraph/pkg/errors"
)

// RunStatus is the overall outcome of a run.
type RunStatus string

const (
	// RunStatusRunning marks a report that is still being filled in.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted means every node completed.
	RunStatusCompleted RunStatus = "completed"
	// RunStatusPartial means some nodes completed and some did not.
	RunStatusPartial RunStatus = "partial"
	// RunStatusFailed means no node completed.
	RunStatusFailed RunStatus = "failed"
	// RunStatusCancelled means the run was cancelled before every node finished.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run has finished.
func (s RunStatus) IsTerminal() bool {
	return s != RunStatusRunning && s != ""
}

// NodeStatus is the state of one node within a run.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	// NodeStatusSkipped means an upstream node did not complete.
	NodeStatusSkipped NodeStatus = "skipped"
	// NodeStatusCancelled means the run was cancelled before the node finished.
	NodeStatusCancelled NodeStatus = "cancelled"
)

// IsTerminal reports whether the node will not change state again.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped, NodeStatusCancelled:
		return true
	default:
		return false
	}
}

// NodeError is the serializable form of a node failure.
type NodeError struct {
	Kind    flowerrors.Kind `json:"kind"`
	Message string          `json:"message"`
	Timeout bool            `json:"timeout,omitempty"`
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// NewNodeError captures err for the report.
func NewNodeError(err error) *NodeError {
	if err == nil {
		return nil
	}
	ne := &NodeError{Kind: flowerrors.KindOf(err), Message: err.Error()}
	if ne.Kind == "" {
		ne.Kind = flowerrors.KindNodeExecution
	}
	var execErr *flowerrors.NodeExecutionError
	if errors.As(err, &execErr) {
		ne.Timeout = execErr.Timeout
	}
	return ne
}
