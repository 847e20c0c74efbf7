package execution

import (
	"time"

	"github.com/dshills/flowgraph/pkg/domain/types"
)

// NodeResult records what happened to one node during a run.
type NodeResult struct {
	NodeID      types.NodeID   `json:"nodeId"`
	NodeType    string         `json:"nodeType"`
	Status      NodeStatus     `json:"status"`
	Params      map[string]any `json:"params,omitempty"`
	Output      map[string]any `json:"output,omitempty"`
	Error       *NodeError     `json:"error,omitempty"`
	DurationMs  int64          `json:"durationMs"`
	Warnings    []string       `json:"warnings,omitempty"`
	Attempts    int            `json:"attempts,omitempty"`
	StartedAt   time.Time      `json:"startedAt,omitempty"`
	CompletedAt time.Time      `json:"completedAt,omitempty"`

	// Err keeps the original error for errors.Is/As within the process.
	Err error `json:"-"`
}

// NewNodeResult returns a pending result.
func NewNodeResult(id types.NodeID, nodeType string) *NodeResult {
	return &NodeResult{NodeID: id, NodeType: nodeType, Status: NodeStatusPending}
}

// Start marks the node as running.
func (r *NodeResult) Start(params map[string]any) {
	r.Status = NodeStatusRunning
	r.Params = params
	r.StartedAt = time.Now()
}

// Complete records the node's output.
func (r *NodeResult) Complete(output map[string]any) {
	r.finish(NodeStatusCompleted)
	if output == nil {
		output = map[string]any{}
	}
	r.Output = output
}

// Fail records err as the node's failure.
func (r *NodeResult) Fail(err error) {
	r.finish(NodeStatusFailed)
	r.Err = err
	r.Error = NewNodeError(err)
}

// Skip marks the node as not run because an upstream node did not complete.
func (r *NodeResult) Skip() {
	r.finish(NodeStatusSkipped)
}

// Cancel marks the node as not finished because the run was cancelled.
func (r *NodeResult) Cancel() {
	r.finish(NodeStatusCancelled)
	r.Output = nil
}

func (r *NodeResult) finish(status NodeStatus) {
	r.Status = status
	r.CompletedAt = time.Now()
	if !r.StartedAt.IsZero() {
		r.DurationMs = r.CompletedAt.Sub(r.StartedAt).Milliseconds()
	}
}

// RunReport is the outcome of one orchestrator run.
type RunReport struct {
	RunID         types.RunID                  `json:"runId"`
	WorkflowID    types.WorkflowID             `json:"workflowId"`
	WorkflowName  string                       `json:"workflowName"`
	PerNode       map[types.NodeID]*NodeResult `json:"perNode"`
	Order         []types.NodeID               `json:"order"`
	OverallStatus RunStatus                    `json:"overallStatus"`
	StartedAt     time.Time                    `json:"startedAt"`
	CompletedAt   time.Time                    `json:"completedAt,omitempty"`
}

// NewRunReport returns a running report with a fresh run ID.
func NewRunReport(workflowID types.WorkflowID, name string) *RunReport {
	return &RunReport{
		RunID:         types.NewRunID(),
		WorkflowID:    workflowID,
		WorkflowName:  name,
		PerNode:       make(map[types.NodeID]*NodeResult),
		Order:         []types.NodeID{},
		OverallStatus: RunStatusRunning,
		StartedAt:     time.Now(),
	}
}

// Result returns the result for id.
func (r *RunReport) Result(id types.NodeID) (*NodeResult, bool) {
	res, ok := r.PerNode[id]
	return res, ok
}

// Counts tallies node results by status.
func (r *RunReport) Counts() map[NodeStatus]int {
	out := make(map[NodeStatus]int)
	for _, res := range r.PerNode {
		out[res.Status]++
	}
	return out
}

// Finish computes the overall status and stamps the completion time.
// A run with no nodes is completed.
func (r *RunReport) Finish(cancelled bool) {
	r.CompletedAt = time.Now()
	r.OverallStatus = r.computeStatus(cancelled)
}

func (r *RunReport) computeStatus(cancelled bool) RunStatus {
	if cancelled {
		return RunStatusCancelled
	}
	completed := 0
	for _, res := range r.PerNode {
		if res.Status == NodeStatusCompleted {
			completed++
		}
	}
	switch {
	case completed == len(r.PerNode):
		return RunStatusCompleted
	case completed == 0:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}

// Duration returns the wall time of the run, zero while it is running.
func (r *RunReport) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
