package execution

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/flowgraph/pkg/domain/types"
)

// ErrRunNotFound is returned when no run has the requested ID.
var ErrRunNotFound = errors.New("run not found")

// RunSummary is a row of run history.
type RunSummary struct {
	RunID         types.RunID      `json:"runId"`
	WorkflowID    types.WorkflowID `json:"workflowId"`
	WorkflowName  string           `json:"workflowName"`
	OverallStatus RunStatus        `json:"overallStatus"`
	NodeCount     int              `json:"nodeCount"`
	StartedAt     time.Time        `json:"startedAt"`
	DurationMs    int64            `json:"durationMs"`
}

// RunRepository keeps the history of finished runs.
type RunRepository interface {
	SaveRun(ctx context.Context, report *RunReport) error
	LoadRun(ctx context.Context, id types.RunID) (*RunReport, error)
	// ListRuns returns the newest runs first. An empty workflowID lists every
	// workflow; limit <= 0 means no limit.
	ListRuns(ctx context.Context, workflowID types.WorkflowID, limit int) ([]RunSummary, error)
}
