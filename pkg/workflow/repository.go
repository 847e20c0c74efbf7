package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/dshills/flowgraph/pkg/domain/types"
)

// ErrWorkflowNotFound is returned by a repository when no document has the requested ID.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Summary is a list entry returned by Repository.List.
type Summary struct {
	ID        types.WorkflowID  `json:"id"`
	Name      string            `json:"name"`
	Status    PublicationStatus `json:"status"`
	NodeCount int               `json:"nodeCount"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Repository persists whole workflow documents. Save must be given a workflow
// with a non-empty ID.
type Repository interface {
	Save(ctx context.Context, w *Workflow) error
	Load(ctx context.Context, id types.WorkflowID) (*Workflow, error)
	Delete(ctx context.Context, id types.WorkflowID) error
	List(ctx context.Context) ([]Summary, error)
}
