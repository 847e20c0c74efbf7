package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/flowgraph/internal/ctxlog"
	"github.com/dshills/flowgraph/pkg/domain/types"
	"github.com/dshills/flowgraph/pkg/validation"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// FilesystemWorkflowRepository implements workflow.Repository with one JSON
// document per workflow under <baseDir>/workflows.
type FilesystemWorkflowRepository struct {
	dir   string
	paths *validation.PathValidator
}

// NewFilesystemWorkflowRepository creates the workflows directory under
// baseDir if needed.
func NewFilesystemWorkflowRepository(baseDir string) (*FilesystemWorkflowRepository, error) {
	dir := filepath.Join(baseDir, "workflows")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workflows directory: %w", err)
	}
	paths, err := validation.NewPathValidator(dir)
	if err != nil {
		return nil, err
	}
	return &FilesystemWorkflowRepository{dir: paths.Base(), paths: paths}, nil
}

// Save writes w atomically through a temp file and rename.
func (r *FilesystemWorkflowRepository) Save(ctx context.Context, w *workflow.Workflow) error {
	if w == nil {
		return fmt.Errorf("cannot save nil workflow")
	}
	path, err := r.path(w.ID)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := workflow.MarshalIndent(w)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	tmp, err := os.CreateTemp(r.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write workflow file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write workflow file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save workflow file: %w", err)
	}

	ctxlog.FromContext(ctx).Debug("workflow saved", "workflow_id", w.ID, "path", path)
	return nil
}

// Load reads and schema-checks the document stored under id.
func (r *FilesystemWorkflowRepository) Load(ctx context.Context, id types.WorkflowID) (*workflow.Workflow, error) {
	path, err := r.path(id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", workflow.ErrWorkflowNotFound, id)
		}
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return decodeWorkflow(data)
}

// Delete removes the document stored under id.
func (r *FilesystemWorkflowRepository) Delete(_ context.Context, id types.WorkflowID) error {
	path, err := r.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", workflow.ErrWorkflowNotFound, id)
		}
		return fmt.Errorf("failed to delete workflow file: %w", err)
	}
	return nil
}

// List summarizes every readable document, most recently updated first.
// Unreadable files are logged and skipped.
func (r *FilesystemWorkflowRepository) List(ctx context.Context) ([]workflow.Summary, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	logger := ctxlog.FromContext(ctx)
	out := make([]workflow.Summary, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := types.WorkflowID(strings.TrimSuffix(entry.Name(), ".json"))
		w, err := r.Load(ctx, id)
		if err != nil {
			logger.Warn("skipping unreadable workflow", "file", entry.Name(), "error", err)
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, summarize(w, info.ModTime()))
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *FilesystemWorkflowRepository) path(id types.WorkflowID) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}
	return r.paths.Validate(id.String() + ".json")
}
