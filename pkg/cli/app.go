package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/flowgraph/internal/ctxlog"
	"github.com/dshills/flowgraph/pkg/domain/types"
	"github.com/dshills/flowgraph/pkg/execution"
	"github.com/dshills/flowgraph/pkg/executors"
	"github.com/dshills/flowgraph/pkg/storage"
	"github.com/dshills/flowgraph/pkg/store"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// databaseFile holds run history, and workflow documents when storage is sqlite.
const databaseFile = "flowgraph.db"

// app bundles what a command needs: configuration, repositories and the
// credential store. Commands open one per invocation and close it on return.
type app struct {
	dir    string
	cfg    *Config
	logger *slog.Logger

	workflows workflow.Repository
	runs      *storage.SQLiteRepository
	creds     storage.CredentialStore
}

func openApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()
	dir, cfg := configFrom(ctx)
	logger := ctxlog.FromContext(ctx)

	db, err := storage.NewSQLiteRepository(ctx, filepath.Join(dir, databaseFile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	a := &app{
		dir:    dir,
		cfg:    cfg,
		logger: logger,
		runs:   db,
		creds:  storage.NewKeyringCredentialStore(logger),
	}
	switch cfg.Storage {
	case StorageFilesystem:
		repo, err := storage.NewFilesystemWorkflowRepository(dir)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.workflows = repo
	default:
		a.workflows = db
	}
	logger.Debug("storage opened", "dir", dir, "storage", cfg.Storage)
	return a, nil
}

func (a *app) Close() error {
	return a.runs.Close()
}

// registry returns the built-in executors configured from config.yaml.
func (a *app) registry() (*execution.Registry, error) {
	reg := execution.NewRegistry()
	err := executors.RegisterBuiltins(reg, executors.WithOpenAI(
		executors.WithModel(a.cfg.OpenAI.Model),
		executors.WithBaseURL(a.cfg.OpenAI.BaseURL),
		executors.WithSecrets(a.creds),
	))
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// engine builds an engine over the built-in registry. Middleware and the run
// recorder come from config; opts are applied last.
func (a *app) engine(opts ...execution.Option) (*execution.Engine, error) {
	reg, err := a.registry()
	if err != nil {
		return nil, err
	}

	mws := []execution.Middleware{}
	if a.cfg.Retry.MaxAttempts > 1 {
		policy := execution.DefaultRetryPolicy()
		policy.MaxAttempts = a.cfg.Retry.MaxAttempts
		policy.InitialDelay = a.cfg.Retry.InitialDelay
		mws = append(mws, execution.WithRetry(policy))
	}
	// Timeout sits inside retry so each attempt gets the full budget.
	mws = append(mws, execution.WithTimeout(a.cfg.NodeTimeout))

	base := []execution.Option{
		execution.WithLogger(a.logger),
		execution.WithMaxConcurrency(a.cfg.MaxConcurrency),
		execution.WithMiddleware(mws...),
		execution.WithRunRecorder(a.runs),
	}
	return execution.NewEngine(reg, append(base, opts...)...), nil
}

func (a *app) newStore() *store.Store {
	return store.New(store.WithLogger(a.logger), store.WithHistorySize(a.cfg.HistorySize))
}

// resolveID accepts a workflow ID or a unique workflow name.
func (a *app) resolveID(ctx context.Context, ref string) (types.WorkflowID, error) {
	if ref == "" {
		return "", fmt.Errorf("workflow ID or name is required")
	}
	summaries, err := a.workflows.List(ctx)
	if err != nil {
		return "", err
	}

	var byName []types.WorkflowID
	for _, s := range summaries {
		if string(s.ID) == ref {
			return s.ID, nil
		}
		if s.Name == ref {
			byName = append(byName, s.ID)
		}
	}
	switch len(byName) {
	case 0:
		return "", fmt.Errorf("%w: %s", workflow.ErrWorkflowNotFound, ref)
	case 1:
		return byName[0], nil
	default:
		ids := make([]string, len(byName))
		for i, id := range byName {
			ids[i] = string(id)
		}
		return "", fmt.Errorf("workflow name %q is ambiguous, use one of: %s", ref, strings.Join(ids, ", "))
	}
}

// loadStore resolves ref and loads it into a fresh store.
func (a *app) loadStore(ctx context.Context, ref string) (*store.Store, error) {
	id, err := a.resolveID(ctx, ref)
	if err != nil {
		return nil, err
	}
	s := a.newStore()
	if err := s.Load(ctx, a.workflows, id); err != nil {
		return nil, err
	}
	return s, nil
}

// withApp opens an app for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			a.logger.Warn("failed to close database", "error", cerr)
		}
	}()
	return fn(cmd.Context(), a)
}

func isNotFound(err error) bool {
	return errors.Is(err, workflow.ErrWorkflowNotFound)
}
