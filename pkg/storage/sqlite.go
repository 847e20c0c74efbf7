package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	domain "github.com/dshills/flowgraph/pkg/domain/execution"
	"github.com/dshills/flowgraph/pkg/domain/types"
	"github.com/dshills/flowgraph/pkg/workflow"
)

// SQLiteRepository stores workflow documents and run history in one SQLite
// database. It implements workflow.Repository and execution.RunRepository.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at dbPath and migrates
// its schema.
func NewSQLiteRepository(ctx context.Context, dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := InitializeDatabase(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

// Close closes the database connection.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// Save inserts or replaces the document stored under w.ID.
func (r *SQLiteRepository) Save(ctx context.Context, w *workflow.Workflow) error {
	if w == nil {
		return fmt.Errorf("cannot save nil workflow")
	}
	if err := checkID(w.ID); err != nil {
		return err
	}

	doc, err := json.Marshal(w)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow: %w", err)
	}

	now := time.Now().UTC()
	const query = `
		INSERT INTO workflows (id, name, status, node_count, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			node_count = excluded.node_count,
			document = excluded.document,
			updated_at = excluded.updated_at`
	if _, err := r.db.ExecContext(ctx, query,
		string(w.ID), w.Name, string(w.Status), len(w.Nodes), string(doc), now, now,
	); err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}
	return nil
}

// Load returns the document stored under id.
func (r *SQLiteRepository) Load(ctx context.Context, id types.WorkflowID) (*workflow.Workflow, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}

	var doc string
	err := r.db.QueryRowContext(ctx, "SELECT document FROM workflows WHERE id = ?", string(id)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", workflow.ErrWorkflowNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}
	return decodeWorkflow([]byte(doc))
}

// Delete removes the document stored under id. Run history is kept.
func (r *SQLiteRepository) Delete(ctx context.Context, id types.WorkflowID) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = ?", string(id))
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", workflow.ErrWorkflowNotFound, id)
	}
	return nil
}

// List summarizes every stored workflow, most recently updated first.
func (r *SQLiteRepository) List(ctx context.Context) ([]workflow.Summary, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, status, node_count, updated_at FROM workflows ORDER BY updated_at DESC, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []workflow.Summary{}
	for rows.Next() {
		var (
			s      workflow.Summary
			id     string
			status string
		)
		if err := rows.Scan(&id, &s.Name, &status, &s.NodeCount, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}
		s.ID = types.WorkflowID(id)
		s.Status = workflow.PublicationStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveRun stores a finished report with one row per node result.
func (r *SQLiteRepository) SaveRun(ctx context.Context, report *domain.RunReport) error {
	if report == nil {
		return fmt.Errorf("cannot save nil run report")
	}
	doc, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal run report: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var completedAt sql.NullTime
	if !report.CompletedAt.IsZero() {
		completedAt = sql.NullTime{Time: report.CompletedAt.UTC(), Valid: true}
	}

	const runQuery = `
		INSERT OR REPLACE INTO runs (
			id, workflow_id, workflow_name, status, node_count, started_at, completed_at, duration_ms, report
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, runQuery,
		string(report.RunID), string(report.WorkflowID), report.WorkflowName, string(report.OverallStatus),
		len(report.PerNode), report.StartedAt.UTC(), completedAt, report.Duration().Milliseconds(), string(doc),
	); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM node_results WHERE run_id = ?", string(report.RunID)); err != nil {
		return fmt.Errorf("failed to clear node results: %w", err)
	}
	const nodeQuery = `
		INSERT INTO node_results (run_id, node_id, node_type, status, error_kind, error_message, duration_ms, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	for _, id := range report.Order {
		res, ok := report.PerNode[id]
		if !ok {
			continue
		}
		var kind, message sql.NullString
		if res.Error != nil {
			kind = sql.NullString{String: string(res.Error.Kind), Valid: true}
			message = sql.NullString{String: res.Error.Message, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, nodeQuery,
			string(report.RunID), string(id), res.NodeType, string(res.Status), kind, message, res.DurationMs, res.Attempts,
		); err != nil {
			return fmt.Errorf("failed to save node result %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// LoadRun returns the stored report for id.
func (r *SQLiteRepository) LoadRun(ctx context.Context, id types.RunID) (*domain.RunReport, error) {
	var doc string
	err := r.db.QueryRowContext(ctx, "SELECT report FROM runs WHERE id = ?", string(id)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}

	var report domain.RunReport
	if err := json.Unmarshal([]byte(doc), &report); err != nil {
		return nil, fmt.Errorf("failed to parse run report: %w", err)
	}
	return &report, nil
}

// ListRuns returns run summaries, newest first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, workflowID types.WorkflowID, limit int) ([]domain.RunSummary, error) {
	query := "SELECT id, workflow_id, workflow_name, status, node_count, started_at, duration_ms FROM runs"
	var args []any
	if !workflowID.IsZero() {
		query += " WHERE workflow_id = ?"
		args = append(args, string(workflowID))
	}
	query += " ORDER BY started_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []domain.RunSummary{}
	for rows.Next() {
		var (
			s                   domain.RunSummary
			runID, wfID, status string
		)
		if err := rows.Scan(&runID, &wfID, &s.WorkflowName, &status, &s.NodeCount, &s.StartedAt, &s.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		s.RunID = types.RunID(runID)
		s.WorkflowID = types.WorkflowID(wfID)
		s.OverallStatus = domain.RunStatus(status)
		out = append(out, s)
	}
	return out, rows.Err()
}

// NodeFailures counts failed node results per node type across all runs.
func (r *SQLiteRepository) NodeFailures(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT node_type, COUNT(*) FROM node_results WHERE status = ? GROUP BY node_type",
		string(domain.NodeStatusFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to count node failures: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var (
			nodeType string
			n        int
		)
		if err := rows.Scan(&nodeType, &n); err != nil {
			return nil, err
		}
		out[nodeType] = n
	}
	return out, rows.Err()
}
