package storage

import (
	"context"
	"database/sql"
	"fmt"
)

// MigrationVersion is the schema version the code expects.
const MigrationVersion = 2

// migration is one schema step, applied inside a transaction.
type migration struct {
	version    int
	statements []string
}

var migrations = []migration{
	{
		version: 1,
		statements: []string{
			`CREATE TABLE workflows (
				id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				status TEXT NOT NULL,
				node_count INTEGER NOT NULL,
				document TEXT NOT NULL,
				created_at TIMESTAMP NOT NULL,
				updated_at TIMESTAMP NOT NULL
			);`,
			"CREATE INDEX idx_workflows_updated_at ON workflows(updated_at DESC);",
		},
	},
	{
		version: 2,
		statements: []string{
			`CREATE TABLE runs (
				id TEXT PRIMARY KEY,
				workflow_id TEXT NOT NULL,
				workflow_name TEXT NOT NULL,
				status TEXT NOT NULL,
				node_count INTEGER NOT NULL,
				started_at TIMESTAMP NOT NULL,
				completed_at TIMESTAMP,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				report TEXT NOT NULL
			);`,
			"CREATE INDEX idx_runs_workflow_id ON runs(workflow_id, started_at DESC);",
			"CREATE INDEX idx_runs_started_at ON runs(started_at DESC);",
			`CREATE TABLE node_results (
				run_id TEXT NOT NULL,
				node_id TEXT NOT NULL,
				node_type TEXT NOT NULL,
				status TEXT NOT NULL,
				error_kind TEXT,
				error_message TEXT,
				duration_ms INTEGER NOT NULL DEFAULT 0,
				attempts INTEGER NOT NULL DEFAULT 0,
				PRIMARY KEY (run_id, node_id),
				FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
			);`,
			"CREATE INDEX idx_node_results_status ON node_results(status);",
		},
	},
}

// InitializeDatabase brings the schema up to MigrationVersion.
func InitializeDatabase(ctx context.Context, db *sql.DB) error {
	const migrationsTable = `
	CREATE TABLE IF NOT EXISTS migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version INTEGER NOT NULL UNIQUE,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := db.ExecContext(ctx, migrationsTable); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM migrations").Scan(&current); err != nil {
		return fmt.Errorf("failed to check migration version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", m.version, err)
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range m.statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO migrations (version) VALUES (?)", m.version); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
