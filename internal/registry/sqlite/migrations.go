package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations is the ordered, append-only list of schema steps. Schema
// evolution is by additive columns with defaults; steps are never edited
// after release.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS experiment_groups (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS containers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		image_reference TEXT NOT NULL UNIQUE,
		mode TEXT NOT NULL,
		build_context_path TEXT NOT NULL,
		extra_dirs TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS experiments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		group_id INTEGER NOT NULL REFERENCES experiment_groups(id),
		container_id INTEGER NOT NULL REFERENCES containers(id),
		module_spec TEXT NOT NULL,
		args TEXT NOT NULL,
		kwargs TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (group_id, container_id, module_spec, args, kwargs)
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		experiment_id INTEGER NOT NULL REFERENCES experiments(id),
		backend TEXT NOT NULL,
		backend_handle TEXT NOT NULL,
		details TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		UNIQUE (backend, backend_handle)
	)`,
	`CREATE TABLE IF NOT EXISTS job_status_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id INTEGER NOT NULL REFERENCES jobs(id),
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		observed_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_history_job ON job_status_history(job_id, observed_at)`,
}

// migrate applies pending schema steps inside a single transaction, tracking
// the applied version in schema_version.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("creating schema_version: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&version)
	if err == sql.ErrNoRows {
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return err
		}
		version = 0
	} else if err != nil {
		return err
	}

	for i := version; i < len(migrations); i++ {
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `UPDATE schema_version SET version = ?`, len(migrations)); err != nil {
		return err
	}

	return tx.Commit()
}
