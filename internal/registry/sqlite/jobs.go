package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"caliban/internal/calerr"
	"caliban/internal/registry"
)

// CreateJob records a new submission in SUBMITTED state and appends the
// initial history event in the same transaction.
func (s *Store) CreateJob(ctx context.Context, exp *registry.Experiment, backend registry.Backend, backendHandle string, details map[string]string) (*registry.Job, error) {
	if details == nil {
		details = map[string]string{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return nil, err
	}

	job := registry.Job{
		ExperimentID:  exp.ID,
		Backend:       backend,
		BackendHandle: backendHandle,
		Details:       details,
		Status:        registry.StatusSubmitted,
		CreatedAt:     time.Now().UTC(),
	}
	err = s.withTx(ctx, "create_job", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (experiment_id, backend, backend_handle, details, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			job.ExperimentID, string(job.Backend), job.BackendHandle, string(detailsJSON), string(job.Status), job.CreatedAt)
		if err != nil {
			return err
		}
		if job.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO job_status_history (job_id, status, message, observed_at) VALUES (?, ?, '', ?)`,
			job.ID, string(job.Status), job.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// UpdateJobStatus appends an observation to the job's history and updates its
// current status. Re-observing the current status only appends history;
// transitions out of a terminal state are rejected.
func (s *Store) UpdateJobStatus(ctx context.Context, job *registry.Job, status registry.JobStatus, message string) error {
	err := s.withTx(ctx, "update_job_status", func(tx *sql.Tx) error {
		var current string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, job.ID).Scan(&current); err != nil {
			return err
		}
		cur := registry.JobStatus(current)
		if cur != status && !cur.CanTransitionTo(status) {
			return &calerr.RegistryError{
				Op:    "update_job_status",
				Cause: fmt.Errorf("illegal transition %s -> %s for job %d", cur, status, job.ID),
			}
		}

		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ? WHERE id = ?`, string(status), job.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO job_status_history (job_id, status, message, observed_at) VALUES (?, ?, ?, ?)`,
			job.ID, string(status), message, now)
		return err
	})
	if err != nil {
		return err
	}
	job.Status = status
	return nil
}

// JobHistory returns the append-only status history for a job, oldest first.
func (s *Store) JobHistory(ctx context.Context, jobID int64) ([]registry.StatusEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, status, message, observed_at FROM job_status_history
		 WHERE job_id = ? ORDER BY observed_at, id`, jobID)
	if err != nil {
		return nil, &calerr.RegistryError{Op: "job_history", Cause: err}
	}
	defer rows.Close()

	var events []registry.StatusEvent
	for rows.Next() {
		var ev registry.StatusEvent
		var status string
		if err := rows.Scan(&ev.JobID, &status, &ev.Message, &ev.ObservedAt); err != nil {
			return nil, err
		}
		ev.Status = registry.JobStatus(status)
		events = append(events, ev)
	}
	return events, rows.Err()
}

// ListRecentJobs returns the newest limit jobs across all groups, newest
// first; ties on created_at break by id.
func (s *Store) ListRecentJobs(ctx context.Context, limit int) ([]registry.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment_id, backend, backend_handle, details, status, created_at
		 FROM jobs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, &calerr.RegistryError{Op: "list_recent_jobs", Cause: err}
	}
	defer rows.Close()
	return collectJobs(rows)
}

func collectJobs(rows *sql.Rows) ([]registry.Job, error) {
	var jobs []registry.Job
	for rows.Next() {
		var job registry.Job
		var backend, detailsJSON, status string
		if err := rows.Scan(&job.ID, &job.ExperimentID, &backend, &job.BackendHandle, &detailsJSON, &status, &job.CreatedAt); err != nil {
			return nil, err
		}
		job.Backend = registry.Backend(backend)
		job.Status = registry.JobStatus(status)
		if err := json.Unmarshal([]byte(detailsJSON), &job.Details); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
