package sqlite

import (
	"context"
	"database/sql"

	"caliban/internal/calerr"
	"caliban/internal/registry"
)

// ListGroup returns the grouped view for a named group: experiments in id
// order, each with its jobs in creation order. maxPerExperiment <= 0 means
// all jobs; otherwise the newest maxPerExperiment jobs are kept.
func (s *Store) ListGroup(ctx context.Context, name string, maxPerExperiment int) (*registry.GroupView, error) {
	var group registry.ExperimentGroup
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM experiment_groups WHERE name = ?`, name).
		Scan(&group.ID, &group.Name, &group.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, &calerr.RegistryError{Op: "list_group", Cause: sql.ErrNoRows}
	}
	if err != nil {
		return nil, &calerr.RegistryError{Op: "list_group", Cause: err}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, container_id, module_spec, args, kwargs, created_at
		 FROM experiments WHERE group_id = ? ORDER BY id`, group.ID)
	if err != nil {
		return nil, &calerr.RegistryError{Op: "list_group", Cause: err}
	}

	// Drain the result set before the per-experiment queries: the store runs
	// on a single connection.
	var exps []registry.Experiment
	for rows.Next() {
		var exp registry.Experiment
		if err := scanExperiment(rows, &exp); err != nil {
			rows.Close()
			return nil, err
		}
		exps = append(exps, exp)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &calerr.RegistryError{Op: "list_group", Cause: err}
	}
	rows.Close()

	view := &registry.GroupView{Group: group}
	for _, exp := range exps {
		container, err := s.ContainerByID(ctx, exp.ContainerID)
		if err != nil {
			return nil, &calerr.RegistryError{Op: "list_group", Cause: err}
		}
		jobs, err := s.jobsForExperiment(ctx, exp.ID, maxPerExperiment)
		if err != nil {
			return nil, err
		}
		view.Experiments = append(view.Experiments, registry.ExperimentJobs{
			Experiment: exp,
			Container:  *container,
			Jobs:       jobs,
		})
	}
	return view, nil
}

func (s *Store) jobsForExperiment(ctx context.Context, expID int64, max int) ([]registry.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, experiment_id, backend, backend_handle, details, status, created_at
		 FROM jobs WHERE experiment_id = ? ORDER BY created_at, id`, expID)
	if err != nil {
		return nil, &calerr.RegistryError{Op: "jobs_for_experiment", Cause: err}
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	if max > 0 && len(jobs) > max {
		jobs = jobs[len(jobs)-max:]
	}
	return jobs, nil
}

// JobsInGroupMatching returns the jobs in the group whose current status
// satisfies pred, in creation order.
func (s *Store) JobsInGroupMatching(ctx context.Context, name string, pred func(registry.JobStatus) bool) ([]registry.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT j.id, j.experiment_id, j.backend, j.backend_handle, j.details, j.status, j.created_at
		 FROM jobs j
		 JOIN experiments e ON e.id = j.experiment_id
		 JOIN experiment_groups g ON g.id = e.group_id
		 WHERE g.name = ? ORDER BY j.created_at, j.id`, name)
	if err != nil {
		return nil, &calerr.RegistryError{Op: "jobs_in_group_matching", Cause: err}
	}
	defer rows.Close()

	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	var matched []registry.Job
	for _, job := range jobs {
		if pred(job.Status) {
			matched = append(matched, job)
		}
	}
	return matched, nil
}
