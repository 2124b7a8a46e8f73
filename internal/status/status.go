// Package status serves read-only registry views and drives the stop and
// resubmit flows.
package status

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"caliban/internal/backend"
	"caliban/internal/dispatcher"
	"caliban/internal/observability"
	"caliban/internal/registry"
)

// Service answers status queries over the registry and consults the backend
// adapters for stop and resubmit.
type Service struct {
	Store      registry.Store
	Adapters   map[registry.Backend]backend.Adapter
	Dispatcher *dispatcher.Dispatcher
	Logger     *slog.Logger
	Out        io.Writer
}

// Recent prints the most recent n jobs across groups, grouped by group, then
// container, then experiment.
func (s *Service) Recent(ctx context.Context, n int) error {
	jobs, err := s.Store.ListRecentJobs(ctx, n)
	if err != nil {
		return err
	}

	rows := make([]jobRow, 0, len(jobs))
	for _, job := range jobs {
		row, err := s.resolveJob(ctx, job)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Group != b.Group {
			return a.Group < b.Group
		}
		if a.Image != b.Image {
			return a.Image < b.Image
		}
		return a.Experiment.ID < b.Experiment.ID
	})
	renderJobs(s.Out, rows)
	return nil
}

// Group prints the jobs in a named group, grouped by experiment.
func (s *Service) Group(ctx context.Context, name string, maxPerExperiment int) error {
	view, err := s.Store.ListGroup(ctx, name, maxPerExperiment)
	if err != nil {
		return err
	}
	renderGroup(s.Out, view)
	return nil
}

// activeStatus selects jobs that a stop request can still affect.
func activeStatus(st registry.JobStatus) bool {
	return st == registry.StatusSubmitted || st == registry.StatusRunning
}

// Stop cancels every SUBMITTED or RUNNING job in the group. Jobs the backend
// can no longer stop are reported as unchanged. The registry records STOPPED
// with the terminal observation pending backend confirmation.
func (s *Service) Stop(ctx context.Context, groupName string, dryRun bool) error {
	jobs, err := s.Store.JobsInGroupMatching(ctx, groupName, activeStatus)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Fprintf(s.Out, "no running jobs in group %s\n", groupName)
		return nil
	}

	for i := range jobs {
		job := &jobs[i]
		if dryRun {
			fmt.Fprintf(s.Out, "would stop job %d (%s %s)\n", job.ID, job.Backend, job.BackendHandle)
			continue
		}

		adapter, ok := s.Adapters[job.Backend]
		if !ok {
			return fmt.Errorf("no adapter for backend %s", job.Backend)
		}

		if err := adapter.Stop(ctx, job.BackendHandle); err != nil {
			if err == backend.ErrNotStoppable {
				fmt.Fprintf(s.Out, "job %d already finished: no change\n", job.ID)
				continue
			}
			s.Logger.Error("stop failed", "job", job.ID, "handle", job.BackendHandle, "error", err)
			continue
		}

		if err := s.Store.UpdateJobStatus(ctx, job, registry.StatusStopped, "stop requested"); err != nil {
			return err
		}
		observability.JobsStopped.Add(ctx, 1)
		fmt.Fprintf(s.Out, "stopped job %d (%s %s)\n", job.ID, job.Backend, job.BackendHandle)
	}
	return nil
}

// Resubmit re-enters the dispatcher for experiments in the group. By default
// only experiments whose latest job is FAILED or STOPPED are selected;
// allJobs selects every experiment. The image is rebuilt unless the
// invocation carries an explicit override, so code changes are captured.
func (s *Service) Resubmit(ctx context.Context, inv dispatcher.Invocation, groupName string, dryRun, allJobs bool) error {
	view, err := s.Store.ListGroup(ctx, groupName, 0)
	if err != nil {
		return err
	}

	var selected []*registry.Experiment
	for i := range view.Experiments {
		ej := &view.Experiments[i]
		if len(ej.Jobs) == 0 {
			continue
		}
		latest := ej.Jobs[len(ej.Jobs)-1]
		if allJobs || latest.Status == registry.StatusFailed || latest.Status == registry.StatusStopped {
			exp := ej.Experiment
			selected = append(selected, &exp)
		}
	}

	if len(selected) == 0 {
		fmt.Fprintf(s.Out, "nothing to resubmit in group %s\n", groupName)
		return nil
	}

	if dryRun {
		for _, exp := range selected {
			fmt.Fprintf(s.Out, "would resubmit experiment %d: %s %v\n",
				exp.ID, exp.ModuleSpec, dispatcher.ArgvFromExperiment(exp))
		}
		return nil
	}

	inv.GroupName = groupName
	_, err = s.Dispatcher.ResubmitExperiments(ctx, inv, selected)
	return err
}

// jobRow is the flattened render model for one job.
type jobRow struct {
	Group      string
	Image      string
	Experiment registry.Experiment
	Job        registry.Job
}

func (s *Service) resolveJob(ctx context.Context, job registry.Job) (jobRow, error) {
	exp, err := s.Store.ExperimentByID(ctx, job.ExperimentID)
	if err != nil {
		return jobRow{}, err
	}
	container, err := s.Store.ContainerByID(ctx, exp.ContainerID)
	if err != nil {
		return jobRow{}, err
	}
	group, err := s.Store.GroupByID(ctx, exp.GroupID)
	if err != nil {
		return jobRow{}, err
	}
	return jobRow{
		Group:      group.Name,
		Image:      container.ImageReference,
		Experiment: *exp,
		Job:        job,
	}, nil
}
