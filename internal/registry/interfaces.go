package registry

import "context"

// Store is the transactional registry contract. Every mutation runs inside a
// transaction; a failed mutation leaves no partial writes.
type Store interface {
	// GetOrCreateGroup returns the group named name, creating it on first
	// reference. An empty name gets a generated <user>-xgroup-<timestamp> name.
	GetOrCreateGroup(ctx context.Context, name string) (*ExperimentGroup, error)

	// GetOrCreateContainer returns the container row for imageRef, creating it
	// if missing. Identity is the image reference alone.
	GetOrCreateContainer(ctx context.Context, imageRef string, mode Mode, buildContextPath string, extraDirs []string) (*Container, error)

	// GetOrCreateExperiment returns the experiment identified by
	// (group, container, moduleSpec, args, kwargs), creating it if missing.
	GetOrCreateExperiment(ctx context.Context, group *ExperimentGroup, container *Container, moduleSpec string, args []string, kwargs []KV) (*Experiment, error)

	// CreateJob records a new submission in SUBMITTED state.
	CreateJob(ctx context.Context, exp *Experiment, backend Backend, backendHandle string, details map[string]string) (*Job, error)

	// UpdateJobStatus appends an observation to the job's history and updates
	// its current status. Transitions out of a terminal state are rejected.
	UpdateJobStatus(ctx context.Context, job *Job, status JobStatus, message string) error

	// JobHistory returns the append-only status history for a job, oldest first.
	JobHistory(ctx context.Context, jobID int64) ([]StatusEvent, error)

	// ListRecentJobs returns the newest limit jobs across all groups.
	ListRecentJobs(ctx context.Context, limit int) ([]Job, error)

	// ListGroup returns the grouped view for a named group, ordered by
	// experiment id then job creation time. maxPerExperiment <= 0 means all.
	ListGroup(ctx context.Context, name string, maxPerExperiment int) (*GroupView, error)

	// JobsInGroupMatching returns the jobs in the group whose current status
	// satisfies pred, in creation order.
	JobsInGroupMatching(ctx context.Context, name string, pred func(JobStatus) bool) ([]Job, error)

	// GroupByID fetches one group row.
	GroupByID(ctx context.Context, id int64) (*ExperimentGroup, error)

	// ExperimentByID fetches one experiment row.
	ExperimentByID(ctx context.Context, id int64) (*Experiment, error)

	// ContainerByID fetches one container row.
	ContainerByID(ctx context.Context, id int64) (*Container, error)

	Close() error
}
