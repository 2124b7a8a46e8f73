// Package backend contains the per-backend submission adapters.
package backend

import (
	"context"
	"errors"

	"caliban/internal/registry"
)

// ErrNotStoppable is returned by Stop when the backend cannot cancel the job
// (already terminal, or the backend has no record of it).
var ErrNotStoppable = errors.New("job is not stoppable")

// AcceleratorSpec names an attached accelerator and how many of it.
type AcceleratorSpec struct {
	Type  string
	Count int
}

// JobSpec is the normalized submission request every adapter translates into
// backend-specific form.
type JobSpec struct {
	Image      string
	Entrypoint []string
	Args       []string
	Mode       registry.Mode

	// JobName seeds backend-visible job names.
	JobName string

	// Cloud and cluster options.
	Region      string
	MachineType string
	Accelerator AcceleratorSpec
	Preemptible bool
	Labels      map[string]string
}

// SubmitResult carries the backend-assigned handle plus structured metadata
// recorded on the job row.
type SubmitResult struct {
	Handle  string
	Details map[string]string
}

// Adapter is the common backend contract: client-side validation, blocking
// submission, status query, and cancellation.
type Adapter interface {
	Validate(ctx context.Context, spec JobSpec) error
	Submit(ctx context.Context, spec JobSpec) (SubmitResult, error)
	Query(ctx context.Context, handle string) (registry.JobStatus, error)
	Stop(ctx context.Context, handle string) error
}
