package status

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"caliban/internal/backend"
	"caliban/internal/dispatcher"
	"caliban/internal/registry"
	"caliban/internal/registry/sqlite"
)

// stubAdapter answers Stop/Submit with canned behavior.
type stubAdapter struct {
	stopped      []string
	notStoppable map[string]bool
	submitted    int
}

func (a *stubAdapter) Validate(ctx context.Context, spec backend.JobSpec) error { return nil }

func (a *stubAdapter) Submit(ctx context.Context, spec backend.JobSpec) (backend.SubmitResult, error) {
	a.submitted++
	return backend.SubmitResult{Handle: fmt.Sprintf("resub-%d", a.submitted)}, nil
}

func (a *stubAdapter) Query(ctx context.Context, handle string) (registry.JobStatus, error) {
	return registry.StatusRunning, nil
}

func (a *stubAdapter) Stop(ctx context.Context, handle string) error {
	if a.notStoppable[handle] {
		return backend.ErrNotStoppable
	}
	a.stopped = append(a.stopped, handle)
	return nil
}

func newTestService(t *testing.T) (*Service, registry.Store, *stubAdapter, *bytes.Buffer) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("opening registry: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	adapter := &stubAdapter{notStoppable: map[string]bool{}}
	adapters := map[registry.Backend]backend.Adapter{
		registry.BackendCluster: adapter,
		registry.BackendLocal:   adapter,
	}
	out := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := &Service{
		Store:    store,
		Adapters: adapters,
		Dispatcher: &dispatcher.Dispatcher{
			Store:    store,
			Adapters: adapters,
			Logger:   logger,
			Out:      io.Discard,
		},
		Logger: logger,
		Out:    out,
	}
	return svc, store, adapter, out
}

// seedJob creates a group/container/experiment/job chain and walks the job to
// the given status.
func seedJob(t *testing.T, store registry.Store, groupName, handle string, status registry.JobStatus, kwargs []registry.KV) *registry.Job {
	t.Helper()
	ctx := context.Background()

	group, err := store.GetOrCreateGroup(ctx, groupName)
	if err != nil {
		t.Fatal(err)
	}
	container, err := store.GetOrCreateContainer(ctx, "caliban-proj:abc", registry.ModeCPU, "/proj", nil)
	if err != nil {
		t.Fatal(err)
	}
	exp, err := store.GetOrCreateExperiment(ctx, group, container, "trainer.train", nil, kwargs)
	if err != nil {
		t.Fatal(err)
	}
	job, err := store.CreateJob(ctx, exp, registry.BackendCluster, handle, nil)
	if err != nil {
		t.Fatal(err)
	}

	switch status {
	case registry.StatusRunning:
		store.UpdateJobStatus(ctx, job, registry.StatusRunning, "")
	case registry.StatusSucceeded, registry.StatusFailed, registry.StatusStopped:
		store.UpdateJobStatus(ctx, job, registry.StatusRunning, "")
		store.UpdateJobStatus(ctx, job, status, "")
	}
	return job
}

func TestStop_StopsActiveJobsOnly(t *testing.T) {
	svc, store, adapter, out := newTestService(t)
	ctx := context.Background()

	seedJob(t, store, "g", "running-1", registry.StatusRunning, []registry.KV{{Key: "lr", Value: "0.1"}})
	seedJob(t, store, "g", "done-1", registry.StatusSucceeded, []registry.KV{{Key: "lr", Value: "0.2"}})

	if err := svc.Stop(ctx, "g", false); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if len(adapter.stopped) != 1 || adapter.stopped[0] != "running-1" {
		t.Errorf("expected only the running job stopped, got %v", adapter.stopped)
	}
	if !strings.Contains(out.String(), "stopped job") {
		t.Errorf("expected stop report, got %q", out.String())
	}

	jobs, _ := store.JobsInGroupMatching(ctx, "g", func(st registry.JobStatus) bool {
		return st == registry.StatusStopped
	})
	if len(jobs) != 1 {
		t.Errorf("expected 1 job recorded STOPPED, got %d", len(jobs))
	}
}

func TestStop_DryRunChangesNothing(t *testing.T) {
	svc, store, adapter, out := newTestService(t)
	ctx := context.Background()

	seedJob(t, store, "g", "running-1", registry.StatusRunning, nil)

	if err := svc.Stop(ctx, "g", true); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(adapter.stopped) != 0 {
		t.Error("dry run must not stop jobs")
	}
	if !strings.Contains(out.String(), "would stop") {
		t.Errorf("expected dry-run report, got %q", out.String())
	}
}

func TestStop_NotStoppableReportsNoChange(t *testing.T) {
	svc, store, adapter, out := newTestService(t)
	ctx := context.Background()

	// The registry thinks the job is running but the backend already finished it.
	seedJob(t, store, "g", "finished-on-backend", registry.StatusRunning, nil)
	adapter.notStoppable["finished-on-backend"] = true

	if err := svc.Stop(ctx, "g", false); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !strings.Contains(out.String(), "no change") {
		t.Errorf("expected no-change report, got %q", out.String())
	}
}

func TestResubmit_SelectsOnlyFailedAndStopped(t *testing.T) {
	svc, store, adapter, _ := newTestService(t)
	ctx := context.Background()

	seedJob(t, store, "g", "ok-1", registry.StatusSucceeded, []registry.KV{{Key: "lr", Value: "0.1"}})
	seedJob(t, store, "g", "bad-1", registry.StatusFailed, []registry.KV{{Key: "lr", Value: "0.2"}})

	inv := dispatcher.Invocation{
		ProjectDir:    "/proj",
		Mode:          registry.ModeCPU,
		Backend:       registry.BackendCluster,
		ImageOverride: "caliban-proj:rebuilt",
	}
	if err := svc.Resubmit(ctx, inv, "g", false, false); err != nil {
		t.Fatalf("Resubmit failed: %v", err)
	}

	if adapter.submitted != 1 {
		t.Fatalf("expected 1 resubmission, got %d", adapter.submitted)
	}

	// The failed experiment now has a second job in SUBMITTED state.
	view, err := store.ListGroup(ctx, "g", 0)
	if err != nil {
		t.Fatalf("ListGroup failed: %v", err)
	}
	var failedExp *registry.ExperimentJobs
	for i := range view.Experiments {
		for _, job := range view.Experiments[i].Jobs {
			if job.BackendHandle == "bad-1" {
				failedExp = &view.Experiments[i]
			}
		}
	}
	if failedExp == nil || len(failedExp.Jobs) != 2 {
		t.Fatalf("expected the failed experiment to gain a job")
	}
	newest := failedExp.Jobs[len(failedExp.Jobs)-1]
	if newest.Status != registry.StatusSubmitted {
		t.Errorf("expected resubmitted job in SUBMITTED state, got %s", newest.Status)
	}
}

func TestResubmit_AllJobs(t *testing.T) {
	svc, store, adapter, _ := newTestService(t)
	ctx := context.Background()

	seedJob(t, store, "g", "ok-1", registry.StatusSucceeded, []registry.KV{{Key: "lr", Value: "0.1"}})
	seedJob(t, store, "g", "bad-1", registry.StatusFailed, []registry.KV{{Key: "lr", Value: "0.2"}})

	inv := dispatcher.Invocation{
		Backend:       registry.BackendCluster,
		ImageOverride: "caliban-proj:rebuilt",
	}
	if err := svc.Resubmit(ctx, inv, "g", false, true); err != nil {
		t.Fatalf("Resubmit failed: %v", err)
	}
	if adapter.submitted != 2 {
		t.Errorf("expected both experiments resubmitted, got %d", adapter.submitted)
	}
}

func TestResubmit_DryRun(t *testing.T) {
	svc, store, adapter, out := newTestService(t)
	ctx := context.Background()

	seedJob(t, store, "g", "bad-1", registry.StatusFailed, nil)

	inv := dispatcher.Invocation{Backend: registry.BackendCluster, ImageOverride: "img"}
	if err := svc.Resubmit(ctx, inv, "g", true, false); err != nil {
		t.Fatalf("Resubmit failed: %v", err)
	}
	if adapter.submitted != 0 {
		t.Error("dry run must not submit")
	}
	if !strings.Contains(out.String(), "would resubmit") {
		t.Errorf("expected dry-run report, got %q", out.String())
	}
}

func TestRecentAndGroupRender(t *testing.T) {
	svc, store, _, out := newTestService(t)
	ctx := context.Background()

	seedJob(t, store, "g", "j-1", registry.StatusSucceeded, []registry.KV{{Key: "lr", Value: "0.1"}})
	seedJob(t, store, "g", "j-2", registry.StatusFailed, []registry.KV{{Key: "lr", Value: "0.2"}})

	if err := svc.Recent(ctx, 10); err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if !strings.Contains(out.String(), "j-1") || !strings.Contains(out.String(), "j-2") {
		t.Errorf("expected both jobs in recent output, got:\n%s", out.String())
	}

	out.Reset()
	if err := svc.Group(ctx, "g", 0); err != nil {
		t.Fatalf("Group failed: %v", err)
	}
	if !strings.Contains(out.String(), "trainer.train") {
		t.Errorf("expected module spec in group output, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "--lr 0.1") {
		t.Errorf("expected args in group output, got:\n%s", out.String())
	}
}
