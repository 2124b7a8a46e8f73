package backend

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"

	"caliban/internal/buildplan"
	"caliban/internal/calerr"
	"caliban/internal/registry"
)

// homeMount is the fixed in-container path the user's home directory is
// mounted at.
const homeMount = "/home/host"

// Local runs the built image synchronously on the host via the Docker SDK.
// Submit returns only after the container exits, so every queried status is
// terminal.
type Local struct {
	client *client.Client

	mu       sync.Mutex
	statuses map[string]registry.JobStatus
}

// NewLocal creates a Docker-backed local adapter. The client initializes from
// the standard environment variables (DOCKER_HOST, etc.).
func NewLocal() (*Local, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}
	return &Local{client: cli, statuses: map[string]registry.JobStatus{}}, nil
}

// Validate rejects GPU submissions on hosts that cannot run GPU containers.
func (l *Local) Validate(ctx context.Context, spec JobSpec) error {
	if spec.Mode == registry.ModeGPU && runtime.GOOS != "linux" {
		return &calerr.PlatformUnsupportedError{
			Mode:   string(spec.Mode),
			Reason: "GPU containers require a linux host",
		}
	}
	return nil
}

// Submit runs the container to completion. The current working directory and
// the user's home directory are mounted at fixed in-container paths. A
// non-zero exit returns RuntimeExitError along with the handle, so the caller
// can still record the job.
func (l *Local) Submit(ctx context.Context, spec JobSpec) (SubmitResult, error) {
	// Check if the image exists locally first to save time.
	if _, _, err := l.client.ImageInspectWithRaw(ctx, spec.Image); err != nil {
		reader, err := l.client.ImagePull(ctx, spec.Image, image.PullOptions{})
		if err != nil {
			return SubmitResult{}, &calerr.BackendError{
				Backend:    "local",
				Diagnostic: fmt.Sprintf("failed to pull image %s: %v", spec.Image, err),
			}
		}
		io.Copy(io.Discard, reader)
		reader.Close()
	}

	hostConfig, err := localHostConfig(spec)
	if err != nil {
		return SubmitResult{}, err
	}

	containerConfig := &container.Config{
		Image: spec.Image,
		Cmd:   spec.Args,
		Tty:   true,
	}
	created, err := l.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, "")
	if err != nil {
		return SubmitResult{}, &calerr.BackendError{Backend: "local", Diagnostic: fmt.Sprintf("failed to create container: %v", err)}
	}

	handle := created.ID[:12]
	l.setStatus(handle, registry.StatusRunning)

	if err := l.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		l.setStatus(handle, registry.StatusFailed)
		return SubmitResult{}, &calerr.BackendError{Backend: "local", Diagnostic: fmt.Sprintf("failed to start container: %v", err)}
	}

	result := SubmitResult{
		Handle:  handle,
		Details: map[string]string{"container_id": created.ID},
	}

	statusCh, errCh := l.client.ContainerWait(ctx, created.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		l.setStatus(handle, registry.StatusUnknown)
		return result, &calerr.TransientBackendError{Backend: "local", Cause: err}
	case status := <-statusCh:
		result.Details["exit_code"] = fmt.Sprintf("%d", status.StatusCode)
		if status.StatusCode == 0 {
			l.setStatus(handle, registry.StatusSucceeded)
			return result, nil
		}
		l.setStatus(handle, registry.StatusFailed)
		return result, &calerr.RuntimeExitError{Code: int(status.StatusCode)}
	case <-ctx.Done():
		l.setStatus(handle, registry.StatusStopped)
		return result, &calerr.CancelledError{}
	}
}

// Query is a degenerate read of the last observed status; local submissions
// are synchronous so the answer is already terminal.
func (l *Local) Query(ctx context.Context, handle string) (registry.JobStatus, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.statuses[handle]; ok {
		return st, nil
	}
	return registry.StatusUnknown, nil
}

// Stop terminates the running container.
func (l *Local) Stop(ctx context.Context, handle string) error {
	timeout := 5
	if err := l.client.ContainerStop(ctx, handle, container.StopOptions{Timeout: &timeout}); err != nil {
		return &calerr.BackendError{Backend: "local", BackendHandle: handle, Diagnostic: err.Error()}
	}
	l.setStatus(handle, registry.StatusStopped)
	return nil
}

func (l *Local) setStatus(handle string, st registry.JobStatus) {
	l.mu.Lock()
	l.statuses[handle] = st
	l.mu.Unlock()
}

// localHostConfig mounts the working and home directories at their fixed
// in-container paths and requests GPU devices in GPU mode.
func localHostConfig(spec JobSpec) (*container.HostConfig, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolving home directory: %w", err)
	}

	hc := &container.HostConfig{
		Binds: []string{
			cwd + ":" + buildplan.ContainerWorkdir,
			home + ":" + homeMount,
		},
	}
	if spec.Mode == registry.ModeGPU {
		hc.Resources.DeviceRequests = []container.DeviceRequest{{
			Count:        -1, // all GPUs
			Capabilities: [][]string{{"gpu"}},
		}}
	}
	return hc, nil
}
