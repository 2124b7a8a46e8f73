package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"caliban/internal/calerr"
	"caliban/internal/registry"
	"caliban/pkg/api"
)

const (
	cloudSubmitRetries = 5
	cloudRetryBase     = 2 * time.Second
)

// Cloud submits jobs to the managed training service over HTTP. Submissions
// are issued one at a time; the limiter keeps at most one request in flight
// per second so the backend's own rate limiter stays the bottleneck.
type Cloud struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client

	// Force skips client-side validation.
	Force bool

	// RetryBase is the backoff unit between rate-limited submissions.
	RetryBase time.Duration

	limiter *rate.Limiter
}

// NewCloud creates an adapter for the training service at baseURL.
func NewCloud(baseURL, token string) *Cloud {
	return &Cloud{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		RetryBase: cloudRetryBase,
		limiter:   rate.NewLimiter(rate.Limit(1), 1),
	}
}

// Validate checks the spec against the static compatibility tables.
func (c *Cloud) Validate(ctx context.Context, spec JobSpec) error {
	if c.Force {
		return nil
	}
	return validateCloudSpec(spec)
}

// Submit posts the training request, retrying rate-limit responses with
// bounded backoff. The returned handle is the backend-assigned job id.
func (c *Cloud) Submit(ctx context.Context, spec JobSpec) (SubmitResult, error) {
	req := api.SubmitTrainingRequest{
		JobName:     spec.JobName,
		Image:       spec.Image,
		Args:        spec.Args,
		Region:      spec.Region,
		MachineType: spec.MachineType,
		Preemptible: spec.Preemptible,
		Labels:      spec.Labels,
	}
	if spec.Accelerator.Type != "" {
		req.Accelerator = &api.AcceleratorConfig{
			Type:  spec.Accelerator.Type,
			Count: spec.Accelerator.Count,
		}
	}

	var lastErr error
	for attempt := 0; attempt < cloudSubmitRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return SubmitResult{}, &calerr.CancelledError{}
		}

		resp, err := c.post(ctx, "/v1/jobs", req)
		if err != nil {
			lastErr = err
			if _, transient := err.(*calerr.TransientBackendError); !transient {
				return SubmitResult{}, err
			}
			if !sleepBackoff(ctx, c.RetryBase, attempt) {
				return SubmitResult{}, &calerr.CancelledError{}
			}
			continue
		}

		return SubmitResult{
			Handle: resp.JobID,
			Details: map[string]string{
				"url":    resp.JobURL,
				"region": spec.Region,
			},
		}, nil
	}
	return SubmitResult{}, lastErr
}

// Query maps the service's job state onto the normalized status vocabulary.
func (c *Cloud) Query(ctx context.Context, handle string) (registry.JobStatus, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/v1/jobs/%s", c.BaseURL, handle), nil)
	if err != nil {
		return registry.StatusUnknown, err
	}
	c.addHeaders(httpReq)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return registry.StatusUnknown, &calerr.TransientBackendError{Backend: "cloud", Cause: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return registry.StatusUnknown, &calerr.BackendError{
			Backend:       "cloud",
			BackendHandle: handle,
			Diagnostic:    string(respBody),
		}
	}

	var job api.TrainingJobResponse
	if err := json.Unmarshal(respBody, &job); err != nil {
		return registry.StatusUnknown, fmt.Errorf("failed to parse response: %w", err)
	}

	switch job.State {
	case api.TrainingStateQueued, api.TrainingStatePreparing:
		return registry.StatusSubmitted, nil
	case api.TrainingStateRunning:
		return registry.StatusRunning, nil
	case api.TrainingStateSucceeded:
		return registry.StatusSucceeded, nil
	case api.TrainingStateFailed:
		return registry.StatusFailed, nil
	case api.TrainingStateCancelled:
		return registry.StatusStopped, nil
	}
	return registry.StatusUnknown, nil
}

// Stop requests cancellation; the observable state change is asynchronous.
func (c *Cloud) Stop(ctx context.Context, handle string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/v1/jobs/%s/cancel", c.BaseURL, handle), nil)
	if err != nil {
		return err
	}
	c.addHeaders(httpReq)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return &calerr.TransientBackendError{Backend: "cloud", Cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
		return nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusNotFound:
		return ErrNotStoppable
	}
	respBody, _ := io.ReadAll(resp.Body)
	return &calerr.BackendError{Backend: "cloud", BackendHandle: handle, Diagnostic: string(respBody)}
}

func (c *Cloud) post(ctx context.Context, path string, body any) (*api.SubmitTrainingResponse, error) {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.addHeaders(httpReq)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &calerr.CancelledError{}
		}
		return nil, &calerr.TransientBackendError{Backend: "cloud", Cause: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		var result api.SubmitTrainingResponse
		if err := json.Unmarshal(respBody, &result); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		return &result, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return nil, &calerr.TransientBackendError{
			Backend: "cloud",
			Cause:   fmt.Errorf("status %d: %s", resp.StatusCode, respBody),
		}
	}
	return nil, &calerr.BackendError{Backend: "cloud", Diagnostic: string(respBody)}
}

func (c *Cloud) addHeaders(req *http.Request) {
	req.Header.Add("Authorization", fmt.Sprintf("Bearer %s", c.Token))
	req.Header.Add("Content-Type", "application/json")
}

// sleepBackoff sleeps 2^attempt * base, returning false if ctx ends first.
func sleepBackoff(ctx context.Context, base time.Duration, attempt int) bool {
	select {
	case <-time.After(base << attempt):
		return true
	case <-ctx.Done():
		return false
	}
}
