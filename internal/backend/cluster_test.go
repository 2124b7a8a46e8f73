package backend

import (
	"bytes"
	"context"
	"strings"
	"testing"

	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"caliban/internal/calerr"
	"caliban/internal/registry"
)

func newTestCluster(clientset *fake.Clientset) *Cluster {
	return &Cluster{
		clientset: clientset,
		config: withClusterDefaults(ClusterConfig{
			Namespace: "test-ns",
		}),
	}
}

func clusterSpec() JobSpec {
	return JobSpec{
		Image:       "caliban-proj:abc",
		Entrypoint:  []string{"python", "-m", "trainer.train"},
		Args:        []string{"--epochs", "2"},
		JobName:     "My.Sweep",
		Accelerator: AcceleratorSpec{Type: "NVIDIA_TESLA_T4", Count: 1},
		Labels:      map[string]string{"experiment.group": "sweep1"},
	}
}

func TestClusterSubmit_CreatesJob(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	c := newTestCluster(clientset)

	ctx := context.Background()
	result, err := c.Submit(ctx, clusterSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	jobs, err := clientset.BatchV1().Jobs("test-ns").List(ctx, metav1.ListOptions{})
	if err != nil {
		t.Fatalf("failed to list jobs: %v", err)
	}
	if len(jobs.Items) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs.Items))
	}

	job := jobs.Items[0]
	if job.Name != result.Handle {
		t.Errorf("expected handle to be the job name, got %s vs %s", result.Handle, job.Name)
	}
	// Generated name is the sanitized base plus a random token.
	if !strings.HasPrefix(job.Name, "my-sweep-") {
		t.Errorf("unexpected job name %s", job.Name)
	}

	podSpec := job.Spec.Template.Spec
	if podSpec.Containers[0].Image != "caliban-proj:abc" {
		t.Errorf("unexpected image %s", podSpec.Containers[0].Image)
	}
	if len(podSpec.Containers[0].Command) != 3 {
		t.Errorf("expected entrypoint command, got %v", podSpec.Containers[0].Command)
	}
	if podSpec.NodeSelector[gkeAcceleratorLabel] != "nvidia-tesla-t4" {
		t.Errorf("unexpected node selector %v", podSpec.NodeSelector)
	}
	if job.Labels["app.kubernetes.io/managed-by"] != "caliban" {
		t.Error("expected managed-by label")
	}
	if job.Labels["experiment_group"] != "sweep1" {
		t.Errorf("expected sanitized user label, got %v", job.Labels)
	}

	gpu := podSpec.Containers[0].Resources.Limits["nvidia.com/gpu"]
	if gpu.Value() != 1 {
		t.Errorf("expected 1 gpu limit, got %v", gpu.Value())
	}
}

func TestClusterSubmit_UniqueNames(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	c := newTestCluster(clientset)
	ctx := context.Background()

	first, err := c.Submit(ctx, clusterSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	second, err := c.Submit(ctx, clusterSpec())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if first.Handle == second.Handle {
		t.Error("expected distinct generated job names")
	}
}

func TestClusterValidate_RejectsUnknownAccelerator(t *testing.T) {
	c := newTestCluster(fake.NewSimpleClientset())
	spec := clusterSpec()
	spec.Accelerator.Type = "NVIDIA_TESLA_XYZ"

	err := c.Validate(context.Background(), spec)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if _, ok := err.(*calerr.ValidationError); !ok {
		t.Errorf("expected ValidationError, got %T", err)
	}
}

func TestClusterQuery_MapsConditions(t *testing.T) {
	cases := []struct {
		name   string
		status batchv1.JobStatus
		want   registry.JobStatus
	}{
		{"active", batchv1.JobStatus{Active: 1}, registry.StatusRunning},
		{"succeeded", batchv1.JobStatus{Succeeded: 1}, registry.StatusSucceeded},
		{"failed", batchv1.JobStatus{Failed: 1}, registry.StatusFailed},
		{"pending", batchv1.JobStatus{}, registry.StatusSubmitted},
	}
	for _, tc := range cases {
		clientset := fake.NewSimpleClientset(&batchv1.Job{
			ObjectMeta: metav1.ObjectMeta{Name: "job-" + tc.name, Namespace: "test-ns"},
			Status:     tc.status,
		})
		c := newTestCluster(clientset)

		got, err := c.Query(context.Background(), "job-"+tc.name)
		if err != nil {
			t.Fatalf("%s: Query failed: %v", tc.name, err)
		}
		if got != tc.want {
			t.Errorf("%s: expected %s, got %s", tc.name, tc.want, got)
		}
	}
}

func TestClusterQuery_MissingJobIsStopped(t *testing.T) {
	c := newTestCluster(fake.NewSimpleClientset())

	got, err := c.Query(context.Background(), "gone")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if got != registry.StatusStopped {
		t.Errorf("expected STOPPED for deleted job, got %s", got)
	}
}

func TestClusterStop_DeletesJob(t *testing.T) {
	clientset := fake.NewSimpleClientset(&batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{Name: "job-x", Namespace: "test-ns"},
	})
	c := newTestCluster(clientset)
	ctx := context.Background()

	if err := c.Stop(ctx, "job-x"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	jobs, _ := clientset.BatchV1().Jobs("test-ns").List(ctx, metav1.ListOptions{})
	if len(jobs.Items) != 0 {
		t.Errorf("expected job deleted, got %d jobs", len(jobs.Items))
	}
}

func TestClusterStop_MissingJobNotStoppable(t *testing.T) {
	c := newTestCluster(fake.NewSimpleClientset())
	if err := c.Stop(context.Background(), "gone"); err != ErrNotStoppable {
		t.Errorf("expected ErrNotStoppable, got %v", err)
	}
}

func TestClusterExportManifest(t *testing.T) {
	c := newTestCluster(fake.NewSimpleClientset())

	var buf bytes.Buffer
	if err := c.ExportManifest(clusterSpec(), &buf); err != nil {
		t.Fatalf("ExportManifest failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"kind: Job", "apiVersion: batch/v1", "caliban-proj:abc", "nvidia-tesla-t4"} {
		if !strings.Contains(out, want) {
			t.Errorf("manifest missing %q:\n%s", want, out)
		}
	}
}
