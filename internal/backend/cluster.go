package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"caliban/internal/calerr"
	"caliban/internal/registry"
)

// gkeAcceleratorLabel is the node-selector key naming the requested
// accelerator on GKE nodes.
const gkeAcceleratorLabel = "cloud.google.com/gke-accelerator"

// ClusterConfig holds configuration for the Kubernetes adapter.
type ClusterConfig struct {
	// Kubeconfig overrides the kubeconfig path; empty tries in-cluster config
	// first and falls back to $HOME/.kube/config.
	Kubeconfig string
	// Namespace where jobs are created.
	Namespace string
	// ServiceAccount for job pods (optional).
	ServiceAccount string
	// Default resource limits for job containers.
	DefaultCPULimit    string
	DefaultMemoryLimit string
}

// Cluster submits batch jobs to an already-provisioned Kubernetes cluster.
type Cluster struct {
	clientset kubernetes.Interface
	config    ClusterConfig
}

func homeDir() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	return os.Getenv("USERPROFILE") // Windows
}

// NewCluster creates a Kubernetes-backed adapter. Tries in-cluster
// configuration first, falls back to kubeconfig for local development.
func NewCluster(cfg ClusterConfig) (*Cluster, error) {
	var restCfg *rest.Config
	var err error

	if cfg.Kubeconfig != "" {
		restCfg, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		restCfg, err = rest.InClusterConfig()
		if err != nil {
			kubeconfig := filepath.Join(homeDir(), ".kube", "config")
			restCfg, err = clientcmd.BuildConfigFromFlags("", kubeconfig)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build kubernetes config: %w", err)
	}

	clientset, err := kubernetes.NewForConfig(restCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kubernetes clientset: %w", err)
	}

	return &Cluster{clientset: clientset, config: withClusterDefaults(cfg)}, nil
}

func withClusterDefaults(cfg ClusterConfig) ClusterConfig {
	if cfg.Namespace == "" {
		cfg.Namespace = "default"
	}
	if cfg.DefaultCPULimit == "" {
		cfg.DefaultCPULimit = "500m"
	}
	if cfg.DefaultMemoryLimit == "" {
		cfg.DefaultMemoryLimit = "2Gi"
	}
	return cfg
}

// Validate checks the accelerator request against the known types and counts.
func (c *Cluster) Validate(ctx context.Context, spec JobSpec) error {
	if spec.Accelerator.Type == "" {
		return nil
	}
	counts, ok := acceleratorCounts[spec.Accelerator.Type]
	if !ok {
		return &calerr.ValidationError{
			Dimension:    "accelerator-type",
			Value:        spec.Accelerator.Type,
			NearestValid: sortedKeys(acceleratorBoolSet()),
		}
	}
	if !containsInt(counts, spec.Accelerator.Count) {
		valid := make([]string, len(counts))
		for i, n := range counts {
			valid[i] = fmt.Sprintf("%d", n)
		}
		return &calerr.ValidationError{
			Dimension:    "accelerator-count",
			Value:        fmt.Sprintf("%d", spec.Accelerator.Count),
			NearestValid: valid,
		}
	}
	return nil
}

func acceleratorBoolSet() map[string]bool {
	m := make(map[string]bool, len(acceleratorCounts))
	for t := range acceleratorCounts {
		m[t] = true
	}
	return m
}

// Submit creates the batch job. The generated name carries a short random
// suffix to avoid collisions across submissions of the same experiment.
func (c *Cluster) Submit(ctx context.Context, spec JobSpec) (SubmitResult, error) {
	job := c.buildJob(spec)

	created, err := c.clientset.BatchV1().Jobs(c.config.Namespace).Create(ctx, job, metav1.CreateOptions{})
	if err != nil {
		if ctx.Err() != nil {
			return SubmitResult{}, &calerr.CancelledError{}
		}
		return SubmitResult{}, &calerr.BackendError{
			Backend:    "cluster",
			Diagnostic: fmt.Sprintf("failed to create kubernetes job: %v", err),
		}
	}

	return SubmitResult{
		Handle: created.Name,
		Details: map[string]string{
			"namespace": c.config.Namespace,
			"uid":       string(created.UID),
		},
	}, nil
}

// buildJob translates a JobSpec into a batch job manifest.
func (c *Cluster) buildJob(spec JobSpec) *batchv1.Job {
	jobName := jobNameWithToken(spec.JobName)

	// System keys keep their canonical form; user labels pass through the
	// shared sanitizer and win on collision.
	labels := map[string]string{
		"app.kubernetes.io/managed-by": "caliban",
		"caliban-job-name":             SanitizeLabel(spec.JobName),
	}
	for k, v := range spec.Labels {
		labels[SanitizeLabel(k)] = SanitizeLabel(v)
	}

	resources := corev1.ResourceRequirements{
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(c.config.DefaultCPULimit),
			corev1.ResourceMemory: resource.MustParse(c.config.DefaultMemoryLimit),
		},
	}

	podSpec := corev1.PodSpec{
		RestartPolicy: corev1.RestartPolicyNever,
		Containers: []corev1.Container{
			{
				Name:      "caliban",
				Image:     spec.Image,
				Command:   spec.Entrypoint,
				Args:      spec.Args,
				Resources: resources,
			},
		},
	}

	if spec.Accelerator.Type != "" {
		podSpec.NodeSelector = map[string]string{
			gkeAcceleratorLabel: strings.ToLower(strings.ReplaceAll(spec.Accelerator.Type, "_", "-")),
		}
		podSpec.Tolerations = []corev1.Toleration{{
			Key:      "nvidia.com/gpu",
			Operator: corev1.TolerationOpExists,
			Effect:   corev1.TaintEffectNoSchedule,
		}}
		podSpec.Containers[0].Resources.Limits["nvidia.com/gpu"] =
			*resource.NewQuantity(int64(spec.Accelerator.Count), resource.DecimalSI)
	}
	if spec.Preemptible {
		podSpec.NodeSelector = mergeSelectors(podSpec.NodeSelector, map[string]string{
			"cloud.google.com/gke-preemptible": "true",
		})
	}
	if c.config.ServiceAccount != "" {
		podSpec.ServiceAccountName = c.config.ServiceAccount
	}

	backoffLimit := int32(0) // no retries; resubmission is explicit
	return &batchv1.Job{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "batch/v1",
			Kind:       "Job",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      jobName,
			Namespace: c.config.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: &backoffLimit,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: labels,
				},
				Spec: podSpec,
			},
		},
	}
}

// jobNameWithToken appends a short random token to the DNS-1123 form of the
// job name.
func jobNameWithToken(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	base := strings.Trim(b.String(), "-")
	if base == "" {
		base = "caliban"
	}
	const maxBase = 54 // leaves room for the suffix within the 63-char limit
	if len(base) > maxBase {
		base = base[:maxBase]
	}
	return fmt.Sprintf("%s-%s", base, uuid.NewString()[:8])
}

func mergeSelectors(dst, src map[string]string) map[string]string {
	if dst == nil {
		return src
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// Query maps job conditions onto the normalized status vocabulary. A deleted
// job reads as STOPPED; an unreachable cluster reads as UNKNOWN.
func (c *Cluster) Query(ctx context.Context, handle string) (registry.JobStatus, error) {
	job, err := c.clientset.BatchV1().Jobs(c.config.Namespace).Get(ctx, handle, metav1.GetOptions{})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return registry.StatusStopped, nil
		}
		return registry.StatusUnknown, &calerr.TransientBackendError{Backend: "cluster", Cause: err}
	}

	switch {
	case job.Status.Succeeded > 0:
		return registry.StatusSucceeded, nil
	case job.Status.Failed > 0:
		// BackoffLimit is zero, so the first failed pod has no retries left.
		return registry.StatusFailed, nil
	case job.Status.Active > 0:
		return registry.StatusRunning, nil
	}
	return registry.StatusSubmitted, nil
}

// Stop deletes the job, with foreground propagation so pods are cleaned up.
func (c *Cluster) Stop(ctx context.Context, handle string) error {
	propagation := metav1.DeletePropagationForeground
	err := c.clientset.BatchV1().Jobs(c.config.Namespace).Delete(ctx, handle, metav1.DeleteOptions{
		PropagationPolicy: &propagation,
	})
	if err != nil {
		if apierrors.IsNotFound(err) {
			return ErrNotStoppable
		}
		return &calerr.BackendError{Backend: "cluster", BackendHandle: handle, Diagnostic: err.Error()}
	}
	return nil
}

// ExportManifest writes the job manifest for spec as YAML instead of
// submitting it.
func (c *Cluster) ExportManifest(spec JobSpec, w io.Writer) error {
	job := c.buildJob(spec)

	// Round trip through JSON so the manifest carries the API field names.
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}
