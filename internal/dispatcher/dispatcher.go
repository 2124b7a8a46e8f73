// Package dispatcher orchestrates the per-invocation flow: build the image,
// register the container, expand the experiment config, and submit each
// argument tuple to the chosen backend.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"caliban/internal/backend"
	"caliban/internal/buildplan"
	"caliban/internal/calerr"
	"caliban/internal/expand"
	"caliban/internal/observability"
	"caliban/internal/registry"
)

// Invocation is a single user request with all parameters resolved. It is
// threaded explicitly through the dispatcher; there is no process-wide state
// beyond the registry handle.
type Invocation struct {
	ProjectDir string
	Mode       registry.Mode
	ModuleSpec string
	Extras     []string
	ExtraDirs  []string

	GroupName string
	Backend   registry.Backend

	// ImageOverride skips the build when set.
	ImageOverride string

	// ConfigPath is the experiment-config path; "-" reads ConfigInput.
	// Empty means no config: a single job with only the prefix args.
	ConfigPath  string
	ConfigInput io.Reader

	// PrefixArgs are passed through verbatim before each tuple's flags.
	PrefixArgs []string

	DryRun bool

	// Backend-specific options.
	Region      string
	MachineType string
	Accelerator backend.AcceleratorSpec
	Preemptible bool
	Labels      map[string]string

	// CredentialKeyPath and ADCPath are discovered by the caller and baked
	// into the image when set.
	CredentialKeyPath string
	ADCPath           string
}

// Dispatcher wires the planner, builder, registry and backend adapters
// together for one invocation at a time.
type Dispatcher struct {
	Store    registry.Store
	Builder  buildplan.Builder
	Adapters map[registry.Backend]backend.Adapter
	Logger   *slog.Logger
	Out      io.Writer
}

// Summary reports what one invocation did.
type Summary struct {
	Submitted int
	Failed    int
	Skipped   int
}

// Run executes one invocation end to end. Per-tuple failures are reported
// and do not abort the remaining tuples; the returned error is non-nil iff
// any attempted submission failed, or a registry error or cancellation cut
// the sweep short.
func (d *Dispatcher) Run(ctx context.Context, inv Invocation) (*Summary, error) {
	adapter, ok := d.Adapters[inv.Backend]
	if !ok {
		return nil, fmt.Errorf("no adapter for backend %s", inv.Backend)
	}

	doc, err := LoadConfig(inv)
	if err != nil {
		return nil, err
	}
	tuples := expand.Expand(doc)

	imageRef, warnings, err := d.resolveImage(ctx, inv)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		d.Logger.Warn(w)
	}

	if inv.DryRun {
		return d.dryRun(ctx, adapter, inv, imageRef, tuples)
	}

	group, err := d.Store.GetOrCreateGroup(ctx, inv.GroupName)
	if err != nil {
		return nil, err
	}
	container, err := d.Store.GetOrCreateContainer(ctx, imageRef, inv.Mode, inv.ProjectDir, inv.ExtraDirs)
	if err != nil {
		return nil, err
	}

	return d.submitSweep(ctx, adapter, inv, group, container, tuples)
}

// submitSweep submits each tuple in enumeration order, one in-flight request
// at a time.
func (d *Dispatcher) submitSweep(ctx context.Context, adapter backend.Adapter, inv Invocation, group *registry.ExperimentGroup, container *registry.Container, tuples []expand.Tuple) (*Summary, error) {
	tracer := otel.Tracer("dispatcher")
	summary := &Summary{}
	stamp := time.Now().Format("20060102_150405")

	var firstRejection *calerr.ValidationError
	rejected := 0

	for i, tuple := range tuples {
		if ctx.Err() != nil {
			d.progress(summary, len(tuples))
			return summary, &calerr.CancelledError{}
		}

		spec := d.jobSpec(inv, group, container.ImageReference, tuple, stamp, i)

		spanCtx, span := tracer.Start(ctx, "dispatch.submit",
			trace.WithAttributes(
				attribute.String("backend", string(inv.Backend)),
				attribute.Int("tuple.index", i),
				attribute.String("group.name", group.Name),
			),
			trace.WithSpanKind(trace.SpanKindClient),
		)

		err := d.submitOne(spanCtx, adapter, inv, group, container, spec, tuple)
		span.End()

		if err != nil {
			var regErr *calerr.RegistryError
			var cancelled *calerr.CancelledError
			if errors.As(err, &regErr) || errors.As(err, &cancelled) {
				summary.Failed++
				d.progress(summary, len(tuples))
				return summary, err
			}
			var valErr *calerr.ValidationError
			if errors.As(err, &valErr) {
				valErr.TupleIndex = i
				if firstRejection == nil {
					firstRejection = valErr
				}
				rejected++
			}
			summary.Failed++
			observability.SubmissionsFailed.Add(ctx, 1)
			d.Logger.Error("submission failed", "tuple", i, "error", err)
			d.progress(summary, len(tuples))
			continue
		}

		summary.Submitted++
		observability.SubmissionsTotal.Add(ctx, 1)
		d.progress(summary, len(tuples))
	}

	return summary, sweepError(inv.Backend, summary, len(tuples), rejected, firstRejection)
}

// sweepError classifies a finished sweep. A sweep where every failure was a
// client-side rejection never reached the backend: it surfaces the first
// ValidationError, which carries the configuration exit code. Anything else
// that failed is a backend failure.
func sweepError(target registry.Backend, summary *Summary, total, rejected int, firstRejection *calerr.ValidationError) error {
	if summary.Failed == 0 {
		return nil
	}
	if rejected == summary.Failed {
		return firstRejection
	}
	return &calerr.BackendError{
		Backend:    string(target),
		Diagnostic: fmt.Sprintf("%d of %d submissions failed", summary.Failed, total),
	}
}

// submitOne registers the experiment, validates and submits the spec, and
// records the job row.
func (d *Dispatcher) submitOne(ctx context.Context, adapter backend.Adapter, inv Invocation, group *registry.ExperimentGroup, container *registry.Container, spec backend.JobSpec, tuple expand.Tuple) error {
	exp, err := d.Store.GetOrCreateExperiment(ctx, group, container, inv.ModuleSpec, inv.PrefixArgs, kvsFromTuple(tuple))
	if err != nil {
		return err
	}

	if err := adapter.Validate(ctx, spec); err != nil {
		return err
	}

	result, submitErr := adapter.Submit(ctx, spec)
	if result.Handle == "" {
		// Nothing reached the backend; no row to record.
		return submitErr
	}

	job, err := d.Store.CreateJob(ctx, exp, inv.Backend, result.Handle, result.Details)
	if err != nil {
		return err
	}
	d.Logger.Info("submitted", "backend", inv.Backend, "handle", result.Handle, "experiment", exp.ID)

	// Local submissions are synchronous: the terminal status is already known.
	if inv.Backend == registry.BackendLocal {
		status, qerr := adapter.Query(ctx, result.Handle)
		if qerr == nil && status != registry.StatusSubmitted {
			if uerr := d.Store.UpdateJobStatus(ctx, job, status, statusMessage(submitErr)); uerr != nil {
				return uerr
			}
		}
	}
	return submitErr
}

func statusMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// dryRun validates every tuple and logs what would be submitted, creating no
// registry rows.
func (d *Dispatcher) dryRun(ctx context.Context, adapter backend.Adapter, inv Invocation, imageRef string, tuples []expand.Tuple) (*Summary, error) {
	summary := &Summary{}
	stamp := time.Now().Format("20060102_150405")

	for i, tuple := range tuples {
		spec := d.jobSpec(inv, nil, imageRef, tuple, stamp, i)
		if err := adapter.Validate(ctx, spec); err != nil {
			summary.Failed++
			d.Logger.Error("would reject", "tuple", i, "error", err)
			continue
		}
		summary.Skipped++
		fmt.Fprintf(d.Out, "would submit [%d] %s %v\n", i, imageRef, spec.Args)
	}

	if summary.Failed > 0 {
		return summary, &calerr.ValidationError{
			Dimension: "dry-run",
			Value:     fmt.Sprintf("%d invalid tuples", summary.Failed),
		}
	}
	return summary, nil
}

// jobSpec translates one tuple into the normalized submission request.
func (d *Dispatcher) jobSpec(inv Invocation, group *registry.ExperimentGroup, imageRef string, tuple expand.Tuple, stamp string, index int) backend.JobSpec {
	entrypoint, _ := buildplan.ParseModuleSpec(inv.ModuleSpec)

	groupName := inv.GroupName
	if group != nil {
		groupName = group.Name
	}

	auto := map[string]string{
		"experiment_group": groupName,
		"docker_image":     imageRef,
	}

	return backend.JobSpec{
		Image:       imageRef,
		Entrypoint:  entrypoint.Command(),
		Args:        tuple.Argv(inv.PrefixArgs),
		Mode:        inv.Mode,
		JobName:     fmt.Sprintf("%s_%s_%d", backend.SanitizeLabel(jobBase(groupName)), stamp, index),
		Region:      inv.Region,
		MachineType: inv.MachineType,
		Accelerator: inv.Accelerator,
		Preemptible: inv.Preemptible,
		Labels:      backend.MergeLabels(auto, inv.Labels),
	}
}

func jobBase(groupName string) string {
	if groupName == "" {
		return "caliban"
	}
	return groupName
}

// resolveImage plans and builds the image unless an explicit reference was
// supplied.
func (d *Dispatcher) resolveImage(ctx context.Context, inv Invocation) (string, []string, error) {
	if inv.ImageOverride != "" {
		return inv.ImageOverride, nil, nil
	}

	recipe, err := buildplan.Plan(buildplan.Input{
		ProjectDir:            inv.ProjectDir,
		Mode:                  inv.Mode,
		ModuleSpec:            inv.ModuleSpec,
		Extras:                inv.Extras,
		ExtraDirs:             inv.ExtraDirs,
		LocalSubmission:       inv.Backend == registry.BackendLocal,
		ServiceAccountKeyPath: inv.CredentialKeyPath,
		ADCPath:               inv.ADCPath,
	})
	if err != nil {
		return "", nil, err
	}

	tracer := otel.Tracer("dispatcher")
	buildCtx, span := tracer.Start(ctx, "dispatch.build",
		trace.WithAttributes(attribute.String("mode", string(inv.Mode))))
	defer span.End()

	ref, err := d.Builder.Build(buildCtx, recipe, inv.ProjectDir)
	if err != nil {
		span.RecordError(err)
		if ctx.Err() != nil {
			return "", nil, &calerr.CancelledError{}
		}
		return "", nil, err
	}
	return ref, recipe.Warnings, nil
}

// LoadConfig reads the invocation's experiment-config document from its
// file, its stream, or nowhere.
func LoadConfig(inv Invocation) (expand.Document, error) {
	switch {
	case inv.ConfigPath == "":
		return expand.Document{}, nil
	case inv.ConfigPath == "-":
		return expand.FromReader(inv.ConfigInput)
	default:
		return expand.FromFile(inv.ConfigPath)
	}
}

func (d *Dispatcher) progress(s *Summary, total int) {
	fmt.Fprintf(d.Out, "\rsubmitted %d  failed %d  remaining %d",
		s.Submitted, s.Failed, total-s.Submitted-s.Failed)
	if s.Submitted+s.Failed == total {
		fmt.Fprintln(d.Out)
	}
}

// kvsFromTuple materializes the tuple's bindings as ordered key/value pairs:
// boolean true keeps an empty value (a bare flag), boolean false is omitted,
// everything else keeps its literal text.
func kvsFromTuple(t expand.Tuple) []registry.KV {
	var kvs []registry.KV
	for _, b := range t.Bindings {
		if b.Value.Kind == expand.KindBool {
			if b.Value.Bool {
				kvs = append(kvs, registry.KV{Key: b.Key})
			}
			continue
		}
		kvs = append(kvs, registry.KV{Key: b.Key, Value: b.Value.Raw})
	}
	return kvs
}

// ArgvFromExperiment reconstructs the argv for a stored experiment.
func ArgvFromExperiment(exp *registry.Experiment) []string {
	argv := append([]string{}, exp.Args...)
	for _, kv := range exp.Kwargs {
		if kv.Value == "" {
			argv = append(argv, "--"+kv.Key)
			continue
		}
		argv = append(argv, "--"+kv.Key, kv.Value)
	}
	return argv
}

// ResubmitExperiments re-enters the submission flow for already-registered
// experiments, rebuilding the image (unless overridden) so code changes are
// captured. Each new job is recorded against the selected experiment itself.
func (d *Dispatcher) ResubmitExperiments(ctx context.Context, inv Invocation, exps []*registry.Experiment) (*Summary, error) {
	adapter, ok := d.Adapters[inv.Backend]
	if !ok {
		return nil, fmt.Errorf("no adapter for backend %s", inv.Backend)
	}

	imageRef, warnings, err := d.resolveImage(ctx, inv)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		d.Logger.Warn(w)
	}

	group, err := d.Store.GetOrCreateGroup(ctx, inv.GroupName)
	if err != nil {
		return nil, err
	}
	if _, err := d.Store.GetOrCreateContainer(ctx, imageRef, inv.Mode, inv.ProjectDir, inv.ExtraDirs); err != nil {
		return nil, err
	}

	summary := &Summary{}
	stamp := time.Now().Format("20060102_150405")

	var firstRejection *calerr.ValidationError
	rejected := 0

	for i, exp := range exps {
		if ctx.Err() != nil {
			return summary, &calerr.CancelledError{}
		}

		tuple := expand.Tuple{Bindings: bindingsFromKVs(exp.Kwargs)}
		resubInv := inv
		resubInv.ModuleSpec = exp.ModuleSpec
		resubInv.PrefixArgs = exp.Args
		spec := d.jobSpec(resubInv, group, imageRef, tuple, stamp, i)

		// The experiment's own container keeps its identity, so the job
		// lands on the existing experiment row.
		orig, err := d.Store.ContainerByID(ctx, exp.ContainerID)
		if err != nil {
			return summary, err
		}
		err = d.submitOne(ctx, adapter, resubInv, group, orig, spec, tuple)
		if err != nil {
			var regErr *calerr.RegistryError
			var cancelled *calerr.CancelledError
			if errors.As(err, &regErr) || errors.As(err, &cancelled) {
				return summary, err
			}
			var valErr *calerr.ValidationError
			if errors.As(err, &valErr) {
				valErr.TupleIndex = i
				if firstRejection == nil {
					firstRejection = valErr
				}
				rejected++
			}
			summary.Failed++
			d.Logger.Error("resubmission failed", "experiment", exp.ID, "error", err)
			continue
		}
		summary.Submitted++
	}

	return summary, sweepError(inv.Backend, summary, len(exps), rejected, firstRejection)
}

func bindingsFromKVs(kvs []registry.KV) []expand.Binding {
	var bindings []expand.Binding
	for _, kv := range kvs {
		if kv.Value == "" {
			bindings = append(bindings, expand.Binding{Key: kv.Key, Value: expand.Scalar{Kind: expand.KindBool, Bool: true}})
			continue
		}
		bindings = append(bindings, expand.Binding{Key: kv.Key, Value: expand.Scalar{Kind: expand.KindString, Raw: kv.Value}})
	}
	return bindings
}
