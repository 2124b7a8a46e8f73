package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"caliban/internal/backend"
	"caliban/internal/config"
	"caliban/internal/dispatcher"
	"caliban/internal/logger"
	"caliban/internal/registry"
	"caliban/internal/registry/sqlite"
	"caliban/internal/status"
)

// addInvocationFlags registers the flags shared by every submission verb.
func addInvocationFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringP("dir", "d", ".", "project directory to package")
	flags.String("mode", "cpu", "hardware mode: cpu, gpu, or tpu")
	flags.StringSlice("extras", nil, "dependency extras to install in addition to the mode set")
	flags.StringSlice("extra-dirs", nil, "extra directories to copy into the image, in order")
	flags.StringP("experiment-config", "e", "", "experiment config file ('-' reads stdin)")
	flags.String("xgroup", "", "experiment group name (default is a generated one)")
	flags.String("image", "", "use this image reference instead of building")
	flags.Bool("dry-run", false, "validate and log what would be submitted, submitting nothing")
	flags.StringToString("label", nil, "labels attached to each submission (key=value)")
}

// addCloudFlags registers the training-service resource flags, shared by the
// cloud and cluster verbs.
func addCloudFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.String("region", "us-central1", "region to submit in")
	flags.String("machine-type", "n1-standard-8", "machine type for the job")
	flags.String("accelerator-type", "", "accelerator type (e.g. NVIDIA_TESLA_V100)")
	flags.Int("accelerator-count", 1, "number of accelerators")
	flags.Bool("preemptible", false, "request preemptible capacity")
	flags.Bool("force", false, "skip client-side validation")
}

// parseMode maps the --mode flag onto the mode enum.
func parseMode(s string) (registry.Mode, error) {
	switch strings.ToLower(s) {
	case "cpu":
		return registry.ModeCPU, nil
	case "gpu":
		return registry.ModeGPU, nil
	case "tpu":
		return registry.ModeTPU, nil
	}
	return "", fmt.Errorf("unknown mode %q (want cpu, gpu, or tpu)", s)
}

// parseInvocation builds the invocation for a submission verb. args[0] is the
// module spec; everything after it passes through verbatim as prefix args.
func parseInvocation(cmd *cobra.Command, args []string, target registry.Backend) (dispatcher.Invocation, error) {
	flags := cmd.Flags()

	modeStr, _ := flags.GetString("mode")
	mode, err := parseMode(modeStr)
	if err != nil {
		return dispatcher.Invocation{}, err
	}

	dir, _ := flags.GetString("dir")
	extras, _ := flags.GetStringSlice("extras")
	extraDirs, _ := flags.GetStringSlice("extra-dirs")
	configPath, _ := flags.GetString("experiment-config")
	group, _ := flags.GetString("xgroup")
	image, _ := flags.GetString("image")
	dryRun, _ := flags.GetBool("dry-run")
	labels, _ := flags.GetStringToString("label")

	inv := dispatcher.Invocation{
		ProjectDir:    dir,
		Mode:          mode,
		ModuleSpec:    args[0],
		Extras:        extras,
		ExtraDirs:     extraDirs,
		GroupName:     group,
		Backend:       target,
		ImageOverride: image,
		ConfigPath:    configPath,
		ConfigInput:   cmd.InOrStdin(),
		PrefixArgs:    args[1:],
		DryRun:        dryRun,
		Labels:        labels,
	}

	if flags.Lookup("region") != nil {
		inv.Region, _ = flags.GetString("region")
		inv.MachineType, _ = flags.GetString("machine-type")
		accType, _ := flags.GetString("accelerator-type")
		accCount, _ := flags.GetInt("accelerator-count")
		if accType != "" {
			inv.Accelerator = backend.AcceleratorSpec{Type: accType, Count: accCount}
		}
		inv.Preemptible, _ = flags.GetBool("preemptible")
	}
	return inv, nil
}

// services bundles the wired core for one invocation.
type services struct {
	cfg        *config.Config
	store      *sqlite.Store
	dispatcher *dispatcher.Dispatcher
	status     *status.Service
	adapters   map[registry.Backend]backend.Adapter
	close      func() error
}

// openServices opens the registry and constructs the adapters. Backends that
// cannot initialize on this host (no docker socket, no kubeconfig) are left
// out of the adapter map; using one then fails with a clear error.
func openServices(cmd *cobra.Command, force bool) (*services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureRegistryDir(); err != nil {
		return nil, err
	}

	store, err := sqlite.Open(cmd.Context(), cfg.RegistryPath)
	if err != nil {
		return nil, err
	}

	log := logger.New()
	adapters := map[registry.Backend]backend.Adapter{}

	if local, err := backend.NewLocal(); err == nil {
		adapters[registry.BackendLocal] = local
	} else {
		log.Warn("local backend unavailable", "error", err)
	}

	cloud := backend.NewCloud(cfg.CloudEndpoint, cfg.CloudToken)
	cloud.Force = force
	adapters[registry.BackendCloud] = cloud

	if cluster, err := backend.NewCluster(backend.ClusterConfig{
		Kubeconfig: cfg.Kubeconfig,
		Namespace:  cfg.Namespace,
	}); err == nil {
		adapters[registry.BackendCluster] = cluster
	} else {
		log.Warn("cluster backend unavailable", "error", err)
	}

	d := &dispatcher.Dispatcher{
		Store:    store,
		Builder:  newBuilder(cmd),
		Adapters: adapters,
		Logger:   log,
		Out:      cmd.OutOrStdout(),
	}

	return &services{
		cfg:        cfg,
		store:      store,
		dispatcher: d,
		status: &status.Service{
			Store:      store,
			Adapters:   adapters,
			Dispatcher: d,
			Logger:     log,
			Out:        cmd.OutOrStdout(),
		},
		adapters: adapters,
		close:    store.Close,
	}, nil
}

func forceFlag(cmd *cobra.Command) bool {
	if cmd.Flags().Lookup("force") == nil {
		return false
	}
	force, _ := cmd.Flags().GetBool("force")
	return force
}

func groupFlag(cmd *cobra.Command) (string, error) {
	group, _ := cmd.Flags().GetString("xgroup")
	if group == "" {
		return "", fmt.Errorf("--xgroup is required")
	}
	return group, nil
}
