package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"caliban/internal/backend"
	"caliban/internal/buildplan"
	"caliban/internal/dispatcher"
	"caliban/internal/expand"
	"caliban/internal/registry"
)

var submitClusterCmd = &cobra.Command{
	Use:   "submit-cluster [module] [-- prefix args]",
	Short: "Submit jobs to the Kubernetes cluster",
	Long: `Build the image and create one batch job per experiment-config tuple on the
already-provisioned cluster. Generated job names carry a short random token
so resubmissions never collide.

With --export, manifests are written to a file instead of submitted; this
requires --image since nothing is built.

Examples:
  caliban submit-cluster --xgroup mnist --experiment-config sweep.yaml trainer.train
  caliban submit-cluster --image caliban-mnist:abc123 --export jobs.yaml trainer.train`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := parseInvocation(cmd, args, registry.BackendCluster)
		if err != nil {
			return err
		}

		svc, err := openServices(cmd, forceFlag(cmd))
		if err != nil {
			return err
		}
		defer svc.close()

		if exportPath, _ := cmd.Flags().GetString("export"); exportPath != "" {
			return exportManifests(cmd, svc, inv, exportPath)
		}

		_, err = svc.dispatcher.Run(cmd.Context(), inv)
		return err
	},
}

// exportManifests writes one job manifest per tuple instead of submitting.
func exportManifests(cmd *cobra.Command, svc *services, inv dispatcher.Invocation, path string) error {
	if inv.ImageOverride == "" {
		return fmt.Errorf("--export requires --image")
	}
	cluster, ok := svc.adapters[registry.BackendCluster].(*backend.Cluster)
	if !ok {
		return fmt.Errorf("cluster backend is not available on this host")
	}

	doc, err := dispatcher.LoadConfig(inv)
	if err != nil {
		return err
	}
	entrypoint, err := buildplan.ParseModuleSpec(inv.ModuleSpec)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for i, tuple := range expand.Expand(doc) {
		if i > 0 {
			fmt.Fprintln(f, "---")
		}
		spec := backend.JobSpec{
			Image:      inv.ImageOverride,
			Entrypoint: entrypoint.Command(),
			Args:       tuple.Argv(inv.PrefixArgs),
			Mode:       inv.Mode,
			JobName:    fmt.Sprintf("%s-%d", inv.GroupName, i),
			Labels:     inv.Labels,
		}
		if err := cluster.ExportManifest(spec, f); err != nil {
			return err
		}
	}
	cmd.Println("wrote manifests to", path)
	return nil
}

func init() {
	addInvocationFlags(submitClusterCmd)
	addCloudFlags(submitClusterCmd)
	submitClusterCmd.Flags().String("export", "", "write job manifests to this file instead of submitting")
	rootCmd.AddCommand(submitClusterCmd)
}
