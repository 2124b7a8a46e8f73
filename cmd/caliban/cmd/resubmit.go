package cmd

import (
	"github.com/spf13/cobra"

	"caliban/internal/registry"
)

var resubmitCmd = &cobra.Command{
	Use:   "resubmit",
	Short: "Resubmit an experiment group's failed or stopped experiments",
	Long: `Select the group's experiments whose latest job is FAILED or STOPPED (or all
of them with --all) and submit a fresh job for each. The image is rebuilt
unless --image is given, so code changes since the original run are captured.

Example:
  caliban resubmit --xgroup mnist --backend cloud`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		group, err := groupFlag(cmd)
		if err != nil {
			return err
		}

		backendName, _ := cmd.Flags().GetString("backend")
		target, err := parseBackend(backendName)
		if err != nil {
			return err
		}

		// The module spec is irrelevant here: each experiment row carries its
		// own. The placeholder only satisfies invocation parsing.
		inv, err := parseInvocation(cmd, []string{"resubmit.placeholder"}, target)
		if err != nil {
			return err
		}
		inv.ModuleSpec = ""

		svc, err := openServices(cmd, forceFlag(cmd))
		if err != nil {
			return err
		}
		defer svc.close()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		all, _ := cmd.Flags().GetBool("all")
		return svc.status.Resubmit(cmd.Context(), inv, group, dryRun, all)
	},
}

func parseBackend(s string) (registry.Backend, error) {
	switch s {
	case "local":
		return registry.BackendLocal, nil
	case "cloud":
		return registry.BackendCloud, nil
	case "cluster":
		return registry.BackendCluster, nil
	}
	return "", &unknownBackendError{name: s}
}

type unknownBackendError struct{ name string }

func (e *unknownBackendError) Error() string {
	return "unknown backend " + e.name + " (want local, cloud, or cluster)"
}

func init() {
	addInvocationFlags(resubmitCmd)
	addCloudFlags(resubmitCmd)
	resubmitCmd.Flags().String("backend", "local", "backend to resubmit to: local, cloud, or cluster")
	resubmitCmd.Flags().Bool("all", false, "resubmit every experiment, not just failed or stopped ones")
	rootCmd.AddCommand(resubmitCmd)
}
