package cmd

import (
	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop every submitted or running job in an experiment group",
	Long: `Enumerate the group's jobs whose current status is SUBMITTED or RUNNING and
request cancellation from their backends. Jobs the backend has already
finished are reported as unchanged.

Example:
  caliban stop --xgroup mnist`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		group, err := groupFlag(cmd)
		if err != nil {
			return err
		}

		svc, err := openServices(cmd, false)
		if err != nil {
			return err
		}
		defer svc.close()

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		return svc.status.Stop(cmd.Context(), group, dryRun)
	},
}

func init() {
	stopCmd.Flags().String("xgroup", "", "experiment group to stop (required)")
	stopCmd.Flags().Bool("dry-run", false, "report what would be stopped, stopping nothing")
	rootCmd.AddCommand(stopCmd)
}
