package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent jobs, or the jobs in one experiment group",
	Long: `Without --xgroup, shows the most recent jobs across all groups. With
--xgroup, shows the named group's experiments and their jobs.

Examples:
  caliban status --limit 20
  caliban status --xgroup mnist --max-jobs 3`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := openServices(cmd, false)
		if err != nil {
			return err
		}
		defer svc.close()

		group, _ := cmd.Flags().GetString("xgroup")
		if group != "" {
			maxJobs, _ := cmd.Flags().GetInt("max-jobs")
			return svc.status.Group(cmd.Context(), group, maxJobs)
		}

		limit, _ := cmd.Flags().GetInt("limit")
		return svc.status.Recent(cmd.Context(), limit)
	},
}

func init() {
	statusCmd.Flags().String("xgroup", "", "experiment group to show")
	statusCmd.Flags().Int("limit", 10, "number of recent jobs to show")
	statusCmd.Flags().Int("max-jobs", 0, "max jobs shown per experiment (0 = all)")
	rootCmd.AddCommand(statusCmd)
}
