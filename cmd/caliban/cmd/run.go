package cmd

import (
	"github.com/spf13/cobra"

	"caliban/internal/registry"
)

var runCmd = &cobra.Command{
	Use:   "run [module] [-- prefix args]",
	Short: "Run the project on the local container runtime",
	Long: `Build the image and run one job per experiment-config tuple on the local
container runtime. Submissions are sequential; each returns when its
container exits.

Examples:
  caliban run trainer.train
  caliban run --experiment-config sweep.yaml trainer.train -- --data_dir /tmp/mnist`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := parseInvocation(cmd, args, registry.BackendLocal)
		if err != nil {
			return err
		}

		svc, err := openServices(cmd, false)
		if err != nil {
			return err
		}
		defer svc.close()

		_, err = svc.dispatcher.Run(cmd.Context(), inv)
		return err
	},
}

func init() {
	addInvocationFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
