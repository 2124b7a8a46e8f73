package cmd

import (
	"github.com/spf13/cobra"

	"caliban/internal/registry"
)

var submitCloudCmd = &cobra.Command{
	Use:   "submit-cloud [module] [-- prefix args]",
	Short: "Submit jobs to the managed cloud training service",
	Long: `Build the image and submit one training job per experiment-config tuple.

Each spec is validated client-side against the static region / machine-type /
accelerator compatibility tables before anything reaches the backend; --force
skips validation.

Example:
  caliban submit-cloud --xgroup mnist --mode gpu \
    --accelerator-type NVIDIA_TESLA_V100 --accelerator-count 4 \
    --experiment-config sweep.yaml trainer.train`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := parseInvocation(cmd, args, registry.BackendCloud)
		if err != nil {
			return err
		}

		svc, err := openServices(cmd, forceFlag(cmd))
		if err != nil {
			return err
		}
		defer svc.close()

		_, err = svc.dispatcher.Run(cmd.Context(), inv)
		return err
	},
}

func init() {
	addInvocationFlags(submitCloudCmd)
	addCloudFlags(submitCloudCmd)
	rootCmd.AddCommand(submitCloudCmd)
}
