package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var notebookCmd = &cobra.Command{
	Use:   "notebook",
	Short: "Run a Jupyter notebook server inside the built image",
	Long: `Build the project image and start a Jupyter server in it, publishing the
chosen port on the host.

Example:
  caliban notebook --mode gpu --port 8889`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		lab, _ := cmd.Flags().GetBool("lab")

		command := "notebook"
		if lab {
			command = "lab"
		}
		entrypoint := []string{
			"jupyter", command,
			"--ip=0.0.0.0",
			fmt.Sprintf("--port=%d", port),
			"--no-browser",
		}
		publish := []string{"-p", fmt.Sprintf("%d:%d", port, port)}
		return runInteractive(cmd, entrypoint, publish)
	},
}

func init() {
	addInvocationFlags(notebookCmd)
	notebookCmd.Flags().Int("port", 8888, "port the notebook server listens on")
	notebookCmd.Flags().Bool("lab", false, "start jupyter lab instead of the classic notebook")
	rootCmd.AddCommand(notebookCmd)
}
