package cmd

import (
	"github.com/spf13/cobra"

	"caliban/internal/buildplan"
	"caliban/internal/registry"
)

var buildCmd = &cobra.Command{
	Use:   "build [module]",
	Short: "Build the container image for a project without submitting anything",
	Long: `Plan and build the container image for the project directory.

The recipe is deterministic: identical inputs produce identical recipes, so
repeated builds hit the builder's layer cache.

Example:
  caliban build --mode gpu trainer.train`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := parseInvocation(cmd, args, registry.BackendLocal)
		if err != nil {
			return err
		}

		recipe, err := buildplan.Plan(buildplan.Input{
			ProjectDir: inv.ProjectDir,
			Mode:       inv.Mode,
			ModuleSpec: inv.ModuleSpec,
			Extras:     inv.Extras,
			ExtraDirs:  inv.ExtraDirs,
		})
		if err != nil {
			return err
		}
		for _, w := range recipe.Warnings {
			cmd.PrintErrln("warning:", w)
		}

		if dry, _ := cmd.Flags().GetBool("dry-run"); dry {
			cmd.Print(recipe.Render())
			return nil
		}

		ref, err := newBuilder(cmd).Build(cmd.Context(), recipe, inv.ProjectDir)
		if err != nil {
			return err
		}
		cmd.Println(ref)
		return nil
	},
}

// newBuilder returns the docker CLI builder, streaming the build log to the
// command's stderr.
func newBuilder(cmd *cobra.Command) *buildplan.DockerBuilder {
	return &buildplan.DockerBuilder{Output: cmd.ErrOrStderr()}
}

func init() {
	addInvocationFlags(buildCmd)
	rootCmd.AddCommand(buildCmd)
}
