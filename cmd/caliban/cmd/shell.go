package cmd

import (
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"caliban/internal/buildplan"
	"caliban/internal/registry"
)

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Open an interactive shell inside the built image",
	Long: `Build the project image and start an interactive bash shell in it, with the
working directory and home directory mounted the same way run mounts them.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd, []string{"/bin/bash"}, nil)
	},
}

// runInteractive builds (or reuses) the image and execs the docker CLI with
// an attached terminal. The SDK adapter stays out of the way here: an
// interactive session needs the caller's TTY.
func runInteractive(cmd *cobra.Command, entrypoint, extraDockerArgs []string) error {
	inv, err := parseInvocation(cmd, []string{"caliban_interactive.sh"}, registry.BackendLocal)
	if err != nil {
		return err
	}

	image := inv.ImageOverride
	if image == "" {
		recipe, err := buildplan.Plan(buildplan.Input{
			ProjectDir:      inv.ProjectDir,
			Mode:            inv.Mode,
			ModuleSpec:      inv.ModuleSpec,
			Extras:          inv.Extras,
			ExtraDirs:       inv.ExtraDirs,
			LocalSubmission: true,
		})
		if err != nil {
			return err
		}
		image, err = newBuilder(cmd).Build(cmd.Context(), recipe, inv.ProjectDir)
		if err != nil {
			return err
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	dockerArgs := []string{
		"run", "--rm", "-it",
		"-v", cwd + ":" + buildplan.ContainerWorkdir,
		"-v", home + ":/home/host",
		"-w", buildplan.ContainerWorkdir,
	}
	if inv.Mode == registry.ModeGPU {
		dockerArgs = append(dockerArgs, "--gpus", "all")
	}
	dockerArgs = append(dockerArgs, extraDockerArgs...)
	dockerArgs = append(dockerArgs, "--entrypoint", entrypoint[0], image)
	dockerArgs = append(dockerArgs, entrypoint[1:]...)

	docker := exec.CommandContext(cmd.Context(), "docker", dockerArgs...)
	docker.Stdin = os.Stdin
	docker.Stdout = os.Stdout
	docker.Stderr = os.Stderr
	return docker.Run()
}

func init() {
	addInvocationFlags(shellCmd)
	rootCmd.AddCommand(shellCmd)
}
