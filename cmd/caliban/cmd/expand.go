package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"caliban/internal/expand"
)

var expandCmd = &cobra.Command{
	Use:   "expand-experiments [-- prefix args]",
	Short: "Print the argument tuples an experiment config expands into",
	Long: `Expand an experiment-config document and print one argv line per tuple,
without building or submitting anything. Useful for checking a sweep before
spending compute on it.

Examples:
  caliban expand-experiments --experiment-config sweep.yaml
  cat sweep.yaml | caliban expand-experiments --experiment-config -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("experiment-config")

		var (
			doc expand.Document
			err error
		)
		switch configPath {
		case "":
			doc = expand.Document{}
		case "-":
			doc, err = expand.FromReader(cmd.InOrStdin())
		default:
			doc, err = expand.FromFile(configPath)
		}
		if err != nil {
			return err
		}

		for _, tuple := range expand.Expand(doc) {
			cmd.Println(strings.Join(tuple.Argv(args), " "))
		}
		return nil
	},
}

func init() {
	expandCmd.Flags().StringP("experiment-config", "e", "", "experiment config file ('-' reads stdin)")
	rootCmd.AddCommand(expandCmd)
}
