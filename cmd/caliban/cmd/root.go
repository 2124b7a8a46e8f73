package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "caliban",
	Short: "Caliban packages a source tree into a container image and dispatches it to a backend",
	Long: `Caliban is a developer control plane for reproducible experiment runs.

It packages a local source tree into a container image and dispatches jobs
across three execution backends: the local container runtime, a managed cloud
training service, and a managed Kubernetes cluster. Every submission is
recorded in a local registry so groups of experiments can be inspected,
stopped, and resubmitted.

Common workflows:

  Build the image without running anything:
    caliban build trainer.train

  Run a sweep locally:
    caliban run --experiment-config sweep.yaml trainer.train

  Submit the sweep to the cloud training service:
    caliban submit-cloud --xgroup mnist --experiment-config sweep.yaml trainer.train

  Inspect, stop, and retry a group:
    caliban status --xgroup mnist
    caliban stop --xgroup mnist
    caliban resubmit --xgroup mnist

Configuration:
  Settings come from flags, environment variables, or a config file:
    CALIBAN_REGISTRY_PATH   Registry file location
    CALIBAN_KUBECONFIG      Kubeconfig for the cluster backend
    CALIBAN_NAMESPACE       Kubernetes namespace for cluster jobs
    CALIBAN_CLOUD_ENDPOINT  Base URL of the training service
    CALIBAN_CLOUD_TOKEN     API token for the training service
    CALIBAN_OTEL_ENDPOINT   OTLP collector for dispatch traces (off if unset)
    CALIBAN_METRICS_ADDR    Address serving /metrics (off if unset)`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupObservability(cmd)
	},
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".caliban"
		viper.AddConfigPath(home)
		viper.SetConfigName(".caliban")
		viper.SetConfigType("yaml")
	}

	// Read environment variables that match "CALIBAN_VARNAME"
	viper.SetEnvPrefix("CALIBAN")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig() // a missing config file is fine
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.caliban.yaml)")

	rootCmd.PersistentFlags().String("registry-path", "", "registry file location (default is $HOME/.config/caliban/registry.db)")
	viper.BindPFlag("registry_path", rootCmd.PersistentFlags().Lookup("registry-path"))

	rootCmd.PersistentFlags().String("cloud-url", "", "base URL of the managed training service")
	viper.BindPFlag("cloud_endpoint", rootCmd.PersistentFlags().Lookup("cloud-url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for the training service")
	viper.BindPFlag("cloud_token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.PersistentFlags().String("namespace", "", "Kubernetes namespace for cluster jobs")
	viper.BindPFlag("namespace", rootCmd.PersistentFlags().Lookup("namespace"))

	rootCmd.PersistentFlags().String("otel-endpoint", "", "OTLP collector address for dispatch traces")
	viper.BindPFlag("otel_endpoint", rootCmd.PersistentFlags().Lookup("otel-endpoint"))

	rootCmd.PersistentFlags().String("metrics-addr", "", "address to serve Prometheus /metrics on")
	viper.BindPFlag("metrics_addr", rootCmd.PersistentFlags().Lookup("metrics-addr"))
}
