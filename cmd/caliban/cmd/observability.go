package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"caliban/internal/observability"
)

// Observability handles, populated by setupObservability when the matching
// flags are set and torn down by ShutdownObservability from main.
var (
	shutdownTracer  func(context.Context) error
	shutdownMetrics func(context.Context) error
	metricsServer   *http.Server
)

// setupObservability initializes tracing and the metrics endpoint before any
// verb runs. Both are off unless configured: without an OTLP endpoint the
// dispatch spans stay no-ops, and without a metrics address nothing listens.
func setupObservability(cmd *cobra.Command) error {
	if endpoint := viper.GetString("otel_endpoint"); endpoint != "" {
		shutdown, err := observability.InitTracer(cmd.Context(), "caliban", endpoint)
		if err != nil {
			return fmt.Errorf("failed to init tracing: %w", err)
		}
		shutdownTracer = shutdown
	}

	if addr := viper.GetString("metrics_addr"); addr != "" {
		handler, shutdown, err := observability.InitMetrics()
		if err != nil {
			return fmt.Errorf("failed to init metrics: %w", err)
		}
		shutdownMetrics = shutdown

		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		metricsServer = &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				fmt.Fprintln(cmd.ErrOrStderr(), "metrics server stopped:", err)
			}
		}()
	}
	return nil
}

// ShutdownObservability flushes pending spans and stops the metrics server.
// main defers it so it runs on every exit path, error or not.
func ShutdownObservability() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if metricsServer != nil {
		metricsServer.Shutdown(ctx)
	}
	if shutdownMetrics != nil {
		shutdownMetrics(ctx)
	}
	if shutdownTracer != nil {
		shutdownTracer(ctx)
	}
}
