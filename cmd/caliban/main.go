// Package main is the entry point for the caliban CLI.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"caliban/cmd/caliban/cmd"
	"caliban/internal/calerr"
)

func main() {
	os.Exit(run())
}

// run wraps command execution so deferred cleanup survives the exit-code
// mapping; os.Exit in main would skip it.
func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer cmd.ShutdownObservability()

	err := cmd.Execute(ctx)
	if err == nil {
		return 0
	}

	os.Stderr.WriteString(err.Error() + "\n")

	var coder calerr.ExitCoder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}
	if ctx.Err() != nil {
		return 130
	}
	return 1
}
