// Package cmd wires a thin demonstration CLI over the core library: enough
// to scan a models directory into the index and run the Analyzer against a
// manifest, not a replacement for the full workspace tooling §1 scopes out
// of this repository.
package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/comfydock/comfydock-core/internal/clog"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var logLevel string

var rootCmd = &cobra.Command{
	Use:           "comfydock-core",
	Short:         "Inspect and reconcile ComfyDock environment state",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command with a logger attached to its context.
func Execute() error {
	logger := clog.New(os.Stderr, logLevel)
	ctx := clog.ContextWithLogger(context.Background(), logger)
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(exportCmd)
}
