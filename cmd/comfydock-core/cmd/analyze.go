package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/comfydock/comfydock-core/analyzer"
	"github.com/comfydock/comfydock-core/manifest"
	"github.com/comfydock/comfydock-core/modelindex"
)

var (
	analyzeManifestPath string
	analyzeIndexDir     string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Print a read-only report of a manifest's models, workflows, and nodes",
	RunE:  runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeManifestPath, "manifest", "", "path to pyproject.toml (required)")
	analyzeCmd.Flags().StringVar(&analyzeIndexDir, "index-dir", "", "workspace directory holding the model index database; omitted treats every model as unavailable")
	_ = analyzeCmd.MarkFlagRequired("manifest")
}

func runAnalyze(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	doc, err := manifest.Load(analyzeManifestPath)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	var idx modelindex.Index
	if analyzeIndexDir != "" {
		store, err := modelindex.Open(analyzeIndexDir)
		if err != nil {
			return fmt.Errorf("opening model index: %w", err)
		}
		defer func() { _ = store.Close() }()
		idx = store
	}

	report, err := analyzer.Analyze(ctx, doc, idx)
	if err != nil {
		return fmt.Errorf("analyzing manifest: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
