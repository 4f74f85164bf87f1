package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/comfydock/comfydock-core/modelindex"
)

var (
	scanModelsRoot string
	scanIndexDir   string
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Rescan a models directory and record changes in the index",
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().StringVar(&scanModelsRoot, "models-root", "", "directory to walk (required)")
	scanCmd.Flags().StringVar(&scanIndexDir, "index-dir", "", "workspace directory holding the model index database (required)")
	_ = scanCmd.MarkFlagRequired("models-root")
	_ = scanCmd.MarkFlagRequired("index-dir")
}

func runScan(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	idx, err := modelindex.Open(scanIndexDir)
	if err != nil {
		return fmt.Errorf("opening model index: %w", err)
	}
	defer func() { _ = idx.Close() }()

	result, err := modelindex.Scan(ctx, idx, scanModelsRoot, nil)
	if err != nil {
		return fmt.Errorf("scanning models directory: %w", err)
	}

	fmt.Fprintf(os.Stdout, "scanned %d files, hashed %d, pruned %d stale locations\n",
		result.FilesScanned, result.FilesHashed, result.LocationsPruned)
	return nil
}
