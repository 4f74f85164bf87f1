package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/comfydock/comfydock-core/gitvcs"
	"github.com/comfydock/comfydock-core/manifest"
	"github.com/comfydock/comfydock-core/packager"
)

var (
	exportManifestPath string
	exportWorkflowsDir string
	exportOutPath      string
	exportAllowIssues  bool
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Package a configuration directory's manifest and workflows into an archive",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportManifestPath, "manifest", "", "path to pyproject.toml (required)")
	exportCmd.Flags().StringVar(&exportWorkflowsDir, "workflows-dir", "", "directory of workflow JSON files to include")
	exportCmd.Flags().StringVar(&exportOutPath, "out", "", "output archive path (required)")
	exportCmd.Flags().BoolVar(&exportAllowIssues, "allow-issues", false, "export even with unresolved required references")
	_ = exportCmd.MarkFlagRequired("manifest")
	_ = exportCmd.MarkFlagRequired("out")
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	doc, err := manifest.Load(exportManifestPath)
	if err != nil {
		return fmt.Errorf("loading manifest: %w", err)
	}

	workflowFiles := map[string][]byte{}
	if exportWorkflowsDir != "" {
		entries, err := os.ReadDir(exportWorkflowsDir)
		if err != nil {
			return fmt.Errorf("reading workflows directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			data, err := os.ReadFile(filepath.Join(exportWorkflowsDir, e.Name())) //nolint:gosec // operator-provided path
			if err != nil {
				return fmt.Errorf("reading workflow %s: %w", e.Name(), err)
			}
			workflowFiles[e.Name()] = data
		}
	}

	out, err := os.Create(exportOutPath) //nolint:gosec // operator-provided path
	if err != nil {
		return fmt.Errorf("creating output archive: %w", err)
	}
	defer func() { _ = out.Close() }()

	if err := packager.Export(ctx, out, packager.Source{
		ConfigDir:     filepath.Dir(exportManifestPath),
		VCS:           gitvcs.New(),
		Document:      doc,
		WorkflowFiles: workflowFiles,
		AllowIssues:   exportAllowIssues,
	}); err != nil {
		return fmt.Errorf("exporting archive: %w", err)
	}

	fmt.Fprintf(os.Stdout, "wrote %s\n", exportOutPath)
	return nil
}
