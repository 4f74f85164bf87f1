// Package packager implements the Export/Import Packager (spec.md §4.G): a
// gzip-compressed tar archive of a configuration directory's manifest,
// workflows, and development-node sources, plus the counterpart safe
// extractor.
package packager

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/gzip"

	"github.com/comfydock/comfydock-core/gitvcs"
	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/manifest"
	"github.com/comfydock/comfydock-core/model"
)

// DefaultIgnorePatterns are always applied during export, on top of whatever
// a .comfydock_ignore file adds (§4.G.2), grounded on the teacher's
// autoload.DefaultExcludes list of VCS/build-noise patterns.
var DefaultIgnorePatterns = []string{
	".git",
	".git/**",
	"__pycache__",
	"__pycache__/**",
	"*.pyc",
	".DS_Store",
}

const maxDevNodeBytes = 200 * 1024 * 1024 // 200 MiB, §4.G.2

// Source describes what Export reads from disk to build an archive.
type Source struct {
	ConfigDir     string          // directory holding manifest.json / pyproject.toml
	VCS           gitvcs.VCS      // nil skips the uncommitted-workflow check
	Document      manifest.Document
	WorkflowFiles map[string][]byte // workflow name -> JSON bytes
	DevNodeDirs   map[string]string // node name -> absolute directory path
	AllowIssues   bool              // bypass the dirty/unresolved refusal (§4.G.1)
	IgnorePatterns []string         // extra doublestar patterns from .comfydock_ignore
}

// Export writes a gzip-compressed tar archive per §4.G.3 to w.
func Export(ctx context.Context, w io.Writer, src Source) error {
	if !src.AllowIssues {
		if err := checkExportable(ctx, src); err != nil {
			return err
		}
	}

	gz := gzip.NewWriter(w)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	manifestJSON, err := manifestJSON(src.Document)
	if err != nil {
		return err
	}
	if err := writeTarFile(tw, "manifest.json", manifestJSON); err != nil {
		return err
	}

	toml, err := manifestTOML(src.Document)
	if err != nil {
		return err
	}
	if err := writeTarFile(tw, "pyproject.toml", toml); err != nil {
		return err
	}

	for name, data := range src.WorkflowFiles {
		if err := writeTarFile(tw, path.Join("workflows", name), data); err != nil {
			return err
		}
	}

	patterns := append(append([]string{}, DefaultIgnorePatterns...), src.IgnorePatterns...)
	for node, dir := range src.DevNodeDirs {
		size, err := dirSize(dir, patterns)
		if err != nil {
			return err
		}
		if size > maxDevNodeBytes && !src.AllowIssues {
			return cerr.New(cerr.KindValidation, "development node directory exceeds 200 MiB", nil).
				WithDetails(map[string]any{"node": node, "bytes": size})
		}
		if err := writeDevNodeDir(tw, node, dir, patterns); err != nil {
			return err
		}
	}

	return nil
}

// checkExportable enforces §4.G.1's two independent export-refusal
// conditions: an unresolved non-optional reference, or uncommitted changes
// to the workflow files under src.ConfigDir.
func checkExportable(ctx context.Context, src Source) error {
	for _, wf := range src.Document.Workflows {
		for _, ref := range wf.References {
			if ref.Status != model.StatusResolved && ref.Criticality != model.CriticalityOptional {
				return cerr.New(cerr.KindValidation, "export refused: unresolved non-optional reference present", nil).
					WithDetails(map[string]any{"workflow": wf.Path, "node_id": ref.NodeID})
			}
		}
	}

	if src.VCS != nil && src.ConfigDir != "" {
		dirty, err := src.VCS.IsDirty(ctx, src.ConfigDir, "workflows")
		if err != nil {
			return err
		}
		if dirty {
			return cerr.New(cerr.KindValidation, "export refused: uncommitted workflow changes", nil).
				WithDetails(map[string]any{"config_dir": src.ConfigDir})
		}
	}
	return nil
}

func writeTarFile(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: int64(len(data)),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing tar header for %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("writing tar content for %s: %w", name, err)
	}
	return nil
}

// dirSize sums the size of every file under dir that survives patterns,
// mirroring the filter Export itself applies when archiving.
func dirSize(dir string, patterns []string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if matchesAny(patterns, filepath.ToSlash(rel)) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}

func writeDevNodeDir(tw *tar.Writer, node, dir string, patterns []string) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}
		if matchesAny(patterns, rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading dev node file %s: %w", p, err)
		}
		return writeTarFile(tw, path.Join("dev_nodes", node, rel), data)
	})
}

func matchesAny(patterns []string, relPath string) bool {
	base := path.Base(relPath)
	for _, pat := range patterns {
		if ok, _ := doublestar.Match(pat, relPath); ok {
			return true
		}
		if ok, _ := doublestar.Match(pat, base); ok {
			return true
		}
		if strings.HasPrefix(relPath, strings.TrimSuffix(pat, "/**")+"/") {
			return true
		}
	}
	return false
}

func manifestJSON(doc manifest.Document) ([]byte, error) {
	return manifest.EncodeJSON(doc)
}

func manifestTOML(doc manifest.Document) ([]byte, error) {
	return manifest.EncodeTOML(doc)
}
