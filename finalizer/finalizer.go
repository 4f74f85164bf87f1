// Package finalizer implements the Finalizer import pipeline (spec.md
// §4.I): it orchestrates the Manifest Store's extracted document through
// ComfyUI materialization, dependency install, node sync, workflow copy,
// model acquisition, and workflow path rewriting, emitting phase and
// per-item callbacks throughout. Grounded on the teacher's
// packages/core/progress.Reporter shape for the callback contract and on
// its batch-collect-errors convention (internal/cerr.Batch) for "partial
// success is not failure" (§4.I).
package finalizer

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/comfydock/comfydock-core/analyzer"
	"github.com/comfydock/comfydock-core/downloader"
	"github.com/comfydock/comfydock-core/gitvcs"
	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/loadercat"
	"github.com/comfydock/comfydock-core/manifest"
	"github.com/comfydock/comfydock-core/model"
	"github.com/comfydock/comfydock-core/modelindex"
	"github.com/comfydock/comfydock-core/packager"
	"github.com/comfydock/comfydock-core/pyinstall"
	"github.com/comfydock/comfydock-core/resolver"
	"github.com/comfydock/comfydock-core/workflowparser"
)

// DefaultComfyUIRepoURL is the upstream ComfyUI repository cloned during
// materialization (§4.I.1) when Request.ComfyUIRepoURL is unset; the
// manifest pins a version but never a repository URL (§3.4).
const DefaultComfyUIRepoURL = "https://github.com/comfyanonymous/ComfyUI.git"

// Request carries everything Finalize needs to reconstruct one environment
// from an extracted import.
type Request struct {
	Imported packager.Imported

	// EnvironmentDir is the root directory for the reconstructed
	// environment; Finalize refuses to run if it already exists (§4.I
	// "target path exists" is a catastrophic, aborting failure).
	EnvironmentDir  string
	ComfyUIDir      string // defaults to EnvironmentDir/ComfyUI
	CustomNodesDir  string // defaults to ComfyUIDir/custom_nodes
	WorkflowsDir    string // defaults to ComfyUIDir/user/default/workflows
	ComfyUIRepoURL  string // defaults to DefaultComfyUIRepoURL
	ComfyUICacheDir string // optional: parent of cached revisions, keyed by revision string

	VCS        gitvcs.VCS
	Installer  pyinstall.Installer
	Nodes      NodeInstaller
	Index      modelindex.Index
	Downloader *downloader.Downloader
	Registry   *loadercat.Registry
	Strategy   analyzer.Strategy
	Reporter   Reporter
}

// ImportResult enumerates what succeeded and what failed (§4.I "Partial
// success is not failure"). Only a ComfyUI clone failure sets Aborted and
// leaves the later batches empty. An environment directory that already
// exists is refused with an error before any phase starts; Aborted stays
// false in that case.
type ImportResult struct {
	NodesInstalled  cerr.Batch
	WorkflowsCopied cerr.Batch
	ModelsAcquired  cerr.Batch
	ModelsSkipped   []string // filenames left unresolved under the active strategy

	ResolveResults   map[string]resolver.Result // workflow name -> resolve outcome
	UpdatedWorkflows map[string][]byte           // workflow name -> JSON after path rewriting
	CustomNodeTypes  map[string][]string         // workflow name -> node types absent from the builtin lookup (§4.D)

	Aborted    bool
	AbortPhase Phase
	AbortErr   error
}

// Finalize runs the seven-step import pipeline (§4.I) against req.
func Finalize(ctx context.Context, req Request) (ImportResult, error) {
	result := ImportResult{
		ResolveResults:   map[string]resolver.Result{},
		UpdatedWorkflows: map[string][]byte{},
		CustomNodeTypes:  map[string][]string{},
	}
	reporter := req.Reporter
	if reporter == nil {
		reporter = NoOp{}
	}
	req = withDefaults(req)

	if _, err := os.Stat(req.EnvironmentDir); err == nil {
		err := cerr.New(cerr.KindConflict, "environment directory already exists", nil).
			WithDetails(map[string]any{"dir": req.EnvironmentDir})
		return result, err
	} else if !os.IsNotExist(err) {
		return result, cerr.New(cerr.KindTransport, "checking environment directory", err)
	}

	doc := req.Imported.Document

	reporter.OnPhaseStart(PhaseCloneComfyUI)
	if err := materializeComfyUI(ctx, req, doc.Environment); err != nil {
		reporter.OnError(PhaseCloneComfyUI, err)
		_ = os.RemoveAll(req.EnvironmentDir)
		result.Aborted = true
		result.AbortPhase = PhaseCloneComfyUI
		result.AbortErr = err
		return result, err
	}
	reporter.OnPhaseComplete(PhaseCloneComfyUI)

	reporter.OnPhaseStart(PhaseInstallDeps)
	installDeps(ctx, req, doc, reporter)
	reporter.OnPhaseComplete(PhaseInstallDeps)

	reporter.OnPhaseStart(PhaseSyncNodes)
	syncNodes(ctx, req, doc, &result, reporter)
	reporter.OnPhaseComplete(PhaseSyncNodes)

	reporter.OnPhaseStart(PhaseCopyWorkflows)
	copied := copyWorkflows(req, &result, reporter)
	reporter.OnPhaseComplete(PhaseCopyWorkflows)

	reporter.OnPhaseStart(PhaseResolveModels)
	resolveAndAcquireModels(ctx, req, doc, copied, &result, reporter)
	reporter.OnPhaseComplete(PhaseResolveModels)

	return result, nil
}

func withDefaults(req Request) Request {
	if req.ComfyUIDir == "" {
		req.ComfyUIDir = filepath.Join(req.EnvironmentDir, "ComfyUI")
	}
	if req.CustomNodesDir == "" {
		req.CustomNodesDir = filepath.Join(req.ComfyUIDir, "custom_nodes")
	}
	if req.WorkflowsDir == "" {
		req.WorkflowsDir = filepath.Join(req.ComfyUIDir, "user", "default", "workflows")
	}
	if req.ComfyUIRepoURL == "" {
		req.ComfyUIRepoURL = DefaultComfyUIRepoURL
	}
	return req
}

// materializeComfyUI clones the pinned ComfyUI revision, or restores it from
// a cache directory keyed by revision string if one is configured and
// populated (§4.I.1).
func materializeComfyUI(ctx context.Context, req Request, env model.EnvironmentMeta) error {
	if req.ComfyUICacheDir != "" {
		cached := filepath.Join(req.ComfyUICacheDir, env.ComfyUIVersion)
		if info, err := os.Stat(cached); err == nil && info.IsDir() {
			return copyDirectoryTree(cached, req.ComfyUIDir)
		}
	}

	if req.VCS == nil {
		return cerr.New(cerr.KindInvariantViolation, "finalizer: no VCS collaborator configured", nil)
	}

	switch env.ComfyUIVersionType {
	case model.ComfyUICommit:
		if err := req.VCS.Clone(ctx, req.ComfyUIRepoURL, req.ComfyUIDir, "", 0); err != nil {
			return err
		}
		return req.VCS.ResetHard(ctx, req.ComfyUIDir, env.ComfyUIVersion)
	default: // release tag or branch name, both clonable via --branch
		return req.VCS.Clone(ctx, req.ComfyUIRepoURL, req.ComfyUIDir, env.ComfyUIVersion, 1)
	}
}

// installDeps delegates to the Python dependency collaborator (§4.I.2,
// §6.2). Failure here is a per-item failure, not fatal (§4.J "only clone is
// fatal"), so it is reported but does not abort the pipeline.
func installDeps(ctx context.Context, req Request, doc manifest.Document, reporter Reporter) {
	if req.Installer == nil {
		return
	}
	manifestPath := filepath.Join(req.EnvironmentDir, "pyproject.toml")
	toml, err := manifest.EncodeTOML(doc)
	if err != nil {
		reporter.OnError(PhaseInstallDeps, err)
		return
	}
	if err := os.WriteFile(manifestPath, toml, 0o644); err != nil {
		reporter.OnError(PhaseInstallDeps, cerr.New(cerr.KindDiskFull, "writing persistent manifest for dependency install", err))
		return
	}
	if err := req.Installer.SyncProject(ctx, manifestPath, false); err != nil {
		reporter.OnError(PhaseInstallDeps, err)
	}
}

// syncNodes installs each registry/git custom node and restores each
// development node's bundled source from the archive's dev_nodes/ subtree
// (§4.I.3).
func syncNodes(ctx context.Context, req Request, doc manifest.Document, result *ImportResult, reporter Reporter) {
	for _, node := range doc.Nodes {
		var err error
		if node.Source == model.NodeSourceDevelopment {
			err = restoreDevNode(req, node)
		} else if req.Nodes != nil {
			err = req.Nodes.Install(ctx, node, req.CustomNodesDir)
		} else {
			err = cerr.New(cerr.KindInvariantViolation, "finalizer: no node installer configured", nil)
		}

		if err != nil {
			result.NodesInstalled.Fail(node.Name, err)
			reporter.OnNodeInstalled(node.Name, err)
			continue
		}
		result.NodesInstalled.Ok()
		reporter.OnNodeInstalled(node.Name, nil)
	}
}

// restoreDevNode writes a development node's bundled dev_nodes/<name>/...
// files to its DevPath under the custom-nodes directory.
func restoreDevNode(req Request, node model.NodeEntry) error {
	prefix := path.Join("dev_nodes", node.Name) + "/"
	target := node.DevPath
	if target == "" {
		target = node.Name
	}
	destRoot := filepath.Join(req.CustomNodesDir, target)

	var wrote int
	for archivePath, data := range req.Imported.DevNodeFiles {
		if !hasPrefix(archivePath, prefix) {
			continue
		}
		rel := archivePath[len(prefix):]
		dest := filepath.Join(destRoot, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return cerr.New(cerr.KindDiskFull, "creating development node directory", err)
		}
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			return cerr.New(cerr.KindDiskFull, "writing development node file", err)
		}
		wrote++
	}
	if wrote == 0 {
		return cerr.Newf(cerr.KindNotFound, nil, "development node %s has no files in archive", node.Name)
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// copyWorkflows copies every tracked workflow file into the runtime
// workflows directory (§4.I.4), returning the bytes actually written keyed
// by archive file name for the resolve/acquire step that follows.
func copyWorkflows(req Request, result *ImportResult, reporter Reporter) map[string][]byte {
	copied := make(map[string][]byte, len(req.Imported.WorkflowFiles))

	if err := os.MkdirAll(req.WorkflowsDir, 0o755); err != nil {
		reporter.OnError(PhaseCopyWorkflows, cerr.New(cerr.KindDiskFull, "creating workflows directory", err))
		return copied
	}

	for name, data := range req.Imported.WorkflowFiles {
		dest := filepath.Join(req.WorkflowsDir, name)
		if err := os.WriteFile(dest, data, 0o644); err != nil {
			result.WorkflowsCopied.Fail(name, err)
			reporter.OnWorkflowCopied(name, err)
			continue
		}
		copied[name] = data
		result.WorkflowsCopied.Ok()
		reporter.OnWorkflowCopied(name, nil)
	}
	return copied
}

// resolveAndAcquireModels acquires every global-table model absent from the
// index under the active strategy (§4.I.5), then resolves each copied
// workflow against the now-updated index and rewrites resolved references'
// widget values to their local filenames (§4.I.6). Both steps share the
// resolve_models phase boundary (§4.I.7 names one "resolve_models" callback
// covering acquisition and rewriting together).
func resolveAndAcquireModels(
	ctx context.Context,
	req Request,
	doc manifest.Document,
	copied map[string][]byte,
	result *ImportResult,
	reporter Reporter,
) {
	acquireModels(ctx, req, doc.Models, result, reporter)

	builtinTypes := make(map[string]bool)
	if req.Registry != nil {
		for _, t := range req.Registry.NodeTypes() {
			builtinTypes[t] = true
		}
	}

	for _, wf := range doc.Workflows {
		base := path.Base(wf.Path)
		data, ok := copied[base]
		if !ok {
			reporter.OnWorkflowResolved(wf.Name, cerr.Newf(cerr.KindNotFound, nil, "workflow file %s missing from archive", base))
			continue
		}

		rawRefs, err := workflowparser.Parse(data, req.Registry)
		if err != nil {
			reporter.OnWorkflowResolved(wf.Name, err)
			continue
		}

		// §4.D "custom node detection": cross-reference node types absent
		// from the builtin lookup against the manifest's declared custom
		// nodes, flagging workflows whose node types are entirely
		// unaccounted for.
		if customTypes, err := workflowparser.DetectCustomNodeTypes(data, builtinTypes); err == nil && len(customTypes) > 0 {
			result.CustomNodeTypes[wf.Name] = customTypes
			if len(doc.Nodes) == 0 {
				reporter.OnError(PhaseSyncNodes, cerr.Newf(cerr.KindNotFound, nil,
					"workflow %s references custom node types %v but the manifest declares no custom nodes", wf.Name, customTypes))
			}
		}

		resolved, resResult, err := resolver.Resolve(ctx, rawRefs, wf.References, req.Index, resolver.AutoStrategy{})
		if err != nil {
			reporter.OnWorkflowResolved(wf.Name, err)
			continue
		}
		result.ResolveResults[wf.Name] = resResult

		updated, changed := rewriteResolvedPaths(resolved, doc.Models, data)
		if changed {
			result.UpdatedWorkflows[wf.Name] = updated
			dest := filepath.Join(req.WorkflowsDir, base)
			tmp := dest + ".tmp"
			if err := os.WriteFile(tmp, updated, 0o644); err == nil {
				_ = os.Rename(tmp, dest)
			}
		}

		reporter.OnWorkflowResolved(wf.Name, nil)
	}
}

// acquireModels downloads each entry of the manifest's global model table
// that has no Location in the index yet, gated by req.Strategy (§4.I.5):
// required models always download if sourced; flexible/optional only under
// StrategyAll; nothing downloads under StrategySkip.
func acquireModels(ctx context.Context, req Request, entries []model.GlobalModelEntry, result *ImportResult, reporter Reporter) {
	for _, entry := range entries {
		if req.Index != nil {
			if m, found, err := req.Index.Get(ctx, entry.Hash); err == nil && found && len(m.Locations) > 0 {
				continue // already local, nothing to acquire
			}
		}

		if len(entry.Sources) == 0 {
			result.ModelsSkipped = append(result.ModelsSkipped, entry.Filename)
			continue
		}

		switch req.Strategy {
		case analyzer.StrategySkip:
			result.ModelsSkipped = append(result.ModelsSkipped, entry.Filename)
			continue
		case analyzer.StrategyRequired:
			if entry.Criticality != model.CriticalityRequired {
				result.ModelsSkipped = append(result.ModelsSkipped, entry.Filename)
				continue
			}
		}

		if req.Downloader == nil {
			noDownloaderErr := cerr.New(cerr.KindInvariantViolation, "finalizer: no downloader configured", nil)
			result.ModelsAcquired.Fail(entry.Filename, noDownloaderErr)
			reporter.OnModelAcquired(entry.Filename, noDownloaderErr)
			continue
		}

		dlReq := downloader.Request{
			URL:                entry.Sources[0],
			TargetRelativePath: entry.RelativePath,
			ExpectedSize:       entry.Size,
			ExpectedHash:       entry.Hash,
		}
		dlResult, err := req.Downloader.Download(ctx, dlReq, nil)
		if err != nil {
			result.ModelsAcquired.Fail(entry.Filename, err)
			reporter.OnModelAcquired(entry.Filename, err)
			continue
		}
		result.ModelsAcquired.Ok()
		reporter.OnModelAcquired(entry.Filename, nil)

		if req.Index != nil {
			now := time.Now()
			_ = req.Index.Upsert(ctx, model.Model{
				Hash:       entry.Hash,
				Size:       dlResult.Bytes,
				ModifiedAt: now,
				Locations: []model.Location{{
					RelativePath: entry.RelativePath,
					Filename:     entry.Filename,
					MTime:        now,
					LastSeen:     now,
				}},
			})
		}
	}
}

// rewriteResolvedPaths updates every resolved reference's widget value to
// its global-table filename (§4.I.6), returning the rewritten bytes and
// whether anything changed.
func rewriteResolvedPaths(resolved []model.Reference, entries []model.GlobalModelEntry, data []byte) ([]byte, bool) {
	entryByHash := make(map[model.QuickHash]model.GlobalModelEntry, len(entries))
	for _, e := range entries {
		entryByHash[e.Hash] = e
	}

	updated := data
	changed := false
	for _, ref := range resolved {
		if ref.Status != model.StatusResolved {
			continue
		}
		entry, ok := entryByHash[ref.Hash]
		if !ok || entry.Filename == ref.WidgetValue {
			continue
		}
		if newData, err := rewriteWidgetValue(updated, ref.NodeID, ref.WidgetIndex, entry.Filename); err == nil {
			updated = newData
			changed = true
		}
	}
	return updated, changed
}
