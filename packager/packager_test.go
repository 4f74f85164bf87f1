package packager

import (
	"archive/tar"
	"bytes"
	"context"
	"path"
	"testing"

	"github.com/klauspost/compress/gzip"

	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/manifest"
	"github.com/comfydock/comfydock-core/model"
)

func sampleDoc() manifest.Document {
	return manifest.Document{
		Environment: model.EnvironmentMeta{
			ComfyUIVersion:     "v0.3.10",
			ComfyUIVersionType: model.ComfyUIRelease,
			PythonVersion:      "3.11",
		},
		Models: []model.GlobalModelEntry{
			{Filename: "a.safetensors", Size: 10, Category: "checkpoints", Criticality: model.CriticalityRequired},
		},
		Workflows: []model.WorkflowEntry{
			{Path: "wf1.json", References: []model.Reference{
				{NodeID: "1", WidgetIndex: 0, Status: model.StatusResolved, Criticality: model.CriticalityRequired},
			}},
		},
	}
}

func TestExportImport_RoundTrip(t *testing.T) {
	doc := sampleDoc()
	var buf bytes.Buffer
	err := Export(context.Background(), &buf, Source{
		Document:      doc,
		WorkflowFiles: map[string][]byte{"wf1.json": []byte(`{"nodes":[]}`)},
	})
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	imported, err := Import(&buf)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if len(imported.Document.Workflows) != 1 || imported.Document.Workflows[0].Path != "wf1.json" {
		t.Errorf("imported document workflows = %+v, want one wf1.json entry", imported.Document.Workflows)
	}
	if string(imported.WorkflowFiles["wf1.json"]) != `{"nodes":[]}` {
		t.Errorf("imported workflow file = %q", imported.WorkflowFiles["wf1.json"])
	}
}

func TestExport_RefusesUnresolvedRequiredReference(t *testing.T) {
	doc := sampleDoc()
	doc.Workflows[0].References[0].Status = model.StatusUnresolved
	doc.Workflows[0].References[0].Criticality = model.CriticalityRequired

	var buf bytes.Buffer
	err := Export(context.Background(), &buf, Source{Document: doc})
	if !cerr.Is(err, cerr.KindValidation) {
		t.Fatalf("err = %v, want KindValidation", err)
	}
}

func TestExport_AllowIssuesBypassesRefusal(t *testing.T) {
	doc := sampleDoc()
	doc.Workflows[0].References[0].Status = model.StatusUnresolved
	doc.Workflows[0].References[0].Criticality = model.CriticalityRequired

	var buf bytes.Buffer
	err := Export(context.Background(), &buf, Source{Document: doc, AllowIssues: true})
	if err != nil {
		t.Fatalf("Export() with AllowIssues error = %v", err)
	}
}

type fakeDirtyVCS struct{ dirty bool }

func (f fakeDirtyVCS) Clone(context.Context, string, string, string, int) error { return nil }
func (f fakeDirtyVCS) Init(context.Context, string) error                      { return nil }
func (f fakeDirtyVCS) AddAll(context.Context, string) error                    { return nil }
func (f fakeDirtyVCS) Commit(context.Context, string, string) error            { return nil }
func (f fakeDirtyVCS) RevParse(context.Context, string, string) (string, error) {
	return "", nil
}
func (f fakeDirtyVCS) CurrentBranch(context.Context, string) (string, error) { return "", nil }
func (f fakeDirtyVCS) Fetch(context.Context, string, string) error           { return nil }
func (f fakeDirtyVCS) Merge(context.Context, string, string, bool) error     { return nil }
func (f fakeDirtyVCS) Push(context.Context, string, string, string) error    { return nil }
func (f fakeDirtyVCS) RemoteAdd(context.Context, string, string, string) error {
	return nil
}
func (f fakeDirtyVCS) RemoteRemove(context.Context, string, string) error { return nil }
func (f fakeDirtyVCS) RemoteList(context.Context, string) ([]string, error) {
	return nil, nil
}
func (f fakeDirtyVCS) RemoteGetURL(context.Context, string, string) (string, error) {
	return "", nil
}
func (f fakeDirtyVCS) ResetHard(context.Context, string, string) error { return nil }
func (f fakeDirtyVCS) IsDirty(context.Context, string, ...string) (bool, error) {
	return f.dirty, nil
}

func TestExport_RefusesUncommittedWorkflowChanges(t *testing.T) {
	doc := sampleDoc()
	var buf bytes.Buffer
	err := Export(context.Background(), &buf, Source{
		ConfigDir: "/configs/env",
		VCS:       fakeDirtyVCS{dirty: true},
		Document:  doc,
	})
	if !cerr.Is(err, cerr.KindValidation) {
		t.Fatalf("err = %v, want KindValidation for uncommitted workflow changes", err)
	}
}

func TestExport_CleanWorkingTreeExportsNormally(t *testing.T) {
	doc := sampleDoc()
	var buf bytes.Buffer
	err := Export(context.Background(), &buf, Source{
		ConfigDir: "/configs/env",
		VCS:       fakeDirtyVCS{dirty: false},
		Document:  doc,
	})
	if err != nil {
		t.Fatalf("Export() error = %v, want nil for a clean working tree", err)
	}
}

func TestExport_NeverIncludesModelFiles(t *testing.T) {
	doc := sampleDoc()
	var buf bytes.Buffer
	if err := Export(context.Background(), &buf, Source{Document: doc}); err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	gz, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err != nil {
			break
		}
		if path.Base(hdr.Name) == "a.safetensors" {
			t.Errorf("archive unexpectedly contains a model file: %s", hdr.Name)
		}
	}
}

func TestSafeExtract_RejectsParentDirectoryEscape(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	data := []byte("malicious")
	tw.WriteHeader(&tar.Header{Name: "../../etc/passwd", Size: int64(len(data)), Mode: 0o644})
	tw.Write(data)
	tw.Close()
	gz.Close()

	_, err := SafeExtract(&buf)
	if !cerr.Is(err, cerr.KindValidation) {
		t.Fatalf("err = %v, want KindValidation for a path-traversal entry", err)
	}
}

func TestSafeExtract_RejectsAbsolutePath(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	data := []byte("malicious")
	tw.WriteHeader(&tar.Header{Name: "/etc/passwd", Size: int64(len(data)), Mode: 0o644})
	tw.Write(data)
	tw.Close()
	gz.Close()

	_, err := SafeExtract(&buf)
	if !cerr.Is(err, cerr.KindValidation) {
		t.Fatalf("err = %v, want KindValidation for an absolute-path entry", err)
	}
}

func TestSafeExtract_RejectsSymlinkEscape(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	tw.WriteHeader(&tar.Header{
		Name:     "workflows/evil",
		Typeflag: tar.TypeSymlink,
		Linkname: "../../../etc/passwd",
	})
	tw.Close()
	gz.Close()

	_, err := SafeExtract(&buf)
	if !cerr.Is(err, cerr.KindValidation) {
		t.Fatalf("err = %v, want KindValidation for a symlink escaping the archive root", err)
	}
}

func TestMatchesAny_GitignoreStyle(t *testing.T) {
	patterns := []string{".git", ".git/**", "*.pyc", "__pycache__/**"}
	cases := map[string]bool{
		".git/HEAD":             true,
		"src/module.pyc":        true,
		"__pycache__/x.pyc":     true,
		"src/main.py":           false,
	}
	for relPath, want := range cases {
		if got := matchesAny(patterns, relPath); got != want {
			t.Errorf("matchesAny(%q) = %v, want %v", relPath, got, want)
		}
	}
}
