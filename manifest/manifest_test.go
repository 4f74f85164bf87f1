package manifest

import (
	"path/filepath"
	"testing"

	"github.com/comfydock/comfydock-core/model"
)

func sampleDocument() Document {
	var h1, h2 model.QuickHash
	h1[0] = 0xaa
	h2[0] = 0xbb
	return Document{
		Environment: model.EnvironmentMeta{
			ComfyUIVersion:     "0.3.10",
			ComfyUIVersionType: model.ComfyUIRelease,
			PythonVersion:      "3.11.9",
		},
		Models: []model.GlobalModelEntry{
			{Hash: h2, Filename: "b.safetensors", Size: 200, RelativePath: "checkpoints/b.safetensors", Category: "checkpoints", Criticality: model.CriticalityRequired, Sources: []string{"https://example.com/b"}},
			{Hash: h1, Filename: "a.safetensors", Size: 100, RelativePath: "checkpoints/a.safetensors", Category: "checkpoints", Criticality: model.CriticalityFlexible},
		},
		Workflows: []model.WorkflowEntry{
			{Name: "demo", Path: "workflows/demo.json", References: []model.Reference{
				{NodeID: "5", WidgetIndex: 0, Criticality: model.CriticalityRequired, Status: model.StatusResolved, Hash: h1},
				{NodeID: "2", WidgetIndex: 0, Criticality: model.CriticalityOptional, Status: model.StatusUnresolved},
			}},
		},
		Nodes: []model.NodeEntry{
			{Name: "ComfyUI-Impact-Pack", Source: model.NodeSourceRegistry, InstallSpec: "impact-pack@7.0", Requirements: []model.PackageSpec{{Specifier: "ultralytics>=8"}}},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.toml")
	original := sampleDocument()

	if err := Save(path, original); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Environment != original.Environment {
		t.Errorf("Environment = %+v, want %+v", loaded.Environment, original.Environment)
	}
	if len(loaded.Models) != len(original.Models) {
		t.Fatalf("Models count = %d, want %d", len(loaded.Models), len(original.Models))
	}
	// sortForDiff orders by hash, so index 0 after round-trip must be h1 (0xaa < 0xbb).
	if loaded.Models[0].Filename != "a.safetensors" {
		t.Errorf("Models[0].Filename = %s, want a.safetensors (sorted by hash)", loaded.Models[0].Filename)
	}
	if len(loaded.Workflows) != 1 || len(loaded.Workflows[0].References) != 2 {
		t.Fatalf("Workflows = %+v, want 1 workflow with 2 references", loaded.Workflows)
	}
	if loaded.Workflows[0].Name != "demo" {
		t.Errorf("Workflows[0].Name = %s, want demo", loaded.Workflows[0].Name)
	}
	if loaded.Workflows[0].References[0].NodeID != "2" {
		t.Errorf("References[0].NodeID = %s, want 2 (sorted by node id)", loaded.Workflows[0].References[0].NodeID)
	}
	if len(loaded.Nodes) != 1 || loaded.Nodes[0].Name != "ComfyUI-Impact-Pack" {
		t.Errorf("Nodes = %+v", loaded.Nodes)
	}
}

func TestContentHashStableAcrossFieldOrder(t *testing.T) {
	doc := sampleDocument()
	h1, err := ContentHash(doc)
	if err != nil {
		t.Fatalf("ContentHash() error = %v", err)
	}

	// Shuffle input slice order; sortForDiff inside ContentHash must make the
	// digest identical regardless of caller-supplied ordering (§8 idempotence).
	shuffled := doc
	shuffled.Models = []model.GlobalModelEntry{doc.Models[1], doc.Models[0]}
	h2, err := ContentHash(shuffled)
	if err != nil {
		t.Fatalf("ContentHash() (shuffled) error = %v", err)
	}

	if h1 != h2 {
		t.Errorf("ContentHash differs after reordering input slices: %s != %s", h1, h2)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err == nil {
		t.Fatalf("Load() error = nil, want not-found error")
	}
}

func TestSave_AtomicReplaceLeavesNoTempFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "manifest.toml")
	if err := Save(path, sampleDocument()); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	entries, err := filepathGlobTmp(filepath.Dir(path))
	if err != nil {
		t.Fatalf("globbing temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("leftover temp files after Save(): %v", entries)
	}
}

func filepathGlobTmp(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, ".manifest-*.tmp"))
}
