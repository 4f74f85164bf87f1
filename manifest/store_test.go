package manifest

import (
	"path/filepath"
	"testing"

	"github.com/comfydock/comfydock-core/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "manifest.toml")
	s, err := OpenOrCreate(path)
	if err != nil {
		t.Fatalf("OpenOrCreate() error = %v", err)
	}
	return s
}

func TestStore_PutGetDeleteWorkflow(t *testing.T) {
	s := newTestStore(t)

	if _, ok := s.GetWorkflow("demo"); ok {
		t.Fatalf("GetWorkflow() found entry in empty store")
	}

	if err := s.PutWorkflow("demo", model.WorkflowEntry{Path: "workflows/demo.json"}); err != nil {
		t.Fatalf("PutWorkflow() error = %v", err)
	}

	entry, ok := s.GetWorkflow("demo")
	if !ok || entry.Path != "workflows/demo.json" || entry.Name != "demo" {
		t.Errorf("GetWorkflow() = %+v, %v", entry, ok)
	}

	// Persisted immediately: a fresh Store opened from the same path sees it.
	reopened, err := Open(s.path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, ok := reopened.GetWorkflow("demo"); !ok {
		t.Errorf("reopened store missing workflow written by prior Store")
	}

	if err := s.DeleteWorkflow("demo"); err != nil {
		t.Fatalf("DeleteWorkflow() error = %v", err)
	}
	if _, ok := s.GetWorkflow("demo"); ok {
		t.Errorf("workflow still present after DeleteWorkflow()")
	}
}

func TestStore_AddModel_PromotesCriticality(t *testing.T) {
	s := newTestStore(t)
	h := model.QuickHash{0xaa}

	if err := s.AddModel(h, model.GlobalModelEntry{Filename: "a.safetensors", Criticality: model.CriticalityOptional}); err != nil {
		t.Fatalf("AddModel() error = %v", err)
	}
	if err := s.AddModel(h, model.GlobalModelEntry{Filename: "a.safetensors", Criticality: model.CriticalityRequired}); err != nil {
		t.Fatalf("AddModel() error = %v", err)
	}

	models := s.GetAllModels()
	if len(models) != 1 || models[0].Criticality != model.CriticalityRequired {
		t.Errorf("models = %+v, want one entry promoted to required", models)
	}
}

func TestStore_RemoveOrphanModels(t *testing.T) {
	s := newTestStore(t)
	referenced := model.QuickHash{0x01}
	orphan := model.QuickHash{0x02}
	sourced := model.QuickHash{0x03}

	for _, m := range []model.GlobalModelEntry{
		{Hash: referenced, Filename: "ref.safetensors"},
		{Hash: orphan, Filename: "orphan.safetensors"},
		{Hash: sourced, Filename: "sourced.safetensors", Sources: []string{"https://example.com/x"}},
	} {
		if err := s.AddModel(m.Hash, m); err != nil {
			t.Fatalf("AddModel() error = %v", err)
		}
	}
	if err := s.PutWorkflow("demo", model.WorkflowEntry{
		Path: "workflows/demo.json",
		References: []model.Reference{
			{NodeID: "1", WidgetIndex: 0, Status: model.StatusResolved, Hash: referenced, Criticality: model.CriticalityRequired},
		},
	}); err != nil {
		t.Fatalf("PutWorkflow() error = %v", err)
	}

	removed, err := s.RemoveOrphanModels()
	if err != nil {
		t.Fatalf("RemoveOrphanModels() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	remaining := map[model.QuickHash]bool{}
	for _, m := range s.GetAllModels() {
		remaining[m.Hash] = true
	}
	if !remaining[referenced] || !remaining[sourced] || remaining[orphan] {
		t.Errorf("remaining = %+v, want referenced+sourced kept, orphan removed", remaining)
	}
}

func TestStore_PutNode_DeleteNode(t *testing.T) {
	s := newTestStore(t)
	if err := s.PutNode(model.NodeEntry{Name: "ComfyUI-Impact-Pack", Source: model.NodeSourceRegistry, InstallSpec: "impact-pack@7.0"}); err != nil {
		t.Fatalf("PutNode() error = %v", err)
	}
	if len(s.GetNodes()) != 1 {
		t.Fatalf("GetNodes() = %+v, want 1 entry", s.GetNodes())
	}
	// Replacing by name keeps exactly one entry (§3.3 invariant).
	if err := s.PutNode(model.NodeEntry{Name: "ComfyUI-Impact-Pack", Source: model.NodeSourceRegistry, InstallSpec: "impact-pack@8.0"}); err != nil {
		t.Fatalf("PutNode() (replace) error = %v", err)
	}
	nodes := s.GetNodes()
	if len(nodes) != 1 || nodes[0].InstallSpec != "impact-pack@8.0" {
		t.Errorf("nodes = %+v, want single replaced entry", nodes)
	}

	if err := s.DeleteNode("ComfyUI-Impact-Pack"); err != nil {
		t.Fatalf("DeleteNode() error = %v", err)
	}
	if len(s.GetNodes()) != 0 {
		t.Errorf("GetNodes() after delete = %+v, want empty", s.GetNodes())
	}
}

func TestStore_Save_RejectsDanglingResolvedReference(t *testing.T) {
	s := newTestStore(t)
	dangling := model.QuickHash{0x09}
	err := s.PutWorkflow("demo", model.WorkflowEntry{
		Path: "workflows/demo.json",
		References: []model.Reference{
			{NodeID: "1", WidgetIndex: 0, Status: model.StatusResolved, Hash: dangling, Criticality: model.CriticalityRequired},
		},
	})
	if err == nil {
		t.Fatalf("PutWorkflow() error = nil, want invariant_violation for resolved ref with no global model entry")
	}
}
