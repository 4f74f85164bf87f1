package workflowparser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/comfydock/comfydock-core/loadercat"
	"github.com/comfydock/comfydock-core/model"
)

const uiFormatWorkflow = `{
	"nodes": [
		{"id": 5, "type": "CheckpointLoaderSimple", "widgets_values": ["dreamshaper_8.safetensors"]},
		{"id": 6, "type": "LoraLoader", "widgets_values": ["add_detail.safetensors", 1.0, 1.0]},
		{"id": 7, "type": "VAELoader", "widgets_values": [""]},
		{"id": 8, "type": "SomeFutureLoaderType", "widgets_values": ["mystery.bin"]}
	]
}`

const apiFormatWorkflow = `{
	"5": {"class_type": "CheckpointLoaderSimple", "inputs": {"ckpt_name": "dreamshaper_8.safetensors"}}
}`

func TestParse_UIFormat(t *testing.T) {
	refs, err := Parse([]byte(uiFormatWorkflow), loadercat.Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("Parse() returned %d refs, want 3 (empty widget_value and dropped nodes excluded)", len(refs))
	}

	byID := map[string]RawReference{}
	for _, r := range refs {
		byID[r.NodeID] = r
	}

	if r := byID["5"]; r.Category != "checkpoints" || r.WidgetValue != "dreamshaper_8.safetensors" {
		t.Errorf("node 5 = %+v, want checkpoints/dreamshaper_8.safetensors", r)
	}
	if r := byID["6"]; r.Category != "loras" || r.WidgetValue != "add_detail.safetensors" {
		t.Errorf("node 6 = %+v, want loras/add_detail.safetensors", r)
	}
	if _, ok := byID["7"]; ok {
		t.Errorf("node 7 has empty widget_value and must be ignored per §8 boundary behavior")
	}
	if r := byID["8"]; r.Category != loadercat.UnknownCategory || r.Criticality != model.CriticalityOptional {
		t.Errorf("node 8 (unknown loader type) = %+v, want category=unknown, criticality=optional", r)
	}
}

func TestParse_APIFormat(t *testing.T) {
	refs, err := Parse([]byte(apiFormatWorkflow), loadercat.Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("Parse() returned %d refs, want 1", len(refs))
	}
	if refs[0].WidgetValue != "dreamshaper_8.safetensors" {
		t.Errorf("WidgetValue = %s, want dreamshaper_8.safetensors", refs[0].WidgetValue)
	}
}

func TestParse_ZeroReferencesIsNotAnError(t *testing.T) {
	refs, err := Parse([]byte(`{"nodes": []}`), loadercat.Default())
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(refs) != 0 {
		t.Errorf("Parse() returned %d refs, want 0", len(refs))
	}
}

func TestParse_InvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`not json`), loadercat.Default())
	if err == nil {
		t.Fatalf("Parse() error = nil, want validation error")
	}
}

func TestParse_RejectsNullBytes(t *testing.T) {
	data := append([]byte(`{"nodes": []}`), 0x00)
	_, err := Parse(data, loadercat.Default())
	if err == nil {
		t.Fatalf("Parse() error = nil, want rejection of null-byte content")
	}
}

func TestDetectCustomNodeTypes_ExcludesBuiltins(t *testing.T) {
	builtins := map[string]bool{"CheckpointLoaderSimple": true, "LoraLoader": true, "VAELoader": true}
	types, err := DetectCustomNodeTypes([]byte(uiFormatWorkflow), builtins)
	if err != nil {
		t.Fatalf("DetectCustomNodeTypes() error = %v", err)
	}
	if len(types) != 1 || types[0] != "SomeFutureLoaderType" {
		t.Errorf("types = %v, want [SomeFutureLoaderType]", types)
	}
}

func TestDetectCustomNodeTypes_DedupesAndSorts(t *testing.T) {
	graph := `{"nodes": [
		{"id": 1, "type": "ZCustom", "widgets_values": ["a"]},
		{"id": 2, "type": "ACustom", "widgets_values": ["b"]},
		{"id": 3, "type": "ZCustom", "widgets_values": ["c"]}
	]}`
	types, err := DetectCustomNodeTypes([]byte(graph), map[string]bool{})
	if err != nil {
		t.Fatalf("DetectCustomNodeTypes() error = %v", err)
	}
	if len(types) != 2 || types[0] != "ACustom" || types[1] != "ZCustom" {
		t.Errorf("types = %v, want [ACustom ZCustom] (deduped, sorted)", types)
	}
}

func TestParseFile_ReadsFromDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "demo.json")
	if err := os.WriteFile(path, []byte(uiFormatWorkflow), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	refs, err := ParseFile(path, loadercat.Default())
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}
	if len(refs) != 3 {
		t.Errorf("ParseFile() returned %d refs, want 3", len(refs))
	}
}
