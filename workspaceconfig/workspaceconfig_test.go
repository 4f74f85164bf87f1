package workspaceconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/comfydock/comfydock-core/model"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "workspace.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoad_FillsDefaultsAndOverrides(t *testing.T) {
	path := writeConfig(t, "models_root: /data/models\nconnect_timeout_seconds: 5\ntokens:\n  civitai: abc123\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ModelsRoot != "/data/models" {
		t.Errorf("ModelsRoot = %q", cfg.ModelsRoot)
	}
	if cfg.ConnectTimeoutSeconds != 5 {
		t.Errorf("ConnectTimeoutSeconds = %d, want override 5", cfg.ConnectTimeoutSeconds)
	}
	if cfg.ReadIdleTimeoutSeconds != 60 {
		t.Errorf("ReadIdleTimeoutSeconds = %d, want default 60", cfg.ReadIdleTimeoutSeconds)
	}
	if cfg.Token(model.SourceCivitAI) != "abc123" {
		t.Errorf("Token(civitai) = %q", cfg.Token(model.SourceCivitAI))
	}
	if cfg.Token(model.SourceHuggingFace) != "" {
		t.Errorf("Token(huggingface) = %q, want empty", cfg.Token(model.SourceHuggingFace))
	}
}

func TestLoad_RejectsMissingModelsRoot(t *testing.T) {
	path := writeConfig(t, "connect_timeout_seconds: 5\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("Load() error = nil, want validation error for missing models_root")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("Load() error = nil, want not-found error")
	}
}

func TestInitGetReset(t *testing.T) {
	t.Cleanup(Reset)
	path := writeConfig(t, "models_root: /data/models\n")

	if _, err := Init(path); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if Get().ModelsRoot != "/data/models" {
		t.Errorf("Get().ModelsRoot = %q", Get().ModelsRoot)
	}
}

func TestGet_PanicsBeforeInit(t *testing.T) {
	Reset()
	defer func() {
		if recover() == nil {
			t.Errorf("Get() did not panic before Init()")
		}
	}()
	Get()
}
