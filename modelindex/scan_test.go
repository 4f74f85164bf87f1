package modelindex

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func writeModelFile(t *testing.T, dir, rel string, content []byte) string {
	t.Helper()
	abs := filepath.Join(dir, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	if err := os.WriteFile(abs, content, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return abs
}

func TestScan_IndexesFilesAndSkipsUnchangedOnRescan(t *testing.T) {
	root := t.TempDir()
	writeModelFile(t, root, "checkpoints/a.safetensors", []byte("hello world"))
	idx := NewMem()
	ctx := context.Background()

	result, err := Scan(ctx, idx, root, nil)
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if result.FilesScanned != 1 || result.FilesHashed != 1 {
		t.Errorf("first Scan() = %+v, want 1 scanned, 1 hashed", result)
	}

	all, err := idx.List(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("List() = %+v, %v", all, err)
	}

	result2, err := Scan(ctx, idx, root, nil)
	if err != nil {
		t.Fatalf("second Scan() error = %v", err)
	}
	if result2.FilesScanned != 1 || result2.FilesHashed != 0 {
		t.Errorf("second Scan() = %+v, want 1 scanned, 0 rehashed", result2)
	}
}

func TestScan_MovedFilePrunesOldLocationAddsNew(t *testing.T) {
	root := t.TempDir()
	writeModelFile(t, root, "checkpoints/a.safetensors", []byte("same bytes"))
	idx := NewMem()
	ctx := context.Background()

	if _, err := Scan(ctx, idx, root, nil); err != nil {
		t.Fatalf("initial Scan() error = %v", err)
	}

	if err := os.Rename(
		filepath.Join(root, "checkpoints/a.safetensors"),
		filepath.Join(root, "checkpoints/archive.safetensors"),
	); err != nil {
		t.Fatalf("rename: %v", err)
	}

	result, err := Scan(ctx, idx, root, nil)
	if err != nil {
		t.Fatalf("Scan() after move error = %v", err)
	}
	if result.LocationsPruned != 1 {
		t.Errorf("LocationsPruned = %d, want 1 (old path gone)", result.LocationsPruned)
	}

	matches, err := idx.FindByRelativePath(ctx, "checkpoints/archive.safetensors")
	if err != nil || len(matches) != 1 {
		t.Errorf("FindByRelativePath() after move = %+v, %v", matches, err)
	}
	gone, err := idx.FindByRelativePath(ctx, "checkpoints/a.safetensors")
	if err != nil || len(gone) != 0 {
		t.Errorf("FindByRelativePath() for old path = %+v, %v, want none", gone, err)
	}
}

func TestAddOrUpdateLocation(t *testing.T) {
	root := t.TempDir()
	abs := writeModelFile(t, root, "loras/style.safetensors", []byte("lora bytes"))
	idx := NewMem()
	ctx := context.Background()

	hash, err := AddOrUpdateLocation(ctx, idx, root, abs)
	if err != nil {
		t.Fatalf("AddOrUpdateLocation() error = %v", err)
	}
	got, ok, err := idx.Get(ctx, hash)
	if err != nil || !ok {
		t.Fatalf("Get() = %+v, %v, %v", got, ok, err)
	}
	if len(got.Locations) != 1 || got.Locations[0].RelativePath != "loras/style.safetensors" {
		t.Errorf("Locations = %+v", got.Locations)
	}
}

func TestComputeStrongDigests(t *testing.T) {
	root := t.TempDir()
	abs := writeModelFile(t, root, "checkpoints/a.safetensors", []byte("digest me"))
	idx := NewMem()
	ctx := context.Background()

	hash, err := AddOrUpdateLocation(ctx, idx, root, abs)
	if err != nil {
		t.Fatalf("AddOrUpdateLocation() error = %v", err)
	}
	if err := ComputeStrongDigests(ctx, idx, root, hash); err != nil {
		t.Fatalf("ComputeStrongDigests() error = %v", err)
	}
	got, _, err := idx.Get(ctx, hash)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.SHA256 == "" || got.BLAKE3Full == "" {
		t.Errorf("strong digests not set: %+v", got)
	}

	// Idempotent: calling again does not error and leaves digests unchanged.
	before := got.SHA256
	if err := ComputeStrongDigests(ctx, idx, root, hash); err != nil {
		t.Fatalf("ComputeStrongDigests() (repeat) error = %v", err)
	}
	got2, _, _ := idx.Get(ctx, hash)
	if got2.SHA256 != before {
		t.Errorf("SHA256 changed across repeated ComputeStrongDigests calls")
	}
}
