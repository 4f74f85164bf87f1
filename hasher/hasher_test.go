package hasher

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"lukechampine.com/blake3"
)

func writeTempFile(t *testing.T, size int) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "model.safetensors")
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i % 251)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}
	return path
}

func TestQuickHashFile_ZeroByte(t *testing.T) {
	path := writeTempFile(t, 0)
	result, err := QuickHashFile(path)
	if err != nil {
		t.Fatalf("QuickHashFile() error = %v, want nil", err)
	}
	if result.Size != 0 {
		t.Errorf("Size = %d, want 0", result.Size)
	}
	if result.Hash.IsZero() {
		t.Errorf("zero-byte file should still have a defined (non-zero) quick-hash")
	}
}

func TestQuickHashFile_Deterministic(t *testing.T) {
	path := writeTempFile(t, 1<<20) // 1 MiB, below full-hash cutoff
	first, err := QuickHashFile(path)
	if err != nil {
		t.Fatalf("QuickHashFile() error = %v", err)
	}
	second, err := QuickHashFile(path)
	if err != nil {
		t.Fatalf("QuickHashFile() error = %v", err)
	}
	if first.Hash != second.Hash {
		t.Errorf("QuickHashFile() not deterministic: %s != %s", first.Hash, second.Hash)
	}
}

func TestQuickHashFile_BoundaryEqualsFullWindows(t *testing.T) {
	// At exactly the 45 MiB cutoff, the windowed branch activates and must
	// produce the same digest as hashing the three 15 MiB windows plus the
	// real file size trailer by hand.
	size := fullHashCutoff
	path := writeTempFile(t, size)

	viaWindows, err := QuickHashFile(path)
	if err != nil {
		t.Fatalf("QuickHashFile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}
	h := blake3.New(quickHashBytes, nil)
	h.Write(data[0:windowSize])
	mid := int64(size) / 2
	h.Write(data[mid-windowSize/2 : mid+windowSize/2])
	h.Write(data[int64(size)-windowSize:])
	var trailer [8]byte
	binary.LittleEndian.PutUint64(trailer[:], uint64(size))
	h.Write(trailer[:])

	want := fmt.Sprintf("%x", h.Sum(nil))
	if viaWindows.Hash.String() != want {
		t.Errorf("windowed hash = %s, want %s (manual three-window hash)", viaWindows.Hash, want)
	}
}

func TestQuickHashFile_StableAcrossMove(t *testing.T) {
	dir := t.TempDir()
	orig := filepath.Join(dir, "a.safetensors")
	if err := os.WriteFile(orig, []byte(strings.Repeat("x", 1024)), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	before, err := QuickHashFile(orig)
	if err != nil {
		t.Fatalf("QuickHashFile() error = %v", err)
	}

	moved := filepath.Join(dir, "archive", "a.safetensors")
	if err := os.MkdirAll(filepath.Dir(moved), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Rename(orig, moved); err != nil {
		t.Fatalf("rename: %v", err)
	}
	after, err := QuickHashFile(moved)
	if err != nil {
		t.Fatalf("QuickHashFile() error = %v", err)
	}
	if before.Hash != after.Hash {
		t.Errorf("quick-hash changed after move: %s != %s", before.Hash, after.Hash)
	}
}

func TestStreamHash_Basic(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	digests, err := StreamHash(bytes.NewReader(data), true, true)
	if err != nil {
		t.Fatalf("StreamHash() error = %v", err)
	}
	if digests.SHA256 == "" || digests.BLAKE3Full == "" {
		t.Errorf("expected both digests populated, got %+v", digests)
	}

	// Same input, second pass, must match (strong digests are deterministic).
	again, err := StreamHash(bytes.NewReader(data), true, true)
	if err != nil {
		t.Fatalf("StreamHash() error = %v", err)
	}
	if digests != again {
		t.Errorf("StreamHash not deterministic: %+v != %+v", digests, again)
	}
}

func TestStreamHashWithProgress_ReportsCompletion(t *testing.T) {
	data := make([]byte, 3<<20) // 3 MiB, multiple chunk boundaries
	var calls int
	var lastBytes int64
	_, err := StreamHashWithProgress(bytes.NewReader(data), int64(len(data)), false, true, func(soFar, total int64) {
		calls++
		lastBytes = soFar
	})
	if err != nil {
		t.Fatalf("StreamHashWithProgress() error = %v", err)
	}
	if calls == 0 {
		t.Errorf("expected at least one progress callback")
	}
	if lastBytes != int64(len(data)) {
		t.Errorf("final progress report = %d bytes, want %d", lastBytes, len(data))
	}
}

