package manifest

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/comfydock/comfydock-core/internal/cerr"
)

// Load reads and parses the manifest file at path.
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, cerr.New(cerr.KindNotFound, fmt.Sprintf("manifest not found at %s", path), err)
		}
		return Document{}, cerr.New(cerr.KindTransport, "reading manifest", err)
	}

	return DecodeTOML(data)
}

// DecodeTOML parses data as the persistent pyproject.toml-shaped form,
// without touching the filesystem. Exported for the Packager (§4.G), which
// reads a manifest straight out of an in-memory archive member.
func DecodeTOML(data []byte) (Document, error) {
	var w wireDocument
	if err := toml.Unmarshal(data, &w); err != nil {
		return Document{}, cerr.New(cerr.KindValidation, "parsing manifest TOML", err)
	}
	d, err := fromWire(w)
	if err != nil {
		return Document{}, err
	}
	d.sortForDiff()
	return d, nil
}

// Save atomically writes d to path: marshal to a sibling temp file, fsync,
// then rename over the destination, so a crash mid-write never leaves a
// truncated or partially-written manifest (§3.4's "hashable, stable" goal
// depends on the file on disk always being either the old or the new
// version, never something in between).
func Save(path string, d Document) error {
	d.sortForDiff()
	data, err := toml.Marshal(toWire(d))
	if err != nil {
		return cerr.New(cerr.KindInvariantViolation, "marshaling manifest", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return cerr.New(cerr.KindTransport, "creating manifest temp file", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }() // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return cerr.New(cerr.KindTransport, "writing manifest temp file", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return cerr.New(cerr.KindTransport, "syncing manifest temp file", err)
	}
	if err := tmp.Close(); err != nil {
		return cerr.New(cerr.KindTransport, "closing manifest temp file", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return cerr.New(cerr.KindTransport, "renaming manifest into place", err)
	}
	return nil
}

// ContentHash returns a stable digest of d's canonical TOML encoding, used
// to detect whether the manifest changed (§3.4, §8 idempotence property):
// Save(path, Load(path)) must reproduce the same ContentHash.
func ContentHash(d Document) (string, error) {
	d.sortForDiff()
	data, err := toml.Marshal(toWire(d))
	if err != nil {
		return "", cerr.New(cerr.KindInvariantViolation, "marshaling manifest for hashing", err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum), nil
}

// EncodeTOML renders d in its persistent pyproject.toml-shaped form, the
// same bytes Save would write. Exported for the Packager (§4.G), which
// embeds this form in export archives without going through the filesystem.
func EncodeTOML(d Document) ([]byte, error) {
	d.sortForDiff()
	data, err := toml.Marshal(toWire(d))
	if err != nil {
		return nil, cerr.New(cerr.KindInvariantViolation, "marshaling manifest to TOML", err)
	}
	return data, nil
}

// EncodeJSON renders d as the read-only manifest.json snapshot an archive
// carries alongside pyproject.toml (§4.G.3), so an Analyzer can preview an
// archive's contents without a TOML parser.
func EncodeJSON(d Document) ([]byte, error) {
	d.sortForDiff()
	data, err := json.MarshalIndent(toWire(d), "", "  ")
	if err != nil {
		return nil, cerr.New(cerr.KindInvariantViolation, "marshaling manifest to JSON", err)
	}
	return data, nil
}
