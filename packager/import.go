package packager

import (
	"io"
	"path"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/manifest"
)

// Imported is the result of extracting one archive: its manifest and every
// other tracked file, keyed by archive-relative path (§4.G "Import").
type Imported struct {
	Document      manifest.Document
	WorkflowFiles map[string][]byte // "<name>.json" -> bytes, by workflow file name
	DevNodeFiles  map[string][]byte // "dev_nodes/<node>/<relpath>" -> bytes
}

// Import validates and extracts an export archive produced by Export,
// reconstructing the manifest from its pyproject.toml member (the
// authoritative persistent form; manifest.json is a read-only convenience
// snapshot and is not parsed back).
func Import(r io.Reader) (Imported, error) {
	files, err := SafeExtract(r)
	if err != nil {
		return Imported{}, err
	}

	result := Imported{
		WorkflowFiles: map[string][]byte{},
		DevNodeFiles:  map[string][]byte{},
	}
	var sawManifest bool

	for _, f := range files {
		switch {
		case f.Name == "pyproject.toml":
			doc, err := decodeManifestTOML(f.Data)
			if err != nil {
				return Imported{}, err
			}
			result.Document = doc
			sawManifest = true
		case f.Name == "manifest.json":
			continue // read-only snapshot, superseded by pyproject.toml
		case strings.HasPrefix(f.Name, "workflows/"):
			result.WorkflowFiles[path.Base(f.Name)] = f.Data
		case strings.HasPrefix(f.Name, "dev_nodes/"):
			result.DevNodeFiles[f.Name] = f.Data
		default:
			return Imported{}, cerr.New(cerr.KindValidation, "archive contains an unrecognized top-level entry", nil).
				WithDetails(map[string]any{"entry": f.Name})
		}
	}

	if !sawManifest {
		return Imported{}, cerr.New(cerr.KindValidation, "archive is missing pyproject.toml", nil)
	}
	return result, nil
}

func decodeManifestTOML(data []byte) (manifest.Document, error) {
	return manifest.DecodeTOML(data)
}
