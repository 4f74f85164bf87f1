package packager

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/comfydock/comfydock-core/internal/cerr"
)

// maxExtractBytes bounds total extracted size as a defense against
// decompression-bomb archives; well above any legitimate configuration
// directory (which never holds model bytes, per §4.G.4).
const maxExtractBytes = 2 * 1024 * 1024 * 1024 // 2 GiB

// ExtractedFile is one archive member as read into memory during Import.
type ExtractedFile struct {
	Name string
	Data []byte
}

// SafeExtract reads every regular file from the gzip-tar stream r, refusing
// any entry whose path would escape the archive root (§9 "Archive safety": no
// `..`, no absolute paths, no symlinks pointing outside the archive root).
// It does not write to disk itself — callers place the returned files, which
// lets the Analyzer preview an archive without trusting it enough to extract
// it (supplemented feature #4 in DESIGN.md).
func SafeExtract(r io.Reader) ([]ExtractedFile, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, cerr.New(cerr.KindValidation, "archive is not valid gzip", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	var out []ExtractedFile
	var total int64

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, cerr.New(cerr.KindValidation, "reading tar stream", err)
		}

		if err := validateEntryPath(hdr.Name); err != nil {
			return nil, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			continue
		case tar.TypeSymlink, tar.TypeLink:
			if err := validateLinkTarget(hdr.Name, hdr.Linkname); err != nil {
				return nil, err
			}
			continue // link targets are not followed; the archive never needs them resolved
		case tar.TypeReg:
			total += hdr.Size
			if total > maxExtractBytes {
				return nil, cerr.New(cerr.KindValidation, "archive exceeds maximum extractable size", nil).
					WithDetails(map[string]any{"limit_bytes": maxExtractBytes})
			}
			data := make([]byte, hdr.Size)
			if _, err := io.ReadFull(tr, data); err != nil {
				return nil, cerr.New(cerr.KindValidation, "reading archive member "+hdr.Name, err)
			}
			out = append(out, ExtractedFile{Name: hdr.Name, Data: data})
		default:
			// ignore device files, fifos, etc: never legitimately present in a
			// configuration archive
			continue
		}
	}
	return out, nil
}

// validateEntryPath rejects absolute paths and parent-directory escapes,
// mirroring autoload.fsDiscoverer.validatePattern's traversal guard.
func validateEntryPath(name string) error {
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) {
		return cerr.New(cerr.KindValidation, "archive entry has an absolute path", nil).
			WithDetails(map[string]any{"entry": name})
	}
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".." {
			return cerr.New(cerr.KindValidation, "archive entry escapes the archive root", nil).
				WithDetails(map[string]any{"entry": name})
		}
	}
	return nil
}

// validateLinkTarget rejects a symlink/hardlink whose target would resolve
// outside the archive root, even though SafeExtract never follows it: a
// consumer that later walks the extracted tree by name must not be able to
// be redirected outside destDir.
func validateLinkTarget(name, target string) error {
	if filepath.IsAbs(target) {
		return cerr.New(cerr.KindValidation, "archive entry has a link escaping the archive root", nil).
			WithDetails(map[string]any{"entry": name, "target": target})
	}
	joined := filepath.Clean(filepath.Join(filepath.Dir(name), target))
	if joined == ".." || strings.HasPrefix(joined, "../") || filepath.IsAbs(joined) {
		return cerr.New(cerr.KindValidation, "archive entry has a link escaping the archive root", nil).
			WithDetails(map[string]any{"entry": name, "target": target})
	}
	return nil
}

// WriteTo materializes files (as returned by SafeExtract) under destDir,
// creating parent directories as needed. Callers should have already run
// SafeExtract's own validation; WriteTo re-validates defensively since the
// two are commonly separated by a preview step.
func WriteTo(destDir string, files []ExtractedFile) error {
	for _, f := range files {
		if err := validateEntryPath(f.Name); err != nil {
			return err
		}
		target := filepath.Join(destDir, f.Name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return cerr.New(cerr.KindDiskFull, "creating extraction directory", err)
		}
		if err := os.WriteFile(target, f.Data, 0o644); err != nil {
			return cerr.New(cerr.KindDiskFull, "writing extracted file "+f.Name, err)
		}
	}
	return nil
}
