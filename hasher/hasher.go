// Package hasher computes the quick-hash and strong digests described in
// spec.md §3.1 and §4.A. Every quick-hash is computed here; the Downloader
// also computes full-file SHA-256/BLAKE3 digests of the bytes it streams, and
// every other component treats hashes as opaque model.QuickHash values.
package hasher

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/comfydock/comfydock-core/model"
	"lukechampine.com/blake3"
)

const (
	windowSize     = 15 * 1024 * 1024 // 15 MiB
	fullHashCutoff = 45 * 1024 * 1024 // 45 MiB: below this, hash the whole file
	quickHashBytes = 24               // 192 bits
	strongHashBytes = 32              // 256 bits
)

// QuickHashResult is the outcome of hashing one file: its identity and size.
type QuickHashResult struct {
	Hash model.QuickHash
	Size int64
}

// QuickHashFile computes the quick-hash of the file at path, per §3.1: three
// 15 MiB windows (front, middle, end) concatenated with an 8-byte
// little-endian size trailer, fed through a 192-bit BLAKE3 digest. Files
// smaller than 45 MiB are hashed in full instead of windowed.
func QuickHashFile(path string) (QuickHashResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return QuickHashResult{}, fmt.Errorf("opening %s for quick-hash: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return QuickHashResult{}, fmt.Errorf("stat %s: %w", path, err)
	}
	size := info.Size()

	h := blake3.New(quickHashBytes, nil)

	if size < fullHashCutoff {
		if _, err := io.Copy(h, f); err != nil {
			return QuickHashResult{}, fmt.Errorf("reading %s: %w", path, err)
		}
	} else {
		for _, win := range windowsFor(size) {
			if err := copyWindow(h, f, win.start, win.end); err != nil {
				return QuickHashResult{}, fmt.Errorf("reading window of %s: %w", path, err)
			}
		}
	}

	var trailer [8]byte
	binary.LittleEndian.PutUint64(trailer[:], uint64(size))
	h.Write(trailer[:])

	var out model.QuickHash
	copy(out[:], h.Sum(nil))
	return QuickHashResult{Hash: out, Size: size}, nil
}

type window struct{ start, end int64 }

// windowsFor returns the three sample windows for a file of the given size,
// per §3.1: [0, 15M), [size/2 - 7.5M, size/2 + 7.5M), [max(0, size-15M), size).
func windowsFor(size int64) []window {
	half := windowSize / 2
	mid := size / 2
	midStart := mid - int64(half)
	if midStart < 0 {
		midStart = 0
	}
	midEnd := mid + int64(half)
	if midEnd > size {
		midEnd = size
	}
	tailStart := size - windowSize
	if tailStart < 0 {
		tailStart = 0
	}
	front := window{0, minInt64(windowSize, size)}
	return []window{front, {midStart, midEnd}, {tailStart, size}}
}

func copyWindow(w io.Writer, r io.ReaderAt, start, end int64) error {
	if end <= start {
		return nil
	}
	buf := make([]byte, 1<<20) // 1 MiB scratch buffer, reused across windows' chunks
	remaining := end - start
	off := start
	for remaining > 0 {
		n := int64(len(buf))
		if remaining < n {
			n = remaining
		}
		read, err := r.ReadAt(buf[:n], off)
		if read > 0 {
			if _, werr := w.Write(buf[:read]); werr != nil {
				return werr
			}
		}
		if err != nil && err != io.EOF {
			return err
		}
		off += int64(read)
		remaining -= int64(read)
		if read == 0 {
			break
		}
	}
	return nil
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// StreamDigests are the strong, lazily-computed full-file digests (§3.1).
type StreamDigests struct {
	SHA256     string
	BLAKE3Full string
}

// StreamHash consumes r once, computing whichever digests are requested.
// Either flag may be false to skip that digest's overhead.
func StreamHash(r io.Reader, wantSHA256, wantBLAKE3 bool) (StreamDigests, error) {
	var sw []io.Writer
	sha := sha256.New()
	b3 := blake3.New(strongHashBytes, nil)
	if wantSHA256 {
		sw = append(sw, sha)
	}
	if wantBLAKE3 {
		sw = append(sw, b3)
	}
	if len(sw) == 0 {
		return StreamDigests{}, nil
	}
	mw := io.MultiWriter(sw...)
	if _, err := io.Copy(mw, r); err != nil {
		return StreamDigests{}, fmt.Errorf("streaming digest: %w", err)
	}
	var out StreamDigests
	if wantSHA256 {
		out.SHA256 = fmt.Sprintf("%x", sha.Sum(nil))
	}
	if wantBLAKE3 {
		out.BLAKE3Full = fmt.Sprintf("%x", b3.Sum(nil))
	}
	return out, nil
}

// ProgressFunc receives the bytes hashed so far and the total size if known
// (0 when unknown), per §4.A's at-most-every-250ms / 1 MiB chunk contract.
type ProgressFunc func(bytesSoFar, total int64)

const progressInterval = 250 * time.Millisecond
const progressChunkBytes = 1 << 20 // 1 MiB

// StreamHashWithProgress is StreamHash instrumented with a progress callback.
// Input is read in chunks of up to 1 MiB; the callback runs after the first
// chunk, then after any chunk that ends at least 250ms after the previous
// call, and once more when the stream ends.
func StreamHashWithProgress(
	r io.Reader,
	total int64,
	wantSHA256, wantBLAKE3 bool,
	progress ProgressFunc,
) (StreamDigests, error) {
	sha := sha256.New()
	b3 := blake3.New(strongHashBytes, nil)
	var writers []io.Writer
	if wantSHA256 {
		writers = append(writers, sha)
	}
	if wantBLAKE3 {
		writers = append(writers, b3)
	}

	buf := make([]byte, progressChunkBytes)
	var read int64
	lastReport := time.Time{}
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, w := range writers {
				if _, werr := w.Write(buf[:n]); werr != nil {
					return StreamDigests{}, werr
				}
			}
			read += int64(n)
			if progress != nil && (lastReport.IsZero() || time.Since(lastReport) >= progressInterval) {
				progress(read, total)
				lastReport = time.Now()
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return StreamDigests{}, fmt.Errorf("streaming digest with progress: %w", err)
		}
	}
	if progress != nil {
		progress(read, total)
	}

	var out StreamDigests
	if wantSHA256 {
		out.SHA256 = fmt.Sprintf("%x", sha.Sum(nil))
	}
	if wantBLAKE3 {
		out.BLAKE3Full = fmt.Sprintf("%x", b3.Sum(nil))
	}
	return out, nil
}
