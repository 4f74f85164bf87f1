package modelindex

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/nightlyone/lockfile"

	"github.com/comfydock/comfydock-core/hasher"
	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/model"
)

// ScanLocker is implemented by Index backends that need cross-process
// mutual exclusion around a full directory scan (§5 "a scan holds the
// process-wide lock on the index file"). MemIndex does not implement it,
// since its tests and scripted flows are already single-process.
type ScanLocker interface {
	LockScan() (unlock func(), err error)
}

var _ ScanLocker = (*Store)(nil)

// LockScan acquires an exclusive on-disk lock alongside the sqlite database,
// via nightlyone/lockfile (a PID-file convention, distinct from sqlite's own
// connection-level locking, which only serializes within one process).
func (s *Store) LockScan() (func(), error) {
	lock, err := lockfile.New(s.path + ".scan.lock")
	if err != nil {
		return nil, cerr.New(cerr.KindTransport, "constructing scan lock", err)
	}
	if err := lock.TryLock(); err != nil {
		return nil, cerr.New(cerr.KindConflict, "another process is already scanning this index", err)
	}
	return func() { _ = lock.Unlock() }, nil
}

// ScanProgress reports scan progress (§4.A "250ms chunking" applies to
// per-file hashing; this callback is invoked once per file visited).
type ScanProgress func(filesScanned, filesHashed int, currentPath string)

// ScanResult summarizes one Scan call.
type ScanResult struct {
	FilesScanned    int
	FilesHashed     int
	LocationsAdded  int
	LocationsPruned int
}

// AddOrUpdateLocation quick-hashes the file at absPath and records it in idx
// under a Location relative to root (§4.B add_or_update_location). Returns
// the file's quick-hash.
func AddOrUpdateLocation(ctx context.Context, idx Index, root, absPath string) (model.QuickHash, error) {
	rel, err := filepath.Rel(root, absPath)
	if err != nil {
		return model.QuickHash{}, cerr.New(cerr.KindValidation, "path is not under models root", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return model.QuickHash{}, cerr.New(cerr.KindNotFound, "statting model file", err)
	}
	qh, err := hasher.QuickHashFile(absPath)
	if err != nil {
		return model.QuickHash{}, cerr.New(cerr.KindTransport, "quick-hashing model file", err)
	}
	now := time.Now()
	m := model.Model{
		Hash:       qh.Hash,
		Size:       qh.Size,
		ModifiedAt: info.ModTime(),
		Locations: []model.Location{{
			RelativePath: filepath.ToSlash(rel),
			Filename:     filepath.Base(absPath),
			MTime:        info.ModTime(),
			LastSeen:     now,
		}},
	}
	if err := idx.Upsert(ctx, m); err != nil {
		return model.QuickHash{}, err
	}
	return qh.Hash, nil
}

// ComputeStrongDigests streams the file backing one of hash's locations
// (the first one found on disk) and records its full-file SHA-256/BLAKE3
// digests (§4.B compute_strong_digests). A no-op if they are already set.
func ComputeStrongDigests(ctx context.Context, idx Index, root string, hash model.QuickHash) error {
	m, ok, err := idx.Get(ctx, hash)
	if err != nil {
		return err
	}
	if !ok {
		return cerr.New(cerr.KindNotFound, "model not indexed", nil)
	}
	if m.SHA256 != "" && m.BLAKE3Full != "" {
		return nil
	}
	var lastErr error
	for _, loc := range m.Locations {
		abs := filepath.Join(root, filepath.FromSlash(loc.RelativePath))
		f, err := os.Open(abs)
		if err != nil {
			lastErr = err
			continue
		}
		digests, err := hasher.StreamHash(f, m.SHA256 == "", m.BLAKE3Full == "")
		closeErr := f.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if closeErr != nil {
			return cerr.New(cerr.KindTransport, "closing model file after hashing", closeErr)
		}
		return idx.SetStrongDigests(ctx, hash, digests.SHA256, digests.BLAKE3Full)
	}
	if lastErr != nil {
		return cerr.New(cerr.KindNotFound, "no location of model is readable on disk", lastErr)
	}
	return cerr.New(cerr.KindNotFound, "model has no known locations", nil)
}

// Scan walks root and records every regular file as a Location, skipping
// a rehash when an already-indexed file's size and mtime are unchanged
// (§3.1 "a rescan only re-hashes files whose size or mtime changed"). After
// the walk, every Location not visited during this Scan is pruned, since a
// complete walk that didn't see a path means the file no longer exists
// there (§3.1 "Lifecycle"). If idx implements ScanLocker, the walk holds
// that lock for its duration (§5).
func Scan(ctx context.Context, idx Index, root string, progress ScanProgress) (ScanResult, error) {
	if locker, ok := idx.(ScanLocker); ok {
		unlock, err := locker.LockScan()
		if err != nil {
			return ScanResult{}, err
		}
		defer unlock()
	}

	epoch := time.Now()
	var result ScanResult

	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		result.FilesScanned++

		existing, err := idx.FindByRelativePath(ctx, rel)
		if err != nil {
			return err
		}
		if len(existing) == 1 && locationUnchanged(existing[0], rel, info) {
			if err := idx.TouchLocation(ctx, existing[0].Hash, rel, epoch); err != nil {
				return err
			}
		} else {
			if _, err := AddOrUpdateLocation(ctx, idx, root, path); err != nil {
				return err
			}
			result.FilesHashed++
		}

		if progress != nil {
			progress(result.FilesScanned, result.FilesHashed, rel)
		}
		return nil
	})
	if walkErr != nil {
		return result, cerr.New(cerr.KindTransport, "scanning models directory", walkErr)
	}

	pruned, err := idx.PruneStaleLocations(ctx, epoch)
	if err != nil {
		return result, err
	}
	result.LocationsPruned = pruned
	return result, nil
}

func locationUnchanged(m model.Model, rel string, info fs.FileInfo) bool {
	for _, loc := range m.Locations {
		if loc.RelativePath == rel {
			// compared at one-second resolution, the precision Store keeps
			return loc.MTime.Unix() == info.ModTime().Unix() && m.Size == info.Size()
		}
	}
	return false
}
