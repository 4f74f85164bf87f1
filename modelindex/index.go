// Package modelindex implements the Model Index (spec.md §4.B): the
// content-addressed catalog of every model file the workspace knows about,
// keyed by quick-hash.
package modelindex

import (
	"context"
	"time"

	"github.com/comfydock/comfydock-core/model"
)

// Index is the interface the Resolver, Analyzer, and Finalizer depend on.
// Two implementations satisfy it: Store (sqlite-backed, persistent) and
// MemIndex (in-memory, for tests and scripted/dry-run flows).
type Index interface {
	// Get returns the Model for hash, or (Model{}, false) if unknown.
	Get(ctx context.Context, hash model.QuickHash) (model.Model, bool, error)

	// Upsert records or updates a Model: if hash is already present its
	// Locations/Sources are merged (by RelativePath / by URL respectively),
	// never duplicated, and its strong digests are left untouched once set
	// (§3.1 invariant: strong digests are immutable after first computed).
	Upsert(ctx context.Context, m model.Model) error

	// SetStrongDigests lazily records the full-file SHA-256/BLAKE3 digests
	// for hash. A no-op if they are already set (§3.1 invariant).
	SetStrongDigests(ctx context.Context, hash model.QuickHash, sha256, blake3Full string) error

	// TouchLocation updates LastSeen for (hash, relativePath) to now, used
	// during a directory rescan to detect locations that have disappeared.
	TouchLocation(ctx context.Context, hash model.QuickHash, relativePath string, seenAt time.Time) error

	// PruneStaleLocations removes every Location not seen since cutoff,
	// across all models. Returns the number of locations removed.
	PruneStaleLocations(ctx context.Context, cutoff time.Time) (int, error)

	// List returns every indexed Model, for Analyzer reports.
	List(ctx context.Context) ([]model.Model, error)

	// FindInCategory returns every Model with at least one Location whose
	// filename matches name and whose relative path's first path segment
	// equals category (§3's find_in_category). Used by the Resolver's
	// auto-resolve step to find a same-named candidate, and by ambiguous-
	// match prompting to list candidates sharing a category.
	FindInCategory(ctx context.Context, name, category string) ([]model.Model, error)

	// FindByFilename returns every Model with at least one Location whose
	// Filename contains name, case-insensitively (§4.B find_by_filename),
	// up to limit results (0 means unlimited).
	FindByFilename(ctx context.Context, name string, limit int) ([]model.Model, error)

	// FindByRelativePath returns every Model with a Location at exactly
	// relativePath (§4.B find_by_path / §4.E Resolver step 2 "Exact path").
	// Normally zero or one result; more than one means an old Location row
	// at that path hasn't been pruned yet after the file was overwritten.
	FindByRelativePath(ctx context.Context, relativePath string) ([]model.Model, error)

	// HasModel reports whether hash has an entry in the index at all.
	HasModel(ctx context.Context, hash model.QuickHash) (bool, error)

	// AddSource idempotently records a download source for hash (§4.B
	// add_source), unique on (hash, url). If hash has no existing model row
	// (a pure source registration ahead of any local file, §3.1 invariant
	// "present if ... at least one source URL exists"), one is created with
	// Size 0 until a location is later added.
	AddSource(ctx context.Context, hash model.QuickHash, src model.Source) error

	// Close releases any underlying resources (sqlite connection, file lock).
	Close() error
}
