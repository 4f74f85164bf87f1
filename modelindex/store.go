package modelindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/model"
)

const (
	indexDBFile    = "models.db"
	schemaVersion  = 1
)

// Store is the sqlite-backed Index implementation, one per workspace. It
// mirrors the teacher's SpendDB: a single *sql.DB capped to one open
// connection (SetMaxOpenConns(1)) with WAL journaling and a busy timeout,
// so concurrent index operations serialize instead of racing sqlite's
// file locking (§5 "single writer").
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

var _ Index = (*Store)(nil)

// Open opens (creating if needed) the model index database under dir.
func Open(dir string) (*Store, error) {
	// #nosec G301 - restrictive by design, this is workspace-private state
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, cerr.New(cerr.KindTransport, "creating model index directory", err)
	}

	dbPath := filepath.Join(dir, indexDBFile)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, cerr.New(cerr.KindTransport, "opening model index database", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, cerr.Newf(cerr.KindTransport, err, "executing %s", p)
		}
	}

	s := &Store{db: db, path: dbPath}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS models (
		hash TEXT PRIMARY KEY,
		size INTEGER NOT NULL,
		sha256 TEXT NOT NULL DEFAULT '',
		blake3_full TEXT NOT NULL DEFAULT '',
		indexed_at INTEGER NOT NULL,
		modified_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS locations (
		hash TEXT NOT NULL REFERENCES models(hash) ON DELETE CASCADE,
		relative_path TEXT NOT NULL,
		filename TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		last_seen INTEGER NOT NULL,
		PRIMARY KEY (hash, relative_path)
	);

	CREATE TABLE IF NOT EXISTS sources (
		hash TEXT NOT NULL REFERENCES models(hash) ON DELETE CASCADE,
		type TEXT NOT NULL,
		url TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		added_at INTEGER NOT NULL,
		PRIMARY KEY (hash, url)
	);

	CREATE INDEX IF NOT EXISTS idx_locations_last_seen ON locations(last_seen);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return cerr.New(cerr.KindInvariantViolation, "creating model index schema", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return cerr.New(cerr.KindInvariantViolation, "reading schema version", err)
	}
	if version < schemaVersion {
		if _, err := s.db.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			schemaVersion, time.Now().Unix()); err != nil {
			return cerr.New(cerr.KindInvariantViolation, "recording schema version", err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, hash model.QuickHash) (model.Model, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT size, sha256, blake3_full, indexed_at, modified_at FROM models WHERE hash = ?`,
		hash.String())

	var m model.Model
	var indexedAt, modifiedAt int64
	if err := row.Scan(&m.Size, &m.SHA256, &m.BLAKE3Full, &indexedAt, &modifiedAt); err != nil {
		if err == sql.ErrNoRows {
			return model.Model{}, false, nil
		}
		return model.Model{}, false, cerr.New(cerr.KindTransport, "reading model", err)
	}
	m.Hash = hash
	m.IndexedAt = time.Unix(indexedAt, 0).UTC()
	m.ModifiedAt = time.Unix(modifiedAt, 0).UTC()

	locs, err := s.locationsFor(ctx, hash)
	if err != nil {
		return model.Model{}, false, err
	}
	m.Locations = locs

	srcs, err := s.sourcesFor(ctx, hash)
	if err != nil {
		return model.Model{}, false, err
	}
	m.Sources = srcs

	return m, true, nil
}

func (s *Store) locationsFor(ctx context.Context, hash model.QuickHash) ([]model.Location, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT relative_path, filename, mtime, last_seen FROM locations WHERE hash = ? ORDER BY relative_path`,
		hash.String())
	if err != nil {
		return nil, cerr.New(cerr.KindTransport, "reading locations", err)
	}
	defer rows.Close()

	var out []model.Location
	for rows.Next() {
		var l model.Location
		var mtime, lastSeen int64
		if err := rows.Scan(&l.RelativePath, &l.Filename, &mtime, &lastSeen); err != nil {
			return nil, cerr.New(cerr.KindTransport, "scanning location row", err)
		}
		l.MTime = time.Unix(mtime, 0).UTC()
		l.LastSeen = time.Unix(lastSeen, 0).UTC()
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) sourcesFor(ctx context.Context, hash model.QuickHash) ([]model.Source, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, url, metadata, added_at FROM sources WHERE hash = ? ORDER BY added_at`,
		hash.String())
	if err != nil {
		return nil, cerr.New(cerr.KindTransport, "reading sources", err)
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		var src model.Source
		var meta string
		var addedAt int64
		if err := rows.Scan(&src.Type, &src.URL, &meta, &addedAt); err != nil {
			return nil, cerr.New(cerr.KindTransport, "scanning source row", err)
		}
		if meta != "" && meta != "{}" {
			if err := json.Unmarshal([]byte(meta), &src.Metadata); err != nil {
				return nil, cerr.New(cerr.KindInvariantViolation, "decoding source metadata", err)
			}
		}
		src.AddedAt = time.Unix(addedAt, 0).UTC()
		out = append(out, src)
	}
	return out, rows.Err()
}

// Upsert implements Index.Upsert: merge locations/sources, never clobber
// already-set strong digests (§3.1).
func (s *Store) Upsert(ctx context.Context, m model.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cerr.New(cerr.KindTransport, "beginning upsert transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO models (hash, size, sha256, blake3_full, indexed_at, modified_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(hash) DO UPDATE SET
			size = CASE WHEN models.size = 0 THEN excluded.size ELSE models.size END,
			sha256 = CASE WHEN models.sha256 = '' THEN excluded.sha256 ELSE models.sha256 END,
			blake3_full = CASE WHEN models.blake3_full = '' THEN excluded.blake3_full ELSE models.blake3_full END,
			modified_at = excluded.modified_at
	`, m.Hash.String(), m.Size, m.SHA256, m.BLAKE3Full, now, m.ModifiedAt.Unix())
	if err != nil {
		return cerr.New(cerr.KindTransport, "upserting model row", err)
	}

	for _, loc := range m.Locations {
		seenAt := loc.LastSeen
		if seenAt.IsZero() {
			seenAt = time.Now()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO locations (hash, relative_path, filename, mtime, last_seen)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(hash, relative_path) DO UPDATE SET
				filename = excluded.filename,
				mtime = excluded.mtime,
				last_seen = excluded.last_seen
		`, m.Hash.String(), loc.RelativePath, loc.Filename, loc.MTime.Unix(), seenAt.Unix())
		if err != nil {
			return cerr.New(cerr.KindTransport, "upserting location row", err)
		}
	}

	for _, src := range m.Sources {
		meta := "{}"
		if len(src.Metadata) > 0 {
			b, err := json.Marshal(src.Metadata)
			if err != nil {
				return cerr.New(cerr.KindInvariantViolation, "encoding source metadata", err)
			}
			meta = string(b)
		}
		addedAt := src.AddedAt
		if addedAt.IsZero() {
			addedAt = time.Now()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sources (hash, type, url, metadata, added_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(hash, url) DO UPDATE SET metadata = excluded.metadata
		`, m.Hash.String(), string(src.Type), src.URL, meta, addedAt.Unix())
		if err != nil {
			return cerr.New(cerr.KindTransport, "upserting source row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return cerr.New(cerr.KindTransport, "committing upsert", err)
	}
	return nil
}

func (s *Store) SetStrongDigests(ctx context.Context, hash model.QuickHash, sha256, blake3Full string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE models SET sha256 = ?, blake3_full = ?
		WHERE hash = ? AND sha256 = '' AND blake3_full = ''
	`, sha256, blake3Full, hash.String())
	if err != nil {
		return cerr.New(cerr.KindTransport, "setting strong digests", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return cerr.New(cerr.KindTransport, "checking strong digest update", err)
	}
	if n == 0 {
		// Either unknown hash, or digests were already set — not an error,
		// since §3.1 makes this idempotent: the invariant that matters is
		// "once set, immutable", which this query already enforces.
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM models WHERE hash = ?)`, hash.String()).Scan(&exists); err != nil {
			return cerr.New(cerr.KindTransport, "checking model existence", err)
		}
		if !exists {
			return cerr.New(cerr.KindNotFound, fmt.Sprintf("model %s not indexed", hash), nil)
		}
	}
	return nil
}

func (s *Store) TouchLocation(ctx context.Context, hash model.QuickHash, relativePath string, seenAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE locations SET last_seen = ? WHERE hash = ? AND relative_path = ?`,
		seenAt.Unix(), hash.String(), relativePath)
	if err != nil {
		return cerr.New(cerr.KindTransport, "touching location", err)
	}
	return nil
}

func (s *Store) PruneStaleLocations(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM locations WHERE last_seen < ?`, cutoff.Unix())
	if err != nil {
		return 0, cerr.New(cerr.KindTransport, "pruning stale locations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, cerr.New(cerr.KindTransport, "counting pruned locations", err)
	}
	return int(n), nil
}

func (s *Store) List(ctx context.Context) ([]model.Model, error) {
	s.mu.RLock()
	hashes, err := func() ([]string, error) {
		rows, err := s.db.QueryContext(ctx, `SELECT hash FROM models ORDER BY hash`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []string
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				return nil, err
			}
			out = append(out, h)
		}
		return out, rows.Err()
	}()
	s.mu.RUnlock()
	if err != nil {
		return nil, cerr.New(cerr.KindTransport, "listing model hashes", err)
	}

	out := make([]model.Model, 0, len(hashes))
	for _, h := range hashes {
		qh, err := model.ParseQuickHash(h)
		if err != nil {
			return nil, cerr.New(cerr.KindInvariantViolation, "decoding stored hash", err)
		}
		m, ok, err := s.Get(ctx, qh)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// FindInCategory implements Index.FindInCategory.
func (s *Store) FindInCategory(ctx context.Context, name, category string) ([]model.Model, error) {
	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT hash FROM locations WHERE filename = ? ORDER BY hash`, name)
	s.mu.RUnlock()
	if err != nil {
		return nil, cerr.New(cerr.KindTransport, "querying locations by filename", err)
	}
	var hashes []string
	func() {
		defer rows.Close()
		for rows.Next() {
			var h string
			if scanErr := rows.Scan(&h); scanErr == nil {
				hashes = append(hashes, h)
			}
		}
	}()

	var out []model.Model
	for _, h := range hashes {
		qh, err := model.ParseQuickHash(h)
		if err != nil {
			continue
		}
		m, ok, err := s.Get(ctx, qh)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if hasLocationInCategory(m, category) {
			out = append(out, m)
		}
	}
	return out, nil
}

// categorySegment returns the first path segment of a (forward-slash)
// relative path, the directory convention §3/§6.4 treats as a model's
// category.
func categorySegment(relativePath string) string {
	for i := 0; i < len(relativePath); i++ {
		if relativePath[i] == '/' {
			return relativePath[:i]
		}
	}
	return relativePath
}

func hasLocationInCategory(m model.Model, category string) bool {
	for _, loc := range m.Locations {
		if categorySegment(loc.RelativePath) == category {
			return true
		}
	}
	return false
}

// FindByFilename implements Index.FindByFilename: a case-insensitive
// substring match against every indexed Location's filename.
func (s *Store) FindByFilename(ctx context.Context, name string, limit int) ([]model.Model, error) {
	s.mu.RLock()
	query := `SELECT DISTINCT hash FROM locations WHERE LOWER(filename) LIKE '%' || LOWER(?) || '%' ORDER BY hash`
	args := []any{name}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	s.mu.RUnlock()
	if err != nil {
		return nil, cerr.New(cerr.KindTransport, "querying locations by filename", err)
	}
	hashes, err := scanHashes(rows)
	if err != nil {
		return nil, err
	}
	return s.modelsForHashes(ctx, hashes)
}

// FindByRelativePath implements Index.FindByRelativePath.
func (s *Store) FindByRelativePath(ctx context.Context, relativePath string) ([]model.Model, error) {
	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT hash FROM locations WHERE relative_path = ? ORDER BY hash`, relativePath)
	s.mu.RUnlock()
	if err != nil {
		return nil, cerr.New(cerr.KindTransport, "querying locations by path", err)
	}
	hashes, err := scanHashes(rows)
	if err != nil {
		return nil, err
	}
	return s.modelsForHashes(ctx, hashes)
}

// HasModel implements Index.HasModel.
func (s *Store) HasModel(ctx context.Context, hash model.QuickHash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM models WHERE hash = ?)`, hash.String()).Scan(&exists); err != nil {
		return false, cerr.New(cerr.KindTransport, "checking model existence", err)
	}
	return exists, nil
}

// AddSource implements Index.AddSource: creates a bare model row (size 0)
// if hash is not yet known, since a source can be registered before any
// local copy exists (§3.1 presence invariant).
func (s *Store) AddSource(ctx context.Context, hash model.QuickHash, src model.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cerr.New(cerr.KindTransport, "beginning add-source transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO models (hash, size, sha256, blake3_full, indexed_at, modified_at)
		VALUES (?, 0, '', '', ?, ?)
		ON CONFLICT(hash) DO NOTHING
	`, hash.String(), now, now); err != nil {
		return cerr.New(cerr.KindTransport, "ensuring model row for source", err)
	}

	meta := "{}"
	if len(src.Metadata) > 0 {
		b, err := json.Marshal(src.Metadata)
		if err != nil {
			return cerr.New(cerr.KindInvariantViolation, "encoding source metadata", err)
		}
		meta = string(b)
	}
	addedAt := src.AddedAt
	if addedAt.IsZero() {
		addedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sources (hash, type, url, metadata, added_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(hash, url) DO UPDATE SET metadata = excluded.metadata
	`, hash.String(), string(src.Type), src.URL, meta, addedAt.Unix()); err != nil {
		return cerr.New(cerr.KindTransport, "upserting source row", err)
	}

	if err := tx.Commit(); err != nil {
		return cerr.New(cerr.KindTransport, "committing add-source", err)
	}
	return nil
}

func scanHashes(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, cerr.New(cerr.KindTransport, "scanning hash row", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *Store) modelsForHashes(ctx context.Context, hashes []string) ([]model.Model, error) {
	out := make([]model.Model, 0, len(hashes))
	for _, h := range hashes {
		qh, err := model.ParseQuickHash(h)
		if err != nil {
			return nil, cerr.New(cerr.KindInvariantViolation, "decoding stored hash", err)
		}
		m, ok, err := s.Get(ctx, qh)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
