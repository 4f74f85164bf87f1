package modelindex

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/model"
)

// MemIndex is an in-memory Index, used by tests and scripted/dry-run flows
// that should never touch disk (§6.1's ResolutionStrategy "scripted" case,
// and the resolver's own unit tests).
type MemIndex struct {
	mu     sync.RWMutex
	models map[model.QuickHash]model.Model
}

var _ Index = (*MemIndex)(nil)

// NewMem returns an empty MemIndex.
func NewMem() *MemIndex {
	return &MemIndex{models: make(map[model.QuickHash]model.Model)}
}

func (m *MemIndex) Get(_ context.Context, hash model.QuickHash) (model.Model, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	got, ok := m.models[hash]
	return got, ok, nil
}

func (m *MemIndex) Upsert(_ context.Context, in model.Model) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.models[in.Hash]
	if !ok {
		if in.IndexedAt.IsZero() {
			in.IndexedAt = time.Now()
		}
		m.models[in.Hash] = in
		return nil
	}

	// Strong digests are immutable once set (§3.1).
	if existing.SHA256 == "" {
		existing.SHA256 = in.SHA256
	}
	if existing.BLAKE3Full == "" {
		existing.BLAKE3Full = in.BLAKE3Full
	}
	existing.Size = in.Size
	existing.ModifiedAt = in.ModifiedAt

	existing.Locations = mergeLocations(existing.Locations, in.Locations)
	existing.Sources = mergeSources(existing.Sources, in.Sources)

	m.models[in.Hash] = existing
	return nil
}

func mergeLocations(have, incoming []model.Location) []model.Location {
	byPath := make(map[string]int, len(have))
	for i, l := range have {
		byPath[l.RelativePath] = i
	}
	for _, l := range incoming {
		if i, ok := byPath[l.RelativePath]; ok {
			have[i] = l
			continue
		}
		byPath[l.RelativePath] = len(have)
		have = append(have, l)
	}
	return have
}

func mergeSources(have, incoming []model.Source) []model.Source {
	byURL := make(map[string]int, len(have))
	for i, s := range have {
		byURL[s.URL] = i
	}
	for _, s := range incoming {
		if i, ok := byURL[s.URL]; ok {
			have[i] = s
			continue
		}
		byURL[s.URL] = len(have)
		have = append(have, s)
	}
	return have
}

func (m *MemIndex) SetStrongDigests(_ context.Context, hash model.QuickHash, sha256, blake3Full string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.models[hash]
	if !ok {
		return cerr.New(cerr.KindNotFound, "model not indexed", nil)
	}
	if existing.SHA256 == "" {
		existing.SHA256 = sha256
	}
	if existing.BLAKE3Full == "" {
		existing.BLAKE3Full = blake3Full
	}
	m.models[hash] = existing
	return nil
}

func (m *MemIndex) TouchLocation(_ context.Context, hash model.QuickHash, relativePath string, seenAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.models[hash]
	if !ok {
		return cerr.New(cerr.KindNotFound, "model not indexed", nil)
	}
	for i, l := range existing.Locations {
		if l.RelativePath == relativePath {
			existing.Locations[i].LastSeen = seenAt
			m.models[hash] = existing
			return nil
		}
	}
	return cerr.New(cerr.KindNotFound, "location not indexed", nil)
}

func (m *MemIndex) PruneStaleLocations(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for hash, mod := range m.models {
		kept := mod.Locations[:0]
		for _, l := range mod.Locations {
			if l.LastSeen.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, l)
		}
		mod.Locations = kept
		m.models[hash] = mod
	}
	return removed, nil
}

func (m *MemIndex) List(_ context.Context) ([]model.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Model, 0, len(m.models))
	for _, mod := range m.models {
		out = append(out, mod)
	}
	return out, nil
}

func (m *MemIndex) FindInCategory(_ context.Context, name, category string) ([]model.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Model
	for _, mod := range m.models {
		for _, loc := range mod.Locations {
			if loc.Filename == name && categorySegment(loc.RelativePath) == category {
				out = append(out, mod)
				break
			}
		}
	}
	return out, nil
}

func (m *MemIndex) FindByFilename(_ context.Context, name string, limit int) ([]model.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	needle := strings.ToLower(name)
	var out []model.Model
	for _, mod := range m.models {
		for _, loc := range mod.Locations {
			if strings.Contains(strings.ToLower(loc.Filename), needle) {
				out = append(out, mod)
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemIndex) FindByRelativePath(_ context.Context, relativePath string) ([]model.Model, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Model
	for _, mod := range m.models {
		for _, loc := range mod.Locations {
			if loc.RelativePath == relativePath {
				out = append(out, mod)
				break
			}
		}
	}
	return out, nil
}

func (m *MemIndex) HasModel(_ context.Context, hash model.QuickHash) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.models[hash]
	return ok, nil
}

func (m *MemIndex) AddSource(_ context.Context, hash model.QuickHash, src model.Source) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.models[hash]
	if !ok {
		existing = model.Model{Hash: hash, IndexedAt: time.Now()}
	}
	if src.AddedAt.IsZero() {
		src.AddedAt = time.Now()
	}
	existing.Sources = mergeSources(existing.Sources, []model.Source{src})
	m.models[hash] = existing
	return nil
}

func (m *MemIndex) Close() error { return nil }
