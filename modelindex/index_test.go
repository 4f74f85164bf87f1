package modelindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/comfydock/comfydock-core/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "index"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testHash(b byte) model.QuickHash {
	var h model.QuickHash
	h[0] = b
	return h
}

// runIndexContractTests exercises the Index interface identically against
// both implementations, so Store and MemIndex can never silently diverge.
func runIndexContractTests(t *testing.T, newIndex func(t *testing.T) Index) {
	t.Run("Get on unknown hash returns false", func(t *testing.T) {
		idx := newIndex(t)
		_, ok, err := idx.Get(context.Background(), testHash(1))
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if ok {
			t.Errorf("Get() ok = true for unindexed hash, want false")
		}
	})

	t.Run("Upsert then Get round-trips", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		h := testHash(2)
		in := model.Model{
			Hash:       h,
			Size:       1024,
			ModifiedAt: time.Now().Truncate(time.Second),
			Locations: []model.Location{
				{RelativePath: "checkpoints/a.safetensors", Filename: "a.safetensors", MTime: time.Now().Truncate(time.Second), LastSeen: time.Now().Truncate(time.Second)},
			},
			Sources: []model.Source{
				{Type: model.SourceCivitAI, URL: "https://civitai.com/models/1", AddedAt: time.Now().Truncate(time.Second)},
			},
		}
		if err := idx.Upsert(ctx, in); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		got, ok, err := idx.Get(ctx, h)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !ok {
			t.Fatalf("Get() ok = false after Upsert")
		}
		if got.Size != in.Size {
			t.Errorf("Size = %d, want %d", got.Size, in.Size)
		}
		if len(got.Locations) != 1 || got.Locations[0].RelativePath != in.Locations[0].RelativePath {
			t.Errorf("Locations = %+v, want one entry matching %+v", got.Locations, in.Locations[0])
		}
		if len(got.Sources) != 1 || got.Sources[0].URL != in.Sources[0].URL {
			t.Errorf("Sources = %+v, want one entry matching %+v", got.Sources, in.Sources[0])
		}
	})

	t.Run("Upsert merges locations instead of duplicating", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		h := testHash(3)
		first := model.Model{Hash: h, Size: 10, Locations: []model.Location{
			{RelativePath: "a.safetensors", Filename: "a.safetensors", LastSeen: time.Now().Truncate(time.Second)},
		}}
		if err := idx.Upsert(ctx, first); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		second := model.Model{Hash: h, Size: 10, Locations: []model.Location{
			{RelativePath: "a.safetensors", Filename: "a.safetensors", LastSeen: time.Now().Truncate(time.Second)},
			{RelativePath: "b.safetensors", Filename: "b.safetensors", LastSeen: time.Now().Truncate(time.Second)},
		}}
		if err := idx.Upsert(ctx, second); err != nil {
			t.Fatalf("Upsert() (second) error = %v", err)
		}
		got, _, err := idx.Get(ctx, h)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if len(got.Locations) != 2 {
			t.Errorf("Locations count = %d, want 2 (merged, not duplicated)", len(got.Locations))
		}
	})

	t.Run("strong digests are immutable once set", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		h := testHash(4)
		if err := idx.Upsert(ctx, model.Model{Hash: h, Size: 5}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		if err := idx.SetStrongDigests(ctx, h, "sha-first", "b3-first"); err != nil {
			t.Fatalf("SetStrongDigests() error = %v", err)
		}
		if err := idx.SetStrongDigests(ctx, h, "sha-second", "b3-second"); err != nil {
			t.Fatalf("SetStrongDigests() (second) error = %v", err)
		}
		got, _, err := idx.Get(ctx, h)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.SHA256 != "sha-first" || got.BLAKE3Full != "b3-first" {
			t.Errorf("strong digests = (%s, %s), want the first-set values to stick", got.SHA256, got.BLAKE3Full)
		}
	})

	t.Run("PruneStaleLocations removes only locations last seen before cutoff", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		h := testHash(5)
		old := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
		recent := time.Now().Truncate(time.Second)
		if err := idx.Upsert(ctx, model.Model{Hash: h, Size: 1, Locations: []model.Location{
			{RelativePath: "stale.safetensors", LastSeen: old},
			{RelativePath: "fresh.safetensors", LastSeen: recent},
		}}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		cutoff := time.Now().Add(-1 * time.Hour)
		n, err := idx.PruneStaleLocations(ctx, cutoff)
		if err != nil {
			t.Fatalf("PruneStaleLocations() error = %v", err)
		}
		if n != 1 {
			t.Errorf("pruned = %d, want 1", n)
		}

		got, _, err := idx.Get(ctx, h)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if len(got.Locations) != 1 || got.Locations[0].RelativePath != "fresh.safetensors" {
			t.Errorf("remaining locations = %+v, want only fresh.safetensors", got.Locations)
		}
	})

	t.Run("FindInCategory matches filename and category directory", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		h := testHash(6)
		if err := idx.Upsert(ctx, model.Model{Hash: h, Size: 1, Locations: []model.Location{
			{RelativePath: "checkpoints/dreamshaper_8.safetensors", Filename: "dreamshaper_8.safetensors"},
		}}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}

		matches, err := idx.FindInCategory(ctx, "dreamshaper_8.safetensors", "checkpoints")
		if err != nil {
			t.Fatalf("FindInCategory() error = %v", err)
		}
		if len(matches) != 1 || matches[0].Hash != h {
			t.Errorf("FindInCategory() = %+v, want exactly one match on hash %s", matches, h)
		}

		none, err := idx.FindInCategory(ctx, "dreamshaper_8.safetensors", "loras")
		if err != nil {
			t.Fatalf("FindInCategory() (wrong category) error = %v", err)
		}
		if len(none) != 0 {
			t.Errorf("FindInCategory() with mismatched category = %+v, want none", none)
		}
	})

	t.Run("List returns every indexed model", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		for i := byte(10); i < 13; i++ {
			if err := idx.Upsert(ctx, model.Model{Hash: testHash(i), Size: int64(i)}); err != nil {
				t.Fatalf("Upsert() error = %v", err)
			}
		}
		got, err := idx.List(ctx)
		if err != nil {
			t.Fatalf("List() error = %v", err)
		}
		if len(got) != 3 {
			t.Errorf("List() returned %d models, want 3", len(got))
		}
	})

	t.Run("FindByFilename matches case-insensitive substring", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		h := testHash(20)
		if err := idx.Upsert(ctx, model.Model{
			Hash: h, Size: 1,
			Locations: []model.Location{{RelativePath: "loras/My-Style-LoRA.safetensors", Filename: "My-Style-LoRA.safetensors"}},
		}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		got, err := idx.FindByFilename(ctx, "style-lora", 0)
		if err != nil {
			t.Fatalf("FindByFilename() error = %v", err)
		}
		if len(got) != 1 || got[0].Hash != h {
			t.Errorf("FindByFilename() = %+v, want one match on %s", got, h)
		}
		none, err := idx.FindByFilename(ctx, "no-such-thing", 0)
		if err != nil {
			t.Fatalf("FindByFilename() error = %v", err)
		}
		if len(none) != 0 {
			t.Errorf("FindByFilename() with no match = %+v, want none", none)
		}
	})

	t.Run("FindByRelativePath matches exact path only", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		h := testHash(21)
		if err := idx.Upsert(ctx, model.Model{
			Hash: h, Size: 1,
			Locations: []model.Location{{RelativePath: "checkpoints/exact.safetensors", Filename: "exact.safetensors"}},
		}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		got, err := idx.FindByRelativePath(ctx, "checkpoints/exact.safetensors")
		if err != nil {
			t.Fatalf("FindByRelativePath() error = %v", err)
		}
		if len(got) != 1 || got[0].Hash != h {
			t.Errorf("FindByRelativePath() = %+v, want one match on %s", got, h)
		}
		none, err := idx.FindByRelativePath(ctx, "checkpoints/exact")
		if err != nil {
			t.Fatalf("FindByRelativePath() error = %v", err)
		}
		if len(none) != 0 {
			t.Errorf("FindByRelativePath() with a non-exact prefix = %+v, want none", none)
		}
	})

	t.Run("HasModel reflects presence", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		h := testHash(22)
		has, err := idx.HasModel(ctx, h)
		if err != nil {
			t.Fatalf("HasModel() error = %v", err)
		}
		if has {
			t.Errorf("HasModel() = true before indexing")
		}
		if err := idx.Upsert(ctx, model.Model{Hash: h, Size: 1}); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
		has, err = idx.HasModel(ctx, h)
		if err != nil {
			t.Fatalf("HasModel() error = %v", err)
		}
		if !has {
			t.Errorf("HasModel() = false after indexing")
		}
	})

	t.Run("AddSource creates a bare model row when hash is unknown", func(t *testing.T) {
		idx := newIndex(t)
		ctx := context.Background()
		h := testHash(23)
		src := model.Source{Type: model.SourceCivitAI, URL: "https://civitai.com/models/99"}
		if err := idx.AddSource(ctx, h, src); err != nil {
			t.Fatalf("AddSource() error = %v", err)
		}
		got, ok, err := idx.Get(ctx, h)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if !ok || len(got.Sources) != 1 || got.Sources[0].URL != src.URL {
			t.Errorf("Get() after AddSource() = %+v, %v", got, ok)
		}
		// Idempotent: re-adding the same (hash, url) does not duplicate.
		if err := idx.AddSource(ctx, h, src); err != nil {
			t.Fatalf("AddSource() (repeat) error = %v", err)
		}
		got, _, err = idx.Get(ctx, h)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if len(got.Sources) != 1 {
			t.Errorf("Sources = %+v after repeat AddSource(), want still one entry", got.Sources)
		}
	})
}

func TestMemIndex(t *testing.T) {
	runIndexContractTests(t, func(t *testing.T) Index {
		return NewMem()
	})
}

func TestStore(t *testing.T) {
	runIndexContractTests(t, func(t *testing.T) Index {
		return newTestStore(t)
	})
}
