package manifest

import (
	"sync"

	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/model"
)

// Store is the Manifest Store (§4.C): the in-process view of one
// environment's manifest file, with the named per-entity operations the
// Resolver and Finalizer drive rather than raw Document field access. Every
// mutating method persists immediately (write-temp-then-rename via Save),
// so the manifest on disk is never more than one call stale (§4.E "Ctrl-C
// safe" extends to every Store mutation, not just Resolve).
type Store struct {
	path string
	mu   sync.Mutex
	doc  Document
}

// Open loads the manifest at path into a Store. A missing file is not
// created implicitly; callers that want a fresh manifest use OpenOrCreate.
func Open(path string) (*Store, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{path: path, doc: doc}, nil
}

// OpenOrCreate loads path if it exists, or initializes a Store around an
// empty Document (persisted on first mutating call) otherwise.
func OpenOrCreate(path string) (*Store, error) {
	s, err := Open(path)
	if err == nil {
		return s, nil
	}
	if !cerr.Is(err, cerr.KindNotFound) {
		return nil, err
	}
	return &Store{path: path, doc: Document{}}, nil
}

// Document returns a snapshot of the current in-memory manifest, for
// read-only consumers (Packager export, Analyzer).
func (s *Store) Document() Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc
}

// Reload re-reads the manifest file from disk, discarding any in-memory
// state not yet saved (there should be none, since every mutator saves).
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := Load(s.path)
	if err != nil {
		return err
	}
	s.doc = doc
	return nil
}

// save validates referential integrity (§4.C "Invariants enforced on save")
// and atomically persists the current in-memory document. Callers must hold
// s.mu.
func (s *Store) save() error {
	if err := validate(s.doc); err != nil {
		return err
	}
	return Save(s.path, s.doc)
}

// validate enforces §4.C's save-time invariant: every resolved reference
// must have a corresponding entry in the global model table.
func validate(d Document) error {
	known := make(map[model.QuickHash]bool, len(d.Models))
	for _, m := range d.Models {
		known[m.Hash] = true
	}
	for _, wf := range d.Workflows {
		for _, ref := range wf.References {
			if ref.Status == model.StatusResolved && !known[ref.Hash] {
				return cerr.New(cerr.KindInvariantViolation,
					"resolved reference has no corresponding global model table entry", nil).
					WithDetails(map[string]any{
						"workflow": wf.Name,
						"node_id":  ref.NodeID,
						"hash":     ref.Hash.String(),
					})
			}
		}
	}
	return nil
}

// GetWorkflow returns the named workflow entry, or (zero, false) if absent.
func (s *Store) GetWorkflow(name string) (model.WorkflowEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, wf := range s.doc.Workflows {
		if wf.Name == name {
			return wf, true
		}
	}
	return model.WorkflowEntry{}, false
}

// PutWorkflow inserts or replaces the named workflow entry and persists.
func (s *Store) PutWorkflow(name string, entry model.WorkflowEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Name = name
	replaced := false
	for i, wf := range s.doc.Workflows {
		if wf.Name == name {
			s.doc.Workflows[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		s.doc.Workflows = append(s.doc.Workflows, entry)
	}
	return s.save()
}

// DeleteWorkflow removes the named workflow entry, if present, and persists.
func (s *Store) DeleteWorkflow(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.doc.Workflows[:0]
	for _, wf := range s.doc.Workflows {
		if wf.Name != name {
			out = append(out, wf)
		}
	}
	s.doc.Workflows = out
	return s.save()
}

// GetAllModels returns every row of the global model table.
func (s *Store) GetAllModels() []model.GlobalModelEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.GlobalModelEntry, len(s.doc.Models))
	copy(out, s.doc.Models)
	return out
}

// AddModel inserts or replaces the global model table row for hash and
// persists. Criticality is promoted (§4.E "Criticality promotion") rather
// than overwritten when an entry for hash already exists.
func (s *Store) AddModel(hash model.QuickHash, entry model.GlobalModelEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.Hash = hash
	for i, m := range s.doc.Models {
		if m.Hash == hash {
			entry.Criticality = entry.Criticality.Stronger(m.Criticality)
			s.doc.Models[i] = entry
			return s.save()
		}
	}
	s.doc.Models = append(s.doc.Models, entry)
	return s.save()
}

// RemoveOrphanModels deletes global model table rows referenced by no
// workflow and carrying no user-added source (§4.C). Returns the count
// removed.
func (s *Store) RemoveOrphanModels() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	referenced := make(map[model.QuickHash]bool)
	for _, wf := range s.doc.Workflows {
		for _, ref := range wf.References {
			if ref.Status == model.StatusResolved {
				referenced[ref.Hash] = true
			}
		}
	}

	var kept []model.GlobalModelEntry
	removed := 0
	for _, m := range s.doc.Models {
		if referenced[m.Hash] || len(m.Sources) > 0 {
			kept = append(kept, m)
			continue
		}
		removed++
	}
	s.doc.Models = kept
	if err := s.save(); err != nil {
		return 0, err
	}
	return removed, nil
}

// GetNodes returns every tracked custom node entry.
func (s *Store) GetNodes() []model.NodeEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.NodeEntry, len(s.doc.Nodes))
	copy(out, s.doc.Nodes)
	return out
}

// PutNode inserts or replaces the node entry by Name and persists (§3.3
// "Exactly one entry per name").
func (s *Store) PutNode(entry model.NodeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, n := range s.doc.Nodes {
		if n.Name == entry.Name {
			s.doc.Nodes[i] = entry
			return s.save()
		}
	}
	s.doc.Nodes = append(s.doc.Nodes, entry)
	return s.save()
}

// DeleteNode removes the named node entry, if present, and persists.
func (s *Store) DeleteNode(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.doc.Nodes[:0]
	for _, n := range s.doc.Nodes {
		if n.Name != name {
			out = append(out, n)
		}
	}
	s.doc.Nodes = out
	return s.save()
}
