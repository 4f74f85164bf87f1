// Package pyinstall implements the Python dependency collaborator contract
// (spec.md §6.2): an opaque interface the core drives to sync, add, remove,
// and list a Python virtual environment's packages. The core never touches
// site-packages directly — only one in-memory fake backend is provided
// here, since the real venv backend is explicitly out of scope (§1
// Non-goals); the fake exists so the Finalizer and its tests have something
// concrete to drive.
package pyinstall

import (
	"context"
	"sort"
	"sync"

	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/model"
)

// Installer is the interface §6.2 names.
type Installer interface {
	SyncProject(ctx context.Context, manifestPath string, verbose bool) error
	Add(ctx context.Context, specifier, group string) error
	Remove(ctx context.Context, specifier, group string) error
	List(ctx context.Context, group string) ([]model.PackageSpec, error)
	Lock(ctx context.Context) error
	HasUncommittedChanges(ctx context.Context) (bool, error)
}

// Fake is an in-memory Installer: SyncProject/Add/Remove/List operate on a
// package set held in memory rather than a real virtual environment.
type Fake struct {
	mu       sync.Mutex
	packages map[string]model.PackageSpec // keyed by Specifier
	dirty    bool
	locked   bool
}

var _ Installer = (*Fake)(nil)

// NewFake returns an empty Fake installer.
func NewFake() *Fake {
	return &Fake{packages: make(map[string]model.PackageSpec)}
}

// SyncProject leaves the package set staged via Add/Remove as it is and
// clears the dirty flag. It does not read manifestPath, since this fake has
// no venv to reconcile; it only rejects an empty one.
func (f *Fake) SyncProject(_ context.Context, manifestPath string, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if manifestPath == "" {
		return cerr.New(cerr.KindValidation, "manifest path is required", nil)
	}
	f.dirty = false
	return nil
}

// Add records specifier under group, replacing any existing entry with the
// same Specifier (idempotent on re-add, as a real installer's lockfile
// update would be).
func (f *Fake) Add(_ context.Context, specifier, group string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if specifier == "" {
		return cerr.New(cerr.KindValidation, "package specifier is required", nil)
	}
	f.packages[specifier] = model.PackageSpec{Specifier: specifier, Group: group}
	f.dirty = true
	return nil
}

// Remove deletes specifier, if present. Removing an absent specifier is not
// an error (mirrors the idempotent semantics of Add).
func (f *Fake) Remove(_ context.Context, specifier, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.packages, specifier)
	f.dirty = true
	return nil
}

// List returns every tracked package, or only those in group when group is
// non-empty, sorted by Specifier for deterministic output.
func (f *Fake) List(_ context.Context, group string) ([]model.PackageSpec, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.PackageSpec, 0, len(f.packages))
	for _, spec := range f.packages {
		if group != "" && spec.Group != group {
			continue
		}
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Specifier < out[j].Specifier })
	return out, nil
}

// Lock marks the current package set as reproducible, clearing the dirty
// flag HasUncommittedChanges reports on.
func (f *Fake) Lock(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.locked = true
	f.dirty = false
	return nil
}

// HasUncommittedChanges reports whether Add/Remove have been called since
// the last SyncProject or Lock.
func (f *Fake) HasUncommittedChanges(_ context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dirty, nil
}
