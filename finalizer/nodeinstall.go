package finalizer

import (
	"context"
	"sync"

	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/model"
)

// NodeInstaller places one custom node's code under the environment's
// custom-nodes directory (§4.I.3: "fetch (using a cache if present) and
// place under the environment's custom-nodes directory"). Registry and git
// fetching are external concerns (§1 Non-goals scope credential/transport
// plumbing for those out), so the Finalizer depends on this interface
// rather than a concrete registry or git-fetch client, the way it already
// depends on pyinstall.Installer and gitvcs.VCS for its other collaborators.
type NodeInstaller interface {
	Install(ctx context.Context, entry model.NodeEntry, customNodesDir string) error
}

// FakeNodeInstaller records install calls in memory, standing in for a real
// registry/git fetch client the way pyinstall.Fake stands in for a real
// package installer.
type FakeNodeInstaller struct {
	mu        sync.Mutex
	installed map[string]model.NodeEntry
	FailFor   map[string]error
}

// NewFakeNodeInstaller returns an empty FakeNodeInstaller.
func NewFakeNodeInstaller() *FakeNodeInstaller {
	return &FakeNodeInstaller{installed: map[string]model.NodeEntry{}}
}

func (f *FakeNodeInstaller) Install(_ context.Context, entry model.NodeEntry, customNodesDir string) error {
	if entry.Name == "" {
		return cerr.New(cerr.KindValidation, "node entry missing name", nil)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailFor[entry.Name]; ok {
		return err
	}
	f.installed[entry.Name] = entry
	return nil
}

// Installed reports whether name was successfully installed.
func (f *FakeNodeInstaller) Installed(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.installed[name]
	return ok
}

var _ NodeInstaller = (*FakeNodeInstaller)(nil)
