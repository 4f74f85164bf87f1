// Package model defines the data types shared by the Model Index, Manifest
// Store, Workflow Resolver, and Finalizer: the identity and bookkeeping
// structures described in spec.md §3.
package model

import (
	"encoding/hex"
	"fmt"
	"time"
)

// QuickHash is a 192-bit BLAKE3 digest over three sampled windows of a file
// plus its size trailer (§3.1). It is rendered as 48 lowercase hex characters
// at API boundaries.
type QuickHash [24]byte

// String renders the quick-hash as lowercase hex.
func (h QuickHash) String() string {
	const hextable = "0123456789abcdef"
	buf := make([]byte, len(h)*2)
	for i, b := range h {
		buf[i*2] = hextable[b>>4]
		buf[i*2+1] = hextable[b&0x0f]
	}
	return string(buf)
}

// IsZero reports whether h is the zero-value hash (never a real digest,
// since size is always mixed in, but useful as a "not set" sentinel).
func (h QuickHash) IsZero() bool {
	return h == QuickHash{}
}

// ParseQuickHash decodes a lowercase-hex quick-hash as rendered by String.
func ParseQuickHash(s string) (QuickHash, error) {
	var out QuickHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("decoding quick-hash %q: %w", s, err)
	}
	if len(b) != len(out) {
		return out, fmt.Errorf("quick-hash %q has %d bytes, want %d", s, len(b), len(out))
	}
	copy(out[:], b)
	return out, nil
}

// Location is one place on disk a model's bytes are known to live, relative
// to the workspace's models root (§3.1 "Locations").
type Location struct {
	RelativePath string
	Filename     string
	MTime        time.Time
	LastSeen     time.Time
}

// SourceType classifies a download source by URL host (§6.7).
type SourceType string

const (
	SourceCivitAI     SourceType = "civitai"
	SourceHuggingFace SourceType = "huggingface"
	SourceDirect      SourceType = "direct"
)

// Source is one place a model's bytes can be fetched from (§3.1 "Sources").
type Source struct {
	Type     SourceType
	URL      string
	Metadata map[string]string
	AddedAt  time.Time
}

// Model is the identity record for one quick-hash: attributes, every known
// location, and every known download source (§3.1).
type Model struct {
	Hash      QuickHash
	Size      int64
	SHA256    string // empty until lazily computed (§3.1 "Strong digests")
	BLAKE3Full string // full-file BLAKE3, distinct from the sampled quick-hash
	IndexedAt time.Time
	ModifiedAt time.Time // last-modified timestamp observed at index time

	Locations []Location
	Sources   []Source
}

// HasStrongDigests reports whether the lazy full-file digests have been
// computed. Once set they are immutable (§3.1 invariant).
func (m *Model) HasStrongDigests() bool {
	return m.SHA256 != "" && m.BLAKE3Full != ""
}

// Criticality is whether a workflow reference must be satisfied exactly,
// may be substituted, or may be omitted (§3.2, Glossary).
type Criticality string

const (
	CriticalityRequired Criticality = "required"
	CriticalityFlexible Criticality = "flexible"
	CriticalityOptional Criticality = "optional"
)

// Stronger returns the stronger of two criticalities, used for promotion
// when the same hash appears across multiple workflows (§4.E "Criticality
// promotion"): required > flexible > optional.
func (c Criticality) Stronger(other Criticality) Criticality {
	rank := map[Criticality]int{CriticalityRequired: 2, CriticalityFlexible: 1, CriticalityOptional: 0}
	if rank[other] > rank[c] {
		return other
	}
	return c
}

// Status is whether a reference has been bound to a hash (§3.2).
type Status string

const (
	StatusResolved   Status = "resolved"
	StatusUnresolved Status = "unresolved"
)

// Reference is a single model-requiring position in a workflow graph (§3.2,
// Glossary). (NodeID, WidgetIndex) is unique within one workflow.
type Reference struct {
	NodeID      string
	NodeType    string
	WidgetIndex int
	WidgetValue string
	Criticality Criticality
	Category    string
	Status      Status
	Hash        QuickHash // only meaningful when Status == StatusResolved
}

// Key returns the (NodeID, WidgetIndex) identity tuple for this reference.
func (r Reference) Key() RefKey {
	return RefKey{NodeID: r.NodeID, WidgetIndex: r.WidgetIndex}
}

// RefKey is the unique identity of a reference within one workflow.
type RefKey struct {
	NodeID      string
	WidgetIndex int
}

// CommitSafe reports whether every reference in refs satisfies §3.2's
// commit-safety invariant: resolved, optional, or the caller forced an
// override.
func CommitSafe(refs []Reference, force bool) bool {
	if force {
		return true
	}
	for _, r := range refs {
		if r.Status != StatusResolved && r.Criticality != CriticalityOptional {
			return false
		}
	}
	return true
}

// NodeSource is where a custom node's code comes from (§3.3).
type NodeSource string

const (
	NodeSourceRegistry    NodeSource = "registry"
	NodeSourceGit         NodeSource = "git"
	NodeSourceDevelopment NodeSource = "development"
)

// PackageSpec is one version-constrained Python package requirement.
type PackageSpec struct {
	Specifier string
	Group     string
}

// NodeEntry records one installed custom node (§3.3). Exactly one entry per
// Name; Registry/Git entries are reproducible from InstallSpec alone,
// Development entries require bundled source at export time.
type NodeEntry struct {
	Name         string
	Source       NodeSource
	InstallSpec  string // registry id[@version] or git URL[#ref]
	Requirements []PackageSpec
	DevPath      string // relative path under custom-nodes dir, Development only
}

// ComfyUIVersionType discriminates how the pinned ComfyUI revision is named
// (§3.4 "Environment meta").
type ComfyUIVersionType string

const (
	ComfyUIRelease ComfyUIVersionType = "release"
	ComfyUIBranch  ComfyUIVersionType = "branch"
	ComfyUICommit  ComfyUIVersionType = "commit"
)

// EnvironmentMeta is the manifest's environment-level pin (§3.4).
type EnvironmentMeta struct {
	ComfyUIVersion     string
	ComfyUIVersionType ComfyUIVersionType
	PythonVersion      string
}

// GlobalModelEntry is one row of the manifest's global model table (§3.4):
// only resolved hashes appear here.
type GlobalModelEntry struct {
	Hash         QuickHash
	Filename     string
	Size         int64
	RelativePath string
	Category     string
	Criticality  Criticality
	Sources      []string // ordered source URLs
}

// WorkflowEntry is one tracked workflow: its file path and its reference
// bindings (§3.4 "Workflows" — the table itself is keyed by workflow Name).
type WorkflowEntry struct {
	Name       string
	Path       string
	References []Reference
}
