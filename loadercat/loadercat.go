// Package loadercat is the loader category table (spec.md §6.4): a registry
// mapping ComfyUI loader node types to the (category, widget index) of the
// widget that carries a model filename.
package loadercat

import (
	"sort"
	"sync"
)

// Spec is what the Workflow Parser and Resolver need to know about one
// loader node type: which widget slot carries the model reference, and
// which model category it belongs to.
type Spec struct {
	Category    string
	WidgetIndex int
}

// UnknownCategory is assigned to node types with no registered Spec (§6.4:
// "unknown loader types fall back to category unknown and still produce
// references"). Never silently dropped.
const UnknownCategory = "unknown"

// Registry is a concurrency-safe node_type -> Spec lookup table, grounded on
// packages/core/tools.Registry's pattern of a mutex-protected map with a
// Register/Lookup surface instead of a fixed compiled-in switch, so new
// loader types can be added at runtime without a resolver code change.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Spec
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Spec)}
}

// Register adds or replaces the Spec for nodeType.
func (r *Registry) Register(nodeType string, spec Spec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[nodeType] = spec
}

// Lookup returns the Spec for nodeType, or (Spec{Category: UnknownCategory},
// false) if nodeType has no registered entry.
func (r *Registry) Lookup(nodeType string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.entries[nodeType]
	if !ok {
		return Spec{Category: UnknownCategory, WidgetIndex: 0}, false
	}
	return spec, true
}

// NodeTypes returns every registered node type, sorted, for diagnostics.
func (r *Registry) NodeTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for k := range r.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Default returns a Registry seeded with the built-in ComfyUI loader node
// types named in spec.md §6.4: checkpoints, loras, vae, controlnet,
// upscale_models, embeddings, clip_vision, style_models.
func Default() *Registry {
	r := NewRegistry()
	for nodeType, spec := range defaultEntries {
		r.Register(nodeType, spec)
	}
	return r
}

var defaultEntries = map[string]Spec{
	"CheckpointLoaderSimple": {Category: "checkpoints", WidgetIndex: 0},
	"CheckpointLoader":       {Category: "checkpoints", WidgetIndex: 0},
	"unCLIPCheckpointLoader": {Category: "checkpoints", WidgetIndex: 0},
	"ImageOnlyCheckpointLoader": {Category: "checkpoints", WidgetIndex: 0},

	"LoraLoader":           {Category: "loras", WidgetIndex: 0},
	"LoraLoaderModelOnly":  {Category: "loras", WidgetIndex: 0},
	"LoraLoaderTagFinding": {Category: "loras", WidgetIndex: 0},

	"VAELoader": {Category: "vae", WidgetIndex: 0},

	"ControlNetLoader":     {Category: "controlnet", WidgetIndex: 0},
	"DiffControlNetLoader": {Category: "controlnet", WidgetIndex: 0},

	"UpscaleModelLoader": {Category: "upscale_models", WidgetIndex: 0},

	"CLIPVisionLoader": {Category: "clip_vision", WidgetIndex: 0},

	"StyleModelLoader": {Category: "style_models", WidgetIndex: 0},

	"unCLIPCLIPLoader": {Category: "embeddings", WidgetIndex: 0},

	"CLIPLoader":     {Category: "clip", WidgetIndex: 0},
	"DualCLIPLoader":  {Category: "clip", WidgetIndex: 0},
	"UNETLoader":      {Category: "diffusion_models", WidgetIndex: 0},
	"GLIGENLoader":    {Category: "gligen", WidgetIndex: 0},
}
