// Package manifest implements the Environment Manifest (spec.md §4.C): a
// declarative, hashable, human-diffable record of one ComfyUI environment,
// persisted as a pyproject.toml-shaped file under `tool.comfydock.*` tables.
package manifest

import (
	"sort"

	"github.com/comfydock/comfydock-core/model"
)

// Document is the in-memory shape of the manifest file, mirroring the
// `tool.comfydock.*` TOML tables described in §3.4.
type Document struct {
	Environment model.EnvironmentMeta          `toml:"environment"`
	Models      []model.GlobalModelEntry       `toml:"models"`
	Workflows   []model.WorkflowEntry          `toml:"workflows"`
	Nodes       []model.NodeEntry              `toml:"nodes"`
}

// wireDocument is the literal TOML shape, nested under tool.comfydock per
// the pyproject.toml convention (§3.4). Field names/tags match the on-disk
// format; conversions to/from Document live in convert.go.
type wireDocument struct {
	Tool struct {
		Comfydock wireComfydock `toml:"comfydock"`
	} `toml:"tool"`
}

type wireComfydock struct {
	Environment wireEnvironment  `toml:"environment"`
	Models      []wireModel      `toml:"models"`
	Workflows   []wireWorkflow   `toml:"workflows"`
	Nodes       []wireNode       `toml:"nodes"`
}

type wireEnvironment struct {
	ComfyUIVersion     string `toml:"comfyui_version"`
	ComfyUIVersionType string `toml:"comfyui_version_type"`
	PythonVersion      string `toml:"python_version"`
}

type wireModel struct {
	Hash         string   `toml:"hash"`
	Filename     string   `toml:"filename"`
	Size         int64    `toml:"size"`
	RelativePath string   `toml:"relative_path"`
	Category     string   `toml:"category"`
	Criticality  string   `toml:"criticality"`
	Sources      []string `toml:"sources,omitempty"`
}

type wireReference struct {
	NodeID      string `toml:"node_id"`
	NodeType    string `toml:"node_type"`
	WidgetIndex int    `toml:"widget_index"`
	WidgetValue string `toml:"widget_value"`
	Criticality string `toml:"criticality"`
	Category    string `toml:"category"`
	Status      string `toml:"status"`
	Hash        string `toml:"hash,omitempty"`
}

type wireWorkflow struct {
	Name       string          `toml:"name"`
	Path       string          `toml:"path"`
	References []wireReference `toml:"references"`
}

type wireNode struct {
	Name         string   `toml:"name"`
	Source       string   `toml:"source"`
	InstallSpec  string   `toml:"install_spec"`
	Requirements []string `toml:"requirements,omitempty"`
	DevPath      string   `toml:"dev_path,omitempty"`
}

// sortForDiff orders a Document's slices deterministically so two semantically
// equal manifests always serialize byte-identically (§3.4 "diffable" goal,
// and the §8 round-trip/idempotence property).
func (d *Document) sortForDiff() {
	sort.Slice(d.Models, func(i, j int) bool {
		return d.Models[i].Hash.String() < d.Models[j].Hash.String()
	})
	sort.Slice(d.Workflows, func(i, j int) bool {
		return d.Workflows[i].Name < d.Workflows[j].Name
	})
	for i := range d.Workflows {
		refs := d.Workflows[i].References
		sort.Slice(refs, func(a, b int) bool {
			if refs[a].NodeID != refs[b].NodeID {
				return refs[a].NodeID < refs[b].NodeID
			}
			return refs[a].WidgetIndex < refs[b].WidgetIndex
		})
	}
	sort.Slice(d.Nodes, func(i, j int) bool {
		return d.Nodes[i].Name < d.Nodes[j].Name
	})
}
