// Package workflowparser extracts model and custom-node references from a
// ComfyUI workflow graph (spec.md §4.D). Where the teacher's
// packages/core/workflow parses GitHub Actions YAML into typed structs, this
// package walks an untyped ComfyUI node graph (a JSON object keyed by node
// id) with github.com/tidwall/gjson, since the graph's node shape varies
// per-node-type in ways a single Go struct can't usefully model.
package workflowparser

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/loadercat"
	"github.com/comfydock/comfydock-core/model"
)

// maxWorkflowSizeBytes mirrors the teacher's workflow-file size guard
// (packages/core/workflow/parser.go), adjusted for ComfyUI's denser JSON
// graphs rather than GitHub Actions YAML.
const maxWorkflowSizeBytes = 8 * 1024 * 1024

// validateWorkflowContent applies the same defense-in-depth checks the
// teacher's validateWorkflowContent does for workflow YAML: a size cap and a
// null-byte / excessive-control-character guard against binary content
// disguised as a workflow file.
func validateWorkflowContent(data []byte) error {
	if len(data) > maxWorkflowSizeBytes {
		return cerr.Newf(cerr.KindValidation, nil, "workflow file exceeds maximum size of %d bytes", maxWorkflowSizeBytes)
	}
	if bytes.Contains(data, []byte{0x00}) {
		return cerr.New(cerr.KindValidation, "workflow file contains null bytes (binary content not allowed)", nil)
	}
	controlCount := 0
	for _, b := range data {
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			controlCount++
		}
	}
	if controlCount > 10 {
		return cerr.Newf(cerr.KindValidation, nil, "workflow file contains excessive control characters (%d found)", controlCount)
	}
	return nil
}

// RawReference is one loader-node reference extracted from the graph, before
// resolution binds it to an indexed hash (§4.D: "(node_id, node_type,
// widget_index, widget_value, category)").
type RawReference struct {
	NodeID      string
	NodeType    string
	WidgetIndex int
	WidgetValue string
	Category    string
	Criticality model.Criticality
}

// ParseFile reads, validates, and parses the ComfyUI workflow JSON file at
// path, extracting raw references using the given loader category table.
func ParseFile(path string, cat *loadercat.Registry) ([]RawReference, error) {
	data, err := os.ReadFile(path) //nolint:gosec // caller is responsible for path containment
	if err != nil {
		return nil, cerr.New(cerr.KindTransport, fmt.Sprintf("reading workflow file %s", path), err)
	}
	return Parse(data, cat)
}

// Parse extracts raw references from workflow graph JSON already in memory.
// Nodes come from a "nodes" array (each node carrying an "id") or, when there
// is no "nodes" key, from the document root as an object keyed by node id.
// A node's type is read from "type" or "class_type", and its model name from
// "widgets_values" or "inputs".
func Parse(data []byte, cat *loadercat.Registry) ([]RawReference, error) {
	if err := validateWorkflowContent(data); err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, cerr.New(cerr.KindValidation, "workflow file is not valid JSON", nil)
	}

	root := gjson.ParseBytes(data)
	nodes := root.Get("nodes")
	if !nodes.Exists() {
		// Some exports store nodes as the document root itself (a plain
		// {"1": {...}, "2": {...}} map) rather than under a "nodes" key.
		nodes = root
	}

	var refs []RawReference
	var nodeIDs []string
	nodeByID := map[string]gjson.Result{}

	if nodes.IsArray() {
		nodes.ForEach(func(_, node gjson.Result) bool {
			id := node.Get("id").String()
			nodeIDs = append(nodeIDs, id)
			nodeByID[id] = node
			return true
		})
	} else {
		nodes.ForEach(func(key, node gjson.Result) bool {
			id := key.String()
			nodeIDs = append(nodeIDs, id)
			nodeByID[id] = node
			return true
		})
	}
	sort.Strings(nodeIDs) // deterministic output order, independent of JSON key order

	for _, id := range nodeIDs {
		node := nodeByID[id]
		nodeType := node.Get("type").String()
		if nodeType == "" {
			nodeType = node.Get("class_type").String() // API-format export
		}
		if nodeType == "" {
			continue
		}

		spec, known := cat.Lookup(nodeType)
		widgetValue := widgetValueAt(node, spec.WidgetIndex)
		if widgetValue == "" {
			// §8 boundary behavior: an empty widget_value is ignored by the
			// Parser, known loader type or not.
			continue
		}

		criticality := model.CriticalityFlexible
		if !known {
			criticality = model.CriticalityOptional
		}

		refs = append(refs, RawReference{
			NodeID:      id,
			NodeType:    nodeType,
			WidgetIndex: spec.WidgetIndex,
			WidgetValue: widgetValue,
			Category:    spec.Category,
			Criticality: criticality,
		})
	}

	return refs, nil
}

// widgetValueAt reads a string widget value from a node's widgets_values
// array (UI-format export) or its inputs object (API-format export), at the
// given index / matching loadercat's widget slot convention.
func widgetValueAt(node gjson.Result, widgetIndex int) string {
	widgets := node.Get("widgets_values")
	if widgets.Exists() && widgets.IsArray() {
		var at gjson.Result
		i := 0
		widgets.ForEach(func(_, v gjson.Result) bool {
			if i == widgetIndex {
				at = v
				return false
			}
			i++
			return true
		})
		if at.Type == gjson.String {
			return at.String()
		}
	}

	// API-format export: inputs is a {name: value} object without positional
	// ordering; ComfyUI loader nodes conventionally name the primary widget
	// input after the model category (ckpt_name, lora_name, vae_name, ...).
	inputs := node.Get("inputs")
	if inputs.Exists() {
		var found string
		inputs.ForEach(func(key, v gjson.Result) bool {
			if v.Type == gjson.String && isModelNameKey(key.String()) {
				found = v.String()
				return false
			}
			return true
		})
		return found
	}

	return ""
}

// DetectCustomNodeTypes walks the same graph Parse does and returns the set
// of node types (deduplicated, sorted) that are not present in builtinTypes
// (§4.D "Custom node detection"). The caller cross-references this set
// against the manifest's installed custom nodes during resolution/import.
func DetectCustomNodeTypes(data []byte, builtinTypes map[string]bool) ([]string, error) {
	if err := validateWorkflowContent(data); err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(data) {
		return nil, cerr.New(cerr.KindValidation, "workflow file is not valid JSON", nil)
	}

	root := gjson.ParseBytes(data)
	nodes := root.Get("nodes")
	if !nodes.Exists() {
		nodes = root
	}

	seen := map[string]bool{}
	var out []string
	walk := func(_, node gjson.Result) bool {
		nodeType := node.Get("type").String()
		if nodeType == "" {
			nodeType = node.Get("class_type").String()
		}
		if nodeType == "" || builtinTypes[nodeType] || seen[nodeType] {
			return true
		}
		seen[nodeType] = true
		out = append(out, nodeType)
		return true
	}
	if nodes.IsArray() {
		nodes.ForEach(walk)
	} else {
		nodes.ForEach(walk)
	}

	sort.Strings(out)
	return out, nil
}

func isModelNameKey(key string) bool {
	switch key {
	case "ckpt_name", "lora_name", "vae_name", "control_net_name",
		"model_name", "clip_name", "clip_vision_name", "style_model_name",
		"unet_name":
		return true
	default:
		return false
	}
}
