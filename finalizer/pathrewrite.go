package finalizer

import (
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/comfydock/comfydock-core/internal/cerr"
)

// rewriteWidgetValue updates the widget value at (nodeID, widgetIndex) in a
// ComfyUI workflow graph to newValue (§4.I.6 "Path rewriting"), tolerating
// both graph shapes workflowparser.Parse already reads: a "nodes" array of
// objects carrying their own "id" field, or a flat object keyed by node id.
func rewriteWidgetValue(data []byte, nodeID string, widgetIndex int, newValue string) ([]byte, error) {
	root := gjson.ParseBytes(data)
	nodes := root.Get("nodes")
	flat := !nodes.Exists()
	if flat {
		nodes = root
	}

	var path string
	if nodes.IsArray() {
		idx := -1
		i := 0
		nodes.ForEach(func(_, node gjson.Result) bool {
			if node.Get("id").String() == nodeID {
				idx = i
				return false
			}
			i++
			return true
		})
		if idx < 0 {
			return nil, cerr.Newf(cerr.KindNotFound, nil, "node %s not found in workflow graph", nodeID)
		}
		path = fmt.Sprintf("nodes.%d.widgets_values.%d", idx, widgetIndex)
	} else {
		if !nodes.Get(nodeID).Exists() {
			return nil, cerr.Newf(cerr.KindNotFound, nil, "node %s not found in workflow graph", nodeID)
		}
		prefix := nodeID
		if !flat {
			prefix = "nodes." + nodeID
		}
		path = fmt.Sprintf("%s.widgets_values.%d", prefix, widgetIndex)
	}

	out, err := sjson.SetBytes(data, path, newValue)
	if err != nil {
		return nil, cerr.New(cerr.KindValidation, "rewriting workflow widget value", err)
	}
	return out, nil
}
