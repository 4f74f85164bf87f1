package manifest

import (
	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/model"
)

func toWire(d Document) wireDocument {
	var w wireDocument
	w.Tool.Comfydock.Environment = wireEnvironment{
		ComfyUIVersion:     d.Environment.ComfyUIVersion,
		ComfyUIVersionType: string(d.Environment.ComfyUIVersionType),
		PythonVersion:      d.Environment.PythonVersion,
	}
	for _, m := range d.Models {
		w.Tool.Comfydock.Models = append(w.Tool.Comfydock.Models, wireModel{
			Hash:         m.Hash.String(),
			Filename:     m.Filename,
			Size:         m.Size,
			RelativePath: m.RelativePath,
			Category:     m.Category,
			Criticality:  string(m.Criticality),
			Sources:      m.Sources,
		})
	}
	for _, wf := range d.Workflows {
		ww := wireWorkflow{Name: wf.Name, Path: wf.Path}
		for _, r := range wf.References {
			wr := wireReference{
				NodeID:      r.NodeID,
				NodeType:    r.NodeType,
				WidgetIndex: r.WidgetIndex,
				WidgetValue: r.WidgetValue,
				Criticality: string(r.Criticality),
				Category:    r.Category,
				Status:      string(r.Status),
			}
			if r.Status == model.StatusResolved {
				wr.Hash = r.Hash.String()
			}
			ww.References = append(ww.References, wr)
		}
		w.Tool.Comfydock.Workflows = append(w.Tool.Comfydock.Workflows, ww)
	}
	for _, n := range d.Nodes {
		wn := wireNode{
			Name:        n.Name,
			Source:      string(n.Source),
			InstallSpec: n.InstallSpec,
			DevPath:     n.DevPath,
		}
		for _, req := range n.Requirements {
			wn.Requirements = append(wn.Requirements, req.Specifier)
		}
		w.Tool.Comfydock.Nodes = append(w.Tool.Comfydock.Nodes, wn)
	}
	return w
}

func fromWire(w wireDocument) (Document, error) {
	var d Document
	d.Environment = model.EnvironmentMeta{
		ComfyUIVersion:     w.Tool.Comfydock.Environment.ComfyUIVersion,
		ComfyUIVersionType: model.ComfyUIVersionType(w.Tool.Comfydock.Environment.ComfyUIVersionType),
		PythonVersion:      w.Tool.Comfydock.Environment.PythonVersion,
	}

	for _, wm := range w.Tool.Comfydock.Models {
		hash, err := model.ParseQuickHash(wm.Hash)
		if err != nil {
			return Document{}, cerr.New(cerr.KindValidation, "manifest model entry has invalid hash", err).
				WithDetails(map[string]any{"filename": wm.Filename})
		}
		d.Models = append(d.Models, model.GlobalModelEntry{
			Hash:         hash,
			Filename:     wm.Filename,
			Size:         wm.Size,
			RelativePath: wm.RelativePath,
			Category:     wm.Category,
			Criticality:  model.Criticality(wm.Criticality),
			Sources:      wm.Sources,
		})
	}

	for _, ww := range w.Tool.Comfydock.Workflows {
		wf := model.WorkflowEntry{Name: ww.Name, Path: ww.Path}
		for _, wr := range ww.References {
			r := model.Reference{
				NodeID:      wr.NodeID,
				NodeType:    wr.NodeType,
				WidgetIndex: wr.WidgetIndex,
				WidgetValue: wr.WidgetValue,
				Criticality: model.Criticality(wr.Criticality),
				Category:    wr.Category,
				Status:      model.Status(wr.Status),
			}
			if r.Status == model.StatusResolved {
				hash, err := model.ParseQuickHash(wr.Hash)
				if err != nil {
					return Document{}, cerr.New(cerr.KindValidation, "manifest reference has invalid hash", err).
						WithDetails(map[string]any{"workflow": ww.Path, "node_id": wr.NodeID})
				}
				r.Hash = hash
			}
			wf.References = append(wf.References, r)
		}
		d.Workflows = append(d.Workflows, wf)
	}

	for _, wn := range w.Tool.Comfydock.Nodes {
		n := model.NodeEntry{
			Name:        wn.Name,
			Source:      model.NodeSource(wn.Source),
			InstallSpec: wn.InstallSpec,
			DevPath:     wn.DevPath,
		}
		for _, spec := range wn.Requirements {
			n.Requirements = append(n.Requirements, model.PackageSpec{Specifier: spec})
		}
		d.Nodes = append(d.Nodes, n)
	}

	return d, nil
}
