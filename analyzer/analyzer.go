// Package analyzer implements the Analyzer (spec.md §4.H): a read-only
// report over an extracted configuration directory's manifest, plus the
// model-acquisition strategy recommendation the Finalizer defaults to.
package analyzer

import (
	"context"
	"sort"

	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/manifest"
	"github.com/comfydock/comfydock-core/model"
	"github.com/comfydock/comfydock-core/modelindex"
)

// Strategy is the Finalizer's model-acquisition strategy (§4.I): which
// criticalities of missing models get downloaded during import.
type Strategy string

const (
	StrategyAll      Strategy = "all"
	StrategyRequired Strategy = "required"
	StrategySkip     Strategy = "skip"
)

// ModelReport is one row of the Analyzer's per-model breakdown (§4.H).
type ModelReport struct {
	Hash             model.QuickHash
	Filename         string
	Sources          []string
	Workflows        []string
	Criticality      model.Criticality
	AvailableLocally bool
}

// Counts summarizes the global model table against the local index.
type Counts struct {
	Total            int
	AvailableLocally int
	NeedDownload     int // not local, but has at least one source
	LackingSources   int // not local, and has no source
}

// Report is the Analyzer's full output (§4.H).
type Report struct {
	Environment   model.EnvironmentMeta
	WorkflowCount int
	NodeCounts    map[model.NodeSource]int

	ModelCounts Counts
	Models      []ModelReport

	RecommendedStrategy Strategy
}

// Analyze reads doc (an extracted manifest) and idx (the workspace's model
// index) and produces a read-only Report. idx may be nil or empty — every
// model is then treated as unavailable locally, matching a fresh workspace
// with no prior scan.
func Analyze(ctx context.Context, doc manifest.Document, idx modelindex.Index) (Report, error) {
	report := Report{
		Environment:   doc.Environment,
		WorkflowCount: len(doc.Workflows),
		NodeCounts:    map[model.NodeSource]int{},
	}

	for _, n := range doc.Nodes {
		report.NodeCounts[n.Source]++
	}

	workflowsByHash := make(map[model.QuickHash][]string)
	for _, wf := range doc.Workflows {
		for _, ref := range wf.References {
			if ref.Status != model.StatusResolved {
				continue
			}
			workflowsByHash[ref.Hash] = append(workflowsByHash[ref.Hash], wf.Name)
		}
	}

	anyRequiredLacksSource := false
	for _, m := range doc.Models {
		available := false
		if idx != nil {
			has, err := idx.HasModel(ctx, m.Hash)
			if err != nil {
				return Report{}, cerr.Newf(cerr.KindTransport, err, "checking index for model %s", m.Hash)
			}
			available = has
		}

		row := ModelReport{
			Hash:             m.Hash,
			Filename:         m.Filename,
			Sources:          append([]string(nil), m.Sources...),
			Workflows:        dedupeSorted(workflowsByHash[m.Hash]),
			Criticality:      m.Criticality,
			AvailableLocally: available,
		}
		report.Models = append(report.Models, row)

		report.ModelCounts.Total++
		switch {
		case available:
			report.ModelCounts.AvailableLocally++
		case len(m.Sources) > 0:
			report.ModelCounts.NeedDownload++
		default:
			report.ModelCounts.LackingSources++
		}

		if !available && m.Criticality == model.CriticalityRequired && len(m.Sources) == 0 {
			anyRequiredLacksSource = true
		}
	}

	switch {
	case report.ModelCounts.Total == report.ModelCounts.AvailableLocally:
		report.RecommendedStrategy = StrategySkip
	case anyRequiredLacksSource:
		report.RecommendedStrategy = StrategyRequired
	default:
		report.RecommendedStrategy = StrategyAll
	}

	return report, nil
}

func dedupeSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
