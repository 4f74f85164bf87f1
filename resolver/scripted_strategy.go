package resolver

import (
	"context"
	"fmt"

	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/model"
	"github.com/comfydock/comfydock-core/workflowparser"
)

// MappingEntry is one line of a scripted strategy's decision mapping, keyed
// by widget_value (the filename the workflow references).
type MappingEntry struct {
	Hash           model.QuickHash // set for a Select decision
	DownloadURL    string          // set for a Download decision
	DownloadTarget string          // set for a Download decision
	MarkOptional   bool
	Skip           bool
}

// ScriptedStrategy resolves every reference from a precomputed mapping
// (§9's "reads a mapping file" variant), used for CI/batch imports where no
// human is present to answer prompts. An unmapped widget_value is an
// invariant_violation: the caller is expected to have covered every
// reference when building the mapping.
type ScriptedStrategy struct {
	Mapping map[string]MappingEntry
}

var _ Strategy = ScriptedStrategy{}

func (s ScriptedStrategy) decisionFor(value string) (Decision, error) {
	entry, ok := s.Mapping[value]
	if !ok {
		return Decision{}, cerr.Newf(cerr.KindInvariantViolation, nil, "no scripted mapping entry for %q", value)
	}
	switch {
	case entry.Skip:
		return Decision{Kind: DecisionSkip}, nil
	case entry.MarkOptional:
		return Decision{Kind: DecisionMarkOptional}, nil
	case entry.DownloadURL != "":
		return Decision{Kind: DecisionDownload, DownloadURL: entry.DownloadURL, DownloadTarget: entry.DownloadTarget}, nil
	case !entry.Hash.IsZero():
		return Decision{Kind: DecisionSelect, SelectedHash: entry.Hash}, nil
	default:
		return Decision{}, fmt.Errorf("scripted mapping entry for %q has no decision set", value)
	}
}

func (s ScriptedStrategy) OnAmbiguous(_ context.Context, ref workflowparser.RawReference, _ []Candidate) (Decision, error) {
	return s.decisionFor(ref.WidgetValue)
}

func (s ScriptedStrategy) OnUnresolved(_ context.Context, ref workflowparser.RawReference) (Decision, error) {
	return s.decisionFor(ref.WidgetValue)
}
