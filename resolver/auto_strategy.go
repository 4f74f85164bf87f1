package resolver

import (
	"context"

	"github.com/comfydock/comfydock-core/model"
	"github.com/comfydock/comfydock-core/workflowparser"
)

// AutoStrategy is the non-interactive strategy (§9): on an ambiguous match it
// picks the first candidate (by the order the index returned); on a wholly
// unresolved reference it marks optional criticalities as MarkOptional and
// everything else as Skip, since there is no one to ask and no mapping file
// to consult.
type AutoStrategy struct{}

var _ Strategy = AutoStrategy{}

func (AutoStrategy) OnAmbiguous(_ context.Context, _ workflowparser.RawReference, candidates []Candidate) (Decision, error) {
	return Decision{Kind: DecisionSelect, SelectedHash: candidates[0].Hash}, nil
}

func (AutoStrategy) OnUnresolved(_ context.Context, ref workflowparser.RawReference) (Decision, error) {
	if ref.Criticality == model.CriticalityOptional {
		return Decision{Kind: DecisionMarkOptional}, nil
	}
	return Decision{Kind: DecisionSkip}, nil
}
