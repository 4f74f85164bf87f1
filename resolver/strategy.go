package resolver

import (
	"context"

	"github.com/comfydock/comfydock-core/model"
	"github.com/comfydock/comfydock-core/workflowparser"
)

// DecisionKind is the tagged-union discriminant for a ResolutionDecision
// (spec.md §9: "a tagged union of decisions + two function pointers
// suffices" — no strategy inheritance hierarchy is needed).
type DecisionKind int

const (
	DecisionSelect DecisionKind = iota
	DecisionDownload
	DecisionMarkOptional
	DecisionSkip
)

// Decision is what a ResolutionStrategy returns for one reference.
type Decision struct {
	Kind DecisionKind

	// SelectedHash is set when Kind == DecisionSelect: bind the reference to
	// this already-indexed model.
	SelectedHash model.QuickHash

	// DownloadURL/DownloadTarget are set when Kind == DecisionDownload: fetch
	// the model from DownloadURL and place it at DownloadTarget (a relative
	// path under the models root), then bind the reference to its quick-hash.
	DownloadURL    string
	DownloadTarget string
}

// Candidate is one already-indexed model offered to a strategy when a
// reference's widget value matches more than one model (several indexed
// models share the referenced filename within its category).
type Candidate struct {
	Hash  model.QuickHash
	Model model.Model
}

// Strategy is the polymorphic capability set the Resolver drives (§9).
// Concrete implementations: an interactive terminal strategy, an auto
// strategy, and a scripted strategy answering from a precomputed mapping.
type Strategy interface {
	// OnAmbiguous is called when more than one indexed model matches ref;
	// candidates has at least two entries.
	OnAmbiguous(ctx context.Context, ref workflowparser.RawReference, candidates []Candidate) (Decision, error)

	// OnUnresolved is called when no indexed model matches ref at all.
	OnUnresolved(ctx context.Context, ref workflowparser.RawReference) (Decision, error)
}
