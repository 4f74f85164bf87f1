// Package resolver implements the Workflow Resolver (spec.md §4.E): it binds
// a workflow's raw references to Model Index entries, trying a cache hit,
// then auto-resolution by (filename, category), then falling back to a
// pluggable Strategy for ambiguous or unresolved cases.
package resolver

import (
	"context"
	"path"

	"github.com/comfydock/comfydock-core/internal/cerr"
	"github.com/comfydock/comfydock-core/model"
	"github.com/comfydock/comfydock-core/modelindex"
	"github.com/comfydock/comfydock-core/workflowparser"
)

// PendingDownload is recorded when a Strategy chooses to fetch a model
// rather than select or skip it (§8 scenario 3): the reference stays
// unresolved until a Downloader later succeeds and a subsequent Resolve call
// observes the newly indexed hash.
type PendingDownload struct {
	Ref    model.RefKey
	URL    string
	Target string
}

// Result summarizes one Resolve call, for progress reporting and the §8
// end-to-end scenarios.
type Result struct {
	CacheHit     int
	AutoResolved int
	Reverted     int // previously resolved, backing hash no longer indexed
	MarkedOptional int
	Skipped        int

	PendingDownloads []PendingDownload
	Failures         []cerr.ItemFailure
}

// Resolve binds refs (fresh from the Workflow Parser) to index entries.
// previous is the workflow's prior reference bindings, if any (by RefKey),
// used for the cache-hit fast path; pass nil for a never-before-resolved
// workflow.
func Resolve(
	ctx context.Context,
	refs []workflowparser.RawReference,
	previous []model.Reference,
	idx modelindex.Index,
	strat Strategy,
) ([]model.Reference, Result, error) {
	prevByKey := make(map[model.RefKey]model.Reference, len(previous))
	for _, p := range previous {
		prevByKey[p.Key()] = p
	}

	out := make([]model.Reference, 0, len(refs))
	var result Result

	for _, raw := range refs {
		key := model.RefKey{NodeID: raw.NodeID, WidgetIndex: raw.WidgetIndex}

		if bound, hit, reverted, err := tryCacheHit(ctx, idx, key, prevByKey, raw); err != nil {
			result.Failures = append(result.Failures, cerr.ItemFailure{Item: raw.NodeID, Err: err})
			continue
		} else if hit {
			result.CacheHit++
			out = append(out, bound)
			continue
		} else if reverted {
			result.Reverted++
			// fall through: treat exactly like a fresh, never-resolved reference
		}

		ref, outcome, pending, err := resolveOne(ctx, idx, strat, raw)
		if err != nil {
			result.Failures = append(result.Failures, cerr.ItemFailure{Item: raw.NodeID, Err: err})
			continue
		}
		switch outcome {
		case outcomeAuto:
			result.AutoResolved++
		case outcomeOptional:
			result.MarkedOptional++
		case outcomeSkipped:
			result.Skipped++
		}
		if pending != nil {
			result.PendingDownloads = append(result.PendingDownloads, *pending)
		}
		out = append(out, ref)
	}

	return out, result, nil
}

// tryCacheHit reports whether key has a prior resolved binding whose hash is
// still present in the index. If the prior binding's hash has disappeared
// from the index entirely, reverted=true per §9's explicit "revert to
// unresolved, no automatic re-download" instruction.
func tryCacheHit(
	ctx context.Context,
	idx modelindex.Index,
	key model.RefKey,
	prevByKey map[model.RefKey]model.Reference,
	raw workflowparser.RawReference,
) (model.Reference, bool, bool, error) {
	prev, ok := prevByKey[key]
	if !ok || prev.Status != model.StatusResolved {
		return model.Reference{}, false, false, nil
	}

	_, found, err := idx.Get(ctx, prev.Hash)
	if err != nil {
		return model.Reference{}, false, false, err
	}
	if !found {
		return model.Reference{}, false, true, nil
	}

	bound := model.Reference{
		NodeID:      raw.NodeID,
		NodeType:    raw.NodeType,
		WidgetIndex: raw.WidgetIndex,
		WidgetValue: raw.WidgetValue,
		Category:    raw.Category,
		Criticality: raw.Criticality.Stronger(prev.Criticality),
		Status:      model.StatusResolved,
		Hash:        prev.Hash,
	}
	return bound, true, false, nil
}

type outcome int

const (
	outcomeAuto outcome = iota
	outcomeSelected
	outcomeOptional
	outcomeSkipped
	outcomeDownloadPending
)

// resolveOne runs the auto-resolve / strategy-prompt / persist sequence for
// one never-(or-no-longer)-bound reference (§4.E).
func resolveOne(
	ctx context.Context,
	idx modelindex.Index,
	strat Strategy,
	raw workflowparser.RawReference,
) (model.Reference, outcome, *PendingDownload, error) {
	base := model.Reference{
		NodeID:      raw.NodeID,
		NodeType:    raw.NodeType,
		WidgetIndex: raw.WidgetIndex,
		WidgetValue: raw.WidgetValue,
		Category:    raw.Category,
		Criticality: raw.Criticality,
		Status:      model.StatusUnresolved,
	}

	// §4.E algorithm step 2 "Exact path": a widget value that is itself a
	// relative path (e.g. "checkpoints/foo.safetensors") beats the
	// filename+category heuristic below when it matches an indexed
	// location exactly.
	if exact, err := idx.FindByRelativePath(ctx, raw.WidgetValue); err != nil {
		return model.Reference{}, 0, nil, err
	} else if len(exact) == 1 {
		base.Status = model.StatusResolved
		base.Hash = exact[0].Hash
		return base, outcomeAuto, nil, nil
	}

	candidates, err := idx.FindInCategory(ctx, path.Base(raw.WidgetValue), raw.Category)
	if err != nil {
		return model.Reference{}, 0, nil, err
	}

	switch len(candidates) {
	case 1:
		base.Status = model.StatusResolved
		base.Hash = candidates[0].Hash
		return base, outcomeAuto, nil, nil

	case 0:
		decision, err := strat.OnUnresolved(ctx, raw)
		if err != nil {
			return model.Reference{}, 0, nil, err
		}
		return applyDecision(base, decision)

	default:
		cs := make([]Candidate, len(candidates))
		for i, m := range candidates {
			cs[i] = Candidate{Hash: m.Hash, Model: m}
		}
		decision, err := strat.OnAmbiguous(ctx, raw, cs)
		if err != nil {
			return model.Reference{}, 0, nil, err
		}
		return applyDecision(base, decision)
	}
}

func applyDecision(base model.Reference, decision Decision) (model.Reference, outcome, *PendingDownload, error) {
	switch decision.Kind {
	case DecisionSelect:
		base.Status = model.StatusResolved
		base.Hash = decision.SelectedHash
		return base, outcomeSelected, nil, nil

	case DecisionDownload:
		pending := &PendingDownload{
			Ref:    base.Key(),
			URL:    decision.DownloadURL,
			Target: decision.DownloadTarget,
		}
		return base, outcomeDownloadPending, pending, nil

	case DecisionMarkOptional:
		base.Criticality = model.CriticalityOptional
		return base, outcomeOptional, nil, nil

	case DecisionSkip:
		return base, outcomeSkipped, nil, nil

	default:
		return base, outcomeSkipped, nil, cerr.Newf(cerr.KindInvariantViolation, nil, "unknown decision kind %d", decision.Kind)
	}
}
