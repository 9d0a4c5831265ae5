package infer

import (
	"sort"

	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/modelapi"
	"github.com/EmbarkStudios/cervo/pkg/scratchpad"
)

// FixedBatchInferer compiles one plan per batch size in a known, bounded
// set S (always including 1), and picks the largest member of S that fits
// the agents on hand. Use it when the batch-size distribution is known in
// advance.
type FixedBatchInferer struct {
	base
	sizes []int // sorted descending, always contains 1
	plans map[int]graph.Plan
}

// FixedBatchFromGraph introspects g and compiles one plan per entry of
// sizes. 1 is added to sizes if absent, guaranteeing SelectBatchSize can
// always make progress.
func FixedBatchFromGraph(g graph.ModelGraph, sizes []int) (*FixedBatchInferer, error) {
	api, err := modelapi.Introspect(g)
	if err != nil {
		return nil, err
	}

	set := make(map[int]struct{}, len(sizes)+1)
	for _, s := range sizes {
		if s > 0 {
			set[s] = struct{}{}
		}
	}
	set[1] = struct{}{}

	sorted := make([]int, 0, len(set))
	for s := range set {
		sorted = append(sorted, s)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	plans := make(map[int]graph.Plan, len(sorted))
	for _, s := range sorted {
		plan, err := g.BindBatch(s)
		if err != nil {
			return nil, cerrors.Wrap(cerrors.KindInternal, err, "compiling plan for batch size %d", s)
		}
		plans[s] = plan
	}

	return &FixedBatchInferer{base: base{api: api}, sizes: sorted, plans: plans}, nil
}

// SelectBatchSize returns the largest compiled size <= maxCount. Because 1
// is always a member of the compiled set, a matching size always exists.
func (f *FixedBatchInferer) SelectBatchSize(maxCount int) int {
	for _, s := range f.sizes {
		if s <= maxCount {
			return s
		}
	}
	// Unreachable: 1 is always in f.sizes and maxCount >= 1 by contract.
	return 1
}

// InferRaw implements Inferer. view.Len() must be a member of the compiled
// set.
func (f *FixedBatchInferer) InferRaw(view *scratchpad.View) error {
	plan, ok := f.plans[view.Len()]
	if !ok {
		return cerrors.New(cerrors.KindNoMatchingBatchSize, "no compiled plan for batch size %d", view.Len())
	}
	if err := runPlan(plan, view, f.RawInputShapes(), f.RawOutputShapes()); err != nil {
		return cerrors.Wrap(cerrors.KindExecution, err, "fixed-batch inference at size %d", view.Len())
	}
	return nil
}

var _ Inferer = (*FixedBatchInferer)(nil)
