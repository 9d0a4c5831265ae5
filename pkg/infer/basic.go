package infer

import (
	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/modelapi"
	"github.com/EmbarkStudios/cervo/pkg/scratchpad"
)

// BasicInferer is the one-shot strategy bound to batch dimension 1. It
// holds a single compiled plan and is the right choice when callers almost
// always present exactly one agent per tick.
type BasicInferer struct {
	base
	plan graph.Plan
}

// BasicFromGraph introspects g and compiles its single batch=1 plan.
func BasicFromGraph(g graph.ModelGraph) (*BasicInferer, error) {
	api, err := modelapi.Introspect(g)
	if err != nil {
		return nil, err
	}
	plan, err := g.BindBatch(1)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindInternal, err, "compiling batch=1 plan")
	}
	return &BasicInferer{base: base{api: api}, plan: plan}, nil
}

// SelectBatchSize always returns 1.
func (b *BasicInferer) SelectBatchSize(maxCount int) int {
	return 1
}

// InferRaw implements Inferer.
func (b *BasicInferer) InferRaw(view *scratchpad.View) error {
	if view.Len() != 1 {
		return cerrors.New(cerrors.KindExecution, "BasicInferer requires view length 1, got %d", view.Len())
	}
	if err := runPlan(b.plan, view, b.RawInputShapes(), b.RawOutputShapes()); err != nil {
		return cerrors.Wrap(cerrors.KindExecution, err, "basic inference")
	}
	return nil
}

var _ Inferer = (*BasicInferer)(nil)
