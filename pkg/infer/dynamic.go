package infer

import (
	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/modelapi"
	"github.com/EmbarkStudios/cervo/pkg/scratchpad"
)

// DynamicInferer holds a single fully-symbolic plan and never compiles a
// per-size specialization. Lower peak throughput than FixedBatch or
// MemoizingDynamic, but flat memory and no compile spikes; the fallback
// strategy when batch sizes are unpredictable.
type DynamicInferer struct {
	base
	plan graph.Plan
}

// DynamicFromGraph introspects g and binds its single dynamic plan.
func DynamicFromGraph(g graph.ModelGraph) (*DynamicInferer, error) {
	api, err := modelapi.Introspect(g)
	if err != nil {
		return nil, err
	}
	plan, err := g.BindDynamic()
	if err != nil {
		return nil, cerrors.Wrap(cerrors.KindInternal, err, "binding dynamic plan")
	}
	return &DynamicInferer{base: base{api: api}, plan: plan}, nil
}

// SelectBatchSize returns n: this strategy consumes whatever is presented.
func (d *DynamicInferer) SelectBatchSize(maxCount int) int {
	return maxCount
}

// InferRaw implements Inferer.
func (d *DynamicInferer) InferRaw(view *scratchpad.View) error {
	if err := runPlan(d.plan, view, d.RawInputShapes(), d.RawOutputShapes()); err != nil {
		return cerrors.Wrap(cerrors.KindExecution, err, "dynamic inference at size %d", view.Len())
	}
	return nil
}

var _ Inferer = (*DynamicInferer)(nil)
