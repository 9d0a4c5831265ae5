package infer

import (
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/modelapi"
	"github.com/EmbarkStudios/cervo/pkg/scratchpad"
)

// base provides the shape-introspection and no-op agent-lifecycle methods
// shared by every unwrapped strategy: none of them filter slots or track
// per-agent state, so InputShapes == RawInputShapes and BeginAgent/EndAgent
// do nothing.
type base struct {
	api modelapi.ModelApi
}

func (b base) InputShapes() []graph.Shape     { return b.api.InputShapes() }
func (b base) OutputShapes() []graph.Shape    { return b.api.OutputShapes() }
func (b base) RawInputShapes() []graph.Shape  { return b.api.InputShapes() }
func (b base) RawOutputShapes() []graph.Shape { return b.api.OutputShapes() }

func (base) BeginAgent(scratchpad.AgentId) {}
func (base) EndAgent(scratchpad.AgentId)   {}

// runPlan copies a view's input slots into graph.Tensors, runs plan, and
// copies the resulting output tensors back into the view's output slots.
// Shared by every strategy's InferRaw.
func runPlan(plan graph.Plan, view *scratchpad.View, inputShapes, outputShapes []graph.Shape) error {
	batch := view.Len()

	inTensors := make([]graph.Tensor, len(inputShapes))
	for i, shape := range inputShapes {
		inTensors[i] = graph.Tensor{Shape: shape, Batch: batch, Data: view.InputSlot(i)}
	}

	outTensors := make([]graph.Tensor, len(outputShapes))
	for i, shape := range outputShapes {
		outTensors[i] = graph.Tensor{Shape: shape, Batch: batch, Data: view.OutputSlotMut(i)}
	}

	return plan.Run(inTensors, outTensors)
}
