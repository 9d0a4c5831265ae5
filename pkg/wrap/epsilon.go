package wrap

import (
	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/infer"
	"github.com/EmbarkStudios/cervo/pkg/scratchpad"
	"github.com/EmbarkStudios/cervo/pkg/wrap/noise"
)

// EpsilonInjector wraps an inner Inferer and fills one of its input slots
// (the "noise" slot) with generated values on every InferRaw call, hiding
// that slot from the wrapped inferer's observable input set so callers no
// longer need to supply it themselves.
//
// The noise slot is located by index against the inner inferer's raw
// (unfiltered) input shapes, since that's the layout the ScratchPadView
// passed to InferRaw is addressed against — not the filtered InputShapes()
// any wrapper further up the stack exposes to callers.
type EpsilonInjector struct {
	inner     infer.Inferer
	key       string
	rawIdx    int
	noiseElem int
	generator noise.Generator
	inputs    []graph.Shape // observable inputs with key filtered out
}

// Wrap constructs an EpsilonInjector using HighQualityGenerator as the
// default noise source.
func Wrap(inner infer.Inferer, key string) (*EpsilonInjector, error) {
	return WithGenerator(inner, noise.HighQualityGenerator{}, key)
}

// WithGenerator constructs an EpsilonInjector with an explicit generator.
// Fails with KindUnknownInputKey if key does not match any of inner's
// input shapes.
func WithGenerator(inner infer.Inferer, generator noise.Generator, key string) (*EpsilonInjector, error) {
	rawInputs := inner.RawInputShapes()
	rawIdx := -1
	var noiseShape graph.Shape
	for i, s := range rawInputs {
		if s.Name == key {
			rawIdx = i
			noiseShape = s
			break
		}
	}
	if rawIdx == -1 {
		return nil, cerrors.New(cerrors.KindUnknownInputKey, "epsilon: no input slot named %q", key)
	}

	observable := inner.InputShapes()
	filtered := make([]graph.Shape, 0, len(observable))
	for _, s := range observable {
		if s.Name == key {
			continue
		}
		filtered = append(filtered, s)
	}

	return &EpsilonInjector{
		inner:     inner,
		key:       key,
		rawIdx:    rawIdx,
		noiseElem: noiseShape.ElementCount(),
		generator: generator,
		inputs:    filtered,
	}, nil
}

// SelectBatchSize delegates to the inner inferer.
func (e *EpsilonInjector) SelectBatchSize(maxCount int) int {
	return e.inner.SelectBatchSize(maxCount)
}

// InferRaw fills the noise slot with generated values, then delegates to
// the inner inferer's InferRaw.
func (e *EpsilonInjector) InferRaw(view *scratchpad.View) error {
	total := e.noiseElem * view.Len()
	noiseSlot := view.InputSlotMut(e.rawIdx)
	e.generator.Generate(total, noiseSlot)
	return e.inner.InferRaw(view)
}

// InputShapes returns the inner inferer's observable input shapes with the
// noise slot filtered out.
func (e *EpsilonInjector) InputShapes() []graph.Shape { return e.inputs }

// OutputShapes delegates to the inner inferer; epsilon never touches
// outputs.
func (e *EpsilonInjector) OutputShapes() []graph.Shape { return e.inner.OutputShapes() }

// RawInputShapes delegates to the inner inferer, noise slot included.
func (e *EpsilonInjector) RawInputShapes() []graph.Shape { return e.inner.RawInputShapes() }

// RawOutputShapes delegates to the inner inferer.
func (e *EpsilonInjector) RawOutputShapes() []graph.Shape { return e.inner.RawOutputShapes() }

// BeginAgent delegates to the inner inferer.
func (e *EpsilonInjector) BeginAgent(id scratchpad.AgentId) { e.inner.BeginAgent(id) }

// EndAgent delegates to the inner inferer.
func (e *EpsilonInjector) EndAgent(id scratchpad.AgentId) { e.inner.EndAgent(id) }

var _ infer.Inferer = (*EpsilonInjector)(nil)
