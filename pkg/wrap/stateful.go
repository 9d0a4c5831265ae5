package wrap

import (
	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/infer"
	"github.com/EmbarkStudios/cervo/pkg/scratchpad"
)

// Wrapper is additional behavior layered around an inner Inferer, with its
// own state kept separate from that inner inferer. Unlike directly stacking
// a type such as EpsilonInjector or RecurrentTracker around an Inferer
// (which owns the inner inferer and cannot be separated from it), a Wrapper
// is driven by StatefulInferer and receives the current inner inferer on
// every call — so the inner inferer can be swapped out (e.g. hot-reloading
// a model) without losing whatever state the wrapper has accumulated.
type Wrapper interface {
	// InputShapes/OutputShapes report inner's shapes with this wrapper's
	// filtering applied.
	InputShapes(inner infer.Inferer) []graph.Shape
	OutputShapes(inner infer.Inferer) []graph.Shape

	// Invoke applies this wrapper's logic around calling inner.InferRaw.
	Invoke(inner infer.Inferer, view *scratchpad.View) error

	BeginAgent(inner infer.Inferer, id scratchpad.AgentId)
	EndAgent(inner infer.Inferer, id scratchpad.AgentId)
}

// BaseWrapper is the no-op base case of a wrapper stack: it calls straight
// through to the inner inferer without filtering or side effects.
type BaseWrapper struct{}

func (BaseWrapper) InputShapes(inner infer.Inferer) []graph.Shape  { return inner.InputShapes() }
func (BaseWrapper) OutputShapes(inner infer.Inferer) []graph.Shape { return inner.OutputShapes() }

func (BaseWrapper) Invoke(inner infer.Inferer, view *scratchpad.View) error {
	return inner.InferRaw(view)
}

func (BaseWrapper) BeginAgent(inner infer.Inferer, id scratchpad.AgentId) { inner.BeginAgent(id) }
func (BaseWrapper) EndAgent(inner infer.Inferer, id scratchpad.AgentId)   { inner.EndAgent(id) }

var _ Wrapper = BaseWrapper{}

// StatefulInferer composes a Wrapper stack with an inner Inferer, keeping
// the wrapper's state independent of the inner inferer's identity. This is
// the split-state alternative to directly stacking wrapper types around an
// Inferer: it costs one extra indirection per call but lets Swap replace
// the model backing an Inferer (e.g. a hot-reloaded policy) while every
// wrapper's accumulated state (recurrent memory, in particular) survives
// the swap untouched.
type StatefulInferer struct {
	wrapper Wrapper
	inner   infer.Inferer
}

// NewStatefulInferer builds a StatefulInferer from a wrapper stack and an
// initial inner inferer.
func NewStatefulInferer(wrapper Wrapper, inner infer.Inferer) *StatefulInferer {
	return &StatefulInferer{wrapper: wrapper, inner: inner}
}

// SelectBatchSize delegates to the current inner inferer.
func (s *StatefulInferer) SelectBatchSize(maxCount int) int {
	return s.inner.SelectBatchSize(maxCount)
}

// InferRaw runs the wrapper stack around the current inner inferer.
func (s *StatefulInferer) InferRaw(view *scratchpad.View) error {
	return s.wrapper.Invoke(s.inner, view)
}

// InputShapes returns the wrapper-filtered input shapes.
func (s *StatefulInferer) InputShapes() []graph.Shape { return s.wrapper.InputShapes(s.inner) }

// OutputShapes returns the wrapper-filtered output shapes.
func (s *StatefulInferer) OutputShapes() []graph.Shape { return s.wrapper.OutputShapes(s.inner) }

// RawInputShapes delegates to the current inner inferer.
func (s *StatefulInferer) RawInputShapes() []graph.Shape { return s.inner.RawInputShapes() }

// RawOutputShapes delegates to the current inner inferer.
func (s *StatefulInferer) RawOutputShapes() []graph.Shape { return s.inner.RawOutputShapes() }

// BeginAgent forwards to the wrapper stack, which decides whether and how
// to notify the inner inferer.
func (s *StatefulInferer) BeginAgent(id scratchpad.AgentId) { s.wrapper.BeginAgent(s.inner, id) }

// EndAgent forwards to the wrapper stack.
func (s *StatefulInferer) EndAgent(id scratchpad.AgentId) { s.wrapper.EndAgent(s.inner, id) }

// Swap replaces the inner inferer, validating that the new inferer's raw
// shapes match the old one's (same names, same shapes, same order) so the
// wrapper stack's slot indices remain valid. Wrapper state is untouched by
// a swap. On mismatch, s is left unchanged.
func (s *StatefulInferer) Swap(newInner infer.Inferer) error {
	if err := checkCompatibleShapes(s.inner, newInner); err != nil {
		return err
	}
	s.inner = newInner
	return nil
}

func checkCompatibleShapes(old, new infer.Inferer) error {
	if err := shapesMatch(old.RawInputShapes(), new.RawInputShapes(), "input"); err != nil {
		return err
	}
	return shapesMatch(old.RawOutputShapes(), new.RawOutputShapes(), "output")
}

func shapesMatch(oldShapes, newShapes []graph.Shape, kind string) error {
	if len(oldShapes) != len(newShapes) {
		return cerrors.New(cerrors.KindShapeMismatch, "swap: %s count %d != %d", kind, len(oldShapes), len(newShapes))
	}
	for i, o := range oldShapes {
		n := newShapes[i]
		if o.Name != n.Name {
			return cerrors.New(cerrors.KindShapeMismatch, "swap: %s %d name %q != %q", kind, i, o.Name, n.Name)
		}
		if !shapesEqual(o, n) {
			return cerrors.New(cerrors.KindShapeMismatch, "swap: %s %q shape %v != %v", kind, o.Name, o.Dims, n.Dims)
		}
	}
	return nil
}

var _ infer.Inferer = (*StatefulInferer)(nil)
