// Package modelapi introspects a graph.ModelGraph to derive the
// language-neutral shape surface every layer above depends on.
package modelapi

import (
	"strings"

	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/graph"
)

// ModelApi is the immutable pair of (input shapes, output shapes) derived
// from a graph once, at inferer construction time. Slot order here is the
// slot index used throughout the rest of the core.
type ModelApi struct {
	inputs  []graph.Shape
	outputs []graph.Shape
}

// Introspect reads every input and output outlet from g, normalizes their
// names, and strips the leading batch dimension. It fails with a
// KindGraphIntrospection *cerrors.Error if any non-leading dimension is
// symbolic.
func Introspect(g graph.ModelGraph) (ModelApi, error) {
	inputs, err := convert(g.Inputs())
	if err != nil {
		return ModelApi{}, err
	}
	outputs, err := convert(g.Outputs())
	if err != nil {
		return ModelApi{}, err
	}
	return ModelApi{inputs: inputs, outputs: outputs}, nil
}

func convert(raw []graph.RawShape) ([]graph.Shape, error) {
	shapes := make([]graph.Shape, 0, len(raw))
	for _, r := range raw {
		if len(r.Dims) == 0 {
			return nil, cerrors.New(cerrors.KindGraphIntrospection,
				"outlet %q has no dimensions, expected at least a batch axis", r.Name)
		}
		// The leading dimension is the batch axis and is allowed to be
		// symbolic; every other dimension must be concrete.
		dims := make([]int64, 0, len(r.Dims)-1)
		for i, d := range r.Dims[1:] {
			if d.IsSymbolic() {
				return nil, cerrors.New(cerrors.KindGraphIntrospection,
					"outlet %q has non-leading symbolic dimension at position %d", r.Name, i+1)
			}
			dims = append(dims, int64(d))
		}
		shapes = append(shapes, graph.Shape{Name: normalizeName(r.Name), Dims: dims})
	}
	return shapes, nil
}

// normalizeName strips the ":0" or "_0" suffix some graph runtimes attach
// to outlet names, so the same slot is addressed consistently regardless
// of export quirks.
func normalizeName(name string) string {
	if strings.HasSuffix(name, ":0") {
		return strings.TrimSuffix(name, ":0")
	}
	if strings.HasSuffix(name, "_0") {
		return strings.TrimSuffix(name, "_0")
	}
	return name
}

// InputShapes returns the input slot descriptors, in slot-index order.
func (m ModelApi) InputShapes() []graph.Shape { return m.inputs }

// OutputShapes returns the output slot descriptors, in slot-index order.
func (m ModelApi) OutputShapes() []graph.Shape { return m.outputs }

// InputIndex returns the slot index of the named input, or -1 if absent.
func (m ModelApi) InputIndex(name string) int {
	return indexOf(m.inputs, name)
}

// OutputIndex returns the slot index of the named output, or -1 if absent.
func (m ModelApi) OutputIndex(name string) int {
	return indexOf(m.outputs, name)
}

func indexOf(shapes []graph.Shape, name string) int {
	for i, s := range shapes {
		if s.Name == name {
			return i
		}
	}
	return -1
}
