// Package faketest provides a deterministic, in-memory graph.ModelGraph
// implementation shared by every package's tests, so the suite never needs
// a real ONNX Runtime shared library to exercise the inference core.
package faketest

import (
	"fmt"
	"sync"

	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/graph"
)

// Transform computes output rows from input rows for one batch. Each
// element of ins/outs is one slot's flat row-major [batch, elemCount] data.
type Transform func(ins [][]float32, batch int) (outs [][]float32)

// SumTransform is a default Transform: each output slot's row i is filled
// with the sum of all input rows i, broadcast to the output's element
// count. Useful when a test only needs data to flow through, not a
// specific numeric result.
func SumTransform(inputShapes, outputShapes []graph.Shape) Transform {
	return func(ins [][]float32, batch int) [][]float32 {
		outs := make([][]float32, len(outputShapes))
		for oi, os := range outputShapes {
			elems := os.ElementCount()
			data := make([]float32, batch*elems)
			for b := 0; b < batch; b++ {
				var sum float32
				for _, in := range ins {
					inElems := len(in) / batch
					for e := 0; e < inElems; e++ {
						sum += in[b*inElems+e]
					}
				}
				for e := 0; e < elems; e++ {
					data[b*elems+e] = sum
				}
			}
			outs[oi] = data
		}
		return outs
	}
}

// Graph is a fake graph.ModelGraph. InputShapes/OutputShapes describe the
// per-sample shapes (batch axis excluded, as graph.Shape never carries it);
// Inputs()/Outputs() always report the leading dimension as symbolic (-1).
type Graph struct {
	InputShapes  []graph.Shape
	OutputShapes []graph.Shape
	Transform    Transform

	// BadNonLeadingDim, if true, makes one input report a symbolic
	// dimension in a non-leading position, to trigger GraphIntrospectionError.
	BadNonLeadingDim bool

	mu         sync.Mutex
	bindCounts map[int]int
}

// NewGraph builds a fake graph using SumTransform as the default behavior.
func NewGraph(inputShapes, outputShapes []graph.Shape) *Graph {
	return &Graph{
		InputShapes:  inputShapes,
		OutputShapes: outputShapes,
		Transform:    SumTransform(inputShapes, outputShapes),
		bindCounts:   make(map[int]int),
	}
}

// Inputs implements graph.ModelGraph.
func (g *Graph) Inputs() []graph.RawShape { return g.rawShapes(g.InputShapes) }

// Outputs implements graph.ModelGraph.
func (g *Graph) Outputs() []graph.RawShape { return g.rawShapes(g.OutputShapes) }

func (g *Graph) rawShapes(shapes []graph.Shape) []graph.RawShape {
	out := make([]graph.RawShape, len(shapes))
	for i, s := range shapes {
		dims := make([]graph.Dim, len(s.Dims)+1)
		dims[0] = -1 // leading batch dim, always symbolic
		for j, d := range s.Dims {
			dims[j+1] = graph.Dim(d)
		}
		if g.BadNonLeadingDim && i == 0 && len(dims) > 1 {
			dims[1] = -1
		}
		out[i] = graph.RawShape{Name: s.Name, Dims: dims}
	}
	return out
}

// BindCount returns how many times BindBatch(batchSize) was called, so
// tests can assert on compile-once/cache-hit behavior.
func (g *Graph) BindCount(batchSize int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bindCounts[batchSize]
}

// BindBatch implements graph.ModelGraph.
func (g *Graph) BindBatch(batchSize int) (graph.Plan, error) {
	if batchSize <= 0 {
		return nil, cerrors.New(cerrors.KindInternal, "fake graph: non-positive batch size %d", batchSize)
	}
	g.mu.Lock()
	g.bindCounts[batchSize]++
	g.mu.Unlock()
	return &plan{g: g, batch: batchSize}, nil
}

// BindDynamic implements graph.ModelGraph. The returned plan accepts any
// batch size, mirroring an ONNX Runtime session that was never specialized
// to a concrete dimension.
func (g *Graph) BindDynamic() (graph.Plan, error) {
	g.mu.Lock()
	g.bindCounts[-1]++
	g.mu.Unlock()
	return &plan{g: g, batch: -1}, nil
}

type plan struct {
	g     *Graph
	batch int
}

// Run implements graph.Plan.
func (p *plan) Run(inputs []graph.Tensor, outputs []graph.Tensor) error {
	if p.batch >= 0 {
		for _, t := range inputs {
			if t.Batch != p.batch {
				return fmt.Errorf("fake plan: input %q batch %d != bound batch %d", t.Shape.Name, t.Batch, p.batch)
			}
		}
	}
	ins := make([][]float32, len(inputs))
	for i, t := range inputs {
		ins[i] = t.Data
	}
	actualBatch := p.batch
	if actualBatch < 0 && len(inputs) > 0 {
		actualBatch = inputs[0].Batch
	}
	outs := p.g.Transform(ins, actualBatch)
	for i, t := range outputs {
		copy(t.Data, outs[i])
	}
	return nil
}
