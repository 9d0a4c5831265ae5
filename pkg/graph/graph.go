// Package graph defines the narrow interface the inference core consumes
// from an underlying tensor graph runtime. Loading on-disk model formats,
// optimizing kernels, and everything else the real graph engine does lives
// behind this boundary; the core never imports a graph runtime directly.
package graph

// Dim is a single dimension of a tensor shape. A negative value marks a
// symbolic (unbound) dimension, the way onnxruntime_go and similar runtimes
// report dynamic axes.
type Dim int64

// IsSymbolic reports whether this dimension is unresolved.
func (d Dim) IsSymbolic() bool {
	return d < 0
}

// Shape is a named tensor outlet: a stable slot name plus its per-sample
// dimensions (excluding the leading batch axis).
type Shape struct {
	Name string
	Dims []int64
}

// ElementCount returns the product of Dims, i.e. how many float32 values one
// sample of this slot occupies.
func (s Shape) ElementCount() int {
	n := 1
	for _, d := range s.Dims {
		n *= int(d)
	}
	return n
}

// Tensor is a flat, row-major [batch, d1, ..., dk] buffer paired with its
// shape, the unit the graph engine runs on.
type Tensor struct {
	Shape Shape
	Batch int
	Data  []float32
}

// RawShape describes one input or output outlet as reported directly by the
// graph runtime, before the batch axis is stripped: Dims[0] may be symbolic.
type RawShape struct {
	Name string
	Dims []Dim
}

// ModelGraph is the interface the core depends on. A concrete adapter (see
// pkg/graph/onnxgraph) binds this to a real graph runtime; tests bind it to
// an in-memory fake.
type ModelGraph interface {
	// Inputs returns the raw input outlets as declared by the graph, batch
	// axis included (and possibly symbolic).
	Inputs() []RawShape
	// Outputs returns the raw output outlets as declared by the graph.
	Outputs() []RawShape

	// BindBatch returns a Plan specialized to run with exactly batchSize
	// samples. Implementations may cache plans by batchSize; BindBatch(1)
	// and BindBatch(n) may return distinct Plan values.
	BindBatch(batchSize int) (Plan, error)

	// BindDynamic returns a single Plan that accepts any batch size
	// without per-size specialization, for strategies that trade peak
	// throughput for flat memory and no compile spikes.
	BindDynamic() (Plan, error)
}

// Plan is a graph ready to run: either specialized to a concrete batch
// dimension (BindBatch) or accepting any batch size (BindDynamic).
type Plan interface {
	// Run executes the plan once against the given input tensors (ordered
	// to match ModelGraph.Inputs) and writes into the given output tensors
	// (ordered to match ModelGraph.Outputs). For a plan from BindBatch,
	// every Tensor.Batch must equal the batch size it was bound to.
	Run(inputs []Tensor, outputs []Tensor) error
}
