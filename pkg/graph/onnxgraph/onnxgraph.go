// Package onnxgraph adapts github.com/yalue/onnxruntime_go to the
// graph.ModelGraph interface, the way the teacher service's
// internal/inference package and Tejas242/sift's internal/embed package
// wrap the same library for their own domains.
package onnxgraph

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/EmbarkStudios/cervo/pkg/graph"
)

// Init initializes the process-wide ONNX Runtime environment. It is
// idempotent and safe to call eagerly from more than one Graph — per
// spec.md §9's guidance to replace source's thread-local caching with an
// explicit, process-wide init function.
func Init(sharedLibraryPath string) error {
	if sharedLibraryPath != "" {
		ort.SetSharedLibraryPath(sharedLibraryPath)
	}
	if ort.IsInitialized() {
		return nil
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("onnxgraph: init environment: %w", err)
	}
	return nil
}

// Graph loads an ONNX model from a file and exposes it as a graph.ModelGraph.
// One Graph may back many concrete batch-size Plans, compiled lazily and
// cached by batch size.
type Graph struct {
	modelPath   string
	inputNames  []string
	outputNames []string
	inputs      []graph.RawShape
	outputs     []graph.RawShape

	mu    sync.Mutex
	plans map[int]*Plan
}

// FromFile loads the graph described by modelPath, introspecting its input
// and output outlets. modelPath must point at a file already materialized
// on disk (the on-disk/wrapper container format is handled outside this
// package, per spec.md §6).
func FromFile(modelPath string) (*Graph, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnxgraph: introspect %s: %w", modelPath, err)
	}

	g := &Graph{
		modelPath: modelPath,
		inputs:    toRawShapes(inputs),
		outputs:   toRawShapes(outputs),
		plans:     make(map[int]*Plan),
	}
	for _, in := range inputs {
		g.inputNames = append(g.inputNames, in.Name)
	}
	for _, out := range outputs {
		g.outputNames = append(g.outputNames, out.Name)
	}
	return g, nil
}

func toRawShapes(infos []ort.InputOutputInfo) []graph.RawShape {
	out := make([]graph.RawShape, len(infos))
	for i, info := range infos {
		dims := make([]graph.Dim, len(info.Dimensions))
		for j, d := range info.Dimensions {
			dims[j] = graph.Dim(d)
		}
		out[i] = graph.RawShape{Name: info.Name, Dims: dims}
	}
	return out
}

// Inputs implements graph.ModelGraph.
func (g *Graph) Inputs() []graph.RawShape { return g.inputs }

// Outputs implements graph.ModelGraph.
func (g *Graph) Outputs() []graph.RawShape { return g.outputs }

// BindBatch implements graph.ModelGraph. Plans are cached by batch size so
// repeated calls with the same size reuse the compiled ONNX session,
// mirroring the cost model MemoizingDynamicInferer relies on.
func (g *Graph) BindBatch(batchSize int) (graph.Plan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.plans[batchSize]; ok {
		return p, nil
	}

	p, err := newPlan(g.modelPath, g.inputNames, g.outputNames, g.inputs, g.outputs, batchSize)
	if err != nil {
		return nil, err
	}
	g.plans[batchSize] = p
	return p, nil
}

// dynamicBatchKey is a sentinel batch size used to cache the single
// fully-dynamic plan, since onnxruntime_go's DynamicAdvancedSession already
// accepts any batch size without per-size specialization.
const dynamicBatchKey = -1

// BindDynamic implements graph.ModelGraph. The returned Plan is a single
// session shared across every batch size, matching DynamicInferer's "one
// fully-symbolic plan, no per-size compilation" contract.
func (g *Graph) BindDynamic() (graph.Plan, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.plans[dynamicBatchKey]; ok {
		return p, nil
	}
	p, err := newPlan(g.modelPath, g.inputNames, g.outputNames, g.inputs, g.outputs, dynamicBatchKey)
	if err != nil {
		return nil, err
	}
	g.plans[dynamicBatchKey] = p
	return p, nil
}

// Close releases every compiled session this Graph has produced.
func (g *Graph) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	var firstErr error
	for _, p := range g.plans {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	g.plans = make(map[int]*Plan)
	return firstErr
}

// Plan wraps one onnxruntime_go DynamicAdvancedSession, cached under the
// batch size it was bound for (dynamicBatchKey for the shared dynamic
// plan). Input and output tensors are created afresh on every Run.
type Plan struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	batch   int
}

func newPlan(modelPath string, inputNames, outputNames []string, inputShapes, outputShapes []graph.RawShape, batchSize int) (*Plan, error) {
	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("onnxgraph: compile plan for batch %d: %w", batchSize, err)
	}
	return &Plan{session: session, batch: batchSize}, nil
}

// Run implements graph.Plan.
func (p *Plan) Run(inputs []graph.Tensor, outputs []graph.Tensor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	inTensors := make([]ort.ArbitraryTensor, len(inputs))
	for i, in := range inputs {
		shape := fullShape(in.Batch, in.Shape.Dims)
		t, err := ort.NewTensor(shape, in.Data)
		if err != nil {
			return fmt.Errorf("onnxgraph: build input tensor %q: %w", in.Shape.Name, err)
		}
		defer t.Destroy()
		inTensors[i] = t
	}

	outTensors := make([]ort.ArbitraryTensor, len(outputs))
	for i, out := range outputs {
		shape := fullShape(out.Batch, out.Shape.Dims)
		t, err := ort.NewTensor(shape, out.Data)
		if err != nil {
			return fmt.Errorf("onnxgraph: build output tensor %q: %w", out.Shape.Name, err)
		}
		defer t.Destroy()
		outTensors[i] = t
	}

	if err := p.session.Run(inTensors, outTensors); err != nil {
		return fmt.Errorf("onnxgraph: run batch %d: %w", p.batch, err)
	}

	for i, out := range outputs {
		copy(out.Data, outTensors[i].(*ort.Tensor[float32]).GetData())
	}
	return nil
}

// Close releases the underlying ONNX session.
func (p *Plan) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Destroy()
	p.session = nil
	return err
}

func fullShape(batch int, dims []int64) ort.Shape {
	full := make([]int64, 0, len(dims)+1)
	full = append(full, int64(batch))
	full = append(full, dims...)
	return ort.NewShape(full...)
}
