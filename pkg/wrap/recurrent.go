package wrap

import (
	"sync"

	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/infer"
	"github.com/EmbarkStudios/cervo/pkg/scratchpad"
)

// RecurrentPair names one input/output slot pair that should round-trip
// through per-agent state instead of being supplied and read back by
// callers every tick.
type RecurrentPair struct {
	InKey  string
	OutKey string
}

type recurrentSlot struct {
	inRaw, outRaw int
	elems         int
	offset        int
}

// RecurrentTracker wraps an inner Inferer and maintains a per-agent buffer
// for every (InKey, OutKey) pair: before InferRaw it copies an agent's last
// stored state into the input slot, and after InferRaw it copies the fresh
// output slot back into storage. Callers never see these slots in
// InputShapes/OutputShapes.
type RecurrentTracker struct {
	inner   infer.Inferer
	pairs   []recurrentSlot
	stateSz int

	mu     sync.RWMutex
	states map[scratchpad.AgentId][]float32

	inputs  []graph.Shape
	outputs []graph.Shape
}

// WrapRecurrent automatically detects recurrent pairs: any input/output
// slot that shares both name and shape is tracked. Fails with
// KindNoRecurrentPairs if no such pair exists, since a tracker with nothing
// to track is almost certainly a model or wiring mistake.
func WrapRecurrent(inner infer.Inferer) (*RecurrentTracker, error) {
	ins := inner.InputShapes()
	outs := inner.OutputShapes()

	var pairs []RecurrentPair
	for _, in := range ins {
		for _, out := range outs {
			if in.Name == out.Name && shapesEqual(in, out) {
				pairs = append(pairs, RecurrentPair{InKey: in.Name, OutKey: out.Name})
			}
		}
	}
	if len(pairs) == 0 {
		return nil, cerrors.New(cerrors.KindNoRecurrentPairs, "recurrent: no input/output slot shares both name and shape")
	}
	return NewRecurrentTracker(inner, pairs)
}

// NewRecurrentTracker builds a RecurrentTracker from an explicit list of
// pairs, rather than relying on name/shape auto-detection.
func NewRecurrentTracker(inner infer.Inferer, pairs []RecurrentPair) (*RecurrentTracker, error) {
	slots, stateSz, hiddenIn, hiddenOut, err := resolveRecurrentPairs(inner, pairs)
	if err != nil {
		return nil, err
	}

	return &RecurrentTracker{
		inner:   inner,
		pairs:   slots,
		stateSz: stateSz,
		states:  make(map[scratchpad.AgentId][]float32),
		inputs:  filterShapes(inner.InputShapes(), hiddenIn),
		outputs: filterShapes(inner.OutputShapes(), hiddenOut),
	}, nil
}

func shapesEqual(a, b graph.Shape) bool {
	if len(a.Dims) != len(b.Dims) {
		return false
	}
	for i := range a.Dims {
		if a.Dims[i] != b.Dims[i] {
			return false
		}
	}
	return true
}

// SelectBatchSize delegates to the inner inferer.
func (r *RecurrentTracker) SelectBatchSize(maxCount int) int {
	return r.inner.SelectBatchSize(maxCount)
}

// InferRaw copies each agent's stored state into its recurrent input slot
// (zero-filling it for an agent that never called BeginAgent), runs the inner
// inferer, then copies the fresh recurrent output slot back into storage.
func (r *RecurrentTracker) InferRaw(view *scratchpad.View) error {
	ids := view.IDs()

	r.mu.RLock()
	for _, p := range r.pairs {
		in := view.InputSlotMut(p.inRaw)
		for i, id := range ids {
			if state, ok := r.states[id]; ok {
				copy(in[i*p.elems:(i+1)*p.elems], state[p.offset:p.offset+p.elems])
			} else {
				clear(in[i*p.elems : (i+1)*p.elems])
			}
		}
	}
	r.mu.RUnlock()

	if err := r.inner.InferRaw(view); err != nil {
		return err
	}

	r.mu.Lock()
	for _, p := range r.pairs {
		out := view.OutputSlotMut(p.outRaw)
		for i, id := range ids {
			state, ok := r.states[id]
			if !ok {
				continue
			}
			copy(state[p.offset:p.offset+p.elems], out[i*p.elems:(i+1)*p.elems])
		}
	}
	r.mu.Unlock()

	return nil
}

// InputShapes returns the inner inferer's observable input shapes with
// every recurrent input slot filtered out.
func (r *RecurrentTracker) InputShapes() []graph.Shape { return r.inputs }

// OutputShapes returns the inner inferer's observable output shapes with
// every recurrent output slot filtered out.
func (r *RecurrentTracker) OutputShapes() []graph.Shape { return r.outputs }

// RawInputShapes delegates to the inner inferer, recurrent slots included.
func (r *RecurrentTracker) RawInputShapes() []graph.Shape { return r.inner.RawInputShapes() }

// RawOutputShapes delegates to the inner inferer, recurrent slots included.
func (r *RecurrentTracker) RawOutputShapes() []graph.Shape { return r.inner.RawOutputShapes() }

// BeginAgent allocates a zero-filled state buffer for id and forwards to the
// inner inferer.
func (r *RecurrentTracker) BeginAgent(id scratchpad.AgentId) {
	r.mu.Lock()
	r.states[id] = make([]float32, r.stateSz)
	r.mu.Unlock()
	r.inner.BeginAgent(id)
}

// EndAgent frees id's state buffer and forwards to the inner inferer.
func (r *RecurrentTracker) EndAgent(id scratchpad.AgentId) {
	r.mu.Lock()
	delete(r.states, id)
	r.mu.Unlock()
	r.inner.EndAgent(id)
}

// SnapshotState returns a copy of id's current recurrent state buffer, for
// callers that need to persist it across a process restart. The second
// return value is false if id has no state (BeginAgent was never called, or
// EndAgent already freed it).
func (r *RecurrentTracker) SnapshotState(id scratchpad.AgentId) ([]float32, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.states[id]
	if !ok {
		return nil, false
	}
	return append([]float32(nil), state...), true
}

// RestoreState overwrites id's recurrent state buffer with state, allocating
// one first if id has none yet. len(state) must equal this tracker's total
// per-agent state size.
func (r *RecurrentTracker) RestoreState(id scratchpad.AgentId, state []float32) error {
	if len(state) != r.stateSz {
		return cerrors.New(cerrors.KindShapeMismatch, "recurrent: restore state has %d elements, want %d", len(state), r.stateSz)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.states[id]
	if !ok {
		buf = make([]float32, r.stateSz)
		r.states[id] = buf
	}
	copy(buf, state)
	return nil
}

var _ infer.Inferer = (*RecurrentTracker)(nil)
