package wrap

import (
	"sync"

	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/infer"
	"github.com/EmbarkStudios/cervo/pkg/scratchpad"
)

// RecurrentWrapper is the split-state counterpart to RecurrentTracker: the
// same slot-pairing and per-agent state logic, but implemented against the
// Wrapper interface so it can be composed into a StatefulInferer and
// survive Swap calls that replace the inner inferer.
type RecurrentWrapper struct {
	pairs   []recurrentSlot
	stateSz int
	hidden  struct {
		in  map[string]struct{}
		out map[string]struct{}
	}

	mu     sync.RWMutex
	states map[scratchpad.AgentId][]float32
}

// WrapRecurrentStateful auto-detects recurrent pairs against inner (same
// rule as WrapRecurrent: any input/output slot sharing both name and
// shape) and returns a Wrapper usable with StatefulInferer.
func WrapRecurrentStateful(inner infer.Inferer) (*RecurrentWrapper, error) {
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
	return NewRecurrentWrapper(inner, pairs)
}

// NewRecurrentWrapper builds a RecurrentWrapper from an explicit list of
// pairs, resolved against inner's raw shapes at construction time.
func NewRecurrentWrapper(inner infer.Inferer, pairs []RecurrentPair) (*RecurrentWrapper, error) {
	slots, stateSz, hiddenIn, hiddenOut, err := resolveRecurrentPairs(inner, pairs)
	if err != nil {
		return nil, err
	}

	w := &RecurrentWrapper{
		pairs:   slots,
		stateSz: stateSz,
		states:  make(map[scratchpad.AgentId][]float32),
	}
	w.hidden.in = hiddenIn
	w.hidden.out = hiddenOut
	return w, nil
}

// InputShapes implements Wrapper.
func (w *RecurrentWrapper) InputShapes(inner infer.Inferer) []graph.Shape {
	return filterShapes(inner.InputShapes(), w.hidden.in)
}

// OutputShapes implements Wrapper.
func (w *RecurrentWrapper) OutputShapes(inner infer.Inferer) []graph.Shape {
	return filterShapes(inner.OutputShapes(), w.hidden.out)
}

// Invoke implements Wrapper: copies stored state into the recurrent input
// slots, runs inner, then copies the fresh recurrent output slots back.
func (w *RecurrentWrapper) Invoke(inner infer.Inferer, view *scratchpad.View) error {
	ids := view.IDs()

	w.mu.RLock()
	for _, p := range w.pairs {
		in := view.InputSlotMut(p.inRaw)
		for i, id := range ids {
			if state, ok := w.states[id]; ok {
				copy(in[i*p.elems:(i+1)*p.elems], state[p.offset:p.offset+p.elems])
			} else {
				clear(in[i*p.elems : (i+1)*p.elems])
			}
		}
	}
	w.mu.RUnlock()

	if err := inner.InferRaw(view); err != nil {
		return err
	}

	w.mu.Lock()
	for _, p := range w.pairs {
		out := view.OutputSlotMut(p.outRaw)
		for i, id := range ids {
			state, ok := w.states[id]
			if !ok {
				continue
			}
			copy(state[p.offset:p.offset+p.elems], out[i*p.elems:(i+1)*p.elems])
		}
	}
	w.mu.Unlock()

	return nil
}

// BeginAgent implements Wrapper.
func (w *RecurrentWrapper) BeginAgent(inner infer.Inferer, id scratchpad.AgentId) {
	w.mu.Lock()
	w.states[id] = make([]float32, w.stateSz)
	w.mu.Unlock()
	inner.BeginAgent(id)
}

// EndAgent implements Wrapper.
func (w *RecurrentWrapper) EndAgent(inner infer.Inferer, id scratchpad.AgentId) {
	w.mu.Lock()
	delete(w.states, id)
	w.mu.Unlock()
	inner.EndAgent(id)
}

var _ Wrapper = (*RecurrentWrapper)(nil)

func filterShapes(shapes []graph.Shape, hidden map[string]struct{}) []graph.Shape {
	out := make([]graph.Shape, 0, len(shapes))
	for _, s := range shapes {
		if _, ok := hidden[s.Name]; ok {
			continue
		}
		out = append(out, s)
	}
	return out
}

// resolveRecurrentPairs resolves each RecurrentPair's raw slot indices and
// per-agent element offsets against inner's raw shapes, shared by
// RecurrentTracker and RecurrentWrapper.
func resolveRecurrentPairs(inner infer.Inferer, pairs []RecurrentPair) (slots []recurrentSlot, stateSz int, hiddenIn, hiddenOut map[string]struct{}, err error) {
	rawIns := inner.RawInputShapes()
	rawOuts := inner.RawOutputShapes()

	inIdx := make(map[string]int, len(rawIns))
	for i, s := range rawIns {
		inIdx[s.Name] = i
	}
	outIdx := make(map[string]int, len(rawOuts))
	for i, s := range rawOuts {
		outIdx[s.Name] = i
	}

	hiddenIn = make(map[string]struct{}, len(pairs))
	hiddenOut = make(map[string]struct{}, len(pairs))

	offset := 0
	for _, p := range pairs {
		inRaw, ok := inIdx[p.InKey]
		if !ok {
			return nil, 0, nil, nil, cerrors.New(cerrors.KindUnknownInputKey, "recurrent: no input slot named %q", p.InKey)
		}
		outRaw, ok := outIdx[p.OutKey]
		if !ok {
			return nil, 0, nil, nil, cerrors.New(cerrors.KindUnknownInputKey, "recurrent: no output slot named %q", p.OutKey)
		}
		elems := rawIns[inRaw].ElementCount()
		slots = append(slots, recurrentSlot{inRaw: inRaw, outRaw: outRaw, elems: elems, offset: offset})
		offset += elems
		hiddenIn[p.InKey] = struct{}{}
		hiddenOut[p.OutKey] = struct{}{}
	}

	return slots, offset, hiddenIn, hiddenOut, nil
}
