// Package scratchpad implements the contiguous, cache-friendly staging
// area used to gather per-agent inputs and scatter per-agent outputs
// across ticks.
package scratchpad

import (
	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/graph"
)

// DefaultCapacity is the initial batch capacity a ScratchPad allocates when
// none is requested explicitly.
const DefaultCapacity = 6

// AgentId is the caller-assigned, opaque identifier for one agent.
type AgentId uint64

// slot is one input or output column: a flat row-major buffer sized
// capacity*perSample, plus the slot's declared shape.
type slot struct {
	shape     graph.Shape
	perSample int
	data      []float32
	capacity  int
}

func newSlot(shape graph.Shape, capacity int) slot {
	perSample := shape.ElementCount()
	return slot{
		shape:     shape,
		perSample: perSample,
		data:      make([]float32, capacity*perSample),
		capacity:  capacity,
	}
}

func (s *slot) grow(capacity int) {
	if capacity <= s.capacity {
		return
	}
	grown := make([]float32, capacity*s.perSample)
	copy(grown, s.data)
	s.data = grown
	s.capacity = capacity
}

func (s *slot) ensureBatch(batchSize int) {
	needed := batchSize * s.perSample
	if len(s.data) < needed {
		s.data = append(s.data, make([]float32, needed-len(s.data))...)
	}
}

func (s *slot) row(i int) []float32 {
	return s.data[i*s.perSample : (i+1)*s.perSample]
}

// ScratchPad holds one slot per declared input and one per declared output,
// the agent ids currently staged (in insertion order), and the current
// batch size. Invariant: every input slot and every output slot share the
// same batch-size extent, and len(ids) == batchSize at all times outside of
// an in-flight chunk/view.
type ScratchPad struct {
	inputs    []slot
	outputs   []slot
	ids       []AgentId
	batchSize int
	capacity  int
	remaining int
}

// New constructs a ScratchPad sized to the given input/output shapes with
// DefaultCapacity initial capacity.
func New(inputShapes, outputShapes []graph.Shape) *ScratchPad {
	return NewSized(inputShapes, outputShapes, DefaultCapacity)
}

// NewSized constructs a ScratchPad with an explicit initial capacity.
func NewSized(inputShapes, outputShapes []graph.Shape, initialCapacity int) *ScratchPad {
	if initialCapacity <= 0 {
		initialCapacity = DefaultCapacity
	}
	p := &ScratchPad{capacity: initialCapacity}
	for _, s := range inputShapes {
		p.inputs = append(p.inputs, newSlot(s, initialCapacity))
	}
	for _, s := range outputShapes {
		p.outputs = append(p.outputs, newSlot(s, initialCapacity))
	}
	return p
}

// BatchSize returns the number of agents currently staged.
func (p *ScratchPad) BatchSize() int { return p.batchSize }

// Capacity returns the current input-slot capacity.
func (p *ScratchPad) Capacity() int { return p.capacity }

// IDs returns the agent ids staged so far, in insertion order. The returned
// slice aliases internal storage and must not be retained past the next
// mutation.
func (p *ScratchPad) IDs() []AgentId { return p.ids[:p.batchSize] }

// IsEmpty reports whether the pad currently holds no staged agents.
func (p *ScratchPad) IsEmpty() bool { return p.batchSize == 0 }

// Next appends agentID as the next batch row, growing input slot capacity
// (doubling) if needed. Output slots are not pre-grown here; they are sized
// to match just before a view executes.
func (p *ScratchPad) Next(agentID AgentId) {
	newSize := p.batchSize + 1
	if newSize > p.capacity {
		newCapacity := p.capacity * 2
		if newCapacity == 0 {
			newCapacity = DefaultCapacity
		}
		for newCapacity < newSize {
			newCapacity *= 2
		}
		p.capacity = newCapacity
		for i := range p.inputs {
			p.inputs[i].grow(newCapacity)
		}
	}
	if len(p.ids) < newSize {
		p.ids = append(p.ids, make([]AgentId, newSize-len(p.ids))...)
	}
	p.ids[p.batchSize] = agentID
	p.batchSize = newSize
	p.remaining = p.batchSize
}

// Push copies data into input slot slotIndex at the most recently appended
// batch row. data's length must equal that slot's per-sample element
// count.
func (p *ScratchPad) Push(slotIndex int, data []float32) error {
	s := &p.inputs[slotIndex]
	if len(data) != s.perSample {
		return cerrors.New(cerrors.KindShapeMismatch,
			"input slot %q: expected %d elements, got %d", s.shape.Name, s.perSample, len(data))
	}
	copy(s.row(p.batchSize-1), data)
	return nil
}

// View is a mutable, non-owning window [begin, end) over a ScratchPad's
// batch dimension, paired with the agent ids covering that window. A View
// cannot outlive the ScratchPad it was sliced from.
type View struct {
	pad    *ScratchPad
	Begin  int
	End    int
	ids    []AgentId
}

// Len returns the number of batch positions this view covers.
func (v *View) Len() int { return v.End - v.Begin }

// IDs returns the agent ids covered by this view, in batch order.
func (v *View) IDs() []AgentId { return v.ids }

// InputSlot returns a read-only slice into input slot i restricted to this
// view's batch range.
func (v *View) InputSlot(i int) []float32 {
	return sliceSlot(&v.pad.inputs[i], v.Begin, v.End)
}

// InputSlotMut returns a mutable slice into input slot i restricted to this
// view's batch range.
func (v *View) InputSlotMut(i int) []float32 {
	return sliceSlot(&v.pad.inputs[i], v.Begin, v.End)
}

// OutputSlot returns a read-only slice into output slot i restricted to
// this view's batch range.
func (v *View) OutputSlot(i int) []float32 {
	return sliceSlot(&v.pad.outputs[i], v.Begin, v.End)
}

// OutputSlotMut returns a mutable slice into output slot i restricted to
// this view's batch range, growing the output slot to cover it first.
func (v *View) OutputSlotMut(i int) []float32 {
	s := &v.pad.outputs[i]
	s.ensureBatch(v.End)
	return sliceSlot(s, v.Begin, v.End)
}

// NumInputs returns how many input slots the backing pad declares.
func (v *View) NumInputs() int { return len(v.pad.inputs) }

// NumOutputs returns how many output slots the backing pad declares.
func (v *View) NumOutputs() int { return len(v.pad.outputs) }

func sliceSlot(s *slot, begin, end int) []float32 {
	return s.data[begin*s.perSample : end*s.perSample]
}

// Chunk returns a view covering batch positions [offset, offset+min(size,
// remaining)), and decrements the pad's remaining counter by the returned
// view's length. Output slots are grown to cover the view's end before it
// is returned, per the pad's "output slots sized just before execution"
// contract.
func (p *ScratchPad) Chunk(offset, size int) *View {
	avail := p.batchSize - offset
	if size > avail {
		size = avail
	}
	end := offset + size
	for i := range p.outputs {
		p.outputs[i].ensureBatch(end)
	}
	v := &View{pad: p, Begin: offset, End: end, ids: append([]AgentId(nil), p.ids[offset:end]...)}
	p.remaining -= size
	return v
}

// Remaining returns how many staged batch items have not yet been covered
// by a Chunk call since the pad was last drained.
func (p *ScratchPad) Remaining() int { return p.remaining }

// OutputRow returns output slot slotIndex's data for batch position i. Used
// after every chunk of a tick has executed, to scatter results per agent.
func (p *ScratchPad) OutputRow(slotIndex, i int) []float32 {
	return p.outputs[slotIndex].row(i)
}

// InputShape returns the declared shape of input slot i.
func (p *ScratchPad) InputShape(i int) graph.Shape { return p.inputs[i].shape }

// OutputShape returns the declared shape of output slot i.
func (p *ScratchPad) OutputShape(i int) graph.Shape { return p.outputs[i].shape }

// NumInputs returns how many input slots this pad declares.
func (p *ScratchPad) NumInputs() int { return len(p.inputs) }

// NumOutputs returns how many output slots this pad declares.
func (p *ScratchPad) NumOutputs() int { return len(p.outputs) }

// Drain empties the pad: batch size and remaining drop to zero and the id
// list is cleared, ready for the next tick's pushes.
func (p *ScratchPad) Drain() {
	p.batchSize = 0
	p.remaining = 0
	p.ids = p.ids[:0]
}
