// Package batcher accumulates per-agent states, drives an inferer through
// one or more sub-batches to consume them, and scatters results back per
// agent.
package batcher

import (
	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/infer"
	"github.com/EmbarkStudios/cervo/pkg/scratchpad"
)

// State is one agent's input observation for one tick: a mapping from
// input-slot name to a float32 vector of that slot's per-sample element
// count.
type State map[string][]float32

// Response is one agent's produced output for one tick: a mapping from
// output-slot name to a float32 vector of that slot's per-sample element
// count.
type Response map[string][]float32

// Batcher stages State pushes into a ScratchPad, then drives execute to
// consume them in inferer-chosen sub-batches.
//
// The pad is sized to the inferer's raw (unfiltered) shapes rather than its
// observable ones. A wrapper such as EpsilonInjector or RecurrentTracker
// hides one or more slots from its own InputShapes/OutputShapes but still
// reads or writes them by index against the underlying model's full layout;
// if the pad only held the observable slots, those indices would point at
// the wrong storage (or past the end of it) whenever a hidden slot wasn't
// last in the raw order. Sizing from the raw shapes gives every wrapper a
// real slot to address while push/response still only expose the names
// callers are meant to see.
type Batcher struct {
	pad            *scratchpad.ScratchPad
	inputIndex     map[string]int // name -> slot index in the raw layout
	allowedInputs  map[string]struct{}
	outputIndex    map[string]int // name -> slot index in the raw layout
	observedOutput []string       // names to surface in Response, in order
}

// New allocates a ScratchPad sized to inferer's raw shapes with the default
// initial capacity.
func New(inferer infer.Inferer) *Batcher {
	return NewSized(inferer, scratchpad.DefaultCapacity)
}

// NewSized allocates a ScratchPad sized to inferer's raw shapes with an
// explicit initial capacity.
func NewSized(inferer infer.Inferer, capacity int) *Batcher {
	rawInputs := inferer.RawInputShapes()
	rawOutputs := inferer.RawOutputShapes()

	inputIdx := make(map[string]int, len(rawInputs))
	for i, s := range rawInputs {
		inputIdx[s.Name] = i
	}
	outputIdx := make(map[string]int, len(rawOutputs))
	for i, s := range rawOutputs {
		outputIdx[s.Name] = i
	}

	allowed := make(map[string]struct{}, len(inferer.InputShapes()))
	for _, s := range inferer.InputShapes() {
		allowed[s.Name] = struct{}{}
	}
	observed := make([]string, len(inferer.OutputShapes()))
	for i, s := range inferer.OutputShapes() {
		observed[i] = s.Name
	}

	return &Batcher{
		pad:            scratchpad.NewSized(rawInputs, rawOutputs, capacity),
		inputIndex:     inputIdx,
		allowedInputs:  allowed,
		outputIndex:    outputIdx,
		observedOutput: observed,
	}
}

// IsEmpty reports whether no agents are currently staged.
func (b *Batcher) IsEmpty() bool { return b.pad.IsEmpty() }

// Len returns the number of agents currently staged.
func (b *Batcher) Len() int { return b.pad.BatchSize() }

// PendingIDs returns the agent ids currently staged, in push order.
func (b *Batcher) PendingIDs() []scratchpad.AgentId {
	return append([]scratchpad.AgentId(nil), b.pad.IDs()...)
}

// Push stages one agent's state. Every key in state must match one of the
// inferer's observable input names; hidden slots owned by a wrapper (e.g.
// epsilon's noise key) are filled by the wrapper itself and may not be
// pushed directly.
func (b *Batcher) Push(agentID scratchpad.AgentId, state State) error {
	for name := range state {
		if _, ok := b.allowedInputs[name]; !ok {
			return cerrors.New(cerrors.KindUnknownInputKey, "unknown input key %q", name)
		}
	}

	b.pad.Next(agentID)
	for name, data := range state {
		idx := b.inputIndex[name]
		if err := b.pad.Push(idx, data); err != nil {
			return err
		}
	}
	return nil
}

// Extend is a convenience wrapper over Push for a batch of (agent, state)
// pairs. They are pushed in map iteration order, which is unspecified; on
// the first failing Push it returns that error, leaving earlier pairs
// staged.
func (b *Batcher) Extend(states map[scratchpad.AgentId]State) error {
	for id, state := range states {
		if err := b.Push(id, state); err != nil {
			return err
		}
	}
	return nil
}

// Execute drains every staged agent through inferer, in one or more
// sub-batches sized by inferer.SelectBatchSize, and returns each agent's
// Response. After Execute returns (successfully or not), the batcher is
// empty.
func (b *Batcher) Execute(inferer infer.Inferer) (map[scratchpad.AgentId]Response, error) {
	offset := 0
	for b.pad.Remaining() > 0 {
		chunkSize := inferer.SelectBatchSize(b.pad.Remaining())
		view := b.pad.Chunk(offset, chunkSize)
		if err := inferer.InferRaw(view); err != nil {
			b.pad.Drain()
			return nil, err
		}
		offset += view.Len()
	}

	ids := b.pad.IDs()
	responses := make(map[scratchpad.AgentId]Response, len(ids))
	for i, id := range ids {
		resp := make(Response, len(b.observedOutput))
		for _, name := range b.observedOutput {
			row := b.pad.OutputRow(b.outputIndex[name], i)
			resp[name] = append([]float32(nil), row...)
		}
		responses[id] = resp
	}

	b.pad.Drain()
	return responses, nil
}
