// Package infer implements the family of interchangeable inference
// strategies that reconcile variable-sized request batches with the fact
// that the underlying graph must be specialized to a concrete batch
// dimension.
package infer

import (
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/scratchpad"
)

// Inferer is the capability set every inference strategy (and every
// wrapper around one) implements.
type Inferer interface {
	// SelectBatchSize returns the batch size this strategy prefers to
	// consume next, given maxCount items available. Always in
	// [1, maxCount].
	SelectBatchSize(maxCount int) int

	// InferRaw reads inputs from view and writes outputs to view, in
	// place.
	InferRaw(view *scratchpad.View) error

	// InputShapes/OutputShapes describe what callers see; they may differ
	// from RawInputShapes/RawOutputShapes once a wrapper hides some slots
	// (e.g. epsilon hides the noise input, recurrent hides the state I/O
	// pair).
	InputShapes() []graph.Shape
	OutputShapes() []graph.Shape

	// RawInputShapes/RawOutputShapes describe every slot the underlying
	// graph actually declares, wrapper filtering notwithstanding.
	RawInputShapes() []graph.Shape
	RawOutputShapes() []graph.Shape

	// BeginAgent/EndAgent are per-agent lifecycle hooks. No-ops for
	// stateless strategies; used by stateful wrappers like
	// RecurrentTracker.
	BeginAgent(id scratchpad.AgentId)
	EndAgent(id scratchpad.AgentId)
}
