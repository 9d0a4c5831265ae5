// Package runtime multiplexes many inference models behind one interface,
// routing per-agent work to the right model by BrainId and, in the
// time-budgeted path, rotating which models get to run each tick so no
// model is starved.
package runtime

import (
	"sort"
	"time"

	"github.com/EmbarkStudios/cervo/pkg/batcher"
	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/infer"
	"github.com/EmbarkStudios/cervo/pkg/scratchpad"
)

// Results is the output of Run/RunFor: per model, per agent, the produced
// Response.
type Results map[BrainId]map[scratchpad.AgentId]batcher.Response

// RunStats carries the scheduling-side details of one RunFor call that
// Results alone doesn't capture, for a caller that wants to export them
// (e.g. as Prometheus counters).
type RunStats struct {
	// Deferred carries, per model with queued work that was skipped this
	// call because its estimated cost didn't fit the remaining budget, how
	// many times that's happened (always 1 per model per RunFor call). It
	// excludes models that were simply idle (empty batcher).
	Deferred map[BrainId]int

	// Executed carries, per model that actually ran this call, the batch
	// size consumed and the wall-clock time Execute took. A caller can feed
	// this straight to an external metrics sink without the core runtime
	// package depending on one itself.
	Executed map[BrainId]ExecStats
}

// ExecStats is one model's batch size and measured execution latency for a
// single Run/RunFor call.
type ExecStats struct {
	BatchSize int
	Duration  time.Duration
}

// ModelState is one model entry the Runtime owns exclusively: its inferer,
// its batcher, and the timing samples collected from running it.
type ModelState struct {
	id      BrainId
	inferer infer.Inferer
	batch   *batcher.Batcher
	timing  timingTable
}

// Id returns this model's BrainId.
func (m *ModelState) Id() BrainId { return m.id }

// canRunInTime reports whether this model's currently queued batch is
// predicted to execute within budget, per the estimator in timing.go. With
// no samples yet, always returns true (optimistic default, matching the
// "greedy on the first model" bias for models nobody has timed).
func (m *ModelState) canRunInTime(budget time.Duration) bool {
	n := m.batch.Len()
	if n == 0 {
		return true
	}
	estMs, ok := m.timing.estimate(n)
	if !ok {
		return true
	}
	return time.Duration(estMs*float64(time.Millisecond)) <= budget
}

// Runtime is a single-threaded-by-default scheduler over an ordered list of
// ModelStates. It is owned by one goroutine at a time; RunParallel is the
// only operation that fans work out across goroutines, and only for the
// duration of that one call.
type Runtime struct {
	models   []*ModelState
	index    map[BrainId]int // brain -> position in models
	queue    *ticketHeap
	seq      uint64
	brainSeq uint32
}

// New constructs an empty Runtime.
func New() *Runtime {
	return &Runtime{index: make(map[BrainId]int), queue: newTicketHeap()}
}

// AddInferer registers inferer under a freshly assigned, monotonically
// increasing BrainId and appends a ticket for it at the tail of the
// fairness queue.
func (r *Runtime) AddInferer(inferer infer.Inferer) BrainId {
	id := BrainId(r.brainSeq)
	r.brainSeq++

	ms := &ModelState{id: id, inferer: inferer, batch: batcher.New(inferer)}
	r.index[id] = len(r.models)
	r.models = append(r.models, ms)
	r.queue.push(ticket{sequence: r.seq, brain: id})
	r.seq++
	return id
}

func (r *Runtime) modelFor(brain BrainId) (*ModelState, error) {
	i, ok := r.index[brain]
	if !ok {
		return nil, cerrors.New(cerrors.KindUnknownBrain, "no model registered for brain %d", brain)
	}
	return r.models[i], nil
}

// Push stages one agent's state against brain's batcher.
func (r *Runtime) Push(brain BrainId, agent scratchpad.AgentId, state batcher.State) error {
	m, err := r.modelFor(brain)
	if err != nil {
		return err
	}
	return m.batch.Push(agent, state)
}

// InferSingle runs one agent's state through brain's model immediately,
// bypassing the fairness queue entirely. If the model's batcher is
// currently empty, the state is pushed and executed directly (the fast
// path); otherwise a throwaway single-element batch is used instead, so an
// in-flight accumulation for other agents is left untouched. Either way the
// batch-size-1 timing bucket is updated.
func (r *Runtime) InferSingle(brain BrainId, state batcher.State) (batcher.Response, error) {
	m, err := r.modelFor(brain)
	if err != nil {
		return nil, err
	}

	const synthetic = scratchpad.AgentId(0)
	target := m.batch
	if !target.IsEmpty() {
		target = batcher.New(m.inferer)
	}
	if err := target.Push(synthetic, state); err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := target.Execute(m.inferer)
	if err != nil {
		return nil, err
	}
	m.timing.record(1, msSince(start))
	return resp[synthetic], nil
}

// RemoveInferer drops brain's model and its pending ticket. Fails with
// KindUnknownBrain if brain is not registered. If the model still had
// queued, un-executed agent states, the model is removed anyway but the
// call fails with KindOrphanedData carrying brain's id.
func (r *Runtime) RemoveInferer(brain BrainId) error {
	i, ok := r.index[brain]
	if !ok {
		return cerrors.New(cerrors.KindUnknownBrain, "no model registered for brain %d", brain)
	}

	m := r.models[i]
	r.models = append(r.models[:i:i], r.models[i+1:]...)
	delete(r.index, brain)
	for id, idx := range r.index {
		if idx > i {
			r.index[id] = idx - 1
		}
	}
	r.queue.remove(brain)

	if !m.batch.IsEmpty() {
		return cerrors.Orphaned([]uint64{uint64(brain)})
	}
	return nil
}

// Clear drops every model. If any model still had queued agent states,
// Clear fails with KindOrphanedData carrying the BrainIds of those models —
// the removal still happens.
func (r *Runtime) Clear() error {
	var orphaned []uint64
	for _, m := range r.models {
		if !m.batch.IsEmpty() {
			orphaned = append(orphaned, uint64(m.id))
		}
	}

	r.models = nil
	r.index = make(map[BrainId]int)
	r.queue = newTicketHeap()

	if len(orphaned) > 0 {
		return cerrors.Orphaned(orphaned)
	}
	return nil
}

// NumModels returns how many models are currently registered.
func (r *Runtime) NumModels() int {
	return len(r.models)
}

// Inferer returns brain's underlying Inferer, so a caller can reach
// wrapper-specific behavior (such as a RecurrentTracker's state snapshot
// accessors) that the Runtime's own API doesn't generalize.
func (r *Runtime) Inferer(brain BrainId) (infer.Inferer, error) {
	m, err := r.modelFor(brain)
	if err != nil {
		return nil, err
	}
	return m.inferer, nil
}

// BeginAgent forwards to brain's model, starting any per-agent state a
// wrapper (e.g. RecurrentTracker) keeps for agent.
func (r *Runtime) BeginAgent(brain BrainId, agent scratchpad.AgentId) error {
	m, err := r.modelFor(brain)
	if err != nil {
		return err
	}
	m.inferer.BeginAgent(agent)
	return nil
}

// EndAgent forwards to brain's model, releasing any per-agent state a
// wrapper keeps for agent.
func (r *Runtime) EndAgent(brain BrainId, agent scratchpad.AgentId) error {
	m, err := r.modelFor(brain)
	if err != nil {
		return err
	}
	m.inferer.EndAgent(agent)
	return nil
}

// InputShapes forwards to brain's model.
func (r *Runtime) InputShapes(brain BrainId) ([]graph.Shape, error) {
	m, err := r.modelFor(brain)
	if err != nil {
		return nil, err
	}
	return m.inferer.InputShapes(), nil
}

// OutputShapes forwards to brain's model.
func (r *Runtime) OutputShapes(brain BrainId) ([]graph.Shape, error) {
	m, err := r.modelFor(brain)
	if err != nil {
		return nil, err
	}
	return m.inferer.OutputShapes(), nil
}

// Run executes every model whose batcher is non-empty, in models-list
// order, with no queue manipulation. Fails fast on the first model error;
// per §7 the reference choice is to discard partial results in that case.
func (r *Runtime) Run() (Results, RunStats, error) {
	results := make(Results)
	stats := RunStats{Executed: make(map[BrainId]ExecStats), Deferred: make(map[BrainId]int)}
	for _, m := range r.models {
		if m.batch.IsEmpty() {
			continue
		}
		resp, elapsed, err := r.execute(m)
		if err != nil {
			return nil, RunStats{}, err
		}
		results[m.id] = resp
		stats.Executed[m.id] = ExecStats{BatchSize: len(resp), Duration: elapsed}
	}
	return results, stats, nil
}

func (r *Runtime) execute(m *ModelState) (map[scratchpad.AgentId]batcher.Response, time.Duration, error) {
	n := m.batch.Len()
	start := time.Now()
	resp, err := m.batch.Execute(m.inferer)
	if err != nil {
		return nil, 0, err
	}
	elapsed := time.Since(start)
	m.timing.record(n, float64(elapsed)/float64(time.Millisecond))
	return resp, elapsed, nil
}

// RunFor executes models with queued work under a wall-clock budget, with
// round-robin fairness: the longest-waiting non-empty model always runs
// first regardless of budget (so no model starves), every other model runs
// only if some budget is left and its estimated cost fits it, and models
// that ran this tick move to the tail of the fairness queue for the next
// one. There is no mid-execution preemption; the budget is only checked
// between models.
func (r *Runtime) RunFor(budget time.Duration) (Results, RunStats, error) {
	pending := r.queue.popAll()
	sort.Slice(pending, func(i, j int) bool { return pending[i].sequence < pending[j].sequence })

	results := make(Results)
	anyExecuted := false
	var executed []BrainId
	var deferred []ticket
	stats := RunStats{Executed: make(map[BrainId]ExecStats), Deferred: make(map[BrainId]int)}

	for i, t := range pending {
		m, ok := r.index[t.brain]
		if !ok {
			// Model was removed after the ticket was queued; drop the ticket.
			continue
		}
		model := r.models[m]

		switch {
		case model.batch.IsEmpty():
			deferred = append(deferred, t)
		case anyExecuted && (budget <= 0 || !model.canRunInTime(budget)):
			deferred = append(deferred, t)
			stats.Deferred[model.id]++
		default:
			resp, elapsed, err := r.execute(model)
			if err != nil {
				// Every ticket already executed goes to the tail like a
				// normal completion; every ticket not yet reached
				// (including this one) keeps its original sequence, so a
				// mid-loop failure never loses or reorders a model's place
				// in line.
				r.requeueRotated(executed)
				for _, d := range deferred {
					r.queue.push(d)
				}
				for _, rest := range pending[i:] {
					r.queue.push(rest)
				}
				return nil, RunStats{}, err
			}
			if elapsed < budget {
				budget -= elapsed
			} else {
				budget = 0
			}
			anyExecuted = true
			results[model.id] = resp
			stats.Executed[model.id] = ExecStats{BatchSize: len(resp), Duration: elapsed}
			executed = append(executed, model.id)
		}
	}

	for _, t := range deferred {
		r.queue.push(t)
	}
	r.requeueRotated(executed)

	return results, stats, nil
}

// requeueRotated pushes a fresh tail ticket for each executed brain.
func (r *Runtime) requeueRotated(executed []BrainId) {
	for _, id := range executed {
		r.queue.push(ticket{sequence: r.seq, brain: id})
		r.seq++
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
