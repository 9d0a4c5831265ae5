// internal/handler/handler.go
package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/EmbarkStudios/cervo/internal/metrics"
	"github.com/EmbarkStudios/cervo/internal/middleware"
	"github.com/EmbarkStudios/cervo/internal/statestore"
	"github.com/EmbarkStudios/cervo/pkg/batcher"
	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/runtime"
	"github.com/EmbarkStudios/cervo/pkg/scratchpad"
)

// Handler exposes a runtime.Runtime over plain HTTP/JSON: push per-agent
// observations, trigger a scheduler tick, and inspect/remove models.
type Handler struct {
	rt            *runtime.Runtime
	defaultBudget time.Duration
	store         *statestore.Store
}

// New creates a Handler backed by rt. defaultBudget is the RunFor budget
// used by Tick when the caller doesn't override it with a budget_ms query
// parameter; zero means Tick calls Run and drains everything unconditionally.
// store may be nil, in which case BeginAgent/EndAgent still validate the
// brain/agent but skip persistence entirely.
func New(rt *runtime.Runtime, defaultBudget time.Duration, store *statestore.Store) *Handler {
	return &Handler{rt: rt, defaultBudget: defaultBudget, store: store}
}

// stateSnapshotter is implemented by wrappers (e.g. *wrap.RecurrentTracker)
// that keep per-agent state a host may want to persist across restarts.
type stateSnapshotter interface {
	SnapshotState(id scratchpad.AgentId) ([]float32, bool)
	RestoreState(id scratchpad.AgentId, state []float32) error
}

// pushRequest is the body of POST /v1/brains/{brain}/agents/{agent}.
type pushRequest struct {
	State batcher.State `json:"state"`
}

// tickResponse is the body returned by POST /v1/tick.
type tickResponse struct {
	Results map[string]map[string]batcher.Response `json:"results"`
}

// Push stages one agent's observation against a brain's batcher.
func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	brain, agent, ok := parseBrainAgent(w, r)
	if !ok {
		return
	}

	var body pushRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}

	if err := h.rt.Push(brain, agent, body.State); err != nil {
		log.Printf("[%s] Push(brain=%d, agent=%d) failed: %v", requestID, brain, agent, err)
		writeRuntimeError(w, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// BeginAgent starts tracking agent against brain's model and, if a Redis
// store is configured and the model wraps state a stateSnapshotter can
// restore, loads and restores any snapshot saved for agent by a previous
// process.
func (h *Handler) BeginAgent(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	brain, agent, ok := parseBrainAgent(w, r)
	if !ok {
		return
	}

	if err := h.rt.BeginAgent(brain, agent); err != nil {
		writeRuntimeError(w, err)
		return
	}

	if h.store != nil {
		if snap, ok := h.restorableInferer(brain); ok {
			state, found, err := h.store.Load(r.Context(), uint16(brain), uint64(agent))
			if err != nil {
				log.Printf("[%s] BeginAgent(brain=%d, agent=%d): state load failed: %v", requestID, brain, agent, err)
			} else if found {
				if err := snap.RestoreState(agent, state); err != nil {
					log.Printf("[%s] BeginAgent(brain=%d, agent=%d): state restore failed: %v", requestID, brain, agent, err)
				}
			}
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// EndAgent stops tracking agent against brain's model and, if a Redis store
// is configured and the model wraps state a stateSnapshotter can snapshot,
// saves the agent's current state so a later BeginAgent (in this process or
// a restarted one) can resume it.
func (h *Handler) EndAgent(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())

	brain, agent, ok := parseBrainAgent(w, r)
	if !ok {
		return
	}

	if h.store != nil {
		if snap, ok := h.restorableInferer(brain); ok {
			if state, ok := snap.SnapshotState(agent); ok {
				if err := h.store.Save(r.Context(), uint16(brain), uint64(agent), state, 0); err != nil {
					log.Printf("[%s] EndAgent(brain=%d, agent=%d): state save failed: %v", requestID, brain, agent, err)
				}
			}
		}
	}

	if err := h.rt.EndAgent(brain, agent); err != nil {
		writeRuntimeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) restorableInferer(brain runtime.BrainId) (stateSnapshotter, bool) {
	inf, err := h.rt.Inferer(brain)
	if err != nil {
		return nil, false
	}
	snap, ok := inf.(stateSnapshotter)
	return snap, ok
}

// Tick drains queued work for one scheduler round. A budget_ms query
// parameter overrides the handler's configured default budget for this
// call; an explicit budget_ms=0 forces Run, which drains everything
// regardless of cost.
func (h *Handler) Tick(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestID(r.Context())
	start := time.Now()

	budget := h.defaultBudget
	if raw := r.URL.Query().Get("budget_ms"); raw != "" {
		ms, parseErr := strconv.Atoi(raw)
		if parseErr != nil || ms < 0 {
			writeError(w, http.StatusBadRequest, "invalid budget_ms %q", raw)
			return
		}
		budget = time.Duration(ms) * time.Millisecond
	}

	var results runtime.Results
	var stats runtime.RunStats
	var err error
	if budget > 0 {
		results, stats, err = h.rt.RunFor(budget)
	} else {
		results, stats, err = h.rt.Run()
	}

	if err != nil {
		log.Printf("[%s] Tick failed: %v", requestID, err)
		writeRuntimeError(w, err)
		return
	}

	metrics.SetActiveBrains(h.rt.NumModels())
	for brain, execStats := range stats.Executed {
		metrics.RecordBatch(strconv.Itoa(int(brain)), execStats.BatchSize, execStats.Duration.Seconds())
	}
	for brain, n := range stats.Deferred {
		for i := 0; i < n; i++ {
			metrics.RecordDeferred(strconv.Itoa(int(brain)))
		}
	}

	log.Printf("[%s] Tick: models_run=%d, total_ms=%.2f", requestID, len(results), float64(time.Since(start).Microseconds())/1000.0)
	writeJSON(w, http.StatusOK, tickResponse{Results: toJSONResults(results)})
}

// Remove drops a model, surfacing KindOrphanedData (if queued work was
// discarded) as a 409 rather than an outright failure, since the removal
// itself still succeeded.
func (h *Handler) Remove(w http.ResponseWriter, r *http.Request) {
	brain, ok := parseBrain(w, r)
	if !ok {
		return
	}

	if err := h.rt.RemoveInferer(brain); err != nil {
		if kind, _ := cerrors.KindOf(err); kind == cerrors.KindOrphanedData {
			if cerr, ok := err.(*cerrors.Error); ok {
				metrics.RecordOrphaned(len(cerr.OrphanedIDs))
			}
			writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
			return
		}
		writeRuntimeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Shapes reports a brain's observable input/output shapes.
func (h *Handler) Shapes(w http.ResponseWriter, r *http.Request) {
	brain, ok := parseBrain(w, r)
	if !ok {
		return
	}

	in, err := h.rt.InputShapes(brain)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}
	out, err := h.rt.OutputShapes(brain)
	if err != nil {
		writeRuntimeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"inputs": in, "outputs": out})
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toJSONResults(results runtime.Results) map[string]map[string]batcher.Response {
	out := make(map[string]map[string]batcher.Response, len(results))
	for brain, agents := range results {
		perAgent := make(map[string]batcher.Response, len(agents))
		for agent, resp := range agents {
			perAgent[strconv.FormatUint(uint64(agent), 10)] = resp
		}
		out[strconv.Itoa(int(brain))] = perAgent
	}
	return out
}

func parseBrain(w http.ResponseWriter, r *http.Request) (runtime.BrainId, bool) {
	raw := r.PathValue("brain")
	n, err := strconv.ParseUint(raw, 10, 16)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid brain id %q", raw)
		return 0, false
	}
	return runtime.BrainId(n), true
}

func parseBrainAgent(w http.ResponseWriter, r *http.Request) (runtime.BrainId, scratchpad.AgentId, bool) {
	brain, ok := parseBrain(w, r)
	if !ok {
		return 0, 0, false
	}
	raw := r.PathValue("agent")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid agent id %q", raw)
		return 0, 0, false
	}
	return brain, scratchpad.AgentId(n), true
}
