// internal/handler/handler_test.go
package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/EmbarkStudios/cervo/internal/faketest"
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/infer"
	"github.com/EmbarkStudios/cervo/pkg/runtime"
)

func newTestHandler(t *testing.T) (*Handler, runtime.BrainId) {
	t.Helper()
	g := faketest.NewGraph(
		[]graph.Shape{{Name: "x", Dims: []int64{2}}},
		[]graph.Shape{{Name: "y", Dims: []int64{2}}},
	)
	inf, err := infer.BasicFromGraph(g)
	if err != nil {
		t.Fatalf("BasicFromGraph failed: %v", err)
	}

	rt := runtime.New()
	brain := rt.AddInferer(inf)
	return New(rt, 0, nil), brain
}

func withPathValues(r *http.Request, kv map[string]string) *http.Request {
	for k, v := range kv {
		r.SetPathValue(k, v)
	}
	return r
}

func TestPushAcceptsValidState(t *testing.T) {
	h, brain := newTestHandler(t)

	body, _ := json.Marshal(pushRequest{State: map[string][]float32{"x": {1, 2}}})
	req := httptest.NewRequest(http.MethodPost, "/v1/brains/0/agents/7", bytes.NewReader(body))
	req = withPathValues(req, map[string]string{"brain": "0", "agent": "7"})
	rec := httptest.NewRecorder()

	h.Push(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	_ = brain
}

func TestPushRejectsUnknownBrain(t *testing.T) {
	h, _ := newTestHandler(t)

	body, _ := json.Marshal(pushRequest{State: map[string][]float32{"x": {1, 2}}})
	req := httptest.NewRequest(http.MethodPost, "/v1/brains/99/agents/1", bytes.NewReader(body))
	req = withPathValues(req, map[string]string{"brain": "99", "agent": "1"})
	rec := httptest.NewRecorder()

	h.Push(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown brain, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestPushRejectsUnknownInputKey(t *testing.T) {
	h, _ := newTestHandler(t)

	body, _ := json.Marshal(pushRequest{State: map[string][]float32{"bogus": {1, 2}}})
	req := httptest.NewRequest(http.MethodPost, "/v1/brains/0/agents/1", bytes.NewReader(body))
	req = withPathValues(req, map[string]string{"brain": "0", "agent": "1"})
	rec := httptest.NewRecorder()

	h.Push(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown input key, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestTickWithNoBudgetRunsEverything(t *testing.T) {
	h, _ := newTestHandler(t)

	pushBody, _ := json.Marshal(pushRequest{State: map[string][]float32{"x": {1, 2}}})
	pushReq := withPathValues(httptest.NewRequest(http.MethodPost, "/v1/brains/0/agents/1", bytes.NewReader(pushBody)),
		map[string]string{"brain": "0", "agent": "1"})
	h.Push(httptest.NewRecorder(), pushReq)

	tickReq := httptest.NewRequest(http.MethodPost, "/v1/tick", nil)
	rec := httptest.NewRecorder()
	h.Tick(rec, tickReq)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp tickResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected 1 brain in results, got %d", len(resp.Results))
	}
}

func TestTickRejectsInvalidBudget(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/tick?budget_ms=nope", nil)
	rec := httptest.NewRecorder()
	h.Tick(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid budget_ms, got %d", rec.Code)
	}
}

func TestTickWithBudgetQueryOverridesDefault(t *testing.T) {
	h, _ := newTestHandler(t)
	h.defaultBudget = 0

	pushBody, _ := json.Marshal(pushRequest{State: map[string][]float32{"x": {1, 2}}})
	pushReq := withPathValues(httptest.NewRequest(http.MethodPost, "/v1/brains/0/agents/1", bytes.NewReader(pushBody)),
		map[string]string{"brain": "0", "agent": "1"})
	h.Push(httptest.NewRecorder(), pushReq)

	tickReq := httptest.NewRequest(http.MethodPost, "/v1/tick?budget_ms=50", nil)
	rec := httptest.NewRecorder()
	h.Tick(rec, tickReq)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestShapesReturnsInputsAndOutputs(t *testing.T) {
	h, _ := newTestHandler(t)

	req := withPathValues(httptest.NewRequest(http.MethodGet, "/v1/brains/0/shapes", nil), map[string]string{"brain": "0"})
	rec := httptest.NewRecorder()
	h.Shapes(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRemoveReportsConflictForOrphanedData(t *testing.T) {
	h, _ := newTestHandler(t)

	pushBody, _ := json.Marshal(pushRequest{State: map[string][]float32{"x": {1, 2}}})
	pushReq := withPathValues(httptest.NewRequest(http.MethodPost, "/v1/brains/0/agents/1", bytes.NewReader(pushBody)),
		map[string]string{"brain": "0", "agent": "1"})
	h.Push(httptest.NewRecorder(), pushReq)

	req := withPathValues(httptest.NewRequest(http.MethodDelete, "/v1/brains/0", nil), map[string]string{"brain": "0"})
	rec := httptest.NewRecorder()
	h.Remove(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for orphaned data, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBeginAndEndAgentSucceedWithoutStore(t *testing.T) {
	h, _ := newTestHandler(t)

	beginReq := withPathValues(httptest.NewRequest(http.MethodPost, "/v1/brains/0/agents/1/begin", nil),
		map[string]string{"brain": "0", "agent": "1"})
	rec := httptest.NewRecorder()
	h.BeginAgent(rec, beginReq)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from BeginAgent, got %d: %s", rec.Code, rec.Body.String())
	}

	endReq := withPathValues(httptest.NewRequest(http.MethodPost, "/v1/brains/0/agents/1/end", nil),
		map[string]string{"brain": "0", "agent": "1"})
	rec = httptest.NewRecorder()
	h.EndAgent(rec, endReq)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 from EndAgent, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestBeginAgentRejectsUnknownBrain(t *testing.T) {
	h, _ := newTestHandler(t)

	req := withPathValues(httptest.NewRequest(http.MethodPost, "/v1/brains/99/agents/1/begin", nil),
		map[string]string{"brain": "99", "agent": "1"})
	rec := httptest.NewRecorder()
	h.BeginAgent(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown brain, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthzReportsOK(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.Healthz(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
