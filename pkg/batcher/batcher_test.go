package batcher

import (
	"testing"

	"github.com/EmbarkStudios/cervo/internal/faketest"
	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/infer"
	"github.com/EmbarkStudios/cervo/pkg/scratchpad"
)

func newBasic(t *testing.T) infer.Inferer {
	t.Helper()
	g := faketest.NewGraph(
		[]graph.Shape{{Name: "x", Dims: []int64{2}}},
		[]graph.Shape{{Name: "y", Dims: []int64{2}}},
	)
	b, err := infer.BasicFromGraph(g)
	if err != nil {
		t.Fatalf("BasicFromGraph failed: %v", err)
	}
	return b
}

func TestExecuteOnEmptyBatcherReturnsEmptyMap(t *testing.T) {
	inferer := newBasic(t)
	b := New(inferer)

	resp, err := b.Execute(inferer)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(resp) != 0 {
		t.Fatalf("expected empty response map, got %v", resp)
	}
	if !b.IsEmpty() {
		t.Fatal("expected batcher to remain empty")
	}
}

func TestPushRejectsUnknownInputKey(t *testing.T) {
	inferer := newBasic(t)
	b := New(inferer)

	err := b.Push(1, State{"bogus": {1, 2}})
	if err == nil {
		t.Fatal("expected UnknownInputKey error")
	}
	kind, ok := cerrors.KindOf(err)
	if !ok || kind != cerrors.KindUnknownInputKey {
		t.Fatalf("expected KindUnknownInputKey, got %v (ok=%v)", kind, ok)
	}
}

func TestExecuteRoundTripsIdentity(t *testing.T) {
	inferer := newBasic(t)
	b := New(inferer)

	if err := b.Push(42, State{"x": {1, 2}}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	resp, err := b.Execute(inferer)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("expected 1 response, got %d", len(resp))
	}
	r, ok := resp[42]
	if !ok {
		t.Fatalf("expected response for agent 42, got keys %v", keysOf(resp))
	}
	if len(r["y"]) != 2 {
		t.Fatalf("expected output y of length 2, got %d", len(r["y"]))
	}

	if !b.IsEmpty() {
		t.Fatal("expected batcher empty after Execute")
	}
}

func TestExecuteScattersEveryPushedID(t *testing.T) {
	inferer := newBasic(t)
	// FixedBatch-like multi-chunk coverage is exercised at the infer-test
	// level; here we verify the batcher-level contract with several agents.
	b := New(inferer)

	ids := []scratchpad.AgentId{1, 2, 3, 4, 5}
	for _, id := range ids {
		if err := b.Push(id, State{"x": {float32(id), float32(id)}}); err != nil {
			t.Fatalf("Push(%d) failed: %v", id, err)
		}
	}

	resp, err := b.Execute(inferer)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(resp) != len(ids) {
		t.Fatalf("expected %d responses, got %d", len(ids), len(resp))
	}
	for _, id := range ids {
		if _, ok := resp[id]; !ok {
			t.Errorf("missing response for agent %d", id)
		}
	}
}

func keysOf(m map[scratchpad.AgentId]Response) []scratchpad.AgentId {
	out := make([]scratchpad.AgentId, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
