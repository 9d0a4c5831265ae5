package wrap

import (
	"testing"

	"github.com/EmbarkStudios/cervo/internal/faketest"
	"github.com/EmbarkStudios/cervo/pkg/batcher"
	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/infer"
)

// recurrentGraph reports a "memory" input and output of matching shape, so
// WrapRecurrent can auto-detect the pair, alongside a plain "obs" input and
// "action" output that pass straight through.
func recurrentGraph() *faketest.Graph {
	g := faketest.NewGraph(
		[]graph.Shape{
			{Name: "obs", Dims: []int64{1}},
			{Name: "memory", Dims: []int64{1}},
		},
		[]graph.Shape{
			{Name: "action", Dims: []int64{1}},
			{Name: "memory", Dims: []int64{1}},
		},
	)
	// Echo transform: action = obs, memory_out = memory_in + 1, so the
	// round-trip test can assert the stored state advances each tick.
	g.Transform = func(ins [][]float32, batch int) [][]float32 {
		obs, mem := ins[0], ins[1]
		action := make([]float32, batch)
		memOut := make([]float32, batch)
		copy(action, obs)
		for i := 0; i < batch; i++ {
			memOut[i] = mem[i] + 1
		}
		return [][]float32{action, memOut}
	}
	return g
}

func TestWrapRecurrentFailsWithNoMatchingPair(t *testing.T) {
	g := faketest.NewGraph(
		[]graph.Shape{{Name: "obs", Dims: []int64{2}}},
		[]graph.Shape{{Name: "action", Dims: []int64{2}}},
	)
	inner, err := infer.BasicFromGraph(g)
	if err != nil {
		t.Fatalf("BasicFromGraph failed: %v", err)
	}
	_, err = WrapRecurrent(inner)
	if err == nil {
		t.Fatal("expected KindNoRecurrentPairs error")
	}
	if kind, ok := cerrors.KindOf(err); !ok || kind != cerrors.KindNoRecurrentPairs {
		t.Fatalf("expected KindNoRecurrentPairs, got %v (ok=%v)", kind, ok)
	}
}

func TestRecurrentHidesStateSlotsFromObservableShapes(t *testing.T) {
	g := recurrentGraph()
	inner, err := infer.BasicFromGraph(g)
	if err != nil {
		t.Fatalf("BasicFromGraph failed: %v", err)
	}
	r, err := WrapRecurrent(inner)
	if err != nil {
		t.Fatalf("WrapRecurrent failed: %v", err)
	}

	if in := r.InputShapes(); len(in) != 1 || in[0].Name != "obs" {
		t.Fatalf("expected only %q observable, got %v", "obs", in)
	}
	if out := r.OutputShapes(); len(out) != 1 || out[0].Name != "action" {
		t.Fatalf("expected only %q observable, got %v", "action", out)
	}
}

func TestRecurrentStateCarriesAcrossTicksForBegunAgent(t *testing.T) {
	g := recurrentGraph()
	inner, err := infer.BasicFromGraph(g)
	if err != nil {
		t.Fatalf("BasicFromGraph failed: %v", err)
	}
	r, err := WrapRecurrent(inner)
	if err != nil {
		t.Fatalf("WrapRecurrent failed: %v", err)
	}

	r.BeginAgent(1)
	defer r.EndAgent(1)

	for tick := 1; tick <= 3; tick++ {
		b := batcher.New(r)
		if err := b.Push(1, batcher.State{"obs": {float32(tick)}}); err != nil {
			t.Fatalf("tick %d: Push failed: %v", tick, err)
		}
		resp, err := b.Execute(r)
		if err != nil {
			t.Fatalf("tick %d: Execute failed: %v", tick, err)
		}
		action := resp[1]["action"]
		if len(action) != 1 || action[0] != float32(tick) {
			t.Fatalf("tick %d: expected action %v, got %v", tick, tick, action)
		}
		// memory starts at 0 and the transform adds 1 per tick.
		if snap, ok := r.SnapshotState(1); !ok || len(snap) != 1 || snap[0] != float32(tick) {
			t.Fatalf("tick %d: expected stored memory [%d], got %v (ok=%v)", tick, tick, snap, ok)
		}
	}
}

func TestRecurrentAgentWithoutBeginGetsZeroedState(t *testing.T) {
	g := recurrentGraph()
	// action = obs + memory_in, so the action shows which memory the model
	// was fed.
	g.Transform = func(ins [][]float32, batch int) [][]float32 {
		obs, mem := ins[0], ins[1]
		action := make([]float32, batch)
		memOut := make([]float32, batch)
		for i := 0; i < batch; i++ {
			action[i] = obs[i] + mem[i]
			memOut[i] = mem[i] + 1
		}
		return [][]float32{action, memOut}
	}
	inner, err := infer.BasicFromGraph(g)
	if err != nil {
		t.Fatalf("BasicFromGraph failed: %v", err)
	}
	r, err := WrapRecurrent(inner)
	if err != nil {
		t.Fatalf("WrapRecurrent failed: %v", err)
	}

	// Agent 7 never calls BeginAgent; the recurrent input slot should be
	// tolerated as zero-filled rather than erroring, so action == obs.
	b := batcher.New(r)
	if err := b.Push(7, batcher.State{"obs": {5}}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	resp, err := b.Execute(r)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if got := resp[7]["action"][0]; got != 5 {
		t.Fatalf("expected action 5, got %v", got)
	}
}

func TestSnapshotAndRestoreStateRoundTrip(t *testing.T) {
	g := recurrentGraph()
	inner, err := infer.BasicFromGraph(g)
	if err != nil {
		t.Fatalf("BasicFromGraph failed: %v", err)
	}
	r, err := WrapRecurrent(inner)
	if err != nil {
		t.Fatalf("WrapRecurrent failed: %v", err)
	}

	if _, ok := r.SnapshotState(1); ok {
		t.Fatalf("expected no state before BeginAgent")
	}

	r.BeginAgent(1)
	b := batcher.New(r)
	for tick := 0; tick < 3; tick++ {
		if err := b.Push(1, batcher.State{"obs": {0}}); err != nil {
			t.Fatalf("tick %d: Push failed: %v", tick, err)
		}
		if _, err := b.Execute(r); err != nil {
			t.Fatalf("tick %d: Execute failed: %v", tick, err)
		}
	}

	snap, ok := r.SnapshotState(1)
	if !ok {
		t.Fatalf("expected state after BeginAgent and ticks")
	}
	if len(snap) != 1 || snap[0] != 3 {
		t.Fatalf("expected memory advanced to 3, got %v", snap)
	}

	r.BeginAgent(2)
	if err := r.RestoreState(2, snap); err != nil {
		t.Fatalf("RestoreState failed: %v", err)
	}
	restored, ok := r.SnapshotState(2)
	if !ok || len(restored) != 1 || restored[0] != 3 {
		t.Fatalf("expected restored state [3], got %v", restored)
	}

	if err := r.RestoreState(2, []float32{1, 2}); err == nil {
		t.Fatalf("expected error restoring mismatched state length")
	}
}
