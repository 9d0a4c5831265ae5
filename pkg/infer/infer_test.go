package infer

import (
	"testing"

	"github.com/EmbarkStudios/cervo/internal/faketest"
	"github.com/EmbarkStudios/cervo/pkg/cerrors"
	"github.com/EmbarkStudios/cervo/pkg/graph"
	"github.com/EmbarkStudios/cervo/pkg/scratchpad"
)

func identityGraph() *faketest.Graph {
	return faketest.NewGraph(
		[]graph.Shape{{Name: "x", Dims: []int64{2}}},
		[]graph.Shape{{Name: "y", Dims: []int64{2}}},
	)
}

func pushOne(pad *scratchpad.ScratchPad, id scratchpad.AgentId, vals []float32) {
	pad.Next(id)
	_ = pad.Push(0, vals)
}

func TestBasicInfererSelectsOne(t *testing.T) {
	g := identityGraph()
	b, err := BasicFromGraph(g)
	if err != nil {
		t.Fatalf("BasicFromGraph failed: %v", err)
	}
	if got := b.SelectBatchSize(5); got != 1 {
		t.Fatalf("expected SelectBatchSize=1, got %d", got)
	}

	pad := scratchpad.New(b.InputShapes(), b.OutputShapes())
	pushOne(pad, 1, []float32{1, 2})
	view := pad.Chunk(0, 1)
	if err := b.InferRaw(view); err != nil {
		t.Fatalf("InferRaw failed: %v", err)
	}
	if len(view.OutputSlot(0)) != 2 {
		t.Fatalf("expected output len 2, got %d", len(view.OutputSlot(0)))
	}
}

func TestBasicInfererRejectsLargerView(t *testing.T) {
	g := identityGraph()
	b, _ := BasicFromGraph(g)
	pad := scratchpad.New(b.InputShapes(), b.OutputShapes())
	pushOne(pad, 1, []float32{1, 2})
	pushOne(pad, 2, []float32{3, 4})
	view := pad.Chunk(0, 2)
	if err := b.InferRaw(view); err == nil {
		t.Fatal("expected error for view len 2 on BasicInferer")
	}
}

func TestFixedBatchCoverage(t *testing.T) {
	g := identityGraph()
	fb, err := FixedBatchFromGraph(g, []int{1, 2, 4, 8})
	if err != nil {
		t.Fatalf("FixedBatchFromGraph failed: %v", err)
	}

	pad := scratchpad.New(fb.InputShapes(), fb.OutputShapes())
	for i := 0; i < 15; i++ {
		pushOne(pad, scratchpad.AgentId(i), []float32{1, 1})
	}

	var sizes []int
	offset := 0
	for pad.Remaining() > 0 {
		size := fb.SelectBatchSize(pad.Remaining())
		sizes = append(sizes, size)
		view := pad.Chunk(offset, size)
		if err := fb.InferRaw(view); err != nil {
			t.Fatalf("InferRaw failed: %v", err)
		}
		offset += size
	}

	want := []int{8, 4, 2, 1}
	if len(sizes) != len(want) {
		t.Fatalf("expected %d chunks, got %d (%v)", len(want), len(sizes), sizes)
	}
	for i, w := range want {
		if sizes[i] != w {
			t.Errorf("chunk %d size = %d, want %d", i, sizes[i], w)
		}
	}
}

func TestFixedBatchAlwaysIncludesOne(t *testing.T) {
	g := identityGraph()
	fb, err := FixedBatchFromGraph(g, []int{4, 8})
	if err != nil {
		t.Fatalf("FixedBatchFromGraph failed: %v", err)
	}
	if fb.SelectBatchSize(1) != 1 {
		t.Fatalf("expected 1 to be selectable even when not requested explicitly")
	}
}

func TestFixedBatchRejectsNonMatchingSize(t *testing.T) {
	g := identityGraph()
	fb, _ := FixedBatchFromGraph(g, []int{1, 4})
	pad := scratchpad.New(fb.InputShapes(), fb.OutputShapes())
	for i := 0; i < 3; i++ {
		pushOne(pad, scratchpad.AgentId(i), []float32{1, 1})
	}
	view := pad.Chunk(0, 3)
	err := fb.InferRaw(view)
	if err == nil {
		t.Fatal("expected NoMatchingBatchSize error")
	}
	kind, ok := cerrors.KindOf(err)
	if !ok || kind != cerrors.KindNoMatchingBatchSize {
		t.Fatalf("expected KindNoMatchingBatchSize, got %v (ok=%v)", kind, ok)
	}
}

func TestMemoizingDynamicCachesPlansBySize(t *testing.T) {
	g := identityGraph()
	m, err := MemoizingDynamicFromGraph(g, []int{4})
	if err != nil {
		t.Fatalf("MemoizingDynamicFromGraph failed: %v", err)
	}
	if m.CacheSize() != 1 {
		t.Fatalf("expected preloaded cache size 1, got %d", m.CacheSize())
	}

	pad := scratchpad.New(m.InputShapes(), m.OutputShapes())
	for i := 0; i < 8; i++ {
		pushOne(pad, scratchpad.AgentId(i), []float32{1, 1})
	}
	view := pad.Chunk(0, 8)
	if err := m.InferRaw(view); err != nil {
		t.Fatalf("InferRaw failed: %v", err)
	}
	if m.CacheSize() != 2 {
		t.Fatalf("expected cache size 2 after first miss, got %d", m.CacheSize())
	}
	if g.BindCount(8) != 1 {
		t.Fatalf("expected exactly one compile for size 8, got %d", g.BindCount(8))
	}

	pad.Drain()
	for i := 0; i < 8; i++ {
		pushOne(pad, scratchpad.AgentId(i), []float32{1, 1})
	}
	view2 := pad.Chunk(0, 8)
	if err := m.InferRaw(view2); err != nil {
		t.Fatalf("second InferRaw failed: %v", err)
	}
	if g.BindCount(8) != 1 {
		t.Fatalf("expected cache hit on second call, compile count still 1, got %d", g.BindCount(8))
	}
}

func TestDynamicInfererNeverCompilesPerSize(t *testing.T) {
	g := identityGraph()
	d, err := DynamicFromGraph(g)
	if err != nil {
		t.Fatalf("DynamicFromGraph failed: %v", err)
	}

	pad := scratchpad.New(d.InputShapes(), d.OutputShapes())
	for i := 0; i < 5; i++ {
		pushOne(pad, scratchpad.AgentId(i), []float32{1, 1})
	}
	view := pad.Chunk(0, 5)
	if err := d.InferRaw(view); err != nil {
		t.Fatalf("InferRaw failed: %v", err)
	}
	if g.BindCount(5) != 0 {
		t.Fatalf("expected no per-size compiles for DynamicInferer, got %d", g.BindCount(5))
	}
}

func TestBatchCoverageInvariantAcrossStrategies(t *testing.T) {
	g := identityGraph()
	strategies := map[string]Inferer{}
	if b, err := BasicFromGraph(g); err == nil {
		strategies["basic"] = b
	}
	if fb, err := FixedBatchFromGraph(identityGraph(), []int{1, 3, 7}); err == nil {
		strategies["fixed"] = fb
	}
	if md, err := MemoizingDynamicFromGraph(identityGraph(), nil); err == nil {
		strategies["memoizing"] = md
	}
	if dyn, err := DynamicFromGraph(identityGraph()); err == nil {
		strategies["dynamic"] = dyn
	}

	for name, s := range strategies {
		for _, count := range []int{1, 2, 5, 13, 17} {
			sum := 0
			remaining := count
			for remaining > 0 {
				size := s.SelectBatchSize(remaining)
				if size < 1 || size > remaining {
					t.Fatalf("%s: SelectBatchSize(%d) returned out-of-range %d", name, remaining, size)
				}
				sum += size
				remaining -= size
			}
			if sum != count {
				t.Errorf("%s: chunk sizes summed to %d, want %d", name, sum, count)
			}
		}
	}
}
