package scratchpad

import (
	"testing"

	"github.com/EmbarkStudios/cervo/pkg/graph"
)

func shapes() ([]graph.Shape, []graph.Shape) {
	return []graph.Shape{{Name: "x", Dims: []int64{2}}},
		[]graph.Shape{{Name: "y", Dims: []int64{2}}}
}

func TestNextGrowsCapacityByDoubling(t *testing.T) {
	in, out := shapes()
	p := NewSized(in, out, 2)

	for i := 0; i < 5; i++ {
		p.Next(AgentId(i))
	}

	if p.BatchSize() != 5 {
		t.Fatalf("expected batch size 5, got %d", p.BatchSize())
	}
	if p.Capacity() < 5 {
		t.Fatalf("expected capacity >= 5, got %d", p.Capacity())
	}
	// doubling from 2: 2 -> 4 -> 8
	if p.Capacity() != 8 {
		t.Fatalf("expected capacity to double to 8, got %d", p.Capacity())
	}
}

func TestPushRejectsWrongLength(t *testing.T) {
	in, out := shapes()
	p := NewSized(in, out, DefaultCapacity)
	p.Next(AgentId(1))

	err := p.Push(0, []float32{1, 2, 3})
	if err == nil {
		t.Fatal("expected ShapeMismatch error, got nil")
	}
}

func TestPushCopiesIntoLastRow(t *testing.T) {
	in, out := shapes()
	p := NewSized(in, out, DefaultCapacity)
	p.Next(AgentId(1))
	if err := p.Push(0, []float32{1, 2}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	p.Next(AgentId(2))
	if err := p.Push(0, []float32{3, 4}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	v := p.Chunk(0, 2)
	got := v.InputSlot(0)
	want := []float32{1, 2, 3, 4}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("InputSlot(0)[%d] = %v, want %v", i, got[i], w)
		}
	}
}

func TestChunkClampsToRemaining(t *testing.T) {
	in, out := shapes()
	p := NewSized(in, out, DefaultCapacity)
	for i := 0; i < 3; i++ {
		p.Next(AgentId(i))
		_ = p.Push(0, []float32{float32(i), float32(i)})
	}

	v := p.Chunk(0, 10)
	if v.Len() != 3 {
		t.Fatalf("expected chunk clamped to 3, got %d", v.Len())
	}
	if p.Remaining() != 0 {
		t.Fatalf("expected remaining 0, got %d", p.Remaining())
	}
}

func TestViewIDsMatchWindow(t *testing.T) {
	in, out := shapes()
	p := NewSized(in, out, DefaultCapacity)
	ids := []AgentId{10, 20, 30}
	for _, id := range ids {
		p.Next(id)
		_ = p.Push(0, []float32{1, 1})
	}

	v := p.Chunk(1, 2)
	got := v.IDs()
	if len(got) != 2 || got[0] != 20 || got[1] != 30 {
		t.Fatalf("unexpected view ids: %v", got)
	}
}

func TestDrainResetsPad(t *testing.T) {
	in, out := shapes()
	p := NewSized(in, out, DefaultCapacity)
	p.Next(AgentId(1))
	_ = p.Push(0, []float32{1, 2})

	p.Drain()

	if !p.IsEmpty() {
		t.Fatal("expected pad empty after Drain")
	}
	if len(p.IDs()) != 0 {
		t.Fatalf("expected no ids after Drain, got %v", p.IDs())
	}
}

func TestOutputSlotMutGrowsToViewEnd(t *testing.T) {
	in, out := shapes()
	p := NewSized(in, out, DefaultCapacity)
	for i := 0; i < 3; i++ {
		p.Next(AgentId(i))
		_ = p.Push(0, []float32{1, 1})
	}

	v := p.Chunk(0, 3)
	mut := v.OutputSlotMut(0)
	if len(mut) != 3*2 {
		t.Fatalf("expected output slot mut len 6, got %d", len(mut))
	}
	for i := range mut {
		mut[i] = float32(i)
	}
	ro := v.OutputSlot(0)
	for i := range ro {
		if ro[i] != float32(i) {
			t.Errorf("OutputSlot(0)[%d] = %v, want %v", i, ro[i], i)
		}
	}
}
