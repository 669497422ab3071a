package routing

import (
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/kprusa/decnet/internal/adjacency"
	"github.com/kprusa/decnet/internal/event"
	"github.com/kprusa/decnet/internal/packet"
	"github.com/kprusa/decnet/pkg/dnaddr"
)

func testCore(t *testing.T) *Core {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	events := event.NewLogger(log)
	return NewCore(dnaddr.New(1, 1), Config{MaxHops: 30, MaxCost: 1022, MaxArea: 63, MaxVisits: 63}, events, log)
}

func testAdj(addr dnaddr.Address) *adjacency.Adjacency {
	return adjacency.New(addr, adjacency.NTypeL1Router, nil, nil, nil, 0, logrus.NewEntry(logrus.New()))
}

func TestRecomputeOne_PicksMinCostHigherNodeIDTiebreak(t *testing.T) {
	c := testCore(t)
	a2 := testAdj(dnaddr.New(1, 2))
	a3 := testAdj(dnaddr.New(1, 3))
	c.neighbors[a2.Addr] = &Neighbor{Adj: a2, Vectors: map[int]Vector{5: {Hops: 1, Cost: 4}}}
	c.neighbors[a3.Addr] = &Neighbor{Adj: a3, Vectors: map[int]Vector{5: {Hops: 1, Cost: 4}}}

	c.recomputeOne(5)
	r := c.Lookup(5)
	if r == nil || r.Oadj != a3 {
		t.Fatalf("expected tiebreak to favor higher node-id (3), got %+v", r)
	}
}

func TestRecomputeOne_LowerCostWins(t *testing.T) {
	c := testCore(t)
	a2 := testAdj(dnaddr.New(1, 2))
	a9 := testAdj(dnaddr.New(1, 9))
	c.neighbors[a2.Addr] = &Neighbor{Adj: a2, Vectors: map[int]Vector{5: {Hops: 1, Cost: 2}}}
	c.neighbors[a9.Addr] = &Neighbor{Adj: a9, Vectors: map[int]Vector{5: {Hops: 1, Cost: 9}}}

	c.recomputeOne(5)
	r := c.Lookup(5)
	if r == nil || r.Oadj != a2 {
		t.Fatalf("expected lower-cost neighbor to win, got %+v", r)
	}
}

func TestRecomputeOne_UnreachableBeyondMaxCost(t *testing.T) {
	c := testCore(t)
	a2 := testAdj(dnaddr.New(1, 2))
	c.neighbors[a2.Addr] = &Neighbor{Adj: a2, Vectors: map[int]Vector{5: {Hops: 1, Cost: 9999}}}

	c.recomputeOne(5)
	if r := c.Lookup(5); r != nil {
		t.Fatalf("expected unreachable (nil route), got %+v", r)
	}
}

func TestRecomputeOne_MarksSRMOnChange(t *testing.T) {
	c := testCore(t)
	a2 := testAdj(dnaddr.New(1, 2))
	c.neighbors[a2.Addr] = &Neighbor{Adj: a2, Vectors: map[int]Vector{5: {Hops: 1, Cost: 4}}}
	c.recomputeOne(5)

	ids := c.DrainSRM(0)
	if len(ids) != 1 || ids[0] != 5 {
		t.Fatalf("expected SRM to contain [5], got %v", ids)
	}
	if more := c.DrainSRM(0); len(more) != 0 {
		t.Fatalf("SRM should be empty after drain, got %v", more)
	}
}

func TestForward_DeliverLocal(t *testing.T) {
	c := testCore(t)
	d := c.Forward(Frame{Dst: c.Self, Src: dnaddr.New(1, 2)}, nil)
	if d.Outcome != OutcomeDeliverLocal {
		t.Fatalf("outcome = %v, want OutcomeDeliverLocal", d.Outcome)
	}
}

func TestForward_UnreachableDropsWithoutRQR(t *testing.T) {
	c := testCore(t)
	d := c.Forward(Frame{Dst: dnaddr.New(1, 99), Src: dnaddr.New(1, 2)}, nil)
	if d.Outcome != OutcomeDrop {
		t.Fatalf("outcome = %v, want OutcomeDrop", d.Outcome)
	}
	if c.Counters.UnreachDrop != 1 {
		t.Fatalf("unreach drop counter = %d, want 1", c.Counters.UnreachDrop)
	}
}

func TestForward_UnreachableBouncesWithRQR(t *testing.T) {
	c := testCore(t)
	dst := dnaddr.New(1, 99)
	src := dnaddr.New(1, 2)
	d := c.Forward(Frame{Dst: dst, Src: src, RQR: true}, nil)
	if d.Outcome != OutcomeBounce {
		t.Fatalf("outcome = %v, want OutcomeBounce", d.Outcome)
	}
	if d.Frame.Dst != src || d.Frame.Src != dst || !d.Frame.RTS {
		t.Fatalf("bounce frame not properly swapped: %+v", d.Frame)
	}
}

func TestForward_AgedDropAtMaxVisits(t *testing.T) {
	c := testCore(t)
	a2 := testAdj(dnaddr.New(1, 2))
	c.neighbors[a2.Addr] = &Neighbor{Adj: a2, Vectors: map[int]Vector{5: {Hops: 1, Cost: 4}}}
	c.recomputeOne(5)

	d := c.Forward(Frame{Dst: dnaddr.New(1, 5), Src: dnaddr.New(1, 2), Visit: 63}, nil)
	if d.Outcome != OutcomeDrop {
		t.Fatalf("outcome = %v, want OutcomeDrop (aged)", d.Outcome)
	}
	if c.Counters.AgedDrop != 1 {
		t.Fatalf("aged drop counter = %d, want 1", c.Counters.AgedDrop)
	}
}

func TestForward_RTSFrameGetsDoubledVisitBudget(t *testing.T) {
	log := logrus.NewEntry(logrus.New())
	events := event.NewLogger(log)
	c := NewCore(dnaddr.New(1, 1), Config{MaxHops: 30, MaxCost: 1022, MaxArea: 63, MaxVisits: 10}, events, log)
	a2 := testAdj(dnaddr.New(1, 2))
	c.neighbors[a2.Addr] = &Neighbor{Adj: a2, Vectors: map[int]Vector{5: {Hops: 1, Cost: 4}}}
	c.recomputeOne(5)

	d := c.Forward(Frame{Dst: dnaddr.New(1, 5), Src: dnaddr.New(1, 2), Visit: 15, RTS: true}, nil)
	if d.Outcome != OutcomeForward {
		t.Fatalf("outcome = %v, want OutcomeForward (rts frame within doubled budget)", d.Outcome)
	}

	d = c.Forward(Frame{Dst: dnaddr.New(1, 5), Src: dnaddr.New(1, 2), Visit: 10}, nil)
	if d.Outcome != OutcomeDrop {
		t.Fatalf("outcome = %v, want OutcomeDrop (non-rts frame at plain MaxVisits)", d.Outcome)
	}
}

func TestForward_IncrementsVisitOnForward(t *testing.T) {
	c := testCore(t)
	a2 := testAdj(dnaddr.New(1, 2))
	c.neighbors[a2.Addr] = &Neighbor{Adj: a2, Vectors: map[int]Vector{5: {Hops: 1, Cost: 4}}}
	c.recomputeOne(5)

	d := c.Forward(Frame{Dst: dnaddr.New(1, 5), Src: dnaddr.New(1, 2), Visit: 3}, nil)
	if d.Outcome != OutcomeForward {
		t.Fatalf("outcome = %v, want OutcomeForward", d.Outcome)
	}
	if d.Frame.Visit != 4 {
		t.Fatalf("visit = %d, want 4", d.Frame.Visit)
	}
}

func TestBuildSegments_SmallGapAbsorbedIntoOneSegment(t *testing.T) {
	lookup := func(id int) packet.RouteEntry { return packet.RouteEntry{Hops: byte(id)} }
	segs := buildSegments([]int{1, 4}, lookup) // gap of 2 (ids 2,3) absorbed
	if len(segs) != 1 {
		t.Fatalf("expected one segment, got %d: %+v", len(segs), segs)
	}
	if len(segs[0].Entries) != 4 {
		t.Fatalf("expected 4 entries (1..4), got %d", len(segs[0].Entries))
	}
}

func TestBuildSegments_LargeGapStartsNewSegment(t *testing.T) {
	lookup := func(id int) packet.RouteEntry { return packet.RouteEntry{Hops: byte(id)} }
	segs := buildSegments([]int{1, 10}, lookup) // gap of 8 exceeds maxGap
	if len(segs) != 2 {
		t.Fatalf("expected two segments, got %d: %+v", len(segs), segs)
	}
}
