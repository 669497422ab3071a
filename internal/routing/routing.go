// Package routing implements the decision and update processes: the
// per-neighbor hops/cost vectors, the minimum-path computation over
// them, L1/L2 update generation and reception, forwarding with visit
// counting and return-to-sender (spec §4.6).
package routing

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/kprusa/decnet/internal/adjacency"
	"github.com/kprusa/decnet/internal/event"
	"github.com/kprusa/decnet/internal/packet"
	"github.com/kprusa/decnet/pkg/dnaddr"
)

// Vector is one neighbor's claimed (hops, cost) to a destination id.
type Vector struct {
	Hops byte
	Cost uint16
}

// Route is the computed best path to a destination: the chosen
// (hops, cost) and the output adjacency, nil when unreachable.
type Route struct {
	Hops   byte
	Cost   uint16
	Oadj   *adjacency.Adjacency
	Endnode bool // true if this route is via the synthetic endnodes column
}

// Neighbor is the per-neighbor state the decision process needs: its
// adjacency plus its most recently received route vector.
type Neighbor struct {
	Adj     *adjacency.Adjacency
	Level   packet.RoutingLevel
	Vectors map[int]Vector // destination id -> claimed vector
}

// Config bounds the decision process, matching spec §4.6.
type Config struct {
	MaxHops   byte
	MaxCost   uint16
	MaxArea   int
	MaxVisits byte
}

// Counters are the per-node NICE-style drop counters spec's
// supplemented Node Info feature names.
type Counters struct {
	UnreachDrop uint32
	OorDrop     uint32
	AgedDrop    uint32
	RoutUpdLoss uint32
}

// Core holds the routing tables and update-process state for a
// router node. A single Core instance serves both L1 (intra-area)
// and, if attached, L2 (inter-area) levels.
type Core struct {
	Self   dnaddr.Address
	Cfg    Config
	Events *event.Logger
	log    *logrus.Entry

	neighbors map[dnaddr.Address]*Neighbor
	l1Routes  map[int]*Route // area-local ids, 1..MaxNodeID
	l2Routes  map[int]*Route // areas, 1..MaxArea
	endnodes  map[int]Vector // synthetic "endnodes" column, keyed by id

	srmL1 map[int]bool
	srmL2 map[int]bool

	Counters Counters
}

// NewCore creates an empty routing Core for self.
func NewCore(self dnaddr.Address, cfg Config, events *event.Logger, log *logrus.Entry) *Core {
	return &Core{
		Self: self, Cfg: cfg, Events: events, log: log,
		neighbors: make(map[dnaddr.Address]*Neighbor),
		l1Routes:  make(map[int]*Route),
		l2Routes:  make(map[int]*Route),
		endnodes:  make(map[int]Vector),
		srmL1:     make(map[int]bool),
		srmL2:     make(map[int]bool),
	}
}

// AdjacencyUp registers a, implementing adjacency.Router.
func (c *Core) AdjacencyUp(a *adjacency.Adjacency) {
	level := packet.LevelL1
	if a.NType == adjacency.NTypeL2Router {
		level = packet.LevelL2
	}
	c.neighbors[a.Addr] = &Neighbor{Adj: a, Level: level, Vectors: make(map[int]Vector)}
	c.recomputeAll()
}

// AdjacencyDown removes a's neighbor entry and its route vectors,
// implementing adjacency.Router.
func (c *Core) AdjacencyDown(a *adjacency.Adjacency) {
	delete(c.neighbors, a.Addr)
	c.recomputeAll()
}

// UpdateEndnode records a direct-attached endnode's reachability: an
// endnode is always one hop away at the configured endnode cost.
func (c *Core) UpdateEndnode(id int, cost uint16) {
	c.endnodes[id] = Vector{Hops: 1, Cost: cost}
	c.recomputeOne(id)
}

// ReceiveUpdate applies a decoded routing update from neighbor src,
// updating that neighbor's route vectors and recomputing affected
// destinations.
func (c *Core) ReceiveUpdate(src dnaddr.Address, msg interface{}) {
	n, ok := c.neighbors[src]
	if !ok {
		return
	}
	switch u := msg.(type) {
	case *packet.RoutingUpdate:
		for _, seg := range u.Segments {
			for i, e := range seg.Entries {
				id := int(seg.StartID) + i
				max := dnaddr.MaxNodeID
				if u.Level == packet.LevelL2 {
					max = dnaddr.MaxArea
				}
				if id < 1 || id > max {
					c.Counters.RoutUpdLoss++
					c.Events.Log(event.New(event.ClassRouting, event.CodeRoutUpdLoss,
						map[string]interface{}{"highest_address": id}))
					continue
				}
				n.Vectors[id] = Vector{Hops: e.Hops, Cost: e.Cost}
				c.recomputeOne(id)
			}
		}
	case *packet.Phase3Update:
		for i, e := range u.Entries {
			id := i + 1
			n.Vectors[id] = Vector{Hops: e.Hops, Cost: e.Cost}
			c.recomputeOne(id)
		}
	}
}

// recomputeAll recomputes every destination id known to any
// neighbor's vectors or the endnodes column.
func (c *Core) recomputeAll() {
	seen := make(map[int]bool)
	for _, n := range c.neighbors {
		for id := range n.Vectors {
			seen[id] = true
		}
	}
	for id := range c.endnodes {
		seen[id] = true
	}
	for id := range seen {
		c.recomputeOne(id)
	}
}

// recomputeOne implements the decision process for destination id
// (spec §4.6 step 1-4): pick the candidate minimizing (cost, -nodeid)
// among router adjacencies plus the synthetic endnodes column, apply
// the MaxHops/MaxCost reachability cutoff, log reach/area changes on
// output-adjacency transitions, and mark SRM on vector change.
func (c *Core) recomputeOne(id int) {
	type candidate struct {
		nodeID int
		vec    Vector
		adj    *adjacency.Adjacency
		endnode bool
	}
	var best *candidate
	for addr, n := range c.neighbors {
		v, ok := n.Vectors[id]
		if !ok {
			continue
		}
		cand := candidate{nodeID: addr.ID(), vec: v, adj: n.Adj}
		if best == nil || better(cand.vec, cand.nodeID, best.vec, best.nodeID) {
			cp := cand
			best = &cp
		}
	}
	if v, ok := c.endnodes[id]; ok {
		cand := candidate{nodeID: id, vec: v, endnode: true}
		if best == nil || better(cand.vec, cand.nodeID, best.vec, best.nodeID) {
			cp := cand
			best = &cp
		}
	}

	routes, srm, maxVal := c.tableFor(id)
	old := routes[id]

	var next *Route
	if best != nil && best.vec.Cost <= c.Cfg.MaxCost && best.vec.Hops <= c.Cfg.MaxHops {
		next = &Route{Hops: best.vec.Hops, Cost: best.vec.Cost, Oadj: best.adj, Endnode: best.endnode}
	}

	oldReachable := old != nil && old.Oadj != nil
	newReachable := next != nil && next.Oadj != nil
	if oldReachable != newReachable && !selfTransition(old, next) {
		code := event.CodeReachChg
		if maxVal == dnaddr.MaxArea {
			code = event.CodeAreaChg
		}
		c.Events.Log(event.New(event.ClassRouting, code, map[string]interface{}{"id": id}))
	}

	changed := old == nil || next == nil || old.Hops != next.Hops || old.Cost != next.Cost
	if changed {
		srm[id] = true
	}
	routes[id] = next
}

func selfTransition(old, next *Route) bool {
	return (old == nil && next != nil && next.Oadj == nil) ||
		(next == nil && old != nil && old.Oadj == nil)
}

// better reports whether (va, ida) beats (vb, idb): lower cost wins;
// ties broken by higher node-id (spec §4.6 step 1).
func better(va Vector, ida int, vb Vector, idb int) bool {
	if va.Cost != vb.Cost {
		return va.Cost < vb.Cost
	}
	return ida > idb
}

func (c *Core) tableFor(id int) (map[int]*Route, map[int]bool, int) {
	if id > dnaddr.MaxNodeID {
		return c.l2Routes, c.srmL2, dnaddr.MaxArea
	}
	return c.l1Routes, c.srmL1, dnaddr.MaxNodeID
}

// Attached reports whether this L2 router has any reachable area
// other than its own (spec §4.6 "L2 attached flag").
func (c *Core) Attached() bool {
	for area, r := range c.l2Routes {
		if area != c.Self.Area() && r != nil && r.Oadj != nil {
			return true
		}
	}
	return false
}

// DrainSRM returns and clears the set of L1 (or L2) destination ids
// marked for advertisement since the last drain.
func (c *Core) DrainSRM(level packet.RoutingLevel) []int {
	srm := c.srmL1
	if level == packet.LevelL2 {
		srm = c.srmL2
	}
	ids := make([]int, 0, len(srm))
	for id := range srm {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for id := range srm {
		delete(srm, id)
	}
	return ids
}

// Lookup returns the current route to destination id, or nil if
// unreachable.
func (c *Core) Lookup(id int) *Route {
	routes, _, _ := c.tableFor(id)
	return routes[id]
}
