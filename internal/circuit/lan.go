package circuit

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kprusa/decnet/internal/adjacency"
	"github.com/kprusa/decnet/internal/datalink"
	"github.com/kprusa/decnet/internal/event"
	"github.com/kprusa/decnet/internal/packet"
	"github.com/kprusa/decnet/internal/timer"
	"github.com/kprusa/decnet/pkg/dnaddr"
)

// LanPort is the broadcast-datalink contract a LAN circuit consumes
// (spec §6): send to a specific destination MAC, or to the
// All-Routers/All-Endnodes multicast groups this circuit joined.
type LanPort interface {
	Send(dst [6]byte, frame []byte) error
	SendMulticast(frame []byte) error
	MAC() [6]byte
}

// AllRoutersMulticast and AllEndnodesMulticast are the two Ethernet
// multicast addresses DECnet LAN hellos target.
var (
	AllRoutersMulticast  = [6]byte{0x09, 0x00, 0x2B, 0x02, 0x00, 0x05}
	AllEndnodesMulticast = [6]byte{0x09, 0x00, 0x2B, 0x00, 0x00, 0x04}
)

// prevHopEntry is one previous-hop cache row: the MAC the node most
// recently heard srcnode from, with a 60s TTL (spec §4.5).
type prevHopEntry struct {
	mac     [6]byte
	expires time.Time
}

// LanConfig bounds a LAN circuit's behavior.
type LanConfig struct {
	Self    dnaddr.Address
	IsRouter bool
	NR      int // max routers tracked (router variant)
	Prio    byte
	BlkSize uint16
	HelloT3 time.Duration
	T2      time.Duration // minimum interval between triggered hellos
	DRDelay time.Duration
	ListenT4 time.Duration
}

// routerEntry is a known router heard via RouterHello (router
// variant's E-list bookkeeping and DR election).
type routerEntry struct {
	adj    *adjacency.Adjacency
	prio   byte
	twoWay bool
}

// LanCircuit implements both the endnode and router LAN flavours
// (spec §4.5); which operations apply is gated by Cfg.IsRouter.
type LanCircuit struct {
	Cfg    LanConfig
	Port   LanPort
	Router adjacency.Router
	Events *event.Logger
	log    *logrus.Entry
	wheel  *timer.Wheel

	helloTimer *timer.Timer
	drTimer    *timer.Timer
	lastHello  time.Time

	// endnode state
	dr dnaddr.Address

	// router state
	routers map[dnaddr.Address]*routerEntry
	adjs    map[dnaddr.Address]*adjacency.Adjacency // endnode adjacencies
	isDR    bool

	prevHop map[dnaddr.Address]prevHopEntry

	// DataHandler receives decoded *packet.ShortData/*packet.LongData
	// frames; the node orchestrator wires this to the routing core's
	// Forward once both exist.
	DataHandler func(frame interface{})
}

// NewLan creates a LAN circuit.
func NewLan(cfg LanConfig, port LanPort, router adjacency.Router, events *event.Logger, w *timer.Wheel, log *logrus.Entry) *LanCircuit {
	c := &LanCircuit{
		Cfg: cfg, Port: port, Router: router, Events: events,
		log: log.WithField("circuit", "lan"), wheel: w,
		routers: make(map[dnaddr.Address]*routerEntry),
		adjs:    make(map[dnaddr.Address]*adjacency.Adjacency),
		prevHop: make(map[dnaddr.Address]prevHopEntry),
	}
	c.helloTimer = timer.New(c)
	c.drTimer = timer.New(c)
	return c
}

// Start arms the periodic hello timer.
func (c *LanCircuit) Start() {
	_ = c.wheel.Start(c.helloTimer, c.Cfg.HelloT3)
	c.sendHello()
}

// Stop sends two empty-E-list router hellos ~100ms apart (router
// variant only) so peers fast-fail us, then disarms timers.
func (c *LanCircuit) Stop() {
	c.wheel.Stop(c.helloTimer)
	c.wheel.Stop(c.drTimer)
	if !c.Cfg.IsRouter {
		return
	}
	empty := &packet.RouterHello{
		TIVer: packet.TIVersion{Major: 2}, MAC: c.Port.MAC(), ID: uint16(c.Cfg.Self.ID()),
		NType: lanNType(c.Cfg), BlkSize: c.Cfg.BlkSize, Prio: c.Cfg.Prio, Timer: uint16(c.Cfg.HelloT3.Seconds()),
	}
	_ = c.Port.SendMulticast(empty.Encode())
	time.Sleep(100 * time.Millisecond)
	_ = c.Port.SendMulticast(empty.Encode())
}

// Timeout implements timer.Owner for both the periodic hello timer
// and the DR hold-off timer.
func (c *LanCircuit) Timeout(t *timer.Timer) {
	switch t {
	case c.helloTimer:
		c.sendHello()
		_ = c.wheel.Start(c.helloTimer, c.Cfg.HelloT3)
	case c.drTimer:
		c.electDR()
	}
}

func (c *LanCircuit) sendHello() {
	c.lastHello = timeNow()
	if c.Cfg.IsRouter {
		c.sendRouterHello()
		return
	}
	hello := &packet.EndnodeHello{
		TIVer: packet.TIVersion{Major: 2}, MAC: c.Port.MAC(), ID: uint16(c.Cfg.Self.ID()),
		BlkSize: c.Cfg.BlkSize, NeighborMAC: c.dr.MAC(), Timer: uint16(c.Cfg.HelloT3.Seconds()),
		TestData: packet.RepeatAA(128),
	}
	_ = c.Port.SendMulticast(hello.Encode())
}

func (c *LanCircuit) sendRouterHello() {
	elist := make([]packet.RSEntry, 0, len(c.routers))
	for addr, r := range c.routers {
		elist = append(elist, packet.RSEntry{MAC: addr.MAC(), ID: uint16(addr.ID()), Priority: r.prio & 0x7F, TwoWay: r.twoWay})
	}
	hello := &packet.RouterHello{
		TIVer: packet.TIVersion{Major: 2}, MAC: c.Port.MAC(), ID: uint16(c.Cfg.Self.ID()),
		NType: lanNType(c.Cfg), BlkSize: c.Cfg.BlkSize, Prio: c.Cfg.Prio,
		Timer: uint16(c.Cfg.HelloT3.Seconds()), EList: elist,
	}
	_ = c.Port.SendMulticast(hello.Encode())
}

// triggerHello schedules (or sends immediately if T2 has elapsed) a
// hello reflecting a change to our advertised E-list.
func (c *LanCircuit) triggerHello() {
	elapsed := timeNow().Sub(c.lastHello)
	if elapsed >= c.Cfg.T2 {
		c.sendHello()
		return
	}
	_ = c.wheel.Start(c.helloTimer, c.Cfg.T2-elapsed)
}

// ReceiveRouterHello implements the router variant's hello handling:
// E-list-based two-way promotion, admission with NR eviction, and
// DR re-election triggers.
func (c *LanCircuit) ReceiveRouterHello(h *packet.RouterHello) {
	peer := srcAddrOf(h.MAC, h.ID)
	twoWay := elistNamesUs(h.EList, c.Cfg.Self, c.Cfg.Prio)

	r, known := c.routers[peer]
	if !known {
		if len(c.routers) >= c.Cfg.NR {
			if !c.admitOverEviction(peer, h.Prio) {
				return // candidate itself is the minimum; rejected
			}
		}
		adj := adjacency.New(peer, routerNType(h.NType), c, c.Router, c.wheel, c.Cfg.ListenT4, c.log)
		adj.MAC, adj.HasMAC = h.MAC, true
		adj.Priority = h.Prio
		adj.IsLAN = true
		r = &routerEntry{adj: adj, prio: h.Prio}
		c.routers[peer] = r
	}
	r.prio = h.Prio
	wasTwoWay := r.twoWay
	r.twoWay = twoWay
	_ = r.adj.Alive()

	if twoWay && !wasTwoWay {
		r.adj.Up()
		c.triggerHello()
	} else if !twoWay && wasTwoWay {
		r.adj.Down("dropped")
		c.triggerHello()
	}

	c.scheduleElection()
}

// admitOverEviction enforces the NR admission policy: evict the
// lowest (priority, node-id) to make room, unless the candidate
// itself would be the new minimum, in which case it is rejected.
func (c *LanCircuit) admitOverEviction(candidate dnaddr.Address, candidatePrio byte) bool {
	var lowestAddr dnaddr.Address
	var lowestPrio byte = 0xFF
	first := true
	for addr, r := range c.routers {
		if first || less(r.prio, addr, lowestPrio, lowestAddr) {
			lowestAddr, lowestPrio, first = addr, r.prio, false
		}
	}
	if less(candidatePrio, candidate, lowestPrio, lowestAddr) {
		return false
	}
	if adj := c.routers[lowestAddr]; adj != nil {
		adj.adj.Down("dropped")
	}
	delete(c.routers, lowestAddr)
	return true
}

// less reports whether (pa, aa) ranks lower than (pb, ab): lower
// priority loses; ties broken by lower node-id losing.
func less(pa byte, aa dnaddr.Address, pb byte, ab dnaddr.Address) bool {
	if pa != pb {
		return pa < pb
	}
	return aa.ID() < ab.ID()
}

// scheduleElection arms the DR hold-off timer if not already armed;
// re-election is evaluated when it fires.
func (c *LanCircuit) scheduleElection() {
	if !c.drTimer.Armed() {
		_ = c.wheel.Start(c.drTimer, c.Cfg.DRDelay)
	}
}

// electDR picks the highest (priority, node-id) among known two-way
// routers plus self.
func (c *LanCircuit) electDR() {
	best := candidateRank{addr: c.Cfg.Self, prio: c.Cfg.Prio}
	for addr, r := range c.routers {
		if !r.twoWay {
			continue
		}
		cand := candidateRank{addr: addr, prio: r.prio}
		if cand.beats(best) {
			best = cand
		}
	}
	c.isDR = best.addr == c.Cfg.Self
}

type candidateRank struct {
	addr dnaddr.Address
	prio byte
}

func (a candidateRank) beats(b candidateRank) bool {
	if a.prio != b.prio {
		return a.prio > b.prio
	}
	return a.addr.ID() > b.addr.ID()
}

// ReceiveEndnodeHello implements the router variant's endnode
// adjacency admission: created on first valid hello; invalid testdata
// removes it.
func (c *LanCircuit) ReceiveEndnodeHello(h *packet.EndnodeHello) {
	peer := srcAddrOf(h.MAC, h.ID)
	if !packet.ValidTestData(h.TestData) {
		if a, ok := c.adjs[peer]; ok {
			a.Down("listener_invalid_data")
		}
		return
	}
	a, ok := c.adjs[peer]
	if !ok {
		a = adjacency.New(peer, adjacency.NTypeEndnode, c, c.Router, c.wheel, c.Cfg.ListenT4, c.log)
		a.MAC, a.HasMAC = h.MAC, true
		a.IsLAN = true
		c.adjs[peer] = a
		a.Up()
		return
	}
	_ = a.Alive()
}

// ReceiveRouterHelloAsEndnode implements the endnode variant's DR
// tracking: update on any in-area RouterHello; changing DR does not
// itself send a hello.
func (c *LanCircuit) ReceiveRouterHelloAsEndnode(h *packet.RouterHello) {
	peer := srcAddrOf(h.MAC, h.ID)
	if peer.Area() != c.Cfg.Self.Area() {
		return
	}
	c.dr = peer
}

// NotePrevHop records the source MAC of a frame addressed to self
// (spec §4.5 previous-hop cache).
func (c *LanCircuit) NotePrevHop(src dnaddr.Address, mac [6]byte) {
	c.prevHop[src] = prevHopEntry{mac: mac, expires: timeNow().Add(60 * time.Second)}
}

// OutputMAC resolves the destination MAC for dst: the cached
// previous hop if known and fresh, else the DR. tryHard clears any
// cached entry for dst first, forcing a fall back to the DR.
func (c *LanCircuit) OutputMAC(dst dnaddr.Address, tryHard bool) [6]byte {
	if tryHard {
		delete(c.prevHop, dst)
	}
	if e, ok := c.prevHop[dst]; ok && timeNow().Before(e.expires) {
		return e.mac
	}
	if c.dr != 0 {
		return c.dr.MAC()
	}
	return dst.MAC()
}

// AdjUp implements adjacency.Circuit.
func (c *LanCircuit) AdjUp(a *adjacency.Adjacency) {}

// AdjDown implements adjacency.Circuit: remove the neighbor from
// whichever table it came from.
func (c *LanCircuit) AdjDown(a *adjacency.Adjacency, reason string) {
	delete(c.adjs, a.Addr)
	if r, ok := c.routers[a.Addr]; ok && r.adj == a {
		delete(c.routers, a.Addr)
		c.scheduleElection()
	}
}

// AdjTimeout implements adjacency.Circuit.
func (c *LanCircuit) AdjTimeout(a *adjacency.Adjacency) {
	c.AdjDown(a, "listener_timeout")
}

// Transmit implements adjacency.Circuit.
func (c *LanCircuit) Transmit(dst dnaddr.Address, mac [6]byte, frame []byte) error {
	return c.Port.Send(mac, frame)
}

func srcAddrOf(mac [6]byte, id uint16) dnaddr.Address {
	if a, ok := dnaddr.FromMAC(mac); ok {
		return a
	}
	return dnaddr.Address(id)
}

func elistNamesUs(elist []packet.RSEntry, self dnaddr.Address, prio byte) bool {
	for _, e := range elist {
		if a, ok := dnaddr.FromMAC(e.MAC); ok && a == self {
			return e.TwoWay && e.Priority == prio&0x7F
		}
	}
	return false
}

func routerNType(nt packet.NType) adjacency.NType {
	switch nt {
	case packet.NTypeL2Router:
		return adjacency.NTypeL2Router
	default:
		return adjacency.NTypeL1Router
	}
}

func lanNType(cfg LanConfig) packet.NType {
	if !cfg.IsRouter {
		return packet.NTypeEndnode
	}
	return packet.NTypeL1Router
}

func timeNow() time.Time {
	return time.Now()
}

// IsDR reports whether this router is currently the elected
// Designated Router for the circuit.
func (c *LanCircuit) IsDR() bool {
	return c.isDR
}

// ReceiveFrame dispatches one inbound frame by its decoded type.
// RouterHello/EndnodeHello are routed to the router or endnode
// handling depending on Cfg.IsRouter; data frames are handed to
// DataHandler if set.
func (c *LanCircuit) ReceiveFrame(srcMAC [6]byte, payload []byte) {
	msg, err := packet.DecodeRoutingLayerMessage(payload)
	if err != nil {
		c.log.WithError(err).Warn("lan: frame decode failed")
		return
	}
	switch m := msg.(type) {
	case *packet.RouterHello:
		if c.Cfg.IsRouter {
			c.ReceiveRouterHello(m)
		} else {
			c.ReceiveRouterHelloAsEndnode(m)
		}
	case *packet.EndnodeHello:
		if c.Cfg.IsRouter {
			c.ReceiveEndnodeHello(m)
		}
	case *packet.ShortData, *packet.LongData:
		if c.DataHandler != nil {
			c.DataHandler(m)
		}
	}
}

// ReceiveStatus maps a datalink status transition onto Start/Stop.
func (c *LanCircuit) ReceiveStatus(s datalink.Status) {
	if s == datalink.StatusUp {
		c.Start()
		return
	}
	c.Stop()
}

// TransmitUpdate implements routing.Transmitter: LAN routing messages
// go out to the circuit-wide multicast group.
func (c *LanCircuit) TransmitUpdate(level packet.RoutingLevel, frame []byte) error {
	return c.Port.SendMulticast(frame)
}
