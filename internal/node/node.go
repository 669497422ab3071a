// Package node implements the orchestrator that owns a DECnet node's
// shared resources (the timer wheel, the work queue, the node
// database) and drives its component lifecycle, adapting the
// tick-driven single-consumer event loop shape used for serialized
// message handling (spec §4.1, §4.9).
package node

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kprusa/decnet/internal/datalink"
	"github.com/kprusa/decnet/internal/event"
	"github.com/kprusa/decnet/internal/mop"
	"github.com/kprusa/decnet/internal/packet"
	"github.com/kprusa/decnet/internal/routing"
	"github.com/kprusa/decnet/internal/timer"
	"github.com/kprusa/decnet/pkg/dnaddr"
)

// WorkItem is one unit of serialized work dispatched on the node's
// own goroutine: a received frame, a timer firing, or a datalink
// status change all arrive this way so no two events are ever handled
// concurrently (spec §4.1: "all node-level mutable state is touched
// from exactly one goroutine").
type WorkItem interface {
	Dispatch(n *Node)
}

// frameWork delivers a datalink.Received to its named circuit.
type frameWork struct{ r datalink.Received }

func (w frameWork) Dispatch(n *Node) {
	n.mu.RLock()
	h, ok := n.circuits[w.r.Circuit]
	n.mu.RUnlock()
	if ok {
		h.ReceiveFrame(w.r.SrcMAC, w.r.Payload)
	}
}

// statusWork delivers a datalink.DlStatus to its named circuit.
type statusWork struct{ s datalink.DlStatus }

func (w statusWork) Dispatch(n *Node) {
	n.mu.RLock()
	h, ok := n.circuits[w.s.Circuit]
	n.mu.RUnlock()
	if ok {
		h.ReceiveStatus(w.s.Status)
	}
}

// timerWork delivers an expired timer.Timer to its owner.
type timerWork struct{ e timer.Expired }

func (w timerWork) Dispatch(n *Node) {
	w.e.Owner.Timeout(w.e.Timer)
}

// CircuitHandle is the subset of a circuit's contract the orchestrator
// needs to route work items without importing the circuit package's
// concrete PtP/LAN types (avoiding an import cycle: circuit already
// depends on adjacency/routing, which would otherwise depend back on
// node).
type CircuitHandle interface {
	ReceiveFrame(srcMAC [6]byte, payload []byte)
	ReceiveStatus(s datalink.Status)
	Start()
	Stop()
}

// Info is one entry in the node database (spec §3 Node Info): the
// known facts about a node, local or remote.
type Info struct {
	Addr      dnaddr.Address
	Name      string
	Reachable bool
	Hops      int
	Cost      int
}

// Metrics is the set of Prometheus collectors the orchestrator
// registers on behalf of its components (registration only; spec §1
// excludes exposition).
type Metrics struct {
	FramesIn  prometheus.Counter
	FramesOut prometheus.Counter
	Circuits  prometheus.Gauge
}

func newMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FramesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_received_total",
		}),
		FramesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_sent_total",
		}),
		Circuits: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "circuits_up",
		}),
	}
	reg.MustRegister(m.FramesIn, m.FramesOut, m.Circuits)
	return m
}

// Node is the orchestrator: it owns the timer wheel, the node
// database, every configured circuit and the MOP/routing engines
// riding on them, and the single goroutine that serializes all of
// their events.
type Node struct {
	Self    dnaddr.Address
	Events  *event.Logger
	Routing *routing.Core
	Wheel   *timer.Wheel
	metrics *Metrics
	log     *logrus.Entry

	mu       sync.RWMutex
	circuits map[string]CircuitHandle
	ports    *datalink.Registry
	mopByCircuit map[string]*mop.Engine
	db       map[dnaddr.Address]Info

	work chan WorkItem
}

// New creates a Node. Components register themselves via
// AddCircuit/AddMOP before Run is called.
func New(self dnaddr.Address, events *event.Logger, core *routing.Core, wheel *timer.Wheel, reg prometheus.Registerer, namespace string, log *logrus.Entry) *Node {
	return &Node{
		Self: self, Events: events, Routing: core, Wheel: wheel,
		metrics: newMetrics(namespace, reg),
		log:     log.WithField("component", "node"),
		circuits: make(map[string]CircuitHandle),
		ports:    datalink.NewRegistry(log),
		mopByCircuit: make(map[string]*mop.Engine),
		db:       make(map[dnaddr.Address]Info),
		work:     make(chan WorkItem, 256),
	}
}

// AddCircuit registers a circuit and its datalink Port under name.
func (n *Node) AddCircuit(name string, h CircuitHandle, port datalink.Port) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.circuits[name] = h
	n.ports.Add(name, port)
}

// AddMOP registers a MOP engine sharing this node's receipt
// generator, keyed by the circuit it rides on.
func (n *Node) AddMOP(circuit string, e *mop.Engine) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mopByCircuit[circuit] = e
}

// UpdateInfo merges a node database entry (spec §3 Node Info).
func (n *Node) UpdateInfo(i Info) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.db[i.Addr] = i
}

// Lookup returns a node database entry.
func (n *Node) Lookup(addr dnaddr.Address) (Info, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	i, ok := n.db[addr]
	return i, ok
}

// Post enqueues a WorkItem for the orchestrator's single consumer
// goroutine. Safe to call from any goroutine (datalink readers, the
// timer wheel).
func (n *Node) Post(w WorkItem) {
	select {
	case n.work <- w:
	default:
		n.log.Warn("node: work queue full, dropping item")
	}
}

// PostFrame and PostStatus adapt datalink events into WorkItems; a
// caller draining a datalink.Port's receive channel posts through
// these rather than constructing frameWork/statusWork directly.
func (n *Node) PostFrame(r datalink.Received) { n.Post(frameWork{r}) }
func (n *Node) PostStatus(s datalink.DlStatus) { n.Post(statusWork{s}) }

// Run starts every registered circuit (spec §4.9's ordered component
// lifecycle: event_logger, datalink, mop, routing all already exist by
// construction time; this starts the circuits and MOP engines that sit
// on top of them) and then serializes work items, including expired
// timers, until ctx is cancelled.
func (n *Node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	n.mu.RLock()
	circuits := make([]CircuitHandle, 0, len(n.circuits))
	for _, h := range n.circuits {
		circuits = append(circuits, h)
	}
	engines := make([]*mop.Engine, 0, len(n.mopByCircuit))
	for _, e := range n.mopByCircuit {
		engines = append(engines, e)
	}
	n.mu.RUnlock()

	for _, h := range circuits {
		h.Start()
	}
	for _, e := range engines {
		e.Start()
	}
	n.metrics.Circuits.Set(float64(len(circuits)))

	g.Go(func() error {
		return n.loop(gctx)
	})

	<-gctx.Done()
	for _, h := range circuits {
		h.Stop()
	}
	for _, e := range engines {
		e.Stop()
	}
	n.ports.CloseAll()
	return g.Wait()
}

func (n *Node) loop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case exp := <-n.Wheel.Expired():
			n.Post(timerWork{exp})
		case w := <-n.work:
			w.Dispatch(n)
		}
	}
}

// ForwardData converts a decoded *packet.ShortData/*packet.LongData
// frame into the routing core's circuit-agnostic Frame and applies
// its forwarding decision (spec §4.6): a frame for this node is only
// logged at debug level, a forwarded or bounced frame goes out the
// chosen adjacency, and anything else is dropped. A circuit's DataHandler is wired to this.
func (n *Node) ForwardData(raw interface{}) {
	var f routing.Frame
	switch m := raw.(type) {
	case *packet.ShortData:
		f = routing.Frame{Dst: m.Dst, Src: m.Src, Visit: m.Visit, RQR: m.RQR, RTS: m.RTS, Payload: m.Payload}
	case *packet.LongData:
		f = routing.Frame{Dst: m.Dst, Src: m.Src, Visit: m.Visit, Payload: m.Payload}
	default:
		return
	}

	n.metrics.FramesIn.Inc()
	d := n.Routing.Forward(f, nil)
	switch d.Outcome {
	case routing.OutcomeDeliverLocal:
		n.log.WithField("src", d.Frame.Src.String()).Debug("node: delivered local data frame")
	case routing.OutcomeForward, routing.OutcomeBounce:
		if d.Route == nil || d.Route.Oadj == nil {
			return
		}
		if err := d.Route.Oadj.Send(d.Frame.Dst, d.Frame.Src, d.Frame.Visit, d.Frame.Payload, d.Route.Oadj.IsLAN); err != nil {
			n.log.WithError(err).Warn("node: forward failed")
			return
		}
		n.metrics.FramesOut.Inc()
	}
}

// Tick is exposed for deterministic tests that want to drain exactly
// one pending work item without running Run's goroutine.
func (n *Node) Tick(timeout time.Duration) bool {
	select {
	case w := <-n.work:
		w.Dispatch(n)
		return true
	case exp := <-n.Wheel.Expired():
		timerWork{exp}.Dispatch(n)
		return true
	case <-time.After(timeout):
		return false
	}
}
