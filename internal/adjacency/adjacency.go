// Package adjacency tracks per-neighbor protocol state on a circuit:
// the record of a known neighbor, its listen timer, and the wrapping
// rules send() applies before a circuit puts a packet on the wire.
package adjacency

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kprusa/decnet/internal/packet"
	"github.com/kprusa/decnet/internal/timer"
	"github.com/kprusa/decnet/pkg/dnaddr"
)

// State is an adjacency's lifecycle state.
type State int

const (
	Init State = iota
	Up
)

func (s State) String() string {
	if s == Up {
		return "up"
	}
	return "init"
}

// NType is the neighbor's claimed node type, shared with the packet
// codec's PtP NType plus a Phase II marker.
type NType int

const (
	NTypeL2Router NType = iota
	NTypeL1Router
	NTypeEndnode
	NTypePhase2
)

// Circuit is the owning circuit's side of the up/down/send contract.
// circuit implementations (PtP, LAN) satisfy this.
type Circuit interface {
	// AdjUp is called when an adjacency transitions to Up.
	AdjUp(a *Adjacency)
	// AdjDown is called when an adjacency transitions away from Up.
	AdjDown(a *Adjacency, reason string)
	// AdjTimeout is called by the adjacency itself when its listen
	// timer expires, after it has already taken itself down.
	AdjTimeout(a *Adjacency)
	// Transmit puts a fully-prepared frame on the wire for dst.
	Transmit(dst dnaddr.Address, mac [6]byte, frame []byte) error
}

// Router notifies the routing core of adjacency lifecycle changes.
type Router interface {
	AdjacencyUp(a *Adjacency)
	AdjacencyDown(a *Adjacency)
}

// Adjacency is a record of a known neighbor on a circuit (spec §4.3).
type Adjacency struct {
	Addr     dnaddr.Address
	MAC      [6]byte
	HasMAC   bool
	NType    NType
	BlkSize  uint16
	Priority byte
	TIVer    packet.TIVersion
	State    State
	IsLAN    bool // true if this adjacency lives on a LAN circuit (forces LongData wrapping)

	circuit   Circuit
	router    Router
	listen    *timer.Timer
	wheel     *timer.Wheel
	listenDur time.Duration // T4; zero disables the timer (Phase II)
	log       *logrus.Entry
	downCount uint32
}

// New creates an Init-state adjacency for addr on circuit c, whose
// listen timer (when armed by up()) will run on wheel w.
func New(addr dnaddr.Address, ntype NType, c Circuit, r Router, w *timer.Wheel, listenDur time.Duration, log *logrus.Entry) *Adjacency {
	a := &Adjacency{
		Addr: addr, NType: ntype, State: Init,
		circuit: c, router: r, wheel: w, listenDur: listenDur,
		log: log.WithField("adjacency", addr.String()),
	}
	a.listen = timer.New(a)
	return a
}

// Timeout implements timer.Owner: the listen timer fired.
func (a *Adjacency) Timeout(t *timer.Timer) {
	a.log.Warn("adjacency listen timer expired")
	a.Down("listener_timeout")
	a.circuit.AdjTimeout(a)
}

// Up transitions the adjacency to Up: starts the listen timer (unless
// Phase II, which has no listen timer) and notifies routing.
func (a *Adjacency) Up() {
	if a.State == Up {
		return
	}
	a.State = Up
	if a.NType != NTypePhase2 && a.listenDur > 0 {
		if err := a.wheel.Start(a.listen, a.listenDur); err != nil {
			a.log.WithError(err).Error("failed to arm listen timer")
		}
	}
	a.log.Info("adjacency up")
	if a.router != nil {
		a.router.AdjacencyUp(a)
	}
	a.circuit.AdjUp(a)
}

// Down transitions the adjacency away from Up: stops the listen
// timer, notifies routing, and increments the down counter.
func (a *Adjacency) Down(reason string) {
	wasUp := a.State == Up
	a.State = Init
	a.downCount++
	if a.listen.Armed() {
		a.wheel.Stop(a.listen)
	}
	if wasUp {
		a.log.WithField("reason", reason).Info("adjacency down")
		if a.router != nil {
			a.router.AdjacencyDown(a)
		}
		a.circuit.AdjDown(a, reason)
	}
}

// Alive restarts the listen timer; called whenever traffic
// (hello, data, any valid packet) is received from this neighbor.
func (a *Adjacency) Alive() error {
	if a.NType == NTypePhase2 || a.listenDur == 0 {
		return nil
	}
	if a.listen.Armed() {
		a.wheel.Stop(a.listen)
	}
	if err := a.wheel.Start(a.listen, a.listenDur); err != nil {
		return errors.Wrap(err, "adjacency: restart listen timer")
	}
	return nil
}

// Send delegates to the circuit, applying the wrapping rules spec
// §4.3 assigns to the adjacency: LAN adjacencies wrap ShortData into
// LongData; Phase III PtP peers get area-stripped short addresses;
// Phase II peers get a bare NSP payload.
func (a *Adjacency) Send(dst dnaddr.Address, src dnaddr.Address, visit byte, payload []byte, isLAN bool) error {
	switch {
	case a.NType == NTypePhase2:
		return a.circuit.Transmit(dst, a.MAC, payload)
	case isLAN:
		ld := &packet.LongData{Dst: dst, Src: src, Visit: visit, Payload: payload}
		return a.circuit.Transmit(dst, a.MAC, ld.Encode())
	case a.TIVer.Major == 1:
		sd := &packet.ShortData{Dst: dnaddr.Address(dst.Short()), Src: dnaddr.Address(src.Short()), Visit: visit, Payload: payload}
		return a.circuit.Transmit(dst, a.MAC, sd.Encode())
	default:
		sd := &packet.ShortData{Dst: dst, Src: src, Visit: visit, Payload: payload}
		return a.circuit.Transmit(dst, a.MAC, sd.Encode())
	}
}

// DownCount returns the number of times this adjacency has gone down,
// the NICE-style per-adjacency counter spec.md's supplemented Node
// Info feature names.
func (a *Adjacency) DownCount() uint32 {
	return a.downCount
}
