// Package circuit implements the point-to-point and LAN circuit state
// machines (spec §4.4, §4.5): initialization handshake with version
// negotiation, verification, restart handling, hello exchange,
// designated router election, and the previous-hop cache.
package circuit

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/kprusa/decnet/internal/adjacency"
	"github.com/kprusa/decnet/internal/datalink"
	"github.com/kprusa/decnet/internal/event"
	"github.com/kprusa/decnet/internal/packet"
	"github.com/kprusa/decnet/internal/timer"
	"github.com/kprusa/decnet/pkg/dnaddr"
)

// PtpState is one of the point-to-point circuit's states (spec §4.4).
type PtpState int

const (
	StateHA PtpState = iota
	StateDS
	StateRI
	StateRV
	StateRU
	StateReconn
	StateSD
)

func (s PtpState) String() string {
	switch s {
	case StateHA:
		return "HA"
	case StateDS:
		return "DS"
	case StateRI:
		return "RI"
	case StateRV:
		return "RV"
	case StateRU:
		return "RU"
	case StateReconn:
		return "Reconn"
	case StateSD:
		return "SD"
	default:
		return "?"
	}
}

// Port is the datalink-port contract a circuit consumes (spec §6).
type Port interface {
	Send(frame []byte) error
	Close() error
}

// PtpConfig bounds a point-to-point circuit's behavior.
type PtpConfig struct {
	Self         dnaddr.Address
	Phase        packet.InitKind // our own phase: InitPhase2/3/4
	NType        packet.NType
	BlkSize      uint16
	Verification []byte // nil/empty if not configured (not requested)
	HelloT3      time.Duration
	ListenT4     time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
}

// PtpCircuit is the point-to-point circuit state machine.
type PtpCircuit struct {
	Cfg    PtpConfig
	Port   Port
	Router adjacency.Router
	Events *event.Logger
	log    *logrus.Entry

	wheel       *timer.Wheel
	helloTimer  *timer.Timer
	backoff     *timer.Timer
	state       PtpState
	curBackoff  time.Duration
	peerPhase   packet.InitKind
	peerVerif   bool
	needVerify  bool
	adj         *adjacency.Adjacency
	pendingInit []byte

	// DataHandler receives decoded *packet.ShortData/*packet.LongData
	// frames; the node orchestrator wires this to the routing core's
	// Forward once both exist.
	DataHandler func(frame interface{})
}

// NewPtp creates a halted point-to-point circuit.
func NewPtp(cfg PtpConfig, port Port, router adjacency.Router, events *event.Logger, w *timer.Wheel, log *logrus.Entry) *PtpCircuit {
	c := &PtpCircuit{
		Cfg: cfg, Port: port, Router: router, Events: events,
		log: log.WithField("circuit", "ptp"), wheel: w, state: StateHA,
		curBackoff: cfg.MinBackoff,
	}
	c.helloTimer = timer.New(c)
	c.backoff = timer.New(c)
	return c
}

// AdjUp implements adjacency.Circuit.
func (c *PtpCircuit) AdjUp(a *adjacency.Adjacency) {
	c.log.Info("adjacency up")
}

// AdjDown implements adjacency.Circuit: any adjacency failure on a
// PtP circuit moves the state machine to Reconn (spec §4.4 RU exit).
func (c *PtpCircuit) AdjDown(a *adjacency.Adjacency, reason string) {
	if c.state == StateRU {
		c.toReconn()
	}
}

// AdjTimeout implements adjacency.Circuit.
func (c *PtpCircuit) AdjTimeout(a *adjacency.Adjacency) {
	c.AdjDown(a, "listener_timeout")
}

// Transmit implements adjacency.Circuit: a PtP link has one peer, so
// dst/mac are ignored.
func (c *PtpCircuit) Transmit(dst dnaddr.Address, mac [6]byte, frame []byte) error {
	return c.Port.Send(frame)
}

// Start transitions HA -> DS, per spec §4.4.
func (c *PtpCircuit) Start() {
	c.state = StateDS
}

// DlStatusUp handles the datalink-up work item: DS -> RI, sending our
// Init(s).
func (c *PtpCircuit) DlStatusUp() {
	if c.state != StateDS {
		return
	}
	c.state = StateRI
	c.sendInit()
}

func (c *PtpCircuit) sendInit() {
	switch c.Cfg.Phase {
	case packet.InitPhase4:
		init := &packet.PtpInit{
			Src: c.Cfg.Self, NType: c.Cfg.NType, Verif: len(c.Cfg.Verification) > 0,
			BlkSize: c.Cfg.BlkSize, TIVer: packet.TIVersion{Major: 2}, Timer: uint16(c.Cfg.HelloT3.Seconds()),
		}
		_ = c.Port.Send(init.Encode())
	case packet.InitPhase3:
		init := &packet.PtpInit3{
			Src: c.Cfg.Self, NType: c.Cfg.NType, BlkSize: c.Cfg.BlkSize, TIVer: packet.TIVersion{Major: 1},
		}
		_ = c.Port.Send(init.Encode())
	default:
		ni := &packet.NodeInit{SrcName: c.Cfg.Self.String(), BlkSize: c.Cfg.BlkSize, SWVer: packet.TIVersion{Major: 1}}
		_ = c.Port.Send(ni.Encode())
	}
}

// ReceiveInit handles an Init received in RI or RU (spec §4.4: in RU
// this is a remote restart). Peers newer than our own phase are
// ignored.
func (c *PtpCircuit) ReceiveInit(any *packet.AnyInit, peerAddr dnaddr.Address, raw []byte) error {
	if any.Kind > c.Cfg.Phase {
		return nil // peer is newer than us; ignored per spec §4.4
	}

	if c.state == StateRU {
		c.pendingInit = raw
		c.toReconn()
		return nil
	}
	if c.state != StateRI {
		return nil
	}

	c.peerPhase = any.Kind
	switch any.Kind {
	case packet.InitPhase3:
		// Phase III peer: in addition to our Phase IV Init already
		// sent, send a Phase III Init (no timer field).
		init3 := &packet.PtpInit3{Src: c.Cfg.Self, NType: c.Cfg.NType, BlkSize: c.Cfg.BlkSize, TIVer: packet.TIVersion{Major: 1}}
		if err := c.Port.Send(init3.Encode()); err != nil {
			return errors.Wrap(err, "ptp: send phase3 init")
		}
	case packet.InitPhase2:
		ni := &packet.NodeInit{SrcName: c.Cfg.Self.String(), BlkSize: c.Cfg.BlkSize, SWVer: packet.TIVersion{Major: 1}}
		if err := c.Port.Send(ni.Encode()); err != nil {
			return errors.Wrap(err, "ptp: send phase2 nodeinit")
		}
	}

	ntype := phaseNType(any)
	c.adj = adjacency.New(peerAddr, ntype, c, c.Router, c.wheel, c.Cfg.ListenT4, c.log)

	peerWantsVerif := peerRequestsVerif(any)
	if len(c.Cfg.Verification) > 0 || peerWantsVerif {
		c.needVerify = true
		c.state = StateRV
		return nil
	}
	c.toRU()
	return nil
}

// ReceiveVerify handles a verification message in RV.
func (c *PtpCircuit) ReceiveVerify(ok bool) {
	if c.state != StateRV {
		return
	}
	if !ok {
		c.Events.Log(event.New(event.ClassCirc, event.CodeVerRejected, nil))
		c.toReconn()
		return
	}
	c.toRU()
}

func (c *PtpCircuit) toRU() {
	c.state = StateRU
	c.curBackoff = c.Cfg.MinBackoff
	if c.adj != nil {
		c.adj.Up()
	}
	_ = c.wheel.Start(c.helloTimer, c.Cfg.HelloT3)
}

// toReconn enters the Reconn state with exponential backoff in
// [MinBackoff, MaxBackoff] (spec §4.4: "restart hold-off uses
// exponential backoff ... reset once RU is reached").
func (c *PtpCircuit) toReconn() {
	if c.adj != nil {
		c.adj.Down("circuit_restart")
	}
	c.wheel.Stop(c.helloTimer)
	c.state = StateReconn
	delay := c.curBackoff
	if delay > c.Cfg.MaxBackoff {
		delay = c.Cfg.MaxBackoff
	}
	jittered := delay + time.Duration(rand.Int63n(int64(delay/4+1)))
	if jittered > c.Cfg.MaxBackoff {
		jittered = c.Cfg.MaxBackoff
	}
	_ = c.wheel.Start(c.backoff, jittered)
	c.curBackoff *= 2
}

// Timeout implements timer.Owner for both the hello and backoff
// timers, distinguished by pointer identity.
func (c *PtpCircuit) Timeout(t *timer.Timer) {
	switch t {
	case c.helloTimer:
		c.sendHello()
		_ = c.wheel.Start(c.helloTimer, c.Cfg.HelloT3)
	case c.backoff:
		c.state = StateDS
		if c.pendingInit != nil {
			raw := c.pendingInit
			c.pendingInit = nil
			c.state = StateRI
			// "no start detection" workaround: replay the Init that
			// triggered the restart instead of waiting for a new one.
			if any, _, err := packet.DecodeInit(raw); err == nil {
				_ = c.ReceiveInit(any, peerAddrFromInit(any), raw)
				return
			}
		}
		c.DlStatusUp()
	}
}

func (c *PtpCircuit) sendHello() {
	hello := &packet.PtpHello{Src: c.Cfg.Self, TestData: packet.RepeatAA(128)}
	_ = c.Port.Send(hello.Encode())
}

// ReceiveHello validates testdata and keeps the adjacency alive.
func (c *PtpCircuit) ReceiveHello(h *packet.PtpHello) {
	if c.state != StateRU || c.adj == nil {
		return
	}
	if !packet.ValidTestData(h.TestData) {
		c.adj.Down("listener_invalid_data")
		return
	}
	_ = c.adj.Alive()
}

// Stop transitions to SD; datalink receive-thread exit then completes
// the transition to HA.
func (c *PtpCircuit) Stop() {
	if c.adj != nil {
		c.adj.Down("circuit_stop")
	}
	c.wheel.Stop(c.helloTimer)
	c.wheel.Stop(c.backoff)
	c.state = StateSD
}

// ReceiveThreadExited completes SD -> HA.
func (c *PtpCircuit) ReceiveThreadExited() {
	if c.state == StateSD {
		c.state = StateHA
	}
}

func (c *PtpCircuit) State() PtpState { return c.state }

// ReceiveFrame dispatches one inbound frame by its decoded type,
// ignoring srcMAC (a point-to-point link has exactly one peer). Data
// frames (ShortData/LongData) are handed to DataHandler if set; this
// circuit implements control-message handling only, per spec §4.4.
func (c *PtpCircuit) ReceiveFrame(srcMAC [6]byte, payload []byte) {
	msg, err := packet.DecodeRoutingLayerMessage(payload)
	if err != nil {
		c.log.WithError(err).Warn("ptp: frame decode failed")
		return
	}
	switch m := msg.(type) {
	case *packet.AnyInit:
		_ = c.ReceiveInit(m, peerAddrFromInit(m), payload)
	case *packet.PtpVerify:
		c.ReceiveVerify(len(c.Cfg.Verification) == 0 || string(m.Verification) == string(c.Cfg.Verification))
	case *packet.PtpHello:
		c.ReceiveHello(m)
	case *packet.ShortData, *packet.LongData:
		if c.DataHandler != nil {
			c.DataHandler(m)
		}
	}
}

// ReceiveStatus maps a datalink status transition onto the state
// machine's Start/DlStatusUp/Stop entry points.
func (c *PtpCircuit) ReceiveStatus(s datalink.Status) {
	if s == datalink.StatusUp {
		if c.state == StateHA {
			c.Start()
		}
		c.DlStatusUp()
		return
	}
	c.Stop()
}

// TransmitUpdate implements routing.Transmitter: a point-to-point
// circuit has exactly one peer, so level is informational only.
func (c *PtpCircuit) TransmitUpdate(level packet.RoutingLevel, frame []byte) error {
	return c.Port.Send(frame)
}

func phaseNType(any *packet.AnyInit) adjacency.NType {
	switch any.Kind {
	case packet.InitPhase2:
		return adjacency.NTypePhase2
	default:
		var nt packet.NType
		if any.Kind == packet.InitPhase3 {
			nt = any.Phase3.NType
		} else {
			nt = any.Phase4.NType
		}
		switch nt {
		case packet.NTypeL2Router:
			return adjacency.NTypeL2Router
		case packet.NTypeEndnode:
			return adjacency.NTypeEndnode
		default:
			return adjacency.NTypeL1Router
		}
	}
}

func peerRequestsVerif(any *packet.AnyInit) bool {
	return any.Kind == packet.InitPhase4 && any.Phase4.Verif
}

func peerAddrFromInit(any *packet.AnyInit) dnaddr.Address {
	switch any.Kind {
	case packet.InitPhase4:
		return any.Phase4.Src
	case packet.InitPhase3:
		return any.Phase3.Src
	default:
		return 0
	}
}
