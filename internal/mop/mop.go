// Package mop implements the MOP Engine (spec §4.8): SysId
// broadcast/collect, the loop protocol, counters exchange, and the
// console carrier client/server state machines, all riding on a
// shared LAN datalink port.
package mop

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kprusa/decnet/internal/event"
	"github.com/kprusa/decnet/internal/packet"
	"github.com/kprusa/decnet/internal/timer"
	"github.com/kprusa/decnet/pkg/dnaddr"
)

// Port is the shared MOP-Console datalink contract.
type Port interface {
	Send(dst [6]byte, frame []byte) error
	SendMulticast(frame []byte) error
	MAC() [6]byte
}

// ReceiptGenerator draws 16-bit receipt numbers that skip 0,
// explicitly lock-guarded (spec §5: "shared resource... consumed from
// API worker threads and the main thread").
type ReceiptGenerator struct {
	mu   sync.Mutex
	next uint16
}

// Next returns the next receipt number, never 0.
func (g *ReceiptGenerator) Next() uint16 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	if g.next == 0 {
		g.next = 1
	}
	return g.next
}

// pendingRequest correlates a sent request by receipt number to the
// caller waiting for its reply (SysId, Counters, or LoopReply); the
// receipt number itself, the pending map's key, is the correlation
// key, so this holds nothing beyond the reply channel.
type pendingRequest struct {
	result chan interface{}
}

// HeardNode is one entry in the heard-nodes map maintained from
// unsolicited/collected SysId messages.
type HeardNode struct {
	Addr    dnaddr.Address
	MAC     [6]byte
	Version packet.TIVersion
	Heard   time.Time
}

// Config bounds one MOP-capable circuit's engine instance.
type Config struct {
	Self             dnaddr.Address
	Services         byte
	ConsoleVerif     []byte // our configured console verification, nil disables the server
	ConsoleCmdSz     uint16
	SysIdMinInterval time.Duration // 8 minutes
	SysIdMaxInterval time.Duration // 12 minutes
}

// Engine is one LAN circuit's MOP engine instance.
type Engine struct {
	Cfg     Config
	Port    Port
	Events  *event.Logger
	log     *logrus.Entry
	wheel   *timer.Wheel
	sysIDTimer *timer.Timer
	receipts *ReceiptGenerator

	mu       sync.Mutex
	pending  map[uint16]*pendingRequest
	heard    map[dnaddr.Address]HeardNode
	carriers map[[6]byte]*ConsoleServerSession
	clients  map[[6]byte]*ConsoleClientSession
}

// NewEngine creates a MOP engine for one circuit, sharing receipts
// across every circuit's engine on the node (spec §4.8: "a single
// shared 16-bit generator").
func NewEngine(cfg Config, port Port, receipts *ReceiptGenerator, events *event.Logger, w *timer.Wheel, log *logrus.Entry) *Engine {
	e := &Engine{
		Cfg: cfg, Port: port, Events: events, log: log.WithField("component", "mop"),
		wheel: w, receipts: receipts,
		pending:  make(map[uint16]*pendingRequest),
		heard:    make(map[dnaddr.Address]HeardNode),
		carriers: make(map[[6]byte]*ConsoleServerSession),
		clients:  make(map[[6]byte]*ConsoleClientSession),
	}
	e.sysIDTimer = timer.New(e)
	return e
}

// Start arms the periodic SysId timer with a staggered initial delay
// (spec §4.8: "initial delay is that window / 30").
func (e *Engine) Start() {
	window := e.Cfg.SysIdMaxInterval - e.Cfg.SysIdMinInterval
	initial := e.Cfg.SysIdMinInterval + time.Duration(rand.Int63n(int64(window+1)))
	_ = e.wheel.Start(e.sysIDTimer, initial/30)
}

func (e *Engine) Stop() {
	e.wheel.Stop(e.sysIDTimer)
}

// Timeout implements timer.Owner: the periodic SysId broadcast.
func (e *Engine) Timeout(t *timer.Timer) {
	if t != e.sysIDTimer {
		return
	}
	e.sendSysId(0)
	window := e.Cfg.SysIdMaxInterval - e.Cfg.SysIdMinInterval
	next := e.Cfg.SysIdMinInterval + time.Duration(rand.Int63n(int64(window+1)))
	_ = e.wheel.Start(e.sysIDTimer, next)
}

func (e *Engine) sendSysId(receipt uint16) {
	s := &packet.SysId{
		Receipt: receipt, Version: packet.TIVersion{Major: 4}, Services: e.Cfg.Services,
		HWAddr: e.Port.MAC(), HasHWAddr: true,
	}
	if receipt == 0 {
		_ = e.Port.SendMulticast(s.Encode())
	}
}

// Dispatch demultiplexes a received MOP frame by its leading code
// byte (spec §4.8).
func (e *Engine) Dispatch(srcMAC [6]byte, raw []byte) {
	msg, err := packet.DecodeMopMessage(raw)
	if err != nil {
		e.log.WithError(err).Warn("mop: decode failed")
		return
	}
	switch m := msg.(type) {
	case *packet.SysId:
		e.handleSysId(srcMAC, m)
	case *packet.RequestID:
		s := &packet.SysId{Receipt: m.Receipt, Version: packet.TIVersion{Major: 4}, Services: e.Cfg.Services, HWAddr: e.Port.MAC(), HasHWAddr: true}
		_ = e.Port.Send(srcMAC, s.Encode())
	case *packet.RequestCounters:
		c := &packet.Counters{Receipt: m.Receipt}
		_ = e.Port.Send(srcMAC, c.Encode())
	case *packet.Counters:
		e.deliver(m.Receipt, m)
	case *packet.ConsoleRequest:
		e.handleConsoleRequest(srcMAC, m)
	case *packet.ConsoleRelease:
		e.mu.Lock()
		delete(e.carriers, srcMAC)
		e.mu.Unlock()
	case *packet.ConsoleCommand:
		e.mu.Lock()
		s, ok := e.carriers[srcMAC]
		e.mu.Unlock()
		if ok {
			s.ReceiveCommand(m)
		}
	case *packet.ConsoleResponse:
		e.mu.Lock()
		c, ok := e.clients[srcMAC]
		e.mu.Unlock()
		if ok {
			c.ReceiveResponse(m)
		}
	}
}

func (e *Engine) handleSysId(srcMAC [6]byte, m *packet.SysId) {
	if addr, ok := dnaddr.FromMAC(srcMAC); ok {
		e.mu.Lock()
		e.heard[addr] = HeardNode{Addr: addr, MAC: srcMAC, Version: m.Version, Heard: time.Now()}
		e.mu.Unlock()
	}
	if m.Receipt != 0 {
		e.deliver(m.Receipt, m)
	}
}

func (e *Engine) deliver(receipt uint16, v interface{}) {
	e.mu.Lock()
	p, ok := e.pending[receipt]
	if ok {
		delete(e.pending, receipt)
	}
	e.mu.Unlock()
	if ok {
		select {
		case p.result <- v:
		default:
		}
	}
}

// RequestSysId sends a RequestId and returns a channel that will
// receive the SysId reply (or be closed with no value on timeout, the
// caller's responsibility to enforce).
func (e *Engine) RequestSysId(dst [6]byte) <-chan interface{} {
	receipt := e.receipts.Next()
	ch := make(chan interface{}, 1)
	e.mu.Lock()
	e.pending[receipt] = &pendingRequest{result: ch}
	e.mu.Unlock()
	req := &packet.RequestID{Receipt: receipt}
	_ = e.Port.Send(dst, req.Encode())
	return ch
}

// HeardNodes returns a snapshot of the heard-nodes map.
func (e *Engine) HeardNodes() []HeardNode {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]HeardNode, 0, len(e.heard))
	for _, h := range e.heard {
		out = append(out, h)
	}
	return out
}
