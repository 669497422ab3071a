package mop

import (
	"bytes"
	"os/exec"
	"sync"
	"time"

	"github.com/kprusa/decnet/internal/packet"
	"github.com/kprusa/decnet/internal/timer"
)

// reservationTimeout is the console carrier server's reservation
// timer (spec §4.8: "15 seconds").
const reservationTimeout = 15 * time.Second

// apiIdleTimeout bounds how long a client session waits with no API
// activity before releasing (spec §4.8: "120 seconds").
const apiIdleTimeout = 120 * time.Second

func (e *Engine) handleConsoleRequest(srcMAC [6]byte, m *packet.ConsoleRequest) {
	if e.Cfg.ConsoleVerif == nil {
		return
	}
	if !bytes.Equal(m.Verification[:], e.Cfg.ConsoleVerif) {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.carriers[srcMAC]; busy {
		return
	}
	s := newConsoleServerSession(e, srcMAC)
	e.carriers[srcMAC] = s
	s.start()
}

// ConsoleServerSession is the responder side of the console carrier
// protocol: it spawns a login subprocess and shuttles console command/
// response frames to and from it (spec §4.8).
type ConsoleServerSession struct {
	eng       *Engine
	peer      [6]byte
	cmd       *exec.Cmd
	stdin     interface{ Write([]byte) (int, error) }
	mu        sync.Mutex
	wantSeq   bool
	resvTimer *timer.Timer
}

func newConsoleServerSession(e *Engine, peer [6]byte) *ConsoleServerSession {
	s := &ConsoleServerSession{eng: e, peer: peer}
	s.resvTimer = timer.New(s)
	return s
}

func (s *ConsoleServerSession) start() {
	_ = s.eng.wheel.Start(s.resvTimer, reservationTimeout)
	cmd := exec.Command("login")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.close()
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.close()
		return
	}
	if err := cmd.Start(); err != nil {
		s.close()
		return
	}
	s.cmd = cmd
	s.stdin = stdin
	go s.pump(stdout)
}

func (s *ConsoleServerSession) pump(r interface{ Read([]byte) (int, error) }) {
	buf := make([]byte, 512)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			resp := &packet.ConsoleResponse{Seq: s.nextSeq(), Payload: append([]byte(nil), buf[:n]...)}
			_ = s.eng.Port.Send(s.peer, resp.Encode())
		}
		if err != nil {
			return
		}
	}
}

func (s *ConsoleServerSession) nextSeq() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wantSeq = !s.wantSeq
	return s.wantSeq
}

// ReceiveCommand feeds console input into the subprocess and rearms
// the reservation timer.
func (s *ConsoleServerSession) ReceiveCommand(m *packet.ConsoleCommand) {
	_ = s.eng.wheel.Start(s.resvTimer, reservationTimeout)
	if s.stdin != nil {
		_, _ = s.stdin.Write(m.Payload)
	}
}

// Timeout implements timer.Owner: the reservation expired.
func (s *ConsoleServerSession) Timeout(t *timer.Timer) {
	if t != s.resvTimer {
		return
	}
	s.close()
}

func (s *ConsoleServerSession) close() {
	s.eng.wheel.Stop(s.resvTimer)
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.eng.mu.Lock()
	delete(s.eng.carriers, s.peer)
	s.eng.mu.Unlock()
}

// ConsoleClientSession is the initiating side of the console carrier
// protocol (spec §4.8 console client): retransmits an unacknowledged
// command up to 5 times, then gives up.
type ConsoleClientSession struct {
	eng      *Engine
	peer     [6]byte
	mu       sync.Mutex
	seq      bool
	pending  []byte
	retries  int
	idleTmr  *timer.Timer
	Incoming chan []byte
}

const maxConsoleRetries = 5

// DialConsole reserves a console carrier session with peer.
func (e *Engine) DialConsole(peer [6]byte, verification [8]byte) *ConsoleClientSession {
	c := &ConsoleClientSession{eng: e, peer: peer, Incoming: make(chan []byte, 16)}
	c.idleTmr = timer.New(c)
	e.mu.Lock()
	e.clients[peer] = c
	e.mu.Unlock()
	req := &packet.ConsoleRequest{Verification: verification}
	_ = e.Port.Send(peer, req.Encode())
	_ = e.wheel.Start(c.idleTmr, apiIdleTimeout)
	return c
}

// SendCommand transmits console input, tracking it for retransmit.
func (c *ConsoleClientSession) SendCommand(payload []byte) {
	c.mu.Lock()
	c.seq = !c.seq
	cmd := &packet.ConsoleCommand{Seq: c.seq, Payload: payload}
	c.pending = cmd.Encode()
	c.retries = 0
	c.mu.Unlock()
	_ = c.eng.Port.Send(c.peer, c.pending)
	_ = c.eng.wheel.Start(c.idleTmr, apiIdleTimeout)
}

// ReceiveResponse delivers console output to the caller and clears
// the retransmit buffer (the peer acknowledged by responding).
func (c *ConsoleClientSession) ReceiveResponse(m *packet.ConsoleResponse) {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
	select {
	case c.Incoming <- m.Payload:
	default:
	}
	_ = c.eng.wheel.Start(c.idleTmr, apiIdleTimeout)
}

// Timeout implements timer.Owner: either a pending command is
// retransmitted, or (retries exhausted, or genuinely idle) the
// session releases.
func (c *ConsoleClientSession) Timeout(t *timer.Timer) {
	if t != c.idleTmr {
		return
	}
	c.mu.Lock()
	pending := c.pending
	retries := c.retries
	c.mu.Unlock()
	if pending != nil && retries < maxConsoleRetries {
		c.mu.Lock()
		c.retries++
		c.mu.Unlock()
		_ = c.eng.Port.Send(c.peer, pending)
		_ = c.eng.wheel.Start(c.idleTmr, apiIdleTimeout)
		return
	}
	c.Release()
}

// Release ends the session and notifies the peer.
func (c *ConsoleClientSession) Release() {
	c.eng.wheel.Stop(c.idleTmr)
	rel := &packet.ConsoleRelease{}
	_ = c.eng.Port.Send(c.peer, rel.Encode())
	c.eng.mu.Lock()
	delete(c.eng.clients, c.peer)
	c.eng.mu.Unlock()
	close(c.Incoming)
}
