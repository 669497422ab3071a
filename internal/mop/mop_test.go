package mop

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kprusa/decnet/internal/event"
	"github.com/kprusa/decnet/internal/packet"
	"github.com/kprusa/decnet/internal/timer"
)

type fakePort struct {
	mac     [6]byte
	sent    map[[6]byte][][]byte
	mcast   [][]byte
}

func newFakePort(mac [6]byte) *fakePort {
	return &fakePort{mac: mac, sent: make(map[[6]byte][][]byte)}
}

func (p *fakePort) Send(dst [6]byte, frame []byte) error {
	p.sent[dst] = append(p.sent[dst], frame)
	return nil
}
func (p *fakePort) SendMulticast(frame []byte) error {
	p.mcast = append(p.mcast, frame)
	return nil
}
func (p *fakePort) MAC() [6]byte { return p.mac }

func newTestEngine(t *testing.T) (*Engine, *fakePort, *timer.Wheel) {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	w := timer.NewWheel(5*time.Millisecond, time.Second, log)
	w.Run()
	t.Cleanup(w.Shutdown)
	port := newFakePort([6]byte{0xAA, 0, 4, 0, 1, 0})
	cfg := Config{
		Services:         0,
		SysIdMinInterval: 50 * time.Millisecond,
		SysIdMaxInterval: 60 * time.Millisecond,
	}
	e := NewEngine(cfg, port, &ReceiptGenerator{}, event.NewLogger(log), w, log)
	return e, port, w
}

func TestReceiptGenerator_SkipsZero(t *testing.T) {
	g := &ReceiptGenerator{next: 0xFFFF}
	if r := g.Next(); r != 1 {
		t.Fatalf("expected wraparound to skip 0 and land on 1, got %d", r)
	}
}

func TestReceiptGenerator_Monotonic(t *testing.T) {
	g := &ReceiptGenerator{}
	a := g.Next()
	b := g.Next()
	if b != a+1 {
		t.Fatalf("expected consecutive receipts, got %d then %d", a, b)
	}
}

func TestEngine_RequestIDRepliesWithSysId(t *testing.T) {
	e, port, _ := newTestEngine(t)
	peer := [6]byte{0xAA, 0, 4, 0, 2, 0}
	req := &packet.RequestID{Receipt: 7}
	e.Dispatch(peer, req.Encode())
	if len(port.sent[peer]) != 1 {
		t.Fatalf("expected one reply sent to requester, got %d", len(port.sent[peer]))
	}
	msg, err := packet.DecodeMopMessage(port.sent[peer][0])
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	s, ok := msg.(*packet.SysId)
	if !ok || s.Receipt != 7 {
		t.Fatalf("expected SysId echoing receipt 7, got %+v", msg)
	}
}

func TestEngine_RequestCountersRepliesWithCounters(t *testing.T) {
	e, port, _ := newTestEngine(t)
	peer := [6]byte{0xAA, 0, 4, 0, 3, 0}
	req := &packet.RequestCounters{Receipt: 42}
	e.Dispatch(peer, req.Encode())
	msg, err := packet.DecodeMopMessage(port.sent[peer][0])
	if err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	c, ok := msg.(*packet.Counters)
	if !ok || c.Receipt != 42 {
		t.Fatalf("expected Counters echoing receipt 42, got %+v", msg)
	}
}

func TestEngine_RequestSysIdCorrelatesReplyByReceipt(t *testing.T) {
	e, _, _ := newTestEngine(t)
	peer := [6]byte{0xAA, 0, 4, 0, 4, 0}
	ch := e.RequestSysId(peer)

	var sentReceipt uint16
	e.mu.Lock()
	for r := range e.pending {
		sentReceipt = r
	}
	e.mu.Unlock()

	reply := &packet.SysId{Receipt: sentReceipt, Version: packet.TIVersion{Major: 4}}
	e.Dispatch(peer, reply.Encode())

	select {
	case v := <-ch:
		s, ok := v.(*packet.SysId)
		if !ok || s.Receipt != sentReceipt {
			t.Fatalf("unexpected delivered value: %+v", v)
		}
	default:
		t.Fatal("expected reply to be delivered on the correlation channel")
	}
}

func TestEngine_UnsolicitedSysIdRecordsHeardNode(t *testing.T) {
	e, _, _ := newTestEngine(t)
	peer := [6]byte{0xAA, 0, 4, 0, 5, 0}
	sysid := &packet.SysId{Version: packet.TIVersion{Major: 4}}
	e.Dispatch(peer, sysid.Encode())
	heard := e.HeardNodes()
	if len(heard) != 1 || heard[0].MAC != peer {
		t.Fatalf("expected heard node for %v, got %+v", peer, heard)
	}
}

func TestEngine_StartArmsPeriodicSysId(t *testing.T) {
	e, port, w := newTestEngine(t)
	e.Start()
	deadline := time.After(time.Second)
	for len(port.mcast) == 0 {
		select {
		case exp := <-w.Expired():
			exp.Owner.Timeout(exp.Timer)
		case <-deadline:
			t.Fatal("periodic SysId never fired")
		}
	}
}

func TestConsoleClient_RetransmitsUntilResponse(t *testing.T) {
	e, port, w := newTestEngine(t)
	e.Cfg.ConsoleVerif = nil
	peer := [6]byte{0xAA, 0, 4, 0, 6, 0}
	c := e.DialConsole(peer, [8]byte{1, 2, 3})
	c.SendCommand([]byte("hello"))

	before := len(port.sent[peer])
	exp := <-w.Expired()
	exp.Owner.Timeout(exp.Timer)
	after := len(port.sent[peer])
	if after <= before {
		t.Fatalf("expected a retransmit, sent count %d -> %d", before, after)
	}

	resp := &packet.ConsoleResponse{Payload: []byte("world")}
	c.ReceiveResponse(resp)
	select {
	case got := <-c.Incoming:
		if string(got) != "world" {
			t.Fatalf("got %q, want world", got)
		}
	default:
		t.Fatal("expected response delivered to Incoming")
	}
}

func TestConsoleServer_RejectsWrongVerification(t *testing.T) {
	e, port, _ := newTestEngine(t)
	e.Cfg.ConsoleVerif = []byte{1, 2, 3, 4, 5, 6, 7, 8}
	peer := [6]byte{0xAA, 0, 4, 0, 7, 0}
	req := &packet.ConsoleRequest{Verification: [8]byte{9, 9, 9, 9, 9, 9, 9, 9}}
	e.Dispatch(peer, req.Encode())
	if _, ok := e.carriers[peer]; ok {
		t.Fatal("wrong verification must not admit a carrier session")
	}
	_ = port
}

func TestStartLoop_NoForwardersBroadcastsReply(t *testing.T) {
	e, port, _ := newTestEngine(t)
	_ = e.StartLoop(nil, []byte("ping"))
	if len(port.mcast) != 1 {
		t.Fatalf("expected the loop reply multicast with no forwarders, got %d", len(port.mcast))
	}
}

func TestStartLoop_WithForwarderSendsNestedLoopFwd(t *testing.T) {
	e, port, _ := newTestEngine(t)
	fwd := [6]byte{0xAA, 0, 4, 0, 8, 0}
	_ = e.StartLoop([][6]byte{fwd}, []byte("ping"))
	if len(port.sent[fwd]) != 1 {
		t.Fatalf("expected one frame sent to forwarder, got %d", len(port.sent[fwd]))
	}
	got, _, err := packet.DecodeLoopFwd(port.sent[fwd][0])
	if err != nil {
		t.Fatalf("decode LoopFwd: %v", err)
	}
	if got.Dest != fwd {
		t.Fatalf("dest = %v, want %v", got.Dest, fwd)
	}
}
