package circuit

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kprusa/decnet/internal/adjacency"
	"github.com/kprusa/decnet/internal/event"
	"github.com/kprusa/decnet/internal/packet"
	"github.com/kprusa/decnet/internal/timer"
	"github.com/kprusa/decnet/pkg/dnaddr"
)

type fakePort struct {
	sent [][]byte
}

func (p *fakePort) Send(frame []byte) error {
	p.sent = append(p.sent, frame)
	return nil
}

func (p *fakePort) Close() error { return nil }

func newTestCircuit(t *testing.T) (*PtpCircuit, *fakePort, *timer.Wheel) {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	w := timer.NewWheel(5*time.Millisecond, time.Second, log)
	w.Run()
	t.Cleanup(w.Shutdown)
	port := &fakePort{}
	cfg := PtpConfig{
		Self: dnaddr.New(1, 1), Phase: packet.InitPhase4, NType: packet.NTypeL1Router,
		BlkSize: 1498, HelloT3: 50 * time.Millisecond, ListenT4: 200 * time.Millisecond,
		MinBackoff: 20 * time.Millisecond, MaxBackoff: 100 * time.Millisecond,
	}
	events := event.NewLogger(log)
	c := NewPtp(cfg, port, nil, events, w, log)
	return c, port, w
}

func TestPtpCircuit_StartAndDatalinkUpSendsInit(t *testing.T) {
	c, port, _ := newTestCircuit(t)
	c.Start()
	if c.State() != StateDS {
		t.Fatalf("state = %v, want DS", c.State())
	}
	c.DlStatusUp()
	if c.State() != StateRI {
		t.Fatalf("state = %v, want RI", c.State())
	}
	if len(port.sent) != 1 {
		t.Fatalf("expected one Init sent, got %d", len(port.sent))
	}
}

func TestPtpCircuit_PeerInitWithoutVerificationReachesRU(t *testing.T) {
	c, _, _ := newTestCircuit(t)
	c.Start()
	c.DlStatusUp()

	peerInit := &packet.PtpInit{
		Src: dnaddr.New(1, 2), NType: packet.NTypeL1Router, BlkSize: 1498,
		TIVer: packet.TIVersion{Major: 2},
	}
	any := &packet.AnyInit{Kind: packet.InitPhase4, Phase4: peerInit}
	if err := c.ReceiveInit(any, peerInit.Src, peerInit.Encode()); err != nil {
		t.Fatalf("receive init: %v", err)
	}
	if c.State() != StateRU {
		t.Fatalf("state = %v, want RU", c.State())
	}
}

func TestPtpCircuit_NewerPeerPhaseIgnored(t *testing.T) {
	c, _, _ := newTestCircuit(t)
	c.Cfg.Phase = packet.InitPhase3
	c.Start()
	c.DlStatusUp()

	peerInit := &packet.PtpInit{Src: dnaddr.New(1, 2), NType: packet.NTypeL1Router, BlkSize: 1498, TIVer: packet.TIVersion{Major: 2}}
	any := &packet.AnyInit{Kind: packet.InitPhase4, Phase4: peerInit}
	if err := c.ReceiveInit(any, peerInit.Src, peerInit.Encode()); err != nil {
		t.Fatalf("receive init: %v", err)
	}
	if c.State() != StateRI {
		t.Fatalf("state = %v, want RI (newer peer ignored)", c.State())
	}
}

func TestPtpCircuit_VerificationRequiredHoldsInRV(t *testing.T) {
	c, _, _ := newTestCircuit(t)
	c.Cfg.Verification = []byte("secret")
	c.Start()
	c.DlStatusUp()

	peerInit := &packet.PtpInit{Src: dnaddr.New(1, 2), NType: packet.NTypeL1Router, BlkSize: 1498, TIVer: packet.TIVersion{Major: 2}}
	any := &packet.AnyInit{Kind: packet.InitPhase4, Phase4: peerInit}
	_ = c.ReceiveInit(any, peerInit.Src, peerInit.Encode())
	if c.State() != StateRV {
		t.Fatalf("state = %v, want RV", c.State())
	}
	c.ReceiveVerify(true)
	if c.State() != StateRU {
		t.Fatalf("state = %v, want RU after valid verify", c.State())
	}
}

func TestPtpCircuit_RejectedVerifyEntersReconn(t *testing.T) {
	c, _, _ := newTestCircuit(t)
	c.Cfg.Verification = []byte("secret")
	c.Start()
	c.DlStatusUp()

	peerInit := &packet.PtpInit{Src: dnaddr.New(1, 2), NType: packet.NTypeL1Router, BlkSize: 1498, TIVer: packet.TIVersion{Major: 2}}
	any := &packet.AnyInit{Kind: packet.InitPhase4, Phase4: peerInit}
	_ = c.ReceiveInit(any, peerInit.Src, peerInit.Encode())
	c.ReceiveVerify(false)
	if c.State() != StateReconn {
		t.Fatalf("state = %v, want Reconn", c.State())
	}
}

func TestPtpCircuit_ReconnEventuallyReturnsToDS(t *testing.T) {
	c, _, w := newTestCircuit(t)
	c.Start()
	c.DlStatusUp()
	peerInit := &packet.PtpInit{Src: dnaddr.New(1, 2), NType: packet.NTypeL1Router, BlkSize: 1498, TIVer: packet.TIVersion{Major: 2}}
	any := &packet.AnyInit{Kind: packet.InitPhase4, Phase4: peerInit}
	_ = c.ReceiveInit(any, peerInit.Src, peerInit.Encode())
	c.toReconn()

	deadline := time.After(time.Second)
	for c.State() == StateReconn {
		select {
		case e := <-w.Expired():
			e.Owner.Timeout(e.Timer)
		case <-deadline:
			t.Fatal("circuit never left Reconn")
		}
	}
	if c.State() != StateDS && c.State() != StateRI {
		t.Fatalf("state = %v, want DS or RI after backoff", c.State())
	}
}

func TestPtpCircuit_InvalidHelloTestDataTakesAdjacencyDown(t *testing.T) {
	c, _, _ := newTestCircuit(t)
	c.Start()
	c.DlStatusUp()
	peerInit := &packet.PtpInit{Src: dnaddr.New(1, 2), NType: packet.NTypeL1Router, BlkSize: 1498, TIVer: packet.TIVersion{Major: 2}}
	any := &packet.AnyInit{Kind: packet.InitPhase4, Phase4: peerInit}
	_ = c.ReceiveInit(any, peerInit.Src, peerInit.Encode())

	c.ReceiveHello(&packet.PtpHello{Src: peerInit.Src, TestData: []byte{0xAA, 0x01}})
	if c.adj.State == adjacency.Up {
		t.Fatal("invalid hello testdata should take the adjacency down")
	}
	if c.state != StateReconn {
		t.Fatalf("adjacency failure in RU should move the circuit to Reconn: got %v", c.state)
	}
}
