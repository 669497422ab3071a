package packet

import (
	"reflect"
	"testing"
)

func TestRouterHello_RoundTrip(t *testing.T) {
	pkt := &RouterHello{
		TIVer:   TIVersion{Major: 2, Minor: 0, Eco: 0},
		MAC:     [6]byte{0xAA, 0x00, 0x04, 0x00, 0x03, 0x00},
		ID:      3,
		NType:   NTypeL2Router,
		BlkSize: 1498,
		Prio:    64,
		Timer:   15,
		EList: []RSEntry{
			{MAC: [6]byte{0xAA, 0x00, 0x04, 0x00, 0x01, 0x00}, ID: 1, Priority: 100, TwoWay: true},
			{MAC: [6]byte{0xAA, 0x00, 0x04, 0x00, 0x02, 0x00}, ID: 2, Priority: 0, TwoWay: false},
		},
	}
	b := pkt.Encode()
	got, rest, err := DecodeRouterHello(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected rest: %v", rest)
	}
	if !reflect.DeepEqual(pkt, got) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, pkt)
	}
}

func TestRouterHello_EmptyElist(t *testing.T) {
	pkt := &RouterHello{
		TIVer: TIVersion{Major: 2}, MAC: [6]byte{0xAA, 0x00, 0x04, 0x00, 0x09, 0x00},
		ID: 9, NType: NTypeL1Router, BlkSize: 1498, Prio: 32, Timer: 10,
	}
	b := pkt.Encode()
	got, _, err := DecodeRouterHello(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.EList) != 0 {
		t.Fatalf("expected empty elist, got %d entries", len(got.EList))
	}
}

func TestEndnodeHello_RoundTrip(t *testing.T) {
	pkt := &EndnodeHello{
		TIVer:       TIVersion{Major: 2, Minor: 0, Eco: 0},
		MAC:         [6]byte{0xAA, 0x00, 0x04, 0x00, 0x05, 0x00},
		ID:          5,
		BlkSize:     1498,
		NeighborMAC: [6]byte{0xAA, 0x00, 0x04, 0x00, 0x01, 0x00},
		Timer:       30,
		TestData:    repeatByte(0xAA, 16),
	}
	b := pkt.Encode()
	got, rest, err := DecodeEndnodeHello(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected rest: %v", rest)
	}
	if !reflect.DeepEqual(pkt, got) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, pkt)
	}
}

func TestSrcAddress_FromMAC(t *testing.T) {
	mac := [6]byte{0xAA, 0x00, 0x04, 0x00, 0x07, 0x04}
	a := srcAddress(mac, 999)
	if a.Area() != 1 || a.ID() != 7 {
		t.Fatalf("srcAddress = %s, want 1.7", a)
	}
}

func TestSrcAddress_FallsBackToID(t *testing.T) {
	mac := [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	a := srcAddress(mac, 42)
	if uint16(a) != 42 {
		t.Fatalf("srcAddress = %v, want fallback 42", a)
	}
}
