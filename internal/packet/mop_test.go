package packet

import (
	"reflect"
	"testing"
)

func TestSysId_RoundTrip(t *testing.T) {
	pkt := &SysId{
		Receipt:      7,
		Version:      TIVersion{Major: 4, Minor: 0, Eco: 0},
		Services:     0x41,
		ConsoleUser:  [6]byte{0xAA, 0x00, 0x04, 0x00, 0x01, 0x00},
		HasConsole:   true,
		ReservTimer:  60,
		ConsoleCmdSz: 255,
		HWAddr:       [6]byte{0x08, 0x00, 0x2B, 0x01, 0x02, 0x03},
		HasHWAddr:    true,
	}
	b := pkt.Encode()
	got, rest, err := DecodeSysId(b)
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

func TestSysId_UnsolicitedReceiptZero(t *testing.T) {
	pkt := &SysId{Receipt: 0, Version: TIVersion{Major: 4}, Services: 0}
	b := pkt.Encode()
	got, _, err := DecodeSysId(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Receipt != 0 {
		t.Fatalf("receipt = %d, want 0", got.Receipt)
	}
}

func TestSysId_WildTagSkipped(t *testing.T) {
	pkt := &SysId{Receipt: 1, Version: TIVersion{Major: 4}, Services: 0}
	b := pkt.Encode()
	// append an unrecognized tag (99) with a 3-byte value before end.
	b = append(b, 99, 3, 0xDE, 0xAD, 0xBE)
	got, rest, err := DecodeSysId(b)
	if err != nil {
		t.Fatalf("decode with wild tag: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected rest: %v", rest)
	}
	if got.Receipt != 1 {
		t.Fatalf("receipt = %d, want 1", got.Receipt)
	}
}

func TestRequestID_RoundTrip(t *testing.T) {
	pkt := &RequestID{Receipt: 42}
	got, rest, err := DecodeRequestID(pkt.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected rest: %v", rest)
	}
	if got.Receipt != 42 {
		t.Fatalf("receipt = %d, want 42", got.Receipt)
	}
}

func TestRequestCounters_RoundTrip(t *testing.T) {
	pkt := &RequestCounters{Receipt: 5}
	got, _, err := DecodeRequestCounters(pkt.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Receipt != 5 {
		t.Fatalf("receipt = %d, want 5", got.Receipt)
	}
}

func TestCounters_RoundTrip(t *testing.T) {
	pkt := &Counters{
		Receipt: 5, TimeSinceZero: 3600,
		BytesRecv: 1000, BytesSent: 2000, PktsRecv: 10, PktsSent: 20,
	}
	got, rest, err := DecodeCounters(pkt.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected rest: %v", rest)
	}
	if got.BytesRecv != pkt.BytesRecv || got.PktsSent != pkt.PktsSent {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, pkt)
	}
}

func TestConsoleRequest_RoundTrip(t *testing.T) {
	pkt := &ConsoleRequest{Verification: [8]byte{1, 2, 3, 4, 5, 6, 7, 8}}
	got, rest, err := DecodeConsoleRequest(pkt.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected rest: %v", rest)
	}
	if got.Verification != pkt.Verification {
		t.Fatalf("verification mismatch: got %v, want %v", got.Verification, pkt.Verification)
	}
}

func TestConsoleRelease_RoundTrip(t *testing.T) {
	pkt := &ConsoleRelease{}
	got, rest, err := DecodeConsoleRelease(pkt.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected rest: %v", rest)
	}
	if got == nil {
		t.Fatal("expected non-nil ConsoleRelease")
	}
}

func TestConsoleCommand_RoundTrip(t *testing.T) {
	pkt := &ConsoleCommand{Seq: true, Break: false, Payload: []byte("show memory\r")}
	got, rest, err := DecodeConsoleCommand(pkt.Encode())
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

func TestConsoleResponse_RoundTrip(t *testing.T) {
	pkt := &ConsoleResponse{Seq: false, CmdLost: true, RespLost: false, Payload: []byte("ok\r\n")}
	got, _, err := DecodeConsoleResponse(pkt.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(pkt, got) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, pkt)
	}
}

func TestLoopSkip_RoundTrip(t *testing.T) {
	pkt := &LoopSkip{Skip: 3, Payload: []byte{1, 2, 3}}
	got, rest, err := DecodeLoopSkip(pkt.Encode())
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

func TestLoopFwd_RoundTrip(t *testing.T) {
	pkt := &LoopFwd{Dest: [6]byte{0xAA, 0x00, 0x04, 0x00, 0x02, 0x00}, Payload: []byte{9, 9}}
	got, _, err := DecodeLoopFwd(pkt.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(pkt, got) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, pkt)
	}
}

func TestLoopFwd_WrongFunctionRejected(t *testing.T) {
	raw := []byte{1, 0, 0xAA, 0x00, 0x04, 0x00, 0x02, 0x00}
	_, _, err := DecodeLoopFwd(raw)
	if _, ok := err.(WrongValue); !ok {
		t.Fatalf("expected WrongValue, got %v", err)
	}
}

func TestLoopReply_RoundTrip(t *testing.T) {
	pkt := &LoopReply{Receipt: 11, Payload: []byte{5, 5, 5}}
	got, _, err := DecodeLoopReply(pkt.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(pkt, got) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, pkt)
	}
}

func TestDecodeMopMessage_Dispatch(t *testing.T) {
	pkt := &RequestID{Receipt: 1}
	got, err := DecodeMopMessage(pkt.Encode())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := got.(*RequestID); !ok {
		t.Fatalf("got %T, want *RequestID", got)
	}
}

func TestDecodeMopMessage_UnknownCodeIsInvalidTag(t *testing.T) {
	_, err := DecodeMopMessage([]byte{0xFF, 0x00})
	if _, ok := err.(InvalidTag); !ok {
		t.Fatalf("expected InvalidTag, got %v", err)
	}
}

func TestDecodeMopMessage_EmptyIsMissingData(t *testing.T) {
	_, err := DecodeMopMessage(nil)
	if _, ok := err.(MissingData); !ok {
		t.Fatalf("expected MissingData, got %v", err)
	}
}
