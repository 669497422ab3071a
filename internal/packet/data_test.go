package packet

import (
	"reflect"
	"testing"

	"github.com/kprusa/decnet/pkg/dnaddr"
)

func TestShortData_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		pkt  *ShortData
	}{
		{
			name: "basic",
			pkt: &ShortData{
				Dst: dnaddr.New(1, 3), Src: dnaddr.New(2, 1),
				Visit: 17, Payload: []byte{0xDE, 0xAD, 0xBE, 0xEF},
			},
		},
		{
			name: "rqr set, empty payload",
			pkt:  &ShortData{RQR: true, Dst: dnaddr.New(0, 10), Src: dnaddr.New(0, 20)},
		},
		{
			name: "rts set",
			pkt:  &ShortData{RTS: true, Dst: dnaddr.New(3, 100), Src: dnaddr.New(3, 200), Visit: 63},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := tc.pkt.Encode()
			got, rest, err := DecodeShortData(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if len(rest) != 0 {
				t.Fatalf("unexpected rest: %v", rest)
			}
			if !reflect.DeepEqual(tc.pkt, got) {
				t.Fatalf("round trip mismatch: got %+v, want %+v", got, tc.pkt)
			}
		})
	}
}

func TestShortData_DecodeScenarioBytes(t *testing.T) {
	// spec.md §9 scenario 3: ShortData 02 03 04 01 08 11 <payload>
	raw := []byte{0x02, 0x03, 0x04, 0x01, 0x08, 0x11, 0xAB, 0xCD}
	got, _, err := DecodeShortData(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Dst.Area() != 1 || got.Dst.ID() != 3 {
		t.Fatalf("dst = %s, want 1.3", got.Dst)
	}
	if got.Src.Area() != 2 || got.Src.ID() != 1 {
		t.Fatalf("src = %s, want 2.1", got.Src)
	}
	if got.Visit != 17 {
		t.Fatalf("visit = %d, want 17", got.Visit)
	}
}

func TestLongData_RoundTrip(t *testing.T) {
	pkt := &LongData{
		Dst: dnaddr.New(4, 55), Src: dnaddr.New(4, 1),
		Visit: 9, Payload: []byte{1, 2, 3},
	}
	b := pkt.Encode()
	got, rest, err := DecodeLongData(b)
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

func TestLongData_SinglePadByteSkipped(t *testing.T) {
	pkt := &LongData{Dst: dnaddr.New(1, 1), Src: dnaddr.New(1, 2), Visit: 1}
	raw := append([]byte{0x81, 0x00}, pkt.Encode()...) // pad byte: bit7 set, len=1
	got, _, err := DecodeLongData(raw)
	if err != nil {
		t.Fatalf("decode with pad: %v", err)
	}
	if got.Dst != pkt.Dst || got.Src != pkt.Src {
		t.Fatalf("pad-skipped decode mismatch: %+v", got)
	}
}

func TestLongData_DoublePadIsError(t *testing.T) {
	raw := []byte{0x80, 0x80, 0x06}
	_, _, err := DecodeLongData(raw)
	if _, ok := err.(FormatError); !ok {
		t.Fatalf("expected FormatError for double pad, got %v", err)
	}
}

func TestLongData_WrongHiOrderIsWrongValue(t *testing.T) {
	pkt := &LongData{Dst: dnaddr.New(1, 1), Src: dnaddr.New(1, 2)}
	raw := pkt.Encode()
	raw[3] = 0xFF // corrupt dst-hi prefix byte
	_, _, err := DecodeLongData(raw)
	if _, ok := err.(WrongValue); !ok {
		t.Fatalf("expected WrongValue, got %v", err)
	}
}

func TestShortData_TruncatedIsMissingData(t *testing.T) {
	_, _, err := DecodeShortData([]byte{0x02, 0x01})
	if _, ok := err.(MissingData); !ok {
		t.Fatalf("expected MissingData, got %v", err)
	}
}
