package packet

import "github.com/kprusa/decnet/pkg/dnaddr"

// longHiOrder is the fixed 6-byte prefix preceding every address in a
// Long Data header (spec §6: "dst-hi(6=AA0004)").
var longHiOrder = [6]byte{0xAA, 0x00, 0x04, 0x00, 0x00, 0x00}

// ShortData is the short-form data packet used between adjacent
// Phase III/IV nodes that both support it: flags, dst, src, a 6-bit
// visit count, and payload.
type ShortData struct {
	RQR     bool
	RTS     bool
	Dst     dnaddr.Address
	Src     dnaddr.Address
	Visit   byte // low 6 bits significant
	Payload []byte
}

// DecodeShortData decodes a Short Data packet, returning any trailing
// bytes (there should be none once Payload consumes the rest, so rest
// is always empty on success — kept for symmetry with the decode
// contract).
func DecodeShortData(b []byte) (*ShortData, []byte, error) {
	r := newReader(b)
	flags, err := r.byte("flags")
	if err != nil {
		return nil, nil, err
	}
	fmtCode, rqr, rts, isControl := decodeDataFlags(flags)
	if isControl {
		return nil, nil, WrongValue{Field: "flags.control", Want: 0, Got: 1}
	}
	if fmtCode != FmtShortData {
		return nil, nil, WrongValue{Field: "flags.format", Want: byte(FmtShortData), Got: byte(fmtCode)}
	}
	dst, err := r.u16("dst")
	if err != nil {
		return nil, nil, err
	}
	src, err := r.u16("src")
	if err != nil {
		return nil, nil, err
	}
	visit, err := r.byte("visit")
	if err != nil {
		return nil, nil, err
	}
	sd := &ShortData{
		RQR:     rqr,
		RTS:     rts,
		Dst:     dnaddr.Address(dst),
		Src:     dnaddr.Address(src),
		Visit:   visit & 0x3F,
		Payload: append([]byte(nil), r.rest()...),
	}
	return sd, nil, nil
}

// Encode serializes the Short Data packet.
func (p *ShortData) Encode() []byte {
	w := &writer{}
	w.byte(dataFlags(FmtShortData, p.RQR, p.RTS))
	w.u16(uint16(p.Dst))
	w.u16(uint16(p.Src))
	w.byte(p.Visit & 0x3F)
	w.bytes(p.Payload)
	return w.buf
}

// LongData is the long-form data packet, required on LAN circuits
// because the wire format there always carries the 8-byte address
// form.
type LongData struct {
	Dst     dnaddr.Address
	Src     dnaddr.Address
	Visit   byte
	Payload []byte
}

// DecodeLongData decodes a Long Data packet. It first strips a single
// optional leading pad byte (bit 7 set, low 7 bits = pad length); a
// second consecutive pad byte is a FormatError ("double pad").
func DecodeLongData(b []byte) (*LongData, []byte, error) {
	r := newReader(b)

	if r.remaining() > 0 && r.buf[r.off]&0x80 != 0 {
		padLen, err := r.byte("pad")
		if err != nil {
			return nil, nil, err
		}
		n := int(padLen & 0x7F)
		if _, err := r.bytes("pad-fill", n); err != nil {
			return nil, nil, err
		}
		if r.remaining() > 0 && r.buf[r.off]&0x80 != 0 {
			return nil, nil, FormatError{Msg: "double pad byte in long data header"}
		}
	}

	flags, err := r.byte("flags")
	if err != nil {
		return nil, nil, err
	}
	fmtCode, _, _, isControl := decodeDataFlags(flags)
	if isControl {
		return nil, nil, WrongValue{Field: "flags.control", Want: 0, Got: 1}
	}
	if fmtCode != FmtLongData {
		return nil, nil, WrongValue{Field: "flags.format", Want: byte(FmtLongData), Got: byte(fmtCode)}
	}
	if _, err := r.bytes("reserved1", 2); err != nil {
		return nil, nil, err
	}
	dst, err := decodeLongAddress(r, "dst")
	if err != nil {
		return nil, nil, err
	}
	if _, err := r.bytes("reserved2", 2); err != nil {
		return nil, nil, err
	}
	src, err := decodeLongAddress(r, "src")
	if err != nil {
		return nil, nil, err
	}
	if _, err := r.byte("reserved3"); err != nil {
		return nil, nil, err
	}
	visit, err := r.byte("visit")
	if err != nil {
		return nil, nil, err
	}
	if _, err := r.bytes("reserved4", 2); err != nil {
		return nil, nil, err
	}

	ld := &LongData{
		Dst:     dst,
		Src:     src,
		Visit:   visit,
		Payload: append([]byte(nil), r.rest()...),
	}
	return ld, nil, nil
}

func decodeLongAddress(r *reader, field string) (dnaddr.Address, error) {
	hi, err := r.bytes(field+"-hi", 6)
	if err != nil {
		return 0, err
	}
	for i := 0; i < 4; i++ {
		if hi[i] != longHiOrder[i] {
			return 0, WrongValue{Field: field + "-hi", Want: longHiOrder[i], Got: hi[i]}
		}
	}
	lo, err := r.u16(field + "-lo")
	if err != nil {
		return 0, err
	}
	return dnaddr.Address(lo), nil
}

// Encode serializes the Long Data packet, without any leading pad
// byte (callers needing alignment padding add it separately).
func (p *LongData) Encode() []byte {
	w := &writer{}
	w.byte(dataFlags(FmtLongData, false, false))
	w.bytesN(2, 0)
	encodeLongAddress(w, p.Dst)
	w.bytesN(2, 0)
	encodeLongAddress(w, p.Src)
	w.byte(0)
	w.byte(p.Visit)
	w.bytesN(2, 0)
	w.bytes(p.Payload)
	return w.buf
}

func encodeLongAddress(w *writer, a dnaddr.Address) {
	w.bytes(longHiOrder[:])
	w.u16(uint16(a))
}

// RouteHdr is the bounce/intercept routing header (§4.7): a swapped
// source/destination pair carried as a prefix ahead of an otherwise
// headerless Phase II payload.
type RouteHdr struct {
	Dst dnaddr.Address
	Src dnaddr.Address
}

func DecodeRouteHdr(b []byte) (*RouteHdr, []byte, error) {
	r := newReader(b)
	dst, err := r.u16("dst")
	if err != nil {
		return nil, nil, err
	}
	src, err := r.u16("src")
	if err != nil {
		return nil, nil, err
	}
	return &RouteHdr{Dst: dnaddr.Address(dst), Src: dnaddr.Address(src)}, r.rest(), nil
}

func (h *RouteHdr) Encode() []byte {
	w := &writer{}
	w.u16(uint16(h.Dst))
	w.u16(uint16(h.Src))
	return w.buf
}
