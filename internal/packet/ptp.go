package packet

import "github.com/kprusa/decnet/pkg/dnaddr"

// NType is the neighbor type advertised in an Init message's info
// byte: 2 bits, matching the four adjacency neighbor types (§3).
type NType byte

const (
	NTypeL2Router NType = 0
	NTypeL1Router NType = 1
	NTypeEndnode  NType = 2
	NTypePhase2   NType = 3
)

// TIVersion is the three-byte "this implementation version" triplet
// (major, minor, eco) carried in Init messages.
type TIVersion struct {
	Major, Minor, Eco byte
}

func (v TIVersion) encode(w *writer) {
	w.byte(v.Major)
	w.byte(v.Minor)
	w.byte(v.Eco)
}

func decodeTIVersion(r *reader) (TIVersion, error) {
	b, err := r.bytes("tiver", 3)
	if err != nil {
		return TIVersion{}, err
	}
	return TIVersion{Major: b[0], Minor: b[1], Eco: b[2]}, nil
}

func infoByte(ntype NType, verif, blo bool) byte {
	b := byte(ntype) & 0x3
	if verif {
		b |= 0x04
	}
	if blo {
		b |= 0x08
	}
	return b
}

func decodeInfoByte(b byte) (ntype NType, verif, blo bool) {
	return NType(b & 0x3), b&0x04 != 0, b&0x08 != 0
}

// PtpInit is the Phase IV point-to-point initialization message.
type PtpInit struct {
	Src      dnaddr.Address
	NType    NType
	Verif    bool
	Blo      bool
	BlkSize  uint16
	TIVer    TIVersion
	Timer    uint16
	Reserved []byte
}

func DecodePtpInit(r *reader) (*PtpInit, error) {
	src, err := r.u16("src")
	if err != nil {
		return nil, err
	}
	info, err := r.byte("info")
	if err != nil {
		return nil, err
	}
	ntype, verif, blo := decodeInfoByte(info)
	blksize, err := r.u16("blksize")
	if err != nil {
		return nil, err
	}
	tiver, err := decodeTIVersion(r)
	if err != nil {
		return nil, err
	}
	timer, err := r.u16("timer")
	if err != nil {
		return nil, err
	}
	reserved, err := r.image("reserved")
	if err != nil {
		return nil, err
	}
	return &PtpInit{
		Src: dnaddr.Address(src), NType: ntype, Verif: verif, Blo: blo,
		BlkSize: blksize, TIVer: tiver, Timer: timer,
		Reserved: append([]byte(nil), reserved...),
	}, nil
}

func (p *PtpInit) Encode() []byte {
	w := &writer{}
	w.byte(controlFlags(CtrlInit))
	w.u16(uint16(p.Src))
	w.byte(infoByte(p.NType, p.Verif, p.Blo))
	w.u16(p.BlkSize)
	p.TIVer.encode(w)
	w.u16(p.Timer)
	w.image(p.Reserved)
	return w.buf
}

// PtpInit3 is the Phase III point-to-point initialization message:
// identical to PtpInit but with no timer field (spec §4.4).
type PtpInit3 struct {
	Src      dnaddr.Address
	NType    NType
	Verif    bool
	Blo      bool
	BlkSize  uint16
	TIVer    TIVersion
	Reserved []byte
}

func DecodePtpInit3(r *reader) (*PtpInit3, error) {
	src, err := r.u16("src")
	if err != nil {
		return nil, err
	}
	info, err := r.byte("info")
	if err != nil {
		return nil, err
	}
	ntype, verif, blo := decodeInfoByte(info)
	blksize, err := r.u16("blksize")
	if err != nil {
		return nil, err
	}
	tiver, err := decodeTIVersion(r)
	if err != nil {
		return nil, err
	}
	reserved, err := r.image("reserved")
	if err != nil {
		return nil, err
	}
	return &PtpInit3{
		Src: dnaddr.Address(src), NType: ntype, Verif: verif, Blo: blo,
		BlkSize: blksize, TIVer: tiver, Reserved: append([]byte(nil), reserved...),
	}, nil
}

func (p *PtpInit3) Encode() []byte {
	w := &writer{}
	w.byte(controlFlags(CtrlInit))
	w.u16(uint16(p.Src))
	w.byte(infoByte(p.NType, p.Verif, p.Blo))
	w.u16(p.BlkSize)
	p.TIVer.encode(w)
	w.image(p.Reserved)
	return w.buf
}

// phase2Msgflag is the fixed leading byte of every Phase II NICE/
// routing control message, outside the Phase III/IV flags scheme.
const phase2Msgflag = 0x58

// NodeInit is the Phase II initialization message, keyed by the fixed
// MSGFLG byte rather than the control/type bit scheme.
type NodeInit struct {
	SrcName string
	Info    byte
	BlkSize uint16
	SWType  []byte
	SWVer   TIVersion
	SWID    []byte
}

func DecodeNodeInit(r *reader) (*NodeInit, error) {
	name, err := r.image("srcname")
	if err != nil {
		return nil, err
	}
	info, err := r.byte("info")
	if err != nil {
		return nil, err
	}
	blksize, err := r.u16("blksize")
	if err != nil {
		return nil, err
	}
	swtype, err := r.image("swtype")
	if err != nil {
		return nil, err
	}
	swver, err := decodeTIVersion(r)
	if err != nil {
		return nil, err
	}
	swid, err := r.image("swid")
	if err != nil {
		return nil, err
	}
	return &NodeInit{
		SrcName: string(name), Info: info, BlkSize: blksize,
		SWType: append([]byte(nil), swtype...), SWVer: swver,
		SWID: append([]byte(nil), swid...),
	}, nil
}

func (p *NodeInit) Encode() []byte {
	w := &writer{}
	w.byte(phase2Msgflag)
	w.image([]byte(p.SrcName))
	w.byte(p.Info)
	w.u16(p.BlkSize)
	w.image(p.SWType)
	p.SWVer.encode(w)
	w.image(p.SWID)
	return w.buf
}

// InitKind discriminates the three peer phases an Init message can
// claim (§4.4 peer classification).
type InitKind int

const (
	InitPhase2 InitKind = iota
	InitPhase3
	InitPhase4
)

// AnyInit is the result of classifying a received Init message by its
// leading byte (and, for Phase III vs IV, the tiver major byte) per
// spec §4.4 and §9's "indexed packet" dispatch-by-leading-byte note.
type AnyInit struct {
	Kind   InitKind
	Phase2 *NodeInit
	Phase3 *PtpInit3
	Phase4 *PtpInit
}

// DecodeInit classifies and decodes a received point-to-point Init
// message. Phase II is recognized by the fixed MSGFLG byte; Phase III
// vs Phase IV share the same control/type byte and are distinguished
// by the tiver major version (1 => Phase III, no timer field; >= 2 =>
// Phase IV, with timer field) as described in spec §4.4.
func DecodeInit(b []byte) (*AnyInit, []byte, error) {
	r := newReader(b)
	first, err := r.byte("flags")
	if err != nil {
		return nil, nil, err
	}
	if first == phase2Msgflag {
		ni, err := DecodeNodeInit(r)
		if err != nil {
			return nil, nil, err
		}
		return &AnyInit{Kind: InitPhase2, Phase2: ni}, r.rest(), nil
	}
	t, isControl := decodeControlFlags(first)
	if !isControl || t != CtrlInit {
		return nil, nil, WrongValue{Field: "flags", Want: controlFlags(CtrlInit), Got: first}
	}

	// Peek the tiver major byte without committing to a layout: both
	// candidate layouts place src(2)+info(1)+blksize(2) identically
	// before tiver, so snapshot the reader and try Phase IV first.
	snapshot := *r
	p4, err4 := DecodePtpInit(r)
	if err4 == nil {
		if p4.TIVer.Major >= 2 {
			return &AnyInit{Kind: InitPhase4, Phase4: p4}, r.rest(), nil
		}
	}
	*r = snapshot
	p3, err3 := DecodePtpInit3(r)
	if err3 != nil {
		if err4 != nil {
			return nil, nil, err4
		}
		return nil, nil, err3
	}
	return &AnyInit{Kind: InitPhase3, Phase3: p3}, r.rest(), nil
}

// PtpVerify is the Phase III/IV point-to-point verification message.
type PtpVerify struct {
	Src          dnaddr.Address
	Verification []byte
}

func DecodePtpVerify(b []byte) (*PtpVerify, []byte, error) {
	r := newReader(b)
	if err := r.constByte("flags", controlFlags(CtrlVerify)); err != nil {
		return nil, nil, err
	}
	src, err := r.u16("src")
	if err != nil {
		return nil, nil, err
	}
	verif, err := r.image("verification")
	if err != nil {
		return nil, nil, err
	}
	return &PtpVerify{Src: dnaddr.Address(src), Verification: append([]byte(nil), verif...)}, r.rest(), nil
}

func (p *PtpVerify) Encode() []byte {
	w := &writer{}
	w.byte(controlFlags(CtrlVerify))
	w.u16(uint16(p.Src))
	w.image(p.Verification)
	return w.buf
}

// NodeVerify is the Phase II verification message.
type NodeVerify struct {
	Password []byte
}

func DecodeNodeVerify(b []byte) (*NodeVerify, []byte, error) {
	r := newReader(b)
	if err := r.constByte("flags", phase2Msgflag); err != nil {
		return nil, nil, err
	}
	pw, err := r.image("password")
	if err != nil {
		return nil, nil, err
	}
	return &NodeVerify{Password: append([]byte(nil), pw...)}, r.rest(), nil
}

func (p *NodeVerify) Encode() []byte {
	w := &writer{}
	w.byte(phase2Msgflag)
	w.image(p.Password)
	return w.buf
}

// PtpHello is the periodic point-to-point "Test" message (control
// type 2): a source address and testdata that must be all 0xAA.
type PtpHello struct {
	Src      dnaddr.Address
	TestData []byte
}

func DecodePtpHello(b []byte) (*PtpHello, []byte, error) {
	r := newReader(b)
	if err := r.constByte("flags", controlFlags(CtrlTest)); err != nil {
		return nil, nil, err
	}
	src, err := r.u16("src")
	if err != nil {
		return nil, nil, err
	}
	data, err := r.image("testdata")
	if err != nil {
		return nil, nil, err
	}
	return &PtpHello{Src: dnaddr.Address(src), TestData: append([]byte(nil), data...)}, r.rest(), nil
}

func (p *PtpHello) Encode() []byte {
	w := &writer{}
	w.byte(controlFlags(CtrlTest))
	w.u16(uint16(p.Src))
	w.image(p.TestData)
	return w.buf
}

// ValidTestData reports whether testdata is the expected all-0xAA
// pattern (spec §4.4/§8).
func ValidTestData(b []byte) bool {
	for _, c := range b {
		if c != 0xAA {
			return false
		}
	}
	return len(b) > 0
}

// RepeatAA builds an n-byte all-0xAA test pattern, the fixed payload
// PtpHello and EndnodeHello testdata fields carry.
func RepeatAA(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = 0xAA
	}
	return b
}
