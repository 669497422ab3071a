package packet

// MOP message codes (the one-byte MopHdr.code dispatch key, spec
// §4.8), grounded on decnet/mop.py's packetformats table.
const (
	MopCodeSysId           = 7
	MopCodeRequestID       = 5
	MopCodeRequestCounters = 9
	MopCodeCounters        = 11
	MopCodeConsoleRequest  = 13
	MopCodeConsoleRelease  = 15
	MopCodeConsoleCommand  = 17
	MopCodeConsoleResponse = 19
)

// MOP SysId TLV tags, a subset of decnet/mop.py's SysId layout
// covering the fields this node actually produces/consumes.
const (
	tlvVersion       = 1
	tlvServices      = 2
	tlvConsoleUser   = 3
	tlvReservTimer   = 4
	tlvConsoleCmdSz  = 5
	tlvConsoleRespSz = 6
	tlvHWAddr        = 7
)

// SysId is the MOP SysId message: a receipt number correlating
// request/response exchanges (0 means unsolicited/periodic) plus a
// TLV block of optional attributes.
type SysId struct {
	Receipt      uint16
	Version      TIVersion
	Services     byte // bitmap: bit0 loop,1 dump,2 ploader,3 sloader,4 boot,5 carrier,6 counters
	ConsoleUser  [6]byte
	HasConsole   bool
	ReservTimer  uint16
	ConsoleCmdSz uint16
	HWAddr       [6]byte
	HasHWAddr    bool
}

func DecodeSysId(b []byte) (*SysId, []byte, error) {
	r := newReader(b)
	if err := r.constByte("code", MopCodeSysId); err != nil {
		return nil, nil, err
	}
	if _, err := r.byte("reserved"); err != nil {
		return nil, nil, err
	}
	receipt, err := r.u16("receipt")
	if err != nil {
		return nil, nil, err
	}
	s := &SysId{Receipt: receipt}
	for r.remaining() > 0 {
		tag, err := r.byte("tlv-tag")
		if err != nil {
			return nil, nil, err
		}
		val, err := r.image("tlv-value")
		if err != nil {
			return nil, nil, err
		}
		switch tag {
		case tlvVersion:
			if len(val) >= 3 {
				s.Version = TIVersion{Major: val[0], Minor: val[1], Eco: val[2]}
			}
		case tlvServices:
			if len(val) >= 1 {
				s.Services = val[0]
			}
		case tlvConsoleUser:
			if len(val) >= 6 {
				copy(s.ConsoleUser[:], val)
				s.HasConsole = true
			}
		case tlvReservTimer:
			if len(val) >= 2 {
				s.ReservTimer = uint16(val[0]) | uint16(val[1])<<8
			}
		case tlvConsoleCmdSz:
			if len(val) >= 2 {
				s.ConsoleCmdSz = uint16(val[0]) | uint16(val[1])<<8
			}
		case tlvHWAddr:
			if len(val) >= 6 {
				copy(s.HWAddr[:], val)
				s.HasHWAddr = true
			}
		default:
			// Wild tag: SysId TLVs tolerate unknown tags (spec §4.2:
			// "wild" tag behavior), so unrecognized attributes are
			// skipped rather than rejected.
		}
	}
	return s, nil, nil
}

func (s *SysId) Encode() []byte {
	w := &writer{}
	w.byte(MopCodeSysId)
	w.byte(0)
	w.u16(s.Receipt)

	w.byte(tlvVersion)
	vw := &writer{}
	s.Version.encode(vw)
	w.image(vw.buf)

	w.byte(tlvServices)
	w.image([]byte{s.Services})

	if s.HasConsole {
		w.byte(tlvConsoleUser)
		w.image(s.ConsoleUser[:])
	}
	if s.ReservTimer != 0 {
		w.byte(tlvReservTimer)
		rw := &writer{}
		rw.u16(s.ReservTimer)
		w.image(rw.buf)
	}
	if s.ConsoleCmdSz != 0 {
		w.byte(tlvConsoleCmdSz)
		cw := &writer{}
		cw.u16(s.ConsoleCmdSz)
		w.image(cw.buf)
	}
	if s.HasHWAddr {
		w.byte(tlvHWAddr)
		w.image(s.HWAddr[:])
	}
	return w.buf
}

// RequestID is the MOP request-for-SysId message.
type RequestID struct {
	Receipt uint16
}

func DecodeRequestID(b []byte) (*RequestID, []byte, error) {
	r := newReader(b)
	if err := r.constByte("code", MopCodeRequestID); err != nil {
		return nil, nil, err
	}
	if _, err := r.byte("reserved"); err != nil {
		return nil, nil, err
	}
	receipt, err := r.u16("receipt")
	if err != nil {
		return nil, nil, err
	}
	return &RequestID{Receipt: receipt}, r.rest(), nil
}

func (p *RequestID) Encode() []byte {
	w := &writer{}
	w.byte(MopCodeRequestID)
	w.byte(0)
	w.u16(p.Receipt)
	return w.buf
}

// RequestCounters is the MOP request-for-Counters message.
type RequestCounters struct {
	Receipt uint16
}

func DecodeRequestCounters(b []byte) (*RequestCounters, []byte, error) {
	r := newReader(b)
	if err := r.constByte("code", MopCodeRequestCounters); err != nil {
		return nil, nil, err
	}
	receipt, err := r.u16("receipt")
	if err != nil {
		return nil, nil, err
	}
	return &RequestCounters{Receipt: receipt}, r.rest(), nil
}

func (p *RequestCounters) Encode() []byte {
	w := &writer{}
	w.byte(MopCodeRequestCounters)
	w.u16(p.Receipt)
	return w.buf
}

// Counters is the MOP Counters reply, carrying the subset of NICE
// counters this node actually maintains (spec §3 Node Info "counters"
// field; the rest of decnet/mop.py's Counters layout is accepted on
// decode but not populated on encode).
type Counters struct {
	Receipt       uint16
	TimeSinceZero uint16
	BytesRecv     uint32
	BytesSent     uint32
	PktsRecv      uint32
	PktsSent      uint32
	UnreachDrop   uint32
}

func DecodeCounters(b []byte) (*Counters, []byte, error) {
	r := newReader(b)
	if err := r.constByte("code", MopCodeCounters); err != nil {
		return nil, nil, err
	}
	receipt, err := r.u16("receipt")
	if err != nil {
		return nil, nil, err
	}
	tz, err := r.u16("time_since_zeroed")
	if err != nil {
		return nil, nil, err
	}
	c := &Counters{Receipt: receipt, TimeSinceZero: tz}
	for _, dst := range []*uint32{&c.BytesRecv, &c.BytesSent, &c.PktsRecv, &c.PktsSent} {
		v, err := r.bytes("ctr", 4)
		if err != nil {
			return nil, nil, err
		}
		*dst = uint32(v[0]) | uint32(v[1])<<8 | uint32(v[2])<<16 | uint32(v[3])<<24
	}
	return c, r.rest(), nil
}

func (c *Counters) Encode() []byte {
	w := &writer{}
	w.byte(MopCodeCounters)
	w.u16(c.Receipt)
	w.u16(c.TimeSinceZero)
	u32 := func(v uint32) {
		w.byte(byte(v))
		w.byte(byte(v >> 8))
		w.byte(byte(v >> 16))
		w.byte(byte(v >> 24))
	}
	u32(c.BytesRecv)
	u32(c.BytesSent)
	u32(c.PktsRecv)
	u32(c.PktsSent)
	return w.buf
}

// ConsoleRequest asks to reserve a console carrier session, carrying
// an 8-byte verification value (decnet/mop.py ConsoleRequest._layout).
type ConsoleRequest struct {
	Verification [8]byte
}

func DecodeConsoleRequest(b []byte) (*ConsoleRequest, []byte, error) {
	r := newReader(b)
	if err := r.constByte("code", MopCodeConsoleRequest); err != nil {
		return nil, nil, err
	}
	v, err := r.bytes("verification", 8)
	if err != nil {
		return nil, nil, err
	}
	cr := &ConsoleRequest{}
	copy(cr.Verification[:], v)
	return cr, r.rest(), nil
}

func (p *ConsoleRequest) Encode() []byte {
	w := &writer{}
	w.byte(MopCodeConsoleRequest)
	w.bytes(p.Verification[:])
	return w.buf
}

// ConsoleRelease ends a console carrier session.
type ConsoleRelease struct{}

func DecodeConsoleRelease(b []byte) (*ConsoleRelease, []byte, error) {
	r := newReader(b)
	if err := r.constByte("code", MopCodeConsoleRelease); err != nil {
		return nil, nil, err
	}
	return &ConsoleRelease{}, r.rest(), nil
}

func (p *ConsoleRelease) Encode() []byte {
	return []byte{MopCodeConsoleRelease}
}

// ConsoleCommand carries console input data with an alternating
// sequence bit.
type ConsoleCommand struct {
	Seq     bool
	Break   bool
	Payload []byte
}

func DecodeConsoleCommand(b []byte) (*ConsoleCommand, []byte, error) {
	r := newReader(b)
	if err := r.constByte("code", MopCodeConsoleCommand); err != nil {
		return nil, nil, err
	}
	flags, err := r.byte("flags")
	if err != nil {
		return nil, nil, err
	}
	return &ConsoleCommand{
		Seq: flags&0x01 != 0, Break: flags&0x02 != 0,
		Payload: append([]byte(nil), r.rest()...),
	}, nil, nil
}

func (p *ConsoleCommand) Encode() []byte {
	w := &writer{}
	w.byte(MopCodeConsoleCommand)
	var f byte
	if p.Seq {
		f |= 0x01
	}
	if p.Break {
		f |= 0x02
	}
	w.byte(f)
	w.bytes(p.Payload)
	return w.buf
}

// ConsoleResponse carries console output data, plus loss indicators.
type ConsoleResponse struct {
	Seq      bool
	CmdLost  bool
	RespLost bool
	Payload  []byte
}

func DecodeConsoleResponse(b []byte) (*ConsoleResponse, []byte, error) {
	r := newReader(b)
	if err := r.constByte("code", MopCodeConsoleResponse); err != nil {
		return nil, nil, err
	}
	flags, err := r.byte("flags")
	if err != nil {
		return nil, nil, err
	}
	return &ConsoleResponse{
		Seq: flags&0x01 != 0, CmdLost: flags&0x02 != 0, RespLost: flags&0x04 != 0,
		Payload: append([]byte(nil), r.rest()...),
	}, nil, nil
}

func (p *ConsoleResponse) Encode() []byte {
	w := &writer{}
	w.byte(MopCodeConsoleResponse)
	var f byte
	if p.Seq {
		f |= 0x01
	}
	if p.CmdLost {
		f |= 0x02
	}
	if p.RespLost {
		f |= 0x04
	}
	w.byte(f)
	w.bytes(p.Payload)
	return w.buf
}

// Loop protocol messages (spec §4.8): LoopSkip decrements a
// forwarder chain, LoopFwd relays to the next forwarder, LoopReply
// answers a completed loop back to the originator.
type LoopSkip struct {
	Skip    uint16
	Payload []byte
}

func DecodeLoopSkip(b []byte) (*LoopSkip, []byte, error) {
	r := newReader(b)
	skip, err := r.u16("skip")
	if err != nil {
		return nil, nil, err
	}
	return &LoopSkip{Skip: skip, Payload: append([]byte(nil), r.rest()...)}, nil, nil
}

func (p *LoopSkip) Encode() []byte {
	w := &writer{}
	w.u16(p.Skip)
	w.bytes(p.Payload)
	return w.buf
}

type LoopFwd struct {
	Dest    [6]byte
	Payload []byte
}

const loopFwdFunction = 2

func DecodeLoopFwd(b []byte) (*LoopFwd, []byte, error) {
	r := newReader(b)
	fn, err := r.u16("function")
	if err != nil {
		return nil, nil, err
	}
	if fn != loopFwdFunction {
		return nil, nil, WrongValue{Field: "function", Want: loopFwdFunction, Got: byte(fn)}
	}
	dest, err := r.mac("dest")
	if err != nil {
		return nil, nil, err
	}
	return &LoopFwd{Dest: dest, Payload: append([]byte(nil), r.rest()...)}, nil, nil
}

func (p *LoopFwd) Encode() []byte {
	w := &writer{}
	w.u16(loopFwdFunction)
	w.mac(p.Dest)
	w.bytes(p.Payload)
	return w.buf
}

type LoopReply struct {
	Receipt uint16
	Payload []byte
}

const loopReplyFunction = 1

func DecodeLoopReply(b []byte) (*LoopReply, []byte, error) {
	r := newReader(b)
	fn, err := r.u16("function")
	if err != nil {
		return nil, nil, err
	}
	if fn != loopReplyFunction {
		return nil, nil, WrongValue{Field: "function", Want: loopReplyFunction, Got: byte(fn)}
	}
	receipt, err := r.u16("receipt")
	if err != nil {
		return nil, nil, err
	}
	return &LoopReply{Receipt: receipt, Payload: append([]byte(nil), r.rest()...)}, nil, nil
}

func (p *LoopReply) Encode() []byte {
	w := &writer{}
	w.u16(loopReplyFunction)
	w.u16(p.Receipt)
	w.bytes(p.Payload)
	return w.buf
}

// DecodeMopMessage dispatches on the leading MopHdr code byte (spec
// §4.2's "indexed packet" discriminated-union pattern, and §4.8's
// dispatch table).
func DecodeMopMessage(b []byte) (interface{}, error) {
	if len(b) < 1 {
		return nil, MissingData{Field: "code", Want: 1, Got: 0}
	}
	switch b[0] {
	case MopCodeSysId:
		p, _, err := DecodeSysId(b)
		return p, err
	case MopCodeRequestID:
		p, _, err := DecodeRequestID(b)
		return p, err
	case MopCodeRequestCounters:
		p, _, err := DecodeRequestCounters(b)
		return p, err
	case MopCodeCounters:
		p, _, err := DecodeCounters(b)
		return p, err
	case MopCodeConsoleRequest:
		p, _, err := DecodeConsoleRequest(b)
		return p, err
	case MopCodeConsoleRelease:
		p, _, err := DecodeConsoleRelease(b)
		return p, err
	case MopCodeConsoleCommand:
		p, _, err := DecodeConsoleCommand(b)
		return p, err
	case MopCodeConsoleResponse:
		p, _, err := DecodeConsoleResponse(b)
		return p, err
	default:
		return nil, InvalidTag{Tag: b[0]}
	}
}
