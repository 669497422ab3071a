package packet

import "github.com/kprusa/decnet/pkg/dnaddr"

// RSEntry is one router listed in a Router Hello's E-list: its MAC,
// node id, 7-bit priority, and the two-way flag.
type RSEntry struct {
	MAC      [6]byte
	ID       uint16
	Priority byte // low 7 bits significant
	TwoWay   bool
}

func decodeRSEntry(r *reader) (RSEntry, error) {
	mac, err := r.mac("rs-mac")
	if err != nil {
		return RSEntry{}, err
	}
	id, err := r.u16("rs-id")
	if err != nil {
		return RSEntry{}, err
	}
	b, err := r.byte("rs-prio")
	if err != nil {
		return RSEntry{}, err
	}
	return RSEntry{MAC: mac, ID: id, Priority: b & 0x7F, TwoWay: b&0x80 != 0}, nil
}

func (e RSEntry) encode(w *writer) {
	w.mac(e.MAC)
	w.u16(e.ID)
	b := e.Priority & 0x7F
	if e.TwoWay {
		b |= 0x80
	}
	w.byte(b)
}

// RouterHello is the periodic LAN router hello, carrying an E-list of
// known routers (spec §4.5, §6).
type RouterHello struct {
	TIVer   TIVersion
	MAC     [6]byte
	ID      uint16
	NType   NType
	BlkSize uint16
	Prio    byte
	Timer   uint16
	EList   []RSEntry
}

// elistReserved is the fixed 7 reserved bytes at the head of the
// E-list image (spec §6: "E-list = reserved(7), I-236 rslist").
const elistReserved = 7

func DecodeRouterHello(b []byte) (*RouterHello, []byte, error) {
	r := newReader(b)
	if err := r.constByte("flags", controlFlags(CtrlRouterHello)); err != nil {
		return nil, nil, err
	}
	tiver, err := decodeTIVersion(r)
	if err != nil {
		return nil, nil, err
	}
	mac, err := r.mac("mac")
	if err != nil {
		return nil, nil, err
	}
	id, err := r.u16("id")
	if err != nil {
		return nil, nil, err
	}
	ntypeByte, err := r.byte("ntype")
	if err != nil {
		return nil, nil, err
	}
	blksize, err := r.u16("blksize")
	if err != nil {
		return nil, nil, err
	}
	prio, err := r.byte("prio")
	if err != nil {
		return nil, nil, err
	}
	if _, err := r.byte("area"); err != nil {
		return nil, nil, err
	}
	timer, err := r.u16("timer")
	if err != nil {
		return nil, nil, err
	}
	if _, err := r.byte("mpd"); err != nil {
		return nil, nil, err
	}
	elistBody, err := r.image("elist")
	if err != nil {
		return nil, nil, err
	}
	elist, err := decodeElist(elistBody)
	if err != nil {
		return nil, nil, err
	}
	return &RouterHello{
		TIVer: tiver, MAC: mac, ID: uint16(id), NType: NType(ntypeByte & 0x3),
		BlkSize: blksize, Prio: prio, Timer: timer, EList: elist,
	}, r.rest(), nil
}

func decodeElist(body []byte) ([]RSEntry, error) {
	er := newReader(body)
	if err := er.need("elist-reserved", elistReserved); err != nil {
		return nil, err
	}
	if _, err := er.bytes("elist-reserved", elistReserved); err != nil {
		return nil, err
	}
	rslist, err := er.image("rslist")
	if err != nil {
		return nil, err
	}
	rr := newReader(rslist)
	var out []RSEntry
	for rr.remaining() > 0 {
		e, err := decodeRSEntry(rr)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (p *RouterHello) Encode() []byte {
	w := &writer{}
	w.byte(controlFlags(CtrlRouterHello))
	p.TIVer.encode(w)
	w.mac(p.MAC)
	w.u16(p.ID)
	w.byte(byte(p.NType) & 0x3)
	w.u16(p.BlkSize)
	w.byte(p.Prio)
	w.byte(0) // area, reserved
	w.u16(p.Timer)
	w.byte(0) // mpd, reserved

	rs := &writer{}
	for _, e := range p.EList {
		e.encode(rs)
	}
	elist := &writer{}
	elist.bytesN(elistReserved, 0)
	elist.image(rs.buf)
	w.image(elist.buf)
	return w.buf
}

// EndnodeHello is the periodic LAN endnode hello.
type EndnodeHello struct {
	TIVer       TIVersion
	MAC         [6]byte
	ID          uint16
	BlkSize     uint16
	NeighborMAC [6]byte
	Timer       uint16
	TestData    []byte
}

func DecodeEndnodeHello(b []byte) (*EndnodeHello, []byte, error) {
	r := newReader(b)
	if err := r.constByte("flags", controlFlags(CtrlEndnodeHello)); err != nil {
		return nil, nil, err
	}
	tiver, err := decodeTIVersion(r)
	if err != nil {
		return nil, nil, err
	}
	mac, err := r.mac("mac")
	if err != nil {
		return nil, nil, err
	}
	id, err := r.u16("id")
	if err != nil {
		return nil, nil, err
	}
	if _, err := r.byte("ntype"); err != nil {
		return nil, nil, err
	}
	blksize, err := r.u16("blksize")
	if err != nil {
		return nil, nil, err
	}
	if _, err := r.bytes("reserved", 9); err != nil {
		return nil, nil, err
	}
	neighborMAC, err := r.mac("neighbor-mac")
	if err != nil {
		return nil, nil, err
	}
	timer, err := r.u16("timer")
	if err != nil {
		return nil, nil, err
	}
	if _, err := r.byte("reserved2"); err != nil {
		return nil, nil, err
	}
	testdata, err := r.image("testdata")
	if err != nil {
		return nil, nil, err
	}
	return &EndnodeHello{
		TIVer: tiver, MAC: mac, ID: id, BlkSize: blksize,
		NeighborMAC: neighborMAC, Timer: timer,
		TestData: append([]byte(nil), testdata...),
	}, r.rest(), nil
}

func (p *EndnodeHello) Encode() []byte {
	w := &writer{}
	w.byte(controlFlags(CtrlEndnodeHello))
	p.TIVer.encode(w)
	w.mac(p.MAC)
	w.u16(p.ID)
	w.byte(byte(NTypeEndnode))
	w.u16(p.BlkSize)
	w.bytesN(9, 0)
	w.mac(p.NeighborMAC)
	w.u16(p.Timer)
	w.byte(0)
	w.image(p.TestData)
	return w.buf
}

// srcAddress returns the hello's claimed node address, derived from
// its MAC per the HIORD convention (dnaddr.FromMAC), falling back to
// the explicit id field if the MAC does not carry the prefix.
func srcAddress(mac [6]byte, id uint16) dnaddr.Address {
	if a, ok := dnaddr.FromMAC(mac); ok {
		return a
	}
	return dnaddr.Address(id)
}
