package packet

import "github.com/kprusa/decnet/pkg/dnaddr"

// RouteEntry is one destination's hops/cost pair as carried in a
// routing update entry word (hops in bits 10-14, cost in bits 0-9).
type RouteEntry struct {
	Hops byte
	Cost uint16
}

func decodeEntryWord(w uint16) RouteEntry {
	return RouteEntry{Hops: byte(w >> 10 & 0x1F), Cost: w & 0x3FF}
}

func (e RouteEntry) word() uint16 {
	return uint16(e.Hops&0x1F)<<10 | e.Cost&0x3FF
}

// Segment is a contiguous run of destination ids, starting at StartID,
// carrying one RouteEntry per id.
type Segment struct {
	StartID uint16
	Entries []RouteEntry
}

// RoutingLevel distinguishes L1 (area-local) from L2 (inter-area)
// routing updates; both share the segmented wire layout.
type RoutingLevel int

const (
	LevelL1 RoutingLevel = iota
	LevelL2
)

// RoutingUpdate is a decoded L1 or L2 segmented routing update.
type RoutingUpdate struct {
	Level    RoutingLevel
	Src      dnaddr.Address
	Segments []Segment
}

// Phase3Update is a decoded Phase III unsegmented routing update: one
// RouteEntry per id, starting at id 1.
type Phase3Update struct {
	Src     dnaddr.Address
	Entries []RouteEntry
}

const (
	cksumInitL1L2   = 1
	cksumInitPhase3 = 0
)

// checksumResidue sums words (one's-complement, end-around carry)
// starting from init, returning the terminal residue.
func checksumResidue(words []uint16, init uint16) uint16 {
	sum := uint32(init)
	for _, w := range words {
		sum += uint32(w)
		if sum > 0xFFFF {
			sum = (sum & 0xFFFF) + 1
		}
	}
	return uint16(sum)
}

func residueOK(r uint16) bool {
	return r == 0x0000 || r == 0xFFFF
}

func bytesToWords(b []byte) ([]uint16, error) {
	if len(b)%2 != 0 {
		return nil, FormatError{Msg: "odd-length routing update body"}
	}
	words := make([]uint16, len(b)/2)
	for i := range words {
		words[i] = uint16(b[2*i]) | uint16(b[2*i+1])<<8
	}
	return words, nil
}

// DecodeRoutingMessage decodes a type-3 or type-4 control message. A
// type-3 body is structurally ambiguous between the segmented L1
// format (checksum init 1) and the unsegmented Phase III format
// (checksum init 0); both structural interpretations are attempted
// and the one whose checksum residue lands in {0, -1} wins, per
// spec §4.2's checksum contract. Type 4 is always segmented L2.
func DecodeRoutingMessage(b []byte) (interface{}, []byte, error) {
	r := newReader(b)
	first, err := r.byte("flags")
	if err != nil {
		return nil, nil, err
	}
	t, isControl := decodeControlFlags(first)
	if !isControl || (t != CtrlL1Routing && t != CtrlL2Routing) {
		return nil, nil, WrongValue{Field: "flags", Want: controlFlags(CtrlL1Routing), Got: first}
	}
	src, err := r.u16("src")
	if err != nil {
		return nil, nil, err
	}
	if _, err := r.byte("reserved"); err != nil {
		return nil, nil, err
	}
	body := r.rest()
	if len(body) < 2 {
		return nil, nil, MissingData{Field: "routing-body", Want: 2, Got: len(body)}
	}
	words, err := bytesToWords(body)
	if err != nil {
		return nil, nil, err
	}
	cksum := words[len(words)-1]
	payload := words[:len(words)-1]

	if t == CtrlL2Routing {
		segs, err := decodeSegments(payload)
		if err != nil {
			return nil, nil, err
		}
		if res := checksumResidue(append(append([]uint16(nil), payload...), cksum), cksumInitL1L2); !residueOK(res) {
			return nil, nil, ChecksumError{Residue: res}
		}
		return &RoutingUpdate{Level: LevelL2, Src: dnaddr.Address(src), Segments: segs}, nil, nil
	}

	// type == 3: try segmented L1 first, then unsegmented Phase III.
	if segs, segErr := decodeSegments(payload); segErr == nil {
		res := checksumResidue(append(append([]uint16(nil), payload...), cksum), cksumInitL1L2)
		if residueOK(res) {
			return &RoutingUpdate{Level: LevelL1, Src: dnaddr.Address(src), Segments: segs}, nil, nil
		}
	}
	res := checksumResidue(append(append([]uint16(nil), payload...), cksum), cksumInitPhase3)
	if residueOK(res) {
		entries := make([]RouteEntry, len(payload))
		for i, w := range payload {
			entries[i] = decodeEntryWord(w)
		}
		return &Phase3Update{Src: dnaddr.Address(src), Entries: entries}, nil, nil
	}
	return nil, nil, ChecksumError{Residue: res}
}

// decodeSegments parses a segmented routing-update body: repeated
// (count, startid, entries[count]) runs until the payload words are
// exhausted.
func decodeSegments(payload []uint16) ([]Segment, error) {
	var segs []Segment
	i := 0
	for i < len(payload) {
		if i+2 > len(payload) {
			return nil, FormatError{Msg: "truncated segment header"}
		}
		count := payload[i]
		startid := payload[i+1]
		i += 2
		if int(count) == 0 || i+int(count) > len(payload) {
			return nil, FormatError{Msg: "segment count exceeds remaining body"}
		}
		entries := make([]RouteEntry, count)
		for j := 0; j < int(count); j++ {
			entries[j] = decodeEntryWord(payload[i+j])
		}
		i += int(count)
		segs = append(segs, Segment{StartID: startid, Entries: entries})
	}
	return segs, nil
}

// Encode serializes an L1 or L2 segmented routing update.
func (u *RoutingUpdate) Encode() []byte {
	ctrl := CtrlL1Routing
	if u.Level == LevelL2 {
		ctrl = CtrlL2Routing
	}
	var payload []uint16
	for _, seg := range u.Segments {
		payload = append(payload, uint16(len(seg.Entries)), seg.StartID)
		for _, e := range seg.Entries {
			payload = append(payload, e.word())
		}
	}
	sum := checksumResidue(payload, cksumInitL1L2)
	cksum := ^sum

	w := &writer{}
	w.byte(controlFlags(ctrl))
	w.u16(uint16(u.Src))
	w.byte(0)
	for _, word := range payload {
		w.u16(word)
	}
	w.u16(cksum)
	return w.buf
}

// Encode serializes a Phase III unsegmented routing update.
func (u *Phase3Update) Encode() []byte {
	payload := make([]uint16, len(u.Entries))
	for i, e := range u.Entries {
		payload[i] = e.word()
	}
	sum := checksumResidue(payload, cksumInitPhase3)
	cksum := ^sum

	w := &writer{}
	w.byte(controlFlags(CtrlL1Routing))
	w.u16(uint16(u.Src))
	w.byte(0)
	for _, word := range payload {
		w.u16(word)
	}
	w.u16(cksum)
	return w.buf
}
