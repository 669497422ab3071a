package routing

import (
	"github.com/kprusa/decnet/internal/event"
	"github.com/kprusa/decnet/internal/packet"
	"github.com/kprusa/decnet/pkg/dnaddr"
)

// Frame is a decoded data packet header plus payload, circuit-agnostic
// so the forwarding engine doesn't care whether it arrived as a
// ShortData or LongData.
type Frame struct {
	Dst     dnaddr.Address
	Src     dnaddr.Address
	Visit   byte
	RQR     bool
	RTS     bool
	Payload []byte
}

// Outcome is what the forwarding engine decided to do with a Frame.
type Outcome int

const (
	OutcomeDeliverLocal Outcome = iota
	OutcomeForward
	OutcomeBounce
	OutcomeDrop
)

// Decision is the result of Forward: what to do, and if forwarding or
// bouncing, the route and frame to send.
type Decision struct {
	Outcome Outcome
	Route   *Route
	Frame   Frame
}

// Forward implements the forwarding contract (spec §4.6): look up the
// output adjacency for f.Dst; if unreachable, out of range, or
// f.Visit has reached MaxVisits, return-to-sender when rqr=1 and
// rts=0 (flipping rts, swapping src/dst), otherwise drop and account
// the matching counter. inCircuit is not consulted: Frame carries no
// ie (intra-ethernet) bit, so nothing is cleared on a cross-circuit
// hop.
func (c *Core) Forward(f Frame, inCircuit interface{}) Decision {
	if f.Dst == c.Self {
		return Decision{Outcome: OutcomeDeliverLocal, Frame: f}
	}

	sameArea := f.Dst.Area() == c.Self.Area()
	id := f.Dst.ID()
	maxID := dnaddr.MaxNodeID
	if !sameArea {
		id, maxID = f.Dst.Area(), dnaddr.MaxArea
	}
	if id < 1 || id > maxID {
		c.Counters.OorDrop++
		return c.dropOrBounce(f, event.CodeOorDrop)
	}

	route := c.Lookup(id)
	if route == nil || route.Oadj == nil {
		c.Counters.UnreachDrop++
		return c.dropOrBounce(f, event.CodeUnreachDrop)
	}
	if f.Visit >= visitLimit(c.Cfg.MaxVisits, f.RTS) {
		c.Counters.AgedDrop++
		return c.dropOrBounce(f, event.CodeAgedDrop)
	}

	f.Visit++
	return Decision{Outcome: OutcomeForward, Route: route, Frame: f}
}

// visitLimit is the max-visits bound a frame ages out at (spec §8
// Visit-monotonicity): a normal frame is bounded by MaxVisits, but one
// already bounced back toward its originator (rts=1) gets a doubled
// budget, capped at 63, since it has to retrace its own path home.
func visitLimit(maxVisits byte, rts bool) byte {
	if !rts {
		return maxVisits
	}
	doubled := 2 * int(maxVisits)
	if doubled > 63 {
		return 63
	}
	return byte(doubled)
}

func (c *Core) dropOrBounce(f Frame, code event.Code) Decision {
	if f.RQR && !f.RTS {
		bounced := f
		bounced.RTS = true
		bounced.Dst, bounced.Src = f.Src, f.Dst
		return Decision{Outcome: OutcomeBounce, Frame: bounced}
	}
	c.Events.Log(event.New(event.ClassRouting, code, map[string]interface{}{
		"dst": f.Dst.String(), "src": f.Src.String(),
	}))
	return Decision{Outcome: OutcomeDrop, Frame: f}
}

// FrameFromShortData converts a decoded ShortData into the circuit-
// agnostic Frame form the forwarding engine operates on.
func FrameFromShortData(sd *packet.ShortData) Frame {
	return Frame{Dst: sd.Dst, Src: sd.Src, Visit: sd.Visit, RQR: sd.RQR, RTS: sd.RTS, Payload: sd.Payload}
}

// FrameFromLongData converts a decoded LongData into a Frame; LongData
// carries no rqr/rts bits on the wire (they are Short Data-only
// fields), so both are left false.
func FrameFromLongData(ld *packet.LongData) Frame {
	return Frame{Dst: ld.Dst, Src: ld.Src, Visit: ld.Visit, Payload: ld.Payload}
}
