package routing

import (
	"time"

	"github.com/kprusa/decnet/internal/packet"
	"github.com/kprusa/decnet/internal/timer"
	"github.com/kprusa/decnet/pkg/dnaddr"
)

// maxGap is the largest run of unflagged (unchanged-since-last-segment)
// entries a segment will absorb before starting a new one (spec §4.6:
// "a small gap allowed (≤2 unflagged entries...)").
const maxGap = 2

// Transmitter sends an already-encoded routing update to a neighbor
// or circuit-wide multicast; circuit implementations satisfy this.
type Transmitter interface {
	TransmitUpdate(level packet.RoutingLevel, frame []byte) error
}

// UpdateProcess drives one circuit's periodic (T1) and hold-off (T2)
// routing update timers for one level (spec §4.6 "Update process").
type UpdateProcess struct {
	Core        *Core
	Level       packet.RoutingLevel
	Tx          Transmitter
	MinRouterBlk int // neighbor's minimum routing message block size, in entries

	wheel    *timer.Wheel
	t1       *timer.Timer
	t2       *timer.Timer
	t1Period time.Duration
	t2Delay  time.Duration
	t2Armed  bool
}

// NewUpdateProcess creates an UpdateProcess bound to wheel w, with the
// periodic update period t1Period and hold-off delay t2Delay.
func NewUpdateProcess(c *Core, level packet.RoutingLevel, tx Transmitter, minRouterBlk int, w *timer.Wheel, t1Period, t2Delay time.Duration) *UpdateProcess {
	u := &UpdateProcess{
		Core: c, Level: level, Tx: tx, MinRouterBlk: minRouterBlk,
		wheel: w, t1Period: t1Period, t2Delay: t2Delay,
	}
	u.t1 = timer.New(u)
	u.t2 = timer.New(u)
	return u
}

// Timeout implements timer.Owner. Both t1 and t2 name the same
// UpdateProcess as owner; disambiguate by pointer identity.
func (u *UpdateProcess) Timeout(t *timer.Timer) {
	if t == u.t1 {
		u.sendComplete()
		_ = u.wheel.Start(u.t1, u.t1Period)
		return
	}
	if t == u.t2 {
		u.t2Armed = false
		u.sendPartial()
	}
}

// Start arms the periodic T1 timer.
func (u *UpdateProcess) Start() {
	_ = u.wheel.Start(u.t1, u.t1Period)
}

// Stop disarms both timers.
func (u *UpdateProcess) Stop() {
	u.wheel.Stop(u.t1)
	u.wheel.Stop(u.t2)
	u.t2Armed = false
}

// SetSRM schedules a partial update for max(T2-elapsed, 0): since the
// wheel has no elapsed-time query, re-arming T2 only when it is not
// already armed approximates "elapsed" by never pushing the hold-off
// further into the future than its original delay.
func (u *UpdateProcess) SetSRM(id int) {
	table := u.Core.srmL1
	if u.Level == packet.LevelL2 {
		table = u.Core.srmL2
	}
	table[id] = true
	if !u.t2Armed {
		u.t2Armed = true
		_ = u.wheel.Start(u.t2, u.t2Delay)
	}
}

// entryFor returns the wire entry for destination id: its current
// route if any, else the configured unreachable sentinel.
func (u *UpdateProcess) entryFor(id int) packet.RouteEntry {
	routes := u.Core.l1Routes
	if u.Level == packet.LevelL2 {
		routes = u.Core.l2Routes
	}
	if r := routes[id]; r != nil {
		return packet.RouteEntry{Hops: r.Hops, Cost: r.Cost}
	}
	return packet.RouteEntry{Hops: u.Core.Cfg.MaxHops + 1, Cost: u.Core.Cfg.MaxCost + 1}
}

// sendComplete builds and sends a periodic update covering every
// destination from 1..max, clearing SRM for everything it sends.
func (u *UpdateProcess) sendComplete() {
	max := dnaddr.MaxNodeID
	if u.Level == packet.LevelL2 {
		max = dnaddr.MaxArea
	}
	ids := make([]int, max)
	for id := 1; id <= max; id++ {
		ids[id-1] = id
	}
	u.send(ids)
	u.Core.DrainSRM(u.Level)
}

// sendPartial builds and sends an update covering only SRM-marked
// destinations.
func (u *UpdateProcess) sendPartial() {
	ids := u.Core.DrainSRM(u.Level)
	if len(ids) == 0 {
		return
	}
	u.send(ids)
}

// send segments the entries named by ids (spec §4.6: a segment is a
// run of entries with a small gap allowed before starting a new one,
// the gap itself filled from the current route table) and transmits.
// Phase III neighbors instead receive a single unsegmented update
// starting at id=1, built by the caller via Phase3Frame.
func (u *UpdateProcess) send(ids []int) {
	segs := buildSegments(ids, u.entryFor)
	msg := &packet.RoutingUpdate{Level: u.Level, Src: u.Core.Self, Segments: segs}
	if err := u.Tx.TransmitUpdate(u.Level, msg.Encode()); err != nil {
		u.Core.log.WithError(err).Warn("routing update transmit failed")
	}
}

// Phase3Frame builds the unsegmented Phase III wire form of the L1
// route table for a Phase III neighbor.
func (u *UpdateProcess) Phase3Frame() []byte {
	entries := make([]packet.RouteEntry, dnaddr.MaxNodeID)
	for id := 1; id <= dnaddr.MaxNodeID; id++ {
		if r := u.Core.l1Routes[id]; r != nil {
			entries[id-1] = packet.RouteEntry{Hops: r.Hops, Cost: r.Cost}
		} else {
			entries[id-1] = packet.RouteEntry{Hops: u.Core.Cfg.MaxHops + 1, Cost: u.Core.Cfg.MaxCost + 1}
		}
	}
	msg := &packet.Phase3Update{Src: u.Core.Self, Entries: entries}
	return msg.Encode()
}

// buildSegments groups a sorted, deduplicated id list into contiguous
// runs, tolerating a gap of up to maxGap ids (filled via lookup, i.e.
// "unflagged" entries spec §4.6 allows a segment to absorb) before
// starting a new segment.
func buildSegments(ids []int, lookup func(id int) packet.RouteEntry) []packet.Segment {
	if len(ids) == 0 {
		return nil
	}
	sorted := append([]int(nil), ids...)
	sortInts(sorted)

	var segs []packet.Segment
	cur := packet.Segment{StartID: uint16(sorted[0])}
	last := sorted[0]
	cur.Entries = append(cur.Entries, lookup(sorted[0]))
	for _, id := range sorted[1:] {
		if id == last {
			continue
		}
		gap := id - last - 1
		if gap > maxGap {
			segs = append(segs, cur)
			cur = packet.Segment{StartID: uint16(id)}
		} else {
			for fill := last + 1; fill < id; fill++ {
				cur.Entries = append(cur.Entries, lookup(fill))
			}
		}
		cur.Entries = append(cur.Entries, lookup(id))
		last = id
	}
	segs = append(segs, cur)
	return segs
}

func sortInts(a []int) {
	for i := 1; i < len(a); i++ {
		for j := i; j > 0 && a[j-1] > a[j]; j-- {
			a[j-1], a[j] = a[j], a[j-1]
		}
	}
}
