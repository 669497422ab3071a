// Package timer implements the node's scheduled-callback facility: a
// tick-driven wheel of buckets, each a nil-terminated intrusive doubly
// linked list of armed timers. Expiry is delivered as a value on the
// wheel's Expired channel rather than invoked inline, so that timeout
// handling is serialized through the node work queue like every other
// event (spec §4.1, §5).
package timer

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ErrOverflow is returned by Start when the requested delay, rounded
// up to whole ticks, is not less than the bucket count. A delay of
// exactly MaxTime is therefore rejected as well as longer ones.
var ErrOverflow = errors.New("timer: requested delay exceeds wheel MaxTime")

// Owner is notified when its Timer fires. The wheel never calls
// Timeout itself: it sends an Expired value on its Expired channel,
// and whoever drains that channel (the Node) calls Timeout.
type Owner interface {
	// Timeout is invoked with the Timer that fired, for owners that
	// want to build their own work item without a type switch on the
	// wheel side.
	Timeout(t *Timer)
}

// Timer is both the schedulable handle and its own bucket list node.
// A Timer is linked into at most one bucket at a time; Armed reports
// whether it currently is.
type Timer struct {
	owner  Owner
	wheel  *Wheel
	bucket int
	armed  bool
	prev   *Timer
	next   *Timer
}

// New creates a Timer bound to owner. It is not armed until Start is
// called.
func New(owner Owner) *Timer {
	return &Timer{owner: owner}
}

// Armed reports whether the timer is currently linked into a bucket.
func (t *Timer) Armed() bool {
	return t.armed
}

// Owner returns the timer's registered owner.
func (t *Timer) Owner() Owner {
	return t.owner
}

// Expired is delivered on the wheel's Expired channel once per firing
// timer, in expiry order within a tick.
type Expired struct {
	Timer *Timer
	Owner Owner
}

// Wheel is a tick-driven array of buckets. Resolution is the tick
// period (spec recommends 0.1s or 1s); MaxTime bounds the longest
// schedulable delay, which fixes the bucket count.
type Wheel struct {
	mu         sync.Mutex
	resolution time.Duration
	maxTime    time.Duration
	buckets    []*Timer // first timer of each bucket's list; nil when empty
	current    int
	ticker     *time.Ticker
	stopCh     chan struct{}
	expired    chan Expired
	log        *logrus.Entry
}

// NewWheel creates a Wheel but does not start its ticking goroutine; call
// Run to do that. bucketCount = ceil(maxTime/resolution).
func NewWheel(resolution, maxTime time.Duration, log *logrus.Entry) *Wheel {
	n := int(maxTime / resolution)
	if maxTime%resolution != 0 {
		n++
	}
	if n < 1 {
		n = 1
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Wheel{
		resolution: resolution,
		maxTime:    maxTime,
		buckets:    make([]*Timer, n),
		stopCh:     make(chan struct{}),
		expired:    make(chan Expired, 64),
		log:        log.WithField("component", "timer"),
	}
}

// Expired is the channel the node orchestrator drains to turn firing
// timers into work items.
func (w *Wheel) Expired() <-chan Expired {
	return w.expired
}

// Run starts the wheel's own goroutine, which ticks at Resolution
// until Shutdown is called.
func (w *Wheel) Run() {
	w.ticker = time.NewTicker(w.resolution)
	go w.loop()
}

func (w *Wheel) loop() {
	defer w.ticker.Stop()
	for {
		select {
		case <-w.ticker.C:
			w.tick()
		case <-w.stopCh:
			return
		}
	}
}

// tick delivers every timer in the current bucket and advances.
func (w *Wheel) tick() {
	w.mu.Lock()
	idx := w.current
	var fired []Expired
	for t := w.buckets[idx]; t != nil; {
		next := t.next
		w.unlinkLocked(t)
		fired = append(fired, Expired{Timer: t, Owner: t.owner})
		t = next
	}
	w.current = (w.current + 1) % len(w.buckets)
	w.mu.Unlock()

	for _, e := range fired {
		select {
		case w.expired <- e:
		default:
			w.log.Warn("timer expiry channel full, dropping tick")
		}
	}
}

// Start arms t to fire after the given duration, measured in whole
// ticks (rounded up to at least one tick). Safe to call from within a
// timeout handler, including re-arming the timer that just fired.
func (w *Wheel) Start(t *Timer, d time.Duration) error {
	ticks := int(d / w.resolution)
	if d%w.resolution != 0 {
		ticks++
	}
	if ticks < 1 {
		ticks = 1
	}
	if ticks >= len(w.buckets) {
		return errors.Wrapf(ErrOverflow, "delay %s > max %s", d, w.maxTime)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if t.armed {
		w.unlinkLocked(t)
	}
	idx := (w.current + ticks) % len(w.buckets)
	w.linkLocked(t, idx)
	return nil
}

// Stop removes t from its bucket, if armed. O(1) and safe to call
// concurrently with ticking.
func (w *Wheel) Stop(t *Timer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t.armed {
		w.unlinkLocked(t)
	}
}

// Shutdown stops the wheel's goroutine. Idempotent is not guaranteed;
// callers call it once during node teardown.
func (w *Wheel) Shutdown() {
	close(w.stopCh)
}

func (w *Wheel) linkLocked(t *Timer, idx int) {
	t.wheel = w
	t.bucket = idx
	t.armed = true
	head := w.buckets[idx]
	t.next = head
	t.prev = nil
	if head != nil {
		head.prev = t
	}
	w.buckets[idx] = t
}

func (w *Wheel) unlinkLocked(t *Timer) {
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		w.buckets[t.bucket] = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	}
	t.prev, t.next, t.armed = nil, nil, false
}
