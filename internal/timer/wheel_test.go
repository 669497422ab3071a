package timer

import (
	"testing"
	"time"
)

type recordingOwner struct {
	fired chan *Timer
}

func (r *recordingOwner) Timeout(t *Timer) {
	r.fired <- t
}

func TestWheel_FiresAfterDelay(t *testing.T) {
	w := NewWheel(10*time.Millisecond, time.Second, nil)
	w.Run()
	defer w.Shutdown()

	owner := &recordingOwner{fired: make(chan *Timer, 1)}
	item := New(owner)
	if err := w.Start(item, 30*time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case e := <-w.Expired():
		if e.Timer != item {
			t.Fatalf("expired wrong timer")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timer never fired")
	}
}

func TestWheel_StopPreventsFiring(t *testing.T) {
	w := NewWheel(10*time.Millisecond, time.Second, nil)
	w.Run()
	defer w.Shutdown()

	owner := &recordingOwner{fired: make(chan *Timer, 1)}
	item := New(owner)
	if err := w.Start(item, 20*time.Millisecond); err != nil {
		t.Fatalf("Start: %v", err)
	}
	w.Stop(item)
	if item.Armed() {
		t.Fatal("timer still armed after Stop")
	}

	select {
	case <-w.Expired():
		t.Fatal("stopped timer fired")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestWheel_RestartFromWithinHandlerRange(t *testing.T) {
	// Self-restart is legal: re-arming the same *Timer that just fired
	// must not panic or double-link it.
	w := NewWheel(5*time.Millisecond, time.Second, nil)
	w.Run()
	defer w.Shutdown()

	owner := &recordingOwner{fired: make(chan *Timer, 4)}
	item := New(owner)
	_ = w.Start(item, 10*time.Millisecond)

	count := 0
	deadline := time.After(200 * time.Millisecond)
	for count < 3 {
		select {
		case e := <-w.Expired():
			count++
			if err := w.Start(e.Timer, 10*time.Millisecond); err != nil {
				t.Fatalf("restart: %v", err)
			}
		case <-deadline:
			t.Fatalf("only saw %d firings", count)
		}
	}
}

func TestWheel_OverflowRejected(t *testing.T) {
	w := NewWheel(100*time.Millisecond, time.Second, nil)
	item := New(&recordingOwner{fired: make(chan *Timer, 1)})
	if err := w.Start(item, 5*time.Second); err == nil {
		t.Fatal("expected overflow error for delay beyond MaxTime")
	}
}

func TestWheel_BucketCount(t *testing.T) {
	w := NewWheel(100*time.Millisecond, time.Second, nil)
	if got, want := len(w.buckets), 10; got != want {
		t.Fatalf("bucket count = %d, want %d", got, want)
	}
}
