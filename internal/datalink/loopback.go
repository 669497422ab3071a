package datalink

import (
	"context"
	"sync"
)

// Loopback is an in-process Port pair used by circuit/routing tests:
// frames sent on one end arrive as Received values read from the
// other end's Inbox, with no real datalink underneath.
type Loopback struct {
	mac   [6]byte
	peer  *Loopback
	mu    sync.Mutex
	Inbox chan Received
}

// NewLoopbackPair builds two Loopback ports wired to each other.
func NewLoopbackPair(macA, macB [6]byte) (a, b *Loopback) {
	a = &Loopback{mac: macA, Inbox: make(chan Received, 64)}
	b = &Loopback{mac: macB, Inbox: make(chan Received, 64)}
	a.peer = b
	b.peer = a
	return a, b
}

func (l *Loopback) Open(ctx context.Context) error { return nil }
func (l *Loopback) Close() error                   { return nil }
func (l *Loopback) MAC() [6]byte                    { return l.mac }

func (l *Loopback) Send(dst [6]byte, frame []byte) error {
	l.mu.Lock()
	peer := l.peer
	l.mu.Unlock()
	if peer == nil {
		return nil
	}
	select {
	case peer.Inbox <- Received{SrcMAC: l.mac, Payload: append([]byte(nil), frame...)}:
	default:
	}
	return nil
}

func (l *Loopback) SendMulticast(frame []byte) error {
	return l.Send([6]byte{}, frame)
}
