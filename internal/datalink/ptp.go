package datalink

// PtpAdapter narrows a [6]byte-addressed Port down to circuit.Port's
// single-peer Send(frame) contract for point-to-point circuits, which
// have exactly one datalink peer and no multicast concept.
type PtpAdapter struct {
	Port Port
	peer [6]byte
}

// NewPtpAdapter wraps p, always sending to peer.
func NewPtpAdapter(p Port, peer [6]byte) *PtpAdapter {
	return &PtpAdapter{Port: p, peer: peer}
}

func (a *PtpAdapter) Send(frame []byte) error {
	return a.Port.Send(a.peer, frame)
}

func (a *PtpAdapter) Close() error {
	return a.Port.Close()
}
