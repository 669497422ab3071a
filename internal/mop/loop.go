package mop

import "github.com/kprusa/decnet/internal/packet"

// loop.go implements the MOP Loop protocol (spec §4.8): a chain of up
// to three forwarders, each identified by LoopFwd.Dest, followed by a
// terminating LoopReply back to the node that started the loop. Loop
// frames carry no MOP code byte of their own; they are demultiplexed
// by the caller on a dedicated loop EtherType/SAP rather than through
// DecodeMopMessage.

// MaxLoopForwarders bounds the forwarder chain length (spec §4.8).
const MaxLoopForwarders = 3

// HandleLoopFrame processes one inbound loop-protocol frame addressed
// to this node: a LoopFwd relays to its named destination, a
// LoopReply is handed back to the originator via the receipts table,
// anything else is dropped.
func (e *Engine) HandleLoopFrame(raw []byte) {
	if fwd, _, err := packet.DecodeLoopFwd(raw); err == nil {
		_ = e.Port.Send(fwd.Dest, fwd.Payload)
		return
	}
	if reply, _, err := packet.DecodeLoopReply(raw); err == nil {
		e.deliver(reply.Receipt, reply)
		return
	}
}

// StartLoop sends a loop request through the given forwarder chain
// (at most MaxLoopForwarders hops) terminating at self, and returns a
// channel that receives the matching *packet.LoopReply.
func (e *Engine) StartLoop(forwarders [][6]byte, payload []byte) <-chan interface{} {
	if len(forwarders) > MaxLoopForwarders {
		forwarders = forwarders[:MaxLoopForwarders]
	}
	receipt := e.receipts.Next()
	ch := make(chan interface{}, 1)
	e.mu.Lock()
	e.pending[receipt] = &pendingRequest{result: ch}
	e.mu.Unlock()

	reply := &packet.LoopReply{Receipt: receipt, Payload: payload}
	frame := reply.Encode()
	for i := len(forwarders) - 1; i >= 0; i-- {
		fwd := &packet.LoopFwd{Dest: forwarders[i], Payload: frame}
		frame = fwd.Encode()
	}
	if len(forwarders) == 0 {
		_ = e.Port.SendMulticast(frame)
		return ch
	}
	_ = e.Port.Send(forwarders[0], frame)
	return ch
}
