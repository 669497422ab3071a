// Package datalink implements the Port contract circuits and the MOP
// engine send/receive frames through (spec §4.1, §4.9): open/close,
// send, and the status/received work items a circuit reacts to.
package datalink

import (
	"context"
	"sync"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"
)

// Status is a datalink's up/down condition, delivered as a DlStatus
// work item to the owning circuit.
type Status int

const (
	StatusDown Status = iota
	StatusUp
)

func (s Status) String() string {
	if s == StatusUp {
		return "up"
	}
	return "down"
}

// Received is a frame lifted off a Port, tagged with the Port it
// arrived on so the node orchestrator can route it to the right
// circuit.
type Received struct {
	Circuit string
	SrcMAC  [6]byte
	Payload []byte
}

// DlStatus is a link-state transition, similarly tagged.
type DlStatus struct {
	Circuit string
	Status  Status
}

// Port is the datalink contract a circuit sends frames through and
// receives status/data events from. LAN ports additionally implement
// LanPort (circuit.LanPort) for multicast and MAC queries.
type Port interface {
	Open(ctx context.Context) error
	Close() error
	Send(dst [6]byte, frame []byte) error
}

// EtherType is the DECnet Phase IV/MOP SAP carried in the 802.3
// length/ethertype field (spec §3).
const (
	EtherTypeDECnet = 0x6003
	EtherTypeMOP    = 0x6002
)

// FrameEthernet is the gopacket-backed Ethernet framer LAN ports use
// to wrap/unwrap outgoing and incoming payloads (spec §4.9's "LAN
// datalink" adapter).
type FrameEthernet struct {
	Src       [6]byte
	EtherType uint16
}

// Wrap builds a full Ethernet II frame around payload.
func (f FrameEthernet) Wrap(dst [6]byte, payload []byte) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       macOf(f.Src),
		DstMAC:       macOf(dst),
		EthernetType: layers.EthernetType(f.EtherType),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unwrap parses an Ethernet II frame, returning the source MAC and
// payload if its ethertype matches f.EtherType.
func (f FrameEthernet) Unwrap(frame []byte) (src [6]byte, payload []byte, ok bool) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return src, nil, false
	}
	eth := ethLayer.(*layers.Ethernet)
	if uint16(eth.EthernetType) != f.EtherType {
		return src, nil, false
	}
	copy(src[:], eth.SrcMAC)
	return src, append([]byte(nil), eth.Payload...), true
}

func macOf(b [6]byte) []byte {
	return append([]byte(nil), b[:]...)
}

// UnwrapEthernet parses an Ethernet II frame without restricting by
// ethertype, for ports (e.g. RawSocketPort) whose single socket
// carries more than one protocol's traffic and must demultiplex on
// the parsed ethertype itself rather than reject anything but one.
func UnwrapEthernet(frame []byte) (src [6]byte, etherType uint16, payload []byte, ok bool) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer := pkt.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return src, 0, nil, false
	}
	eth := ethLayer.(*layers.Ethernet)
	copy(src[:], eth.SrcMAC)
	return src, uint16(eth.EthernetType), append([]byte(nil), eth.Payload...), true
}

// Registry tracks every open Port by circuit name, so the node
// orchestrator can fan inbound frames out without each circuit owning
// its own goroutine.
type Registry struct {
	mu    sync.RWMutex
	ports map[string]Port
	log   *logrus.Entry
}

func NewRegistry(log *logrus.Entry) *Registry {
	return &Registry{ports: make(map[string]Port), log: log.WithField("component", "datalink")}
}

func (r *Registry) Add(name string, p Port) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ports[name] = p
}

func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ports, name)
}

func (r *Registry) Get(name string) (Port, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.ports[name]
	return p, ok
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, p := range r.ports {
		if err := p.Close(); err != nil {
			r.log.WithError(err).WithField("circuit", name).Warn("datalink: close failed")
		}
	}
}
