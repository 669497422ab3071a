//go:build linux

package datalink

import (
	"context"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"github.com/sirupsen/logrus"
)

// RawSocketPort sends and receives frames over a real Ethernet
// interface via an AF_PACKET socket, the production counterpart to
// UDPPort's test substitute. A classic BPF program installed at Open
// time restricts the kernel to handing back only DECnet/MOP
// EtherTypes, so the read loop never has to filter out unrelated
// traffic sharing the NIC.
type RawSocketPort struct {
	ifindex int
	mac     [6]byte
	ether   FrameEthernet
	fd      int
	log     *logrus.Entry
	recv    chan Received
}

// NewRawSocketPort opens an AF_PACKET socket bound to ifaceName.
func NewRawSocketPort(ifaceName string, log *logrus.Entry) (*RawSocketPort, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, err
	}
	iface, err := ifaceByName(ifaceName)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	sa := &unix.SockaddrLinklayer{Protocol: htons(unix.ETH_P_ALL), Ifindex: iface.index}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := installDecnetFilter(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return &RawSocketPort{
		ifindex: iface.index, mac: iface.mac, fd: fd,
		ether: FrameEthernet{Src: iface.mac, EtherType: EtherTypeDECnet},
		log:   log.WithField("component", "raw-datalink").WithField("iface", ifaceName),
		recv:  make(chan Received, 256),
	}, nil
}

// installDecnetFilter attaches a classic BPF program selecting only
// frames whose 802.3 EtherType equals DECnet or MOP; everything else
// is dropped by the kernel before it reaches userspace.
func installDecnetFilter(fd int) error {
	prog, err := bpf.Assemble([]bpf.Instruction{
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: EtherTypeDECnet, SkipTrue: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: EtherTypeMOP, SkipTrue: 1},
		bpf.RetConstant{Val: 0},
		bpf.RetConstant{Val: 65535},
	})
	if err != nil {
		return err
	}
	raw := make([]unix.SockFilter, len(prog))
	for i, ins := range prog {
		raw[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	sf := unix.SockFprog{Len: uint16(len(raw)), Filter: &raw[0]}
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &sf)
}

func (p *RawSocketPort) Open(ctx context.Context) error {
	go p.readLoop(ctx)
	return nil
}

func (p *RawSocketPort) readLoop(ctx context.Context) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, _, err := unix.Recvfrom(p.fd, buf, 0)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.WithError(err).Warn("raw datalink: recvfrom failed")
			continue
		}
		src, etherType, payload, ok := UnwrapEthernet(buf[:n])
		if !ok || (etherType != EtherTypeDECnet && etherType != EtherTypeMOP) {
			continue
		}
		select {
		case p.recv <- Received{SrcMAC: src, Payload: payload}:
		default:
			p.log.Warn("raw datalink: receive queue full, dropping frame")
		}
	}
}

func (p *RawSocketPort) Recv() <-chan Received { return p.recv }

func (p *RawSocketPort) Close() error { return unix.Close(p.fd) }

func (p *RawSocketPort) Send(dst [6]byte, frame []byte) error {
	eth, err := p.ether.Wrap(dst, frame)
	if err != nil {
		return err
	}
	sa := &unix.SockaddrLinklayer{Ifindex: p.ifindex, Halen: 6}
	copy(sa.Addr[:6], dst[:])
	return unix.Sendto(p.fd, eth, 0, sa)
}

func (p *RawSocketPort) SendMulticast(frame []byte) error {
	return p.Send([6]byte{0x09, 0x00, 0x2B, 0x00, 0x00, 0x0F}, frame)
}

func (p *RawSocketPort) MAC() [6]byte { return p.mac }

// htons converts a 16-bit value to network byte order, needed because
// AF_PACKET's protocol field is compared against the wire's
// big-endian EtherType on little-endian hosts.
func htons(v uint16) uint16 {
	return (v<<8)&0xff00 | v>>8
}
