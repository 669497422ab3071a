package datalink

import (
	"context"
	"net"

	"golang.org/x/net/ipv4"

	"github.com/sirupsen/logrus"
)

// groupAddr is the multicast UDP endpoint MulticastUDPPort uses to
// emulate a shared LAN segment in tests; every node joins the same
// group on a given loopback or bridge interface.
const groupAddr = "239.0.6.3:6003"

// MulticastUDPPort emulates a LAN segment for more than two test
// nodes sharing one broadcast domain: unlike UDPPort's point-to-point
// socket, every participant joins the same multicast group, so a
// SendMulticast reaches every other participant the way a real LAN
// circuit's hello/routing-update multicast would, without needing raw
// capture (spec §4.9's test-tooling note).
type MulticastUDPPort struct {
	mac  [6]byte
	conn *net.UDPConn
	pkt  *ipv4.PacketConn
	log  *logrus.Entry
	recv chan Received
}

// NewMulticastUDPPort joins groupAddr on iface (empty selects the
// default interface), tagging this participant's frames with mac so
// peers can populate Received.SrcMAC despite the missing Ethernet
// header.
func NewMulticastUDPPort(iface string, mac [6]byte, log *logrus.Entry) (*MulticastUDPPort, error) {
	gaddr, err := net.ResolveUDPAddr("udp4", groupAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: gaddr.Port})
	if err != nil {
		return nil, err
	}
	pkt := ipv4.NewPacketConn(conn)

	var ifi *net.Interface
	if iface != "" {
		ifi, err = net.InterfaceByName(iface)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}
	if err := pkt.JoinGroup(ifi, gaddr); err != nil {
		conn.Close()
		return nil, err
	}

	return &MulticastUDPPort{
		mac: mac, conn: conn, pkt: pkt,
		log:  log.WithField("component", "multicast-datalink"),
		recv: make(chan Received, 256),
	}, nil
}

func (p *MulticastUDPPort) Open(ctx context.Context) error {
	go p.readLoop(ctx)
	return nil
}

func (p *MulticastUDPPort) readLoop(ctx context.Context) {
	buf := make([]byte, 65535)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, _, err := p.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.WithError(err).Warn("multicast datalink: read failed")
			continue
		}
		if n < 6 {
			continue // frame must carry at least the source MAC tag this adapter prepends
		}
		var src [6]byte
		copy(src[:], buf[:6])
		select {
		case p.recv <- Received{SrcMAC: src, Payload: append([]byte(nil), buf[6:n]...)}:
		default:
			p.log.Warn("multicast datalink: receive queue full, dropping frame")
		}
	}
}

func (p *MulticastUDPPort) Recv() <-chan Received { return p.recv }

func (p *MulticastUDPPort) Close() error {
	p.pkt.LeaveGroup(nil, mustResolve(groupAddr))
	return p.conn.Close()
}

// Send and SendMulticast are equivalent here: every participant is on
// the same shared group, so a unicast "dst" is advisory only, same as
// a real LAN circuit's multicast-or-direct choice collapses to one
// medium.
func (p *MulticastUDPPort) Send(dst [6]byte, frame []byte) error {
	return p.SendMulticast(frame)
}

func (p *MulticastUDPPort) SendMulticast(frame []byte) error {
	out := make([]byte, 0, 6+len(frame))
	out = append(out, p.mac[:]...)
	out = append(out, frame...)
	_, err := p.conn.WriteToUDP(out, mustResolve(groupAddr))
	return err
}

func (p *MulticastUDPPort) MAC() [6]byte { return p.mac }

func mustResolve(addr string) *net.UDPAddr {
	a, _ := net.ResolveUDPAddr("udp4", addr)
	return a
}
