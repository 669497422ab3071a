package datalink

import (
	"context"
	"net"

	"github.com/sirupsen/logrus"
)

// UDPPort substitutes a UDP socket for a real LAN segment (spec
// §4.9's test-tooling note: "no real pcap capture"). Frames are
// DECnet/MOP payloads only; there is no Ethernet header, so the peer
// MAC must be supplied out of band by the caller's configuration.
type UDPPort struct {
	conn    *net.UDPConn
	peer    *net.UDPAddr
	peerMAC [6]byte
	log     *logrus.Entry
	recv    chan Received
}

// NewUDPPort binds localAddr and targets peerAddr, tagging inbound
// frames with peerMAC so the circuit layer can treat them like LAN
// frames despite the missing Ethernet header.
func NewUDPPort(localAddr, peerAddr string, peerMAC [6]byte, log *logrus.Entry) (*UDPPort, error) {
	la, err := net.ResolveUDPAddr("udp", localAddr)
	if err != nil {
		return nil, err
	}
	pa, err := net.ResolveUDPAddr("udp", peerAddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", la)
	if err != nil {
		return nil, err
	}
	return &UDPPort{conn: conn, peer: pa, peerMAC: peerMAC, log: log.WithField("component", "udp-datalink"), recv: make(chan Received, 64)}, nil
}

func (p *UDPPort) Open(ctx context.Context) error {
	go p.readLoop(ctx)
	return nil
}

func (p *UDPPort) readLoop(ctx context.Context) {
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
			p.log.WithError(err).Warn("udp datalink: read failed")
			continue
		}
		select {
		case p.recv <- Received{SrcMAC: p.peerMAC, Payload: append([]byte(nil), buf[:n]...)}:
		default:
			p.log.Warn("udp datalink: receive queue full, dropping frame")
		}
	}
}

func (p *UDPPort) Recv() <-chan Received { return p.recv }

func (p *UDPPort) Close() error { return p.conn.Close() }

func (p *UDPPort) Send(dst [6]byte, frame []byte) error {
	_, err := p.conn.WriteToUDP(frame, p.peer)
	return err
}

func (p *UDPPort) SendMulticast(frame []byte) error {
	return p.Send(p.peerMAC, frame)
}

func (p *UDPPort) MAC() [6]byte { return p.peerMAC }
