//go:build linux

package datalink

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// netIface is the subset of netlink.Link's attributes RawSocketPort
// needs to bind and address its frames.
type netIface struct {
	index int
	mac   [6]byte
}

func ifaceByName(name string) (netIface, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return netIface{}, err
	}
	attrs := link.Attrs()
	var mac [6]byte
	copy(mac[:], attrs.HardwareAddr)
	return netIface{index: attrs.Index, mac: mac}, nil
}

// LinkWatcher reports a named interface's real carrier state as
// DlStatus transitions, independent of the circuit state machine's
// own hello/listen timers: a NIC going administratively or physically
// down is a datalink event the circuit above it reacts to (spec
// §4.1's DlStatus work item), not something hello timeouts alone
// would catch promptly.
type LinkWatcher struct {
	Circuit string
	ifname  string
	log     *logrus.Entry
	Events  chan DlStatus
}

// NewLinkWatcher builds a watcher for circuit's underlying interface
// ifname; call Run to start delivering transitions.
func NewLinkWatcher(circuit, ifname string, log *logrus.Entry) *LinkWatcher {
	return &LinkWatcher{
		Circuit: circuit, ifname: ifname,
		log:    log.WithField("component", "linkwatch").WithField("iface", ifname),
		Events: make(chan DlStatus, 16),
	}
}

// Run subscribes to netlink link updates and translates the ones
// matching this watcher's interface into DlStatus events until ctx is
// cancelled.
func (w *LinkWatcher) Run(ctx context.Context) error {
	updates := make(chan netlink.LinkUpdate)
	done := make(chan struct{})
	defer close(done)
	if err := netlink.LinkSubscribe(updates, done); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-updates:
			if !ok {
				return nil
			}
			if u.Attrs().Name != w.ifname {
				continue
			}
			status := StatusDown
			if u.Attrs().OperState == netlink.OperUp {
				status = StatusUp
			}
			select {
			case w.Events <- DlStatus{Circuit: w.Circuit, Status: status}:
			default:
				w.log.Warn("linkwatch: event queue full, dropping transition")
			}
		}
	}
}
