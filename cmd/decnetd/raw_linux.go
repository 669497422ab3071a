//go:build linux

package main

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/kprusa/decnet/internal/config"
	"github.com/kprusa/decnet/internal/datalink"
	"github.com/kprusa/decnet/internal/node"
)

func buildRawPort(ctx context.Context, cc config.Circuit, log *logrus.Entry) (datalink.Port, error) {
	p, err := datalink.NewRawSocketPort(cc.Iface, log)
	if err != nil {
		return nil, err
	}
	if err := p.Open(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// startLinkWatch feeds real carrier transitions on cc's interface into
// the node's work queue, independent of the circuit's own timers.
func startLinkWatch(ctx context.Context, n *node.Node, cc config.Circuit, log *logrus.Entry) {
	if cc.Iface == "" {
		return
	}
	w := datalink.NewLinkWatcher(cc.Name, cc.Iface, log)
	go func() {
		if err := w.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("decnetd: link watcher stopped")
		}
	}()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case s := <-w.Events:
				n.PostStatus(s)
			}
		}
	}()
}
