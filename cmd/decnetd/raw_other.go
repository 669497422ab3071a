//go:build !linux

package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kprusa/decnet/internal/config"
	"github.com/kprusa/decnet/internal/datalink"
	"github.com/kprusa/decnet/internal/node"
)

func buildRawPort(ctx context.Context, cc config.Circuit, log *logrus.Entry) (datalink.Port, error) {
	return nil, fmt.Errorf("raw transport requires Linux (AF_PACKET); use udp or multicast instead")
}

func startLinkWatch(ctx context.Context, n *node.Node, cc config.Circuit, log *logrus.Entry) {}
