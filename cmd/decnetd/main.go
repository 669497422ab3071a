// Command decnetd runs a single DECnet routing node: it loads a node
// configuration, wires up its configured circuits over the datalink
// layer, and drives the node's event loop until interrupted.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kprusa/decnet/internal/circuit"
	"github.com/kprusa/decnet/internal/config"
	"github.com/kprusa/decnet/internal/datalink"
	"github.com/kprusa/decnet/internal/event"
	"github.com/kprusa/decnet/internal/mop"
	"github.com/kprusa/decnet/internal/node"
	"github.com/kprusa/decnet/internal/packet"
	"github.com/kprusa/decnet/internal/routing"
	"github.com/kprusa/decnet/internal/timer"
	"github.com/kprusa/decnet/pkg/dnaddr"
)

const (
	timerResolution     = 100 * time.Millisecond
	timerMaxTime        = 1 * time.Hour
	defaultConsoleCmdSz = 1500
	minRouterBlk        = 1
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "decnetd",
		Short: "DECnet routing node daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, logLevel)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "decnet.yaml", "path to node configuration")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	return cmd
}

func run(configPath, logLevel string) error {
	log := logrus.New()
	if lvl, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(lvl)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	self, err := cfg.ParseAddress()
	if err != nil {
		return fmt.Errorf("parse node address: %w", err)
	}

	entry := log.WithField("node", cfg.Name)
	events := event.NewLogger(entry)
	wheel := timer.NewWheel(timerResolution, timerMaxTime, entry)

	routingCfg := routing.Config{
		MaxHops:   byte(cfg.Routing.MaxHops),
		MaxCost:   uint16(cfg.Routing.MaxCost),
		MaxArea:   cfg.Routing.MaxArea,
		MaxVisits: byte(cfg.Routing.MaxVisits),
	}
	core := routing.NewCore(self, routingCfg, events, entry)

	reg := prometheus.NewRegistry()
	namespace := "decnet"
	if cfg.Metrics.Namespace != "" {
		namespace = cfg.Metrics.Namespace
	}
	n := node.New(self, events, core, wheel, reg, namespace, entry)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	receipts := &mop.ReceiptGenerator{}
	if err := wireCircuits(ctx, n, cfg, self, core, events, wheel, receipts, entry); err != nil {
		return fmt.Errorf("wire circuits: %w", err)
	}

	go wheel.Run()
	defer wheel.Shutdown()

	entry.WithField("address", self.String()).Info("decnetd: starting")
	return n.Run(ctx)
}

// wireCircuits builds one datalink Port, circuit state machine,
// routing update process, and (on LAN circuits, if enabled) MOP
// engine per configured circuit, then registers each with the
// orchestrator.
func wireCircuits(ctx context.Context, n *node.Node, cfg config.Node, self dnaddr.Address, core *routing.Core, events *event.Logger, wheel *timer.Wheel, receipts *mop.ReceiptGenerator, log *logrus.Entry) error {
	for _, cc := range cfg.Circuits {
		clog := log.WithField("circuit", cc.Name)

		port, peerMAC, err := buildPort(ctx, cc, clog)
		if err != nil {
			return fmt.Errorf("circuit %s: %w", cc.Name, err)
		}

		switch cc.Kind {
		case config.CircuitPtp:
			pc := circuit.NewPtp(ptpConfigFrom(self, cfg, cc), datalink.NewPtpAdapter(port, peerMAC), core, events, wheel, clog)
			pc.DataHandler = n.ForwardData
			n.AddCircuit(cc.Name, pc, port)
			up := routing.NewUpdateProcess(core, packet.LevelL1, pc, minRouterBlk, wheel, cfg.Routing.T1, cfg.Routing.T2)
			up.Start()

		case config.CircuitLan:
			lanPort, ok := port.(lanCapable)
			if !ok {
				return fmt.Errorf("circuit %s: transport does not support LAN multicast", cc.Name)
			}
			lc := circuit.NewLan(lanConfigFrom(self, cfg, cc), lanPort, core, events, wheel, clog)
			lc.DataHandler = n.ForwardData
			n.AddCircuit(cc.Name, lc, port)
			up := routing.NewUpdateProcess(core, packet.LevelL1, lc, minRouterBlk, wheel, cfg.Routing.T1, cfg.Routing.T2)
			up.Start()

			if cfg.MOP.Enabled {
				e := mop.NewEngine(mopConfigFrom(self, cfg), lanPort, receipts, events, wheel, clog)
				n.AddMOP(cc.Name, e)
			}
		}

		pumpReceives(ctx, n, cc.Name, port, clog)
		if cc.Transport == config.TransportRaw {
			startLinkWatch(ctx, n, cc, clog)
		}
	}
	return nil
}

// lanCapable is the subset of datalink.Port the LAN circuit/MOP
// engine additionally require (multicast send, own MAC query); both
// Loopback and UDPPort satisfy it structurally.
type lanCapable interface {
	datalink.Port
	SendMulticast(frame []byte) error
	MAC() [6]byte
}

func buildPort(ctx context.Context, cc config.Circuit, log *logrus.Entry) (datalink.Port, [6]byte, error) {
	switch cc.Transport {
	case config.TransportUDP:
		peerMAC, err := parseMAC(cc.PeerMAC)
		if err != nil {
			return nil, [6]byte{}, err
		}
		p, err := datalink.NewUDPPort(cc.Listen, cc.Peer, peerMAC, log)
		if err != nil {
			return nil, [6]byte{}, err
		}
		if err := p.Open(ctx); err != nil {
			return nil, [6]byte{}, err
		}
		return p, peerMAC, nil

	case config.TransportMulticast:
		mac, err := parseMAC(cc.MAC)
		if err != nil {
			return nil, [6]byte{}, err
		}
		p, err := datalink.NewMulticastUDPPort(cc.Iface, mac, log)
		if err != nil {
			return nil, [6]byte{}, err
		}
		if err := p.Open(ctx); err != nil {
			return nil, [6]byte{}, err
		}
		return p, [6]byte{}, nil

	case config.TransportRaw:
		p, err := buildRawPort(ctx, cc, log)
		return p, [6]byte{}, err

	default:
		return nil, [6]byte{}, fmt.Errorf("circuit %s: loopback transport requires a paired peer, configure both ends via code not decnetd", cc.Name)
	}
}

// recvPort is satisfied by every non-loopback Port this daemon builds
// (UDPPort, MulticastUDPPort, and the Linux-only RawSocketPort);
// matching it structurally avoids main.go needing a platform-specific
// import for the raw transport.
type recvPort interface {
	Recv() <-chan datalink.Received
}

// pumpReceives drains a socket-backed port's receive channel into the
// node's work queue; Loopback ports deliver directly into their own
// Inbox and are wired the same way by test harnesses, not by decnetd.
func pumpReceives(ctx context.Context, n *node.Node, circuitName string, port datalink.Port, log *logrus.Entry) {
	rp, ok := port.(recvPort)
	if !ok {
		return
	}
	recv := rp.Recv()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-recv:
				if !ok {
					return
				}
				n.PostFrame(datalink.Received{Circuit: circuitName, SrcMAC: r.SrcMAC, Payload: r.Payload})
			}
		}
	}()
	_ = log
}

func parseMAC(s string) ([6]byte, error) {
	var mac [6]byte
	if s == "" {
		return mac, nil
	}
	n, err := fmt.Sscanf(s, "%02x:%02x:%02x:%02x:%02x:%02x", &mac[0], &mac[1], &mac[2], &mac[3], &mac[4], &mac[5])
	if err != nil || n != 6 {
		return mac, fmt.Errorf("invalid MAC %q", s)
	}
	return mac, nil
}

func ptpConfigFrom(self dnaddr.Address, cfg config.Node, cc config.Circuit) circuit.PtpConfig {
	return circuit.PtpConfig{
		Self:         self,
		Phase:        initKindFor(cfg.Phase),
		NType:        nTypeFor(cfg.Kind),
		BlkSize:      uint16(cc.BlkSize),
		Verification: []byte(cc.Verification),
		HelloT3:      cc.HelloT3,
		ListenT4:     cc.ListenT4,
		MinBackoff:   cc.MinBackoff,
		MaxBackoff:   cc.MaxBackoff,
	}
}

func lanConfigFrom(self dnaddr.Address, cfg config.Node, cc config.Circuit) circuit.LanConfig {
	return circuit.LanConfig{
		Self:     self,
		IsRouter: cfg.Kind == config.KindL1Router || cfg.Kind == config.KindL2Router,
		NR:       cc.NR,
		Prio:     byte(cc.Priority),
		BlkSize:  uint16(cc.BlkSize),
		HelloT3:  cc.HelloT3,
		T2:       cfg.Routing.T2,
		DRDelay:  cc.DRDelay,
		ListenT4: cc.ListenT4,
	}
}

func mopConfigFrom(self dnaddr.Address, cfg config.Node) mop.Config {
	var verif []byte
	if cfg.MOP.ConsoleVerif != "" {
		verif = []byte(cfg.MOP.ConsoleVerif)
	}
	return mop.Config{
		Self:             self,
		Services:         cfg.MOP.Services,
		ConsoleVerif:     verif,
		ConsoleCmdSz:     defaultConsoleCmdSz,
		SysIdMinInterval: cfg.MOP.SysIdMinInterval,
		SysIdMaxInterval: cfg.MOP.SysIdMaxInterval,
	}
}

func initKindFor(phase int) packet.InitKind {
	switch phase {
	case 2:
		return packet.InitPhase2
	case 3:
		return packet.InitPhase3
	default:
		return packet.InitPhase4
	}
}

func nTypeFor(kind config.NodeKind) packet.NType {
	switch kind {
	case config.KindL2Router:
		return packet.NTypeL2Router
	case config.KindL1Router:
		return packet.NTypeL1Router
	case config.KindPhase2:
		return packet.NTypePhase2
	default:
		return packet.NTypeEndnode
	}
}
