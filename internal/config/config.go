// Package config defines the typed structures a node is configured
// from. Parsing the YAML document into these structs is the only
// concern this package owns; validating cross-field invariants and
// wiring the result into running components belongs to the node
// orchestrator.
package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/kprusa/decnet/pkg/dnaddr"
)

// NodeKind selects the routing role a node plays (spec §1).
type NodeKind string

const (
	KindEndnode    NodeKind = "endnode"
	KindL1Router   NodeKind = "l1router"
	KindL2Router   NodeKind = "l2router"
	KindPhase2 NodeKind = "phase2"
)

// Node is the top-level configuration document for one DECnet node.
type Node struct {
	Name     string    `yaml:"name"`
	Address  string    `yaml:"address"` // "area.id" form, parsed via dnaddr.Parse
	Kind     NodeKind  `yaml:"kind"`
	Phase    int       `yaml:"phase"` // 2, 3, or 4
	Routing  Routing   `yaml:"routing"`
	Circuits []Circuit `yaml:"circuits"`
	MOP      MOP       `yaml:"mop"`
	Metrics  Metrics   `yaml:"metrics"`
}

// Routing bounds the decision/update processes (spec §4.6).
type Routing struct {
	MaxHops   int           `yaml:"max_hops"`
	MaxCost   int           `yaml:"max_cost"`
	MaxArea   int           `yaml:"max_area"`
	MaxVisits int           `yaml:"max_visits"`
	T1        time.Duration `yaml:"t1"`
	T2        time.Duration `yaml:"t2"`
}

// CircuitKind discriminates the two circuit state machines (spec
// §4.4/§4.5).
type CircuitKind string

const (
	CircuitPtp CircuitKind = "ptp"
	CircuitLan CircuitKind = "lan"
)

// CircuitTransport selects which datalink.Port implementation backs a
// configured circuit (spec §4.9's test-tooling adapters).
type CircuitTransport string

const (
	TransportLoopback  CircuitTransport = "loopback"
	TransportUDP       CircuitTransport = "udp"
	TransportMulticast CircuitTransport = "multicast"
	TransportRaw       CircuitTransport = "raw" // real NIC via AF_PACKET, Linux only
)

// Circuit configures one PtP or LAN circuit instance.
type Circuit struct {
	Name         string           `yaml:"name"`
	Kind         CircuitKind      `yaml:"kind"`
	Transport    CircuitTransport `yaml:"transport"`
	Listen       string           `yaml:"listen"` // udp transport: local "host:port"
	Peer         string           `yaml:"peer"`   // udp transport: remote "host:port"
	PeerMAC      string           `yaml:"peer_mac"`
	Iface        string           `yaml:"iface"` // multicast/raw transport: host interface name
	MAC          string           `yaml:"mac"`   // multicast transport: this participant's synthetic MAC
	BlkSize      int              `yaml:"blksize"`
	Verification string           `yaml:"verification"`
	HelloT3      time.Duration    `yaml:"hello_t3"`
	ListenT4     time.Duration    `yaml:"listen_t4"`
	MinBackoff   time.Duration    `yaml:"min_backoff"`
	MaxBackoff   time.Duration    `yaml:"max_backoff"`
	NR           int              `yaml:"nr"` // LAN: max routers adjacency maintains
	Priority     int              `yaml:"priority"`
	DRDelay      time.Duration    `yaml:"dr_delay"`
}

// MOP configures the per-node MOP engine (spec §4.8).
type MOP struct {
	Enabled          bool          `yaml:"enabled"`
	Services         byte          `yaml:"services"`
	ConsoleVerif     string        `yaml:"console_verification"`
	SysIdMinInterval time.Duration `yaml:"sysid_min_interval"`
	SysIdMaxInterval time.Duration `yaml:"sysid_max_interval"`
}

// Metrics configures Prometheus registration only; exposition (an
// HTTP listener) is out of scope (spec §1 Non-goals).
type Metrics struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns a Node with the spec's recommended defaults applied
// (spec §4.6, §4.8 suggested timer values).
func Default() Node {
	return Node{
		Phase: 4,
		Routing: Routing{
			MaxHops: 30, MaxCost: 1022, MaxArea: 63, MaxVisits: 63,
			T1: 40 * time.Second, T2: 4 * time.Second,
		},
		MOP: MOP{
			Services:         0,
			SysIdMinInterval: 8 * time.Minute,
			SysIdMaxInterval: 12 * time.Minute,
		},
		Metrics: Metrics{Namespace: "decnet"},
	}
}

// Load reads and parses a node configuration document from path,
// applying Default() first so unset fields keep their recommended
// values.
func Load(path string) (Node, error) {
	n := Default()
	f, err := os.Open(path)
	if err != nil {
		return Node{}, errors.Wrapf(err, "config: open %s", path)
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	if err := dec.Decode(&n); err != nil {
		return Node{}, errors.Wrapf(err, "config: parse %s", path)
	}
	return n, nil
}

// ParseAddress parses the node's configured "area.id" address.
func (n Node) ParseAddress() (dnaddr.Address, error) {
	return dnaddr.Parse(n.Address)
}
