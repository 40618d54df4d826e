package sdn

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/appnet-org/sdnsim/pkg/packet"
	"github.com/appnet-org/sdnsim/pkg/table"
	"github.com/appnet-org/sdnsim/pkg/topology"
	"github.com/appnet-org/sdnsim/pkg/transport"
)

const waitFor = 3 * time.Second

// ==================== Topology Helpers ====================

// freeTopology returns the default topology moved to a base port whose whole range is
// currently free.
func freeTopology(t *testing.T) topology.Topology {
	t.Helper()
	topo := topology.Default()
	for attempt := 0; attempt < 50; attempt++ {
		topo.BasePort = 20000 + rand.Intn(40000)
		if rangeFree(topo) {
			return topo
		}
	}
	t.Fatal("no free port range found")
	return topo
}

func rangeFree(topo topology.Topology) bool {
	var conns []*net.UDPConn
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()
	for id := 0; id < topo.Size(); id++ {
		c, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(topo.Host), Port: topo.BasePort + id})
		if err != nil {
			return false
		}
		conns = append(conns, c)
	}
	return true
}

// ==================== Network Helpers ====================

type testNetwork struct {
	*Network
	topo    topology.Topology
	log     *EventLog
	metrics *Metrics
}

type netOption func(*Config)

func withTable(tbl table.Table) netOption {
	return func(c *Config) { c.Table = tbl }
}

func withBootstrap(b BootstrapConfig) netOption {
	return func(c *Config) { c.Bootstrap = b }
}

// withDropper drops datagrams sent by node id while drop returns true.
func withDropper(id topology.NodeID, d *dropper) netOption {
	return func(c *Config) {
		c.Env.TransportOptions = func(n topology.NodeID) []transport.Option {
			if n == id {
				return []transport.Option{transport.WithHandlers(d)}
			}
			return nil
		}
	}
}

func newTestNetwork(t *testing.T, opts ...netOption) *testNetwork {
	t.Helper()
	topo := freeTopology(t)
	log := &EventLog{}
	metrics := NewMetrics(prometheus.NewRegistry())
	cfg := Config{
		Env: Env{
			Topology: topo,
			Metrics:  metrics,
			OnEvent:  log.Record,
		},
		Table: table.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	n, err := NewNetwork(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, n.Close()) })
	return &testNetwork{Network: n, topo: topo, log: log, metrics: metrics}
}

func (tn *testNetwork) bootstrap(t *testing.T) {
	t.Helper()
	require.NoError(t, tn.Start())
	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, tn.WaitBootstrapped(ctx))
	// RouterInit notices travel after the acknowledgments.
	for _, e := range tn.EndUsers() {
		require.Eventually(t, func() bool {
			_, ok := e.Router()
			return ok
		}, waitFor, 5*time.Millisecond, "end user %s never learned its router", e.ID())
	}
}

func (tn *testNetwork) index(kind EventKind, node, peer topology.NodeID) int {
	for i, ev := range tn.log.Events() {
		if ev.Kind == kind && ev.Node == node && ev.Peer == peer {
			return i
		}
	}
	return -1
}

func receive(t *testing.T, e *EndUser) Delivery {
	t.Helper()
	select {
	case d := <-e.Deliveries():
		return d
	case <-time.After(waitFor):
		t.Fatalf("end user %s received nothing", e.ID())
		return Delivery{}
	}
}

// ==================== Dropper ====================

// dropper vetoes sends of one packet type, the first remaining times (forever if
// remaining is negative).
type dropper struct {
	mu        sync.Mutex
	kind      packet.PacketType
	remaining int
	dropped   int
}

func (d *dropper) OnReceive(packet.Packet, *net.UDPAddr) error { return nil }

func (d *dropper) OnSend(pkt packet.Packet, _ *net.UDPAddr) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pkt.Type() != d.kind || d.remaining == 0 {
		return nil
	}
	if d.remaining > 0 {
		d.remaining--
	}
	d.dropped++
	return errDropped
}

func (d *dropper) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

var errDropped = errors.New("dropped by test")

// ==================== Fake Peers ====================

type datagram struct {
	pkt  packet.Packet
	from *net.UDPAddr
}

// fakePeer is a bare transport node bound at a topology address, used to play the
// controller, a router or an end user against a single real node.
type fakePeer struct {
	*transport.Node
	topo topology.Topology
	in   chan datagram
}

func newFakePeer(t *testing.T, topo topology.Topology, id topology.NodeID) *fakePeer {
	t.Helper()
	n, err := transport.Listen(topo.ListenAddr(id))
	require.NoError(t, err)
	p := &fakePeer{Node: n, topo: topo, in: make(chan datagram, 32)}
	n.Serve(func(pkt packet.Packet, from *net.UDPAddr) {
		p.in <- datagram{pkt: pkt, from: from}
	})
	t.Cleanup(func() { require.NoError(t, n.Close()) })
	return p
}

func (p *fakePeer) sendTo(t *testing.T, id topology.NodeID, pkt packet.Packet) {
	t.Helper()
	require.NoError(t, p.Send(p.topo.Addr(id), pkt))
}

func (p *fakePeer) next(t *testing.T) datagram {
	t.Helper()
	select {
	case d := <-p.in:
		return d
	case <-time.After(waitFor):
		t.Fatal("fake peer received nothing")
		return datagram{}
	}
}

func (p *fakePeer) nothing(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case got := <-p.in:
		t.Fatalf("unexpected %s datagram", got.pkt.Type())
	case <-time.After(d):
	}
}
