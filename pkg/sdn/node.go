// Package sdn implements the controller, routers and end users of the simulated network.
//
// Each node owns a transport.Node and handles its own datagrams on that node's receive
// loop, one at a time. Nodes only talk to each other through datagrams, except that the
// controller holds in-process handles to the routers so it can trigger their start.
package sdn

import (
	"net"
	"strconv"

	"go.uber.org/zap"

	"github.com/appnet-org/sdnsim/pkg/logging"
	"github.com/appnet-org/sdnsim/pkg/packet"
	"github.com/appnet-org/sdnsim/pkg/topology"
	"github.com/appnet-org/sdnsim/pkg/transport"
	"github.com/appnet-org/sdnsim/pkg/transport/elements"
)

// Env is what every node needs besides its own identity.
type Env struct {
	Topology topology.Topology
	// Metrics may be nil.
	Metrics *Metrics
	// OnEvent, if set, observes protocol events. It is called from receive loops and must
	// not block.
	OnEvent EventFunc
	// TransportOptions returns extra options for the node's transport, e.g. handlers used
	// by tests to drop datagrams. May be nil.
	TransportOptions func(id topology.NodeID) []transport.Option
}

// base is the part shared by all node kinds.
type base struct {
	id   topology.NodeID
	env  Env
	tr   *transport.Node
	log  *zap.Logger
	name string
}

func newBase(env Env, id topology.NodeID) (*base, error) {
	name := nodeName(id)
	log := logging.Named(name)

	opts := []transport.Option{
		transport.WithLogger(log),
		transport.WithHandlers(elements.NewLoggingElement(log)),
	}
	if env.Metrics != nil {
		opts = append(opts, transport.WithHandlers(elements.NewMetricsElement(env.Metrics.Datagrams, name)))
	}
	if env.TransportOptions != nil {
		opts = append(opts, env.TransportOptions(id)...)
	}

	tr, err := transport.Listen(env.Topology.ListenAddr(id), opts...)
	if err != nil {
		return nil, err
	}
	return &base{id: id, env: env, tr: tr, log: log, name: name}, nil
}

func nodeName(id topology.NodeID) string {
	switch id.Kind {
	case topology.KindController:
		return "controller"
	case topology.KindRouter:
		return "router-" + strconv.Itoa(int(id.Index))
	default:
		return "enduser-" + strconv.Itoa(int(id.Index))
	}
}

// ID returns the node's identity.
func (b *base) ID() topology.NodeID {
	return b.id
}

// Addr returns the address the node listens on.
func (b *base) Addr() *net.UDPAddr {
	return b.tr.LocalAddr()
}

// Close stops the node's receive loop and releases its socket.
func (b *base) Close() error {
	return b.tr.Close()
}

func (b *base) emit(ev Event) {
	if b.env.OnEvent != nil {
		ev.Node = b.id
		b.env.OnEvent(ev)
	}
}

// send transmits pkt to node to. Failures are logged by the transport and not retried.
func (b *base) send(to topology.NodeID, pkt packet.Packet) error {
	return b.tr.Send(b.env.Topology.Addr(to), pkt)
}

// peer identifies the sender of a datagram.
func (b *base) peer(from *net.UDPAddr) (topology.NodeID, bool) {
	n, err := b.env.Topology.NodeAt(from)
	if err != nil {
		b.log.Warn("Ignoring datagram from outside the topology", zap.Stringer("from", from), zap.Error(err))
		return topology.NodeID{}, false
	}
	return n, true
}
