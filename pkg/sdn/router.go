package sdn

import (
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/appnet-org/sdnsim/pkg/packet"
	"github.com/appnet-org/sdnsim/pkg/table"
	"github.com/appnet-org/sdnsim/pkg/topology"
)

// RouterState is the bootstrap progress of a router.
type RouterState int

const (
	RouterUninitialized RouterState = iota
	RouterAwaitingTable
	RouterBootstrapped
)

func (s RouterState) String() string {
	switch s {
	case RouterUninitialized:
		return "uninitialized"
	case RouterAwaitingTable:
		return "awaiting-table"
	case RouterBootstrapped:
		return "bootstrapped"
	}
	return fmt.Sprintf("RouterState(%d)", int(s))
}

// Router forwards end user messages according to the partition the controller installed.
type Router struct {
	*base

	mu        sync.Mutex
	state     RouterState
	partition table.Table
	attached  topology.NodeID
}

// NewRouter binds router k and starts its receive loop. The router stays idle until Start.
func NewRouter(env Env, k uint8) (*Router, error) {
	id, err := env.Topology.Router(k)
	if err != nil {
		return nil, err
	}
	b, err := newBase(env, id)
	if err != nil {
		return nil, fmt.Errorf("router %d: %w", k, err)
	}
	r := &Router{base: b}
	r.tr.Serve(r.onReceipt)
	return r, nil
}

// Start sends Hello to the controller. The controller calls it when the previous router
// acknowledged its table; calling it again repeats the Hello.
func (r *Router) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == RouterUninitialized {
		r.state = RouterAwaitingTable
	}
	r.emit(Event{Kind: EventHelloSent, Peer: r.env.Topology.Controller()})
	if err := r.send(r.env.Topology.Controller(), &packet.HelloPacket{}); err != nil {
		return err
	}
	r.log.Info("Sent a Hello packet to the controller")
	return nil
}

// State returns the router's bootstrap state.
func (r *Router) State() RouterState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Partition returns the installed rules. The slice must not be modified.
func (r *Router) Partition() table.Table {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.partition
}

// AttachedEndUser returns the end user directly connected to this router, if any.
func (r *Router) AttachedEndUser() (topology.NodeID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attached, r.attached.IsValid()
}

func (r *Router) onReceipt(pkt packet.Packet, from *net.UDPAddr) {
	sender, ok := r.peer(from)
	if !ok {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if sender.Kind == topology.KindController {
		r.handleControllerPacket(pkt)
		return
	}
	msg, ok := pkt.(*packet.MessagePacket)
	if !ok {
		r.log.Debug("Ignoring non-message packet from peer",
			zap.Stringer("peer", sender), zap.String("packetType", pkt.Type().Name))
		return
	}
	r.handleMessage(msg, sender)
}

func (r *Router) handleControllerPacket(pkt packet.Packet) {
	switch p := pkt.(type) {
	case *packet.HelloPacket:
		r.log.Info("Handshake confirmed by the controller")
		r.emit(Event{Kind: EventHandshakeConfirmed, Peer: r.env.Topology.Controller()})

	case *packet.FlowModPacket:
		r.installTable(p)

	case *packet.FlowRemovedPacket:
		r.log.Info("Packet dropped at instruction of the controller")
		ev := Event{Kind: EventDropped, Peer: r.env.Topology.Controller()}
		if orig, _, err := packet.Deserialize(p.Original()); err == nil {
			if msg, ok := orig.(*packet.MessagePacket); ok {
				ev.Src, _ = r.env.Topology.Node(msg.Src)
				ev.Dst, _ = r.env.Topology.Node(msg.Dst)
			}
		}
		r.emit(ev)
		if m := r.env.Metrics; m != nil {
			m.DroppedTotal.WithLabelValues(r.name).Inc()
		}

	default:
		r.log.Debug("Ignoring packet from the controller", zap.String("packetType", pkt.Type().Name))
	}
}

// installTable replaces the partition, acknowledges it and tells the attached end user
// about this router. Installing the same partition twice yields the same state.
func (r *Router) installTable(p *packet.FlowModPacket) {
	part, err := table.Decode(r.env.Topology, p.Rows)
	if err != nil {
		r.log.Error("Rejecting malformed flow table", zap.Error(err))
		return
	}
	for _, rule := range part {
		if rule.Router != r.id {
			r.log.Error("Rejecting flow table with a rule for another router", zap.Stringer("rule", rule))
			return
		}
	}

	r.partition = part
	r.state = RouterBootstrapped
	r.log.Info("Installed flow table", zap.Int("rules", len(part)))
	r.emit(Event{Kind: EventTableInstalled, Peer: r.env.Topology.Controller()})

	ack, err := table.Encode(part)
	if err != nil {
		r.log.Error("Encoding flow table acknowledgment", zap.Error(err))
		return
	}
	if err := r.send(r.env.Topology.Controller(), &packet.FlowModPacket{Rows: ack}); err == nil {
		r.log.Info("Sent acknowledgment to the controller")
	}

	attached, ok := part.AttachedEndUser()
	if !ok {
		r.attached = topology.NodeID{}
		r.log.Info("This router is not connected to an end user")
		return
	}
	r.attached = attached
	r.log.Info("This router is connected to an end user", zap.Stringer("endUser", attached))
	if err := r.send(attached, &packet.RouterInitPacket{}); err == nil {
		r.emit(Event{Kind: EventAttachmentNotified, Peer: attached})
	}
}

// handleMessage forwards msg along the first rule matching (source, destination, previous
// hop), or escalates it to the controller when no rule matches.
func (r *Router) handleMessage(msg *packet.MessagePacket, prev topology.NodeID) {
	src, srcErr := r.env.Topology.Node(msg.Src)
	dst, dstErr := r.env.Topology.Node(msg.Dst)

	var (
		rule  table.Rule
		found bool
	)
	if srcErr == nil && dstErr == nil {
		rule, found = r.partition.Lookup(src, dst, prev)
	}
	if !found {
		r.escalate(msg, prev, src, dst)
		return
	}

	if err := r.send(rule.Next, msg); err != nil {
		r.log.Warn("Forwarding failed, message lost",
			zap.Stringer("nextHop", rule.Next), zap.Error(err))
		return
	}
	r.log.Info("Packet forwarded",
		zap.Stringer("from", prev),
		zap.Stringer("nextHop", rule.Next),
		zap.Stringer("nextHopKind", rule.Next.Kind))
	r.emit(Event{Kind: EventForwarded, Peer: rule.Next, Src: src, Dst: dst})
	if m := r.env.Metrics; m != nil {
		m.ForwardedTotal.WithLabelValues(r.name, rule.Next.Kind.String()).Inc()
	}
}

// escalate wraps msg in a PacketIn for the controller. Nothing is buffered or retried.
func (r *Router) escalate(msg *packet.MessagePacket, prev, src, dst topology.NodeID) {
	r.log.Info("Next hop not in flow table, escalating to the controller",
		zap.Stringer("from", prev), zap.Uint8("src", msg.Src), zap.Uint8("dst", msg.Dst))

	orig, err := packet.Serialize(msg)
	if err != nil {
		r.log.Error("Re-encoding unroutable message", zap.Error(err))
		return
	}
	if err := r.send(r.env.Topology.Controller(), packet.NewPacketIn(orig)); err != nil {
		r.log.Warn("Escalation failed, message lost", zap.Error(err))
		return
	}
	r.emit(Event{Kind: EventEscalated, Peer: prev, Src: src, Dst: dst})
	if m := r.env.Metrics; m != nil {
		m.EscalatedTotal.WithLabelValues(r.name).Inc()
	}
}
