package sdn

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/appnet-org/sdnsim/pkg/packet"
	"github.com/appnet-org/sdnsim/pkg/topology"
)

// DeliveryBuffer is how many received messages an end user holds before dropping new ones.
const DeliveryBuffer = 64

// ErrNoRouter is returned by Send before any router announced itself.
var ErrNoRouter = errors.New("no attached router, message undeliverable")

// Delivery is a message received by an end user.
type Delivery struct {
	From    topology.NodeID
	Content string
}

// EndUser sends and receives messages through its attached router.
type EndUser struct {
	*base

	mu         sync.Mutex
	router     *net.UDPAddr
	routerID   topology.NodeID
	deliveries chan Delivery
}

// NewEndUser binds end user i (1-based) and starts its receive loop.
func NewEndUser(env Env, i uint8) (*EndUser, error) {
	id, err := env.Topology.EndUser(i)
	if err != nil {
		return nil, err
	}
	b, err := newBase(env, id)
	if err != nil {
		return nil, fmt.Errorf("end user %d: %w", i, err)
	}
	e := &EndUser{
		base:       b,
		deliveries: make(chan Delivery, DeliveryBuffer),
	}
	e.tr.Serve(e.onReceipt)
	return e, nil
}

// Router returns the router this end user learned from its last RouterInit.
func (e *EndUser) Router() (topology.NodeID, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.routerID, e.router != nil
}

// Deliveries yields received messages in arrival order.
func (e *EndUser) Deliveries() <-chan Delivery {
	return e.deliveries
}

// Send addresses content to end user dst and hands it to the attached router. No
// acknowledgment is expected; a message lost in the network is simply gone.
func (e *EndUser) Send(dst topology.NodeID, content string) error {
	if !dst.IsEndUser() {
		return fmt.Errorf("%w: %s is not an end user", topology.ErrUnknownNode, dst)
	}
	msg, err := packet.NewMessage(e.id.ID, dst.ID, content)
	if err != nil {
		return err
	}

	e.mu.Lock()
	router := e.router
	e.mu.Unlock()
	if router == nil {
		e.log.Warn("Message undeliverable, no router attached", zap.Stringer("dst", dst))
		if m := e.env.Metrics; m != nil {
			m.UndeliverableTotal.WithLabelValues(e.name).Inc()
		}
		return ErrNoRouter
	}

	if err := e.tr.Send(router, msg); err != nil {
		return err
	}
	e.log.Info("Message sent", zap.Stringer("dst", dst))
	return nil
}

func (e *EndUser) onReceipt(pkt packet.Packet, from *net.UDPAddr) {
	switch p := pkt.(type) {
	case *packet.RouterInitPacket:
		sender, ok := e.peer(from)
		if !ok || !sender.IsRouter() {
			e.log.Warn("Ignoring RouterInit from a non-router", zap.Stringer("from", from))
			return
		}
		e.mu.Lock()
		e.router = from
		e.routerID = sender
		e.mu.Unlock()
		e.log.Info("Connected to router", zap.Stringer("router", sender))
		e.emit(Event{Kind: EventRouterLearned, Peer: sender})

	case *packet.MessagePacket:
		src, err := e.env.Topology.Node(p.Src)
		if err != nil {
			e.log.Warn("Message from unknown source", zap.Uint8("src", p.Src), zap.Error(err))
		}
		e.log.Info("New message", zap.Stringer("from", src), zap.String("content", p.Content))
		dst, _ := e.env.Topology.Node(p.Dst)
		e.emit(Event{Kind: EventDelivered, Src: src, Dst: dst})
		if m := e.env.Metrics; m != nil {
			m.DeliveredTotal.WithLabelValues(e.name).Inc()
		}
		select {
		case e.deliveries <- Delivery{From: src, Content: p.Content}:
		default:
			e.log.Warn("Delivery buffer full, discarding message", zap.Stringer("from", src))
		}

	default:
		e.log.Debug("Ignoring packet", zap.String("packetType", pkt.Type().Name), zap.Stringer("from", from))
	}
}
