package sdn

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/appnet-org/sdnsim/pkg/packet"
	"github.com/appnet-org/sdnsim/pkg/table"
	"github.com/appnet-org/sdnsim/pkg/topology"
	"github.com/appnet-org/sdnsim/pkg/transport"
)

// BootstrapState is the controller's view of one router's setup.
type BootstrapState int

const (
	BootstrapNotStarted BootstrapState = iota
	BootstrapHelloSent
	BootstrapTableSent
	BootstrapAcknowledged
)

func (s BootstrapState) String() string {
	switch s {
	case BootstrapNotStarted:
		return "not-started"
	case BootstrapHelloSent:
		return "hello-sent"
	case BootstrapTableSent:
		return "table-sent"
	case BootstrapAcknowledged:
		return "acknowledged"
	}
	return fmt.Sprintf("BootstrapState(%d)", int(s))
}

// BootstrapConfig controls what happens when a router never acknowledges its table.
// With a zero Timeout the sequencer waits forever, and a lost Hello or FlowMod stalls
// every router after it. With a Timeout, the stuck router is started again up to Retries
// times before the sequencer gives up.
type BootstrapConfig struct {
	Timeout time.Duration
	Retries int
}

// Starter is a router as seen by the controller: something it can tell to begin its
// handshake.
type Starter interface {
	Start() error
}

var (
	ErrRoutersNotAttached = errors.New("routers not attached to the controller")
	ErrPartitionTooLarge  = errors.New("partition does not fit in a FlowMod datagram")
	ErrAlreadyStarted     = errors.New("bootstrap already started")
)

// Controller owns the full table, starts routers one at a time and answers escalations.
type Controller struct {
	*base

	tbl        table.Table
	partitions map[topology.NodeID][]byte
	boot       BootstrapConfig
	timers     *transport.TimerManager

	mu       sync.Mutex
	routers  []Starter
	states   []BootstrapState
	attempts []int
	acked    int
	done     chan struct{}
}

// NewController binds the controller and pre-encodes every router's partition. It fails
// if a partition cannot be carried by one FlowMod datagram.
func NewController(env Env, tbl table.Table, boot BootstrapConfig) (*Controller, error) {
	if err := tbl.Validate(); err != nil {
		return nil, err
	}
	topo := env.Topology
	partitions := make(map[topology.NodeID][]byte, topo.Routers)
	for k := uint8(1); k <= topo.Routers; k++ {
		id := topo.MustRouter(k)
		rows, err := table.Encode(tbl.Partition(id))
		if err != nil {
			return nil, fmt.Errorf("router %s: %w", id, err)
		}
		if len(rows) > packet.MaxFlowModPayload {
			return nil, fmt.Errorf("%w: router %s needs %d bytes", ErrPartitionTooLarge, id, len(rows))
		}
		partitions[id] = rows
	}

	b, err := newBase(env, topo.Controller())
	if err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	c := &Controller{
		base:       b,
		tbl:        tbl,
		partitions: partitions,
		boot:       boot,
		timers:     transport.NewTimerManager(),
		states:     make([]BootstrapState, int(topo.Routers)+1),
		attempts:   make([]int, int(topo.Routers)+1),
		done:       make(chan struct{}),
	}
	c.tr.Serve(c.onReceipt)
	return c, nil
}

// Attach hands the controller the routers it sequences, ordered by router number.
func (c *Controller) Attach(routers []Starter) error {
	if len(routers) != int(c.env.Topology.Routers) {
		return fmt.Errorf("expected %d routers, got %d", c.env.Topology.Routers, len(routers))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routers = routers
	return nil
}

// Start triggers router 1. Every later router is triggered by its predecessor's
// acknowledgment.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.routers == nil {
		c.mu.Unlock()
		return ErrRoutersNotAttached
	}
	if c.states[1] != BootstrapNotStarted {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	starter := c.beginLocked(1)
	c.mu.Unlock()
	return c.trigger(1, starter)
}

// State returns router k's bootstrap state.
func (c *Controller) State(k uint8) BootstrapState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if int(k) >= len(c.states) || k == 0 {
		return BootstrapNotStarted
	}
	return c.states[k]
}

// Bootstrapped is closed once the last router has acknowledged its table.
func (c *Controller) Bootstrapped() <-chan struct{} {
	return c.done
}

// Table returns the full forwarding table.
func (c *Controller) Table() table.Table {
	return c.tbl
}

// Close stops pending retries and the receive loop.
func (c *Controller) Close() error {
	c.timers.Stop()
	return c.base.Close()
}

// beginLocked marks router k as started and returns its handle. c.mu must be held.
func (c *Controller) beginLocked(k uint8) Starter {
	c.states[k] = BootstrapHelloSent
	c.attempts[k]++
	return c.routers[k-1]
}

// trigger calls router k's Start outside the lock and arms the retry timer.
func (c *Controller) trigger(k uint8, starter Starter) error {
	router := c.env.Topology.MustRouter(k)
	c.log.Info("Starting router", zap.Stringer("router", router))
	c.emit(Event{Kind: EventStartTriggered, Peer: router})
	if m := c.env.Metrics; m != nil {
		m.BootstrapStarts.WithLabelValues(nodeName(router)).Inc()
	}
	if c.boot.Timeout > 0 {
		c.timers.Schedule(transport.TimerKey(k), c.boot.Timeout, func() { c.retry(k) })
	}
	return starter.Start()
}

// retry restarts router k if it still has not acknowledged.
func (c *Controller) retry(k uint8) {
	router := c.env.Topology.MustRouter(k)

	c.mu.Lock()
	if c.states[k] == BootstrapAcknowledged {
		c.mu.Unlock()
		return
	}
	if attempts := c.attempts[k]; attempts > c.boot.Retries {
		c.mu.Unlock()
		c.log.Error("Bootstrap stalled, router never acknowledged its table",
			zap.Stringer("router", router), zap.Int("attempts", attempts))
		c.emit(Event{Kind: EventBootstrapStalled, Peer: router})
		return
	}
	starter := c.beginLocked(k)
	c.mu.Unlock()

	c.log.Warn("No acknowledgment, restarting router", zap.Stringer("router", router))
	c.emit(Event{Kind: EventBootstrapRetry, Peer: router})
	if err := c.trigger(k, starter); err != nil {
		c.log.Warn("Restarting router failed", zap.Stringer("router", router), zap.Error(err))
	}
}

func (c *Controller) onReceipt(pkt packet.Packet, from *net.UDPAddr) {
	sender, ok := c.peer(from)
	if !ok {
		return
	}
	if !sender.IsRouter() {
		c.log.Warn("Ignoring packet from a non-router",
			zap.Stringer("peer", sender), zap.String("packetType", pkt.Type().Name))
		return
	}

	switch p := pkt.(type) {
	case *packet.HelloPacket:
		c.handleHello(sender)
	case *packet.FlowModPacket:
		c.handleAck(sender)
	case *packet.PacketInPacket:
		c.handlePacketIn(sender, p)
	default:
		c.log.Debug("Ignoring packet", zap.Stringer("peer", sender), zap.String("packetType", pkt.Type().Name))
	}
}

// handleHello confirms the handshake and pushes the router's partition, whatever state
// the router is in. Only a router the sequencer started moves to TableSent, so an
// unsolicited Hello never lets that router's ack advance the sequence.
func (c *Controller) handleHello(router topology.NodeID) {
	c.log.Info("Got a Hello packet", zap.Stringer("router", router))
	c.emit(Event{Kind: EventHelloReceived, Peer: router})

	if err := c.send(router, &packet.HelloPacket{}); err == nil {
		c.log.Info("Sent a Hello packet", zap.Stringer("router", router))
	}
	if err := c.send(router, &packet.FlowModPacket{Rows: c.partitions[router]}); err != nil {
		return
	}

	c.mu.Lock()
	if c.states[router.ID] == BootstrapHelloSent {
		c.states[router.ID] = BootstrapTableSent
	}
	c.mu.Unlock()
	c.emit(Event{Kind: EventTableSent, Peer: router})
}

// handleAck records router k's acknowledgment and triggers router k+1. Acknowledgments
// from routers that were never started, or that already acknowledged, trigger nothing.
func (c *Controller) handleAck(router topology.NodeID) {
	k := router.ID

	c.mu.Lock()
	switch c.states[k] {
	case BootstrapNotStarted:
		c.mu.Unlock()
		c.log.Warn("Ignoring acknowledgment from a router that was not started", zap.Stringer("router", router))
		return
	case BootstrapAcknowledged:
		c.mu.Unlock()
		c.log.Debug("Duplicate acknowledgment", zap.Stringer("router", router))
		return
	}
	c.states[k] = BootstrapAcknowledged
	c.acked++
	c.timers.StopTimer(transport.TimerKey(k))

	var (
		next    Starter
		nextK   uint8
		allDone bool
	)
	if k < c.env.Topology.Routers && c.states[k+1] == BootstrapNotStarted {
		nextK = k + 1
		next = c.beginLocked(nextK)
	}
	if c.acked == int(c.env.Topology.Routers) {
		allDone = true
	}
	c.mu.Unlock()

	c.log.Info("Flow mod acknowledged", zap.Stringer("router", router))
	c.emit(Event{Kind: EventAcknowledged, Peer: router})
	if m := c.env.Metrics; m != nil {
		m.BootstrapAcksTotal.WithLabelValues(nodeName(router)).Inc()
		m.BootstrappedRouters.Inc()
	}

	if allDone {
		c.log.Info("All routers bootstrapped")
		c.emit(Event{Kind: EventBootstrapComplete})
		close(c.done)
	}
	if next != nil {
		if err := c.trigger(nextK, next); err != nil {
			c.log.Warn("Starting router failed", zap.Uint8("router", nextK), zap.Error(err))
		}
	}
}

// handlePacketIn tells the escalating router to drop the packet. The controller never
// computes an alternative route.
func (c *Controller) handlePacketIn(router topology.NodeID, pin *packet.PacketInPacket) {
	if err := c.send(router, packet.NewFlowRemoved(pin)); err != nil {
		return
	}
	c.log.Info("Told router to drop packet", zap.Stringer("router", router))
	c.emit(Event{Kind: EventDropInstructed, Peer: router})
}
