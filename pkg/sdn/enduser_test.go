package sdn

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/appnet-org/sdnsim/pkg/packet"
	"github.com/appnet-org/sdnsim/pkg/topology"
)

func newLoneEndUser(t *testing.T, topo topology.Topology, log *EventLog) *EndUser {
	t.Helper()
	e, err := NewEndUser(Env{Topology: topo, OnEvent: log.Record}, 1)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	return e
}

func learnedRouter(t *testing.T, e *EndUser, want topology.NodeID) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, ok := e.Router()
		return ok && got == want
	}, waitFor, 5*time.Millisecond, "end user never learned %s", want)
}

func TestEndUserRouterInitOverwritesRouter(t *testing.T) {
	topo := freeTopology(t)
	log := &EventLog{}
	e1 := newLoneEndUser(t, topo, log)
	r1 := newFakePeer(t, topo, topo.MustRouter(1))
	r2 := newFakePeer(t, topo, topo.MustRouter(2))

	r1.sendTo(t, e1.ID(), &packet.RouterInitPacket{})
	learnedRouter(t, e1, topo.MustRouter(1))

	r2.sendTo(t, e1.ID(), &packet.RouterInitPacket{})
	learnedRouter(t, e1, topo.MustRouter(2))

	// Traffic follows the latest router.
	require.NoError(t, e1.Send(topo.MustEndUser(2), "via R2"))
	d := r2.next(t)
	require.Equal(t, packet.PacketTypeMessage, d.pkt.Type())
	require.Equal(t, "via R2", d.pkt.(*packet.MessagePacket).Content)
	r1.nothing(t, 100*time.Millisecond)
}

func TestEndUserIgnoresRouterInitFromNonRouter(t *testing.T) {
	topo := freeTopology(t)
	log := &EventLog{}
	e1 := newLoneEndUser(t, topo, log)
	r1 := newFakePeer(t, topo, topo.MustRouter(1))
	e2 := newFakePeer(t, topo, topo.MustEndUser(2))
	controller := newFakePeer(t, topo, topo.Controller())

	e2.sendTo(t, e1.ID(), &packet.RouterInitPacket{})
	controller.sendTo(t, e1.ID(), &packet.RouterInitPacket{})
	time.Sleep(100 * time.Millisecond)
	_, ok := e1.Router()
	require.False(t, ok)

	r1.sendTo(t, e1.ID(), &packet.RouterInitPacket{})
	learnedRouter(t, e1, topo.MustRouter(1))

	e2.sendTo(t, e1.ID(), &packet.RouterInitPacket{})
	time.Sleep(100 * time.Millisecond)
	got, ok := e1.Router()
	require.True(t, ok)
	require.Equal(t, topo.MustRouter(1), got)
	require.Len(t, log.Filter(EventRouterLearned), 1)
}
