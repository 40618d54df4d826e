package sdn

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/appnet-org/sdnsim/pkg/packet"
	"github.com/appnet-org/sdnsim/pkg/table"
	"github.com/appnet-org/sdnsim/pkg/topology"
)

type hop struct {
	at, next topology.NodeID
}

func forwardedHops(log *EventLog, src, dst topology.NodeID) []hop {
	var hops []hop
	for _, ev := range log.Filter(EventForwarded) {
		if ev.Src == src && ev.Dst == dst {
			hops = append(hops, hop{at: ev.Node, next: ev.Peer})
		}
	}
	return hops
}

// ==================== Bootstrap ====================

func TestBootstrapIsSerialized(t *testing.T) {
	tn := newTestNetwork(t)
	tn.bootstrap(t)

	c := tn.topo.Controller()
	for k := uint8(2); k <= tn.topo.Routers; k++ {
		prev, cur := tn.topo.MustRouter(k-1), tn.topo.MustRouter(k)
		acked := tn.index(EventAcknowledged, c, prev)
		hello := tn.index(EventHelloSent, cur, c)
		require.NotEqual(t, -1, acked, "%s never acknowledged", prev)
		require.NotEqual(t, -1, hello, "%s never sent Hello", cur)
		require.Less(t, acked, hello, "%s started before %s acknowledged", cur, prev)
	}

	for k := uint8(1); k <= tn.topo.Routers; k++ {
		require.Equal(t, BootstrapAcknowledged, tn.Controller().State(k))
		require.Equal(t, RouterBootstrapped, tn.Router(k).State())
		require.Equal(t, tn.Controller().Table().Partition(tn.topo.MustRouter(k)), tn.Router(k).Partition())
	}
	require.Len(t, tn.log.Filter(EventBootstrapComplete), 1)
	require.Equal(t, float64(tn.topo.Routers), testutil.ToFloat64(tn.metrics.BootstrappedRouters))
}

func TestBootstrapAttachesEndUsers(t *testing.T) {
	tn := newTestNetwork(t)
	tn.bootstrap(t)

	want := map[uint8]uint8{1: 1, 2: 8, 3: 6, 4: 7}
	for i, k := range want {
		router, ok := tn.EndUser(i).Router()
		require.True(t, ok)
		require.Equal(t, tn.topo.MustRouter(k), router, "end user %d", i)

		attached, ok := tn.Router(k).AttachedEndUser()
		require.True(t, ok)
		require.Equal(t, tn.topo.MustEndUser(i), attached)
	}
	for _, k := range []uint8{2, 3, 4, 5} {
		_, ok := tn.Router(k).AttachedEndUser()
		require.False(t, ok, "router %d is interior", k)
	}
}

func TestStartTwiceFails(t *testing.T) {
	tn := newTestNetwork(t)
	tn.bootstrap(t)
	require.ErrorIs(t, tn.Start(), ErrAlreadyStarted)
}

func TestLostFlowModStallsWithoutRetry(t *testing.T) {
	d := &dropper{kind: packet.PacketTypeFlowMod, remaining: -1}
	tn := newTestNetwork(t, withDropper(topology.Default().Controller(), d))
	require.NoError(t, tn.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, tn.WaitBootstrapped(ctx), context.DeadlineExceeded)

	require.Equal(t, 1, d.count())
	require.Equal(t, RouterAwaitingTable, tn.Router(1).State())
	require.Equal(t, RouterUninitialized, tn.Router(2).State())
	require.Equal(t, BootstrapNotStarted, tn.Controller().State(2))
}

func TestRetryRecoversLostFlowMod(t *testing.T) {
	d := &dropper{kind: packet.PacketTypeFlowMod, remaining: 1}
	tn := newTestNetwork(t,
		withDropper(topology.Default().Controller(), d),
		withBootstrap(BootstrapConfig{Timeout: 100 * time.Millisecond, Retries: 3}))
	tn.bootstrap(t)

	require.Equal(t, 1, d.count())
	retries := tn.log.Filter(EventBootstrapRetry)
	require.Len(t, retries, 1)
	require.Equal(t, tn.topo.MustRouter(1), retries[0].Peer)
	require.Empty(t, tn.log.Filter(EventBootstrapStalled))
}

// ==================== Forwarding ====================

func TestEndUserOneReachesEndUserTwo(t *testing.T) {
	tn := newTestNetwork(t)
	tn.bootstrap(t)

	e1, e2 := tn.topo.MustEndUser(1), tn.topo.MustEndUser(2)
	require.NoError(t, tn.EndUser(1).Send(e2, "hello over there"))

	got := receive(t, tn.EndUser(2))
	require.Equal(t, Delivery{From: e1, Content: "hello over there"}, got)

	r := tn.topo.MustRouter
	require.ElementsMatch(t, []hop{
		{r(1), r(3)},
		{r(3), r(6)},
		{r(6), r(8)},
		{r(8), e2},
	}, forwardedHops(tn.log, e1, e2))
	require.Empty(t, tn.log.Filter(EventEscalated))
	require.Equal(t, 1.0, testutil.ToFloat64(tn.metrics.ForwardedTotal.WithLabelValues("router-8", "end user")))
}

func TestEveryPairIsDeliverable(t *testing.T) {
	tn := newTestNetwork(t)
	tn.bootstrap(t)

	for i := uint8(1); i <= tn.topo.EndUsers; i++ {
		for j := uint8(1); j <= tn.topo.EndUsers; j++ {
			if i == j {
				continue
			}
			content := fmt.Sprintf("E%d to E%d", i, j)
			require.NoError(t, tn.EndUser(i).Send(tn.topo.MustEndUser(j), content))
			got := receive(t, tn.EndUser(j))
			require.Equal(t, Delivery{From: tn.topo.MustEndUser(i), Content: content}, got)
		}
	}
	require.Empty(t, tn.log.Filter(EventEscalated))
}

func TestUnknownDestinationIsEscalatedAndDropped(t *testing.T) {
	e4 := topology.Default().MustEndUser(4)
	var tbl table.Table
	for _, rule := range table.Default() {
		if rule.Dst.ID != e4.ID {
			tbl = append(tbl, rule)
		}
	}
	tn := newTestNetwork(t, withTable(tbl))
	tn.bootstrap(t)

	require.NoError(t, tn.EndUser(1).Send(tn.topo.MustEndUser(4), "nowhere"))
	require.Eventually(t, func() bool {
		return len(tn.log.Filter(EventDropped)) == 1
	}, waitFor, 5*time.Millisecond)

	escalated := tn.log.Filter(EventEscalated)
	require.Len(t, escalated, 1)
	require.Equal(t, tn.topo.MustRouter(1), escalated[0].Node)
	require.Equal(t, tn.topo.MustEndUser(1), escalated[0].Peer)
	require.Len(t, tn.log.Filter(EventDropInstructed), 1)
	require.Empty(t, tn.log.Filter(EventForwarded))

	select {
	case d := <-tn.EndUser(4).Deliveries():
		t.Fatalf("unexpected delivery %+v", d)
	case <-time.After(100 * time.Millisecond):
	}
}

// ==================== End Users ====================

func TestSendWithoutRouterIsUndeliverable(t *testing.T) {
	tn := newTestNetwork(t)

	err := tn.EndUser(1).Send(tn.topo.MustEndUser(2), "too early")
	require.ErrorIs(t, err, ErrNoRouter)
	require.Equal(t, 1.0, testutil.ToFloat64(tn.metrics.UndeliverableTotal.WithLabelValues("enduser-1")))
	require.Empty(t, tn.log.Filter(EventForwarded, EventEscalated))
}

func TestSendValidatesArguments(t *testing.T) {
	tn := newTestNetwork(t)
	tn.bootstrap(t)

	require.ErrorIs(t, tn.EndUser(1).Send(tn.topo.MustRouter(2), "hi"), topology.ErrUnknownNode)
	long := make([]byte, packet.MaxContentSize+1)
	for i := range long {
		long[i] = 'x'
	}
	require.ErrorIs(t, tn.EndUser(1).Send(tn.topo.MustEndUser(2), string(long)), packet.ErrContentTooLong)
}
