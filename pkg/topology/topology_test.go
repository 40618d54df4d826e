package topology

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultLayout(t *testing.T) {
	topo := Default()
	require.NoError(t, topo.Validate())
	require.Equal(t, 13, topo.Size())

	require.Equal(t, "127.0.0.1:51510", topo.ListenAddr(topo.Controller()))
	require.Equal(t, "127.0.0.1:51513", topo.ListenAddr(topo.MustRouter(3)))
	require.Equal(t, "127.0.0.1:51519", topo.ListenAddr(topo.MustEndUser(1)))
	require.Equal(t, 51522, topo.Addr(topo.MustEndUser(4)).Port)
}

func TestNodeClassifiesWireIDs(t *testing.T) {
	topo := Default()
	tests := []struct {
		id    uint8
		kind  Kind
		index uint8
		name  string
	}{
		{0, KindController, 0, "C"},
		{1, KindRouter, 1, "R1"},
		{8, KindRouter, 8, "R8"},
		{9, KindEndUser, 1, "E1"},
		{12, KindEndUser, 4, "E4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := topo.Node(tt.id)
			require.NoError(t, err)
			require.Equal(t, tt.kind, n.Kind)
			require.Equal(t, tt.index, n.Index)
			require.Equal(t, tt.name, n.String())
			require.True(t, n.IsValid())
		})
	}

	_, err := topo.Node(13)
	require.ErrorIs(t, err, ErrUnknownNode)
}

func TestRouterAndEndUserBounds(t *testing.T) {
	topo := Default()
	_, err := topo.Router(0)
	require.ErrorIs(t, err, ErrUnknownNode)
	_, err = topo.Router(9)
	require.ErrorIs(t, err, ErrUnknownNode)
	_, err = topo.EndUser(5)
	require.ErrorIs(t, err, ErrUnknownNode)
	require.Panics(t, func() { topo.MustEndUser(0) })

	e2, err := topo.EndUser(2)
	require.NoError(t, err)
	require.Equal(t, uint8(10), e2.ID)
	require.True(t, e2.IsEndUser())
	require.False(t, e2.IsRouter())
}

func TestNodeAtInvertsAddr(t *testing.T) {
	topo := Default()
	for id := 0; id < topo.Size(); id++ {
		n, err := topo.Node(uint8(id))
		require.NoError(t, err)
		got, err := topo.NodeAt(topo.Addr(n))
		require.NoError(t, err)
		require.Equal(t, n, got)
	}

	_, err := topo.NodeAt(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 51509})
	require.ErrorIs(t, err, ErrForeignAddress)
	_, err = topo.NodeAt(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 51523})
	require.ErrorIs(t, err, ErrForeignAddress)
	_, err = topo.NodeAt(nil)
	require.ErrorIs(t, err, ErrForeignAddress)
}

func TestValidate(t *testing.T) {
	topo := Default()
	topo.Routers = 0
	require.Error(t, topo.Validate())

	topo = Default()
	topo.Routers, topo.EndUsers = 200, 56
	require.Error(t, topo.Validate())

	topo = Default()
	topo.BasePort = 65530
	require.Error(t, topo.Validate())

	topo = Default()
	topo.Host = "localhost"
	require.Error(t, topo.Validate())
}

func TestInvalidNodeString(t *testing.T) {
	require.Equal(t, "?42", NodeID{ID: 42}.String())
	require.False(t, NodeID{}.IsValid())
	require.Equal(t, "end user", KindEndUser.String())
}
