// Package topology maps node identities to network addresses.
//
// Every participant has a one-byte id: 0 is the controller, [1, R] are routers and
// (R, R+U] are end users. A node listens on host:(BasePort+id), so an address and an
// identity can always be converted into each other.
package topology

import (
	"errors"
	"fmt"
	"net"
	"strconv"
)

// Original deployment constants.
const (
	DefaultHost     = "127.0.0.1"
	DefaultBasePort = 51510
	DefaultRouters  = 8
	DefaultEndUsers = 4

	// ControllerID is the wire id of the controller.
	ControllerID uint8 = 0
)

// Kind tells what sort of node an id refers to.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindController
	KindRouter
	KindEndUser
)

func (k Kind) String() string {
	switch k {
	case KindController:
		return "controller"
	case KindRouter:
		return "router"
	case KindEndUser:
		return "end user"
	default:
		return "invalid"
	}
}

// NodeID is a classified node identity. ID is the byte carried on the wire and Index is
// the 1-based position of the node within its kind (End-User 1 has ID R+1).
type NodeID struct {
	Kind  Kind
	ID    uint8
	Index uint8
}

// IsRouter reports whether n names a router.
func (n NodeID) IsRouter() bool { return n.Kind == KindRouter }

// IsEndUser reports whether n names an end user.
func (n NodeID) IsEndUser() bool { return n.Kind == KindEndUser }

// IsValid reports whether n was produced by a Topology.
func (n NodeID) IsValid() bool { return n.Kind != KindInvalid }

func (n NodeID) String() string {
	switch n.Kind {
	case KindController:
		return "C"
	case KindRouter:
		return "R" + strconv.Itoa(int(n.Index))
	case KindEndUser:
		return "E" + strconv.Itoa(int(n.Index))
	default:
		return "?" + strconv.Itoa(int(n.ID))
	}
}

var (
	ErrUnknownNode    = errors.New("id does not name a node")
	ErrForeignAddress = errors.New("address does not belong to the topology")
)

// Topology describes the fixed set of nodes and where they listen.
type Topology struct {
	Host     string
	BasePort int
	Routers  uint8
	EndUsers uint8
}

// Default returns the original eight router, four end user layout on localhost.
func Default() Topology {
	return Topology{
		Host:     DefaultHost,
		BasePort: DefaultBasePort,
		Routers:  DefaultRouters,
		EndUsers: DefaultEndUsers,
	}
}

// Validate checks that every id fits in a byte and every port in a uint16.
func (t Topology) Validate() error {
	if t.Routers == 0 {
		return errors.New("topology needs at least one router")
	}
	if int(t.Routers)+int(t.EndUsers) > 255 {
		return fmt.Errorf("%d routers and %d end users do not fit in one-byte ids", t.Routers, t.EndUsers)
	}
	if t.BasePort <= 0 || t.BasePort+int(t.Routers)+int(t.EndUsers) > 65535 {
		return fmt.Errorf("base port %d out of range", t.BasePort)
	}
	if net.ParseIP(t.Host) == nil {
		return fmt.Errorf("host %q is not an IP address", t.Host)
	}
	return nil
}

// Size returns the number of nodes including the controller.
func (t Topology) Size() int {
	return 1 + int(t.Routers) + int(t.EndUsers)
}

// Node classifies a wire id.
func (t Topology) Node(id uint8) (NodeID, error) {
	switch {
	case id == ControllerID:
		return NodeID{Kind: KindController, ID: id}, nil
	case id <= t.Routers:
		return NodeID{Kind: KindRouter, ID: id, Index: id}, nil
	case int(id) <= int(t.Routers)+int(t.EndUsers):
		return NodeID{Kind: KindEndUser, ID: id, Index: id - t.Routers}, nil
	default:
		return NodeID{ID: id}, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
}

// Controller returns the controller's identity.
func (t Topology) Controller() NodeID {
	return NodeID{Kind: KindController, ID: ControllerID}
}

// Router returns router number k, 1 <= k <= Routers.
func (t Topology) Router(k uint8) (NodeID, error) {
	if k == 0 || k > t.Routers {
		return NodeID{}, fmt.Errorf("%w: router %d", ErrUnknownNode, k)
	}
	return NodeID{Kind: KindRouter, ID: k, Index: k}, nil
}

// EndUser returns end user number i, 1 <= i <= EndUsers.
func (t Topology) EndUser(i uint8) (NodeID, error) {
	if i == 0 || i > t.EndUsers {
		return NodeID{}, fmt.Errorf("%w: end user %d", ErrUnknownNode, i)
	}
	return NodeID{Kind: KindEndUser, ID: t.Routers + i, Index: i}, nil
}

// MustRouter is Router for ids known to be valid, such as loop counters.
func (t Topology) MustRouter(k uint8) NodeID {
	n, err := t.Router(k)
	if err != nil {
		panic(err)
	}
	return n
}

// MustEndUser is EndUser for ids known to be valid.
func (t Topology) MustEndUser(i uint8) NodeID {
	n, err := t.EndUser(i)
	if err != nil {
		panic(err)
	}
	return n
}

// Addr returns the UDP address node n listens on.
func (t Topology) Addr(n NodeID) *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(t.Host), Port: t.BasePort + int(n.ID)}
}

// ListenAddr returns Addr(n) as a host:port string.
func (t Topology) ListenAddr(n NodeID) string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.BasePort+int(n.ID)))
}

// NodeAt returns the node listening on addr.
func (t Topology) NodeAt(addr *net.UDPAddr) (NodeID, error) {
	if addr == nil {
		return NodeID{}, ErrForeignAddress
	}
	off := addr.Port - t.BasePort
	if off < 0 || off >= t.Size() {
		return NodeID{}, fmt.Errorf("%w: %s", ErrForeignAddress, addr)
	}
	return t.Node(uint8(off))
}
