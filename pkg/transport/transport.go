// Package transport provides the datagram endpoint every node owns: a bound UDP socket,
// a background receive loop and the send path, with pluggable handler chains.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/colega/zeropool"
	"go.uber.org/zap"

	"github.com/appnet-org/sdnsim/pkg/logging"
	"github.com/appnet-org/sdnsim/pkg/packet"
)

// ReceiptFunc is invoked by the receive loop once per decoded datagram, in arrival order.
type ReceiptFunc func(pkt packet.Packet, from *net.UDPAddr)

type options struct {
	packets  *packet.PacketRegistry
	log      *zap.Logger
	handlers []Handler
}

// Option configures a Node.
type Option func(*options)

// WithRegistry decodes with packets instead of packet.DefaultRegistry.
func WithRegistry(packets *packet.PacketRegistry) Option {
	return func(o *options) {
		o.packets = packets
	}
}

// WithLogger sets the logger used for transport errors.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithHandlers adds handlers to the chain of every packet type.
func WithHandlers(handlers ...Handler) Option {
	return func(o *options) {
		o.handlers = append(o.handlers, handlers...)
	}
}

// Node is a datagram endpoint. Delivery is best effort: sends may be dropped or
// reordered by the network and nothing here retries them.
type Node struct {
	conn     net.PacketConn
	packets  *packet.PacketRegistry
	handlers *HandlerRegistry
	pool     zeropool.Pool[[]byte]
	log      *zap.Logger

	// bound is closed once conn is bound; the receive loop waits on it before reading.
	bound     chan struct{}
	serveOnce sync.Once
	closeOnce sync.Once
	closeErr  error
	wg        sync.WaitGroup
}

// Listen binds a UDP socket on address. A bind failure is returned and leaves nothing
// running.
func Listen(address string, opts ...Option) (*Node, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", address, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", address, err)
	}
	return NewNode(conn, opts...), nil
}

// NewNode wraps an already bound connection.
func NewNode(conn net.PacketConn, opts ...Option) *Node {
	o := options{
		packets: packet.DefaultRegistry,
		log:     logging.L(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	n := &Node{
		conn:     conn,
		packets:  o.packets,
		handlers: NewHandlerRegistry(o.packets),
		pool: zeropool.New(func() []byte {
			return make([]byte, packet.PacketSize)
		}),
		log:   o.log,
		bound: make(chan struct{}),
	}
	for _, h := range o.handlers {
		n.handlers.AddHandler(h)
	}
	close(n.bound)
	return n
}

// LocalAddr returns the address the node is bound to.
func (n *Node) LocalAddr() *net.UDPAddr {
	addr, _ := toUDPAddr(n.conn.LocalAddr())
	return addr
}

// Serve starts the receive loop. Only the first call has an effect.
func (n *Node) Serve(onReceipt ReceiptFunc) {
	n.serveOnce.Do(func() {
		n.wg.Add(1)
		go n.receiveLoop(onReceipt)
	})
}

func (n *Node) receiveLoop(onReceipt ReceiptFunc) {
	defer n.wg.Done()
	<-n.bound

	for {
		buf := n.pool.Get()
		clear(buf)
		nr, from, err := n.conn.ReadFrom(buf)
		if err != nil {
			n.pool.Put(buf)
			if errors.Is(err, net.ErrClosed) {
				n.log.Debug("Receive loop stopped")
				return
			}
			n.log.Warn("Error receiving datagram", zap.Error(err))
			continue
		}

		pkt, ok := n.decode(buf, nr, from)
		n.pool.Put(buf)
		if !ok {
			continue
		}
		udpFrom, _ := toUDPAddr(from)
		onReceipt(pkt, udpFrom)
	}
}

// decode parses one datagram and runs it through its receive chain. Short datagrams are
// read as if zero padded to packet.PacketSize.
func (n *Node) decode(buf []byte, nr int, from net.Addr) (packet.Packet, bool) {
	if nr < 1 {
		n.log.Debug("Ignoring empty datagram", zap.Stringer("from", from))
		return nil, false
	}
	pkt, pt, err := n.packets.Deserialize(buf)
	if err != nil {
		n.log.Warn("Dropping undecodable datagram",
			zap.Stringer("from", from), zap.Int("bytes", nr), zap.Error(err))
		return nil, false
	}
	udpFrom, err := toUDPAddr(from)
	if err != nil {
		n.log.Warn("Dropping datagram from non-UDP address", zap.Stringer("from", from), zap.Error(err))
		return nil, false
	}
	if chain, ok := n.handlers.GetHandlerChain(pt.TypeID); ok {
		if err := chain.OnReceive(pkt, udpFrom); err != nil {
			return nil, false
		}
	}
	return pkt, true
}

// Send transmits pkt to addr as one datagram without waiting for anything in return.
// I/O errors are logged and returned to the caller; they are never retried.
func (n *Node) Send(addr *net.UDPAddr, pkt packet.Packet) error {
	pt := pkt.Type()
	if chain, ok := n.handlers.GetHandlerChain(pt.TypeID); ok {
		if err := chain.OnSend(pkt, addr); err != nil {
			return err
		}
	}

	buf := n.pool.Get()
	defer n.pool.Put(buf)
	data, err := n.packets.SerializeInto(pkt, buf)
	if err != nil {
		return err
	}
	if _, err := n.conn.WriteTo(data, addr); err != nil {
		n.log.Warn("Error sending datagram",
			zap.String("packetType", pt.Name), zap.Stringer("to", addr), zap.Error(err))
		return fmt.Errorf("sending %s to %s: %w", pt.Name, addr, err)
	}
	return nil
}

// Close closes the socket and waits for the receive loop to return.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.closeErr = n.conn.Close()
		n.wg.Wait()
	})
	return n.closeErr
}

func toUDPAddr(addr net.Addr) (*net.UDPAddr, error) {
	if ua, ok := addr.(*net.UDPAddr); ok {
		return ua, nil
	}
	if addr == nil {
		return nil, errors.New("nil address")
	}
	return net.ResolveUDPAddr("udp", addr.String())
}
