package transport

import (
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/appnet-org/sdnsim/pkg/logging"
	"github.com/appnet-org/sdnsim/pkg/packet"
)

// Handler observes or vetoes datagrams. An error from OnReceive drops the datagram before
// the node sees it; an error from OnSend aborts the send.
type Handler interface {
	OnReceive(pkt packet.Packet, addr *net.UDPAddr) error
	OnSend(pkt packet.Packet, addr *net.UDPAddr) error
}

// HandlerChain represents a chain of handlers for a specific packet type
type HandlerChain struct {
	name     string
	handlers []Handler
}

// NewHandlerChain creates a new handler chain
func NewHandlerChain(name string, handlers ...Handler) *HandlerChain {
	return &HandlerChain{
		name:     name,
		handlers: handlers,
	}
}

func (hc *HandlerChain) AddHandler(handler Handler) {
	hc.handlers = append(hc.handlers, handler)
}

// OnReceive processes a packet through the receive chain
func (hc *HandlerChain) OnReceive(pkt packet.Packet, addr *net.UDPAddr) error {
	for i, handler := range hc.handlers {
		if err := handler.OnReceive(pkt, addr); err != nil {
			logging.Debug("Handler error in receive chain",
				zap.String("chainName", hc.name),
				zap.Int("handlerIndex", i),
				zap.Error(err))
			return fmt.Errorf("handler %d in chain %s failed: %w", i, hc.name, err)
		}
	}
	return nil
}

// OnSend processes a packet through the send chain
func (hc *HandlerChain) OnSend(pkt packet.Packet, addr *net.UDPAddr) error {
	for i, handler := range hc.handlers {
		if err := handler.OnSend(pkt, addr); err != nil {
			logging.Debug("Handler error in send chain",
				zap.String("chainName", hc.name),
				zap.Int("handlerIndex", i),
				zap.Error(err))
			return fmt.Errorf("handler %d in chain %s failed: %w", i, hc.name, err)
		}
	}
	return nil
}

// HandlerRegistry holds one chain per packet type.
type HandlerRegistry struct {
	handlers map[packet.PacketTypeID]*HandlerChain
}

// NewHandlerRegistry creates an empty chain for every type known to packets.
func NewHandlerRegistry(packets *packet.PacketRegistry) *HandlerRegistry {
	registry := &HandlerRegistry{
		handlers: make(map[packet.PacketTypeID]*HandlerChain),
	}
	for _, pt := range packets.ListPacketTypes() {
		registry.RegisterHandlerChain(pt.TypeID, NewHandlerChain(pt.Name+"HandlerChain"))
	}
	return registry
}

// RegisterHandlerChain registers a handler chain for a packet type
func (hr *HandlerRegistry) RegisterHandlerChain(id packet.PacketTypeID, chain *HandlerChain) {
	hr.handlers[id] = chain
}

// GetHandlerChain returns the chain for a packet type.
func (hr *HandlerRegistry) GetHandlerChain(id packet.PacketTypeID) (*HandlerChain, bool) {
	chain, exists := hr.handlers[id]
	return chain, exists
}

// AddHandler appends h to every chain.
func (hr *HandlerRegistry) AddHandler(h Handler) {
	for _, chain := range hr.handlers {
		chain.AddHandler(h)
	}
}
