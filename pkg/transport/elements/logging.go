// Package elements contains transport handlers that can be attached to a node's chains.
package elements

import (
	"net"

	"go.uber.org/zap"

	"github.com/appnet-org/sdnsim/pkg/packet"
)

// LoggingElement logs every datagram at debug level.
type LoggingElement struct {
	logger *zap.Logger
}

func NewLoggingElement(logger *zap.Logger) *LoggingElement {
	return &LoggingElement{logger: logger}
}

func (l *LoggingElement) OnReceive(pkt packet.Packet, addr *net.UDPAddr) error {
	l.logger.Debug("Received datagram",
		zap.String("packetType", pkt.Type().Name),
		zap.Stringer("from", addr))
	return nil
}

func (l *LoggingElement) OnSend(pkt packet.Packet, addr *net.UDPAddr) error {
	l.logger.Debug("Sending datagram",
		zap.String("packetType", pkt.Type().Name),
		zap.Stringer("to", addr))
	return nil
}
