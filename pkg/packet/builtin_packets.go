// This file defines the protocol packets (Hello, PacketIn, FlowRemoved, FlowMod, RouterInit,
// Message) and their corresponding serialization/deserialization codecs.
package packet

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Builtin packet types. The numeric values are the wire tags.
var (
	PacketTypeHello       = PacketType{TypeID: 0, Name: "Hello"}
	PacketTypePacketIn    = PacketType{TypeID: 1, Name: "PacketIn"}
	PacketTypeFlowRemoved = PacketType{TypeID: 2, Name: "FlowRemoved"}
	PacketTypeFlowMod     = PacketType{TypeID: 3, Name: "FlowMod"}
	PacketTypeRouterInit  = PacketType{TypeID: 4, Name: "RouterInit"}
	PacketTypeMessage     = PacketType{TypeID: 5, Name: "Message"}
)

const (
	// MessageHeaderSize covers tag, length, source and destination.
	MessageHeaderSize = 4
	// MaxContentSize keeps the last byte of a Message datagram as padding, so a Message
	// shifted into a PacketIn loses nothing.
	MaxContentSize = PacketSize - MessageHeaderSize - 1
	// MaxFlowModPayload is the room left for an encoded partition after the tag.
	MaxFlowModPayload = PacketSize - 1
	// EchoSize is how much of the original datagram a PacketIn or FlowRemoved carries.
	EchoSize = PacketSize - 1
)

var (
	ErrContentTooLong  = errors.New("message content too long")
	ErrInvalidContent  = errors.New("message content is not valid UTF-8")
	ErrPayloadTooLarge = errors.New("flow table does not fit in a datagram")
)

// HelloPacket opens (from a router) or confirms (from the controller) the handshake.
type HelloPacket struct{}

func (*HelloPacket) Type() PacketType { return PacketTypeHello }

// RouterInitPacket tells an end user which router it is attached to. The router's
// address is the datagram's source address.
type RouterInitPacket struct{}

func (*RouterInitPacket) Type() PacketType { return PacketTypeRouterInit }

// FlowModPacket carries an encoded table partition from the controller, and is echoed
// back by the router as acknowledgment.
type FlowModPacket struct {
	Rows []byte
}

func (*FlowModPacket) Type() PacketType { return PacketTypeFlowMod }

// EchoPacket is the shape shared by PacketIn and FlowRemoved: the original datagram
// shifted right by one byte behind the tag.
type EchoPacket struct {
	Payload []byte
}

// Original rebuilds the echoed datagram. Its final byte is always zero.
func (p *EchoPacket) Original() []byte {
	orig := make([]byte, PacketSize)
	copy(orig, p.Payload)
	return orig
}

// PacketInPacket escalates an unroutable datagram from a router to the controller.
type PacketInPacket struct {
	EchoPacket
}

func (*PacketInPacket) Type() PacketType { return PacketTypePacketIn }

// FlowRemovedPacket instructs a router to drop the echoed datagram.
type FlowRemovedPacket struct {
	EchoPacket
}

func (*FlowRemovedPacket) Type() PacketType { return PacketTypeFlowRemoved }

// NewPacketIn wraps the datagram orig for escalation.
func NewPacketIn(orig []byte) *PacketInPacket {
	return &PacketInPacket{EchoPacket{Payload: echo(orig)}}
}

// NewFlowRemoved answers pin, carrying its payload unchanged.
func NewFlowRemoved(pin *PacketInPacket) *FlowRemovedPacket {
	return &FlowRemovedPacket{EchoPacket{Payload: bytes.Clone(pin.Payload)}}
}

func echo(orig []byte) []byte {
	n := min(len(orig), EchoSize)
	p := make([]byte, EchoSize)
	copy(p, orig[:n])
	return p
}

// MessagePacket is end user traffic. Src and Dst are end user wire ids.
type MessagePacket struct {
	Src     uint8
	Dst     uint8
	Content string
}

func (*MessagePacket) Type() PacketType { return PacketTypeMessage }

// NewMessage validates content and builds a message.
func NewMessage(src, dst uint8, content string) (*MessagePacket, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	return &MessagePacket{Src: src, Dst: dst, Content: content}, nil
}

func validateContent(content string) error {
	if len(content) > MaxContentSize {
		return fmt.Errorf("%w: %d bytes, max %d", ErrContentTooLong, len(content), MaxContentSize)
	}
	if !utf8.ValidString(content) {
		return ErrInvalidContent
	}
	return nil
}

// SignalCodec handles packets that are nothing but their tag.
type SignalCodec struct {
	PacketType PacketType
}

func (c *SignalCodec) Serialize(pkt Packet, buf []byte) error {
	if pkt.Type() != c.PacketType {
		return ErrWrongPacket
	}
	return nil
}

func (c *SignalCodec) Deserialize(data []byte) (Packet, error) {
	if err := checkTag(data, c.PacketType, 1); err != nil {
		return nil, err
	}
	switch c.PacketType {
	case PacketTypeHello:
		return &HelloPacket{}, nil
	case PacketTypeRouterInit:
		return &RouterInitPacket{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownPacketType, c.PacketType.Name)
}

// FlowModCodec implements FlowMod serialization:
// [Tag(1B)][Rows...]
// The rows are opaque here; the table package owns their layout.
type FlowModCodec struct{}

func (c *FlowModCodec) Serialize(pkt Packet, buf []byte) error {
	p, ok := pkt.(*FlowModPacket)
	if !ok {
		return ErrWrongPacket
	}
	if len(p.Rows) > MaxFlowModPayload {
		return fmt.Errorf("%w: %d bytes, max %d", ErrPayloadTooLarge, len(p.Rows), MaxFlowModPayload)
	}
	copy(buf[1:], p.Rows)
	return nil
}

func (c *FlowModCodec) Deserialize(data []byte) (Packet, error) {
	if err := checkTag(data, PacketTypeFlowMod, 1); err != nil {
		return nil, err
	}
	return &FlowModPacket{Rows: bytes.Clone(data[1:])}, nil
}

// EchoCodec implements PacketIn and FlowRemoved serialization:
// [Tag(1B)][Original datagram bytes 0..98]
type EchoCodec struct {
	PacketType PacketType
}

func (c *EchoCodec) Serialize(pkt Packet, buf []byte) error {
	var p *EchoPacket
	switch v := pkt.(type) {
	case *PacketInPacket:
		p = &v.EchoPacket
	case *FlowRemovedPacket:
		p = &v.EchoPacket
	}
	if p == nil || pkt.Type() != c.PacketType {
		return ErrWrongPacket
	}
	copy(buf[1:], p.Payload)
	return nil
}

func (c *EchoCodec) Deserialize(data []byte) (Packet, error) {
	if err := checkTag(data, c.PacketType, 1); err != nil {
		return nil, err
	}
	e := EchoPacket{Payload: echo(data[1:])}
	if c.PacketType == PacketTypePacketIn {
		return &PacketInPacket{e}, nil
	}
	return &FlowRemovedPacket{e}, nil
}

// MessageCodec implements Message serialization:
// [Tag(1B)][Len(1B)][Src(1B)][Dst(1B)][Content(Len B)][zero padding]
type MessageCodec struct{}

func (c *MessageCodec) Serialize(pkt Packet, buf []byte) error {
	p, ok := pkt.(*MessagePacket)
	if !ok {
		return ErrWrongPacket
	}
	if err := validateContent(p.Content); err != nil {
		return err
	}
	buf[1] = byte(len(p.Content))
	buf[2] = p.Src
	buf[3] = p.Dst
	copy(buf[MessageHeaderSize:], p.Content)
	return nil
}

func (c *MessageCodec) Deserialize(data []byte) (Packet, error) {
	if err := checkTag(data, PacketTypeMessage, MessageHeaderSize); err != nil {
		return nil, err
	}
	n := int(data[1])
	if n > MaxContentSize {
		return nil, fmt.Errorf("%w: %d bytes, max %d", ErrContentTooLong, n, MaxContentSize)
	}
	body := data[MessageHeaderSize:]
	if n > len(body) {
		return nil, fmt.Errorf("%w: content length %d, have %d", ErrShortDatagram, n, len(body))
	}
	// Everything past the declared length is padding.
	content := body[:n]
	if !utf8.Valid(content) {
		return nil, ErrInvalidContent
	}
	return &MessagePacket{Src: data[2], Dst: data[3], Content: string(content)}, nil
}
