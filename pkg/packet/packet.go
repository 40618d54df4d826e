// Package packet defines the datagram kinds exchanged between the controller, routers and
// end users, and the registry that maps a datagram's leading tag byte to its codec.
package packet

import (
	"errors"
	"fmt"
	"sort"
)

// PacketSize is the fixed size of every datagram on the wire.
const PacketSize = 100

// PacketTypeID is the tag carried in byte 0 of every datagram.
type PacketTypeID uint8

type PacketType struct {
	TypeID PacketTypeID
	Name   string
}

func (pt PacketType) String() string {
	return pt.Name
}

// Packet is implemented by every decoded datagram.
type Packet interface {
	Type() PacketType
}

// PacketCodec is the interface every codec implements. Serialize writes into buf, which is
// PacketSize bytes long and zeroed; Deserialize receives a complete datagram.
type PacketCodec interface {
	Serialize(pkt Packet, buf []byte) error
	Deserialize(data []byte) (Packet, error)
}

// Errors
var (
	ErrUnknownPacketType       = errors.New("unknown packet type")
	ErrPacketTypeAlreadyExists = errors.New("packet type with this ID already exists")
	ErrTagMismatch             = errors.New("datagram tag does not match codec")
	ErrShortDatagram           = errors.New("datagram too short")
	ErrWrongPacket             = errors.New("invalid packet for codec")
)

// PacketRegistry maps tags to packet types and codecs.
type PacketRegistry struct {
	types  map[PacketTypeID]PacketType
	codecs map[PacketTypeID]PacketCodec
}

// NewPacketRegistry creates an empty registry.
func NewPacketRegistry() *PacketRegistry {
	return &PacketRegistry{
		types:  make(map[PacketTypeID]PacketType),
		codecs: make(map[PacketTypeID]PacketCodec),
	}
}

// RegisterPacketType registers codec under pt's tag.
func (pr *PacketRegistry) RegisterPacketType(pt PacketType, codec PacketCodec) error {
	if _, exists := pr.types[pt.TypeID]; exists {
		return fmt.Errorf("%w: %d", ErrPacketTypeAlreadyExists, pt.TypeID)
	}
	pr.types[pt.TypeID] = pt
	pr.codecs[pt.TypeID] = codec
	return nil
}

// GetPacketType retrieves a packet type by tag.
func (pr *PacketRegistry) GetPacketType(id PacketTypeID) (PacketType, bool) {
	pt, exists := pr.types[id]
	return pt, exists
}

// GetCodec retrieves the codec for a tag.
func (pr *PacketRegistry) GetCodec(id PacketTypeID) (PacketCodec, bool) {
	codec, exists := pr.codecs[id]
	return codec, exists
}

// ListPacketTypes returns all registered packet types ordered by tag.
func (pr *PacketRegistry) ListPacketTypes() []PacketType {
	types := make([]PacketType, 0, len(pr.types))
	for _, packetType := range pr.types {
		types = append(types, packetType)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].TypeID < types[j].TypeID })
	return types
}

// SerializeInto encodes pkt into buf, which must be at least PacketSize bytes. The first
// PacketSize bytes of buf are overwritten and returned.
func (pr *PacketRegistry) SerializeInto(pkt Packet, buf []byte) ([]byte, error) {
	if len(buf) < PacketSize {
		return nil, fmt.Errorf("%w: buffer of %d bytes", ErrShortDatagram, len(buf))
	}
	pt := pkt.Type()
	codec, exists := pr.GetCodec(pt.TypeID)
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPacketType, pt.Name)
	}
	buf = buf[:PacketSize]
	clear(buf)
	if err := codec.Serialize(pkt, buf); err != nil {
		return nil, fmt.Errorf("serializing %s: %w", pt.Name, err)
	}
	buf[0] = byte(pt.TypeID)
	return buf, nil
}

// Serialize encodes pkt into a freshly allocated datagram.
func (pr *PacketRegistry) Serialize(pkt Packet) ([]byte, error) {
	return pr.SerializeInto(pkt, make([]byte, PacketSize))
}

// Deserialize reads the tag of data and decodes it with the matching codec.
func (pr *PacketRegistry) Deserialize(data []byte) (Packet, PacketType, error) {
	if len(data) < 1 {
		return nil, PacketType{}, fmt.Errorf("%w: no tag", ErrShortDatagram)
	}
	id := PacketTypeID(data[0])
	pt, exists := pr.GetPacketType(id)
	if !exists {
		return nil, PacketType{}, fmt.Errorf("%w: tag %d", ErrUnknownPacketType, id)
	}
	codec, _ := pr.GetCodec(id)
	pkt, err := codec.Deserialize(data)
	if err != nil {
		return nil, pt, fmt.Errorf("deserializing %s: %w", pt.Name, err)
	}
	return pkt, pt, nil
}

// DefaultRegistry holds the six protocol packet kinds.
var DefaultRegistry = func() *PacketRegistry {
	pr := NewPacketRegistry()
	must := func(err error) {
		if err != nil {
			panic(err)
		}
	}
	must(pr.RegisterPacketType(PacketTypeHello, &SignalCodec{PacketType: PacketTypeHello}))
	must(pr.RegisterPacketType(PacketTypePacketIn, &EchoCodec{PacketType: PacketTypePacketIn}))
	must(pr.RegisterPacketType(PacketTypeFlowRemoved, &EchoCodec{PacketType: PacketTypeFlowRemoved}))
	must(pr.RegisterPacketType(PacketTypeFlowMod, &FlowModCodec{}))
	must(pr.RegisterPacketType(PacketTypeRouterInit, &SignalCodec{PacketType: PacketTypeRouterInit}))
	must(pr.RegisterPacketType(PacketTypeMessage, &MessageCodec{}))
	return pr
}()

// Serialize encodes pkt with DefaultRegistry.
func Serialize(pkt Packet) ([]byte, error) {
	return DefaultRegistry.Serialize(pkt)
}

// Deserialize decodes data with DefaultRegistry.
func Deserialize(data []byte) (Packet, PacketType, error) {
	return DefaultRegistry.Deserialize(data)
}

func checkTag(data []byte, want PacketType, minLen int) error {
	if len(data) < minLen {
		return fmt.Errorf("%w: %d bytes, need %d", ErrShortDatagram, len(data), minLen)
	}
	if PacketTypeID(data[0]) != want.TypeID {
		return fmt.Errorf("%w: tag %d under %s codec", ErrTagMismatch, data[0], want.Name)
	}
	return nil
}
