package hci

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"avaneesh/h4-go/pkg/reassembly"
)

// ErrUnsupportedType is returned for packet types the host never receives
var ErrUnsupportedType = errors.New("packet type cannot be received")

// DefaultTypes are the packets every H4 controller sends to the host
var DefaultTypes = []PacketType{PacketACL, PacketSCO, PacketEvent}

// Descriptor returns the receive descriptor for a packet type
func Descriptor(pt PacketType, h reassembly.Handler) (reassembly.FrameType, error) {
	ft := reassembly.FrameType{Type: byte(pt), Handler: h}

	switch pt {
	case PacketEvent:
		ft.HeaderLen, ft.LengthOffset, ft.LengthWidth, ft.MaxLen = EventHeaderSize, eventLenOffset, 1, MaxEventFrame
	case PacketACL:
		ft.HeaderLen, ft.LengthOffset, ft.LengthWidth, ft.MaxLen = ACLHeaderSize, aclLenOffset, 2, MaxACLFrame
	case PacketSCO:
		ft.HeaderLen, ft.LengthOffset, ft.LengthWidth, ft.MaxLen = SCOHeaderSize, scoLenOffset, 1, MaxSCOFrame
	case PacketISO:
		ft.HeaderLen, ft.LengthOffset, ft.LengthWidth, ft.MaxLen = ISOHeaderSize, isoLenOffset, 2, MaxISOFrame
	case PacketFM:
		ft.HeaderLen, ft.LengthOffset, ft.LengthWidth, ft.MaxLen = FMHeaderSize, fmLenOffset, 1, MaxFMFrame
	default:
		return reassembly.FrameType{}, fmt.Errorf("%w: %s (0x%02x)", ErrUnsupportedType, pt, uint8(pt))
	}

	return ft, nil
}

// NewTable builds a receive table routing every type to h.
// With no types given it registers DefaultTypes.
func NewTable(h reassembly.Handler, types ...PacketType) (*reassembly.Table, error) {
	if len(types) == 0 {
		types = DefaultTypes
	}

	descriptors := make([]reassembly.FrameType, 0, len(types))
	for _, pt := range types {
		ft, err := Descriptor(pt, h)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, ft)
	}

	return reassembly.NewTable(descriptors...)
}

// NewVendorTable adds the FM channel-8 type to the default set
func NewVendorTable(h reassembly.Handler) (*reassembly.Table, error) {
	return NewTable(h, PacketACL, PacketSCO, PacketEvent, PacketFM)
}

// Encode prepends the packet type byte for transmission
func Encode(pt PacketType, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = byte(pt)
	copy(out[1:], payload)
	return out
}

// Command builds an H4 command frame
func Command(opcode uint16, params []byte) ([]byte, error) {
	if len(params) > MaxCommandParam {
		return nil, fmt.Errorf("%w: %d parameter bytes", ErrPayloadTooLong, len(params))
	}

	out := make([]byte, CommandHeaderSize+len(params))
	out[0] = byte(PacketCommand)
	out[1] = byte(opcode)
	out[2] = byte(opcode >> 8)
	out[3] = byte(len(params))
	copy(out[CommandHeaderSize:], params)
	return out, nil
}

// Opcode combines an opcode group and command field
func Opcode(ogf uint8, ocf uint16) uint16 {
	return uint16(ogf)<<10 | ocf&0x03FF
}

// ParsePacketType accepts a type name ("event", "ACL") or its number ("4", "0x04")
func ParsePacketType(s string) (PacketType, error) {
	name := strings.TrimSpace(s)
	for _, pt := range []PacketType{PacketCommand, PacketACL, PacketSCO, PacketEvent, PacketISO, PacketFM} {
		if strings.EqualFold(name, pt.String()) {
			return pt, nil
		}
	}

	n, err := strconv.ParseUint(name, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown packet type %q", s)
	}
	return PacketType(n), nil
}
