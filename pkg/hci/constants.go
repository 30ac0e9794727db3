package hci

import "errors"

// H4 Packet Type Constants

// PacketType is the leading byte of every H4 frame
type PacketType uint8

const (
	PacketCommand PacketType = 0x01 // HCI command (host to controller)
	PacketACL     PacketType = 0x02 // ACL data
	PacketSCO     PacketType = 0x03 // Synchronous (SCO/eSCO) data
	PacketEvent   PacketType = 0x04 // HCI event (controller to host)
	PacketISO     PacketType = 0x05 // Isochronous data
	PacketFM      PacketType = 0x08 // Vendor FM radio, channel 8
)

// String returns string representation of PacketType
func (p PacketType) String() string {
	switch p {
	case PacketCommand:
		return "Command"
	case PacketACL:
		return "ACL"
	case PacketSCO:
		return "SCO"
	case PacketEvent:
		return "Event"
	case PacketISO:
		return "ISO"
	case PacketFM:
		return "FM"
	default:
		return "Unknown"
	}
}

// Header sizes, type byte included
const (
	EventHeaderSize   = 3 // type + event code + parameter length
	ACLHeaderSize     = 5 // type + handle/flags (2) + data length (2)
	SCOHeaderSize     = 4 // type + handle/flags (2) + data length (1)
	ISOHeaderSize     = 5 // type + handle/flags (2) + data length (2)
	FMHeaderSize      = 3 // type + event code + parameter length
	CommandHeaderSize = 4 // type + opcode (2) + parameter length
)

// Payload limits
const (
	MaxEventParams  = 255
	MaxACLData      = 1024
	MaxSCOData      = 255
	MaxISOData      = 16384
	MaxFMParams     = 255
	MaxCommandParam = 255
)

// Maximum frame sizes, type byte included
const (
	MaxEventFrame = EventHeaderSize + MaxEventParams
	MaxACLFrame   = ACLHeaderSize + MaxACLData
	MaxSCOFrame   = SCOHeaderSize + MaxSCOData
	MaxISOFrame   = ISOHeaderSize + MaxISOData
	MaxFMFrame    = FMHeaderSize + MaxFMParams
)

// Length field offsets inside each header
const (
	eventLenOffset = 2
	aclLenOffset   = 3
	scoLenOffset   = 3
	isoLenOffset   = 3
	fmLenOffset    = 2
)

// Event codes
const (
	EventCommandComplete uint8 = 0x0E
	EventCommandStatus   uint8 = 0x0F
	EventVendor          uint8 = 0xFF // Vendor specific, carries FM traffic on some controllers
)

// Command opcode fields
const (
	OGFControllerBaseband uint8  = 0x03
	OCFReset              uint16 = 0x0003

	// OpcodeVendorFM is the vendor command whose Command Complete
	// carries FM traffic on some combo controllers
	OpcodeVendorFM uint16 = 0xFC15
)

// Handle masks
const (
	ACLHandleMask  uint16 = 0x0FFF
	SCOHandleMask  uint16 = 0x0FFF
	ISOHandleMask  uint16 = 0x0FFF
	ISODataLenMask uint16 = 0x3FFF
)

// Flag positions in the handle field
const (
	ACLPBFlagShift = 12
	ACLBCFlagShift = 14
	SCOStatusShift = 12
)

// Errors
var (
	ErrShortFrame     = errors.New("frame shorter than its header")
	ErrWrongType      = errors.New("frame has a different packet type")
	ErrLengthMismatch = errors.New("frame length does not match its header")
	ErrPayloadTooLong = errors.New("payload too long for packet type")
)
