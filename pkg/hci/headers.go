package hci

import (
	"encoding/binary"
	"fmt"
)

// EventHeader is the fixed part of an HCI event frame
type EventHeader struct {
	Code     uint8
	ParamLen uint8
	Params   []byte
}

// ParseEventHeader decodes a completed event frame
func ParseEventHeader(frame []byte) (*EventHeader, error) {
	if err := checkFrame(frame, PacketEvent, EventHeaderSize); err != nil {
		return nil, err
	}
	h := &EventHeader{
		Code:     frame[1],
		ParamLen: frame[eventLenOffset],
	}
	if len(frame) != EventHeaderSize+int(h.ParamLen) {
		return nil, fmt.Errorf("%w: event declares %d, has %d", ErrLengthMismatch, h.ParamLen, len(frame)-EventHeaderSize)
	}
	h.Params = frame[EventHeaderSize:]
	return h, nil
}

// Opcode returns the command opcode for Command Complete and Command Status events
func (h *EventHeader) Opcode() (uint16, bool) {
	switch h.Code {
	case EventCommandComplete:
		// num_hci_command_packets, opcode
		if len(h.Params) >= 3 {
			return binary.LittleEndian.Uint16(h.Params[1:3]), true
		}
	case EventCommandStatus:
		// status, num_hci_command_packets, opcode
		if len(h.Params) >= 4 {
			return binary.LittleEndian.Uint16(h.Params[2:4]), true
		}
	}
	return 0, false
}

// ACLHeader is the fixed part of an ACL data frame
type ACLHeader struct {
	Handle  uint16
	PBFlag  uint8 // Packet boundary flag
	BCFlag  uint8 // Broadcast flag
	DataLen uint16
	Data    []byte
}

// ParseACLHeader decodes a completed ACL frame
func ParseACLHeader(frame []byte) (*ACLHeader, error) {
	if err := checkFrame(frame, PacketACL, ACLHeaderSize); err != nil {
		return nil, err
	}
	raw := binary.LittleEndian.Uint16(frame[1:3])
	h := &ACLHeader{
		Handle:  raw & ACLHandleMask,
		PBFlag:  uint8(raw>>ACLPBFlagShift) & 0x03,
		BCFlag:  uint8(raw>>ACLBCFlagShift) & 0x03,
		DataLen: binary.LittleEndian.Uint16(frame[aclLenOffset:]),
	}
	if len(frame) != ACLHeaderSize+int(h.DataLen) {
		return nil, fmt.Errorf("%w: ACL declares %d, has %d", ErrLengthMismatch, h.DataLen, len(frame)-ACLHeaderSize)
	}
	h.Data = frame[ACLHeaderSize:]
	return h, nil
}

// SCOHeader is the fixed part of a synchronous data frame
type SCOHeader struct {
	Handle  uint16
	Status  uint8
	DataLen uint8
	Data    []byte
}

// ParseSCOHeader decodes a completed SCO frame
func ParseSCOHeader(frame []byte) (*SCOHeader, error) {
	if err := checkFrame(frame, PacketSCO, SCOHeaderSize); err != nil {
		return nil, err
	}
	raw := binary.LittleEndian.Uint16(frame[1:3])
	h := &SCOHeader{
		Handle:  raw & SCOHandleMask,
		Status:  uint8(raw>>SCOStatusShift) & 0x03,
		DataLen: frame[scoLenOffset],
	}
	if len(frame) != SCOHeaderSize+int(h.DataLen) {
		return nil, fmt.Errorf("%w: SCO declares %d, has %d", ErrLengthMismatch, h.DataLen, len(frame)-SCOHeaderSize)
	}
	h.Data = frame[SCOHeaderSize:]
	return h, nil
}

// ISOHeader is the fixed part of an isochronous data frame
type ISOHeader struct {
	Handle  uint16
	Flags   uint8
	DataLen uint16
	Data    []byte
}

// ParseISOHeader decodes a completed ISO frame
func ParseISOHeader(frame []byte) (*ISOHeader, error) {
	if err := checkFrame(frame, PacketISO, ISOHeaderSize); err != nil {
		return nil, err
	}
	raw := binary.LittleEndian.Uint16(frame[1:3])
	h := &ISOHeader{
		Handle:  raw & ISOHandleMask,
		Flags:   uint8(raw >> 12),
		DataLen: binary.LittleEndian.Uint16(frame[isoLenOffset:]) & ISODataLenMask,
	}
	if len(frame) != ISOHeaderSize+int(h.DataLen) {
		return nil, fmt.Errorf("%w: ISO declares %d, has %d", ErrLengthMismatch, h.DataLen, len(frame)-ISOHeaderSize)
	}
	h.Data = frame[ISOHeaderSize:]
	return h, nil
}

// FMHeader is the fixed part of a vendor FM frame
type FMHeader struct {
	Event    uint8
	ParamLen uint8
	Params   []byte
}

// ParseFMHeader decodes a completed FM frame.
// Frames moved to the FM table by FMDetector keep their original event
// type byte, so either leading byte is accepted.
func ParseFMHeader(frame []byte) (*FMHeader, error) {
	if len(frame) < FMHeaderSize {
		return nil, ErrShortFrame
	}
	if PacketType(frame[0]) != PacketFM && PacketType(frame[0]) != PacketEvent {
		return nil, fmt.Errorf("%w: 0x%02x", ErrWrongType, frame[0])
	}
	h := &FMHeader{
		Event:    frame[1],
		ParamLen: frame[fmLenOffset],
	}
	if len(frame) != FMHeaderSize+int(h.ParamLen) {
		return nil, fmt.Errorf("%w: FM declares %d, has %d", ErrLengthMismatch, h.ParamLen, len(frame)-FMHeaderSize)
	}
	h.Params = frame[FMHeaderSize:]
	return h, nil
}

func checkFrame(frame []byte, want PacketType, headerSize int) error {
	if len(frame) < headerSize {
		return ErrShortFrame
	}
	if PacketType(frame[0]) != want {
		return fmt.Errorf("%w: got %s, want %s", ErrWrongType, PacketType(frame[0]), want)
	}
	return nil
}
