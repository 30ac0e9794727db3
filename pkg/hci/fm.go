package hci

import "avaneesh/h4-go/pkg/reassembly"

// FMDetector moves vendor FM traffic that arrives framed as HCI events
// onto the FM descriptor. It decides from the event header alone and holds
// no state between frames.
type FMDetector struct {
	// EventCode marks an event frame as FM traffic
	EventCode uint8

	fm reassembly.FrameType
}

// NewFMDetector creates a detector delivering FM frames to h
func NewFMDetector(h reassembly.Handler) *FMDetector {
	fm, _ := Descriptor(PacketFM, h)
	return &FMDetector{
		EventCode: EventVendor,
		fm:        fm,
	}
}

// Classify implements reassembly.Classifier
func (d *FMDetector) Classify(header []byte, current *reassembly.FrameType) *reassembly.FrameType {
	if PacketType(current.Type) != PacketEvent || len(header) < EventHeaderSize {
		return nil
	}
	if header[1] != d.EventCode {
		return nil
	}
	return &d.fm
}

// FMCommandFilter is a reassembly.Handler that hands completed Command
// Complete events for Opcode to Next as FM frames. The opcode sits past the
// event header, so this runs after reassembly rather than as a Classifier.
type FMCommandFilter struct {
	Opcode uint16
	Next   reassembly.Handler
}

// HandleFrame implements reassembly.Handler
func (f *FMCommandFilter) HandleFrame(typ byte, frame []byte) {
	if PacketType(typ) == PacketEvent && f.matches(frame) {
		typ = byte(PacketFM)
	}
	f.Next.HandleFrame(typ, frame)
}

func (f *FMCommandFilter) matches(frame []byte) bool {
	ev, err := ParseEventHeader(frame)
	if err != nil || ev.Code != EventCommandComplete {
		return false
	}
	op, ok := ev.Opcode()
	return ok && op == f.Opcode
}
