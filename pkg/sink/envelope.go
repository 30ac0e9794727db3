package sink

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"avaneesh/h4-go/pkg/channel"
	"avaneesh/h4-go/pkg/hci"
)

// Envelope is the wire form of a frame published downstream
type Envelope struct {
	Channel    string    `cbor:"1,keyasint"`
	Type       uint8     `cbor:"2,keyasint"`
	TypeName   string    `cbor:"3,keyasint"`
	Frame      []byte    `cbor:"4,keyasint"`
	ReceivedAt time.Time `cbor:"5,keyasint"`
}

var envelopeMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// NewEnvelope wraps a completed frame
func NewEnvelope(frame channel.Frame) Envelope {
	return Envelope{
		Channel:    frame.Channel,
		Type:       uint8(frame.Type),
		TypeName:   frame.Type.String(),
		Frame:      frame.Data,
		ReceivedAt: frame.ReceivedAt,
	}
}

// Marshal encodes the envelope as deterministic CBOR
func (e Envelope) Marshal() ([]byte, error) {
	return envelopeMode.Marshal(e)
}

// DecodeEnvelope parses an envelope produced by Marshal
func DecodeEnvelope(data []byte) (Envelope, error) {
	var e Envelope
	if err := cbor.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	return e, nil
}

// PacketType returns the envelope's packet type
func (e Envelope) PacketType() hci.PacketType {
	return hci.PacketType(e.Type)
}
