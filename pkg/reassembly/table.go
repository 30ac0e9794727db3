package reassembly

import (
	"errors"
	"fmt"
)

// Table construction errors
var (
	ErrDuplicateType       = errors.New("duplicate frame type")
	ErrInvalidHeaderLen    = errors.New("invalid header length")
	ErrInvalidLengthWidth  = errors.New("invalid length field width")
	ErrInvalidLengthOffset = errors.New("invalid length field offset")
	ErrNilHandler          = errors.New("frame type has no handler")
)

// FrameType describes one frame shape on the wire
type FrameType struct {
	Type         byte    // Leading byte selecting this descriptor
	HeaderLen    int     // Fixed header size, type byte included
	LengthOffset int     // Offset of the length field inside the header
	LengthWidth  int     // 0, 1 or 2 (little-endian) bytes
	MaxLen       int     // Upper bound on header + variable part
	Handler      Handler // Receives completed frames
}

// validate checks the descriptor invariants
func (ft *FrameType) validate() error {
	if ft.HeaderLen < 1 || ft.HeaderLen > ft.MaxLen {
		return fmt.Errorf("type 0x%02x: %w: header %d, max %d", ft.Type, ErrInvalidHeaderLen, ft.HeaderLen, ft.MaxLen)
	}

	switch ft.LengthWidth {
	case 0:
	case 1, 2:
		// The type byte at offset 0 can never double as the length field
		if ft.LengthOffset < 1 || ft.LengthOffset+ft.LengthWidth > ft.HeaderLen {
			return fmt.Errorf("type 0x%02x: %w: offset %d, width %d, header %d",
				ft.Type, ErrInvalidLengthOffset, ft.LengthOffset, ft.LengthWidth, ft.HeaderLen)
		}
	default:
		return fmt.Errorf("type 0x%02x: %w: %d", ft.Type, ErrInvalidLengthWidth, ft.LengthWidth)
	}

	if ft.Handler == nil {
		return fmt.Errorf("type 0x%02x: %w", ft.Type, ErrNilHandler)
	}
	return nil
}

// variableLen decodes the length field from a buffered header
func (ft *FrameType) variableLen(header []byte) int {
	switch ft.LengthWidth {
	case 1:
		return int(header[ft.LengthOffset])
	case 2:
		return int(header[ft.LengthOffset]) | int(header[ft.LengthOffset+1])<<8
	default:
		return 0
	}
}

// String returns a short description of the frame type
func (ft *FrameType) String() string {
	return fmt.Sprintf("FrameType{Type=0x%02x, Header=%d, LenOff=%d, LenWidth=%d, Max=%d}",
		ft.Type, ft.HeaderLen, ft.LengthOffset, ft.LengthWidth, ft.MaxLen)
}

// Table is an immutable set of frame types indexed by leading byte.
// Safe for concurrent lookups from any number of channels.
type Table struct {
	types []*FrameType
	index [256]*FrameType
}

// NewTable validates the descriptors and builds a lookup table.
// Descriptors are copied; later changes to the arguments have no effect.
func NewTable(types ...FrameType) (*Table, error) {
	t := &Table{
		types: make([]*FrameType, 0, len(types)),
	}

	for i := range types {
		ft := types[i]
		if err := ft.validate(); err != nil {
			return nil, err
		}
		if t.index[ft.Type] != nil {
			return nil, fmt.Errorf("type 0x%02x: %w", ft.Type, ErrDuplicateType)
		}
		t.index[ft.Type] = &ft
		t.types = append(t.types, &ft)
	}

	return t, nil
}

// MustNewTable is like NewTable but panics on error
func MustNewTable(types ...FrameType) *Table {
	t, err := NewTable(types...)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the descriptor for a leading byte
func (t *Table) Lookup(b byte) (*FrameType, bool) {
	ft := t.index[b]
	return ft, ft != nil
}

// Types returns a copy of the descriptors in registration order
func (t *Table) Types() []FrameType {
	out := make([]FrameType, len(t.types))
	for i, ft := range t.types {
		out[i] = *ft
	}
	return out
}

// Len returns the number of registered frame types
func (t *Table) Len() int {
	return len(t.types)
}

