package reassembly

import (
	"errors"
	"fmt"
)

// Reassembly errors
var (
	ErrUnknownType = errors.New("unknown frame type")
	ErrOversize    = errors.New("frame exceeds maximum length")
	ErrAllocation  = errors.New("frame buffer allocation failed")
	ErrClosed      = errors.New("assembler is closed")
)

// EventKind distinguishes completed frames from local errors
type EventKind int

const (
	EventCompleted EventKind = iota // A frame was delivered
	EventError                      // Input was discarded
)

// String returns string representation of EventKind
func (k EventKind) String() string {
	switch k {
	case EventCompleted:
		return "Completed"
	case EventError:
		return "Error"
	default:
		return "Unknown"
	}
}

// ErrorKind classifies a discarded frame or byte
type ErrorKind int

const (
	ErrorNone         ErrorKind = iota
	UnknownType                 // Leading byte matched no descriptor
	Oversize                    // Declared length exceeds the type's maximum
	AllocationFailure           // Frame buffer could not be acquired
)

// String returns string representation of ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "None"
	case UnknownType:
		return "UnknownType"
	case Oversize:
		return "Oversize"
	case AllocationFailure:
		return "AllocationFailure"
	default:
		return "Unknown"
	}
}

// Err returns the sentinel error for the kind
func (k ErrorKind) Err() error {
	switch k {
	case UnknownType:
		return ErrUnknownType
	case Oversize:
		return ErrOversize
	case AllocationFailure:
		return ErrAllocation
	default:
		return nil
	}
}

// Event is one outcome of a Feed call
type Event struct {
	Kind     EventKind
	Type     byte      // Frame type, or the offending byte for UnknownType
	Frame    []byte    // Completed frame including the type byte
	Err      ErrorKind // Set when Kind is EventError
	Declared int       // Total length announced by the header (Oversize only)
	Dropped  int       // Bytes discarded by this event
}

// Completed reports whether the event carries a frame
func (e Event) Completed() bool {
	return e.Kind == EventCompleted
}

// Cause returns a descriptive error for error events, nil otherwise
func (e Event) Cause() error {
	if e.Kind != EventError {
		return nil
	}
	switch e.Err {
	case UnknownType:
		return fmt.Errorf("%w: 0x%02x", ErrUnknownType, e.Type)
	case Oversize:
		return fmt.Errorf("%w: type 0x%02x declares %d bytes", ErrOversize, e.Type, e.Declared)
	case AllocationFailure:
		return fmt.Errorf("%w: type 0x%02x, %d bytes dropped", ErrAllocation, e.Type, e.Dropped)
	default:
		return e.Err.Err()
	}
}

// String returns a string representation of the event
func (e Event) String() string {
	if e.Completed() {
		return fmt.Sprintf("Event{Completed, Type=0x%02x, Len=%d}", e.Type, len(e.Frame))
	}
	return fmt.Sprintf("Event{Error=%s, Type=0x%02x, Dropped=%d}", e.Err, e.Type, e.Dropped)
}
