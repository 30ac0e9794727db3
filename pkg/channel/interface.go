package channel

import "context"

// ConnectionStateListener receives notifications about connection state changes
type ConnectionStateListener interface {
	// OnConnectionEstablished is called when a new connection is established
	OnConnectionEstablished()

	// OnConnectionLost is called when a connection is lost
	OnConnectionLost()
}

// PhysicalChannel is the byte transport under one H4 stream.
// Implementations carry a UART, a TCP or QUIC stream, or UDP datagrams.
type PhysicalChannel interface {
	// Read returns the next chunk of received bytes exactly as the medium
	// delivered it. Chunks need not align with frame boundaries.
	// Blocks until data is available or ctx is cancelled.
	Read(ctx context.Context) ([]byte, error)

	// Write writes bytes to the medium
	// Must be thread-safe
	Write(ctx context.Context, data []byte) error

	// Close closes the physical connection
	// Should cleanup all resources and unblock any pending Read/Write
	Close() error

	// Statistics returns transport-level statistics
	Statistics() TransportStats

	// SetConnectionStateListener sets a listener for connection state changes
	// Channels without connection state can ignore this
	SetConnectionStateListener(listener ConnectionStateListener)
}

// TransportStats provides transport-level statistics
type TransportStats struct {
	BytesSent     uint64 // Total bytes sent
	BytesReceived uint64 // Total bytes received
	WriteErrors   uint64 // Number of write errors
	ReadErrors    uint64 // Number of read errors
	Connects      uint64 // Number of connections (for connection-oriented transports)
	Disconnects   uint64 // Number of disconnections
}

// ChannelState represents the state of a channel
type ChannelState int

const (
	ChannelStateOpen ChannelState = iota
	ChannelStateClosed
)

// String returns string representation of ChannelState
func (s ChannelState) String() string {
	switch s {
	case ChannelStateOpen:
		return "Open"
	case ChannelStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
