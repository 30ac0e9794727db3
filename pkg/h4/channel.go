package h4

import (
	"time"

	"avaneesh/h4-go/pkg/channel"
	"avaneesh/h4-go/pkg/hci"
)

// ChannelConfig configures a channel added to the Manager
type ChannelConfig struct {
	// Types lists the accepted packet types; empty means ACL, SCO and Event
	Types []hci.PacketType

	// Vendor enables FM traffic, both on its own type byte and inside
	// vendor events carrying FMEventCode
	Vendor      bool
	FMEventCode uint8

	// FMOpcode also treats Command Complete for this vendor opcode as
	// FM traffic (e.g. hci.OpcodeVendorFM); 0 leaves it off
	FMOpcode uint16

	// AllocBudget caps bytes of frame buffers in flight (0 = unbounded)
	AllocBudget int

	// Subscribers are attached before the channel opens
	Subscribers map[hci.PacketType]channel.Subscriber
}

// DefaultChannelConfig returns the configuration for a standard controller
func DefaultChannelConfig() ChannelConfig {
	return ChannelConfig{
		FMEventCode: hci.EventVendor,
	}
}

func (c ChannelConfig) channelConfig() channel.Config {
	cfg := channel.DefaultConfig()
	if len(c.Types) > 0 {
		cfg.Types = c.Types
	}
	cfg.FMDetection = c.Vendor
	if c.FMEventCode != 0 {
		cfg.FMEventCode = c.FMEventCode
	}
	cfg.FMOpcode = c.FMOpcode
	cfg.AllocBudget = c.AllocBudget
	return cfg
}

// Channel is the public interface for one H4 stream
type Channel interface {
	// ID returns the channel ID
	ID() string

	// Subscribe attaches the consumer of one packet type
	Subscribe(pt hci.PacketType, s channel.Subscriber) error

	// Unsubscribe detaches the consumer of one packet type
	Unsubscribe(pt hci.PacketType)

	// Send frames payload with its type byte and transmits it
	Send(pt hci.PacketType, payload []byte) error

	// SendCommand builds and transmits an HCI command
	SendCommand(opcode uint16, params []byte) error

	// Reset drops the frame currently being assembled
	Reset() int

	// Shutdown closes the channel
	Shutdown() error

	// Statistics returns channel statistics
	Statistics() ChannelStatistics
}

// ChannelStatistics provides channel-level statistics
type ChannelStatistics struct {
	ChunksRx           uint64    `json:"chunks_rx"`           // Chunks read from the medium
	FramesRx           uint64    `json:"frames_rx"`           // Frames completed
	FramesTx           uint64    `json:"frames_tx"`           // Frames written
	TxErrors           uint64    `json:"tx_errors"`           // Failed writes
	Unrouted           uint64    `json:"unrouted"`            // Frames with no subscriber
	Reclassified       uint64    `json:"reclassified"`        // Frames moved to another type
	UnknownTypes       uint64    `json:"unknown_types"`       // Bytes skipped while resyncing
	OversizeFrames     uint64    `json:"oversize_frames"`     // Frames over their type's bound
	AllocationFailures uint64    `json:"allocation_failures"` // Frames with no buffer
	DroppedBytes       uint64    `json:"dropped_bytes"`       // Bytes discarded by the assembler
	Resets             uint64    `json:"resets"`              // Partial frames dropped on reset
	PhysicalBytesTx    uint64    `json:"physical_bytes_tx"`   // Physical bytes transmitted
	PhysicalBytesRx    uint64    `json:"physical_bytes_rx"`   // Physical bytes received
	Connects           uint64    `json:"connects"`
	Disconnects        uint64    `json:"disconnects"`
	LastFrame          time.Time `json:"last_frame"`
}

// channelImpl implements the Channel interface
type channelImpl struct {
	channel *channel.Channel
	manager *Manager
}

// ID returns the channel ID
func (c *channelImpl) ID() string {
	return c.channel.ID()
}

// Subscribe attaches the consumer of one packet type
func (c *channelImpl) Subscribe(pt hci.PacketType, s channel.Subscriber) error {
	return c.channel.AddSubscriber(pt, s)
}

// Unsubscribe detaches the consumer of one packet type
func (c *channelImpl) Unsubscribe(pt hci.PacketType) {
	c.channel.RemoveSubscriber(pt)
}

// Send frames payload with its type byte and transmits it
func (c *channelImpl) Send(pt hci.PacketType, payload []byte) error {
	return c.channel.Write(hci.Encode(pt, payload))
}

// SendCommand builds and transmits an HCI command
func (c *channelImpl) SendCommand(opcode uint16, params []byte) error {
	frame, err := hci.Command(opcode, params)
	if err != nil {
		return err
	}
	return c.channel.Write(frame)
}

// Reset drops the frame currently being assembled
func (c *channelImpl) Reset() int {
	return c.channel.Reset()
}

// Shutdown closes the channel
func (c *channelImpl) Shutdown() error {
	return c.manager.RemoveChannel(c.channel.ID())
}

// Statistics returns channel statistics
func (c *channelImpl) Statistics() ChannelStatistics {
	stats := c.channel.GetStatistics()
	asm := c.channel.GetAssemblerStatistics()
	physStats := c.channel.GetPhysicalStatistics()

	return ChannelStatistics{
		ChunksRx:           stats.GetChunksRx(),
		FramesRx:           stats.GetFramesRx(),
		FramesTx:           stats.GetFramesTx(),
		TxErrors:           stats.GetTxErrors(),
		Unrouted:           c.channel.GetUnrouted(),
		Reclassified:       asm.GetReclassified(),
		UnknownTypes:       asm.GetUnknownTypes(),
		OversizeFrames:     asm.GetOversizeFrames(),
		AllocationFailures: asm.GetAllocationFailures(),
		DroppedBytes:       asm.GetDroppedBytes(),
		Resets:             stats.GetResets(),
		PhysicalBytesTx:    physStats.BytesSent,
		PhysicalBytesRx:    physStats.BytesReceived,
		Connects:           physStats.Connects,
		Disconnects:        physStats.Disconnects,
		LastFrame:          asm.GetLastFrameTime(),
	}
}
