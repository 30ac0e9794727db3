package channel

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"avaneesh/h4-go/pkg/hci"
	"avaneesh/h4-go/pkg/internal/logger"
	"avaneesh/h4-go/pkg/reassembly"
)

var (
	ErrChannelClosed = errors.New("channel is closed")
	ErrChannelOpen   = errors.New("channel is already open")
)

// Config configures how a channel reassembles its input
type Config struct {
	Types          []hci.PacketType // Packet types accepted from the controller
	FMDetection    bool             // Move vendor FM events onto the FM type
	FMEventCode    uint8            // Event code marking FM traffic
	FMOpcode       uint16           // Command Complete opcode also marking FM traffic; 0 = off
	AllocBudget    int              // Bytes of frame buffers in flight; 0 means unbounded
	WriteQueueSize int
}

// DefaultConfig returns the configuration for a standard controller
func DefaultConfig() Config {
	return Config{
		Types:          hci.DefaultTypes,
		FMEventCode:    hci.EventVendor,
		WriteQueueSize: 100,
	}
}

// Channel reassembles one H4 byte stream and routes the frames
type Channel struct {
	id              string
	physicalChannel PhysicalChannel
	router          *Router
	stats           *Statistics
	logger          logger.Logger

	// Reassembly; asmMu serializes Feed and Reset
	assembler *reassembly.Assembler
	asmMu     sync.Mutex

	// Set on connection loss, applied before the next chunk is fed
	resetPending atomic.Bool

	// State
	state   ChannelState
	stateMu sync.RWMutex

	// Concurrency
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Write queue for serializing writes
	writeQueue chan *writeRequest
}

// writeRequest represents a write request
type writeRequest struct {
	data []byte
	resp chan error
}

// New creates a new channel
func New(id string, physical PhysicalChannel, cfg Config, log logger.Logger) (*Channel, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = DefaultConfig().WriteQueueSize
	}

	router := NewRouter(id)

	types := cfg.Types
	if len(types) == 0 {
		types = hci.DefaultTypes
	}
	if cfg.FMDetection && !containsType(types, hci.PacketFM) {
		types = append(append([]hci.PacketType(nil), types...), hci.PacketFM)
	}

	var handler reassembly.Handler = router
	if cfg.FMDetection && cfg.FMOpcode != 0 {
		handler = &hci.FMCommandFilter{Opcode: cfg.FMOpcode, Next: router}
	}

	table, err := hci.NewTable(handler, types...)
	if err != nil {
		return nil, fmt.Errorf("channel %s: %w", id, err)
	}

	var opts []reassembly.Option
	if cfg.FMDetection {
		detector := hci.NewFMDetector(router)
		if cfg.FMEventCode != 0 {
			detector.EventCode = cfg.FMEventCode
		}
		opts = append(opts, reassembly.WithClassifier(detector))
	}
	if cfg.AllocBudget > 0 {
		opts = append(opts, reassembly.WithAllocator(reassembly.NewBudgetAllocator(cfg.AllocBudget)))
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Channel{
		id:              id,
		physicalChannel: physical,
		router:          router,
		stats:           NewStatistics(),
		logger:          log.With("channel", id),
		assembler:       reassembly.NewAssembler(table, opts...),
		state:           ChannelStateClosed,
		ctx:             ctx,
		cancel:          cancel,
		writeQueue:      make(chan *writeRequest, cfg.WriteQueueSize),
	}

	physical.SetConnectionStateListener(c)
	return c, nil
}

func containsType(types []hci.PacketType, pt hci.PacketType) bool {
	for _, t := range types {
		if t == pt {
			return true
		}
	}
	return false
}

// ID returns the channel ID
func (c *Channel) ID() string {
	return c.id
}

// Open opens the channel and starts processing
func (c *Channel) Open() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state == ChannelStateOpen {
		return ErrChannelOpen
	}
	if c.ctx.Err() != nil {
		return ErrChannelClosed
	}

	c.state = ChannelStateOpen
	c.logger.Info("Channel %s opening", c.id)

	// Start read loop
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()

	// Start write loop
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.writeLoop()
	}()

	c.logger.Info("Channel %s opened", c.id)
	return nil
}

// Close closes the channel and drops any partially received frame
func (c *Channel) Close() error {
	c.stateMu.Lock()
	if c.state == ChannelStateClosed {
		c.stateMu.Unlock()
		if c.ctx.Err() == nil {
			// Never opened
			c.cancel()
			c.closeAssembler()
		}
		return nil
	}
	c.state = ChannelStateClosed
	c.stateMu.Unlock()

	c.logger.Info("Channel %s closing", c.id)

	// Cancel context to stop goroutines
	c.cancel()

	// Close physical channel
	if err := c.physicalChannel.Close(); err != nil {
		c.logger.Error("Error closing physical channel: %v", err)
	}

	// Wait for goroutines to finish
	c.wg.Wait()

	c.closeAssembler()

	c.logger.Info("Channel %s closed", c.id)
	return nil
}

func (c *Channel) closeAssembler() {
	c.asmMu.Lock()
	defer c.asmMu.Unlock()

	if c.assembler.Closed() {
		return
	}
	st := c.assembler.State()
	if dropped := st.Buffered(); dropped > 0 {
		c.stats.StreamReset(dropped)
		c.logger.Debug("Channel %s dropped %d buffered bytes on close", c.id, dropped)
	}
	c.assembler.Close()
}

// readLoop continuously reads from physical channel
func (c *Channel) readLoop() {
	c.logger.Debug("Channel %s read loop started", c.id)
	defer c.logger.Debug("Channel %s read loop stopped", c.id)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		// Read from physical channel
		data, err := c.physicalChannel.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				// Context cancelled, normal shutdown
				return
			}
			c.logger.Error("Channel %s read error: %v", c.id, err)
			continue
		}
		if len(data) == 0 {
			continue
		}

		c.stats.ChunkRx(len(data))
		if logger.FrameDebug() {
			c.logger.Debug("Channel %s RX chunk (%d bytes):\n%s", c.id, len(data), hex.Dump(data))
		}

		c.feed(data)
	}
}

// feed runs one chunk through the assembler
func (c *Channel) feed(data []byte) {
	c.asmMu.Lock()
	defer c.asmMu.Unlock()

	if c.assembler.Closed() {
		return
	}
	if c.resetPending.Swap(false) {
		c.resetLocked("connection lost")
	}

	for _, ev := range c.assembler.Feed(data) {
		if ev.Completed() {
			c.stats.FrameRx()
			continue
		}
		c.stats.BadInput()
		switch ev.Err {
		case reassembly.UnknownType:
			// Resync noise is expected after line glitches
			c.logger.Debug("Channel %s: %v", c.id, ev.Cause())
		default:
			c.logger.Warn("Channel %s: %v", c.id, ev.Cause())
		}
	}
}

// writeLoop processes write requests
func (c *Channel) writeLoop() {
	c.logger.Debug("Channel %s write loop started", c.id)
	defer c.logger.Debug("Channel %s write loop stopped", c.id)

	for {
		select {
		case <-c.ctx.Done():
			// Drain remaining requests with error
			for {
				select {
				case req := <-c.writeQueue:
					req.resp <- ErrChannelClosed
				default:
					return
				}
			}

		case req := <-c.writeQueue:
			if logger.FrameDebug() {
				c.logger.Debug("Channel %s TX (%d bytes):\n%s", c.id, len(req.data), hex.Dump(req.data))
			}
			err := c.physicalChannel.Write(c.ctx, req.data)
			if err != nil {
				c.logger.Error("Channel %s write error: %v", c.id, err)
				c.stats.TxError()
			} else {
				c.stats.FrameTx()
			}
			req.resp <- err
		}
	}
}

// Write queues an encoded H4 frame for transmission and waits for the result
func (c *Channel) Write(data []byte) error {
	c.stateMu.RLock()
	if c.state != ChannelStateOpen {
		c.stateMu.RUnlock()
		return ErrChannelClosed
	}
	c.stateMu.RUnlock()

	req := &writeRequest{
		data: data,
		resp: make(chan error, 1),
	}

	select {
	case c.writeQueue <- req:
	case <-c.ctx.Done():
		return ErrChannelClosed
	}

	select {
	case err := <-req.resp:
		return err
	case <-c.ctx.Done():
		return ErrChannelClosed
	}
}

// Reset drops the in-flight frame, returning the bytes discarded
func (c *Channel) Reset() int {
	c.asmMu.Lock()
	defer c.asmMu.Unlock()

	if c.assembler.Closed() {
		return 0
	}
	return c.resetLocked("reset")
}

// resetLocked drops the in-flight frame; asmMu must be held
func (c *Channel) resetLocked(reason string) int {
	dropped := c.assembler.Reset()
	if dropped > 0 {
		c.stats.StreamReset(dropped)
		c.logger.Info("Channel %s %s, dropped %d buffered bytes", c.id, reason, dropped)
	}
	return dropped
}

// OnConnectionEstablished implements ConnectionStateListener
func (c *Channel) OnConnectionEstablished() {
	c.logger.Info("Channel %s: connection established", c.id)
}

// OnConnectionLost implements ConnectionStateListener.
// Bytes from a new connection never continue the old frame. The partial
// frame is dropped by the read loop, because the loss may be reported
// from inside a subscriber's Write while the assembler is locked.
func (c *Channel) OnConnectionLost() {
	c.logger.Info("Channel %s: connection lost", c.id)
	c.resetPending.Store(true)
}

// AddSubscriber registers the consumer for one packet type
func (c *Channel) AddSubscriber(pt hci.PacketType, s Subscriber) error {
	if err := c.router.AddSubscriber(pt, s); err != nil {
		return err
	}

	c.logger.Info("Channel %s: added %s subscriber", c.id, pt)
	return nil
}

// RemoveSubscriber removes the consumer for one packet type
func (c *Channel) RemoveSubscriber(pt hci.PacketType) {
	c.router.RemoveSubscriber(pt)
	c.logger.Info("Channel %s: removed %s subscriber", c.id, pt)
}

// GetStatistics returns channel statistics
func (c *Channel) GetStatistics() *Statistics {
	return c.stats
}

// GetAssemblerStatistics returns reassembly statistics
func (c *Channel) GetAssemblerStatistics() *reassembly.Statistics {
	return c.assembler.Statistics()
}

// GetUnrouted returns frames that had no subscriber
func (c *Channel) GetUnrouted() uint64 {
	return c.router.GetUnrouted()
}

// GetPhysicalStatistics returns physical channel statistics
func (c *Channel) GetPhysicalStatistics() TransportStats {
	return c.physicalChannel.Statistics()
}

// AssemblyState returns a snapshot of the in-flight frame
func (c *Channel) AssemblyState() reassembly.State {
	c.asmMu.Lock()
	defer c.asmMu.Unlock()
	return c.assembler.State()
}

// State returns the current channel state
func (c *Channel) State() ChannelState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// String returns string representation of channel
func (c *Channel) String() string {
	return fmt.Sprintf("Channel{ID=%s, State=%s, Subscribers=%d}",
		c.id, c.State(), c.router.GetSubscriberCount())
}
