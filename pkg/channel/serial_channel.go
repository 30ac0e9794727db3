package channel

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

// SerialPort is the part of serial.Port the channel uses
type SerialPort interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// PortOpener opens a serial device
type PortOpener func(name string, mode *serial.Mode) (SerialPort, error)

// OpenSerialPort opens a real device through go.bug.st/serial
func OpenSerialPort(name string, mode *serial.Mode) (SerialPort, error) {
	return serial.Open(name, mode)
}

// SerialChannel implements PhysicalChannel for a UART attached controller
type SerialChannel struct {
	// Port
	port     SerialPort
	portLock sync.RWMutex
	open     PortOpener

	// Configuration
	device         string
	mode           *serial.Mode
	readTimeout    time.Duration
	reconnectDelay time.Duration
	chunkSize      int

	// Connection state listener
	stateListener ConnectionStateListener
	listenerLock  sync.RWMutex

	// Statistics
	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
		connects      atomic.Uint64
		disconnects   atomic.Uint64
	}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	closed atomic.Bool
}

// SerialChannelConfig configures a serial channel
type SerialChannelConfig struct {
	Device         string        // e.g. /dev/ttyUSB0
	BaudRate       int           // Line rate, default 115200
	ReadTimeout    time.Duration // Poll interval for context checks
	ReconnectDelay time.Duration // Delay before reopening a failed device
	ChunkSize      int           // Largest chunk returned by Read
	Opener         PortOpener    // Defaults to OpenSerialPort
}

// NewSerialChannel opens the device and returns the channel
func NewSerialChannel(config SerialChannelConfig) (*SerialChannel, error) {
	if config.Device == "" {
		return nil, fmt.Errorf("device is required")
	}

	// Set defaults
	if config.BaudRate == 0 {
		config.BaudRate = 115200
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 100 * time.Millisecond
	}
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 2 * time.Second
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaultChunkSize
	}
	if config.Opener == nil {
		config.Opener = OpenSerialPort
	}

	ctx, cancel := context.WithCancel(context.Background())

	sc := &SerialChannel{
		open:   config.Opener,
		device: config.Device,
		mode: &serial.Mode{
			BaudRate: config.BaudRate,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		},
		readTimeout:    config.ReadTimeout,
		reconnectDelay: config.ReconnectDelay,
		chunkSize:      config.ChunkSize,
		ctx:            ctx,
		cancel:         cancel,
	}

	port, err := sc.openPort()
	if err != nil {
		cancel()
		return nil, err
	}
	sc.port = port

	return sc, nil
}

// openPort opens and configures the device
func (sc *SerialChannel) openPort() (SerialPort, error) {
	port, err := sc.open(sc.device, sc.mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", sc.device, err)
	}

	if err := port.SetReadTimeout(sc.readTimeout); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", sc.device, err)
	}

	// Bytes queued before we opened belong to no frame we can place
	port.ResetInputBuffer()

	sc.stats.connects.Add(1)
	return port, nil
}

// Read implements PhysicalChannel.Read.
// A read that times out with no data is retried after a context check.
func (sc *SerialChannel) Read(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-sc.ctx.Done():
			return nil, ErrChannelClosed
		default:
		}

		sc.portLock.RLock()
		port := sc.port
		sc.portLock.RUnlock()

		if port == nil {
			if err := sc.reopen(ctx); err != nil {
				return nil, err
			}
			continue
		}

		buffer := make([]byte, sc.chunkSize)
		n, err := port.Read(buffer)
		if n > 0 {
			sc.stats.bytesReceived.Add(uint64(n))
			return buffer[:n], nil
		}
		if err != nil {
			if sc.closed.Load() {
				return nil, ErrChannelClosed
			}
			sc.stats.readErrors.Add(1)
			sc.dropPort(port)
		}
	}
}

// reopen waits the reconnect delay and tries the device again
func (sc *SerialChannel) reopen(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sc.ctx.Done():
		return ErrChannelClosed
	case <-time.After(sc.reconnectDelay):
	}

	port, err := sc.openPort()
	if err != nil {
		return nil
	}

	sc.portLock.Lock()
	if sc.closed.Load() {
		sc.portLock.Unlock()
		port.Close()
		return ErrChannelClosed
	}
	sc.port = port
	sc.portLock.Unlock()

	sc.notify(true)
	return nil
}

// dropPort closes port if it is still current and reports the loss
func (sc *SerialChannel) dropPort(port SerialPort) {
	sc.portLock.Lock()
	if sc.port != port {
		sc.portLock.Unlock()
		return
	}
	sc.port.Close()
	sc.port = nil
	sc.stats.disconnects.Add(1)
	sc.portLock.Unlock()

	sc.notify(false)
}

// Write implements PhysicalChannel.Write
func (sc *SerialChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-sc.ctx.Done():
		return ErrChannelClosed
	default:
	}

	sc.portLock.RLock()
	port := sc.port
	sc.portLock.RUnlock()

	if port == nil {
		sc.stats.writeErrors.Add(1)
		return fmt.Errorf("device %s not open", sc.device)
	}

	if _, err := port.Write(data); err != nil {
		sc.stats.writeErrors.Add(1)
		return err
	}

	sc.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

// Close implements PhysicalChannel.Close
func (sc *SerialChannel) Close() error {
	if !sc.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	sc.cancel()

	sc.portLock.Lock()
	defer sc.portLock.Unlock()

	if sc.port == nil {
		return nil
	}
	err := sc.port.Close()
	sc.port = nil
	sc.stats.disconnects.Add(1)
	return err
}

// Statistics implements PhysicalChannel.Statistics
func (sc *SerialChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     sc.stats.bytesSent.Load(),
		BytesReceived: sc.stats.bytesReceived.Load(),
		WriteErrors:   sc.stats.writeErrors.Load(),
		ReadErrors:    sc.stats.readErrors.Load(),
		Connects:      sc.stats.connects.Load(),
		Disconnects:   sc.stats.disconnects.Load(),
	}
}

// SetConnectionStateListener implements PhysicalChannel
func (sc *SerialChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	sc.listenerLock.Lock()
	defer sc.listenerLock.Unlock()
	sc.stateListener = listener
}

func (sc *SerialChannel) notify(established bool) {
	sc.listenerLock.RLock()
	listener := sc.stateListener
	sc.listenerLock.RUnlock()

	if listener == nil {
		return
	}
	if established {
		listener.OnConnectionEstablished()
	} else {
		listener.OnConnectionLost()
	}
}

// Device returns the device path
func (sc *SerialChannel) Device() string {
	return sc.device
}

// IsConnected returns true while the device is open
func (sc *SerialChannel) IsConnected() bool {
	sc.portLock.RLock()
	defer sc.portLock.RUnlock()
	return sc.port != nil
}
