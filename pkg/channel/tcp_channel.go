package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// defaultChunkSize bounds a single stream read
const defaultChunkSize = 4096

// TCPChannel implements PhysicalChannel for TCP connections
type TCPChannel struct {
	// Connection
	conn     net.Conn
	connLock sync.RWMutex

	// Configuration
	address        string
	isServer       bool
	listener       net.Listener
	reconnectDelay time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
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
	wg     sync.WaitGroup
	closed atomic.Bool
}

// TCPChannelConfig configures a TCP channel
type TCPChannelConfig struct {
	Address        string        // "host:port" format
	IsServer       bool          // true = listen, false = connect
	ReconnectDelay time.Duration // Delay between reconnection attempts (client only)
	ReadTimeout    time.Duration // Read timeout (0 = no timeout)
	WriteTimeout   time.Duration // Write timeout (0 = no timeout)
	ChunkSize      int           // Largest chunk returned by Read
}

// NewTCPChannel creates a new TCP channel
func NewTCPChannel(config TCPChannelConfig) (*TCPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}

	// Set defaults
	if config.ReconnectDelay == 0 {
		config.ReconnectDelay = 5 * time.Second
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 30 * time.Second
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = defaultChunkSize
	}

	ctx, cancel := context.WithCancel(context.Background())

	tc := &TCPChannel{
		address:        config.Address,
		isServer:       config.IsServer,
		reconnectDelay: config.ReconnectDelay,
		readTimeout:    config.ReadTimeout,
		writeTimeout:   config.WriteTimeout,
		chunkSize:      config.ChunkSize,
		ctx:            ctx,
		cancel:         cancel,
	}

	// Initialize connection
	if config.IsServer {
		if err := tc.startServer(); err != nil {
			cancel()
			return nil, err
		}
	} else {
		if err := tc.connect(); err != nil {
			cancel()
			return nil, err
		}
	}

	return tc, nil
}

// startServer starts listening for incoming connections
func (tc *TCPChannel) startServer() error {
	listener, err := net.Listen("tcp", tc.address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", tc.address, err)
	}

	tc.listener = listener

	// Accept connections in background
	tc.wg.Add(1)
	go tc.acceptLoop()

	return nil
}

// acceptLoop accepts incoming connections. A new connection replaces the
// current one, so the reader sees a fresh stream.
func (tc *TCPChannel) acceptLoop() {
	defer tc.wg.Done()

	for {
		select {
		case <-tc.ctx.Done():
			return
		default:
		}

		// Set accept deadline to allow periodic context checks
		if tcpListener, ok := tc.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(1 * time.Second))
		}

		conn, err := tc.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				// Timeout is expected, continue loop
				continue
			}
			if tc.closed.Load() {
				return
			}
			continue
		}

		// The old stream ends before the new one is visible to Read
		tc.connLock.RLock()
		old := tc.conn
		tc.connLock.RUnlock()
		if old != nil {
			tc.dropConn(old)
		}

		tc.connLock.Lock()
		tc.conn = conn
		tc.stats.connects.Add(1)
		tc.connLock.Unlock()
		tc.notify(true)
	}
}

// connect establishes a connection to the remote server
func (tc *TCPChannel) connect() error {
	conn, err := net.DialTimeout("tcp", tc.address, 10*time.Second)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", tc.address, err)
	}

	tc.connLock.Lock()
	tc.conn = conn
	tc.stats.connects.Add(1)
	tc.connLock.Unlock()

	// Start reconnection handler for clients
	tc.wg.Add(1)
	go tc.reconnectLoop()

	return nil
}

// reconnectLoop handles automatic reconnection for client mode
func (tc *TCPChannel) reconnectLoop() {
	defer tc.wg.Done()

	for {
		select {
		case <-tc.ctx.Done():
			return
		case <-time.After(tc.reconnectDelay):
			tc.connLock.RLock()
			conn := tc.conn
			tc.connLock.RUnlock()

			if conn != nil {
				continue
			}

			newConn, err := net.DialTimeout("tcp", tc.address, 10*time.Second)
			if err != nil {
				continue
			}

			tc.connLock.Lock()
			tc.conn = newConn
			tc.stats.connects.Add(1)
			tc.connLock.Unlock()
			tc.notify(true)
		}
	}
}

// Read implements PhysicalChannel.Read.
// It returns whatever the stream delivered in one read, up to the chunk size.
func (tc *TCPChannel) Read(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-tc.ctx.Done():
			return nil, ErrChannelClosed
		default:
		}

		// Wait for connection if not available
		var conn net.Conn
		for {
			tc.connLock.RLock()
			conn = tc.conn
			tc.connLock.RUnlock()

			if conn != nil {
				break
			}

			select {
			case <-time.After(100 * time.Millisecond):
				continue
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-tc.ctx.Done():
				return nil, ErrChannelClosed
			}
		}

		// Set read deadline
		if tc.readTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(tc.readTimeout))
		}

		buffer := make([]byte, tc.chunkSize)
		n, err := conn.Read(buffer)
		if n > 0 {
			tc.stats.bytesReceived.Add(uint64(n))
			if err != nil && !isTimeout(err) {
				tc.handleReadError(conn, err)
			}
			return buffer[:n], nil
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if tc.closed.Load() {
				return nil, ErrChannelClosed
			}
			tc.handleReadError(conn, err)
		}
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Write implements PhysicalChannel.Write
func (tc *TCPChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-tc.ctx.Done():
		return ErrChannelClosed
	default:
	}

	tc.connLock.RLock()
	conn := tc.conn
	tc.connLock.RUnlock()

	if conn == nil {
		tc.stats.writeErrors.Add(1)
		return fmt.Errorf("no connection")
	}

	// Set write deadline
	if tc.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(tc.writeTimeout))
	}

	_, err := conn.Write(data)
	if err != nil {
		tc.stats.writeErrors.Add(1)
		tc.dropConn(conn)
		return err
	}

	tc.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

// Close implements PhysicalChannel.Close
func (tc *TCPChannel) Close() error {
	if !tc.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	// Cancel context to stop all goroutines
	tc.cancel()

	// Close listener if server
	if tc.listener != nil {
		tc.listener.Close()
	}

	// Close connection
	tc.connLock.Lock()
	if tc.conn != nil {
		tc.conn.Close()
		tc.stats.disconnects.Add(1)
		tc.conn = nil
	}
	tc.connLock.Unlock()

	// Wait for goroutines to finish
	tc.wg.Wait()

	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (tc *TCPChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     tc.stats.bytesSent.Load(),
		BytesReceived: tc.stats.bytesReceived.Load(),
		WriteErrors:   tc.stats.writeErrors.Load(),
		ReadErrors:    tc.stats.readErrors.Load(),
		Connects:      tc.stats.connects.Load(),
		Disconnects:   tc.stats.disconnects.Load(),
	}
}

// SetConnectionStateListener implements PhysicalChannel
func (tc *TCPChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	tc.listenerLock.Lock()
	defer tc.listenerLock.Unlock()
	tc.stateListener = listener
}

func (tc *TCPChannel) notify(established bool) {
	tc.listenerLock.RLock()
	listener := tc.stateListener
	tc.listenerLock.RUnlock()

	if listener == nil {
		return
	}
	if established {
		listener.OnConnectionEstablished()
	} else {
		listener.OnConnectionLost()
	}
}

// handleReadError counts a failed read and drops the connection.
// EOF is the normal end of a stream and is not counted.
func (tc *TCPChannel) handleReadError(conn net.Conn, err error) {
	if !errors.Is(err, io.EOF) {
		tc.stats.readErrors.Add(1)
	}
	tc.dropConn(conn)
}

// dropConn closes conn if it is still the current connection
func (tc *TCPChannel) dropConn(conn net.Conn) {
	tc.connLock.Lock()
	if tc.conn != conn {
		tc.connLock.Unlock()
		return
	}
	tc.conn.Close()
	tc.stats.disconnects.Add(1)
	tc.conn = nil
	tc.connLock.Unlock()

	if !tc.closed.Load() {
		tc.notify(false)
	}
}

// IsConnected returns true if there is an active connection
func (tc *TCPChannel) IsConnected() bool {
	tc.connLock.RLock()
	defer tc.connLock.RUnlock()
	return tc.conn != nil
}

// ListenAddr returns the bound listener address in server mode
func (tc *TCPChannel) ListenAddr() net.Addr {
	if tc.listener == nil {
		return nil
	}
	return tc.listener.Addr()
}

// LocalAddr returns the local address of the connection
func (tc *TCPChannel) LocalAddr() net.Addr {
	tc.connLock.RLock()
	defer tc.connLock.RUnlock()
	if tc.conn != nil {
		return tc.conn.LocalAddr()
	}
	return nil
}

// RemoteAddr returns the remote address of the connection
func (tc *TCPChannel) RemoteAddr() net.Addr {
	tc.connLock.RLock()
	defer tc.connLock.RUnlock()
	if tc.conn != nil {
		return tc.conn.RemoteAddr()
	}
	return nil
}
