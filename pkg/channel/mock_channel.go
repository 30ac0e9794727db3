package channel

import (
	"context"
	"sync"
)

// MockChannel is an in-memory PhysicalChannel.
// Tests inject chunks with InjectRead and collect writes with GetWritten.
type MockChannel struct {
	readChan  chan []byte
	writeChan chan []byte
	closeChan chan struct{}
	closed    bool
	mu        sync.RWMutex
	stats     TransportStats
	listener  ConnectionStateListener
	writeErr  error
}

// NewMockChannel creates a new mock channel
func NewMockChannel() *MockChannel {
	return &MockChannel{
		readChan:  make(chan []byte, 64),
		writeChan: make(chan []byte, 64),
		closeChan: make(chan struct{}),
	}
}

// Read implements PhysicalChannel.Read
func (m *MockChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closeChan:
		return nil, ErrChannelClosed
	case data := <-m.readChan:
		m.mu.Lock()
		m.stats.BytesReceived += uint64(len(data))
		m.mu.Unlock()
		return data, nil
	}
}

// Write implements PhysicalChannel.Write
func (m *MockChannel) Write(ctx context.Context, data []byte) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrChannelClosed
	}
	if err := m.writeErr; err != nil {
		m.stats.WriteErrors++
		m.stats.Disconnects++
		listener := m.listener
		m.mu.Unlock()
		// A failed write drops the link, as on a socket
		if listener != nil {
			listener.OnConnectionLost()
		}
		return err
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case m.writeChan <- data:
		m.mu.Lock()
		m.stats.BytesSent += uint64(len(data))
		m.mu.Unlock()
		return nil
	}
}

// Close implements PhysicalChannel.Close
func (m *MockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	close(m.closeChan)
	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (m *MockChannel) Statistics() TransportStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// SetConnectionStateListener implements PhysicalChannel
func (m *MockChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = listener
}

// InjectRead simulates receiving a chunk
func (m *MockChannel) InjectRead(data []byte) {
	m.readChan <- data
}

// SimulateDisconnect reports a lost connection to the listener
func (m *MockChannel) SimulateDisconnect() {
	m.mu.Lock()
	m.stats.Disconnects++
	listener := m.listener
	m.mu.Unlock()

	if listener != nil {
		listener.OnConnectionLost()
	}
}

// FailWrites makes every later Write fail with err and report a lost
// connection. A nil err restores normal writes.
func (m *MockChannel) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// GetWritten retrieves written data, or nil if nothing was written
func (m *MockChannel) GetWritten() []byte {
	select {
	case data := <-m.writeChan:
		return data
	default:
		return nil
	}
}
