package h4

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"avaneesh/h4-go/pkg/channel"
	"avaneesh/h4-go/pkg/internal/logger"
)

var (
	ErrChannelExists   = errors.New("channel already exists")
	ErrChannelNotFound = errors.New("channel not found")
)

// Manager is the root object for H4 operations.
// It owns every channel and provides the main API entry point.
type Manager struct {
	channels map[string]*channel.Channel
	mu       sync.RWMutex
	logger   logger.Logger
}

// NewManager creates a new manager
func NewManager() *Manager {
	return NewManagerWithLogger(logger.GetDefault())
}

// NewManagerWithLogger creates a new manager with custom logger
func NewManagerWithLogger(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	return &Manager{
		channels: make(map[string]*channel.Channel),
		logger:   log,
	}
}

// AddChannel reassembles the byte stream of physical under the given ID.
// Subscribers named in config are attached before the first byte is read.
func (m *Manager) AddChannel(id string, physical channel.PhysicalChannel, config ChannelConfig) (Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.channels[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrChannelExists, id)
	}

	ch, err := channel.New(id, physical, config.channelConfig(), m.logger)
	if err != nil {
		return nil, err
	}

	for pt, s := range config.Subscribers {
		if err := ch.AddSubscriber(pt, s); err != nil {
			ch.Close()
			return nil, err
		}
	}

	if err := ch.Open(); err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	m.channels[id] = ch
	m.logger.Info("Manager: Added channel %s", id)

	return &channelImpl{channel: ch, manager: m}, nil
}

// RemoveChannel closes and forgets a channel
func (m *Manager) RemoveChannel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, exists := m.channels[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrChannelNotFound, id)
	}

	if err := ch.Close(); err != nil {
		m.logger.Error("Error closing channel %s: %v", id, err)
	}

	delete(m.channels, id)
	m.logger.Info("Manager: Removed channel %s", id)
	return nil
}

// GetChannel returns a channel by ID
func (m *Manager) GetChannel(id string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, exists := m.channels[id]
	if !exists {
		return nil, false
	}

	return &channelImpl{channel: ch, manager: m}, true
}

// Channels returns every channel ordered by ID
func (m *Manager) Channels() []Channel {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.channels))
	for id := range m.channels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Channel, 0, len(ids))
	for _, id := range ids {
		out = append(out, &channelImpl{channel: m.channels[id], manager: m})
	}
	return out
}

// Shutdown shuts down the manager and all channels
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Manager: Shutting down")

	for id, ch := range m.channels {
		if err := ch.Close(); err != nil {
			m.logger.Error("Error closing channel %s: %v", id, err)
		}
	}

	m.channels = make(map[string]*channel.Channel)
	m.logger.Info("Manager: Shutdown complete")
	return nil
}

// ChannelCount returns the number of channels
func (m *Manager) ChannelCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels)
}

// SetLogger sets the logger for channels added afterwards
func (m *Manager) SetLogger(log logger.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = log
}
