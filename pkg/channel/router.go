package channel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"avaneesh/h4-go/pkg/hci"
)

// Frame is one completed H4 frame as seen by subscribers
type Frame struct {
	Channel    string         // Channel the frame arrived on
	Type       hci.PacketType // Packet type it was delivered as
	Data       []byte         // Whole frame, leading type byte included
	ReceivedAt time.Time
}

// Subscriber consumes completed frames of one packet type.
// OnFrame runs on the channel's read goroutine and must not block.
// It may call Channel.Write, but not Channel.Reset or Channel.Close.
type Subscriber interface {
	OnFrame(frame Frame)
}

// SubscriberFunc adapts a function to the Subscriber interface
type SubscriberFunc func(frame Frame)

// OnFrame calls f(frame)
func (f SubscriberFunc) OnFrame(frame Frame) {
	f(frame)
}

// Router routes completed frames to the subscriber registered for their type.
// It is the reassembly.Handler bound into a channel's frame table.
type Router struct {
	channelID   string
	subscribers map[hci.PacketType]Subscriber
	mu          sync.RWMutex
	unrouted    atomic.Uint64
	now         func() time.Time
}

// NewRouter creates a new router for one channel
func NewRouter(channelID string) *Router {
	return &Router{
		channelID:   channelID,
		subscribers: make(map[hci.PacketType]Subscriber),
		now:         time.Now,
	}
}

// AddSubscriber registers the single subscriber for a packet type
func (r *Router) AddSubscriber(pt hci.PacketType, s Subscriber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.subscribers[pt]; exists {
		return fmt.Errorf("subscriber for %s already exists", pt)
	}

	r.subscribers[pt] = s
	return nil
}

// RemoveSubscriber removes the subscriber for a packet type
func (r *Router) RemoveSubscriber(pt hci.PacketType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.subscribers, pt)
}

// HandleFrame implements reassembly.Handler
func (r *Router) HandleFrame(typ byte, data []byte) {
	pt := hci.PacketType(typ)

	r.mu.RLock()
	s, exists := r.subscribers[pt]
	r.mu.RUnlock()

	if !exists {
		r.unrouted.Add(1)
		return
	}

	s.OnFrame(Frame{
		Channel:    r.channelID,
		Type:       pt,
		Data:       data,
		ReceivedAt: r.now(),
	})
}

// GetSubscriber returns the subscriber for a packet type
func (r *Router) GetSubscriber(pt hci.PacketType) (Subscriber, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.subscribers[pt]
	return s, exists
}

// GetSubscriberCount returns the number of registered subscribers
func (r *Router) GetSubscriberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.subscribers)
}

// GetUnrouted returns the number of frames with no subscriber
func (r *Router) GetUnrouted() uint64 {
	return r.unrouted.Load()
}

// Clear removes all subscribers
func (r *Router) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscribers = make(map[hci.PacketType]Subscriber)
}
