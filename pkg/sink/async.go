package sink

import (
	"context"
	"sync"
	"sync/atomic"

	"avaneesh/h4-go/pkg/channel"
	"avaneesh/h4-go/pkg/hci"
	"avaneesh/h4-go/pkg/internal/logger"
	"avaneesh/h4-go/pkg/internal/queue"
)

// Delivery priorities; events and FM reports overtake bulk data
const (
	priorityData = iota
	priorityEvent
)

// AsyncConfig configures an Async sink
type AsyncConfig struct {
	Capacity int // Frames waiting before new ones are dropped
}

// DefaultAsyncConfig returns the default queue size
func DefaultAsyncConfig() AsyncConfig {
	return AsyncConfig{Capacity: 1024}
}

// Async decouples a slow subscriber from the channel's read goroutine.
// Frames wait in a bounded priority queue and are handed to the next
// subscriber on a goroutine of their own.
type Async struct {
	next   channel.Subscriber
	queue  *queue.PriorityQueue
	logger logger.Logger

	wake chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64

	// closeMu orders OnFrame against Close; no push follows the final drain
	closeMu sync.RWMutex
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewAsync starts an Async sink in front of next
func NewAsync(next channel.Subscriber, config AsyncConfig, log logger.Logger) *Async {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if config.Capacity <= 0 {
		config.Capacity = DefaultAsyncConfig().Capacity
	}

	ctx, cancel := context.WithCancel(context.Background())

	a := &Async{
		next:   next,
		queue:  queue.NewPriorityQueue(config.Capacity),
		logger: log,
		wake:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}

	a.wg.Add(1)
	go a.run()

	return a
}

// OnFrame implements channel.Subscriber. It never blocks.
func (a *Async) OnFrame(frame channel.Frame) {
	a.closeMu.RLock()
	defer a.closeMu.RUnlock()

	if a.closed {
		a.dropped.Add(1)
		return
	}

	if !a.queue.Push(frame, priorityOf(frame.Type)) {
		if a.dropped.Add(1) == 1 {
			a.logger.Warn("Async sink full, dropping frames")
		}
		return
	}

	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func priorityOf(pt hci.PacketType) int {
	switch pt {
	case hci.PacketEvent, hci.PacketFM:
		return priorityEvent
	default:
		return priorityData
	}
}

// run drains the queue whenever woken
func (a *Async) run() {
	defer a.wg.Done()

	for {
		select {
		case <-a.ctx.Done():
			a.drain()
			return
		case <-a.wake:
			a.drain()
		}
	}
}

func (a *Async) drain() {
	for {
		v := a.queue.Pop()
		if v == nil {
			return
		}
		a.next.OnFrame(v.(channel.Frame))
		a.delivered.Add(1)
	}
}

// Close delivers what is already queued and stops the sink
func (a *Async) Close() error {
	a.once.Do(func() {
		a.closeMu.Lock()
		a.closed = true
		a.closeMu.Unlock()

		a.cancel()
		a.wg.Wait()
	})
	return nil
}

// Len returns the number of queued frames
func (a *Async) Len() int {
	return a.queue.Len()
}

// GetDelivered returns frames handed to the next subscriber
func (a *Async) GetDelivered() uint64 {
	return a.delivered.Load()
}

// GetDropped returns frames lost to a full queue
func (a *Async) GetDropped() uint64 {
	return a.dropped.Load()
}
