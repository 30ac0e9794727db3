package reassembly

import (
	"fmt"
	"sync"
)

// Allocator supplies frame buffers.
// Release is called when the engine stops tracking a buffer, either because
// the frame was delivered (the memory now belongs to the handler) or because
// it was discarded. Implementations must not recycle released memory.
type Allocator interface {
	Alloc(capacity int) ([]byte, error)
	Release(buf []byte)
}

// HeapAllocator allocates every frame buffer from the Go heap
type HeapAllocator struct{}

// Alloc returns an empty slice with the requested capacity
func (HeapAllocator) Alloc(capacity int) ([]byte, error) {
	return make([]byte, 0, capacity), nil
}

// Release does nothing
func (HeapAllocator) Release([]byte) {}

// BudgetAllocator bounds the capacity of buffers outstanding at once.
// It may be shared by several channels.
type BudgetAllocator struct {
	limit int
	inUse int
	mu    sync.Mutex
}

// NewBudgetAllocator creates an allocator allowing limit bytes in flight
func NewBudgetAllocator(limit int) *BudgetAllocator {
	return &BudgetAllocator{limit: limit}
}

// Alloc reserves capacity bytes or fails with ErrAllocation
func (b *BudgetAllocator) Alloc(capacity int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.inUse+capacity > b.limit {
		return nil, fmt.Errorf("%w: need %d, %d of %d in use", ErrAllocation, capacity, b.inUse, b.limit)
	}
	b.inUse += capacity
	return make([]byte, 0, capacity), nil
}

// Release returns the buffer's capacity to the budget
func (b *BudgetAllocator) Release(buf []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.inUse -= cap(buf)
	if b.inUse < 0 {
		b.inUse = 0
	}
}

// InUse returns the capacity currently reserved
func (b *BudgetAllocator) InUse() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inUse
}
