package queue

import (
	"container/heap"
	"sync"
)

// Item represents a priority queue item
type Item struct {
	Value    interface{} // The queued value
	Priority int         // Priority (higher = more important)
	Seq      uint64      // Arrival order, breaks priority ties
	Index    int         // Index in the heap
}

// PriorityQueue orders items by priority, then by arrival.
// It is bounded; Push fails once Cap items are waiting.
type PriorityQueue struct {
	items    itemHeap
	capacity int
	seq      uint64
	mu       sync.Mutex
}

// NewPriorityQueue creates a new priority queue. capacity <= 0 means unbounded.
func NewPriorityQueue(capacity int) *PriorityQueue {
	pq := &PriorityQueue{
		items:    make(itemHeap, 0),
		capacity: capacity,
	}
	heap.Init(&pq.items)
	return pq
}

// Push adds an item to the queue and reports whether it was accepted
func (pq *PriorityQueue) Push(value interface{}, priority int) bool {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.capacity > 0 && pq.items.Len() >= pq.capacity {
		return false
	}

	pq.seq++
	item := &Item{
		Value:    value,
		Priority: priority,
		Seq:      pq.seq,
	}
	heap.Push(&pq.items, item)
	return true
}

// Pop removes and returns the highest priority item
func (pq *PriorityQueue) Pop() interface{} {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.items.Len() == 0 {
		return nil
	}

	item := heap.Pop(&pq.items).(*Item)
	return item.Value
}

// Peek returns the highest priority item without removing it
func (pq *PriorityQueue) Peek() *Item {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.items.Len() == 0 {
		return nil
	}

	return pq.items[0]
}

// Len returns the number of items in the queue
func (pq *PriorityQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.items.Len()
}

// Clear removes all items and returns how many were dropped
func (pq *PriorityQueue) Clear() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	n := pq.items.Len()
	pq.items = make(itemHeap, 0)
	heap.Init(&pq.items)
	return n
}

// itemHeap implements heap.Interface
type itemHeap []*Item

func (h itemHeap) Len() int { return len(h) }

func (h itemHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].Seq < h[j].Seq
}

func (h itemHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].Index = i
	h[j].Index = j
}

func (h *itemHeap) Push(x interface{}) {
	item := x.(*Item)
	item.Index = len(*h)
	*h = append(*h, item)
}

func (h *itemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*h = old[0 : n-1]
	return item
}
