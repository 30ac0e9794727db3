package reassembly

import (
	"sync/atomic"
	"time"
)

// Statistics tracks reassembly counters for one channel
type Statistics struct {
	BytesFed        uint64
	FramesCompleted uint64
	Reclassified    uint64

	// Error counts
	UnknownTypes       uint64
	OversizeFrames     uint64
	AllocationFailures uint64
	DroppedBytes       uint64

	lastFrameTimeNano int64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) addBytesFed(n int) {
	atomic.AddUint64(&s.BytesFed, uint64(n))
}

func (s *Statistics) frameCompleted() {
	atomic.AddUint64(&s.FramesCompleted, 1)
	atomic.StoreInt64(&s.lastFrameTimeNano, time.Now().UnixNano())
}

func (s *Statistics) reclassified() {
	atomic.AddUint64(&s.Reclassified, 1)
}

// record counts an error event
func (s *Statistics) record(ev Event) {
	switch ev.Err {
	case UnknownType:
		atomic.AddUint64(&s.UnknownTypes, 1)
	case Oversize:
		atomic.AddUint64(&s.OversizeFrames, 1)
	case AllocationFailure:
		atomic.AddUint64(&s.AllocationFailures, 1)
	}
	atomic.AddUint64(&s.DroppedBytes, uint64(ev.Dropped))
}

// GetBytesFed returns the number of bytes passed to Feed
func (s *Statistics) GetBytesFed() uint64 {
	return atomic.LoadUint64(&s.BytesFed)
}

// GetFramesCompleted returns the number of delivered frames
func (s *Statistics) GetFramesCompleted() uint64 {
	return atomic.LoadUint64(&s.FramesCompleted)
}

// GetReclassified returns the number of frames moved by a classifier
func (s *Statistics) GetReclassified() uint64 {
	return atomic.LoadUint64(&s.Reclassified)
}

// GetUnknownTypes returns the number of skipped unknown leading bytes
func (s *Statistics) GetUnknownTypes() uint64 {
	return atomic.LoadUint64(&s.UnknownTypes)
}

// GetOversizeFrames returns the number of frames discarded as oversize
func (s *Statistics) GetOversizeFrames() uint64 {
	return atomic.LoadUint64(&s.OversizeFrames)
}

// GetAllocationFailures returns the number of failed buffer allocations
func (s *Statistics) GetAllocationFailures() uint64 {
	return atomic.LoadUint64(&s.AllocationFailures)
}

// GetDroppedBytes returns the number of bytes discarded by error events
func (s *Statistics) GetDroppedBytes() uint64 {
	return atomic.LoadUint64(&s.DroppedBytes)
}

// GetErrors returns the total number of error events
func (s *Statistics) GetErrors() uint64 {
	return s.GetUnknownTypes() + s.GetOversizeFrames() + s.GetAllocationFailures()
}

// GetLastFrameTime returns when the last frame completed
func (s *Statistics) GetLastFrameTime() time.Time {
	nano := atomic.LoadInt64(&s.lastFrameTimeNano)
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// Reset resets all statistics to zero
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.BytesFed, 0)
	atomic.StoreUint64(&s.FramesCompleted, 0)
	atomic.StoreUint64(&s.Reclassified, 0)
	atomic.StoreUint64(&s.UnknownTypes, 0)
	atomic.StoreUint64(&s.OversizeFrames, 0)
	atomic.StoreUint64(&s.AllocationFailures, 0)
	atomic.StoreUint64(&s.DroppedBytes, 0)
	atomic.StoreInt64(&s.lastFrameTimeNano, 0)
}
