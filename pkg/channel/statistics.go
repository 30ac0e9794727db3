package channel

import "sync/atomic"

// Statistics tracks channel-level statistics
type Statistics struct {
	// Receive side
	numChunksRx uint64
	numBytesRx  uint64
	numFramesRx uint64
	numBadInput uint64

	// Transmit side
	numFramesTx uint64
	numTxErrors uint64

	// Stream discontinuities
	numResets       uint64
	numBytesDropped uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// ChunkRx records one chunk read from the physical channel
func (s *Statistics) ChunkRx(n int) {
	atomic.AddUint64(&s.numChunksRx, 1)
	atomic.AddUint64(&s.numBytesRx, uint64(n))
}

// FrameRx increments completed frames
func (s *Statistics) FrameRx() {
	atomic.AddUint64(&s.numFramesRx, 1)
}

// BadInput increments reassembly error events
func (s *Statistics) BadInput() {
	atomic.AddUint64(&s.numBadInput, 1)
}

// FrameTx increments transmitted frames
func (s *Statistics) FrameTx() {
	atomic.AddUint64(&s.numFramesTx, 1)
}

// TxError increments failed writes
func (s *Statistics) TxError() {
	atomic.AddUint64(&s.numTxErrors, 1)
}

// StreamReset records a dropped in-flight frame
func (s *Statistics) StreamReset(dropped int) {
	atomic.AddUint64(&s.numResets, 1)
	atomic.AddUint64(&s.numBytesDropped, uint64(dropped))
}

// GetChunksRx returns chunks read
func (s *Statistics) GetChunksRx() uint64 {
	return atomic.LoadUint64(&s.numChunksRx)
}

// GetBytesRx returns bytes read
func (s *Statistics) GetBytesRx() uint64 {
	return atomic.LoadUint64(&s.numBytesRx)
}

// GetFramesRx returns completed frames
func (s *Statistics) GetFramesRx() uint64 {
	return atomic.LoadUint64(&s.numFramesRx)
}

// GetBadInput returns reassembly error events
func (s *Statistics) GetBadInput() uint64 {
	return atomic.LoadUint64(&s.numBadInput)
}

// GetFramesTx returns transmitted frames
func (s *Statistics) GetFramesTx() uint64 {
	return atomic.LoadUint64(&s.numFramesTx)
}

// GetTxErrors returns failed writes
func (s *Statistics) GetTxErrors() uint64 {
	return atomic.LoadUint64(&s.numTxErrors)
}

// GetResets returns dropped in-flight frames
func (s *Statistics) GetResets() uint64 {
	return atomic.LoadUint64(&s.numResets)
}

// GetBytesDropped returns bytes lost to resets
func (s *Statistics) GetBytesDropped() uint64 {
	return atomic.LoadUint64(&s.numBytesDropped)
}

// Reset resets all statistics
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.numChunksRx, 0)
	atomic.StoreUint64(&s.numBytesRx, 0)
	atomic.StoreUint64(&s.numFramesRx, 0)
	atomic.StoreUint64(&s.numBadInput, 0)
	atomic.StoreUint64(&s.numFramesTx, 0)
	atomic.StoreUint64(&s.numTxErrors, 0)
	atomic.StoreUint64(&s.numResets, 0)
	atomic.StoreUint64(&s.numBytesDropped, 0)
}
