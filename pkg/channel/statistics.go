package channel

import "sync/atomic"

// Statistics tracks channel-level statistics
type Statistics struct {
	numChunksRx     uint64
	numChunksTx     uint64
	numBytesRx      uint64
	numBytesTx      uint64
	numWriteErrors  uint64
	numQueueFull    uint64
	numLostNotified uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// ChunkRx records a received chunk of n bytes
func (s *Statistics) ChunkRx(n int) {
	atomic.AddUint64(&s.numChunksRx, 1)
	atomic.AddUint64(&s.numBytesRx, uint64(n))
}

// ChunkTx records a written chunk of n bytes
func (s *Statistics) ChunkTx(n int) {
	atomic.AddUint64(&s.numChunksTx, 1)
	atomic.AddUint64(&s.numBytesTx, uint64(n))
}

// WriteError increments write errors
func (s *Statistics) WriteError() {
	atomic.AddUint64(&s.numWriteErrors, 1)
}

// QueueFull increments sends refused by a full write queue
func (s *Statistics) QueueFull() {
	atomic.AddUint64(&s.numQueueFull, 1)
}

// ConnectionLost increments transport loss notifications
func (s *Statistics) ConnectionLost() {
	atomic.AddUint64(&s.numLostNotified, 1)
}

// GetChunksRx returns received chunks
func (s *Statistics) GetChunksRx() uint64 {
	return atomic.LoadUint64(&s.numChunksRx)
}

// GetChunksTx returns written chunks
func (s *Statistics) GetChunksTx() uint64 {
	return atomic.LoadUint64(&s.numChunksTx)
}

// GetBytesRx returns received bytes
func (s *Statistics) GetBytesRx() uint64 {
	return atomic.LoadUint64(&s.numBytesRx)
}

// GetBytesTx returns written bytes
func (s *Statistics) GetBytesTx() uint64 {
	return atomic.LoadUint64(&s.numBytesTx)
}

// GetWriteErrors returns write errors
func (s *Statistics) GetWriteErrors() uint64 {
	return atomic.LoadUint64(&s.numWriteErrors)
}

// GetQueueFull returns sends refused by a full write queue
func (s *Statistics) GetQueueFull() uint64 {
	return atomic.LoadUint64(&s.numQueueFull)
}

// GetConnectionLost returns transport loss notifications
func (s *Statistics) GetConnectionLost() uint64 {
	return atomic.LoadUint64(&s.numLostNotified)
}

// Reset resets all statistics
func (s *Statistics) Reset() {
	atomic.StoreUint64(&s.numChunksRx, 0)
	atomic.StoreUint64(&s.numChunksTx, 0)
	atomic.StoreUint64(&s.numBytesRx, 0)
	atomic.StoreUint64(&s.numBytesTx, 0)
	atomic.StoreUint64(&s.numWriteErrors, 0)
	atomic.StoreUint64(&s.numQueueFull, 0)
	atomic.StoreUint64(&s.numLostNotified, 0)
}
