package link

import "sync/atomic"

// Statistics tracks link-level statistics for one station
type Statistics struct {
	framesTx        atomic.Uint64
	framesRx        atomic.Uint64
	fcsErrors       atomic.Uint64
	badFrames       atomic.Uint64
	invalidControl  atomic.Uint64
	outOfSequence   atomic.Uint64
	retransmissions atomic.Uint64
	rejectsSent     atomic.Uint64
	rejectsReceived atomic.Uint64
	windowFull      atomic.Uint64
	timeouts        atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Statistics
type StatsSnapshot struct {
	FramesTx        uint64
	FramesRx        uint64
	FCSErrors       uint64
	BadFrames       uint64
	InvalidControl  uint64
	OutOfSequence   uint64
	Retransmissions uint64
	RejectsSent     uint64
	RejectsReceived uint64
	WindowFull      uint64
	Timeouts        uint64
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{}
}

// FrameTx increments transmitted frames
func (s *Statistics) FrameTx() { s.framesTx.Add(1) }

// FrameRx increments received frames that passed the FCS check
func (s *Statistics) FrameRx() { s.framesRx.Add(1) }

// FCSError increments frames dropped for checksum mismatch
func (s *Statistics) FCSError() { s.fcsErrors.Add(1) }

// BadFrame increments frames dropped as malformed
func (s *Statistics) BadFrame() { s.badFrames.Add(1) }

// InvalidControl increments frames with an undefined control field
func (s *Statistics) InvalidControl() { s.invalidControl.Add(1) }

// OutOfSequence increments discarded out-of-sequence I-frames
func (s *Statistics) OutOfSequence() { s.outOfSequence.Add(1) }

// Retransmission increments retransmitted frames
func (s *Statistics) Retransmission() { s.retransmissions.Add(1) }

// RejectSent increments FRMR frames sent
func (s *Statistics) RejectSent() { s.rejectsSent.Add(1) }

// RejectReceived increments FRMR frames received
func (s *Statistics) RejectReceived() { s.rejectsReceived.Add(1) }

// WindowFull increments sends refused because the window was full
func (s *Statistics) WindowFull() { s.windowFull.Add(1) }

// Timeout increments timer expiries
func (s *Statistics) Timeout() { s.timeouts.Add(1) }

// Snapshot returns a copy of all counters
func (s *Statistics) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		FramesTx:        s.framesTx.Load(),
		FramesRx:        s.framesRx.Load(),
		FCSErrors:       s.fcsErrors.Load(),
		BadFrames:       s.badFrames.Load(),
		InvalidControl:  s.invalidControl.Load(),
		OutOfSequence:   s.outOfSequence.Load(),
		Retransmissions: s.retransmissions.Load(),
		RejectsSent:     s.rejectsSent.Load(),
		RejectsReceived: s.rejectsReceived.Load(),
		WindowFull:      s.windowFull.Load(),
		Timeouts:        s.timeouts.Load(),
	}
}

// Reset resets all statistics
func (s *Statistics) Reset() {
	s.framesTx.Store(0)
	s.framesRx.Store(0)
	s.fcsErrors.Store(0)
	s.badFrames.Store(0)
	s.invalidControl.Store(0)
	s.outOfSequence.Store(0)
	s.retransmissions.Store(0)
	s.rejectsSent.Store(0)
	s.rejectsReceived.Store(0)
	s.windowFull.Store(0)
	s.timeouts.Store(0)
}
