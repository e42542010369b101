package link

import "fmt"

// Window holds the I-frames sent but not yet acknowledged, oldest first.
// Frames are pushed with consecutive N(S) values, so the oldest frame's
// N(S) is V(A), the lower edge of the window.
type Window struct {
	size   int
	frames []*Frame
}

// NewWindow creates a transmit window holding at most size frames
func NewWindow(size int) *Window {
	if size < 1 || size > MaxWindowSize {
		size = DefaultWindowSize
	}
	return &Window{
		size:   size,
		frames: make([]*Frame, 0, size),
	}
}

// Size returns the window size
func (w *Window) Size() int {
	return w.size
}

// Len returns the number of unacknowledged frames
func (w *Window) Len() int {
	return len(w.frames)
}

// Full reports whether another frame would exceed the window
func (w *Window) Full() bool {
	return len(w.frames) >= w.size
}

// Push appends a sent I-frame. It refuses the frame when the window is full
// or its N(S) does not follow the newest outstanding frame.
func (w *Window) Push(f *Frame) error {
	if w.Full() {
		return ErrWindowFull
	}
	if n := len(w.frames); n > 0 {
		last := w.frames[n-1].Control.NS
		if f.Control.NS != NextSeq(last) {
			return fmt.Errorf("%w: N(S)=%d does not follow %d", ErrOutOfSequence, f.Control.NS, last)
		}
	}
	w.frames = append(w.frames, f)
	return nil
}

// Base returns V(A), the oldest unacknowledged N(S), or vs when nothing is outstanding
func (w *Window) Base(vs uint8) uint8 {
	if len(w.frames) == 0 {
		return vs
	}
	return w.frames[0].Control.NS
}

// ValidAck reports whether nr acknowledges between zero and all outstanding frames
func (w *Window) ValidAck(nr, vs uint8) bool {
	return int(SeqDistance(w.Base(vs), nr)) <= len(w.frames)
}

// Ack removes every frame with N(S) before nr and returns how many were removed.
// The caller must check ValidAck first.
func (w *Window) Ack(nr uint8) int {
	if len(w.frames) == 0 {
		return 0
	}
	n := int(SeqDistance(w.frames[0].Control.NS, nr))
	if n > len(w.frames) {
		return 0
	}
	for i := 0; i < n; i++ {
		w.frames[i] = nil
	}
	w.frames = append(w.frames[:0], w.frames[n:]...)
	return n
}

// Frames returns the outstanding frames in send order
func (w *Window) Frames() []*Frame {
	out := make([]*Frame, len(w.frames))
	copy(out, w.frames)
	return out
}

// Clear drops every outstanding frame
func (w *Window) Clear() {
	for i := range w.frames {
		w.frames[i] = nil
	}
	w.frames = w.frames[:0]
}
