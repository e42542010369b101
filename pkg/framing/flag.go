package framing

import (
	"bytes"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/zaninime/go-hdlc"
)

const (
	flagSym   byte = 0x7E
	escapeSym byte = 0x7D
)

// go-hdlc strips this leading pair from decoded payloads
var addressCtrlPrefix = []byte{0xFF, 0x03}

// FlagFramer delimits frames with 0x7E flags and 0x7D byte stuffing.
//
// A closing flag may also open the next frame. Segments that fail to
// unstuff are skipped and counted; the link layer never sees them.
type FlagFramer struct {
	maxSize int
	buf     []byte
	dropped atomic.Uint64
}

// NewFlagFramer creates a flag framer buffering at most maxFrameSize bytes
func NewFlagFramer(maxFrameSize int) *FlagFramer {
	if maxFrameSize <= 0 {
		maxFrameSize = DefaultMaxFrameSize
	}
	return &FlagFramer{
		maxSize: maxFrameSize,
	}
}

// Encode stuffs frame and wraps it in flags
func (f *FlagFramer) Encode(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, ErrFrameTooShort
	}

	n := len(frame) - 2
	var out bytes.Buffer
	out.Grow(2*len(frame) + 2)

	enc := hdlc.NewEncoder(&out)
	if _, err := enc.WriteFrame(&hdlc.Frame{Payload: frame[:n], FCS: frame[n:]}); err != nil {
		return nil, fmt.Errorf("flag encode: %w", err)
	}
	return out.Bytes(), nil
}

// Decode appends data to the pending input and extracts complete frames
func (f *FlagFramer) Decode(data []byte) ([][]byte, error) {
	f.buf = append(f.buf, data...)

	var frames [][]byte
	for {
		start := bytes.IndexByte(f.buf, flagSym)
		if start < 0 {
			// Noise before any flag
			f.buf = f.buf[:0]
			break
		}

		end := bytes.IndexByte(f.buf[start+1:], flagSym)
		if end < 0 {
			f.buf = append(f.buf[:0], f.buf[start:]...)
			break
		}
		end += start + 1

		segment := f.buf[start+1 : end]
		f.buf = f.buf[end:]
		if len(segment) == 0 {
			continue
		}

		frame, err := unstuff(segment)
		if err != nil {
			f.dropped.Add(1)
			continue
		}
		frames = append(frames, frame)
	}

	if len(f.buf) > f.maxSize {
		f.buf = f.buf[:0]
		f.dropped.Add(1)
		return frames, fmt.Errorf("%w: more than %d bytes without closing flag", ErrFrameOverflow, f.maxSize)
	}
	return frames, nil
}

// Reset discards partial input
func (f *FlagFramer) Reset() {
	f.buf = f.buf[:0]
}

// Dropped returns the number of segments discarded as undecodable
func (f *FlagFramer) Dropped() uint64 {
	return f.dropped.Load()
}

// unstuff decodes one flag-delimited segment into raw frame bytes
func unstuff(segment []byte) ([]byte, error) {
	wire := make([]byte, 0, 2*len(segment)+2)
	wire = append(wire, flagSym)
	wire = escapeControls(wire, segment)
	wire = append(wire, flagSym)

	decoded, err := hdlc.NewDecoder(bytes.NewReader(wire)).ReadFrame()
	if err != nil {
		if errors.Is(err, hdlc.ErrEmptyFrame) {
			return nil, ErrFrameTooShort
		}
		return nil, err
	}

	out := make([]byte, 0, len(addressCtrlPrefix)+len(decoded.Payload)+len(decoded.FCS))
	if decoded.HasAddressCtrlPrefix {
		out = append(out, addressCtrlPrefix...)
	}
	out = append(out, decoded.Payload...)
	out = append(out, decoded.FCS...)
	return out, nil
}

// escapeControls appends segment to dst with every unescaped byte below 0x20
// turned into an escape pair. The go-hdlc decoder drops such bytes as line
// noise, but peers that stuff only 0x7E and 0x7D send them raw.
func escapeControls(dst, segment []byte) []byte {
	escaped := false
	for _, b := range segment {
		switch {
		case escaped:
			dst = append(dst, b)
			escaped = false
		case b == escapeSym:
			dst = append(dst, b)
			escaped = true
		case b < 0x20:
			dst = append(dst, escapeSym, b^0x20)
		default:
			dst = append(dst, b)
		}
	}
	return dst
}
