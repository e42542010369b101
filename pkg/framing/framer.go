package framing

import (
	"errors"
	"fmt"
)

// Framing kinds
const (
	KindFlag     = "flag"     // HDLC 0x7E flag delimiting with byte stuffing
	KindDatagram = "datagram" // One transport datagram carries one frame
)

// DefaultMaxFrameSize bounds the bytes a framer buffers while waiting for a
// closing flag
const DefaultMaxFrameSize = 4096

var (
	ErrFrameOverflow  = errors.New("buffered bytes exceed maximum frame size")
	ErrFrameTooShort  = errors.New("frame shorter than its check sequence")
	ErrUnknownFraming = errors.New("unknown framing")
)

// Framer delimits link frames on a byte transport. Frames passed to Encode and
// returned by Decode are complete link frames including their FCS.
type Framer interface {
	// Encode wraps one frame for transmission
	Encode(frame []byte) ([]byte, error)

	// Decode consumes received bytes and returns every frame completed by
	// them. Partial input is kept for the next call.
	Decode(data []byte) ([][]byte, error)

	// Reset discards partial input
	Reset()
}

// New creates a framer by kind
func New(kind string, maxFrameSize int) (Framer, error) {
	switch kind {
	case KindFlag, "":
		return NewFlagFramer(maxFrameSize), nil
	case KindDatagram:
		return NewDatagramFramer(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFraming, kind)
	}
}
