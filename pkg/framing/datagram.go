package framing

// DatagramFramer treats every received buffer as exactly one frame
type DatagramFramer struct{}

// NewDatagramFramer creates a datagram framer
func NewDatagramFramer() *DatagramFramer {
	return &DatagramFramer{}
}

// Encode returns a copy of frame
func (d *DatagramFramer) Encode(frame []byte) ([]byte, error) {
	if len(frame) < 2 {
		return nil, ErrFrameTooShort
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	return out, nil
}

// Decode returns data as a single frame
func (d *DatagramFramer) Decode(data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	return [][]byte{frame}, nil
}

// Reset is a no-op; datagrams carry no partial state
func (d *DatagramFramer) Reset() {}
