package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the read buffer used when none is configured
const DefaultBufferSize = 1024

var (
	ErrChannelClosed = errors.New("channel is closed")
	ErrChannelOpen   = errors.New("channel is already open")
)

// deadliner is implemented by net.Conn and QUIC streams
type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// StreamConfig configures a stream channel
type StreamConfig struct {
	Name         string        // Used in errors and logs
	BufferSize   int           // Read buffer size (0 = DefaultBufferSize)
	ReadTimeout  time.Duration // Idle timeout, connection dropped on expiry (0 = none)
	WriteTimeout time.Duration // Write timeout (0 = none)
}

// StreamChannel implements PhysicalChannel over any byte stream
type StreamChannel struct {
	rw   io.ReadWriteCloser
	name string

	// Configuration
	bufferSize   int
	readTimeout  time.Duration
	writeTimeout time.Duration

	writeMu sync.Mutex

	// Connection state listener
	stateListener     ConnectionStateListener
	stateListenerLock sync.RWMutex
	lostOnce          sync.Once

	// Statistics
	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
		connects      atomic.Uint64
		disconnects   atomic.Uint64
	}

	closed atomic.Bool
}

// NewStreamChannel wraps an established byte stream
func NewStreamChannel(rw io.ReadWriteCloser, config StreamConfig) *StreamChannel {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.Name == "" {
		config.Name = "stream"
	}

	sc := &StreamChannel{
		rw:           rw,
		name:         config.Name,
		bufferSize:   config.BufferSize,
		readTimeout:  config.ReadTimeout,
		writeTimeout: config.WriteTimeout,
	}
	sc.stats.connects.Add(1)
	return sc
}

// Name returns the channel name
func (sc *StreamChannel) Name() string {
	return sc.name
}

// Read implements PhysicalChannel.Read
func (sc *StreamChannel) Read(ctx context.Context) ([]byte, error) {
	buf := make([]byte, sc.bufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if sc.closed.Load() {
			return nil, ErrChannelClosed
		}

		if d, ok := sc.rw.(deadliner); ok && sc.readTimeout > 0 {
			d.SetReadDeadline(time.Now().Add(sc.readTimeout))
		}

		n, err := sc.rw.Read(buf)
		if n > 0 {
			sc.stats.bytesReceived.Add(uint64(n))
			return buf[:n], nil
		}
		if errors.Is(err, ErrBadDatagram) {
			sc.stats.readErrors.Add(1)
			continue
		}
		if err != nil {
			if sc.closed.Load() {
				return nil, ErrChannelClosed
			}
			if !errors.Is(err, io.EOF) {
				sc.stats.readErrors.Add(1)
			}
			sc.notifyConnectionLost()
			return nil, fmt.Errorf("%s read: %w", sc.name, err)
		}
		// Zero bytes without error: a polling read timed out (serial ports)
	}
}

// Write implements PhysicalChannel.Write
func (sc *StreamChannel) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sc.closed.Load() {
		return ErrChannelClosed
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	if d, ok := sc.rw.(deadliner); ok && sc.writeTimeout > 0 {
		d.SetWriteDeadline(time.Now().Add(sc.writeTimeout))
	}

	for len(data) > 0 {
		n, err := sc.rw.Write(data)
		sc.stats.bytesSent.Add(uint64(n))
		if err != nil {
			sc.stats.writeErrors.Add(1)
			if errors.Is(err, ErrNoPeer) {
				return err
			}
			sc.notifyConnectionLost()
			return fmt.Errorf("%s write: %w", sc.name, err)
		}
		data = data[n:]
	}
	return nil
}

// Close implements PhysicalChannel.Close
func (sc *StreamChannel) Close() error {
	if !sc.closed.CompareAndSwap(false, true) {
		return nil
	}
	sc.stats.disconnects.Add(1)
	return sc.rw.Close()
}

// Statistics implements PhysicalChannel.Statistics
func (sc *StreamChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     sc.stats.bytesSent.Load(),
		BytesReceived: sc.stats.bytesReceived.Load(),
		WriteErrors:   sc.stats.writeErrors.Load(),
		ReadErrors:    sc.stats.readErrors.Load(),
		Connects:      sc.stats.connects.Load(),
		Disconnects:   sc.stats.disconnects.Load(),
	}
}

// SetConnectionStateListener implements PhysicalChannel.SetConnectionStateListener.
// The stream is already established, so the listener is told at once.
func (sc *StreamChannel) SetConnectionStateListener(listener ConnectionStateListener) {
	sc.stateListenerLock.Lock()
	sc.stateListener = listener
	sc.stateListenerLock.Unlock()

	if listener != nil && !sc.closed.Load() {
		listener.OnConnectionEstablished()
	}
}

// notifyConnectionLost notifies the listener once that the peer is gone
func (sc *StreamChannel) notifyConnectionLost() {
	sc.lostOnce.Do(func() {
		sc.stateListenerLock.RLock()
		listener := sc.stateListener
		sc.stateListenerLock.RUnlock()

		if listener != nil {
			listener.OnConnectionLost()
		}
	})
}
