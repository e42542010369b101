package channel

import (
	"context"
	"net"
)

// ConnectionStateListener receives notifications about connection state changes
type ConnectionStateListener interface {
	// OnConnectionEstablished is called when a new connection is established
	OnConnectionEstablished()

	// OnConnectionLost is called when a connection is lost
	OnConnectionLost()
}

// PhysicalChannel is one physical connection carrying link frames.
// TCP, QUIC, UDP and serial lines implement it; any io.ReadWriteCloser can be
// wrapped with NewStreamChannel.
type PhysicalChannel interface {
	// Read blocks for the next chunk of received bytes.
	// Chunks carry no frame boundaries on stream transports.
	// Any error is terminal: the connection is gone.
	Read(ctx context.Context) ([]byte, error)

	// Write sends data in full. Must be safe for concurrent use.
	Write(ctx context.Context, data []byte) error

	// Close closes the physical connection and unblocks pending Read/Write
	Close() error

	// Statistics returns transport-level statistics
	Statistics() TransportStats

	// SetConnectionStateListener sets a listener for connection state changes
	SetConnectionStateListener(listener ConnectionStateListener)
}

// Acceptor produces a PhysicalChannel per accepted connection
type Acceptor interface {
	// Accept blocks until a connection arrives or ctx is done
	Accept(ctx context.Context) (PhysicalChannel, error)

	// Close stops accepting; channels already returned stay open
	Close() error

	// Addr returns the listening address
	Addr() net.Addr
}

// ConnID identifies one physical connection for its lifetime
type ConnID uint64

// ConnectionEvent is raised when a connection opens or closes
type ConnectionEvent int

const (
	ConnectionOpened ConnectionEvent = iota
	ConnectionClosed
)

// String returns string representation of ConnectionEvent
func (e ConnectionEvent) String() string {
	switch e {
	case ConnectionOpened:
		return "Opened"
	case ConnectionClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// Handler consumes what a Channel receives. The opened event is raised by
// Open; everything after it comes from the read goroutine, in order.
type Handler interface {
	OnBytesReceived(id ConnID, data []byte)
	OnConnectionEvent(id ConnID, event ConnectionEvent)
}

// TransportStats provides transport-level statistics
type TransportStats struct {
	BytesSent     uint64 // Total bytes sent
	BytesReceived uint64 // Total bytes received
	WriteErrors   uint64 // Number of write errors
	ReadErrors    uint64 // Number of read errors
	Connects      uint64 // Number of connections (for connection-oriented transports)
	Disconnects   uint64 // Number of disconnections
}

// ChannelState represents the state of a channel
type ChannelState int

const (
	ChannelStateOpen ChannelState = iota
	ChannelStateClosed
)

// String returns string representation of ChannelState
func (s ChannelState) String() string {
	switch s {
	case ChannelStateOpen:
		return "Open"
	case ChannelStateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}
