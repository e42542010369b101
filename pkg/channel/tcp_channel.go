package channel

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// acceptPollInterval bounds how long Accept waits before rechecking ctx
const acceptPollInterval = 1 * time.Second

// ErrListenerClosed is returned by Accept after Close
var ErrListenerClosed = errors.New("listener is closed")

// TCPChannelConfig configures TCP channels
type TCPChannelConfig struct {
	Address      string        // "host:port" format
	BufferSize   int           // Read buffer size (0 = DefaultBufferSize)
	DialTimeout  time.Duration // Connect timeout, client only (0 = 10s)
	ReadTimeout  time.Duration // Idle timeout (0 = no timeout)
	WriteTimeout time.Duration // Write timeout (0 = 10s)
}

func (c *TCPChannelConfig) setDefaults() {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
}

// TCPChannel is one accepted or dialed TCP connection
type TCPChannel struct {
	*StreamChannel
	conn net.Conn
}

func newTCPChannel(conn net.Conn, config TCPChannelConfig) *TCPChannel {
	if tcp, ok := conn.(*net.TCPConn); ok {
		tcp.SetNoDelay(true)
	}
	return &TCPChannel{
		StreamChannel: NewStreamChannel(conn, StreamConfig{
			Name:         "tcp " + conn.RemoteAddr().String(),
			BufferSize:   config.BufferSize,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		}),
		conn: conn,
	}
}

// DialTCP connects to a remote TCP endpoint
func DialTCP(ctx context.Context, config TCPChannelConfig) (*TCPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	config.setDefaults()

	dialer := net.Dialer{Timeout: config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Address, err)
	}
	return newTCPChannel(conn, config), nil
}

// LocalAddr returns the local address of the connection
func (tc *TCPChannel) LocalAddr() net.Addr {
	return tc.conn.LocalAddr()
}

// RemoteAddr returns the remote address of the connection
func (tc *TCPChannel) RemoteAddr() net.Addr {
	return tc.conn.RemoteAddr()
}

// TCPListener accepts TCP connections, one channel per connection
type TCPListener struct {
	listener net.Listener
	config   TCPChannelConfig
	closed   atomic.Bool
}

// ListenTCP starts listening for incoming connections
func ListenTCP(config TCPChannelConfig) (*TCPListener, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	config.setDefaults()

	listener, err := net.Listen("tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", config.Address, err)
	}

	return &TCPListener{
		listener: listener,
		config:   config,
	}, nil
}

// Accept implements Acceptor.Accept
func (tl *TCPListener) Accept(ctx context.Context) (PhysicalChannel, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Set accept deadline to allow periodic context checks
		if tcpListener, ok := tl.listener.(*net.TCPListener); ok {
			tcpListener.SetDeadline(time.Now().Add(acceptPollInterval))
		}

		conn, err := tl.listener.Accept()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if tl.closed.Load() {
				return nil, ErrListenerClosed
			}
			return nil, err
		}

		return newTCPChannel(conn, tl.config), nil
	}
}

// Close implements Acceptor.Close
func (tl *TCPListener) Close() error {
	if !tl.closed.CompareAndSwap(false, true) {
		return nil
	}
	return tl.listener.Close()
}

// Addr implements Acceptor.Addr
func (tl *TCPListener) Addr() net.Addr {
	return tl.listener.Addr()
}
