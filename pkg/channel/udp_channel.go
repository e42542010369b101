package channel

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hedi22/cosemlib/pkg/link"
)

var (
	// ErrNoPeer is returned by a UDP server asked to send before any peer
	// has sent it a frame. The frame is lost; the connection stays up.
	ErrNoPeer = errors.New("no peer address known yet")

	// ErrBadDatagram marks a datagram too short or too long to carry a frame
	ErrBadDatagram = errors.New("datagram cannot carry a frame")
)

// UDPChannelConfig configures a UDP channel
type UDPChannelConfig struct {
	Address      string        // "host:port"; bound by a server, dialed by a client
	IsServer     bool          // Answer whichever peer sent the last frame
	MaxInfoSize  int           // Largest information field carried (0 = link.DefaultMaxInfoSize)
	ReadTimeout  time.Duration // Idle timeout (0 = none)
	WriteTimeout time.Duration // Write timeout (0 = 10s)
}

// UDPChannel carries exactly one HDLC frame per datagram, so it pairs with
// datagram framing. Datagrams shorter than an empty frame or longer than
// the largest frame are counted as read errors and skipped.
type UDPChannel struct {
	*StreamChannel
	socket *udpSocket
}

// NewUDPChannel binds a UDP socket. A server listens on Address; a client
// binds an ephemeral port and sends to Address.
func NewUDPChannel(config UDPChannelConfig) (*UDPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.MaxInfoSize <= 0 {
		config.MaxInfoSize = link.DefaultMaxInfoSize
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = 10 * time.Second
	}

	addr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", config.Address, err)
	}

	socket := &udpSocket{
		maxFrame: link.HeaderSize + config.MaxInfoSize + link.FCSSize,
	}
	if config.IsServer {
		socket.conn, err = net.ListenUDP("udp", addr)
	} else {
		socket.remote = addr
		socket.conn, err = net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to bind UDP socket for %s: %w", config.Address, err)
	}

	return &UDPChannel{
		StreamChannel: NewStreamChannel(socket, StreamConfig{
			Name: "udp " + config.Address,
			// One spare byte tells an oversized datagram from a full one
			BufferSize:   socket.maxFrame + 1,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		}),
		socket: socket,
	}, nil
}

// MaxFrameSize returns the largest datagram accepted as a frame
func (uc *UDPChannel) MaxFrameSize() int {
	return uc.socket.maxFrame
}

// LocalAddr returns the bound address
func (uc *UDPChannel) LocalAddr() net.Addr {
	return uc.socket.conn.LocalAddr()
}

// RemoteAddr returns the configured peer of a client, or the last peer
// heard by a server (nil before the first frame).
func (uc *UDPChannel) RemoteAddr() net.Addr {
	if peer := uc.socket.destination(); peer != nil {
		return peer
	}
	return nil
}

// udpSocket presents a UDP socket to StreamChannel: each Read returns one
// whole datagram.
type udpSocket struct {
	conn     *net.UDPConn
	remote   *net.UDPAddr // Client mode peer
	maxFrame int

	peerMu sync.RWMutex
	peer   *net.UDPAddr // Server mode: sender of the last accepted frame
}

func (s *udpSocket) Read(p []byte) (int, error) {
	n, from, err := s.conn.ReadFromUDP(p)
	if err != nil {
		return 0, err
	}
	if n < link.MinFrameSize || n > s.maxFrame {
		return 0, fmt.Errorf("%w: %d bytes from %s", ErrBadDatagram, n, from)
	}

	if s.remote == nil {
		s.peerMu.Lock()
		s.peer = from
		s.peerMu.Unlock()
	}
	return n, nil
}

func (s *udpSocket) Write(p []byte) (int, error) {
	dest := s.destination()
	if dest == nil {
		return 0, ErrNoPeer
	}
	return s.conn.WriteToUDP(p, dest)
}

func (s *udpSocket) Close() error {
	return s.conn.Close()
}

func (s *udpSocket) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

func (s *udpSocket) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

func (s *udpSocket) destination() *net.UDPAddr {
	if s.remote != nil {
		return s.remote
	}
	s.peerMu.RLock()
	defer s.peerMu.RUnlock()
	return s.peer
}
