package channel

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

// QUICProtocol is the ALPN token both ends must agree on
const QUICProtocol = "hdlc-quic"

// idleFlag is written once by the dialer; QUIC announces a stream to the peer
// only when data is sent on it, and a lone flag is idle fill for the framer
var idleFlag = []byte{0x7E}

// QUICChannelConfig configures QUIC channels
type QUICChannelConfig struct {
	Address      string        // "host:port" format
	BufferSize   int           // Read buffer size (0 = DefaultBufferSize)
	ReadTimeout  time.Duration // Idle timeout (0 = no timeout)
	WriteTimeout time.Duration // Write timeout (0 = 10s)
	TLSConfig    *tls.Config   // Optional TLS config (if nil, will generate self-signed cert)
}

func (c *QUICChannelConfig) setDefaults() error {
	if c.Address == "" {
		return fmt.Errorf("address is required")
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.TLSConfig == nil {
		tlsConfig, err := generateTLSConfig()
		if err != nil {
			return fmt.Errorf("failed to generate TLS config: %w", err)
		}
		c.TLSConfig = tlsConfig
	}
	return nil
}

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod: 15 * time.Second,
	}
}

// quicStream closes the whole QUIC connection when the stream is closed,
// which also unblocks a pending Read
type quicStream struct {
	*quic.Stream
	conn    *quic.Conn
	udpConn net.PacketConn // Owned by dialed connections only
}

func (s quicStream) Close() error {
	s.Stream.CancelRead(0)
	s.Stream.Close()
	err := s.conn.CloseWithError(0, "channel closed")
	if s.udpConn != nil {
		s.udpConn.Close()
	}
	return err
}

// QUICChannel is one QUIC connection carrying a single bidirectional stream
type QUICChannel struct {
	*StreamChannel
	connection *quic.Conn
}

func newQUICChannel(conn *quic.Conn, stream *quic.Stream, udpConn net.PacketConn, config QUICChannelConfig) *QUICChannel {
	return &QUICChannel{
		StreamChannel: NewStreamChannel(quicStream{Stream: stream, conn: conn, udpConn: udpConn}, StreamConfig{
			Name:         "quic " + conn.RemoteAddr().String(),
			BufferSize:   config.BufferSize,
			ReadTimeout:  config.ReadTimeout,
			WriteTimeout: config.WriteTimeout,
		}),
		connection: conn,
	}
}

// DialQUIC establishes a QUIC connection and opens its stream
func DialQUIC(ctx context.Context, config QUICChannelConfig) (*QUICChannel, error) {
	if err := config.setDefaults(); err != nil {
		return nil, err
	}

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("failed to create UDP socket: %w", err)
	}

	remoteAddr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("failed to resolve remote address %s: %w", config.Address, err)
	}

	conn, err := quic.Dial(ctx, udpConn, remoteAddr, config.TLSConfig, quicConfig())
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Address, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "failed to open stream")
		udpConn.Close()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}

	if _, err := stream.Write(idleFlag); err != nil {
		conn.CloseWithError(0, "failed to announce stream")
		udpConn.Close()
		return nil, fmt.Errorf("failed to announce stream: %w", err)
	}

	return newQUICChannel(conn, stream, udpConn, config), nil
}

// LocalAddr returns the local address of the connection
func (qc *QUICChannel) LocalAddr() net.Addr {
	return qc.connection.LocalAddr()
}

// RemoteAddr returns the remote address of the connection
func (qc *QUICChannel) RemoteAddr() net.Addr {
	return qc.connection.RemoteAddr()
}

// QUICListener accepts QUIC connections, one channel per connection
type QUICListener struct {
	listener *quic.Listener
	udpConn  net.PacketConn
	config   QUICChannelConfig
	ready    chan *QUICChannel

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// ListenQUIC starts listening for incoming QUIC connections
func ListenQUIC(config QUICChannelConfig) (*QUICListener, error) {
	if err := config.setDefaults(); err != nil {
		return nil, err
	}

	udpAddr, err := net.ResolveUDPAddr("udp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", config.Address, err)
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", config.Address, err)
	}

	listener, err := quic.Listen(udpConn, config.TLSConfig, quicConfig())
	if err != nil {
		udpConn.Close()
		return nil, fmt.Errorf("failed to create QUIC listener: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ql := &QUICListener{
		listener: listener,
		udpConn:  udpConn,
		config:   config,
		ready:    make(chan *QUICChannel),
		ctx:      ctx,
		cancel:   cancel,
	}

	ql.wg.Add(1)
	go ql.acceptLoop()

	return ql, nil
}

// acceptLoop accepts incoming QUIC connections
func (ql *QUICListener) acceptLoop() {
	defer ql.wg.Done()

	for {
		conn, err := ql.listener.Accept(ql.ctx)
		if err != nil {
			return
		}

		ql.wg.Add(1)
		go ql.acceptStream(conn)
	}
}

// acceptStream waits for the peer's stream, then hands the channel to Accept
func (ql *QUICListener) acceptStream(conn *quic.Conn) {
	defer ql.wg.Done()

	stream, err := conn.AcceptStream(ql.ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return
	}

	qc := newQUICChannel(conn, stream, nil, ql.config)
	select {
	case ql.ready <- qc:
	case <-ql.ctx.Done():
		qc.Close()
	}
}

// Accept implements Acceptor.Accept
func (ql *QUICListener) Accept(ctx context.Context) (PhysicalChannel, error) {
	select {
	case qc := <-ql.ready:
		return qc, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ql.ctx.Done():
		return nil, ErrListenerClosed
	}
}

// Close implements Acceptor.Close
func (ql *QUICListener) Close() error {
	if !ql.closed.CompareAndSwap(false, true) {
		return nil
	}

	ql.cancel()
	err := ql.listener.Close()
	ql.wg.Wait()
	ql.udpConn.Close()
	return err
}

// Addr implements Acceptor.Addr
func (ql *QUICListener) Addr() net.Addr {
	return ql.listener.Addr()
}

// generateTLSConfig generates a self-signed certificate for QUIC
func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{tlsCert},
		NextProtos:         []string{QUICProtocol},
		InsecureSkipVerify: true, // Self-signed
	}, nil
}
