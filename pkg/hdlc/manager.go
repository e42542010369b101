package hdlc

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hedi22/cosemlib/pkg/channel"
	"github.com/hedi22/cosemlib/pkg/internal/logger"
	"github.com/hedi22/cosemlib/pkg/link"
)

var (
	ErrUnknownConnection = errors.New("unknown connection")
	ErrConnectionClosed  = errors.New("connection is closed")
	ErrManagerClosed     = errors.New("manager is shut down")
)

// Manager is the root object for HDLC operations. It owns one Connection
// per attached physical channel and routes transport events to it.
type Manager struct {
	config    Config
	callbacks Callbacks
	logger    logger.Logger

	conns  map[channel.ConnID]*Connection
	mu     sync.RWMutex
	nextID atomic.Uint64
	closed bool
}

// NewManager creates a manager using the default logger
func NewManager(config Config, callbacks Callbacks) (*Manager, error) {
	return NewManagerWithLogger(config, callbacks, logger.GetDefault())
}

// NewManagerWithLogger creates a manager with a custom logger
func NewManagerWithLogger(config Config, callbacks Callbacks, log logger.Logger) (*Manager, error) {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if err := link.ValidateFCSTable(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Manager{
		config:    config,
		callbacks: callbacks,
		logger:    log,
		conns:     make(map[channel.ConnID]*Connection),
	}, nil
}

// Attach starts a connection over the physical channel and returns its ID.
// The manager owns the physical channel from here on.
func (m *Manager) Attach(physical channel.PhysicalChannel) (channel.ConnID, error) {
	id := channel.ConnID(m.nextID.Add(1))

	conn, err := newConnection(id, physical, m, m.config, m.callbacks, m.logger, m.remove)
	if err != nil {
		physical.Close()
		return 0, fmt.Errorf("failed to create connection: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		physical.Close()
		return 0, ErrManagerClosed
	}
	m.conns[id] = conn
	m.mu.Unlock()

	if err := conn.start(); err != nil {
		return 0, fmt.Errorf("failed to open channel: %w", err)
	}

	m.logger.Info("Manager: attached connection %d", id)
	return id, nil
}

// Serve attaches every channel the acceptor yields until ctx is done or the
// acceptor is closed
func (m *Manager) Serve(ctx context.Context, acceptor channel.Acceptor) error {
	for {
		physical, err := acceptor.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, channel.ErrListenerClosed) {
				return nil
			}
			return err
		}

		if _, err := m.Attach(physical); err != nil {
			if errors.Is(err, ErrManagerClosed) {
				return nil
			}
			m.logger.Error("Manager: %v", err)
		}
	}
}

// Connect starts link establishment (SNRM)
func (m *Manager) Connect(id channel.ConnID) error {
	return m.exec(id, func(st *link.Station) error { return st.Connect() })
}

// Disconnect starts an orderly link release (DISC)
func (m *Manager) Disconnect(id channel.ConnID) error {
	return m.exec(id, func(st *link.Station) error { return st.Disconnect() })
}

// Reset re-establishes the link, discarding unacknowledged frames
func (m *Manager) Reset(id channel.ConnID) error {
	conn, err := m.get(id)
	if err != nil {
		return err
	}
	return conn.reset()
}

// Send queues an information payload on a connected link
func (m *Manager) Send(id channel.ConnID, data []byte) error {
	return m.exec(id, func(st *link.Station) error { return st.SendData(data) })
}

// SendUI sends an unnumbered information frame
func (m *Manager) SendUI(id channel.ConnID, data []byte) error {
	return m.exec(id, func(st *link.Station) error { return st.SendUI(data) })
}

// State returns the link state of a connection
func (m *Manager) State(id channel.ConnID) (link.LinkState, error) {
	conn, err := m.get(id)
	if err != nil {
		return link.StateDisconnected, err
	}
	return conn.State(), nil
}

// Statistics returns the link counters of a connection
func (m *Manager) Statistics(id channel.ConnID) (link.StatsSnapshot, error) {
	conn, err := m.get(id)
	if err != nil {
		return link.StatsSnapshot{}, err
	}
	return conn.Statistics(), nil
}

// TransportStatistics returns the physical counters of a connection
func (m *Manager) TransportStatistics(id channel.ConnID) (channel.TransportStats, error) {
	conn, err := m.get(id)
	if err != nil {
		return channel.TransportStats{}, err
	}
	return conn.TransportStatistics(), nil
}

// Close closes one connection without sending DISC
func (m *Manager) Close(id channel.ConnID) error {
	conn, err := m.get(id)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

// Connections returns the IDs of live connections in ascending order
func (m *Manager) Connections() []channel.ConnID {
	m.mu.RLock()
	ids := make([]channel.ConnID, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Shutdown closes every connection. Later Attach calls fail.
func (m *Manager) Shutdown() {
	m.logger.Info("Manager: Shutting down")

	m.mu.Lock()
	m.closed = true
	conns := make([]*Connection, 0, len(m.conns))
	for _, conn := range m.conns {
		conns = append(conns, conn)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	m.logger.Info("Manager: Shutdown complete")
}

// OnBytesReceived implements channel.Handler
func (m *Manager) OnBytesReceived(id channel.ConnID, data []byte) {
	conn, err := m.get(id)
	if err != nil {
		return
	}
	conn.post(event{kind: eventBytes, data: data})
}

// OnConnectionEvent implements channel.Handler
func (m *Manager) OnConnectionEvent(id channel.ConnID, ev channel.ConnectionEvent) {
	conn, err := m.get(id)
	if err != nil {
		return
	}
	switch ev {
	case channel.ConnectionOpened:
		conn.post(event{kind: eventOpened})
	case channel.ConnectionClosed:
		conn.post(event{kind: eventClosed})
	}
}

func (m *Manager) exec(id channel.ConnID, fn func(st *link.Station) error) error {
	conn, err := m.get(id)
	if err != nil {
		return err
	}
	return conn.do(fn)
}

func (m *Manager) get(id channel.ConnID) (*Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownConnection, id)
	}
	return conn, nil
}

// remove drops a finished connection from the arena
func (m *Manager) remove(id channel.ConnID) {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
	m.logger.Info("Manager: removed connection %d", id)
}
