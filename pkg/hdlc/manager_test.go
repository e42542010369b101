package hdlc

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedi22/cosemlib/pkg/channel"
	"github.com/hedi22/cosemlib/pkg/framing"
	"github.com/hedi22/cosemlib/pkg/link"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type statusEvent struct {
	state link.LinkState
	err   error
}

// recorder collects callback invocations for one manager
type recorder struct {
	mu     sync.Mutex
	data   [][]byte
	ui     [][]byte
	status []statusEvent
	events []channel.ConnectionEvent
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnData: func(id channel.ConnID, data []byte) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.data = append(r.data, data)
		},
		OnUI: func(id channel.ConnID, data []byte) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.ui = append(r.ui, data)
		},
		OnStatus: func(id channel.ConnID, state link.LinkState, err error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.status = append(r.status, statusEvent{state, err})
		},
		OnConnection: func(id channel.ConnID, ev channel.ConnectionEvent) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, ev)
		},
	}
}

func (r *recorder) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.data))
	for i, d := range r.data {
		out[i] = string(d)
	}
	return out
}

func (r *recorder) receivedUI() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ui)
}

func (r *recorder) hasStatusError(target error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.status {
		if errors.Is(s.err, target) {
			return true
		}
	}
	return false
}

func (r *recorder) connectionEvents() []channel.ConnectionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]channel.ConnectionEvent(nil), r.events...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetransmitTimeout = 100 * time.Millisecond
	cfg.ConnectTimeout = 100 * time.Millisecond
	cfg.DisconnectTimeout = 100 * time.Millisecond
	return cfg
}

func newTestManager(t *testing.T, cfg Config, r *recorder) *Manager {
	t.Helper()
	m, err := NewManagerWithLogger(cfg, r.callbacks(), nil)
	require.NoError(t, err)
	t.Cleanup(m.Shutdown)
	return m
}

func waitState(t *testing.T, m *Manager, id channel.ConnID, want link.LinkState) {
	t.Helper()
	assert.Eventually(t, func() bool {
		state, err := m.State(id)
		return err == nil && state == want
	}, waitFor, tick, "waiting for %s", want)
}

// pipePair attaches both ends of an in-memory connection to two managers
func pipePair(t *testing.T, a, b *Manager) (channel.ConnID, channel.ConnID) {
	t.Helper()
	local, remote := net.Pipe()

	idA, err := a.Attach(channel.NewStreamChannel(local, channel.StreamConfig{Name: "a"}))
	require.NoError(t, err)
	idB, err := b.Attach(channel.NewStreamChannel(remote, channel.StreamConfig{Name: "b"}))
	require.NoError(t, err)
	return idA, idB
}

func TestManager_EndToEnd(t *testing.T) {
	var ra, rb recorder
	a := newTestManager(t, testConfig(), &ra)
	b := newTestManager(t, testConfig(), &rb)
	idA, idB := pipePair(t, a, b)

	require.NoError(t, a.Connect(idA))
	waitState(t, a, idA, link.StateConnected)
	waitState(t, b, idB, link.StateConnected)

	require.NoError(t, a.Send(idA, []byte("hello")))
	require.NoError(t, a.Send(idA, []byte("world")))
	require.NoError(t, b.Send(idB, []byte("reply")))

	assert.Eventually(t, func() bool {
		got := rb.received()
		return len(got) == 2 && got[0] == "hello" && got[1] == "world"
	}, waitFor, tick)
	assert.Eventually(t, func() bool {
		got := ra.received()
		return len(got) == 1 && got[0] == "reply"
	}, waitFor, tick)

	require.NoError(t, a.SendUI(idA, []byte("broadcast")))
	assert.Eventually(t, func() bool { return rb.receivedUI() == 1 }, waitFor, tick)

	require.NoError(t, a.Disconnect(idA))
	waitState(t, a, idA, link.StateDisconnected)
	waitState(t, b, idB, link.StateDisconnected)

	stats, err := a.Statistics(idA)
	require.NoError(t, err)
	assert.Zero(t, stats.FCSErrors)
	assert.Zero(t, stats.Retransmissions)
	assert.NotZero(t, stats.FramesTx)
	assert.NotZero(t, stats.FramesRx)

	ts, err := a.TransportStatistics(idA)
	require.NoError(t, err)
	assert.NotZero(t, ts.BytesSent)
}

func TestManager_AutoConnect(t *testing.T) {
	var ra, rb recorder
	cfg := testConfig()
	cfg.AutoConnect = true
	a := newTestManager(t, cfg, &ra)
	b := newTestManager(t, testConfig(), &rb)
	idA, idB := pipePair(t, a, b)

	waitState(t, a, idA, link.StateConnected)
	waitState(t, b, idB, link.StateConnected)
}

func TestManager_ConnectTimeout(t *testing.T) {
	var r recorder
	cfg := testConfig()
	cfg.ConnectTimeout = 20 * time.Millisecond
	cfg.MaxRetries = 2
	m := newTestManager(t, cfg, &r)

	local, remote := net.Pipe()
	defer remote.Close()
	go io.Copy(io.Discard, remote)

	id, err := m.Attach(channel.NewStreamChannel(local, channel.StreamConfig{}))
	require.NoError(t, err)
	require.NoError(t, m.Connect(id))

	assert.Eventually(t, func() bool {
		return r.hasStatusError(link.ErrLinkEstablishmentTimeout)
	}, waitFor, tick)
	waitState(t, m, id, link.StateDisconnected)

	stats, err := m.Statistics(id)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Timeouts)
	assert.Equal(t, uint64(2), stats.FramesTx)
}

func TestManager_CommandErrors(t *testing.T) {
	var ra, rb recorder
	a := newTestManager(t, testConfig(), &ra)
	b := newTestManager(t, testConfig(), &rb)
	idA, _ := pipePair(t, a, b)

	assert.ErrorIs(t, a.Send(idA, []byte("early")), link.ErrNotConnected)
	assert.ErrorIs(t, a.Send(999, []byte("x")), ErrUnknownConnection)
	_, err := a.State(999)
	assert.ErrorIs(t, err, ErrUnknownConnection)
	assert.ErrorIs(t, a.Close(999), ErrUnknownConnection)
}

func TestManager_PeerCloseRemovesConnection(t *testing.T) {
	var ra, rb recorder
	a := newTestManager(t, testConfig(), &ra)
	b := newTestManager(t, testConfig(), &rb)
	idA, idB := pipePair(t, a, b)

	require.NoError(t, a.Connect(idA))
	waitState(t, b, idB, link.StateConnected)

	require.NoError(t, a.Close(idA))
	assert.Empty(t, a.Connections())

	assert.Eventually(t, func() bool { return len(b.Connections()) == 0 }, waitFor, tick)
	assert.Eventually(t, func() bool {
		events := rb.connectionEvents()
		return len(events) == 2 && events[1] == channel.ConnectionClosed
	}, waitFor, tick)
	assert.ErrorIs(t, b.Send(idB, []byte("gone")), ErrUnknownConnection)
}

func TestManager_CallbackMayCallManager(t *testing.T) {
	var ra recorder
	a := newTestManager(t, testConfig(), &ra)

	// b echoes every payload back from inside its data callback
	var b *Manager
	cb := Callbacks{
		OnData: func(id channel.ConnID, data []byte) {
			assert.NoError(t, b.Send(id, data))
		},
	}
	b, err := NewManagerWithLogger(testConfig(), cb, nil)
	require.NoError(t, err)
	t.Cleanup(b.Shutdown)

	idA, _ := pipePair(t, a, b)
	require.NoError(t, a.Connect(idA))
	waitState(t, a, idA, link.StateConnected)

	require.NoError(t, a.Send(idA, []byte("ping")))
	assert.Eventually(t, func() bool {
		got := ra.received()
		return len(got) == 1 && got[0] == "ping"
	}, waitFor, tick)
}

func TestManager_ServeTCP(t *testing.T) {
	var rs, rc recorder
	server := newTestManager(t, testConfig(), &rs)
	cfg := testConfig()
	cfg.AutoConnect = true
	client := newTestManager(t, cfg, &rc)

	ln, err := channel.ListenTCP(channel.TCPChannelConfig{Address: "127.0.0.1:0"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx, ln) }()

	tc, err := channel.DialTCP(ctx, channel.TCPChannelConfig{Address: ln.Addr().String()})
	require.NoError(t, err)
	id, err := client.Attach(tc)
	require.NoError(t, err)

	waitState(t, client, id, link.StateConnected)
	require.NoError(t, client.Send(id, []byte("over tcp")))
	assert.Eventually(t, func() bool {
		got := rs.received()
		return len(got) == 1 && got[0] == "over tcp"
	}, waitFor, tick)

	cancel()
	ln.Close()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return")
	}
}

func TestManager_ServeQUIC(t *testing.T) {
	var rs, rc recorder
	scfg := testConfig()
	scfg.ConnectTimeout = 500 * time.Millisecond
	server := newTestManager(t, scfg, &rs)
	ccfg := scfg
	ccfg.AutoConnect = true
	client := newTestManager(t, ccfg, &rc)

	ln, err := channel.ListenQUIC(channel.QUICChannelConfig{Address: "127.0.0.1:0"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx, ln) }()

	qc, err := channel.DialQUIC(ctx, channel.QUICChannelConfig{Address: ln.Addr().String()})
	require.NoError(t, err)
	id, err := client.Attach(qc)
	require.NoError(t, err)

	waitState(t, client, id, link.StateConnected)
	require.NoError(t, client.Send(id, []byte("over quic")))
	assert.Eventually(t, func() bool {
		got := rs.received()
		return len(got) == 1 && got[0] == "over quic"
	}, waitFor, tick)

	ids := server.Connections()
	require.Len(t, ids, 1)
	require.NoError(t, server.Send(ids[0], []byte("reply")))
	assert.Eventually(t, func() bool {
		got := rc.received()
		return len(got) == 1 && got[0] == "reply"
	}, waitFor, tick)

	// Dropping the client connection removes it from the server
	require.NoError(t, client.Close(id))
	assert.Eventually(t, func() bool { return len(server.Connections()) == 0 }, waitFor, tick)

	cancel()
	ln.Close()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Serve did not return")
	}
}

func TestManager_UDPDatagrams(t *testing.T) {
	cfg := testConfig()
	cfg.Framing = framing.KindDatagram

	var rs, rc recorder
	server := newTestManager(t, cfg, &rs)
	ccfg := cfg
	ccfg.AutoConnect = true
	client := newTestManager(t, ccfg, &rc)

	su, err := channel.NewUDPChannel(channel.UDPChannelConfig{Address: "127.0.0.1:0", IsServer: true, MaxInfoSize: cfg.MaxInfoSize})
	require.NoError(t, err)
	sid, err := server.Attach(su)
	require.NoError(t, err)

	cu, err := channel.NewUDPChannel(channel.UDPChannelConfig{Address: su.LocalAddr().String(), MaxInfoSize: cfg.MaxInfoSize})
	require.NoError(t, err)
	cid, err := client.Attach(cu)
	require.NoError(t, err)

	waitState(t, client, cid, link.StateConnected)
	waitState(t, server, sid, link.StateConnected)

	require.NoError(t, client.Send(cid, []byte("datagram")))
	require.NoError(t, server.Send(sid, []byte("answer")))
	assert.Eventually(t, func() bool {
		s, c := rs.received(), rc.received()
		return len(s) == 1 && s[0] == "datagram" && len(c) == 1 && c[0] == "answer"
	}, waitFor, tick)
}

func TestManager_Shutdown(t *testing.T) {
	var ra, rb recorder
	a := newTestManager(t, testConfig(), &ra)
	b := newTestManager(t, testConfig(), &rb)
	pipePair(t, a, b)
	pipePair(t, a, b)
	assert.Len(t, a.Connections(), 2)

	a.Shutdown()
	assert.Empty(t, a.Connections())

	local, remote := net.Pipe()
	defer remote.Close()
	_, err := a.Attach(channel.NewStreamChannel(local, channel.StreamConfig{}))
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestNewManager_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WindowSize = 8
	_, err := NewManagerWithLogger(cfg, Callbacks{}, nil)
	assert.ErrorIs(t, err, link.ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Framing = "slip"
	_, err = NewManagerWithLogger(cfg, Callbacks{}, nil)
	assert.ErrorIs(t, err, link.ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.MaxFrameSize = 64
	_, err = NewManagerWithLogger(cfg, Callbacks{}, nil)
	assert.ErrorIs(t, err, link.ErrInvalidConfig)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name string
		want LogLevel
		ok   bool
	}{
		{"debug", LevelDebug, true},
		{"", LevelInfo, true},
		{"warning", LevelWarn, true},
		{"error", LevelError, true},
		{"trace", LevelInfo, false},
	}
	for _, tt := range tests {
		got, ok := ParseLogLevel(tt.name)
		assert.Equal(t, tt.want, got, tt.name)
		assert.Equal(t, tt.ok, ok, tt.name)
	}
}
