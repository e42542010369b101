package hdlc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hedi22/cosemlib/pkg/channel"
	"github.com/hedi22/cosemlib/pkg/framing"
	"github.com/hedi22/cosemlib/pkg/link"
)

// mockChannel is a PhysicalChannel driven directly by a test
type mockChannel struct {
	readChan  chan []byte
	writeChan chan []byte
	closeChan chan struct{}
	once      sync.Once

	mu    sync.Mutex
	stats channel.TransportStats
}

func newMockChannel() *mockChannel {
	return &mockChannel{
		readChan:  make(chan []byte, 16),
		writeChan: make(chan []byte, 16),
		closeChan: make(chan struct{}),
	}
}

func (m *mockChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closeChan:
		return nil, channel.ErrChannelClosed
	case data := <-m.readChan:
		m.mu.Lock()
		m.stats.BytesReceived += uint64(len(data))
		m.mu.Unlock()
		return data, nil
	}
}

func (m *mockChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closeChan:
		return channel.ErrChannelClosed
	case m.writeChan <- data:
		m.mu.Lock()
		m.stats.BytesSent += uint64(len(data))
		m.mu.Unlock()
		return nil
	}
}

func (m *mockChannel) Close() error {
	m.once.Do(func() { close(m.closeChan) })
	return nil
}

func (m *mockChannel) Statistics() channel.TransportStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

func (m *mockChannel) SetConnectionStateListener(channel.ConnectionStateListener) {}

// inject delivers raw wire bytes as if received
func (m *mockChannel) inject(data []byte) {
	m.readChan <- data
}

// nextFrame waits for the next written wire chunk and decodes it
func (m *mockChannel) nextFrame(t *testing.T, fr framing.Framer) *link.Frame {
	t.Helper()
	select {
	case wire := <-m.writeChan:
		frames, err := fr.Decode(wire)
		require.NoError(t, err)
		require.Len(t, frames, 1)
		f, err := link.Parse(frames[0])
		require.NoError(t, err)
		return f
	case <-time.After(waitFor):
		t.Fatal("no frame written")
		return nil
	}
}

func wireFrame(t *testing.T, f *link.Frame) []byte {
	t.Helper()
	raw, err := f.Serialize()
	require.NoError(t, err)
	wire, err := framing.NewFlagFramer(0).Encode(raw)
	require.NoError(t, err)
	return wire
}

func TestManager_WireLevel(t *testing.T) {
	var r recorder
	m := newTestManager(t, testConfig(), &r)
	mock := newMockChannel()
	id, err := m.Attach(mock)
	require.NoError(t, err)

	snrm, err := link.NewUnnumberedFrame(link.KindSNRM, link.DefaultAddress, true, nil)
	require.NoError(t, err)
	wire := wireFrame(t, snrm)

	// Corrupt the checksum: dropped silently
	raw, err := snrm.Serialize()
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	corrupt, err := framing.NewFlagFramer(0).Encode(raw)
	require.NoError(t, err)
	mock.inject(corrupt)
	assert.Eventually(t, func() bool {
		stats, err := m.Statistics(id)
		return err == nil && stats.FCSErrors == 1
	}, waitFor, tick)

	// A valid SNRM split across two reads is answered with UA, F set
	mock.inject(wire[:3])
	mock.inject(wire[3:])

	decoder := framing.NewFlagFramer(0)
	ua := mock.nextFrame(t, decoder)
	assert.Equal(t, link.KindUA, ua.Control.Kind)
	assert.True(t, ua.Control.PollFinal)
	assert.Equal(t, link.DefaultAddress, ua.Address)
	waitState(t, m, id, link.StateConnected)

	// I-frame N(S)=0 is delivered and acknowledged with RR N(R)=1
	info, err := link.NewIFrame(link.DefaultAddress, 0, 0, false, []byte("meter"))
	require.NoError(t, err)
	mock.inject(wireFrame(t, info))

	rr := mock.nextFrame(t, decoder)
	assert.Equal(t, link.KindRR, rr.Control.Kind)
	assert.Equal(t, uint8(1), rr.Control.NR)
	assert.Eventually(t, func() bool {
		got := r.received()
		return len(got) == 1 && got[0] == "meter"
	}, waitFor, tick)

	// Broadcast UI is accepted
	ui, err := link.NewUnnumberedFrame(link.KindUI, link.BroadcastAddress, false, []byte{0x01})
	require.NoError(t, err)
	mock.inject(wireFrame(t, ui))
	assert.Eventually(t, func() bool { return r.receivedUI() == 1 }, waitFor, tick)

	ts, err := m.TransportStatistics(id)
	require.NoError(t, err)
	assert.NotZero(t, ts.BytesReceived)
}

func TestManager_CloseEmitsNothing(t *testing.T) {
	var r recorder
	m := newTestManager(t, testConfig(), &r)
	mock := newMockChannel()
	id, err := m.Attach(mock)
	require.NoError(t, err)

	require.NoError(t, m.Connect(id))
	snrm := mock.nextFrame(t, framing.NewFlagFramer(0))
	assert.Equal(t, link.KindSNRM, snrm.Control.Kind)

	require.NoError(t, m.Close(id))
	select {
	case <-mock.closeChan:
	default:
		t.Fatal("physical channel not closed")
	}
	assert.Empty(t, mock.writeChan)
	assert.ErrorIs(t, m.Connect(id), ErrUnknownConnection)
}

func TestManager_ResetDiscardsPartialInput(t *testing.T) {
	var r recorder
	m := newTestManager(t, testConfig(), &r)
	mock := newMockChannel()
	id, err := m.Attach(mock)
	require.NoError(t, err)
	decoder := framing.NewFlagFramer(0)

	snrm, err := link.NewUnnumberedFrame(link.KindSNRM, link.DefaultAddress, true, nil)
	require.NoError(t, err)
	snrmWire := wireFrame(t, snrm)
	mock.inject(snrmWire)
	assert.Equal(t, link.KindUA, mock.nextFrame(t, decoder).Control.Kind)
	waitState(t, m, id, link.StateConnected)

	info, err := link.NewIFrame(link.DefaultAddress, 0, 0, false, []byte("stale"))
	require.NoError(t, err)
	wire := wireFrame(t, info)
	half := len(wire) / 2
	mock.inject(wire[:half])
	assert.Eventually(t, func() bool {
		ts, err := m.TransportStatistics(id)
		return err == nil && ts.BytesReceived > uint64(len(snrmWire))
	}, waitFor, tick)
	time.Sleep(20 * time.Millisecond)

	before, err := m.Statistics(id)
	require.NoError(t, err)
	require.NoError(t, m.Reset(id))
	sent := mock.nextFrame(t, decoder)
	assert.Equal(t, link.KindSNRM, sent.Control.Kind)

	// The rest of the stale frame is noise now; only the UA counts
	mock.inject(wire[half:])
	ua, err := link.NewUnnumberedFrame(link.KindUA, link.DefaultAddress, true, nil)
	require.NoError(t, err)
	mock.inject(wireFrame(t, ua))
	waitState(t, m, id, link.StateConnected)

	after, err := m.Statistics(id)
	require.NoError(t, err)
	assert.Equal(t, before.FramesRx+1, after.FramesRx)
	assert.Empty(t, r.received())
}
