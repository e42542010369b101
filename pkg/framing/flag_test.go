package framing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zaninime/go-hdlc"

	"github.com/hedi22/cosemlib/pkg/link"
)

func testFrames(t *testing.T) [][]byte {
	t.Helper()
	infos := [][]byte{
		nil,
		{0x7E, 0x7D, 0x7E},
		{0x00, 0x01, 0x11, 0x13, 0x1F},
		{0xFD, 0xFE, 0xFF},
		bytes.Repeat([]byte{0xA5}, 200),
	}

	var frames [][]byte
	for i, info := range infos {
		f, err := link.NewIFrame(link.DefaultAddress, uint8(i), 0, false, info)
		require.NoError(t, err)
		data, err := f.Serialize()
		require.NoError(t, err)
		frames = append(frames, data)
	}

	// Broadcast UI starts with the same FF 03 pair go-hdlc treats as a prefix
	ui, err := link.NewUnnumberedFrame(link.KindUI, link.BroadcastAddress, false, []byte("bcast"))
	require.NoError(t, err)
	data, err := ui.Serialize()
	require.NoError(t, err)
	return append(frames, data)
}

func TestFlagFramer_RoundTrip(t *testing.T) {
	for _, frame := range testFrames(t) {
		enc := NewFlagFramer(0)
		wire, err := enc.Encode(frame)
		require.NoError(t, err)

		require.Equal(t, flagSym, wire[0])
		require.Equal(t, flagSym, wire[len(wire)-1])
		assert.NotContains(t, wire[1:len(wire)-1], flagSym)

		dec := NewFlagFramer(0)
		got, err := dec.Decode(wire)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, frame, got[0])

		_, err = link.Parse(got[0])
		assert.NoError(t, err)
	}
}

// minimalStuff frames data escaping only the flag and escape bytes, as
// ISO/IEC 13239 peers do
func minimalStuff(frame []byte) []byte {
	wire := []byte{flagSym}
	for _, b := range frame {
		if b == flagSym || b == escapeSym {
			wire = append(wire, escapeSym, b^0x20)
			continue
		}
		wire = append(wire, b)
	}
	return append(wire, flagSym)
}

func TestFlagFramer_MinimalStuffing(t *testing.T) {
	// RR N(R)=0 F=1 to station 0x03: every byte but the FCS is below 0x20
	rr := []byte{0x03, 0x11, 0x27, 0x24}
	got, err := NewFlagFramer(0).Decode(minimalStuff(rr))
	require.NoError(t, err)
	assert.Equal(t, [][]byte{rr}, got)

	f, err := link.Parse(got[0])
	require.NoError(t, err)
	assert.Equal(t, link.KindRR, f.Control.Kind)
	assert.True(t, f.Control.PollFinal)

	dec := NewFlagFramer(0)
	for _, frame := range testFrames(t) {
		got, err := dec.Decode(minimalStuff(frame))
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, frame, got[0])
	}
	assert.Equal(t, uint64(0), dec.Dropped())
}

func TestFlagFramer_ByteAtATime(t *testing.T) {
	frames := testFrames(t)
	enc := NewFlagFramer(0)

	var wire []byte
	for _, frame := range frames {
		w, err := enc.Encode(frame)
		require.NoError(t, err)
		wire = append(wire, w...)
	}

	dec := NewFlagFramer(0)
	var got [][]byte
	for _, b := range wire {
		out, err := dec.Decode([]byte{b})
		require.NoError(t, err)
		got = append(got, out...)
	}
	assert.Equal(t, frames, got)
	assert.Equal(t, uint64(0), dec.Dropped())
}

func TestFlagFramer_SharedFlag(t *testing.T) {
	frames := testFrames(t)[:2]
	enc := NewFlagFramer(0)

	first, err := enc.Encode(frames[0])
	require.NoError(t, err)
	second, err := enc.Encode(frames[1])
	require.NoError(t, err)

	// Closing flag of the first frame opens the second
	wire := append(append([]byte{}, first...), second[1:]...)

	got, err := NewFlagFramer(0).Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, frames, got)
}

func TestFlagFramer_NoiseAndBadSegments(t *testing.T) {
	frame := testFrames(t)[0]
	enc := NewFlagFramer(0)
	wire, err := enc.Encode(frame)
	require.NoError(t, err)

	input := []byte{0x11, 0x22}                               // noise before any flag
	input = append(input, 0x7E, 0x7D, 0x7D, 0x41, 0x42, 0x7E) // double escape
	input = append(input, 0x7E, 0x7E, 0x7E)                   // idle flags
	input = append(input, wire...)

	dec := NewFlagFramer(0)
	got, err := dec.Decode(input)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, frame, got[0])
	assert.Equal(t, uint64(1), dec.Dropped())
}

func TestFlagFramer_Overflow(t *testing.T) {
	dec := NewFlagFramer(16)

	_, err := dec.Decode(append([]byte{0x7E}, bytes.Repeat([]byte{0x41}, 32)...))
	assert.ErrorIs(t, err, ErrFrameOverflow)

	// The framer recovers with the next frame
	frame := testFrames(t)[0]
	wire, err := NewFlagFramer(0).Encode(frame)
	require.NoError(t, err)
	got, err := dec.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{frame}, got)
}

func TestFlagFramer_Reset(t *testing.T) {
	frame := testFrames(t)[1]
	wire, err := NewFlagFramer(0).Encode(frame)
	require.NoError(t, err)

	dec := NewFlagFramer(0)
	got, err := dec.Decode(wire[:len(wire)/2])
	require.NoError(t, err)
	assert.Empty(t, got)

	dec.Reset()
	got, err = dec.Decode(wire[len(wire)/2:])
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFlagFramer_EncodeTooShort(t *testing.T) {
	_, err := NewFlagFramer(0).Encode([]byte{0x03})
	assert.ErrorIs(t, err, ErrFrameTooShort)
}

func TestFCSMatchesGoHDLC(t *testing.T) {
	for _, frame := range testFrames(t) {
		body := frame[:len(frame)-2]
		ref := hdlc.Encapsulate(body, false)
		assert.Equal(t, frame[len(frame)-2:], ref.FCS)
		assert.True(t, hdlc.Frame{Payload: body, FCS: frame[len(frame)-2:]}.Valid())
	}
}

func TestNew(t *testing.T) {
	f, err := New(KindFlag, 0)
	require.NoError(t, err)
	assert.IsType(t, &FlagFramer{}, f)

	f, err = New(KindDatagram, 0)
	require.NoError(t, err)
	assert.IsType(t, &DatagramFramer{}, f)

	_, err = New("length", 0)
	assert.ErrorIs(t, err, ErrUnknownFraming)
}

func TestDatagramFramer(t *testing.T) {
	d := NewDatagramFramer()
	frame := testFrames(t)[1]

	wire, err := d.Encode(frame)
	require.NoError(t, err)
	assert.Equal(t, frame, wire)

	got, err := d.Decode(wire)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{frame}, got)

	got, err = d.Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}
