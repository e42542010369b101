package link

import (
	"bytes"
	"fmt"
)

// Frame represents an HDLC frame
type Frame struct {
	Address uint8   // Station address
	Raw     uint8   // Control byte as transmitted or received
	Control Control // Decoded control field
	Info    []byte  // Information field (without FCS)
}

// NewFrame creates a frame from a control descriptor
func NewFrame(address uint8, ctrl Control, info []byte) (*Frame, error) {
	raw, err := EncodeControl(ctrl)
	if err != nil {
		return nil, err
	}
	if len(info) > 0 && !ctrl.Kind.InfoPermitted() {
		return nil, fmt.Errorf("%w: %s frame cannot carry information", ErrInvalidControl, ctrl.Kind)
	}
	return &Frame{
		Address: address,
		Raw:     raw,
		Control: ctrl,
		Info:    info,
	}, nil
}

// NewIFrame creates an information frame
func NewIFrame(address, ns, nr uint8, poll bool, info []byte) (*Frame, error) {
	return NewFrame(address, Control{Kind: KindI, NS: ns, NR: nr, PollFinal: poll}, info)
}

// NewSupervisoryFrame creates an RR or RNR frame
func NewSupervisoryFrame(kind FrameKind, address, nr uint8, pf bool) (*Frame, error) {
	if kind != KindRR && kind != KindRNR {
		return nil, fmt.Errorf("%w: %s is not supervisory", ErrInvalidControl, kind)
	}
	return NewFrame(address, Control{Kind: kind, NR: nr, PollFinal: pf}, nil)
}

// NewUnnumberedFrame creates an unnumbered command or response
func NewUnnumberedFrame(kind FrameKind, address uint8, pf bool, info []byte) (*Frame, error) {
	if kind.HasNR() {
		return nil, fmt.Errorf("%w: %s is not unnumbered", ErrInvalidControl, kind)
	}
	return NewFrame(address, Control{Kind: kind, PollFinal: pf}, info)
}

// Serialize converts frame to wire format with FCS
func (f *Frame) Serialize() ([]byte, error) {
	raw, err := EncodeControl(f.Control)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, HeaderSize+len(f.Info)+FCSSize)
	buf = append(buf, f.Address, raw)
	buf = append(buf, f.Info...)

	fcs := ComputeFCS(buf)
	return append(buf, byte(fcs), byte(fcs>>8)), nil
}

// Parse parses wire format data into a Frame.
// The FCS is checked before the control field. When the control field is
// invalid the partially decoded frame is returned together with
// ErrInvalidControl so the caller can build a frame reject.
func Parse(data []byte) (*Frame, error) {
	if len(data) < MinFrameSize {
		return nil, ErrFrameTooShort
	}

	body := data[:len(data)-FCSSize]
	received := uint16(data[len(data)-2]) | (uint16(data[len(data)-1]) << 8)
	if !VerifyFCS(body, received) {
		return nil, fmt.Errorf("%w: got 0x%04X, want 0x%04X", ErrChecksumMismatch, received, ComputeFCS(body))
	}

	frame := &Frame{
		Address: body[0],
		Raw:     body[1],
	}
	if len(body) > HeaderSize {
		frame.Info = make([]byte, len(body)-HeaderSize)
		copy(frame.Info, body[HeaderSize:])
	}

	ctrl, err := DecodeControl(frame.Raw)
	if err != nil {
		return frame, err
	}
	frame.Control = ctrl

	return frame, nil
}

// String returns a string representation of the frame
func (f *Frame) String() string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("Frame{Addr=0x%02X, ", f.Address))
	buf.WriteString(fmt.Sprintf("Ctrl=0x%02X %s, ", f.Raw, f.Control))
	buf.WriteString(fmt.Sprintf("InfoLen=%d}", len(f.Info)))
	return buf.String()
}

// Clone creates a deep copy of the frame
func (f *Frame) Clone() *Frame {
	var info []byte
	if f.Info != nil {
		info = make([]byte, len(f.Info))
		copy(info, f.Info)
	}

	return &Frame{
		Address: f.Address,
		Raw:     f.Raw,
		Control: f.Control,
		Info:    info,
	}
}
