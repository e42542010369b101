package link

import "fmt"

// FrameKind identifies the command/response a control byte encodes
type FrameKind uint8

const (
	KindI    FrameKind = iota // Information
	KindRR                    // Receive ready
	KindRNR                   // Receive not ready
	KindSNRM                  // Set normal response mode
	KindDISC                  // Disconnect
	KindUA                    // Unnumbered acknowledge
	KindDM                    // Disconnected mode
	KindFRMR                  // Frame reject
	KindUI                    // Unnumbered information
)

// String returns string representation of FrameKind
func (k FrameKind) String() string {
	switch k {
	case KindI:
		return "I"
	case KindRR:
		return "RR"
	case KindRNR:
		return "RNR"
	case KindSNRM:
		return "SNRM"
	case KindDISC:
		return "DISC"
	case KindUA:
		return "UA"
	case KindDM:
		return "DM"
	case KindFRMR:
		return "FRMR"
	case KindUI:
		return "UI"
	default:
		return "Unknown"
	}
}

// HasNS reports whether frames of this kind carry N(S)
func (k FrameKind) HasNS() bool {
	return k == KindI
}

// HasNR reports whether frames of this kind carry N(R)
func (k FrameKind) HasNR() bool {
	return k == KindI || k == KindRR || k == KindRNR
}

// InfoPermitted reports whether frames of this kind may carry an information field
func (k FrameKind) InfoPermitted() bool {
	switch k {
	case KindI, KindUI, KindFRMR, KindSNRM, KindUA:
		return true
	default:
		return false
	}
}

// Control is a decoded control field
type Control struct {
	Kind      FrameKind
	PollFinal bool
	NS        uint8 // Send sequence number, I-frames only
	NR        uint8 // Receive sequence number, I, RR and RNR only
}

// unnumbered maps unnumbered kinds to their control byte with P/F clear,
// in GreenBook table order
var unnumbered = []struct {
	kind FrameKind
	ctrl uint8
}{
	{KindSNRM, CtrlSNRM},
	{KindDISC, CtrlDISC},
	{KindUA, CtrlUA},
	{KindDM, CtrlDM},
	{KindFRMR, CtrlFRMR},
	{KindUI, CtrlUI},
}

// DecodeControl decodes a control byte
func DecodeControl(b byte) (Control, error) {
	c := Control{PollFinal: b&CtrlPF != 0}

	if b&CtrlIFrameMask == 0 {
		c.Kind = KindI
		c.NS = (b & CtrlNSMask) >> 1
		c.NR = (b & CtrlNRMask) >> 5
		return c, nil
	}

	switch b & CtrlSMask {
	case CtrlRR:
		c.Kind = KindRR
		c.NR = (b & CtrlNRMask) >> 5
		return c, nil
	case CtrlRNR:
		c.Kind = KindRNR
		c.NR = (b & CtrlNRMask) >> 5
		return c, nil
	}

	u := b &^ CtrlPF
	for _, entry := range unnumbered {
		if u == entry.ctrl {
			c.Kind = entry.kind
			return c, nil
		}
	}

	return Control{}, fmt.Errorf("%w: 0x%02X", ErrInvalidControl, b)
}

// Validate checks that the descriptor can be encoded
func (c Control) Validate() error {
	if c.NS >= SeqModulus || c.NR >= SeqModulus {
		return fmt.Errorf("%w: N(S)=%d N(R)=%d", ErrSequenceRange, c.NS, c.NR)
	}
	if !c.Kind.HasNS() && c.NS != 0 {
		return fmt.Errorf("%w: %s carries no N(S)", ErrInvalidControl, c.Kind)
	}
	if !c.Kind.HasNR() && c.NR != 0 {
		return fmt.Errorf("%w: %s carries no N(R)", ErrInvalidControl, c.Kind)
	}
	if c.Kind > KindUI {
		return fmt.Errorf("%w: kind %d", ErrInvalidControl, c.Kind)
	}
	return nil
}

// EncodeControl encodes a control descriptor into its control byte
func EncodeControl(c Control) (byte, error) {
	if err := c.Validate(); err != nil {
		return 0, err
	}

	var b uint8
	switch c.Kind {
	case KindI:
		b = c.NR<<5 | c.NS<<1
	case KindRR:
		b = c.NR<<5 | CtrlRR
	case KindRNR:
		b = c.NR<<5 | CtrlRNR
	default:
		for _, entry := range unnumbered {
			if entry.kind == c.Kind {
				b = entry.ctrl
				break
			}
		}
	}

	if c.PollFinal {
		b |= CtrlPF
	}
	return b, nil
}

// String returns a string representation of the control field
func (c Control) String() string {
	pf := 0
	if c.PollFinal {
		pf = 1
	}
	switch {
	case c.Kind == KindI:
		return fmt.Sprintf("I(ns=%d,nr=%d,pf=%d)", c.NS, c.NR, pf)
	case c.Kind.HasNR():
		return fmt.Sprintf("%s(nr=%d,pf=%d)", c.Kind, c.NR, pf)
	default:
		return fmt.Sprintf("%s(pf=%d)", c.Kind, pf)
	}
}
