package link

import (
	"fmt"
	"strings"
)

// RejectReason holds the W, X, Y and Z flags of a frame reject
type RejectReason uint8

const (
	ReasonInvalidControl   RejectReason = 0x01 // W: control field undefined or not implemented
	ReasonInfoNotPermitted RejectReason = 0x02 // X: information field not permitted
	ReasonInfoTooLong      RejectReason = 0x04 // Y: information field exceeds maximum
	ReasonInvalidNR        RejectReason = 0x08 // Z: N(R) outside the outstanding window
)

// FrameRejectSize is the length of a frame reject information field
const FrameRejectSize = 3

// String returns string representation of RejectReason
func (r RejectReason) String() string {
	if r == 0 {
		return "none"
	}
	var parts []string
	if r&ReasonInvalidControl != 0 {
		parts = append(parts, "invalid control field")
	}
	if r&ReasonInfoNotPermitted != 0 {
		parts = append(parts, "information not permitted")
	}
	if r&ReasonInfoTooLong != 0 {
		parts = append(parts, "information too long")
	}
	if r&ReasonInvalidNR != 0 {
		parts = append(parts, "invalid N(R)")
	}
	return strings.Join(parts, ", ")
}

// FrameReject is the information field of an FRMR response
type FrameReject struct {
	Control  uint8 // Rejected control byte
	VS       uint8 // Sender's V(S) when the frame was rejected
	VR       uint8 // Sender's V(R) when the frame was rejected
	Response bool  // Rejected frame was a response
	Reason   RejectReason
}

// Encode returns the three-byte information field
func (r FrameReject) Encode() []byte {
	b := (r.VR&0x07)<<5 | (r.VS&0x07)<<1
	if r.Response {
		b |= 0x10
	}
	return []byte{r.Control, b, uint8(r.Reason) & 0x0F}
}

// ParseFrameReject decodes an FRMR information field
func ParseFrameReject(info []byte) (FrameReject, error) {
	if len(info) < FrameRejectSize {
		return FrameReject{}, fmt.Errorf("%w: frame reject needs %d bytes, got %d", ErrFrameTooShort, FrameRejectSize, len(info))
	}
	return FrameReject{
		Control:  info[0],
		VS:       (info[1] >> 1) & 0x07,
		VR:       (info[1] >> 5) & 0x07,
		Response: info[1]&0x10 != 0,
		Reason:   RejectReason(info[2] & 0x0F),
	}, nil
}

// Err returns an error describing the rejection
func (r FrameReject) Err() error {
	return fmt.Errorf("%w: control 0x%02X: %s", ErrFrameRejected, r.Control, r.Reason)
}
