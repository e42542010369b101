package link

import "errors"

// HDLC Link Layer Constants

// Addresses
const (
	DefaultAddress   uint8 = 0x03 // Station address used when none is configured
	BroadcastAddress uint8 = 0xFF // All-stations address, always accepted
)

// Frame sizes
const (
	HeaderSize         = 2   // Address + control
	FCSSize            = 2   // Frame check sequence
	MinFrameSize       = 4   // Header + FCS, no information field
	DefaultMaxInfoSize = 256 // Largest information field accepted by default
)

// Window and retry defaults
const (
	SeqModulus        = 8 // Sequence numbers are three bits wide
	MaxWindowSize     = SeqModulus - 1
	DefaultWindowSize = MaxWindowSize
	DefaultMaxRetries = 3
)

// Control field bits
const (
	CtrlIFrameMask uint8 = 0x01 // Low bit clear identifies an I-frame
	CtrlPF         uint8 = 0x10 // Poll/Final bit
	CtrlNSMask     uint8 = 0x0E // N(S) in bits 3..1
	CtrlNRMask     uint8 = 0xE0 // N(R) in bits 7..5
	CtrlSMask      uint8 = 0x0F // Low nibble identifying a supervisory frame
)

// Control bytes with the P/F bit clear
const (
	CtrlRR   uint8 = 0x01 // R R R P/F 0 0 0 1
	CtrlRNR  uint8 = 0x05 // R R R P/F 0 1 0 1
	CtrlSNRM uint8 = 0x83 // 1 0 0 P 0 0 1 1
	CtrlDISC uint8 = 0x43 // 0 1 0 P 0 0 1 1
	CtrlUA   uint8 = 0x63 // 0 1 1 F 0 0 1 1
	CtrlDM   uint8 = 0x0F // 0 0 0 F 1 1 1 1
	CtrlFRMR uint8 = 0x87 // 1 0 0 F 0 1 1 1
	CtrlUI   uint8 = 0x03 // 0 0 0 P/F 0 0 1 1
)

// LinkState is the state of a station's link
type LinkState int

const (
	StateDisconnected  LinkState = iota // Initial and terminal state
	StateAwaitingUA                     // SNRM sent, waiting for UA or DM
	StateConnected                      // Normal information transfer
	StateAwaitingDiscUA                 // DISC sent, waiting for UA
	StateRejected                       // FRMR sent or received, frozen until reset
)

// String returns string representation of LinkState
func (s LinkState) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateAwaitingUA:
		return "AwaitingUA"
	case StateConnected:
		return "Connected"
	case StateAwaitingDiscUA:
		return "AwaitingDiscUA"
	case StateRejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// Errors
var (
	ErrChecksumMismatch         = errors.New("frame check sequence mismatch")
	ErrInvalidControl           = errors.New("invalid control field")
	ErrFrameTooShort            = errors.New("frame too short")
	ErrFrameTooLong             = errors.New("information field too long")
	ErrSequenceRange            = errors.New("sequence number out of range")
	ErrOutOfSequence            = errors.New("out of sequence frame")
	ErrWindowFull               = errors.New("transmit window full")
	ErrPeerBusy                 = errors.New("peer receiver not ready")
	ErrLinkEstablishmentTimeout = errors.New("link establishment timeout")
	ErrRetransmissionExhausted  = errors.New("retransmission attempts exhausted")
	ErrUnexpectedFrame          = errors.New("unexpected frame in state")
	ErrInvalidState             = errors.New("invalid link state")
	ErrNotConnected             = errors.New("link not connected")
	ErrConnectRefused           = errors.New("connect refused by peer")
	ErrPeerDisconnected         = errors.New("peer reported disconnected mode")
	ErrFrameRejected            = errors.New("frame rejected")
	ErrInvalidNR                = errors.New("invalid N(R)")
	ErrAddressMismatch          = errors.New("frame not addressed to this station")
	ErrInvalidConfig            = errors.New("invalid station configuration")
)
