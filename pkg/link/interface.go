package link

import (
	"fmt"
	"time"
)

// TimerKind identifies which protocol timer is running
type TimerKind int

const (
	TimerNone       TimerKind = iota
	TimerConnect              // SNRM sent, waiting for UA
	TimerRetransmit           // Oldest unacknowledged I-frame
	TimerDisconnect           // DISC sent, waiting for UA
)

// String returns string representation of TimerKind
func (k TimerKind) String() string {
	switch k {
	case TimerNone:
		return "None"
	case TimerConnect:
		return "Connect"
	case TimerRetransmit:
		return "Retransmit"
	case TimerDisconnect:
		return "Disconnect"
	default:
		return "Unknown"
	}
}

// Scheduler runs the single logical timer of a station.
// Expiry must be delivered back through Station.HandleTimeout on the same
// goroutine that drives the station.
type Scheduler interface {
	// Schedule (re)starts the timer, replacing any pending expiry
	Schedule(kind TimerKind, d time.Duration)

	// Cancel stops the timer; a pending expiry must not be delivered
	Cancel()
}

// FrameSender hands an outbound frame to the framing and transport layers
type FrameSender func(frame *Frame) error

// DataCallback is called when an in-sequence information payload is received
type DataCallback func(data []byte) error

// StatusCallback is called when the link state changes.
// err is non-nil for link failures and rejections.
type StatusCallback func(state LinkState, err error)

// StationConfig contains configuration for a station
type StationConfig struct {
	Address           uint8         // Station address placed in every frame
	WindowSize        int           // Maximum outstanding I-frames (1..7)
	MaxRetries        int           // Timer expiries tolerated before link failure
	RetransmitTimeout time.Duration // Acknowledgement timeout for I-frames
	ConnectTimeout    time.Duration // SNRM response timeout
	DisconnectTimeout time.Duration // DISC response timeout
	MaxInfoSize       int           // Largest information field sent or accepted

	DataCallback   DataCallback   // Callback for received I-frame payloads
	UICallback     DataCallback   // Callback for received UI payloads
	StatusCallback StatusCallback // Callback for state changes
}

// DefaultStationConfig returns default configuration
func DefaultStationConfig() StationConfig {
	return StationConfig{
		Address:           DefaultAddress,
		WindowSize:        DefaultWindowSize,
		MaxRetries:        DefaultMaxRetries,
		RetransmitTimeout: 3 * time.Second,
		ConnectTimeout:    3 * time.Second,
		DisconnectTimeout: 3 * time.Second,
		MaxInfoSize:       DefaultMaxInfoSize,
	}
}

// Validate checks the configuration
func (c StationConfig) Validate() error {
	if c.WindowSize < 1 || c.WindowSize > MaxWindowSize {
		return fmt.Errorf("%w: window size %d not in 1..%d", ErrInvalidConfig, c.WindowSize, MaxWindowSize)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: negative max retries", ErrInvalidConfig)
	}
	if c.RetransmitTimeout <= 0 || c.ConnectTimeout <= 0 || c.DisconnectTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.MaxInfoSize < 1 {
		return fmt.Errorf("%w: max info size %d", ErrInvalidConfig, c.MaxInfoSize)
	}
	return nil
}
