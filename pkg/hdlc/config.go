package hdlc

import (
	"fmt"
	"time"

	"github.com/hedi22/cosemlib/pkg/channel"
	"github.com/hedi22/cosemlib/pkg/framing"
	"github.com/hedi22/cosemlib/pkg/link"
)

// Config configures every connection a Manager creates
type Config struct {
	Address           uint8         // Station address (default 0x03)
	WindowSize        int           // Outstanding I-frames, 1..7
	MaxRetries        int           // Timer expiries tolerated before link failure
	RetransmitTimeout time.Duration // I-frame acknowledgement timeout
	ConnectTimeout    time.Duration // SNRM response timeout
	DisconnectTimeout time.Duration // DISC response timeout
	MaxInfoSize       int           // Largest information field

	Framing      string // framing.KindFlag or framing.KindDatagram
	MaxFrameSize int    // Bytes buffered while waiting for a closing flag

	AutoConnect bool // Send SNRM as soon as a connection opens
}

// Callbacks receive link events. They run on a per-connection delivery
// goroutine in event order and may call back into the Manager.
type Callbacks struct {
	OnData       func(id channel.ConnID, data []byte)
	OnUI         func(id channel.ConnID, data []byte)
	OnStatus     func(id channel.ConnID, state link.LinkState, err error)
	OnConnection func(id channel.ConnID, event channel.ConnectionEvent)
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	sc := link.DefaultStationConfig()
	return Config{
		Address:           sc.Address,
		WindowSize:        sc.WindowSize,
		MaxRetries:        sc.MaxRetries,
		RetransmitTimeout: sc.RetransmitTimeout,
		ConnectTimeout:    sc.ConnectTimeout,
		DisconnectTimeout: sc.DisconnectTimeout,
		MaxInfoSize:       sc.MaxInfoSize,
		Framing:           framing.KindFlag,
		MaxFrameSize:      framing.DefaultMaxFrameSize,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if err := c.stationConfig().Validate(); err != nil {
		return err
	}
	if _, err := framing.New(c.Framing, c.MaxFrameSize); err != nil {
		return fmt.Errorf("%w: %v", link.ErrInvalidConfig, err)
	}
	// A full frame with stuffing must fit in the framer's buffer
	if c.Framing == framing.KindFlag && c.MaxFrameSize > 0 && c.MaxFrameSize < 2*(link.HeaderSize+c.MaxInfoSize+link.FCSSize)+2 {
		return fmt.Errorf("%w: max frame size %d too small for max info size %d", link.ErrInvalidConfig, c.MaxFrameSize, c.MaxInfoSize)
	}
	return nil
}

func (c Config) stationConfig() link.StationConfig {
	return link.StationConfig{
		Address:           c.Address,
		WindowSize:        c.WindowSize,
		MaxRetries:        c.MaxRetries,
		RetransmitTimeout: c.RetransmitTimeout,
		ConnectTimeout:    c.ConnectTimeout,
		DisconnectTimeout: c.DisconnectTimeout,
		MaxInfoSize:       c.MaxInfoSize,
	}
}
