package channel

import (
	"fmt"
	"time"

	"go.bug.st/serial"
)

// serialPollInterval bounds a blocking read so closing the port is noticed
const serialPollInterval = 100 * time.Millisecond

// SerialChannelConfig configures a serial line
type SerialChannelConfig struct {
	Port       string // Device name, e.g. /dev/ttyUSB0 or COM3
	BaudRate   int    // Line speed (0 = 9600)
	BufferSize int    // Read buffer size (0 = DefaultBufferSize)
}

// SerialChannel is a point-to-point serial line, 8N1
type SerialChannel struct {
	*StreamChannel
	port serial.Port
}

// OpenSerial opens a serial port
func OpenSerial(config SerialChannelConfig) (*SerialChannel, error) {
	if config.Port == "" {
		return nil, fmt.Errorf("serial port is required")
	}
	if config.BaudRate == 0 {
		config.BaudRate = 9600
	}

	mode := &serial.Mode{
		BaudRate: config.BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(config.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", config.Port, err)
	}
	if err := port.SetReadTimeout(serialPollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout on %s: %w", config.Port, err)
	}
	port.ResetInputBuffer()

	return &SerialChannel{
		StreamChannel: NewStreamChannel(port, StreamConfig{
			Name:       "serial " + config.Port,
			BufferSize: config.BufferSize,
		}),
		port: port,
	}, nil
}

// SerialPorts lists the serial ports present on the system
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
