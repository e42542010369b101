// Package config loads hdlcd settings from TOML or YAML files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"

	"github.com/hedi22/cosemlib/pkg/framing"
	"github.com/hedi22/cosemlib/pkg/hdlc"
)

// Transport kinds
const (
	TransportTCP    = "tcp"
	TransportQUIC   = "quic"
	TransportUDP    = "udp"
	TransportSerial = "serial"
)

// Modes
const (
	ModeServer = "server"
	ModeClient = "client"
)

// DefaultAddress is the IANA port for DLMS/COSEM over TCP and UDP
const DefaultAddress = "0.0.0.0:4059"

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete daemon configuration
type Config struct {
	LogLevel   string
	FrameDebug bool
	Transport  TransportConfig
	Link       hdlc.Config

	framingSet bool // link.framing given in the file
}

// TransportConfig selects and configures the physical channel
type TransportConfig struct {
	Kind        string
	Mode        string
	Address     string
	SerialPort  string
	BaudRate    int
	BufferSize  int
	ReadTimeout time.Duration
}

// Default returns the default configuration: a TCP server on port 4059
func Default() Config {
	return Config{
		LogLevel: "info",
		Transport: TransportConfig{
			Kind:     TransportTCP,
			Mode:     ModeServer,
			Address:  DefaultAddress,
			BaudRate: 9600,
		},
		Link: hdlc.DefaultConfig(),
	}
}

// DefaultFraming returns the framing a transport uses unless configured
func DefaultFraming(transport string) string {
	if transport == TransportUDP {
		return framing.KindDatagram
	}
	return framing.KindFlag
}

// SetTransport switches the transport kind. The framing follows the new
// kind unless the configuration file chose one.
func (c *Config) SetTransport(kind string) {
	c.Transport.Kind = kind
	if !c.framingSet {
		c.Link.Framing = DefaultFraming(kind)
	}
}

type fileConfig struct {
	LogLevel   string        `toml:"log_level" yaml:"log_level"`
	FrameDebug bool          `toml:"frame_debug" yaml:"frame_debug"`
	Transport  fileTransport `toml:"transport" yaml:"transport"`
	Link       fileLink      `toml:"link" yaml:"link"`
}

type fileTransport struct {
	Kind        string `toml:"kind" yaml:"kind"`
	Mode        string `toml:"mode" yaml:"mode"`
	Address     string `toml:"address" yaml:"address"`
	SerialPort  string `toml:"serial_port" yaml:"serial_port"`
	BaudRate    int    `toml:"baud_rate" yaml:"baud_rate"`
	BufferSize  int    `toml:"buffer_size" yaml:"buffer_size"`
	ReadTimeout string `toml:"read_timeout" yaml:"read_timeout"`
}

type fileLink struct {
	Address           int    `toml:"address" yaml:"address"`
	WindowSize        int    `toml:"window_size" yaml:"window_size"`
	MaxRetries        int    `toml:"max_retries" yaml:"max_retries"`
	RetransmitTimeout string `toml:"retransmit_timeout" yaml:"retransmit_timeout"`
	ConnectTimeout    string `toml:"connect_timeout" yaml:"connect_timeout"`
	DisconnectTimeout string `toml:"disconnect_timeout" yaml:"disconnect_timeout"`
	MaxInfoSize       int    `toml:"max_info_size" yaml:"max_info_size"`
	Framing           string `toml:"framing" yaml:"framing"`
	MaxFrameSize      int    `toml:"max_frame_size" yaml:"max_frame_size"`
	AutoConnect       bool   `toml:"auto_connect" yaml:"auto_connect"`
}

// definedFunc reports whether a key path was present in the file
type definedFunc func(key ...string) bool

// Load reads a configuration file. The format follows the extension:
// .toml, or .yaml/.yml. Keys missing from the file keep their defaults.
func Load(path string) (Config, error) {
	var (
		raw     fileConfig
		defined definedFunc
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		meta, err := toml.DecodeFile(path, &raw)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
		}
		defined = meta.IsDefined

	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if err := yaml.UnmarshalStrict(data, &raw); err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		var tree map[interface{}]interface{}
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		defined = yamlDefined(tree)

	default:
		return Config{}, fmt.Errorf("%w: unsupported config file extension %q", ErrInvalidConfig, filepath.Ext(path))
	}

	return apply(Default(), raw, defined)
}

// yamlDefined walks the generic YAML tree for a key path
func yamlDefined(tree map[interface{}]interface{}) definedFunc {
	return func(key ...string) bool {
		node := tree
		for i, k := range key {
			v, ok := node[k]
			if !ok {
				return false
			}
			if i == len(key)-1 {
				return true
			}
			next, ok := v.(map[interface{}]interface{})
			if !ok {
				return false
			}
			node = next
		}
		return false
	}
}

func apply(cfg Config, raw fileConfig, defined definedFunc) (Config, error) {
	if defined("log_level") {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(raw.LogLevel))
	}
	if defined("frame_debug") {
		cfg.FrameDebug = raw.FrameDebug
	}

	t := &cfg.Transport
	if defined("transport", "kind") {
		t.Kind = strings.ToLower(strings.TrimSpace(raw.Transport.Kind))
	}
	if defined("transport", "mode") {
		t.Mode = strings.ToLower(strings.TrimSpace(raw.Transport.Mode))
	}
	if defined("transport", "address") {
		t.Address = strings.TrimSpace(raw.Transport.Address)
	}
	if defined("transport", "serial_port") {
		t.SerialPort = strings.TrimSpace(raw.Transport.SerialPort)
	}
	if defined("transport", "baud_rate") {
		t.BaudRate = raw.Transport.BaudRate
	}
	if defined("transport", "buffer_size") {
		t.BufferSize = raw.Transport.BufferSize
	}
	if defined("transport", "read_timeout") {
		d, err := parseDuration("transport.read_timeout", raw.Transport.ReadTimeout)
		if err != nil {
			return Config{}, err
		}
		t.ReadTimeout = d
	}

	l := &cfg.Link
	if defined("link", "address") {
		if raw.Link.Address < 0 || raw.Link.Address > 0xFF {
			return Config{}, fmt.Errorf("%w: link.address %d out of range", ErrInvalidConfig, raw.Link.Address)
		}
		l.Address = uint8(raw.Link.Address)
	}
	if defined("link", "window_size") {
		l.WindowSize = raw.Link.WindowSize
	}
	if defined("link", "max_retries") {
		l.MaxRetries = raw.Link.MaxRetries
	}
	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"retransmit_timeout", raw.Link.RetransmitTimeout, &l.RetransmitTimeout},
		{"connect_timeout", raw.Link.ConnectTimeout, &l.ConnectTimeout},
		{"disconnect_timeout", raw.Link.DisconnectTimeout, &l.DisconnectTimeout},
	} {
		if !defined("link", d.key) {
			continue
		}
		v, err := parseDuration("link."+d.key, d.raw)
		if err != nil {
			return Config{}, err
		}
		*d.dst = v
	}
	if defined("link", "max_info_size") {
		l.MaxInfoSize = raw.Link.MaxInfoSize
	}
	if defined("link", "framing") {
		l.Framing = strings.ToLower(strings.TrimSpace(raw.Link.Framing))
		cfg.framingSet = true
	} else {
		l.Framing = DefaultFraming(t.Kind)
	}
	if defined("link", "max_frame_size") {
		l.MaxFrameSize = raw.Link.MaxFrameSize
	}
	if defined("link", "auto_connect") {
		l.AutoConnect = raw.Link.AutoConnect
	}

	return cfg, nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

// Validate checks the configuration
func (c Config) Validate() error {
	if _, ok := hdlc.ParseLogLevel(c.LogLevel); !ok {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel)
	}

	t := c.Transport
	switch t.Kind {
	case TransportTCP, TransportQUIC, TransportUDP:
		if t.Address == "" {
			return fmt.Errorf("%w: transport.address is required for %s", ErrInvalidConfig, t.Kind)
		}
	case TransportSerial:
		if t.SerialPort == "" {
			return fmt.Errorf("%w: transport.serial_port is required for serial", ErrInvalidConfig)
		}
		if t.BaudRate <= 0 {
			return fmt.Errorf("%w: baud rate %d", ErrInvalidConfig, t.BaudRate)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, t.Kind)
	}
	if t.Mode != ModeServer && t.Mode != ModeClient {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidConfig, t.Mode)
	}
	if t.BufferSize < 0 {
		return fmt.Errorf("%w: negative buffer size", ErrInvalidConfig)
	}
	if err := c.Link.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// HDLC returns the connection manager configuration
func (c Config) HDLC() hdlc.Config {
	return c.Link
}
