// Command hdlcd runs HDLC links over TCP, QUIC, UDP or a serial line.
// In server mode every payload received is echoed back; in client mode
// lines read from stdin are sent and received payloads are printed.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/hedi22/cosemlib/pkg/channel"
	"github.com/hedi22/cosemlib/pkg/config"
	"github.com/hedi22/cosemlib/pkg/hdlc"
	"github.com/hedi22/cosemlib/pkg/link"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "Path to a .toml or .yaml configuration file")
	transport := flag.String("transport", config.TransportTCP, "Transport: tcp, quic, udp or serial")
	mode := flag.String("mode", config.ModeServer, "Mode: server or client")
	address := flag.String("address", config.DefaultAddress, "Listen or dial address (host:port)")
	serialPort := flag.String("serial", "", "Serial device, e.g. /dev/ttyUSB0")
	baudRate := flag.Int("baud", 9600, "Serial line speed")
	linkAddress := flag.Uint("link-address", uint(link.DefaultAddress), "HDLC station address")
	window := flag.Int("window", link.DefaultWindowSize, "Transmit window size (1..7)")
	retries := flag.Int("retries", link.DefaultMaxRetries, "Timer expiries tolerated before link failure")
	timeout := flag.Duration("timeout", 3*time.Second, "Connect, retransmit and disconnect timeout")
	autoConnect := flag.Bool("auto-connect", false, "Send SNRM as soon as a connection opens")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn or error")
	frameDebug := flag.Bool("frame-debug", false, "Hex dump every frame (needs -log-level debug)")
	listSerial := flag.Bool("list-serial", false, "List serial ports and exit")
	flag.Parse()

	if *listSerial {
		return printSerialPorts()
	}

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			color.Red("%v", err)
			return 1
		}
		cfg = loaded
	}

	// Flags given on the command line win over the file
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "transport":
			cfg.SetTransport(*transport)
		case "mode":
			cfg.Transport.Mode = *mode
		case "address":
			cfg.Transport.Address = *address
		case "serial":
			cfg.Transport.SerialPort = *serialPort
		case "baud":
			cfg.Transport.BaudRate = *baudRate
		case "link-address":
			cfg.Link.Address = uint8(*linkAddress)
		case "window":
			cfg.Link.WindowSize = *window
		case "retries":
			cfg.Link.MaxRetries = *retries
		case "timeout":
			cfg.Link.ConnectTimeout = *timeout
			cfg.Link.RetransmitTimeout = *timeout
			cfg.Link.DisconnectTimeout = *timeout
		case "auto-connect":
			cfg.Link.AutoConnect = *autoConnect
		case "log-level":
			cfg.LogLevel = *logLevel
		case "frame-debug":
			cfg.FrameDebug = *frameDebug
		}
	})
	if *linkAddress > 0xFF {
		color.Red("link address %d out of range", *linkAddress)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		color.Red("%v", err)
		return 1
	}

	level, _ := hdlc.ParseLogLevel(cfg.LogLevel)
	hdlc.SetLogLevel(level)
	hdlc.EnableFrameDebug(cfg.FrameDebug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Print("\nShutting down...\n")
		cancel()
	}()

	d := &daemon{cfg: cfg, cancel: cancel}
	manager, err := hdlc.NewManager(cfg.HDLC(), d.callbacks())
	if err != nil {
		color.Red("%v", err)
		return 1
	}
	d.manager = manager
	defer manager.Shutdown()

	if err := d.run(ctx); err != nil {
		color.Red("%v", err)
		return 1
	}
	return 0
}

type daemon struct {
	cfg     config.Config
	manager *hdlc.Manager
	cancel  context.CancelFunc
}

func (d *daemon) client() bool {
	return d.cfg.Transport.Mode == config.ModeClient
}

func (d *daemon) callbacks() hdlc.Callbacks {
	return hdlc.Callbacks{
		OnData: func(id channel.ConnID, data []byte) {
			if d.client() {
				fmt.Printf("[%d] %s\n", id, data)
				return
			}
			if err := d.manager.Send(id, data); err != nil {
				color.Yellow("[%d] echo failed: %v", id, err)
			}
		},
		OnUI: func(id channel.ConnID, data []byte) {
			fmt.Printf("[%d] UI % X\n", id, data)
		},
		OnStatus: func(id channel.ConnID, state link.LinkState, err error) {
			switch {
			case err != nil:
				color.Red("[%d] link %s: %v", id, state, err)
			case state == link.StateConnected:
				color.HiGreen("[%d] link %s", id, state)
			default:
				color.Cyan("[%d] link %s", id, state)
			}
		},
		OnConnection: func(id channel.ConnID, ev channel.ConnectionEvent) {
			color.Cyan("[%d] transport %s", id, ev)
			// A client has a single connection; losing it ends the run
			if ev == channel.ConnectionClosed && d.client() {
				d.cancel()
			}
		},
	}
}

func (d *daemon) run(ctx context.Context) error {
	t := d.cfg.Transport

	switch {
	case t.Kind == config.TransportTCP && !d.client():
		ln, err := channel.ListenTCP(channel.TCPChannelConfig{
			Address:     t.Address,
			BufferSize:  t.BufferSize,
			ReadTimeout: t.ReadTimeout,
		})
		if err != nil {
			return err
		}
		return d.serve(ctx, ln)

	case t.Kind == config.TransportQUIC && !d.client():
		ln, err := channel.ListenQUIC(channel.QUICChannelConfig{
			Address:     t.Address,
			BufferSize:  t.BufferSize,
			ReadTimeout: t.ReadTimeout,
		})
		if err != nil {
			return err
		}
		return d.serve(ctx, ln)
	}

	physical, err := d.open(ctx)
	if err != nil {
		return err
	}
	id, err := d.manager.Attach(physical)
	if err != nil {
		return err
	}

	if d.client() {
		if !d.cfg.Link.AutoConnect {
			if err := d.manager.Connect(id); err != nil {
				return err
			}
		}
		go d.readInput(ctx, id)
	}

	<-ctx.Done()
	if state, err := d.manager.State(id); err == nil && state == link.StateConnected {
		d.disconnect(id)
	}
	return nil
}

// open creates the single physical channel used outside listening modes
func (d *daemon) open(ctx context.Context) (channel.PhysicalChannel, error) {
	t := d.cfg.Transport
	switch t.Kind {
	case config.TransportTCP:
		return channel.DialTCP(ctx, channel.TCPChannelConfig{
			Address:     t.Address,
			BufferSize:  t.BufferSize,
			ReadTimeout: t.ReadTimeout,
		})
	case config.TransportQUIC:
		return channel.DialQUIC(ctx, channel.QUICChannelConfig{
			Address:     t.Address,
			BufferSize:  t.BufferSize,
			ReadTimeout: t.ReadTimeout,
		})
	case config.TransportUDP:
		return channel.NewUDPChannel(channel.UDPChannelConfig{
			Address:     t.Address,
			IsServer:    !d.client(),
			MaxInfoSize: d.cfg.Link.MaxInfoSize,
			ReadTimeout: t.ReadTimeout,
		})
	case config.TransportSerial:
		return channel.OpenSerial(channel.SerialChannelConfig{
			Port:       t.SerialPort,
			BaudRate:   t.BaudRate,
			BufferSize: t.BufferSize,
		})
	default:
		return nil, fmt.Errorf("unknown transport %q", t.Kind)
	}
}

func (d *daemon) serve(ctx context.Context, acceptor channel.Acceptor) error {
	defer acceptor.Close()
	color.HiGreen("Listening on %s (%s)", acceptor.Addr(), d.cfg.Transport.Kind)
	return d.manager.Serve(ctx, acceptor)
}

// readInput sends each stdin line as one information payload
func (d *daemon) readInput(ctx context.Context, id channel.ConnID) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := d.manager.Send(id, append([]byte(nil), line...)); err != nil {
			color.Yellow("send: %v", err)
		}
	}
	d.cancel()
}

// disconnect releases the link and waits briefly for the peer's UA
func (d *daemon) disconnect(id channel.ConnID) {
	if err := d.manager.Disconnect(id); err != nil {
		return
	}
	deadline := time.Now().Add(d.cfg.Link.DisconnectTimeout + 100*time.Millisecond)
	for time.Now().Before(deadline) {
		state, err := d.manager.State(id)
		if err != nil || state == link.StateDisconnected {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func printSerialPorts() int {
	ports, err := channel.SerialPorts()
	if err != nil {
		color.Red("%v", err)
		return 1
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return 0
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return 0
}
