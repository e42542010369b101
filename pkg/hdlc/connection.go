package hdlc

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hedi22/cosemlib/pkg/channel"
	"github.com/hedi22/cosemlib/pkg/framing"
	"github.com/hedi22/cosemlib/pkg/internal/logger"
	"github.com/hedi22/cosemlib/pkg/internal/queue"
	"github.com/hedi22/cosemlib/pkg/link"
)

type eventKind int

const (
	eventOpened eventKind = iota
	eventBytes
	eventClosed
	eventTimer
	eventCommand
)

type event struct {
	kind  eventKind
	data  []byte
	timer link.TimerKind
	gen   uint64
	cmd   func(st *link.Station) error
	reply chan error
}

// Connection owns the station of one physical connection. All station
// access happens on the connection's event loop goroutine.
type Connection struct {
	id        channel.ConnID
	ch        *channel.Channel
	station   *link.Station
	framer    framing.Framer
	callbacks Callbacks
	logger    logger.Logger

	autoConnect bool
	onExit      func(id channel.ConnID)

	events     chan event
	deliveries *queue.Queue[func()]
	state      atomic.Int32

	// Loop-owned timer
	timer    *time.Timer
	timerGen uint64

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{} // Loop no longer accepts events
	finished chan struct{} // Cleanup complete
}

// loopScheduler implements link.Scheduler by posting expiries back into the
// event loop. Each Schedule or Cancel bumps the generation, so an expiry
// already in flight for an older timer is ignored.
type loopScheduler struct {
	c *Connection
}

func (s loopScheduler) Schedule(kind link.TimerKind, d time.Duration) {
	c := s.c
	c.stopTimer()
	gen := c.timerGen
	c.timer = time.AfterFunc(d, func() {
		c.post(event{kind: eventTimer, timer: kind, gen: gen})
	})
}

func (s loopScheduler) Cancel() {
	s.c.stopTimer()
}

func newConnection(id channel.ConnID, physical channel.PhysicalChannel, handler channel.Handler, cfg Config, callbacks Callbacks, log logger.Logger, onExit func(channel.ConnID)) (*Connection, error) {
	framer, err := framing.New(cfg.Framing, cfg.MaxFrameSize)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:          id,
		ch:          channel.New(id, physical, handler, log),
		framer:      framer,
		callbacks:   callbacks,
		logger:      log,
		autoConnect: cfg.AutoConnect,
		onExit:      onExit,
		events:      make(chan event, 16),
		deliveries:  queue.New[func()](),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		finished:    make(chan struct{}),
	}
	c.state.Store(int32(link.StateDisconnected))

	sc := cfg.stationConfig()
	sc.DataCallback = func(data []byte) error {
		if cb := callbacks.OnData; cb != nil {
			c.deliver(func() { cb(id, data) })
		}
		return nil
	}
	sc.UICallback = func(data []byte) error {
		if cb := callbacks.OnUI; cb != nil {
			c.deliver(func() { cb(id, data) })
		}
		return nil
	}
	sc.StatusCallback = func(state link.LinkState, err error) {
		c.state.Store(int32(state))
		if cb := callbacks.OnStatus; cb != nil {
			c.deliver(func() { cb(id, state, err) })
		}
	}

	station, err := link.NewStation(sc, c.sendFrame, loopScheduler{c}, log)
	if err != nil {
		cancel()
		return nil, err
	}
	c.station = station
	return c, nil
}

// ID returns the connection ID
func (c *Connection) ID() channel.ConnID {
	return c.id
}

// State returns the last reported link state
func (c *Connection) State() link.LinkState {
	return link.LinkState(c.state.Load())
}

// Statistics returns the link counters
func (c *Connection) Statistics() link.StatsSnapshot {
	return c.station.Statistics().Snapshot()
}

// TransportStatistics returns the physical channel counters
func (c *Connection) TransportStatistics() channel.TransportStats {
	return c.ch.GetPhysicalStatistics()
}

// start runs the event loop and the delivery goroutine, then opens the channel
func (c *Connection) start() error {
	go c.run()
	go c.deliveryLoop()

	if err := c.ch.Open(); err != nil {
		c.Close()
		return err
	}
	return nil
}

// Close stops the connection and waits for cleanup. No frame is emitted.
func (c *Connection) Close() {
	c.cancel()
	<-c.finished
}

// Done is closed once the connection has shut down
func (c *Connection) Done() <-chan struct{} {
	return c.finished
}

// do runs fn on the event loop and returns its result
func (c *Connection) do(fn func(st *link.Station) error) error {
	reply := make(chan error, 1)
	if !c.post(event{kind: eventCommand, cmd: fn, reply: reply}) {
		return ErrConnectionClosed
	}
	select {
	case err := <-reply:
		return err
	case <-c.done:
		return ErrConnectionClosed
	}
}

// reset drops partially received input and restarts the link
func (c *Connection) reset() error {
	return c.do(func(st *link.Station) error {
		c.framer.Reset()
		return st.Reset()
	})
}

// post hands an event to the loop; false once the loop has exited
func (c *Connection) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

func (c *Connection) run() {
	defer c.cleanup()

	for {
		select {
		case <-c.ctx.Done():
			c.station.Close()
			return

		case ev := <-c.events:
			switch ev.kind {
			case eventOpened:
				c.logger.Info("Connection %d: transport opened", c.id)
				c.notifyConnection(channel.ConnectionOpened)
				if c.autoConnect {
					if err := c.station.Connect(); err != nil {
						c.logger.Warn("Connection %d: auto connect: %v", c.id, err)
					}
				}

			case eventBytes:
				c.handleBytes(ev.data)

			case eventClosed:
				c.logger.Info("Connection %d: transport closed", c.id)
				c.station.Close()
				return

			case eventTimer:
				if ev.gen != c.timerGen {
					continue
				}
				c.timer = nil
				c.station.HandleTimeout(ev.timer)

			case eventCommand:
				ev.reply <- ev.cmd(c.station)
			}
		}
	}
}

func (c *Connection) handleBytes(data []byte) {
	frames, err := c.framer.Decode(data)
	if err != nil {
		c.logger.Warn("Connection %d: %v", c.id, err)
	}
	for _, raw := range frames {
		logger.Frame(c.logger, "RX", raw)
		if err := c.station.Receive(raw); err != nil {
			c.logger.Debug("Connection %d: frame dropped: %v", c.id, err)
		}
	}
}

// sendFrame is the station's FrameSender; it runs on the loop
func (c *Connection) sendFrame(f *link.Frame) error {
	raw, err := f.Serialize()
	if err != nil {
		return err
	}
	logger.Frame(c.logger, "TX", raw)

	wire, err := c.framer.Encode(raw)
	if err != nil {
		return err
	}
	return c.ch.Send(wire)
}

func (c *Connection) stopTimer() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Connection) cleanup() {
	c.stopTimer()
	close(c.done)
	c.cancel()

	c.ch.Close()
	c.notifyConnection(channel.ConnectionClosed)
	c.deliveries.Close()

	if c.onExit != nil {
		c.onExit(c.id)
	}
	close(c.finished)
}

func (c *Connection) notifyConnection(ev channel.ConnectionEvent) {
	if cb := c.callbacks.OnConnection; cb != nil {
		id := c.id
		c.deliver(func() { cb(id, ev) })
	}
}

func (c *Connection) deliver(fn func()) {
	if !c.deliveries.Push(fn) {
		c.logger.Debug("Connection %d: callback dropped after close", c.id)
	}
}

// deliveryLoop runs host callbacks in order, off the event loop
func (c *Connection) deliveryLoop() {
	for {
		for {
			fn, ok := c.deliveries.Pop()
			if !ok {
				break
			}
			fn()
		}
		if c.deliveries.Drained() {
			return
		}
		<-c.deliveries.Ready()
	}
}
