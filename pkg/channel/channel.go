package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hedi22/cosemlib/pkg/internal/logger"
)

// DefaultWriteQueueSize is the number of pending writes a channel buffers
const DefaultWriteQueueSize = 64

// ErrWriteQueueFull is returned by Send when the writer cannot keep up
var ErrWriteQueueFull = errors.New("write queue is full")

// Channel pumps one physical connection: a read loop hands received bytes
// to the Handler and a write loop drains queued sends in order.
type Channel struct {
	id              ConnID
	physicalChannel PhysicalChannel
	handler         Handler
	stats           *Statistics
	logger          logger.Logger

	// State
	state    ChannelState
	stateMu  sync.RWMutex
	stopOnce sync.Once

	// Concurrency
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Write queue for serializing writes
	writeQueue chan []byte
}

// New creates a new channel
func New(id ConnID, physical PhysicalChannel, handler Handler, log logger.Logger) *Channel {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Channel{
		id:              id,
		physicalChannel: physical,
		handler:         handler,
		stats:           NewStatistics(),
		logger:          log,
		state:           ChannelStateClosed,
		ctx:             ctx,
		cancel:          cancel,
		writeQueue:      make(chan []byte, DefaultWriteQueueSize),
	}
}

// ID returns the connection ID
func (c *Channel) ID() ConnID {
	return c.id
}

// Open raises the opened event and starts processing.
// A channel cannot be reopened after Close.
func (c *Channel) Open() error {
	c.stateMu.Lock()
	if c.state == ChannelStateOpen {
		c.stateMu.Unlock()
		return ErrChannelOpen
	}
	if c.ctx.Err() != nil {
		c.stateMu.Unlock()
		return ErrChannelClosed
	}
	c.state = ChannelStateOpen
	c.stateMu.Unlock()

	c.physicalChannel.SetConnectionStateListener(c)
	c.handler.OnConnectionEvent(c.id, ConnectionOpened)

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.readLoop()
	}()
	go func() {
		defer c.wg.Done()
		c.writeLoop()
	}()

	c.logger.Info("Channel %d opened", c.id)
	return nil
}

// Close closes the channel and waits for its loops.
// Must not be called from a Handler method.
func (c *Channel) Close() error {
	c.stop()
	c.wg.Wait()
	return nil
}

// stop closes the physical channel once, unblocking the read loop
func (c *Channel) stop() {
	c.stopOnce.Do(func() {
		c.stateMu.Lock()
		c.state = ChannelStateClosed
		c.stateMu.Unlock()

		c.cancel()
		if err := c.physicalChannel.Close(); err != nil {
			c.logger.Error("Channel %d: error closing physical channel: %v", c.id, err)
		}
	})
}

// readLoop continuously reads from physical channel. It raises the closed
// event exactly once, whichever side ended the connection.
func (c *Channel) readLoop() {
	c.logger.Debug("Channel %d read loop started", c.id)
	defer func() {
		c.stop()
		c.handler.OnConnectionEvent(c.id, ConnectionClosed)
		c.logger.Info("Channel %d closed", c.id)
	}()

	for {
		data, err := c.physicalChannel.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Debug("Channel %d read ended: %v", c.id, err)
			}
			return
		}

		c.stats.ChunkRx(len(data))
		c.handler.OnBytesReceived(c.id, data)
	}
}

// writeLoop writes queued buffers in order
func (c *Channel) writeLoop() {
	c.logger.Debug("Channel %d write loop started", c.id)
	defer c.logger.Debug("Channel %d write loop stopped", c.id)

	for {
		select {
		case <-c.ctx.Done():
			return

		case data := <-c.writeQueue:
			if err := c.physicalChannel.Write(c.ctx, data); err != nil {
				if c.ctx.Err() != nil {
					return
				}
				c.stats.WriteError()
				if errors.Is(err, ErrNoPeer) {
					c.logger.Debug("Channel %d: dropped %d bytes: %v", c.id, len(data), err)
					continue
				}
				c.logger.Error("Channel %d write error: %v", c.id, err)
				c.stop()
				return
			}
			c.stats.ChunkTx(len(data))
		}
	}
}

// Send queues data for transmission without blocking
func (c *Channel) Send(data []byte) error {
	if c.State() != ChannelStateOpen {
		return ErrChannelClosed
	}

	select {
	case c.writeQueue <- data:
		return nil
	case <-c.ctx.Done():
		return ErrChannelClosed
	default:
		c.stats.QueueFull()
		return ErrWriteQueueFull
	}
}

// OnConnectionEstablished implements ConnectionStateListener
func (c *Channel) OnConnectionEstablished() {
	c.logger.Debug("Channel %d transport established", c.id)
}

// OnConnectionLost implements ConnectionStateListener
func (c *Channel) OnConnectionLost() {
	c.stats.ConnectionLost()
	c.logger.Warn("Channel %d transport lost", c.id)
}

// GetStatistics returns channel statistics
func (c *Channel) GetStatistics() *Statistics {
	return c.stats
}

// GetPhysicalStatistics returns physical channel statistics
func (c *Channel) GetPhysicalStatistics() TransportStats {
	return c.physicalChannel.Statistics()
}

// State returns the current channel state
func (c *Channel) State() ChannelState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// String returns string representation of channel
func (c *Channel) String() string {
	return fmt.Sprintf("Channel{ID=%d, State=%s}", c.id, c.State())
}
