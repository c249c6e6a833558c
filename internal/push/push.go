package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/studyhub/locsync/internal/api"
	"github.com/studyhub/locsync/pkg/streaming"
)

// ErrNotConnected is returned when sending on a channel that was never connected.
var ErrNotConnected = errors.New("push channel not connected")

const closeFlushTimeout = 500 * time.Millisecond

// Config holds push channel configuration.
type Config struct {
	Enabled bool
	URL     string
	Token   string
}

// Channel is the bidirectional push channel to the location service.
// A Channel can be connected again after Close.
type Channel struct {
	cfg     Config
	logger  *slog.Logger
	backoff time.Duration

	mu   sync.Mutex
	conn *connection
}

// New creates a push channel. A disabled config or the demo token yields
// a channel whose operations succeed without any network traffic.
func New(cfg Config, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		cfg:    cfg,
		logger: logger.With("component", "push"),
	}
}

// Active reports whether the channel talks to a server at all.
func (c *Channel) Active() bool {
	return c.cfg.Enabled && c.cfg.URL != "" && c.cfg.Token != api.DemoToken
}

// Connect dials the server and delivers every inbound envelope to handler.
// Connecting an already connected channel is a no-op.
func (c *Channel) Connect(ctx context.Context, handler func(streaming.Envelope)) error {
	if !c.Active() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return nil
	}

	conn := newConnection(c.cfg.URL, c.cfg.Token, c.backoff, handler, c.logger)
	if err := conn.dial(ctx); err != nil {
		return err
	}
	c.conn = conn
	c.logger.Info("Push channel connected", "url", c.cfg.URL)
	return nil
}

// Connected reports whether a socket is currently live.
func (c *Channel) Connected() bool {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	return conn != nil && conn.connected()
}

// SendUpdate publishes a location:update. The message is remembered and
// replayed after a reconnect.
func (c *Channel) SendUpdate(ctx context.Context, payload streaming.LocationPayload) error {
	if !c.Active() {
		return nil
	}
	data, err := streaming.Marshal(streaming.TypeLocationUpdate, payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", streaming.TypeLocationUpdate, err)
	}
	conn, err := c.current()
	if err != nil {
		return err
	}
	conn.setReplay(data)
	if !conn.send(data) {
		return fmt.Errorf("send %s: queue full", streaming.TypeLocationUpdate)
	}
	return nil
}

// SendStop publishes a location:stop and forgets the replay message.
func (c *Channel) SendStop(ctx context.Context) error {
	if !c.Active() {
		return nil
	}
	data, err := streaming.Marshal(streaming.TypeLocationStop, nil)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", streaming.TypeLocationStop, err)
	}
	conn, err := c.current()
	if err != nil {
		return err
	}
	conn.setReplay(nil)
	if !conn.send(data) {
		return fmt.Errorf("send %s: queue full", streaming.TypeLocationStop)
	}
	return nil
}

// Close flushes pending messages briefly and disconnects. Safe to call
// on a channel that is not connected.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	conn.flush(closeFlushTimeout)
	err := conn.close()
	c.logger.Info("Push channel disconnected")
	return err
}

func (c *Channel) current() (*connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}
