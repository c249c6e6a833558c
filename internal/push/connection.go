package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"

	"github.com/studyhub/locsync/pkg/streaming"
)

const (
	sendChSize     = 256
	maxReconnect   = 10
	maxBackoff     = 30 * time.Second
	initialBackoff = time.Second
	writeWait      = 10 * time.Second
)

// connection manages a WebSocket connection with a single write goroutine.
// Each live socket gets its own read/write loop pair; a failure on that
// socket tears the pair down and starts one reconnect.
type connection struct {
	mu       sync.Mutex
	conn     *ws.Conn
	loopStop chan struct{}
	sendCh   chan []byte
	done     chan struct{}
	closed   bool

	url     string
	token   string
	backoff time.Duration

	// Last location:update, replayed after a reconnect.
	replay []byte

	onMessage func(streaming.Envelope)
	logger    *slog.Logger
}

func newConnection(rawURL, token string, backoff time.Duration, onMessage func(streaming.Envelope), logger *slog.Logger) *connection {
	if backoff <= 0 {
		backoff = initialBackoff
	}
	return &connection{
		sendCh:    make(chan []byte, sendChSize),
		done:      make(chan struct{}),
		url:       rawURL,
		token:     token,
		backoff:   backoff,
		onMessage: onMessage,
		logger:    logger,
	}
}

// dial connects and starts the read/write loops.
func (c *connection) dial(ctx context.Context) error {
	conn, err := c.dialOnce(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		_ = conn.Close()
		return fmt.Errorf("connection closed")
	}
	c.start(conn)
	return nil
}

// dialOnce performs a single dial, authenticating with the bearer token.
func (c *connection) dialOnce(ctx context.Context) (*ws.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, _, err := ws.DefaultDialer.DialContext(ctx, c.url, header)
	if err != nil {
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// start installs conn as the live socket. Caller holds c.mu.
func (c *connection) start(conn *ws.Conn) {
	stop := make(chan struct{})
	c.conn = conn
	c.loopStop = stop
	go c.writeLoop(conn, stop)
	go c.readLoop(conn, stop)
}

func (c *connection) writeLoop(conn *ws.Conn, stop chan struct{}) {
	for {
		select {
		case <-c.done:
			return
		case <-stop:
			return
		case data := <-c.sendCh:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("WebSocket SetWriteDeadline error", "error", err)
				c.fail(conn)
				return
			}
			if err := conn.WriteMessage(ws.TextMessage, data); err != nil {
				c.logger.Warn("WebSocket write error", "error", err)
				c.fail(conn)
				return
			}
		}
	}
}

func (c *connection) readLoop(conn *ws.Conn, stop chan struct{}) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case <-stop:
				return
			default:
			}
			c.logger.Warn("WebSocket read error", "error", err)
			c.fail(conn)
			return
		}

		var env streaming.Envelope
		if err := json.Unmarshal(message, &env); err != nil || env.Type == "" {
			c.logger.Debug("Ignoring malformed push message", "raw", string(message))
			continue
		}
		if c.onMessage != nil {
			c.onMessage(env)
		}
	}
}

// fail retires conn. Only the first failure of a live socket reconnects.
func (c *connection) fail(conn *ws.Conn) {
	c.mu.Lock()
	if c.closed || c.conn != conn {
		c.mu.Unlock()
		return
	}
	close(c.loopStop)
	c.conn = nil
	c.mu.Unlock()

	_ = conn.Close()
	go c.reconnect()
}

// reconnect re-establishes the socket with exponential backoff, replays
// the last location update, and restarts the loops.
func (c *connection) reconnect() {
	backoff := c.backoff
	for attempt := 1; attempt <= maxReconnect; attempt++ {
		c.logger.Info("Reconnecting push channel", "attempt", attempt, "backoff", backoff)

		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), writeWait)
		conn, err := c.dialOnce(ctx)
		cancel()
		if err != nil {
			c.logger.Warn("Reconnect dial failed", "attempt", attempt, "error", err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.mu.Lock()
		replay := c.replay
		c.mu.Unlock()

		if replay != nil {
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err == nil {
				err = conn.WriteMessage(ws.TextMessage, replay)
			}
			if err != nil {
				c.logger.Warn("Failed to replay location after reconnect", "error", err)
				_ = conn.Close()
				continue
			}
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
		c.start(conn)
		c.mu.Unlock()

		c.logger.Info("Push channel reconnected", "attempt", attempt)
		return
	}

	c.logger.Error("Push channel reconnect failed after max attempts", "maxAttempts", maxReconnect)
}

// send queues data for the write loop. Non-blocking; drops if the queue is full.
func (c *connection) send(data []byte) bool {
	select {
	case c.sendCh <- data:
		return true
	default:
		c.logger.Warn("Push send queue full, dropping message")
		return false
	}
}

func (c *connection) setReplay(data []byte) {
	c.mu.Lock()
	c.replay = data
	c.mu.Unlock()
}

func (c *connection) connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// flush waits until queued messages are handed to the socket or the
// timeout passes.
func (c *connection) flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for len(c.sendCh) > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

// close sends a close frame and shuts down all goroutines.
func (c *connection) close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		_ = conn.WriteControl(
			ws.CloseMessage,
			ws.FormatCloseMessage(ws.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return conn.Close()
	}
	return nil
}
