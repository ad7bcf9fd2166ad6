package connection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// maxFrameSize bounds a single inbound frame. An initial order page is the
// largest message the server sends.
const maxFrameSize = 4 << 20

// Client is one websocket connection speaking the event envelope protocol.
type Client interface {
	// Connect dials the server. Handshake failures are *DialError.
	Connect(ctx context.Context) error

	// Emit sends one event frame.
	Emit(event string, payload any) error

	// Frames delivers decoded inbound frames in arrival order. It is closed
	// when the connection ends; Err then reports why.
	Frames() <-chan Frame

	// Err returns the error that ended the read side, or nil if the
	// connection was closed locally or is still open.
	Err() error

	// Close sends a normal close frame and releases the connection.
	Close() error

	Connected() bool
}

// Frame is an inbound envelope stamped with its local receive time.
type Frame struct {
	Envelope
	ReceivedAt time.Time
}

type client struct {
	cfg    ClientConfig
	logger *slog.Logger

	conn   *websocket.Conn
	frames chan Frame
	done   chan struct{}

	writeMu sync.Mutex

	mu        sync.Mutex
	connected bool
	closed    bool
	err       error
}

// NewClient creates an unconnected client.
func NewClient(cfg ClientConfig, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &client{
		cfg:    cfg,
		logger: logger,
		frames: make(chan Frame, cfg.BufferSize),
		done:   make(chan struct{}),
	}
}

func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrAlreadyClosed
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	header := http.Header{"Accept": {"application/json"}}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		dialErr := &DialError{Err: err}
		if resp != nil {
			dialErr.StatusCode = resp.StatusCode
			resp.Body.Close()
		}
		return dialErr
	}
	conn.SetReadLimit(maxFrameSize)

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop(conn)
	return nil
}

func (c *client) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", event, err)
	}

	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteJSON(Envelope{Event: event, Data: data})
}

func (c *client) Frames() <-chan Frame {
	return c.frames
}

func (c *client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return conn.Close()
}

// readLoop decodes frames until the connection fails or is closed.
// Undecodable frames are skipped.
func (c *client) readLoop(conn *websocket.Conn) {
	defer close(c.frames)

	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()
		if err != nil {
			c.mu.Lock()
			c.connected = false
			if !c.closed {
				c.err = err
			}
			c.mu.Unlock()
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.logger.Warn("skipping undecodable frame", "size", len(data), "error", err)
			continue
		}

		select {
		case c.frames <- Frame{Envelope: env, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		}
	}
}
