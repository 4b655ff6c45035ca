// Package server manages individual WebSocket clients, handling the write
// pump, inbound throttling, and lifecycle control for each connection.
package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Client represents one WebSocket connection. Outbound messages go through a
// buffered channel drained by a single write pump; the session goroutine is
// the only reader.
type Client struct {
	id      string
	conn    *websocket.Conn
	addr    string
	send    chan []byte
	done    chan struct{}
	limiter *rate.Limiter
	logger  *zap.Logger

	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

// NewClient creates a new Client instance with the provided WebSocket
// connection and client address. conn may be nil in tests that only exercise
// the outbound queue.
func NewClient(conn *websocket.Conn, addr string, cfg Config, logger *zap.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	id := uuid.NewString()
	interval := cfg.RateLimit.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}
	burst := cfg.RateLimit.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		id:      id,
		conn:    conn,
		addr:    addr,
		send:    make(chan []byte, sendBufferSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(rate.Every(interval/time.Duration(burst)), burst),
		logger:  logger.With(zap.String("client", id), zap.String("addr", addr)),
	}
}

// ID returns the connection id used in logs.
func (c *Client) ID() string {
	return c.id
}

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// enqueue queues message for the write pump. It reports false when the
// client is closed or its buffer is full; callers treat both as a dropped
// send, never as an error.
func (c *Client) enqueue(message []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case <-c.done:
		return false
	case c.send <- message:
		return true
	default:
		return false
	}
}

// Close stops the write pump, which sends a close frame with code and reason
// and then closes the connection. Only the first call has an effect.
func (c *Client) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug("Error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// readMessage returns the next inbound payload. Messages over the rate limit
// are dropped and reading continues.
func (c *Client) readMessage() ([]byte, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, classifyReadError(err)
		}
		if !c.limiter.Allow() {
			c.logger.Info("Rate limit exceeded; discarding message")
			continue
		}
		return data, nil
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-ticker.C:
		return c.handlePing()
	case <-c.done:
		c.flushQueued()
		c.writeCloseMessage()
		return false
	}
}

// flushQueued writes whatever is already queued so a client closed right
// after a push still receives it.
func (c *Client) flushQueued() {
	n := len(c.send)
	for i := 0; i < n; i++ {
		if !c.writeTextMessage(<-c.send) {
			return
		}
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("Error closing connection", zap.Error(err))
	}
}

// writeCloseMessage sends the close frame chosen by Close.
func (c *Client) writeCloseMessage() {
	code := c.closeCode
	if code == 0 {
		code = websocket.CloseNormalClosure
	}
	payload := websocket.FormatCloseMessage(code, c.closeReason)
	if err := c.conn.WriteControl(websocket.CloseMessage, payload, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("Error writing close message", zap.Error(err))
		}
	}
}

// writeTextMessage writes a single outbound message as its own frame.
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("Error setting write deadline", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Debug("Error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("Error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug("Error writing ping message", zap.Error(err))
		return false
	}
	return true
}
