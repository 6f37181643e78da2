package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/roomchat/internal/relay"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// Client is one WebSocket connection registered in a room. It implements
// relay.Conn: the relay pushes payloads through Deliver and the write pump
// drains them to the socket.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	addr           string
	logger         *slog.Logger
	maxMessageSize int64
	limiter        *rate.Limiter
	rateLimit      RateLimitConfig
	session        *relay.Session

	mu        sync.Mutex
	closed    bool
	closeCode int
	closeText string
}

// NewClient wraps an upgraded connection. The client is inert until run is
// called with the session returned by the relay.
func NewClient(conn *websocket.Conn, cfg Config, addr string, logger *slog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	every := cfg.RateLimit.RefillInterval / time.Duration(cfg.RateLimit.Burst)

	return &Client{
		conn:           conn,
		send:           make(chan []byte, cfg.SendBufferSize),
		addr:           addr,
		logger:         logger.With("addr", addr),
		maxMessageSize: cfg.MaxMessageSize,
		limiter:        rate.NewLimiter(rate.Every(every), cfg.RateLimit.Burst),
		rateLimit:      cfg.RateLimit,
		closeCode:      websocket.CloseNormalClosure,
	}
}

// GetSendChan returns the client's send channel for reading outgoing messages.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// Deliver queues payload without blocking. A closed client or a full send
// buffer is reported as an error so the relay prunes the connection.
func (c *Client) Deliver(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return relay.ErrConnClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return relay.ErrSendBufferFull
	}
}

// Close asks the write pump to send a going-away close frame and tear the
// connection down. Repeated calls are no-ops.
func (c *Client) Close() error {
	c.closeWith(websocket.CloseGoingAway, "")
	return nil
}

// closeWith stops delivery and records the close frame the write pump sends
// once it has flushed what is already queued. Only the first call counts.
func (c *Client) closeWith(code int, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeText = text
	close(c.send)
}

func (c *Client) closeFrame() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return websocket.FormatCloseMessage(c.closeCode, c.closeText)
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("Error setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			c.logger.Warn("Error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// logReadError reports why the read loop is ending at a level matching how
// surprising the cause is.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("Message exceeded maximum size", "limit", c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Info("Client disconnected", "reason", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("Client connection closed", "reason", err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.logger.Warn("Unexpected WebSocket error", "error", err)
	default:
		c.logger.Warn("WebSocket read error", "error", err)
	}
}

// checkRateLimit reports whether the next frame may be processed.
func (c *Client) checkRateLimit() bool {
	if !c.limiter.Allow() {
		c.logger.Warn("Rate limit exceeded; discarding message",
			"burst", c.rateLimit.Burst, "interval", c.rateLimit.RefillInterval)
		return false
	}
	return true
}

// processMessage parses one inbound frame and posts it to the room. It
// returns false on a protocol error, after which the connection is closed
// with 1007.
func (c *Client) processMessage(rawMessage []byte) bool {
	frame, err := relay.ParseFrame(rawMessage)
	if err != nil {
		c.logger.Warn("Invalid message", "error", err)
		c.closeWith(websocket.CloseInvalidFramePayloadData, "Invalid message format")
		return false
	}

	env := c.session.Post(frame)
	c.logger.Debug("Received message", "room", env.RoomID, "user", env.UserID, "id", env.ID)
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.session.Leave()
		c.closeWith(websocket.CloseNormalClosure, "")
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		if !c.processMessage(rawMessage) {
			return
		}
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
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection closes the socket, which also unblocks the read pump.
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Warn("Error closing connection", "error", err)
	}
}

// handleMessage writes one outgoing envelope and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing message", "error", err)
		}
		return false
	}
	return true
}

// writeCloseMessage sends the recorded close frame to the client
func (c *Client) writeCloseMessage() bool {
	if err := c.conn.WriteMessage(websocket.CloseMessage, c.closeFrame()); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("Error writing close message", "error", err)
		}
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Warn("Error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Warn("Error writing ping message", "error", err)
		return false
	}
	return true
}
