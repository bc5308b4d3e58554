package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// desktopMessage is what the desktop app sends over its websocket.
type desktopMessage struct {
	Text   string  `json:"text"`
	Name   *string `json:"name"`
	Avatar *string `json:"avatar"`
}

// Client is a desktop app connected over a websocket. It receives every
// broadcast message and publishes what the desktop user types.
type Client struct {
	conn           *websocket.Conn
	hub            *Hub
	addr           string
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	metrics        *Metrics
	logger         *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewClient creates a Client for conn using the message size and rate limits
// from cfg.
func NewClient(conn *websocket.Conn, hub *Hub, addr string, cfg Config, metrics *Metrics, logger *zap.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit),
		rateLimit:      cfg.RateLimit,
		metrics:        metrics,
		logger:         logger.With(zap.String("addr", addr)),
	}
}

// WriteMessage sends payload as one text frame.
func (c *Client) WriteMessage(payload []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

// Close sends a close frame and closes the connection. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Run registers the client with the hub and serves it until the desktop
// disconnects or the hub removes it.
func (c *Client) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sub := NewSubscriber(c, c.addr)
	if err := c.hub.Register(sub); err != nil {
		c.logger.Info("Rejecting desktop connection", zap.Error(err))
		_ = c.Close()
		return
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		if err := c.hub.Serve(ctx, sub); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Debug("Desktop write pump stopped", zap.Error(err))
		}
	}()
	go c.pingLoop(sub)

	c.publishSystem("Desktop connected")

	c.readPump()

	c.hub.Remove(sub)
	cancel()
	<-pumpDone

	c.publishSystem("Desktop disconnected")
}

func (c *Client) publishSystem(text string) {
	if err := c.hub.Publish(NewMessage(RoleSystem, text)); err != nil && !errors.Is(err, ErrHubClosed) {
		c.logger.Warn("Failed to publish system message", zap.Error(err))
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Warn("Error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (c *Client) readPump() {
	c.setupReadConnection()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.processMessage(raw)
	}
}

// handleReadError logs the error that ended the read loop at a level that
// matches how expected it was
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("Message exceeded maximum size", zap.Int64("limit", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
		websocket.CloseAbnormalClosure):
		c.logger.Info("Desktop disconnected", zap.Error(err))
	case isExpectedCloseError(err):
		c.logger.Info("Desktop connection closed", zap.Error(err))
	default:
		c.logger.Warn("WebSocket read error", zap.Error(err))
	}
}

// checkRateLimit verifies if the client has exceeded rate limits
// and returns true if the message should be processed
func (c *Client) checkRateLimit() bool {
	if c.rateLimiter.allow() {
		return true
	}
	c.metrics.incr(metricDesktopRateLimit, 1)
	c.logger.Warn("Rate limit exceeded; discarding message",
		zap.Int("burst", c.rateLimit.Burst),
		zap.Duration("interval", c.rateLimit.RefillInterval))
	return false
}

// processMessage decodes a desktop message and publishes it
// and returns true if the message was published
func (c *Client) processMessage(raw []byte) bool {
	var in desktopMessage
	if err := json.Unmarshal(raw, &in); err != nil {
		c.logger.Warn("Invalid message from desktop", zap.Error(err))
		return false
	}
	if strings.TrimSpace(in.Text) == "" {
		return false
	}

	msg := NewMessage(RoleDesktop, in.Text)
	msg.Name = in.Name
	msg.Avatar = in.Avatar

	if err := c.hub.Publish(msg); err != nil {
		c.logger.Warn("Dropping desktop message", zap.Error(err))
		return false
	}
	c.logger.Info(msg.String())
	return true
}

// pingLoop keeps the connection alive until the subscriber is removed.
func (c *Client) pingLoop(sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-sub.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Debug("Error writing ping", zap.Error(err))
				}
				return
			}
		}
	}
}
