// Package feed maintains the market data connection. It owns a
// reconnecting WebSocket session, subscribes to the configured
// instruments and hands every raw frame to the engine untouched;
// normalization happens downstream.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
	"trading_engine/internal/config"
	"trading_engine/internal/core"

	"github.com/gorilla/websocket"
)

// RawHandler receives every frame read from the feed
type RawHandler func(source string, raw []byte) error

// Client is a resilient market data WebSocket client
type Client struct {
	cfg     config.FeedConfig
	handler RawHandler
	logger  core.ILogger

	conn *websocket.Conn
	mu   sync.Mutex

	lastMsg   time.Time
	lastMsgMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewClient creates a feed client delivering raw frames to handler
func NewClient(cfg config.FeedConfig, handler RawHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:     cfg,
		handler: handler,
		logger:  logger.WithField("component", "feed"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start connects and begins reading. Reconnects with a fixed delay on
// any connection loss until Stop is called.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and stops the loop
func (c *Client) Stop() {
	c.cancel()
	c.closeConn()
	c.wg.Wait()
}

// CheckHealth reports an error when no frame arrived within two pong
// windows. Used by the health monitor.
func (c *Client) CheckHealth() error {
	c.lastMsgMu.Lock()
	last := c.lastMsg
	c.lastMsgMu.Unlock()

	if last.IsZero() {
		return fmt.Errorf("feed: no message received yet")
	}
	window := 2 * time.Duration(c.cfg.PongWaitMs) * time.Millisecond
	if age := time.Since(last); age > window {
		return fmt.Errorf("feed: last message %s ago", age.Truncate(time.Millisecond))
	}
	return nil
}

func (c *Client) runLoop() {
	defer c.wg.Done()
	reconnectWait := time.Duration(c.cfg.ReconnectDelayMs) * time.Millisecond

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if err := c.connect(); err != nil {
			c.logger.Error("Feed connection failed", "error", err, "url", c.cfg.URL)
			c.sleep(reconnectWait)
			continue
		}

		if err := c.subscribe(); err != nil {
			c.logger.Error("Feed subscription failed", "error", err)
			c.closeConn()
			c.sleep(reconnectWait)
			continue
		}

		c.logger.Info("Feed connected", "url", c.cfg.URL, "instruments", c.cfg.Instruments)

		pingDone := make(chan struct{})
		c.wg.Add(1)
		go c.pingLoop(pingDone)

		c.readLoop()
		close(pingDone)

		c.logger.Warn("Feed connection lost, reconnecting", "delay", reconnectWait)
		c.sleep(reconnectWait)
	}
}

func (c *Client) connect() error {
	header := http.Header{}
	if c.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+string(c.cfg.AuthToken))
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.cfg.URL, header)
	if err != nil {
		return err
	}

	pongWait := time.Duration(c.cfg.PongWaitMs) * time.Millisecond
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// subscribe sends the instrument subscription request
func (c *Client) subscribe() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("feed: not connected")
	}

	sub := map[string]interface{}{
		"op":          "subscribe",
		"instruments": c.cfg.Instruments,
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(time.Duration(c.cfg.WriteWaitMs) * time.Millisecond))
	return c.conn.WriteJSON(sub)
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) pingLoop(done chan struct{}) {
	defer c.wg.Done()
	interval := time.Duration(c.cfg.PingIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			deadline := time.Now().Add(time.Duration(c.cfg.WriteWaitMs) * time.Millisecond)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Warn("Feed ping failed", "error", err)
				return
			}
		}
	}
}

func (c *Client) readLoop() {
	defer c.closeConn()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		c.lastMsgMu.Lock()
		c.lastMsg = time.Now()
		c.lastMsgMu.Unlock()

		if c.handler != nil {
			if err := c.handler(c.cfg.Source, message); err != nil {
				// Normalization failures are already counted downstream
				c.logger.Debug("Frame not processed", "error", err)
			}
		}
	}
}

func (c *Client) sleep(d time.Duration) {
	select {
	case <-c.ctx.Done():
	case <-time.After(d):
	}
}
