// Package client is a WebSocket client for the conversation gateway that
// reconnects with exponential backoff and fans server events out to
// per-type subscribers.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"campuschat/internal/models"

	"github.com/gorilla/websocket"
)

const (
	DefaultInitialBackoff       = time.Second
	DefaultMaxBackoff           = 30 * time.Second
	DefaultMaxReconnectAttempts = 5

	// EventConnectionStatus is emitted on every status change.
	EventConnectionStatus = "connection_status"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrClosed       = errors.New("client closed")
)

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusFailed       Status = "failed"
)

// Event is what subscribers receive. Server events carry Message; status
// events carry Status and, for failed attempts or drops, Err.
type Event struct {
	Type    string
	Message models.ServerMessage
	Status  Status
	Err     error
}

type Handler func(Event)

// Conn is the transport used by the client. *websocket.Conn satisfies it.
type Conn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

type DialFunc func(ctx context.Context, url string) (Conn, error)

type Config struct {
	URL                  string
	Token                string
	InitialBackoff       time.Duration
	MaxBackoff           time.Duration
	MaxReconnectAttempts int
	Dial                 DialFunc
	Logger               *slog.Logger
}

func (c *Config) setDefaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Dial == nil {
		c.Dial = dialWebsocket
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

func dialWebsocket(ctx context.Context, u string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Client struct {
	cfg      Config
	endpoint string
	sched    scheduler
	logger   *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	status Status
	conn   Conn
	retry  retryState
	timer  stopper
	closed bool

	writeMu sync.Mutex

	subsMu sync.RWMutex
	subs   map[string]map[*Subscription]Handler

	typing typingState
}

func New(cfg Config) (*Client, error) {
	cfg.setDefaults()

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	q := u.Query()
	q.Set("token", cfg.Token)
	u.RawQuery = q.Encode()

	c := &Client{
		cfg:      cfg,
		endpoint: u.String(),
		sched:    timeScheduler{},
		logger:   cfg.Logger,
		status:   StatusDisconnected,
		retry:    newRetryState(cfg.InitialBackoff, cfg.MaxBackoff, cfg.MaxReconnectAttempts),
		subs:     make(map[string]map[*Subscription]Handler),
	}
	c.typing.timers = make(map[string]typingTimer)
	return c, nil
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect dials the gateway. Calling it after the client gave up is the
// manual resume: the attempt counter and delay start over.
// ctx bounds this and every automatic reconnect that follows.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusConnected || c.status == StatusConnecting {
		c.mu.Unlock()
		return nil
	}
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.closed = false
	c.ctx = ctx
	c.retry.reset()
	c.mu.Unlock()

	return c.attempt(ctx)
}

// Close disconnects and stops reconnecting.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	c.typing.stopAll()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.emitStatus(StatusDisconnected, nil)
	return err
}

func (c *Client) attempt(ctx context.Context) error {
	c.mu.Lock()
	c.status = StatusConnecting
	c.mu.Unlock()
	c.emitStatus(StatusConnecting, nil)

	conn, err := c.cfg.Dial(ctx, c.endpoint)
	if err != nil {
		c.logger.Warn("websocket dial failed", "url", c.cfg.URL, "error", err)
		c.mu.Lock()
		status := c.scheduleReconnect()
		c.mu.Unlock()
		c.emitStatus(status, err)
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.status = StatusConnected
	c.retry.reset()
	c.mu.Unlock()

	c.logger.Info("websocket connected", "url", c.cfg.URL)
	c.emitStatus(StatusConnected, nil)

	go c.readLoop(conn)
	return nil
}

func (c *Client) readLoop(conn Conn) {
	for {
		var msg models.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			c.handleDrop(conn, err)
			return
		}
		c.emit(Event{Type: string(msg.Type), Message: msg})
	}
}

func (c *Client) handleDrop(conn Conn, err error) {
	c.mu.Lock()
	if c.conn != conn {
		// replaced or closed on purpose
		c.mu.Unlock()
		return
	}
	c.conn = nil
	_ = conn.Close()
	status := c.scheduleReconnect()
	c.mu.Unlock()

	c.logger.Warn("websocket disconnected", "url", c.cfg.URL, "error", err)
	c.emitStatus(status, err)
}

// scheduleReconnect arms the next attempt or gives up. Caller holds c.mu.
func (c *Client) scheduleReconnect() Status {
	if c.closed {
		c.status = StatusDisconnected
		return c.status
	}
	delay, ok := c.retry.next()
	if !ok {
		c.logger.Warn("giving up reconnecting", "attempts", c.retry.attempts)
		c.status = StatusFailed
		return c.status
	}
	c.logger.Info("reconnect scheduled", "attempt", c.retry.attempts, "max", c.retry.maxAttempts, "delay", delay)
	c.status = StatusDisconnected
	c.timer = c.sched.AfterFunc(delay, c.reconnect)
	return c.status
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.closed || c.status != StatusDisconnected {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ctx := c.ctx
	c.mu.Unlock()

	if ctx.Err() != nil {
		return
	}
	_ = c.attempt(ctx)
}

// Send writes one event. It never queues: without a live connection it
// fails with ErrNotConnected.
func (c *Client) Send(event models.InboundEvent) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.status == StatusConnected
	c.mu.Unlock()
	if !connected || conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteJSON(models.Envelope(event))
}

func (c *Client) SendMessage(conversationID, content string, attachments ...string) error {
	return c.Send(models.ChatMessageEvent{
		ConversationID: conversationID,
		Content:        content,
		Attachments:    attachments,
	})
}

func (c *Client) SendTyping(conversationID string, isTyping bool) error {
	return c.Send(models.TypingEvent{ConversationID: conversationID, IsTyping: isTyping})
}

func (c *Client) SendReadReceipt(conversationID, messageID string) error {
	return c.Send(models.ReadReceiptEvent{ConversationID: conversationID, MessageID: messageID})
}

func (c *Client) emitStatus(status Status, err error) {
	c.emit(Event{Type: EventConnectionStatus, Status: status, Err: err})
}
