package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"campuschat/internal/metrics"
	"campuschat/internal/models"
	"campuschat/internal/registry"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	DefaultSendBuffer = 256
)

var (
	ErrSendBufferFull   = errors.New("send buffer full")
	ErrConnectionClosed = errors.New("connection closed")

	errHandlerPanic = errors.New("handler panic")
)

// State is the lifecycle stage of a gateway connection.
type State int32

const (
	StateConnecting State = iota
	StateAuthenticating
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type wsConnection interface {
	Close() error
	WriteJSON(v any) error
	ReadMessage() (messageType int, p []byte, err error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

type messageHub interface {
	Join(conn *registry.Connection)
	Leave(conn *registry.Connection)
	Dispatch(ctx context.Context, userID string, event models.InboundEvent) error
}

// Connection drives one WebSocket session: a reader pump feeding frames to the
// main loop, which handles them in arrival order and writes queued events.
type Connection struct {
	ws         wsConnection
	hub        messageHub
	logger     *slog.Logger
	userID     string
	entry      *registry.Connection
	fromClient chan []byte
	fromServer chan models.ServerMessage
	errorCh    chan error
	done       chan struct{}
	state      atomic.Int32
	closeOnce  sync.Once
}

func NewConnection(hub messageHub, ws wsConnection, sendBuffer int, logger *slog.Logger) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		ws:         ws,
		hub:        hub,
		logger:     logger,
		fromClient: make(chan []byte),
		fromServer: make(chan models.ServerMessage, sendBuffer),
		errorCh:    make(chan error, 2),
		done:       make(chan struct{}),
	}
}

func (c *Connection) State() State {
	return State(c.state.Load())
}

func (c *Connection) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Connection) UserID() string {
	return c.userID
}

// Send queues an event for the client without blocking.
func (c *Connection) Send(msg models.ServerMessage) error {
	select {
	case <-c.done:
		return ErrConnectionClosed
	default:
	}
	select {
	case c.fromServer <- msg:
		return nil
	case <-c.done:
		return ErrConnectionClosed
	default:
		return ErrSendBufferFull
	}
}

// Reject closes a session that never got authenticated with a policy violation frame.
func (c *Connection) Reject(reason string) {
	c.setState(StateClosing)
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	if err := c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("close frame not delivered", "reason", reason, "error", err)
	}
	c.close()
	c.setState(StateClosed)
}

// Handle runs an authenticated session for userID until the transport fails
// or ctx is cancelled. The connection is registered for the whole run and
// removed exactly once on return.
func (c *Connection) Handle(ctx context.Context, userID string) error {
	c.userID = userID
	c.entry = registry.NewConnection(userID, c)

	ctx, cancel := context.WithCancel(ctx)
	c.setState(StateOpen)
	// queue is empty, so the greeting is always the first frame
	_ = c.Send(models.ConnectionEstablished(userID))
	c.hub.Join(c.entry)

	defer func() {
		c.setState(StateClosing)
		c.hub.Leave(c.entry)
		close(c.errorCh)
		c.setState(StateClosed)
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	cancel()
	c.close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) && !isNormalClose(err) {
		return err
	}

	return nil
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.ws.Close(); err != nil {
			c.logger.Debug("error closing websocket", "user_id", c.userID, "error", err)
		}
	})
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case c.fromClient <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-c.fromClient:
			if err := c.processFrame(ctx, data); err != nil {
				c.reportError(err)
			}
		case msg := <-c.fromServer:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(msg); err != nil {
				return err
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processFrame decodes and dispatches one client frame.
// A panic in a handler is confined to the frame that caused it.
func (c *Connection) processFrame(ctx context.Context, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panic", "user_id", c.userID, "panic", r)
			err = errHandlerPanic
		}
	}()

	event, err := models.DecodeInbound(data)
	if err != nil {
		return err
	}
	metrics.EventsReceived.WithLabelValues(string(event.EventType())).Inc()
	return c.hub.Dispatch(ctx, c.userID, event)
}

func (c *Connection) reportError(err error) {
	text, reason := publicMessage(err)
	metrics.EventsRejected.WithLabelValues(reason).Inc()
	if reason == reasonInternal {
		c.logger.Error("event failed", "user_id", c.userID, "error", err)
	} else {
		c.logger.Debug("event rejected", "user_id", c.userID, "error", err)
	}
	if sendErr := c.Send(models.ErrorEvent(text)); sendErr != nil {
		c.logger.Warn("error event dropped", "user_id", c.userID, "error", sendErr)
	}
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
