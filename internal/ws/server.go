package ws

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"campuschat/internal/auth"
	"campuschat/internal/metrics"

	"github.com/gorilla/websocket"
)

const DefaultVerifyTimeout = 5 * time.Second

type ServerConfig struct {
	VerifyTimeout  time.Duration
	SendBuffer     int
	AllowedOrigins []string
}

type Server struct {
	ctx      context.Context
	verifier auth.Verifier
	hub      messageHub
	config   ServerConfig
	logger   *slog.Logger
	upgrader *websocket.Upgrader
}

// NewServer builds the gateway handler. Sessions end when ctx is cancelled.
func NewServer(ctx context.Context, verifier auth.Verifier, hub messageHub, config ServerConfig, logger *slog.Logger) *Server {
	if config.VerifyTimeout <= 0 {
		config.VerifyTimeout = DefaultVerifyTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		ctx:      ctx,
		verifier: verifier,
		hub:      hub,
		config:   config,
		logger:   logger,
	}
	s.upgrader = &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.config.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.config.AllowedOrigins, "*") || slices.Contains(s.config.AllowedOrigins, origin)
}

// HandleConnections upgrades the request and runs the session.
// The token travels in the query string; a missing or invalid token closes
// the socket with a policy violation.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("error upgrading to websocket", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	conn := NewConnection(s.hub, ws, s.config.SendBuffer, s.logger)

	token := r.URL.Query().Get("token")
	if token == "" {
		metrics.HandshakeFailures.WithLabelValues("missing_token").Inc()
		conn.Reject("missing token")
		return
	}

	conn.setState(StateAuthenticating)
	verifyCtx, cancel := context.WithTimeout(r.Context(), s.config.VerifyTimeout)
	userID, err := s.verifier.VerifyToken(verifyCtx, token)
	cancel()
	if err != nil {
		metrics.HandshakeFailures.WithLabelValues("auth").Inc()
		s.logger.Info("websocket authentication failed", "remote_addr", r.RemoteAddr, "error", err)
		conn.Reject("authentication error")
		return
	}

	ctx, stop := context.WithCancel(s.ctx)
	defer stop()

	s.logger.Info("websocket connected", "user_id", userID, "remote_addr", r.RemoteAddr)
	if err := conn.Handle(ctx, userID); err != nil {
		s.logger.Info("websocket closed with error", "user_id", userID, "error", err)
		return
	}
	s.logger.Info("websocket disconnected", "user_id", userID)
}
