package websocket

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"liveclass/internal/idgen"
	"liveclass/internal/protocol"
	"liveclass/pkg/interfaces"
)

const (
	DefaultPingInterval     = 30 * time.Second
	DefaultReadTimeout      = 60 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	controlWriteTimeout     = 10 * time.Second
)

// Dispatcher receives decoded client messages and disconnect notices
type Dispatcher interface {
	Submit(ctx context.Context, conn interfaces.Connection, msg protocol.Inbound) error
	Disconnect(conn interfaces.Connection)
}

// Config tunes the per-connection transport
type Config struct {
	PingInterval     time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	HandshakeTimeout time.Duration
	SendBuffer       int
	MaxMessageSize   int64
	// AllowedOrigins empty means any origin is accepted
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = DefaultSendBuffer
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = protocol.MaxFrameSize
	}
	return c
}

// Handler authenticates upgrade requests and pumps frames between sockets
// and the dispatcher.
type Handler struct {
	cfg        Config
	registry   *Registry
	resolver   interfaces.IdentityResolver
	dispatcher Dispatcher
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
	baseLogger *zerolog.Logger
}

func NewHandler(cfg Config, registry *Registry, resolver interfaces.IdentityResolver, dispatcher Dispatcher, logger *zerolog.Logger) *Handler {
	cfg = cfg.withDefaults()
	h := &Handler{
		cfg:        cfg,
		registry:   registry,
		resolver:   resolver,
		dispatcher: dispatcher,
		logger:     logger.With().Str("component", "ws-handler").Logger(),
		baseLogger: logger,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ServeHTTP resolves the caller's identity before upgrading so rejected
// requests get a plain HTTP error.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identity, err := h.resolver.Resolve(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, interfaces.ErrUnauthorized) {
			status = http.StatusUnauthorized
		}
		h.logger.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("rejected upgrade")
		http.Error(w, err.Error(), status)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	conn := NewConnection(ws, idgen.NewConnectionID(), identity, h.cfg.SendBuffer, h.cfg.WriteTimeout, h.baseLogger)
	if err := h.registry.Register(conn); err != nil {
		h.logger.Error().Err(err).Msg("failed to register connection")
		_ = conn.Close()
		return
	}

	h.logger.Info().
		Str("socketId", conn.ID()).
		Str("userId", identity.ID).
		Str("role", identity.Role).
		Msg("client connected")

	go h.handleConnection(conn)
}

// handleConnection owns the read side of conn until the socket fails.
// The drop is queued behind the messages conn already submitted, and the
// connection stays registered until the dispatcher has been told.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.dispatcher.Disconnect(conn)
		h.registry.Unregister(conn)
		_ = conn.Close()
		h.logger.Info().Str("socketId", conn.ID()).Msg("client disconnected")
	}()

	ws := conn.conn
	ws.SetReadLimit(h.cfg.MaxMessageSize)
	if err := ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		h.logger.Debug().Err(err).Msg("set read deadline")
		return
	}
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("socketId", conn.ID()).Msg("read failed")
			}
			return
		}

		if messageType != websocket.TextMessage {
			_ = conn.Send(protocol.ErrorMessage("binary frames are not supported"))
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			_ = conn.Send(protocol.ErrorMessage(err.Error()))
			continue
		}

		if err := h.dispatcher.Submit(conn.ctx, conn, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			h.logger.Warn().Err(err).Str("event", string(msg.Kind())).Msg("dispatch failed")
			_ = conn.Send(protocol.ErrorMessage("server unavailable"))
		}
	}
}

func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(controlWriteTimeout)); err != nil {
				return
			}
		case <-conn.ctx.Done():
			return
		}
	}
}
