package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"chat-relay/internal/observability"
)

const (
	defaultDisplayName = "Anonymous"
	defaultRole        = "user"
)

// HandlerConfig tunes the websocket endpoint.
type HandlerConfig struct {
	// CheckOrigin decides whether a handshake's Origin is acceptable. Nil allows all.
	CheckOrigin func(r *http.Request) bool
	SendBuffer  int
}

// Handler accepts websocket connections and feeds their frames to the router.
type Handler struct {
	hub         *Hub
	router      *Router
	presence    *Presence
	upgrader    websocket.Upgrader
	checkOrigin func(r *http.Request) bool
	sendBuffer  int
	logger      *zap.Logger
}

func NewHandler(hub *Hub, router *Router, presence *Presence, cfg HandlerConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	check := cfg.CheckOrigin
	if check == nil {
		check = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub:         hub,
		router:      router,
		presence:    presence,
		upgrader:    websocket.Upgrader{CheckOrigin: check},
		checkOrigin: check,
		sendBuffer:  cfg.SendBuffer,
		logger:      logger,
	}
}

// Handle upgrades the request and serves the session until it closes.
func (h *Handler) Handle(c *gin.Context) {
	identityID := firstQuery(c, "identityId", "userId")
	if identityID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "identityId is required"})
		return
	}
	if !h.checkOrigin(c.Request) {
		c.JSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
		return
	}

	ctx, span := otel.Tracer("chat-relay/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("identity_id", identityID), zap.Error(err))
		return
	}

	displayName := firstQuery(c, "displayName", "name")
	if displayName == "" {
		displayName = defaultDisplayName
	}
	role := c.Query("role")
	if role == "" {
		role = defaultRole
	}
	info := SessionInfo{
		ConnID:      newConnID(),
		IdentityID:  identityID,
		DisplayName: displayName,
		Role:        role,
		Color:       randomColor(),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     traceIDFrom(ctx),
		ConnectedAt: time.Now(),
	}
	s := newSession(conn, info, h.sendBuffer)

	h.hub.Add(s)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.publishLifecycle(ctx, info, "ws_connect", "")
	h.logger.Info("session opened",
		zap.String("conn_id", info.ConnID), zap.String("identity_id", info.IdentityID), zap.String("role", info.Role))
	h.presence.Joined(s)

	// Frames keep the handshake span as their parent but outlive the request.
	sessionCtx := trace.ContextWithSpanContext(context.Background(), span.SpanContext())
	go s.writePump()
	go h.readPump(sessionCtx, s)
}

func (h *Handler) readPump(ctx context.Context, s *Session) {
	info := s.Info()
	var closeReason string
	defer func() {
		s.Close()
		if h.hub.Remove(s) {
			h.presence.Left(s)
		}
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		h.publishLifecycle(ctx, info, "ws_disconnect", closeReason)
		h.logger.Info("session closed",
			zap.String("conn_id", info.ConnID), zap.String("identity_id", info.IdentityID),
			zap.Duration("duration", time.Since(info.ConnectedAt)), zap.String("reason", closeReason))
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				h.publishLifecycle(ctx, info, "ws_error", closeReason)
			}
			return
		}
		h.router.Handle(ctx, s, raw)
	}
}

func (h *Handler) publishLifecycle(ctx context.Context, info SessionInfo, event, reason string) {
	_ = observability.PublishEvent(ctx, observability.RoutingKeyWSEvents, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"identity_id": info.IdentityID,
				"role":        info.Role,
				"ip":          info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}

func firstQuery(c *gin.Context, keys ...string) string {
	for _, key := range keys {
		if v := c.Query(key); v != "" {
			return v
		}
	}
	return ""
}
