package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"gatekeeper/internal/config"
	"gatekeeper/internal/limiter"
	"gatekeeper/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is a deployment concern; admission control happens
		// after the upgrade via id validation and the rate limiter.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// Handler accepts WebSocket sessions and runs their receive loops. It is the
// admission point for the duplex path: id validation and the connect-scoped
// rate limit run before any registry state is created, and every inbound
// message passes the size ceiling and the message-scoped rate limit before
// it reaches the command interpreter.
type Handler struct {
	registry *Registry
	limiter  limiter.Limiter
	cfg      *config.WebSocketConfig
}

// NewHandler wires the session handler to its registry and limiter.
func NewHandler(registry *Registry, lim limiter.Limiter, cfg *config.WebSocketConfig) *Handler {
	return &Handler{
		registry: registry,
		limiter:  lim,
		cfg:      cfg,
	}
}

// HandleWebSocket serves GET /ws/{client_id}. Validation failures close with
// 4000, rate-limit denials with 4008; neither creates session state.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("client_id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, clientID, h.cfg.BufferSize, h.cfg.WriteTimeout)

	if !types.IsValidClientID(clientID) {
		_ = wsConn.CloseWithReason(CloseInvalidClientID, "Invalid client ID")
		return
	}

	// Connect-scoped admission, distinct from the per-message identifier.
	decision := h.limiter.Allow(context.Background(), "ws_connect:"+clientID)
	if !decision.Allowed {
		log.Printf("WebSocket connection rate limited for %s", clientID)
		_ = wsConn.CloseWithReason(CloseRateLimited, "Rate limit exceeded")
		return
	}
	if decision.Err != nil {
		log.Printf("Rate limiter degraded, admitting %s fail-open: %v", clientID, decision.Err)
	}

	if err := h.registry.Register(wsConn); err != nil {
		log.Printf("Failed to register connection for %s: %v", clientID, err)
		_ = wsConn.Close()
		return
	}

	go h.serveSession(wsConn)
}

// serveSession runs one session's receive loop with liveness probing. Every
// exit path, normal close, read error, or liveness timeout, lands in the
// deferred unregister.
func (h *Handler) serveSession(conn *Connection) {
	clientID := conn.ClientID()

	defer func() {
		h.registry.Unregister(clientID, conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout)); err != nil {
		log.Printf("Failed to set read deadline for %s: %v", clientID, err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	// Liveness probe. A peer that stops answering pings trips the read
	// deadline and the loop exits through the deferred cleanup.
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for %s: %v", clientID, err)
			}
			return
		}

		h.handleInbound(conn, data)
	}
}

// handleInbound runs the per-message admission pipeline: size ceiling first,
// then the message-scoped rate limit, then counters, then dispatch. Both
// rejections are soft: the session continues.
func (h *Handler) handleInbound(conn *Connection, data []byte) {
	clientID := conn.ClientID()

	// Size is measured on the wire encoding, before any interpretation.
	if len(data) > h.cfg.MaxMessageSize {
		log.Printf("Message too large from %s: %d > %d bytes",
			clientID, len(data), h.cfg.MaxMessageSize)
		_ = conn.WriteJSON(types.OversizeError{
			Error:             "Message too large",
			MaxSizeBytes:      h.cfg.MaxMessageSize,
			ReceivedSizeBytes: len(data),
		})
		return
	}

	decision := h.limiter.Allow(context.Background(), "ws_message:"+clientID)
	if !decision.Allowed {
		_ = conn.WriteJSON(types.RateLimitError{
			Error:      "Rate limit exceeded",
			RetryAfter: decision.RetryAfter(time.Now()),
		})
		return
	}

	h.registry.RecordReceive(clientID, len(data))

	var message map[string]interface{}
	if err := json.Unmarshal(data, &message); err != nil {
		// Opaque payloads are echoed back, not rejected.
		h.registry.SendJSON(clientID, types.TextEcho{
			Type:      types.FrameTextEcho,
			Message:   string(data),
			From:      clientID,
			Timestamp: types.UnixSeconds(time.Now()),
		})
		return
	}

	h.dispatch(clientID, message)
}

// dispatch interprets a structured command. Responses route through the
// registry so send counters and the outbound size ceiling apply.
func (h *Handler) dispatch(clientID string, message map[string]interface{}) {
	messageType, _ := message["type"].(string)
	if messageType == "" {
		messageType = "unknown"
	}
	now := types.UnixSeconds(time.Now())

	switch messageType {
	case types.CommandPing:
		h.registry.SendJSON(clientID, types.Pong{
			Type:      types.FramePong,
			Timestamp: now,
		})

	case types.CommandEcho:
		h.registry.SendJSON(clientID, types.EchoResponse{
			Type:            types.FrameEchoResponse,
			OriginalMessage: message,
			Timestamp:       now,
		})

	case types.CommandBroadcast:
		payload, ok := message["message"]
		if !ok {
			return
		}
		frame, err := json.Marshal(types.BroadcastFrame{
			Type:      types.FrameBroadcast,
			From:      clientID,
			Message:   payload,
			Timestamp: now,
		})
		if err != nil {
			log.Printf("Failed to marshal broadcast from %s: %v", clientID, err)
			return
		}
		h.registry.Broadcast(frame, clientID)

	default:
		h.registry.SendJSON(clientID, types.UnsupportedError{
			Error:          fmt.Sprintf("Unknown message type: %s", messageType),
			SupportedTypes: types.SupportedCommands,
		})
	}
}
