package events

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/prdesk/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"
)

const writeTimeout = 10 * time.Second

// SessionLookup reports whether ownerID may observe sessionID.
type SessionLookup func(ownerID, sessionID string) bool

// WebSocketHandler streams a session's events over a WebSocket.
type WebSocketHandler struct {
	bus            *Bus
	lookup         SessionLookup
	originPatterns []string
	keepalive      time.Duration
}

// NewWebSocketHandler creates a new WebSocket event handler.
func NewWebSocketHandler(bus *Bus, lookup SessionLookup, originPatterns []string, keepalive time.Duration) *WebSocketHandler {
	if keepalive <= 0 {
		keepalive = 30 * time.Second
	}
	return &WebSocketHandler{
		bus:            bus,
		lookup:         lookup,
		originPatterns: originPatterns,
		keepalive:      keepalive,
	}
}

// ServeHTTP implements http.Handler for GET /ws/sessions/{sessionID}/events.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ownerID := identity.OwnerIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")
	if ownerID == "" || !h.lookup(ownerID, sessionID) {
		http.Error(w, `{"error": "session not found"}`, http.StatusNotFound)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	events, cancel := h.bus.Subscribe(sessionID)
	defer cancel()

	// Clients never send; CloseRead handles control frames and cancels ctx
	// when the peer goes away.
	ctx := ws.CloseRead(r.Context())
	slog.Info("Event stream connected", "session_id", sessionID, "owner_id", ownerID)

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Event stream disconnected", "session_id", sessionID)
			return
		case ev, ok := <-events:
			if !ok {
				slog.Info("Event stream closed by session end", "session_id", sessionID)
				return
			}
			if err := writeEvent(ctx, ws, ev); err != nil {
				slog.Warn("Failed to write event", "error", err, "session_id", sessionID, "event_id", ev.ID)
				return
			}
		case <-keepalive.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, writeTimeout)
			err := ws.Ping(pingCtx)
			pingCancel()
			if err != nil {
				slog.Debug("Event stream ping failed", "error", err, "session_id", sessionID)
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, ws *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, ws, ev)
}
