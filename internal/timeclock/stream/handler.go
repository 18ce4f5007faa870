package stream

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"timeclock/pkg/platform/httputil"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// EntryAuthorizer decides whether the caller in ctx may follow entryID.
type EntryAuthorizer func(ctx context.Context, entryID string) error

// Handler upgrades GET /timeclock/entries/{entryID}/stream to a websocket
// carrying presence updates for that entry.
type Handler struct {
	hub       *Hub
	authorize EntryAuthorizer
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

func NewHandler(hub *Hub, authorize EntryAuthorizer, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		hub:       hub,
		authorize: authorize,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	entryID := chi.URLParam(r, "entryID")
	if h.authorize != nil {
		if err := h.authorize(ctx, entryID); err != nil {
			httputil.WriteError(w, err)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the failure response.
		h.logger.DebugContext(ctx, "websocket upgrade failed", "entry_id", entryID, "error", err)
		return
	}
	client := h.hub.Register(entryID)
	h.logger.DebugContext(ctx, "presence stream opened", "entry_id", entryID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writePump(conn, client)
	}()

	h.readPump(conn)
	h.hub.Unregister(client)
	<-done
	_ = conn.Close()
	h.logger.DebugContext(ctx, "presence stream closed", "entry_id", entryID)
}

// readPump discards client frames; it exists to observe close and pong.
func (h *Handler) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				// Unblock readPump so the handler can unregister.
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}
