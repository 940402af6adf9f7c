package broadcast

import (
	"context"
	"log"
	"net/http"

	"room-panel/internal/middleware"
	"room-panel/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// displays are served from other origins on the local network
		return true
	},
}

// DocumentReader is the store lookup used to greet new sessions.
type DocumentReader interface {
	Get(ctx context.Context) (models.VersionedDocument, error)
}

// WebSocketHandler upgrades /ws requests and attaches them to the hub.
type WebSocketHandler struct {
	hub   *Hub
	store DocumentReader
}

func NewWebSocketHandler(hub *Hub, store DocumentReader) *WebSocketHandler {
	return &WebSocketHandler{hub: hub, store: store}
}

// HandleConnection upgrades the request, sends the current document once
// if there is one, and starts the session's pumps.
func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ctx, span := middleware.StartSpan(r.Context(), "WebSocket.Connect",
		attribute.String("remote.addr", r.RemoteAddr),
	)
	defer span.End()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		middleware.AddSpanError(ctx, err)
		return
	}

	session := h.hub.NewSession(conn)
	span.SetAttributes(attribute.String("session.id", session.ID))

	// queued before Register so the hub never races this send
	h.sendInitialState(ctx, session)

	if !h.hub.Register(session) {
		conn.Close()
		return
	}

	// Learning: Separate goroutines prevent deadlock between reading and writing
	go session.WritePump()
	go session.ReadPump()
}

func (h *WebSocketHandler) sendInitialState(ctx context.Context, session *Session) {
	current, err := h.store.Get(ctx)
	if err != nil {
		log.Printf("⚠️  Failed to read document for session %s: %v", session.ID, err)
		middleware.AddSpanError(ctx, err)
		return
	}
	if current.IsEmpty() {
		return
	}

	message, err := EncodeUpdate(current)
	if err != nil {
		log.Printf("⚠️  %v", err)
		return
	}
	session.Send <- message
}
