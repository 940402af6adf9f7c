package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"room-panel/internal/middleware"
	"room-panel/internal/models"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

/*
LEARNING: SINGLE-ROOM CHANGE CHANNEL

Every connected display and admin sees the same document, so there is one
room. The hub goroutine owns the session set:
1. register / unregister add and remove sessions
2. broadcast queues a message on every session's Send buffer
3. a session whose buffer is full is dropped; it reconnects and its poll
   catches up
*/

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 32
	staleAfter     = 5 * time.Minute
	cleanupPeriod  = 30 * time.Second
)

// Hub fans accepted writes out to every connected session.
type Hub struct {
	sessions   map[*Session]bool
	register   chan *Session
	unregister chan *Session
	broadcast  chan []byte
	mu         sync.RWMutex

	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// Session is one websocket connection.
type Session struct {
	*models.Session
	Conn *websocket.Conn
	Send chan []byte // Buffered channel for outbound messages
	Hub  *Hub

	lastActive atomic.Int64 // unix nanos
}

func NewHub() *Hub {
	return &Hub{
		sessions:   make(map[*Session]bool),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		broadcast:  make(chan []byte, 256),
		done:       make(chan struct{}),
	}
}

// NewSession wraps conn for this hub. It is not registered until Register.
func (h *Hub) NewSession(conn *websocket.Conn) *Session {
	s := &Session{
		Session: models.NewSession(conn.RemoteAddr().String()),
		Conn:    conn,
		Send:    make(chan []byte, sendBufferSize),
		Hub:     h,
	}
	s.touch()
	return s
}

// Start begins the hub event loop and the stale-session sweeper.
func (h *Hub) Start() {
	h.startOnce.Do(func() {
		go h.run()
		go h.cleanupLoop()
		log.Println("✓ Change channel hub started")
	})
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return

		case session := <-h.register:
			h.mu.Lock()
			h.sessions[session] = true
			total := len(h.sessions)
			h.mu.Unlock()
			log.Printf("  Session %s connected from %s (total: %d)", session.ID, session.RemoteAddr, total)

		case session := <-h.unregister:
			h.mu.Lock()
			removed := h.removeLocked(session)
			total := len(h.sessions)
			h.mu.Unlock()
			if removed {
				log.Printf("  Session %s disconnected (remaining: %d)", session.ID, total)
			}

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// removeLocked drops session and closes its Send channel exactly once.
func (h *Hub) removeLocked(session *Session) bool {
	if !h.sessions[session] {
		return false
	}
	delete(h.sessions, session)
	close(session.Send)
	return true
}

func (h *Hub) deliver(message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for session := range h.sessions {
		select {
		case session.Send <- message:
		default:
			// Buffer full - connection is slow/dead
			log.Printf("⚠️  Session %s buffer full, closing connection", session.ID)
			h.removeLocked(session)
		}
	}
}

// Register adds a session to the room.
func (h *Hub) Register(session *Session) bool {
	select {
	case h.register <- session:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a session. Safe to call more than once.
func (h *Hub) Unregister(session *Session) {
	select {
	case h.unregister <- session:
	case <-h.done:
	}
}

// Publish announces v to every connected session.
func (h *Hub) Publish(ctx context.Context, v models.VersionedDocument) error {
	message, err := EncodeUpdate(v)
	if err != nil {
		return err
	}

	_, span := middleware.StartSpan(ctx, "Hub.Publish",
		attribute.Int64("document.updated_at", v.UpdatedAt),
		attribute.Int("message.size", len(message)),
		attribute.Int("hub.sessions", h.Count()),
	)
	defer span.End()

	h.Deliver(message)
	return nil
}

// Deliver queues an encoded channel message for every session.
func (h *Hub) Deliver(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// Count returns the number of connected sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// EncodeUpdate builds the dataUpdate message for v.
func EncodeUpdate(v models.VersionedDocument) ([]byte, error) {
	message, err := json.Marshal(models.NewDataUpdate(v))
	if err != nil {
		return nil, fmt.Errorf("failed to encode channel message: %w", err)
	}
	return message, nil
}

func (h *Hub) cleanupLoop() {
	ticker := time.NewTicker(cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-h.done:
			return
		case <-ticker.C:
			h.cleanup(time.Now())
		}
	}
}

// cleanup closes sessions that have not answered a ping within staleAfter.
func (h *Hub) cleanup(now time.Time) {
	h.mu.RLock()
	var stale []*Session
	for session := range h.sessions {
		if now.Sub(session.LastActive()) > staleAfter {
			stale = append(stale, session)
		}
	}
	h.mu.RUnlock()

	for _, session := range stale {
		log.Printf("  Cleaning up inactive session %s", session.ID)
		// the read pump sees the closed connection and unregisters
		session.Conn.Close()
	}
}

// Shutdown gracefully closes all connections
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		log.Println("🛑 Shutting down change channel hub...")
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()
		for session := range h.sessions {
			h.removeLocked(session)
			session.Conn.Close()
		}
		log.Println("✓ Change channel hub shutdown complete")
	})
}

func (s *Session) touch() { s.lastActive.Store(time.Now().UnixNano()) }

// LastActive is the last time the peer was heard from.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// ReadPump reads messages from the WebSocket connection
// Learning: Each session has its own goroutine reading from the WebSocket.
// Clients never write documents over the channel; reads only keep the
// pong deadline alive and detect disconnects.
func (s *Session) ReadPump() {
	defer func() {
		s.Hub.Unregister(s)
		s.Conn.Close()
	}()

	s.Conn.SetReadLimit(4 << 10)
	s.Conn.SetReadDeadline(time.Now().Add(pongWait))
	s.Conn.SetPongHandler(func(string) error {
		s.Conn.SetReadDeadline(time.Now().Add(pongWait))
		s.touch()
		return nil
	})

	for {
		if _, _, err := s.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			return
		}
		s.touch()
	}
}

// WritePump writes messages to the WebSocket connection
// Learning: Separate goroutine for writing prevents blocking on slow clients
func (s *Session) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.Send:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed
				s.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// one JSON message per frame
			if err := s.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			s.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
