package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"room-panel/internal/models"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"
)

type staticReader struct{ v models.VersionedDocument }

func (r staticReader) Get(context.Context) (models.VersionedDocument, error) { return r.v, nil }

func startHub(t *testing.T, current models.VersionedDocument) (*Hub, string) {
	t.Helper()
	hub := NewHub()
	hub.Start()
	srv := httptest.NewServer(http.HandlerFunc(NewWebSocketHandler(hub, staticReader{current}).HandleConnection))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Equal(t, err, nil)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) models.ChannelMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	assert.Equal(t, err, nil)
	var msg models.ChannelMessage
	assert.Equal(t, json.Unmarshal(raw, &msg), nil)
	return msg
}

func waitForSessions(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("hub has %d sessions, want %d", hub.Count(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNewSessionReceivesCurrentDocument(t *testing.T) {
	_, url := startHub(t, models.VersionedDocument{Data: models.Document(`{"status":"red"}`), UpdatedAt: 9})
	conn := dial(t, url)

	msg := readMessage(t, conn)
	assert.Equal(t, msg.Type, models.MessageTypeDataUpdate)
	assert.Equal(t, string(msg.Data), `{"status":"red"}`)
	assert.Equal(t, msg.UpdatedAt, int64(9))
}

func TestEmptyStoreSendsNothingOnConnect(t *testing.T) {
	hub, url := startHub(t, models.VersionedDocument{})
	conn := dial(t, url)
	waitForSessions(t, hub, 1)

	assert.Equal(t, hub.Publish(context.Background(), models.VersionedDocument{Data: models.Document(`{"status":"green"}`), UpdatedAt: 3}), nil)

	// the first frame is the publish, not a greeting
	msg := readMessage(t, conn)
	assert.Equal(t, string(msg.Data), `{"status":"green"}`)
}

func TestPublishReachesEverySession(t *testing.T) {
	hub, url := startHub(t, models.VersionedDocument{})
	a := dial(t, url)
	b := dial(t, url)
	waitForSessions(t, hub, 2)

	v := models.VersionedDocument{Data: models.Document(`{"status":"red"}`), UpdatedAt: 5}
	assert.Equal(t, hub.Publish(context.Background(), v), nil)

	for _, conn := range []*websocket.Conn{a, b} {
		msg := readMessage(t, conn)
		assert.Equal(t, string(msg.Data), `{"status":"red"}`)
		assert.Equal(t, msg.UpdatedAt, int64(5))
	}
}

func TestDisconnectUnregisters(t *testing.T) {
	hub, url := startHub(t, models.VersionedDocument{})
	conn := dial(t, url)
	waitForSessions(t, hub, 1)

	conn.Close()
	waitForSessions(t, hub, 0)
}

func TestShutdownIsIdempotent(t *testing.T) {
	hub, url := startHub(t, models.VersionedDocument{})
	conn := dial(t, url)
	waitForSessions(t, hub, 1)

	hub.Shutdown()
	hub.Shutdown()
	assert.Equal(t, hub.Count(), 0)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.NotEqual(t, err, nil)

	// publishing after shutdown must not block
	assert.Equal(t, hub.Publish(context.Background(), models.VersionedDocument{Data: models.Document(`{}`)}), nil)
}

func TestEncodeUpdate(t *testing.T) {
	raw, err := EncodeUpdate(models.VersionedDocument{Data: models.Document(`{"a":1}`), UpdatedAt: 2})
	assert.Equal(t, err, nil)
	assert.Equal(t, string(raw), `{"type":"dataUpdate","data":{"a":1},"updatedAt":2}`)
}
