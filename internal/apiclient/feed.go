package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"room-panel/internal/models"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

const (
	pongWait         = 60 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Feed is the client side of the change channel. Run keeps one websocket
// open, redialing with exponential backoff whenever it drops.
type Feed struct {
	URL          string
	ReconnectMin time.Duration
	ReconnectMax time.Duration

	dialer *websocket.Dialer
}

// NewFeed returns a feed for the server at baseURL (http or https).
func NewFeed(baseURL string, reconnectMin, reconnectMax time.Duration) (*Feed, error) {
	wsURL, err := ChannelURL(baseURL)
	if err != nil {
		return nil, err
	}
	if reconnectMin <= 0 {
		reconnectMin = 500 * time.Millisecond
	}
	if reconnectMax < reconnectMin {
		reconnectMax = 30 * time.Second
	}
	return &Feed{
		URL:          wsURL,
		ReconnectMin: reconnectMin,
		ReconnectMax: reconnectMax,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}, nil
}

// ChannelURL maps the server base URL to its /ws endpoint.
func ChannelURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server URL %q: unsupported scheme", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	return u.String(), nil
}

// Run delivers every well-formed message until ctx is done. It only
// returns ctx's error.
func (f *Feed) Run(ctx context.Context, deliver func(models.ChannelMessage)) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.ReconnectMin
	b.MaxInterval = f.ReconnectMax
	b.MaxElapsedTime = 0

	for {
		connected, err := f.session(ctx, deliver)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			b.Reset()
		}
		wait := b.NextBackOff()
		log.Printf("⚠️  Change channel lost (%v), reconnecting in %s", err, wait.Round(time.Millisecond))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// session runs one connection. connected reports whether the dial
// succeeded.
func (f *Feed) session(ctx context.Context, deliver func(models.ChannelMessage)) (connected bool, err error) {
	conn, _, err := f.dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	log.Printf("✓ Change channel connected: %s", f.URL)

	// unblock ReadMessage when ctx ends
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg models.ChannelMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("⚠️  Dropping malformed channel message: %v", err)
			continue
		}
		if msg.Type != models.MessageTypeDataUpdate || msg.Data.IsEmpty() {
			continue
		}
		deliver(msg)
	}
}
