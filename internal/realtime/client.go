package realtime

import (
	"log/slog"
	"sync"
	"time"

	"codexverse/internal/middleware"
	"codexverse/internal/models"
	"codexverse/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 16384

	sendBufferSize = 256
)

var dropNotice = []byte(`{"type":"messages_dropped","payload":{"reason":"buffer_full"}}`)

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID   uint        `json:"user_id"`
	Username string      `json:"username"`
	Role     models.Role `json:"role"`
}

// Authenticated reports whether the identity belongs to a real user.
func (i Identity) Authenticated() bool {
	return i.UserID != 0
}

// Client is a middleman between one websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection. Nil in tests.
	Conn *websocket.Conn

	// Buffered channel of outbound messages.
	Send chan []byte

	Identity Identity

	// Called for every inbound frame, sequentially, from ReadPump.
	IncomingHandler func(*Client, []byte)

	// Rooms joined and how; guarded by hub.mu.
	rooms map[Room]membership

	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn, identity Identity) *Client {
	return &Client{
		hub:      hub,
		Conn:     conn,
		Identity: identity,
		Send:     make(chan []byte, sendBufferSize),
		rooms:    make(map[Room]membership),
	}
}

// ReadPump reads frames until the connection fails. The caller unregisters the
// client once it returns.
func (c *Client) ReadPump() {
	defer func() {
		_ = c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	_ = c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error { _ = c.Conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				middleware.Logger.Debug("websocket read failed",
					slog.Uint64("user_id", uint64(c.Identity.UserID)),
					slog.String("error", err.Error()),
				)
			}
			break
		}

		if c.IncomingHandler != nil {
			c.IncomingHandler(c, message)
		}
	}
}

// WritePump drains Send to the connection and keeps it alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				_ = c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TrySend enqueues a message without blocking. A full buffer drops the message
// and attempts a messages_dropped notice; a closed client drops silently.
func (c *Client) TrySend(message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "closed").Inc()
		}
	}()

	select {
	case c.Send <- message:
		return true
	default:
		observability.WebSocketBackpressureDrops.WithLabelValues(c.hubName(), "full").Inc()
		middleware.Logger.Warn("websocket buffer full, dropped message",
			slog.Uint64("user_id", uint64(c.Identity.UserID)),
			slog.String("hub", c.hubName()),
		)

		select {
		case c.Send <- dropNotice:
		default:
		}
		return false
	}
}

// SendEvent encodes and enqueues an event.
func (c *Client) SendEvent(e Event) bool {
	data, err := Encode(e)
	if err != nil {
		return false
	}
	return c.TrySend(data)
}

// SendError enqueues an error event for this client only.
func (c *Client) SendError(code, message string) bool {
	return c.SendEvent(ErrorEvent(code, message))
}

// close closes Send exactly once, which makes WritePump send a close frame.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.Send)
	})
}

func (c *Client) hubName() string {
	if c.hub == nil {
		return "detached"
	}
	return c.hub.Name()
}
