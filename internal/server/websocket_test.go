package server

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"codexverse/internal/models"
	"codexverse/internal/realtime"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const wsReadTimeout = 5 * time.Second

type wireEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (e wireEvent) decode(t *testing.T, dest interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(e.Payload, dest))
}

// listen serves the app on a loopback port and returns the socket URL.
func (e *testEnv) listen(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() { _ = e.app.Listener(ln) }()
	t.Cleanup(func() { _ = e.app.Shutdown() })

	return "ws://" + ln.Addr().String() + "/api/ws"
}

func dialWS(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connect dials as u and consumes the connected event.
func connect(t *testing.T, url string, u *models.User) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", "Bearer "+tokenFor(t, u))
	conn := dialWS(t, url, header)
	readUntil(t, conn, realtime.EventConnected)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType string, payload interface{}) {
	t.Helper()
	data, err := json.Marshal(fiber.Map{"type": eventType, "payload": payload})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func readEvent(t *testing.T, conn *websocket.Conn) wireEvent {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(wsReadTimeout)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev wireEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

// readUntil skips events until one of eventType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) wireEvent {
	t.Helper()
	for {
		ev := readEvent(t, conn)
		if ev.Type == eventType {
			return ev
		}
	}
}

func readError(t *testing.T, conn *websocket.Conn) realtime.ErrorPayload {
	t.Helper()
	var payload realtime.ErrorPayload
	readUntil(t, conn, realtime.EventError).decode(t, &payload)
	return payload
}

// barrier waits until every event sent before it on conn has been handled.
// Events from one connection are handled in order, so the reply to an unknown
// event type marks the point.
func barrier(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, "barrier", nil)
	for {
		payload := readError(t, conn)
		if payload.Message == "Unknown event type: barrier" {
			return
		}
	}
}

func TestWebSocketUpgradeRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	url := env.listen(t)

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocketConnectWithTicket(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", models.RoleUser)
	url := env.listen(t)

	resp := env.request(t, http.MethodPost, "/api/ws/ticket", nil, tokenFor(t, alice))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var body struct {
		Ticket string `json:"ticket"`
	}
	decode(t, resp, &body)

	conn := dialWS(t, url+"?ticket="+body.Ticket, nil)
	var connected connectedPayload
	readUntil(t, conn, realtime.EventConnected).decode(t, &connected)
	assert.Equal(t, alice.ID, connected.UserID)
	assert.Equal(t, []string{"user:alice"}, connected.Rooms)

	assert.Eventually(t, func() bool {
		return env.s.Hub().Presence().IsOnline(alice.ID)
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocketChatAndRooms(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", models.RoleUser)
	bob := env.createUser(t, "bob", models.RoleUser)
	url := env.listen(t)

	a := connect(t, url, alice)
	b := connect(t, url, bob)

	send(t, a, realtime.EventJoinRoom, fiber.Map{"room": "lobby"})
	barrier(t, a)

	send(t, b, realtime.EventJoinRoom, fiber.Map{"room": "lobby"})
	var joined roomPayload
	readUntil(t, a, realtime.EventUserJoined).decode(t, &joined)
	assert.Equal(t, roomPayload{User: "bob", Room: "lobby"}, joined)

	t.Run("room message reaches members", func(t *testing.T) {
		send(t, b, realtime.EventMessage, fiber.Map{"message": "hi", "room": "lobby"})
		for _, conn := range []*websocket.Conn{a, b} {
			var msg chatPayload
			readUntil(t, conn, realtime.EventMessage).decode(t, &msg)
			assert.Equal(t, "bob", msg.User)
			assert.Equal(t, "hi", msg.Message)
			assert.Equal(t, "lobby", msg.Room)
			assert.NotEmpty(t, msg.Timestamp)
		}
	})

	t.Run("broadcast message is trimmed", func(t *testing.T) {
		send(t, b, realtime.EventMessage, fiber.Map{"message": "  hello all  "})
		var msg chatPayload
		readUntil(t, a, realtime.EventMessage).decode(t, &msg)
		assert.Equal(t, "hello all", msg.Message)
		assert.Empty(t, msg.Room)
		assert.Equal(t, 2, env.s.Analytics().UserStats(bob.ID).Messages)
	})

	t.Run("rejections", func(t *testing.T) {
		send(t, a, realtime.EventMessage, fiber.Map{"message": "psst", "room": "secret"})
		assert.Equal(t, realtime.ErrCodeNotMember, readError(t, a).Code)

		send(t, a, realtime.EventMessage, fiber.Map{"message": "   "})
		assert.Equal(t, realtime.ErrCodeValidation, readError(t, a).Code)

		send(t, a, realtime.EventJoinRoom, fiber.Map{"room": "user:bob"})
		assert.Equal(t, "Room is reserved", readError(t, a).Message)

		require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json")))
		assert.Equal(t, "Malformed event", readError(t, a).Message)

		send(t, a, realtime.EventDownloadProject, fiber.Map{"project_id": 9999})
		assert.Equal(t, models.CodeNotFound, readError(t, a).Code)
	})

	t.Run("leaving notifies the rest", func(t *testing.T) {
		send(t, b, realtime.EventLeaveRoom, fiber.Map{"room": "lobby"})
		var left roomPayload
		readUntil(t, a, realtime.EventUserLeft).decode(t, &left)
		assert.Equal(t, "bob", left.User)
	})
}

func TestWebSocketMutedUserCannotChat(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "root", models.RoleAdmin)
	bob := env.createUser(t, "bob", models.RoleUser)
	url := env.listen(t)

	b := connect(t, url, bob)

	resp := env.request(t, http.MethodPost, fmt.Sprintf("/api/admin/user/%d/mute", bob.ID), fiber.Map{"duration": 600}, tokenFor(t, admin))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	readUntil(t, b, realtime.EventUserMuted)

	send(t, b, realtime.EventMessage, fiber.Map{"message": "let me talk"})
	assert.Equal(t, realtime.ErrCodeMuted, readError(t, b).Code)
	assert.Zero(t, env.s.Analytics().UserStats(bob.ID).Messages)
}

func TestWebSocketVoiceEndsWhenConnectionCloses(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", models.RoleUser)
	bob := env.createUser(t, "bob", models.RoleUser)
	url := env.listen(t)

	a := connect(t, url, alice)
	b := connect(t, url, bob)

	send(t, a, realtime.EventJoinVoice, fiber.Map{"room": "voice-1"})
	barrier(t, a)

	send(t, b, realtime.EventJoinVoice, fiber.Map{"room": "voice-1"})
	var joined roomPayload
	readUntil(t, a, realtime.EventUserJoinedVoice).decode(t, &joined)
	assert.Equal(t, "bob", joined.User)
	assert.Equal(t, []string{"voice-1"}, env.s.Analytics().ActiveVoiceRooms())

	require.NoError(t, b.Close())

	var left roomPayload
	readUntil(t, a, realtime.EventUserLeftVoice).decode(t, &left)
	assert.Equal(t, roomPayload{User: "bob", Room: "voice-1"}, left)

	stats := env.s.Analytics().VoiceStats()
	assert.Equal(t, 2, stats.TotalSessions)
	assert.Equal(t, 1, stats.ActiveRooms)
}

func TestWebSocketChatMemberJoinsVoice(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", models.RoleUser)
	bob := env.createUser(t, "bob", models.RoleUser)
	url := env.listen(t)

	a := connect(t, url, alice)
	b := connect(t, url, bob)

	send(t, a, realtime.EventJoinRoom, fiber.Map{"room": "lobby"})
	barrier(t, a)
	send(t, b, realtime.EventJoinRoom, fiber.Map{"room": "lobby"})
	barrier(t, b)

	send(t, b, realtime.EventJoinVoice, fiber.Map{"room": "lobby"})
	var joined roomPayload
	readUntil(t, a, realtime.EventUserJoinedVoice).decode(t, &joined)
	assert.Equal(t, roomPayload{User: "bob", Room: "lobby"}, joined)
	assert.Equal(t, []string{"lobby"}, env.s.Analytics().ActiveVoiceRooms())

	// Leaving voice keeps the chat membership.
	send(t, b, realtime.EventLeaveVoice, fiber.Map{"room": "lobby"})
	readUntil(t, a, realtime.EventUserLeftVoice)
	assert.Empty(t, env.s.Analytics().ActiveVoiceRooms())

	send(t, a, realtime.EventMessage, fiber.Map{"room": "lobby", "message": "still here?"})
	readUntil(t, b, realtime.EventMessage)
}

func TestWebSocketVoiceEndsWithItsConnection(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", models.RoleUser)
	bob := env.createUser(t, "bob", models.RoleUser)
	url := env.listen(t)

	phone := connect(t, url, alice)
	laptop := connect(t, url, alice)
	b := connect(t, url, bob)

	send(t, b, realtime.EventJoinRoom, fiber.Map{"room": "voice-1"})
	barrier(t, b)

	send(t, phone, realtime.EventJoinVoice, fiber.Map{"room": "voice-1"})
	readUntil(t, b, realtime.EventUserJoinedVoice)
	assert.Equal(t, []string{"voice-1"}, env.s.Analytics().ActiveVoiceRooms())

	require.NoError(t, phone.Close())

	var left roomPayload
	readUntil(t, b, realtime.EventUserLeftVoice).decode(t, &left)
	assert.Equal(t, roomPayload{User: "alice", Room: "voice-1"}, left)
	assert.Empty(t, env.s.Analytics().ActiveVoiceRooms())

	barrier(t, laptop)
	assert.True(t, env.s.Hub().Presence().IsOnline(alice.ID))
}

func TestWebSocketLeaveVoiceIsPerRoom(t *testing.T) {
	env := newTestEnv(t)
	alice := env.createUser(t, "alice", models.RoleUser)
	url := env.listen(t)

	a := connect(t, url, alice)
	send(t, a, realtime.EventJoinVoice, fiber.Map{"room": "lobby"})
	send(t, a, realtime.EventJoinVoice, fiber.Map{"room": "dev"})
	barrier(t, a)
	assert.Equal(t, []string{"dev", "lobby"}, env.s.Analytics().ActiveVoiceRooms())

	send(t, a, realtime.EventLeaveVoice, fiber.Map{"room": "dev"})
	barrier(t, a)
	assert.Equal(t, []string{"lobby"}, env.s.Analytics().ActiveVoiceRooms())

	// Not in voice there: nothing to end.
	send(t, a, realtime.EventLeaveVoice, fiber.Map{"room": "dev"})
	barrier(t, a)
	assert.Equal(t, []string{"lobby"}, env.s.Analytics().ActiveVoiceRooms())
}

func TestWebSocketBanClosesConnection(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "root", models.RoleAdmin)
	bob := env.createUser(t, "bob", models.RoleUser)
	url := env.listen(t)

	b := connect(t, url, bob)

	resp := env.request(t, http.MethodPost, fmt.Sprintf("/api/admin/user/%d/ban", bob.ID), nil, tokenFor(t, admin))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	readUntil(t, b, realtime.EventUserBanned)

	require.NoError(t, b.SetReadDeadline(time.Now().Add(wsReadTimeout)))
	var err error
	for err == nil {
		_, _, err = b.ReadMessage()
	}
	var netErr net.Error
	assert.False(t, errors.As(err, &netErr) && netErr.Timeout(), "socket should be closed by the server")

	assert.Eventually(t, func() bool {
		return !env.s.Hub().Presence().IsOnline(bob.ID)
	}, time.Second, 10*time.Millisecond)
}

func TestWebSocketTicketStatusNotification(t *testing.T) {
	env := newTestEnv(t)
	admin := env.createUser(t, "root", models.RoleAdmin)
	alice := env.createUser(t, "alice", models.RoleUser)
	url := env.listen(t)

	resp := env.request(t, http.MethodPost, "/api/tickets", fiber.Map{
		"title":       "Login loop",
		"description": "Keeps redirecting",
	}, tokenFor(t, alice))
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	var ticket models.Ticket
	decode(t, resp, &ticket)

	a := connect(t, url, alice)

	resp = env.request(t, http.MethodPost, fmt.Sprintf("/api/admin/ticket/%d/status", ticket.ID), fiber.Map{"status": "in_progress"}, tokenFor(t, admin))
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var payload map[string]interface{}
	readUntil(t, a, realtime.EventTicketStatusChanged).decode(t, &payload)
	assert.Equal(t, "in_progress", payload["status"])
}
