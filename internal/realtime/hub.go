// Package realtime tracks live websocket clients, presence and room
// membership, and fans events out to them.
package realtime

import (
	"context"
	"errors"
	"sort"
	"sync"

	"codexverse/internal/observability"

	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
)

const (
	// Max connections per user
	maxConnsPerUser = 12
	// Max total connections
	maxTotalConns = 10000
)

var (
	ErrServerConnLimit = errors.New("server connection limit reached")
	ErrUserConnLimit   = errors.New("user connection limit reached")
)

// Hub owns every client, the per-user connection sets and room membership
// under one RWMutex. Fan-out collects recipients under the read lock and
// enqueues after releasing it.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	users   map[uint]map[*Client]struct{}
	rooms   map[Room]map[*Client]struct{}

	presence *Presence
	log      *observability.WSLogger
}

// NewHub creates a Hub. The optional Redis client backs the presence mirror.
func NewHub(redisClients ...*redis.Client) *Hub {
	var rdb *redis.Client
	if len(redisClients) > 0 {
		rdb = redisClients[0]
	}
	return &Hub{
		clients:  make(map[*Client]struct{}),
		users:    make(map[uint]map[*Client]struct{}),
		rooms:    make(map[Room]map[*Client]struct{}),
		presence: NewPresence(rdb),
		log:      observability.NewWSLogger("realtime"),
	}
}

// Name returns a human-readable identifier for this hub.
func (h *Hub) Name() string { return "realtime hub" }

// Presence exposes the online set.
func (h *Hub) Presence() *Presence { return h.presence }

// Register adds a connection for identity, marks the user online and joins
// the per-username room. Another connection for the same identity is fine up
// to the per-user limit.
func (h *Hub) Register(identity Identity, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()

	if len(h.clients) >= maxTotalConns {
		h.mu.Unlock()
		return nil, ErrServerConnLimit
	}
	if len(h.users[identity.UserID]) >= maxConnsPerUser {
		h.mu.Unlock()
		return nil, ErrUserConnLimit
	}

	client := newClient(h, conn, identity)
	h.clients[client] = struct{}{}

	if identity.Authenticated() {
		m, ok := h.users[identity.UserID]
		if !ok {
			m = make(map[*Client]struct{})
			h.users[identity.UserID] = m
		}
		m[client] = struct{}{}
		h.joinLocked(client, UserRoom(identity.Username), memberChat)
	}
	h.mu.Unlock()

	if identity.Authenticated() {
		h.presence.Connect(context.Background(), identity.UserID)
		h.log.LogConnect(context.Background(), identity.UserID, identity.Username)
	}
	return client, nil
}

// membership records how a client is in a room. A client stays in the room's
// fan-out set while any bit is set.
type membership uint8

const (
	memberChat membership = 1 << iota
	memberVoice
)

// Departure is what a client left when it was unregistered, sorted.
type Departure struct {
	Rooms      []Room
	VoiceRooms []Room
}

// Unregister removes the client from every room and from presence, and
// closes its Send channel. Calling it again returns an empty Departure.
func (h *Hub) Unregister(client *Client) Departure {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return Departure{}
	}
	delete(h.clients, client)

	var dep Departure
	dep.Rooms = make([]Room, 0, len(client.rooms))
	for room, m := range client.rooms {
		dep.Rooms = append(dep.Rooms, room)
		if m&memberVoice != 0 {
			dep.VoiceRooms = append(dep.VoiceRooms, room)
		}
		h.leaveLocked(client, room, m)
	}

	uid := client.Identity.UserID
	if m, ok := h.users[uid]; ok {
		delete(m, client)
		if len(m) == 0 {
			delete(h.users, uid)
		}
	}
	h.mu.Unlock()

	client.close()
	if client.Identity.Authenticated() {
		h.presence.Disconnect(context.Background(), uid)
		h.log.LogDisconnect(context.Background(), uid, "closed", len(dep.Rooms))
	}

	sortRooms(dep.Rooms)
	sortRooms(dep.VoiceRooms)
	return dep
}

// Join adds the client to room as a chat member. It returns false when the
// client already was one or is no longer registered.
func (h *Hub) Join(client *Client, room Room) bool {
	return h.join(client, room, memberChat)
}

// Leave drops the client's chat membership of room. It returns false when it
// was not a chat member.
func (h *Hub) Leave(client *Client, room Room) bool {
	return h.leave(client, room, memberChat)
}

// JoinVoice adds the client to room's voice channel, independent of its chat
// membership. It returns false when the client already was in voice there or
// is no longer registered.
func (h *Hub) JoinVoice(client *Client, room Room) bool {
	return h.join(client, room, memberVoice)
}

// LeaveVoice drops the client from room's voice channel.
func (h *Hub) LeaveVoice(client *Client, room Room) bool {
	return h.leave(client, room, memberVoice)
}

func (h *Hub) join(client *Client, room Room, kind membership) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return false
	}
	return h.joinLocked(client, room, kind)
}

func (h *Hub) leave(client *Client, room Room, kind membership) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.leaveLocked(client, room, kind)
}

func (h *Hub) joinLocked(client *Client, room Room, kind membership) bool {
	current := client.rooms[room]
	if current&kind != 0 {
		return false
	}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
		observability.WebSocketRooms.Set(float64(len(h.rooms)))
	}
	members[client] = struct{}{}
	client.rooms[room] = current | kind
	return true
}

func (h *Hub) leaveLocked(client *Client, room Room, kind membership) bool {
	current, ok := client.rooms[room]
	if !ok || current&kind == 0 {
		return false
	}
	if rest := current &^ kind; rest != 0 {
		client.rooms[room] = rest
		return true
	}
	delete(client.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
			observability.WebSocketRooms.Set(float64(len(h.rooms)))
		}
	}
	return true
}

// IsMember reports whether the client is in room, by chat or voice.
func (h *Hub) IsMember(client *Client, room Room) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := client.rooms[room]
	return ok
}

// InVoice reports whether the client is in room's voice channel.
func (h *Hub) InVoice(client *Client, room Room) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return client.rooms[room]&memberVoice != 0
}

func sortRooms(rooms []Room) {
	sort.Slice(rooms, func(i, j int) bool { return rooms[i] < rooms[j] })
}

// Rooms lists the rooms the client has joined, sorted.
func (h *Hub) Rooms(client *Client) []Room {
	h.mu.RLock()
	rooms := make([]Room, 0, len(client.rooms))
	for room := range client.rooms {
		rooms = append(rooms, room)
	}
	h.mu.RUnlock()

	sortRooms(rooms)
	return rooms
}

// Members returns the distinct identities connected to room.
func (h *Hub) Members(room Room) []Identity {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[uint]struct{})
	out := make([]Identity, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if _, dup := seen[c.Identity.UserID]; dup {
			continue
		}
		seen[c.Identity.UserID] = struct{}{}
		out = append(out, c.Identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastRoom delivers event to every member of room except exclude, which
// may be nil. It returns the number of clients the event was enqueued for.
func (h *Hub) BroadcastRoom(room Room, event Event, exclude *Client) int {
	h.mu.RLock()
	recipients := make([]*Client, 0, len(h.rooms[room]))
	for c := range h.rooms[room] {
		if c != exclude {
			recipients = append(recipients, c)
		}
	}
	h.mu.RUnlock()

	return h.deliver(recipients, event, "room")
}

// BroadcastAll delivers event to every connected client.
func (h *Hub) BroadcastAll(event Event) int {
	h.mu.RLock()
	recipients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	return h.deliver(recipients, event, "global")
}

// SendToUser delivers event to every connection of the user.
func (h *Hub) SendToUser(userID uint, event Event) int {
	h.mu.RLock()
	recipients := make([]*Client, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	return h.deliver(recipients, event, "user")
}

// DisconnectUser closes every connection of the user. Membership is released
// when each client's read loop exits and the owner unregisters it.
func (h *Hub) DisconnectUser(userID uint) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.close()
	}
	return len(targets)
}

func (h *Hub) deliver(recipients []*Client, event Event, scope string) int {
	if len(recipients) == 0 {
		return 0
	}
	data, err := Encode(event)
	if err != nil {
		h.log.LogError(context.Background(), 0, "", err, event.Type)
		return 0
	}

	delivered := 0
	for _, c := range recipients {
		if c.TrySend(data) {
			delivered++
		}
	}
	observability.MessageThroughput.WithLabelValues(scope, event.Type).Add(float64(delivered))
	return delivered
}

// Shutdown unregisters every client; each WritePump then sends a close frame.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.Unregister(c)
	}
	return nil
}
