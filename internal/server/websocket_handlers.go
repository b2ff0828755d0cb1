package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"codexverse/internal/middleware"
	"codexverse/internal/models"
	"codexverse/internal/observability"
	"codexverse/internal/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	maxChatMessageLength = 2000
	socketLookupTimeout  = 3 * time.Second

	actionConnect    = "connect"
	actionDisconnect = "disconnect"
)

type roomRequest struct {
	Room string `json:"room"`
}

type chatRequest struct {
	Message string `json:"message"`
	Room    string `json:"room"`
}

type downloadRequest struct {
	ProjectID uint `json:"project_id"`
}

type connectedPayload struct {
	UserID   uint     `json:"user_id"`
	Username string   `json:"username"`
	Rooms    []string `json:"rooms"`
}

type chatPayload struct {
	User      string `json:"user"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Room      string `json:"room,omitempty"`
}

type roomPayload struct {
	User string `json:"user"`
	Room string `json:"room"`
}

// RequireUpgrade rejects plain HTTP requests to the socket endpoint.
func (s *Server) RequireUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return models.RespondWithError(c, fiber.StatusUpgradeRequired,
			models.NewValidationError("WebSocket upgrade required"))
	}
}

// WebsocketHandler handles GET /api/ws
// @Summary Realtime socket
// @Description Upgrades to a WebSocket carrying {"type","payload"} events: message, join_room, leave_room, join_voice, leave_voice, download_project. Authenticate with ?ticket= from /ws/ticket or a Bearer header.
// @Tags realtime
// @Param ticket query string false "Single-use ticket"
// @Success 101
// @Failure 401 {object} models.ErrorResponse
// @Failure 426 {object} models.ErrorResponse
// @Router /ws [get]
func (s *Server) WebsocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		middleware.ActiveWebSockets.Inc()
		defer middleware.ActiveWebSockets.Dec()

		identity := socketIdentity(conn)

		client, err := s.hub.Register(identity, conn)
		if err != nil {
			middleware.Logger.Warn("websocket registration refused",
				slog.Uint64("user_id", uint64(identity.UserID)),
				slog.String("error", err.Error()),
			)
			if data, encErr := realtime.Encode(realtime.ErrorEvent(models.CodeValidation, err.Error())); encErr == nil {
				_ = conn.WriteMessage(websocket.TextMessage, data)
			}
			_ = conn.Close()
			return
		}

		client.IncomingHandler = s.handleSocketEvent
		s.onSocketConnect(client)

		go client.WritePump()
		client.ReadPump()

		s.onSocketDisconnect(client)
	})
}

// socketIdentity reads the user AuthRequired stored before the upgrade.
func socketIdentity(conn *websocket.Conn) realtime.Identity {
	user, ok := conn.Locals("user").(*models.User)
	if !ok || user == nil {
		return realtime.Identity{}
	}
	return realtime.Identity{UserID: user.ID, Username: user.Username, Role: user.Role}
}

func (s *Server) onSocketConnect(client *realtime.Client) {
	id := client.Identity
	if !id.Authenticated() {
		return
	}
	s.analytics.LogAction(id.UserID, actionConnect, nil)

	rooms := s.hub.Rooms(client)
	names := make([]string, len(rooms))
	for i, r := range rooms {
		names[i] = r.String()
	}
	client.SendEvent(realtime.Event{
		Type:    realtime.EventConnected,
		Payload: connectedPayload{UserID: id.UserID, Username: id.Username, Rooms: names},
	})
}

// onSocketDisconnect unregisters the client and ends the voice sessions this
// connection held. The user's other connections keep theirs.
func (s *Server) onSocketDisconnect(client *realtime.Client) {
	dep := s.hub.Unregister(client)

	id := client.Identity
	if !id.Authenticated() {
		return
	}
	s.analytics.LogAction(id.UserID, actionDisconnect, nil)

	for _, room := range dep.VoiceRooms {
		s.analytics.EndVoiceSessionIn(id.UserID, room.String())
		s.hub.BroadcastRoom(room, realtime.Event{
			Type:    realtime.EventUserLeftVoice,
			Payload: roomPayload{User: id.Username, Room: room.String()},
		}, nil)
	}
}

// handleSocketEvent dispatches one inbound frame. It runs on the client's
// read loop, so a sender's events are handled in order.
func (s *Server) handleSocketEvent(client *realtime.Client, data []byte) {
	if !client.Identity.Authenticated() {
		client.SendError(realtime.ErrCodeUnauthorized, "Authentication required")
		return
	}

	event, err := realtime.DecodeEvent(data)
	if err != nil {
		client.SendError(realtime.ErrCodeValidation, "Malformed event")
		return
	}

	_, span := observability.GetTraceLayer().TraceWebSocket(context.Background(), s.hub.Name(), event.Type)
	defer span.End()

	switch event.Type {
	case realtime.EventMessage:
		s.onChatMessage(client, event)
	case realtime.EventJoinRoom:
		s.onJoinRoom(client, event)
	case realtime.EventLeaveRoom:
		s.onLeaveRoom(client, event)
	case realtime.EventJoinVoice:
		s.onJoinVoice(client, event)
	case realtime.EventLeaveVoice:
		s.onLeaveVoice(client, event)
	case realtime.EventDownloadProject:
		s.onDownloadProject(client, event)
	default:
		client.SendError(realtime.ErrCodeValidation, "Unknown event type: "+event.Type)
	}
}

func (s *Server) onChatMessage(client *realtime.Client, event realtime.IncomingEvent) {
	var req chatRequest
	if err := event.DecodePayload(&req); err != nil {
		client.SendError(realtime.ErrCodeValidation, "Invalid message payload")
		return
	}
	text := strings.TrimSpace(req.Message)
	if text == "" {
		client.SendError(realtime.ErrCodeValidation, "message is required")
		return
	}
	if utf8.RuneCountInString(text) > maxChatMessageLength {
		client.SendError(realtime.ErrCodeValidation, "message is too long")
		return
	}

	var room realtime.Room
	if req.Room != "" {
		r, err := realtime.ParseRoom(req.Room)
		if err != nil {
			client.SendError(realtime.ErrCodeValidation, err.Error())
			return
		}
		if !s.hub.IsMember(client, r) {
			client.SendError(realtime.ErrCodeNotMember, "Join the room before sending to it")
			return
		}
		room = r
	}

	user, ok := s.socketUser(client)
	if !ok {
		return
	}
	now := s.now()
	if user.IsMuted(now) {
		client.SendError(realtime.ErrCodeMuted, "You are muted until "+user.MutedUntil.UTC().Format(time.RFC3339))
		return
	}

	s.analytics.RecordChat(user.ID, text)

	out := realtime.Event{
		Type: realtime.EventMessage,
		Payload: chatPayload{
			User:      user.Username,
			Message:   text,
			Timestamp: now.UTC().Format("15:04:05"),
			Room:      room.String(),
		},
	}
	if room == "" {
		s.hub.BroadcastAll(out)
		return
	}
	s.hub.BroadcastRoom(room, out, nil)
}

// socketUser reloads the sender so bans and mutes applied after connect take effect.
func (s *Server) socketUser(client *realtime.Client) (*models.User, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), socketLookupTimeout)
	defer cancel()

	user, err := s.userRepo.GetByID(ctx, client.Identity.UserID)
	switch {
	case err == nil && !user.IsBanned:
		return user, true
	case err == nil, models.HasCode(err, models.CodeNotFound):
		client.SendError(realtime.ErrCodeUnauthorized, "Account is no longer active")
	default:
		middleware.Logger.Error("websocket user lookup failed",
			slog.Uint64("user_id", uint64(client.Identity.UserID)),
			slog.String("error", err.Error()),
		)
		client.SendError(models.CodeInternal, "Internal server error")
	}
	return nil, false
}

// roomFromEvent decodes {"room": ...}, refusing other users' personal rooms.
func roomFromEvent(client *realtime.Client, event realtime.IncomingEvent) (realtime.Room, bool) {
	var req roomRequest
	if err := event.DecodePayload(&req); err != nil {
		client.SendError(realtime.ErrCodeValidation, "Invalid room payload")
		return "", false
	}
	room, err := realtime.ParseRoom(req.Room)
	if err != nil {
		client.SendError(realtime.ErrCodeValidation, err.Error())
		return "", false
	}
	if room.Personal() && room != realtime.UserRoom(client.Identity.Username) {
		client.SendError(realtime.ErrCodeValidation, "Room is reserved")
		return "", false
	}
	return room, true
}

func (s *Server) onJoinRoom(client *realtime.Client, event realtime.IncomingEvent) {
	room, ok := roomFromEvent(client, event)
	if !ok {
		return
	}
	if s.hub.Join(client, room) {
		s.hub.BroadcastRoom(room, realtime.Event{
			Type:    realtime.EventUserJoined,
			Payload: roomPayload{User: client.Identity.Username, Room: room.String()},
		}, client)
	}
}

func (s *Server) onLeaveRoom(client *realtime.Client, event realtime.IncomingEvent) {
	room, ok := roomFromEvent(client, event)
	if !ok {
		return
	}
	if s.hub.Leave(client, room) {
		s.hub.BroadcastRoom(room, realtime.Event{
			Type:    realtime.EventUserLeft,
			Payload: roomPayload{User: client.Identity.Username, Room: room.String()},
		}, nil)
	}
}

// onJoinVoice starts a voice session. Voice membership is tracked apart from
// chat membership, so a client already chatting in the room can still join
// voice, and joining voice twice is not counted twice.
func (s *Server) onJoinVoice(client *realtime.Client, event realtime.IncomingEvent) {
	room, ok := roomFromEvent(client, event)
	if !ok {
		return
	}
	if !s.hub.JoinVoice(client, room) {
		return
	}
	s.analytics.StartVoiceSession(client.Identity.UserID, room.String())
	s.hub.BroadcastRoom(room, realtime.Event{
		Type:    realtime.EventUserJoinedVoice,
		Payload: roomPayload{User: client.Identity.Username, Room: room.String()},
	}, client)
}

// onLeaveVoice ends the session in this room only.
func (s *Server) onLeaveVoice(client *realtime.Client, event realtime.IncomingEvent) {
	room, ok := roomFromEvent(client, event)
	if !ok {
		return
	}
	if !s.hub.LeaveVoice(client, room) {
		return
	}
	s.analytics.EndVoiceSessionIn(client.Identity.UserID, room.String())
	s.hub.BroadcastRoom(room, realtime.Event{
		Type:    realtime.EventUserLeftVoice,
		Payload: roomPayload{User: client.Identity.Username, Room: room.String()},
	}, nil)
}

func (s *Server) onDownloadProject(client *realtime.Client, event realtime.IncomingEvent) {
	var req downloadRequest
	if err := event.DecodePayload(&req); err != nil || req.ProjectID == 0 {
		client.SendError(realtime.ErrCodeValidation, "project_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), socketLookupTimeout)
	defer cancel()

	if _, err := s.projectService.Download(ctx, client.Identity.UserID, req.ProjectID); err != nil {
		var appErr *models.AppError
		if errors.As(err, &appErr) && appErr.Code != models.CodeInternal {
			client.SendError(appErr.Code, appErr.Message)
			return
		}
		middleware.Logger.Error("websocket download failed",
			slog.Uint64("project_id", uint64(req.ProjectID)),
			slog.String("error", err.Error()),
		)
		client.SendError(models.CodeInternal, "Internal server error")
	}
}
