package realtime

import (
	"errors"

	"github.com/goccy/go-json"
)

// Event types exchanged over the socket.
const (
	EventConnected           = "connected"
	EventMessage             = "message"
	EventJoinRoom            = "join_room"
	EventLeaveRoom           = "leave_room"
	EventJoinVoice           = "join_voice"
	EventLeaveVoice          = "leave_voice"
	EventDownloadProject     = "download_project"
	EventUserJoined          = "user_joined"
	EventUserLeft            = "user_left"
	EventUserJoinedVoice     = "user_joined_voice"
	EventUserLeftVoice       = "user_left_voice"
	EventUserBanned          = "user_banned"
	EventUserMuted           = "user_muted"
	EventUserUnmuted         = "user_unmuted"
	EventUserDeleted         = "user_deleted"
	EventTicketStatusChanged = "ticket_status_changed"
	EventError               = "error"
	EventMessagesDropped     = "messages_dropped"
)

// Error codes carried by error events.
const (
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeMuted        = "MUTED"
	ErrCodeNotMember    = "NOT_MEMBER"
)

// Event is the wire envelope {"type": "...", "payload": {...}}.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// IncomingEvent is an event read from a client; Payload is decoded per type.
type IncomingEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ErrorPayload is the body of an error event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorEvent builds an error event for the sender.
func ErrorEvent(code, message string) Event {
	return Event{Type: EventError, Payload: ErrorPayload{Code: code, Message: message}}
}

// Encode marshals an event for the wire.
func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

var errMissingType = errors.New("event type is required")

// DecodeEvent parses an inbound frame.
func DecodeEvent(data []byte) (IncomingEvent, error) {
	var in IncomingEvent
	if err := json.Unmarshal(data, &in); err != nil {
		return IncomingEvent{}, err
	}
	if in.Type == "" {
		return IncomingEvent{}, errMissingType
	}
	return in, nil
}

// DecodePayload unmarshals the payload into dest. An absent payload leaves dest untouched.
func (e IncomingEvent) DecodePayload(dest interface{}) error {
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return nil
	}
	return json.Unmarshal(e.Payload, dest)
}
