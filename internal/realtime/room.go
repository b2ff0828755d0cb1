package realtime

import (
	"errors"
	"strings"
)

// MaxRoomLength is the longest room name accepted, in bytes.
const MaxRoomLength = 64

var ErrInvalidRoom = errors.New("room name must be 1-64 bytes")

// Room names a broadcast group. Chat rooms, voice rooms and per-user rooms
// share one namespace.
type Room string

// ParseRoom trims s and validates its length.
func ParseRoom(s string) (Room, error) {
	s = strings.TrimSpace(s)
	if s == "" || len(s) > MaxRoomLength {
		return "", ErrInvalidRoom
	}
	return Room(s), nil
}

const userRoomPrefix = "user:"

// UserRoom is the room every connection of username joins on connect.
func UserRoom(username string) Room {
	return Room(userRoomPrefix + username)
}

// Personal reports whether r is some user's private notification room.
func (r Room) Personal() bool {
	return strings.HasPrefix(string(r), userRoomPrefix)
}

func (r Room) String() string {
	return string(r)
}
