package service

import (
	"codexverse/internal/realtime"
)

// EventPublisher is the slice of realtime.Hub the services push events through.
type EventPublisher interface {
	BroadcastAll(event realtime.Event) int
	BroadcastRoom(room realtime.Room, event realtime.Event, exclude *realtime.Client) int
	DisconnectUser(userID uint) int
}

// ActionLogger records audited actions; analytics.Aggregator implements it.
type ActionLogger interface {
	LogAction(userID uint, action string, details map[string]string)
}

type nopPublisher struct{}

func (nopPublisher) BroadcastAll(realtime.Event) int                                  { return 0 }
func (nopPublisher) BroadcastRoom(realtime.Room, realtime.Event, *realtime.Client) int { return 0 }
func (nopPublisher) DisconnectUser(uint) int                                          { return 0 }

type nopActionLogger struct{}

func (nopActionLogger) LogAction(uint, string, map[string]string) {}
