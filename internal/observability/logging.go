// Package observability provides logging, metrics, and tracing.
package observability

import (
	"context"
	"log/slog"
	"sync/atomic"
)

var globalLogger atomic.Pointer[slog.Logger]

// SetLogger routes observability output through l (usually middleware.Logger).
func SetLogger(l *slog.Logger) {
	if l != nil {
		globalLogger.Store(l)
	}
}

func logger() *slog.Logger {
	if l := globalLogger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// WSLogger provides structured logging for WebSocket operations.
type WSLogger struct {
	hubName string
	enabled bool
}

// NewWSLogger creates a new WSLogger for the given hub.
func NewWSLogger(hubName string) *WSLogger {
	return &WSLogger{hubName: hubName, enabled: true}
}

// SetEnabled toggles socket logging; tests use it to keep output quiet.
func (l *WSLogger) SetEnabled(enabled bool) {
	l.enabled = enabled
}

// LogConnect logs a WebSocket connection event.
func (l *WSLogger) LogConnect(ctx context.Context, userID uint, username string) {
	if !l.enabled {
		return
	}
	logger().InfoContext(ctx, "websocket connected",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("username", username),
	)
}

// LogDisconnect logs a WebSocket disconnection event.
func (l *WSLogger) LogDisconnect(ctx context.Context, userID uint, reason string, roomsLeft int) {
	if !l.enabled {
		return
	}
	logger().InfoContext(ctx, "websocket disconnected",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("reason", reason),
		slog.Int("rooms_left", roomsLeft),
	)
}

// LogError logs a WebSocket error event.
func (l *WSLogger) LogError(ctx context.Context, userID uint, room string, err error, eventType string) {
	if !l.enabled || err == nil {
		return
	}
	logger().ErrorContext(ctx, "websocket error",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("room", room),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// LogMessage logs an incoming WebSocket event at debug level.
func (l *WSLogger) LogMessage(ctx context.Context, userID uint, room string, eventType string) {
	if !l.enabled {
		return
	}
	logger().DebugContext(ctx, "websocket message",
		slog.String("hub", l.hubName),
		slog.Uint64("user_id", uint64(userID)),
		slog.String("room", room),
		slog.String("event_type", eventType),
	)
}

// LogLifecycle logs a WebSocket hub lifecycle event.
func (l *WSLogger) LogLifecycle(ctx context.Context, event string, fields map[string]interface{}) {
	if !l.enabled {
		return
	}
	attrs := []any{
		slog.String("hub", l.hubName),
		slog.String("event", event),
	}
	for k, v := range fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	logger().InfoContext(ctx, "websocket lifecycle", attrs...)
}
