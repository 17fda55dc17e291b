// Package logging provides the structured logger shared by every
// component of a node.
package logging

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/gochatmesh/noded/internal/contextkey"
)

// Logger wraps slog with context-aware enrichment: a log line carries the
// node, room and username stored on ctx under the internal/contextkey
// keys. No package in this node stores those keys yet, so lines carry
// only the fields each call site passes.
type Logger struct {
	slog *slog.Logger
}

// New creates a structured JSON logger at the given level ("debug", "info",
// "warn", "error"; defaults to "info" on parse failure).
func New(logLevel string) *Logger {
	level := new(slog.Level)
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		*level = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
	})

	return &Logger{slog: slog.New(handler)}
}

// WithContext returns a child logger enriched with the node/room/username
// carried on ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *slog.Logger {
	handler := l.slog.Handler()

	if nodeID, ok := ctx.Value(contextkey.ContextKeyNodeID).(string); ok && nodeID != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("node_id", nodeID)})
	}
	if roomID, ok := ctx.Value(contextkey.ContextKeyRoomID).(uuid.UUID); ok && roomID != uuid.Nil {
		handler = handler.WithAttrs([]slog.Attr{slog.String("room_id", roomID.String())})
	}
	if username, ok := ctx.Value(contextkey.ContextKeyUsername).(string); ok && username != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("username", username)})
	}

	return slog.New(handler)
}

// Info logs an info message. args is a slog key/value sequence
// (e.g. "room_id", roomID, "error", err), not printf verbs.
func (l *Logger) Info(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Info(msg, args...)
}

// Warn logs a warning message. args is a slog key/value sequence.
func (l *Logger) Warn(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Warn(msg, args...)
}

// Error logs an error message. args is a slog key/value sequence.
func (l *Logger) Error(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Error(msg, args...)
}

// Debug logs a debug message. args is a slog key/value sequence.
func (l *Logger) Debug(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Debug(msg, args...)
}

// Fatal logs an error message and exits. Reserved for unrecoverable
// startup failures. args is a slog key/value sequence.
func (l *Logger) Fatal(ctx context.Context, msg string, args ...interface{}) {
	l.WithContext(ctx).Error(msg, args...)
	os.Exit(1)
}
