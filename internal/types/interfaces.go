package types

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// RealClock implements Clock using the real system time (always UTC).
type RealClock struct{}

// Now returns the current time in UTC.
func (RealClock) Now() time.Time { return time.Now().UTC() }

// IDGenerator produces identifiers for runs and messages.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator implements IDGenerator with random v4 UUIDs.
type UUIDGenerator struct{}

// NewID returns a new random UUID string.
func (UUIDGenerator) NewID() string { return uuid.NewString() }

// Logger defines the structured logging interface used by workers and
// notification components.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}

// slogLogger adapts *slog.Logger to Logger.
type slogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps l (or slog.Default when nil) as a Logger.
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return &slogLogger{logger: l}
}

func (a *slogLogger) Info(msg string, args ...any)  { a.logger.Info(msg, args...) }
func (a *slogLogger) Error(msg string, args ...any) { a.logger.Error(msg, args...) }
func (a *slogLogger) Warn(msg string, args ...any)  { a.logger.Warn(msg, args...) }
func (a *slogLogger) With(args ...any) Logger {
	return &slogLogger{logger: a.logger.With(args...)}
}
