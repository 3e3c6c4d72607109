// Package logging wraps zerolog with the four-level verbosity knob the spec
// calls for: disabled, thread, protocol, application.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// Level is the runtime-settable verbosity described in spec §6 Environment.
type Level int

const (
	Disabled Level = iota
	Thread
	Protocol
	Application
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case Disabled:
		return zerolog.Disabled
	case Thread:
		return zerolog.InfoLevel
	case Protocol:
		return zerolog.DebugLevel
	case Application:
		return zerolog.TraceLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger is a leveled sink shared by the client connection, the server, and
// the peer mesh. The logging methods may be called concurrently, since each
// call only reads the zerolog.Logger value. SetLevel writes the level and
// the zerolog.Logger without synchronization, so it is not safe to call
// concurrently with any other method.
type Logger struct {
	base  zerolog.Logger
	level Level
}

// New builds a Logger writing JSON lines to w at the given verbosity.
func New(w io.Writer, level Level) *Logger {
	base := zerolog.New(w).With().Timestamp().Logger().Level(level.zerolog())
	return &Logger{base: base, level: level}
}

// Default returns a Logger writing to stderr at Thread verbosity, the
// module's out-of-the-box level.
func Default() *Logger {
	return New(os.Stderr, Thread)
}

// SetLevel changes the logger's verbosity at runtime.
func (l *Logger) SetLevel(level Level) {
	l.level = level
	l.base = l.base.Level(level.zerolog())
}

// Level returns the logger's current verbosity.
func (l *Logger) Level() Level {
	return l.level
}

// Thread logs an I/O-thread or worker-pool lifecycle event (accept,
// teardown, shutdown phase transitions).
func (l *Logger) Thread(format string, args ...interface{}) {
	l.base.Info().Msgf(format, args...)
}

// Protocol logs frame/handshake/close-code detail.
func (l *Logger) Protocol(format string, args ...interface{}) {
	l.base.Debug().Msgf(format, args...)
}

// Application logs per-message dispatch detail, including payload sizes.
func (l *Logger) Application(format string, args ...interface{}) {
	l.base.Trace().Msgf(format, args...)
}

// Errorf logs a failure that does not, by itself, indicate a shutdown.
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.base.Error().Msgf(format, args...)
}
