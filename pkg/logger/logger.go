// Package logger defines the leveled logging interface shared by every
// component of the session core, with handlers backed by log/slog and
// zerolog.
package logger

// Logger accepts a message followed by alternating key/value pairs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// Nop discards everything. Useful as a default in tests.
type Nop struct{}

func (Nop) Error(string, ...any) {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Info(string, ...any)  {}
func (Nop) Debug(string, ...any) {}
