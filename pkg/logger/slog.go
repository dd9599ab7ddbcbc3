package logger

import (
	"log/slog"
	"os"
)

type SlogHandler struct {
	logger *slog.Logger
}

// New wraps a slog.Handler in the Logger interface.
func New(h slog.Handler) *SlogHandler {
	return &SlogHandler{logger: slog.New(h)}
}

// Default returns a JSON logger writing to stdout.
func Default() *SlogHandler {
	return New(slog.NewJSONHandler(os.Stdout, nil))
}

func (handler *SlogHandler) Error(msg string, args ...any) {
	handler.logger.Error(msg, args...)
}

func (handler *SlogHandler) Warn(msg string, args ...any) {
	handler.logger.Warn(msg, args...)
}

func (handler *SlogHandler) Info(msg string, args ...any) {
	handler.logger.Info(msg, args...)
}

func (handler *SlogHandler) Debug(msg string, args ...any) {
	handler.logger.Debug(msg, args...)
}
