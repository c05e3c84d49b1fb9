// Package logging provides structured logging for the signalling server.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates a structured logger for the given level and format.
// Supported levels: debug, info, warn, error. Supported formats: text, json.
func New(level, format string) *slog.Logger {
	return NewWithWriter(level, format, os.Stderr)
}

// NewWithWriter creates a structured logger writing to w.
func NewWithWriter(level, format string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Nop returns a logger that discards all output, used in tests.
func Nop() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Common attribute keys, kept consistent across every log site.
const (
	KeyPath        = "path"
	KeyPathNumber  = "path_number"
	KeySlot        = "slot"
	KeyRole        = "role"
	KeyRemoteAddr  = "remote_addr"
	KeyCloseCode   = "close_code"
	KeyReason      = "reason"
	KeyError       = "error"
	KeyResponderID = "responder_id"
	KeyCSN         = "csn"
	KeyDuration    = "duration"
)
