// Package logging builds the slog logger used by the tokenguard command.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/MrEthical07/tokenguard"
)

// New returns a logger writing to w. Format "text" selects the text handler,
// anything else JSON. Every record carries service=tokenguard.
func New(cfg tokenguard.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler.WithAttrs([]slog.Attr{
		slog.String("service", "tokenguard"),
	}))
}

// ParseLevel maps debug, info, warn and error to slog levels. Unknown values
// are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
