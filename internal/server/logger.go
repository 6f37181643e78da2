package server

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger returns a slog.Logger formatted for env.
// prod: JSON logs at INFO level
// others: text logs at DEBUG level
// A non-empty level overrides the default level.
func NewLogger(w io.Writer, env, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: slog.LevelDebug}
	if env == "prod" {
		opts.Level = slog.LevelInfo
	}
	if level != "" {
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(strings.ToUpper(level))); err == nil {
			opts.Level = lvl
		}
	}

	var handler slog.Handler
	if env == "prod" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}
