package logger

import (
	"io"
	"log/slog"
	"os"
)

const service = "binledger"

func New(env string) *slog.Logger {
	return NewTo(os.Stdout, env)
}

// NewTo: в dev человекочитаемый текст и уровень debug, иначе JSON с info.
func NewTo(w io.Writer, env string) *slog.Logger {
	level := slog.LevelInfo
	var h slog.Handler
	if env == "dev" {
		level = slog.LevelDebug
		h = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		h = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}
	return slog.New(h).With("service", service, "env", env)
}
