package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// ColorTextHandler wraps slog.TextHandler and prefixes the message with a
// colored level name when color is enabled.
type ColorTextHandler struct {
	*slog.TextHandler
	color bool
}

func NewColorTextHandler(w io.Writer, opts *slog.HandlerOptions, color bool) *ColorTextHandler {
	return &ColorTextHandler{
		TextHandler: slog.NewTextHandler(w, opts),
		color:       color,
	}
}

// Handle implements slog.Handler
func (h *ColorTextHandler) Handle(ctx context.Context, r slog.Record) error {
	if !h.color {
		return h.TextHandler.Handle(ctx, r)
	}
	var code string
	switch {
	case r.Level >= slog.LevelError:
		code = "\033[31m"
	case r.Level >= slog.LevelWarn:
		code = "\033[33m"
	case r.Level >= slog.LevelInfo:
		code = "\033[32m"
	default:
		code = "\033[36m"
	}
	r.Message = code + r.Level.String() + "\033[0m  " + r.Message
	return h.TextHandler.Handle(ctx, r)
}

func (h *ColorTextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ColorTextHandler{TextHandler: h.TextHandler.WithAttrs(attrs).(*slog.TextHandler), color: h.color}
}

func (h *ColorTextHandler) WithGroup(name string) slog.Handler {
	return &ColorTextHandler{TextHandler: h.TextHandler.WithGroup(name).(*slog.TextHandler), color: h.color}
}

// IsTerminal reports whether w is a terminal file descriptor.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// New builds the console logger: colored when w is a terminal, plain otherwise.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewColorTextHandler(w, &slog.HandlerOptions{Level: level}, IsTerminal(w)))
}
