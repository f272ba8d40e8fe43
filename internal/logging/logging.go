// Package logging builds the process logger.
package logging

import (
	"io"
	"log/slog"
	"strings"
)

// Options selects the handler and level.
type Options struct {
	Format  string // "text" (default) or "json"
	Verbose bool   // DEBUG instead of INFO
}

// New returns a logger writing to w.
func New(w io.Writer, opt Options) *slog.Logger {
	level := slog.LevelInfo
	if opt.Verbose {
		level = slog.LevelDebug
	}
	ho := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if strings.EqualFold(opt.Format, "json") {
		h = slog.NewJSONHandler(w, ho)
	} else {
		h = slog.NewTextHandler(w, ho)
	}
	return slog.New(h)
}

// Stage returns a child logger tagged with the stage. The run attribute is
// expected on l already.
func Stage(l *slog.Logger, stage string) *slog.Logger {
	return l.With("stage", stage)
}

// Discard is a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
