package logger

import (
	"context"
	"io"
	"log/slog"
	"time"
)

const (
	moduleKey  = "module"
	traceIDKey = "trace_id"
)

// newTextHandler returns the console handler. The time attribute is
// dropped; the level is padded so messages line up.
func newTextHandler(w io.Writer, level slog.Level, tz *time.Location) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				lvl, ok := a.Value.Any().(slog.Level)
				if !ok {
					return a
				}
				return slog.String(slog.LevelKey, padLevel(levelName(lvl)))
			}
			if t, ok := a.Value.Any().(time.Time); ok && tz != nil {
				return slog.Time(a.Key, t.In(tz))
			}
			return a
		},
	}
	return slog.NewTextHandler(w, opts)
}

func levelName(l slog.Level) string {
	if l <= traceLevelValue {
		return "TRACE"
	}
	return l.String()
}

func padLevel(s string) string {
	for len(s) < maxLevelWidth {
		s += " "
	}
	return s
}

// parseSlogLevel maps a LogLevel to slog.Level
func parseSlogLevel(level LogLevel) slog.Level {
	return parseLogLevel(string(level))
}

// NewSlogLogger creates a standalone Logger writing text to w. A nil
// writer discards output. Intended for tests and CLI one-shots that run
// before the central logger exists.
func NewSlogLogger(w io.Writer, level LogLevel, tz *time.Location) Logger {
	if w == nil {
		w = io.Discard
	}
	if tz == nil {
		tz = time.Local
	}
	lvl := parseSlogLevel(level)
	return &moduleLogger{
		logger:   slog.New(newTextHandler(w, lvl, tz)),
		level:    lvl,
		timezone: tz,
	}
}

// discardHandler drops every record. Used by the fallback logger
// returned for nil receivers.
type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool { return false }

//nolint:gocritic // slog.Handler interface requires record by value
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler    { return d }
func (d discardHandler) WithGroup(string) slog.Handler         { return d }

// NewNopLogger returns a Logger that writes nothing.
func NewNopLogger() Logger {
	return &moduleLogger{
		logger:   slog.New(discardHandler{}),
		level:    slog.LevelError + 1,
		timezone: time.UTC,
	}
}
