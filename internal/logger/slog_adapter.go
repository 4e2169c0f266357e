package logger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// NewSlogHandler returns a slog.Handler that forwards records to l.
// Attributes are rendered as key=value pairs after the message.
func NewSlogHandler(l *Logger) slog.Handler {
	if l == nil {
		return nil
	}
	return &slogHandler{log: l}
}

// Slog returns a *slog.Logger backed by the global logger.
func Slog() *slog.Logger {
	return slog.New(NewSlogHandler(Global()))
}

type slogHandler struct {
	log    *Logger
	group  string
	fields string
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return fromSlogLevel(level) >= h.log.GetLevel()
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	var b strings.Builder
	b.WriteString(record.Message)
	b.WriteString(h.fields)
	record.Attrs(func(attr slog.Attr) bool {
		appendAttr(&b, h.group, attr)
		return true
	})
	h.log.log(fromSlogLevel(record.Level), "%s", b.String())
	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var b strings.Builder
	b.WriteString(h.fields)
	for _, attr := range attrs {
		appendAttr(&b, h.group, attr)
	}
	return &slogHandler{log: h.log, group: h.group, fields: b.String()}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &slogHandler{log: h.log, group: joinKey(h.group, name), fields: h.fields}
}

func fromSlogLevel(level slog.Level) Level {
	switch {
	case level >= slog.LevelError:
		return LevelError
	case level >= slog.LevelWarn:
		return LevelWarn
	case level >= slog.LevelInfo:
		return LevelInfo
	default:
		return LevelDebug
	}
}

func appendAttr(b *strings.Builder, group string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		nested := joinKey(group, attr.Key)
		for _, a := range attr.Value.Group() {
			appendAttr(b, nested, a)
		}
		return
	}
	key := attr.Key
	if key == "" {
		key = "attr"
	}
	fmt.Fprintf(b, " %s=%v", joinKey(group, key), attr.Value)
}

func joinKey(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}
