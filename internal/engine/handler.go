package engine

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Chichichkin/forgelog/internal/logging"
)

// Handler is a slog.Handler feeding an Engine. Attributes end up in the
// record context, groups are flattened into dotted keys.
type Handler struct {
	engine *Engine
	label  string
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func NewHandler(e *Engine, label string, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelDebug
	}
	return &Handler{engine: e, label: label, level: level}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	fields := map[string]any{"logger_label": h.label}
	prefix := groupPrefix(h.groups)
	for _, a := range h.attrs {
		addAttr(fields, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(fields, prefix, a)
		return true
	})

	h.engine.logAt(r.PC, levelFromSlog(r.Level), r.Message, []logging.RecordOption{
		logging.WithContext(fields),
		logging.WithSource(h.label),
	})
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	prefix := groupPrefix(h.groups)
	h2.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		h2.attrs = append(h2.attrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

func groupPrefix(groups []string) string {
	if len(groups) == 0 {
		return ""
	}
	return strings.Join(groups, ".") + "."
}

func addAttr(fields map[string]any, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			addAttr(fields, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	fields[prefix+a.Key] = v.Any()
}

func levelFromSlog(l slog.Level) logging.Level {
	switch {
	case l < slog.LevelInfo:
		return logging.LevelDebug
	case l < slog.LevelWarn:
		return logging.LevelInfo
	case l < slog.LevelError:
		return logging.LevelWarn
	case l < slog.LevelError+4:
		return logging.LevelError
	default:
		return logging.LevelFatal
	}
}
