package logging

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// FilterHandler drops records matching any configured substring. Rules are
// plain data so callers can pass them from configuration.
type FilterHandler struct {
	handler  slog.Handler
	suppress []string
	// preset holds string values from WithAttrs so they are matched too.
	preset []string
}

// NewFilterHandler creates a handler dropping records that mention any of
// the given substrings.
func NewFilterHandler(handler slog.Handler, suppress []string) *FilterHandler {
	rules := make([]string, 0, len(suppress))
	for _, s := range suppress {
		if s != "" {
			rules = append(rules, s)
		}
	}
	return &FilterHandler{handler: handler, suppress: rules}
}

// Enabled reports whether the handler handles records at the given level.
func (h *FilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

// Handle forwards the record unless it matches a rule.
func (h *FilterHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.matches(r.Message) {
		return nil
	}
	for _, p := range h.preset {
		if h.matches(p) {
			return nil
		}
	}
	dropped := false
	r.Attrs(func(a slog.Attr) bool {
		if a.Value.Kind() == slog.KindString && h.matches(a.Value.String()) {
			dropped = true
			return false
		}
		return true
	})
	if dropped {
		return nil
	}
	return h.handler.Handle(ctx, r)
}

// WithAttrs returns a new handler with attrs.
func (h *FilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	preset := append([]string(nil), h.preset...)
	for _, a := range attrs {
		if a.Value.Kind() == slog.KindString {
			preset = append(preset, a.Value.String())
		}
	}
	return &FilterHandler{
		handler:  h.handler.WithAttrs(attrs),
		suppress: h.suppress,
		preset:   preset,
	}
}

// WithGroup returns a new handler with a group.
func (h *FilterHandler) WithGroup(name string) slog.Handler {
	return &FilterHandler{
		handler:  h.handler.WithGroup(name),
		suppress: h.suppress,
		preset:   h.preset,
	}
}

func (h *FilterHandler) matches(s string) bool {
	for _, rule := range h.suppress {
		if strings.Contains(s, rule) {
			return true
		}
	}
	return false
}

// FanoutHandler sends every record to all wrapped handlers.
type FanoutHandler struct {
	handlers []slog.Handler
}

// NewFanoutHandler creates a handler writing to each of handlers.
func NewFanoutHandler(handlers ...slog.Handler) *FanoutHandler {
	return &FanoutHandler{handlers: handlers}
}

// Enabled reports whether any wrapped handler is enabled.
func (h *FanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle passes a clone of the record to each enabled handler.
func (h *FanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, hh := range h.handlers {
		if !hh.Enabled(ctx, r.Level) {
			continue
		}
		if err := hh.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithAttrs returns a new handler with attrs.
func (h *FanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithAttrs(attrs)
	}
	return &FanoutHandler{handlers: next}
}

// WithGroup returns a new handler with a group.
func (h *FanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		next[i] = hh.WithGroup(name)
	}
	return &FanoutHandler{handlers: next}
}
