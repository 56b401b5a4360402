// ABOUTME: slog.Handler that tees records into the audit ring
// ABOUTME: Defines LevelSuccess and the dashboard level names

package auditlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LevelSuccess marks a completed operator-visible operation.
const LevelSuccess = slog.Level(2)

// LevelName returns the dashboard name for a level.
func LevelName(l slog.Level) string {
	switch {
	case l >= slog.LevelError:
		return "ERROR"
	case l >= slog.LevelWarn:
		return "WARN"
	case l >= LevelSuccess:
		return "SUCCESS"
	case l >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// Handler forwards every record to an inner handler and appends records at or
// above min to a Ring.
type Handler struct {
	inner  slog.Handler
	ring   *Ring
	min    slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewHandler wraps inner. A nil min defaults to INFO.
func NewHandler(inner slog.Handler, ring *Ring, min slog.Leveler) *Handler {
	if min == nil {
		min = slog.LevelInfo
	}
	return &Handler{inner: inner, ring: ring, min: min}
}

// Enabled reports whether either destination wants the level.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min.Level() || h.inner.Enabled(ctx, level)
}

// Handle appends to the ring and passes the record on.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.min.Level() {
		h.ring.AppendLine(Line{
			Timestamp: r.Time.UTC(),
			Level:     LevelName(r.Level),
			Message:   h.format(r),
		})
	}
	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

// WithAttrs returns a handler carrying attrs on both destinations.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.inner = h.inner.WithAttrs(attrs)
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), prefixAttrs(h.prefix, attrs)...)
	return &next
}

// WithGroup returns a handler that qualifies later attrs with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.inner = h.inner.WithGroup(name)
	next.prefix = h.prefix + name + "."
	return &next
}

// format renders "message key=value ..." with the component first.
func (h *Handler) format(r slog.Record) string {
	var b strings.Builder
	attrs := append([]slog.Attr(nil), h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, prefixAttrs(h.prefix, []slog.Attr{a})...)
		return true
	})

	for _, a := range attrs {
		if a.Key == "component" {
			fmt.Fprintf(&b, "[%s] ", a.Value.String())
			break
		}
	}
	b.WriteString(r.Message)
	for _, a := range attrs {
		if a.Key == "component" {
			continue
		}
		fmt.Fprintf(&b, " %s=%s", a.Key, a.Value.Resolve().String())
	}
	return b.String()
}

func prefixAttrs(prefix string, attrs []slog.Attr) []slog.Attr {
	if prefix == "" {
		return attrs
	}
	out := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		out[i] = slog.Attr{Key: prefix + a.Key, Value: a.Value}
	}
	return out
}
