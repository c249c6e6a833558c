package logging

import (
	"context"
	"errors"
	"log/slog"
)

// AttrFunc returns attributes computed when a record is handled, such as the
// state of the tracking session at that moment.
type AttrFunc func(ctx context.Context) []slog.Attr

// fanout hands each record to every handler that accepts its level.
type fanout []slog.Handler

// Fanout combines handlers. Nil handlers are skipped; a single handler is
// returned as is.
func Fanout(handlers ...slog.Handler) slog.Handler {
	var out fanout
	for _, h := range handlers {
		if h != nil {
			out = append(out, h)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return out
}

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle delivers r to every enabled handler, even when one of them fails.
func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	return f.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (f fanout) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f fanout) each(fn func(slog.Handler) slog.Handler) fanout {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = fn(h)
	}
	return out
}

// dynamic appends the attributes of fn to every record it handles. fn runs
// only for records that pass the level check.
type dynamic struct {
	next slog.Handler
	fn   AttrFunc
}

// WithDynamicAttrs wraps next so every record carries the attributes
// returned by fn at handling time. A nil fn returns next unchanged.
func WithDynamicAttrs(next slog.Handler, fn AttrFunc) slog.Handler {
	if fn == nil {
		return next
	}
	return &dynamic{next: next, fn: fn}
}

func (d *dynamic) Enabled(ctx context.Context, level slog.Level) bool {
	return d.next.Enabled(ctx, level)
}

func (d *dynamic) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(d.fn(ctx)...)
	return d.next.Handle(ctx, r)
}

func (d *dynamic) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dynamic{next: d.next.WithAttrs(attrs), fn: d.fn}
}

func (d *dynamic) WithGroup(name string) slog.Handler {
	if name == "" {
		return d
	}
	return &dynamic{next: d.next.WithGroup(name), fn: d.fn}
}
