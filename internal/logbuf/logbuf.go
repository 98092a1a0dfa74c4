// Package logbuf captures recent slog records in a ring buffer so the ops
// API can serve them without touching process stdout.
package logbuf

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is a single captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Buffer is a thread-safe ring buffer of log entries.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	count   int
}

// New creates a ring buffer that holds up to size entries.
func New(size int) *Buffer {
	return &Buffer{entries: make([]Entry, size), size: size}
}

// Write appends an entry, overwriting the oldest once full.
func (b *Buffer) Write(e Entry) {
	b.mu.Lock()
	b.entries[b.pos] = e
	b.pos = (b.pos + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	b.mu.Unlock()
}

// Query returns entries at or above minLevel since the given time, oldest
// first. A zero since matches everything; limit <= 0 means no limit.
func (b *Buffer) Query(since time.Time, minLevel slog.Level, limit int) []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	if b.count == b.size {
		start = b.pos // oldest entry once the buffer has wrapped
	}

	var result []Entry
	for i := 0; i < b.count; i++ {
		e := b.entries[(start+i)%b.size]
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		if levelOf(e.Level) < minLevel {
			continue
		}
		result = append(result, e)
	}

	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}

func levelOf(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// Handler is an slog.Handler that tees records into a Buffer before
// delegating to an inner handler.
type Handler struct {
	inner  slog.Handler
	buf    *Buffer
	attrs  []slog.Attr
	groups []string
}

// NewHandler wraps inner so every record is also captured in buf.
func NewHandler(inner slog.Handler, buf *Buffer) *Handler {
	return &Handler{inner: inner, buf: buf}
}

// Enabled always reports true: the buffer captures every level, and the
// inner handler applies its own filter in Handle.
func (h *Handler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]any)
	for _, a := range h.attrs {
		attrs[a.Key] = resolve(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[h.key(a.Key)] = resolve(a.Value)
		return true
	})
	if len(attrs) == 0 {
		attrs = nil
	}

	h.buf.Write(Entry{
		Time:    r.Time,
		Level:   r.Level.String(),
		Message: r.Message,
		Attrs:   attrs,
	})

	if h.inner.Enabled(ctx, r.Level) {
		return h.inner.Handle(ctx, r)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Keys are group-prefixed at attach time: groups opened later must not
	// apply to attrs that came before them.
	pre := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		pre = append(pre, slog.Attr{Key: h.key(a.Key), Value: a.Value})
	}
	return &Handler{
		inner:  h.inner.WithAttrs(attrs),
		buf:    h.buf,
		attrs:  append(append([]slog.Attr{}, h.attrs...), pre...),
		groups: h.groups,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		inner:  h.inner.WithGroup(name),
		buf:    h.buf,
		attrs:  h.attrs,
		groups: append(append([]string{}, h.groups...), name),
	}
}

func (h *Handler) key(k string) string {
	for i := len(h.groups) - 1; i >= 0; i-- {
		k = h.groups[i] + "." + k
	}
	return k
}

// resolve converts slog values to JSON-safe types. Errors become their
// string form so they don't serialize to {}.
func resolve(v slog.Value) any {
	v = v.Resolve()
	raw := v.Any()
	if err, ok := raw.(error); ok {
		return err.Error()
	}
	return raw
}
