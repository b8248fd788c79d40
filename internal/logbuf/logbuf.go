// Package logbuf keeps the bounded in-memory session log: a ring buffer of
// leveled entries that live viewers can subscribe to, fed through a standard
// slog.Handler so every component logs the same way.
package logbuf

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jason-merrell/grok-auto-retry/pkg/models"
)

// LevelSuccess is a custom slog level for session-outcome lines. It sits
// between Info and Warn so default handlers still print it.
const LevelSuccess = slog.LevelInfo + 2

// Ring is a bounded append-only log buffer. The newest entry evicts the
// oldest once the capacity is reached.
type Ring struct {
	mu       sync.Mutex
	entries  []models.LogEntry
	start    int // index of the oldest entry
	count    int
	capacity int

	subs   map[int]func(models.LogEntry)
	nextID int
}

// NewRing creates a ring buffer holding at most capacity entries
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{
		entries:  make([]models.LogEntry, capacity),
		capacity: capacity,
		subs:     make(map[int]func(models.LogEntry)),
	}
}

// Append adds an entry, evicting the oldest if full, and broadcasts it to
// all live subscribers before returning.
func (r *Ring) Append(e models.LogEntry) {
	r.mu.Lock()
	idx := (r.start + r.count) % r.capacity
	if r.count == r.capacity {
		r.start = (r.start + 1) % r.capacity
	} else {
		r.count++
	}
	r.entries[idx] = e

	subs := make([]func(models.LogEntry), 0, len(r.subs))
	for _, fn := range r.subs {
		subs = append(subs, fn)
	}
	r.mu.Unlock()

	for _, fn := range subs {
		fn(e)
	}
}

// Entries returns a copy of the buffer, oldest first
func (r *Ring) Entries() []models.LogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.LogEntry, r.count)
	for i := 0; i < r.count; i++ {
		out[i] = r.entries[(r.start+i)%r.capacity]
	}
	return out
}

// Len returns the number of buffered entries
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Clear drops all buffered entries, keeping subscribers
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.start = 0
	r.count = 0
}

// Subscribe registers a live-view callback, returning an unsubscribe function.
// The callback runs on the appending goroutine; keep it cheap.
func (r *Ring) Subscribe(fn func(models.LogEntry)) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.subs, id)
		r.mu.Unlock()
	}
}

// Handler is a slog.Handler that appends every record to a Ring
type Handler struct {
	ring  *Ring
	level slog.Leveler
	attrs []slog.Attr
}

// NewHandler creates a ring-backed slog handler
func NewHandler(ring *Ring, level slog.Leveler) *Handler {
	return &Handler{ring: ring, level: level}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.level != nil {
		min = h.level.Level()
	}
	return level >= min
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	msg := r.Message
	appendAttr := func(a slog.Attr) bool {
		msg += " " + a.Key + "=" + a.Value.String()
		return true
	}
	for _, a := range h.attrs {
		appendAttr(a)
	}
	r.Attrs(appendAttr)

	t := r.Time
	if t.IsZero() {
		t = time.Now()
	}
	h.ring.Append(models.LogEntry{
		Time:    t,
		Level:   toModelLevel(r.Level),
		Message: msg,
	})
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &Handler{ring: h.ring, level: h.level, attrs: merged}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	// Groups collapse into flat keys; the ring view is a plain line log.
	return h
}

func toModelLevel(l slog.Level) models.LogLevel {
	switch {
	case l >= slog.LevelError:
		return models.LogError
	case l >= slog.LevelWarn:
		return models.LogWarn
	case l >= LevelSuccess:
		return models.LogSuccess
	default:
		return models.LogInfo
	}
}

// fanoutHandler wraps multiple handlers to write to multiple destinations
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: handlers}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &fanoutHandler{handlers: handlers}
}

// Fanout combines handlers into one that writes to all of them
func Fanout(handlers ...slog.Handler) slog.Handler {
	return &fanoutHandler{handlers: handlers}
}
