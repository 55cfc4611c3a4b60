package alert

import (
	"context"
	"fmt"
	"log/slog"
)

// Handler wraps a slog.Handler and forwards Warn-and-above records to a
// Notifier, so every package's ordinary structured logging (kill switch
// trips, unwind failures, dead-zone settlements) also reaches the
// operator's phone without any package importing alert directly.
type Handler struct {
	next     slog.Handler
	notifier *Notifier
}

// NewHandler wraps next, forwarding records at slog.LevelWarn or above to
// notifier.
func NewHandler(next slog.Handler, notifier *Notifier) *Handler {
	return &Handler{next: next, notifier: notifier}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	if record.Level >= slog.LevelWarn && h.notifier != nil {
		msg := fmt.Sprintf("*%s*: %s", record.Level, record.Message)
		record.Attrs(func(a slog.Attr) bool {
			msg += fmt.Sprintf("\n%s=%v", a.Key, a.Value)
			return true
		})
		h.notifier.Notify(msg)
	}
	return h.next.Handle(ctx, record)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{next: h.next.WithAttrs(attrs), notifier: h.notifier}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{next: h.next.WithGroup(name), notifier: h.notifier}
}
