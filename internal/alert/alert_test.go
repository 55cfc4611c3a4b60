package alert

import (
	"context"
	"log/slog"
	"testing"
)

func TestParseChatIDHandlesEmptyAndMalformed(t *testing.T) {
	if got := ParseChatID(""); got != 0 {
		t.Errorf("ParseChatID(\"\") = %d, want 0", got)
	}
	if got := ParseChatID("not-a-number"); got != 0 {
		t.Errorf("ParseChatID(garbage) = %d, want 0", got)
	}
	if got := ParseChatID("123456789"); got != 123456789 {
		t.Errorf("ParseChatID = %d, want 123456789", got)
	}
}

func TestNilNotifierIsSafe(t *testing.T) {
	var n *Notifier
	n.Notify("should not panic")
	n.StartEventListener(nil, nil)
}

// recordingHandler captures every record passed to Handle.
type recordingHandler struct {
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.records = append(h.records, r)
	return nil
}
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func TestHandlerPassesThroughToNextRegardlessOfNotifier(t *testing.T) {
	next := &recordingHandler{}
	h := NewHandler(next, nil)
	logger := slog.New(h)

	logger.Warn("kill switch triggered")
	logger.Info("routine tick")

	if len(next.records) != 2 {
		t.Fatalf("got %d records forwarded to next handler, want 2", len(next.records))
	}
}

func TestHandlerIsEnabledDelegatesToNext(t *testing.T) {
	next := &recordingHandler{}
	h := NewHandler(next, nil)
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Errorf("Enabled() = false, want true")
	}
}
