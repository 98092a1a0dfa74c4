package logbuf

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestBufferWraps(t *testing.T) {
	b := New(3)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		b.Write(Entry{
			Time:    base.Add(time.Duration(i) * time.Second),
			Level:   "INFO",
			Message: string(rune('a' + i)),
		})
	}

	got := b.Query(time.Time{}, slog.LevelDebug, 0)
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	// Oldest two were overwritten; the rest come back oldest first.
	if got[0].Message != "c" || got[2].Message != "e" {
		t.Errorf("entries = %v, %v, %v", got[0].Message, got[1].Message, got[2].Message)
	}
}

func TestQueryFilters(t *testing.T) {
	b := New(10)
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b.Write(Entry{Time: base, Level: "DEBUG", Message: "dbg"})
	b.Write(Entry{Time: base.Add(time.Second), Level: "INFO", Message: "inf"})
	b.Write(Entry{Time: base.Add(2 * time.Second), Level: "ERROR", Message: "err"})

	got := b.Query(time.Time{}, slog.LevelInfo, 0)
	if len(got) != 2 {
		t.Fatalf("level filter: got %d entries, want 2", len(got))
	}

	got = b.Query(base.Add(2*time.Second), slog.LevelDebug, 0)
	if len(got) != 1 || got[0].Message != "err" {
		t.Errorf("since filter: got %+v", got)
	}

	got = b.Query(time.Time{}, slog.LevelDebug, 1)
	if len(got) != 1 || got[0].Message != "err" {
		t.Errorf("limit keeps the newest: got %+v", got)
	}
}

func TestHandlerCapturesRecords(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
	logger := slog.New(NewHandler(inner, buf))

	logger.Info("hello", "user", "u1")
	// Below the inner handler's level, but the buffer still records it.
	logger.Debug("quiet")

	got := buf.Query(time.Time{}, slog.LevelDebug, 0)
	if len(got) != 2 {
		t.Fatalf("captured %d entries, want 2", len(got))
	}
	if got[0].Message != "hello" || got[0].Attrs["user"] != "u1" {
		t.Errorf("entry = %+v", got[0])
	}
}

func TestHandlerWithAttrsAndGroups(t *testing.T) {
	buf := New(10)
	inner := slog.NewTextHandler(io.Discard, nil)
	logger := slog.New(NewHandler(inner, buf)).With("component", "poller").WithGroup("sweep")

	logger.Info("done", "checked", 3)

	got := buf.Query(time.Time{}, slog.LevelDebug, 0)
	if len(got) != 1 {
		t.Fatalf("captured %d entries", len(got))
	}
	if got[0].Attrs["component"] != "poller" {
		t.Errorf("attrs = %+v", got[0].Attrs)
	}
	if _, ok := got[0].Attrs["sweep.checked"]; !ok {
		t.Errorf("group prefix missing: %+v", got[0].Attrs)
	}
}

func TestHandlerResolvesErrors(t *testing.T) {
	buf := New(10)
	logger := slog.New(NewHandler(slog.NewTextHandler(io.Discard, nil), buf))

	logger.Error("failed", "error", errors.New("boom"))

	got := buf.Query(time.Time{}, slog.LevelError, 0)
	if len(got) != 1 {
		t.Fatalf("captured %d entries", len(got))
	}
	if got[0].Attrs["error"] != "boom" {
		t.Errorf("error attr = %v (%T)", got[0].Attrs["error"], got[0].Attrs["error"])
	}
}
