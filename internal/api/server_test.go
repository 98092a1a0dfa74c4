package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/deskbridge-io/deskbridge/internal/logbuf"
	"github.com/deskbridge-io/deskbridge/internal/poller"
	"github.com/deskbridge-io/deskbridge/internal/store"
)

type fakeService struct {
	subs     []store.Subscription
	subsErr  error
	lastUser string
	stats    poller.Stats
	sessions int
}

func (f *fakeService) Subscriptions(ctx context.Context, userID string) ([]store.Subscription, error) {
	f.lastUser = userID
	return f.subs, f.subsErr
}

func (f *fakeService) PollStats() poller.Stats { return f.stats }
func (f *fakeService) ActiveSessions() int     { return f.sessions }

func newTestServer(t *testing.T, svc *fakeService, key string) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	buf := logbuf.New(100)
	buf.Write(logbuf.Entry{Time: time.Now(), Level: "INFO", Message: "started"})
	return NewServer(svc, Config{Key: key}, logger, buf)
}

func get(t *testing.T, s *Server, path, key string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	svc := &fakeService{sessions: 2}
	s := newTestServer(t, svc, "secret")

	w := get(t, s, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body map[string]any
	json.Unmarshal(w.Body.Bytes(), &body)
	if body["status"] != "ok" || body["sessions"] != float64(2) {
		t.Errorf("body = %v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, &fakeService{}, "secret")

	if w := get(t, s, "/api/stats", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("no key: status = %d", w.Code)
	}
	if w := get(t, s, "/api/stats", "wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d", w.Code)
	}
	if w := get(t, s, "/api/stats", "secret"); w.Code != http.StatusOK {
		t.Errorf("right key: status = %d", w.Code)
	}
}

func TestAuthDisabledWithoutKey(t *testing.T) {
	s := newTestServer(t, &fakeService{}, "")
	if w := get(t, s, "/api/stats", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d", w.Code)
	}
}

func TestSubscriptionsEndpoint(t *testing.T) {
	svc := &fakeService{subs: []store.Subscription{
		{UserID: "u1", TicketKey: "SUP-1", Status: "Open"},
	}}
	s := newTestServer(t, svc, "")

	w := get(t, s, "/api/subscriptions?user=u1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if svc.lastUser != "u1" {
		t.Errorf("user filter = %q", svc.lastUser)
	}
	var subs []store.Subscription
	json.Unmarshal(w.Body.Bytes(), &subs)
	if len(subs) != 1 || subs[0].TicketKey != "SUP-1" {
		t.Errorf("subs = %+v", subs)
	}
}

func TestSubscriptionsEmptyIsArray(t *testing.T) {
	s := newTestServer(t, &fakeService{}, "")

	w := get(t, s, "/api/subscriptions", "")
	if got := w.Body.String(); got != "[]\n" {
		t.Errorf("body = %q, want empty JSON array", got)
	}
}

func TestSubscriptionsStoreFailure(t *testing.T) {
	s := newTestServer(t, &fakeService{subsErr: errors.New("down")}, "")

	if w := get(t, s, "/api/subscriptions", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	svc := &fakeService{stats: poller.Stats{Sweeps: 4, Checked: 12, Changed: 3}}
	s := newTestServer(t, svc, "")

	w := get(t, s, "/api/stats", "")
	var stats poller.Stats
	json.Unmarshal(w.Body.Bytes(), &stats)
	if stats.Sweeps != 4 || stats.Checked != 12 || stats.Changed != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestLogsEndpoint(t *testing.T) {
	s := newTestServer(t, &fakeService{}, "")

	w := get(t, s, "/api/logs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var entries []logbuf.Entry
	json.Unmarshal(w.Body.Bytes(), &entries)
	if len(entries) != 1 || entries[0].Message != "started" {
		t.Errorf("entries = %+v", entries)
	}

	if w := get(t, s, "/api/logs?level=nonsense", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad level: status = %d", w.Code)
	}
	if w := get(t, s, "/api/logs?since=yesterday", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad since: status = %d", w.Code)
	}
	if w := get(t, s, "/api/logs?limit=-1", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit: status = %d", w.Code)
	}
}
