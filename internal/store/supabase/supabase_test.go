package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/deskbridge-io/deskbridge/internal/store"
)

func TestGetToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/users" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("apikey") != "anon" {
			t.Errorf("apikey = %q", r.Header.Get("apikey"))
		}
		if got := r.URL.Query().Get("user_id"); got != "eq.u1" {
			t.Errorf("user filter = %q", got)
		}
		json.NewEncoder(w).Encode([]map[string]string{{"token": "secret"}})
	}))
	defer srv.Close()

	s := New(Config{URL: srv.URL, AnonKey: "anon"})
	tok, err := s.GetToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if string(tok) != "secret" {
		t.Errorf("token = %q", tok)
	}
}

func TestGetTokenMissingUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{})
	}))
	defer srv.Close()

	s := New(Config{URL: srv.URL, AnonKey: "anon"})
	_, err := s.GetToken(context.Background(), "nobody")
	if !errors.Is(err, store.ErrNoToken) {
		t.Fatalf("err = %v, want ErrNoToken", err)
	}

	ok, err := s.HasToken(context.Background(), "nobody")
	if err != nil || ok {
		t.Errorf("HasToken = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestSaveUserUpsert(t *testing.T) {
	var gotPrefer string
	var gotRow map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/v1/users" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		gotPrefer = r.Header.Get("Prefer")
		json.NewDecoder(r.Body).Decode(&gotRow)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	s := New(Config{URL: srv.URL, AnonKey: "anon"})
	if err := s.SaveUser(context.Background(), "u1", []byte("tok"), "a@b.com"); err != nil {
		t.Fatalf("save user: %v", err)
	}
	if gotPrefer != "resolution=merge-duplicates" {
		t.Errorf("Prefer = %q", gotPrefer)
	}
	if gotRow["user_id"] != "u1" || gotRow["token"] != "tok" || gotRow["email"] != "a@b.com" {
		t.Errorf("row = %v", gotRow)
	}
}

func TestSaveUserViaRPC(t *testing.T) {
	var gotArgs map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v1/rpc/store_user_token" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotArgs)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := New(Config{URL: srv.URL, AnonKey: "anon", TokenRPC: "store_user_token"})
	if err := s.SaveUser(context.Background(), "u1", []byte("tok"), "a@b.com"); err != nil {
		t.Fatalf("save user: %v", err)
	}
	if gotArgs["p_user_id"] != "u1" || gotArgs["p_token"] != "tok" {
		t.Errorf("rpc args = %v", gotArgs)
	}
}

func TestServiceAccountSignIn(t *testing.T) {
	signIns := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/token":
			signIns++
			var creds map[string]string
			json.NewDecoder(r.Body).Decode(&creds)
			if creds["email"] != "svc@example.com" {
				t.Errorf("sign-in email = %q", creds["email"])
			}
			json.NewEncoder(w).Encode(map[string]string{"access_token": "jwt-123"})
		case "/rest/v1/subscriptions":
			if got := r.Header.Get("Authorization"); got != "Bearer jwt-123" {
				t.Errorf("auth = %q", got)
			}
			json.NewEncoder(w).Encode([]map[string]string{})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	s := New(Config{URL: srv.URL, AnonKey: "anon", Email: "svc@example.com", Password: "pw"})
	ctx := context.Background()
	if _, err := s.AllSubscriptions(ctx); err != nil {
		t.Fatalf("first call: %v", err)
	}
	if _, err := s.AllSubscriptions(ctx); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if signIns != 1 {
		t.Errorf("signed in %d times, want 1 (token is cached)", signIns)
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	type call struct{ method, path, query string }
	var calls []call
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, call{r.Method, r.URL.Path, r.URL.RawQuery})
		switch r.Method {
		case http.MethodGet:
			json.NewEncoder(w).Encode([]map[string]string{
				{"user_id": "u1", "ticket_key": "SUP-1", "status": "Open"},
			})
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	s := New(Config{URL: srv.URL, AnonKey: "anon"})
	ctx := context.Background()

	err := s.AddSubscription(ctx, store.Subscription{UserID: "u1", TicketKey: "SUP-1", Status: "Open"})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	subs, err := s.Subscriptions(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(subs) != 1 || subs[0].TicketKey != "SUP-1" {
		t.Errorf("subs = %+v", subs)
	}

	if err := s.UpdateSubscriptionStatus(ctx, "u1", "SUP-1", "Done"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.RemoveSubscription(ctx, "u1", "SUP-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if len(calls) != 4 {
		t.Fatalf("made %d calls", len(calls))
	}
	if calls[2].method != http.MethodPatch || calls[3].method != http.MethodDelete {
		t.Errorf("calls = %+v", calls)
	}
}

func TestErrorResponsesSurface(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"permission denied"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	s := New(Config{URL: srv.URL, AnonKey: "anon"})
	if _, err := s.AllSubscriptions(context.Background()); err == nil {
		t.Fatal("expected error for 403 response")
	}
}
