package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCreateIssue(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/api/2/issue" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{"key": "SUP-10"})
	}))
	defer srv.Close()

	c := New(srv.URL, "SUP")
	issue, err := c.CreateIssue(context.Background(), []byte("tok"), CreateRequest{
		Summary:   "VPN down",
		Priority:  "High",
		IssueType: "Incident",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if issue.Key != "SUP-10" {
		t.Errorf("key = %q", issue.Key)
	}
	if issue.Link != srv.URL+"/browse/SUP-10" {
		t.Errorf("link = %q", issue.Link)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth = %q", gotAuth)
	}

	fields, _ := gotBody["fields"].(map[string]any)
	if fields == nil {
		t.Fatalf("payload = %v", gotBody)
	}
	if proj, _ := fields["project"].(map[string]any); proj["key"] != "SUP" {
		t.Errorf("project = %v", fields["project"])
	}
	if prio, _ := fields["priority"].(map[string]any); prio["name"] != "High" {
		t.Errorf("priority = %v", fields["priority"])
	}
}

func TestGetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/rest/api/2/issue/SUP-1") {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"fields": map[string]any{
				"summary":     "VPN down",
				"description": "details",
				"updated":     "2025-03-01T10:30:00.000+0000",
				"status":      map[string]string{"name": "In Progress"},
				"comment": map[string]any{
					"comments": []map[string]any{
						{
							"body":    "first",
							"author":  map[string]string{"displayName": "Old Agent"},
							"created": "2025-02-28T09:00:00.000+0000",
						},
						{
							"body":    "Looking into it",
							"author":  map[string]string{"displayName": "Support Agent"},
							"created": "2025-03-01T10:30:00.000+0000",
						},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "SUP")
	info, err := c.GetStatus(context.Background(), []byte("tok"), "SUP-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if info.Status != "In Progress" || info.Summary != "VPN down" {
		t.Errorf("info = %+v", info)
	}
	if info.LastUpdate != "01.03.2025 10:30:00" {
		t.Errorf("last update = %q", info.LastUpdate)
	}
	if info.LastComment == nil {
		t.Fatal("expected last comment")
	}
	if info.LastComment.Author != "Support Agent" || info.LastComment.Text != "Looking into it" {
		t.Errorf("last comment = %+v", info.LastComment)
	}
}

func TestGetStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "SUP")
	_, err := c.GetStatus(context.Background(), []byte("tok"), "SUP-404")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRejectedTokenIsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New(srv.URL, "SUP")
	_, err := c.GetStatus(context.Background(), []byte("bad"), "SUP-1")
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAddComment(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/issue/SUP-1/comment" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := New(srv.URL, "SUP")
	if err := c.AddComment(context.Background(), []byte("tok"), "SUP-1", "any update?"); err != nil {
		t.Fatalf("add comment: %v", err)
	}
	if gotBody["body"] != "any update?" {
		t.Errorf("body = %v", gotBody)
	}
}

func TestAddAttachment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/2/issue/SUP-1/attachments" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("X-Atlassian-Token") != "no-check" {
			t.Error("missing X-Atlassian-Token header")
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "log.txt" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "SUP")
	err := c.AddAttachment(context.Background(), []byte("tok"), "SUP-1", "log.txt", []byte("contents"))
	if err != nil {
		t.Fatalf("add attachment: %v", err)
	}
}

func TestSearchMineNewestFirst(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		jql := r.URL.Query().Get("jql")
		if !strings.Contains(jql, "reporter = currentUser()") || !strings.Contains(jql, "project = SUP") {
			t.Errorf("jql = %q", jql)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"issues": []map[string]any{
				{"key": "SUP-1", "fields": map[string]string{"summary": "oldest"}},
				{"key": "SUP-2", "fields": map[string]string{"summary": "middle"}},
				{"key": "SUP-3", "fields": map[string]string{"summary": "newest"}},
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "SUP")
	refs, err := c.SearchMine(context.Background(), []byte("tok"))
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("got %d refs", len(refs))
	}
	if refs[0].Key != "SUP-3" || refs[2].Key != "SUP-1" {
		t.Errorf("order = %v, want newest first", refs)
	}
}

func TestFormatTime(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"2025-03-01T10:30:00.000+0000", "01.03.2025 10:30:00"},
		{"2025-03-01T10:30:00Z", "01.03.2025 10:30:00"},
		{"", ""},
		{"not a date at all according to anyone", "not a date at all according to anyone"},
	}
	for _, c := range cases {
		if got := FormatTime(c.in); got != c.want {
			t.Errorf("FormatTime(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
