// Package tracker is the Jira REST client. Credentials are per-user: every
// method takes the caller's token and nothing credential-shaped is retained
// on the client between calls.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/araddon/dateparse"
)

var (
	// ErrNotFound means the issue does not exist or is not visible to the caller.
	ErrNotFound = errors.New("tracker: issue not found")
	// ErrUnauthorized means the token was rejected.
	ErrUnauthorized = errors.New("tracker: unauthorized")
)

// Client talks to one Jira instance.
type Client struct {
	baseURL    string
	projectKey string
	client     *http.Client
}

// New creates a Client for the given instance and project.
func New(baseURL, projectKey string) *Client {
	return &Client{
		baseURL:    baseURL,
		projectKey: projectKey,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateRequest carries the fields of a new issue.
type CreateRequest struct {
	Summary     string
	Description string
	Priority    string // tracker priority name
	IssueType   string // tracker issue type name
}

// Issue identifies a created issue.
type Issue struct {
	Key  string
	Link string
}

// Comment is the most recent visible comment on an issue.
type Comment struct {
	Author  string
	Text    string
	Created string // rendered, see FormatTime
}

// StatusInfo is a point-in-time snapshot of an issue.
type StatusInfo struct {
	Status      string
	Summary     string
	Description string
	LastUpdate  string // rendered, see FormatTime
	LastComment *Comment
}

// IssueRef is one row of a listing.
type IssueRef struct {
	Key     string
	Summary string
}

// CreateIssue files a new issue in the configured project.
func (c *Client) CreateIssue(ctx context.Context, token []byte, req CreateRequest) (*Issue, error) {
	payload := map[string]any{
		"fields": map[string]any{
			"project":     map[string]string{"key": c.projectKey},
			"summary":     req.Summary,
			"description": req.Description,
			"priority":    map[string]string{"name": req.Priority},
			"issuetype":   map[string]string{"name": req.IssueType},
		},
	}

	var created struct {
		Key string `json:"key"`
	}
	if err := c.doJSON(ctx, token, http.MethodPost, "/rest/api/2/issue", payload, &created); err != nil {
		return nil, err
	}
	return &Issue{Key: created.Key, Link: c.Link(created.Key)}, nil
}

// Link returns the browse URL for an issue key.
func (c *Client) Link(key string) string {
	return c.baseURL + "/browse/" + key
}

type issueResponse struct {
	Fields struct {
		Summary     string `json:"summary"`
		Description string `json:"description"`
		Updated     string `json:"updated"`
		Status      struct {
			Name string `json:"name"`
		} `json:"status"`
		Comment struct {
			Comments []struct {
				Body   string `json:"body"`
				Author struct {
					DisplayName string `json:"displayName"`
				} `json:"author"`
				Created string `json:"created"`
			} `json:"comments"`
		} `json:"comment"`
	} `json:"fields"`
}

// GetStatus fetches the current snapshot of an issue.
func (c *Client) GetStatus(ctx context.Context, token []byte, key string) (*StatusInfo, error) {
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "?fields=status,summary,description,updated,comment"
	var resp issueResponse
	if err := c.doJSON(ctx, token, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	info := &StatusInfo{
		Status:      resp.Fields.Status.Name,
		Summary:     resp.Fields.Summary,
		Description: resp.Fields.Description,
		LastUpdate:  FormatTime(resp.Fields.Updated),
	}
	if n := len(resp.Fields.Comment.Comments); n > 0 {
		last := resp.Fields.Comment.Comments[n-1]
		info.LastComment = &Comment{
			Author:  last.Author.DisplayName,
			Text:    last.Body,
			Created: FormatTime(last.Created),
		}
	}
	return info, nil
}

// AddComment appends a comment to an issue.
func (c *Client) AddComment(ctx context.Context, token []byte, key, text string) error {
	path := "/rest/api/2/issue/" + url.PathEscape(key) + "/comment"
	return c.doJSON(ctx, token, http.MethodPost, path, map[string]string{"body": text}, nil)
}

// AddAttachment uploads a file to an existing issue.
func (c *Client) AddAttachment(ctx context.Context, token []byte, key, filename string, data []byte) error {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("tracker: attachment form: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("tracker: attachment write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("tracker: attachment close: %w", err)
	}

	endpoint := c.baseURL + "/rest/api/2/issue/" + url.PathEscape(key) + "/attachments"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return fmt.Errorf("tracker: attachment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+string(token))
	req.Header.Set("Content-Type", w.FormDataContentType())
	// Jira rejects attachment posts without this header.
	req.Header.Set("X-Atlassian-Token", "no-check")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tracker: add attachment: %w", err)
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

// SearchMine lists the caller's issues in the project, newest first.
func (c *Client) SearchMine(ctx context.Context, token []byte) ([]IssueRef, error) {
	jql := fmt.Sprintf("reporter = currentUser() AND project = %s", c.projectKey)
	path := "/rest/api/2/search?jql=" + url.QueryEscape(jql) + "&fields=summary&maxResults=1000"

	var resp struct {
		Issues []struct {
			Key    string `json:"key"`
			Fields struct {
				Summary string `json:"summary"`
			} `json:"fields"`
		} `json:"issues"`
	}
	if err := c.doJSON(ctx, token, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	// Jira returns oldest first; callers want the most recent at the top.
	refs := make([]IssueRef, 0, len(resp.Issues))
	for i := len(resp.Issues) - 1; i >= 0; i-- {
		refs = append(refs, IssueRef{Key: resp.Issues[i].Key, Summary: resp.Issues[i].Fields.Summary})
	}
	return refs, nil
}

func (c *Client) doJSON(ctx context.Context, token []byte, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("tracker: marshal: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("tracker: request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+string(token))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("tracker: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("tracker: decode: %w", err)
		}
	}
	return nil
}

func (c *Client) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	default:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("tracker: status %d: %s", resp.StatusCode, msg)
	}
}

// FormatTime renders a tracker timestamp for chat display. Jira emits
// RFC3339-with-millis timestamps; dateparse tolerates the variants older
// server versions produce. Unparseable input is passed through untouched.
func FormatTime(raw string) string {
	if raw == "" {
		return ""
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return raw
	}
	return t.Format("02.01.2006 15:04:05")
}
