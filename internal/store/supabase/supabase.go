// Package supabase is the hosted store backend, speaking the PostgREST and
// GoTrue HTTP APIs directly.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/deskbridge-io/deskbridge/internal/store"
)

// Config holds connection settings for one Supabase project.
type Config struct {
	URL      string // project base URL, e.g. https://xyz.supabase.co
	AnonKey  string
	Email    string // optional service-account credentials for GoTrue sign-in
	Password string
	// TokenRPC names a server-side function that stores a user token
	// encrypted at rest. When empty, tokens are written to the users table
	// as-is and encryption is left to the database.
	TokenRPC string
}

// Store implements store.Store against a Supabase project.
type Store struct {
	cfg    Config
	client *http.Client

	mu     sync.Mutex
	access string // GoTrue access token, empty when anon
}

// New creates a Store. If service-account credentials are configured, the
// first request triggers a password sign-in.
func New(cfg Config) *Store {
	return &Store{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type userRow struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
	Email  string `json:"email,omitempty"`
}

type subscriptionRow struct {
	UserID        string `json:"user_id"`
	TicketKey     string `json:"ticket_key"`
	Status        string `json:"status"`
	LastCommentAt string `json:"last_comment_at,omitempty"`
}

func (s *Store) GetToken(ctx context.Context, userID string) ([]byte, error) {
	var rows []userRow
	query := "user_id=eq." + url.QueryEscape(userID) + "&select=token"
	if err := s.get(ctx, "users", query, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].Token == "" {
		return nil, store.ErrNoToken
	}
	return []byte(rows[0].Token), nil
}

func (s *Store) HasToken(ctx context.Context, userID string) (bool, error) {
	_, err := s.GetToken(ctx, userID)
	if err == store.ErrNoToken {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) SaveUser(ctx context.Context, userID string, token []byte, email string) error {
	if s.cfg.TokenRPC != "" {
		payload := map[string]string{"p_user_id": userID, "p_token": string(token), "p_email": email}
		return s.rpc(ctx, s.cfg.TokenRPC, payload)
	}
	row := userRow{UserID: userID, Token: string(token), Email: email}
	return s.upsert(ctx, "users", row)
}

func (s *Store) DeleteToken(ctx context.Context, userID string) error {
	return s.delete(ctx, "users", "user_id=eq."+url.QueryEscape(userID))
}

func (s *Store) Subscriptions(ctx context.Context, userID string) ([]store.Subscription, error) {
	var rows []subscriptionRow
	if err := s.get(ctx, "subscriptions", "user_id=eq."+url.QueryEscape(userID), &rows); err != nil {
		return nil, err
	}
	return toSubscriptions(rows), nil
}

func (s *Store) AllSubscriptions(ctx context.Context) ([]store.Subscription, error) {
	var rows []subscriptionRow
	if err := s.get(ctx, "subscriptions", "", &rows); err != nil {
		return nil, err
	}
	return toSubscriptions(rows), nil
}

func (s *Store) AddSubscription(ctx context.Context, sub store.Subscription) error {
	row := subscriptionRow{
		UserID:        sub.UserID,
		TicketKey:     sub.TicketKey,
		Status:        sub.Status,
		LastCommentAt: sub.LastCommentAt,
	}
	return s.insert(ctx, "subscriptions", row)
}

func (s *Store) RemoveSubscription(ctx context.Context, userID, ticketKey string) error {
	query := "user_id=eq." + url.QueryEscape(userID) + "&ticket_key=eq." + url.QueryEscape(ticketKey)
	return s.delete(ctx, "subscriptions", query)
}

func (s *Store) UpdateSubscriptionStatus(ctx context.Context, userID, ticketKey, status string) error {
	query := "user_id=eq." + url.QueryEscape(userID) + "&ticket_key=eq." + url.QueryEscape(ticketKey)
	return s.patch(ctx, "subscriptions", query, map[string]string{"status": status})
}

func (s *Store) Close() error { return nil }

// --- HTTP plumbing ---

func (s *Store) get(ctx context.Context, table, query string, out any) error {
	return s.do(ctx, http.MethodGet, table, query, nil, nil, out)
}

func (s *Store) insert(ctx context.Context, table string, row any) error {
	return s.do(ctx, http.MethodPost, table, "", row, nil, nil)
}

func (s *Store) upsert(ctx context.Context, table string, row any) error {
	headers := map[string]string{"Prefer": "resolution=merge-duplicates"}
	return s.do(ctx, http.MethodPost, table, "", row, headers, nil)
}

func (s *Store) patch(ctx context.Context, table, query string, row any) error {
	return s.do(ctx, http.MethodPatch, table, query, row, nil, nil)
}

func (s *Store) delete(ctx context.Context, table, query string) error {
	return s.do(ctx, http.MethodDelete, table, query, nil, nil, nil)
}

func (s *Store) rpc(ctx context.Context, fn string, args any) error {
	return s.do(ctx, http.MethodPost, "rpc/"+fn, "", args, nil, nil)
}

func (s *Store) do(ctx context.Context, method, path, query string, body any, headers map[string]string, out any) error {
	access, err := s.accessToken(ctx)
	if err != nil {
		return err
	}

	endpoint := s.cfg.URL + "/rest/v1/" + path
	if query != "" {
		endpoint += "?" + query
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("supabase store: marshal: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return fmt.Errorf("supabase store: request: %w", err)
	}
	req.Header.Set("apikey", s.cfg.AnonKey)
	req.Header.Set("Authorization", "Bearer "+access)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("supabase store: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("supabase store: %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("supabase store: decode: %w", err)
		}
	}
	return nil
}

// accessToken returns the GoTrue access token, signing in once when
// service-account credentials are configured. Falls back to the anon key.
func (s *Store) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.access != "" {
		return s.access, nil
	}
	if s.cfg.Email == "" {
		s.access = s.cfg.AnonKey
		return s.access, nil
	}

	payload, _ := json.Marshal(map[string]string{
		"email":    s.cfg.Email,
		"password": s.cfg.Password,
	})
	endpoint := s.cfg.URL + "/auth/v1/token?grant_type=password"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("supabase store: sign-in request: %w", err)
	}
	req.Header.Set("apikey", s.cfg.AnonKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("supabase store: sign in: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("supabase store: sign in: status %d: %s", resp.StatusCode, msg)
	}

	var auth struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		return "", fmt.Errorf("supabase store: sign in decode: %w", err)
	}
	if auth.AccessToken == "" {
		return "", fmt.Errorf("supabase store: sign in returned no access token")
	}
	s.access = auth.AccessToken
	return s.access, nil
}

func toSubscriptions(rows []subscriptionRow) []store.Subscription {
	subs := make([]store.Subscription, 0, len(rows))
	for _, r := range rows {
		subs = append(subs, store.Subscription{
			UserID:        r.UserID,
			TicketKey:     r.TicketKey,
			Status:        r.Status,
			LastCommentAt: r.LastCommentAt,
		})
	}
	return subs
}
