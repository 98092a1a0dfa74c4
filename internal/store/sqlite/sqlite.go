// Package sqlite is the local single-file store backend.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/deskbridge-io/deskbridge/internal/store"
)

// Store implements store.Store using SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database and runs migrations.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: open: %w", err)
	}

	// Enable WAL mode for better concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite store: wal: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			token   TEXT NOT NULL,
			email   TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS subscriptions (
			user_id         TEXT NOT NULL,
			ticket_key      TEXT NOT NULL,
			status          TEXT NOT NULL DEFAULT '',
			last_comment_at TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id);
	`)
	if err != nil {
		return fmt.Errorf("sqlite store: migrate: %w", err)
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, userID string) ([]byte, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `SELECT token FROM users WHERE user_id = ?`, userID).Scan(&token)
	if err == sql.ErrNoRows {
		return nil, store.ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite store: get token: %w", err)
	}
	return []byte(token), nil
}

func (s *Store) HasToken(ctx context.Context, userID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE user_id = ? AND token != ''`, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite store: has token: %w", err)
	}
	return n > 0, nil
}

func (s *Store) SaveUser(ctx context.Context, userID string, token []byte, email string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_id, token, email) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET token=excluded.token, email=excluded.email
	`, userID, string(token), email)
	if err != nil {
		return fmt.Errorf("sqlite store: save user: %w", err)
	}
	return nil
}

func (s *Store) DeleteToken(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("sqlite store: delete token: %w", err)
	}
	return nil
}

func (s *Store) Subscriptions(ctx context.Context, userID string) ([]store.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, ticket_key, status, last_comment_at FROM subscriptions WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *Store) AllSubscriptions(ctx context.Context) ([]store.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, ticket_key, status, last_comment_at FROM subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("sqlite store: all subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

func (s *Store) AddSubscription(ctx context.Context, sub store.Subscription) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, ticket_key, status, last_comment_at) VALUES (?, ?, ?, ?)`,
		sub.UserID, sub.TicketKey, sub.Status, sub.LastCommentAt)
	if err != nil {
		return fmt.Errorf("sqlite store: add subscription: %w", err)
	}
	return nil
}

func (s *Store) RemoveSubscription(ctx context.Context, userID, ticketKey string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE user_id = ? AND ticket_key = ?`, userID, ticketKey)
	if err != nil {
		return fmt.Errorf("sqlite store: remove subscription: %w", err)
	}
	return nil
}

func (s *Store) UpdateSubscriptionStatus(ctx context.Context, userID, ticketKey, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ? WHERE user_id = ? AND ticket_key = ?`,
		status, userID, ticketKey)
	if err != nil {
		return fmt.Errorf("sqlite store: update subscription: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying handle for tests.
func (s *Store) DB() *sql.DB { return s.db }

func scanSubscriptions(rows *sql.Rows) ([]store.Subscription, error) {
	var subs []store.Subscription
	for rows.Next() {
		var sub store.Subscription
		if err := rows.Scan(&sub.UserID, &sub.TicketKey, &sub.Status, &sub.LastCommentAt); err != nil {
			return nil, fmt.Errorf("sqlite store: scan subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
