package store

import (
	"context"
	"errors"
)

// ErrNoToken is returned by GetToken when the user has no stored credential.
var ErrNoToken = errors.New("store: no token for user")

// Subscription is one durable (user, ticket) watch record.
type Subscription struct {
	UserID        string `json:"user_id"`
	TicketKey     string `json:"ticket_key"`
	Status        string `json:"status"`
	LastCommentAt string `json:"last_comment_at,omitempty"`
}

// Store persists users, their tracker credentials and their subscriptions.
// Encryption of the token at rest is the backend's concern; callers hand it
// over in plaintext and wipe their copy with Wipe afterwards.
type Store interface {
	// GetToken returns the user's tracker token, or ErrNoToken.
	GetToken(ctx context.Context, userID string) ([]byte, error)
	// HasToken reports whether the user has a stored token.
	HasToken(ctx context.Context, userID string) (bool, error)
	// SaveUser creates or replaces the user record with the given token and email.
	SaveUser(ctx context.Context, userID string, token []byte, email string) error
	// DeleteToken removes the user's stored credential.
	DeleteToken(ctx context.Context, userID string) error

	// Subscriptions returns all subscriptions owned by one user.
	Subscriptions(ctx context.Context, userID string) ([]Subscription, error)
	// AllSubscriptions returns every subscription, across all users.
	AllSubscriptions(ctx context.Context) ([]Subscription, error)
	// AddSubscription inserts a subscription record.
	AddSubscription(ctx context.Context, sub Subscription) error
	// RemoveSubscription deletes the (user, ticket) record if present.
	RemoveSubscription(ctx context.Context, userID, ticketKey string) error
	// UpdateSubscriptionStatus overwrites the last-known status of a record.
	UpdateSubscriptionStatus(ctx context.Context, userID, ticketKey, status string) error

	Close() error
}

// Wipe zeroes a credential buffer. Call it as soon as the token has been
// used, on success and failure paths alike.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
