// Package registry is the subscription registry: the single source of truth
// for which (user, ticket) pairs are being watched.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/deskbridge-io/deskbridge/internal/store"
)

var (
	// ErrAlreadySubscribed means the (user, ticket) pair is already registered.
	ErrAlreadySubscribed = errors.New("registry: already subscribed")
	// ErrNotSubscribed means no such (user, ticket) record exists.
	ErrNotSubscribed = errors.New("registry: not subscribed")
)

// Registry enforces the one-record-per-(user, ticket) invariant on top of
// the store. Uniqueness is lookup-then-insert; the store backend is not
// assumed to provide a transaction, so a race between two concurrent
// subscribes can slip through. The poller and the dialogue engine tolerate
// the resulting duplicate notification; the records themselves stay valid.
type Registry struct {
	store  store.Store
	logger *slog.Logger
}

// New creates a Registry over the given store.
func New(st store.Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{store: st, logger: logger}
}

// Subscribe registers a watch on a ticket, recording the status observed at
// subscribe time so the first poll only notifies on a real change.
func (r *Registry) Subscribe(ctx context.Context, userID, ticketKey, initialStatus string) error {
	subs, err := r.store.Subscriptions(ctx, userID)
	if err != nil {
		return fmt.Errorf("registry: subscribe lookup: %w", err)
	}
	for _, s := range subs {
		if s.TicketKey == ticketKey {
			return ErrAlreadySubscribed
		}
	}

	err = r.store.AddSubscription(ctx, store.Subscription{
		UserID:    userID,
		TicketKey: ticketKey,
		Status:    initialStatus,
	})
	if err != nil {
		return fmt.Errorf("registry: subscribe: %w", err)
	}
	r.logger.Info("subscription added", "user", userID, "ticket", ticketKey, "status", initialStatus)
	return nil
}

// Unsubscribe removes a watch.
func (r *Registry) Unsubscribe(ctx context.Context, userID, ticketKey string) error {
	subs, err := r.store.Subscriptions(ctx, userID)
	if err != nil {
		return fmt.Errorf("registry: unsubscribe lookup: %w", err)
	}
	found := false
	for _, s := range subs {
		if s.TicketKey == ticketKey {
			found = true
			break
		}
	}
	if !found {
		return ErrNotSubscribed
	}

	if err := r.store.RemoveSubscription(ctx, userID, ticketKey); err != nil {
		return fmt.Errorf("registry: unsubscribe: %w", err)
	}
	r.logger.Info("subscription removed", "user", userID, "ticket", ticketKey)
	return nil
}

// ListAll returns every subscription across all users. Used by the poller.
func (r *Registry) ListAll(ctx context.Context) ([]store.Subscription, error) {
	subs, err := r.store.AllSubscriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: list all: %w", err)
	}
	return subs, nil
}

// ListUser returns one user's subscriptions.
func (r *Registry) ListUser(ctx context.Context, userID string) ([]store.Subscription, error) {
	subs, err := r.store.Subscriptions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("registry: list user: %w", err)
	}
	return subs, nil
}

// UpdateStatus overwrites the last-known status of one subscription.
func (r *Registry) UpdateStatus(ctx context.Context, userID, ticketKey, status string) error {
	if err := r.store.UpdateSubscriptionStatus(ctx, userID, ticketKey, status); err != nil {
		return fmt.Errorf("registry: update status: %w", err)
	}
	return nil
}
