// Package poller periodically diffs tracked-ticket status against the
// last-known value and fans out notifications.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deskbridge-io/deskbridge/internal/connector"
	"github.com/deskbridge-io/deskbridge/internal/store"
	"github.com/deskbridge-io/deskbridge/internal/tracker"
)

// Registry is the slice of the subscription registry the poller uses.
type Registry interface {
	ListAll(ctx context.Context) ([]store.Subscription, error)
	UpdateStatus(ctx context.Context, userID, ticketKey, status string) error
	Unsubscribe(ctx context.Context, userID, ticketKey string) error
}

// TokenSource resolves a user's tracker credential.
type TokenSource interface {
	GetToken(ctx context.Context, userID string) ([]byte, error)
}

// StatusSource queries current ticket state from the tracker.
type StatusSource interface {
	GetStatus(ctx context.Context, token []byte, key string) (*tracker.StatusInfo, error)
	Link(key string) string
}

// Notifier pushes a message to a subscriber. For chat platforms the
// subscriber's user ID doubles as the private chat ID.
type Notifier interface {
	Send(ctx context.Context, msg connector.OutboundMessage) error
}

// Stats are cumulative sweep counters, exposed via the ops API.
type Stats struct {
	Sweeps      int       `json:"sweeps"`
	LastSweepID string    `json:"last_sweep_id,omitempty"`
	LastRun     time.Time `json:"last_run,omitzero"`
	Checked     int       `json:"checked"`
	Changed     int       `json:"changed"`
	Removed     int       `json:"removed"`
	Errors      int       `json:"errors"`
}

// Poller runs one full sweep per tick. Scheduling (and the no-overlap
// guarantee) lives in Scheduler; Sweep itself is synchronous.
type Poller struct {
	Registry Registry
	Tokens   TokenSource
	Tracker  StatusSource
	Notifier Notifier
	Terminal []string
	Logger   *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats returns a copy of the cumulative counters.
func (p *Poller) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// Sweep enumerates all subscriptions, groups them by user so each user's
// credential is fetched once, and processes every ticket sequentially.
// A failure on one ticket never aborts the sweep for the others.
func (p *Poller) Sweep(ctx context.Context) {
	sweepID := uuid.NewString()
	log := p.Logger.With("sweep", sweepID)

	subs, err := p.Registry.ListAll(ctx)
	if err != nil {
		log.Error("sweep aborted: cannot list subscriptions", "error", err)
		p.record(func(s *Stats) { s.Errors++ })
		return
	}

	byUser := make(map[string][]store.Subscription)
	for _, sub := range subs {
		byUser[sub.UserID] = append(byUser[sub.UserID], sub)
	}

	var checked, changed, removed, errs int
	for userID, userSubs := range byUser {
		token, err := p.Tokens.GetToken(ctx, userID)
		if err != nil {
			// Whole batch skipped for this sweep; retried on the next one.
			log.Warn("credential fetch failed, skipping user", "user", userID, "error", err)
			errs++
			continue
		}

		for _, sub := range userSubs {
			checked++
			ch, rm, err := p.pollOne(ctx, log, token, sub)
			if err != nil {
				errs++
				continue
			}
			if ch {
				changed++
			}
			if rm {
				removed++
			}
		}
		store.Wipe(token)
	}

	p.record(func(s *Stats) {
		s.Sweeps++
		s.LastSweepID = sweepID
		s.LastRun = time.Now()
		s.Checked += checked
		s.Changed += changed
		s.Removed += removed
		s.Errors += errs
	})
	log.Info("sweep complete", "subscriptions", len(subs), "changed", changed, "removed", removed, "errors", errs)
}

// pollOne handles a single subscription: query, compare, persist, notify,
// and retire on terminal status. A ticket that has vanished from the
// tracker (not-found) is a recoverable error: logged and retried next sweep.
func (p *Poller) pollOne(ctx context.Context, log *slog.Logger, token []byte, sub store.Subscription) (changed, removed bool, err error) {
	info, err := p.Tracker.GetStatus(ctx, token, sub.TicketKey)
	if err != nil {
		log.Warn("ticket query failed", "user", sub.UserID, "ticket", sub.TicketKey, "error", err)
		return false, false, err
	}

	// Byte-for-byte compare, no normalization.
	if info.Status == sub.Status {
		return false, false, nil
	}

	// Persist first: status is the source of truth, not delivery.
	if err := p.Registry.UpdateStatus(ctx, sub.UserID, sub.TicketKey, info.Status); err != nil {
		log.Error("status persist failed", "user", sub.UserID, "ticket", sub.TicketKey, "error", err)
		return false, false, err
	}

	p.notify(ctx, log, sub.UserID, connector.OutboundMessage{
		ChatID: sub.UserID,
		Text: "Ticket " + sub.TicketKey + " status changed from " + sub.Status +
			" to: " + info.Status + ".\n" + p.Tracker.Link(sub.TicketKey),
	})

	if p.isTerminal(info.Status) {
		if err := p.Registry.Unsubscribe(ctx, sub.UserID, sub.TicketKey); err != nil {
			log.Error("auto-unsubscribe failed", "user", sub.UserID, "ticket", sub.TicketKey, "error", err)
			return true, false, err
		}
		p.notify(ctx, log, sub.UserID, connector.OutboundMessage{
			ChatID: sub.UserID,
			Text:   "Ticket " + sub.TicketKey + " reached a final status; your status subscription was removed.",
		})
		return true, true, nil
	}
	return true, false, nil
}

// notify pushes one message and swallows delivery failures.
func (p *Poller) notify(ctx context.Context, log *slog.Logger, userID string, msg connector.OutboundMessage) {
	if err := p.Notifier.Send(ctx, msg); err != nil {
		log.Warn("notification delivery failed", "user", userID, "error", err)
	}
}

func (p *Poller) isTerminal(status string) bool {
	for _, t := range p.Terminal {
		if status == t {
			return true
		}
	}
	return false
}

func (p *Poller) record(fn func(*Stats)) {
	p.mu.Lock()
	fn(&p.stats)
	p.mu.Unlock()
}
