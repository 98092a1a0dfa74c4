// Package bot routes inbound connector events: global commands, menu and
// ticket-action callbacks, and delegation into the dialogue engine for
// staged conversations.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/deskbridge-io/deskbridge/internal/connector"
	"github.com/deskbridge-io/deskbridge/internal/dialogue"
	"github.com/deskbridge-io/deskbridge/internal/registry"
	"github.com/deskbridge-io/deskbridge/internal/store"
	"github.com/deskbridge-io/deskbridge/internal/tracker"
)

// Tracker is the slice of the tracker client the router needs.
type Tracker interface {
	GetStatus(ctx context.Context, token []byte, key string) (*tracker.StatusInfo, error)
	AddComment(ctx context.Context, token []byte, key, text string) error
	SearchMine(ctx context.Context, token []byte) ([]tracker.IssueRef, error)
	Link(key string) string
}

// Sender delivers outbound messages for one connector.
type Sender interface {
	Send(ctx context.Context, msg connector.OutboundMessage) error
}

// Bot is the inbound event router. One instance serves all connectors.
type Bot struct {
	Engine     *dialogue.Engine
	Sessions   *dialogue.Sessions
	Registry   *registry.Registry
	Store      store.Store
	Tracker    Tracker
	Logger     *slog.Logger
	ProjectKey string
	PageSize   int

	senders map[string]Sender
}

// RegisterSender attaches an outbound channel under a connector name.
func (b *Bot) RegisterSender(name string, s Sender) {
	if b.senders == nil {
		b.senders = make(map[string]Sender)
	}
	b.senders[name] = s
}

// HandleEvent is the connector.Handler entry point. Events for the same
// user arrive here one at a time per connector; the session table is still
// locked internally because the poller shares the registry.
func (b *Bot) HandleEvent(ctx context.Context, ev connector.Event) error {
	sender, ok := b.senders[ev.Channel]
	if !ok {
		return fmt.Errorf("bot: no sender for channel %q", ev.Channel)
	}

	replies := b.route(ctx, ev)
	for _, msg := range replies {
		if err := sender.Send(ctx, msg); err != nil {
			b.Logger.Error("send failed", "channel", ev.Channel, "chat", msg.ChatID, "error", err)
		}
	}
	return nil
}

func (b *Bot) route(ctx context.Context, ev connector.Event) []connector.OutboundMessage {
	userID, chatID := ev.SenderID, ev.ChatID

	// Global commands pre-empt the menu flow. With a dialogue in progress
	// they fall through to the engine instead, which owns the restart and
	// help replies for active sessions.
	if _, active := b.Sessions.Get(userID); !active {
		switch strings.TrimSpace(ev.Text) {
		case "/start":
			return []connector.OutboundMessage{
				{ChatID: chatID, Text: "Hello! I file and track support tickets for you."},
				b.mainMenu(ctx, userID, chatID),
			}
		case "/help":
			return []connector.OutboundMessage{{ChatID: chatID, Text: dialogue.HelpText}}
		}
	}

	if ev.Callback != "" {
		return b.routeCallback(ctx, ev)
	}

	// Free text or file: belongs to the active dialogue, if any.
	if sess, ok := b.Sessions.Get(userID); ok {
		return b.advance(ctx, sess, dialogue.Event{
			Text:     ev.Text,
			Document: toDialogueAttachment(ev.Document),
			Photo:    toDialogueAttachment(ev.Photo),
		})
	}

	return []connector.OutboundMessage{
		{ChatID: chatID, Text: "Use the buttons to navigate."},
		b.mainMenu(ctx, userID, chatID),
	}
}

func (b *Bot) routeCallback(ctx context.Context, ev connector.Event) []connector.OutboundMessage {
	userID, chatID := ev.SenderID, ev.ChatID
	data := ev.Callback

	switch {
	case data == "menu_register":
		return b.startRegistration(ctx, userID, chatID)
	case data == "menu_create":
		return b.startTicket(ctx, userID, chatID)
	case data == "menu_mytickets":
		return b.listTickets(ctx, userID, chatID, 0)
	case data == "menu_subs":
		return b.listSubscriptions(ctx, userID, chatID)
	case data == "menu_check":
		sess := b.Sessions.Start(userID, chatID)
		return b.Engine.StartStatusCheck(sess)
	case data == "menu_reset":
		return []connector.OutboundMessage{{
			ChatID: chatID,
			Text:   "Are you sure you want to reset your registration?",
			Keyboard: [][]connector.Button{{
				{Label: "Yes", Data: "reset_yes"},
				{Label: "No", Data: "reset_no"},
			}},
		}}
	case data == "reset_yes":
		return b.resetRegistration(ctx, userID, chatID)
	case data == "reset_no":
		return []connector.OutboundMessage{b.mainMenu(ctx, userID, chatID)}

	case strings.HasPrefix(data, "list_"):
		start, err := strconv.Atoi(strings.TrimPrefix(data, "list_"))
		if err != nil {
			start = 0
		}
		return b.listTickets(ctx, userID, chatID, start)
	case strings.HasPrefix(data, "ticket_"):
		return b.StatusView(ctx, userID, chatID, strings.TrimPrefix(data, "ticket_"))
	case strings.HasPrefix(data, "comment_"):
		sess := b.Sessions.Start(userID, chatID)
		return b.Engine.StartComment(sess, strings.TrimPrefix(data, "comment_"))
	case strings.HasPrefix(data, "sub_"):
		return b.subscribe(ctx, userID, chatID, strings.TrimPrefix(data, "sub_"))
	case strings.HasPrefix(data, "unsub_"):
		return b.unsubscribe(ctx, userID, chatID, strings.TrimPrefix(data, "unsub_"))
	}

	// Stage callbacks (priority, type, attachment choice) belong to the engine.
	if sess, ok := b.Sessions.Get(userID); ok {
		return b.advance(ctx, sess, dialogue.Event{Callback: data})
	}

	b.Logger.Debug("callback without session", "user", userID, "data", data)
	return []connector.OutboundMessage{b.mainMenu(ctx, userID, chatID)}
}

// advance runs the engine and appends the main menu once the dialogue has
// finished (the session is gone after a terminal step or a restart).
func (b *Bot) advance(ctx context.Context, sess *dialogue.Session, ev dialogue.Event) []connector.OutboundMessage {
	userID, chatID := sess.UserID, sess.ChatID
	replies := b.Engine.Advance(ctx, sess, ev)
	if _, active := b.Sessions.Get(userID); !active {
		replies = append(replies, b.mainMenu(ctx, userID, chatID))
	}
	return replies
}

func (b *Bot) startRegistration(ctx context.Context, userID, chatID string) []connector.OutboundMessage {
	has, err := b.Store.HasToken(ctx, userID)
	if err != nil {
		b.Logger.Error("token check failed", "user", userID, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Something went wrong, please try again."}}
	}
	if has {
		return []connector.OutboundMessage{
			{ChatID: chatID, Text: "You are already registered."},
			b.mainMenu(ctx, userID, chatID),
		}
	}
	sess := b.Sessions.Start(userID, chatID)
	return b.Engine.StartRegistration(sess)
}

func (b *Bot) startTicket(ctx context.Context, userID, chatID string) []connector.OutboundMessage {
	has, err := b.Store.HasToken(ctx, userID)
	if err != nil {
		b.Logger.Error("token check failed", "user", userID, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Something went wrong, please try again."}}
	}
	if !has {
		return []connector.OutboundMessage{
			{ChatID: chatID, Text: "You are not registered yet, or your token is missing."},
			b.mainMenu(ctx, userID, chatID),
		}
	}
	sess := b.Sessions.Start(userID, chatID)
	return b.Engine.StartTicket(sess)
}

func (b *Bot) resetRegistration(ctx context.Context, userID, chatID string) []connector.OutboundMessage {
	has, err := b.Store.HasToken(ctx, userID)
	if err == nil && !has {
		return []connector.OutboundMessage{
			{ChatID: chatID, Text: "You are not registered."},
			b.mainMenu(ctx, userID, chatID),
		}
	}
	if err := b.Store.DeleteToken(ctx, userID); err != nil {
		b.Logger.Error("token delete failed", "user", userID, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Could not delete your token."}}
	}
	return []connector.OutboundMessage{
		{ChatID: chatID, Text: "Your token was deleted. Register again to continue."},
		b.mainMenu(ctx, userID, chatID),
	}
}

func (b *Bot) subscribe(ctx context.Context, userID, chatID, key string) []connector.OutboundMessage {
	// Capture the status seen at subscribe time so the first sweep only
	// notifies on a real change.
	token, err := b.Store.GetToken(ctx, userID)
	if errors.Is(err, store.ErrNoToken) {
		return []connector.OutboundMessage{{ChatID: chatID, Text: "You are not registered."}}
	}
	if err != nil {
		b.Logger.Error("token lookup failed", "user", userID, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Something went wrong, please try again."}}
	}
	info, err := b.Tracker.GetStatus(ctx, token, key)
	store.Wipe(token)
	if err != nil {
		b.Logger.Warn("status fetch for subscribe failed", "user", userID, "ticket", key, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Could not reach the tracker, please try again later."}}
	}

	err = b.Registry.Subscribe(ctx, userID, key, info.Status)
	switch {
	case errors.Is(err, registry.ErrAlreadySubscribed):
		return []connector.OutboundMessage{{ChatID: chatID, Text: "You are already subscribed to ticket " + key + "."}}
	case err != nil:
		b.Logger.Error("subscribe failed", "user", userID, "ticket", key, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Could not save the subscription."}}
	}
	return []connector.OutboundMessage{{ChatID: chatID, Text: "Subscribed to status updates for ticket " + key + "."}}
}

func (b *Bot) unsubscribe(ctx context.Context, userID, chatID, key string) []connector.OutboundMessage {
	err := b.Registry.Unsubscribe(ctx, userID, key)
	switch {
	case errors.Is(err, registry.ErrNotSubscribed):
		return []connector.OutboundMessage{{ChatID: chatID, Text: "You are not subscribed to ticket " + key + "."}}
	case err != nil:
		b.Logger.Error("unsubscribe failed", "user", userID, "ticket", key, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Could not remove the subscription."}}
	}
	return []connector.OutboundMessage{{ChatID: chatID, Text: "Subscription for ticket " + key + " removed."}}
}

func toDialogueAttachment(a *connector.Attachment) *dialogue.Attachment {
	if a == nil {
		return nil
	}
	return &dialogue.Attachment{Name: a.Name, Data: a.Data}
}
