package bot

import (
	"context"
	"errors"
	"html"
	"strconv"
	"strings"

	"github.com/deskbridge-io/deskbridge/internal/connector"
	"github.com/deskbridge-io/deskbridge/internal/store"
	"github.com/deskbridge-io/deskbridge/internal/tracker"
)

// mainMenu builds the entry keyboard. Registered users get the full set;
// everyone else only gets the registration button.
func (b *Bot) mainMenu(ctx context.Context, userID, chatID string) connector.OutboundMessage {
	has, err := b.Store.HasToken(ctx, userID)
	if err != nil {
		b.Logger.Error("token check failed", "user", userID, "error", err)
		has = false
	}

	var rows [][]connector.Button
	if has {
		rows = [][]connector.Button{
			{{Label: "File a ticket", Data: "menu_create"}},
			{{Label: "My tickets", Data: "menu_mytickets"}},
			{{Label: "My subscriptions", Data: "menu_subs"}},
			{{Label: "Check ticket status", Data: "menu_check"}},
			{{Label: "Reset registration", Data: "menu_reset"}},
		}
	} else {
		rows = [][]connector.Button{
			{{Label: "Register", Data: "menu_register"}},
		}
	}
	return connector.OutboundMessage{ChatID: chatID, Text: "Choose an option:", Keyboard: rows}
}

// StatusView renders the current state of one issue. The number may be
// bare digits (completed "check status" dialogue) or a full issue key
// (ticket button callback).
func (b *Bot) StatusView(ctx context.Context, userID, chatID, number string) []connector.OutboundMessage {
	key := number
	if isAllDigits(number) {
		key = b.ProjectKey + "-" + number
	}

	token, err := b.Store.GetToken(ctx, userID)
	if errors.Is(err, store.ErrNoToken) {
		return []connector.OutboundMessage{
			{ChatID: chatID, Text: "You are not registered."},
			b.mainMenu(ctx, userID, chatID),
		}
	}
	if err != nil {
		b.Logger.Error("token lookup failed", "user", userID, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Something went wrong, please try again."}}
	}
	info, err := b.Tracker.GetStatus(ctx, token, key)
	store.Wipe(token)
	switch {
	case errors.Is(err, tracker.ErrNotFound):
		return []connector.OutboundMessage{
			{ChatID: chatID, Text: "No ticket with number " + key + " was found."},
			b.mainMenu(ctx, userID, chatID),
		}
	case err != nil:
		b.Logger.Warn("status fetch failed", "user", userID, "ticket", key, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Could not reach the tracker, please try again later."}}
	}

	return []connector.OutboundMessage{
		{
			ChatID:   chatID,
			Text:     formatStatus(key, info),
			Keyboard: b.statusKeyboard(ctx, userID, key),
		},
		b.mainMenu(ctx, userID, chatID),
	}
}

// AddComment appends a comment collected by the dialogue engine.
func (b *Bot) AddComment(ctx context.Context, userID, chatID, key, text string) []connector.OutboundMessage {
	token, err := b.Store.GetToken(ctx, userID)
	if errors.Is(err, store.ErrNoToken) {
		return []connector.OutboundMessage{{ChatID: chatID, Text: "You are not registered."}}
	}
	if err != nil {
		b.Logger.Error("token lookup failed", "user", userID, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Something went wrong, please try again."}}
	}
	err = b.Tracker.AddComment(ctx, token, key, text)
	store.Wipe(token)
	if err != nil {
		b.Logger.Warn("comment failed", "user", userID, "ticket", key, "error", err)
		return []connector.OutboundMessage{
			{ChatID: chatID, Text: "Could not add the comment."},
			b.mainMenu(ctx, userID, chatID),
		}
	}
	return []connector.OutboundMessage{
		{ChatID: chatID, Text: "Comment added to ticket <b>" + html.EscapeString(key) + "</b>."},
		b.mainMenu(ctx, userID, chatID),
	}
}

// listTickets renders one page of the user's issues as buttons.
func (b *Bot) listTickets(ctx context.Context, userID, chatID string, start int) []connector.OutboundMessage {
	token, err := b.Store.GetToken(ctx, userID)
	if errors.Is(err, store.ErrNoToken) {
		return []connector.OutboundMessage{
			{ChatID: chatID, Text: "You are not registered."},
			b.mainMenu(ctx, userID, chatID),
		}
	}
	if err != nil {
		b.Logger.Error("token lookup failed", "user", userID, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Something went wrong, please try again."}}
	}
	refs, err := b.Tracker.SearchMine(ctx, token)
	store.Wipe(token)
	if err != nil {
		b.Logger.Warn("ticket search failed", "user", userID, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Could not reach the tracker, please try again later."}}
	}
	if len(refs) == 0 {
		return []connector.OutboundMessage{
			{ChatID: chatID, Text: "You have no tickets yet."},
			b.mainMenu(ctx, userID, chatID),
		}
	}

	if start < 0 || start >= len(refs) {
		start = 0
	}
	end := start + b.PageSize
	if end > len(refs) {
		end = len(refs)
	}

	var rows [][]connector.Button
	if start > 0 {
		prev := start - b.PageSize
		if prev < 0 {
			prev = 0
		}
		rows = append(rows, []connector.Button{{Label: "<< Previous", Data: "list_" + strconv.Itoa(prev)}})
	}
	for _, ref := range refs[start:end] {
		rows = append(rows, []connector.Button{{
			Label: ref.Key + " — " + ref.Summary,
			Data:  "ticket_" + ref.Key,
		}})
	}
	if end < len(refs) {
		rows = append(rows, []connector.Button{{Label: "Next >>", Data: "list_" + strconv.Itoa(end)}})
	}

	return []connector.OutboundMessage{{
		ChatID:   chatID,
		Text:     "Pick a ticket to check its status:",
		Keyboard: rows,
	}}
}

// listSubscriptions renders the user's watches with per-entry unsubscribe.
func (b *Bot) listSubscriptions(ctx context.Context, userID, chatID string) []connector.OutboundMessage {
	subs, err := b.Registry.ListUser(ctx, userID)
	if err != nil {
		b.Logger.Error("subscription list failed", "user", userID, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Could not load your subscriptions."}}
	}
	if len(subs) == 0 {
		return []connector.OutboundMessage{
			{ChatID: chatID, Text: "You have no status subscriptions."},
			b.mainMenu(ctx, userID, chatID),
		}
	}

	var rows [][]connector.Button
	for _, sub := range subs {
		label := sub.TicketKey
		if sub.Status != "" {
			label += " (" + sub.Status + ")"
		}
		rows = append(rows, []connector.Button{{
			Label: "Unsubscribe " + label,
			Data:  "unsub_" + sub.TicketKey,
		}})
	}
	return []connector.OutboundMessage{{
		ChatID:   chatID,
		Text:     "Your status subscriptions:",
		Keyboard: rows,
	}}
}

// statusKeyboard offers a comment button plus subscribe or unsubscribe,
// depending on what the registry says. The registry is the source of
// truth for watch state, never the tracker.
func (b *Bot) statusKeyboard(ctx context.Context, userID, key string) [][]connector.Button {
	rows := [][]connector.Button{
		{{Label: "Leave a comment", Data: "comment_" + key}},
	}
	subs, err := b.Registry.ListUser(ctx, userID)
	if err != nil {
		b.Logger.Warn("subscription lookup failed", "user", userID, "error", err)
		return rows
	}
	for _, sub := range subs {
		if sub.TicketKey == key {
			return append(rows, []connector.Button{{Label: "Unsubscribe from updates", Data: "unsub_" + key}})
		}
	}
	return append(rows, []connector.Button{{Label: "Subscribe to updates", Data: "sub_" + key}})
}

func formatStatus(key string, info *tracker.StatusInfo) string {
	var sb strings.Builder
	sb.WriteString("Ticket " + html.EscapeString(key) + " status: <b>" + html.EscapeString(info.Status) + "</b>\n\n")
	sb.WriteString("Topic:\n" + html.EscapeString(info.Summary) + "\n\n")
	if info.Description != "" {
		sb.WriteString("Description:\n" + html.EscapeString(info.Description) + "\n\n")
	}
	sb.WriteString("Last update: <b>" + html.EscapeString(info.LastUpdate) + "</b>\n\n")
	if info.LastComment != nil {
		sb.WriteString("Last comment by <b>" + html.EscapeString(info.LastComment.Author) +
			"</b> at <b>" + html.EscapeString(info.LastComment.Created) + "</b>:\n\n" +
			html.EscapeString(info.LastComment.Text))
	} else {
		sb.WriteString("No comments yet.")
	}
	return sb.String()
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
