package dialogue

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/deskbridge-io/deskbridge/internal/connector"
	"github.com/deskbridge-io/deskbridge/internal/store"
)

// Validation failures. All of them are recovered locally: the session keeps
// its stage and the same prompt is reissued.
var (
	ErrInvalidTopic          = errors.New("dialogue: topic must not be blank")
	ErrInvalidDescription    = errors.New("dialogue: description too short")
	ErrUnsupportedAttachment = errors.New("dialogue: attachment must be a document or photo")
)

// HelpText is the /help response, shared with the command router.
const HelpText = "Available commands:\n" +
	"/start — Restart the bot and show the menu\n" +
	"/help — Show this help message"

// Event is one inbound user event as the engine sees it.
type Event struct {
	Text     string
	Callback string
	Document *Attachment
	Photo    *Attachment
}

// Registrar stores a user's tracker credential at the end of the
// registration dialogue.
type Registrar interface {
	SaveUser(ctx context.Context, userID string, token []byte, email string) error
}

// TicketActions resolves the dialogue outcomes that need tracker access
// beyond ticket creation: showing an issue's status and appending comments.
type TicketActions interface {
	StatusView(ctx context.Context, userID, chatID, number string) []connector.OutboundMessage
	AddComment(ctx context.Context, userID, chatID, key, text string) []connector.OutboundMessage
}

// Engine is the conversation state machine. It owns the session table and
// translates (session, event) pairs into session mutations plus outbound
// messages. All collaborator failures surface as user-facing messages; the
// engine itself never returns an error to the transport.
type Engine struct {
	Sessions   *Sessions
	Submitter  Submitter
	Registrar  Registrar
	Tickets    TicketActions
	Categories []Category
	Priorities map[string]string // medium/high/critical → tracker name
	Logger     *slog.Logger
}

var emailRe = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z.]+$`)

const minTokenLen = 19

// StartTicket begins the ticket-creation dialogue for a fresh session.
func (e *Engine) StartTicket(sess *Session) []connector.OutboundMessage {
	sess.Stage = StageAwaitingPriority
	sess.Fields = Fields{}
	return []connector.OutboundMessage{e.priorityPrompt(sess)}
}

// StartRegistration begins the registration dialogue.
func (e *Engine) StartRegistration(sess *Session) []connector.OutboundMessage {
	sess.Stage = StageAwaitingEmail
	return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: "Enter your email:"}}
}

// StartStatusCheck begins the check-ticket-by-number dialogue.
func (e *Engine) StartStatusCheck(sess *Session) []connector.OutboundMessage {
	sess.Stage = StageAwaitingTicketNumber
	return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: "Enter the ticket number:"}}
}

// StartComment begins the add-comment dialogue for the given issue key.
func (e *Engine) StartComment(sess *Session, key string) []connector.OutboundMessage {
	sess.Stage = StageAwaitingComment
	sess.Ticket = key
	return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: "Enter your comment:"}}
}

// Advance processes one event against an active session. The restart and
// help commands pre-empt all stage validation: /start discards the session,
// /help answers without touching it.
func (e *Engine) Advance(ctx context.Context, sess *Session, ev Event) []connector.OutboundMessage {
	switch command(ev.Text) {
	case "start":
		e.Sessions.Drop(sess.UserID)
		return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: "Okay, starting over."}}
	case "help":
		return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: HelpText}}
	}

	switch sess.Stage {
	case StageAwaitingPriority:
		return e.advancePriority(sess, ev)
	case StageAwaitingType:
		return e.advanceType(sess, ev)
	case StageAwaitingTopic:
		return e.advanceTopic(sess, ev)
	case StageAwaitingDescription:
		return e.advanceDescription(ctx, sess, ev)
	case StageAwaitingAttachmentChoice:
		return e.advanceAttachmentChoice(ctx, sess, ev)
	case StageAwaitingAttachment:
		return e.advanceAttachment(ctx, sess, ev)
	case StageAwaitingEmail:
		return e.advanceEmail(sess, ev)
	case StageAwaitingToken:
		return e.advanceToken(ctx, sess, ev)
	case StageAwaitingTicketNumber:
		return e.advanceTicketNumber(ctx, sess, ev)
	case StageAwaitingComment:
		return e.advanceComment(ctx, sess, ev)
	default:
		e.Sessions.Drop(sess.UserID)
		return nil
	}
}

// --- ticket creation stages ---

func (e *Engine) advancePriority(sess *Session, ev Event) []connector.OutboundMessage {
	key := strings.TrimPrefix(ev.Callback, "prio_")
	name, ok := e.Priorities[key]
	if ev.Callback == key || !ok {
		// Input is button-constrained; anything else just reissues the keyboard.
		return []connector.OutboundMessage{e.priorityPrompt(sess)}
	}
	sess.Fields.Priority = name
	sess.Stage = StageAwaitingType
	return []connector.OutboundMessage{e.typePrompt(sess)}
}

func (e *Engine) advanceType(sess *Session, ev Event) []connector.OutboundMessage {
	var cat *Category
	for i := range e.Categories {
		if ev.Callback == typeCallback(i) {
			cat = &e.Categories[i]
			break
		}
	}
	if cat == nil {
		return []connector.OutboundMessage{e.typePrompt(sess)}
	}
	sess.Fields.Category = cat
	sess.Stage = StageAwaitingTopic
	return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: "Enter the ticket topic:"}}
}

func (e *Engine) advanceTopic(sess *Session, ev Event) []connector.OutboundMessage {
	topic := strings.TrimSpace(ev.Text)
	if topic == "" {
		e.Logger.Debug("stage validation failed", "user", sess.UserID, "stage", sess.Stage.String(), "error", ErrInvalidTopic)
		return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: "The topic must not be empty. Enter the ticket topic:"}}
	}
	sess.Fields.Topic = topic
	if sess.Fields.Category.RequiresDescription {
		sess.Stage = StageAwaitingDescription
		return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: "Enter the ticket description:"}}
	}
	sess.Stage = StageAwaitingAttachmentChoice
	return []connector.OutboundMessage{e.attachChoicePrompt(sess)}
}

func (e *Engine) advanceDescription(ctx context.Context, sess *Session, ev Event) []connector.OutboundMessage {
	if utf8.RuneCountInString(ev.Text) <= 1 {
		e.Logger.Debug("stage validation failed", "user", sess.UserID, "stage", sess.Stage.String(), "error", ErrInvalidDescription)
		return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: "The description is too short. Enter the ticket description:"}}
	}
	sess.Fields.Description = ev.Text
	sess.Stage = StageAwaitingAttachmentChoice
	return []connector.OutboundMessage{e.attachChoicePrompt(sess)}
}

func (e *Engine) advanceAttachmentChoice(ctx context.Context, sess *Session, ev Event) []connector.OutboundMessage {
	switch ev.Callback {
	case "attach_yes":
		sess.Stage = StageAwaitingAttachment
		return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: "Attach a document or a photo for the ticket."}}
	case "attach_no":
		return e.finishSubmit(ctx, sess)
	default:
		return []connector.OutboundMessage{e.attachChoicePrompt(sess)}
	}
}

func (e *Engine) advanceAttachment(ctx context.Context, sess *Session, ev Event) []connector.OutboundMessage {
	switch {
	case ev.Document != nil:
		sess.Fields.Attachment = ev.Document
	case ev.Photo != nil:
		sess.Fields.Attachment = ev.Photo
	default:
		e.Logger.Debug("stage validation failed", "user", sess.UserID, "stage", sess.Stage.String(), "error", ErrUnsupportedAttachment)
		return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: "That is not a document or a photo. Attach a file for the ticket."}}
	}
	return e.finishSubmit(ctx, sess)
}

// finishSubmit hands the collected fields to the submitter. The session is
// destroyed before the tracker call so a restart arriving mid-submission
// cannot resurrect it; the result is reported from the captured fields.
func (e *Engine) finishSubmit(ctx context.Context, sess *Session) []connector.OutboundMessage {
	fields := sess.Fields
	chatID := sess.ChatID
	userID := sess.UserID
	e.Sessions.Drop(userID)

	res, err := e.Submitter.Submit(ctx, userID, fields)
	switch {
	case errors.Is(err, ErrNotRegistered):
		return []connector.OutboundMessage{{ChatID: chatID, Text: "You are not registered. Complete registration before filing tickets."}}
	case err != nil:
		e.Logger.Error("ticket submission failed", "user", userID, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Could not create the ticket. Please try again later."}}
	}

	msg := connector.OutboundMessage{
		ChatID:   chatID,
		Keyboard: [][]connector.Button{{{Label: "Subscribe to status updates", Data: "sub_" + res.Key}}},
	}
	if res.HadAttachment && !res.AttachmentUploaded {
		msg.Text = "Ticket created, but the attachment could not be uploaded. Number: <b>" + res.Key + "</b>, link:\n" + res.Link
	} else {
		msg.Text = "Ticket created. Number: <b>" + res.Key + "</b>, link:\n" + res.Link
	}
	return []connector.OutboundMessage{msg}
}

// --- registration stages ---

func (e *Engine) advanceEmail(sess *Session, ev Event) []connector.OutboundMessage {
	if !emailRe.MatchString(ev.Text) {
		return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: "Invalid email. Enter your email again:"}}
	}
	sess.Email = ev.Text
	sess.Stage = StageAwaitingToken
	return []connector.OutboundMessage{{
		ChatID: sess.ChatID,
		Text: "To create a token:\n" +
			"1. Open your tracker profile page\n" +
			"2. Choose Create token\n" +
			"3. Name it and confirm\n" +
			"4. Paste the token here:",
	}}
}

func (e *Engine) advanceToken(ctx context.Context, sess *Session, ev Event) []connector.OutboundMessage {
	token := strings.TrimSpace(ev.Text)
	if utf8.RuneCountInString(token) < minTokenLen {
		return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: "That does not look like a valid token. Paste it again:"}}
	}

	chatID := sess.ChatID
	userID := sess.UserID
	email := sess.Email
	e.Sessions.Drop(userID)

	buf := []byte(token)
	err := e.Registrar.SaveUser(ctx, userID, buf, email)
	store.Wipe(buf)
	if err != nil {
		e.Logger.Error("registration failed", "user", userID, "error", err)
		return []connector.OutboundMessage{{ChatID: chatID, Text: "Registration failed, please try again."}}
	}
	return []connector.OutboundMessage{{ChatID: chatID, Text: "Registration complete!"}}
}

// --- status lookup and commenting ---

func (e *Engine) advanceTicketNumber(ctx context.Context, sess *Session, ev Event) []connector.OutboundMessage {
	number := strings.TrimSpace(ev.Text)
	if number == "" || !isDigits(number) {
		return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: "Invalid number. Enter the ticket number:"}}
	}
	chatID := sess.ChatID
	userID := sess.UserID
	e.Sessions.Drop(userID)
	return e.Tickets.StatusView(ctx, userID, chatID, number)
}

func (e *Engine) advanceComment(ctx context.Context, sess *Session, ev Event) []connector.OutboundMessage {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return []connector.OutboundMessage{{ChatID: sess.ChatID, Text: "The comment must not be empty. Enter your comment:"}}
	}
	chatID := sess.ChatID
	userID := sess.UserID
	key := sess.Ticket
	e.Sessions.Drop(userID)
	return e.Tickets.AddComment(ctx, userID, chatID, key, text)
}

// --- prompts ---

func (e *Engine) priorityPrompt(sess *Session) connector.OutboundMessage {
	return connector.OutboundMessage{
		ChatID: sess.ChatID,
		Text:   "Choose the ticket priority:",
		Keyboard: [][]connector.Button{{
			{Label: "Medium", Data: "prio_medium"},
			{Label: "High", Data: "prio_high"},
			{Label: "Critical", Data: "prio_critical"},
		}},
	}
}

func (e *Engine) typePrompt(sess *Session) connector.OutboundMessage {
	row := make([]connector.Button, 0, len(e.Categories))
	for i, cat := range e.Categories {
		row = append(row, connector.Button{Label: cat.Label, Data: typeCallback(i)})
	}
	return connector.OutboundMessage{
		ChatID:   sess.ChatID,
		Text:     "Choose the ticket type:",
		Keyboard: [][]connector.Button{row},
	}
}

func (e *Engine) attachChoicePrompt(sess *Session) connector.OutboundMessage {
	return connector.OutboundMessage{
		ChatID: sess.ChatID,
		Text:   "Do you want to attach a document or a photo to the ticket?",
		Keyboard: [][]connector.Button{{
			{Label: "Yes", Data: "attach_yes"},
			{Label: "No", Data: "attach_no"},
		}},
	}
}

func typeCallback(i int) string {
	return "type_" + string(rune('0'+i))
}

func command(text string) string {
	text = strings.TrimSpace(text)
	switch {
	case text == "/start" || strings.HasPrefix(text, "/start "):
		return "start"
	case text == "/help" || strings.HasPrefix(text, "/help "):
		return "help"
	default:
		return ""
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
