package connector

import "context"

// Connector is the interface for external messaging platforms (Telegram, Slack, etc.).
type Connector interface {
	// Name returns the connector type (e.g., "telegram", "slack").
	Name() string
	// Start begins listening for inbound events. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
	// Send delivers an outbound message to the external platform.
	Send(ctx context.Context, msg OutboundMessage) error
}

// Button is one inline keyboard button. Data is the callback payload
// delivered back as Event.Callback when the button is pressed.
type Button struct {
	Label string
	Data  string
}

// OutboundMessage is a message sent from the bot to an external platform.
// Text may contain a limited HTML subset (<b>, <i>, <code>, <a href>);
// connectors that cannot render it strip the tags.
type OutboundMessage struct {
	ChatID   string
	Text     string
	Keyboard [][]Button // Optional inline keyboard, one slice per row
}

// Attachment is a file payload downloaded from the platform.
type Attachment struct {
	Name string
	Data []byte
}

// Event is a single inbound user event from an external platform.
// Exactly one of Text, Callback, Document or Photo is meaningful.
type Event struct {
	Channel  string // Connector name (e.g., "telegram")
	SenderID string // Platform-specific stable user identifier
	ChatID   string // Platform-specific chat identifier
	Text     string // Free text (commands included)
	Callback string // Inline button payload
	Document *Attachment
	Photo    *Attachment
}

// IsFile reports whether the event carries a file payload.
func (e Event) IsFile() bool { return e.Document != nil || e.Photo != nil }

// Handler processes events received from external platforms.
type Handler func(ctx context.Context, ev Event) error
