package slackconn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/deskbridge-io/deskbridge/internal/connector"
)

// Config holds Slack connector configuration.
type Config struct {
	BotToken string   // xoxb-... Bot User OAuth Token
	AppToken string   // xapp-... App-Level Token (for Socket Mode)
	Channels []string // Optional: only respond in these channels (empty = all)
}

// Connector implements connector.Connector for Slack via Socket Mode.
// Inline keyboards map to Block Kit action buttons; file events are
// downloaded through the files API before being handed to the router.
type Connector struct {
	api     *slack.Client
	socket  *socketmode.Client
	config  Config
	handler connector.Handler
	logger  *slog.Logger
	cancel  context.CancelFunc
	botID   string
}

// New creates a new Slack connector.
func New(cfg Config, handler connector.Handler, logger *slog.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app_token is required (Socket Mode)")
	}

	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))

	// Test auth and get bot user ID
	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}

	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	socket := socketmode.New(api)

	return &Connector{
		api:     api,
		socket:  socket,
		config:  cfg,
		handler: handler,
		logger:  logger,
		botID:   authResp.UserID,
	}, nil
}

func (c *Connector) Name() string { return "slack" }

// Start begins listening for events via Socket Mode. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go c.handleEvents(ctx)

	c.logger.Info("slack connector started (socket mode)")
	return c.socket.RunContext(ctx)
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers a message to a Slack channel or DM.
func (c *Connector) Send(_ context.Context, msg connector.OutboundMessage) error {
	text := StripHTML(msg.Text)

	opts := []slack.MsgOption{
		slack.MsgOptionText(text, false),
	}
	if len(msg.Keyboard) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.PlainTextType, text, false, false), nil, nil),
			toActionBlock(msg.Keyboard),
		))
	}

	_, _, err := c.api.PostMessage(msg.ChatID, opts...)
	if err != nil {
		return fmt.Errorf("slack: send message: %w", err)
	}
	return nil
}

func (c *Connector) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.socket.Events:
			switch event.Type {
			case socketmode.EventTypeEventsAPI:
				c.handleEventsAPI(ctx, event)
			case socketmode.EventTypeInteractive:
				c.handleInteractive(ctx, event)
			}
		}
	}
}

func (c *Connector) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}

	c.socket.Ack(*event.Request)

	if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		c.handleMessage(ctx, ev)
	}
}

func (c *Connector) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Ignore bot messages (including our own)
	if ev.BotID != "" || ev.User == "" || ev.User == c.botID {
		return
	}
	// Ignore message subtypes (edits, deletes, etc.) but keep file shares.
	if ev.SubType != "" && ev.SubType != "file_share" {
		return
	}
	if !c.isAllowedChannel(ev.Channel) {
		return
	}

	inbound := connector.Event{
		Channel:  "slack",
		SenderID: ev.User,
		ChatID:   ev.Channel,
		Text:     ev.Text,
	}

	if len(ev.Files) > 0 {
		file := ev.Files[0]
		data, err := c.download(ctx, file.URLPrivateDownload)
		if err != nil {
			c.logger.Error("slack file download failed", "channel", ev.Channel, "error", err)
			return
		}
		att := &connector.Attachment{Name: file.Name, Data: data}
		inbound.Text = ""
		if file.Mimetype == "image/jpeg" || file.Mimetype == "image/png" {
			inbound.Photo = att
		} else {
			inbound.Document = att
		}
	}

	if inbound.Text == "" && !inbound.IsFile() {
		return
	}

	if err := c.handler(ctx, inbound); err != nil {
		c.logger.Error("slack inbound handler error",
			"channel", ev.Channel,
			"user", ev.User,
			"error", err,
		)
	}
}

// handleInteractive turns Block Kit button presses into callback events.
func (c *Connector) handleInteractive(ctx context.Context, event socketmode.Event) {
	callback, ok := event.Data.(slack.InteractionCallback)
	if !ok {
		return
	}

	c.socket.Ack(*event.Request)

	if callback.Type != slack.InteractionTypeBlockActions || len(callback.ActionCallback.BlockActions) == 0 {
		return
	}

	action := callback.ActionCallback.BlockActions[0]
	inbound := connector.Event{
		Channel:  "slack",
		SenderID: callback.User.ID,
		ChatID:   callback.Channel.ID,
		Callback: action.Value,
	}

	if err := c.handler(ctx, inbound); err != nil {
		c.logger.Error("slack interactive handler error",
			"channel", callback.Channel.ID,
			"user", callback.User.ID,
			"error", err,
		)
	}
}

// download fetches a private Slack file (bot token auth).
func (c *Connector) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("slack: file request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.config.BotToken)

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("slack: file download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("slack: file download: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *Connector) isAllowedChannel(channel string) bool {
	if len(c.config.Channels) == 0 {
		return true
	}
	for _, ch := range c.config.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

func toActionBlock(rows [][]connector.Button) *slack.ActionBlock {
	var elements []slack.BlockElement
	for _, row := range rows {
		for _, btn := range row {
			elements = append(elements, slack.NewButtonBlockElement(
				"action_"+btn.Data,
				btn.Data,
				slack.NewTextBlockObject(slack.PlainTextType, btn.Label, false, false),
			))
		}
	}
	return slack.NewActionBlock("deskbridge_actions", elements...)
}
