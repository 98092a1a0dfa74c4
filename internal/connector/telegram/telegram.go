package telegram

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/deskbridge-io/deskbridge/internal/connector"
)

// Config holds Telegram connector configuration.
type Config struct {
	Token     string  // Bot token from @BotFather
	AllowFrom []int64 // Allowed Telegram user IDs (empty = allow all)
}

// Connector implements the connector.Connector interface for Telegram.
type Connector struct {
	bot     *tgbotapi.BotAPI
	config  Config
	handler connector.Handler
	logger  *slog.Logger
	client  *http.Client
	cancel  context.CancelFunc
}

// New creates a new Telegram connector.
func New(cfg Config, handler connector.Handler, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:     bot,
		config:  cfg,
		handler: handler,
		logger:  logger,
		client:  http.DefaultClient,
	}, nil
}

func (c *Connector) Name() string { return "telegram" }

// Start begins long-polling for updates. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			switch {
			case update.CallbackQuery != nil:
				c.handleCallback(ctx, update.CallbackQuery)
			case update.Message != nil:
				c.handleMessage(ctx, update.Message)
			}

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers a message to a Telegram chat.
func (c *Connector) Send(_ context.Context, msg connector.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat_id %q: %w", msg.ChatID, err)
	}

	if strings.TrimSpace(msg.Text) == "" {
		c.logger.Warn("skipping empty message", "chat_id", msg.ChatID)
		return nil
	}

	tgMsg := tgbotapi.NewMessage(chatID, msg.Text)
	tgMsg.ParseMode = "HTML"
	tgMsg.DisableWebPagePreview = true
	if len(msg.Keyboard) > 0 {
		tgMsg.ReplyMarkup = toInlineKeyboard(msg.Keyboard)
	}

	_, err = c.bot.Send(tgMsg)
	if err != nil {
		// Fallback to plain text if HTML fails
		c.logger.Warn("HTML send failed, falling back to plain text",
			"chat_id", msg.ChatID,
			"error", err,
		)
		tgMsg.Text = StripTags(msg.Text)
		tgMsg.ParseMode = ""
		_, err = c.bot.Send(tgMsg)
	}

	return err
}

func (c *Connector) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if !c.allowed(userID) {
		c.logger.Warn("unauthorized user", "user_id", userID, "username", msg.From.UserName)
		return
	}

	ev := connector.Event{
		Channel:  "telegram",
		SenderID: strconv.FormatInt(userID, 10),
		ChatID:   strconv.FormatInt(chatID, 10),
	}

	switch {
	case msg.Document != nil:
		data, err := c.download(ctx, msg.Document.FileID)
		if err != nil {
			c.logger.Error("document download failed", "chat_id", chatID, "error", err)
			return
		}
		ev.Document = &connector.Attachment{Name: msg.Document.FileName, Data: data}

	case len(msg.Photo) > 0:
		// Telegram sends several resolutions; the last one is the largest.
		data, err := c.download(ctx, msg.Photo[len(msg.Photo)-1].FileID)
		if err != nil {
			c.logger.Error("photo download failed", "chat_id", chatID, "error", err)
			return
		}
		ev.Photo = &connector.Attachment{Name: "photo.jpg", Data: data}

	default:
		text := msg.Text
		if text == "" && msg.Caption != "" {
			text = msg.Caption
		}
		if text == "" {
			return
		}
		ev.Text = text
	}

	// Send typing indicator
	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	c.bot.Send(typing)

	if err := c.handler(ctx, ev); err != nil {
		c.logger.Error("inbound handler error", "chat_id", chatID, "error", err)
	}
}

func (c *Connector) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	userID := cb.From.ID
	if !c.allowed(userID) {
		c.logger.Warn("unauthorized callback", "user_id", userID)
		return
	}

	// Acknowledge the press so the client stops its spinner.
	c.bot.Request(tgbotapi.NewCallback(cb.ID, ""))

	chatID := userID
	if cb.Message != nil {
		chatID = cb.Message.Chat.ID
		// Retire the pressed keyboard; the dialogue moves on.
		edit := tgbotapi.NewEditMessageReplyMarkup(chatID, cb.Message.MessageID,
			tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
		c.bot.Request(edit)
	}

	ev := connector.Event{
		Channel:  "telegram",
		SenderID: strconv.FormatInt(userID, 10),
		ChatID:   strconv.FormatInt(chatID, 10),
		Callback: cb.Data,
	}
	if err := c.handler(ctx, ev); err != nil {
		c.logger.Error("callback handler error", "chat_id", chatID, "error", err)
	}
}

// download fetches a file's bytes through the Bot API file endpoint.
func (c *Connector) download(ctx context.Context, fileID string) ([]byte, error) {
	url, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("telegram: file url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("telegram: file request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("telegram: file download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram: file download: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("telegram: file read: %w", err)
	}
	return data, nil
}

func (c *Connector) allowed(id int64) bool {
	if len(c.config.AllowFrom) == 0 {
		return true
	}
	for _, v := range c.config.AllowFrom {
		if v == id {
			return true
		}
	}
	return false
}

func toInlineKeyboard(rows [][]connector.Button) tgbotapi.InlineKeyboardMarkup {
	kb := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		r := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			r = append(r, tgbotapi.NewInlineKeyboardButtonData(btn.Label, btn.Data))
		}
		kb = append(kb, r)
	}
	return tgbotapi.NewInlineKeyboardMarkup(kb...)
}
