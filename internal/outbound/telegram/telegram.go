// Package telegram connects the assistant to Telegram: long-polled
// inbound messages and plain-text outbound sends.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Handler receives one inbound text message. The chat ID doubles as the
// outbound channel ID.
type Handler func(ctx context.Context, chatID, text string)

// Config holds the Telegram client configuration.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string

	// Logger is optional; slog.Default is used when nil.
	Logger *slog.Logger
}

// Client is a thin wrapper over the bot API implementing the outbound
// Transport on the send side and long polling on the receive side.
type Client struct {
	bot    *bot.Bot
	logger *slog.Logger
}

// New creates a Telegram client. Inbound text messages are passed to
// onMessage; other update kinds are ignored.
func New(cfg Config, onMessage Handler) (*Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram: token is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telegram")

	c := &Client{logger: logger}
	opts := []bot.Option{
		bot.WithDefaultHandler(func(ctx context.Context, _ *bot.Bot, update *models.Update) {
			chatID, text, ok := inboundText(update)
			if !ok {
				return
			}
			logger.Debug("received message", "chat_id", chatID, "length", len(text))
			// Show typing while the turn is processed; the reply arrives
			// asynchronously through the outbound path.
			c.SendTyping(ctx, chatID)
			onMessage(ctx, chatID, text)
		}),
	}

	b, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	c.bot = b
	return c, nil
}

// inboundText extracts the chat ID and message text from an update.
// Non-message updates and empty texts are ignored.
func inboundText(update *models.Update) (chatID, text string, ok bool) {
	if update == nil || update.Message == nil || update.Message.Text == "" {
		return "", "", false
	}
	return strconv.FormatInt(update.Message.Chat.ID, 10), update.Message.Text, true
}

// Start begins long polling. It blocks until the context is cancelled.
func (c *Client) Start(ctx context.Context) {
	c.logger.Info("telegram long polling started")
	c.bot.Start(ctx)
	c.logger.Info("telegram long polling stopped")
}

// Send delivers one text message to a chat.
func (c *Client) Send(ctx context.Context, channelID, text string) error {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", channelID, err)
	}
	if _, err := c.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text}); err != nil {
		return fmt.Errorf("telegram: send to %d: %w", chatID, err)
	}
	return nil
}

// SendTyping shows the typing indicator while a turn is being handled.
// Failures are ignored; the indicator is cosmetic.
func (c *Client) SendTyping(ctx context.Context, channelID string) {
	chatID, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return
	}
	_, _ = c.bot.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	})
}
