package telegram

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Client is the messaging port: it sends through the Bot API and serves
// recent history from the in-process buffer.
type Client struct {
	bot     *tgbotapi.BotAPI
	history *History
}

// NewClient creates a Client. bot should carry an HTTP client with a timeout.
func NewClient(bot *tgbotapi.BotAPI, history *History) *Client {
	return &Client{bot: bot, history: history}
}

// SendMessage sends a plain text message to the given chat.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

// RecentHistory returns up to limit recent inbound texts, newest first.
func (c *Client) RecentHistory(ctx context.Context, chatID int64, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.history.Recent(chatID, limit), nil
}

// ForgetHistory drops the buffered texts for a chat.
func (c *Client) ForgetHistory(chatID int64) {
	c.history.Forget(chatID)
}
