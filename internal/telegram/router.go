package telegram

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Inbound receives user messages. funnel.Engine implements it.
type Inbound interface {
	OnInboundMessage(ctx context.Context, userID int64, text string, receivedAt time.Time) error
}

// Router wires Telegram updates to the funnel.
type Router struct {
	log     *zap.Logger
	history *History
	inbound Inbound
}

// NewRouter creates a new Telegram router.
func NewRouter(log *zap.Logger, history *History, inbound Inbound) *Router {
	return &Router{
		log:     log,
		history: history,
		inbound: inbound,
	}
}

// HandleUpdate routes a single update. Only private-chat messages count;
// everything else is ignored.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() {
		return
	}
	if msg.From.IsBot {
		return
	}

	userID := msg.From.ID
	text := msg.Text
	if text == "" {
		text = msg.Caption
	}
	if strings.TrimSpace(text) != "" {
		r.history.Record(userID, text)
	}

	receivedAt := time.Now().UTC()
	if msg.Date != 0 {
		receivedAt = msg.Time().UTC()
	}

	if err := r.inbound.OnInboundMessage(ctx, userID, text, receivedAt); err != nil {
		r.log.Error("inbound message failed", zap.Error(err), zap.Int64("user_id", userID))
	}
}
