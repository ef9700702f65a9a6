package handlers

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rpi-tgbot-go/internal/i18n"
	"github.com/rpi-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
)

// MessageHandler handles regular text messages. The bot does not answer them, but it
// reminds the chat to use commands every maxTextWarning messages.
type MessageHandler struct {
	bot            BotAPI
	maxTextWarning int
	localizer      *i18n.Localizer
	logger         logrus.FieldLogger
	now            func() time.Time

	mu       sync.Mutex
	sessions map[int64]*models.ChatSession
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(
	bot BotAPI,
	maxTextWarning int,
	localizer *i18n.Localizer,
	logger logrus.FieldLogger,
) *MessageHandler {
	return &MessageHandler{
		bot:            bot,
		maxTextWarning: maxTextWarning,
		localizer:      localizer,
		logger:         logger,
		now:            time.Now,
		sessions:       make(map[int64]*models.ChatSession),
	}
}

// HandleText counts a plain text message and sends the reminder when the count is reached
func (h *MessageHandler) HandleText(ctx context.Context, msg *tgbotapi.Message) error {
	if !h.countText(msg.Chat.ID) {
		return nil
	}

	h.logger.WithField("chat_id", msg.Chat.ID).Debug("Sending text message reminder")
	return send(h.bot, msg.Chat.ID, h.localizer.Get(i18n.MsgTextWarning, nil), "")
}

// countText increments the chat's counter and reports whether the reminder is due.
// The counter is reset when it is.
func (h *MessageHandler) countText(chatID int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	session, ok := h.sessions[chatID]
	if !ok {
		session = &models.ChatSession{ChatID: chatID}
		h.sessions[chatID] = session
	}

	session.TextMessages++
	session.LastActivity = h.now()

	if session.TextMessages >= h.maxTextWarning {
		session.TextMessages = 0
		return true
	}
	return false
}

// TextMessages returns the current counter for a chat
func (h *MessageHandler) TextMessages(chatID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if session, ok := h.sessions[chatID]; ok {
		return session.TextMessages
	}
	return 0
}
