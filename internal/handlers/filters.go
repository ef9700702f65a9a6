package handlers

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rpi-tgbot-go/internal/models"
)

// Predicate decides whether a route applies to a message
type Predicate func(msg *tgbotapi.Message) bool

// And matches when every predicate matches
func And(preds ...Predicate) Predicate {
	return func(msg *tgbotapi.Message) bool {
		for _, p := range preds {
			if !p(msg) {
				return false
			}
		}
		return true
	}
}

// IsCommand matches any bot command
func IsCommand(msg *tgbotapi.Message) bool {
	return msg.IsCommand()
}

// IsCommandNamed matches the given command, with or without a @botname suffix
func IsCommandNamed(name string) Predicate {
	return func(msg *tgbotapi.Message) bool {
		return msg.IsCommand() && msg.Command() == name
	}
}

// IsPlainText matches text messages that are not commands
func IsPlainText(msg *tgbotapi.Message) bool {
	return msg.Text != "" && !msg.IsCommand()
}

// HasPhoto matches compressed photos
func HasPhoto(msg *tgbotapi.Message) bool {
	return len(msg.Photo) > 0
}

// IsImageDocument matches files sent uncompressed with an image MIME type
func IsImageDocument(msg *tgbotapi.Message) bool {
	return msg.Document != nil && strings.HasPrefix(msg.Document.MimeType, "image/")
}

// FromUsers matches messages whose sender passes allow
func FromUsers(allow func(userID int64) bool) Predicate {
	return func(msg *tgbotapi.Message) bool {
		return msg.From != nil && allow(msg.From.ID)
	}
}

// Classify names the kind of message for metrics and logging
func Classify(msg *tgbotapi.Message) models.UpdateKind {
	switch {
	case IsCommand(msg):
		return models.KindCommand
	case IsPlainText(msg):
		return models.KindText
	case HasPhoto(msg):
		return models.KindPhoto
	case IsImageDocument(msg):
		return models.KindImageDocument
	default:
		return models.KindOther
	}
}
