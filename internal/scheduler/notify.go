package scheduler

import (
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rpi-tgbot-go/internal/middleware"
	"github.com/sirupsen/logrus"
)

// Sender delivers outgoing messages
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// notifyAll sends text to every recipient. A failed recipient does not stop the others.
func notifyAll(sender Sender, recipients []int64, text, kind string, metrics *middleware.Metrics, logger logrus.FieldLogger) error {
	var errs []error
	for _, userID := range recipients {
		if _, err := sender.Send(tgbotapi.NewMessage(userID, text)); err != nil {
			logger.WithError(err).WithField("user_id", userID).Error("Failed to send notification")
			metrics.RecordNotification(kind, "error")
			errs = append(errs, err)
			continue
		}
		metrics.RecordNotification(kind, "success")
	}
	return errors.Join(errs...)
}
