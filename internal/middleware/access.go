package middleware

import (
	"github.com/rpi-tgbot-go/internal/config"
	"github.com/sirupsen/logrus"
)

// AccessFilter admits only senders on the configured whitelist
type AccessFilter struct {
	allowed         map[int64]struct{}
	logUnauthorized bool
	metrics         *Metrics
	logger          logrus.FieldLogger
}

// NewAccessFilter builds the whitelist set. It warns when no real user ID is configured,
// because every update will then be ignored.
func NewAccessFilter(cfg *config.Config, metrics *Metrics, logger logrus.FieldLogger) *AccessFilter {
	allowed := make(map[int64]struct{}, len(cfg.Whitelist))
	for _, id := range cfg.Whitelist {
		allowed[id] = struct{}{}
	}

	if !cfg.WhitelistConfigured() {
		logger.Warn("There are no user IDs on the whitelist or it contains only the default " +
			"invalid value (-1). The bot will ignore all messages")
	}

	return &AccessFilter{
		allowed:         allowed,
		logUnauthorized: cfg.LogUnauthorized,
		metrics:         metrics,
		logger:          logger,
	}
}

// Allow reports whether userID is whitelisted. The -1 placeholder never matches a real
// Telegram user, so an unconfigured whitelist denies everyone.
func (a *AccessFilter) Allow(userID int64) bool {
	_, ok := a.allowed[userID]
	return ok
}

// Denied records an update that was dropped because its sender is not whitelisted
func (a *AccessFilter) Denied(userID, chatID int64) {
	if a.metrics != nil {
		a.metrics.RecordUnauthorized()
	}
	if a.logUnauthorized {
		a.logger.WithFields(logrus.Fields{
			"user_id": userID,
			"chat_id": chatID,
		}).Warn("Ignoring update from user not on the whitelist")
	}
}
