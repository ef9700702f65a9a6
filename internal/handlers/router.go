package handlers

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rpi-tgbot-go/internal/i18n"
	"github.com/rpi-tgbot-go/internal/middleware"
	"github.com/rpi-tgbot-go/internal/models"
	"github.com/rpi-tgbot-go/pkg/logger"
	"github.com/sirupsen/logrus"
)

// BotAPI is the part of the Telegram client the handlers use
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// HandlerFunc handles one routed message
type HandlerFunc func(ctx context.Context, msg *tgbotapi.Message) error

type route struct {
	name   string
	match  Predicate
	handle HandlerFunc
}

// Router dispatches messages to the first route whose predicate matches
type Router struct {
	bot         BotAPI
	routes      []route
	whitelisted Predicate
	access      *middleware.AccessFilter
	rateLimiter middleware.RateLimiter
	localizer   *i18n.Localizer
	metrics     *middleware.Metrics
	logger      logrus.FieldLogger
}

// NewRouter registers the command, text and (when media is non-nil) image routes
func NewRouter(
	bot BotAPI,
	access *middleware.AccessFilter,
	rateLimiter middleware.RateLimiter,
	commands *CommandHandler,
	messages *MessageHandler,
	media *MediaHandler,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger logrus.FieldLogger,
) *Router {
	r := &Router{
		bot:         bot,
		whitelisted: FromUsers(access.Allow),
		access:      access,
		rateLimiter: rateLimiter,
		localizer:   localizer,
		metrics:     metrics,
		logger:      logger,
	}

	r.Handle("start", IsCommandNamed("start"), commands.HandleStart)
	r.Handle("ip", IsCommandNamed("ip"), commands.HandleIP)
	r.Handle("temperature", IsCommandNamed("temperature"), commands.HandleTemperature)
	r.Handle("uptime", IsCommandNamed("uptime"), commands.HandleUptime)
	r.Handle("help", IsCommandNamed("help"), commands.HandleHelp)
	r.Handle("text", IsPlainText, messages.HandleText)
	r.Handle("unknown", IsCommand, commands.HandleUnknown)

	if media != nil {
		r.Handle("photo", HasPhoto, media.HandlePhoto)
		r.Handle("image_file", IsImageDocument, media.HandleImageDocument)
	}

	return r
}

// Handle appends a route. Every route also requires a whitelisted sender.
func (r *Router) Handle(name string, match Predicate, handle HandlerFunc) {
	r.routes = append(r.routes, route{
		name:   name,
		match:  And(match, r.whitelisted),
		handle: handle,
	})
}

// HandleUpdate routes one update. Updates without a matching route are dropped silently.
func (r *Router) HandleUpdate(ctx context.Context, update *tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return nil
	}

	kind := Classify(msg)
	r.metrics.RecordUpdateReceived(string(kind))

	rt, ok := r.match(msg)
	if !ok {
		if msg.From != nil && !r.access.Allow(msg.From.ID) {
			r.access.Denied(msg.From.ID, msg.Chat.ID)
		}
		return nil
	}

	log := logger.WithContext(r.logger, msg.Chat.ID, msg.From.ID).WithField("route", rt.name)

	if !r.rateLimiter.Allow(msg.From.ID) {
		if kind == models.KindCommand {
			return send(r.bot, msg.Chat.ID, r.localizer.Get(i18n.MsgRateLimitExceeded, nil), "")
		}
		return nil
	}

	if kind == models.KindCommand {
		r.metrics.RecordCommandExecuted(rt.name)
	}

	if err := rt.handle(ctx, msg); err != nil {
		log.WithError(err).Error("Failed to handle update")
		r.metrics.RecordUpdateProcessed("error")
		return err
	}

	log.Debug("Update handled")
	r.metrics.RecordUpdateProcessed("success")
	return nil
}

func (r *Router) match(msg *tgbotapi.Message) (route, bool) {
	for _, rt := range r.routes {
		if rt.match(msg) {
			return rt, true
		}
	}
	return route{}, false
}

// send delivers a single text message
func send(bot BotAPI, chatID int64, text, parseMode string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = parseMode

	_, err := bot.Send(msg)
	return err
}
