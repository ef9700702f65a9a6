// Package bot wires the services together and runs one Telegram session.
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rpi-tgbot-go/internal/config"
	"github.com/rpi-tgbot-go/internal/handlers"
	"github.com/rpi-tgbot-go/internal/i18n"
	"github.com/rpi-tgbot-go/internal/middleware"
	"github.com/rpi-tgbot-go/internal/scheduler"
	"github.com/rpi-tgbot-go/internal/services/cache"
	"github.com/rpi-tgbot-go/internal/services/hostinfo"
	"github.com/rpi-tgbot-go/internal/services/imagestore"
	"github.com/rpi-tgbot-go/internal/services/ipecho"
	"github.com/rpi-tgbot-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

var errNoSession = errors.New("no active Telegram session")

// Client is the part of the Telegram API a session uses
type Client interface {
	handlers.BotAPI
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// Bot owns everything that outlives a single session: chat counters, the remembered
// external IP and the restart alert guard.
type Bot struct {
	cfg     *config.Config
	metrics *middleware.Metrics
	logger  *logrus.Logger

	relay   *relay
	router  *handlers.Router
	restart *scheduler.RestartAlert
	watcher *scheduler.IPWatcher

	dial func() (Client, error)
}

// New builds the bot and its services. store persists the last seen external IP.
func New(cfg *config.Config, store *storage.Manager, metrics *middleware.Metrics, logger *logrus.Logger) (*Bot, error) {
	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize i18n: %w", err)
	}

	b := &Bot{
		cfg:     cfg,
		metrics: metrics,
		logger:  logger,
		relay:   &relay{},
	}
	b.dial = b.dialTelegram

	timeout := cfg.Connection.CallTimeout()
	fetcher := ipecho.NewFetcher(cfg.IPSources, timeout, metrics, logger)
	ipCache := cache.NewIPCache(fetcher, cfg.IPCacheDuration(), metrics, logger)
	host := hostinfo.New(&cfg.Host, hostinfo.ExecRunner{Timeout: timeout})

	access := middleware.NewAccessFilter(cfg, metrics, logger)
	limiter := middleware.NewRateLimiter(&cfg.RateLimit, metrics, logger)

	commands := handlers.NewCommandHandler(b.relay, cfg, ipCache, host, localizer, logger)
	messages := handlers.NewMessageHandler(b.relay, cfg.MaxTextWarning, localizer, logger)

	var media *handlers.MediaHandler
	if cfg.ImagesEnabled() {
		images := imagestore.New(cfg.ImagesDLNABasePath, timeout)
		media = handlers.NewMediaHandler(b.relay, images, localizer, metrics, logger)
	} else {
		logger.Info("Image archiving disabled")
	}

	b.router = handlers.NewRouter(b.relay, access, limiter, commands, messages, media, localizer, metrics, logger)
	b.restart = scheduler.NewRestartAlert(host, cfg.Connection.UptimeLimit(), cfg.Restarts, localizer, metrics, logger)
	b.watcher = scheduler.NewIPWatcher(fetcher, store, cfg.IPChanges, localizer, metrics, logger)

	return b, nil
}

// Run connects to Telegram, starts the scheduled jobs and long-polls for updates until ctx
// is cancelled (returns nil) or polling fails (returns the error).
func (b *Bot) Run(ctx context.Context) error {
	client, err := b.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to Telegram: %w", err)
	}
	b.relay.set(client)
	defer b.relay.set(nil)

	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := scheduler.New(b.metrics, b.logger)
	b.registerJobs(sessionCtx, jobs)

	var inflight sync.WaitGroup
	err = b.poll(sessionCtx, client, &inflight)

	cancel()
	jobs.Wait()
	inflight.Wait()
	return err
}

func (b *Bot) dialTelegram() (Client, error) {
	conn := b.cfg.Connection
	httpClient := &http.Client{Timeout: conn.LongPollTimeout() + conn.CallTimeout()}

	api, err := tgbotapi.NewBotAPIWithClient(b.cfg.Token, tgbotapi.APIEndpoint, httpClient)
	if err != nil {
		return nil, err
	}
	api.Debug = b.cfg.Logging.Level == "debug"

	b.logger.WithField("username", api.Self.UserName).Info("Bot authorized")
	return api, nil
}

func (b *Bot) registerJobs(ctx context.Context, jobs *scheduler.Scheduler) {
	delay := b.cfg.Connection.JobDelay()

	if len(b.cfg.Restarts) > 0 {
		jobs.RunOnce(ctx, "restart_alert", delay, func(ctx context.Context) error {
			return b.restart.Run(ctx, b.relay)
		})
	}

	if len(b.cfg.IPChanges) > 0 {
		b.watcher.Seed(ctx)
		jobs.RunRepeating(ctx, "ip_change", delay, b.cfg.Connection.IPCheckEvery(), func(ctx context.Context) error {
			return b.watcher.Check(ctx, b.relay)
		})
	}
}

type pollResult struct {
	updates []tgbotapi.Update
	err     error
}

// poll fetches updates and dispatches each on its own goroutine. Handlers run to completion
// even when the session ends.
func (b *Bot) poll(ctx context.Context, client Client, inflight *sync.WaitGroup) error {
	handlerCtx := context.WithoutCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.Connection.PollTimeout

	b.logger.Info("Using long polling")
	for {
		results := make(chan pollResult, 1)
		go func(cfg tgbotapi.UpdateConfig) {
			updates, err := client.GetUpdates(cfg)
			results <- pollResult{updates: updates, err: err}
		}(u)

		var res pollResult
		select {
		case <-ctx.Done():
			return nil
		case res = <-results:
		}

		if res.err != nil {
			return fmt.Errorf("failed to get updates: %w", res.err)
		}

		for i := range res.updates {
			update := res.updates[i]
			if update.UpdateID < u.Offset {
				continue
			}
			u.Offset = update.UpdateID + 1

			inflight.Add(1)
			go func() {
				defer inflight.Done()
				b.router.HandleUpdate(handlerCtx, &update)
			}()
		}
	}
}

// relay forwards to the client of the current session
type relay struct {
	mu     sync.RWMutex
	client Client
}

func (r *relay) set(client Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.client = client
}

func (r *relay) current() (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.client == nil {
		return nil, errNoSession
	}
	return r.client, nil
}

func (r *relay) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	client, err := r.current()
	if err != nil {
		return tgbotapi.Message{}, err
	}
	return client.Send(c)
}

func (r *relay) GetFileDirectURL(fileID string) (string, error) {
	client, err := r.current()
	if err != nil {
		return "", err
	}
	return client.GetFileDirectURL(fileID)
}
