package scheduler

import (
	"context"
	"sync"

	"github.com/rpi-tgbot-go/internal/i18n"
	"github.com/rpi-tgbot-go/internal/middleware"
	"github.com/rpi-tgbot-go/internal/services/ipecho"
	"github.com/sirupsen/logrus"
)

// IPStore persists the last observed external IP
type IPStore interface {
	GetLastIP(ctx context.Context) (string, error)
	SaveLastIP(ctx context.Context, ip string) error
}

// IPWatcher notifies the configured users whenever the external IP changes
type IPWatcher struct {
	source     ipecho.Source
	store      IPStore
	recipients []int64
	localizer  *i18n.Localizer
	metrics    *middleware.Metrics
	logger     logrus.FieldLogger

	mu     sync.Mutex
	seeded bool
	lastIP string
}

func NewIPWatcher(
	source ipecho.Source,
	store IPStore,
	recipients []int64,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger logrus.FieldLogger,
) *IPWatcher {
	return &IPWatcher{
		source:     source,
		store:      store,
		recipients: recipients,
		localizer:  localizer,
		metrics:    metrics,
		logger:     logger,
	}
}

// Seed initialises the remembered IP once per process: from the store when it holds a
// value, otherwise from a fresh lookup. An IP that is the same at the first check is
// therefore never reported.
func (w *IPWatcher) Seed(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.seeded {
		return
	}
	w.seeded = true

	stored, err := w.store.GetLastIP(ctx)
	if err != nil {
		w.logger.WithError(err).Warn("Failed to read last known IP")
	}
	if stored != "" {
		w.lastIP = stored
		w.logger.WithField("ip", stored).Info("Loaded last known IP")
		return
	}

	if ip, ok := w.source.Fetch(ctx); ok {
		w.lastIP = ip
		w.save(ctx, ip)
	}
	w.logger.WithField("ip", w.lastIP).Info("Seeded external IP")
}

// Check fetches the current IP and notifies when it is valid and differs from the last one
func (w *IPWatcher) Check(ctx context.Context, sender Sender) error {
	ip, ok := w.source.Fetch(ctx)
	if !ok {
		w.logger.Warn("Could not determine external IP")
		return nil
	}

	w.mu.Lock()
	if ip == w.lastIP {
		w.mu.Unlock()
		return nil
	}
	previous := w.lastIP
	w.lastIP = ip
	w.mu.Unlock()

	w.save(ctx, ip)
	w.logger.WithFields(logrus.Fields{
		"previous": previous,
		"ip":       ip,
	}).Info("External IP changed")

	text := w.localizer.Get(i18n.MsgIPChanged, map[string]interface{}{"IP": ip})
	return notifyAll(sender, w.recipients, text, "ip_change", w.metrics, w.logger)
}

// LastIP returns the remembered IP
func (w *IPWatcher) LastIP() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastIP
}

func (w *IPWatcher) save(ctx context.Context, ip string) {
	if err := w.store.SaveLastIP(ctx, ip); err != nil {
		w.logger.WithError(err).Warn("Failed to persist last known IP")
	}
}
