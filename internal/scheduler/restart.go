package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rpi-tgbot-go/internal/i18n"
	"github.com/rpi-tgbot-go/internal/middleware"
	"github.com/sirupsen/logrus"
)

// BootClock reports when the host booted
type BootClock interface {
	BootTime(ctx context.Context) (time.Time, error)
}

// RestartAlert warns the configured users when the host has only just booted, which
// usually means it lost power. It fires at most once per process.
type RestartAlert struct {
	clock      BootClock
	threshold  time.Duration
	recipients []int64
	localizer  *i18n.Localizer
	metrics    *middleware.Metrics
	logger     logrus.FieldLogger
	now        func() time.Time

	fired atomic.Bool
}

func NewRestartAlert(
	clock BootClock,
	threshold time.Duration,
	recipients []int64,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger logrus.FieldLogger,
) *RestartAlert {
	return &RestartAlert{
		clock:      clock,
		threshold:  threshold,
		recipients: recipients,
		localizer:  localizer,
		metrics:    metrics,
		logger:     logger,
		now:        time.Now,
	}
}

// Run checks the uptime and notifies through sender when it is within the threshold.
// Calls after the first are no-ops.
func (r *RestartAlert) Run(ctx context.Context, sender Sender) error {
	if !r.fired.CompareAndSwap(false, true) {
		return nil
	}

	booted, err := r.clock.BootTime(ctx)
	if err != nil {
		return err
	}

	uptime := r.now().Sub(booted)
	seconds := int64(uptime / time.Second)
	log := r.logger.WithField("uptime_seconds", seconds)

	if uptime > r.threshold {
		log.Info("Uptime above threshold, not sending restart alert")
		return nil
	}

	log.Warn("Host restarted recently, sending restart alert")
	text := r.localizer.Get(i18n.MsgRestartAlert, map[string]interface{}{"Seconds": seconds})
	return notifyAll(sender, r.recipients, text, "restart", r.metrics, r.logger)
}
