// Package supervisor restarts the bot session after transient network failures.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

// ErrRetriesExhausted is returned once every attempt has failed with a transient error.
var ErrRetriesExhausted = errors.New("maximum number of retries reached")

type Options struct {
	// MaxRetries is the total number of session attempts.
	MaxRetries int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// RestartRecorder counts session restarts
type RestartRecorder interface {
	RecordSessionRestart()
}

// Run calls session until it returns nil, returns a non-transient error, or MaxRetries
// attempts have failed. Cancelling ctx ends the loop without error.
func Run(ctx context.Context, opts Options, session func(ctx context.Context) error, recorder RestartRecorder, logger logrus.FieldLogger) error {
	attempts := opts.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		lastErr = err

		log := logger.WithError(err).WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": attempts,
		})
		if attempt == attempts {
			log.Error("Connection error, giving up")
			break
		}

		delay := retryDelay(err, opts.RetryDelay)
		log.WithField("retry_in", delay.String()).Warn("Connection error, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		if recorder != nil {
			recorder.RecordSessionRestart()
		}
	}

	return fmt.Errorf("%w: %v", ErrRetriesExhausted, lastErr)
}

// IsTransient reports whether err is a network or server-side failure worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// retryDelay honours the flood-control wait Telegram asks for when it exceeds the configured delay.
func retryDelay(err error, delay time.Duration) time.Duration {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
		if wait := time.Duration(apiErr.RetryAfter) * time.Second; wait > delay {
			return wait
		}
	}
	return delay
}
