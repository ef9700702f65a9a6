// Package scheduler runs the bot's background jobs: a one-shot restart alert and a
// repeating external IP check.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rpi-tgbot-go/internal/middleware"
	"github.com/sirupsen/logrus"
)

// Job is one unit of background work
type Job func(ctx context.Context) error

// Scheduler runs jobs in their own goroutines until the context passed to them is done
type Scheduler struct {
	metrics *middleware.Metrics
	logger  logrus.FieldLogger
	wg      sync.WaitGroup
}

func New(metrics *middleware.Metrics, logger logrus.FieldLogger) *Scheduler {
	return &Scheduler{
		metrics: metrics,
		logger:  logger,
	}
}

// RunOnce runs job a single time after delay
func (s *Scheduler) RunOnce(ctx context.Context, name string, delay time.Duration, job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.run(ctx, name, job)
		}
	}()
}

// RunRepeating runs job after first and then every interval. Runs of the same job never
// overlap; a slow run delays the next one.
func (s *Scheduler) RunRepeating(ctx context.Context, name string, first, interval time.Duration, job Job) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(first)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				s.run(ctx, name, job)
				timer.Reset(interval)
			}
		}
	}()
}

// Wait blocks until every job goroutine has returned
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, name string, job Job) {
	start := time.Now()
	err := job(ctx)

	status := "success"
	if err != nil {
		status = "error"
		s.logger.WithError(err).WithField("job", name).Error("Scheduled job failed")
	}
	s.metrics.RecordJob(name, status, time.Since(start))
}
