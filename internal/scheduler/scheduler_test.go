package scheduler

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rpi-tgbot-go/internal/config"
	"github.com/rpi-tgbot-go/internal/i18n"
	"github.com/rpi-tgbot-go/internal/middleware"
	"github.com/rpi-tgbot-go/internal/services/storage"
	"github.com/sirupsen/logrus"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	fail map[int64]bool
}

func (s *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	if s.fail[msg.ChatID] {
		return tgbotapi.Message{}, errors.New("blocked")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{chatID: msg.ChatID, text: msg.Text})
	return tgbotapi.Message{}, nil
}

func (s *fakeSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.sent...)
}

type fixedClock struct {
	booted time.Time
	err    error
}

func (c fixedClock) BootTime(context.Context) (time.Time, error) {
	return c.booted, c.err
}

// scriptedSource returns its answers in order and repeats the last one.
type scriptedSource struct {
	mu      sync.Mutex
	answers []string
}

func (s *scriptedSource) Fetch(context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.answers) == 0 {
		return "", false
	}
	ip := s.answers[0]
	if len(s.answers) > 1 {
		s.answers = s.answers[1:]
	}
	return ip, ip != ""
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testLocalizer(t *testing.T) *i18n.Localizer {
	t.Helper()
	localizer, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "en"})
	if err != nil {
		t.Fatalf("NewLocalizer: %v", err)
	}
	return localizer
}

func TestRestartAlertRespectsThreshold(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	threshold := 600 * time.Second

	tests := []struct {
		name   string
		uptime time.Duration
		want   int
	}{
		{name: "just_booted", uptime: 30 * time.Second, want: 2},
		{name: "at_threshold", uptime: threshold, want: 2},
		{name: "past_threshold", uptime: threshold + time.Second, want: 0},
		{name: "over_a_day", uptime: 24*time.Hour + 30*time.Second, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{}
			alert := NewRestartAlert(fixedClock{booted: now.Add(-tt.uptime)}, threshold, []int64{1, 2},
				testLocalizer(t), middleware.NewMetrics(), testLogger())
			alert.now = func() time.Time { return now }

			if err := alert.Run(context.Background(), sender); err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got := len(sender.messages()); got != tt.want {
				t.Fatalf("sent %d alerts, want %d", got, tt.want)
			}
		})
	}
}

func TestRestartAlertText(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	sender := &fakeSender{}
	alert := NewRestartAlert(fixedClock{booted: now.Add(-95 * time.Second)}, 10*time.Minute, []int64{7},
		testLocalizer(t), middleware.NewMetrics(), testLogger())
	alert.now = func() time.Time { return now }

	if err := alert.Run(context.Background(), sender); err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := "The bot has restarted and the uptime is 95 seconds.\nA power outage may have occurred"
	msgs := sender.messages()
	if len(msgs) != 1 || msgs[0].chatID != 7 || msgs[0].text != want {
		t.Fatalf("unexpected alert: %+v", msgs)
	}
}

func TestRestartAlertFiresOnce(t *testing.T) {
	now := time.Now()
	sender := &fakeSender{}
	alert := NewRestartAlert(fixedClock{booted: now.Add(-time.Minute)}, 10*time.Minute, []int64{1},
		testLocalizer(t), middleware.NewMetrics(), testLogger())
	alert.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if err := alert.Run(context.Background(), sender); err != nil {
			t.Fatalf("Run: %v", err)
		}
	}
	if got := len(sender.messages()); got != 1 {
		t.Fatalf("sent %d alerts, want 1", got)
	}
}

func TestRestartAlertBootTimeError(t *testing.T) {
	sender := &fakeSender{}
	alert := NewRestartAlert(fixedClock{err: errors.New("uptime: not found")}, time.Minute, []int64{1},
		testLocalizer(t), middleware.NewMetrics(), testLogger())

	if err := alert.Run(context.Background(), sender); err == nil {
		t.Fatal("expected error")
	}
	if len(sender.messages()) != 0 {
		t.Fatal("no alert expected")
	}
}

func TestNotifyAllContinuesPastFailures(t *testing.T) {
	sender := &fakeSender{fail: map[int64]bool{2: true}}
	err := notifyAll(sender, []int64{1, 2, 3}, "hello", "test", middleware.NewMetrics(), testLogger())
	if err == nil {
		t.Fatal("expected joined error")
	}
	if got := len(sender.messages()); got != 2 {
		t.Fatalf("delivered %d, want 2", got)
	}
}

func newWatcher(t *testing.T, source *scriptedSource, store IPStore, recipients []int64) *IPWatcher {
	t.Helper()
	return NewIPWatcher(source, store, recipients, testLocalizer(t), middleware.NewMetrics(), testLogger())
}

func TestIPWatcherUnchangedIPIsSilent(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	w := newWatcher(t, &scriptedSource{answers: []string{"1.2.3.4"}}, storage.NewMemoryStorage(), []int64{1, 2})

	w.Seed(ctx)
	for i := 0; i < 3; i++ {
		if err := w.Check(ctx, sender); err != nil {
			t.Fatalf("Check: %v", err)
		}
	}
	if got := len(sender.messages()); got != 0 {
		t.Fatalf("sent %d notifications for an unchanged IP", got)
	}
}

func TestIPWatcherChangeNotifiesEachRecipient(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	store := storage.NewMemoryStorage()
	w := newWatcher(t, &scriptedSource{answers: []string{"1.2.3.4", "5.6.7.8"}}, store, []int64{1, 2})

	w.Seed(ctx)
	if err := w.Check(ctx, sender); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := w.Check(ctx, sender); err != nil {
		t.Fatalf("Check: %v", err)
	}

	msgs := sender.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent %d notifications, want 2", len(msgs))
	}
	want := "External IP has changed.\nNew IP: 5.6.7.8"
	for _, m := range msgs {
		if m.text != want {
			t.Fatalf("text = %q", m.text)
		}
	}
	if got, _ := store.GetLastIP(ctx); got != "5.6.7.8" {
		t.Fatalf("stored ip = %q", got)
	}
	if w.LastIP() != "5.6.7.8" {
		t.Fatalf("last ip = %q", w.LastIP())
	}
}

func TestIPWatcherSeedsFromStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	if err := store.SaveLastIP(ctx, "9.9.9.9"); err != nil {
		t.Fatalf("SaveLastIP: %v", err)
	}
	sender := &fakeSender{}
	w := newWatcher(t, &scriptedSource{answers: []string{"1.2.3.4"}}, store, []int64{1})

	w.Seed(ctx)
	if w.LastIP() != "9.9.9.9" {
		t.Fatalf("seeded ip = %q", w.LastIP())
	}
	if err := w.Check(ctx, sender); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if got := len(sender.messages()); got != 1 {
		t.Fatalf("sent %d notifications, want 1", got)
	}
}

func TestIPWatcherSeedsOnce(t *testing.T) {
	ctx := context.Background()
	w := newWatcher(t, &scriptedSource{answers: []string{"1.2.3.4", "5.6.7.8"}}, storage.NewMemoryStorage(), []int64{1})

	w.Seed(ctx)
	w.Seed(ctx)
	if w.LastIP() != "1.2.3.4" {
		t.Fatalf("last ip = %q", w.LastIP())
	}
}

func TestIPWatcherIgnoresFailedLookup(t *testing.T) {
	ctx := context.Background()
	sender := &fakeSender{}
	source := &scriptedSource{answers: []string{"1.2.3.4", ""}}
	w := newWatcher(t, source, storage.NewMemoryStorage(), []int64{1})

	w.Seed(ctx)
	if err := w.Check(ctx, sender); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if len(sender.messages()) != 0 || w.LastIP() != "1.2.3.4" {
		t.Fatalf("failed lookup changed state: %q", w.LastIP())
	}
}

func TestSchedulerRunOnce(t *testing.T) {
	s := New(middleware.NewMetrics(), testLogger())
	var runs atomic.Int32

	s.RunOnce(context.Background(), "once", 10*time.Millisecond, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	s.Wait()

	if runs.Load() != 1 {
		t.Fatalf("runs = %d", runs.Load())
	}
}

func TestSchedulerRunOnceCancelled(t *testing.T) {
	s := New(middleware.NewMetrics(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	var runs atomic.Int32

	s.RunOnce(ctx, "once", time.Hour, func(context.Context) error {
		runs.Add(1)
		return nil
	})
	cancel()
	s.Wait()

	if runs.Load() != 0 {
		t.Fatalf("runs = %d", runs.Load())
	}
}

func TestSchedulerRunRepeating(t *testing.T) {
	s := New(middleware.NewMetrics(), testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	var runs atomic.Int32
	s.RunRepeating(ctx, "repeat", time.Millisecond, time.Millisecond, func(context.Context) error {
		if runs.Add(1) == 3 {
			close(done)
		}
		return errors.New("keeps going")
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not repeat")
	}
	cancel()
	s.Wait()
}
