package handlers

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rpi-tgbot-go/internal/config"
	"github.com/rpi-tgbot-go/internal/i18n"
	"github.com/rpi-tgbot-go/internal/middleware"
	"github.com/rpi-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
)

const allowedUser int64 = 1001

type sentMessage struct {
	chatID    int64
	text      string
	parseMode string
}

type fakeBot struct {
	mu      sync.Mutex
	sent    []sentMessage
	sendErr error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, sentMessage{chatID: m.ChatID, text: m.Text, parseMode: m.ParseMode})
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) GetFileDirectURL(fileID string) (string, error) {
	return "https://files.example/" + fileID, nil
}

func (f *fakeBot) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

type fakeIP struct {
	ip string
}

func (f fakeIP) Fetch(ctx context.Context) (string, bool) {
	return f.ip, f.ip != ""
}

type fakeHost struct {
	uptime string
	temp   string
	err    error
}

func (f fakeHost) Uptime(ctx context.Context, args ...string) (string, error) {
	return f.uptime, f.err
}

func (f fakeHost) Temperature(ctx context.Context) (string, error) {
	return f.temp, f.err
}

type fakeSaver struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeSaver) Save(ctx context.Context, url, fileName string) (*models.SavedImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url+"|"+fileName)
	return &models.SavedImage{Path: "/tmp/image.jpg", Size: 3, SavedAt: time.Now()}, nil
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fixture struct {
	bot      *fakeBot
	saver    *fakeSaver
	messages *MessageHandler
	router   *Router
}

func newFixture(t *testing.T, cfg *config.Config, ip string, withMedia bool) *fixture {
	t.Helper()

	if cfg.MaxTextWarning == 0 {
		cfg.MaxTextWarning = 3
	}
	if cfg.HelpParseMode == "" {
		cfg.HelpParseMode = tgbotapi.ModeMarkdownV2
	}
	if cfg.Whitelist == nil {
		cfg.Whitelist = []int64{allowedUser}
	}

	logger := quietLogger()
	metrics := middleware.NewMetrics()
	localizer, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "en"})
	if err != nil {
		t.Fatalf("NewLocalizer: %v", err)
	}

	bot := &fakeBot{}
	saver := &fakeSaver{}
	commands := NewCommandHandler(bot, cfg, fakeIP{ip: ip}, fakeHost{uptime: "up 2 days", temp: "48.3°C"}, localizer, logger)
	messages := NewMessageHandler(bot, cfg.MaxTextWarning, localizer, logger)

	var media *MediaHandler
	if withMedia {
		media = NewMediaHandler(bot, saver, localizer, metrics, logger)
	}

	access := middleware.NewAccessFilter(cfg, metrics, logger)
	limiter := middleware.NewRateLimiter(&cfg.RateLimit, metrics, logger)

	return &fixture{
		bot:      bot,
		saver:    saver,
		messages: messages,
		router:   NewRouter(bot, access, limiter, commands, messages, media, localizer, metrics, logger),
	}
}

func commandUpdate(userID int64, text string) *tgbotapi.Update {
	cmdLen := len(text)
	if i := strings.Index(text, " "); i >= 0 {
		cmdLen = i
	}
	return &tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID},
		Chat:     &tgbotapi.Chat{ID: userID},
		Text:     text,
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: cmdLen}},
	}}
}

func textUpdate(userID int64, text string) *tgbotapi.Update {
	return &tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
		Text: text,
	}}
}

func photoUpdate(userID int64) *tgbotapi.Update {
	return &tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: userID},
		Photo: []tgbotapi.PhotoSize{
			{FileID: "small", Width: 90},
			{FileID: "large", Width: 1280},
		},
	}}
}

func documentUpdate(userID int64, name, mime string) *tgbotapi.Update {
	return &tgbotapi.Update{Message: &tgbotapi.Message{
		From:     &tgbotapi.User{ID: userID},
		Chat:     &tgbotapi.Chat{ID: userID},
		Document: &tgbotapi.Document{FileID: "doc", FileName: name, MimeType: mime},
	}}
}

func (f *fixture) handle(t *testing.T, u *tgbotapi.Update) {
	t.Helper()
	if err := f.router.HandleUpdate(context.Background(), u); err != nil {
		t.Fatalf("HandleUpdate: %v", err)
	}
}

func TestCommandsReply(t *testing.T) {
	tests := []struct {
		name string
		text string
		ip   string
		want string
	}{
		{name: "start", text: "/start", want: "Welcome"},
		{name: "ip", text: "/ip", ip: "8.8.8.8", want: "8.8.8.8"},
		{name: "ip_unavailable", text: "/ip", want: "Could not get IP"},
		{name: "temperature", text: "/temperature", want: "48.3°C"},
		{name: "uptime", text: "/uptime", want: "up 2 days"},
		{name: "unknown", text: "/reboot", want: "Unknown command.\nUse /help to see available commands and actions"},
		{name: "bot_suffix", text: "/start@rpi_bot", want: "Welcome"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &config.Config{}, tt.ip, false)
			f.handle(t, commandUpdate(allowedUser, tt.text))

			sent := f.bot.messages()
			if len(sent) != 1 {
				t.Fatalf("sent %d messages", len(sent))
			}
			if sent[0].chatID != allowedUser || sent[0].text != tt.want {
				t.Fatalf("sent %+v, want %q", sent[0], tt.want)
			}
		})
	}
}

func TestUnauthorizedSenderIsIgnored(t *testing.T) {
	for _, whitelist := range [][]int64{{config.InvalidUserID}, {allowedUser}, {allowedUser, 7}} {
		f := newFixture(t, &config.Config{Whitelist: whitelist}, "8.8.8.8", true)

		for _, u := range []*tgbotapi.Update{
			commandUpdate(4242, "/ip"),
			commandUpdate(4242, "/nope"),
			textUpdate(4242, "hi"),
			textUpdate(4242, "hi"),
			textUpdate(4242, "hi"),
			photoUpdate(4242),
		} {
			f.handle(t, u)
		}

		if sent := f.bot.messages(); len(sent) != 0 {
			t.Fatalf("whitelist %v: unauthorized sender got replies %+v", whitelist, sent)
		}
		if len(f.saver.calls) != 0 {
			t.Fatalf("whitelist %v: unauthorized photo saved", whitelist)
		}
	}
}

func TestTextReminderEveryNMessages(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5} {
		f := newFixture(t, &config.Config{MaxTextWarning: n}, "", false)

		for round := 1; round <= 3; round++ {
			for i := 1; i <= n; i++ {
				f.handle(t, textUpdate(allowedUser, "hello"))

				want := round - 1
				if i == n {
					want = round
				}
				if got := len(f.bot.messages()); got != want {
					t.Fatalf("n=%d round=%d msg=%d: %d reminders, want %d", n, round, i, got, want)
				}
			}
			if c := f.messages.TextMessages(allowedUser); c != 0 {
				t.Fatalf("n=%d: counter not reset, got %d", n, c)
			}
		}

		last := f.bot.messages()[0]
		if !strings.HasPrefix(last.text, "This bot will not reply to regular text messages.") {
			t.Fatalf("unexpected reminder %q", last.text)
		}
	}
}

func TestTextCountersArePerChat(t *testing.T) {
	cfg := &config.Config{Whitelist: []int64{allowedUser, 2002}, MaxTextWarning: 2}
	f := newFixture(t, cfg, "", false)

	f.handle(t, textUpdate(allowedUser, "a"))
	f.handle(t, textUpdate(2002, "b"))
	if len(f.bot.messages()) != 0 {
		t.Fatal("no chat has reached the threshold yet")
	}

	f.handle(t, textUpdate(2002, "c"))
	sent := f.bot.messages()
	if len(sent) != 1 || sent[0].chatID != 2002 {
		t.Fatalf("sent %+v", sent)
	}
	if f.messages.TextMessages(allowedUser) != 1 {
		t.Fatalf("other chat counter = %d", f.messages.TextMessages(allowedUser))
	}
}

func TestTextCounterConcurrent(t *testing.T) {
	f := newFixture(t, &config.Config{MaxTextWarning: 4}, "", false)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.router.HandleUpdate(context.Background(), textUpdate(allowedUser, "x"))
		}()
	}
	wg.Wait()

	if got := len(f.bot.messages()); got != 10 {
		t.Fatalf("got %d reminders, want 10", got)
	}
}

func writeHelpFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "command_descriptions.txt")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestHelpMarkdownV2(t *testing.T) {
	path := writeHelpFile(t, "ip - Get the external IP\n\nuptime - Show uptime (load)\n")
	f := newFixture(t, &config.Config{HelpFile: path}, "", false)

	f.handle(t, commandUpdate(allowedUser, "/help"))

	sent := f.bot.messages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages", len(sent))
	}
	want := "*Commands*:\n" +
		"• /ip \\- Get the external IP\n" +
		"• /uptime \\- Show uptime \\(load\\)\n" +
		"\n*Other Actions*\n" +
		"Sending an image will save it if the bot is configured to do so \\(it will reply if the image is successfully saved\\)\n"
	if sent[0].text != want {
		t.Fatalf("help text:\n%q\nwant:\n%q", sent[0].text, want)
	}
	if sent[0].parseMode != tgbotapi.ModeMarkdownV2 {
		t.Fatalf("parse mode = %q", sent[0].parseMode)
	}
}

func TestHelpFileIsReadOnEveryCall(t *testing.T) {
	path := writeHelpFile(t, "ip - first\n")
	f := newFixture(t, &config.Config{HelpFile: path}, "", false)

	f.handle(t, commandUpdate(allowedUser, "/help"))
	if err := os.WriteFile(path, []byte("uptime - second\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	f.handle(t, commandUpdate(allowedUser, "/help"))

	sent := f.bot.messages()
	if !strings.Contains(sent[0].text, "/ip") || !strings.Contains(sent[1].text, "/uptime") {
		t.Fatalf("help did not pick up file change: %q / %q", sent[0].text, sent[1].text)
	}
}

func TestHelpHTML(t *testing.T) {
	path := writeHelpFile(t, "ip - Get <external> IP\n")
	f := newFixture(t, &config.Config{HelpFile: path, HelpParseMode: tgbotapi.ModeHTML}, "", false)

	f.handle(t, commandUpdate(allowedUser, "/help"))

	sent := f.bot.messages()
	if sent[0].parseMode != tgbotapi.ModeHTML {
		t.Fatalf("parse mode = %q", sent[0].parseMode)
	}
	for _, want := range []string{"<b>Commands</b>", "• /ip - Get &lt;external&gt; IP", "<b>Other Actions</b>"} {
		if !strings.Contains(sent[0].text, want) {
			t.Fatalf("help %q missing %q", sent[0].text, want)
		}
	}
}

func TestHelpMissingFileReturnsError(t *testing.T) {
	f := newFixture(t, &config.Config{HelpFile: filepath.Join(t.TempDir(), "missing.txt")}, "", false)

	if err := f.router.HandleUpdate(context.Background(), commandUpdate(allowedUser, "/help")); err == nil {
		t.Fatal("expected error")
	}
	if len(f.bot.messages()) != 0 {
		t.Fatal("no reply expected")
	}
}

func TestMediaRoutes(t *testing.T) {
	f := newFixture(t, &config.Config{}, "", true)

	f.handle(t, photoUpdate(allowedUser))
	f.handle(t, documentUpdate(allowedUser, "photo.png", "image/png"))
	f.handle(t, documentUpdate(allowedUser, "notes.pdf", "application/pdf"))

	if len(f.saver.calls) != 2 {
		t.Fatalf("saver calls = %v", f.saver.calls)
	}
	if f.saver.calls[0] != "https://files.example/large|" {
		t.Fatalf("photo should use largest size without a name, got %q", f.saver.calls[0])
	}
	if f.saver.calls[1] != "https://files.example/doc|photo.png" {
		t.Fatalf("document call = %q", f.saver.calls[1])
	}

	sent := f.bot.messages()
	if len(sent) != 2 || sent[0].text != "Received photo" || sent[1].text != "Received image file" {
		t.Fatalf("replies = %+v", sent)
	}
}

func TestMediaDisabledIgnoresImages(t *testing.T) {
	f := newFixture(t, &config.Config{}, "", false)

	f.handle(t, photoUpdate(allowedUser))
	f.handle(t, documentUpdate(allowedUser, "photo.png", "image/png"))

	if len(f.saver.calls) != 0 || len(f.bot.messages()) != 0 {
		t.Fatal("images must be ignored when intake is disabled")
	}
}

func TestRateLimitedCommandGetsOneNotice(t *testing.T) {
	cfg := &config.Config{RateLimit: config.RateLimitConfig{Enabled: true, RequestsPerMinute: 1, Burst: 1}}
	f := newFixture(t, cfg, "", false)

	f.handle(t, commandUpdate(allowedUser, "/start"))
	f.handle(t, commandUpdate(allowedUser, "/start"))

	sent := f.bot.messages()
	if len(sent) != 2 || sent[0].text != "Welcome" || sent[1].text != "Too many requests, please slow down" {
		t.Fatalf("sent %+v", sent)
	}
}

func TestSendFailureIsReturned(t *testing.T) {
	f := newFixture(t, &config.Config{}, "", false)
	boom := errors.New("network down")
	f.bot.sendErr = boom

	if err := f.router.HandleUpdate(context.Background(), commandUpdate(allowedUser, "/start")); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		u    *tgbotapi.Update
		want models.UpdateKind
	}{
		{name: "command", u: commandUpdate(1, "/ip"), want: models.KindCommand},
		{name: "text", u: textUpdate(1, "hi"), want: models.KindText},
		{name: "photo", u: photoUpdate(1), want: models.KindPhoto},
		{name: "image_document", u: documentUpdate(1, "a.png", "image/png"), want: models.KindImageDocument},
		{name: "other_document", u: documentUpdate(1, "a.pdf", "application/pdf"), want: models.KindOther},
	}

	for _, tt := range tests {
		if got := Classify(tt.u.Message); got != tt.want {
			t.Fatalf("%s: got %s, want %s", tt.name, got, tt.want)
		}
	}
}
