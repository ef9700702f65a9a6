package handlers

import (
	"context"
	"html"
	"os"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rpi-tgbot-go/internal/config"
	"github.com/rpi-tgbot-go/internal/i18n"
	"github.com/rpi-tgbot-go/internal/services/ipecho"
	"github.com/rpi-tgbot-go/pkg/markdown"
	"github.com/sirupsen/logrus"
)

// HostQuerier answers status questions about the host
type HostQuerier interface {
	Uptime(ctx context.Context, args ...string) (string, error)
	Temperature(ctx context.Context) (string, error)
}

// CommandHandler handles telegram commands
type CommandHandler struct {
	bot       BotAPI
	config    *config.Config
	ipSource  ipecho.Source
	host      HostQuerier
	localizer *i18n.Localizer
	logger    logrus.FieldLogger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(
	bot BotAPI,
	cfg *config.Config,
	ipSource ipecho.Source,
	host HostQuerier,
	localizer *i18n.Localizer,
	logger logrus.FieldLogger,
) *CommandHandler {
	return &CommandHandler{
		bot:       bot,
		config:    cfg,
		ipSource:  ipSource,
		host:      host,
		localizer: localizer,
		logger:    logger,
	}
}

// HandleStart handles /start command
func (h *CommandHandler) HandleStart(ctx context.Context, msg *tgbotapi.Message) error {
	return send(h.bot, msg.Chat.ID, h.localizer.Get(i18n.MsgWelcome, nil), "")
}

// HandleIP handles /ip command
func (h *CommandHandler) HandleIP(ctx context.Context, msg *tgbotapi.Message) error {
	ip, ok := h.ipSource.Fetch(ctx)
	if !ok {
		ip = h.localizer.Get(i18n.MsgIPUnavailable, nil)
	}
	return send(h.bot, msg.Chat.ID, ip, "")
}

// HandleTemperature handles /temperature command
func (h *CommandHandler) HandleTemperature(ctx context.Context, msg *tgbotapi.Message) error {
	temp, err := h.host.Temperature(ctx)
	if err != nil {
		return err
	}
	return send(h.bot, msg.Chat.ID, temp, "")
}

// HandleUptime handles /uptime command
func (h *CommandHandler) HandleUptime(ctx context.Context, msg *tgbotapi.Message) error {
	uptime, err := h.host.Uptime(ctx)
	if err != nil {
		return err
	}
	return send(h.bot, msg.Chat.ID, uptime, "")
}

// HandleHelp lists the commands from the help file, which is read on every call
func (h *CommandHandler) HandleHelp(ctx context.Context, msg *tgbotapi.Message) error {
	data, err := os.ReadFile(h.config.HelpFile)
	if err != nil {
		return err
	}
	commands := commandLines(string(data))

	var text string
	if h.config.HelpParseMode == tgbotapi.ModeHTML {
		text = h.helpHTML(commands)
	} else {
		text = h.helpMarkdownV2(commands)
	}

	return send(h.bot, msg.Chat.ID, text, h.config.HelpParseMode)
}

// HandleUnknown handles unknown commands
func (h *CommandHandler) HandleUnknown(ctx context.Context, msg *tgbotapi.Message) error {
	return send(h.bot, msg.Chat.ID, h.localizer.Get(i18n.MsgUnknownCommand, nil), "")
}

func (h *CommandHandler) helpMarkdownV2(commands []string) string {
	var b strings.Builder
	b.WriteString("*" + markdown.EscapeMarkdownV2(h.localizer.Get(i18n.MsgHelpCommands, nil)) + "*:\n")
	for _, c := range commands {
		b.WriteString("• " + markdown.EscapeMarkdownV2(c) + "\n")
	}
	b.WriteString("\n*" + markdown.EscapeMarkdownV2(h.localizer.Get(i18n.MsgHelpOtherActions, nil)) + "*\n")
	b.WriteString(markdown.EscapeMarkdownV2(h.localizer.Get(i18n.MsgHelpImages, nil)) + "\n")
	return b.String()
}

func (h *CommandHandler) helpHTML(commands []string) string {
	var b strings.Builder
	b.WriteString("**" + html.EscapeString(h.localizer.Get(i18n.MsgHelpCommands, nil)) + "**:\n\n")
	for _, c := range commands {
		b.WriteString("* " + html.EscapeString(c) + "\n")
	}
	b.WriteString("\n**" + html.EscapeString(h.localizer.Get(i18n.MsgHelpOtherActions, nil)) + "**\n\n")
	b.WriteString(html.EscapeString(h.localizer.Get(i18n.MsgHelpImages, nil)) + "\n")
	return markdown.ToTelegramHTML(b.String())
}

// commandLines turns "ip - Get the external IP" lines into "/ip - Get the external IP"
func commandLines(data string) []string {
	var lines []string
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			line = "/" + line
		}
		lines = append(lines, line)
	}
	return lines
}
