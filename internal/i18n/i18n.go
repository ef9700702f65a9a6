package i18n

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"github.com/rpi-tgbot-go/internal/config"
	"golang.org/x/text/language"
)

// Localizer renders reply texts in the configured language
type Localizer struct {
	bundle    *i18n.Bundle
	localizer *i18n.Localizer
}

// NewLocalizer creates a new localizer. Translation files are optional; the built-in
// English catalogue is used for every message a file does not provide.
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	if cfg.Directory != "" {
		path := filepath.Join(cfg.Directory, fmt.Sprintf("%s.json", cfg.DefaultLanguage))
		if _, err := os.Stat(path); err == nil {
			if _, err := bundle.LoadMessageFile(path); err != nil {
				return nil, fmt.Errorf("failed to load language file %s: %w", path, err)
			}
		}
	}

	return &Localizer{
		bundle:    bundle,
		localizer: i18n.NewLocalizer(bundle, cfg.DefaultLanguage),
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(messageID string, data map[string]interface{}) string {
	def, ok := catalogue[messageID]
	if !ok {
		def = &i18n.Message{ID: messageID, Other: messageID}
	}

	msg, _ := l.localizer.Localize(&i18n.LocalizeConfig{
		MessageID:      messageID,
		TemplateData:   data,
		DefaultMessage: def,
	})
	if msg == "" {
		return def.Other
	}
	return msg
}

// Message IDs
const (
	MsgWelcome           = "welcome"
	MsgIPUnavailable     = "ip_unavailable"
	MsgUnknownCommand    = "unknown_command"
	MsgTextWarning       = "text_warning"
	MsgPhotoReceived     = "photo_received"
	MsgImageFileReceived = "image_file_received"
	MsgIPChanged         = "ip_changed"
	MsgRestartAlert      = "restart_alert"
	MsgHelpCommands      = "help_commands"
	MsgHelpOtherActions  = "help_other_actions"
	MsgHelpImages        = "help_images"
	MsgRateLimitExceeded = "rate_limit_exceeded"
)

var catalogue = map[string]*i18n.Message{
	MsgWelcome:       {ID: MsgWelcome, Other: "Welcome"},
	MsgIPUnavailable: {ID: MsgIPUnavailable, Other: "Could not get IP"},
	MsgUnknownCommand: {
		ID:    MsgUnknownCommand,
		Other: "Unknown command.\nUse /help to see available commands and actions",
	},
	MsgTextWarning: {
		ID:    MsgTextWarning,
		Other: "This bot will not reply to regular text messages.\nUse /help to see available commands and actions",
	},
	MsgPhotoReceived:     {ID: MsgPhotoReceived, Other: "Received photo"},
	MsgImageFileReceived: {ID: MsgImageFileReceived, Other: "Received image file"},
	MsgIPChanged: {
		ID:    MsgIPChanged,
		Other: "External IP has changed.\nNew IP: {{.IP}}",
	},
	MsgRestartAlert: {
		ID:    MsgRestartAlert,
		Other: "The bot has restarted and the uptime is {{.Seconds}} seconds.\nA power outage may have occurred",
	},
	MsgHelpCommands:     {ID: MsgHelpCommands, Other: "Commands"},
	MsgHelpOtherActions: {ID: MsgHelpOtherActions, Other: "Other Actions"},
	MsgHelpImages: {
		ID:    MsgHelpImages,
		Other: "Sending an image will save it if the bot is configured to do so (it will reply if the image is successfully saved)",
	},
	MsgRateLimitExceeded: {ID: MsgRateLimitExceeded, Other: "Too many requests, please slow down"},
}
