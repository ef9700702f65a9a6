package handlers

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rpi-tgbot-go/internal/i18n"
	"github.com/rpi-tgbot-go/internal/middleware"
	"github.com/rpi-tgbot-go/internal/models"
	"github.com/sirupsen/logrus"
)

// ImageSaver stores the file behind url; fileName only contributes its extension
type ImageSaver interface {
	Save(ctx context.Context, url, fileName string) (*models.SavedImage, error)
}

// MediaHandler archives photos and image documents
type MediaHandler struct {
	bot       BotAPI
	images    ImageSaver
	localizer *i18n.Localizer
	metrics   *middleware.Metrics
	logger    logrus.FieldLogger
}

// NewMediaHandler creates a new media handler
func NewMediaHandler(
	bot BotAPI,
	images ImageSaver,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger logrus.FieldLogger,
) *MediaHandler {
	return &MediaHandler{
		bot:       bot,
		images:    images,
		localizer: localizer,
		metrics:   metrics,
		logger:    logger,
	}
}

// HandlePhoto saves the largest size of a compressed photo
func (h *MediaHandler) HandlePhoto(ctx context.Context, msg *tgbotapi.Message) error {
	photo := msg.Photo[len(msg.Photo)-1]
	return h.save(ctx, msg.Chat.ID, photo.FileID, "", "photo", i18n.MsgPhotoReceived)
}

// HandleImageDocument saves an image sent as a file, keeping its extension
func (h *MediaHandler) HandleImageDocument(ctx context.Context, msg *tgbotapi.Message) error {
	doc := msg.Document
	return h.save(ctx, msg.Chat.ID, doc.FileID, doc.FileName, "image_file", i18n.MsgImageFileReceived)
}

func (h *MediaHandler) save(ctx context.Context, chatID int64, fileID, fileName, kind, replyID string) error {
	url, err := h.bot.GetFileDirectURL(fileID)
	if err != nil {
		return fmt.Errorf("get file url: %w", err)
	}

	saved, err := h.images.Save(ctx, url, fileName)
	if err != nil {
		return err
	}

	h.logger.WithFields(logrus.Fields{
		"path": saved.Path,
		"size": saved.Size,
	}).Info("Saved image")
	h.metrics.RecordImageSaved(kind, saved.Size)

	return send(h.bot, chatID, h.localizer.Get(replyID, nil), "")
}
