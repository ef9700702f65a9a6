package models

import (
	"time"
)

// ChatSession is the per-chat state kept for the lifetime of the process
type ChatSession struct {
	ChatID       int64
	TextMessages int
	LastActivity time.Time
}

// UpdateKind classifies an inbound message for routing and metrics
type UpdateKind string

const (
	KindCommand       UpdateKind = "command"
	KindText          UpdateKind = "text"
	KindPhoto         UpdateKind = "photo"
	KindImageDocument UpdateKind = "image_document"
	KindOther         UpdateKind = "other"
)

// SavedImage describes an attachment written to the image archive
type SavedImage struct {
	Path    string
	Size    int64
	SavedAt time.Time
}
