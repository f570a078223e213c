package models

import (
	"path"
	"time"
)

// CaptionUnset is stored until the captioning step supplies a caption.
const CaptionUnset = "No caption"

// GuideImage is one uploaded image of a guide.
type GuideImage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	GuideID   uint      `gorm:"index;not null" json:"guide_id"`
	// Image is the path relative to the public root (e.g. guides/images/Title/1.png).
	Image       string `gorm:"size:512;not null" json:"image"`
	Caption     string `gorm:"type:text;not null" json:"caption"`
	Position    int    `gorm:"not null" json:"position"` // 1-based arrival order
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ContentType string `gorm:"size:128" json:"content_type"`
}

// FileName returns the last element of the stored path.
func (i GuideImage) FileName() string {
	return path.Base(i.Image)
}

// HasCaption reports whether a caption was supplied after creation.
func (i GuideImage) HasCaption() bool {
	return i.Caption != "" && i.Caption != CaptionUnset
}
