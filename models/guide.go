package models

import "time"

// Guide is a titled, user-authored collection of captioned images.
// The title determines the storage directory of its images.
type Guide struct {
	ID        uint         `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	Title     string       `gorm:"size:50;not null;uniqueIndex" json:"title"`
	Creator   string       `gorm:"size:30;not null;index" json:"creator"`
	Images    []GuideImage `gorm:"foreignKey:GuideID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"images,omitempty"`
}
