package models

import (
	"time"
)

// Feed ist eine abonnierte RSS/Atom-Quelle.
type Feed struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	URL           string     `json:"url" gorm:"uniqueIndex;not null"`
	Title         string     `json:"title"`
	DisplayOrder  int        `json:"display_order" gorm:"default:0"`
	LastFetchedAt *time.Time `json:"last_fetched_at,omitempty"`
}

func (Feed) TableName() string { return "feeds" }
