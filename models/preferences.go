package models

import (
	"time"

	"gorm.io/datatypes"
)

// UserPreferences ist die Single-Row-Tabelle mit den Kurations-Einstellungen.
// Interests/AntiInterests gehen als Freitext direkt in den Scoring-Kontext.
type UserPreferences struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Interests     string `json:"interests" gorm:"type:text"`
	AntiInterests string `json:"anti_interests" gorm:"type:text"`

	FeedRefreshInterval int `json:"feed_refresh_interval" gorm:"default:1800"`

	// Legacy per-topic weights from before categories carried their own
	// weight column. Kept so old installs keep round-tripping; new code
	// reads weights from the categories table.
	TopicWeights datatypes.JSON `json:"topic_weights,omitempty" gorm:"type:jsonb"`
}

func (UserPreferences) TableName() string { return "user_preferences" }
