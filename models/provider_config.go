package models

import (
	"time"

	"gorm.io/datatypes"
)

// Task names routed through LLMTaskRoute.
const (
	TaskCategorization = "categorization"
	TaskScoring        = "scoring"
)

// LLMProviderConfig speichert die validierte Konfiguration eines Providers
// als opakes JSON (Schema ist providerspezifisch).
type LLMProviderConfig struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Provider   string         `json:"provider" gorm:"uniqueIndex;not null"`
	Enabled    bool           `json:"enabled" gorm:"default:true"`
	ConfigJSON datatypes.JSON `json:"config_json" gorm:"type:jsonb"`
}

func (LLMProviderConfig) TableName() string { return "llm_provider_configs" }

// LLMTaskRoute mappt einen Task ("categorization"/"scoring") auf ein
// (provider, model)-Paar. Model nil = Provider-Default für den Task.
type LLMTaskRoute struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Task     string  `json:"task" gorm:"uniqueIndex;not null"`
	Provider string  `json:"provider" gorm:"not null"`
	Model    *string `json:"model,omitempty"`
}

func (LLMTaskRoute) TableName() string { return "llm_task_routes" }
