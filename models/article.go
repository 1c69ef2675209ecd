package models

import (
	"time"
)

// Scoring states an article moves through. Transitions are owned by the
// scoring service; ingestion only ever creates articles as "unscored".
const (
	ScoringStateUnscored = "unscored"
	ScoringStateQueued   = "queued"
	ScoringStateScoring  = "scoring"
	ScoringStateScored   = "scored"
	ScoringStateFailed   = "failed"
)

// Rescore modes attached to an already-scored article when it is re-queued.
const (
	RescoreModeFull      = "full"
	RescoreModeScoreOnly = "score_only"
)

// Article ist ein einzelner Eintrag aus einem Feed samt Scoring-Ergebnis.
type Article struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	FeedID      uint       `json:"feed_id" gorm:"index"`
	Title       string     `json:"title"`
	URL         string     `json:"url" gorm:"uniqueIndex;not null"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty" gorm:"index"`
	Summary     string     `json:"summary,omitempty" gorm:"type:text"`
	Content     string     `json:"content,omitempty" gorm:"type:text"`
	IsRead      bool       `json:"is_read" gorm:"default:false"`

	// Scoring outputs. Pointers stay nil until the article is scored.
	InterestScore  *int     `json:"interest_score,omitempty"`
	QualityScore   *int     `json:"quality_score,omitempty"`
	CompositeScore *float64 `json:"composite_score,omitempty"`
	ScoreReasoning string   `json:"score_reasoning,omitempty" gorm:"type:text"`

	ScoringState string     `json:"scoring_state" gorm:"index;not null;default:unscored"`
	ScoredAt     *time.Time `json:"scored_at,omitempty"`

	// Rescoring hints: priority boosts queue position, mode selects which
	// pipeline phases run on the next pass.
	ScoringPriority int     `json:"scoring_priority" gorm:"default:0"`
	RescoreMode     *string `json:"rescore_mode,omitempty"`
}

func (Article) TableName() string { return "articles" }

// BodyText liefert den Text, der an die Klassifikation geht.
func (a *Article) BodyText() string {
	if a.Content != "" {
		return a.Content
	}
	return a.Summary
}
