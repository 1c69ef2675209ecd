package models

import (
	"time"
)

// Weight levels a category can carry. A nil weight means "inherit".
const (
	WeightBlock  = "block"
	WeightReduce = "reduce"
	WeightNormal = "normal"
	WeightBoost  = "boost"
	WeightMax    = "max"
)

// Category ist ein Knoten der Themen-Taxonomie (flache Parent/Child-Hierarchie).
type Category struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DisplayName string `json:"display_name" gorm:"not null"`
	Slug        string `json:"slug" gorm:"uniqueIndex;not null"`
	ParentID    *uint  `json:"parent_id,omitempty" gorm:"index"`

	// Explicit weight override; nil inherits from the parent (one level).
	Weight *string `json:"weight,omitempty"`

	IsHidden          bool `json:"is_hidden" gorm:"default:false"`
	IsSeen            bool `json:"is_seen" gorm:"default:false"`
	IsManuallyCreated bool `json:"is_manually_created" gorm:"default:false"`
}

func (Category) TableName() string { return "categories" }

// ArticleCategoryLink verbindet Artikel und Kategorien (n:m, composite key).
type ArticleCategoryLink struct {
	ArticleID  uint `json:"article_id" gorm:"primaryKey;autoIncrement:false"`
	CategoryID uint `json:"category_id" gorm:"primaryKey;autoIncrement:false"`
}

func (ArticleCategoryLink) TableName() string { return "article_category_links" }
