package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/gosimple/slug"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"feedrank/models"
)

// ErrInvalidCategoryOp kennzeichnet abgelehnte Taxonomie-Operationen
// (Selbst-Parenting, Merge nicht existierender IDs usw.).
var ErrInvalidCategoryOp = errors.New("invalid category operation")

// TaxonomyService besitzt den Kategorie-Graphen: Hierarchie, Merge,
// Delete und die Batch-Deduplizierung. Alle Mutationen über mehrere
// Zeilen laufen in einer Transaktion.
type TaxonomyService struct {
	DB     *gorm.DB
	Logger *zap.Logger
}

func NewTaxonomyService(db *gorm.DB, logger *zap.Logger) *TaxonomyService {
	return &TaxonomyService{DB: db, Logger: logger}
}

// Slugify normalisiert einen Anzeigenamen zum Taxonomie-Schlüssel.
func Slugify(displayName string) string {
	return slug.Make(displayName)
}

// SmartCase kapitalisiert Wörter, lässt aber alles stehen, was bereits
// Großbuchstaben enthält (Akronyme wie "NASA"). Segmente um "/" werden
// einzeln behandelt; sehr kurze Segmente gelten als Akronym ("ai/ml"
// wird "AI/ML").
func SmartCase(name string) string {
	words := strings.Fields(name)
	for i, word := range words {
		if strings.ContainsFunc(word, unicode.IsUpper) {
			continue
		}
		segments := strings.Split(word, "/")
		for j, segment := range segments {
			if segment == "" {
				continue
			}
			if len(segments) > 1 && len(segment) <= 2 {
				segments[j] = strings.ToUpper(segment)
				continue
			}
			runes := []rune(segment)
			runes[0] = unicode.ToUpper(runes[0])
			segments[j] = string(runes)
		}
		words[i] = strings.Join(segments, "/")
	}
	return strings.Join(words, " ")
}

// ResolveOrCreate findet eine Kategorie per Slug (case-insensitiv) oder
// legt sie neu an. Ein auflösbarer suggestedParent hängt die neue
// Kategorie unter den Parent; nicht auflösbare Parents werden ignoriert.
// Läuft auf dem übergebenen Handle, damit der Aufrufer die Transaktion
// kontrolliert.
func (s *TaxonomyService) ResolveOrCreate(tx *gorm.DB, displayName, suggestedParent string) (*models.Category, error) {
	normalized := Slugify(displayName)
	if normalized == "" {
		return nil, fmt.Errorf("%w: empty category name %q", ErrInvalidCategoryOp, displayName)
	}

	var existing models.Category
	err := tx.Where("slug = ?", normalized).First(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("lookup category %q: %w", normalized, err)
	}

	category := models.Category{
		DisplayName: SmartCase(displayName),
		Slug:        normalized,
		IsSeen:      false,
	}

	if suggestedParent != "" {
		parentSlug := Slugify(suggestedParent)
		var parent models.Category
		if err := tx.Where("slug = ?", parentSlug).First(&parent).Error; err == nil {
			category.ParentID = &parent.ID
		}
	}

	if err := tx.Create(&category).Error; err != nil {
		return nil, fmt.Errorf("create category %q: %w", normalized, err)
	}
	return &category, nil
}

// Merge verschiebt alle Artikel-Links von source nach target, hängt die
// Kinder von source unter target und löscht source.
func (s *TaxonomyService) Merge(sourceID, targetID uint) error {
	if sourceID == targetID {
		return fmt.Errorf("%w: source and target must be different", ErrInvalidCategoryOp)
	}

	return s.DB.Transaction(func(tx *gorm.DB) error {
		var source, target models.Category
		if err := tx.First(&source, sourceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: source category %d not found", ErrInvalidCategoryOp, sourceID)
			}
			return err
		}
		if err := tx.First(&target, targetID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: target category %d not found", ErrInvalidCategoryOp, targetID)
			}
			return err
		}

		var links []models.ArticleCategoryLink
		if err := tx.Where("category_id = ?", sourceID).Find(&links).Error; err != nil {
			return err
		}
		for _, link := range links {
			var count int64
			if err := tx.Model(&models.ArticleCategoryLink{}).
				Where("article_id = ? AND category_id = ?", link.ArticleID, targetID).
				Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				if err := tx.Create(&models.ArticleCategoryLink{
					ArticleID:  link.ArticleID,
					CategoryID: targetID,
				}).Error; err != nil {
					return err
				}
			}
		}
		if err := tx.Where("category_id = ?", sourceID).
			Delete(&models.ArticleCategoryLink{}).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Category{}).
			Where("parent_id = ?", sourceID).
			Update("parent_id", targetID).Error; err != nil {
			return err
		}

		return tx.Delete(&models.Category{}, sourceID).Error
	})
}

// Delete entfernt eine Kategorie: Kinder werden auf Root entlassen (und
// erben ggf. das Gewicht), abhängige Links verschwinden.
func (s *TaxonomyService) Delete(categoryID uint) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		var category models.Category
		if err := tx.First(&category, categoryID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: category %d not found", ErrInvalidCategoryOp, categoryID)
			}
			return err
		}

		var children []models.Category
		if err := tx.Where("parent_id = ?", categoryID).Find(&children).Error; err != nil {
			return err
		}
		for _, child := range children {
			if child.Weight == nil && category.Weight != nil {
				child.Weight = category.Weight
			}
			child.ParentID = nil
			if err := tx.Save(&child).Error; err != nil {
				return err
			}
		}

		if err := tx.Where("category_id = ?", categoryID).
			Delete(&models.ArticleCategoryLink{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Category{}, categoryID).Error
	})
}

// DedupeAll ist die idempotente Taxonomie-Reparatur: Kategorien werden
// nach normalisiertem Slug gruppiert und Duplikat-Gruppen in eine
// kanonische Zeile zusammengeführt. Tie-Break: Zeilen mit Kindern vor
// kinderlosen, Root-Zeilen vor verschachtelten, dann kleinste ID.
// Flags werden per Union gemerged, das erste nicht-leere Gewicht gewinnt.
func (s *TaxonomyService) DedupeAll() (int, error) {
	merged := 0

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var rows []models.Category
		if err := tx.Order("id").Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		childCounts := map[uint]int{}
		for _, row := range rows {
			if row.ParentID != nil {
				childCounts[*row.ParentID]++
			}
		}

		normalizedSlug := func(c *models.Category) string {
			if n := Slugify(c.DisplayName); n != "" {
				return n
			}
			return Slugify(c.Slug)
		}

		groups := map[string][]*models.Category{}
		order := []string{}
		for i := range rows {
			n := normalizedSlug(&rows[i])
			if n == "" {
				continue
			}
			if _, seen := groups[n]; !seen {
				order = append(order, n)
			}
			groups[n] = append(groups[n], &rows[i])
		}

		canonicalFor := map[uint]uint{}
		for _, row := range rows {
			canonicalFor[row.ID] = row.ID
		}

		type groupUpdate struct {
			keep         *models.Category
			slug         string
			duplicateIDs []uint
			weight       *string
			isHidden     bool
			isSeen       bool
			isManual     bool
		}

		var updates []groupUpdate
		for _, n := range order {
			group := groups[n]

			keep := group[0]
			for _, row := range group[1:] {
				if betterCanonical(row, keep, childCounts) {
					keep = row
				}
			}

			update := groupUpdate{keep: keep, slug: n, weight: keep.Weight}
			for _, row := range group {
				canonicalFor[row.ID] = keep.ID
				if row.ID != keep.ID {
					update.duplicateIDs = append(update.duplicateIDs, row.ID)
				}
				if update.weight == nil && row.Weight != nil {
					update.weight = row.Weight
				}
				update.isHidden = update.isHidden || row.IsHidden
				update.isSeen = update.isSeen || row.IsSeen
				update.isManual = update.isManual || row.IsManuallyCreated
			}
			updates = append(updates, update)
		}

		// Repoint parents to canonical ids before any duplicate rows die.
		for _, row := range rows {
			if row.ParentID == nil {
				continue
			}
			canonicalParent, ok := canonicalFor[*row.ParentID]
			if !ok {
				canonicalParent = *row.ParentID
			}

			var newParent *uint
			if canonicalParent != row.ID {
				newParent = &canonicalParent
			}
			if (newParent == nil) != (row.ParentID == nil) || (newParent != nil && *newParent != *row.ParentID) {
				if err := tx.Model(&models.Category{}).
					Where("id = ?", row.ID).
					Update("parent_id", newParent).Error; err != nil {
					return err
				}
			}
		}

		for _, update := range updates {
			if len(update.duplicateIDs) > 0 {
				var dupLinks []models.ArticleCategoryLink
				if err := tx.Where("category_id IN ?", update.duplicateIDs).Find(&dupLinks).Error; err != nil {
					return err
				}
				for _, link := range dupLinks {
					var count int64
					if err := tx.Model(&models.ArticleCategoryLink{}).
						Where("article_id = ? AND category_id = ?", link.ArticleID, update.keep.ID).
						Count(&count).Error; err != nil {
						return err
					}
					if count == 0 {
						if err := tx.Create(&models.ArticleCategoryLink{
							ArticleID:  link.ArticleID,
							CategoryID: update.keep.ID,
						}).Error; err != nil {
							return err
						}
					}
				}
				if err := tx.Where("category_id IN ?", update.duplicateIDs).
					Delete(&models.ArticleCategoryLink{}).Error; err != nil {
					return err
				}
				if err := tx.Where("id IN ?", update.duplicateIDs).
					Delete(&models.Category{}).Error; err != nil {
					return err
				}
				merged += len(update.duplicateIDs)
			}

			if err := tx.Model(&models.Category{}).
				Where("id = ?", update.keep.ID).
				Updates(map[string]any{
					"slug":                update.slug,
					"weight":              update.weight,
					"is_hidden":           update.isHidden,
					"is_seen":             update.isSeen,
					"is_manually_created": update.isManual,
				}).Error; err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	if merged > 0 {
		s.Logger.Info("Taxonomy dedupe merged duplicate categories", zap.Int("merged", merged))
	}
	return merged, nil
}

// betterCanonical meldet, ob a vor b als kanonische Zeile gewinnt.
func betterCanonical(a, b *models.Category, childCounts map[uint]int) bool {
	aChildren := childCounts[a.ID] > 0
	bChildren := childCounts[b.ID] > 0
	if aChildren != bChildren {
		return aChildren
	}
	aRoot := a.ParentID == nil
	bRoot := b.ParentID == nil
	if aRoot != bRoot {
		return aRoot
	}
	return a.ID < b.ID
}

// ActiveCategories liefert die sichtbaren Anzeigenamen (sortiert), die
// Parent->Children-Hierarchie und die Namen der versteckten Kategorien.
func (s *TaxonomyService) ActiveCategories() ([]string, map[string][]string, []string, error) {
	var visible []models.Category
	if err := s.DB.Where("is_hidden = ?", false).Find(&visible).Error; err != nil {
		return nil, nil, nil, err
	}

	byID := map[uint]*models.Category{}
	for i := range visible {
		byID[visible[i].ID] = &visible[i]
	}

	names := make([]string, 0, len(visible))
	hierarchy := map[string][]string{}
	for i := range visible {
		names = append(names, visible[i].DisplayName)
		if visible[i].ParentID != nil {
			if parent, ok := byID[*visible[i].ParentID]; ok {
				hierarchy[parent.DisplayName] = append(hierarchy[parent.DisplayName], visible[i].DisplayName)
			}
		}
	}
	sortCaseInsensitive(names)
	for _, children := range hierarchy {
		sortCaseInsensitive(children)
	}

	var hiddenRows []models.Category
	if err := s.DB.Where("is_hidden = ?", true).Find(&hiddenRows).Error; err != nil {
		return nil, nil, nil, err
	}
	hidden := make([]string, 0, len(hiddenRows))
	for _, row := range hiddenRows {
		hidden = append(hidden, row.DisplayName)
	}
	sortCaseInsensitive(hidden)

	return names, hierarchy, hidden, nil
}

// ArticleCategories lädt die Kategorien eines Artikels samt Parents für
// die Gewichts-Auflösung.
func (s *TaxonomyService) ArticleCategories(articleID uint) ([]WeightedCategory, error) {
	var categories []models.Category
	err := s.DB.
		Joins("JOIN article_category_links ON article_category_links.category_id = categories.id").
		Where("article_category_links.article_id = ?", articleID).
		Find(&categories).Error
	if err != nil {
		return nil, err
	}
	return s.withParents(categories)
}

// withParents hängt an jede Kategorie ihren Parent (falls vorhanden).
func (s *TaxonomyService) withParents(categories []models.Category) ([]WeightedCategory, error) {
	parentIDs := make([]uint, 0, len(categories))
	for _, c := range categories {
		if c.ParentID != nil {
			parentIDs = append(parentIDs, *c.ParentID)
		}
	}

	parents := map[uint]*models.Category{}
	if len(parentIDs) > 0 {
		var rows []models.Category
		if err := s.DB.Where("id IN ?", parentIDs).Find(&rows).Error; err != nil {
			return nil, err
		}
		for i := range rows {
			parents[rows[i].ID] = &rows[i]
		}
	}

	weighted := make([]WeightedCategory, 0, len(categories))
	for i := range categories {
		wc := WeightedCategory{Category: &categories[i]}
		if categories[i].ParentID != nil {
			wc.Parent = parents[*categories[i].ParentID]
		}
		weighted = append(weighted, wc)
	}
	return weighted, nil
}

func sortCaseInsensitive(values []string) {
	sort.Slice(values, func(i, j int) bool {
		return strings.ToLower(values[i]) < strings.ToLower(values[j])
	})
}
