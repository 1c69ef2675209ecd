package services

import (
	"sync"

	"feedrank/models"
)

// CompositeScoreCap begrenzt den Composite-Score, weil boost/max sonst die
// nutzerseitige 0-10-Skala sprengen würden.
const CompositeScoreCap = 20.0

// weightValues mappt Gewichts-Level auf Multiplikatoren. Die alten Namen
// bleiben als Aliase lesbar, damit Bestandsdaten weiter aufgelöst werden.
var weightValues = map[string]float64{
	models.WeightBlock:  0.0,
	models.WeightReduce: 0.5,
	models.WeightNormal: 1.0,
	models.WeightBoost:  1.5,
	models.WeightMax:    2.0,
	// legacy aliases
	"blocked": 0.0,
	"low":     0.5,
	"neutral": 1.0,
	"medium":  1.5,
	"high":    2.0,
}

// WeightValue liefert den Multiplikator eines Gewichts-Levels (unbekannt = 1.0).
func WeightValue(weight string) float64 {
	if v, ok := weightValues[weight]; ok {
		return v
	}
	return 1.0
}

// IsValidWeight prüft, ob ein Gewichts-Level bekannt ist (inklusive der
// Legacy-Aliase).
func IsValidWeight(weight string) bool {
	_, ok := weightValues[weight]
	return ok
}

// EffectiveWeight löst das wirksame Gewicht auf: eigener Override, sonst
// Eltern-Gewicht, sonst "normal". Genau eine Vererbungs-Ebene; Großeltern
// werden nie konsultiert.
func EffectiveWeight(category *models.Category, parent *models.Category) string {
	if category.Weight != nil {
		return *category.Weight
	}
	if category.ParentID != nil && parent != nil && parent.Weight != nil {
		return *parent.Weight
	}
	return models.WeightNormal
}

// WeightedCategory bündelt eine Kategorie mit ihrem (optionalen) Parent,
// damit die Gewichts-Auflösung ohne weitere DB-Zugriffe auskommt.
type WeightedCategory struct {
	Category *models.Category
	Parent   *models.Category
}

// ComputeCompositeScore berechnet den finalen Score:
//
//	composite = interest * mean(weight multipliers) * (0.5 + quality/10 * 0.5)
//
// gedeckelt bei 20.0. Ohne Kategorien ist der Multiplikator 1.0.
func ComputeCompositeScore(interestScore, qualityScore int, categories []WeightedCategory) float64 {
	categoryMultiplier := 1.0
	if len(categories) > 0 {
		sum := 0.0
		for _, wc := range categories {
			sum += WeightValue(EffectiveWeight(wc.Category, wc.Parent))
		}
		categoryMultiplier = sum / float64(len(categories))
	}

	qualityMultiplier := 0.5 + (float64(qualityScore)/10.0)*0.5

	composite := float64(interestScore) * categoryMultiplier * qualityMultiplier
	if composite > CompositeScoreCap {
		return CompositeScoreCap
	}
	return composite
}

// IsBlocked meldet, ob eine der Kategorien versteckt ist oder effektiv
// "block" wiegt. Solche Artikel bekommen 0 ohne Scoring-Call.
func IsBlocked(categories []WeightedCategory) bool {
	for _, wc := range categories {
		if wc.Category.IsHidden {
			return true
		}
		if WeightValue(EffectiveWeight(wc.Category, wc.Parent)) == 0.0 {
			return true
		}
	}
	return false
}

// Scoring phases surfaced by the live activity indicator.
const (
	PhaseIdle         = "idle"
	PhaseStarting     = "starting"
	PhaseCategorizing = "categorizing"
	PhaseScoring      = "scoring"
)

// ActivitySnapshot ist der Lesezustand der Live-Anzeige.
type ActivitySnapshot struct {
	ArticleID uint   `json:"article_id,omitempty"`
	Phase     string `json:"phase"`
}

// Activity hält fest, welcher Artikel gerade verarbeitet wird. Einziger
// Schreiber ist der Orchestrator; der Status-Endpoint liest Snapshots.
type Activity struct {
	mu        sync.RWMutex
	articleID uint
	phase     string
}

func NewActivity() *Activity {
	return &Activity{phase: PhaseIdle}
}

// SetArticle markiert den Start der Verarbeitung eines Artikels.
func (a *Activity) SetArticle(articleID uint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.articleID = articleID
	a.phase = PhaseStarting
}

// SetPhase aktualisiert die Phase des aktuellen Artikels.
func (a *Activity) SetPhase(phase string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.phase = phase
}

// Reset setzt die Anzeige auf idle zurück.
func (a *Activity) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.articleID = 0
	a.phase = PhaseIdle
}

// Snapshot liefert eine Kopie des aktuellen Zustands.
func (a *Activity) Snapshot() ActivitySnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return ActivitySnapshot{ArticleID: a.articleID, Phase: a.phase}
}
