package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"feedrank/config"
	"feedrank/models"
	"feedrank/providers"
)

// ScoringService ist der Batch-Orchestrator: er bewegt Artikel durch die
// Scoring-Zustände und ruft dafür Kategorisierung und Scoring beim
// Provider auf. Ticks laufen strikt sequenziell (Cron mit
// SkipIfStillRunning), innerhalb eines Batches ebenfalls.
type ScoringService struct {
	Cfg      *config.Config
	DB       *gorm.DB
	Logger   *zap.Logger
	Resolver *ReadinessResolver
	Taxonomy *TaxonomyService
	Activity *Activity

	// Von main registrierte Zähler; nil ist erlaubt (Tests).
	ScoredCounter  prometheus.Counter
	FailedCounter  prometheus.Counter
	BlockedCounter prometheus.Counter

	mu        sync.Mutex
	readiness map[string]string
}

func NewScoringService(cfg *config.Config, db *gorm.DB, logger *zap.Logger, resolver *ReadinessResolver, taxonomy *TaxonomyService) *ScoringService {
	return &ScoringService{
		Cfg:       cfg,
		DB:        db,
		Logger:    logger,
		Resolver:  resolver,
		Taxonomy:  taxonomy,
		Activity:  NewActivity(),
		readiness: map[string]string{},
	}
}

// QueueStatus ist der Snapshot für den Status-Endpunkt.
type QueueStatus struct {
	Counts    map[string]int64  `json:"counts"`
	Activity  ActivitySnapshot  `json:"activity"`
	Readiness map[string]string `json:"readiness"`
}

// EnqueueArticles stellt frisch ingestierte oder fehlgeschlagene
// Artikel in die Queue. Artikel in jedem anderen Zustand bleiben
// unberührt; für manuelles Rescoring gibt es RequeueArticle.
func (s *ScoringService) EnqueueArticles(ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.DB.Model(&models.Article{}).
		Where("id IN ? AND scoring_state IN ?", ids,
			[]string{models.ScoringStateUnscored, models.ScoringStateFailed}).
		Update("scoring_state", models.ScoringStateQueued)
	return res.RowsAffected, res.Error
}

// RequeueArticle stellt einen einzelnen Artikel mit Priorität und
// Rescore-Modus zurück in die Queue — der Pfad hinter dem manuellen
// Rescore. Artikel, die gerade verarbeitet werden, bleiben unberührt.
func (s *ScoringService) RequeueArticle(id uint, priority int, mode *string) (int64, error) {
	res := s.DB.Model(&models.Article{}).
		Where("id = ? AND scoring_state <> ?", id, models.ScoringStateScoring).
		Updates(map[string]any{
			"scoring_state":    models.ScoringStateQueued,
			"scoring_priority": priority,
			"rescore_mode":     mode,
		})
	return res.RowsAffected, res.Error
}

// EnqueueRecentForRescoring stellt kürzlich erschienene, ungelesene
// Artikel erneut in die Queue — der übliche Folgeschritt nach einer
// Präferenz- oder Gewichts-Änderung. Priorität und Rescore-Modus der
// Artikel bleiben unangetastet; begrenzt über Lookback-Fenster und
// Maximalzahl.
func (s *ScoringService) EnqueueRecentForRescoring() (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -s.Cfg.RescoreLookbackDays)

	var ids []uint
	err := s.DB.Model(&models.Article{}).
		Where("is_read = ? AND published_at >= ?", false, cutoff).
		Order("published_at DESC").
		Limit(s.Cfg.RescoreMaxArticles).
		Pluck("id", &ids).Error
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.DB.Model(&models.Article{}).
		Where("id IN ? AND scoring_state <> ?", ids, models.ScoringStateScoring).
		Update("scoring_state", models.ScoringStateQueued)
	return res.RowsAffected, res.Error
}

// RecoverInFlight setzt beim Start alle Artikel zurück, die ein
// abgestürzter Lauf im Zustand "scoring" hinterlassen hat.
func (s *ScoringService) RecoverInFlight() (int64, error) {
	res := s.DB.Model(&models.Article{}).
		Where("scoring_state = ?", models.ScoringStateScoring).
		Update("scoring_state", models.ScoringStateQueued)
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		s.Logger.Warn("Recovered in-flight articles from previous run",
			zap.Int64("count", res.RowsAffected))
	}
	return res.RowsAffected, res.Error
}

// Status liefert Zustands-Zähler, die Live-Aktivität und die zuletzt
// gesehenen Readiness-Gründe pro Task.
func (s *ScoringService) Status() (*QueueStatus, error) {
	type stateCount struct {
		ScoringState string
		Count        int64
	}
	var rows []stateCount
	err := s.DB.Model(&models.Article{}).
		Select("scoring_state, COUNT(*) AS count").
		Group("scoring_state").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := map[string]int64{
		models.ScoringStateUnscored: 0,
		models.ScoringStateQueued:   0,
		models.ScoringStateScoring:  0,
		models.ScoringStateScored:   0,
		models.ScoringStateFailed:   0,
	}
	for _, row := range rows {
		counts[row.ScoringState] = row.Count
	}

	s.mu.Lock()
	readiness := make(map[string]string, len(s.readiness))
	for task, reason := range s.readiness {
		readiness[task] = FormatReadinessReason(reason)
	}
	s.mu.Unlock()

	return &QueueStatus{
		Counts:    counts,
		Activity:  s.Activity.Snapshot(),
		Readiness: readiness,
	}, nil
}

func (s *ScoringService) setReadiness(task, reason string) {
	s.mu.Lock()
	s.readiness[task] = reason
	s.mu.Unlock()
}

// ProcessNextBatch ist ein Cron-Tick: Readiness prüfen, Batch wählen,
// Artikel einzeln verarbeiten. Fehlschläge einzelner Artikel brechen
// den Batch nicht ab; eine Context-Cancellation stellt den aktuellen
// Artikel zurück in die Queue und bricht ab.
func (s *ScoringService) ProcessNextBatch(ctx context.Context) (int, error) {
	catRuntime, catReason := s.Resolver.EvaluateReadiness(ctx, models.TaskCategorization)
	s.setReadiness(models.TaskCategorization, catReason)
	scoreRuntime, scoreReason := s.Resolver.EvaluateReadiness(ctx, models.TaskScoring)
	s.setReadiness(models.TaskScoring, scoreReason)

	if catReason != "" || scoreReason != "" {
		s.Logger.Info("Scoring tick skipped, pipeline not ready",
			zap.String("categorization", FormatReadinessReason(catReason)),
			zap.String("scoring", FormatReadinessReason(scoreReason)))
		return 0, nil
	}

	var batch []models.Article
	err := s.DB.
		Where("scoring_state = ?", models.ScoringStateQueued).
		Order("scoring_priority DESC, published_at ASC, id ASC").
		Limit(s.Cfg.ScoringBatchSize).
		Find(&batch).Error
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}

	var prefs models.UserPreferences
	if err := s.DB.First(&prefs).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, err
	}

	processed := 0
	for i := range batch {
		article := &batch[i]

		// Claim vor jeder Netzwerk-Arbeit committen, damit ein Absturz
		// den Artikel als "scoring" hinterlässt und RecoverInFlight ihn
		// findet.
		claim := s.DB.Model(&models.Article{}).
			Where("id = ? AND scoring_state = ?", article.ID, models.ScoringStateQueued).
			Update("scoring_state", models.ScoringStateScoring)
		if claim.Error != nil {
			s.Activity.Reset()
			return processed, claim.Error
		}
		if claim.RowsAffected == 0 {
			continue
		}

		if err := s.scoreArticle(ctx, article, catRuntime, scoreRuntime, &prefs); err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				// Shutdown: Artikel zurücklegen, Tick abbrechen.
				requeueErr := s.DB.Model(&models.Article{}).
					Where("id = ? AND scoring_state = ?", article.ID, models.ScoringStateScoring).
					Update("scoring_state", models.ScoringStateQueued).Error
				if requeueErr != nil {
					s.Logger.Error("Requeue after cancellation failed",
						zap.Uint("article_id", article.ID), zap.Error(requeueErr))
				}
				s.Activity.Reset()
				return processed, err
			}

			s.Logger.Warn("Scoring failed, continuing with next article",
				zap.Uint("article_id", article.ID), zap.Error(err))
			if dbErr := s.DB.Model(&models.Article{}).
				Where("id = ?", article.ID).
				Updates(map[string]any{
					"scoring_state":    models.ScoringStateFailed,
					"scoring_priority": 0,
					"rescore_mode":     nil,
				}).Error; dbErr != nil {
				s.Activity.Reset()
				return processed, dbErr
			}
			incr(s.FailedCounter)
			continue
		}

		processed++
		incr(s.ScoredCounter)
	}

	s.Activity.Reset()
	return processed, nil
}

// scoreArticle führt die Pipeline für einen Artikel aus: Kategorien
// (oder Link-Reuse bei score_only), Block-Check, Scoring, Persistenz.
func (s *ScoringService) scoreArticle(ctx context.Context, article *models.Article, cat, score *TaskRuntime, prefs *models.UserPreferences) error {
	s.Activity.SetArticle(article.ID)
	s.Activity.SetPhase(PhaseStarting)

	scoreOnly := article.RescoreMode != nil && *article.RescoreMode == models.RescoreModeScoreOnly

	var weighted []WeightedCategory
	var err error
	if scoreOnly {
		weighted, err = s.Taxonomy.ArticleCategories(article.ID)
		if err == nil && len(weighted) == 0 {
			// Ohne bestehende Links gibt es nichts wiederzuverwenden;
			// der Artikel durchläuft die volle Kategorisierung.
			weighted, err = s.categorize(ctx, article, cat)
		}
	} else {
		weighted, err = s.categorize(ctx, article, cat)
	}
	if err != nil {
		return err
	}

	if IsBlocked(weighted) {
		incr(s.BlockedCounter)
		reasoning := "Blocked: " + strings.Join(categoryNames(weighted), ", ")
		return s.finishArticle(article, 0, 0, 0.0, reasoning)
	}

	s.Activity.SetPhase(PhaseScoring)
	result, err := score.Provider.Score(ctx, providers.ScoreRequest{
		Title:         article.Title,
		Body:          article.BodyText(),
		Interests:     prefs.Interests,
		AntiInterests: prefs.AntiInterests,
		Endpoint:      score.Runtime.Endpoint(),
		Model:         score.Model,
		Thinking:      score.Runtime.Thinking(),
	})
	if err != nil {
		return err
	}

	composite := ComputeCompositeScore(result.InterestScore, result.QualityScore, weighted)
	return s.finishArticle(article, result.InterestScore, result.QualityScore, composite, result.Reasoning)
}

// finishArticle schreibt das Ergebnis und räumt Priorität und Modus ab.
func (s *ScoringService) finishArticle(article *models.Article, interest, quality int, composite float64, reasoning string) error {
	now := time.Now()
	return s.DB.Model(&models.Article{}).
		Where("id = ?", article.ID).
		Updates(map[string]any{
			"interest_score":   interest,
			"quality_score":    quality,
			"composite_score":  composite,
			"score_reasoning":  reasoning,
			"scoring_state":    models.ScoringStateScored,
			"scored_at":        now,
			"scoring_priority": 0,
			"rescore_mode":     nil,
		}).Error
}

// categorize holt Kategorien vom Provider und persistiert sie in zwei
// Phasen: erst die Kategorie-Zeilen, dann die Artikel-Links. Vom Modell
// zurückgebrachte versteckte Kategorien werden wieder sichtbar und
// gelten als ungesehen.
func (s *ScoringService) categorize(ctx context.Context, article *models.Article, cat *TaskRuntime) ([]WeightedCategory, error) {
	s.Activity.SetPhase(PhaseCategorizing)

	names, hierarchy, hidden, err := s.Taxonomy.ActiveCategories()
	if err != nil {
		return nil, err
	}

	result, err := cat.Provider.Categorize(ctx, providers.CategorizeRequest{
		Title:              article.Title,
		Body:               article.BodyText(),
		ExistingCategories: names,
		Hierarchy:          hierarchy,
		HiddenCategories:   hidden,
		Endpoint:           cat.Runtime.Endpoint(),
		Model:              cat.Model,
		Thinking:           cat.Runtime.Thinking(),
	})
	if err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	var categories []models.Category
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		resolve := func(name, parent string) error {
			normalized := Slugify(name)
			if normalized == "" || seen[normalized] {
				return nil
			}
			seen[normalized] = true

			category, err := s.Taxonomy.ResolveOrCreate(tx, name, parent)
			if err != nil {
				return err
			}
			if category.IsHidden {
				if err := tx.Model(&models.Category{}).
					Where("id = ?", category.ID).
					Updates(map[string]any{"is_hidden": false, "is_seen": false}).Error; err != nil {
					return err
				}
				category.IsHidden = false
				category.IsSeen = false
			}
			categories = append(categories, *category)
			return nil
		}

		for _, name := range result.Categories {
			if err := resolve(name, ""); err != nil {
				return err
			}
		}
		for _, name := range result.SuggestedNew {
			if err := resolve(name, result.SuggestedParent); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("article_id = ?", article.ID).
			Delete(&models.ArticleCategoryLink{}).Error; err != nil {
			return err
		}
		for _, category := range categories {
			if err := tx.Create(&models.ArticleCategoryLink{
				ArticleID:  article.ID,
				CategoryID: category.ID,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.Taxonomy.withParents(categories)
}

// categoryNames sammelt die Anzeigenamen aller Kategorien des Artikels.
func categoryNames(categories []WeightedCategory) []string {
	names := make([]string, 0, len(categories))
	for _, wc := range categories {
		names = append(names, wc.Category.DisplayName)
	}
	return names
}

func incr(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}
