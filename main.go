package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"feedrank/config"
	"feedrank/models"
	"feedrank/providers"
	"feedrank/providers/ollama"
	"feedrank/services"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	newArticlesCounter     prometheus.Counter
	articlesScoredCounter  prometheus.Counter
	articlesFailedCounter  prometheus.Counter
	articlesBlockedCounter prometheus.Counter
)

func init() {
	newArticlesCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedrank_new_articles_total",
		Help: "Total number of new articles ingested from feeds.",
	})
	articlesScoredCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedrank_articles_scored_total",
		Help: "Total number of articles scored successfully.",
	})
	articlesFailedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedrank_articles_failed_total",
		Help: "Total number of articles that failed scoring.",
	})
	articlesBlockedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "feedrank_articles_blocked_total",
		Help: "Total number of articles short-circuited by a blocked category.",
	})
	prometheus.MustRegister(newArticlesCounter, articlesScoredCounter,
		articlesFailedCounter, articlesBlockedCounter)
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to database.")

	logging.Info("Running database auto-migration...")
	db.AutoMigrate(
		&models.Feed{},
		&models.Article{},
		&models.Category{},
		&models.ArticleCategoryLink{},
		&models.UserPreferences{},
		&models.LLMProviderConfig{},
		&models.LLMTaskRoute{},
	)

	seedDefaultCategories(db, logging)
	seedDefaultPreferences(db, logging)

	// Provider registrieren; alle Aufrufe laufen durch den Retry-Wrapper.
	providers.Register(providers.WithRetry(ollama.New(), providers.DefaultRetryConfig(), logging))
	logging.Info("Registered LLM providers", zap.Strings("providers", providers.Names()))

	taxonomy := services.NewTaxonomyService(db, logging)
	resolver := services.NewReadinessResolver(db, cfg, logging)

	scoring := services.NewScoringService(cfg, db, logging, resolver, taxonomy)
	scoring.ScoredCounter = articlesScoredCounter
	scoring.FailedCounter = articlesFailedCounter
	scoring.BlockedCounter = articlesBlockedCounter

	feeds := services.NewFeedService(db, logging)
	feeds.Scoring = scoring
	feeds.NewArticlesCounter = newArticlesCounter

	// Artikel, die ein Absturz im Zustand "scoring" hinterlassen hat,
	// kommen vor dem ersten Tick zurück in die Queue.
	if _, err := scoring.RecoverInFlight(); err != nil {
		logging.Fatal("In-flight recovery failed", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	router := gin.Default()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "feedrank",
		})
	})

	setupFeedRoutes(router, db, feeds, ctx, logging)
	setupArticleRoutes(router, db, scoring, logging)
	setupCategoryRoutes(router, db, taxonomy, scoring, logging)
	setupPreferenceRoutes(router, db, scoring, logging)
	setupProviderRoutes(router, db, logging)
	setupScoringRoutes(router, scoring, ctx, logging)

	// Ticks dürfen sich nie überlappen; übersprungene Läufe holt der
	// nächste Tick nach.
	cronScheduler := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
	))
	cronScheduler.AddFunc(cfg.ScoringSchedule, func() {
		processed, err := scoring.ProcessNextBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logging.Error("Scoring tick failed", zap.Error(err))
			return
		}
		if processed > 0 {
			logging.Info("Scoring tick completed", zap.Int("articles", processed))
		}
	})
	refreshSpec := "@every " + (time.Duration(cfg.FeedRefreshInterval) * time.Second).String()
	cronScheduler.AddFunc(refreshSpec, func() {
		added, err := feeds.RefreshAll(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logging.Error("Feed refresh failed", zap.Error(err))
			return
		}
		if added > 0 {
			logging.Info("Feed refresh completed", zap.Int("new_articles", added))
		}
	})
	cronScheduler.Start()

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	go func() {
		logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal("Failed to run server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logging.Info("Shutdown signal received, draining...")

	// Laufende Cron-Jobs fertig laufen lassen; der abgebrochene Context
	// sorgt dafür, dass angefangene Artikel zurück in die Queue gehen.
	<-cronScheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error("Server shutdown error", zap.Error(err))
	}
	logging.Info("Shutdown complete.")
}

func setupFeedRoutes(router *gin.Engine, db *gorm.DB, feeds *services.FeedService, appCtx context.Context, log *zap.Logger) {
	rg := router.Group("/feeds")

	rg.GET("/", func(c *gin.Context) {
		var rows []models.Feed
		if err := db.Order("display_order, id").Find(&rows).Error; err != nil {
			log.Error("Database query for feeds failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, rows)
	})

	rg.POST("/", func(c *gin.Context) {
		var req struct {
			URL string `json:"url" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		feed, err := feeds.AddFeed(c.Request.Context(), req.URL)
		if err != nil {
			log.Warn("Feed validation failed", zap.String("url", req.URL), zap.Error(err))
			c.JSON(http.StatusBadRequest, gin.H{"error": "feed could not be fetched"})
			return
		}
		c.JSON(http.StatusCreated, feed)
	})

	rg.PATCH("/:id", func(c *gin.Context) {
		var feed models.Feed
		if err := db.First(&feed, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		var req struct {
			Title        *string `json:"title"`
			DisplayOrder *int    `json:"display_order"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}
		updates := map[string]any{}
		if req.Title != nil {
			updates["title"] = *req.Title
		}
		if req.DisplayOrder != nil {
			updates["display_order"] = *req.DisplayOrder
		}
		if len(updates) > 0 {
			if err := db.Model(&feed).Updates(updates).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update feed"})
				return
			}
		}
		c.JSON(http.StatusOK, feed)
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		id := c.Param("id")
		var feed models.Feed
		if err := db.First(&feed, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "feed not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			var articleIDs []uint
			if err := tx.Model(&models.Article{}).
				Where("feed_id = ?", feed.ID).Pluck("id", &articleIDs).Error; err != nil {
				return err
			}
			if len(articleIDs) > 0 {
				if err := tx.Where("article_id IN ?", articleIDs).
					Delete(&models.ArticleCategoryLink{}).Error; err != nil {
					return err
				}
				if err := tx.Where("id IN ?", articleIDs).
					Delete(&models.Article{}).Error; err != nil {
					return err
				}
			}
			return tx.Delete(&feed).Error
		})
		if err != nil {
			log.Error("Feed deletion failed", zap.Uint("feed_id", feed.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete feed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": feed.ID})
	})

	rg.POST("/refresh", func(c *gin.Context) {
		go func() {
			added, err := feeds.RefreshAll(appCtx)
			if err != nil {
				feeds.Logger.Error("Async feed refresh failed", zap.Error(err))
				return
			}
			feeds.Logger.Info("Async feed refresh completed", zap.Int("new_articles", added))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Feed refresh triggered."})
	})
}

func setupArticleRoutes(router *gin.Engine, db *gorm.DB, scoring *services.ScoringService, log *zap.Logger) {
	rg := router.Group("/articles")

	rg.GET("/", func(c *gin.Context) {
		query := db.Model(&models.Article{})

		if state := c.Query("state"); state != "" {
			query = query.Where("scoring_state = ?", state)
		}
		if c.Query("unread") == "true" {
			query = query.Where("is_read = ?", false)
		}
		limit := 50
		if raw := c.Query("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		switch c.Query("order") {
		case "score":
			query = query.Order("composite_score DESC NULLS LAST")
		default:
			query = query.Order("published_at DESC")
		}

		var rows []models.Article
		if err := query.Limit(limit).Find(&rows).Error; err != nil {
			log.Error("Database query for articles failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, rows)
	})

	rg.POST("/:id/read", func(c *gin.Context) {
		updateArticleRead(c, db, true)
	})
	rg.POST("/:id/unread", func(c *gin.Context) {
		updateArticleRead(c, db, false)
	})

	// Manuelles Rescore: hohe Priorität, damit der Artikel den nächsten
	// Batch anführt.
	rg.POST("/:id/rescore", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid article id"})
			return
		}
		var req struct {
			Mode string `json:"mode"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
				return
			}
		}
		mode := models.RescoreModeFull
		if req.Mode != "" {
			if req.Mode != models.RescoreModeFull && req.Mode != models.RescoreModeScoreOnly {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rescore mode"})
				return
			}
			mode = req.Mode
		}

		count, err := scoring.RequeueArticle(uint(id), 10, &mode)
		if err != nil {
			log.Error("Manual rescore enqueue failed", zap.Uint64("article_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue article"})
			return
		}
		if count == 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "article not found or currently scoring"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": count})
	})
}

func updateArticleRead(c *gin.Context, db *gorm.DB, read bool) {
	id := c.Param("id")
	res := db.Model(&models.Article{}).Where("id = ?", id).Update("is_read", read)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "article not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"is_read": read})
}

func setupCategoryRoutes(router *gin.Engine, db *gorm.DB, taxonomy *services.TaxonomyService, scoring *services.ScoringService, log *zap.Logger) {
	rg := router.Group("/categories")

	rg.GET("/", func(c *gin.Context) {
		type categoryRow struct {
			models.Category
			ArticleCount int64 `json:"article_count"`
		}
		var rows []categoryRow
		err := db.Model(&models.Category{}).
			Select("categories.*, COUNT(article_category_links.article_id) AS article_count").
			Joins("LEFT JOIN article_category_links ON article_category_links.category_id = categories.id").
			Group("categories.id").
			Order("categories.slug").
			Find(&rows).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, rows)
	})

	rg.POST("/", func(c *gin.Context) {
		var req struct {
			DisplayName string  `json:"display_name" binding:"required"`
			ParentID    *uint   `json:"parent_id"`
			Weight      *string `json:"weight"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if req.Weight != nil && !services.IsValidWeight(*req.Weight) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid weight"})
			return
		}
		normalized := services.Slugify(req.DisplayName)
		if normalized == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category name"})
			return
		}
		category := models.Category{
			DisplayName:       services.SmartCase(req.DisplayName),
			Slug:              normalized,
			ParentID:          req.ParentID,
			Weight:            req.Weight,
			IsSeen:            true,
			IsManuallyCreated: true,
		}
		if err := db.Create(&category).Error; err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "category already exists"})
			return
		}
		c.JSON(http.StatusCreated, category)
	})

	rg.PATCH("/:id", func(c *gin.Context) {
		var category models.Category
		if err := db.First(&category, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "category not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var req struct {
			DisplayName *string `json:"display_name"`
			ParentID    *uint   `json:"parent_id"`
			Weight      *string `json:"weight"`
			IsHidden    *bool   `json:"is_hidden"`
			ClearWeight bool    `json:"clear_weight"`
			ClearParent bool    `json:"clear_parent"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		updates := map[string]any{}
		curationChanged := false
		if req.DisplayName != nil {
			updates["display_name"] = services.SmartCase(*req.DisplayName)
			updates["slug"] = services.Slugify(*req.DisplayName)
		}
		if req.Weight != nil {
			if !services.IsValidWeight(*req.Weight) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid weight"})
				return
			}
			updates["weight"] = *req.Weight
			curationChanged = true
		} else if req.ClearWeight {
			updates["weight"] = nil
			curationChanged = true
		}
		if req.ParentID != nil {
			if *req.ParentID == category.ID {
				c.JSON(http.StatusBadRequest, gin.H{"error": "category cannot be its own parent"})
				return
			}
			var parent models.Category
			if err := db.First(&parent, *req.ParentID).Error; err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "parent category not found"})
				return
			}
			// Die Hierarchie ist genau eine Ebene tief: Parents müssen
			// selbst Root sein, und Kategorien mit eigenen Kindern lassen
			// sich nicht verschachteln.
			if parent.ParentID != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "parent must be a top-level category"})
				return
			}
			var childCount int64
			if err := db.Model(&models.Category{}).Where("parent_id = ?", category.ID).Count(&childCount).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
				return
			}
			if childCount > 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "categories with children cannot be nested"})
				return
			}
			updates["parent_id"] = *req.ParentID
			curationChanged = true
		} else if req.ClearParent {
			updates["parent_id"] = nil
			curationChanged = true
		}
		if req.IsHidden != nil {
			updates["is_hidden"] = *req.IsHidden
			if *req.IsHidden {
				// Versteckte Kategorien verlassen die Hierarchie.
				updates["parent_id"] = nil
			} else if category.Weight != nil && services.WeightValue(*category.Weight) == 0 {
				// Beim Einblenden fällt ein Block-Gewicht zurück auf "neutral".
				updates["weight"] = nil
			}
			curationChanged = true
		}
		if len(updates) == 0 {
			c.JSON(http.StatusOK, category)
			return
		}

		if err := db.Model(&category).Updates(updates).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update category"})
			return
		}

		// Gewichts- und Sichtbarkeits-Änderungen wirken auf bestehende
		// Scores; Kategorien bleiben dabei erhalten.
		if curationChanged {
			triggerRescore(scoring, log)
		}
		c.JSON(http.StatusOK, category)
	})

	rg.POST("/merge", func(c *gin.Context) {
		var req struct {
			SourceID uint `json:"source_id" binding:"required"`
			TargetID uint `json:"target_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := taxonomy.Merge(req.SourceID, req.TargetID); err != nil {
			if errors.Is(err, services.ErrInvalidCategoryOp) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			log.Error("Category merge failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "merge failed"})
			return
		}
		triggerRescore(scoring, log)
		c.JSON(http.StatusOK, gin.H{"merged_into": req.TargetID})
	})

	rg.DELETE("/:id", func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category id"})
			return
		}
		if err := taxonomy.Delete(uint(id)); err != nil {
			if errors.Is(err, services.ErrInvalidCategoryOp) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			log.Error("Category deletion failed", zap.Uint64("category_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "deletion failed"})
			return
		}
		triggerRescore(scoring, log)
		c.JSON(http.StatusOK, gin.H{"deleted": id})
	})

	rg.POST("/batch-delete", func(c *gin.Context) {
		var req struct {
			IDs []uint `json:"ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil || len(req.IDs) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		deleted := 0
		for _, id := range req.IDs {
			if err := taxonomy.Delete(id); err != nil {
				// Bereits gelöschte IDs sind kein Abbruchgrund.
				if errors.Is(err, services.ErrInvalidCategoryOp) {
					continue
				}
				log.Error("Category deletion failed", zap.Uint("category_id", id), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "deletion failed"})
				return
			}
			deleted++
		}
		if deleted > 0 {
			triggerRescore(scoring, log)
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	})

	rg.POST("/dedupe", func(c *gin.Context) {
		merged, err := taxonomy.DedupeAll()
		if err != nil {
			log.Error("Category dedupe failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "dedupe failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"merged": merged})
	})

	rg.POST("/mark-seen", func(c *gin.Context) {
		var req struct {
			IDs []uint `json:"ids"`
		}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}
		query := db.Model(&models.Category{})
		if len(req.IDs) > 0 {
			query = query.Where("id IN ?", req.IDs)
		}
		res := query.Where("is_seen = ?", false).Update("is_seen", true)
		if res.Error != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"marked": res.RowsAffected})
	})

	rg.GET("/unseen-count", func(c *gin.Context) {
		var count int64
		if err := db.Model(&models.Category{}).
			Where("is_seen = ?", false).Count(&count).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"unseen": count})
	})
}

func setupPreferenceRoutes(router *gin.Engine, db *gorm.DB, scoring *services.ScoringService, log *zap.Logger) {
	rg := router.Group("/preferences")

	rg.GET("/", func(c *gin.Context) {
		var prefs models.UserPreferences
		if err := db.First(&prefs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, prefs)
	})

	rg.PUT("/", func(c *gin.Context) {
		var prefs models.UserPreferences
		if err := db.First(&prefs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		var req struct {
			Interests           *string `json:"interests"`
			AntiInterests       *string `json:"anti_interests"`
			FeedRefreshInterval *int    `json:"feed_refresh_interval"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		updates := map[string]any{}
		interestsChanged := false
		if req.Interests != nil && *req.Interests != prefs.Interests {
			updates["interests"] = *req.Interests
			interestsChanged = true
		}
		if req.AntiInterests != nil && *req.AntiInterests != prefs.AntiInterests {
			updates["anti_interests"] = *req.AntiInterests
			interestsChanged = true
		}
		if req.FeedRefreshInterval != nil && *req.FeedRefreshInterval > 0 {
			updates["feed_refresh_interval"] = *req.FeedRefreshInterval
		}
		if len(updates) > 0 {
			if err := db.Model(&prefs).Updates(updates).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update preferences"})
				return
			}
		}

		// Geänderte Interessen machen bestehende Scores wertlos; die
		// Kategorien stimmen aber noch, darum volles Rescore nur hier.
		if interestsChanged {
			triggerRescore(scoring, log)
		}
		c.JSON(http.StatusOK, prefs)
	})
}

func setupProviderRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/providers")

	rg.GET("/", func(c *gin.Context) {
		var configs []models.LLMProviderConfig
		if err := db.Find(&configs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		configured := map[string]models.LLMProviderConfig{}
		for _, cfg := range configs {
			configured[cfg.Provider] = cfg
		}

		type providerInfo struct {
			Name       string `json:"name"`
			Configured bool   `json:"configured"`
			Enabled    bool   `json:"enabled"`
		}
		var out []providerInfo
		for _, name := range providers.Names() {
			info := providerInfo{Name: name}
			if cfg, ok := configured[name]; ok {
				info.Configured = true
				info.Enabled = cfg.Enabled
			}
			out = append(out, info)
		}
		c.JSON(http.StatusOK, out)
	})

	rg.PUT("/:name", func(c *gin.Context) {
		name := c.Param("name")
		provider, ok := providers.Get(name)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
			return
		}

		var req struct {
			Enabled *bool           `json:"enabled"`
			Config  json.RawMessage `json:"config"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
			return
		}

		var cfg models.LLMProviderConfig
		err := db.Where("provider = ?", name).First(&cfg).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			cfg = models.LLMProviderConfig{Provider: name, Enabled: true}
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}

		if req.Config != nil {
			if _, err := provider.ParseConfig(req.Config); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			cfg.ConfigJSON = []byte(req.Config)
		}
		if req.Enabled != nil {
			cfg.Enabled = *req.Enabled
		}
		if err := db.Save(&cfg).Error; err != nil {
			log.Error("Provider config save failed", zap.String("provider", name), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save provider config"})
			return
		}
		c.JSON(http.StatusOK, cfg)
	})

	rg.GET("/:name/health", func(c *gin.Context) {
		runtime, provider, ok := loadRuntime(c, db, c.Param("name"))
		if !ok {
			return
		}
		status, err := provider.Health(c.Request.Context(), runtime.Endpoint())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"connected": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, status)
	})

	rg.GET("/:name/models", func(c *gin.Context) {
		runtime, provider, ok := loadRuntime(c, db, c.Param("name"))
		if !ok {
			return
		}
		infos, err := provider.ListModels(c.Request.Context(), runtime.Endpoint())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, infos)
	})

	tr := router.Group("/task-routes")

	tr.GET("/", func(c *gin.Context) {
		var routes []models.LLMTaskRoute
		if err := db.Find(&routes).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, routes)
	})

	tr.PUT("/:task", func(c *gin.Context) {
		task := c.Param("task")
		if task != models.TaskCategorization && task != models.TaskScoring {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown task"})
			return
		}
		var req struct {
			Provider string  `json:"provider" binding:"required"`
			Model    *string `json:"model"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if _, ok := providers.Get(req.Provider); !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
			return
		}

		var route models.LLMTaskRoute
		err := db.Where("task = ?", task).First(&route).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			route = models.LLMTaskRoute{Task: task}
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		route.Provider = req.Provider
		route.Model = req.Model
		if err := db.Save(&route).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save task route"})
			return
		}
		c.JSON(http.StatusOK, route)
	})
}

// loadRuntime löst die gespeicherte Provider-Konfiguration für die
// Health/Models-Endpunkte auf. Schreibt bei Fehlern selbst die Antwort.
func loadRuntime(c *gin.Context, db *gorm.DB, name string) (providers.RuntimeConfig, providers.Provider, bool) {
	provider, ok := providers.Get(name)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown provider"})
		return nil, nil, false
	}
	var cfg models.LLMProviderConfig
	if err := db.Where("provider = ?", name).First(&cfg).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "provider not configured"})
		return nil, nil, false
	}
	runtime, err := provider.ParseConfig(cfg.ConfigJSON)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, nil, false
	}
	return runtime, provider, true
}

func setupScoringRoutes(router *gin.Engine, scoring *services.ScoringService, appCtx context.Context, log *zap.Logger) {
	rg := router.Group("/scoring")

	rg.GET("/status", func(c *gin.Context) {
		status, err := scoring.Status()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, status)
	})

	rg.POST("/trigger", func(c *gin.Context) {
		go func() {
			processed, err := scoring.ProcessNextBatch(appCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				scoring.Logger.Error("Manual scoring run failed", zap.Error(err))
				return
			}
			scoring.Logger.Info("Manual scoring run completed", zap.Int("articles", processed))
		}()
		c.JSON(http.StatusAccepted, gin.H{"message": "Scoring run triggered."})
	})

	rg.POST("/rescore", func(c *gin.Context) {
		count, err := scoring.EnqueueRecentForRescoring()
		if err != nil {
			log.Error("Rescore enqueue failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue articles"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"queued": count})
	})
}

// triggerRescore legt die betroffenen Artikel nach einer Kurations-
// Änderung zurück in die Queue; verarbeitet werden sie beim nächsten Tick.
func triggerRescore(scoring *services.ScoringService, log *zap.Logger) {
	count, err := scoring.EnqueueRecentForRescoring()
	if err != nil {
		log.Error("Rescore after curation change failed", zap.Error(err))
		return
	}
	if count > 0 {
		log.Info("Queued articles for rescoring", zap.Int64("count", count))
	}
}

var defaultCategories = []string{
	"technology", "science", "politics", "business", "finance",
	"health", "sports", "entertainment", "culture", "gaming",
	"programming", "ai/ml", "cybersecurity", "climate", "space",
	"education", "food", "travel", "design", "music",
	"film", "philosophy", "history", "law", "startups",
}

func seedDefaultCategories(db *gorm.DB, logger *zap.Logger) {
	created := 0
	for _, name := range defaultCategories {
		category := models.Category{
			DisplayName: services.SmartCase(name),
			Slug:        services.Slugify(name),
			IsSeen:      true,
		}
		res := db.Where("slug = ?", category.Slug).FirstOrCreate(&category)
		if res.Error != nil {
			logger.Error("Category seeding failed", zap.String("slug", category.Slug), zap.Error(res.Error))
			continue
		}
		created += int(res.RowsAffected)
	}
	if created > 0 {
		logger.Info("Seeded default categories", zap.Int("created", created))
	}
}

func seedDefaultPreferences(db *gorm.DB, logger *zap.Logger) {
	var count int64
	if err := db.Model(&models.UserPreferences{}).Count(&count).Error; err != nil {
		logger.Error("Preferences check failed", zap.Error(err))
		return
	}
	if count > 0 {
		return
	}
	if err := db.Create(&models.UserPreferences{FeedRefreshInterval: 1800}).Error; err != nil {
		logger.Error("Preferences seeding failed", zap.Error(err))
	}
}
