package services

import (
	"context"
	"fmt"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"feedrank/models"
)

// FeedService zieht die abonnierten Feeds, legt neue Artikel an und
// stellt sie in die Scoring-Queue.
type FeedService struct {
	DB     *gorm.DB
	Logger *zap.Logger
	Parser *gofeed.Parser

	// Nimmt die IDs frisch angelegter Artikel entgegen; nil ist
	// erlaubt (Tests), dann bleiben die Artikel "unscored".
	Scoring *ScoringService

	NewArticlesCounter prometheus.Counter
}

func NewFeedService(db *gorm.DB, logger *zap.Logger) *FeedService {
	return &FeedService{DB: db, Logger: logger, Parser: gofeed.NewParser()}
}

// AddFeed validiert die URL durch einen Probe-Fetch und legt den Feed an.
func (s *FeedService) AddFeed(ctx context.Context, url string) (*models.Feed, error) {
	parsed, err := s.Parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %q: %w", url, err)
	}

	feed := models.Feed{URL: url, Title: parsed.Title}
	if err := s.DB.Where("url = ?", url).FirstOrCreate(&feed).Error; err != nil {
		return nil, err
	}
	return &feed, nil
}

// RefreshAll aktualisiert alle Feeds. Einzelne Fetch-Fehler werden
// geloggt und übersprungen.
func (s *FeedService) RefreshAll(ctx context.Context) (int, error) {
	var feeds []models.Feed
	if err := s.DB.Order("display_order, id").Find(&feeds).Error; err != nil {
		return 0, err
	}

	total := 0
	for i := range feeds {
		if ctx.Err() != nil {
			return total, context.Cause(ctx)
		}
		added, err := s.RefreshFeed(ctx, &feeds[i])
		if err != nil {
			s.Logger.Warn("Feed refresh failed",
				zap.String("url", feeds[i].URL), zap.Error(err))
			continue
		}
		total += added
	}
	return total, nil
}

// RefreshFeed holt einen Feed und legt unbekannte Einträge an. Dedupe
// läuft über die Artikel-URL.
func (s *FeedService) RefreshFeed(ctx context.Context, feed *models.Feed) (int, error) {
	parsed, err := s.Parser.ParseURLWithContext(feed.URL, ctx)
	if err != nil {
		return 0, err
	}

	added := 0
	var newIDs []uint
	for _, item := range parsed.Items {
		if item.Link == "" {
			continue
		}

		var count int64
		if err := s.DB.Model(&models.Article{}).
			Where("url = ?", item.Link).Count(&count).Error; err != nil {
			return added, err
		}
		if count > 0 {
			continue
		}

		article := models.Article{
			FeedID:       feed.ID,
			Title:        item.Title,
			URL:          item.Link,
			Author:       itemAuthor(item),
			PublishedAt:  itemPublished(item),
			Summary:      item.Description,
			Content:      item.Content,
			ScoringState: models.ScoringStateUnscored,
		}
		if err := s.DB.Create(&article).Error; err != nil {
			return added, err
		}
		added++
		newIDs = append(newIDs, article.ID)
		incr(s.NewArticlesCounter)
	}

	if s.Scoring != nil {
		if _, err := s.Scoring.EnqueueArticles(newIDs); err != nil {
			return added, err
		}
	}

	now := time.Now()
	feed.LastFetchedAt = &now
	if parsed.Title != "" && feed.Title == "" {
		feed.Title = parsed.Title
	}
	if err := s.DB.Save(feed).Error; err != nil {
		return added, err
	}

	if added > 0 {
		s.Logger.Info("Feed refreshed",
			zap.String("url", feed.URL), zap.Int("new_articles", added))
	}
	return added, nil
}

func itemAuthor(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	return ""
}

// itemPublished bevorzugt das Publikationsdatum, fällt auf das
// Update-Datum zurück und zuletzt auf jetzt, damit die Queue-Sortierung
// nie auf NULL läuft.
func itemPublished(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil {
		t := *item.PublishedParsed
		return &t
	}
	if item.UpdatedParsed != nil {
		t := *item.UpdatedParsed
		return &t
	}
	now := time.Now()
	return &now
}
