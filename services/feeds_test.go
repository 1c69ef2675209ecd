package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"feedrank/models"
)

const rssTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Example Blog</title>
  <link>https://example.com</link>
  <item>
    <title>First Post</title>
    <link>https://example.com/first</link>
    <description>Summary one</description>
    <pubDate>Mon, 11 Aug 2025 10:00:00 GMT</pubDate>
    <author>jane@example.com (Jane Doe)</author>
  </item>
  <item>
    <title>Second Post</title>
    <link>https://example.com/second</link>
    <description>Summary two</description>
  </item>
</channel>
</rss>`

func TestRefreshFeedCreatesUnscoredArticles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssTemplate)
	}))
	defer server.Close()

	db := newTestDB(t)
	feeds := NewFeedService(db, zap.NewNop())

	feed := models.Feed{URL: server.URL}
	db.Create(&feed)

	added, err := feeds.RefreshFeed(context.Background(), &feed)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2", added)
	}

	var articles []models.Article
	db.Order("id").Find(&articles)
	if len(articles) != 2 {
		t.Fatalf("article count = %d, want 2", len(articles))
	}
	for _, article := range articles {
		if article.ScoringState != models.ScoringStateUnscored {
			t.Errorf("state = %q, ingestion must create unscored articles", article.ScoringState)
		}
		// Queue-Sortierung braucht immer ein Datum, auch ohne pubDate.
		if article.PublishedAt == nil {
			t.Errorf("article %q has no published_at", article.Title)
		}
	}
	if articles[0].Author != "Jane Doe" {
		t.Errorf("author = %q, want Jane Doe", articles[0].Author)
	}

	// Feed-Metadaten werden nachgezogen.
	var got models.Feed
	db.First(&got, feed.ID)
	if got.Title != "Example Blog" {
		t.Errorf("feed title = %q", got.Title)
	}
	if got.LastFetchedAt == nil {
		t.Error("last_fetched_at must be set")
	}

	// Zweiter Lauf dedupliziert über die Artikel-URL.
	added, err = feeds.RefreshFeed(context.Background(), &feed)
	if err != nil {
		t.Fatalf("second refresh: %v", err)
	}
	if added != 0 {
		t.Errorf("second refresh added = %d, want 0", added)
	}
}

func TestRefreshFeedEnqueuesNewArticles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssTemplate)
	}))
	defer server.Close()

	db := newTestDB(t)
	feeds := NewFeedService(db, zap.NewNop())
	feeds.Scoring = &ScoringService{DB: db, Logger: zap.NewNop()}

	// Ein bereits bewerteter Artikel darf vom Refresh nicht angefasst
	// werden.
	scored := models.Article{Title: "old", URL: "https://example.com/old", ScoringState: models.ScoringStateScored}
	db.Create(&scored)

	feed := models.Feed{URL: server.URL}
	db.Create(&feed)

	if _, err := feeds.RefreshFeed(context.Background(), &feed); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	var queued int64
	db.Model(&models.Article{}).
		Where("scoring_state = ?", models.ScoringStateQueued).
		Count(&queued)
	if queued != 2 {
		t.Errorf("queued = %d, want 2", queued)
	}

	var got models.Article
	db.First(&got, scored.ID)
	if got.ScoringState != models.ScoringStateScored {
		t.Errorf("scored article state = %q, must stay scored", got.ScoringState)
	}
}

func TestRefreshAllContinuesAfterBrokenFeed(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssTemplate)
	}))
	defer okServer.Close()
	brokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer brokenServer.Close()

	db := newTestDB(t)
	feeds := NewFeedService(db, zap.NewNop())

	db.Create(&models.Feed{URL: brokenServer.URL, DisplayOrder: 1})
	db.Create(&models.Feed{URL: okServer.URL, DisplayOrder: 2})

	added, err := feeds.RefreshAll(context.Background())
	if err != nil {
		t.Fatalf("refresh all: %v", err)
	}
	if added != 2 {
		t.Errorf("added = %d, want 2 from the healthy feed", added)
	}
}
