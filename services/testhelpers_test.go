package services

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"feedrank/models"
	"feedrank/providers"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}

	err = db.AutoMigrate(
		&models.Feed{},
		&models.Article{},
		&models.Category{},
		&models.ArticleCategoryLink{},
		&models.UserPreferences{},
		&models.LLMProviderConfig{},
		&models.LLMTaskRoute{},
	)
	if err != nil {
		t.Fatalf("migrate test database: %v", err)
	}
	return db
}

func newTestTaxonomy(t *testing.T) (*TaxonomyService, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	return NewTaxonomyService(db, zap.NewNop()), db
}

func strPtr(s string) *string { return &s }

// fakeRuntime ist die RuntimeConfig des Test-Providers.
type fakeRuntime struct {
	endpoint string
	model    string
}

func (f fakeRuntime) Endpoint() string                    { return f.endpoint }
func (f fakeRuntime) DefaultModelForTask(_ string) string { return f.model }
func (f fakeRuntime) Thinking() bool                      { return false }

// fakeLLM ist ein in-memory Provider für Orchestrator-Tests. Die
// Hooks lassen einzelne Aufrufe fehlschlagen oder aufzeichnen.
type fakeLLM struct {
	name      string
	healthErr error
	listErr   error
	models    []string

	categorizeFn func(req providers.CategorizeRequest) (*providers.CategorizeResult, error)
	scoreFn      func(req providers.ScoreRequest) (*providers.ScoreResult, error)

	categorizeCalls int
	scoreCalls      int
	scoredTitles    []string
}

func (f *fakeLLM) Name() string { return f.name }

func (f *fakeLLM) Health(_ context.Context, _ string) (providers.HealthStatus, error) {
	if f.healthErr != nil {
		return providers.HealthStatus{}, f.healthErr
	}
	return providers.HealthStatus{Connected: true}, nil
}

func (f *fakeLLM) ListModels(_ context.Context, _ string) ([]providers.ModelInfo, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	infos := make([]providers.ModelInfo, 0, len(f.models))
	for _, name := range f.models {
		infos = append(infos, providers.ModelInfo{Name: name})
	}
	return infos, nil
}

func (f *fakeLLM) Categorize(_ context.Context, req providers.CategorizeRequest) (*providers.CategorizeResult, error) {
	f.categorizeCalls++
	if f.categorizeFn != nil {
		return f.categorizeFn(req)
	}
	return &providers.CategorizeResult{Categories: []string{"technology"}}, nil
}

func (f *fakeLLM) Score(_ context.Context, req providers.ScoreRequest) (*providers.ScoreResult, error) {
	f.scoreCalls++
	f.scoredTitles = append(f.scoredTitles, req.Title)
	if f.scoreFn != nil {
		return f.scoreFn(req)
	}
	return &providers.ScoreResult{InterestScore: 5, QualityScore: 5, Reasoning: "ok"}, nil
}

func (f *fakeLLM) ParseConfig(_ []byte) (providers.RuntimeConfig, error) {
	model := ""
	if len(f.models) > 0 {
		model = f.models[0]
	}
	return fakeRuntime{endpoint: "http://fake:1", model: model}, nil
}
