package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"8080"`

	// Scoring-Pipeline
	ScoringSchedule  string `envconfig:"SCORING_SCHEDULE" default:"@every 30s"`
	ScoringBatchSize int    `envconfig:"SCORING_BATCH_SIZE" default:"5"`

	// Rescore-Fenster nach Präferenz-Änderungen
	RescoreLookbackDays int `envconfig:"RESCORE_LOOKBACK_DAYS" default:"7"`
	RescoreMaxArticles  int `envconfig:"RESCORE_MAX_ARTICLES" default:"100"`

	// Feed-Refresh in Sekunden (DB-Präferenz überschreibt den Default)
	FeedRefreshInterval int `envconfig:"FEED_REFRESH_INTERVAL" default:"1800"`

	// Legacy-Fallback, wenn kein Task-Route-Eintrag in der DB existiert
	OllamaEndpoint string `envconfig:"OLLAMA_ENDPOINT" default:"http://localhost:11434"`
	OllamaModel    string `envconfig:"OLLAMA_MODEL"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
