package ollama

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"feedrank/models"
)

const (
	DefaultBaseURL = "http://localhost"
	DefaultPort    = 11434
)

// Config ist die validierte Ollama-Konfiguration, wie sie als JSON in
// llm_provider_configs gespeichert wird.
type Config struct {
	BaseURL             string `json:"base_url"`
	Port                int    `json:"port"`
	CategorizationModel string `json:"categorization_model,omitempty"`
	ScoringModel        string `json:"scoring_model,omitempty"`
	UseSeparateModels   bool   `json:"use_separate_models"`
	ThinkingEnabled     bool   `json:"thinking"`
}

// ParseConfig dekodiert und validiert das gespeicherte Config-JSON.
func ParseConfig(raw []byte) (*Config, error) {
	cfg := Config{BaseURL: DefaultBaseURL, Port: DefaultPort}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("decode ollama config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate prüft base_url und port.
func (c *Config) Validate() error {
	parsed, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base_url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("base_url must use http or https")
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("base_url must include a valid host")
	}
	if parsed.Port() != "" {
		return fmt.Errorf("base_url must not include a port")
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return fmt.Errorf("base_url must not include a path")
	}
	if parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("base_url must not include query or fragment")
	}
	if parsed.User != nil {
		return fmt.Errorf("base_url must not include credentials")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")
	return nil
}

// Endpoint setzt base_url und port zur Server-Adresse zusammen.
func (c *Config) Endpoint() string {
	return fmt.Sprintf("%s:%d", c.BaseURL, c.Port)
}

// DefaultModelForTask liefert das Default-Modell des Providers für den Task.
// Ohne use_separate_models teilen sich beide Tasks das Kategorisierungs-Modell.
func (c *Config) DefaultModelForTask(task string) string {
	if task == models.TaskCategorization {
		return c.CategorizationModel
	}
	if c.UseSeparateModels && c.ScoringModel != "" {
		return c.ScoringModel
	}
	return c.CategorizationModel
}

// Thinking reports whether extended reasoning is enabled for this install.
func (c *Config) Thinking() bool { return c.ThinkingEnabled }
