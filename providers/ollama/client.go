package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"feedrank/providers"
)

// Provider spricht die Ollama-HTTP-API (chat, tags, version).
type Provider struct {
	client       *http.Client
	healthClient *http.Client
}

// New erstellt den Ollama-Provider. Chat-Calls können auf langsamen
// Modellen Minuten dauern, daher der großzügige Timeout.
func New() *Provider {
	return &Provider{
		client:       &http.Client{Timeout: 5 * time.Minute},
		healthClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (p *Provider) Name() string { return "ollama" }

// ParseConfig implements providers.Provider.
func (p *Provider) ParseConfig(raw []byte) (providers.RuntimeConfig, error) {
	return ParseConfig(raw)
}

// Health prüft den Server über den Version-Endpoint.
func (p *Provider) Health(ctx context.Context, endpoint string) (providers.HealthStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/version", nil)
	if err != nil {
		return providers.HealthStatus{}, fmt.Errorf("build version request: %w", err)
	}

	start := time.Now()
	resp, err := p.healthClient.Do(req)
	if err != nil {
		return providers.HealthStatus{}, providers.Transientf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return providers.HealthStatus{}, fmt.Errorf("ollama version endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		Version string `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return providers.HealthStatus{}, fmt.Errorf("decode version response: %w", err)
	}

	return providers.HealthStatus{
		Connected: true,
		Version:   payload.Version,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// ListModels listet die lokal installierten Modelle.
func (p *Provider) ListModels(ctx context.Context, endpoint string) ([]providers.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("build tags request: %w", err)
	}

	resp, err := p.healthClient.Do(req)
	if err != nil {
		return nil, providers.Transientf("ollama unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama tags endpoint returned %d", resp.StatusCode)
	}

	var payload struct {
		Models []struct {
			Model   string `json:"model"`
			Name    string `json:"name"`
			Size    int64  `json:"size"`
			Details struct {
				ParameterSize     string `json:"parameter_size"`
				QuantizationLevel string `json:"quantization_level"`
			} `json:"details"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode tags response: %w", err)
	}

	models := make([]providers.ModelInfo, 0, len(payload.Models))
	for _, m := range payload.Models {
		name := m.Model
		if name == "" {
			name = m.Name
		}
		models = append(models, providers.ModelInfo{
			Name:              name,
			Size:              m.Size,
			ParameterSize:     m.Details.ParameterSize,
			QuantizationLevel: m.Details.QuantizationLevel,
		})
	}
	return models, nil
}

// Categorize klassifiziert einen Artikel gegen die bestehende Taxonomie.
func (p *Provider) Categorize(ctx context.Context, req providers.CategorizeRequest) (*providers.CategorizeResult, error) {
	prompt := buildCategorizationPrompt(req.Title, req.Body, req.ExistingCategories, req.Hierarchy, req.HiddenCategories)

	content, err := p.chat(ctx, req.Endpoint, req.Model, prompt, categorizeSchema, req.Thinking)
	if err != nil {
		return nil, err
	}

	var result providers.CategorizeResult
	if err := json.Unmarshal([]byte(extractJSON(content)), &result); err != nil {
		return nil, fmt.Errorf("parse categorization response: %w, content: %s", err, content)
	}

	// Hard caps, even if the model ignores the instructions.
	if len(result.Categories) > 4 {
		result.Categories = result.Categories[:4]
	}
	if len(result.SuggestedNew) > 2 {
		result.SuggestedNew = result.SuggestedNew[:2]
	}
	return &result, nil
}

// Score bewertet einen Artikel gegen die Nutzer-Präferenzen.
func (p *Provider) Score(ctx context.Context, req providers.ScoreRequest) (*providers.ScoreResult, error) {
	prompt := buildScoringPrompt(req.Title, req.Body, req.Interests, req.AntiInterests)

	content, err := p.chat(ctx, req.Endpoint, req.Model, prompt, scoreSchema, req.Thinking)
	if err != nil {
		return nil, err
	}

	var result providers.ScoreResult
	if err := json.Unmarshal([]byte(extractJSON(content)), &result); err != nil {
		return nil, fmt.Errorf("parse scoring response: %w, content: %s", err, content)
	}

	if result.InterestScore < 0 || result.InterestScore > 10 || result.QualityScore < 0 || result.QualityScore > 10 {
		return nil, fmt.Errorf("scoring response out of range: interest=%d quality=%d",
			result.InterestScore, result.QualityScore)
	}
	return &result, nil
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   map[string]any `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
	Think    *bool          `json:"think,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Error string `json:"error"`
}

// chat führt einen nicht-streamenden Chat-Call aus und gibt den rohen
// Antwort-Content zurück.
func (p *Provider) chat(ctx context.Context, endpoint, model, prompt string, schema map[string]any, thinking bool) (string, error) {
	body := chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: "user", Content: prompt}},
		Stream:   false,
		Format:   schema,
		Options:  map[string]any{"temperature": 0},
	}
	if thinking {
		t := true
		body.Think = &t
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			// Cancellation is an orderly shutdown signal, never retried.
			return "", context.Cause(ctx)
		}
		return "", providers.Transientf("ollama chat request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return "", context.Cause(ctx)
		}
		return "", providers.Transientf("read chat response: %w", err)
	}

	if resp.StatusCode >= 500 {
		return "", providers.Transientf("ollama chat returned %d: %s", resp.StatusCode, string(raw))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama chat returned %d: %s", resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("ollama error: %s", parsed.Error)
	}
	if parsed.Message.Content == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return parsed.Message.Content, nil
}

// extractJSON schneidet Markdown-Codefences weg, falls das Modell die
// strukturierte Antwort darin verpackt.
func extractJSON(text string) string {
	start := 0
	if idx := strings.Index(text, "```json"); idx != -1 {
		start = idx + len("```json")
	} else if idx := strings.Index(text, "```"); idx != -1 {
		start = idx + len("```")
	}

	end := len(text)
	if idx := strings.LastIndex(text, "```"); idx > start {
		end = idx
	}

	return strings.TrimSpace(text[start:end])
}
