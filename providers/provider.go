package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// HealthStatus ist das Ergebnis eines Provider-Health-Probes.
type HealthStatus struct {
	Connected bool   `json:"connected"`
	Version   string `json:"version,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

// ModelInfo beschreibt ein auf dem Provider installiertes Modell.
type ModelInfo struct {
	Name              string `json:"name"`
	Size              int64  `json:"size,omitempty"`
	ParameterSize     string `json:"parameter_size,omitempty"`
	QuantizationLevel string `json:"quantization_level,omitempty"`
}

// CategorizeRequest ist der Kontext für eine Klassifikations-Anfrage.
type CategorizeRequest struct {
	Title              string
	Body               string
	ExistingCategories []string
	// Parent -> children display names, guides the model toward the
	// current taxonomy shape.
	Hierarchy map[string][]string
	// Negative list: hidden topics the model must not resurrect.
	HiddenCategories []string

	Endpoint string
	Model    string
	Thinking bool
}

// CategorizeResult sind die vom Modell zurückgegebenen Kategorien.
type CategorizeResult struct {
	Categories      []string `json:"categories"`
	SuggestedNew    []string `json:"suggested_new"`
	SuggestedParent string   `json:"suggested_parent,omitempty"`
}

// ScoreRequest ist der Kontext für eine Scoring-Anfrage.
type ScoreRequest struct {
	Title         string
	Body          string
	Interests     string
	AntiInterests string

	Endpoint string
	Model    string
	Thinking bool
}

// ScoreResult ist das Scoring-Ergebnis des Modells.
type ScoreResult struct {
	InterestScore int    `json:"interest_score"`
	QualityScore  int    `json:"quality_score"`
	Reasoning     string `json:"reasoning"`
}

// RuntimeConfig ist die validierte, providerspezifische Konfiguration,
// soweit der Rest des Systems sie lesen muss.
type RuntimeConfig interface {
	Endpoint() string
	// DefaultModelForTask returns "" when the provider has no default
	// configured for the task.
	DefaultModelForTask(task string) string
	Thinking() bool
}

// Provider ist das Interface, das jede LLM-Anbindung implementieren muss.
// Neue Provider registrieren sich über Register; der Orchestrator kennt
// nur dieses Interface.
type Provider interface {
	Name() string
	Health(ctx context.Context, endpoint string) (HealthStatus, error)
	ListModels(ctx context.Context, endpoint string) ([]ModelInfo, error)
	Categorize(ctx context.Context, req CategorizeRequest) (*CategorizeResult, error)
	Score(ctx context.Context, req ScoreRequest) (*ScoreResult, error)
	// ParseConfig validates the opaque stored config JSON for this provider.
	ParseConfig(raw []byte) (RuntimeConfig, error)
}

var registry = map[string]Provider{}

// Register fügt einen Provider unter seinem Namen in die Registry ein.
func Register(p Provider) {
	registry[p.Name()] = p
}

// Get löst einen Provider per Name auf.
func Get(name string) (Provider, bool) {
	p, ok := registry[name]
	return p, ok
}

// Names listet alle registrierten Provider-Namen (sortiert).
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// transientError markiert Fehler, die ein Retry rechtfertigen
// (Netzwerk/Timeout). Malformed Responses sind nie transient.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient wraps err as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err was marked retryable.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// Transientf ist fmt.Errorf plus Transient-Markierung.
func Transientf(format string, args ...any) error {
	return Transient(fmt.Errorf(format, args...))
}
